package mention

import (
	"reflect"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{
			name: "single mention",
			text: "please review @Vision",
			want: []string{"Vision"},
		},
		{
			name: "multiple mentions",
			text: "@Vision and @Ops take a look",
			want: []string{"Vision", "Ops"},
		},
		{
			name: "qualified session key",
			text: "ping @agent:vision:main directly",
			want: []string{"agent:vision:main"},
		},
		{
			name: "duplicates collapse keeping first-seen order",
			text: "@Ops then @Vision then @Ops again",
			want: []string{"Ops", "Vision"},
		},
		{
			name: "greedy charset including dots slashes dashes",
			text: "cc @team/infra-1 and @v2.bot",
			want: []string{"team/infra-1", "v2.bot"},
		},
		{
			name: "punctuation terminates the token",
			text: "thanks @Vision, and @Ops!",
			want: []string{"Vision", "Ops"},
		},
		{
			name: "no mentions",
			text: "nothing to see here",
			want: nil,
		},
		{
			name: "bare at sign is not a mention",
			text: "meet @ noon",
			want: nil,
		},
		{
			name: "empty text",
			text: "",
			want: nil,
		},
		{
			name: "mention inside email-like text still matches",
			text: "mail bob@example.com",
			want: []string{"example.com"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Parse(tt.text)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Parse(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func TestParseCaseIsPreserved(t *testing.T) {
	// Dedup is exact-token; case variants are distinct tokens here and
	// only collapse later if they resolve to the same session key.
	got := Parse("@Vision @vision")
	want := []string{"Vision", "vision"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Parse = %v, want %v", got, want)
	}
}
