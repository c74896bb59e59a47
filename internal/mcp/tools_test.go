package mcp

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/beaconops/missionctl/internal/store"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return NewServer(st, WithVersion("test"))
}

func TestHandleSendMessageFansOut(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	if _, _, err := s.handleSetAlias(ctx, nil, SetAliasInput{
		Alias: "backend", SessionKey: "agent:backend-1",
	}); err != nil {
		t.Fatalf("set alias: %v", err)
	}

	_, out, err := s.handleSendMessage(ctx, nil, SendMessageInput{
		TaskID:           "task-1",
		AuthorSessionKey: "agent:author-1",
		Content:          "@backend please review",
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if out.MessageID == "" {
		t.Error("missing message id")
	}
	if len(out.Mentions) != 1 || out.Mentions[0] != "backend" {
		t.Errorf("mentions: %v", out.Mentions)
	}
	if out.Notifications != 1 {
		t.Errorf("notifications: %d", out.Notifications)
	}
}

func TestHandleSendMessageValidation(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	cases := []SendMessageInput{
		{TaskID: "", AuthorSessionKey: "agent:a", Content: "hi"},
		{TaskID: "t", AuthorSessionKey: "", Content: "hi"},
		{TaskID: "t", AuthorSessionKey: "agent:a", Content: ""},
	}
	for _, input := range cases {
		if _, _, err := s.handleSendMessage(ctx, nil, input); err == nil {
			t.Errorf("input %+v accepted", input)
		}
	}
}

func TestHandleListMessagesAndNotifications(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	if _, _, err := s.handleSetAlias(ctx, nil, SetAliasInput{
		Alias: "qa", SessionKey: "agent:qa-1",
	}); err != nil {
		t.Fatalf("set alias: %v", err)
	}
	if _, _, err := s.handleSendMessage(ctx, nil, SendMessageInput{
		TaskID: "task-1", AuthorSessionKey: "agent:author-1", Content: "@qa verify the fix",
	}); err != nil {
		t.Fatalf("send: %v", err)
	}

	_, msgs, err := s.handleListMessages(ctx, nil, ListMessagesInput{TaskID: "task-1"})
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if msgs.Count != 1 || msgs.Messages[0].Author != "agent:author-1" {
		t.Errorf("messages: %+v", msgs)
	}

	_, ntfs, err := s.handleListNotifications(ctx, nil, ListNotificationsInput{
		TaskID: "task-1", State: "queued",
	})
	if err != nil {
		t.Fatalf("list notifications: %v", err)
	}
	if ntfs.Count != 1 || ntfs.Notifications[0].TargetSessionKey != "agent:qa-1" {
		t.Errorf("notifications: %+v", ntfs)
	}

	if _, _, err := s.handleListNotifications(ctx, nil, ListNotificationsInput{State: "bogus"}); err == nil {
		t.Error("bogus state accepted")
	}
}

func TestHandleUnreadAndMarkRead(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	if _, _, err := s.handleSendMessage(ctx, nil, SendMessageInput{
		TaskID: "task-1", AuthorSessionKey: "agent:author-1", Content: "status update",
	}); err != nil {
		t.Fatalf("send: %v", err)
	}

	_, uc, err := s.handleUnreadCount(ctx, nil, UnreadCountInput{
		TaskID: "task-1", SessionKey: "agent:viewer-1",
	})
	if err != nil {
		t.Fatalf("unread: %v", err)
	}
	if uc.Unread != 1 || uc.LastReadAt != nil {
		t.Errorf("unread before mark: %+v", uc)
	}

	_, marked, err := s.handleMarkRead(ctx, nil, MarkReadInput{
		TaskID: "task-1", SessionKey: "agent:viewer-1",
	})
	if err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if marked.LastReadAt == 0 {
		t.Error("last_read_at not defaulted")
	}

	_, uc, err = s.handleUnreadCount(ctx, nil, UnreadCountInput{
		TaskID: "task-1", SessionKey: "agent:viewer-1",
	})
	if err != nil {
		t.Fatalf("unread after mark: %v", err)
	}
	if uc.Unread != 0 {
		t.Errorf("unread after mark: %d", uc.Unread)
	}
}
