package notify

// TaskMessage is the durable record of one author utterance in one task
// thread. Content is stored verbatim; Mentions is derived once at insert
// time and never recomputed.
type TaskMessage struct {
	ID               string   `json:"id"`
	TaskID           string   `json:"task_id"`
	AuthorSessionKey string   `json:"author_session_key"`
	Content          string   `json:"content"`
	Mentions         []string `json:"mentions"`
	CreatedAt        int64    `json:"created_at"`
}

// AgentAlias maps a human-typed handle to a canonical session key.
type AgentAlias struct {
	Alias      string `json:"alias"`
	SessionKey string `json:"session_key"`
	CreatedAt  int64  `json:"created_at"`
	UpdatedAt  int64  `json:"updated_at"`
}

// Notification is one delivery obligation produced by fan-out. All
// timestamps are epoch milliseconds; pointer fields are NULL-able
// columns.
type Notification struct {
	ID               string `json:"id"`
	MessageID        string `json:"message_id"`
	TaskID           string `json:"task_id"`
	MentionAlias     string `json:"mention_alias"`
	TargetSessionKey string `json:"target_session_key"`
	State            State  `json:"state"`
	Attempts         int64  `json:"attempts"`
	RetryAt          *int64 `json:"retry_at"`
	NextCheckAt      *int64 `json:"next_check_at"`
	SLADueAt         *int64 `json:"sla_due_at"`
	ActorSessionKey  string `json:"actor_session_key,omitempty"`
	BusyReason       string `json:"busy_reason,omitempty"`
	EtaAt            *int64 `json:"eta_at"`
	Error            string `json:"error,omitempty"`
	CreatedAt        int64  `json:"created_at"`
	UpdatedAt        int64  `json:"updated_at"`

	// Per-state first-entry timestamps, keyed by State. Set once, never
	// overwritten.
	StateTimes map[State]int64 `json:"state_times,omitempty"`
}

// StateTime returns the first-entry timestamp for a state, or 0 when the
// notification has never entered it.
func (n *Notification) StateTime(s State) int64 {
	return n.StateTimes[s]
}

// NotificationWithMessage joins a notification with the text and
// timestamp of its originating message.
type NotificationWithMessage struct {
	Notification
	MessageContent   string `json:"message_content"`
	MessageCreatedAt int64  `json:"message_created_at"`
}

// ThreadReadState is the per-(task, viewer) unread cursor.
type ThreadReadState struct {
	TaskID            string `json:"task_id"`
	SessionKey        string `json:"session_key"`
	LastReadMessageID string `json:"last_read_message_id,omitempty"`
	LastReadAt        *int64 `json:"last_read_at"`
	UpdatedAt         int64  `json:"updated_at"`
}

// UnreadCount is the answer to the thread unread query. LastReadAt is nil
// when the viewer has no marker on the thread.
type UnreadCount struct {
	Unread     int    `json:"unread"`
	LastReadAt *int64 `json:"last_read_at"`
}

// Target is one resolved delivery destination: the session key plus the
// first alias token that produced it.
type Target struct {
	Alias      string
	SessionKey string
}
