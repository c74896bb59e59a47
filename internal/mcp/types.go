package mcp

// SendMessageInput is the input for the send_message MCP tool.
type SendMessageInput struct {
	TaskID           string `json:"task_id" jsonschema:"Task thread to post into"`
	AuthorSessionKey string `json:"author_session_key" jsonschema:"Session key of the posting agent, e.g. agent:backend-1"`
	Content          string `json:"content" jsonschema:"Message text; @mentions fan out notifications"`
	SLAMs            int64  `json:"sla_ms,omitempty" jsonschema:"Optional delivery SLA in milliseconds for the fanned-out notifications"`
}

// SendMessageOutput is the output for the send_message MCP tool.
type SendMessageOutput struct {
	MessageID     string   `json:"message_id" jsonschema:"ID of the stored message"`
	Mentions      []string `json:"mentions" jsonschema:"Mention tokens parsed from the content"`
	Notifications int      `json:"notifications" jsonschema:"Number of notifications created"`
}

// ListMessagesInput is the input for the list_messages MCP tool.
type ListMessagesInput struct {
	TaskID string `json:"task_id" jsonschema:"Task thread to read"`
	Limit  int    `json:"limit,omitempty" jsonschema:"Max messages to return. Default 100"`
}

// MessageInfo is a single message returned by list_messages.
type MessageInfo struct {
	MessageID string   `json:"message_id"`
	Author    string   `json:"author"`
	Content   string   `json:"content"`
	Mentions  []string `json:"mentions,omitempty"`
	CreatedAt int64    `json:"created_at"`
}

// ListMessagesOutput is the output for the list_messages MCP tool.
type ListMessagesOutput struct {
	Messages []MessageInfo `json:"messages"`
	Count    int           `json:"count"`
}

// ListNotificationsInput is the input for the list_notifications MCP tool.
type ListNotificationsInput struct {
	TaskID string `json:"task_id,omitempty" jsonschema:"Filter by task thread"`
	State  string `json:"state,omitempty" jsonschema:"Filter by delivery state, e.g. queued or dead_letter"`
	Limit  int    `json:"limit,omitempty" jsonschema:"Max notifications to return. Default 200"`
}

// NotificationInfo is a single notification returned by
// list_notifications.
type NotificationInfo struct {
	NotificationID   string `json:"notification_id"`
	MessageID        string `json:"message_id"`
	TaskID           string `json:"task_id"`
	MentionAlias     string `json:"mention_alias"`
	TargetSessionKey string `json:"target_session_key"`
	State            string `json:"state"`
	Attempts         int64  `json:"attempts"`
	Error            string `json:"error,omitempty"`
	CreatedAt        int64  `json:"created_at"`
	UpdatedAt        int64  `json:"updated_at"`
}

// ListNotificationsOutput is the output for the list_notifications MCP
// tool.
type ListNotificationsOutput struct {
	Notifications []NotificationInfo `json:"notifications"`
	Count         int                `json:"count"`
}

// UnreadCountInput is the input for the unread_count MCP tool.
type UnreadCountInput struct {
	TaskID     string `json:"task_id" jsonschema:"Task thread to inspect"`
	SessionKey string `json:"session_key" jsonschema:"Viewer session key, e.g. agent:backend-1"`
}

// UnreadCountOutput is the output for the unread_count MCP tool.
type UnreadCountOutput struct {
	Unread     int    `json:"unread" jsonschema:"Messages by other authors after the viewer's marker"`
	LastReadAt *int64 `json:"last_read_at,omitempty" jsonschema:"The viewer's marker, absent when never marked"`
}

// MarkReadInput is the input for the mark_read MCP tool.
type MarkReadInput struct {
	TaskID            string `json:"task_id" jsonschema:"Task thread being read"`
	SessionKey        string `json:"session_key" jsonschema:"Viewer session key"`
	LastReadMessageID string `json:"last_read_message_id,omitempty" jsonschema:"Optional message cursor"`
	LastReadAt        *int64 `json:"last_read_at,omitempty" jsonschema:"Marker timestamp in epoch ms. Default: now"`
}

// MarkReadOutput is the output for the mark_read MCP tool.
type MarkReadOutput struct {
	TaskID     string `json:"task_id"`
	SessionKey string `json:"session_key"`
	LastReadAt int64  `json:"last_read_at"`
}

// SetAliasInput is the input for the set_alias MCP tool.
type SetAliasInput struct {
	Alias      string `json:"alias" jsonschema:"Handle agents type after @"`
	SessionKey string `json:"session_key" jsonschema:"Canonical session key the alias resolves to"`
}

// SetAliasOutput is the output for the set_alias MCP tool.
type SetAliasOutput struct {
	Alias      string `json:"alias"`
	SessionKey string `json:"session_key"`
}
