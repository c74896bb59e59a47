package mcp

import (
	"context"
	"fmt"

	gomcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/beaconops/missionctl/internal/notify"
	"github.com/beaconops/missionctl/internal/store"
)

// sessionKeyFromRequest pulls the caller's identity out of the MCP
// request metadata. Tools that act on behalf of an agent require it.
func sessionKeyFromRequest(req *gomcp.CallToolRequest) string {
	if req == nil || req.Params == nil || req.Params.Meta == nil {
		return ""
	}
	if v, ok := req.Params.Meta["session_key"].(string); ok {
		return v
	}
	return ""
}

func (s *Server) handleSendMessage(
	ctx context.Context,
	req *gomcp.CallToolRequest,
	input SendMessageInput,
) (*gomcp.CallToolResult, SendMessageOutput, error) {
	author := input.AuthorSessionKey
	if author == "" {
		author = sessionKeyFromRequest(req)
	}
	if author == "" {
		return nil, SendMessageOutput{}, fmt.Errorf("'author_session_key' is required")
	}
	if input.TaskID == "" {
		return nil, SendMessageOutput{}, fmt.Errorf("'task_id' is required")
	}
	if input.Content == "" {
		return nil, SendMessageOutput{}, fmt.Errorf("'content' is required")
	}

	msg, err := s.store.CreateTaskMessage(ctx, store.CreateMessageParams{
		TaskID:           input.TaskID,
		AuthorSessionKey: author,
		Content:          input.Content,
		SLAMillis:        input.SLAMs,
	})
	if err != nil {
		return nil, SendMessageOutput{}, fmt.Errorf("send message: %w", err)
	}

	ntfs, err := s.store.ListNotifications(ctx, store.ListParams{TaskID: input.TaskID})
	if err != nil {
		return nil, SendMessageOutput{}, fmt.Errorf("count notifications: %w", err)
	}
	created := 0
	for _, n := range ntfs {
		if n.MessageID == msg.ID {
			created++
		}
	}

	return nil, SendMessageOutput{
		MessageID:     msg.ID,
		Mentions:      msg.Mentions,
		Notifications: created,
	}, nil
}

func (s *Server) handleListMessages(
	ctx context.Context,
	req *gomcp.CallToolRequest,
	input ListMessagesInput,
) (*gomcp.CallToolResult, ListMessagesOutput, error) {
	if input.TaskID == "" {
		return nil, ListMessagesOutput{}, fmt.Errorf("'task_id' is required")
	}

	msgs, err := s.store.ListTaskMessages(ctx, input.TaskID, input.Limit)
	if err != nil {
		return nil, ListMessagesOutput{}, fmt.Errorf("list messages: %w", err)
	}

	out := ListMessagesOutput{Messages: make([]MessageInfo, 0, len(msgs))}
	for _, m := range msgs {
		out.Messages = append(out.Messages, MessageInfo{
			MessageID: m.ID,
			Author:    m.AuthorSessionKey,
			Content:   m.Content,
			Mentions:  m.Mentions,
			CreatedAt: m.CreatedAt,
		})
	}
	out.Count = len(out.Messages)
	return nil, out, nil
}

func (s *Server) handleListNotifications(
	ctx context.Context,
	req *gomcp.CallToolRequest,
	input ListNotificationsInput,
) (*gomcp.CallToolResult, ListNotificationsOutput, error) {
	ntfs, err := s.store.ListNotifications(ctx, store.ListParams{
		TaskID: input.TaskID,
		State:  notify.State(input.State),
		Limit:  input.Limit,
	})
	if err != nil {
		return nil, ListNotificationsOutput{}, fmt.Errorf("list notifications: %w", err)
	}

	out := ListNotificationsOutput{Notifications: make([]NotificationInfo, 0, len(ntfs))}
	for _, n := range ntfs {
		out.Notifications = append(out.Notifications, NotificationInfo{
			NotificationID:   n.ID,
			MessageID:        n.MessageID,
			TaskID:           n.TaskID,
			MentionAlias:     n.MentionAlias,
			TargetSessionKey: n.TargetSessionKey,
			State:            string(n.State),
			Attempts:         n.Attempts,
			Error:            n.Error,
			CreatedAt:        n.CreatedAt,
			UpdatedAt:        n.UpdatedAt,
		})
	}
	out.Count = len(out.Notifications)
	return nil, out, nil
}

func (s *Server) handleUnreadCount(
	ctx context.Context,
	req *gomcp.CallToolRequest,
	input UnreadCountInput,
) (*gomcp.CallToolResult, UnreadCountOutput, error) {
	sessionKey := input.SessionKey
	if sessionKey == "" {
		sessionKey = sessionKeyFromRequest(req)
	}
	if input.TaskID == "" {
		return nil, UnreadCountOutput{}, fmt.Errorf("'task_id' is required")
	}
	if sessionKey == "" {
		return nil, UnreadCountOutput{}, fmt.Errorf("'session_key' is required")
	}

	uc, err := s.store.ThreadUnreadCount(ctx, input.TaskID, sessionKey)
	if err != nil {
		return nil, UnreadCountOutput{}, fmt.Errorf("unread count: %w", err)
	}
	return nil, UnreadCountOutput{Unread: uc.Unread, LastReadAt: uc.LastReadAt}, nil
}

func (s *Server) handleMarkRead(
	ctx context.Context,
	req *gomcp.CallToolRequest,
	input MarkReadInput,
) (*gomcp.CallToolResult, MarkReadOutput, error) {
	sessionKey := input.SessionKey
	if sessionKey == "" {
		sessionKey = sessionKeyFromRequest(req)
	}
	if input.TaskID == "" {
		return nil, MarkReadOutput{}, fmt.Errorf("'task_id' is required")
	}
	if sessionKey == "" {
		return nil, MarkReadOutput{}, fmt.Errorf("'session_key' is required")
	}

	params := store.MarkReadParams{
		TaskID:            input.TaskID,
		SessionKey:        sessionKey,
		LastReadMessageID: input.LastReadMessageID,
	}
	if input.LastReadAt != nil {
		params.LastReadAt = notify.Set(*input.LastReadAt)
	}

	rs, err := s.store.MarkThreadReadState(ctx, params)
	if err != nil {
		return nil, MarkReadOutput{}, fmt.Errorf("mark read: %w", err)
	}

	out := MarkReadOutput{TaskID: rs.TaskID, SessionKey: rs.SessionKey}
	if rs.LastReadAt != nil {
		out.LastReadAt = *rs.LastReadAt
	}
	return nil, out, nil
}

func (s *Server) handleSetAlias(
	ctx context.Context,
	req *gomcp.CallToolRequest,
	input SetAliasInput,
) (*gomcp.CallToolResult, SetAliasOutput, error) {
	if input.Alias == "" {
		return nil, SetAliasOutput{}, fmt.Errorf("'alias' is required")
	}
	if input.SessionKey == "" {
		return nil, SetAliasOutput{}, fmt.Errorf("'session_key' is required")
	}

	a, err := s.store.UpsertAgentAlias(ctx, input.Alias, input.SessionKey)
	if err != nil {
		return nil, SetAliasOutput{}, fmt.Errorf("set alias: %w", err)
	}
	return nil, SetAliasOutput{Alias: a.Alias, SessionKey: a.SessionKey}, nil
}
