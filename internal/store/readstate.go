package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/beaconops/missionctl/internal/identity"
	"github.com/beaconops/missionctl/internal/notify"
)

// MarkReadParams record a viewer's position in a task thread.
// LastReadAt defaults to the current time; LastReadMessageID is kept as
// stored when omitted.
type MarkReadParams struct {
	TaskID            string
	SessionKey        string
	LastReadMessageID string
	LastReadAt        notify.Optional[int64]
}

// MarkThreadReadState upserts the (task, viewer) read marker, moving it
// forward to the given position.
func (s *Store) MarkThreadReadState(ctx context.Context, p MarkReadParams) (*notify.ThreadReadState, error) {
	p.TaskID = strings.TrimSpace(p.TaskID)
	if p.TaskID == "" {
		return nil, fmt.Errorf("task id is required")
	}
	if err := identity.ValidateSessionKey(p.SessionKey); err != nil {
		return nil, fmt.Errorf("mark read: %w", err)
	}

	now := s.nowMillis()
	lastReadAt := now
	if p.LastReadAt.Present() && !p.LastReadAt.Null() {
		lastReadAt = p.LastReadAt.Value()
	}

	var msgID any
	if p.LastReadMessageID != "" {
		msgID = p.LastReadMessageID
	}

	// NULLIF keeps an existing message cursor when the caller omits one;
	// an explicit id always wins.
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO thread_read_state (task_id, session_key, last_read_message_id, last_read_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(task_id, session_key) DO UPDATE SET
			last_read_message_id = COALESCE(NULLIF(excluded.last_read_message_id, ''), thread_read_state.last_read_message_id),
			last_read_at = excluded.last_read_at,
			updated_at = excluded.updated_at`,
		p.TaskID, p.SessionKey, msgID, lastReadAt, now)
	if err != nil {
		return nil, fmt.Errorf("mark thread read state: %w", err)
	}

	return s.getThreadReadState(ctx, p.TaskID, p.SessionKey)
}

func (s *Store) getThreadReadState(ctx context.Context, taskID, sessionKey string) (*notify.ThreadReadState, error) {
	var (
		rs    notify.ThreadReadState
		msgID sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT task_id, session_key, last_read_message_id, last_read_at, updated_at
		FROM thread_read_state
		WHERE task_id = ? AND session_key = ?`, taskID, sessionKey).
		Scan(&rs.TaskID, &rs.SessionKey, &msgID, &rs.LastReadAt, &rs.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("read state for %s/%s: %w", taskID, sessionKey, notify.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read thread read state: %w", err)
	}
	rs.LastReadMessageID = msgID.String
	return &rs, nil
}

// ThreadUnreadCount counts messages in the task thread written by other
// authors after the viewer's read marker. With no marker every
// other-author message is unread and LastReadAt is nil.
func (s *Store) ThreadUnreadCount(ctx context.Context, taskID, sessionKey string) (*notify.UnreadCount, error) {
	taskID = strings.TrimSpace(taskID)
	if taskID == "" {
		return nil, fmt.Errorf("task id is required")
	}
	if err := identity.ValidateSessionKey(sessionKey); err != nil {
		return nil, fmt.Errorf("unread count: %w", err)
	}

	var lastReadAt *int64
	rs, err := s.getThreadReadState(ctx, taskID, sessionKey)
	switch {
	case err == nil:
		lastReadAt = rs.LastReadAt
	case errors.Is(err, notify.ErrNotFound):
		// No marker yet; count everything.
	default:
		return nil, err
	}

	query := `SELECT COUNT(*) FROM task_messages WHERE task_id = ? AND author_session_key != ?`
	args := []any{taskID, sessionKey}
	if lastReadAt != nil {
		query += " AND created_at > ?"
		args = append(args, *lastReadAt)
	}

	var count int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return nil, fmt.Errorf("count unread for %s/%s: %w", taskID, sessionKey, err)
	}

	return &notify.UnreadCount{Unread: count, LastReadAt: lastReadAt}, nil
}
