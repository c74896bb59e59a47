package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/beaconops/missionctl/internal/identity"
	"github.com/beaconops/missionctl/internal/mention"
	"github.com/beaconops/missionctl/internal/notify"
)

// CreateMessageParams are the inputs for CreateTaskMessage.
type CreateMessageParams struct {
	TaskID           string
	AuthorSessionKey string
	Content          string

	// SLAMillis, when positive, stamps every fanned-out notification with
	// an SLA deadline of now + SLAMillis. Zero means no deadline.
	SLAMillis int64
}

// CreateTaskMessage durably records one message and fans out its
// mentions, all under a single transaction: insert the message, parse
// mentions, resolve them to targets, skip the author, and insert one
// queued notification per unique remaining target. The message row is
// never visible without its notification rows.
func (s *Store) CreateTaskMessage(ctx context.Context, p CreateMessageParams) (*notify.TaskMessage, error) {
	p.TaskID = strings.TrimSpace(p.TaskID)
	p.AuthorSessionKey = strings.TrimSpace(p.AuthorSessionKey)

	if p.TaskID == "" {
		return nil, fmt.Errorf("task id is required")
	}
	if p.AuthorSessionKey == "" {
		return nil, fmt.Errorf("author session key is required")
	}
	if p.Content == "" {
		return nil, fmt.Errorf("content is required")
	}

	now := s.nowMillis()
	msg := &notify.TaskMessage{
		ID:               identity.GenerateMessageID(),
		TaskID:           p.TaskID,
		AuthorSessionKey: p.AuthorSessionKey,
		Content:          p.Content,
		Mentions:         mention.Parse(p.Content),
		CreatedAt:        now,
	}

	mentionsJSON, err := json.Marshal(msg.Mentions)
	if err != nil {
		return nil, fmt.Errorf("marshal mentions: %w", err)
	}

	var fannedOut int
	err = s.db.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO task_messages (id, task_id, author_session_key, content, mentions, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			msg.ID, msg.TaskID, msg.AuthorSessionKey, msg.Content, string(mentionsJSON), msg.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert message: %w", err)
		}

		targets, err := resolveTargets(ctx, tx, msg.Mentions)
		if err != nil {
			return err
		}

		var slaDueAt any
		if p.SLAMillis > 0 {
			slaDueAt = now + p.SLAMillis
		}

		for _, target := range targets {
			// The author never notifies themselves, directly or via alias.
			if target.SessionKey == msg.AuthorSessionKey {
				continue
			}

			_, err := tx.ExecContext(ctx, `
				INSERT INTO notifications (
					id, message_id, task_id, mention_alias, target_session_key,
					state, attempts, sla_due_at, created_at, updated_at, queued_at
				) VALUES (?, ?, ?, ?, ?, 'queued', 0, ?, ?, ?, ?)`,
				identity.GenerateNotificationID(), msg.ID, msg.TaskID,
				target.Alias, target.SessionKey,
				slaDueAt, now, now, now,
			)
			if err != nil {
				return fmt.Errorf("insert notification for %s: %w", target.SessionKey, err)
			}
			fannedOut++
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Debug("task message created",
		"message_id", msg.ID, "task_id", msg.TaskID,
		"mentions", len(msg.Mentions), "notifications", fannedOut)

	return msg, nil
}

// GetTaskMessage reads one message by id. Returns notify.ErrNotFound when
// no such message exists.
func (s *Store) GetTaskMessage(ctx context.Context, id string) (*notify.TaskMessage, error) {
	var (
		msg          notify.TaskMessage
		mentionsJSON string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, task_id, author_session_key, content, mentions, created_at
		FROM task_messages WHERE id = ?`, id,
	).Scan(&msg.ID, &msg.TaskID, &msg.AuthorSessionKey, &msg.Content, &mentionsJSON, &msg.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("message %s: %w", id, notify.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read message %s: %w", id, err)
	}

	if err := json.Unmarshal([]byte(mentionsJSON), &msg.Mentions); err != nil {
		return nil, fmt.Errorf("unmarshal mentions for %s: %w", id, err)
	}
	return &msg, nil
}

// ListTaskMessages returns the messages of a task ordered by creation
// time ascending, bounded by limit (default 100).
func (s *Store) ListTaskMessages(ctx context.Context, taskID string, limit int) ([]notify.TaskMessage, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, task_id, author_session_key, content, mentions, created_at
		FROM task_messages
		WHERE task_id = ?
		ORDER BY created_at ASC, id ASC
		LIMIT ?`, taskID, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages for %s: %w", taskID, err)
	}
	defer func() { _ = rows.Close() }()

	var messages []notify.TaskMessage
	for rows.Next() {
		var (
			msg          notify.TaskMessage
			mentionsJSON string
		)
		if err := rows.Scan(&msg.ID, &msg.TaskID, &msg.AuthorSessionKey, &msg.Content, &mentionsJSON, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if err := json.Unmarshal([]byte(mentionsJSON), &msg.Mentions); err != nil {
			return nil, fmt.Errorf("unmarshal mentions for %s: %w", msg.ID, err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return messages, nil
}
