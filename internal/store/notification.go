package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/beaconops/missionctl/internal/events"
	"github.com/beaconops/missionctl/internal/notify"
)

// notificationColumns is the canonical column list every notification
// read uses, so scanNotification stays in lockstep with one place.
const notificationColumns = `id, message_id, task_id, mention_alias, target_session_key,
	state, attempts, retry_at, next_check_at, sla_due_at,
	actor_session_key, busy_reason, eta_at, error, created_at, updated_at,
	queued_at, delivering_at, delivered_at, seen_at, accepted_at, in_progress_at,
	completed_at, declined_at, deferred_busy_at, failed_at, timeout_at,
	dead_letter_at, reassigned_at`

// stateTimeOrder matches the per-state timestamp columns in
// notificationColumns, in order.
var stateTimeOrder = []notify.State{
	notify.StateQueued,
	notify.StateDelivering,
	notify.StateDelivered,
	notify.StateSeen,
	notify.StateAccepted,
	notify.StateInProgress,
	notify.StateCompleted,
	notify.StateDeclined,
	notify.StateDeferredBusy,
	notify.StateFailed,
	notify.StateTimeout,
	notify.StateDeadLetter,
	notify.StateReassigned,
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanNotification scans one row in notificationColumns order.
func scanNotification(row rowScanner) (*notify.Notification, error) {
	var (
		n          notify.Notification
		actor      sql.NullString
		busyReason sql.NullString
		errText    sql.NullString
		state      string
		stateTimes [13]sql.NullInt64
	)

	dest := []any{
		&n.ID, &n.MessageID, &n.TaskID, &n.MentionAlias, &n.TargetSessionKey,
		&state, &n.Attempts, &n.RetryAt, &n.NextCheckAt, &n.SLADueAt,
		&actor, &busyReason, &n.EtaAt, &errText, &n.CreatedAt, &n.UpdatedAt,
	}
	for i := range stateTimes {
		dest = append(dest, &stateTimes[i])
	}

	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	n.State = notify.State(state)
	n.ActorSessionKey = actor.String
	n.BusyReason = busyReason.String
	n.Error = errText.String

	n.StateTimes = make(map[notify.State]int64)
	for i, s := range stateTimeOrder {
		if stateTimes[i].Valid {
			n.StateTimes[s] = stateTimes[i].Int64
		}
	}

	return &n, nil
}

// GetNotification reads one notification by id. Returns
// notify.ErrNotFound when no such row exists.
func (s *Store) GetNotification(ctx context.Context, id string) (*notify.Notification, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+notificationColumns+` FROM notifications WHERE id = ?`, id)
	n, err := scanNotification(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("notification %s: %w", id, notify.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read notification %s: %w", id, err)
	}
	return n, nil
}

// ListParams filter ListNotifications.
type ListParams struct {
	TaskID string
	State  notify.State // empty means all states
	Limit  int          // default 200
}

// ListNotifications returns notifications matching the filter, ordered by
// creation time ascending.
func (s *Store) ListNotifications(ctx context.Context, p ListParams) ([]notify.Notification, error) {
	if p.Limit <= 0 {
		p.Limit = 200
	}
	if p.State != "" {
		if _, err := notify.ParseState(string(p.State)); err != nil {
			return nil, err
		}
	}

	var (
		conds []string
		args  []any
	)
	if p.TaskID != "" {
		conds = append(conds, "task_id = ?")
		args = append(args, p.TaskID)
	}
	if p.State != "" {
		conds = append(conds, "state = ?")
		args = append(args, string(p.State))
	}

	query := `SELECT ` + notificationColumns + ` FROM notifications`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at ASC, id ASC LIMIT ?"
	args = append(args, p.Limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []notify.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		out = append(out, *n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notifications: %w", err)
	}
	return out, nil
}

// ListTaskNotifications returns a task's notifications joined with the
// originating message text and timestamp, ordered by message time then
// notification creation time.
func (s *Store) ListTaskNotifications(ctx context.Context, taskID string) ([]notify.NotificationWithMessage, error) {
	cols := "n." + strings.ReplaceAll(notificationColumns, ", ", ", n.")
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+cols+`, m.content, m.created_at
		FROM notifications n
		JOIN task_messages m ON n.message_id = m.id
		WHERE n.task_id = ?
		ORDER BY m.created_at ASC, n.created_at ASC, n.id ASC`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list task notifications for %s: %w", taskID, err)
	}
	defer func() { _ = rows.Close() }()

	var out []notify.NotificationWithMessage
	for rows.Next() {
		var (
			n          notify.Notification
			actor      sql.NullString
			busyReason sql.NullString
			errText    sql.NullString
			state      string
			stateTimes [13]sql.NullInt64
			item       notify.NotificationWithMessage
		)
		dest := []any{
			&n.ID, &n.MessageID, &n.TaskID, &n.MentionAlias, &n.TargetSessionKey,
			&state, &n.Attempts, &n.RetryAt, &n.NextCheckAt, &n.SLADueAt,
			&actor, &busyReason, &n.EtaAt, &errText, &n.CreatedAt, &n.UpdatedAt,
		}
		for i := range stateTimes {
			dest = append(dest, &stateTimes[i])
		}
		dest = append(dest, &item.MessageContent, &item.MessageCreatedAt)

		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan task notification: %w", err)
		}

		n.State = notify.State(state)
		n.ActorSessionKey = actor.String
		n.BusyReason = busyReason.String
		n.Error = errText.String
		n.StateTimes = make(map[notify.State]int64)
		for i, st := range stateTimeOrder {
			if stateTimes[i].Valid {
				n.StateTimes[st] = stateTimes[i].Int64
			}
		}

		item.Notification = n
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate task notifications: %w", err)
	}
	return out, nil
}

// ClaimParams tune ClaimReadyNotifications.
type ClaimParams struct {
	Limit int   // default 20
	Now   int64 // epoch ms; 0 means the store clock
}

// ClaimReadyNotifications selects the next batch of work-ready rows:
// retryable state, retry_at and next_check_at both absent or due.
// Claiming does not mutate state; the worker's transition to delivering
// is the point of exclusive ownership.
func (s *Store) ClaimReadyNotifications(ctx context.Context, p ClaimParams) ([]notify.Notification, error) {
	if p.Limit <= 0 {
		p.Limit = 20
	}
	if p.Now == 0 {
		p.Now = s.nowMillis()
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+notificationColumns+`
		FROM notifications
		WHERE state IN ('queued', 'failed', 'deferred_busy')
		  AND (retry_at IS NULL OR retry_at <= ?)
		  AND (next_check_at IS NULL OR next_check_at <= ?)
		ORDER BY created_at ASC, id ASC
		LIMIT ?`, p.Now, p.Now, p.Limit)
	if err != nil {
		return nil, fmt.Errorf("claim ready notifications: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []notify.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("scan claimed notification: %w", err)
		}
		out = append(out, *n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate claimed notifications: %w", err)
	}
	return out, nil
}

// TransitionParams describe one requested state transition. Auxiliary
// fields are tri-state: absent preserves the stored value, Clear writes
// NULL, Set writes the value.
type TransitionParams struct {
	ID    string
	State notify.State

	// From, when set, is the state the caller believes the row is in.
	// A mismatch is rejected with ErrInvalidTransition, which makes the
	// transition a compare-and-set: two workers racing to claim the same
	// row from queued cannot both win, even once the first has already
	// moved it to the requested state.
	From notify.State

	// Force bypasses the transition table. Used only by escalation paths
	// that must cross normal guardrails.
	Force bool

	Attempts        notify.Optional[int64]
	RetryAt         notify.Optional[int64]
	NextCheckAt     notify.Optional[int64]
	SLADueAt        notify.Optional[int64]
	EtaAt           notify.Optional[int64]
	ActorSessionKey notify.Optional[string]
	BusyReason      notify.Optional[string]
	Error           notify.Optional[string]
}

// TransitionNotification drives one notification through the state
// machine. The per-state timestamp is written on first entry only;
// updated_at is always bumped. A transition to the current state is a
// silent no-op returning the unchanged row. Illegal transitions return
// notify.ErrInvalidTransition unless Force is set; unknown ids return
// notify.ErrNotFound.
func (s *Store) TransitionNotification(ctx context.Context, p TransitionParams) (*notify.Notification, error) {
	if _, err := notify.ParseState(string(p.State)); err != nil {
		return nil, err
	}
	if p.From != "" {
		if _, err := notify.ParseState(string(p.From)); err != nil {
			return nil, err
		}
	}

	now := s.nowMillis()
	var (
		result *notify.Notification
		from   notify.State
		noop   bool
	)

	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx,
			`SELECT `+notificationColumns+` FROM notifications WHERE id = ?`, p.ID)
		current, err := scanNotification(row)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("notification %s: %w", p.ID, notify.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("read notification %s: %w", p.ID, err)
		}

		from = current.State
		if p.From != "" && from != p.From {
			return fmt.Errorf("%s is %s, expected %s: %w", p.ID, from, p.From, notify.ErrInvalidTransition)
		}
		if from == p.State {
			// Idempotent re-application: no error, no timestamp overwrite.
			noop = true
			result = current
			return nil
		}

		if !p.Force && !notify.CanTransition(from, p.State) {
			return fmt.Errorf("%s → %s: %w", from, p.State, notify.ErrInvalidTransition)
		}

		sets := []string{
			"state = ?",
			"updated_at = ?",
			// First entry into the target state stamps its column; later
			// visits leave it alone.
			p.State.TimestampColumn() + " = COALESCE(" + p.State.TimestampColumn() + ", ?)",
		}
		args := []any{string(p.State), now, now}

		aux := []struct {
			column string
			value  notify.Optional[int64]
		}{
			{"attempts", p.Attempts},
			{"retry_at", p.RetryAt},
			{"next_check_at", p.NextCheckAt},
			{"sla_due_at", p.SLADueAt},
			{"eta_at", p.EtaAt},
		}
		for _, f := range aux {
			if f.value.Present() {
				sets = append(sets, f.column+" = ?")
				args = append(args, f.value.Arg())
			}
		}
		auxText := []struct {
			column string
			value  notify.Optional[string]
		}{
			{"actor_session_key", p.ActorSessionKey},
			{"busy_reason", p.BusyReason},
			{"error", p.Error},
		}
		for _, f := range auxText {
			if f.value.Present() {
				sets = append(sets, f.column+" = ?")
				args = append(args, f.value.Arg())
			}
		}

		// The state guard is the compare-and-set that makes concurrent
		// workers safe: whoever commits first wins, the loser's update
		// matches zero rows.
		args = append(args, p.ID, string(from))
		res, err := tx.ExecContext(ctx,
			`UPDATE notifications SET `+strings.Join(sets, ", ")+` WHERE id = ? AND state = ?`,
			args...)
		if err != nil {
			return fmt.Errorf("transition %s to %s: %w", p.ID, p.State, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("transition %s rows affected: %w", p.ID, err)
		}
		if affected == 0 {
			return fmt.Errorf("%s moved concurrently: %w", p.ID, notify.ErrInvalidTransition)
		}

		row = tx.QueryRowContext(ctx,
			`SELECT `+notificationColumns+` FROM notifications WHERE id = ?`, p.ID)
		refreshed, err := scanNotification(row)
		if err != nil {
			return fmt.Errorf("reread notification %s: %w", p.ID, err)
		}
		result = refreshed
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !noop {
		s.log.Debug("notification transition",
			"id", result.ID, "from", from, "to", result.State, "actor", result.ActorSessionKey)
		s.publish(events.TransitionEvent{
			NotificationID: result.ID,
			TaskID:         result.TaskID,
			From:           from,
			To:             result.State,
			Actor:          result.ActorSessionKey,
			At:             now,
		})
	}

	return result, nil
}
