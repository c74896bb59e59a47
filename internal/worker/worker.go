// Package worker polls the notification store and pushes queued
// notifications to their target agents through an injected transport.
// The worker is stateless between ticks; everything durable lives in the
// store, so any number of workers may run concurrently.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/beaconops/missionctl/internal/metrics"
	"github.com/beaconops/missionctl/internal/notify"
	"github.com/beaconops/missionctl/internal/store"
)

// SystemActor is the actor recorded on worker-driven transitions that no
// agent initiated.
const SystemActor = "system:delivery-worker"

const slaBreachError = "SLA breach"

// SendRequest is one push to the transport layer.
type SendRequest struct {
	TargetSessionKey string            `json:"target_session_key"`
	Message          string            `json:"message"`
	Metadata         map[string]string `json:"metadata"`
}

// SendResult is the transport's verdict on one send.
type SendResult struct {
	OK              bool   `json:"ok"`
	Status          string `json:"status,omitempty"`
	ActorSessionKey string `json:"actor_session_key,omitempty"`
	Error           string `json:"error,omitempty"`

	// Busy-deferral details, meaningful when Status is "deferred_busy".
	BusyReason  string `json:"busy_reason,omitempty"`
	EtaAt       *int64 `json:"eta_at,omitempty"`
	NextCheckAt *int64 `json:"next_check_at,omitempty"`
}

// Transport statuses the worker interprets.
const (
	StatusDeferredBusy = "deferred_busy"
	StatusFailed       = "failed"
	StatusTimeout      = "timeout"
)

// SendFunc delivers one message to one agent session.
type SendFunc func(ctx context.Context, req SendRequest) (SendResult, error)

// MessageTextFunc resolves a message id to its text. The default
// resolver reads the store; tests and embedders substitute their own.
type MessageTextFunc func(ctx context.Context, messageID string) (string, error)

// Options tune a Worker. Zero values take the documented defaults.
type Options struct {
	Limit        int   // claim batch size, default 20
	MaxAttempts  int64 // delivery attempts before dead-letter, default 3, min 1
	RetryDelayMs int64 // flat backoff between attempts, default 30000, min 1000

	// MessageText overrides the message-text resolver. Nil reads the
	// store.
	MessageText MessageTextFunc

	// Clock overrides the wall clock for ticks without an explicit Now.
	Clock func() time.Time

	Logger *slog.Logger
}

// Worker drives notification delivery.
type Worker struct {
	store       *store.Store
	send        SendFunc
	messageText MessageTextFunc
	log         *slog.Logger
	clock       func() time.Time

	limit        int
	maxAttempts  int64
	retryDelayMs int64
}

// New builds a Worker over the store and transport.
func New(st *store.Store, send SendFunc, opts Options) *Worker {
	w := &Worker{
		store:        st,
		send:         send,
		messageText:  opts.MessageText,
		log:          opts.Logger,
		clock:        opts.Clock,
		limit:        opts.Limit,
		maxAttempts:  opts.MaxAttempts,
		retryDelayMs: opts.RetryDelayMs,
	}
	if w.limit <= 0 {
		w.limit = 20
	}
	if w.maxAttempts <= 0 {
		w.maxAttempts = 3
	}
	if w.retryDelayMs <= 0 {
		w.retryDelayMs = 30_000
	}
	if w.retryDelayMs < 1_000 {
		w.retryDelayMs = 1_000
	}
	if w.messageText == nil {
		w.messageText = func(ctx context.Context, messageID string) (string, error) {
			msg, err := st.GetTaskMessage(ctx, messageID)
			if err != nil {
				return "", err
			}
			return msg.Content, nil
		}
	}
	if w.log == nil {
		w.log = slog.Default()
	}
	if w.clock == nil {
		w.clock = time.Now
	}
	return w
}

// TickResult summarizes one tick.
type TickResult struct {
	Polled       int `json:"polled"`
	Processed    int `json:"processed"`
	Delivered    int `json:"delivered"`
	DeferredBusy int `json:"deferred_busy"`
	Failed       int `json:"failed"`
	TimedOut     int `json:"timed_out"`
	DeadLettered int `json:"dead_lettered"`
	Escalated    int `json:"escalated"`

	// Notifications holds the post-transition rows, in batch order.
	Notifications []notify.Notification `json:"notifications,omitempty"`
}

// TickParams tune one tick. A zero Now reads the worker clock.
type TickParams struct {
	Now int64
}

// Tick runs one poll-and-deliver pass. Rows another worker moves first
// are skipped silently; everything else is pushed and its outcome
// recorded as a state transition.
func (w *Worker) Tick(ctx context.Context, p TickParams) (*TickResult, error) {
	metrics.WorkerTicks.Inc()

	now := p.Now
	if now == 0 {
		now = w.clock().UnixMilli()
	}

	batch, err := w.store.ClaimReadyNotifications(ctx, store.ClaimParams{Limit: w.limit, Now: now})
	if err != nil {
		return nil, fmt.Errorf("claim batch: %w", err)
	}

	res := &TickResult{Polled: len(batch)}
	metrics.NotificationsPolled.Add(float64(len(batch)))

	for _, n := range batch {
		if n.SLADueAt != nil && *n.SLADueAt <= now {
			escalated, err := w.escalate(ctx, n, now)
			if err != nil {
				if errors.Is(err, notify.ErrInvalidTransition) {
					// Another worker escalated or claimed it first.
					w.log.Debug("escalation race lost", "id", n.ID)
					continue
				}
				w.log.Error("sla escalation failed", "id", n.ID, "error", err)
				continue
			}
			// The cascade passes through timeout on its way back to
			// queued, so the breach shows up in both counters.
			res.TimedOut++
			res.Escalated++
			res.Notifications = append(res.Notifications, *escalated)
			metrics.DeliveryOutcomes.WithLabelValues(metrics.OutcomeTimeout).Inc()
			metrics.SLAEscalations.Inc()
			continue
		}

		final, outcome, err := w.deliver(ctx, n, now)
		if err != nil {
			if errors.Is(err, notify.ErrInvalidTransition) {
				// Another worker won the claim race.
				w.log.Debug("claim race lost", "id", n.ID)
				continue
			}
			w.log.Error("delivery pass failed", "id", n.ID, "error", err)
			continue
		}

		res.Processed++
		res.Notifications = append(res.Notifications, *final)
		metrics.DeliveryOutcomes.WithLabelValues(outcome).Inc()
		switch outcome {
		case metrics.OutcomeDelivered:
			res.Delivered++
		case metrics.OutcomeDeferredBusy:
			res.DeferredBusy++
		case metrics.OutcomeFailed:
			res.Failed++
		case metrics.OutcomeTimeout:
			res.TimedOut++
		case metrics.OutcomeDeadLetter:
			res.DeadLettered++
		}
	}

	w.log.Debug("tick complete",
		"polled", res.Polled, "delivered", res.Delivered, "deferred", res.DeferredBusy,
		"failed", res.Failed, "timed_out", res.TimedOut,
		"dead_lettered", res.DeadLettered, "escalated", res.Escalated)

	return res, nil
}

// escalate recycles an SLA-breached notification for another attempt:
// timeout, forced reassigned, forced back to queued with an immediate
// retry window. The same row carries on; no new id is minted.
func (w *Worker) escalate(ctx context.Context, n notify.Notification, now int64) (*notify.Notification, error) {
	if _, err := w.store.TransitionNotification(ctx, store.TransitionParams{
		ID:              n.ID,
		State:           notify.StateTimeout,
		From:            n.State,
		ActorSessionKey: notify.Set(SystemActor),
		Error:           notify.Set(slaBreachError),
	}); err != nil {
		return nil, fmt.Errorf("to timeout: %w", err)
	}
	if _, err := w.store.TransitionNotification(ctx, store.TransitionParams{
		ID:              n.ID,
		State:           notify.StateReassigned,
		Force:           true,
		ActorSessionKey: notify.Set(SystemActor),
	}); err != nil {
		return nil, fmt.Errorf("to reassigned: %w", err)
	}
	// The breached deadline comes off the recycled attempt; keeping it
	// would re-escalate the same row on every subsequent tick.
	requeued, err := w.store.TransitionNotification(ctx, store.TransitionParams{
		ID:              n.ID,
		State:           notify.StateQueued,
		Force:           true,
		RetryAt:         notify.Set(now),
		SLADueAt:        notify.Clear[int64](),
		ActorSessionKey: notify.Set(SystemActor),
	})
	if err != nil {
		return nil, fmt.Errorf("back to queued: %w", err)
	}

	w.log.Warn("sla breached, notification recycled",
		"id", n.ID, "task_id", n.TaskID, "target", n.TargetSessionKey)
	return requeued, nil
}

// deliver owns one row for the duration of a send and records the
// outcome. Returns the final row and its outcome label.
func (w *Worker) deliver(ctx context.Context, n notify.Notification, now int64) (*notify.Notification, string, error) {
	attempts := n.Attempts + 1
	// From pins the claim to the state the row was polled in. Another
	// worker moving it first makes this a rejected compare-and-set
	// rather than a same-state no-op, so the loser skips the send.
	claimed, err := w.store.TransitionNotification(ctx, store.TransitionParams{
		ID:       n.ID,
		State:    notify.StateDelivering,
		From:     n.State,
		Attempts: notify.Set(attempts),
		RetryAt:  notify.Clear[int64](),
		Error:    notify.Clear[string](),
	})
	if err != nil {
		return nil, "", err
	}

	text, err := w.messageText(ctx, claimed.MessageID)
	if err != nil {
		return w.recordFailure(ctx, claimed, now, attempts,
			fmt.Sprintf("resolve message text: %v", err))
	}

	result, sendErr := w.send(ctx, SendRequest{
		TargetSessionKey: claimed.TargetSessionKey,
		Message:          text,
		Metadata: map[string]string{
			"notificationId": claimed.ID,
			"taskId":         claimed.TaskID,
			"messageId":      claimed.MessageID,
			"mentionAlias":   claimed.MentionAlias,
		},
	})
	if sendErr != nil {
		return w.recordFailure(ctx, claimed, now, attempts, sendErr.Error())
	}

	actor := result.ActorSessionKey
	if actor == "" {
		actor = claimed.TargetSessionKey
	}

	switch {
	case result.Status == StatusDeferredBusy:
		nextCheck := now + w.retryDelayMs
		if result.NextCheckAt != nil {
			nextCheck = *result.NextCheckAt
		}
		params := store.TransitionParams{
			ID:              claimed.ID,
			State:           notify.StateDeferredBusy,
			BusyReason:      notify.Set(result.BusyReason),
			NextCheckAt:     notify.Set(nextCheck),
			// retry_at mirrors next_check_at so the claim query
			// re-surfaces the row on schedule.
			RetryAt:         notify.Set(nextCheck),
			ActorSessionKey: notify.Set(actor),
		}
		if result.EtaAt != nil {
			params.EtaAt = notify.Set(*result.EtaAt)
		}
		final, err := w.store.TransitionNotification(ctx, params)
		if err != nil {
			return nil, "", fmt.Errorf("record deferral: %w", err)
		}
		return final, metrics.OutcomeDeferredBusy, nil

	case result.Status == StatusTimeout:
		// Transport-level timeout is terminal for this row. Only SLA
		// breach recycles a notification.
		final, err := w.store.TransitionNotification(ctx, store.TransitionParams{
			ID:              claimed.ID,
			State:           notify.StateTimeout,
			RetryAt:         notify.Clear[int64](),
			Error:           notify.Set(result.Error),
			ActorSessionKey: notify.Set(actor),
		})
		if err != nil {
			return nil, "", fmt.Errorf("record timeout: %w", err)
		}
		return final, metrics.OutcomeTimeout, nil

	case result.OK && result.Status != StatusFailed:
		final, err := w.store.TransitionNotification(ctx, store.TransitionParams{
			ID:              claimed.ID,
			State:           notify.StateDelivered,
			RetryAt:         notify.Clear[int64](),
			Error:           notify.Clear[string](),
			ActorSessionKey: notify.Set(actor),
		})
		if err != nil {
			return nil, "", fmt.Errorf("record delivery: %w", err)
		}
		return final, metrics.OutcomeDelivered, nil

	default:
		errText := result.Error
		if errText == "" {
			errText = "send rejected"
		}
		return w.recordFailure(ctx, claimed, now, attempts, errText)
	}
}

// recordFailure applies the retry-or-dead-letter policy for one failed
// attempt.
func (w *Worker) recordFailure(ctx context.Context, n *notify.Notification, now, attempts int64, errText string) (*notify.Notification, string, error) {
	if attempts >= w.maxAttempts {
		final, err := w.store.TransitionNotification(ctx, store.TransitionParams{
			ID:              n.ID,
			State:           notify.StateDeadLetter,
			Error:           notify.Set(errText),
			ActorSessionKey: notify.Set(SystemActor),
		})
		if err != nil {
			return nil, "", fmt.Errorf("record dead letter: %w", err)
		}
		w.log.Warn("notification dead-lettered",
			"id", n.ID, "attempts", attempts, "error", errText)
		return final, metrics.OutcomeDeadLetter, nil
	}

	final, err := w.store.TransitionNotification(ctx, store.TransitionParams{
		ID:      n.ID,
		State:   notify.StateFailed,
		RetryAt: notify.Set(now + w.retryDelayMs),
		Error:   notify.Set(errText),
	})
	if err != nil {
		return nil, "", fmt.Errorf("record failure: %w", err)
	}
	return final, metrics.OutcomeFailed, nil
}
