package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/spf13/cobra"

	"github.com/beaconops/missionctl/internal/events"
	"github.com/beaconops/missionctl/internal/store"
	"github.com/beaconops/missionctl/internal/worker"
)

func workerCmd() *cobra.Command {
	var (
		once         bool
		limit        int
		maxAttempts  int64
		retryDelayMs int64
		pollMs       int64
		sendURL      string
		sendTimeout  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run the delivery worker",
		Long: `Polls the store for work-ready notifications and pushes them to agent
sessions. With --send-url each delivery is POSTed to that webhook; without
it, deliveries are logged and treated as successful (useful for local
development and draining queues).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("limit") {
				limit = cfg.Worker.Limit
			}
			if !cmd.Flags().Changed("max-attempts") {
				maxAttempts = cfg.Worker.MaxAttempts
			}
			if !cmd.Flags().Changed("retry-delay-ms") {
				retryDelayMs = cfg.Worker.RetryDelayMs
			}
			if !cmd.Flags().Changed("poll-interval-ms") {
				pollMs = cfg.Worker.PollIntervalMs
			}

			s, err := openStore()
			if err != nil {
				return err
			}
			defer func() { _ = s.Close() }()

			send := logSend
			if sendURL != "" {
				send = webhookSend(sendURL, sendTimeout)
			}

			w := worker.New(s, send, worker.Options{
				Limit:        limit,
				MaxAttempts:  maxAttempts,
				RetryDelayMs: retryDelayMs,
			})

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			if once {
				res, err := w.Tick(ctx, worker.TickParams{})
				if err != nil {
					return err
				}
				if flagJSON {
					return printJSON(res)
				}
				fmt.Printf("polled=%d delivered=%d deferred=%d failed=%d timed_out=%d dead_lettered=%d escalated=%d\n",
					res.Polled, res.Delivered, res.DeferredBusy, res.Failed,
					res.TimedOut, res.DeadLettered, res.Escalated)
				return nil
			}

			return runWorkerLoop(ctx, w, time.Duration(pollMs)*time.Millisecond)
		},
	}

	cmd.Flags().BoolVar(&once, "once", false, "Run a single tick and exit")
	cmd.Flags().IntVar(&limit, "limit", 20, "Claim batch size")
	cmd.Flags().Int64Var(&maxAttempts, "max-attempts", 3, "Delivery attempts before dead-letter")
	cmd.Flags().Int64Var(&retryDelayMs, "retry-delay-ms", 30_000, "Backoff between attempts, ms")
	cmd.Flags().Int64Var(&pollMs, "poll-interval-ms", 5_000, "Pause between ticks, ms")
	cmd.Flags().StringVar(&sendURL, "send-url", "", "Webhook that receives deliveries")
	cmd.Flags().DurationVar(&sendTimeout, "send-timeout", 30*time.Second, "Per-send HTTP timeout")
	return cmd
}

// runWorkerLoop ticks until ctx is canceled. Tick errors back off
// exponentially instead of hot-looping against a broken store.
func runWorkerLoop(ctx context.Context, w *worker.Worker, pollInterval time.Duration) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = time.Minute

	slog.Info("delivery worker started", "poll_interval", pollInterval)
	for {
		pause := pollInterval
		if _, err := w.Tick(ctx, worker.TickParams{}); err != nil {
			pause = bo.NextBackOff()
			slog.Error("tick failed", "error", err, "retry_in", pause)
		} else {
			bo.Reset()
		}

		select {
		case <-ctx.Done():
			slog.Info("delivery worker stopping")
			return nil
		case <-time.After(pause):
		}
	}
}

// logSend is the development transport: log and report success.
func logSend(ctx context.Context, req worker.SendRequest) (worker.SendResult, error) {
	slog.Info("delivering notification",
		"target", req.TargetSessionKey,
		"notification_id", req.Metadata["notificationId"],
		"task_id", req.Metadata["taskId"])
	return worker.SendResult{OK: true}, nil
}

// webhookSend POSTs each delivery to url and decodes the transport's
// verdict from the response body.
func webhookSend(url string, timeout time.Duration) worker.SendFunc {
	client := &http.Client{Timeout: timeout}

	return func(ctx context.Context, req worker.SendRequest) (worker.SendResult, error) {
		body, err := json.Marshal(req)
		if err != nil {
			return worker.SendResult{}, fmt.Errorf("encode send request: %w", err)
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return worker.SendResult{}, fmt.Errorf("build send request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(httpReq)
		if err != nil {
			return worker.SendResult{}, fmt.Errorf("post to %s: %w", url, err)
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return worker.SendResult{
				OK:     false,
				Status: worker.StatusFailed,
				Error:  fmt.Sprintf("webhook returned %s", resp.Status),
			}, nil
		}

		var result worker.SendResult
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return worker.SendResult{}, fmt.Errorf("decode send result: %w", err)
		}
		return result, nil
	}
}

// storeBroadcaster wires a broadcaster into openStore for commands that
// stream events.
func openStoreWithBus() (*store.Store, *events.Broadcaster, error) {
	bus := events.NewBroadcaster()
	s, err := openStore(store.WithBroadcaster(bus))
	if err != nil {
		bus.Close()
		return nil, nil, err
	}
	return s, bus, nil
}
