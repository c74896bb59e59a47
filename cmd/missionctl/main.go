// Command missionctl manages the mission-control notification store:
// posting task messages, inspecting notifications, driving the state
// machine, and running the delivery worker and debug servers.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/beaconops/missionctl/internal/config"
	"github.com/beaconops/missionctl/internal/logging"
	"github.com/beaconops/missionctl/internal/notify"
	"github.com/beaconops/missionctl/internal/store"
)

var (
	// Build info (set via ldflags).
	Version = "dev"
	Build   = "unknown"
)

var (
	// Global flags.
	flagDB      string
	flagConfig  string
	flagJSON    bool
	flagVerbose bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "missionctl",
		Short: "Durable cross-agent notifications for task threads",
		Long: `Mission Control turns @-mentions in task-thread messages into durable,
state-machine-driven notifications, and delivers them to agent sessions
with retries, SLA escalation, and dead-lettering.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&flagDB, "db", "", "Database path (or MISSION_CONTROL_DB_PATH env var)")
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "YAML config file")
	rootCmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "JSON output for scripting")
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "Debug output")

	rootCmd.Version = Version
	rootCmd.SetVersionTemplate("missionctl v{{.Version}} (build: " + Build + ")\n")

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		lvl, err := logging.ParseLevel(cfg.Log.Level)
		if err != nil {
			return err
		}
		if flagVerbose {
			lvl = slog.LevelDebug
		}
		logging.Setup(os.Stderr, lvl)
		return nil
	}

	rootCmd.AddCommand(aliasCmd())
	rootCmd.AddCommand(sendCmd())
	rootCmd.AddCommand(messagesCmd())
	rootCmd.AddCommand(notificationsCmd())
	rootCmd.AddCommand(transitionCmd())
	rootCmd.AddCommand(unreadCmd())
	rootCmd.AddCommand(markReadCmd())
	rootCmd.AddCommand(workerCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(mcpCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	return config.Load(flagConfig)
}

// openStore opens the store at the resolved path: --db flag, then
// config file, then ResolveDBPath's fallback chain.
func openStore(opts ...store.Option) (*store.Store, error) {
	path := flagDB
	if path == "" {
		cfg, err := loadConfig()
		if err != nil {
			return nil, err
		}
		path = cfg.DBPath
	}
	return store.Open(path, opts...)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func millis(ms int64) string {
	if ms == 0 {
		return "-"
	}
	return time.UnixMilli(ms).Format(time.RFC3339)
}

func aliasCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "alias",
		Short: "Manage @-mention aliases",
	}

	setCmd := &cobra.Command{
		Use:   "set <alias> <session-key>",
		Short: "Bind an alias to an agent session key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore()
			if err != nil {
				return err
			}
			defer func() { _ = s.Close() }()

			a, err := s.UpsertAgentAlias(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			if flagJSON {
				return printJSON(a)
			}
			fmt.Printf("@%s → %s\n", a.Alias, a.SessionKey)
			return nil
		},
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List alias bindings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore()
			if err != nil {
				return err
			}
			defer func() { _ = s.Close() }()

			aliases, err := s.ListAgentAliases(cmd.Context())
			if err != nil {
				return err
			}
			if flagJSON {
				return printJSON(aliases)
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ALIAS\tSESSION KEY\tUPDATED")
			for _, a := range aliases {
				fmt.Fprintf(w, "%s\t%s\t%s\n", a.Alias, a.SessionKey, millis(a.UpdatedAt))
			}
			return w.Flush()
		},
	}

	cmd.AddCommand(setCmd, listCmd)
	return cmd
}

func sendCmd() *cobra.Command {
	var (
		taskID string
		author string
		slaMs  int64
	)

	cmd := &cobra.Command{
		Use:   "send <content...>",
		Short: "Post a message into a task thread, fanning out @-mention notifications",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore()
			if err != nil {
				return err
			}
			defer func() { _ = s.Close() }()

			msg, err := s.CreateTaskMessage(cmd.Context(), store.CreateMessageParams{
				TaskID:           taskID,
				AuthorSessionKey: author,
				Content:          strings.Join(args, " "),
				SLAMillis:        slaMs,
			})
			if err != nil {
				return err
			}
			if flagJSON {
				return printJSON(msg)
			}
			fmt.Printf("message %s posted to %s (%d mentions)\n", msg.ID, msg.TaskID, len(msg.Mentions))
			return nil
		},
	}

	cmd.Flags().StringVar(&taskID, "task", "", "Task thread ID (required)")
	cmd.Flags().StringVar(&author, "author", "", "Author session key, e.g. agent:backend-1 (required)")
	cmd.Flags().Int64Var(&slaMs, "sla-ms", 0, "Delivery SLA in milliseconds for fanned-out notifications")
	_ = cmd.MarkFlagRequired("task")
	_ = cmd.MarkFlagRequired("author")
	return cmd
}

func messagesCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "messages <task-id>",
		Short: "List a task thread's messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore()
			if err != nil {
				return err
			}
			defer func() { _ = s.Close() }()

			msgs, err := s.ListTaskMessages(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}
			if flagJSON {
				return printJSON(msgs)
			}
			for _, m := range msgs {
				fmt.Printf("[%s] %s: %s\n", millis(m.CreatedAt), m.AuthorSessionKey, m.Content)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "Max messages (default 100)")
	return cmd
}

func notificationsCmd() *cobra.Command {
	var (
		taskID string
		state  string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "notifications",
		Short: "List notifications",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore()
			if err != nil {
				return err
			}
			defer func() { _ = s.Close() }()

			ntfs, err := s.ListNotifications(cmd.Context(), store.ListParams{
				TaskID: taskID,
				State:  notify.State(state),
				Limit:  limit,
			})
			if err != nil {
				return err
			}
			if flagJSON {
				return printJSON(ntfs)
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTASK\tTARGET\tSTATE\tATTEMPTS\tRETRY AT")
			for _, n := range ntfs {
				retryAt := "-"
				if n.RetryAt != nil {
					retryAt = millis(*n.RetryAt)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
					n.ID, n.TaskID, n.TargetSessionKey, n.State, n.Attempts, retryAt)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&taskID, "task", "", "Filter by task thread")
	cmd.Flags().StringVar(&state, "state", "", "Filter by delivery state")
	cmd.Flags().IntVar(&limit, "limit", 0, "Max notifications (default 200)")
	return cmd
}

func transitionCmd() *cobra.Command {
	var (
		force       bool
		actor       string
		errText     string
		busyReason  string
		attempts    int64
		retryAt     int64
		etaAt       int64
		nextCheckAt int64
	)

	cmd := &cobra.Command{
		Use:   "transition <notification-id> <state>",
		Short: "Drive a notification through the delivery state machine",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore()
			if err != nil {
				return err
			}
			defer func() { _ = s.Close() }()

			params := store.TransitionParams{
				ID:    args[0],
				State: notify.State(args[1]),
				Force: force,
			}
			// Only flags the user actually set are applied; a zero value
			// passed explicitly still counts.
			if cmd.Flags().Changed("actor") {
				params.ActorSessionKey = notify.Set(actor)
			}
			if cmd.Flags().Changed("error") {
				params.Error = notify.Set(errText)
			}
			if cmd.Flags().Changed("busy-reason") {
				params.BusyReason = notify.Set(busyReason)
			}
			if cmd.Flags().Changed("attempts") {
				params.Attempts = notify.Set(attempts)
			}
			if cmd.Flags().Changed("retry-at") {
				params.RetryAt = notify.Set(retryAt)
			}
			if cmd.Flags().Changed("eta-at") {
				params.EtaAt = notify.Set(etaAt)
			}
			if cmd.Flags().Changed("next-check-at") {
				params.NextCheckAt = notify.Set(nextCheckAt)
			}

			n, err := s.TransitionNotification(cmd.Context(), params)
			if err != nil {
				return err
			}
			if flagJSON {
				return printJSON(n)
			}
			fmt.Printf("%s → %s\n", n.ID, n.State)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Bypass the transition table")
	cmd.Flags().StringVar(&actor, "actor", "", "Acting session key")
	cmd.Flags().StringVar(&errText, "error", "", "Error text to record")
	cmd.Flags().StringVar(&busyReason, "busy-reason", "", "Busy reason for deferred_busy")
	cmd.Flags().Int64Var(&attempts, "attempts", 0, "Attempt counter override")
	cmd.Flags().Int64Var(&retryAt, "retry-at", 0, "Retry time, epoch ms")
	cmd.Flags().Int64Var(&etaAt, "eta-at", 0, "Busy-agent ETA, epoch ms")
	cmd.Flags().Int64Var(&nextCheckAt, "next-check-at", 0, "Next busy check, epoch ms")
	return cmd
}

func unreadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unread <task-id> <session-key>",
		Short: "Count unread messages in a task thread for a viewer",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore()
			if err != nil {
				return err
			}
			defer func() { _ = s.Close() }()

			uc, err := s.ThreadUnreadCount(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			if flagJSON {
				return printJSON(uc)
			}
			fmt.Printf("%d unread\n", uc.Unread)
			return nil
		},
	}
}

func markReadCmd() *cobra.Command {
	var (
		messageID string
		at        int64
	)

	cmd := &cobra.Command{
		Use:   "mark-read <task-id> <session-key>",
		Short: "Record that a viewer has read a task thread",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore()
			if err != nil {
				return err
			}
			defer func() { _ = s.Close() }()

			params := store.MarkReadParams{
				TaskID:            args[0],
				SessionKey:        args[1],
				LastReadMessageID: messageID,
			}
			if cmd.Flags().Changed("at") {
				params.LastReadAt = notify.Set(at)
			}

			rs, err := s.MarkThreadReadState(cmd.Context(), params)
			if err != nil {
				return err
			}
			if flagJSON {
				return printJSON(rs)
			}
			fmt.Printf("marked %s read for %s\n", rs.TaskID, rs.SessionKey)
			return nil
		},
	}

	cmd.Flags().StringVar(&messageID, "message-id", "", "Message cursor")
	cmd.Flags().Int64Var(&at, "at", 0, "Marker timestamp, epoch ms (default: now)")
	return cmd
}

// signalContext returns a context canceled on SIGINT/SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}
