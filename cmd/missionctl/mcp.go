package main

import (
	"github.com/spf13/cobra"

	missionmcp "github.com/beaconops/missionctl/internal/mcp"
)

func mcpCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "MCP server integration",
	}

	cmd.AddCommand(mcpServeCmd())
	return cmd
}

func mcpServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start MCP stdio server for task-thread messaging",
		Long: `Starts an MCP server on stdin/stdout exposing the notification store as
tools (send_message, list_messages, list_notifications, unread_count,
mark_read, set_alias).

Configure in Claude Code's .claude/settings.json:
  {
    "mcpServers": {
      "missionctl": {
        "type": "stdio",
        "command": "missionctl",
        "args": ["mcp", "serve"]
      }
    }
  }`,
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore()
			if err != nil {
				return err
			}
			defer func() { _ = s.Close() }()

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			srv := missionmcp.NewServer(s, missionmcp.WithVersion(Version))
			return srv.Run(ctx)
		},
	}
}
