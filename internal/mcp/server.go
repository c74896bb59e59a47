// Package mcp exposes the notification store to coding agents as MCP
// tools over stdio.
package mcp

import (
	"context"

	gomcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/beaconops/missionctl/internal/store"
)

// Server is the missionctl MCP server.
type Server struct {
	store   *store.Store
	version string
	server  *gomcp.Server
}

// Option configures the MCP server.
type Option func(*Server)

// WithVersion sets the server version string.
func WithVersion(v string) Option {
	return func(s *Server) {
		s.version = v
	}
}

// NewServer creates an MCP server over the given store.
func NewServer(st *store.Store, opts ...Option) *Server {
	s := &Server{
		store:   st,
		version: "dev",
	}
	for _, opt := range opts {
		opt(s)
	}

	s.server = gomcp.NewServer(
		&gomcp.Implementation{
			Name:    "missionctl",
			Version: s.version,
		},
		nil,
	)
	s.registerTools()
	return s
}

// Run starts the MCP server on stdin/stdout. It blocks until the client
// disconnects or the context is canceled.
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &gomcp.StdioTransport{})
}

// registerTools registers all MCP tool handlers with the server.
func (s *Server) registerTools() {
	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "send_message",
		Description: "Post a message into a task thread. @mentions (by alias or agent:… session key) create durable notifications for the mentioned agents",
	}, s.handleSendMessage)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "list_messages",
		Description: "List the messages of a task thread in chronological order",
	}, s.handleListMessages)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "list_notifications",
		Description: "List notifications, optionally filtered by task and delivery state",
	}, s.handleListNotifications)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "unread_count",
		Description: "Count unread messages in a task thread for a viewer session",
	}, s.handleUnreadCount)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "mark_read",
		Description: "Record that a viewer has read a task thread up to now (or a given position)",
	}, s.handleMarkRead)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "set_alias",
		Description: "Bind an @-mention alias to an agent session key",
	}, s.handleSetAlias)
}
