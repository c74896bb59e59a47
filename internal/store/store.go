// Package store implements the durable notification-persistence layer:
// task messages, agent aliases, notifications, and thread read state over
// embedded SQLite. Every mutating operation holds one short write
// transaction; reads are non-blocking.
package store

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/beaconops/missionctl/internal/events"
	"github.com/beaconops/missionctl/internal/safedb"
	"github.com/beaconops/missionctl/internal/schema"
)

const (
	// EnvDBPath names the environment variable consulted when no database
	// path is supplied.
	EnvDBPath = "MISSION_CONTROL_DB_PATH"

	// DefaultDBPath is the conventional on-disk location used when neither
	// an explicit path nor the environment variable is set.
	DefaultDBPath = "data/mission_control.db"
)

// Store is the notification store. All methods are safe for concurrent
// use; SQLite serializes the writers.
type Store struct {
	db  *safedb.DB
	log *slog.Logger
	bus *events.Broadcaster
	now func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(s *Store) { s.log = log }
}

// WithBroadcaster wires an event broadcaster; the store publishes a
// TransitionEvent after every successful (non-noop) state transition.
func WithBroadcaster(bus *events.Broadcaster) Option {
	return func(s *Store) { s.bus = bus }
}

// WithClock overrides the wall clock. Tests use this for deterministic
// timestamps; production keeps time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// ResolveDBPath applies the path fallback chain: explicit path, then
// MISSION_CONTROL_DB_PATH, then the conventional default.
func ResolveDBPath(path string) string {
	if path != "" {
		return path
	}
	if env := os.Getenv(EnvDBPath); env != "" {
		return env
	}
	return DefaultDBPath
}

// Open opens (creating if necessary) the store at path. An empty path
// falls back per ResolveDBPath. The parent directory is created if
// absent, and the schema is ensured on every open.
func Open(path string, opts ...Option) (*Store, error) {
	resolved := ResolveDBPath(path)

	if dir := filepath.Dir(resolved); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := schema.OpenDB(resolved)
	if err != nil {
		return nil, err
	}
	if err := schema.EnsureSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	s := &Store{
		db:  safedb.New(db),
		log: slog.Default(),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// nowMillis returns the current clock reading in epoch milliseconds.
func (s *Store) nowMillis() int64 {
	return s.now().UnixMilli()
}

// publish emits an event when a broadcaster is wired.
func (s *Store) publish(ev events.TransitionEvent) {
	if s.bus != nil {
		s.bus.Publish(ev)
	}
}
