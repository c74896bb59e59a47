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

// UpsertAgentAlias binds alias to sessionKey, trimming both. Re-binding
// an existing alias updates it in place; last write wins.
func (s *Store) UpsertAgentAlias(ctx context.Context, alias, sessionKey string) (*notify.AgentAlias, error) {
	alias = strings.TrimSpace(alias)
	sessionKey = strings.TrimSpace(sessionKey)

	if err := identity.ValidateAlias(alias); err != nil {
		return nil, err
	}
	if err := identity.ValidateSessionKey(sessionKey); err != nil {
		return nil, err
	}

	now := s.nowMillis()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agent_aliases (alias, session_key, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(alias) DO UPDATE SET
			session_key = excluded.session_key,
			updated_at  = excluded.updated_at`,
		alias, sessionKey, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("upsert alias %q: %w", alias, err)
	}

	return s.getAgentAlias(ctx, alias)
}

// getAgentAlias reads one alias row back.
func (s *Store) getAgentAlias(ctx context.Context, alias string) (*notify.AgentAlias, error) {
	var a notify.AgentAlias
	err := s.db.QueryRowContext(ctx,
		`SELECT alias, session_key, created_at, updated_at FROM agent_aliases WHERE alias = ?`,
		alias,
	).Scan(&a.Alias, &a.SessionKey, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("read alias %q: %w", alias, err)
	}
	return &a, nil
}

// ListAgentAliases returns all alias bindings ordered by alias.
func (s *Store) ListAgentAliases(ctx context.Context) ([]notify.AgentAlias, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT alias, session_key, created_at, updated_at FROM agent_aliases ORDER BY alias`)
	if err != nil {
		return nil, fmt.Errorf("list aliases: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var aliases []notify.AgentAlias
	for rows.Next() {
		var a notify.AgentAlias
		if err := rows.Scan(&a.Alias, &a.SessionKey, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan alias: %w", err)
		}
		aliases = append(aliases, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate aliases: %w", err)
	}
	return aliases, nil
}

// resolveTargets maps mention tokens to delivery targets inside the
// fan-out transaction. Tokens with the session-key prefix bypass the
// alias table; the rest resolve by exact alias, then case-insensitively.
// Unresolvable tokens are dropped. Targets are deduplicated by session
// key, keeping the first alias that produced each.
func resolveTargets(ctx context.Context, tx *sql.Tx, tokens []string) ([]notify.Target, error) {
	seen := make(map[string]bool, len(tokens))
	var targets []notify.Target

	for _, token := range tokens {
		var sessionKey string

		if identity.IsSessionKey(token) {
			sessionKey = token
		} else {
			key, err := lookupAlias(ctx, tx, token)
			if err != nil {
				return nil, err
			}
			if key == "" {
				// No binding for this handle; the mention is inert.
				continue
			}
			sessionKey = key
		}

		if seen[sessionKey] {
			continue
		}
		seen[sessionKey] = true
		targets = append(targets, notify.Target{Alias: token, SessionKey: sessionKey})
	}

	return targets, nil
}

// lookupAlias resolves one alias token to a session key, or "" on miss.
func lookupAlias(ctx context.Context, tx *sql.Tx, token string) (string, error) {
	var key string
	err := tx.QueryRowContext(ctx,
		`SELECT session_key FROM agent_aliases WHERE alias = ?`, token,
	).Scan(&key)
	if err == nil {
		return key, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("resolve alias %q: %w", token, err)
	}

	// Case-insensitive fallback. ORDER BY keeps the pick deterministic
	// when several bindings differ only in case.
	err = tx.QueryRowContext(ctx,
		`SELECT session_key FROM agent_aliases WHERE alias = ? COLLATE NOCASE ORDER BY alias LIMIT 1`,
		token,
	).Scan(&key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("resolve alias %q (case-insensitive): %w", token, err)
	}
	return key, nil
}
