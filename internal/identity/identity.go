// Package identity generates row identifiers and validates the naming
// scheme used across Mission Control: session keys for agent endpoints
// and short human aliases bound to them.
package identity

import (
	"crypto/rand"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// SessionKeyPrefix marks a token as an already-canonical session key.
// Tokens carrying it bypass the alias table entirely.
const SessionKeyPrefix = "agent:"

var (
	// Session keys look like "agent:<role>:<slot>", e.g. "agent:vision:main".
	sessionKeyRegex = regexp.MustCompile(`^agent:[A-Za-z0-9_.-]+(:[A-Za-z0-9_.-]+)*$`)

	// Aliases are human-typed handles; the charset matches what the
	// mention parser can produce.
	aliasRegex = regexp.MustCompile(`^[A-Za-z0-9:_./-]+$`)
)

// GenerateMessageID generates a unique task message ID using ULID.
// Format: "msg_" + ulid().
func GenerateMessageID() string {
	return "msg_" + generateULID()
}

// GenerateNotificationID generates a unique notification ID using ULID.
// Format: "ntf_" + ulid().
func GenerateNotificationID() string {
	return "ntf_" + generateULID()
}

var (
	ulidMu      sync.Mutex
	ulidEntropy = ulid.Monotonic(rand.Reader, 0)
)

// generateULID generates a ULID string.
func generateULID() string {
	ulidMu.Lock()
	defer ulidMu.Unlock()
	id := ulid.MustNew(ulid.Timestamp(time.Now()), ulidEntropy)
	return id.String()
}

// IsSessionKey reports whether token is a fully-qualified session key
// ("agent:..."). Such tokens are accepted verbatim by the alias resolver.
func IsSessionKey(token string) bool {
	return strings.HasPrefix(token, SessionKeyPrefix)
}

// ValidateSessionKey checks that key follows the "agent:<role>:<slot>"
// shape. Returns nil if valid.
func ValidateSessionKey(key string) error {
	if key == "" {
		return fmt.Errorf("session key cannot be empty")
	}
	if !sessionKeyRegex.MatchString(key) {
		return fmt.Errorf("invalid session key %q: expected agent:<role>:<slot>", key)
	}
	return nil
}

// ValidateAlias checks that an alias is non-empty after trimming and stays
// within the mention charset, so every alias is reachable by @-mention.
func ValidateAlias(alias string) error {
	alias = strings.TrimSpace(alias)
	if alias == "" {
		return fmt.Errorf("alias cannot be empty")
	}
	if IsSessionKey(alias) {
		return fmt.Errorf("alias %q must not use the %q prefix", alias, SessionKeyPrefix)
	}
	if !aliasRegex.MatchString(alias) {
		return fmt.Errorf("alias %q contains characters outside [A-Za-z0-9:_./-]", alias)
	}
	return nil
}
