package types

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// MaxKeyLength bounds the rendered key size. Keys are built from
// caller-supplied identifiers, so the bound guards the shared store
// against pathological inputs.
const MaxKeyLength = 512

// Key is the deterministic fingerprint of one cached decision. The
// actor id comes first in the rendered form so that every key for an
// actor shares a common prefix and can be swept without a full scan.
type Key struct {
	ActorID    string
	ScopeType  string
	ScopeID    string
	Partition  string
	Permission string
}

// String renders the key in its canonical form:
//
//	a:<actor>:<scopeType>:<scopeID>:<partition>:<permission>
func (k Key) String() string {
	return "a:" + k.ActorID + ":" + k.ScopeType + ":" + k.ScopeID + ":" + k.Partition + ":" + k.Permission
}

// Validate checks that the key components can form a well-defined
// fingerprint. Scope may be empty (global permissions); actor and
// permission may not.
func (k Key) Validate() error {
	if k.ActorID == "" {
		return fmt.Errorf("%w: empty actor id", ErrInvalidKey)
	}
	if k.Permission == "" {
		return fmt.Errorf("%w: empty permission", ErrInvalidKey)
	}
	rendered := k.String()
	if len(rendered) > MaxKeyLength {
		return fmt.Errorf("%w: rendered key is %d bytes, limit %d", ErrInvalidKey, len(rendered), MaxKeyLength)
	}
	if !utf8.ValidString(rendered) {
		return fmt.Errorf("%w: key contains invalid UTF-8", ErrInvalidKey)
	}
	for _, part := range []string{k.ActorID, k.ScopeType, k.ScopeID, k.Partition, k.Permission} {
		if strings.ContainsAny(part, ":\n\r\t ") {
			return fmt.Errorf("%w: component %q contains a separator or whitespace", ErrInvalidKey, part)
		}
	}
	return nil
}

// ActorPrefix returns the prefix shared by every key belonging to the
// given actor.
func ActorPrefix(actorID string) string {
	return "a:" + actorID + ":"
}

// ParseKey parses a canonical rendered key back into its components.
// Used by the invalidation analyzer to group queued tasks by actor.
func ParseKey(s string) (Key, error) {
	parts := strings.SplitN(s, ":", 6)
	if len(parts) != 6 || parts[0] != "a" {
		return Key{}, fmt.Errorf("%w: malformed key %q", ErrInvalidKey, s)
	}
	return Key{
		ActorID:    parts[1],
		ScopeType:  parts[2],
		ScopeID:    parts[3],
		Partition:  parts[4],
		Permission: parts[5],
	}, nil
}
