// Package idgen generates identifiers for decisions and observed pages.
package idgen

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator produces unique string identifiers.
type Generator func() string

// UUIDv7 returns a Generator of RFC 9562 UUID v7 strings (time-sortable).
func UUIDv7() Generator {
	return func() string {
		return uuid.Must(uuid.NewV7()).String()
	}
}

// Prefixed prepends a fixed prefix to every ID, e.g. "dec_" or "page_".
func Prefixed(prefix string, gen Generator) Generator {
	return func() string {
		return prefix + gen()
	}
}

var (
	// Decision identifies one visibility change event.
	Decision = Prefixed("dec_", UUIDv7())
	// Page identifies one observed page when the config names none.
	Page = Prefixed("page_", UUIDv7())
)

// New produces a bare UUIDv7.
func New() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Parse validates a UUID, ignoring a leading "<prefix>_" if present.
func Parse(s string) (string, error) {
	raw := s
	for i := 0; i < len(s); i++ {
		if s[i] == '_' {
			raw = s[i+1:]
			break
		}
	}
	u, err := uuid.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("idgen: invalid id %q: %w", s, err)
	}
	return u.String(), nil
}
