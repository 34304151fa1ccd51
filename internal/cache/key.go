package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// Key identifies a cached entry. Keys are derived from the operation name
// and its normalized arguments so that equivalent requests collide.
type Key string

// NewKey derives a Key from an operation name and its arguments. Argument
// order does not matter; values are used as-is, so callers normalize case
// or whitespace with Fold first where equivalence requires it.
func NewKey(op string, args map[string]string) Key {
	names := make([]string, 0, len(args))
	for name := range args {
		names = append(names, name)
	}
	sort.Strings(names)

	h := sha256.New()
	h.Write([]byte(op))
	for _, name := range names {
		h.Write([]byte{0})
		h.Write([]byte(name))
		h.Write([]byte{'='})
		h.Write([]byte(args[name]))
	}
	return Key(op + ":" + hex.EncodeToString(h.Sum(nil))[:16])
}

// Fold normalizes a free-text argument for key derivation: trimmed and
// lowercased, so "Budget " and "budget" share an entry.
func Fold(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
