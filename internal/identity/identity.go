// Package identity defines the function identity scheme shared by the
// coverage recording and commit analysis pipelines.
package identity

import (
	"fmt"
	"strconv"
	"strings"
)

// Identity names a function uniquely enough for coverage matching:
// the source path relative to the repository root, the canonical
// demangled signature, and the 1-based line of the definition.
// Identities are value types; a function that moves gets a new one.
type Identity struct {
	Path      string
	Signature string
	StartLine int
}

// Key returns the persisted map key "path:signature:start_line".
func (id Identity) Key() string {
	return fmt.Sprintf("%s:%s:%d", id.Path, id.Signature, id.StartLine)
}

// PathlessKey returns "path:signature", the lookup key that ignores the
// recorded start line.
func (id Identity) PathlessKey() string {
	return id.Path + ":" + id.Signature
}

// QualifiedName returns the qualified function name portion of the
// signature (everything before the parameter list).
func (id Identity) QualifiedName() string {
	if i := strings.Index(id.Signature, "("); i >= 0 {
		return id.Signature[:i]
	}
	return id.Signature
}

// ParseKey parses a persisted "path:signature:start_line" key. Signatures
// routinely contain colons (C++ scope operators), so the line is taken
// from the last colon-separated field and the path from the first.
func ParseKey(key string) (Identity, error) {
	lastColon := strings.LastIndex(key, ":")
	if lastColon < 0 {
		return Identity{}, fmt.Errorf("malformed identity key %q: missing separators", key)
	}

	line, err := strconv.Atoi(key[lastColon+1:])
	if err != nil || line < 0 {
		return Identity{}, fmt.Errorf("malformed identity key %q: trailing field is not a line number", key)
	}

	rest := key[:lastColon]
	firstColon := strings.Index(rest, ":")
	if firstColon <= 0 || firstColon == len(rest)-1 {
		return Identity{}, fmt.Errorf("malformed identity key %q: expected path:signature:line", key)
	}

	return Identity{
		Path:      rest[:firstColon],
		Signature: rest[firstColon+1:],
		StartLine: line,
	}, nil
}

// SplitPathless splits a "path:signature" key at the first colon.
func SplitPathless(key string) (path, signature string) {
	if i := strings.Index(key, ":"); i >= 0 {
		return key[:i], key[i+1:]
	}
	return "", key
}

// StripLineSuffix removes a trailing ":<digits>" from a key or signature,
// if present.
func StripLineSuffix(s string) string {
	if i := strings.LastIndex(s, ":"); i >= 0 {
		if _, err := strconv.Atoi(s[i+1:]); err == nil {
			return s[:i]
		}
	}
	return s
}
