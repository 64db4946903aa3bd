package docstore

import (
	"strings"
	"time"
)

// Aliases is an ordered list of field names for one logical field, highest
// priority first. Older documents used different names for the same value.
type Aliases []string

// Lookup returns the first non-nil value among the aliases.
func (a Aliases) Lookup(fields map[string]any) (any, string, bool) {
	for _, name := range a {
		if v, ok := fields[name]; ok && v != nil {
			return v, name, true
		}
	}
	return nil, "", false
}

// Timestamp resolves the first populated alias and normalizes it. An
// unparseable value in the winning field resolves to absent; lower-priority
// aliases are not consulted.
func (a Aliases) Timestamp(fields map[string]any) (time.Time, bool) {
	v, _, ok := a.Lookup(fields)
	if !ok {
		return time.Time{}, false
	}
	return Timestamp(v)
}

// String returns the first alias holding a non-blank string, trimmed.
func (a Aliases) String(fields map[string]any) string {
	for _, name := range a {
		if s, ok := fields[name].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}
