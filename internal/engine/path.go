package engine

import "strings"

// GetByPath resolves a dot-notation path ("custom_fields.plan.tier")
// against a record of nested maps. Returns the value and whether every
// segment resolved.
func GetByPath(record map[string]any, path string) (any, bool) {
	if path == "" {
		return nil, false
	}
	segments := strings.Split(path, ".")
	var current any = record
	for _, seg := range segments {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// SetByPath writes a value at a dot-notation path, creating intermediate
// maps as needed. Existing non-map intermediates are replaced.
func SetByPath(record map[string]any, path string, value any) {
	if path == "" {
		return
	}
	segments := strings.Split(path, ".")
	current := record
	for _, seg := range segments[:len(segments)-1] {
		next, ok := current[seg].(map[string]any)
		if !ok {
			next = make(map[string]any)
			current[seg] = next
		}
		current = next
	}
	current[segments[len(segments)-1]] = value
}
