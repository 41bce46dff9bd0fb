package engine

import (
	"encoding/json"
	"fmt"
	"time"
)

// Helpers for reading the map rows returned by store.QueryRows. SQLite
// hands back INTEGER for booleans and TEXT for JSON; these normalize both
// engines to one shape.

// nullIfEmpty maps empty string references to NULL so optional UUID
// columns stay NULL on Postgres.
func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func rowString(row map[string]any, key string) string {
	v, ok := row[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	if t, ok := v.(time.Time); ok {
		return t.Format(time.RFC3339)
	}
	return fmt.Sprintf("%v", v)
}

func rowBool(row map[string]any, key string) bool {
	switch v := row[key].(type) {
	case bool:
		return v
	case int64:
		return v != 0
	case int:
		return v != 0
	case float64:
		return v != 0
	}
	return false
}

func rowInt(row map[string]any, key string) int {
	switch v := row[key].(type) {
	case int64:
		return int(v)
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}

func rowFloat(row map[string]any, key string) float64 {
	return toFloat(row[key])
}

func toFloat(v any) float64 {
	switch val := v.(type) {
	case float64:
		return val
	case float32:
		return float64(val)
	case int64:
		return float64(val)
	case int:
		return float64(val)
	}
	return 0
}

// rowJSONMap decodes a JSON object column that Postgres returns as []byte
// or string and SQLite returns as TEXT.
func rowJSONMap(row map[string]any, key string) map[string]any {
	v, ok := row[key]
	if !ok || v == nil {
		return map[string]any{}
	}
	switch val := v.(type) {
	case map[string]any:
		return val
	case string:
		var m map[string]any
		if err := json.Unmarshal([]byte(val), &m); err == nil && m != nil {
			return m
		}
	case []byte:
		var m map[string]any
		if err := json.Unmarshal(val, &m); err == nil && m != nil {
			return m
		}
	}
	return map[string]any{}
}
