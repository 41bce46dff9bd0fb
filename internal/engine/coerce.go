package engine

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Declared value types for mapping fields and transformation rules.
const (
	TypeText    = "text"
	TypeNumber  = "number"
	TypeDate    = "date"
	TypeBoolean = "boolean"
	TypeObject  = "object"
	TypeArray   = "array"
	TypeAny     = "any"
)

var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ValidateValueType reports whether value is plausibly of the declared
// type. Nil values are accepted for every type.
func ValidateValueType(value any, declaredType string) bool {
	if value == nil {
		return true
	}
	switch declaredType {
	case TypeText:
		_, ok := value.(string)
		return ok
	case TypeNumber:
		switch value.(type) {
		case int, int32, int64, float32, float64:
			return true
		case string:
			_, err := strconv.ParseFloat(value.(string), 64)
			return err == nil
		}
		return false
	case TypeDate:
		switch v := value.(type) {
		case time.Time:
			return true
		case string:
			return parseDate(v) != nil
		}
		return false
	case TypeBoolean:
		switch v := value.(type) {
		case bool:
			return true
		case string:
			_, err := strconv.ParseBool(strings.ToLower(v))
			return err == nil
		}
		return false
	case TypeObject:
		_, ok := value.(map[string]any)
		return ok
	case TypeArray:
		_, ok := value.([]any)
		return ok
	case TypeAny, "":
		return true
	}
	return false
}

// ConvertToType best-effort coerces value to the declared type.
// Returns nil when the value cannot be converted.
func ConvertToType(value any, declaredType string) any {
	if value == nil {
		return nil
	}
	switch declaredType {
	case TypeText:
		return CoerceString(value)
	case TypeNumber:
		switch v := value.(type) {
		case int:
			return float64(v)
		case int32:
			return float64(v)
		case int64:
			return float64(v)
		case float32:
			return float64(v)
		case float64:
			return v
		case bool:
			if v {
				return float64(1)
			}
			return float64(0)
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
				return f
			}
		}
		return nil
	case TypeDate:
		switch v := value.(type) {
		case time.Time:
			return v
		case string:
			if t := parseDate(v); t != nil {
				return *t
			}
		}
		return nil
	case TypeBoolean:
		switch v := value.(type) {
		case bool:
			return v
		case int, int32, int64:
			return fmt.Sprintf("%v", v) != "0"
		case float64:
			return v != 0
		case string:
			if b, err := strconv.ParseBool(strings.ToLower(strings.TrimSpace(v))); err == nil {
				return b
			}
		}
		return nil
	case TypeObject:
		if m, ok := value.(map[string]any); ok {
			return m
		}
		return nil
	case TypeArray:
		if a, ok := value.([]any); ok {
			return a
		}
		return nil
	case TypeAny, "":
		return value
	}
	return nil
}

// CoerceString renders any scalar value the way it should appear in a
// text field. Floats with no fraction render without the trailing ".0".
func CoerceString(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		if v == float64(int64(v)) {
			return strconv.FormatInt(int64(v), 10)
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	case time.Time:
		return v.Format(time.RFC3339)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func parseDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}
