// Package engine holds helpers shared by the session executors.
package engine

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/JakeFAU/crawl-session-manager/internal/session"
)

// Settings reads typed values out of a definition's free-form settings map.
// Values decoded from JSON arrive as float64, so numeric accessors accept any
// integral number type.
type Settings map[string]any

// String returns the trimmed string at key, or def when absent.
func (s Settings) String(key, def string) (string, error) {
	raw, ok := s[key]
	if !ok || raw == nil {
		return def, nil
	}
	v, ok := raw.(string)
	if !ok {
		return "", invalid(key, "a string", raw)
	}
	return strings.TrimSpace(v), nil
}

// RequiredString returns the string at key and fails when it is missing or blank.
func (s Settings) RequiredString(key string) (string, error) {
	v, err := s.String(key, "")
	if err != nil {
		return "", err
	}
	if v == "" {
		return "", fmt.Errorf("setting %q is required: %w", key, session.ErrValidation)
	}
	return v, nil
}

// Int returns the non-negative integer at key, or def when absent.
func (s Settings) Int(key string, def int) (int, error) {
	raw, ok := s[key]
	if !ok || raw == nil {
		return def, nil
	}
	var n float64
	switch v := raw.(type) {
	case int:
		n = float64(v)
	case int32:
		n = float64(v)
	case int64:
		n = float64(v)
	case float32:
		n = float64(v)
	case float64:
		n = v
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, invalid(key, "a number", raw)
		}
		n = f
	default:
		return 0, invalid(key, "a number", raw)
	}
	if n < 0 || n != math.Trunc(n) || n > math.MaxInt32 {
		return 0, invalid(key, "a non-negative integer", raw)
	}
	return int(n), nil
}

// Bool returns the boolean at key, or def when absent.
func (s Settings) Bool(key string, def bool) (bool, error) {
	raw, ok := s[key]
	if !ok || raw == nil {
		return def, nil
	}
	v, ok := raw.(bool)
	if !ok {
		return false, invalid(key, "a boolean", raw)
	}
	return v, nil
}

func invalid(key, want string, got any) error {
	return fmt.Errorf("setting %q must be %s, got %T: %w", key, want, got, session.ErrValidation)
}
