package session

import (
	"fmt"
	"strings"
)

// IndexVariable is the variable name carrying the target index binding.
const IndexVariable = "index"

// Definition is the stored configuration of a session.
// Settings is opaque to the session subsystem and interpreted only by executors.
type Definition struct {
	Collector Kind              `json:"collector"`
	Settings  map[string]any    `json:"settings"`
	Variables map[string]string `json:"variables"`
}

// Clone returns a deep copy of the definition.
func (d Definition) Clone() Definition {
	out := Definition{Collector: d.Collector}
	if d.Settings != nil {
		out.Settings = cloneMap(d.Settings)
	}
	if d.Variables != nil {
		out.Variables = make(map[string]string, len(d.Variables))
		for k, v := range d.Variables {
			out.Variables[k] = v
		}
	}
	return out
}

// BindIndex returns a copy of def with the index variable set to indexName.
// Any previous binding is replaced.
func BindIndex(def Definition, indexName string) Definition {
	out := def.Clone()
	if out.Variables == nil {
		out.Variables = make(map[string]string, 1)
	}
	out.Variables[IndexVariable] = indexName
	return out
}

// IndexOf extracts the index binding from a stored definition.
func IndexOf(def Definition) (string, bool) {
	if def.Variables == nil {
		return "", false
	}
	v, ok := def.Variables[IndexVariable]
	return v, ok
}

// WithCollector stamps the collector marker, overriding any caller-supplied value.
func WithCollector(def Definition, kind Kind) Definition {
	out := def.Clone()
	out.Collector = kind
	return out
}

// ValidateIndex rejects a blank index binding.
func ValidateIndex(indexName string) error {
	if strings.TrimSpace(indexName) == "" {
		return fmt.Errorf("%w: index is required", ErrValidation)
	}
	return nil
}

func cloneMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch typed := v.(type) {
	case map[string]any:
		return cloneMap(typed)
	case []any:
		out := make([]any, len(typed))
		for i := range typed {
			out[i] = cloneValue(typed[i])
		}
		return out
	case []string:
		out := make([]string, len(typed))
		copy(out, typed)
		return out
	case map[string]string:
		out := make(map[string]string, len(typed))
		for k, s := range typed {
			out[k] = s
		}
		return out
	default:
		return v
	}
}
