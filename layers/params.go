package layers

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
)

// Helper functions for parameter extraction.
// Parameters loaded from JSON arrive as json.Number or float64, parameters
// built in code arrive as native Go types; all of them are accepted.

// RequireIntParam returns an integer parameter that has no default.
func (ls LayerSpec) RequireIntParam(key string) (int, error) {
	v, ok := ls.Parameters[key]
	if !ok {
		return 0, fmt.Errorf("missing %s parameter", key)
	}
	return toInt(key, v)
}

// IntParam returns an integer parameter or defaultValue when absent.
func (ls LayerSpec) IntParam(key string, defaultValue int) (int, error) {
	v, ok := ls.Parameters[key]
	if !ok {
		return defaultValue, nil
	}
	return toInt(key, v)
}

// RequireFloatParam returns a float parameter that has no default.
func (ls LayerSpec) RequireFloatParam(key string) (float64, error) {
	v, ok := ls.Parameters[key]
	if !ok {
		return 0, fmt.Errorf("missing %s parameter", key)
	}
	return toFloat(key, v)
}

// FloatParam returns a float parameter or defaultValue when absent.
func (ls LayerSpec) FloatParam(key string, defaultValue float64) (float64, error) {
	v, ok := ls.Parameters[key]
	if !ok {
		return defaultValue, nil
	}
	return toFloat(key, v)
}

// StringParam returns a string parameter or defaultValue when absent.
func (ls LayerSpec) StringParam(key string, defaultValue string) (string, error) {
	v, ok := ls.Parameters[key]
	if !ok {
		return defaultValue, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("parameter %s must be a string, got %T", key, v)
	}
	return s, nil
}

func toInt(key string, v interface{}) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int32:
		return int(n), nil
	case int64:
		return int(n), nil
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, fmt.Errorf("parameter %s must be an integer, got %s", key, n.String())
		}
		return int(i), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("parameter %s must be an integer, got %v", key, n)
		}
		return int(n), nil
	default:
		return 0, fmt.Errorf("parameter %s must be an integer, got %T", key, v)
	}
}

func toFloat(key string, v interface{}) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, fmt.Errorf("parameter %s must be a number, got %s", key, n.String())
		}
		return f, nil
	default:
		return 0, fmt.Errorf("parameter %s must be a number, got %T", key, v)
	}
}

// FormatParams renders parameters as sorted key=value pairs.
func FormatParams(params map[string]interface{}) string {
	if len(params) == 0 {
		return "-"
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%v", k, params[k])
	}
	return strings.Join(parts, ", ")
}
