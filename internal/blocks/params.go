package blocks

import (
	"fmt"
	"math"
)

// Params are block parameters as decoded from YAML or JSON.
type Params map[string]any

// Float returns the numeric parameter key, or def when absent.
func (p Params) Float(key string, def float64) (float64, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("%w: %s must be a number, got %T", ErrInvalidParams, key, v)
	}
}

// Bool returns the boolean parameter key, or def when absent.
func (p Params) Bool(key string, def bool) (bool, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return def, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("%w: %s must be a boolean, got %T", ErrInvalidParams, key, v)
	}
	return b, nil
}

// String returns the string parameter key, or def when absent.
func (p Params) String(key, def string) (string, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return def, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: %s must be a string, got %T", ErrInvalidParams, key, v)
	}
	return s, nil
}

// Strings returns a list parameter as strings. Numbers are formatted the
// way YAML writes them, so `[0, 2]` selects positional columns "0" and "2".
func (p Params) Strings(key string) ([]string, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return nil, nil
	}
	list, ok := v.([]any)
	if !ok {
		if ss, isStrings := v.([]string); isStrings {
			return append([]string(nil), ss...), nil
		}
		return nil, fmt.Errorf("%w: %s must be a list, got %T", ErrInvalidParams, key, v)
	}
	out := make([]string, 0, len(list))
	for i, item := range list {
		switch s := item.(type) {
		case string:
			out = append(out, s)
		case int:
			out = append(out, fmt.Sprint(s))
		case float64:
			if s != math.Trunc(s) {
				return nil, fmt.Errorf("%w: %s[%d] is not a column", ErrInvalidParams, key, i)
			}
			out = append(out, fmt.Sprint(int64(s)))
		default:
			return nil, fmt.Errorf("%w: %s[%d] must be a string or integer, got %T", ErrInvalidParams, key, i, item)
		}
	}
	return out, nil
}

// Has reports whether key is set.
func (p Params) Has(key string) bool {
	v, ok := p[key]
	return ok && v != nil
}
