package operation

import "fmt"

// StringParam extracts a required string parameter.
func (c *Context) StringParam(key string) (string, error) {
	v, ok := c.Parameters[key]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrMissingParameter, key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: %s must be a string", ErrInvalidParameter, key)
	}
	if s == "" {
		return "", fmt.Errorf("%w: %s cannot be empty", ErrInvalidParameter, key)
	}
	return s, nil
}

// OptionalString extracts an optional string parameter, returning def when
// absent.
func (c *Context) OptionalString(key, def string) string {
	if v, ok := c.Parameters[key]; ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return def
}

// OptionalInt extracts an optional integer parameter. JSON unmarshals
// numbers as float64, so both forms are accepted.
func (c *Context) OptionalInt(key string, def int) int {
	switch v := c.Parameters[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return def
	}
}

// StringSliceParam extracts an optional list of strings. JSON arrays arrive
// as []any; plain []string is accepted too.
func (c *Context) StringSliceParam(key string) []string {
	switch v := c.Parameters[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
