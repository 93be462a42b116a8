// Package databag provides an immutable, key-ordered parameter map.
//
// A DataBag is threaded through validation chains (client registration rules,
// authorization parameters). Every mutation returns a new bag, so a step can
// never observe changes made by another step it did not receive output from.
package databag

import (
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// DataBag is an immutable map of parameters. The zero value is an empty bag.
type DataBag struct {
	values map[string]any
}

// New creates a DataBag holding a shallow copy of values.
func New(values map[string]any) DataBag {
	b := DataBag{values: make(map[string]any, len(values))}
	for k, v := range values {
		b.values[k] = v
	}
	return b
}

// FromURLValues creates a DataBag from form or query values.
// Only the first value of each key is kept, as OAuth2 parameters must not repeat.
func FromURLValues(values url.Values) DataBag {
	b := DataBag{values: make(map[string]any, len(values))}
	for k, v := range values {
		if len(v) > 0 {
			b.values[k] = v[0]
		}
	}
	return b
}

// Has reports whether key is present.
func (b DataBag) Has(key string) bool {
	_, ok := b.values[key]
	return ok
}

// Get returns the raw value stored under key.
func (b DataBag) Get(key string) (any, bool) {
	v, ok := b.values[key]
	return v, ok
}

// GetString returns the value under key as a string, or "" when absent
// or not representable as a string.
func (b DataBag) GetString(key string) string {
	v, ok := b.values[key]
	if !ok {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	case json.Number:
		return t.String()
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}

// GetStrings returns the value under key as a string slice.
// A space separated string is split into its fields.
func (b DataBag) GetStrings(key string) []string {
	v, ok := b.values[key]
	if !ok {
		return nil
	}
	switch t := v.(type) {
	case []string:
		out := make([]string, len(t))
		copy(out, t)
		return out
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		return strings.Fields(t)
	default:
		return nil
	}
}

// GetInt64 returns the value under key as an int64.
func (b DataBag) GetInt64(key string) (int64, bool) {
	v, ok := b.values[key]
	if !ok {
		return 0, false
	}
	switch t := v.(type) {
	case int:
		return int64(t), true
	case int64:
		return t, true
	case float64:
		return int64(t), true
	case json.Number:
		n, err := t.Int64()
		return n, err == nil
	case string:
		n, err := strconv.ParseInt(t, 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

// With returns a copy of the bag with key set to value.
func (b DataBag) With(key string, value any) DataBag {
	out := DataBag{values: make(map[string]any, len(b.values)+1)}
	for k, v := range b.values {
		out.values[k] = v
	}
	out.values[key] = value
	return out
}

// Without returns a copy of the bag with key removed.
func (b DataBag) Without(key string) DataBag {
	out := DataBag{values: make(map[string]any, len(b.values))}
	for k, v := range b.values {
		if k != key {
			out.values[k] = v
		}
	}
	return out
}

// Merge returns a copy of the bag overlaid with all values of other.
func (b DataBag) Merge(other DataBag) DataBag {
	out := New(b.values)
	for k, v := range other.values {
		out.values[k] = v
	}
	return out
}

// Keys returns the keys in lexical order.
func (b DataBag) Keys() []string {
	keys := make([]string, 0, len(b.values))
	for k := range b.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of parameters.
func (b DataBag) Len() int {
	return len(b.values)
}

// All returns a copy of the underlying map.
func (b DataBag) All() map[string]any {
	out := make(map[string]any, len(b.values))
	for k, v := range b.values {
		out[k] = v
	}
	return out
}

// Strings returns every parameter rendered as a string, dropping values
// that cannot be rendered.
func (b DataBag) Strings() map[string]string {
	out := make(map[string]string, len(b.values))
	for _, k := range b.Keys() {
		if s := b.GetString(k); s != "" {
			out[k] = s
		}
	}
	return out
}

// MarshalJSON implements json.Marshaler.
func (b DataBag) MarshalJSON() ([]byte, error) {
	if b.values == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(b.values)
}

// UnmarshalJSON implements json.Unmarshaler.
func (b *DataBag) UnmarshalJSON(data []byte) error {
	values := map[string]any{}
	if err := json.Unmarshal(data, &values); err != nil {
		return fmt.Errorf("failed to unmarshal data bag: %w", err)
	}
	b.values = values
	return nil
}
