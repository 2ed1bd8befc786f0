package props

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// Bundle is an immutable, validated set of props. The zero Bundle is empty.
// Bundles are only produced by Validate and are replaced wholesale, never
// edited field by field.
type Bundle struct {
	values map[string]any
}

func newBundle(values map[string]any) Bundle {
	return Bundle{values: values}
}

// Get returns the value of name and whether it is present.
func (b Bundle) Get(name string) (any, bool) {
	v, ok := b.values[name]
	if !ok {
		return nil, false
	}
	return copyValue(v), true
}

// Has reports whether name is present.
func (b Bundle) Has(name string) bool {
	_, ok := b.values[name]
	return ok
}

// String returns the string value of name, or "" when absent or not a string.
func (b Bundle) String(name string) string {
	s, _ := b.values[name].(string)
	return s
}

// Int returns the int value of name, or 0 when absent or not an int.
func (b Bundle) Int(name string) int {
	i, _ := b.values[name].(int)
	return i
}

// Float returns the float value of name, or 0 when absent or not a float.
func (b Bundle) Float(name string) float64 {
	f, _ := b.values[name].(float64)
	return f
}

// Bool returns the bool value of name, or false when absent or not a bool.
func (b Bundle) Bool(name string) bool {
	v, _ := b.values[name].(bool)
	return v
}

// Func returns the callback stored under name, or nil.
func (b Bundle) Func(name string) any {
	v := b.values[name]
	if v == nil || reflect.ValueOf(v).Kind() != reflect.Func {
		return nil
	}
	return v
}

// Len returns the number of present fields.
func (b Bundle) Len() int {
	return len(b.values)
}

// Names returns the present field names in sorted order.
func (b Bundle) Names() []string {
	names := make([]string, 0, len(b.values))
	for name := range b.values {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Map returns a copy of the bundle contents.
func (b Bundle) Map() map[string]any {
	out := make(map[string]any, len(b.values))
	for k, v := range b.values {
		out[k] = copyValue(v)
	}
	return out
}

// Equal reports whether two bundles hold the same values. Function values
// compare equal only when both are nil, so bundles carrying callbacks are
// never equal to a replacement.
func (b Bundle) Equal(other Bundle) bool {
	if len(b.values) != len(other.values) {
		return false
	}
	for k, v := range b.values {
		ov, ok := other.values[k]
		if !ok || !reflect.DeepEqual(v, ov) {
			return false
		}
	}
	return true
}

// GoString renders the bundle with sorted keys, omitting function values.
func (b Bundle) GoString() string {
	var sb strings.Builder
	sb.WriteString("{")
	for i, name := range b.Names() {
		if i > 0 {
			sb.WriteString(", ")
		}
		v := b.values[name]
		if v != nil && reflect.ValueOf(v).Kind() == reflect.Func {
			fmt.Fprintf(&sb, "%s: <func>", name)
			continue
		}
		fmt.Fprintf(&sb, "%s: %v", name, v)
	}
	sb.WriteString("}")
	return sb.String()
}

// copyValue shallow-copies the container types Validate produces so callers
// cannot reach into the bundle.
func copyValue(v any) any {
	switch t := v.(type) {
	case []any:
		return append([]any(nil), t...)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = val
		}
		return out
	}
	return v
}
