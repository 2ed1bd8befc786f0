package props

import (
	"fmt"
	"math"
	"reflect"
	"slices"
	"sort"

	"github.com/go-orbit/orbit/pkg/errors"
)

// Validate checks raw against schema and returns the normalized bundle.
//
// Fields are checked in declaration order, then unknown keys in sorted
// order; the first violation is returned as *errors.ValidationError. A nil
// schema accepts only an empty bundle. raw is neither modified nor retained.
func Validate(schema *Schema, raw map[string]any) (Bundle, error) {
	values := make(map[string]any, len(raw))

	for _, f := range schema.Fields() {
		v, present := raw[f.Name]
		if !present || v == nil && f.Type != TypeAny {
			if f.Required {
				return Bundle{}, &errors.ValidationError{
					Component:  schema.Component(),
					Field:      f.Name,
					Constraint: errors.ConstraintRequired,
					Detail:     "field is missing",
				}
			}
			if f.Default != nil {
				values[f.Name] = copyValue(f.Default)
			}
			continue
		}
		normalized, verr := checkField(schema.Component(), f, v)
		if verr != nil {
			return Bundle{}, verr
		}
		values[f.Name] = normalized
	}

	var unknown []string
	for name := range raw {
		if _, ok := schema.Field(name); !ok {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return Bundle{}, &errors.ValidationError{
			Component:  schema.Component(),
			Field:      unknown[0],
			Constraint: errors.ConstraintUnknown,
			Value:      raw[unknown[0]],
			Detail:     "field is not declared",
		}
	}

	return newBundle(values), nil
}

// checkField normalizes v for f and enforces range and enumeration rules.
func checkField(component string, f Field, v any) (any, *errors.ValidationError) {
	normalized, ok := normalize(f.Type, v)
	if !ok {
		return nil, &errors.ValidationError{
			Component:  component,
			Field:      f.Name,
			Constraint: errors.ConstraintType,
			Value:      v,
			Detail:     fmt.Sprintf("expected %s, got %T", f.Type, v),
		}
	}

	if f.Min != nil || f.Max != nil {
		if magnitude, measurable := measure(normalized); measurable {
			if f.Min != nil && magnitude < *f.Min {
				return nil, rangeError(component, f, v, fmt.Sprintf("%v is below minimum %v", magnitude, *f.Min))
			}
			if f.Max != nil && magnitude > *f.Max {
				return nil, rangeError(component, f, v, fmt.Sprintf("%v is above maximum %v", magnitude, *f.Max))
			}
		}
	}

	if len(f.OneOf) > 0 && !slices.ContainsFunc(f.OneOf, func(opt any) bool {
		return reflect.DeepEqual(opt, normalized)
	}) {
		return nil, &errors.ValidationError{
			Component:  component,
			Field:      f.Name,
			Constraint: errors.ConstraintEnum,
			Value:      v,
			Detail:     fmt.Sprintf("%v is not one of %v", v, f.OneOf),
		}
	}

	return normalized, nil
}

func rangeError(component string, f Field, v any, detail string) *errors.ValidationError {
	return &errors.ValidationError{
		Component:  component,
		Field:      f.Name,
		Constraint: errors.ConstraintRange,
		Value:      v,
		Detail:     detail,
	}
}

// normalize converts v to the canonical Go representation of typ.
func normalize(typ Type, v any) (any, bool) {
	switch typ {
	case TypeAny:
		return v, true
	case TypeString:
		s, ok := v.(string)
		return s, ok
	case TypeBool:
		b, ok := v.(bool)
		return b, ok
	case TypeInt:
		return toInt(v)
	case TypeFloat:
		return toFloat(v)
	case TypeFunc:
		if v == nil {
			return nil, false
		}
		rv := reflect.ValueOf(v)
		if rv.Kind() != reflect.Func || rv.IsNil() {
			return nil, false
		}
		return v, true
	case TypeList:
		rv := reflect.ValueOf(v)
		if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
			return nil, false
		}
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = rv.Index(i).Interface()
		}
		return out, true
	case TypeMap:
		m, ok := v.(map[string]any)
		if !ok {
			return nil, false
		}
		out := make(map[string]any, len(m))
		for k, val := range m {
			out[k] = val
		}
		return out, true
	}
	return nil, false
}

func toInt(v any) (any, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int8:
		return int(n), true
	case int16:
		return int(n), true
	case int32:
		return int(n), true
	case int64:
		if n > math.MaxInt || n < math.MinInt {
			return nil, false
		}
		return int(n), true
	case uint:
		if uint64(n) > math.MaxInt {
			return nil, false
		}
		return int(n), true
	case uint8:
		return int(n), true
	case uint16:
		return int(n), true
	case uint32:
		return int(n), true
	case uint64:
		if n > math.MaxInt {
			return nil, false
		}
		return int(n), true
	case float32:
		return integral(float64(n))
	case float64:
		return integral(n)
	}
	return nil, false
}

func integral(f float64) (any, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return nil, false
	}
	// float64(math.MaxInt64) rounds up to 2^63, which does not fit.
	if f >= math.MaxInt64 || f < math.MinInt64 {
		return nil, false
	}
	return int(f), true
}

func toFloat(v any) (any, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	}
	if i, ok := toInt(v); ok {
		return float64(i.(int)), true
	}
	return nil, false
}

// measure returns the value compared against Min/Max: the number itself, or
// the length of strings and lists.
func measure(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case float64:
		return n, true
	case string:
		return float64(len([]rune(n))), true
	case []any:
		return float64(len(n)), true
	}
	return 0, false
}
