// Package props validates and normalizes component property bundles.
//
// A Schema lists every field a component accepts. Validate checks a raw
// property map against the schema and produces an immutable Bundle:
//
//	schema, _ := props.NewSchema("Counter",
//	    props.Required("title", props.TypeString),
//	    props.Optional("initial", props.TypeInt, 0).WithRange(-1000, 1000),
//	)
//	bundle, err := props.Validate(schema, map[string]any{"title": "Counter"})
//
// Unknown fields are rejected rather than ignored, and absent optional
// fields receive their declared default.
package props

import (
	"fmt"
	"strings"

	"github.com/go-orbit/orbit/pkg/errors"
)

// Type is the semantic type of a props field.
type Type int

const (
	// TypeAny accepts any value, including nil.
	TypeAny Type = iota
	// TypeString accepts string values.
	TypeString
	// TypeInt accepts integer values and integral floats; normalized to int.
	TypeInt
	// TypeFloat accepts any numeric value; normalized to float64.
	TypeFloat
	// TypeBool accepts bool values.
	TypeBool
	// TypeFunc accepts any non-nil function value (callback props).
	TypeFunc
	// TypeList accepts any slice or array; normalized to []any.
	TypeList
	// TypeMap accepts map[string]any values.
	TypeMap
)

func (t Type) String() string {
	switch t {
	case TypeString:
		return "string"
	case TypeInt:
		return "int"
	case TypeFloat:
		return "float"
	case TypeBool:
		return "bool"
	case TypeFunc:
		return "func"
	case TypeList:
		return "list"
	case TypeMap:
		return "map"
	default:
		return "any"
	}
}

// ParseType maps a type name (as written in component descriptors) to a Type.
func ParseType(name string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "any":
		return TypeAny, nil
	case "string", "str":
		return TypeString, nil
	case "int", "integer":
		return TypeInt, nil
	case "float", "number":
		return TypeFloat, nil
	case "bool", "boolean":
		return TypeBool, nil
	case "func", "callback":
		return TypeFunc, nil
	case "list", "array":
		return TypeList, nil
	case "map", "object":
		return TypeMap, nil
	default:
		return TypeAny, fmt.Errorf("unknown props type %q", name)
	}
}

// Field declares one property.
type Field struct {
	Name     string
	Type     Type
	Required bool
	// Default is substituted when an optional field is absent.
	// A nil Default leaves the field absent from the bundle.
	Default any
	// Min and Max bound numeric fields, and the length of strings and lists.
	Min *float64
	Max *float64
	// OneOf restricts the field to an enumeration of normalized values.
	OneOf []any
	Doc   string
}

// Required declares a field that must be present.
func Required(name string, typ Type) Field {
	return Field{Name: name, Type: typ, Required: true}
}

// Optional declares a field that may be absent; def is substituted when it is.
func Optional(name string, typ Type, def any) Field {
	return Field{Name: name, Type: typ, Default: def}
}

// WithRange returns a copy of f bounded to [min, max].
func (f Field) WithRange(min, max float64) Field {
	f.Min = &min
	f.Max = &max
	return f
}

// WithMin returns a copy of f with a lower bound only.
func (f Field) WithMin(min float64) Field {
	f.Min = &min
	return f
}

// WithMax returns a copy of f with an upper bound only.
func (f Field) WithMax(max float64) Field {
	f.Max = &max
	return f
}

// WithOneOf returns a copy of f restricted to values.
func (f Field) WithOneOf(values ...any) Field {
	f.OneOf = append([]any(nil), values...)
	return f
}

// WithDoc returns a copy of f with documentation attached.
func (f Field) WithDoc(doc string) Field {
	f.Doc = doc
	return f
}

// Schema is the ordered set of fields a component accepts.
type Schema struct {
	component string
	fields    []Field
	index     map[string]int
}

// NewSchema builds a schema for component. It rejects duplicate field names,
// required fields that declare a default, and defaults that violate their
// own field constraints.
func NewSchema(component string, fields ...Field) (*Schema, error) {
	s := &Schema{
		component: component,
		fields:    make([]Field, 0, len(fields)),
		index:     make(map[string]int, len(fields)),
	}
	for _, f := range fields {
		if f.Name == "" {
			return nil, schemaError(component, "", "field name is empty")
		}
		if _, dup := s.index[f.Name]; dup {
			return nil, schemaError(component, f.Name, "duplicate field")
		}
		if f.Required && f.Default != nil {
			return nil, schemaError(component, f.Name, "required field declares a default")
		}
		if len(f.OneOf) > 0 {
			options := make([]any, 0, len(f.OneOf))
			for _, opt := range f.OneOf {
				normalized, ok := normalize(f.Type, opt)
				if !ok {
					return nil, schemaError(component, f.Name, fmt.Sprintf("enumeration value %v is not a %s", opt, f.Type))
				}
				options = append(options, normalized)
			}
			f.OneOf = options
		}
		if f.Default != nil {
			normalized, err := checkField(component, f, f.Default)
			if err != nil {
				return nil, schemaError(component, f.Name, "default: "+err.Detail)
			}
			f.Default = normalized
		}
		s.index[f.Name] = len(s.fields)
		s.fields = append(s.fields, f)
	}
	return s, nil
}

// MustSchema is like NewSchema but panics on error. Intended for package-level
// component definitions.
func MustSchema(component string, fields ...Field) *Schema {
	s, err := NewSchema(component, fields...)
	if err != nil {
		panic(err)
	}
	return s
}

// Component returns the name of the component the schema belongs to.
func (s *Schema) Component() string {
	if s == nil {
		return ""
	}
	return s.component
}

// Fields returns a copy of the declared fields in declaration order.
func (s *Schema) Fields() []Field {
	if s == nil {
		return nil
	}
	return append([]Field(nil), s.fields...)
}

// Field looks up a declared field by name.
func (s *Schema) Field(name string) (Field, bool) {
	if s == nil {
		return Field{}, false
	}
	i, ok := s.index[name]
	if !ok {
		return Field{}, false
	}
	return s.fields[i], true
}

func schemaError(component, field, detail string) *errors.ValidationError {
	return &errors.ValidationError{
		Component:  component,
		Field:      field,
		Constraint: errors.ConstraintSchema,
		Detail:     detail,
	}
}
