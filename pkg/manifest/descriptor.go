// Package manifest loads compiled component descriptors.
//
// A descriptor is the template compiler's output for one component: its
// props schema, initial state, declared interactions and their declarative
// handlers, and optional lifecycle actions. Descriptors are YAML documents:
//
//	component: Counter
//	version: 1.0.0
//	props:
//	  - {name: title, type: string, required: true}
//	  - {name: initial, type: int, default: 0}
//	state:
//	  - {name: count, prop: initial}
//	interactions:
//	  - name: increment
//	    actions:
//	      - {op: add, field: count, value: 1}
//	  - name: archive
//
// Compile turns a descriptor into a core.Definition. Declared interactions
// without actions are not bound, so dispatching them is a miss.
package manifest

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Descriptor is one compiled component.
type Descriptor struct {
	Component    string        `yaml:"component"`
	Version      string        `yaml:"version,omitempty"`
	Description  string        `yaml:"description,omitempty"`
	Props        []PropSpec    `yaml:"props,omitempty"`
	State        []StateSpec   `yaml:"state,omitempty"`
	Interactions []Interaction `yaml:"interactions,omitempty"`
	Hooks        Hooks         `yaml:"hooks,omitempty"`
}

// PropSpec declares one prop.
type PropSpec struct {
	Name     string   `yaml:"name"`
	Type     string   `yaml:"type"`
	Required bool     `yaml:"required,omitempty"`
	Default  any      `yaml:"default,omitempty"`
	Min      *float64 `yaml:"min,omitempty"`
	Max      *float64 `yaml:"max,omitempty"`
	OneOf    []any    `yaml:"oneOf,omitempty"`
	Doc      string   `yaml:"doc,omitempty"`
}

// StateSpec declares one initial state field. The value is either a
// literal or copied from a prop.
type StateSpec struct {
	Name  string `yaml:"name"`
	Value any    `yaml:"value,omitempty"`
	Prop  string `yaml:"prop,omitempty"`
}

// Interaction declares an interaction and the actions its handler runs.
type Interaction struct {
	Name    string   `yaml:"name"`
	Actions []Action `yaml:"actions,omitempty"`
}

// Hooks lists actions run by lifecycle hooks.
type Hooks struct {
	Mounted   []Action `yaml:"mounted,omitempty"`
	Updated   []Action `yaml:"updated,omitempty"`
	Unmounted []Action `yaml:"unmounted,omitempty"`
}

// Action is one declarative step.
//
//	set     field = value | prop | ambient | payload
//	add     field += value | payload (numeric)
//	toggle  field = !field
//	delete  remove field
//	call    invoke callback prop with field | value | payload
//	log     emit message; {name} is replaced by state field name
type Action struct {
	Op      string `yaml:"op"`
	Field   string `yaml:"field,omitempty"`
	Value   any    `yaml:"value,omitempty"`
	Prop    string `yaml:"prop,omitempty"`
	Ambient string `yaml:"ambient,omitempty"`
	Payload bool   `yaml:"payload,omitempty"`
	Message string `yaml:"message,omitempty"`
}

// Parse decodes a descriptor. Unknown keys are rejected.
func Parse(data []byte) (*Descriptor, error) {
	return Decode(bytes.NewReader(data))
}

// Decode reads a descriptor from r. Unknown keys are rejected.
func Decode(r io.Reader) (*Descriptor, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var d Descriptor
	if err := dec.Decode(&d); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("empty descriptor")
		}
		return nil, fmt.Errorf("failed to parse descriptor: %w", err)
	}
	if d.Component == "" {
		return nil, fmt.Errorf("descriptor has no component name")
	}
	return &d, nil
}

// Load reads and parses the descriptor at path.
func Load(path string) (*Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	d, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return d, nil
}

// Marshal encodes d as YAML.
func (d *Descriptor) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(d); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
