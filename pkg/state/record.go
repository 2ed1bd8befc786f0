// Package state owns a component instance's mutable state record.
//
// A Container holds an immutable Record and exposes a single mutation entry
// point. Every mutation works on a private Draft and is swapped in whole, so
// readers never observe a partially applied change:
//
//	c := state.NewContainer(state.RecordOf(map[string]any{"count": 5}), notify)
//	changed, err := c.Update(func(d *state.Draft) error {
//	    d.Set("count", d.Int("count")+1)
//	    return nil
//	})
//
// The notify callback receives the sorted names of the fields that actually
// changed; mutations that change nothing are not reported.
package state

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// Record is an immutable snapshot of a state record.
type Record struct {
	fields map[string]any
}

// RecordOf builds a record from a copy of fields.
func RecordOf(fields map[string]any) Record {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return Record{fields: out}
}

// Get returns the value stored under name.
func (r Record) Get(name string) (any, bool) {
	v, ok := r.fields[name]
	return v, ok
}

// Int returns the int stored under name, or 0.
func (r Record) Int(name string) int {
	v, _ := r.fields[name].(int)
	return v
}

// String returns the string stored under name, or "".
func (r Record) String(name string) string {
	v, _ := r.fields[name].(string)
	return v
}

// Bool returns the bool stored under name, or false.
func (r Record) Bool(name string) bool {
	v, _ := r.fields[name].(bool)
	return v
}

// Float returns the float64 stored under name, or 0.
func (r Record) Float(name string) float64 {
	v, _ := r.fields[name].(float64)
	return v
}

// Len returns the number of fields.
func (r Record) Len() int {
	return len(r.fields)
}

// Names returns field names in sorted order.
func (r Record) Names() []string {
	names := make([]string, 0, len(r.fields))
	for k := range r.fields {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Map returns a copy of the record's fields.
func (r Record) Map() map[string]any {
	out := make(map[string]any, len(r.fields))
	for k, v := range r.fields {
		out[k] = v
	}
	return out
}

// With returns a new record with name set to value.
func (r Record) With(name string, value any) Record {
	out := r.Map()
	out[name] = value
	return Record{fields: out}
}

// Equal reports whether both records hold deeply equal fields.
func (r Record) Equal(other Record) bool {
	return len(Diff(r, other)) == 0
}

// GoString renders the record with sorted keys.
func (r Record) GoString() string {
	var sb strings.Builder
	sb.WriteString("{")
	for i, name := range r.Names() {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%s: %v", name, r.fields[name])
	}
	sb.WriteString("}")
	return sb.String()
}

// Diff returns the sorted names of fields that differ between a and b,
// including fields present in only one of them.
func Diff(a, b Record) []string {
	var changed []string
	for k, av := range a.fields {
		bv, ok := b.fields[k]
		if !ok || !reflect.DeepEqual(av, bv) {
			changed = append(changed, k)
		}
	}
	for k := range b.fields {
		if _, ok := a.fields[k]; !ok {
			changed = append(changed, k)
		}
	}
	sort.Strings(changed)
	return changed
}

// Patch is an explicit field-set mutation.
type Patch map[string]any

// Draft is the mutable working copy handed to a transformation.
type Draft struct {
	fields map[string]any
}

// Get returns the draft value stored under name.
func (d *Draft) Get(name string) (any, bool) {
	v, ok := d.fields[name]
	return v, ok
}

// Int returns the draft int stored under name, or 0.
func (d *Draft) Int(name string) int {
	v, _ := d.fields[name].(int)
	return v
}

// String returns the draft string stored under name, or "".
func (d *Draft) String(name string) string {
	v, _ := d.fields[name].(string)
	return v
}

// Bool returns the draft bool stored under name, or false.
func (d *Draft) Bool(name string) bool {
	v, _ := d.fields[name].(bool)
	return v
}

// Float returns the draft float64 stored under name, or 0.
func (d *Draft) Float(name string) float64 {
	v, _ := d.fields[name].(float64)
	return v
}

// Set stores value under name.
func (d *Draft) Set(name string, value any) {
	d.fields[name] = value
}

// Delete removes name from the draft.
func (d *Draft) Delete(name string) {
	delete(d.fields, name)
}
