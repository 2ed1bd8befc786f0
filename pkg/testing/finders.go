package testing

import (
	"fmt"
	"reflect"

	"github.com/go-orbit/orbit/pkg/core"
)

// Finder locates instances among the live ones.
type Finder interface {
	// Evaluate returns the matching instances, preserving input order.
	Evaluate(instances []*core.Instance) []*core.Instance
	// Description returns a human-readable description for error messages.
	Description() string
}

// FinderResult wraps finder results with convenient accessors.
type FinderResult struct {
	instances []*core.Instance
	finder    Finder
}

func (r FinderResult) describe() string {
	if r.finder == nil {
		return "unknown"
	}
	return r.finder.Description()
}

// First returns the first match. Panics if no matches.
func (r FinderResult) First() *core.Instance {
	if len(r.instances) == 0 {
		panic(fmt.Sprintf("Finder found no instances: %s", r.describe()))
	}
	return r.instances[0]
}

// FirstOrNil returns the first match, or nil if none.
func (r FinderResult) FirstOrNil() *core.Instance {
	if len(r.instances) == 0 {
		return nil
	}
	return r.instances[0]
}

// At returns the match at index. Panics if out of range.
func (r FinderResult) At(index int) *core.Instance {
	if index < 0 || index >= len(r.instances) {
		panic(fmt.Sprintf("Finder index %d out of range (found %d): %s", index, len(r.instances), r.describe()))
	}
	return r.instances[index]
}

// All returns all matches in ID order.
func (r FinderResult) All() []*core.Instance {
	return r.instances
}

// IDs returns the IDs of all matches.
func (r FinderResult) IDs() []core.ID {
	ids := make([]core.ID, len(r.instances))
	for i, inst := range r.instances {
		ids[i] = inst.ID()
	}
	return ids
}

// Count returns the number of matches.
func (r FinderResult) Count() int {
	return len(r.instances)
}

// Exists returns true if at least one match was found.
func (r FinderResult) Exists() bool {
	return len(r.instances) > 0
}

// --- Concrete finders ---

type predicateFinder struct {
	fn   func(*core.Instance) bool
	desc string
}

func (f *predicateFinder) Evaluate(instances []*core.Instance) []*core.Instance {
	var out []*core.Instance
	for _, inst := range instances {
		if f.fn(inst) {
			out = append(out, inst)
		}
	}
	return out
}

func (f *predicateFinder) Description() string {
	return f.desc
}

// ByComponent matches instances of the named component.
func ByComponent(name string) Finder {
	return &predicateFinder{
		fn:   func(inst *core.Instance) bool { return inst.Component() == name },
		desc: fmt.Sprintf("ByComponent(%s)", name),
	}
}

// ByID matches the instance with the given ID.
func ByID(id core.ID) Finder {
	return &predicateFinder{
		fn:   func(inst *core.Instance) bool { return inst.ID() == id },
		desc: fmt.Sprintf("ByID(%s)", id),
	}
}

// ByState matches instances whose state field equals value.
func ByState(field string, value any) Finder {
	return &predicateFinder{
		fn: func(inst *core.Instance) bool {
			v, ok := inst.State().Get(field)
			return ok && reflect.DeepEqual(v, value)
		},
		desc: fmt.Sprintf("ByState(%s=%v)", field, value),
	}
}

// ByProp matches instances whose prop equals value.
func ByProp(name string, value any) Finder {
	return &predicateFinder{
		fn: func(inst *core.Instance) bool {
			v, ok := inst.Props().Get(name)
			return ok && reflect.DeepEqual(v, value)
		},
		desc: fmt.Sprintf("ByProp(%s=%v)", name, value),
	}
}

// ByPhase matches instances in the given lifecycle phase.
func ByPhase(phase core.Phase) Finder {
	return &predicateFinder{
		fn:   func(inst *core.Instance) bool { return inst.Phase() == phase },
		desc: fmt.Sprintf("ByPhase(%s)", phase),
	}
}

// ByPredicate returns a finder that matches instances satisfying fn.
func ByPredicate(fn func(*core.Instance) bool) Finder {
	return &predicateFinder{fn: fn, desc: "ByPredicate(...)"}
}

// descendantFinder finds instances matching 'matching' that are below an
// instance matching 'of'.
type descendantFinder struct {
	of       Finder
	matching Finder
}

func (f *descendantFinder) Evaluate(instances []*core.Instance) []*core.Instance {
	ancestors := f.of.Evaluate(instances)
	if len(ancestors) == 0 {
		return nil
	}
	byID := index(instances)
	roots := make(map[core.ID]bool, len(ancestors))
	for _, a := range ancestors {
		roots[a.ID()] = true
	}
	return (&predicateFinder{fn: func(inst *core.Instance) bool {
		for p := inst.Parent(); p != 0; {
			if roots[p] {
				return true
			}
			parent, ok := byID[p]
			if !ok {
				return false
			}
			p = parent.Parent()
		}
		return false
	}}).Evaluate(f.matching.Evaluate(instances))
}

func (f *descendantFinder) Description() string {
	return fmt.Sprintf("Descendant(of: %s, matching: %s)", f.of.Description(), f.matching.Description())
}

// Descendant returns a finder that matches instances satisfying 'matching'
// that are descendants of instances matching 'of'.
func Descendant(of, matching Finder) Finder {
	return &descendantFinder{of: of, matching: matching}
}

// ancestorFinder finds instances matching 'matching' that are above an
// instance matching 'of'.
type ancestorFinder struct {
	of       Finder
	matching Finder
}

func (f *ancestorFinder) Evaluate(instances []*core.Instance) []*core.Instance {
	descendants := f.of.Evaluate(instances)
	if len(descendants) == 0 {
		return nil
	}
	byID := index(instances)
	above := make(map[core.ID]bool)
	for _, d := range descendants {
		for p := d.Parent(); p != 0; {
			above[p] = true
			parent, ok := byID[p]
			if !ok {
				break
			}
			p = parent.Parent()
		}
	}
	return (&predicateFinder{fn: func(inst *core.Instance) bool {
		return above[inst.ID()]
	}}).Evaluate(f.matching.Evaluate(instances))
}

func (f *ancestorFinder) Description() string {
	return fmt.Sprintf("Ancestor(of: %s, matching: %s)", f.of.Description(), f.matching.Description())
}

// Ancestor returns a finder that matches instances satisfying 'matching'
// that are ancestors of instances matching 'of'.
func Ancestor(of, matching Finder) Finder {
	return &ancestorFinder{of: of, matching: matching}
}

func index(instances []*core.Instance) map[core.ID]*core.Instance {
	m := make(map[core.ID]*core.Instance, len(instances))
	for _, inst := range instances {
		m[inst.ID()] = inst
	}
	return m
}
