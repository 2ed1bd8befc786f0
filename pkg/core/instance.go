package core

import (
	"sync"

	"github.com/go-orbit/orbit/pkg/props"
	"github.com/go-orbit/orbit/pkg/render"
	"github.com/go-orbit/orbit/pkg/state"
)

// Instance is a live occurrence of a component. It exclusively owns its
// props bundle and state record. Instances are created by Runtime.Mount.
//
// The accessors are safe to call from any goroutine; everything else about
// an instance is driven from the runtime goroutine.
type Instance struct {
	id  ID
	def *Definition
	rt  *Runtime

	state *state.Container

	mu       sync.RWMutex
	phase    Phase
	props    props.Bundle
	pending  *props.Bundle
	parent   *Instance
	children []*Instance
	provided map[any]any
	output   render.Output
	renders  int

	disposers []func()
}

// ID returns the instance identity.
func (i *Instance) ID() ID { return i.id }

// Component returns the component name.
func (i *Instance) Component() string { return i.def.Name }

// Definition returns the component definition.
func (i *Instance) Definition() *Definition { return i.def }

// Phase returns the current lifecycle phase.
func (i *Instance) Phase() Phase {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.phase
}

// Props returns the current props bundle. A replacement set with
// Runtime.SetProps is not visible until the next flush applies it.
func (i *Instance) Props() props.Bundle {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.props
}

// State returns a snapshot of the state record. After unmount it is empty.
func (i *Instance) State() state.Record {
	return i.state.Snapshot()
}

// Parent returns the parent's ID, or zero for a root instance.
func (i *Instance) Parent() ID {
	i.mu.RLock()
	defer i.mu.RUnlock()
	if i.parent == nil {
		return 0
	}
	return i.parent.id
}

// Children returns the IDs of the live children in construction order.
func (i *Instance) Children() []ID {
	i.mu.RLock()
	defer i.mu.RUnlock()
	ids := make([]ID, len(i.children))
	for n, c := range i.children {
		ids[n] = c.id
	}
	return ids
}

// Output returns the last rendered output.
func (i *Instance) Output() render.Output {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.output
}

// Renders returns how many times the bridge rendered this instance
// successfully.
func (i *Instance) Renders() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.renders
}

// InstanceInfo is a serializable description of an instance.
type InstanceInfo struct {
	ID        ID             `json:"id"`
	Component string         `json:"component"`
	Phase     string         `json:"phase"`
	Parent    ID             `json:"parent,omitempty"`
	Children  []ID           `json:"children,omitempty"`
	Props     map[string]any `json:"props"`
	State     map[string]any `json:"state"`
	Renders   int            `json:"renders"`
}

// Info describes the instance. Callback props are omitted.
func (i *Instance) Info() InstanceInfo {
	p := i.Props()
	propMap := make(map[string]any, p.Len())
	for _, name := range p.Names() {
		if p.Func(name) != nil {
			continue
		}
		v, _ := p.Get(name)
		propMap[name] = v
	}
	return InstanceInfo{
		ID:        i.id,
		Component: i.def.Name,
		Phase:     i.Phase().String(),
		Parent:    i.Parent(),
		Children:  i.Children(),
		Props:     propMap,
		State:     i.State().Map(),
		Renders:   i.Renders(),
	}
}

func (i *Instance) setPending(b props.Bundle) {
	i.mu.Lock()
	i.pending = &b
	i.mu.Unlock()
}

func (i *Instance) clearPending() {
	i.mu.Lock()
	i.pending = nil
	i.mu.Unlock()
}

// applyPending swaps in the pending bundle, returning the replaced one.
func (i *Instance) applyPending() (old props.Bundle, applied bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.pending == nil {
		return props.Bundle{}, false
	}
	old = i.props
	i.props = *i.pending
	i.pending = nil
	return old, true
}

func (i *Instance) setOutput(out render.Output) {
	i.mu.Lock()
	i.output = out
	i.renders++
	i.mu.Unlock()
}

func (i *Instance) addChild(c *Instance) {
	i.mu.Lock()
	i.children = append(i.children, c)
	i.mu.Unlock()
}

func (i *Instance) removeChild(c *Instance) {
	i.mu.Lock()
	defer i.mu.Unlock()
	for n, child := range i.children {
		if child == c {
			i.children = append(i.children[:n], i.children[n+1:]...)
			return
		}
	}
}

func (i *Instance) childList() []*Instance {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return append([]*Instance(nil), i.children...)
}

func (i *Instance) parentInstance() *Instance {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.parent
}

// isDescendantOf reports whether i is a or lies below a.
func (i *Instance) isDescendantOf(a *Instance) bool {
	for cur := i; cur != nil; cur = cur.parentInstance() {
		if cur == a {
			return true
		}
	}
	return false
}

// onUnmount registers cleanup to run after the unmounted hook. It returns a
// function that unregisters it.
func (i *Instance) onUnmount(cleanup func()) func() {
	if cleanup == nil {
		return func() {}
	}
	if !i.Phase().Live() {
		cleanup()
		return func() {}
	}
	index := len(i.disposers)
	i.disposers = append(i.disposers, cleanup)
	return func() {
		if index < len(i.disposers) {
			i.disposers[index] = nil
		}
	}
}
