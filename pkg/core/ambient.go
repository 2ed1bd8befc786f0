package core

import (
	"fmt"
	"reflect"
)

// WithAmbient provides key=value to the mounted instance's subtree.
func WithAmbient(key, value any) MountOption {
	return func(c *mountConfig) {
		if c.ambient == nil {
			c.ambient = make(map[any]any)
		}
		c.ambient[key] = value
	}
}

// Provide replaces, or adds, the value inst provides for key. Every
// instance in the subtree that resolved key is marked dirty when the value
// changes.
func (r *Runtime) Provide(id ID, key, value any) error {
	inst, ok := r.live(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownInstance, id)
	}

	inst.mu.Lock()
	old, had := inst.provided[key]
	if inst.provided == nil {
		inst.provided = make(map[any]any)
	}
	inst.provided[key] = value
	inst.mu.Unlock()

	if had && reflect.DeepEqual(old, value) {
		return nil
	}
	for dep := range r.ambientDeps[key] {
		d, ok := r.live(dep)
		if !ok {
			delete(r.ambientDeps[key], dep)
			continue
		}
		if d.isDescendantOf(inst) {
			r.markDirty(d)
		}
	}
	return nil
}

// resolveAmbient finds key for inst and records inst as a dependent.
func (r *Runtime) resolveAmbient(inst *Instance, key any) (any, bool) {
	deps, ok := r.ambientDeps[key]
	if !ok {
		deps = make(map[ID]struct{})
		r.ambientDeps[key] = deps
	}
	deps[inst.id] = struct{}{}

	for cur := inst; cur != nil; cur = cur.parentInstance() {
		cur.mu.RLock()
		v, ok := cur.provided[key]
		cur.mu.RUnlock()
		if ok {
			return v, true
		}
	}
	return nil, false
}

func (r *Runtime) dropAmbientDependent(id ID) {
	for key, deps := range r.ambientDeps {
		delete(deps, id)
		if len(deps) == 0 {
			delete(r.ambientDeps, key)
		}
	}
}
