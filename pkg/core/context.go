package core

import (
	"fmt"

	"github.com/go-orbit/orbit/pkg/props"
	"github.com/go-orbit/orbit/pkg/state"
)

// Context is handed to hooks and handlers. It is only valid for the duration
// of the callback it was passed to.
type Context struct {
	inst *Instance
}

func newContext(inst *Instance) *Context {
	return &Context{inst: inst}
}

// ID returns the instance identity.
func (c *Context) ID() ID { return c.inst.id }

// Component returns the component name.
func (c *Context) Component() string { return c.inst.def.Name }

// Phase returns the instance's current phase.
func (c *Context) Phase() Phase { return c.inst.Phase() }

// Props returns the instance's current props.
func (c *Context) Props() props.Bundle { return c.inst.Props() }

// State returns a snapshot of the instance's state.
func (c *Context) State() state.Record { return c.inst.State() }

// Mutate applies fn to the instance's state. A mutation that changes at
// least one field marks the instance dirty for the next flush.
func (c *Context) Mutate(fn func(d *state.Draft) error) error {
	_, err := c.inst.rt.mutate(c.inst, fn)
	return err
}

// Patch sets the given state fields.
func (c *Context) Patch(p state.Patch) error {
	_, err := c.inst.rt.patch(c.inst, p)
	return err
}

// Ambient resolves key against the instance and its ancestors, nearest
// provider first. The instance is updated whenever the resolved provider
// changes the value.
func (c *Context) Ambient(key any) (any, bool) {
	return c.inst.rt.resolveAmbient(c.inst, key)
}

// Log emits a log event to the runtime's observer.
func (c *Context) Log(format string, args ...any) {
	c.inst.rt.emit(Event{
		Kind:      EventLog,
		Instance:  c.inst.id,
		Component: c.inst.def.Name,
		Tick:      c.inst.rt.scheduler.Tick(),
		Message:   fmt.Sprintf(format, args...),
	})
}

// OnUnmount registers cleanup to run after the unmounted hook. Cleanups run
// in reverse registration order. It returns a function that unregisters
// cleanup. If the instance is already unmounted, cleanup runs immediately.
func (c *Context) OnUnmount(cleanup func()) func() {
	return c.inst.onUnmount(cleanup)
}
