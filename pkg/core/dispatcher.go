package core

import (
	"slices"
	"time"

	"github.com/go-orbit/orbit/pkg/errors"
)

// Outcome is the result of dispatching an interaction.
type Outcome int

const (
	// DispatchMiss means no binding exists for the interaction. It is not an
	// error: unbound interactions, such as a disabled button, are expected.
	DispatchMiss Outcome = iota
	// OutcomeHandled means a bound handler ran.
	OutcomeHandled
)

func (o Outcome) String() string {
	if o == OutcomeHandled {
		return "handled"
	}
	return "miss"
}

// Binding relates an instance's interaction to its handler. Bindings are
// created when the instance mounts and released when it unmounts.
type Binding struct {
	Instance    ID
	Interaction string
	Handler     Handler
}

// EventDispatcher routes interaction events to bound handlers.
type EventDispatcher struct {
	bindings map[ID]map[string]Binding
}

// NewEventDispatcher creates an empty EventDispatcher.
func NewEventDispatcher() *EventDispatcher {
	return &EventDispatcher{bindings: make(map[ID]map[string]Binding)}
}

// Bind registers b, replacing any binding for the same pair.
func (d *EventDispatcher) Bind(b Binding) {
	m, ok := d.bindings[b.Instance]
	if !ok {
		m = make(map[string]Binding)
		d.bindings[b.Instance] = m
	}
	m[b.Interaction] = b
}

// bindDeclared binds every declared interaction of inst that has a handler.
func (d *EventDispatcher) bindDeclared(inst *Instance) {
	for _, name := range inst.def.Interactions {
		if h, ok := inst.def.Handlers[name]; ok && h != nil {
			d.Bind(Binding{Instance: inst.id, Interaction: name, Handler: h})
		}
	}
}

// Lookup returns the binding for (id, interaction).
func (d *EventDispatcher) Lookup(id ID, interaction string) (Binding, bool) {
	b, ok := d.bindings[id][interaction]
	return b, ok
}

// Bindings returns the bindings of id sorted by interaction name.
func (d *EventDispatcher) Bindings(id ID) []Binding {
	m := d.bindings[id]
	out := make([]Binding, 0, len(m))
	for _, b := range m {
		out = append(out, b)
	}
	slices.SortFunc(out, func(a, b Binding) int {
		switch {
		case a.Interaction < b.Interaction:
			return -1
		case a.Interaction > b.Interaction:
			return 1
		}
		return 0
	})
	return out
}

// Release drops every binding of id and returns how many there were.
func (d *EventDispatcher) Release(id ID) int {
	n := len(d.bindings[id])
	delete(d.bindings, id)
	return n
}

// Dispatch invokes the handler bound to (inst, interaction) with payload.
// Without a binding it returns DispatchMiss and does nothing. A handler
// error is returned wrapped in *errors.OrbitError; a handler panic is
// returned as *errors.PanicError.
func (d *EventDispatcher) Dispatch(inst *Instance, interaction string, payload any) (Outcome, error) {
	b, ok := d.Lookup(inst.id, interaction)
	if !ok {
		return DispatchMiss, nil
	}

	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = &errors.PanicError{
					Op:         "core.Dispatch",
					Value:      r,
					StackTrace: errors.CaptureStack(),
					Timestamp:  time.Now(),
				}
			}
		}()
		if herr := b.Handler(newContext(inst), payload); herr != nil {
			err = &errors.OrbitError{
				Op:        "core.Dispatch",
				Kind:      errors.KindDispatch,
				Instance:  uint64(inst.id),
				Err:       herr,
				Timestamp: time.Now(),
			}
		}
	}()
	return OutcomeHandled, err
}
