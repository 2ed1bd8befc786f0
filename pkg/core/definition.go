package core

import (
	"fmt"
	"reflect"

	"github.com/go-orbit/orbit/pkg/errors"
	"github.com/go-orbit/orbit/pkg/props"
	"github.com/go-orbit/orbit/pkg/state"
)

// Hook names as reported in events and hook errors.
const (
	HookMounted      = "mounted"
	HookUpdated      = "updated"
	HookUnmounted    = "unmounted"
	HookPropsChanged = "propsChanged"
)

// ErrInvalidDefinition is wrapped by every error returned from
// Definition.Validate.
var ErrInvalidDefinition = errors.New("invalid component definition")

// Hook is a lifecycle callback. A returned error or a panic is reported as
// a *errors.HookError.
type Hook func(ctx *Context) error

// PropsHook runs when a flush replaces an instance's props. old is the
// bundle being replaced; ctx.Props() already returns the new one.
type PropsHook func(ctx *Context, old props.Bundle) error

// Handler handles one interaction event delivered to an instance.
type Handler func(ctx *Context, payload any) error

// Definition describes a component: what it accepts, what it keeps, and how
// it reacts. It is what a compiled template hands to the runtime. A
// Definition must not be modified after the first Mount.
//
//	counter := &core.Definition{
//	    Name:         "Counter",
//	    Schema:       schema,
//	    Interactions: []string{"increment"},
//	    Init: func(p props.Bundle) (map[string]any, error) {
//	        return map[string]any{"count": p.Int("initial")}, nil
//	    },
//	    Handlers: map[string]core.Handler{
//	        "increment": func(ctx *core.Context, _ any) error {
//	            return core.FieldOf[int](ctx, "count").Update(func(n int) int { return n + 1 })
//	        },
//	    },
//	}
type Definition struct {
	// Name identifies the component in errors, events and render targets.
	Name string
	// Schema validates props at construction and on SetProps. A nil schema
	// accepts only empty props.
	Schema *props.Schema
	// Interactions lists the interaction names the template declares.
	// Only declared interactions with a handler are bound.
	Interactions []string
	// Init builds the initial state record from validated props.
	Init func(p props.Bundle) (map[string]any, error)
	// Handlers maps interaction names to handlers.
	Handlers map[string]Handler

	Mounted      Hook
	Updated      Hook
	Unmounted    Hook
	PropsChanged PropsHook

	// Derive computes read-only values handed to the render bridge next to
	// props and state.
	Derive func(p props.Bundle, s state.Record) map[string]any

	// Memo keys a props bundle. SetProps with a bundle whose key matches the
	// current one is dropped without an update cycle. When nil, bundles are
	// compared value by value, so function props always count as changed.
	Memo func(p props.Bundle) any
}

// sameProps reports whether replacing a with b can be skipped.
func (d *Definition) sameProps(a, b props.Bundle) bool {
	if d.Memo != nil {
		return reflect.DeepEqual(d.Memo(a), d.Memo(b))
	}
	return a.Equal(b)
}

// Validate checks the definition's internal consistency.
func (d *Definition) Validate() error {
	if d == nil {
		return fmt.Errorf("%w: nil definition", ErrInvalidDefinition)
	}
	if d.Name == "" {
		return fmt.Errorf("%w: missing name", ErrInvalidDefinition)
	}
	if d.Schema != nil && d.Schema.Component() != d.Name {
		return fmt.Errorf("%w: %s uses the schema of %s", ErrInvalidDefinition, d.Name, d.Schema.Component())
	}
	declared := make(map[string]bool, len(d.Interactions))
	for _, name := range d.Interactions {
		if name == "" {
			return fmt.Errorf("%w: %s declares an empty interaction name", ErrInvalidDefinition, d.Name)
		}
		if declared[name] {
			return fmt.Errorf("%w: %s declares interaction %q twice", ErrInvalidDefinition, d.Name, name)
		}
		declared[name] = true
	}
	for name, h := range d.Handlers {
		if !declared[name] {
			return fmt.Errorf("%w: %s has a handler for undeclared interaction %q", ErrInvalidDefinition, d.Name, name)
		}
		if h == nil {
			return fmt.Errorf("%w: %s has a nil handler for %q", ErrInvalidDefinition, d.Name, name)
		}
	}
	return nil
}
