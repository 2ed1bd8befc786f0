// Package errors provides structured error handling for the Orbit runtime.
package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// ErrorKind identifies the category of an error.
type ErrorKind int

const (
	// KindUnknown indicates an error of unknown type.
	KindUnknown ErrorKind = iota
	// KindValidation indicates a props bundle that failed its schema.
	KindValidation
	// KindMutation indicates a state transformation that failed.
	KindMutation
	// KindHook indicates a lifecycle hook failure.
	KindHook
	// KindRender indicates a render bridge failure.
	KindRender
	// KindPanic indicates a recovered panic.
	KindPanic
	// KindDispatch indicates an event handler failure.
	KindDispatch
	// KindInit indicates a failure while creating initial state.
	KindInit
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindMutation:
		return "mutation"
	case KindHook:
		return "hook"
	case KindRender:
		return "render"
	case KindPanic:
		return "panic"
	case KindDispatch:
		return "dispatch"
	case KindInit:
		return "init"
	default:
		return "unknown"
	}
}

// OrbitError represents a structured error raised by the runtime.
type OrbitError struct {
	// Op is the operation that failed (e.g., "core.Mount").
	Op string
	// Kind categorizes the error.
	Kind ErrorKind
	// Instance is the component instance involved, zero if none.
	Instance uint64
	// Err is the underlying error.
	Err error
	// StackTrace contains the call stack at the time of the error.
	StackTrace string
	// Timestamp is when the error occurred.
	Timestamp time.Time
}

func (e *OrbitError) Error() string {
	if e.Instance != 0 {
		return fmt.Sprintf("%s [%s] instance=#%d: %v", e.Op, e.Kind, e.Instance, e.Err)
	}
	return fmt.Sprintf("%s [%s]: %v", e.Op, e.Kind, e.Err)
}

func (e *OrbitError) Unwrap() error {
	return e.Err
}

// PanicError represents a recovered panic.
type PanicError struct {
	// Op is the operation that panicked (e.g., "core.Dispatch").
	Op string
	// Value is the value passed to panic().
	Value any
	// StackTrace contains the call stack at the time of the panic.
	StackTrace string
	// Timestamp is when the panic occurred.
	Timestamp time.Time
}

func (e *PanicError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("panic in %s: %v", e.Op, e.Value)
	}
	return fmt.Sprintf("panic: %v", e.Value)
}

// Constraint names the rule a props field violated.
type Constraint string

const (
	ConstraintRequired Constraint = "required"
	ConstraintType     Constraint = "type"
	ConstraintRange    Constraint = "range"
	ConstraintEnum     Constraint = "enum"
	ConstraintUnknown  Constraint = "unknown"
	ConstraintSchema   Constraint = "schema"
)

// ValidationError reports a props bundle that does not satisfy its schema.
// It is fatal to the construction attempt, never to the process.
type ValidationError struct {
	// Component is the schema owner.
	Component string
	// Field is the offending field name.
	Field string
	// Constraint is the violated rule.
	Constraint Constraint
	// Value is the rejected value, nil for missing fields.
	Value any
	// Detail is a short human-readable explanation.
	Detail string
}

func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("invalid props for %s: field %q violates %s", e.Component, e.Field, e.Constraint)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// MutationError reports a state transformation that failed. The state is
// left unchanged and no dirty entry is created.
type MutationError struct {
	// Instance is the owning component instance, zero when not yet known.
	Instance uint64
	// Component is the component name.
	Component string
	// Err is the error returned by the transformation (nil for panics).
	Err error
	// Recovered is the panic value (nil for regular errors).
	Recovered any
}

func (e *MutationError) Error() string {
	target := "state"
	if e.Component != "" {
		target = fmt.Sprintf("%s#%d state", e.Component, e.Instance)
	}
	if e.Recovered != nil {
		return fmt.Sprintf("panic while mutating %s: %v", target, e.Recovered)
	}
	return fmt.Sprintf("mutating %s: %v", target, e.Err)
}

func (e *MutationError) Unwrap() error {
	return e.Err
}

// HookError represents a lifecycle hook that returned an error or panicked.
type HookError struct {
	// Instance is the component instance whose hook failed.
	Instance uint64
	// Component is the component name.
	Component string
	// Hook is the hook name ("mounted", "updated", "unmounted", "propsChanged").
	Hook string
	// Err is the returned error (nil for panics).
	Err error
	// Recovered is the panic value (nil for regular errors).
	Recovered any
	// StackTrace contains the call stack for panics.
	StackTrace string
	// Timestamp is when the failure occurred.
	Timestamp time.Time
}

func (e *HookError) Error() string {
	if e.Recovered != nil {
		return fmt.Sprintf("panic in %s#%d %s hook: %v", e.Component, e.Instance, e.Hook, e.Recovered)
	}
	if e.Err != nil {
		return fmt.Sprintf("error in %s#%d %s hook: %v", e.Component, e.Instance, e.Hook, e.Err)
	}
	return fmt.Sprintf("unknown error in %s#%d %s hook", e.Component, e.Instance, e.Hook)
}

func (e *HookError) Unwrap() error {
	return e.Err
}

// RenderError represents a render bridge failure. It never alters the
// lifecycle phase of the instance.
type RenderError struct {
	// Instance is the component instance that failed to render.
	Instance uint64
	// Component is the component name.
	Component string
	// Err is the bridge error (nil for panics).
	Err error
	// Recovered is the panic value (nil for regular errors).
	Recovered any
	// Timestamp is when the failure occurred.
	Timestamp time.Time
}

func (e *RenderError) Error() string {
	if e.Recovered != nil {
		return fmt.Sprintf("panic rendering %s#%d: %v", e.Component, e.Instance, e.Recovered)
	}
	return fmt.Sprintf("rendering %s#%d: %v", e.Component, e.Instance, e.Err)
}

func (e *RenderError) Unwrap() error {
	return e.Err
}

// ErrorHandler receives errors reported by the Orbit runtime.
type ErrorHandler interface {
	// HandleError is called when an error occurs.
	HandleError(err *OrbitError)
	// HandlePanic is called when a panic is recovered.
	HandlePanic(err *PanicError)
	// HandleHookError is called when a lifecycle hook fails.
	HandleHookError(err *HookError)
	// HandleRenderError is called when the render bridge fails.
	HandleRenderError(err *RenderError)
}

// New, Is, As and Join mirror the standard library so callers only need
// this package.

func New(text string) error { return stderrors.New(text) }

func Is(err, target error) bool { return stderrors.Is(err, target) }

func As(err error, target any) bool { return stderrors.As(err, target) }

func Join(errs ...error) error { return stderrors.Join(errs...) }
