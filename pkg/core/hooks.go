package core

import "github.com/go-orbit/orbit/pkg/state"

// Disposable is implemented by resources that need cleanup on unmount.
type Disposable interface {
	Dispose()
}

// Use creates a resource and registers it for disposal when the instance
// unmounts.
//
// Example:
//
//	Mounted: func(ctx *core.Context) error {
//	    poller := core.Use(ctx, func() *Poller { return NewPoller(time.Second) })
//	    return poller.Start()
//	}
func Use[C Disposable](ctx *Context, create func() C) C {
	resource := create()
	ctx.OnUnmount(resource.Dispose)
	return resource
}

// Field is a typed view of one state field. Writes go through the
// instance's state container and mark the instance dirty when they change
// the value.
//
// Example:
//
//	count := core.FieldOf[int](ctx, "count")
//	return count.Set(count.Value() + 1)
type Field[T any] struct {
	ctx  *Context
	name string
}

// FieldOf returns the typed view of state field name.
func FieldOf[T any](ctx *Context, name string) Field[T] {
	return Field[T]{ctx: ctx, name: name}
}

// Value returns the current value, or the zero value when the field is
// absent or holds another type.
func (f Field[T]) Value() T {
	v, _ := f.ctx.State().Get(f.name)
	t, _ := v.(T)
	return t
}

// Set stores value.
func (f Field[T]) Set(value T) error {
	return f.ctx.Patch(state.Patch{f.name: value})
}

// Update applies transform to the current value in a single mutation.
func (f Field[T]) Update(transform func(T) T) error {
	return f.ctx.Mutate(func(d *state.Draft) error {
		v, _ := d.Get(f.name)
		t, _ := v.(T)
		d.Set(f.name, transform(t))
		return nil
	})
}
