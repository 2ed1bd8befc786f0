// Package render defines the boundary between the reactive core and the
// rendering backends.
//
// The core never draws anything itself. After an instance mounts, and after
// every flush that updates it, the core hands a Target to a Bridge and keeps
// the returned Output. Backends (software rasterizers, GPU renderers, test
// recorders) implement Bridge.
package render

import (
	"context"
	"sync"

	"github.com/go-orbit/orbit/pkg/props"
	"github.com/go-orbit/orbit/pkg/state"
)

// Reason says why a render was requested.
type Reason int

const (
	// ReasonMount is the initial render after the mounted hook.
	ReasonMount Reason = iota
	// ReasonUpdate is a render requested by a flush.
	ReasonUpdate
)

func (r Reason) String() string {
	if r == ReasonMount {
		return "mount"
	}
	return "update"
}

// Target is what the core asks a bridge to render.
type Target struct {
	Instance  uint64
	Component string
	Tick      uint64
	Reason    Reason
	Props     props.Bundle
	State     state.Record
	// Derived holds values computed from props and state by the component
	// definition, nil when the component derives nothing.
	Derived map[string]any
}

// Output is an opaque rendered result owned by the backend.
type Output any

// Bridge renders targets.
type Bridge interface {
	Render(ctx context.Context, target Target) (Output, error)
}

// Func adapts a function to Bridge.
type Func func(ctx context.Context, target Target) (Output, error)

// Render calls f.
func (f Func) Render(ctx context.Context, target Target) (Output, error) {
	return f(ctx, target)
}

// Nop is a bridge that renders nothing.
type Nop struct{}

// Render returns a nil output.
func (Nop) Render(context.Context, Target) (Output, error) { return nil, nil }

// Recorder is a bridge that remembers every target it was asked to render.
// It is safe for concurrent use.
type Recorder struct {
	mu      sync.Mutex
	targets []Target
	// Next, if set, produces the output (and error) for each target.
	Next func(target Target) (Output, error)
}

// Render records target and returns Next's result, or the target itself.
func (r *Recorder) Render(_ context.Context, target Target) (Output, error) {
	r.mu.Lock()
	r.targets = append(r.targets, target)
	next := r.Next
	r.mu.Unlock()
	if next != nil {
		return next(target)
	}
	return target, nil
}

// Targets returns a copy of the recorded targets.
func (r *Recorder) Targets() []Target {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Target(nil), r.targets...)
}

// For returns the recorded targets of one instance.
func (r *Recorder) For(instance uint64) []Target {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Target
	for _, t := range r.targets {
		if t.Instance == instance {
			out = append(out, t)
		}
	}
	return out
}

// Len returns the number of recorded renders.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.targets)
}

// Reset forgets all recorded targets.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.targets = nil
}
