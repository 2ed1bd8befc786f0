package testing

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/go-orbit/orbit/pkg/core"
	orbiterrors "github.com/go-orbit/orbit/pkg/errors"
	"github.com/go-orbit/orbit/pkg/host"
	"github.com/go-orbit/orbit/pkg/render"
)

// DefaultSettleSteps bounds PumpAndSettle.
const DefaultSettleSteps = 100

// ErrSettleTimeout is returned when PumpAndSettle exceeds its step budget.
var ErrSettleTimeout = errors.New("PumpAndSettle timed out: runtime did not settle")

// Harness runs components in isolation. It drives the same runtime and
// host loop as an application but renders into a Recorder, runs schedules
// on a FakeClock, and records every lifecycle event and reported error.
type Harness struct {
	rt      *core.Runtime
	loop    *host.Loop
	clock   *FakeClock
	renders *render.Recorder
	ctx     context.Context

	mu        sync.Mutex
	events    []core.Event
	reported  []error
	observers []core.Observer
}

// NewHarness creates a harness. opts are applied after the harness's own
// bridge, observer and reporter, so they may replace them.
// Call Cleanup() when done, or use NewHarnessWithT() instead.
func NewHarness(opts ...core.Option) *Harness {
	h := &Harness{
		clock:   NewFakeClock(),
		renders: &render.Recorder{},
		ctx:     context.Background(),
	}
	opts = append([]core.Option{
		core.WithBridge(h.renders),
		core.WithObserver(core.ObserverFunc(h.observe)),
		core.WithReporter(harnessReporter{h}),
	}, opts...)
	h.rt = core.NewRuntime(opts...)
	h.loop = host.New(h.rt, host.WithClock(h.clock))
	return h
}

// NewHarnessWithT creates a harness that cleans up via t.Cleanup().
// This is the recommended constructor for tests.
func NewHarnessWithT(t *testing.T, opts ...core.Option) *Harness {
	h := NewHarness(opts...)
	t.Cleanup(h.Cleanup)
	return h
}

// Cleanup unmounts every instance and closes the loop.
func (h *Harness) Cleanup() {
	h.rt.Shutdown()
	h.loop.Close()
}

// Runtime returns the harness runtime.
func (h *Harness) Runtime() *core.Runtime { return h.rt }

// Loop returns the host loop driving the runtime.
func (h *Harness) Loop() *host.Loop { return h.loop }

// Clock returns the fake clock for advancing time in tests.
func (h *Harness) Clock() *FakeClock { return h.clock }

// Renders returns the recording render bridge.
func (h *Harness) Renders() *render.Recorder { return h.renders }

// Mount mounts a root instance, or a child with core.WithParent.
func (h *Harness) Mount(def *core.Definition, raw map[string]any, opts ...core.MountOption) (*core.Instance, error) {
	return h.rt.Mount(h.ctx, def, raw, opts...)
}

// Dispatch delivers an interaction immediately.
func (h *Harness) Dispatch(id core.ID, interaction string, payload any) (core.Outcome, error) {
	return h.rt.Dispatch(h.ctx, id, interaction, payload)
}

// Post queues an interaction for the next Pump.
func (h *Harness) Post(id core.ID, interaction string, payload any) error {
	return h.loop.PostDispatch(id, interaction, payload)
}

// Pump runs a single loop step: posted tasks, due schedules, one flush.
func (h *Harness) Pump() host.StepReport {
	return h.loop.Step(h.ctx)
}

// PumpAndSettle steps until the runtime is idle. It returns
// ErrSettleTimeout if the runtime is still busy after maxSteps steps; a
// non-positive maxSteps uses DefaultSettleSteps.
func (h *Harness) PumpAndSettle(maxSteps int) error {
	if maxSteps <= 0 {
		maxSteps = DefaultSettleSteps
	}
	if _, err := h.loop.RunUntilIdle(h.ctx, maxSteps); err != nil {
		return ErrSettleTimeout
	}
	return nil
}

// Find evaluates a finder against the live instances.
func (h *Harness) Find(finder Finder) FinderResult {
	return FinderResult{
		instances: finder.Evaluate(h.rt.Instances()),
		finder:    finder,
	}
}

func (h *Harness) observe(e core.Event) {
	h.mu.Lock()
	h.events = append(h.events, e)
	observers := h.observers
	h.mu.Unlock()
	for _, o := range observers {
		o.Observe(e)
	}
}

// AddObserver forwards every subsequent event to o as well.
func (h *Harness) AddObserver(o core.Observer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.observers = append(h.observers, o)
}

// Events returns every event observed since the last ResetEvents.
func (h *Harness) Events() []core.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]core.Event(nil), h.events...)
}

// Trace returns the observed events as strings, optionally filtered by kind.
func (h *Harness) Trace(kinds ...core.EventKind) []string {
	var out []string
	for _, e := range h.Events() {
		if len(kinds) > 0 && !containsKind(kinds, e.Kind) {
			continue
		}
		out = append(out, e.String())
	}
	return out
}

// ResetEvents forgets the observed events and renders.
func (h *Harness) ResetEvents() {
	h.mu.Lock()
	h.events = nil
	h.mu.Unlock()
	h.renders.Reset()
}

// Reported returns every error passed to the runtime's reporter.
func (h *Harness) Reported() []error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]error(nil), h.reported...)
}

func (h *Harness) report(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.reported = append(h.reported, err)
}

func containsKind(kinds []core.EventKind, k core.EventKind) bool {
	for _, kind := range kinds {
		if kind == k {
			return true
		}
	}
	return false
}

type harnessReporter struct{ h *Harness }

func (r harnessReporter) HandleError(err *orbiterrors.OrbitError)        { r.h.report(err) }
func (r harnessReporter) HandlePanic(err *orbiterrors.PanicError)        { r.h.report(err) }
func (r harnessReporter) HandleHookError(err *orbiterrors.HookError)     { r.h.report(err) }
func (r harnessReporter) HandleRenderError(err *orbiterrors.RenderError) { r.h.report(err) }
