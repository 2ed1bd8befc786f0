package core

import (
	"context"
	"fmt"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/go-orbit/orbit/pkg/errors"
	"github.com/go-orbit/orbit/pkg/metrics"
	"github.com/go-orbit/orbit/pkg/props"
	"github.com/go-orbit/orbit/pkg/render"
	"github.com/go-orbit/orbit/pkg/state"
)

type eventLog struct {
	events []Event
}

func (l *eventLog) Observe(e Event) { l.events = append(l.events, e) }

func (l *eventLog) phases(id ID) []Phase {
	var out []Phase
	for _, e := range l.events {
		if e.Instance != id {
			continue
		}
		switch e.Kind {
		case EventCreated:
			out = append(out, PhaseCreated)
		case EventTransition:
			out = append(out, e.To)
		}
	}
	return out
}

func (l *eventLog) hooks(id ID) []string {
	var out []string
	for _, e := range l.events {
		if e.Kind == EventHook && e.Instance == id {
			out = append(out, e.Hook)
		}
	}
	return out
}

func (l *eventLog) count(kind EventKind) int {
	n := 0
	for _, e := range l.events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

type testReporter struct {
	errs    []*errors.OrbitError
	panics  []*errors.PanicError
	hooks   []*errors.HookError
	renders []*errors.RenderError
}

func (r *testReporter) HandleError(err *errors.OrbitError)        { r.errs = append(r.errs, err) }
func (r *testReporter) HandlePanic(err *errors.PanicError)        { r.panics = append(r.panics, err) }
func (r *testReporter) HandleHookError(err *errors.HookError)     { r.hooks = append(r.hooks, err) }
func (r *testReporter) HandleRenderError(err *errors.RenderError) { r.renders = append(r.renders, err) }

type fixture struct {
	rt       *Runtime
	bridge   *render.Recorder
	events   *eventLog
	reporter *testReporter
	ctx      context.Context
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		bridge:   &render.Recorder{},
		events:   &eventLog{},
		reporter: &testReporter{},
		ctx:      context.Background(),
	}
	opts = append([]Option{
		WithBridge(f.bridge),
		WithObserver(f.events),
		WithReporter(f.reporter),
	}, opts...)
	f.rt = NewRuntime(opts...)
	return f
}

func (f *fixture) mount(t *testing.T, def *Definition, raw map[string]any, opts ...MountOption) *Instance {
	t.Helper()
	inst, err := f.rt.Mount(f.ctx, def, raw, opts...)
	require.NoError(t, err)
	return inst
}

// probe records hook invocations as "hook title=X count=N".
type probe struct {
	calls []string
}

func (p *probe) hook(name string) Hook {
	return func(ctx *Context) error {
		p.calls = append(p.calls, fmt.Sprintf("%s title=%s count=%d",
			name, ctx.Props().String("title"), ctx.State().Int("count")))
		return nil
	}
}

func counterSchema() *props.Schema {
	return props.MustSchema("Counter",
		props.Required("title", props.TypeString),
		props.Optional("initial", props.TypeInt, 0),
	)
}

func counterDef(p *probe) *Definition {
	return &Definition{
		Name:         "Counter",
		Schema:       counterSchema(),
		Interactions: []string{"increment", "reset", "archive"},
		Init: func(b props.Bundle) (map[string]any, error) {
			return map[string]any{"count": b.Int("initial")}, nil
		},
		Handlers: map[string]Handler{
			"increment": func(ctx *Context, _ any) error {
				return FieldOf[int](ctx, "count").Update(func(n int) int { return n + 1 })
			},
			"reset": func(ctx *Context, _ any) error {
				return ctx.Patch(state.Patch{"count": ctx.Props().Int("initial")})
			},
		},
		Mounted:   p.hook(HookMounted),
		Updated:   p.hook(HookUpdated),
		Unmounted: p.hook(HookUnmounted),
	}
}

func TestCounterScenario(t *testing.T) {
	f := newFixture(t)
	p := &probe{}
	inst := f.mount(t, counterDef(p), map[string]any{"title": "Counter", "initial": 5})

	assert.Equal(t, 5, inst.State().Int("count"))

	outcome, err := f.rt.Dispatch(f.ctx, inst.ID(), "increment", nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeHandled, outcome)
	assert.Equal(t, 6, inst.State().Int("count"))
	assert.True(t, f.rt.Detector().Contains(inst.ID()))

	report := f.rt.Flush(f.ctx)
	assert.Equal(t, []ID{inst.ID()}, report.Flushed)
	assert.Empty(t, report.Errors)
	assert.Equal(t, "updated title=Counter count=6", p.calls[len(p.calls)-1])

	outcome, err = f.rt.Dispatch(f.ctx, inst.ID(), "reset", nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeHandled, outcome)
	f.rt.Flush(f.ctx)

	assert.Equal(t, 5, inst.State().Int("count"))
	assert.Equal(t, []string{
		"mounted title=Counter count=5",
		"updated title=Counter count=6",
		"updated title=Counter count=5",
	}, p.calls)

	renders := f.bridge.For(uint64(inst.ID()))
	require.Len(t, renders, 3)
	assert.Equal(t, render.ReasonMount, renders[0].Reason)
	assert.Equal(t, 5, renders[2].State.Int("count"))
}

func TestDispatchUnboundInteractionIsMiss(t *testing.T) {
	f := newFixture(t)
	inst := f.mount(t, counterDef(&probe{}), map[string]any{"title": "Counter", "initial": 5})

	for _, name := range []string{"archive", "undeclared"} {
		outcome, err := f.rt.Dispatch(f.ctx, inst.ID(), name, nil)
		require.NoError(t, err)
		assert.Equal(t, DispatchMiss, outcome, name)
	}

	assert.Equal(t, 5, inst.State().Int("count"))
	assert.Zero(t, f.rt.Detector().Len())
	assert.Len(t, f.rt.Dispatcher().Bindings(inst.ID()), 2, "archive has no handler and is not bound")
}

func TestDispatchUnknownInstanceIsMiss(t *testing.T) {
	f := newFixture(t)
	outcome, err := f.rt.Dispatch(f.ctx, 42, "increment", nil)
	require.NoError(t, err)
	assert.Equal(t, DispatchMiss, outcome)
}

func TestLifecyclePhaseSequence(t *testing.T) {
	f := newFixture(t)
	inst := f.mount(t, counterDef(&probe{}), map[string]any{"title": "Counter"})

	_, err := f.rt.Dispatch(f.ctx, inst.ID(), "increment", nil)
	require.NoError(t, err)
	f.rt.Flush(f.ctx)
	require.NoError(t, f.rt.Unmount(inst.ID()))

	assert.Equal(t, []Phase{PhaseCreated, PhaseMounted, PhaseUpdating, PhaseMounted, PhaseUnmounted}, f.events.phases(inst.ID()))
	assert.Equal(t, []string{HookMounted, HookUpdated, HookUnmounted}, f.events.hooks(inst.ID()))
	assert.Equal(t, PhaseUnmounted, inst.Phase())
	assert.Zero(t, inst.State().Len(), "state is released")
	assert.Empty(t, f.rt.Dispatcher().Bindings(inst.ID()), "bindings are released")

	assert.ErrorIs(t, f.rt.Unmount(inst.ID()), ErrUnknownInstance)
}

func TestManyMutationsOneDirtyEntry(t *testing.T) {
	f := newFixture(t)
	p := &probe{}
	inst := f.mount(t, counterDef(p), map[string]any{"title": "Counter"})

	for i := 0; i < 5; i++ {
		_, err := f.rt.Mutate(inst.ID(), func(d *state.Draft) error {
			d.Set("count", d.Int("count")+1)
			return nil
		})
		require.NoError(t, err)
	}
	_, err := f.rt.Patch(inst.ID(), state.Patch{"label": "x"})
	require.NoError(t, err)

	assert.Equal(t, 1, f.rt.Detector().Len())
	assert.Equal(t, []string{"count", "label"}, f.rt.Detector().Changed(inst.ID()))

	report := f.rt.Flush(f.ctx)
	assert.Equal(t, []ID{inst.ID()}, report.Flushed)
	assert.Equal(t, []string{"mounted title=Counter count=0", "updated title=Counter count=5"}, p.calls)
}

func TestNoopMutationCreatesNoDirtyEntry(t *testing.T) {
	f := newFixture(t)
	inst := f.mount(t, counterDef(&probe{}), map[string]any{"title": "Counter", "initial": 3})

	changed, err := f.rt.Patch(inst.ID(), state.Patch{"count": 3})
	require.NoError(t, err)
	assert.Empty(t, changed)
	assert.Zero(t, f.rt.Detector().Len())
}

func TestFailedMutationLeavesStateAndDirtySetUnchanged(t *testing.T) {
	f := newFixture(t)
	inst := f.mount(t, counterDef(&probe{}), map[string]any{"title": "Counter", "initial": 3})

	_, err := f.rt.Mutate(inst.ID(), func(d *state.Draft) error {
		d.Set("count", 100)
		return errors.New("nope")
	})

	var merr *errors.MutationError
	require.True(t, errors.As(err, &merr))
	assert.Equal(t, uint64(inst.ID()), merr.Instance)
	assert.Equal(t, "Counter", merr.Component)
	assert.Equal(t, 3, inst.State().Int("count"))
	assert.Zero(t, f.rt.Detector().Len())
}

func TestUnmountBeforeFlushDiscardsDirtyEntry(t *testing.T) {
	f := newFixture(t)
	p := &probe{}
	a := f.mount(t, counterDef(p), map[string]any{"title": "A"})
	b := f.mount(t, counterDef(p), map[string]any{"title": "B"})

	_, err := f.rt.Patch(b.ID(), state.Patch{"count": 1})
	require.NoError(t, err)
	_, err = f.rt.Patch(a.ID(), state.Patch{"count": 1})
	require.NoError(t, err)
	require.NoError(t, f.rt.Unmount(b.ID()))

	report := f.rt.Flush(f.ctx)
	assert.Equal(t, []ID{a.ID()}, report.Flushed)
	assert.NotContains(t, f.events.hooks(b.ID()), HookUpdated)
}

func TestUnmountMidTickExcludesInstanceFromFlush(t *testing.T) {
	f := newFixture(t)
	var victim ID
	killer := &Definition{
		Name: "Killer",
		Updated: func(ctx *Context) error {
			return f.rt.Unmount(victim)
		},
	}
	p := &probe{}
	k := f.mount(t, killer, nil)
	v := f.mount(t, counterDef(p), map[string]any{"title": "Victim"})
	victim = v.ID()

	_, err := f.rt.Patch(v.ID(), state.Patch{"count": 9})
	require.NoError(t, err)
	_, err = f.rt.Patch(k.ID(), state.Patch{"tick": 1})
	require.NoError(t, err)

	report := f.rt.Flush(f.ctx)

	assert.Equal(t, []ID{k.ID()}, report.Flushed)
	assert.Equal(t, []ID{v.ID()}, report.Skipped)
	assert.Equal(t, []string{"mounted title=Victim count=0", "unmounted title=Victim count=9"}, p.calls)
	assert.Len(t, f.bridge.For(uint64(v.ID())), 1, "only the mount render")
}

func TestEmptyFlushIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.mount(t, counterDef(&probe{}), map[string]any{"title": "Counter"})
	hooks, renders := f.events.count(EventHook), f.bridge.Len()

	for i := 0; i < 3; i++ {
		report := f.rt.Flush(f.ctx)
		assert.True(t, report.Empty())
	}

	assert.Equal(t, hooks, f.events.count(EventHook))
	assert.Equal(t, renders, f.bridge.Len())
	assert.Zero(t, f.events.count(EventFlush))
}

func TestMutationDuringFlushIsDeferred(t *testing.T) {
	f := newFixture(t)
	var updates int
	def := &Definition{
		Name: "Echo",
		Updated: func(ctx *Context) error {
			updates++
			return FieldOf[int](ctx, "n").Update(func(n int) int { return n + 1 })
		},
	}
	inst := f.mount(t, def, nil)
	_, err := f.rt.Patch(inst.ID(), state.Patch{"n": 0})
	require.NoError(t, err)

	f.rt.Flush(f.ctx)
	assert.Equal(t, 1, updates, "the hook's own mutation is not processed in the same flush")
	assert.True(t, f.rt.Detector().Contains(inst.ID()))

	f.rt.Flush(f.ctx)
	assert.Equal(t, 2, updates)
}

func TestNestedFlushDoesNothing(t *testing.T) {
	f := newFixture(t)
	var nested TickReport
	def := &Definition{
		Name: "Nested",
		Updated: func(ctx *Context) error {
			nested = f.rt.Flush(f.ctx)
			return nil
		},
	}
	inst := f.mount(t, def, nil)
	_, err := f.rt.Patch(inst.ID(), state.Patch{"x": 1})
	require.NoError(t, err)

	report := f.rt.Flush(f.ctx)
	assert.Equal(t, report.Tick, nested.Tick)
	assert.True(t, nested.Empty())
}

func TestFlushOrderIsConstructionOrder(t *testing.T) {
	f := newFixture(t)
	var order []ID
	def := &Definition{
		Name: "Node",
		Updated: func(ctx *Context) error {
			order = append(order, ctx.ID())
			return nil
		},
	}
	var ids []ID
	for i := 0; i < 4; i++ {
		ids = append(ids, f.mount(t, def, nil).ID())
	}
	for i := len(ids) - 1; i >= 0; i-- {
		_, err := f.rt.Patch(ids[i], state.Patch{"v": i})
		require.NoError(t, err)
	}

	report := f.rt.Flush(f.ctx)
	assert.Equal(t, ids, report.Flushed)
	assert.Equal(t, ids, order)
}

func TestMountValidationFailureAbortsConstruction(t *testing.T) {
	f := newFixture(t)
	_, err := f.rt.Mount(f.ctx, counterDef(&probe{}), map[string]any{"initial": 1})

	var verr *errors.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "title", verr.Field)
	assert.Equal(t, errors.ConstraintRequired, verr.Constraint)
	assert.Zero(t, f.rt.Len())
	assert.Empty(t, f.events.events)

	inst := f.mount(t, counterDef(&probe{}), map[string]any{"title": "ok"})
	assert.Equal(t, ID(1), inst.ID(), "failed constructions consume no identity")
}

func TestMountInvalidDefinition(t *testing.T) {
	f := newFixture(t)
	_, err := f.rt.Mount(f.ctx, &Definition{}, nil)
	assert.ErrorIs(t, err, ErrInvalidDefinition)
}

func TestMountInitFailure(t *testing.T) {
	f := newFixture(t)
	def := &Definition{
		Name: "Broken",
		Init: func(props.Bundle) (map[string]any, error) { panic("no state") },
	}
	_, err := f.rt.Mount(f.ctx, def, nil)

	var oerr *errors.OrbitError
	require.True(t, errors.As(err, &oerr))
	assert.Equal(t, errors.KindInit, oerr.Kind)
	assert.Zero(t, f.rt.Len())
}

func TestMountedHookFailureTearsDown(t *testing.T) {
	f := newFixture(t)
	p := &probe{}
	def := counterDef(p)
	var cleaned bool
	def.Mounted = func(ctx *Context) error {
		ctx.OnUnmount(func() { cleaned = true })
		return errors.New("cannot mount")
	}

	inst, err := f.rt.Mount(f.ctx, def, map[string]any{"title": "Counter"})

	assert.Nil(t, inst)
	var herr *errors.HookError
	require.True(t, errors.As(err, &herr))
	assert.Equal(t, HookMounted, herr.Hook)
	require.Len(t, f.reporter.hooks, 1)

	assert.Zero(t, f.rt.Len())
	assert.True(t, cleaned)
	assert.Empty(t, p.calls, "no unmounted hook")
	assert.Equal(t, []Phase{PhaseCreated, PhaseUnmounted}, f.events.phases(1))
	assert.Zero(t, f.bridge.Len(), "never rendered")
}

func TestMountedHookPanicTearsDown(t *testing.T) {
	f := newFixture(t)
	def := &Definition{Name: "Panics", Mounted: func(*Context) error { panic("kaboom") }}

	_, err := f.rt.Mount(f.ctx, def, nil)

	var herr *errors.HookError
	require.True(t, errors.As(err, &herr))
	assert.Equal(t, "kaboom", herr.Recovered)
	assert.NotEmpty(t, herr.StackTrace)
	assert.Zero(t, f.rt.Len())
}

func TestMountedHookMutationEnqueuesUpdate(t *testing.T) {
	f := newFixture(t)
	p := &probe{}
	def := counterDef(p)
	def.Mounted = func(ctx *Context) error {
		return ctx.Patch(state.Patch{"count": 10})
	}

	inst := f.mount(t, def, map[string]any{"title": "Counter"})

	assert.Equal(t, PhaseMounted, inst.Phase())
	assert.True(t, f.rt.Detector().Contains(inst.ID()))
	assert.Empty(t, p.calls)

	f.rt.Flush(f.ctx)
	assert.Equal(t, []string{"updated title=Counter count=10"}, p.calls)
}

func TestHookFailureDoesNotCorruptPhaseOrStopFlush(t *testing.T) {
	f := newFixture(t)
	bad := &Definition{Name: "Bad", Updated: func(*Context) error { return errors.New("bad update") }}
	p := &probe{}
	b := f.mount(t, bad, nil)
	g := f.mount(t, counterDef(p), map[string]any{"title": "Good"})

	_, err := f.rt.Patch(b.ID(), state.Patch{"x": 1})
	require.NoError(t, err)
	_, err = f.rt.Patch(g.ID(), state.Patch{"count": 2})
	require.NoError(t, err)

	report := f.rt.Flush(f.ctx)

	assert.Equal(t, []ID{b.ID(), g.ID()}, report.Flushed)
	require.Len(t, report.Errors, 1)
	assert.Equal(t, PhaseMounted, b.Phase())
	assert.Len(t, f.bridge.For(uint64(b.ID())), 2, "a failed hook still re-renders")
	assert.Contains(t, p.calls, "updated title=Good count=2")
	require.Len(t, f.reporter.hooks, 1)
	assert.Equal(t, HookUpdated, f.reporter.hooks[0].Hook)
}

func TestRenderFailureIsReportedAndKeepsPhase(t *testing.T) {
	f := newFixture(t)
	f.bridge.Next = func(render.Target) (render.Output, error) { return nil, errors.New("gpu lost") }

	inst := f.mount(t, counterDef(&probe{}), map[string]any{"title": "Counter"})

	assert.Equal(t, PhaseMounted, inst.Phase())
	require.Len(t, f.reporter.renders, 1)
	assert.EqualError(t, f.reporter.renders[0].Err, "gpu lost")
	assert.Zero(t, inst.Renders())
}

func TestDeriveReachesRenderTarget(t *testing.T) {
	f := newFixture(t)
	def := counterDef(&probe{})
	def.Derive = func(_ props.Bundle, s state.Record) map[string]any {
		n := s.Int("count")
		return map[string]any{"square": n * n, "is_even": n%2 == 0}
	}
	inst := f.mount(t, def, map[string]any{"title": "Counter", "initial": 3})

	target := f.bridge.For(uint64(inst.ID()))[0]
	assert.Equal(t, map[string]any{"square": 9, "is_even": false}, target.Derived)
	assert.Equal(t, target, inst.Output())
}

func TestSetPropsAppliedBeforeUpdatedInSameCycle(t *testing.T) {
	f := newFixture(t)
	p := &probe{}
	def := counterDef(p)
	def.PropsChanged = func(ctx *Context, old props.Bundle) error {
		p.calls = append(p.calls, fmt.Sprintf("propsChanged %s -> %s", old.String("title"), ctx.Props().String("title")))
		return nil
	}
	inst := f.mount(t, def, map[string]any{"title": "A", "initial": 1})

	require.NoError(t, f.rt.SetProps(inst.ID(), map[string]any{"title": "B"}))
	require.NoError(t, f.rt.SetProps(inst.ID(), map[string]any{"title": "C", "initial": 2}))

	err := f.rt.SetProps(inst.ID(), map[string]any{"title": 3})
	var verr *errors.ValidationError
	require.True(t, errors.As(err, &verr))

	_, err = f.rt.Patch(inst.ID(), state.Patch{"count": 9})
	require.NoError(t, err)
	assert.Equal(t, "A", inst.Props().String("title"), "pending props are not visible before the flush")

	report := f.rt.Flush(f.ctx)

	assert.Equal(t, []ID{inst.ID()}, report.Flushed)
	assert.Equal(t, []string{
		"mounted title=A count=1",
		"propsChanged A -> C",
		"updated title=C count=9",
	}, p.calls)
	last := f.bridge.For(uint64(inst.ID()))
	assert.Equal(t, "C", last[len(last)-1].Props.String("title"))
	assert.Equal(t, []Phase{PhaseCreated, PhaseMounted, PhaseUpdating, PhaseMounted}, f.events.phases(inst.ID()))
}

func TestSetPropsUnknownInstance(t *testing.T) {
	f := newFixture(t)
	assert.ErrorIs(t, f.rt.SetProps(7, nil), ErrUnknownInstance)
}

func TestSetPropsIdenticalBundleSkipsUpdate(t *testing.T) {
	f := newFixture(t)
	p := &probe{}
	def := counterDef(p)
	def.PropsChanged = func(*Context, props.Bundle) error {
		p.calls = append(p.calls, "propsChanged")
		return nil
	}
	inst := f.mount(t, def, map[string]any{"title": "A", "initial": 1})

	require.NoError(t, f.rt.SetProps(inst.ID(), map[string]any{"title": "A", "initial": 1}))
	require.NoError(t, f.rt.SetProps(inst.ID(), map[string]any{"title": "A"}), "defaults fill in")
	assert.False(t, f.rt.Detector().Contains(inst.ID()))

	report := f.rt.Flush(f.ctx)
	assert.Empty(t, report.Flushed)
	assert.Equal(t, []string{"mounted title=A count=1"}, p.calls)
	assert.Len(t, f.bridge.For(uint64(inst.ID())), 1)
}

func TestSetPropsRevertDropsPendingBundle(t *testing.T) {
	f := newFixture(t)
	p := &probe{}
	inst := f.mount(t, counterDef(p), map[string]any{"title": "A"})

	require.NoError(t, f.rt.SetProps(inst.ID(), map[string]any{"title": "B"}))
	require.NoError(t, f.rt.SetProps(inst.ID(), map[string]any{"title": "A"}))
	f.rt.Flush(f.ctx)

	assert.Equal(t, "A", inst.Props().String("title"))
}

func TestSetPropsMemoKey(t *testing.T) {
	f := newFixture(t)
	p := &probe{}
	def := counterDef(p)
	def.Schema = props.MustSchema("Counter",
		props.Required("title", props.TypeString),
		props.Optional("initial", props.TypeInt, 0),
		props.Optional("onReset", props.TypeFunc, nil),
	)
	def.Memo = func(b props.Bundle) any { return b.String("title") }
	inst := f.mount(t, def, map[string]any{"title": "A", "onReset": func() {}})

	require.NoError(t, f.rt.SetProps(inst.ID(), map[string]any{"title": "A", "onReset": func() {}}))
	assert.False(t, f.rt.Detector().Contains(inst.ID()), "a fresh callback does not change the key")

	require.NoError(t, f.rt.SetProps(inst.ID(), map[string]any{"title": "B", "onReset": func() {}}))
	report := f.rt.Flush(f.ctx)
	assert.Equal(t, []ID{inst.ID()}, report.Flushed)
	assert.Equal(t, "updated title=B count=0", p.calls[len(p.calls)-1])
}

func TestDispatchFlushesDirtyTargetFirst(t *testing.T) {
	f := newFixture(t)
	var order []string
	def := &Definition{
		Name:         "Ordered",
		Interactions: []string{"ping"},
		Handlers: map[string]Handler{
			"ping": func(ctx *Context, payload any) error {
				order = append(order, fmt.Sprintf("ping %v", payload))
				return nil
			},
		},
		Updated: func(ctx *Context) error {
			order = append(order, "updated")
			return nil
		},
	}
	inst := f.mount(t, def, nil)
	_, err := f.rt.Patch(inst.ID(), state.Patch{"v": 1})
	require.NoError(t, err)

	_, err = f.rt.Dispatch(f.ctx, inst.ID(), "ping", 1)
	require.NoError(t, err)

	assert.Equal(t, []string{"updated", "ping 1"}, order)
}

func TestDispatchFromHandlerJoinsCurrentTick(t *testing.T) {
	f := newFixture(t)
	var order []string
	parentDef := &Definition{
		Name:         "Parent",
		Interactions: []string{"bump"},
		Handlers: map[string]Handler{
			"bump": func(ctx *Context, _ any) error {
				order = append(order, "parent bump")
				return FieldOf[int](ctx, "bumps").Update(func(n int) int { return n + 1 })
			},
		},
		Init: func(props.Bundle) (map[string]any, error) {
			return map[string]any{"bumps": 0}, nil
		},
		Updated: func(ctx *Context) error {
			order = append(order, "parent updated")
			return nil
		},
	}
	parent := f.mount(t, parentDef, nil)

	childDef := &Definition{
		Name:         "Child",
		Schema:       props.MustSchema("Child", props.Optional("onChange", props.TypeFunc, nil)),
		Interactions: []string{"click"},
		Handlers: map[string]Handler{
			"click": func(ctx *Context, _ any) error {
				order = append(order, "child click start")
				if err := ctx.Patch(state.Patch{"clicked": true}); err != nil {
					return err
				}
				ctx.Props().Func("onChange").(func())()
				order = append(order, "child click end")
				return nil
			},
		},
		Updated: func(ctx *Context) error {
			order = append(order, "child updated")
			return nil
		},
	}
	onChange := func() {
		_, err := f.rt.Dispatch(f.ctx, parent.ID(), "bump", nil)
		assert.NoError(t, err)
	}
	child := f.mount(t, childDef, map[string]any{"onChange": onChange})

	_, err := f.rt.Patch(parent.ID(), state.Patch{"label": "dirty"})
	require.NoError(t, err)

	outcome, err := f.rt.Dispatch(f.ctx, child.ID(), "click", nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeHandled, outcome)
	assert.Equal(t, []string{
		"child click start",
		"parent bump",
		"child click end",
	}, order, "no hook runs while the child handler is on the stack")

	report := f.rt.Flush(f.ctx)
	assert.ElementsMatch(t, []ID{parent.ID(), child.ID()}, report.Flushed)
	assert.Equal(t, 1, parent.State().Int("bumps"))
	assert.True(t, child.State().Bool("clicked"))
	assert.Equal(t, []string{HookUpdated}, f.events.hooks(child.ID()))
}

func TestDispatchHandlerFailures(t *testing.T) {
	f := newFixture(t)
	def := &Definition{
		Name:         "Faulty",
		Interactions: []string{"fail", "explode", "mutate"},
		Handlers: map[string]Handler{
			"fail":    func(*Context, any) error { return errors.New("refused") },
			"explode": func(*Context, any) error { panic("boom") },
			"mutate": func(ctx *Context, _ any) error {
				return ctx.Mutate(func(*state.Draft) error { return errors.New("invalid") })
			},
		},
	}
	inst := f.mount(t, def, nil)

	outcome, err := f.rt.Dispatch(f.ctx, inst.ID(), "fail", nil)
	assert.Equal(t, OutcomeHandled, outcome)
	var oerr *errors.OrbitError
	require.True(t, errors.As(err, &oerr))
	assert.Equal(t, errors.KindDispatch, oerr.Kind)

	_, err = f.rt.Dispatch(f.ctx, inst.ID(), "explode", nil)
	var perr *errors.PanicError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "boom", perr.Value)

	_, err = f.rt.Dispatch(f.ctx, inst.ID(), "mutate", nil)
	var merr *errors.MutationError
	require.True(t, errors.As(err, &merr))
	assert.Equal(t, uint64(inst.ID()), merr.Instance)

	assert.Equal(t, PhaseMounted, inst.Phase())
	assert.Zero(t, f.rt.Detector().Len())
}

type mockDisposable struct {
	log  *[]string
	name string
}

func (m *mockDisposable) Dispose() { *m.log = append(*m.log, "dispose "+m.name) }

func TestUnmountCascadesAndRunsCleanupsInReverse(t *testing.T) {
	f := newFixture(t)
	var log []string
	def := func(name string) *Definition {
		return &Definition{
			Name:         name,
			Interactions: []string{"tap"},
			Handlers:     map[string]Handler{"tap": func(*Context, any) error { return nil }},
			Mounted: func(ctx *Context) error {
				Use(ctx, func() *mockDisposable { return &mockDisposable{log: &log, name: name + ".first"} })
				ctx.OnUnmount(func() { log = append(log, "cleanup "+name+".second") })
				return nil
			},
			Unmounted: func(ctx *Context) error {
				log = append(log, "unmounted "+name)
				return nil
			},
		}
	}
	parent := f.mount(t, def("Form"), nil)
	button := f.mount(t, def("Button"), nil, WithParent(parent.ID()))
	label := f.mount(t, def("Label"), nil, WithParent(parent.ID()))
	assert.Equal(t, []ID{button.ID(), label.ID()}, parent.Children())
	assert.Equal(t, parent.ID(), button.Parent())

	require.NoError(t, f.rt.Unmount(parent.ID()))

	assert.Equal(t, []string{
		"unmounted Label", "cleanup Label.second", "dispose Label.first",
		"unmounted Button", "cleanup Button.second", "dispose Button.first",
		"unmounted Form", "cleanup Form.second", "dispose Form.first",
	}, log)
	assert.Zero(t, f.rt.Len())
	outcome, err := f.rt.Dispatch(f.ctx, button.ID(), "tap", nil)
	require.NoError(t, err)
	assert.Equal(t, DispatchMiss, outcome)
}

func TestUnmountChildDetachesFromParent(t *testing.T) {
	f := newFixture(t)
	parent := f.mount(t, &Definition{Name: "Parent"}, nil)
	child := f.mount(t, &Definition{Name: "Child"}, nil, WithParent(parent.ID()))

	require.NoError(t, f.rt.Unmount(child.ID()))
	assert.Empty(t, parent.Children())
	assert.Equal(t, PhaseMounted, parent.Phase())
}

func TestMountUnderUnknownParent(t *testing.T) {
	f := newFixture(t)
	_, err := f.rt.Mount(f.ctx, &Definition{Name: "Orphan"}, nil, WithParent(99))
	assert.ErrorIs(t, err, ErrUnknownInstance)
}

func TestAmbientValues(t *testing.T) {
	f := newFixture(t)
	var seen []string
	reader := &Definition{
		Name: "Label",
		Mounted: func(ctx *Context) error {
			v, _ := ctx.Ambient("color")
			seen = append(seen, fmt.Sprintf("%s mounted %v", ctx.ID(), v))
			return nil
		},
		Updated: func(ctx *Context) error {
			v, _ := ctx.Ambient("color")
			seen = append(seen, fmt.Sprintf("%s updated %v", ctx.ID(), v))
			return nil
		},
	}
	theme := f.mount(t, &Definition{Name: "Theme"}, nil, WithAmbient("color", "light"))
	near := f.mount(t, reader, nil, WithParent(theme.ID()))
	panel := f.mount(t, &Definition{Name: "Panel"}, nil, WithParent(theme.ID()), WithAmbient("color", "blue"))
	deep := f.mount(t, reader, nil, WithParent(panel.ID()))
	outside := f.mount(t, reader, nil)

	assert.Equal(t, []string{
		fmt.Sprintf("%s mounted light", near.ID()),
		fmt.Sprintf("%s mounted blue", deep.ID()),
		fmt.Sprintf("%s mounted <nil>", outside.ID()),
	}, seen)

	require.NoError(t, f.rt.Provide(theme.ID(), "color", "light"))
	assert.Zero(t, f.rt.Detector().Len(), "an unchanged value notifies nobody")

	require.NoError(t, f.rt.Provide(theme.ID(), "color", "dark"))
	assert.True(t, f.rt.Detector().Contains(near.ID()))
	assert.True(t, f.rt.Detector().Contains(deep.ID()), "every dependent in the subtree is marked")
	assert.False(t, f.rt.Detector().Contains(outside.ID()))

	f.rt.Flush(f.ctx)
	assert.Contains(t, seen, fmt.Sprintf("%s updated dark", near.ID()))
	assert.Contains(t, seen, fmt.Sprintf("%s updated blue", deep.ID()), "the nearest provider still wins")

	assert.ErrorIs(t, f.rt.Provide(99, "color", "x"), ErrUnknownInstance)
}

func TestShutdownUnmountsEverything(t *testing.T) {
	f := newFixture(t)
	root := f.mount(t, &Definition{Name: "Root"}, nil)
	f.mount(t, &Definition{Name: "Child"}, nil, WithParent(root.ID()))
	f.mount(t, &Definition{Name: "Other"}, nil)

	f.rt.Shutdown()
	assert.Zero(t, f.rt.Len())
	assert.Empty(t, f.rt.Instances())
}

func TestInstancesAreSortedAndDescribed(t *testing.T) {
	f := newFixture(t)
	def := counterDef(&probe{})
	for i := 0; i < 3; i++ {
		f.mount(t, def, map[string]any{"title": fmt.Sprintf("C%d", i)})
	}
	all := f.rt.Instances()
	require.Len(t, all, 3)
	for n, inst := range all {
		assert.Equal(t, ID(n+1), inst.ID())
	}

	info := all[0].Info()
	assert.Equal(t, "Counter", info.Component)
	assert.Equal(t, "Mounted", info.Phase)
	assert.Equal(t, map[string]any{"title": "C0", "initial": 0}, info.Props)
	assert.Equal(t, map[string]any{"count": 0}, info.State)
	assert.Equal(t, 1, info.Renders)
}

type recordingTracer struct {
	noop.Tracer
	spans []string
}

func (r *recordingTracer) Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	r.spans = append(r.spans, name)
	return r.Tracer.Start(ctx, name, opts...)
}

func TestTracingAndMetrics(t *testing.T) {
	tracer := &recordingTracer{}
	m := metrics.New(nil)
	f := newFixture(t, WithTracer(tracer), WithMetrics(m))
	inst := f.mount(t, counterDef(&probe{}), map[string]any{"title": "Counter"})

	_, err := f.rt.Dispatch(f.ctx, inst.ID(), "increment", nil)
	require.NoError(t, err)
	_, err = f.rt.Dispatch(f.ctx, inst.ID(), "archive", nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"orbit.dispatch", "orbit.dispatch", "orbit.flush"}, tracer.spans,
		"the dirty target is flushed before the second event")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Ticks))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Mutations))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Dispatches.WithLabelValues("miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Instances))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Renders))
}
