package core

import (
	"context"
	"fmt"
	"slices"
	"time"

	cmap "github.com/orcaman/concurrent-map/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-orbit/orbit/pkg/errors"
	"github.com/go-orbit/orbit/pkg/metrics"
	"github.com/go-orbit/orbit/pkg/props"
	"github.com/go-orbit/orbit/pkg/render"
	"github.com/go-orbit/orbit/pkg/state"
)

const tracerName = "github.com/go-orbit/orbit/pkg/core"

// ErrUnknownInstance is returned for IDs that do not name a live instance.
var ErrUnknownInstance = errors.New("unknown component instance")

// Option configures a Runtime.
type Option func(*Runtime)

// WithBridge sets the render bridge. The default renders nothing.
func WithBridge(b render.Bridge) Option {
	return func(r *Runtime) { r.bridge = b }
}

// WithObserver sets the event sink.
func WithObserver(o Observer) Option {
	return func(r *Runtime) { r.observer = o }
}

// WithReporter sets the handler that receives hook, render and cleanup
// failures. The default is the global errors.Handler.
func WithReporter(h errors.ErrorHandler) Option {
	return func(r *Runtime) { r.reporter = h }
}

// WithTracer sets the tracer for flush and dispatch spans. The default is
// the global OpenTelemetry tracer provider.
func WithTracer(t trace.Tracer) Option {
	return func(r *Runtime) { r.tracer = t }
}

// WithMetrics sets the Prometheus collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Runtime) { r.metrics = m }
}

// MountOption configures a single Mount.
type MountOption func(*mountConfig)

type mountConfig struct {
	parent  ID
	ambient map[any]any
}

// WithParent mounts the instance as a child of parent. Unmounting the parent
// unmounts the child first.
func WithParent(parent ID) MountOption {
	return func(c *mountConfig) { c.parent = parent }
}

// Runtime wires props validation, state, lifecycle, change detection,
// dispatch and scheduling together. It is the entry point of the
// application shell.
//
// Runtime is not safe for concurrent use: every method must be called from
// the goroutine that drives ticks. Instance and Instances may be called
// from any goroutine.
type Runtime struct {
	bridge   render.Bridge
	observer Observer
	reporter errors.ErrorHandler
	tracer   trace.Tracer
	metrics  *metrics.Metrics

	lifecycle  *LifecycleController
	detector   *ChangeDetector
	dispatcher *EventDispatcher
	scheduler  *Scheduler

	instances   cmap.ConcurrentMap[ID, *Instance]
	nextID      ID
	ambientDeps map[any]map[ID]struct{}

	// dispatching counts handlers on the stack; nested dispatches never flush.
	dispatching int
}

// NewRuntime creates a Runtime.
func NewRuntime(opts ...Option) *Runtime {
	r := &Runtime{
		bridge:     render.Nop{},
		observer:   nopObserver{},
		tracer:     otel.Tracer(tracerName),
		detector:   NewChangeDetector(),
		dispatcher: NewEventDispatcher(),
		instances: cmap.NewWithCustomShardingFunction[ID, *Instance](func(id ID) uint32 {
			return uint32(id)
		}),
		ambientDeps: make(map[any]map[ID]struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.bridge == nil {
		r.bridge = render.Nop{}
	}
	if r.observer == nil {
		r.observer = nopObserver{}
	}
	r.lifecycle = &LifecycleController{
		emit:     r.emit,
		reporter: r.reporter,
		metrics:  r.metrics,
		tick:     func() uint64 { return r.scheduler.Tick() },
	}
	r.scheduler = &Scheduler{
		detector:  r.detector,
		lifecycle: r.lifecycle,
		lookup:    r.live,
		render:    r.render,
		emit:      r.emit,
		tracer:    r.tracer,
		metrics:   r.metrics,
	}
	return r
}

// Detector returns the change detector.
func (r *Runtime) Detector() *ChangeDetector { return r.detector }

// Dispatcher returns the event dispatcher.
func (r *Runtime) Dispatcher() *EventDispatcher { return r.dispatcher }

// Scheduler returns the scheduler.
func (r *Runtime) Scheduler() *Scheduler { return r.scheduler }

// Lifecycle returns the lifecycle controller.
func (r *Runtime) Lifecycle() *LifecycleController { return r.lifecycle }

// Mount constructs an instance of def from raw props.
//
// Props are validated first; a *errors.ValidationError aborts construction
// before any identity is assigned. The mounted hook then runs; if it fails
// the instance is torn down without an unmounted hook and the
// *errors.HookError is returned. On success the declared interactions are
// bound and the instance is rendered once. Mutations made by the mounted
// hook are applied on the next flush.
func (r *Runtime) Mount(ctx context.Context, def *Definition, raw map[string]any, opts ...MountOption) (*Instance, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	var cfg mountConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	var parent *Instance
	if cfg.parent != 0 {
		p, ok := r.live(cfg.parent)
		if !ok {
			return nil, fmt.Errorf("%w: parent %s", ErrUnknownInstance, cfg.parent)
		}
		parent = p
	}

	bundle, err := props.Validate(def.Schema, raw)
	if err != nil {
		return nil, err
	}
	initial, err := initState(def, bundle)
	if err != nil {
		return nil, err
	}

	r.nextID++
	inst := &Instance{
		id:       r.nextID,
		def:      def,
		rt:       r,
		phase:    PhaseCreated,
		props:    bundle,
		parent:   parent,
		provided: cfg.ambient,
	}
	inst.state = state.NewContainer(state.RecordOf(initial), func(changed []string) {
		r.stateChanged(inst, changed)
	})
	r.instances.Set(inst.id, inst)
	if parent != nil {
		parent.addChild(inst)
	}
	r.metrics.SetInstances(r.instances.Count())
	r.emit(Event{Kind: EventCreated, Instance: inst.id, Component: def.Name, Tick: r.scheduler.Tick()})

	if herr := r.lifecycle.Mount(inst); herr != nil {
		r.unmount(inst)
		return nil, herr
	}
	r.dispatcher.bindDeclared(inst)
	_ = r.render(ctx, inst, render.ReasonMount)
	return inst, nil
}

func initState(def *Definition, p props.Bundle) (fields map[string]any, err error) {
	if def.Init == nil {
		return nil, nil
	}
	defer func() {
		if rec := recover(); rec != nil {
			err = &errors.OrbitError{
				Op:         "core.Mount",
				Kind:       errors.KindInit,
				Err:        &errors.PanicError{Op: "core.Mount", Value: rec, Timestamp: time.Now()},
				StackTrace: errors.CaptureStack(),
				Timestamp:  time.Now(),
			}
		}
	}()
	fields, err = def.Init(p)
	if err != nil {
		return nil, &errors.OrbitError{Op: "core.Mount", Kind: errors.KindInit, Err: err, Timestamp: time.Now()}
	}
	return fields, nil
}

// Unmount removes the instance and its subtree. Children are unmounted
// first, most recent first. The instance's dirty entry, bindings and state
// are released after its unmounted hook and cleanups run.
func (r *Runtime) Unmount(id ID) error {
	inst, ok := r.live(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownInstance, id)
	}
	r.unmount(inst)
	return nil
}

func (r *Runtime) unmount(inst *Instance) {
	children := inst.childList()
	for n := len(children) - 1; n >= 0; n-- {
		r.unmount(children[n])
	}
	if !r.lifecycle.Unmount(inst) {
		return
	}
	r.dispatcher.Release(inst.id)
	inst.state.Release()
	r.detector.Discard(inst.id)
	r.dropAmbientDependent(inst.id)
	r.instances.Remove(inst.id)
	if p := inst.parentInstance(); p != nil {
		p.removeChild(inst)
	}
	r.metrics.SetInstances(r.instances.Count())
	r.metrics.SetDirty(r.detector.Len())
}

// Shutdown unmounts every root instance, most recent first.
func (r *Runtime) Shutdown() {
	roots := r.Instances()
	for n := len(roots) - 1; n >= 0; n-- {
		if roots[n].parentInstance() == nil && roots[n].Phase().Live() {
			r.unmount(roots[n])
		}
	}
}

// Mutate applies fn to the state of instance id. It returns the sorted
// names of the fields that changed. A failing fn leaves the state unchanged
// and returns a *errors.MutationError.
func (r *Runtime) Mutate(id ID, fn func(d *state.Draft) error) ([]string, error) {
	inst, ok := r.live(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownInstance, id)
	}
	return r.mutate(inst, fn)
}

// Patch sets the given state fields of instance id.
func (r *Runtime) Patch(id ID, p state.Patch) ([]string, error) {
	inst, ok := r.live(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownInstance, id)
	}
	return r.patch(inst, p)
}

func (r *Runtime) mutate(inst *Instance, fn func(d *state.Draft) error) ([]string, error) {
	changed, err := inst.state.Update(fn)
	if err != nil {
		var merr *errors.MutationError
		if errors.As(err, &merr) {
			merr.Instance = uint64(inst.id)
			merr.Component = inst.def.Name
		}
		r.metrics.ObserveMutation(err)
		return nil, err
	}
	if len(changed) > 0 {
		r.metrics.ObserveMutation(nil)
	}
	return changed, nil
}

func (r *Runtime) patch(inst *Instance, p state.Patch) ([]string, error) {
	return r.mutate(inst, func(d *state.Draft) error {
		for k, v := range p {
			d.Set(k, v)
		}
		return nil
	})
}

// stateChanged is the state container's notifier.
func (r *Runtime) stateChanged(inst *Instance, changed []string) {
	r.detector.Mark(inst.id, changed...)
	r.metrics.SetDirty(r.detector.Len())
	r.emit(Event{
		Kind:      EventMutation,
		Instance:  inst.id,
		Component: inst.def.Name,
		Tick:      r.scheduler.Tick(),
		Fields:    changed,
	})
}

func (r *Runtime) markDirty(inst *Instance) {
	r.detector.Mark(inst.id)
	r.metrics.SetDirty(r.detector.Len())
}

// SetProps validates raw against the instance's schema and schedules the
// resulting bundle. The bundle is applied at the start of the instance's
// next update cycle, before its hooks run, in the same cycle as any state
// change made in the meantime. The last SetProps before a flush wins. A
// validation failure leaves the instance untouched. A bundle the definition
// considers unchanged from the current props discards any pending bundle
// and schedules nothing.
func (r *Runtime) SetProps(id ID, raw map[string]any) error {
	inst, ok := r.live(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownInstance, id)
	}
	bundle, err := props.Validate(inst.def.Schema, raw)
	if err != nil {
		return err
	}
	if inst.def.sameProps(inst.Props(), bundle) {
		inst.clearPending()
		return nil
	}
	inst.setPending(bundle)
	r.markDirty(inst)
	return nil
}

// Dispatch delivers an interaction event to instance id. Without a binding
// the event is a DispatchMiss and nothing happens. If the instance is dirty
// and no flush or handler is running, a flush runs first so that its updated
// hook precedes the event. A dispatch made from inside a handler, such as a
// callback prop reaching a parent, joins the current tick instead.
func (r *Runtime) Dispatch(ctx context.Context, id ID, interaction string, payload any) (Outcome, error) {
	ctx, span := r.tracer.Start(ctx, "orbit.dispatch", trace.WithAttributes(
		attribute.Int64("orbit.instance", int64(id)),
		attribute.String("orbit.interaction", interaction),
	))
	defer span.End()

	inst, ok := r.live(id)
	if !ok {
		r.metrics.ObserveDispatch(DispatchMiss.String())
		r.emit(Event{Kind: EventDispatch, Instance: id, Tick: r.scheduler.Tick(), Interaction: interaction, Outcome: DispatchMiss})
		return DispatchMiss, nil
	}
	if r.dispatching == 0 && r.detector.Contains(id) && !r.scheduler.Flushing() {
		r.scheduler.Flush(ctx)
	}

	outcome := DispatchMiss
	var err error
	if inst.Phase().Live() {
		r.dispatching++
		outcome, err = r.dispatcher.Dispatch(inst, interaction, payload)
		r.dispatching--
	}

	label := outcome.String()
	if err != nil {
		label = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(attribute.String("orbit.outcome", outcome.String()))
	r.metrics.ObserveDispatch(label)
	r.emit(Event{
		Kind:        EventDispatch,
		Instance:    id,
		Component:   inst.def.Name,
		Tick:        r.scheduler.Tick(),
		Interaction: interaction,
		Outcome:     outcome,
		Err:         err,
	})
	return outcome, err
}

// Flush runs one scheduler tick.
func (r *Runtime) Flush(ctx context.Context) TickReport {
	return r.scheduler.Flush(ctx)
}

// Instance returns the live instance id.
func (r *Runtime) Instance(id ID) (*Instance, bool) {
	return r.live(id)
}

// Instances returns the live instances in ascending ID order.
func (r *Runtime) Instances() []*Instance {
	items := r.instances.Items()
	out := make([]*Instance, 0, len(items))
	for _, inst := range items {
		out = append(out, inst)
	}
	slices.SortFunc(out, func(a, b *Instance) int {
		switch {
		case a.id < b.id:
			return -1
		case a.id > b.id:
			return 1
		}
		return 0
	})
	return out
}

// Len returns the number of live instances.
func (r *Runtime) Len() int {
	return r.instances.Count()
}

func (r *Runtime) live(id ID) (*Instance, bool) {
	inst, ok := r.instances.Get(id)
	if !ok || !inst.Phase().Live() {
		return nil, false
	}
	return inst, true
}

func (r *Runtime) emit(e Event) {
	r.observer.Observe(e)
}

// render hands the instance to the bridge. Failures are reported and
// returned but never change the lifecycle phase.
func (r *Runtime) render(ctx context.Context, inst *Instance, reason render.Reason) error {
	target := render.Target{
		Instance:  uint64(inst.id),
		Component: inst.def.Name,
		Tick:      r.scheduler.Tick(),
		Reason:    reason,
		Props:     inst.Props(),
		State:     inst.State(),
	}
	out, rerr := r.safeRender(ctx, inst, target)
	if rerr != nil {
		r.metrics.ObserveRender(rerr)
		errors.ReportRenderError(r.reporter, rerr)
		r.emit(Event{Kind: EventRender, Instance: inst.id, Component: inst.def.Name, Tick: target.Tick, Reason: reason.String(), Err: rerr})
		return rerr
	}
	inst.setOutput(out)
	r.metrics.ObserveRender(nil)
	r.emit(Event{Kind: EventRender, Instance: inst.id, Component: inst.def.Name, Tick: target.Tick, Reason: reason.String()})
	return nil
}

func (r *Runtime) safeRender(ctx context.Context, inst *Instance, target render.Target) (out render.Output, rerr *errors.RenderError) {
	defer func() {
		if rec := recover(); rec != nil {
			out = nil
			rerr = &errors.RenderError{
				Instance:  uint64(inst.id),
				Component: inst.def.Name,
				Recovered: rec,
				Timestamp: time.Now(),
			}
		}
	}()
	if derive := inst.def.Derive; derive != nil {
		target.Derived = derive(target.Props, target.State)
	}
	result, err := r.bridge.Render(ctx, target)
	if err != nil {
		return nil, &errors.RenderError{
			Instance:  uint64(inst.id),
			Component: inst.def.Name,
			Err:       err,
			Timestamp: time.Now(),
		}
	}
	return result, nil
}
