package core

import (
	"fmt"
	"time"

	"github.com/go-orbit/orbit/pkg/errors"
	"github.com/go-orbit/orbit/pkg/metrics"
)

// LifecycleController owns phase transitions and hook invocation. Hook
// failures are caught here, reported, and never corrupt the phase.
type LifecycleController struct {
	emit     func(Event)
	reporter errors.ErrorHandler
	metrics  *metrics.Metrics
	tick     func() uint64
}

// Transition moves inst to next and emits a transition event. It returns
// ErrInvalidTransition, leaving the phase untouched, when the lifecycle
// does not allow the change.
func (c *LifecycleController) Transition(inst *Instance, next Phase) error {
	inst.mu.Lock()
	from := inst.phase
	if !from.CanTransition(next) {
		inst.mu.Unlock()
		return fmt.Errorf("%w: %s%s %s -> %s", ErrInvalidTransition, inst.def.Name, inst.id, from, next)
	}
	inst.phase = next
	inst.mu.Unlock()

	c.emit(Event{
		Kind:      EventTransition,
		Instance:  inst.id,
		Component: inst.def.Name,
		Tick:      c.tick(),
		From:      from,
		To:        next,
	})
	return nil
}

// Mount runs the mounted hook of a Created instance and moves it to
// Mounted. If the hook fails the instance stays Created and the hook error
// is returned; the caller tears the instance down.
func (c *LifecycleController) Mount(inst *Instance) *errors.HookError {
	if h := inst.def.Mounted; h != nil {
		if herr := c.invoke(inst, HookMounted, h); herr != nil {
			return herr
		}
	}
	if err := c.Transition(inst, PhaseMounted); err != nil {
		errors.ReportTo(c.reporter, &errors.OrbitError{
			Op:       "core.Mount",
			Kind:     errors.KindHook,
			Instance: uint64(inst.id),
			Err:      err,
		})
	}
	return nil
}

// Update takes a Mounted instance through one Updating cycle: pending props
// are applied first, then the propsChanged and updated hooks run. The
// instance returns to Mounted unless a hook unmounted it. Hook failures are
// returned but do not stop the cycle.
func (c *LifecycleController) Update(inst *Instance) []error {
	if err := c.Transition(inst, PhaseUpdating); err != nil {
		return []error{err}
	}

	var errs []error
	if old, applied := inst.applyPending(); applied {
		if h := inst.def.PropsChanged; h != nil {
			herr := c.invoke(inst, HookPropsChanged, func(ctx *Context) error { return h(ctx, old) })
			if herr != nil {
				errs = append(errs, herr)
			}
		}
	}
	if h := inst.def.Updated; h != nil && inst.Phase() == PhaseUpdating {
		if herr := c.invoke(inst, HookUpdated, h); herr != nil {
			errs = append(errs, herr)
		}
	}

	if inst.Phase() == PhaseUpdating {
		if err := c.Transition(inst, PhaseMounted); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// Unmount moves inst to Unmounted and, when it had reached Mounted, runs
// its unmounted hook. Registered cleanups run afterwards in reverse order.
// It reports false when inst was already unmounted.
func (c *LifecycleController) Unmount(inst *Instance) bool {
	from := inst.Phase()
	if err := c.Transition(inst, PhaseUnmounted); err != nil {
		return false
	}
	if h := inst.def.Unmounted; h != nil && from != PhaseCreated {
		c.invoke(inst, HookUnmounted, h)
	}
	c.dispose(inst)
	return true
}

func (c *LifecycleController) dispose(inst *Instance) {
	disposers := inst.disposers
	inst.disposers = nil
	for n := len(disposers) - 1; n >= 0; n-- {
		if disposers[n] == nil {
			continue
		}
		func() {
			defer func() {
				if r := recover(); r != nil {
					errors.ReportTo(c.reporter, &errors.OrbitError{
						Op:         "core.Unmount",
						Kind:       errors.KindPanic,
						Instance:   uint64(inst.id),
						Err:        &errors.PanicError{Op: "core.Unmount", Value: r, Timestamp: time.Now()},
						StackTrace: errors.CaptureStack(),
					})
				}
			}()
			disposers[n]()
		}()
	}
}

// invoke runs hook with panic recovery. A failure is reported, counted and
// returned; the hook event is emitted either way.
func (c *LifecycleController) invoke(inst *Instance, hook string, fn Hook) *errors.HookError {
	var herr *errors.HookError
	func() {
		defer func() {
			if r := recover(); r != nil {
				herr = &errors.HookError{
					Instance:   uint64(inst.id),
					Component:  inst.def.Name,
					Hook:       hook,
					Recovered:  r,
					StackTrace: errors.CaptureStack(),
					Timestamp:  time.Now(),
				}
			}
		}()
		if err := fn(newContext(inst)); err != nil {
			herr = &errors.HookError{
				Instance:  uint64(inst.id),
				Component: inst.def.Name,
				Hook:      hook,
				Err:       err,
				Timestamp: time.Now(),
			}
		}
	}()

	ev := Event{
		Kind:      EventHook,
		Instance:  inst.id,
		Component: inst.def.Name,
		Tick:      c.tick(),
		Hook:      hook,
	}
	if herr != nil {
		ev.Err = herr
		errors.ReportHookError(c.reporter, herr)
		c.metrics.ObserveHookError(hook)
	}
	c.emit(ev)
	return herr
}
