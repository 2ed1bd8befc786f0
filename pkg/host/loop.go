// Package host drives a core.Runtime from a single goroutine.
//
// Other goroutines hand work to the loop with Post. Each step drains the
// inbox, runs the callbacks in the order they were posted, fires due cron
// schedules, and then flushes the runtime once. Run repeats steps until its
// context is cancelled, sleeping between idle steps with an exponential
// backoff that resets as soon as work arrives.
package host

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Workiva/go-datastructures/queue"
	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/go-orbit/orbit/pkg/core"
	orbiterrors "github.com/go-orbit/orbit/pkg/errors"
)

// ErrClosed is returned by Post after the loop has been closed.
var ErrClosed = errors.New("host: loop closed")

// Task is a unit of work run on the loop goroutine.
type Task func(ctx context.Context, rt *core.Runtime) error

// Clock supplies the current time for cron schedules and liveness.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock is the wall clock.
var SystemClock Clock = systemClock{}

// Option configures a Loop.
type Option func(*Loop)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(l *Loop) { l.clock = c }
}

// WithLogger sets the logger used for task and dispatch failures.
func WithLogger(logger zerolog.Logger) Option {
	return func(l *Loop) { l.logger = logger }
}

// WithIdle bounds the sleep between idle steps in Run.
func WithIdle(lo, hi time.Duration) Option {
	return func(l *Loop) {
		l.idleMin = lo
		l.idleMax = hi
	}
}

// WithInboxHint sizes the inbox's initial capacity.
func WithInboxHint(n int) Option {
	return func(l *Loop) { l.hint = int64(n) }
}

// StepReport summarizes one step.
type StepReport struct {
	// Tasks is the number of posted tasks run.
	Tasks int
	// Fired is the number of cron schedules that dispatched.
	Fired int
	// Tick is the flush that ended the step.
	Tick core.TickReport
	// Errors collects task and scheduled dispatch failures.
	Errors []error
}

// Idle reports whether the step found nothing to do.
func (r StepReport) Idle() bool {
	return r.Tasks == 0 && r.Fired == 0 && r.Tick.Empty()
}

// Loop owns a runtime and serializes all access to it.
type Loop struct {
	rt     *core.Runtime
	inbox  *queue.Queue
	clock  Clock
	logger zerolog.Logger
	hint   int64

	idleMin time.Duration
	idleMax time.Duration

	wake chan struct{}

	mu        sync.Mutex
	schedules map[int]*schedule
	nextSched int

	running  atomic.Bool
	lastStep atomic.Int64
	steps    atomic.Uint64
}

// New creates a loop for rt and wires the runtime's change detector to wake
// the loop when a flush is needed.
func New(rt *core.Runtime, opts ...Option) *Loop {
	l := &Loop{
		rt:        rt,
		clock:     SystemClock,
		logger:    zerolog.Nop(),
		hint:      64,
		idleMin:   5 * time.Millisecond,
		idleMax:   time.Second,
		wake:      make(chan struct{}, 1),
		schedules: make(map[int]*schedule),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.idleMax < l.idleMin {
		l.idleMax = l.idleMin
	}
	l.inbox = queue.New(l.hint)
	rt.Detector().OnNeedsFlush = l.notify
	return l
}

// Runtime returns the driven runtime. It must only be used from the loop
// goroutine or from tasks.
func (l *Loop) Runtime() *core.Runtime { return l.rt }

func (l *Loop) notify() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Post queues task for the next step. It is safe for concurrent use.
func (l *Loop) Post(task Task) error {
	if task == nil {
		return nil
	}
	if err := l.inbox.Put(task); err != nil {
		if errors.Is(err, queue.ErrDisposed) {
			return ErrClosed
		}
		return err
	}
	l.notify()
	return nil
}

// PostDispatch queues an interaction dispatch.
func (l *Loop) PostDispatch(id core.ID, interaction string, payload any) error {
	return l.Post(func(ctx context.Context, rt *core.Runtime) error {
		_, err := rt.Dispatch(ctx, id, interaction, payload)
		return err
	})
}

// PostProps queues a props replacement.
func (l *Loop) PostProps(id core.ID, raw map[string]any) error {
	return l.Post(func(_ context.Context, rt *core.Runtime) error {
		return rt.SetProps(id, raw)
	})
}

// Pending returns the number of queued tasks.
func (l *Loop) Pending() int {
	return int(l.inbox.Len())
}

func (l *Loop) drain() []Task {
	n := l.inbox.Len()
	if n == 0 {
		return nil
	}
	items, err := l.inbox.Get(n)
	if err != nil {
		return nil
	}
	tasks := make([]Task, 0, len(items))
	for _, item := range items {
		if t, ok := item.(Task); ok {
			tasks = append(tasks, t)
		}
	}
	return tasks
}

// Step runs one iteration: queued tasks, due schedules, then one flush.
// Tasks posted while the step runs wait for the next step.
func (l *Loop) Step(ctx context.Context) StepReport {
	var report StepReport

	for _, task := range l.drain() {
		report.Tasks++
		if err := l.runTask(ctx, task); err != nil {
			report.Errors = append(report.Errors, err)
		}
	}

	fired, errs := l.fireDue(ctx)
	report.Fired = fired
	report.Errors = append(report.Errors, errs...)

	report.Tick = l.rt.Flush(ctx)

	l.steps.Add(1)
	l.lastStep.Store(l.clock.Now().UnixNano())
	return report
}

func (l *Loop) runTask(ctx context.Context, task Task) (err error) {
	defer func() {
		if err != nil {
			l.logger.Warn().Err(err).Msg("task failed")
		}
	}()
	defer orbiterrors.Recover("host.Task", &err)
	return task(ctx, l.rt)
}

// RunUntilIdle steps until a step finds nothing to do, or maxSteps steps
// have run. It returns the number of steps taken and an error if the
// runtime did not settle.
func (l *Loop) RunUntilIdle(ctx context.Context, maxSteps int) (int, error) {
	for n := 1; n <= maxSteps; n++ {
		if err := ctx.Err(); err != nil {
			return n - 1, err
		}
		if l.Step(ctx).Idle() && l.Pending() == 0 && l.rt.Detector().Len() == 0 {
			return n, nil
		}
	}
	return maxSteps, fmt.Errorf("host: not idle after %d steps", maxSteps)
}

// Run steps the loop until ctx is cancelled. Busy steps follow each other
// immediately; idle steps back off between idleMin and idleMax, waking
// early on Post, on a state change, or when a schedule is due. The inbox is
// closed when Run returns.
func (l *Loop) Run(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return errors.New("host: loop already running")
	}
	defer l.running.Store(false)
	defer l.Close()

	idle := backoff.NewExponentialBackOff()
	idle.InitialInterval = l.idleMin
	idle.MaxInterval = l.idleMax
	idle.MaxElapsedTime = 0
	idle.RandomizationFactor = 0
	idle.Reset()

	timer := time.NewTimer(l.idleMax)
	timer.Stop()
	defer timer.Stop()

	l.logger.Debug().Msg("loop started")
	for {
		if err := ctx.Err(); err != nil {
			l.logger.Debug().Uint64("steps", l.steps.Load()).Msg("loop stopped")
			return err
		}

		if !l.Step(ctx).Idle() {
			idle.Reset()
			continue
		}

		wait := idle.NextBackOff()
		if due, ok := l.nextDue(); ok {
			if until := due.Sub(l.clock.Now()); until < wait {
				wait = max(until, 0)
			}
		}
		timer.Reset(wait)
		select {
		case <-ctx.Done():
		case <-l.wake:
			idle.Reset()
		case <-timer.C:
		}
		timer.Stop()
	}
}

// Running reports whether Run is active.
func (l *Loop) Running() bool { return l.running.Load() }

// Steps returns the number of steps taken.
func (l *Loop) Steps() uint64 { return l.steps.Load() }

// LastStep returns the clock time of the most recent step, or the zero time.
func (l *Loop) LastStep() time.Time {
	n := l.lastStep.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// Live returns an error if Run is active but has not stepped within
// maxStall. Run steps at least once per idleMax, so a stall longer than
// that means a callback is blocking the loop.
func (l *Loop) Live(maxStall time.Duration) error {
	if !l.Running() {
		return nil
	}
	last := l.LastStep()
	if last.IsZero() {
		return nil
	}
	if since := l.clock.Now().Sub(last); since > maxStall {
		return fmt.Errorf("host: no step for %s", since.Round(time.Millisecond))
	}
	return nil
}

// Close stops accepting posts and drops queued tasks. It returns the number
// of tasks dropped.
func (l *Loop) Close() int {
	if l.inbox.Disposed() {
		return 0
	}
	return len(l.inbox.Dispose())
}
