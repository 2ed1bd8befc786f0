package core

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-orbit/orbit/pkg/errors"
	"github.com/go-orbit/orbit/pkg/metrics"
	"github.com/go-orbit/orbit/pkg/render"
)

// TickReport summarizes one flush.
type TickReport struct {
	// Tick is the flush number, starting at 1.
	Tick uint64
	// Flushed lists the instances taken through an update cycle, in order.
	Flushed []ID
	// Skipped lists dirty instances that were no longer mounted.
	Skipped []ID
	// Errors collects hook and render failures. They were already reported.
	Errors []error
}

// Empty reports whether the flush did no work.
func (r TickReport) Empty() bool {
	return len(r.Flushed) == 0 && len(r.Skipped) == 0
}

// Scheduler drains the dirty set once per tick and drives each member
// through an update cycle and a re-render, in ascending ID order.
// Construction order is therefore flush order.
type Scheduler struct {
	detector  *ChangeDetector
	lifecycle *LifecycleController
	lookup    func(ID) (*Instance, bool)
	render    func(ctx context.Context, inst *Instance, reason render.Reason) error
	emit      func(Event)
	tracer    trace.Tracer
	metrics   *metrics.Metrics

	tick     uint64
	flushing bool
}

// Tick returns the number of the current or last flush.
func (s *Scheduler) Tick() uint64 { return s.tick }

// Flushing reports whether a flush is in progress.
func (s *Scheduler) Flushing() bool { return s.flushing }

// Flush runs one tick. Instances marked dirty while it runs, for example by
// an updated hook, are left for the next tick. Calling Flush from inside a
// flush does nothing. A failure in one instance never stops the others.
func (s *Scheduler) Flush(ctx context.Context) TickReport {
	if s.flushing {
		return TickReport{Tick: s.tick}
	}
	s.tick++
	report := TickReport{Tick: s.tick}

	entries := s.detector.Drain()
	if len(entries) == 0 {
		return report
	}

	s.flushing = true
	defer func() { s.flushing = false }()

	ctx, span := s.tracer.Start(ctx, "orbit.flush", trace.WithAttributes(
		attribute.Int64("orbit.tick", int64(s.tick)),
		attribute.Int("orbit.dirty", len(entries)),
	))
	defer span.End()
	start := time.Now()

	for _, entry := range entries {
		inst, ok := s.lookup(entry.ID)
		if !ok || inst.Phase() != PhaseMounted {
			report.Skipped = append(report.Skipped, entry.ID)
			continue
		}
		report.Flushed = append(report.Flushed, entry.ID)
		report.Errors = append(report.Errors, s.cycle(ctx, inst)...)
	}

	if len(report.Errors) > 0 {
		span.SetStatus(codes.Error, errors.Join(report.Errors...).Error())
	}
	span.SetAttributes(
		attribute.Int("orbit.flushed", len(report.Flushed)),
		attribute.Int("orbit.skipped", len(report.Skipped)),
	)
	s.metrics.ObserveFlush(len(report.Flushed), len(report.Skipped), time.Since(start))
	s.metrics.SetDirty(s.detector.Len())
	s.emit(Event{
		Kind:    EventFlush,
		Tick:    s.tick,
		Flushed: len(report.Flushed),
		Skipped: len(report.Skipped),
	})
	return report
}

func (s *Scheduler) cycle(ctx context.Context, inst *Instance) []error {
	errs := s.lifecycle.Update(inst)
	if inst.Phase() != PhaseMounted {
		return errs
	}
	if err := s.render(ctx, inst, render.ReasonUpdate); err != nil {
		errs = append(errs, err)
	}
	return errs
}
