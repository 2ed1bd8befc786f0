package host

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/gorhill/cronexpr"

	"github.com/go-orbit/orbit/pkg/core"
)

// schedule dispatches an interaction whenever its cron expression comes due.
type schedule struct {
	key         int
	spec        string
	expr        *cronexpr.Expression
	target      core.ID
	interaction string
	payload     any
	next        time.Time
}

// Schedule dispatches interaction to id each time the cron expression spec
// comes due. Expressions use the five to seven field cron syntax, or macros
// such as "@hourly". The returned function cancels the schedule; schedules
// targeting an unmounted instance are dropped when they next fire.
func (l *Loop) Schedule(spec string, id core.ID, interaction string, payload any) (cancel func(), err error) {
	expr, err := cronexpr.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("host: invalid schedule %q: %w", spec, err)
	}
	next := expr.Next(l.clock.Now())
	if next.IsZero() {
		return nil, fmt.Errorf("host: schedule %q never fires", spec)
	}

	l.mu.Lock()
	l.nextSched++
	s := &schedule{
		key:         l.nextSched,
		spec:        spec,
		expr:        expr,
		target:      id,
		interaction: interaction,
		payload:     payload,
		next:        next,
	}
	l.schedules[s.key] = s
	l.mu.Unlock()

	l.notify()
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.schedules, s.key)
	}, nil
}

// Schedules returns the number of active schedules.
func (l *Loop) Schedules() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.schedules)
}

func (l *Loop) nextDue() (time.Time, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var due time.Time
	for _, s := range l.schedules {
		if due.IsZero() || s.next.Before(due) {
			due = s.next
		}
	}
	return due, !due.IsZero()
}

// fireDue dispatches every schedule whose time has come, oldest first. A
// schedule fires at most once per step even if several occurrences were
// missed.
func (l *Loop) fireDue(ctx context.Context) (int, []error) {
	now := l.clock.Now()

	l.mu.Lock()
	var due []*schedule
	for _, s := range l.schedules {
		if !s.next.After(now) {
			due = append(due, s)
		}
	}
	l.mu.Unlock()
	sort.Slice(due, func(i, j int) bool {
		if !due[i].next.Equal(due[j].next) {
			return due[i].next.Before(due[j].next)
		}
		return due[i].key < due[j].key
	})

	var errs []error
	fired := 0
	for _, s := range due {
		if _, ok := l.rt.Instance(s.target); !ok {
			l.logger.Debug().Str("schedule", s.spec).Stringer("instance", s.target).Msg("schedule target gone")
			l.drop(s.key)
			continue
		}
		fired++
		if _, err := l.rt.Dispatch(ctx, s.target, s.interaction, s.payload); err != nil {
			l.logger.Warn().Err(err).Str("schedule", s.spec).Msg("scheduled dispatch failed")
			errs = append(errs, err)
		}

		l.mu.Lock()
		s.next = s.expr.Next(now)
		if s.next.IsZero() {
			delete(l.schedules, s.key)
		}
		l.mu.Unlock()
	}
	return fired, errs
}

func (l *Loop) drop(key int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.schedules, key)
}
