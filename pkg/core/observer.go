package core

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// EventKind classifies runtime events.
type EventKind int

const (
	EventCreated EventKind = iota
	EventTransition
	EventHook
	EventDispatch
	EventMutation
	EventRender
	EventFlush
	EventLog
)

func (k EventKind) String() string {
	switch k {
	case EventCreated:
		return "created"
	case EventTransition:
		return "transition"
	case EventHook:
		return "hook"
	case EventDispatch:
		return "dispatch"
	case EventMutation:
		return "mutation"
	case EventRender:
		return "render"
	case EventFlush:
		return "flush"
	case EventLog:
		return "log"
	default:
		return "unknown"
	}
}

// Event is one observable step of the runtime. Only the fields relevant to
// Kind are set.
type Event struct {
	Kind      EventKind
	Instance  ID
	Component string
	Tick      uint64

	// From and To are set for EventTransition.
	From, To Phase
	// Hook is set for EventHook.
	Hook string
	// Interaction and Outcome are set for EventDispatch.
	Interaction string
	Outcome     Outcome
	// Fields lists changed state fields for EventMutation.
	Fields []string
	// Reason is "mount" or "update" for EventRender.
	Reason string
	// Flushed and Skipped are set for EventFlush.
	Flushed, Skipped int
	// Message is set for EventLog.
	Message string
	// Err is the failure, if any, of the step.
	Err error
}

// String formats the event as a single stable line. Lifecycle traces and
// golden snapshots rely on this format.
func (e Event) String() string {
	var sb strings.Builder
	if e.Kind != EventFlush {
		fmt.Fprintf(&sb, "%s%s ", e.Component, e.Instance)
	}
	switch e.Kind {
	case EventCreated:
		sb.WriteString("created")
	case EventTransition:
		fmt.Fprintf(&sb, "%s -> %s", e.From, e.To)
	case EventHook:
		fmt.Fprintf(&sb, "hook %s", e.Hook)
	case EventDispatch:
		fmt.Fprintf(&sb, "dispatch %s %s", e.Interaction, e.Outcome)
	case EventMutation:
		fmt.Fprintf(&sb, "mutate %s", strings.Join(e.Fields, ","))
	case EventRender:
		fmt.Fprintf(&sb, "render %s", e.Reason)
	case EventFlush:
		fmt.Fprintf(&sb, "flush tick=%d flushed=%d skipped=%d", e.Tick, e.Flushed, e.Skipped)
	case EventLog:
		fmt.Fprintf(&sb, "log %q", e.Message)
	}
	if e.Err != nil {
		fmt.Fprintf(&sb, " error=%q", e.Err.Error())
	}
	return sb.String()
}

// Observer receives runtime events. Observers are called synchronously on
// the runtime goroutine and must not call back into the runtime.
type Observer interface {
	Observe(e Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(e Event)

// Observe calls f.
func (f ObserverFunc) Observe(e Event) { f(e) }

type nopObserver struct{}

func (nopObserver) Observe(Event) {}

// MultiObserver fans events out to every non-nil observer in order.
func MultiObserver(observers ...Observer) Observer {
	var out multiObserver
	for _, o := range observers {
		if o != nil {
			out = append(out, o)
		}
	}
	return out
}

type multiObserver []Observer

func (m multiObserver) Observe(e Event) {
	for _, o := range m {
		o.Observe(e)
	}
}

// LogObserver writes events through zerolog. Lifecycle chatter is logged at
// debug level, hook log lines at info, failures at warn.
type LogObserver struct {
	Logger zerolog.Logger
}

// NewLogObserver returns a LogObserver writing to logger.
func NewLogObserver(logger zerolog.Logger) *LogObserver {
	return &LogObserver{Logger: logger}
}

// Observe logs e.
func (o *LogObserver) Observe(e Event) {
	var ev *zerolog.Event
	switch {
	case e.Err != nil:
		ev = o.Logger.Warn().Err(e.Err)
	case e.Kind == EventLog:
		ev = o.Logger.Info()
	default:
		ev = o.Logger.Debug()
	}
	ev = ev.Stringer("event", e.Kind)
	if e.Instance != 0 {
		ev = ev.Uint64("instance", uint64(e.Instance)).Str("component", e.Component)
	}
	switch e.Kind {
	case EventTransition:
		ev = ev.Stringer("from", e.From).Stringer("to", e.To)
	case EventHook:
		ev = ev.Str("hook", e.Hook)
	case EventDispatch:
		ev = ev.Str("interaction", e.Interaction).Stringer("outcome", e.Outcome)
	case EventMutation:
		ev = ev.Strs("fields", e.Fields)
	case EventRender:
		ev = ev.Str("reason", e.Reason)
	case EventFlush:
		ev = ev.Uint64("tick", e.Tick).Int("flushed", e.Flushed).Int("skipped", e.Skipped)
	case EventLog:
		ev.Msg(e.Message)
		return
	}
	ev.Msg(e.Kind.String())
}
