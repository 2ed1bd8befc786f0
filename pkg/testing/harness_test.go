package testing

import (
	"errors"
	"reflect"
	"testing"

	"github.com/go-orbit/orbit/pkg/core"
	"github.com/go-orbit/orbit/pkg/props"
	"github.com/go-orbit/orbit/pkg/state"
)

var counterDef = &core.Definition{
	Name: "Counter",
	Schema: props.MustSchema("Counter",
		props.Required("title", props.TypeString),
	),
	Interactions: []string{"increment", "fail"},
	Init: func(props.Bundle) (map[string]any, error) {
		return map[string]any{"count": 0}, nil
	},
	Handlers: map[string]core.Handler{
		"increment": func(ctx *core.Context, _ any) error {
			return core.FieldOf[int](ctx, "count").Update(func(n int) int { return n + 1 })
		},
		"fail": func(*core.Context, any) error {
			return errors.New("refused")
		},
	},
	Derive: func(_ props.Bundle, s state.Record) map[string]any {
		return map[string]any{"even": s.Int("count")%2 == 0}
	},
}

func TestHarness_MountAndPump(t *testing.T) {
	h := NewHarnessWithT(t)
	counter, err := h.Mount(counterDef, map[string]any{"title": "Clicks"})
	if err != nil {
		t.Fatal(err)
	}

	want := []string{"Counter#1 Created -> Mounted", "Counter#1 render mount"}
	if got := h.Trace(core.EventTransition, core.EventRender); !reflect.DeepEqual(got, want) {
		t.Errorf("mount trace = %q, want %q", got, want)
	}

	h.ResetEvents()
	outcome, err := h.Dispatch(counter.ID(), "increment", nil)
	if err != nil || outcome != core.OutcomeHandled {
		t.Fatalf("Dispatch = %v, %v", outcome, err)
	}
	report := h.Pump()
	if !reflect.DeepEqual(report.Tick.Flushed, []core.ID{counter.ID()}) {
		t.Errorf("expected counter flushed, got %v", report.Tick.Flushed)
	}

	want = []string{
		"Counter#1 Mounted -> Updating",
		"Counter#1 Updating -> Mounted",
		"Counter#1 render update",
	}
	if got := h.Trace(core.EventTransition, core.EventRender); !reflect.DeepEqual(got, want) {
		t.Errorf("update trace = %q, want %q", got, want)
	}

	targets := h.Renders().For(uint64(counter.ID()))
	if len(targets) != 1 {
		t.Fatalf("expected 1 render since reset, got %d", len(targets))
	}
	if even, _ := targets[0].Derived["even"].(bool); even {
		t.Error("expected count 1 to derive even=false")
	}
}

func TestHarness_PostWaitsForPump(t *testing.T) {
	h := NewHarnessWithT(t)
	counter, err := h.Mount(counterDef, map[string]any{"title": "Clicks"})
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		if err := h.Post(counter.ID(), "increment", nil); err != nil {
			t.Fatal(err)
		}
	}
	if got := counter.State().Int("count"); got != 0 {
		t.Errorf("expected posted dispatches to wait, count=%d", got)
	}
	if err := h.PumpAndSettle(0); err != nil {
		t.Fatal(err)
	}
	if got := counter.State().Int("count"); got != 3 {
		t.Errorf("expected count 3, got %d", got)
	}
}

func TestHarness_PumpAndSettleTimeout(t *testing.T) {
	h := NewHarnessWithT(t)
	restless := &core.Definition{
		Name: "Restless",
		Mounted: func(ctx *core.Context) error {
			return core.FieldOf[int](ctx, "n").Set(1)
		},
		Updated: func(ctx *core.Context) error {
			return core.FieldOf[int](ctx, "n").Update(func(n int) int { return n + 1 })
		},
	}
	if _, err := h.Mount(restless, nil); err != nil {
		t.Fatal(err)
	}
	if err := h.PumpAndSettle(5); !errors.Is(err, ErrSettleTimeout) {
		t.Errorf("expected ErrSettleTimeout, got %v", err)
	}
}

func TestHarness_ReportedErrors(t *testing.T) {
	h := NewHarnessWithT(t)
	broken := &core.Definition{
		Name:    "Broken",
		Updated: func(*core.Context) error { panic("boom") },
	}
	inst, err := h.Mount(broken, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h.Runtime().Patch(inst.ID(), map[string]any{"x": 1}); err != nil {
		t.Fatal(err)
	}
	report := h.Pump()

	if len(report.Tick.Errors) != 1 {
		t.Fatalf("expected 1 flush error, got %v", report.Tick.Errors)
	}
	if len(h.Reported()) != 1 {
		t.Errorf("expected the hook panic to be reported once, got %v", h.Reported())
	}
}

func TestHarness_CleanupUnmountsEverything(t *testing.T) {
	h := NewHarness()
	var unmounted []string
	def := &core.Definition{
		Name: "Leaf",
		Unmounted: func(ctx *core.Context) error {
			unmounted = append(unmounted, ctx.ID().String())
			return nil
		},
	}
	for i := 0; i < 2; i++ {
		if _, err := h.Mount(def, nil); err != nil {
			t.Fatal(err)
		}
	}

	h.Cleanup()
	if len(unmounted) != 2 {
		t.Errorf("expected 2 unmounted hooks, got %v", unmounted)
	}
	if h.Runtime().Len() != 0 {
		t.Errorf("expected empty runtime, got %d", h.Runtime().Len())
	}
	if err := h.Post(1, "increment", nil); err == nil {
		t.Error("expected Post to fail after Cleanup")
	}
}

func TestHarness_AddObserver(t *testing.T) {
	h := NewHarnessWithT(t)
	var kinds []core.EventKind
	h.AddObserver(core.ObserverFunc(func(e core.Event) { kinds = append(kinds, e.Kind) }))

	if _, err := h.Mount(&core.Definition{Name: "Leaf"}, nil); err != nil {
		t.Fatal(err)
	}
	if len(kinds) != len(h.Events()) || kinds[0] != core.EventCreated {
		t.Errorf("forwarded %v, recorded %d events", kinds, len(h.Events()))
	}
}
