package testing

import (
	"reflect"
	"testing"

	"github.com/go-orbit/orbit/pkg/core"
)

func mountTree(t *testing.T, h *Harness) (form, left, right *core.Instance) {
	t.Helper()
	var err error
	form, err = h.Mount(&core.Definition{Name: "Form"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	left, err = h.Mount(counterDef, map[string]any{"title": "left"}, core.WithParent(form.ID()))
	if err != nil {
		t.Fatal(err)
	}
	right, err = h.Mount(counterDef, map[string]any{"title": "right"}, core.WithParent(form.ID()))
	if err != nil {
		t.Fatal(err)
	}
	return form, left, right
}

func TestFind_ByComponent(t *testing.T) {
	h := NewHarnessWithT(t)
	_, left, right := mountTree(t, h)
	h.Mount(counterDef, map[string]any{"title": "loose"})

	result := h.Find(ByComponent("Counter"))
	if result.Count() != 3 {
		t.Fatalf("expected 3 counters, got %d", result.Count())
	}
	if result.First() != left || result.At(1) != right {
		t.Error("expected matches in ID order")
	}
	if h.Find(ByComponent("Dialog")).Exists() {
		t.Error("expected no Dialog")
	}
}

func TestFind_ByStateAndProp(t *testing.T) {
	h := NewHarnessWithT(t)
	_, left, right := mountTree(t, h)

	if _, err := h.Dispatch(right.ID(), "increment", nil); err != nil {
		t.Fatal(err)
	}

	if got := h.Find(ByState("count", 1)).IDs(); !reflect.DeepEqual(got, []core.ID{right.ID()}) {
		t.Errorf("ByState(count=1) = %v", got)
	}
	if got := h.Find(ByProp("title", "left")).FirstOrNil(); got != left {
		t.Errorf("ByProp(title=left) = %v", got)
	}
	if got := h.Find(ByID(left.ID())).Count(); got != 1 {
		t.Errorf("ByID matched %d", got)
	}
	if got := h.Find(ByPhase(core.PhaseMounted)).Count(); got != 3 {
		t.Errorf("ByPhase(Mounted) matched %d", got)
	}
}

func TestFind_DescendantAndAncestor(t *testing.T) {
	h := NewHarnessWithT(t)
	form, left, right := mountTree(t, h)
	h.Mount(counterDef, map[string]any{"title": "loose"})

	got := h.Find(Descendant(ByComponent("Form"), ByComponent("Counter"))).IDs()
	if !reflect.DeepEqual(got, []core.ID{left.ID(), right.ID()}) {
		t.Errorf("Descendant = %v", got)
	}

	anc := h.Find(Ancestor(ByProp("title", "right"), ByPredicate(func(*core.Instance) bool { return true })))
	if anc.Count() != 1 || anc.First() != form {
		t.Errorf("Ancestor = %v", anc.IDs())
	}
}

func TestFinderResult_PanicsWithDescription(t *testing.T) {
	h := NewHarnessWithT(t)
	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("expected panic")
		}
		if msg, _ := r.(string); msg != "Finder found no instances: ByComponent(Ghost)" {
			t.Errorf("unexpected panic message %q", msg)
		}
	}()
	h.Find(ByComponent("Ghost")).First()
}
