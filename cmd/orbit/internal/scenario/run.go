package scenario

import (
	"fmt"
	"io"
	"os"
	"reflect"
	"slices"
	"strings"

	"github.com/go-orbit/orbit/pkg/core"
	"github.com/go-orbit/orbit/pkg/host"
	"github.com/go-orbit/orbit/pkg/manifest"
	orbittest "github.com/go-orbit/orbit/pkg/testing"
)

// Result summarizes a run.
type Result struct {
	// Aliases maps mount aliases to instance IDs.
	Aliases map[string]core.ID
	// Failures lists failed expectations.
	Failures []string
	// Errors collects dispatch and step errors. Runs continue past them.
	Errors []error
}

// Passed reports whether every expectation held.
func (r *Result) Passed() bool { return len(r.Failures) == 0 }

// LoadLibrary builds a library from descriptor files and directories.
func LoadLibrary(paths ...string) (*manifest.Library, error) {
	lib := manifest.NewLibrary()
	for _, p := range paths {
		fi, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		if fi.IsDir() {
			if err := lib.LoadDir(p); err != nil {
				return nil, err
			}
			continue
		}
		d, err := manifest.Load(p)
		if err != nil {
			return nil, err
		}
		if _, err := lib.Add(d, p); err != nil {
			return nil, err
		}
	}
	return lib, nil
}

// MountAll mounts the scenario's instances in order and returns the alias
// table.
func MountAll(s *Scenario, lib *manifest.Library, mount func(*core.Definition, map[string]any, ...core.MountOption) (*core.Instance, error)) (map[string]core.ID, error) {
	aliases := make(map[string]core.ID, len(s.Mount))
	for _, m := range s.Mount {
		def, err := lib.Definition(m.Component, m.Version)
		if err != nil {
			return nil, fmt.Errorf("mount %q: %w", m.As, err)
		}
		var opts []core.MountOption
		if m.Parent != "" {
			opts = append(opts, core.WithParent(aliases[m.Parent]))
		}
		for _, key := range sortedKeys(m.Ambient) {
			opts = append(opts, core.WithAmbient(key, m.Ambient[key]))
		}
		inst, err := mount(def, m.Props, opts...)
		if err != nil {
			return nil, fmt.Errorf("mount %q: %w", m.As, err)
		}
		aliases[m.As] = inst.ID()
	}
	return aliases, nil
}

// ScheduleAll registers the scenario's cron schedules on l.
func ScheduleAll(s *Scenario, l *host.Loop, aliases map[string]core.ID) error {
	for i, sc := range s.Schedules {
		if _, err := l.Schedule(sc.Cron, aliases[sc.To], sc.Dispatch, sc.Payload); err != nil {
			return fmt.Errorf("schedule %d: %w", i+1, err)
		}
	}
	return nil
}

// Run mounts the scenario into h and plays its steps, writing one line per
// step to out.
func Run(s *Scenario, lib *manifest.Library, h *orbittest.Harness, out io.Writer) (*Result, error) {
	aliases, err := MountAll(s, lib, h.Mount)
	if err != nil {
		return nil, err
	}
	if err := ScheduleAll(s, h.Loop(), aliases); err != nil {
		return nil, err
	}
	if err := h.PumpAndSettle(0); err != nil {
		return nil, err
	}

	r := &runner{s: s, h: h, out: out, res: &Result{Aliases: aliases}}
	for i, st := range s.Steps {
		r.step(i+1, st)
	}
	return r.res, nil
}

type runner struct {
	s   *Scenario
	h   *orbittest.Harness
	out io.Writer
	res *Result
}

func (r *runner) printf(format string, args ...any) {
	fmt.Fprintf(r.out, format+"\n", args...)
}

func (r *runner) fail(n int, err error) {
	r.res.Errors = append(r.res.Errors, fmt.Errorf("step %d: %w", n, err))
	r.printf("step %d: error: %v", n, err)
}

func (r *runner) step(n int, st Step) {
	rt := r.h.Runtime()
	id := r.res.Aliases[st.To]
	kind, _ := st.kind()

	switch kind {
	case "dispatch":
		outcome, err := r.h.Dispatch(id, st.Dispatch, st.Payload)
		if err != nil {
			r.fail(n, err)
			return
		}
		r.printf("step %d: dispatch %s -> %s: %s", n, st.Dispatch, st.To, outcome)

	case "props":
		if err := rt.SetProps(id, st.Props); err != nil {
			r.fail(n, err)
			return
		}
		r.printf("step %d: props -> %s", n, st.To)

	case "provide":
		for _, key := range sortedKeys(st.Provide) {
			if err := rt.Provide(id, key, st.Provide[key]); err != nil {
				r.fail(n, err)
				return
			}
		}
		r.printf("step %d: provide %s -> %s", n, strings.Join(sortedKeys(st.Provide), ","), st.To)

	case "unmount":
		if err := rt.Unmount(r.res.Aliases[st.Unmount]); err != nil {
			r.fail(n, err)
			return
		}
		r.printf("step %d: unmount %s", n, st.Unmount)

	case "advance":
		r.h.Clock().Advance(st.Advance)
		rep := r.h.Pump()
		r.res.Errors = append(r.res.Errors, rep.Errors...)
		r.printf("step %d: advance %s: fired=%d flushed=%d", n, st.Advance, rep.Fired, len(rep.Tick.Flushed))

	case "flush":
		rep := r.h.Pump()
		r.res.Errors = append(r.res.Errors, rep.Errors...)
		r.printf("step %d: flush tick=%d flushed=%v", n, rep.Tick.Tick, rep.Tick.Flushed)

	case "settle":
		if err := r.h.PumpAndSettle(0); err != nil {
			r.fail(n, err)
			return
		}
		r.printf("step %d: settled", n)

	case "expect":
		failures := r.check(st.Expect)
		for _, f := range failures {
			f = fmt.Sprintf("step %d: %s: %s", n, st.Expect.To, f)
			r.res.Failures = append(r.res.Failures, f)
			r.printf("%s", f)
		}
		if len(failures) == 0 {
			r.printf("step %d: expect %s: ok", n, st.Expect.To)
		}
	}
}

func (r *runner) check(e *Expect) []string {
	inst, mounted := r.h.Runtime().Instance(r.res.Aliases[e.To])
	if e.Mounted != nil && *e.Mounted != mounted {
		return []string{fmt.Sprintf("mounted = %v, want %v", mounted, *e.Mounted)}
	}
	if !mounted {
		if e.State != nil || e.Phase != "" {
			return []string{"not mounted"}
		}
		return nil
	}

	var failures []string
	if e.Phase != "" && inst.Phase().String() != e.Phase {
		failures = append(failures, fmt.Sprintf("phase = %s, want %s", inst.Phase(), e.Phase))
	}
	rec := inst.State()
	for _, name := range sortedKeys(e.State) {
		want := e.State[name]
		got, ok := rec.Get(name)
		switch {
		case !ok:
			failures = append(failures, fmt.Sprintf("state.%s is missing", name))
		case !equalValue(want, got):
			failures = append(failures, fmt.Sprintf("state.%s = %v, want %v", name, got, want))
		}
	}
	return failures
}

// equalValue compares YAML values with state values. Numbers compare by
// value regardless of their Go type.
func equalValue(want, got any) bool {
	a, aok := toFloat(want)
	b, bok := toFloat(got)
	if aok && bok {
		return a == b
	}
	return reflect.DeepEqual(want, got)
}

func toFloat(v any) (float64, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	}
	return 0, false
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
