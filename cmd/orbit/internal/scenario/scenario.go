// Package scenario runs scripted component sessions.
//
// A scenario mounts instances from a descriptor library, then applies a
// list of steps against a test harness with a fake clock:
//
//	name: counter clicks
//	components: [components]
//	mount:
//	  - {as: counter, component: Counter, props: {title: Clicks}}
//	schedules:
//	  - {cron: "@hourly", to: counter, dispatch: increment}
//	steps:
//	  - {dispatch: increment, to: counter}
//	  - {flush: true}
//	  - {advance: 1h}
//	  - expect: {to: counter, state: {count: 2}}
package scenario

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Scenario is a scripted session.
type Scenario struct {
	Name string `yaml:"name,omitempty"`
	// Components lists descriptor files or directories, relative to the
	// scenario file.
	Components []string       `yaml:"components,omitempty"`
	Mount      []MountSpec    `yaml:"mount"`
	Schedules  []ScheduleSpec `yaml:"schedules,omitempty"`
	Steps      []Step         `yaml:"steps,omitempty"`

	dir string
}

// MountSpec mounts one instance under an alias.
type MountSpec struct {
	As        string         `yaml:"as"`
	Component string         `yaml:"component"`
	Version   string         `yaml:"version,omitempty"`
	Parent    string         `yaml:"parent,omitempty"`
	Props     map[string]any `yaml:"props,omitempty"`
	Ambient   map[string]any `yaml:"ambient,omitempty"`
}

// ScheduleSpec dispatches an interaction on a cron schedule.
type ScheduleSpec struct {
	Cron     string `yaml:"cron"`
	To       string `yaml:"to"`
	Dispatch string `yaml:"dispatch"`
	Payload  any    `yaml:"payload,omitempty"`
}

// Step is one scripted action. Exactly one of Dispatch, Props, Provide,
// Unmount, Advance, Flush, Settle and Expect is set.
type Step struct {
	Dispatch string         `yaml:"dispatch,omitempty"`
	Payload  any            `yaml:"payload,omitempty"`
	Props    map[string]any `yaml:"props,omitempty"`
	Provide  map[string]any `yaml:"provide,omitempty"`
	Unmount  string         `yaml:"unmount,omitempty"`
	Advance  time.Duration  `yaml:"advance,omitempty"`
	Flush    bool           `yaml:"flush,omitempty"`
	Settle   bool           `yaml:"settle,omitempty"`
	Expect   *Expect        `yaml:"expect,omitempty"`
	// To names the target alias of Dispatch, Props and Provide.
	To string `yaml:"to,omitempty"`
}

// Expect asserts on one instance.
type Expect struct {
	To      string         `yaml:"to"`
	State   map[string]any `yaml:"state,omitempty"`
	Phase   string         `yaml:"phase,omitempty"`
	Mounted *bool          `yaml:"mounted,omitempty"`
}

func (s Step) kind() (string, int) {
	kind, n := "", 0
	set := func(ok bool, name string) {
		if ok {
			kind = name
			n++
		}
	}
	set(s.Dispatch != "", "dispatch")
	set(s.Props != nil, "props")
	set(s.Provide != nil, "provide")
	set(s.Unmount != "", "unmount")
	set(s.Advance != 0, "advance")
	set(s.Flush, "flush")
	set(s.Settle, "settle")
	set(s.Expect != nil, "expect")
	return kind, n
}

// Parse decodes a scenario. Relative component paths resolve against dir.
func Parse(data []byte, dir string) (*Scenario, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var s Scenario
	if err := dec.Decode(&s); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("empty scenario")
		}
		return nil, fmt.Errorf("failed to parse scenario: %w", err)
	}
	s.dir = dir
	if err := s.validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Load reads and parses the scenario at path.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	s, err := Parse(data, filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// ComponentPaths returns the component paths resolved against the
// scenario's directory.
func (s *Scenario) ComponentPaths() []string {
	out := make([]string, len(s.Components))
	for i, p := range s.Components {
		if filepath.IsAbs(p) {
			out[i] = p
			continue
		}
		out[i] = filepath.Join(s.dir, p)
	}
	return out
}

func (s *Scenario) validate() error {
	aliases := make(map[string]bool, len(s.Mount))
	for i, m := range s.Mount {
		switch {
		case m.As == "":
			return fmt.Errorf("mount %d: missing alias", i+1)
		case aliases[m.As]:
			return fmt.Errorf("mount %d: duplicate alias %q", i+1, m.As)
		case m.Component == "":
			return fmt.Errorf("mount %q: missing component", m.As)
		case m.Parent != "" && !aliases[m.Parent]:
			return fmt.Errorf("mount %q: parent %q is not mounted before it", m.As, m.Parent)
		}
		aliases[m.As] = true
	}

	known := func(alias string) bool { return aliases[alias] }
	for i, sc := range s.Schedules {
		if sc.Cron == "" || sc.Dispatch == "" {
			return fmt.Errorf("schedule %d: cron and dispatch are required", i+1)
		}
		if !known(sc.To) {
			return fmt.Errorf("schedule %d: unknown target %q", i+1, sc.To)
		}
	}
	for i, st := range s.Steps {
		kind, n := st.kind()
		if n != 1 {
			return fmt.Errorf("step %d: exactly one action is required, found %d", i+1, n)
		}
		var target string
		switch kind {
		case "dispatch", "props", "provide":
			target = st.To
		case "unmount":
			target = st.Unmount
		case "expect":
			target = st.Expect.To
		case "advance":
			if st.Advance < 0 {
				return fmt.Errorf("step %d: advance must be positive", i+1)
			}
			continue
		default:
			continue
		}
		if !known(target) {
			return fmt.Errorf("step %d: %s targets unknown alias %q", i+1, kind, target)
		}
	}
	return nil
}
