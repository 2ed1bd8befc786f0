package manifest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/mod/semver"

	"github.com/go-orbit/orbit/pkg/core"
)

// ErrNotFound is returned by Lookup when no entry satisfies the request.
var ErrNotFound = errors.New("manifest: component not found")

// Entry is a compiled descriptor held by a Library.
type Entry struct {
	Descriptor *Descriptor
	Definition *core.Definition
	Version    string
	Source     string
}

// Library indexes compiled descriptors by component name and version.
type Library struct {
	mu      sync.RWMutex
	entries map[string][]*Entry // sorted by ascending version
}

func NewLibrary() *Library {
	return &Library{entries: make(map[string][]*Entry)}
}

// canonical normalizes a descriptor version to a semver string with a
// leading "v". An empty version is v0.0.0.
func canonical(version string) (string, error) {
	if version == "" {
		return "v0.0.0", nil
	}
	v := version
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	if !semver.IsValid(v) {
		return "", fmt.Errorf("invalid version %q", version)
	}
	return semver.Canonical(v), nil
}

// Add compiles d and stores it. source names where d came from and is only
// used in error messages.
func (l *Library) Add(d *Descriptor, source string) (*Entry, error) {
	version, err := canonical(d.Version)
	if err != nil {
		return nil, fmt.Errorf("%s: %s: %w", source, d.Component, err)
	}
	def, err := d.Compile()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", source, err)
	}
	e := &Entry{Descriptor: d, Definition: def, Version: version, Source: source}

	l.mu.Lock()
	defer l.mu.Unlock()
	list := l.entries[d.Component]
	for _, other := range list {
		if other.Version == version {
			return nil, fmt.Errorf("%s: %s %s already loaded from %s", source, d.Component, version, other.Source)
		}
	}
	list = append(list, e)
	sort.Slice(list, func(i, j int) bool {
		return semver.Compare(list[i].Version, list[j].Version) < 0
	})
	l.entries[d.Component] = list
	return e, nil
}

// Lookup returns the highest version of name matching constraint. An empty
// constraint or "latest" matches every version; "1" and "1.2" match a major
// or major.minor line; a full version matches exactly.
func (l *Library) Lookup(name, constraint string) (*Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	list := l.entries[name]
	if len(list) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if constraint == "" || constraint == "latest" {
		return list[len(list)-1], nil
	}

	want := constraint
	if !strings.HasPrefix(want, "v") {
		want = "v" + want
	}
	if !semver.IsValid(want) {
		return nil, fmt.Errorf("invalid version constraint %q", constraint)
	}
	var match func(v string) bool
	switch strings.Count(strings.TrimPrefix(strings.SplitN(want, "-", 2)[0], "v"), ".") {
	case 0:
		match = func(v string) bool { return semver.Major(v) == want }
	case 1:
		match = func(v string) bool { return semver.MajorMinor(v) == want }
	default:
		want = semver.Canonical(want)
		match = func(v string) bool { return v == want }
	}
	for i := len(list) - 1; i >= 0; i-- {
		if match(list[i].Version) {
			return list[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s@%s", ErrNotFound, name, constraint)
}

// Definition is Lookup returning only the compiled definition.
func (l *Library) Definition(name, constraint string) (*core.Definition, error) {
	e, err := l.Lookup(name, constraint)
	if err != nil {
		return nil, err
	}
	return e.Definition, nil
}

// Versions lists the loaded versions of name in ascending order.
func (l *Library) Versions(name string) []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	list := l.entries[name]
	out := make([]string, len(list))
	for i, e := range list {
		out[i] = e.Version
	}
	return out
}

// Names lists the loaded component names in sorted order.
func (l *Library) Names() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]string, 0, len(l.entries))
	for name := range l.entries {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of loaded entries across all components.
func (l *Library) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	n := 0
	for _, list := range l.entries {
		n += len(list)
	}
	return n
}

// LoadDir adds every *.yaml and *.yml file directly under dir. All files
// are attempted; the returned error joins every failure.
func (l *Library) LoadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read component dir: %w", err)
	}
	var errs []error
	for _, de := range entries {
		if de.IsDir() {
			continue
		}
		switch filepath.Ext(de.Name()) {
		case ".yaml", ".yml":
		default:
			continue
		}
		path := filepath.Join(dir, de.Name())
		d, err := Load(path)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if _, err := l.Add(d, path); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
