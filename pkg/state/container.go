package state

import (
	"sync"

	"github.com/go-orbit/orbit/pkg/errors"
)

var (
	// ErrReleased is returned when mutating a container after Release.
	ErrReleased = errors.New("state record released")
	// ErrConflict is returned when the record changed while a transformation
	// was running, for example a transformation that mutates its own container.
	ErrConflict = errors.New("state record changed during transformation")
)

// Container wraps a state record and is its sole mutation entry point.
type Container struct {
	mu       sync.RWMutex
	record   Record
	version  uint64
	released bool
	notify   func(changed []string)
}

// NewContainer creates a container holding initial. notify, if non-nil, is
// called after each mutation that changed at least one field.
func NewContainer(initial Record, notify func(changed []string)) *Container {
	return &Container{
		record: RecordOf(initial.fields),
		notify: notify,
	}
}

// Snapshot returns the current record. Snapshots are immutable and always
// reflect a fully applied mutation.
func (c *Container) Snapshot() Record {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.record
}

// Released reports whether Release has been called.
func (c *Container) Released() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.released
}

// Update applies fn to a private copy of the record and swaps it in when fn
// succeeds. If fn returns an error or panics the record is unchanged, no
// notification fires, and a *errors.MutationError is returned. It returns
// the sorted names of the fields that changed.
func (c *Container) Update(fn func(d *Draft) error) ([]string, error) {
	if fn == nil {
		return nil, nil
	}

	c.mu.RLock()
	if c.released {
		c.mu.RUnlock()
		return nil, &errors.MutationError{Err: ErrReleased}
	}
	base, version := c.record, c.version
	c.mu.RUnlock()

	draft := &Draft{fields: base.Map()}
	if err := runTransform(fn, draft); err != nil {
		return nil, err
	}
	next := Record{fields: draft.fields}

	c.mu.Lock()
	if c.released {
		c.mu.Unlock()
		return nil, &errors.MutationError{Err: ErrReleased}
	}
	if c.version != version {
		c.mu.Unlock()
		return nil, &errors.MutationError{Err: ErrConflict}
	}
	changed := Diff(c.record, next)
	if len(changed) > 0 {
		c.record = next
		c.version++
	}
	notify := c.notify
	c.mu.Unlock()

	if len(changed) > 0 && notify != nil {
		notify(changed)
	}
	return changed, nil
}

// Patch sets every field in p. It is Update with an explicit field-set.
func (c *Container) Patch(p Patch) ([]string, error) {
	return c.Update(func(d *Draft) error {
		for k, v := range p {
			d.Set(k, v)
		}
		return nil
	})
}

// Release drops the record. Later reads return an empty record and later
// mutations fail with ErrReleased.
func (c *Container) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.released = true
	c.record = Record{}
	c.notify = nil
}

func runTransform(fn func(d *Draft) error, d *Draft) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &errors.MutationError{Recovered: r}
		}
	}()
	if ferr := fn(d); ferr != nil {
		return &errors.MutationError{Err: ferr}
	}
	return nil
}
