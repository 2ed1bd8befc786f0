package core

import (
	"strconv"

	"github.com/go-orbit/orbit/pkg/errors"
)

// ID identifies a component instance. IDs are assigned in construction order
// starting at 1 and are never reused within a Runtime.
type ID uint64

func (id ID) String() string {
	return "#" + strconv.FormatUint(uint64(id), 10)
}

// Phase is the lifecycle phase of a component instance.
type Phase int

const (
	// PhaseCreated is the phase of a constructed instance whose mounted hook
	// has not completed.
	PhaseCreated Phase = iota
	// PhaseMounted is the resting phase of a live instance.
	PhaseMounted
	// PhaseUpdating is held while a flush runs the instance's update hooks.
	PhaseUpdating
	// PhaseUnmounted is terminal.
	PhaseUnmounted
)

func (p Phase) String() string {
	switch p {
	case PhaseCreated:
		return "Created"
	case PhaseMounted:
		return "Mounted"
	case PhaseUpdating:
		return "Updating"
	case PhaseUnmounted:
		return "Unmounted"
	default:
		return "Phase(" + strconv.Itoa(int(p)) + ")"
	}
}

// ErrInvalidTransition is returned for a phase change the lifecycle does
// not allow. The phase is left untouched.
var ErrInvalidTransition = errors.New("invalid lifecycle transition")

// CanTransition reports whether an instance in phase p may move to next.
// Created may only reach Unmounted when its mounted hook fails.
func (p Phase) CanTransition(next Phase) bool {
	switch p {
	case PhaseCreated:
		return next == PhaseMounted || next == PhaseUnmounted
	case PhaseMounted:
		return next == PhaseUpdating || next == PhaseUnmounted
	case PhaseUpdating:
		return next == PhaseMounted || next == PhaseUnmounted
	default:
		return false
	}
}

// Live reports whether an instance in phase p still owns its state and
// bindings.
func (p Phase) Live() bool {
	return p != PhaseUnmounted
}
