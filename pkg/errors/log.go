package errors

import (
	"os"

	"github.com/rs/zerolog"
)

var stderrLogger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

// LogHandler is an ErrorHandler that writes structured log entries.
// The zero value logs to stderr through a console writer.
type LogHandler struct {
	// Logger receives the entries. Nil selects the stderr console logger.
	Logger *zerolog.Logger
	// Verbose enables detailed output including stack traces.
	Verbose bool
}

// NewLogHandler returns a LogHandler writing to logger.
func NewLogHandler(logger zerolog.Logger, verbose bool) *LogHandler {
	return &LogHandler{Logger: &logger, Verbose: verbose}
}

func (h *LogHandler) logger() *zerolog.Logger {
	if h.Logger == nil {
		return &stderrLogger
	}
	return h.Logger
}

// HandleError logs an OrbitError.
func (h *LogHandler) HandleError(err *OrbitError) {
	if err == nil {
		return
	}
	ev := h.logger().Error().
		Str("op", err.Op).
		Stringer("kind", err.Kind).
		Err(err.Err)
	if err.Instance != 0 {
		ev = ev.Uint64("instance", err.Instance)
	}
	if h.Verbose && err.StackTrace != "" {
		ev = ev.Str("stack", err.StackTrace)
	}
	ev.Msg("orbit error")
}

// HandlePanic logs a PanicError.
func (h *LogHandler) HandlePanic(err *PanicError) {
	if err == nil {
		return
	}
	ev := h.logger().Error().Interface("value", err.Value)
	if err.Op != "" {
		ev = ev.Str("op", err.Op)
	}
	if h.Verbose && err.StackTrace != "" {
		ev = ev.Str("stack", err.StackTrace)
	}
	ev.Msg("orbit panic")
}

// HandleHookError logs a HookError.
func (h *LogHandler) HandleHookError(err *HookError) {
	if err == nil {
		return
	}
	ev := h.logger().Error().
		Str("component", err.Component).
		Uint64("instance", err.Instance).
		Str("hook", err.Hook)
	if err.Recovered != nil {
		ev = ev.Interface("panic", err.Recovered)
	} else {
		ev = ev.Err(err.Err)
	}
	if h.Verbose && err.StackTrace != "" {
		ev = ev.Str("stack", err.StackTrace)
	}
	ev.Msg("orbit hook failed")
}

// HandleRenderError logs a RenderError.
func (h *LogHandler) HandleRenderError(err *RenderError) {
	if err == nil {
		return
	}
	ev := h.logger().Warn().
		Str("component", err.Component).
		Uint64("instance", err.Instance)
	if err.Recovered != nil {
		ev = ev.Interface("panic", err.Recovered)
	} else {
		ev = ev.Err(err.Err)
	}
	ev.Msg("orbit render failed")
}
