// Package core provides the component runtime: lifecycle, change detection,
// event dispatch and scheduling.
//
// A component is described by a Definition: a props schema, the interactions
// its template declares, how to build its initial state, its handlers, and
// its lifecycle hooks. The Runtime turns definitions into live Instances and
// keeps them consistent:
//
//	rt := core.NewRuntime(core.WithBridge(bridge))
//	inst, err := rt.Mount(ctx, counter, map[string]any{"title": "Counter", "initial": 5})
//	rt.Dispatch(ctx, inst.ID(), "increment", nil) // handler mutates state
//	rt.Flush(ctx)                                  // updated hook, then re-render
//
// # Lifecycle
//
// Every instance moves through Created, Mounted, then any number of
// Updating/Mounted cycles, and finally Unmounted, which is terminal. The
// mounted hook runs once before the first render; a failing mounted hook
// tears the instance down without an unmounted hook. The updated hook runs
// once per flushed cycle. Hook failures are reported through the runtime's
// errors.ErrorHandler and otherwise ignored.
//
// # Ticks
//
// State mutations do not re-render immediately. The ChangeDetector collects
// the identities of mutated instances, and Flush processes each of them once,
// in ascending ID order. Mutations made during a flush are deferred to the
// next one. Props replaced with SetProps are applied at the start of the
// instance's next cycle, before its hooks run.
//
// # Threading
//
// The Runtime is single-threaded: hooks, handlers and flushes all run on the
// goroutine that calls it. Other goroutines hand work to that goroutine, for
// example through host.Loop.Post.
//
// # Ambient Values
//
// An instance may provide read-only values to its subtree (WithAmbient,
// Runtime.Provide). Descendants resolve them with Context.Ambient and are
// updated when a value they resolved changes.
package core
