package core_test

import (
	"context"
	"fmt"

	"github.com/go-orbit/orbit/pkg/core"
	"github.com/go-orbit/orbit/pkg/props"
)

// This example mounts a counter, dispatches an interaction, and flushes the
// resulting update.
func ExampleRuntime() {
	counter := &core.Definition{
		Name: "Counter",
		Schema: props.MustSchema("Counter",
			props.Required("title", props.TypeString),
			props.Optional("initial", props.TypeInt, 0),
		),
		Interactions: []string{"increment"},
		Init: func(p props.Bundle) (map[string]any, error) {
			return map[string]any{"count": p.Int("initial")}, nil
		},
		Handlers: map[string]core.Handler{
			"increment": func(ctx *core.Context, _ any) error {
				return core.FieldOf[int](ctx, "count").Update(func(n int) int { return n + 1 })
			},
		},
		Updated: func(ctx *core.Context) error {
			fmt.Printf("%s updated: count=%d\n", ctx.Props().String("title"), ctx.State().Int("count"))
			return nil
		},
	}

	ctx := context.Background()
	rt := core.NewRuntime()
	inst, err := rt.Mount(ctx, counter, map[string]any{"title": "Counter", "initial": 5})
	if err != nil {
		fmt.Println(err)
		return
	}

	outcome, _ := rt.Dispatch(ctx, inst.ID(), "increment", nil)
	fmt.Println("increment:", outcome)
	outcome, _ = rt.Dispatch(ctx, inst.ID(), "archive", nil)
	fmt.Println("archive:", outcome)

	report := rt.Flush(ctx)
	fmt.Println("flushed:", report.Flushed)

	// Output:
	// increment: handled
	// Counter updated: count=6
	// archive: miss
	// flushed: []
}
