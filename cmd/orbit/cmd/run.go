package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/go-orbit/orbit/cmd/orbit/internal/scenario"
	"github.com/go-orbit/orbit/pkg/core"
	orbittest "github.com/go-orbit/orbit/pkg/testing"
)

type runOptions struct {
	snapshot string
	trace    bool
}

func newRunCmd(g *globalOptions) *cobra.Command {
	o := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run <scenario.yaml>",
		Short: "Play a scenario on a fake clock",
		Long: `Run mounts the scenario's instances, registers its schedules and plays
its steps deterministically: time only moves on "advance" steps.

The command fails when any expectation does not hold.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.resolve()
			if err != nil {
				return err
			}
			logger := newLogger(cfg, cmd.ErrOrStderr())

			s, err := scenario.Load(args[0])
			if err != nil {
				return err
			}
			paths := s.ComponentPaths()
			if len(paths) == 0 {
				paths = []string{cfg.ComponentsDir}
			}
			lib, err := scenario.LoadLibrary(paths...)
			if err != nil {
				return err
			}

			h := orbittest.NewHarness()
			defer h.Cleanup()
			h.AddObserver(core.NewLogObserver(logger))

			res, err := scenario.Run(s, lib, h, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			for _, err := range res.Errors {
				logger.Warn().Err(err).Msg("step failed")
			}
			for _, err := range h.Reported() {
				logger.Warn().Err(err).Msg("runtime reported an error")
			}

			if o.trace {
				fmt.Fprintln(cmd.OutOrStdout(), "trace:")
				for _, line := range h.Trace() {
					fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", line)
				}
			}
			if o.snapshot != "" {
				if err := h.CaptureSnapshot().UpdateFile(o.snapshot); err != nil {
					return fmt.Errorf("failed to write snapshot: %w", err)
				}
				logger.Info().Str("path", o.snapshot).Msg("snapshot written")
			}

			if !res.Passed() {
				return fmt.Errorf("%d expectation(s) failed", len(res.Failures))
			}
			fmt.Fprintln(cmd.OutOrStdout(), "PASS")
			return nil
		},
	}
	cmd.Flags().StringVar(&o.snapshot, "snapshot", "", "write the final snapshot to this file")
	cmd.Flags().BoolVar(&o.trace, "trace", false, "print the lifecycle event trace")
	return cmd
}
