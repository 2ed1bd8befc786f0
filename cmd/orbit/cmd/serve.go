package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/go-orbit/orbit/cmd/orbit/internal/diag"
	"github.com/go-orbit/orbit/cmd/orbit/internal/scenario"
	"github.com/go-orbit/orbit/pkg/core"
	orbiterrors "github.com/go-orbit/orbit/pkg/errors"
	"github.com/go-orbit/orbit/pkg/host"
	"github.com/go-orbit/orbit/pkg/manifest"
	"github.com/go-orbit/orbit/pkg/metrics"
)

type serveOptions struct {
	scenario string
	addr     string
	duration time.Duration
}

func newServeCmd(g *globalOptions) *cobra.Command {
	o := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run components on the host loop",
		Long: `Serve mounts the instances and schedules of a scenario on a live
runtime and steps it on the host loop until interrupted. Scenario steps are
not played.

When a diagnostics address is configured, metrics, health probes and the
live instance tree are served over HTTP.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.resolve()
			if err != nil {
				return err
			}
			logger := newLogger(cfg, cmd.ErrOrStderr())
			if o.addr != "" {
				cfg.DiagnosticsAddr = o.addr
			}

			var s *scenario.Scenario
			paths := []string{cfg.ComponentsDir}
			if o.scenario != "" {
				if s, err = scenario.Load(o.scenario); err != nil {
					return err
				}
				if p := s.ComponentPaths(); len(p) > 0 {
					paths = p
				}
			}
			lib, err := scenario.LoadLibrary(paths...)
			if err != nil {
				return err
			}
			logger.Info().Strs("components", lib.Names()).Msg("library loaded")

			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector())
			rt := core.NewRuntime(
				core.WithMetrics(metrics.New(reg)),
				core.WithObserver(core.NewLogObserver(logger)),
				core.WithReporter(orbiterrors.NewLogHandler(logger, cfg.Verbose)),
			)
			defer rt.Shutdown()

			loop := host.New(rt,
				host.WithLogger(logger),
				host.WithIdle(cfg.IdleMin, cfg.IdleMax),
			)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if o.duration > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, o.duration)
				defer cancel()
			}

			if s != nil {
				if err := mountScenario(ctx, s, lib, rt, loop); err != nil {
					return err
				}
				logger.Info().Int("instances", rt.Len()).Int("schedules", loop.Schedules()).Msg("scenario mounted")
			}

			if cfg.DiagnosticsAddr != "" {
				srv, err := diag.Start(cfg.DiagnosticsAddr, diag.Handler(diag.Options{
					App:      cfg.AppName,
					Runtime:  rt,
					Loop:     loop,
					Gatherer: reg,
				}), logger)
				if err != nil {
					return err
				}
				defer func() {
					if err := srv.Stop(); err != nil {
						logger.Warn().Err(err).Msg("diagnostics shutdown")
					}
				}()
				fmt.Fprintf(cmd.OutOrStdout(), "diagnostics: http://%s\n", srv.Addr())
			}

			err = loop.Run(ctx)
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				logger.Info().Uint64("steps", loop.Steps()).Msg("shutting down")
				return nil
			}
			return err
		},
	}
	cmd.Flags().StringVar(&o.scenario, "scenario", "", "scenario whose mounts and schedules are served")
	cmd.Flags().StringVar(&o.addr, "addr", "", "diagnostics listen address, overrides orbit.yaml")
	cmd.Flags().DurationVar(&o.duration, "for", 0, "stop after this long (default: until interrupted)")
	return cmd
}

func mountScenario(ctx context.Context, s *scenario.Scenario, lib *manifest.Library, rt *core.Runtime, loop *host.Loop) error {
	mount := func(def *core.Definition, raw map[string]any, opts ...core.MountOption) (*core.Instance, error) {
		return rt.Mount(ctx, def, raw, opts...)
	}
	aliases, err := scenario.MountAll(s, lib, mount)
	if err != nil {
		return err
	}
	return scenario.ScheduleAll(s, loop, aliases)
}
