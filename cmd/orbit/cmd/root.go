// Package cmd implements the Orbit CLI commands.
//
// The root command resolves the project (orbit.yaml, go.mod) and logging
// flags shared by the validate, run and serve subcommands.
package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/go-orbit/orbit/cmd/orbit/internal/config"
)

// Version information set at build time.
var (
	Version   = "0.1.0-dev"
	BuildTime = "unknown"
)

type globalOptions struct {
	dir      string
	logLevel string
	json     bool
}

// NewRootCommand builds the orbit command tree.
func NewRootCommand() *cobra.Command {
	g := &globalOptions{}
	root := &cobra.Command{
		Use:   "orbit",
		Short: "Orbit - declarative components on a managed runtime",
		Long: `Orbit mounts components described in YAML descriptors, drives their
lifecycle and state, and serves them on a host loop with diagnostics.

Use "orbit <command> --help" for more information about a command.`,
		Version:       fmt.Sprintf("%s (built %s)", Version, BuildTime),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	root.PersistentFlags().StringVarP(&g.dir, "dir", "C", "", "project directory (default: nearest orbit.yaml or go.mod)")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "log level, overrides orbit.yaml")
	root.PersistentFlags().BoolVar(&g.json, "json", false, "write JSON logs")

	root.AddCommand(newValidateCmd(g))
	root.AddCommand(newRunCmd(g))
	root.AddCommand(newServeCmd(g))
	return root
}

// Execute runs the CLI with os.Args.
func Execute() error {
	return NewRootCommand().ExecuteContext(context.Background())
}

// resolve loads the project configuration and applies flag overrides.
func (g *globalOptions) resolve() (*config.Resolved, error) {
	dir := g.dir
	if dir == "" {
		root, err := config.FindProjectRoot()
		if err != nil {
			return nil, err
		}
		dir = root
	}
	cfg, err := config.Resolve(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if g.logLevel != "" {
		level, err := zerolog.ParseLevel(strings.ToLower(g.logLevel))
		if err != nil {
			return nil, fmt.Errorf("--log-level: %w", err)
		}
		cfg.LogLevel = level
	}
	if g.json {
		cfg.JSONLogs = true
	}
	return cfg, nil
}

func newLogger(cfg *config.Resolved, w io.Writer) zerolog.Logger {
	out := w
	if !cfg.JSONLogs {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.TimeOnly}
	}
	return zerolog.New(out).Level(cfg.LogLevel).With().
		Timestamp().
		Str("app", cfg.AppName).
		Logger()
}
