package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/go-orbit/orbit/pkg/manifest"
)

func newValidateCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [path...]",
		Short: "Compile component descriptors and report errors",
		Long: `Validate parses and compiles every descriptor in the given files and
directories. With no arguments the project's components directory is used.

All descriptors are checked into one library, so a component version
declared twice across files is reported too.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				cfg, err := g.resolve()
				if err != nil {
					return err
				}
				args = []string{cfg.ComponentsDir}
			}

			lib := manifest.NewLibrary()
			var errs []error
			for _, path := range args {
				if err := addPath(lib, path); err != nil {
					errs = append(errs, err)
				}
			}

			out := cmd.OutOrStdout()
			for _, name := range lib.Names() {
				for _, v := range lib.Versions(name) {
					entry, err := lib.Lookup(name, v)
					if err != nil {
						continue
					}
					fmt.Fprintf(out, "ok    %s %s (%s)\n", name, v, entry.Source)
				}
			}
			if len(errs) > 0 {
				err := errors.Join(errs...)
				fmt.Fprintf(out, "FAIL\n%v\n", err)
				return fmt.Errorf("%d path(s) failed validation", len(errs))
			}
			fmt.Fprintf(out, "%d component version(s) valid\n", lib.Len())
			return nil
		},
	}
}

func addPath(lib *manifest.Library, path string) error {
	fi, err := os.Stat(path)
	if err != nil {
		return err
	}
	if fi.IsDir() {
		return lib.LoadDir(path)
	}
	d, err := manifest.Load(path)
	if err != nil {
		return err
	}
	_, err = lib.Add(d, path)
	return err
}
