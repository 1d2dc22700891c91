// Package cli implements the fluxunit operator command, which inspects and
// exercises deployment units straight from the unit store without a server.
package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/seantiz/flux/internal/config"
	"github.com/seantiz/flux/internal/unit"
)

// Version is the fluxunit release.
const Version = "0.1.0"

const envUnitsRootPath = "FLUX_DEPLOYMENT_UNITS_PATH"

type options struct {
	root    string
	debug   bool
	version int
	json    bool
}

func (o *options) scanner() *unit.Scanner {
	return unit.NewScanner(o.root)
}

func (o *options) logger(w io.Writer) *slog.Logger {
	level := slog.LevelWarn
	if o.debug {
		level = slog.LevelDebug
	}
	return config.NewLogger(w, level)
}

// resolveVersion returns the --version flag when set, otherwise the newest
// version of name.
func (o *options) resolveVersion(name string) (int, error) {
	if o.version >= 0 {
		return o.version, nil
	}
	return o.scanner().Latest(name)
}

// NewRootCmd builds the fluxunit command tree.
func NewRootCmd() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:           "fluxunit",
		Short:         "Inspect and run deployment units",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.root, "root", os.Getenv(envUnitsRootPath), "deployment units directory")
	cmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "enable debug logging")
	cmd.CompletionOptions.DisableDefaultCmd = true

	cmd.AddCommand(newListCmd(opts), newInspectCmd(opts), newCallCmd(opts))
	return cmd
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
