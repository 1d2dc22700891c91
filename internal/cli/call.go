package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/seantiz/flux/internal/engine"
	"github.com/seantiz/flux/internal/unit"
)

func newCallCmd(opts *options) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "call <name> <taskID> [json-args]",
		Short: "Load a unit and invoke one of its tasks",
		Long: `Load a unit and invoke one of its tasks locally. Arguments are a JSON
array; console output goes to stderr and the JSON result to stdout.`,
		Args: cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := opts.load(cmd, args[0])
			if err != nil {
				return err
			}
			defer u.Release()

			ep, ok := u.TaskMethods[args[1]]
			if !ok {
				return fmt.Errorf("%w: %s@%d has no task %s", unit.ErrNotFound, u.Name, u.Version, args[1])
			}

			var raw json.RawMessage
			if len(args) == 3 {
				raw = json.RawMessage(args[2])
			}
			callArgs, err := engine.DecodeArgs(raw)
			if err != nil {
				return err
			}

			if timeout <= 0 && ep.TimeoutMS > 0 {
				timeout = time.Duration(ep.TimeoutMS) * time.Millisecond
			}
			if timeout <= 0 {
				timeout = engine.DefaultTimeout
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			stderr := cmd.ErrOrStderr()
			out, err := ep.Invoke(ctx, callArgs, func(line string) {
				fmt.Fprintln(stderr, line)
			})
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return err
		},
	}
	cmd.Flags().IntVar(&opts.version, "version", -1, "unit version (default newest)")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "call deadline (default from the task tag)")
	return cmd
}
