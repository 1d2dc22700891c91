package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/seantiz/flux/internal/unit"
)

type inspectOutput struct {
	Name      string             `json:"name"`
	Version   int                `json:"version"`
	Path      string             `json:"path"`
	Tasks     []*unit.EntryPoint `json:"tasks"`
	Workflows []*unit.EntryPoint `json:"workflows"`
}

func newInspectCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect <name>",
		Short: "Load a unit, print its entry points and release it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := opts.load(cmd, args[0])
			if err != nil {
				return err
			}
			defer u.Release()

			out := inspectOutput{Name: u.Name, Version: u.Version, Path: u.Path}
			for _, id := range u.TaskIDs() {
				out.Tasks = append(out.Tasks, u.TaskMethods[id])
			}
			for _, id := range u.WorkflowIDs() {
				out.Workflows = append(out.Workflows, u.WorkflowMethods[id])
			}

			if opts.json {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(out)
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "%s@%d (%s)\n\n", out.Name, out.Version, out.Path)
			tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "KIND\tID\tARITY\tVERSION\tTIMEOUT")
			for _, ep := range append(out.Tasks, out.Workflows...) {
				timeout := "-"
				if ep.TimeoutMS > 0 {
					timeout = fmt.Sprintf("%dms", ep.TimeoutMS)
				}
				fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\n", ep.Kind, ep.ID, ep.Arity, ep.Version, timeout)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&opts.version, "version", -1, "unit version (default newest)")
	cmd.Flags().BoolVar(&opts.json, "json", false, "print JSON")
	return cmd
}

// load builds the requested unit version in a fresh context.
func (o *options) load(cmd *cobra.Command, name string) (*unit.DeploymentUnit, error) {
	version, err := o.resolveVersion(name)
	if err != nil {
		return nil, err
	}
	sc := o.scanner()
	return unit.Load(name, version, sc.Path(name, version), unit.BuildOptions{
		Name:   name,
		Logger: o.logger(cmd.ErrOrStderr()),
	})
}
