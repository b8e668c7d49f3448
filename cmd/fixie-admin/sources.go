// ABOUTME: sources subcommands: list data sources and create missing ones by name
// ABOUTME: ensure goes through the same resolve-or-create path the bridge uses

package main

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/2389/fixie-bridge/internal/provision"
)

func newSourcesCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sources",
		Short: "Manage data sources on the agent service",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all sources",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sources, err := a.client().ListSources(cmd.Context())
			if err != nil {
				return err
			}
			if len(sources) == 0 {
				a.printf("  No sources.\n")
				return nil
			}

			w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "  ID\tNAME\tCREATED")
			fmt.Fprintln(w, "  --\t----\t-------")
			for _, s := range sources {
				fmt.Fprintf(w, "  %s\t%s\t%s\n", s.ID, s.Name, s.CreatedAt)
			}
			return w.Flush()
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "ensure <name>...",
		Short: "Create sources that do not exist yet and print their ids",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resolver := provision.NewSources(a.client(), nil)
			var errs []error
			for _, name := range args {
				id, err := resolver.ResolveOrCreate(cmd.Context(), name)
				if err != nil {
					errs = append(errs, fmt.Errorf("%s: %w", name, err))
					a.printf("  %s %s\n", red("✗"), name)
					continue
				}
				a.printf("  %s %s = %s\n", green("✓"), name, id)
			}
			return errors.Join(errs...)
		},
	})

	return cmd
}
