// ABOUTME: agents subcommands: list remote agents and delete one or all of them
// ABOUTME: delete-all requires --yes since it wipes every agent on the service

package main

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newAgentsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agents",
		Short: "Manage agents on the agent service",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all agents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			agents, err := a.client().ListAgents(cmd.Context())
			if err != nil {
				return err
			}
			if len(agents) == 0 {
				a.printf("  No agents.\n")
				return nil
			}

			w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "  ID\tNAME\tPRESET\tCREATED")
			fmt.Fprintln(w, "  --\t----\t------\t-------")
			for _, ag := range agents {
				fmt.Fprintf(w, "  %s\t%s\t%s\t%s\n", ag.ID, truncate(ag.Name, 32), ag.Preset, ag.CreatedAt)
			}
			return w.Flush()
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <agent-id>...",
		Short: "Delete agents by id",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := a.client()
			var errs []error
			for _, id := range args {
				if err := client.DeleteAgent(cmd.Context(), id); err != nil {
					errs = append(errs, fmt.Errorf("%s: %w", id, err))
					continue
				}
				a.printf("  %s deleted %s\n", green("✓"), id)
			}
			return errors.Join(errs...)
		},
	})

	var yes bool
	deleteAll := &cobra.Command{
		Use:   "delete-all",
		Short: "Delete every agent on the service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.New("refusing to delete all agents without --yes")
			}
			client := a.client()
			agents, err := client.ListAgents(cmd.Context())
			if err != nil {
				return err
			}

			var errs []error
			for _, ag := range agents {
				if err := client.DeleteAgent(cmd.Context(), ag.ID); err != nil {
					errs = append(errs, fmt.Errorf("%s: %w", ag.ID, err))
					continue
				}
				a.printf("  %s deleted %s (%s)\n", green("✓"), ag.ID, ag.Name)
			}
			a.printf("  %d of %d agents deleted\n", len(agents)-len(errs), len(agents))
			return errors.Join(errs...)
		},
	}
	deleteAll.Flags().BoolVar(&yes, "yes", false, "confirm deleting every agent")
	cmd.AddCommand(deleteAll)

	return cmd
}
