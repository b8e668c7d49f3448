// ABOUTME: users subcommands: list registered users and delete one with their agent
// ABOUTME: Reads and writes the bridge database directly

package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/2389/fixie-bridge/internal/provision"
)

func newUsersCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Manage registered users",
	}

	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List registered users, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			users, err := st.ListUsers(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(users) == 0 {
				a.printf("  No users.\n")
				return nil
			}

			w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "  USER\tPSEUDONYM\tAGENT\tCREATED")
			fmt.Fprintln(w, "  ----\t---------\t-----\t-------")
			for _, u := range users {
				agent := u.AgentID
				if agent == "" {
					agent = yellow("(none)")
				}
				fmt.Fprintf(w, "  %s\t%s\t%s\t%s\n", truncate(u.ID, 32), u.Pseudonym, agent, formatTime(u.CreatedAt))
			}
			return w.Flush()
		},
	}
	list.Flags().IntVar(&limit, "limit", 0, "maximum number of users (0 = all)")
	cmd.AddCommand(list)

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <user-id>",
		Short: "Delete a user and their remote agent",
		Long: `Delete a user and their remote agent.

This writes to the database directly. A running fixie-bridge with
directory_cache.size > 0 keeps serving the cached record until its
directory_cache.ttl expires. Use DELETE /api/users/{id} on the admin API
to delete through the running bridge and evict its cache.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			prov := provision.New(a.client(), st, nil, provision.Config{})
			if err := prov.Deprovision(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("deleting %s: %w", args[0], err)
			}
			a.printf("  %s deleted %s\n", green("✓"), args[0])
			if cache := a.cfg.DirectoryCache; cache.Size > 0 {
				a.printf("  %s a running bridge may use its cached record for up to %s; prefer DELETE /api/users/{id}\n",
					yellow("!"), cache.TTL)
			}
			return nil
		},
	})

	return cmd
}
