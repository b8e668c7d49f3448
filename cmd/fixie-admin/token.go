// ABOUTME: token subcommand: mints a JWT for the admin API
// ABOUTME: Signs with admin.jwt_secret from the bridge config

package main

import (
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/2389/fixie-bridge/internal/auth"
)

func newTokenCmd(a *app) *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Generate an admin API token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.cfg.Admin.JWTSecret == "" {
				return errors.New("admin.jwt_secret is not configured")
			}
			if subject == "" {
				return errors.New("--subject is required")
			}

			token, err := auth.NewJWTVerifier([]byte(a.cfg.Admin.JWTSecret)).Generate(subject, ttl)
			if err != nil {
				return err
			}
			a.printf("%s\n", token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "operator name recorded in the token")
	cmd.Flags().DurationVar(&ttl, "ttl", auth.DefaultTokenTTL, "token lifetime")
	return cmd
}
