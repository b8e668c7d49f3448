// ABOUTME: Admin CLI for fixie-bridge: agents, sources, users and API tokens
// ABOUTME: Talks to the agent service and the bridge database using the bridge's config file

package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/fixie-bridge/internal/config"
	"github.com/2389/fixie-bridge/internal/memgpt"
	"github.com/2389/fixie-bridge/internal/store"
)

const banner = `
  __ _       _                     _           _
 / _(_)_  __(_) ___        __ _  __| |_ __ ___ (_)_ __
| |_| \ \/ /| |/ _ \_____ / _' |/ _' | '_ ' _ \| | '_ \
|  _| |>  < | |  __/_____| (_| | (_| | | | | | | | | | |
|_| |_/_/\_\|_|\___|      \__,_|\__,_|_| |_| |_|_|_| |_|
`

var (
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
)

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", red("Error:"), err)
		os.Exit(1)
	}
}

// app carries state shared by all subcommands.
type app struct {
	configPath string
	cfg        *config.Config
	out        io.Writer
}

func newRootCmd(out io.Writer) *cobra.Command {
	a := &app{out: out}

	root := &cobra.Command{
		Use:           "fixie-admin",
		Short:         "Administer fixie-bridge agents, sources, users and tokens",
		Long:          banner + "\nAdminister fixie-bridge agents, sources, users and tokens.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.loadConfig()
		},
	}
	root.SetOut(out)
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", defaultConfigPath(), "bridge config file")

	root.AddCommand(
		newAgentsCmd(a),
		newSourcesCmd(a),
		newUsersCmd(a),
		newTokenCmd(a),
	)
	return root
}

// defaultConfigPath mirrors the bridge: FIXIE_CONFIG, then the XDG config dir.
func defaultConfigPath() string {
	if envPath := os.Getenv("FIXIE_CONFIG"); envPath != "" {
		return envPath
	}
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "bridge.yaml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(configDir, "fixie", "bridge.yaml")
}

func (a *app) loadConfig() error {
	envFile := os.Getenv("FIXIE_ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	if err := config.LoadDotEnv(envFile); err != nil {
		return err
	}
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return fmt.Errorf("loading config from %s: %w", a.configPath, err)
	}
	a.cfg = cfg
	return nil
}

func (a *app) client() *memgpt.Client {
	c := a.cfg.MemGPT
	return memgpt.NewClient(c.BaseURL, c.APIKey, c.Timeout,
		memgpt.WithRetryPolicy(memgpt.RetryPolicy{MaxAttempts: c.Retry.MaxAttempts, Delay: c.Retry.Delay}),
	)
}

func (a *app) openStore() (*store.SQLStore, error) {
	db := a.cfg.Database
	if db.Driver == store.DriverPostgres {
		return store.Open(store.DriverPostgres, db.DSN)
	}
	return store.NewSQLiteStore(db.Path)
}

func (a *app) printf(format string, args ...any) {
	fmt.Fprintf(a.out, format, args...)
}

// truncate shortens a string to the given max rune count, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen-3]) + "..."
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("Jan 02 15:04")
}
