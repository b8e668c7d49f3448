// ABOUTME: Entry point for fixie-bridge
// ABOUTME: Relays Matrix direct messages to per-user agents on the agent service

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/2389/fixie-bridge/internal/admin"
	"github.com/2389/fixie-bridge/internal/auth"
	"github.com/2389/fixie-bridge/internal/bot"
	"github.com/2389/fixie-bridge/internal/config"
	"github.com/2389/fixie-bridge/internal/delivery"
	"github.com/2389/fixie-bridge/internal/health"
	"github.com/2389/fixie-bridge/internal/matrix"
	"github.com/2389/fixie-bridge/internal/memgpt"
	"github.com/2389/fixie-bridge/internal/metrics"
	"github.com/2389/fixie-bridge/internal/profile"
	"github.com/2389/fixie-bridge/internal/provision"
	"github.com/2389/fixie-bridge/internal/queue"
	"github.com/2389/fixie-bridge/internal/store"
)

const banner = `
  __ _       _            _          _     _
 / _(_)_  __(_) ___      | |__  _ __(_) __| | __ _  ___
| |_| \ \/ /| |/ _ \_____| '_ \| '__| |/ _' |/ _' |/ _ \
|  _| |>  < | |  __/_____| |_) | |  | | (_| | (_| |  __/
|_| |_/_/\_\|_|\___|     |_.__/|_|  |_|\__,_|\__, |\___|
                                             |___/
`

// getConfigPath returns the path to the bridge config file.
// Priority: FIXIE_CONFIG env var > XDG_CONFIG_HOME/fixie/bridge.yaml > ~/.config/fixie/bridge.yaml
func getConfigPath() string {
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

// getDataPath returns the directory for local state such as the crypto store.
// Priority: XDG_DATA_HOME/fixie > ~/.local/share/fixie
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data"
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}
	return filepath.Join(dataDir, "fixie")
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	color.New(color.FgCyan).Print(banner)

	envFile := os.Getenv("FIXIE_ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	if err := config.LoadDotEnv(envFile); err != nil {
		return err
	}

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config from %s: %w", configPath, err)
	}

	logger := setupLogger(cfg.Logging.Level, cfg.Logging.Format)
	printStartupInfo(configPath, cfg)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st, err := openStore(cfg.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	var dir store.Directory = st
	if cfg.DirectoryCache.Size > 0 {
		dir = store.NewCachedDirectory(st, cfg.DirectoryCache.Size, cfg.DirectoryCache.TTL)
	}

	m := metrics.MustNew(prometheus.DefaultRegisterer)

	markers := cfg.MemGPT.NotReadyMarkers
	if len(markers) == 0 {
		markers = memgpt.DefaultNotReadyMarkers
	}
	client := memgpt.NewClient(cfg.MemGPT.BaseURL, cfg.MemGPT.APIKey, cfg.MemGPT.Timeout,
		memgpt.WithRetryPolicy(memgpt.RetryPolicy{
			MaxAttempts: cfg.MemGPT.Retry.MaxAttempts,
			Delay:       cfg.MemGPT.Retry.Delay,
			Classify:    memgpt.NewClassifier(markers...),
		}),
		memgpt.WithLogger(logger),
		memgpt.WithMetrics(m),
	)

	sources := provision.NewSources(client, logger)
	profiles := profile.NewRegistry(cfg.Profiles.Path, sources, logger)
	profiles.SetDefault(cfg.Profiles.Default)

	monitor, err := health.NewMonitor(client, health.Config{
		Schedule: cfg.Health.Schedule,
		Timeout:  cfg.Health.Timeout,
		Logger:   logger,
		Metrics:  m,
		OnChange: func(maintenance bool) {
			// Sources could not be resolved while the service was down.
			if !maintenance && profiles.Current() == nil {
				if _, err := profiles.Reload(ctx); err != nil {
					logger.Error("loading profiles after recovery failed", "error", err)
				}
			}
		},
	})
	if err != nil {
		return fmt.Errorf("creating health monitor: %w", err)
	}

	if monitor.Check(ctx) {
		if _, err := profiles.Reload(ctx); err != nil {
			logger.Error("loading profiles failed, registration unavailable until reload", "error", err)
		}
	} else {
		logger.Warn("agent service unreachable, starting in maintenance mode", "error", monitor.LastError())
	}

	prov := provision.New(client, dir, profiles, provision.Config{
		AttachDelay: cfg.MemGPT.AttachDelay,
		Logger:      logger,
		Metrics:     m,
	})
	q := queue.New()

	bridge, err := matrix.NewBridge(matrix.Config{
		Homeserver:      cfg.Matrix.Homeserver,
		UserID:          cfg.Matrix.UserID,
		AccessToken:     cfg.Matrix.AccessToken,
		Username:        cfg.Matrix.Username,
		Password:        cfg.Matrix.Password,
		DeviceName:      cfg.Matrix.DeviceName,
		AllowedUsers:    cfg.Matrix.AllowedUsers,
		CommandPrefix:   cfg.Matrix.CommandPrefix,
		TypingIndicator: cfg.Matrix.TypingIndicator,
	}, dir, logger)
	if err != nil {
		return fmt.Errorf("creating bridge: %w", err)
	}
	if err := bridge.Login(ctx); err != nil {
		return fmt.Errorf("matrix login: %w", err)
	}

	if cfg.Matrix.RecoveryKey != "" {
		dataPath := cfg.Matrix.DataDir
		if dataPath == "" {
			dataPath = getDataPath()
		}
		enc, err := enableEncryption(ctx, bridge.Client(), cfg.Matrix.RecoveryKey, dataPath, logger)
		if err != nil {
			return fmt.Errorf("setting up encryption: %w", err)
		}
		defer enc.Close()
	} else {
		logger.Info("encryption disabled (no recovery key)")
	}

	currentAssistant := func() string {
		if c := profiles.Current(); c != nil {
			return c.DefaultName()
		}
		return ""
	}
	handler := bot.New(dir, prov, q, bridge, bot.Config{
		Assistant:       cfg.Profiles.Default,
		AssistantName:   currentAssistant,
		TypingIndicator: cfg.Matrix.TypingIndicator,
		Maintenance:     monitor,
		Logger:          logger,
	})
	bridge.SetHandler(handler)

	loop := delivery.New(q, dir, client, bridge, delivery.Config{
		PollInterval: cfg.Delivery.PollInterval,
		Log:          st,
		Logger:       logger,
		Metrics:      m,
	})

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return bridge.Run(ctx) })
	g.Go(func() error { return loop.Run(ctx) })
	g.Go(func() error { return monitor.Run(ctx) })
	if cfg.Profiles.Watch {
		g.Go(func() error { return profiles.Watch(ctx) })
	}
	if cfg.Admin.HTTPAddr != "" || cfg.Admin.Tailscale.Enabled {
		srv := admin.NewServer(admin.Deps{
			Store:       st,
			Accounts:    prov,
			Profiles:    profiles,
			Queue:       q,
			Maintenance: monitor,
			Gatherer:    prometheus.DefaultGatherer,
			Verifier:    auth.NewJWTVerifier([]byte(cfg.Admin.JWTSecret)),
			Logger:      logger,
		})
		g.Go(func() error { return srv.Run(ctx, cfg.Admin) })
	}

	logger.Info("fixie-bridge running")
	return g.Wait()
}

// openStore opens the configured database and applies migrations.
func openStore(cfg config.DatabaseConfig) (*store.SQLStore, error) {
	var (
		st  *store.SQLStore
		err error
	)
	switch cfg.Driver {
	case store.DriverPostgres:
		st, err = store.Open(store.DriverPostgres, cfg.DSN)
	default:
		st, err = store.NewSQLiteStore(cfg.Path)
	}
	if err != nil {
		return nil, fmt.Errorf("opening %s store: %w", cfg.Driver, err)
	}
	return st, nil
}

func printStartupInfo(configPath string, cfg *config.Config) {
	green := color.New(color.FgGreen)
	line := func(label, value string) {
		green.Print("    ▶ ")
		fmt.Printf("%-12s%s\n", label, value)
	}

	line("Config:", configPath)
	line("Homeserver:", cfg.Matrix.Homeserver)
	line("Agents:", cfg.MemGPT.BaseURL)
	line("Database:", cfg.Database.Driver)
	if cfg.Matrix.RecoveryKey != "" {
		line("Encryption:", "enabled")
	}
	if cfg.Admin.Tailscale.Enabled {
		line("Admin:", "tailnet "+cfg.Admin.Tailscale.Hostname)
	} else if cfg.Admin.HTTPAddr != "" {
		line("Admin:", cfg.Admin.HTTPAddr)
	}
	fmt.Println()
}

func setupLogger(level, format string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: logLevel}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
