package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	clientcmd "github.com/rzbill/keywatch/internal/cmd/client"
	serverrun "github.com/rzbill/keywatch/internal/cmd/server"
	cfgpkg "github.com/rzbill/keywatch/internal/config"
	logpkg "github.com/rzbill/keywatch/pkg/log"
)

func main() {
	// Respect KEYWATCH_LOG_LEVEL for CLI output before any config is loaded.
	level := os.Getenv("KEYWATCH_LOG_LEVEL")
	parsed, err := logpkg.ParseLevel(level)
	if err != nil || level == "" {
		parsed = logpkg.InfoLevel
	}
	logger := logpkg.NewLogger(
		logpkg.WithLevel(parsed),
		logpkg.WithFormatter(&logpkg.TextFormatter{}),
		logpkg.WithOutput(logpkg.NewConsoleOutput()),
	)
	logpkg.RedirectStdLog(logger)

	rootCmd := &cobra.Command{
		Use:   "keywatch",
		Short: "keywatch CLI",
		Long: "keywatch keeps a delayed index of keys with a TTL in step with the store, " +
			"removing entries when keys expire even if expiry notifications are lost.",
		SilenceUsage: true,
	}

	serverCmd := &cobra.Command{Use: "server", Short: "Server commands"}
	serverStartCmd := &cobra.Command{
		Use:     "start",
		Short:   "Start the keywatch server",
		Aliases: []string{"run"},
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("config")
			flags := cmd.Flags()
			overrides := func(c *cfgpkg.Config) {
				if flags.Changed("data-dir") {
					dir, _ := flags.GetString("data-dir")
					c.Store.DataDir = cfgpkg.ExpandHome(dir)
				}
				if flags.Changed("backend") {
					c.Store.Backend, _ = flags.GetString("backend")
				}
				if flags.Changed("etcd-endpoints") {
					c.Store.Etcd.Endpoints, _ = flags.GetStringSlice("etcd-endpoints")
				}
				if flags.Changed("http") {
					c.HTTP.Addr, _ = flags.GetString("http")
				}
				if flags.Changed("log-level") {
					c.Log.Level, _ = flags.GetString("log-level")
				}
				if flags.Changed("log-format") {
					c.Log.Format, _ = flags.GetString("log-format")
				}
				if flags.Changed("interval") {
					d, _ := flags.GetDuration("interval")
					c.Compensator.Interval = cfgpkg.Duration(d)
				}
				if flags.Changed("key-filter") {
					c.Watcher.KeyFilter, _ = flags.GetString("key-filter")
				}
			}
			cfg, err := serverrun.LoadConfig(path, overrides)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			if err := serverrun.Run(ctx, serverrun.Options{Config: cfg, ConfigPath: path, Overrides: overrides}); err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			return nil
		},
	}
	serverStartCmd.Flags().String("config", os.Getenv("KEYWATCH_CONFIG"), "Config file (.yaml, .yml or .json); watched for changes")
	serverStartCmd.Flags().String("data-dir", "", "Data directory (if not specified, uses OS-specific application data directory)")
	serverStartCmd.Flags().String("backend", cfgpkg.BackendPebble, "Store backend: pebble|etcd")
	serverStartCmd.Flags().StringSlice("etcd-endpoints", nil, "etcd endpoints when --backend=etcd")
	serverStartCmd.Flags().String("http", ":8080", "HTTP listen address (empty disables the API)")
	serverStartCmd.Flags().String("log-level", "info", "Log level: debug|info|warn|error")
	serverStartCmd.Flags().String("log-format", "text", "Log format: text|json")
	serverStartCmd.Flags().Duration("interval", 0, "Compensation interval (default 10s)")
	serverStartCmd.Flags().String("key-filter", "", "CEL expression selecting which expired keys the live path handles")
	serverCmd.AddCommand(serverStartCmd)
	rootCmd.AddCommand(serverCmd)

	rootCmd.AddCommand(clientcmd.NewCommands(apiURL)...)

	if err := rootCmd.Execute(); err != nil {
		logger.Error("command failed", logpkg.Err(err))
		os.Exit(1)
	}
}

func apiURL() string {
	if v := os.Getenv("KEYWATCH_HTTP"); v != "" {
		return v
	}
	return "http://127.0.0.1:8080"
}
