package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"github.com/noorlatif/portfolio-assistant/pkg/config"
	"github.com/noorlatif/portfolio-assistant/pkg/logutil"
	"github.com/noorlatif/portfolio-assistant/pkg/server"
	"github.com/spf13/cobra"
)

var (
	serveConfigPath         string
	serveListenAddrOverride string
	serveEnvFile            string
)

func init() {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the assistant HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := loadEnvFile(serveEnvFile); err != nil {
				return err
			}
			cfg, err := loadServeConfig(serveConfigPath)
			if err != nil {
				return err
			}
			cfg.ApplyEnv(os.LookupEnv)
			if cmd.Flags().Changed("listen-addr") {
				cfg.ListenAddr = serveListenAddrOverride
			}
			// Explicit flags beat the file and the environment.
			if cmd.Flags().Changed("loglevel") {
				cfg.LogLevel = rootLogLevel
			}
			if cmd.Flags().Changed("logformat") {
				cfg.LogFormat = rootLogFormat
			}
			cfg.Normalize()
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid server config: %w", err)
			}
			if err := logutil.Configure(cfg.LogLevel, cfg.LogFormat); err != nil {
				return err
			}

			srv, err := server.NewServer(cfg)
			if err != nil {
				return fmt.Errorf("create server: %w", err)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return srv.Run(ctx)
		},
	}
	serveCmd.Flags().StringVar(&serveConfigPath, "config", config.DefaultServerConfigPath(), "Server config TOML path")
	serveCmd.Flags().StringVar(&serveListenAddrOverride, "listen-addr", "", "Override listen address from config (e.g. 127.0.0.1:8080)")
	serveCmd.Flags().StringVar(&serveEnvFile, "env-file", ".env", "Dotenv file read before the environment overrides; ignored when missing")
	rootCmd.AddCommand(serveCmd)
}

// loadServeConfig falls back to the built-in defaults when path does not exist.
func loadServeConfig(path string) (*config.ServerConfig, error) {
	cfg, err := config.LoadServerConfig(path)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load server config: %w", err)
	}
	log.Info("no server config found, using defaults", "path", path)
	return config.NewDefaultServerConfig(), nil
}

// loadEnvFile exports the variables in path without replacing ones already set.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	log.Debug("loaded env file", "path", path)
	return nil
}
