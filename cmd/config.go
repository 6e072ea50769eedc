package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/noorlatif/portfolio-assistant/pkg/config"
	"github.com/noorlatif/portfolio-assistant/pkg/wizard"
	"github.com/spf13/cobra"
)

var configServerPath string

func init() {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Run the server configuration wizard",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadServerConfig(configServerPath)
			if err != nil {
				if !errors.Is(err, os.ErrNotExist) {
					return fmt.Errorf("load server config: %w", err)
				}
				cfg = config.NewDefaultServerConfig()
			}
			return wizard.RunServerWizard(cmd.InOrStdin(), cmd.OutOrStdout(), configServerPath, cfg)
		},
	}
	configCmd.PersistentFlags().StringVar(&configServerPath, "server-config", config.DefaultServerConfigPath(), "Server config TOML path")

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective server config with secrets redacted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadServeConfig(configServerPath)
			if err != nil {
				return err
			}
			cfg.ApplyEnv(os.LookupEnv)
			cfg.Normalize()
			b, err := renderConfig(cfg)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(b)
			return err
		},
	}

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default server config if none exists",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := config.LoadOrCreateServerConfig(configServerPath); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Server config at %s\n", configServerPath)
			return nil
		},
	}

	configCmd.AddCommand(showCmd, initCmd)
	rootCmd.AddCommand(configCmd)
}

func renderConfig(cfg *config.ServerConfig) ([]byte, error) {
	out := *cfg
	if out.Provider.APIKey != "" {
		out.Provider.APIKey = "<redacted>"
	}
	return config.MarshalTOML(&out)
}
