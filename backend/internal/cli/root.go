package cli

import (
	"github.com/spf13/cobra"

	"github.com/picrelay/picrelay/shared/config"
	"github.com/picrelay/picrelay/shared/logger"
)

var configFolder string

var rootCmd = &cobra.Command{
	Use:          "picrelay",
	Short:        "Relay image batches to Slack channels",
	Long:         "picrelay stages uploaded images, delivers them to a Slack channel in message sized batches and serves them back as a gallery.",
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFolder, "config_folder", "backend/config", "path to folder with configs")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newMigrateCmd())
	rootCmd.AddCommand(newSweepCmd())
	rootCmd.AddCommand(newCredentialCmd())
	rootCmd.AddCommand(newTokenCmd())
}

// loadConfig reads the config folder and sets up the global logger from it.
func loadConfig() *config.Config {
	cfg := config.MustLoad(configFolder)
	logger.Initialize(cfg.Public.LogLevel, cfg.Public.LogJSON)
	return cfg
}
