// Package cmd implements the groomflow command-line interface, a consumer
// of the session facade's public surface.
package cmd

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ApexChef/groomflow/internal/checkpoint"
	"github.com/ApexChef/groomflow/internal/config"
	"github.com/ApexChef/groomflow/internal/logging"
	"github.com/ApexChef/groomflow/internal/session"
)

var rootCmd = &cobra.Command{
	Use:   "groomflow",
	Short: "Turn meeting transcripts into a vetted backlog",
	Long: `Groomflow runs meeting transcripts through a resumable evaluation
pipeline: work items are extracted, scored, and routed either straight into
the backlog or to a human for approval or additional context. Sessions
suspend indefinitely while awaiting decisions and resume exactly where they
left off, in any process.`,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $HOME/.config/groomflow/config.yaml)")
	rootCmd.PersistentFlags().String("base-dir", "", "directory holding .groomflow session data (default: current directory)")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("storage.base_dir", rootCmd.PersistentFlags().Lookup("base-dir"))
}

func initConfig() {
	// Defaults first so they apply even without a config file.
	config.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(config.ConfigDir())
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("GROOMFLOW")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file if it exists (ignore error if not found).
	_ = viper.ReadInConfig()
}

// loadConfig returns the validated configuration for the current invocation.
func loadConfig() (*config.Config, error) {
	return config.Load()
}

// openStore opens the checkpoint store for the configured base directory.
func openStore(cfg *config.Config) (*checkpoint.FileStore, error) {
	return checkpoint.NewFileStore(cfg.Storage.BaseDir)
}

// openFacade builds a Facade for an existing or new session, with a session
// debug log.
func openFacade(cfg *config.Config, store *checkpoint.FileStore, sessionID string) (*session.Facade, error) {
	log, err := logging.NewLogger(store.SessionDir(sessionID), cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	return session.NewFacade(sessionID, store,
		session.WithConfig(cfg),
		session.WithLogger(log),
		session.WithRetriever(retrieverFor(cfg)),
	), nil
}
