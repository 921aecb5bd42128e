package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ApexChef/groomflow/internal/config"
	"github.com/ApexChef/groomflow/internal/session"
	"github.com/ApexChef/groomflow/internal/stage"
)

var runCmd = &cobra.Command{
	Use:   "run <transcript-file>",
	Short: "Start a grooming session from a meeting transcript",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := openStore(cfg)
		if err != nil {
			return err
		}

		transcript, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("reading transcript: %w", err)
		}

		sessionID, _ := cmd.Flags().GetString("session")
		if sessionID == "" {
			sessionID = session.NewSessionID()
		}

		facade, err := openFacade(cfg, store, sessionID)
		if err != nil {
			return err
		}

		fmt.Printf("Session %s started\n", styleSessionID.Render(sessionID))
		decision, err := facade.Start(cmd.Context(), string(transcript))
		if err != nil {
			return err
		}

		return renderDecision(cmd.Context(), facade, decision)
	},
}

// retrieverFor picks the retrieval backend from configuration.
func retrieverFor(cfg *config.Config) stage.Retriever {
	if cfg.Storage.DocsDir != "" {
		return stage.FileRetriever{Dir: cfg.Storage.DocsDir}
	}
	return stage.NopRetriever{}
}

func init() {
	runCmd.Flags().String("session", "", "explicit session id (default: generated)")
	rootCmd.AddCommand(runCmd)
}
