package cmd

import (
	"github.com/spf13/cobra"
)

var contextCmd = &cobra.Command{
	Use:   "context <session-id>",
	Short: "Resolve a session's pending context requests",
	Long: `Answer a suspended session's context questions. With --item flags
the answers are submitted directly; without flags an interactive prompt
walks through each pending item. An empty answer is valid and is recorded
as "no further context available".`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := openStore(cfg)
		if err != nil {
			return err
		}
		facade, err := openFacade(cfg, store, args[0])
		if err != nil {
			return err
		}

		raw, _ := cmd.Flags().GetStringArray("item")

		var contexts map[string]string
		if len(raw) > 0 {
			contexts, err = parseItemAssignments(raw)
			if err != nil {
				return err
			}
		} else {
			pending, err := facade.GetPendingContextRequests(cmd.Context())
			if err != nil {
				return err
			}
			contexts, err = promptContext(pending)
			if err != nil {
				return err
			}
			if contexts == nil {
				return nil // aborted
			}
		}

		decision, err := facade.SubmitContext(cmd.Context(), contexts)
		if err != nil {
			return err
		}
		return renderDecision(cmd.Context(), facade, decision)
	},
}

func init() {
	contextCmd.Flags().StringArray("item", nil, `per-item context, id="additional detail" (repeatable; empty value allowed)`)
	rootCmd.AddCommand(contextCmd)
}
