package cmd

import (
	"github.com/spf13/cobra"

	"github.com/ApexChef/groomflow/internal/item"
)

var approveCmd = &cobra.Command{
	Use:   "approve <session-id>",
	Short: "Resolve a session's pending approval decisions",
	Long: `Resolve a suspended session's approval interrupt. With --decision
flags the decisions are submitted directly; without flags an interactive
prompt walks through each pending item.`,
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

		raw, _ := cmd.Flags().GetStringArray("decision")
		all, _ := cmd.Flags().GetString("all")

		var decisions map[string]string
		switch {
		case all != "":
			pending, err := facade.GetPendingApprovals(cmd.Context())
			if err != nil {
				return err
			}
			decisions = make(map[string]string, len(pending))
			for _, pi := range pending {
				decisions[pi.ID] = all
			}
		case len(raw) > 0:
			decisions, err = parseItemAssignments(raw)
			if err != nil {
				return err
			}
		default:
			pending, err := facade.GetPendingApprovals(cmd.Context())
			if err != nil {
				return err
			}
			decisions, err = promptApprovals(pending)
			if err != nil {
				return err
			}
			if decisions == nil {
				return nil // aborted
			}
		}

		decision, err := facade.SubmitApprovals(cmd.Context(), decisions)
		if err != nil {
			return err
		}
		return renderDecision(cmd.Context(), facade, decision)
	},
}

func init() {
	approveCmd.Flags().StringArray("decision", nil, "per-item decision, id=approve|reject (repeatable)")
	approveCmd.Flags().String("all", "", "decide every pending item at once ("+item.DecisionApprove+" or "+item.DecisionReject+")")
	rootCmd.AddCommand(approveCmd)
}
