package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var showCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Show a session's work items, scores and routing outcomes",
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
		facade, err := openFacade(cfg, store, args[0])
		if err != nil {
			return err
		}

		snap, err := facade.LoadState(cmd.Context())
		if err != nil {
			return err
		}

		if snap.EventType != "" {
			fmt.Printf("%s %s\n", styleHeading.Render("Event:"), snap.EventType)
		}
		fmt.Println(styleHeading.Render(fmt.Sprintf("%-8s %-42s %-8s %6s %4s  %s",
			"ID", "TITLE", "TYPE", "SCORE", "SEQ", "STATUS")))
		for _, wi := range snap.WorkItems {
			scoreCol := "-"
			if sc, ok := snap.ScoreFor(wi.ID); ok {
				scoreCol = fmt.Sprintf("%.0f", sc.Overall)
			}
			rs := snap.RoutingFor(wi.ID)
			seqCol := "-"
			if wi.Sequence > 0 {
				seqCol = fmt.Sprintf("%d", wi.Sequence)
				if wi.Parallelizable {
					seqCol += "*"
				}
			}
			fmt.Printf("%-8s %-42s %-8s %6s %4s  %s\n",
				wi.ID, truncate(wi.Title, 42), wi.Type, scoreCol, seqCol, rs.Status)
		}

		verbose, _ := cmd.Flags().GetBool("verbose")
		if verbose {
			printDetails(snap)
		}

		fmt.Println()
		return printSummary(cmd.Context(), facade)
	},
}

func init() {
	showCmd.Flags().BoolP("verbose", "v", false, "include per-item score feedback, dependencies and risks")
	rootCmd.AddCommand(showCmd)
}
