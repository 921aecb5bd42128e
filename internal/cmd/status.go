package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ApexChef/groomflow/internal/session"
)

var statusCmd = &cobra.Command{
	Use:   "status <session-id>",
	Short: "Show a session's lifecycle state and any pending decision",
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

		status, err := facade.GetStatus(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("Session %s: %s\n", styleSessionID.Render(args[0]), renderStatus(status))

		msg, err := facade.GetInterruptMessage(cmd.Context())
		if err == nil && msg != "" {
			fmt.Println(styleSuspend.Render(msg))
		}

		switch status {
		case session.StatusAwaitingApproval:
			items, err := facade.GetPendingApprovals(cmd.Context())
			if err != nil {
				return err
			}
			for _, pi := range items {
				fmt.Printf("  %s  %-40s score %.0f\n", pi.ID, pi.Title, pi.Score)
			}
			fmt.Printf("\nResolve with: groomflow approve %s\n", args[0])
		case session.StatusAwaitingContext:
			items, err := facade.GetPendingContextRequests(cmd.Context())
			if err != nil {
				return err
			}
			for _, pi := range items {
				fmt.Printf("  %s  %-40s score %.0f\n", pi.ID, pi.Title, pi.Score)
				for _, q := range pi.Questions {
					fmt.Println(styleDim.Render("    ? " + q))
				}
			}
			fmt.Printf("\nResolve with: groomflow context %s --item <id>=\"...\"\n", args[0])
		}
		return nil
	},
}

func renderStatus(status session.Status) string {
	switch status {
	case session.StatusCompleted:
		return styleDone.Render(string(status))
	case session.StatusError:
		return styleErr.Render(string(status))
	case session.StatusAwaitingApproval, session.StatusAwaitingContext:
		return styleSuspend.Render(string(status))
	}
	return string(status)
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
