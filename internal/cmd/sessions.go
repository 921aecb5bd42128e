package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ApexChef/groomflow/internal/session"
)

var sessionsDelete string

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List persisted sessions, most recently updated first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := openStore(cfg)
		if err != nil {
			return err
		}

		if sessionsDelete != "" {
			if err := store.Delete(cmd.Context(), sessionsDelete); err != nil {
				return err
			}
			fmt.Printf("Deleted session %s.\n", sessionsDelete)
			return nil
		}

		infos, err := session.List(cmd.Context(), store)
		if err != nil {
			return err
		}
		if len(infos) == 0 {
			fmt.Println("No sessions found.")
			return nil
		}

		fmt.Println(styleHeading.Render(fmt.Sprintf("%-14s %12s %10s  %s", "SESSION", "CHECKPOINTS", "LATEST", "UPDATED")))
		for _, info := range infos {
			fmt.Printf("%-14s %12d %10d  %s\n",
				info.SessionID, info.CheckpointCount, info.LatestSeq,
				info.UpdatedAt.Format("2006-01-02 15:04:05"))
		}
		return nil
	},
}

func init() {
	sessionsCmd.Flags().StringVar(&sessionsDelete, "delete", "", "delete the named session and its checkpoints")
	rootCmd.AddCommand(sessionsCmd)
}
