package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/ApexChef/groomflow/internal/session"
)

var watchCmd = &cobra.Command{
	Use:   "watch <session-id>",
	Short: "Follow a session's checkpoints as they are written",
	Long: `Watch a session's checkpoint directory and print each stage as it
completes, including suspensions. Useful when the session is being driven
from another process. Stops when the session reaches a terminal state.`,
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

		dir := filepath.Join(store.SessionDir(args[0]), "checkpoints")
		if _, err := os.Stat(dir); err != nil {
			return fmt.Errorf("session %s: %w", args[0], err)
		}

		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return err
		}
		defer watcher.Close()
		if err := watcher.Add(dir); err != nil {
			return err
		}

		fmt.Printf("Watching session %s\n", styleSessionID.Render(args[0]))
		if terminal(reportProgress(cmd.Context(), facade)) {
			return nil
		}

		var lastSeq uint64
		for {
			select {
			case <-cmd.Context().Done():
				return cmd.Context().Err()

			case ev, ok := <-watcher.Events:
				if !ok {
					return nil
				}
				// Checkpoints land atomically via rename.
				if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
					continue
				}
				cp, err := store.Latest(cmd.Context(), args[0])
				if err != nil || cp.Seq == lastSeq && lastSeq != 0 {
					continue
				}
				lastSeq = cp.Seq
				fmt.Printf("  seq %d: %s → %s\n", cp.Seq, cp.Stage, cp.NextStage)
				if terminal(reportProgress(cmd.Context(), facade)) {
					return nil
				}

			case werr, ok := <-watcher.Errors:
				if !ok {
					return nil
				}
				return werr
			}
		}
	},
}

// reportProgress prints suspension prompts as they appear and returns the
// session's current status.
func reportProgress(ctx context.Context, facade *session.Facade) session.Status {
	status, err := facade.GetStatus(ctx)
	if err != nil {
		return session.StatusRunning
	}
	switch status {
	case session.StatusAwaitingApproval, session.StatusAwaitingContext:
		if msg, err := facade.GetInterruptMessage(ctx); err == nil && msg != "" {
			fmt.Println(styleSuspend.Render(msg))
		}
	case session.StatusCompleted, session.StatusError:
		fmt.Printf("Session %s: %s\n", facade.ID(), renderStatus(status))
	}
	return status
}

func terminal(status session.Status) bool {
	return status == session.StatusCompleted || status == session.StatusError
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
