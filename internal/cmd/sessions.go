package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/crewsync/crewsync/internal/config"
	"github.com/crewsync/crewsync/internal/session"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List all sessions under the project root",
	RunE:  runSessions,
}

func init() {
	rootCmd.AddCommand(sessionsCmd)
}

func runSessions(cmd *cobra.Command, args []string) error {
	cfg := config.Get()
	root := projectRoot(cfg)

	infos, err := session.List(root)
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}
	if len(infos) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no sessions")
		return nil
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%-20s  %-20s  %7s  %6s  %9s  %5s\n",
		"SESSION", "CREATED", "PENDING", "ACTIVE", "COMPLETED", "LOCKS")
	for _, info := range infos {
		marker := " "
		if info.IsActive {
			marker = "*"
		}
		fmt.Fprintf(out, "%s%-19s  %-20s  %7d  %6d  %9d  %5d\n",
			marker, info.ID,
			info.CreatedAt.Format("2006-01-02 15:04:05"),
			info.PendingCount, info.ActiveCount, info.CompletedCount, info.LockCount)
	}
	return nil
}
