package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/crewsync/crewsync/internal/config"
	"github.com/crewsync/crewsync/internal/events"
	"github.com/crewsync/crewsync/internal/lock"
	"github.com/crewsync/crewsync/internal/session"
	"github.com/crewsync/crewsync/internal/state"
	"github.com/crewsync/crewsync/internal/tui"
)

var statusSessionID string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show agents and locks for a session",
	Long: `Status prints a one-shot summary of a session: agents per lifecycle
state, their workspaces, and every live file lock with its owner and age.

Defaults to the active session; pass --session to inspect another one.`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusSessionID, "session", "", "session id (default: the active session)")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg := config.Get()
	root := projectRoot(cfg)

	sessionID, err := requireSession(root, statusSessionID)
	if err != nil {
		return err
	}

	dir := session.Dir(root, sessionID)
	log := events.NewLog(dir)
	sm := state.NewManager(dir, sessionID, log, nil)
	lm := lock.NewManager(dir, sessionID, cfg.Lock.StaleTTL(), log, nil)

	fmt.Fprint(cmd.OutOrStdout(), tui.RenderSummary(tui.Collect(sessionID, sm, lm)))
	return nil
}

// requireSession resolves a session id without creating one: the
// explicit flag wins, then the active-session pointer.
func requireSession(root, flag string) (string, error) {
	if flag != "" {
		if !session.Exists(root, flag) {
			return "", fmt.Errorf("session %s not found under %s", flag, root)
		}
		return flag, nil
	}
	id, err := session.ActiveID(root)
	if err != nil || id == "" {
		return "", fmt.Errorf("no active session under %s (run an agent first, or pass --session)", root)
	}
	return id, nil
}
