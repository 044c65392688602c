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
	"github.com/crewsync/crewsync/internal/watch"
)

var watchSessionID string

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Live dashboard of agents and locks",
	Long: `Watch opens a terminal dashboard over a session, refreshed as agents
move through their lifecycle and locks come and go.`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVar(&watchSessionID, "session", "", "session id (default: the active session)")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg := config.Get()
	root := projectRoot(cfg)

	sessionID, err := requireSession(root, watchSessionID)
	if err != nil {
		return err
	}

	dir := session.Dir(root, sessionID)
	log := events.NewLog(dir)
	sm := state.NewManager(dir, sessionID, log, nil)
	lm := lock.NewManager(dir, sessionID, cfg.Lock.StaleTTL(), log, nil)

	// The dashboard degrades to ticker-only refresh when the watcher
	// cannot be created (e.g. inotify limits).
	watcher, err := watch.New(dir)
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: filesystem watcher unavailable: %v\n", err)
		watcher = nil
	}

	return tui.NewApp(sessionID, sm, lm, watcher).Run()
}
