package cmd

import (
	"fmt"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"
	"github.com/spf13/cobra"

	"github.com/crewsync/crewsync/internal/config"
	"github.com/crewsync/crewsync/internal/events"
	"github.com/crewsync/crewsync/internal/lock"
	"github.com/crewsync/crewsync/internal/session"
	"github.com/crewsync/crewsync/internal/state"
	"github.com/crewsync/crewsync/internal/workspace"
)

var (
	cleanupMaxAge    time.Duration
	cleanupLocks     bool
	cleanupWorktrees bool
	cleanupSessionID string
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Reclaim stale agents, locks, and worktrees",
	Long: `Cleanup scans sessions for coordination debris left by crashed or
abandoned agents: pending records that never activated, completed records
past their retention age, locks whose owners died, and worktrees of
completed agents that carry no uncommitted work.

All sessions are scanned unless --session narrows it to one.`,
	RunE: runCleanup,
}

func init() {
	cleanupCmd.Flags().DurationVar(&cleanupMaxAge, "max-age", 0, "record retention age (default: from config, 24h)")
	cleanupCmd.Flags().BoolVar(&cleanupLocks, "locks", true, "reclaim stale locks")
	cleanupCmd.Flags().BoolVar(&cleanupWorktrees, "worktrees", false, "remove clean worktrees of completed agents")
	cleanupCmd.Flags().StringVar(&cleanupSessionID, "session", "", "restrict to one session")
	rootCmd.AddCommand(cleanupCmd)
}

// sessionCleanupResult accumulates what one session scan reclaimed.
type sessionCleanupResult struct {
	sessionID string
	counts    state.CleanupCounts
	locks     int
	worktrees int
	kept      int
	err       error
}

func runCleanup(cmd *cobra.Command, args []string) error {
	cfg := config.Get()
	root := projectRoot(cfg)

	maxAge := cleanupMaxAge
	if maxAge <= 0 {
		maxAge = cfg.State.MaxAge()
	}

	var sessionIDs []string
	if cleanupSessionID != "" {
		if !session.Exists(root, cleanupSessionID) {
			return fmt.Errorf("session %s not found under %s", cleanupSessionID, root)
		}
		sessionIDs = []string{cleanupSessionID}
	} else {
		infos, err := session.List(root)
		if err != nil {
			return fmt.Errorf("failed to list sessions: %w", err)
		}
		for _, info := range infos {
			sessionIDs = append(sessionIDs, info.ID)
		}
	}
	if len(sessionIDs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no sessions to clean")
		return nil
	}

	var (
		mu      sync.Mutex
		results []sessionCleanupResult
	)
	p := pool.New().WithMaxGoroutines(cfg.Cleanup.MaxParallel)
	for _, id := range sessionIDs {
		id := id
		p.Go(func() {
			res := cleanupSession(root, id, maxAge, cfg)
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
		})
	}
	p.Wait()

	out := cmd.OutOrStdout()
	for _, res := range results {
		if res.err != nil {
			fmt.Fprintf(out, "%s: %v\n", res.sessionID, res.err)
			continue
		}
		line := fmt.Sprintf("%s: expired %d pending, archived %d completed",
			res.sessionID, res.counts.Expired, res.counts.Archived)
		if cleanupLocks {
			line += fmt.Sprintf(", reclaimed %d locks", res.locks)
		}
		if cleanupWorktrees {
			line += fmt.Sprintf(", removed %d worktrees (%d kept dirty)", res.worktrees, res.kept)
		}
		fmt.Fprintln(out, line)
	}
	return nil
}

func cleanupSession(root, sessionID string, maxAge time.Duration, cfg *config.Config) sessionCleanupResult {
	res := sessionCleanupResult{sessionID: sessionID}

	dir := session.Dir(root, sessionID)
	log := events.NewLog(dir)
	sm := state.NewManager(dir, sessionID, log, nil)
	lm := lock.NewManager(dir, sessionID, cfg.Lock.StaleTTL(), log, nil)

	// Worktrees first: the reclaim pass below deletes the completed
	// records that name them.
	if cleanupWorktrees {
		prov := workspace.NewProvisioner(root, workspace.NewCLIGit(root), log, nil)
		for _, rec := range sm.ListCompleted() {
			if rec.WorkspacePath == "" {
				continue
			}
			removed, err := prov.RemoveIfClean(rec.WorkspacePath)
			switch {
			case err != nil:
				res.kept++
			case removed:
				res.worktrees++
			default:
				res.kept++
			}
		}
	}

	res.counts = sm.CleanupStale(maxAge)
	if cleanupLocks {
		res.locks = lm.CleanupStale()
	}
	return res
}
