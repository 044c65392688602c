package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/crewsync/crewsync/internal/events"
	"github.com/crewsync/crewsync/internal/logging"
)

// WorktreesDirName is the directory under the project root that holds all
// agent worktrees.
const WorktreesDirName = "worktrees"

// Result describes a provisioned workspace. Isolated is false only in the
// degraded plain-directory fallback, where file changes are not separated
// from the main tree by a branch boundary — callers relying on isolation
// for conflict prevention must treat that as a weakened guarantee, not an
// error.
type Result struct {
	Path     string `json:"path"`
	Branch   string `json:"branch,omitempty"`
	Isolated bool   `json:"isolated"`
}

// Provisioner creates isolated workspaces for agents. Each provision
// attempt walks an ordered fallback chain; every step is attempted only
// if the previous one failed.
type Provisioner struct {
	projectRoot string
	git         Git
	eventLog    *events.Log
	logger      *logging.Logger
}

// NewProvisioner creates a Provisioner for a project root. eventLog may be
// nil to disable audit logging; logger may be nil to discard debug output.
func NewProvisioner(projectRoot string, git Git, eventLog *events.Log, logger *logging.Logger) *Provisioner {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Provisioner{
		projectRoot: projectRoot,
		git:         git,
		eventLog:    eventLog,
		logger:      logger.WithComponent("workspace"),
	}
}

// BranchName returns the deterministic branch for an agent type in a
// session. Crashed attempts leave this branch behind, which is why the
// fallback chain can attach to it instead of failing.
func BranchName(agentType, sessionID string) string {
	return fmt.Sprintf("agent/session-%s/%s", sessionID, agentType)
}

// Provision returns a ready-to-use isolated directory for an agent. The
// returned path is never shared with another agent's workspace in the
// same session: the deterministic name is per agent type, and collisions
// on it fall through to a timestamp-qualified branch.
//
// Fallback chain:
//  1. worktree on a new deterministic branch
//  2. worktree attached to the existing deterministic branch
//  3. worktree on a fresh timestamp-suffixed branch
//  4. plain directory, Isolated=false
func (p *Provisioner) Provision(agentType, sessionID string) (*Result, error) {
	base := filepath.Join(p.projectRoot, WorktreesDirName, fmt.Sprintf("%s-%s", agentType, sessionID))
	branch := BranchName(agentType, sessionID)

	if err := os.MkdirAll(filepath.Join(p.projectRoot, WorktreesDirName), 0755); err != nil {
		return nil, fmt.Errorf("failed to create worktrees directory: %w", err)
	}

	if p.git != nil && p.git.IsRepository() {
		err := p.git.WorktreeAdd(base, branch)
		if err == nil {
			p.logger.Info("workspace provisioned", "path", base, "branch", branch)
			return p.record(sessionID, agentType, &Result{Path: base, Branch: branch, Isolated: true}), nil
		}
		p.logger.Debug("worktree on new branch failed", "branch", branch, "error", err)

		err = p.git.WorktreeAddExisting(base, branch)
		if err == nil {
			p.logger.Info("workspace attached to existing branch", "path", base, "branch", branch)
			return p.record(sessionID, agentType, &Result{Path: base, Branch: branch, Isolated: true}), nil
		}
		p.logger.Debug("worktree on existing branch failed", "branch", branch, "error", err)

		suffix := time.Now().Unix()
		uniquePath := fmt.Sprintf("%s-%d", base, suffix)
		uniqueBranch := fmt.Sprintf("%s-%d", branch, suffix)
		err = p.git.WorktreeAdd(uniquePath, uniqueBranch)
		if err == nil {
			p.logger.Info("workspace provisioned on unique branch",
				"path", uniquePath, "branch", uniqueBranch)
			return p.record(sessionID, agentType, &Result{Path: uniquePath, Branch: uniqueBranch, Isolated: true}), nil
		}
		p.logger.Warn("worktree on unique branch failed", "branch", uniqueBranch, "error", err)
	}

	// Degraded mode: no version-control isolation at all.
	fallback := base + "-fallback"
	if err := os.MkdirAll(fallback, 0755); err != nil {
		return nil, fmt.Errorf("failed to create fallback workspace: %w", err)
	}
	p.logger.Warn("workspace provisioned without isolation", "path", fallback)
	return p.record(sessionID, agentType, &Result{Path: fallback, Isolated: false}), nil
}

// RemoveIfClean removes a worktree only when it carries no uncommitted
// work, staged or unstaged. Returns true when the worktree was removed.
// Dirty worktrees are left in place; losing an agent's unconsolidated
// changes is worse than keeping a dead directory around.
func (p *Provisioner) RemoveIfClean(path string) (bool, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}

	if p.git == nil || !p.git.IsRepository() {
		return false, nil
	}

	dirty, err := p.git.HasUncommittedChanges(path)
	if err != nil {
		return false, err
	}
	if dirty {
		p.logger.Info("keeping dirty worktree", "path", path)
		return false, nil
	}

	if err := p.git.WorktreeRemove(path); err != nil {
		return false, err
	}
	p.logger.Info("removed completed worktree", "path", path)
	if p.eventLog != nil {
		_ = p.eventLog.Append(events.Event{
			Type:    events.TypeWorkspaceRemoved,
			Details: map[string]any{"path": path},
		})
	}
	return true, nil
}

func (p *Provisioner) record(sessionID, agentType string, res *Result) *Result {
	if p.eventLog != nil {
		_ = p.eventLog.Append(events.Event{
			Type:      events.TypeWorkspaceProvisioned,
			SessionID: sessionID,
			AgentType: agentType,
			Details: map[string]any{
				"path":     res.Path,
				"branch":   res.Branch,
				"isolated": res.Isolated,
			},
		})
	}
	return res
}
