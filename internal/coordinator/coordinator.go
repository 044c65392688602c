// Package coordinator is the orchestration façade over sessions, agent
// state, locks, and workspaces. It owns policy: which tool invocations
// need a workspace, which need a lock, and which paths an agent may
// touch. The components below it own mechanism.
//
// Every coordinator instance is cheap and stateless between calls —
// each invocation is expected to run in a fresh short-lived process, so
// all decisions re-read the session tree rather than trusting memory.
package coordinator

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/crewsync/crewsync/internal/errors"
	"github.com/crewsync/crewsync/internal/events"
	"github.com/crewsync/crewsync/internal/lock"
	"github.com/crewsync/crewsync/internal/logging"
	"github.com/crewsync/crewsync/internal/session"
	"github.com/crewsync/crewsync/internal/state"
	"github.com/crewsync/crewsync/internal/workspace"
)

// DefaultLockTimeout bounds how long a write-class operation waits on a
// contended file lock before proceeding with a warning.
const DefaultLockTimeout = 5 * time.Second

// ToolKind classifies a dispatcher tool invocation by its file-access
// profile.
type ToolKind string

const (
	// ToolWrite modifies files and therefore needs a workspace and a lock.
	ToolWrite ToolKind = "write"

	// ToolRead reads files without modifying them.
	ToolRead ToolKind = "read"

	// ToolOther does not address a specific file.
	ToolOther ToolKind = "other"
)

// writeTools modify file content. readTools only inspect it. Anything
// not listed in either set that still carries a file path is treated as
// write-class: misclassifying a writer as a reader loses the isolation
// guarantee, the reverse only costs a lock.
var (
	writeTools = map[string]bool{
		"Write":        true,
		"Edit":         true,
		"MultiEdit":    true,
		"NotebookEdit": true,
	}
	readTools = map[string]bool{
		"Read": true,
		"Grep": true,
		"Glob": true,
		"LS":   true,
	}
)

// ClassifyTool maps a dispatcher tool name plus its file path (empty
// when the tool takes none) to a ToolKind.
func ClassifyTool(toolName, filePath string) ToolKind {
	switch {
	case writeTools[toolName]:
		return ToolWrite
	case readTools[toolName]:
		return ToolRead
	case filePath == "":
		return ToolOther
	default:
		// Unknown tool touching a file: assume the worst.
		return ToolWrite
	}
}

// Decision is the outcome of a file-operation policy check. A blocked
// decision carries the error explaining why; an allowed one may still
// carry a warning (advisory lock contention).
type Decision struct {
	Allowed       bool     `json:"allowed"`
	Kind          ToolKind `json:"kind"`
	WorkspacePath string   `json:"workspace_path,omitempty"`
	Warning       string   `json:"warning,omitempty"`
}

// Options tunes a Coordinator. The zero value selects defaults.
type Options struct {
	// SessionHint names a specific session to use. Empty falls back to
	// the active-session pointer, then to creating a fresh session.
	SessionHint string

	// LockTimeout bounds write-lock acquisition. Zero selects
	// DefaultLockTimeout.
	LockTimeout time.Duration

	// LockStaleTTL is forwarded to the lock manager. Zero selects its
	// default.
	LockStaleTTL time.Duration

	// Git overrides the version-control layer. Nil selects the git CLI
	// rooted at the project root. Primarily useful for testing.
	Git workspace.Git

	// Logger overrides the default session logger. Nil opens the
	// session's shared debug.log.
	Logger *logging.Logger
}

// Coordinator composes the session, state, lock, and workspace layers
// behind the small policy surface the dispatcher calls.
type Coordinator struct {
	projectRoot string
	sess        *session.Session
	state       *state.Manager
	locks       *lock.Manager
	workspaces  *workspace.Provisioner
	eventLog    *events.Log
	logger      *logging.Logger
	ownsLogger  bool
	lockTimeout time.Duration
}

// New resolves (or creates) a session under projectRoot and wires the
// component stack over its directory tree.
func New(projectRoot string, opts Options) (*Coordinator, error) {
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = DefaultLockTimeout
	}

	sess, err := session.Resolve(projectRoot, opts.SessionHint)
	if err != nil {
		return nil, errors.Wrap(err, "failed to resolve session")
	}

	dir := session.Dir(projectRoot, sess.ID)
	eventLog := events.NewLog(dir)

	// Default to the session's debug.log so every short-lived process
	// appends to one shared trace.
	logger := opts.Logger
	ownsLogger := false
	if logger == nil {
		logger, err = logging.NewLogger(dir, "info")
		if err != nil {
			logger = logging.NopLogger()
		} else {
			ownsLogger = true
		}
	}
	logger = logger.WithSession(sess.ID)

	git := opts.Git
	if git == nil {
		git = workspace.NewCLIGit(projectRoot)
	}
	return &Coordinator{
		projectRoot: projectRoot,
		sess:        sess,
		state:       state.NewManager(dir, sess.ID, eventLog, logger),
		locks:       lock.NewManager(dir, sess.ID, opts.LockStaleTTL, eventLog, logger),
		workspaces:  workspace.NewProvisioner(projectRoot, git, eventLog, logger),
		eventLog:    eventLog,
		logger:      logger.WithComponent("coordinator"),
		ownsLogger:  ownsLogger,
		lockTimeout: opts.LockTimeout,
	}, nil
}

// Close flushes the session log when the coordinator created it.
// Injected loggers are the caller's to close.
func (c *Coordinator) Close() error {
	if !c.ownsLogger {
		return nil
	}
	return c.logger.Close()
}

// SessionID returns the resolved session identifier.
func (c *Coordinator) SessionID() string {
	return c.sess.ID
}

// State exposes the agent state manager for status and cleanup callers.
func (c *Coordinator) State() *state.Manager { return c.state }

// Locks exposes the lock manager for status and cleanup callers.
func (c *Coordinator) Locks() *lock.Manager { return c.locks }

// Workspaces exposes the provisioner for the worktree retention pass.
func (c *Coordinator) Workspaces() *workspace.Provisioner { return c.workspaces }

// OnSpawn registers a new pending agent of the given type and returns
// its identifier.
func (c *Coordinator) OnSpawn(agentType string) (string, error) {
	if agentType == "" {
		return "", errors.NewValidationError("agent type must not be empty")
	}

	agentID := fmt.Sprintf("%s-%s-%s", agentType, c.sess.ID, uuid.NewString()[:8])
	if !c.state.RegisterPending(agentID, agentType, nil) {
		return "", errors.NewStateError("failed to register agent", errors.ErrAgentExists).
			WithAgentID(agentID)
	}

	c.logger.Info("agent spawned", "agent_id", agentID, "agent_type", agentType)
	return agentID, nil
}

// OnFileOperation is the central policy point: it decides whether a tool
// invocation by an agent may proceed, provisioning a workspace on the
// first write-class operation and taking an advisory lock on the target
// file.
//
// A rejection is always a hard policy violation (unknown agent or a path
// outside the agent's workspace). Lock contention never rejects; it is
// reported through Decision.Warning.
func (c *Coordinator) OnFileOperation(agentID, toolName, filePath string) (*Decision, error) {
	kind := ClassifyTool(toolName, filePath)
	decision := &Decision{Allowed: true, Kind: kind}

	if kind == ToolOther {
		return decision, nil
	}

	st := c.state.GetState(agentID)
	if st == state.StateUnknown {
		return &Decision{Allowed: false, Kind: kind},
			errors.NewStateError("unknown agent", errors.ErrAgentNotFound).WithAgentID(agentID)
	}

	// First write-class operation from a pending agent triggers
	// provisioning plus activation as one logical unit. The state
	// manager stays the source of truth: if another process activated
	// the agent first, the transition loses and we use its workspace.
	if st == state.StatePending && kind == ToolWrite {
		res, err := c.workspaces.Provision(c.agentType(agentID), c.sess.ID)
		if err != nil {
			return &Decision{Allowed: false, Kind: kind},
				errors.Wrap(err, "failed to provision workspace")
		}
		if !res.Isolated {
			addWarning(decision, "workspace is not isolated by a branch boundary")
		}
		if !c.state.TransitionToActive(agentID, res.Path) {
			c.logger.Debug("activation lost to a concurrent process", "agent_id", agentID)
		}
		st = c.state.GetState(agentID)
	}

	if st == state.StateActive {
		rec := c.state.GetRecord(agentID, state.StateActive)
		if rec != nil && rec.WorkspacePath != "" {
			decision.WorkspacePath = rec.WorkspacePath
			if err := c.checkConfinement(agentID, rec.WorkspacePath, filePath); err != nil {
				return &Decision{Allowed: false, Kind: kind, WorkspacePath: rec.WorkspacePath}, err
			}
		}
	}

	if kind == ToolWrite {
		if !c.locks.Acquire(agentID, filePath, toolName, c.lockTimeout) {
			// Advisory only: surface contention, let the operation run.
			md := c.locks.GetLockInfo(filePath)
			owner := "unknown"
			if md != nil {
				owner = md.OwnerAgentID
			}
			addWarning(decision, fmt.Sprintf("could not lock %s within %s (held by %s)",
				filePath, c.lockTimeout, owner))
			c.logger.Warn("proceeding without lock",
				"agent_id", agentID, "path", filePath, "owner", owner)
		}
	}

	return decision, nil
}

// OnAgentCompletion transitions an agent to completed and releases every
// lock it still holds. Completing an already-completed agent is a no-op;
// locks are released either way.
func (c *Coordinator) OnAgentCompletion(agentID string) error {
	if !c.state.TransitionToCompleted(agentID) {
		st := c.state.GetState(agentID)
		if st != state.StateCompleted {
			return errors.NewStateError("agent is not active", errors.ErrNotActive).
				WithAgentID(agentID).
				WithState(string(st))
		}
	}

	released := c.locks.ReleaseAllForAgent(agentID)
	c.logger.Info("agent completed", "agent_id", agentID, "locks_released", len(released))
	return nil
}

// addWarning appends a warning to a decision without displacing warnings
// already raised earlier in the same call.
func addWarning(d *Decision, msg string) {
	if d.Warning != "" {
		d.Warning += "; " + msg
		return
	}
	d.Warning = msg
}

// checkConfinement rejects absolute paths that resolve outside the
// agent's workspace. Relative paths are interpreted relative to the
// workspace and always pass. The check is lexical; the lock layer keys
// on the same cleaned path, so a symlinked alias degrades to advisory
// coverage rather than a policy hole.
func (c *Coordinator) checkConfinement(agentID, workspacePath, filePath string) error {
	if filePath == "" || !filepath.IsAbs(filePath) {
		return nil
	}

	target := filepath.Clean(filePath)
	rel, err := filepath.Rel(workspacePath, target)
	if err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return nil
	}

	c.logger.Warn("blocked file operation outside workspace",
		"agent_id", agentID, "path", target, "workspace", workspacePath)
	return errors.NewPolicyError(
		fmt.Sprintf("path %s is outside the assigned workspace; use a path under %s",
			target, workspacePath), errors.ErrWorkspaceEscape).
		WithAgentID(agentID).
		WithPath(target).
		WithWorkspace(workspacePath)
}

// agentType recovers the agent type from its pending record, falling
// back to the id prefix when the record is unreadable.
func (c *Coordinator) agentType(agentID string) string {
	if rec := c.state.GetRecord(agentID, state.StatePending); rec != nil && rec.AgentType != "" {
		return rec.AgentType
	}
	if i := strings.Index(agentID, "-"); i > 0 {
		return agentID[:i]
	}
	return agentID
}
