// Package events provides the append-only lifecycle audit log shared by the
// state machine, the lock manager, and the coordinator. Events are a
// side-channel: state truth lives in record-file locations, never in the
// log, so appends are best-effort and loss of a line never desynchronizes
// anything.
package events

import "time"

// EventType represents the type identifier for lifecycle events.
// Using string type allows for easy debugging and extensibility.
type EventType string

// Event types for agent lifecycle transitions
const (
	// TypeAgentRegistered indicates a pending record was created.
	TypeAgentRegistered EventType = "agent_registered"
	// TypeAgentActivated indicates a pending record moved to active.
	TypeAgentActivated EventType = "agent_activated"
	// TypeAgentCompleted indicates an active record moved to completed.
	TypeAgentCompleted EventType = "agent_completed"
	// TypeAgentExpired indicates a stale pending record was reclaimed.
	TypeAgentExpired EventType = "agent_expired"
	// TypeAgentArchived indicates an old completed record was reclaimed.
	TypeAgentArchived EventType = "agent_archived"
)

// Event types for file locks
const (
	// TypeLockAcquired indicates an agent won a resource lock.
	TypeLockAcquired EventType = "lock_acquired"
	// TypeLockReleased indicates an owner released its lock.
	TypeLockReleased EventType = "lock_released"
	// TypeLockForceReleased indicates a stale lock was reclaimed,
	// distinct from a normal release.
	TypeLockForceReleased EventType = "lock_force_released"
)

// Event types for workspaces
const (
	// TypeWorkspaceProvisioned indicates a workspace was created.
	TypeWorkspaceProvisioned EventType = "workspace_provisioned"
	// TypeWorkspaceRemoved indicates a completed agent's worktree was
	// cleaned up.
	TypeWorkspaceRemoved EventType = "workspace_removed"
)

// Event is one line of the lifecycle log.
type Event struct {
	Type      EventType      `json:"event_type"`
	SessionID string         `json:"session_id"`
	AgentID   string         `json:"agent_id,omitempty"`
	AgentType string         `json:"agent_type,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Details   map[string]any `json:"details,omitempty"`
}
