// Package lock grants mutually-exclusive, per-resource access leases to
// agents using only filesystem primitives.
//
// A lock is a directory named by the hash of the locked path, containing a
// metadata.json identifying the owner. Acquisition stages the metadata in
// a private temp directory and renames it into the lock slot: the rename
// fails if a populated lock directory already exists, so the rename is the
// race-free arbitration point AND the metadata is visible the same instant
// the lock is. A lock directory without metadata can therefore only be a
// crashed remnant, and is treated as stale.
//
// Locks are advisory. Nothing stops a process that skips the manager from
// touching a locked file; the coordinator uses locks as a conflict-
// avoidance signal, not a kernel-level write barrier.
package lock

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/crewsync/crewsync/internal/events"
	"github.com/crewsync/crewsync/internal/logging"
	"github.com/crewsync/crewsync/internal/session"
)

const (
	// DefaultStaleTTL is how long a lock may live before any process is
	// allowed to reclaim it from a presumed-dead owner.
	DefaultStaleTTL = 30 * time.Minute

	// pollInterval bounds the busy-wait between acquisition attempts.
	pollInterval = 10 * time.Millisecond

	// MetadataFileName is the ownership document inside each lock directory.
	MetadataFileName = "metadata.json"

	// lockSuffix marks lock directories inside file_locks/.
	lockSuffix = ".lock"
)

// Metadata identifies a lock's owner and provenance.
type Metadata struct {
	OwnerAgentID string    `json:"owner_agent_id"`
	ResourceKey  string    `json:"resource_key"`
	FilePath     string    `json:"file_path"`
	Operation    string    `json:"operation"`
	AcquiredAt   time.Time `json:"acquired_at"`
}

// Manager grants per-path locks for one session. It is stateless between
// calls; every decision re-reads the locks directory.
type Manager struct {
	locksDir  string
	sessionID string
	staleTTL  time.Duration
	eventLog  *events.Log
	logger    *logging.Logger
}

// NewManager creates a Manager over a session's file_locks directory.
// A zero staleTTL selects DefaultStaleTTL. eventLog may be nil to disable
// audit logging; logger may be nil to discard debug output.
func NewManager(sessionDir, sessionID string, staleTTL time.Duration, eventLog *events.Log, logger *logging.Logger) *Manager {
	if staleTTL <= 0 {
		staleTTL = DefaultStaleTTL
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Manager{
		locksDir:  filepath.Join(sessionDir, session.LocksDirName),
		sessionID: sessionID,
		staleTTL:  staleTTL,
		eventLog:  eventLog,
		logger:    logger.WithComponent("lock").WithSession(sessionID),
	}
}

// ResourceKey derives the fixed-width lock key for a file path. Hashing
// sidesteps filesystem-unsafe characters and path-traversal ambiguity in
// the raw path.
func ResourceKey(filePath string) string {
	sum := sha256.Sum256([]byte(filePath))
	return hex.EncodeToString(sum[:])
}

// Acquire attempts exclusive acquisition of the lock for filePath, polling
// until timeout elapses. Returns true the instant acquisition succeeds,
// false on timeout. A live lock already owned by agentID satisfies the
// acquisition immediately. An existing stale lock is force-reclaimed and
// acquisition retried immediately rather than waiting out the timeout.
//
// No fairness is promised among waiters: the first creator to win the
// rename race wins, regardless of arrival order.
func (m *Manager) Acquire(agentID, filePath, operation string, timeout time.Duration) bool {
	key := ResourceKey(filePath)
	deadline := time.Now().Add(timeout)

	for {
		ok, err := m.tryAcquire(agentID, key, filePath, operation)
		if err != nil {
			m.logger.Error("lock acquisition error", "resource_key", key, "error", err)
			return false
		}
		if ok {
			m.logger.Debug("lock acquired",
				"agent_id", agentID, "resource_key", key, "path", filePath)
			m.appendEvent(events.TypeLockAcquired, agentID, key, map[string]any{
				"file_path": filePath,
				"operation": operation,
			})
			return true
		}

		md := m.readMetadata(key)
		if md != nil && md.OwnerAgentID == agentID {
			// Re-acquiring our own live lock is a no-op success.
			return true
		}
		if m.isStale(key, md) {
			if m.forceRelease(key, md) {
				continue // retry immediately, don't burn the timeout
			}
		}

		if time.Now().After(deadline) {
			m.logger.Debug("lock acquisition timed out",
				"agent_id", agentID, "resource_key", key, "timeout", timeout)
			return false
		}
		time.Sleep(pollInterval)
	}
}

// tryAcquire makes one attempt: stage metadata in a temp directory, then
// rename it into the lock slot. The rename fails when a populated lock
// directory already exists, which is exactly the lost-race case.
func (m *Manager) tryAcquire(agentID, key, filePath, operation string) (bool, error) {
	if err := os.MkdirAll(m.locksDir, 0755); err != nil {
		return false, err
	}

	md := Metadata{
		OwnerAgentID: agentID,
		ResourceKey:  key,
		FilePath:     filePath,
		Operation:    operation,
		AcquiredAt:   time.Now().UTC(),
	}
	data, err := json.MarshalIndent(&md, "", "  ")
	if err != nil {
		return false, err
	}

	tmpDir, err := os.MkdirTemp(m.locksDir, ".staging-*")
	if err != nil {
		return false, err
	}
	// Stage the metadata before the lock becomes observable. If anything
	// fails past this point the staging directory is torn down, never
	// leaving a metadata-less lock behind.
	if err := os.WriteFile(filepath.Join(tmpDir, MetadataFileName), data, 0644); err != nil {
		os.RemoveAll(tmpDir)
		return false, err
	}

	if err := os.Rename(tmpDir, m.lockDir(key)); err != nil {
		os.RemoveAll(tmpDir)
		// Renaming onto an existing populated directory fails; if the
		// lock slot is occupied the race was simply lost.
		if _, statErr := os.Stat(m.lockDir(key)); statErr == nil {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Release releases the lock for filePath only if agentID owns it. Returns
// true if no lock existed (idempotent release) or release succeeded; false
// if the lock is owned by another agent. Release never force-releases
// someone else's live lock.
func (m *Manager) Release(agentID, filePath string) bool {
	key := ResourceKey(filePath)

	md := m.readMetadata(key)
	if md == nil {
		if _, err := os.Stat(m.lockDir(key)); err != nil {
			return true // nothing to release
		}
		// Metadata-less remnant: safe to clear.
		return os.RemoveAll(m.lockDir(key)) == nil
	}
	if md.OwnerAgentID != agentID {
		m.logger.Warn("refusing to release lock owned by another agent",
			"agent_id", agentID, "owner", md.OwnerAgentID, "resource_key", key)
		return false
	}

	if err := os.RemoveAll(m.lockDir(key)); err != nil {
		m.logger.Error("failed to release lock", "resource_key", key, "error", err)
		return false
	}

	m.logger.Debug("lock released", "agent_id", agentID, "resource_key", key)
	m.appendEvent(events.TypeLockReleased, agentID, key, map[string]any{
		"file_path": md.FilePath,
	})
	return true
}

// IsLocked reports whether a live lock on filePath is held by someone
// other than requestingAgentID. An agent's own lock never blocks itself;
// a stale lock blocks no one.
func (m *Manager) IsLocked(filePath, requestingAgentID string) bool {
	key := ResourceKey(filePath)

	md := m.readMetadata(key)
	if md == nil {
		return false
	}
	if m.isStale(key, md) {
		return false
	}
	return md.OwnerAgentID != requestingAgentID
}

// GetLockInfo returns the lock metadata for filePath, or nil when no lock
// exists or its metadata is unreadable.
func (m *Manager) GetLockInfo(filePath string) *Metadata {
	return m.readMetadata(ResourceKey(filePath))
}

// ReleaseAllForAgent releases every lock owned by agentID and returns the
// released resource keys. Used on agent completion and abort.
func (m *Manager) ReleaseAllForAgent(agentID string) []string {
	var released []string
	for _, key := range m.listKeys() {
		md := m.readMetadata(key)
		if md == nil || md.OwnerAgentID != agentID {
			continue
		}
		if err := os.RemoveAll(m.lockDir(key)); err != nil {
			m.logger.Error("failed to release lock", "resource_key", key, "error", err)
			continue
		}
		released = append(released, key)
		m.appendEvent(events.TypeLockReleased, agentID, key, map[string]any{
			"file_path": md.FilePath,
			"bulk":      true,
		})
	}
	if len(released) > 0 {
		m.logger.Info("released all locks for agent",
			"agent_id", agentID, "count", len(released))
	}
	return released
}

// ListLive returns metadata for every live (non-stale) lock in the
// session, for status reporting.
func (m *Manager) ListLive() []*Metadata {
	var live []*Metadata
	for _, key := range m.listKeys() {
		md := m.readMetadata(key)
		if md == nil || m.isStale(key, md) {
			continue
		}
		live = append(live, md)
	}
	return live
}

// CleanupStale force-releases every lock past the staleness TTL and
// returns how many were reclaimed.
func (m *Manager) CleanupStale() int {
	count := 0
	for _, key := range m.listKeys() {
		md := m.readMetadata(key)
		if !m.isStale(key, md) {
			continue
		}
		if m.forceRelease(key, md) {
			count++
		}
	}
	return count
}

// isStale reports whether the lock for key is reclaimable: its metadata is
// missing or unreadable (a crashed acquirer's remnant), or its age exceeds
// the TTL (the owner presumably died without releasing).
func (m *Manager) isStale(key string, md *Metadata) bool {
	if md == nil {
		_, err := os.Stat(m.lockDir(key))
		return err == nil
	}
	return time.Since(md.AcquiredAt) > m.staleTTL
}

// forceRelease removes a stale lock, logging it distinctly from a normal
// release.
func (m *Manager) forceRelease(key string, md *Metadata) bool {
	if err := os.RemoveAll(m.lockDir(key)); err != nil {
		m.logger.Error("failed to force-release stale lock", "resource_key", key, "error", err)
		return false
	}

	owner := ""
	details := map[string]any{}
	if md != nil {
		owner = md.OwnerAgentID
		details["file_path"] = md.FilePath
		details["lock_age"] = time.Since(md.AcquiredAt).String()
	}
	m.logger.Warn("force-released stale lock", "resource_key", key, "owner", owner)
	m.appendEvent(events.TypeLockForceReleased, owner, key, details)
	return true
}

func (m *Manager) lockDir(key string) string {
	return filepath.Join(m.locksDir, key+lockSuffix)
}

func (m *Manager) readMetadata(key string) *Metadata {
	data, err := os.ReadFile(filepath.Join(m.lockDir(key), MetadataFileName))
	if err != nil {
		return nil
	}
	var md Metadata
	if err := json.Unmarshal(data, &md); err != nil {
		return nil
	}
	return &md
}

func (m *Manager) listKeys() []string {
	entries, err := os.ReadDir(m.locksDir)
	if err != nil {
		return nil
	}

	var keys []string
	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() || !strings.HasSuffix(name, lockSuffix) {
			continue
		}
		keys = append(keys, strings.TrimSuffix(name, lockSuffix))
	}
	return keys
}

func (m *Manager) appendEvent(t events.EventType, agentID, key string, details map[string]any) {
	if m.eventLog == nil {
		return
	}
	if details == nil {
		details = map[string]any{}
	}
	details["resource_key"] = key
	err := m.eventLog.Append(events.Event{
		Type:      t,
		SessionID: m.sessionID,
		AgentID:   agentID,
		Details:   details,
	})
	if err != nil {
		m.logger.Warn("failed to append lock event", "event", string(t), "error", err)
	}
}
