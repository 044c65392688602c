// Package state implements the agent lifecycle state machine:
// pending -> active -> completed.
//
// A record's state is the directory it lives in, never a field inside the
// record, so state can't drift from location. Transitions are a single
// atomic rename between state directories; concurrent processes racing the
// same transition are arbitrated by the filesystem, and exactly one wins.
// Losing a race is not an error, it is the expected outcome for all but
// one caller, reported as a false return.
package state

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/crewsync/crewsync/internal/events"
	"github.com/crewsync/crewsync/internal/logging"
	"github.com/crewsync/crewsync/internal/session"
)

// State is an agent's lifecycle position.
type State string

// Lifecycle states. Unknown means no record exists in any directory:
// never registered, or already reclaimed.
const (
	StatePending   State = "pending"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateUnknown   State = "unknown"
)

// DefaultMaxAge is the retention window for stale pending and old
// completed records.
const DefaultMaxAge = 24 * time.Hour

// AgentRecord is the persisted document for one unit of delegated work.
// The state directories hold one such file per agent.
type AgentRecord struct {
	AgentID       string         `json:"agent_id"`
	AgentType     string         `json:"agent_type"`
	SessionID     string         `json:"session_id"`
	RegisteredAt  time.Time      `json:"registered_at"`
	ActivatedAt   *time.Time     `json:"activated_at,omitempty"`
	CompletedAt   *time.Time     `json:"completed_at,omitempty"`
	WorkspacePath string         `json:"workspace_path,omitempty"`
	Context       map[string]any `json:"context,omitempty"`
}

// Manager tracks agent lifecycles for one session. It holds no in-memory
// state beyond configuration: every query re-reads the directory tree,
// since any other process may have mutated it between calls.
type Manager struct {
	sessionDir string
	sessionID  string
	eventLog   *events.Log
	logger     *logging.Logger
}

// NewManager creates a Manager for a session directory. eventLog may be
// nil to disable audit logging; logger may be nil to discard debug output.
func NewManager(sessionDir, sessionID string, eventLog *events.Log, logger *logging.Logger) *Manager {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Manager{
		sessionDir: sessionDir,
		sessionID:  sessionID,
		eventLog:   eventLog,
		logger:     logger.WithComponent("state").WithSession(sessionID),
	}
}

// RegisterPending creates a pending record for a new agent. Returns false
// if a record for that id already exists anywhere — duplicate delivery of
// the same registration must be a safe no-op, not corruption.
func (m *Manager) RegisterPending(agentID, agentType string, context map[string]any) bool {
	if agentID == "" {
		return false
	}
	if m.GetState(agentID) != StateUnknown {
		m.logger.Debug("register skipped, record exists", "agent_id", agentID)
		return false
	}

	rec := AgentRecord{
		AgentID:      agentID,
		AgentType:    agentType,
		SessionID:    m.sessionID,
		RegisteredAt: time.Now().UTC(),
		Context:      context,
	}

	data, err := json.MarshalIndent(&rec, "", "  ")
	if err != nil {
		m.logger.Error("failed to marshal agent record", "agent_id", agentID, "error", err)
		return false
	}

	if err := os.MkdirAll(m.stateDir(StatePending), 0755); err != nil {
		m.logger.Error("failed to create pending directory", "error", err)
		return false
	}

	// Exclusive create is the arbitration point for duplicate registration.
	if err := session.WriteExclusive(m.recordPath(StatePending, agentID), data, 0644); err != nil {
		m.logger.Debug("register lost race", "agent_id", agentID, "error", err)
		return false
	}

	m.logger.Info("agent registered", "agent_id", agentID, "agent_type", agentType)
	m.appendEvent(events.TypeAgentRegistered, &rec, nil)
	return true
}

// TransitionToActive moves a record from pending to active, stamping the
// workspace path and activation time. Returns false if no pending record
// exists or an active record is already present — a concurrent process
// completed the same transition first, and the caller should re-query
// state rather than retry.
func (m *Manager) TransitionToActive(agentID, workspacePath string) bool {
	update := func(rec *AgentRecord) {
		now := time.Now().UTC()
		rec.ActivatedAt = &now
		rec.WorkspacePath = workspacePath
	}
	if !m.transition(agentID, StatePending, StateActive, update) {
		return false
	}

	m.logger.Info("agent activated", "agent_id", agentID, "workspace", workspacePath)
	m.appendEvent(events.TypeAgentActivated, &AgentRecord{AgentID: agentID}, map[string]any{
		"workspace_path": workspacePath,
	})
	return true
}

// TransitionToCompleted moves a record from active to completed, stamping
// the completion time. Returns false if the agent is not currently active.
func (m *Manager) TransitionToCompleted(agentID string) bool {
	update := func(rec *AgentRecord) {
		now := time.Now().UTC()
		rec.CompletedAt = &now
	}
	if !m.transition(agentID, StateActive, StateCompleted, update) {
		return false
	}

	m.logger.Info("agent completed", "agent_id", agentID)
	m.appendEvent(events.TypeAgentCompleted, &AgentRecord{AgentID: agentID}, nil)
	return true
}

// transition performs the shared move as one atomic rename from the source
// state directory to the destination. The rename is the arbitration point:
// the source record exists exactly once, so of any number of processes
// racing the same transition, exactly one rename succeeds and the rest
// fail with a missing source. The destination pre-check lets the common
// already-transitioned case fail before touching the source. The winner
// then stamps the updated fields into the destination record; the brief
// window where the moved record carries pre-transition fields is benign
// because state truth is the record's location, never its contents.
//
// The stamp rewrites the record in place and must never create it: by the
// time it runs, a concurrent process may have moved the record onward (or
// cleanup reclaimed it), and a creating write would put the record back in
// a directory it no longer belongs to. A vanished record skips the stamp.
func (m *Manager) transition(agentID string, from, to State, update func(*AgentRecord)) bool {
	src := m.recordPath(from, agentID)
	dst := m.recordPath(to, agentID)

	if _, err := os.Stat(dst); err == nil {
		return false
	}
	if _, err := os.Stat(src); err != nil {
		return false
	}

	if err := os.MkdirAll(m.stateDir(to), 0755); err != nil {
		m.logger.Error("failed to create state directory", "state", string(to), "error", err)
		return false
	}
	if err := os.Rename(src, dst); err != nil {
		// Source already gone: a concurrent transition won.
		m.logger.Debug("transition lost race", "agent_id", agentID, "error", err)
		return false
	}

	rec, err := m.readRecord(dst)
	if err != nil {
		m.logger.Warn("moved record is unreadable, fields not stamped",
			"agent_id", agentID, "error", err)
		return true
	}
	update(rec)

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		m.logger.Error("failed to marshal agent record", "agent_id", agentID, "error", err)
		return true
	}
	if err := m.stampRecord(dst, data); err != nil {
		if os.IsNotExist(err) {
			m.logger.Debug("record moved before stamp, skipping", "agent_id", agentID)
		} else {
			m.logger.Warn("failed to stamp transition fields", "agent_id", agentID, "error", err)
		}
	}
	return true
}

// stampRecord rewrites an existing record's contents. The open omits
// O_CREATE on purpose: if the record no longer exists at path, the stamp
// must fail rather than resurrect it there.
func (m *Manager) stampRecord(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// GetState reports which state directory currently holds the agent's
// record. Checks short-circuit in lifecycle order.
func (m *Manager) GetState(agentID string) State {
	for _, s := range []State{StatePending, StateActive, StateCompleted} {
		if _, err := os.Stat(m.recordPath(s, agentID)); err == nil {
			return s
		}
	}
	return StateUnknown
}

// GetRecord returns the parsed record for an agent in the given state, or
// nil if absent or unparsable.
func (m *Manager) GetRecord(agentID string, s State) *AgentRecord {
	rec, err := m.readRecord(m.recordPath(s, agentID))
	if err != nil {
		return nil
	}
	return rec
}

// ListPending returns the parsed records of all pending agents.
// Corrupt record files are skipped, not fatal.
func (m *Manager) ListPending() []*AgentRecord {
	return m.listRecords(StatePending)
}

// ListActive returns the parsed records of all active agents.
func (m *Manager) ListActive() []*AgentRecord {
	return m.listRecords(StateActive)
}

// ListCompleted returns the parsed records of all completed agents.
func (m *Manager) ListCompleted() []*AgentRecord {
	return m.listRecords(StateCompleted)
}

func (m *Manager) listRecords(s State) []*AgentRecord {
	entries, err := os.ReadDir(m.stateDir(s))
	if err != nil {
		return nil
	}

	var records []*AgentRecord
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != session.RecordSuffix {
			continue
		}
		rec, err := m.readRecord(filepath.Join(m.stateDir(s), entry.Name()))
		if err != nil {
			m.logger.Warn("skipping corrupt record", "file", entry.Name(), "error", err)
			continue
		}
		records = append(records, rec)
	}
	return records
}

// CleanupCounts reports what a cleanup pass removed.
type CleanupCounts struct {
	Expired  int // pending records past maxAge, orphaned by a crashed activator
	Archived int // completed records past maxAge, retention expiry
}

// CleanupStale removes pending records older than maxAge (the process that
// would have activated them crashed) and completed records older than
// maxAge (retention expiry). Both are terminal deletions, not transitions.
// Age is computed from the record's own timestamps, not file mtime, so the
// policy survives records being copied or migrated; records too corrupt to
// carry a timestamp fall back to mtime.
func (m *Manager) CleanupStale(maxAge time.Duration) CleanupCounts {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	cutoff := time.Now().Add(-maxAge)

	var counts CleanupCounts
	counts.Expired = m.reclaim(StatePending, cutoff, events.TypeAgentExpired)
	counts.Archived = m.reclaim(StateCompleted, cutoff, events.TypeAgentArchived)
	return counts
}

func (m *Manager) reclaim(s State, cutoff time.Time, eventType events.EventType) int {
	entries, err := os.ReadDir(m.stateDir(s))
	if err != nil {
		return 0
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != session.RecordSuffix {
			continue
		}
		path := filepath.Join(m.stateDir(s), entry.Name())

		ts, rec := m.recordAge(path, entry)
		if !ts.Before(cutoff) {
			continue
		}

		if err := os.Remove(path); err != nil {
			continue
		}
		removed++

		if rec == nil {
			rec = &AgentRecord{AgentID: recordName(entry.Name())}
		}
		m.logger.Info("reclaimed stale record",
			"agent_id", rec.AgentID, "state", string(s), "event", string(eventType))
		m.appendEvent(eventType, rec, map[string]any{"reclaimed_from": string(s)})
	}
	return removed
}

// recordAge returns the record's own reference timestamp (completion time
// if stamped, else registration time) and the parsed record. Unparsable
// records report their file mtime so cleanup can still collect them.
func (m *Manager) recordAge(path string, entry os.DirEntry) (time.Time, *AgentRecord) {
	rec, err := m.readRecord(path)
	if err == nil {
		if rec.CompletedAt != nil {
			return *rec.CompletedAt, rec
		}
		return rec.RegisteredAt, rec
	}

	info, err := entry.Info()
	if err != nil {
		return time.Now(), nil
	}
	return info.ModTime(), nil
}

func (m *Manager) readRecord(path string) (*AgentRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rec AgentRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (m *Manager) stateDir(s State) string {
	switch s {
	case StatePending:
		return filepath.Join(m.sessionDir, session.PendingDirName)
	case StateActive:
		return filepath.Join(m.sessionDir, session.ActiveDirName)
	default:
		return filepath.Join(m.sessionDir, session.CompletedDirName)
	}
}

func (m *Manager) recordPath(s State, agentID string) string {
	return filepath.Join(m.stateDir(s), agentID+session.RecordSuffix)
}

func (m *Manager) appendEvent(t events.EventType, rec *AgentRecord, details map[string]any) {
	if m.eventLog == nil {
		return
	}
	err := m.eventLog.Append(events.Event{
		Type:      t,
		SessionID: m.sessionID,
		AgentID:   rec.AgentID,
		AgentType: rec.AgentType,
		Details:   details,
	})
	if err != nil {
		m.logger.Warn("failed to append lifecycle event", "event", string(t), "error", err)
	}
}

func recordName(filename string) string {
	return filename[:len(filename)-len(session.RecordSuffix)]
}
