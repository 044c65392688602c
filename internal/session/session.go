// Package session defines the on-disk layout of a coordination namespace
// and the helpers for resolving, creating, and discovering sessions.
//
// A session is a directory tree under <project-root>/.crewsync/sessions/.
// Everything an agent run produces — lifecycle records, file locks, the
// event log, the debug log — lives inside one session directory, so session
// identity and the project root are threaded explicitly through every call
// rather than resolved from ambient process state.
package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Layout constants. The directory a lifecycle record lives in is the
// record's state, so these names are part of the persisted contract.
const (
	// RootDirName is the coordination root created inside the project root.
	RootDirName = ".crewsync"
	// SessionsDirName holds one subdirectory per session.
	SessionsDirName = "sessions"
	// SessionFileName is the session metadata document.
	SessionFileName = "session.json"
	// ActivePointerName is the file naming the currently active session.
	ActivePointerName = "active_session.json"

	// PendingDirName holds records of agents registered but not yet working.
	PendingDirName = "pending_agents"
	// ActiveDirName holds records of agents with an assigned workspace.
	ActiveDirName = "active_agents"
	// CompletedDirName holds records of agents that finished.
	CompletedDirName = "completed_agents"
	// LocksDirName holds one lock directory per locked resource key.
	LocksDirName = "file_locks"
	// EventLogName is the append-only lifecycle audit log.
	EventLogName = "lifecycle_events.jsonl"

	// RecordSuffix is the file extension for agent lifecycle records.
	RecordSuffix = ".record"
)

// Session is the metadata document persisted at the root of each
// session directory.
type Session struct {
	ID          string    `json:"session_id"`
	CreatedAt   time.Time `json:"created_at"`
	ProjectRoot string    `json:"project_root"`
}

// activePointer is the content of active_session.json.
type activePointer struct {
	SessionID string `json:"session_id"`
}

// RootDir returns the coordination root for a project.
func RootDir(projectRoot string) string {
	return filepath.Join(projectRoot, RootDirName)
}

// SessionsDir returns the directory holding all sessions for a project.
func SessionsDir(projectRoot string) string {
	return filepath.Join(RootDir(projectRoot), SessionsDirName)
}

// Dir returns the directory for a specific session.
func Dir(projectRoot, sessionID string) string {
	return filepath.Join(SessionsDir(projectRoot), sessionID)
}

// NewID mints a session identifier from the current wall clock.
func NewID() string {
	return fmt.Sprintf("sess-%d", time.Now().Unix())
}

// Resolve returns the session to coordinate under. Precedence: an explicit
// hint naming an existing session, then the active-session pointer, then a
// freshly initialized session (which also becomes the active one).
func Resolve(projectRoot, hint string) (*Session, error) {
	if hint != "" {
		if s, err := Load(projectRoot, hint); err == nil {
			return s, nil
		}
	}

	if id, err := ActiveID(projectRoot); err == nil && id != "" {
		if s, err := Load(projectRoot, id); err == nil {
			return s, nil
		}
	}

	return Init(projectRoot, NewID())
}

// Init creates the full directory tree for a session, writes session.json,
// and points active_session.json at it. Re-initializing an existing session
// is safe: directory creation is idempotent and the metadata is rewritten
// atomically.
func Init(projectRoot, sessionID string) (*Session, error) {
	sessionDir := Dir(projectRoot, sessionID)

	for _, sub := range []string{PendingDirName, ActiveDirName, CompletedDirName, LocksDirName} {
		if err := os.MkdirAll(filepath.Join(sessionDir, sub), 0755); err != nil {
			return nil, fmt.Errorf("failed to create session directory %s: %w", sub, err)
		}
	}

	s := &Session{
		ID:          sessionID,
		CreatedAt:   time.Now().UTC(),
		ProjectRoot: projectRoot,
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal session metadata: %w", err)
	}
	if err := AtomicWriteFile(filepath.Join(sessionDir, SessionFileName), data, 0644); err != nil {
		return nil, err
	}

	if err := SetActive(projectRoot, sessionID); err != nil {
		return nil, err
	}

	return s, nil
}

// Load reads the metadata document of an existing session.
func Load(projectRoot, sessionID string) (*Session, error) {
	data, err := os.ReadFile(filepath.Join(Dir(projectRoot, sessionID), SessionFileName))
	if err != nil {
		return nil, fmt.Errorf("failed to read session %s: %w", sessionID, err)
	}

	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse session %s: %w", sessionID, err)
	}
	return &s, nil
}

// ActiveID returns the session named by the active-session pointer, or an
// empty string when no pointer exists.
func ActiveID(projectRoot string) (string, error) {
	data, err := os.ReadFile(filepath.Join(RootDir(projectRoot), ActivePointerName))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read active session pointer: %w", err)
	}

	var p activePointer
	if err := json.Unmarshal(data, &p); err != nil {
		return "", fmt.Errorf("failed to parse active session pointer: %w", err)
	}
	return p.SessionID, nil
}

// SetActive atomically repoints active_session.json at the given session.
func SetActive(projectRoot, sessionID string) error {
	data, err := json.MarshalIndent(activePointer{SessionID: sessionID}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal active session pointer: %w", err)
	}
	if err := os.MkdirAll(RootDir(projectRoot), 0755); err != nil {
		return fmt.Errorf("failed to create coordination root: %w", err)
	}
	return AtomicWriteFile(filepath.Join(RootDir(projectRoot), ActivePointerName), data, 0644)
}
