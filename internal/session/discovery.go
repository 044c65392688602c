package session

import (
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Info contains summary information about a session, gathered without
// parsing individual agent records.
type Info struct {
	ID             string    `json:"id"`
	CreatedAt      time.Time `json:"created_at"`
	PendingCount   int       `json:"pending_count"`
	ActiveCount    int       `json:"active_count"`
	CompletedCount int       `json:"completed_count"`
	LockCount      int       `json:"lock_count"`
	IsActive       bool      `json:"is_active"` // named by active_session.json
	SessionDir     string    `json:"session_dir"`
}

// List returns information about all sessions under the project root.
// Sessions are discovered by scanning .crewsync/sessions/ for
// subdirectories containing session.json files; unreadable sessions
// are skipped, not fatal.
func List(projectRoot string) ([]*Info, error) {
	entries, err := os.ReadDir(SessionsDir(projectRoot))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil // No sessions directory = no sessions
		}
		return nil, err
	}

	activeID, _ := ActiveID(projectRoot)

	var sessions []*Info
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		info, err := GetInfo(projectRoot, entry.Name())
		if err != nil {
			continue
		}
		info.IsActive = info.ID == activeID

		sessions = append(sessions, info)
	}

	return sessions, nil
}

// GetInfo returns summary information about a specific session.
func GetInfo(projectRoot, sessionID string) (*Info, error) {
	s, err := Load(projectRoot, sessionID)
	if err != nil {
		return nil, err
	}

	sessionDir := Dir(projectRoot, sessionID)

	return &Info{
		ID:             s.ID,
		CreatedAt:      s.CreatedAt,
		PendingCount:   countEntries(filepath.Join(sessionDir, PendingDirName), RecordSuffix),
		ActiveCount:    countEntries(filepath.Join(sessionDir, ActiveDirName), RecordSuffix),
		CompletedCount: countEntries(filepath.Join(sessionDir, CompletedDirName), RecordSuffix),
		LockCount:      countEntries(filepath.Join(sessionDir, LocksDirName), ".lock"),
		SessionDir:     sessionDir,
	}, nil
}

// Exists checks if a session with the given ID exists.
func Exists(projectRoot, sessionID string) bool {
	_, err := os.Stat(filepath.Join(Dir(projectRoot, sessionID), SessionFileName))
	return err == nil
}

// countEntries counts directory entries whose name carries the given suffix.
func countEntries(dir, suffix string) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}

	count := 0
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), suffix) {
			count++
		}
	}
	return count
}
