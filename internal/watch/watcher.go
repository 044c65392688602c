// Package watch translates filesystem events on a session's state
// directories into coordination-level change notifications. It powers
// the live status view; nothing load-bearing depends on it.
package watch

import (
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/crewsync/crewsync/internal/session"
)

// ChangeKind distinguishes what part of the session tree moved.
type ChangeKind string

const (
	// ChangeAgent is a record appearing in or leaving a state directory.
	ChangeAgent ChangeKind = "agent"

	// ChangeLock is a lock directory appearing or disappearing.
	ChangeLock ChangeKind = "lock"
)

// Change describes one observed mutation of the session tree.
type Change struct {
	Kind ChangeKind

	// Name is the agent id for ChangeAgent, the resource key for
	// ChangeLock.
	Name string

	// State is the state directory the record moved in or out of; empty
	// for lock changes.
	State string

	// Removed is true when the entry left the directory (the far side of
	// a transition rename, a released lock, a reclaimed record).
	Removed bool
}

// Watcher observes one session's three state directories and its lock
// directory. Events are debounced: a rename produces a remove and a
// create in quick succession, and editors multiply write events, so
// consumers see one batch per quiet period.
type Watcher struct {
	watcher    *fsnotify.Watcher
	sessionDir string
	changes    chan Change
	stopCh     chan struct{}
	stopOnce   sync.Once
}

// New creates a Watcher over a session directory. The watched
// directories must already exist (session.Init creates them).
func New(sessionDir string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	for _, dir := range []string{
		session.PendingDirName,
		session.ActiveDirName,
		session.CompletedDirName,
		session.LocksDirName,
	} {
		if err := fsw.Add(filepath.Join(sessionDir, dir)); err != nil {
			_ = fsw.Close()
			return nil, err
		}
	}

	return &Watcher{
		watcher:    fsw,
		sessionDir: sessionDir,
		changes:    make(chan Change, 64),
		stopCh:     make(chan struct{}),
	}, nil
}

// Changes returns the notification stream. Closed when the watcher
// stops.
func (w *Watcher) Changes() <-chan Change {
	return w.changes
}

// Start begins delivering changes.
func (w *Watcher) Start() {
	go w.loop()
}

// Stop shuts the watcher down and closes the change stream.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		_ = w.watcher.Close()
	})
}

func (w *Watcher) loop() {
	defer close(w.changes)

	// Debounce: collect events for a short quiet period before emitting,
	// so a transition rename shows up as one batch, not two surprises.
	debounce := time.NewTimer(0)
	<-debounce.C

	pending := make(map[string]Change)

	for {
		select {
		case <-w.stopCh:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			change, relevant := w.classify(event)
			if !relevant {
				continue
			}
			pending[event.Name] = change
			debounce.Reset(50 * time.Millisecond)

		case <-debounce.C:
			for _, change := range pending {
				select {
				case w.changes <- change:
				case <-w.stopCh:
					return
				}
			}
			pending = make(map[string]Change)

		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

// classify maps a raw filesystem event onto a Change, dropping noise
// like metadata writes inside lock directories and staging temp files.
func (w *Watcher) classify(event fsnotify.Event) (Change, bool) {
	rel, err := filepath.Rel(w.sessionDir, event.Name)
	if err != nil {
		return Change{}, false
	}
	parts := strings.Split(rel, string(filepath.Separator))
	if len(parts) != 2 {
		return Change{}, false
	}
	dir, name := parts[0], parts[1]
	removed := event.Op&(fsnotify.Remove|fsnotify.Rename) != 0

	switch dir {
	case session.PendingDirName, session.ActiveDirName, session.CompletedDirName:
		if !strings.HasSuffix(name, session.RecordSuffix) {
			return Change{}, false
		}
		return Change{
			Kind:    ChangeAgent,
			Name:    strings.TrimSuffix(name, session.RecordSuffix),
			State:   strings.TrimSuffix(dir, "_agents"),
			Removed: removed,
		}, true

	case session.LocksDirName:
		if !strings.HasSuffix(name, ".lock") {
			return Change{}, false
		}
		return Change{
			Kind:    ChangeLock,
			Name:    strings.TrimSuffix(name, ".lock"),
			Removed: removed,
		}, true
	}
	return Change{}, false
}
