// Package internal contains integration tests that verify the
// coordination packages work together across independent instances, the
// way separately invoked short-lived processes would share one session
// tree.
package internal

import (
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/crewsync/crewsync/internal/coordinator"
	"github.com/crewsync/crewsync/internal/events"
	"github.com/crewsync/crewsync/internal/session"
	"github.com/crewsync/crewsync/internal/state"
)

// dirGit satisfies the coordinator's version-control seam with plain
// directories, so the full flow runs without a git binary.
type dirGit struct{}

func (dirGit) IsRepository() bool                         { return true }
func (dirGit) WorktreeAdd(path, branch string) error      { return os.MkdirAll(path, 0755) }
func (dirGit) WorktreeAddExisting(path, b string) error   { return os.MkdirAll(path, 0755) }
func (dirGit) WorktreeRemove(path string) error           { return os.RemoveAll(path) }
func (dirGit) HasUncommittedChanges(string) (bool, error) { return false, nil }

func newCoordinator(t *testing.T, root string) *coordinator.Coordinator {
	t.Helper()
	c, err := coordinator.New(root, coordinator.Options{
		Git:         dirGit{},
		LockTimeout: 100 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("coordinator.New failed: %v", err)
	}
	return c
}

// TestFullAgentLifecycle drives one agent through register, activate,
// write, and complete, then checks the audit trail.
func TestFullAgentLifecycle(t *testing.T) {
	root := t.TempDir()
	c := newCoordinator(t, root)

	id, err := c.OnSpawn("writer")
	if err != nil {
		t.Fatalf("OnSpawn failed: %v", err)
	}

	d, err := c.OnFileOperation(id, "Write", "report.md")
	if err != nil {
		t.Fatalf("OnFileOperation failed: %v", err)
	}
	if !d.Allowed || d.WorkspacePath == "" {
		t.Fatalf("decision = %+v, want allowed with workspace", d)
	}
	if _, err := os.Stat(d.WorkspacePath); err != nil {
		t.Errorf("workspace should exist on disk: %v", err)
	}

	if err := c.OnAgentCompletion(id); err != nil {
		t.Fatalf("OnAgentCompletion failed: %v", err)
	}
	if got := c.State().GetState(id); got != state.StateCompleted {
		t.Errorf("final state = %v, want completed", got)
	}

	// The event log saw every stage
	log := events.NewLog(session.Dir(root, c.SessionID()))
	evs, err := log.Read()
	if err != nil {
		t.Fatalf("failed to read event log: %v", err)
	}
	seen := map[events.EventType]bool{}
	for _, ev := range evs {
		seen[ev.Type] = true
	}
	for _, want := range []events.EventType{
		events.TypeAgentRegistered,
		events.TypeWorkspaceProvisioned,
		events.TypeAgentActivated,
		events.TypeLockAcquired,
		events.TypeAgentCompleted,
		events.TypeLockReleased,
	} {
		if !seen[want] {
			t.Errorf("event log missing %s (saw %v)", want, evs)
		}
	}
}

// TestConcurrentAgentsSharedSession runs several agents through
// separate coordinator instances sharing one session tree, the way
// separate processes would.
func TestConcurrentAgentsSharedSession(t *testing.T) {
	root := t.TempDir()

	// First coordinator creates the session; the rest resolve it.
	first := newCoordinator(t, root)
	sessionID := first.SessionID()

	const agents = 6
	var wg sync.WaitGroup
	workspaces := make([]string, agents)
	errs := make([]error, agents)

	for i := 0; i < agents; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			c := newCoordinator(t, root)
			if c.SessionID() != sessionID {
				errs[n] = os.ErrInvalid
				return
			}
			id, err := c.OnSpawn("worker")
			if err != nil {
				errs[n] = err
				return
			}
			d, err := c.OnFileOperation(id, "Write", "main.go")
			if err != nil {
				errs[n] = err
				return
			}
			workspaces[n] = d.WorkspacePath
			errs[n] = c.OnAgentCompletion(id)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("agent %d failed: %v", i, err)
		}
	}

	if got := len(first.State().ListCompleted()); got != agents {
		t.Errorf("completed agents = %d, want %d", got, agents)
	}
	if locks := first.Locks().ListLive(); len(locks) != 0 {
		t.Errorf("all locks should be released, still live: %v", locks)
	}
}

// TestContendedFileSerializedByLock verifies that when two live agents
// fight over one file, at most one holds its lock at any instant.
func TestContendedFileSerializedByLock(t *testing.T) {
	root := t.TempDir()
	c := newCoordinator(t, root)

	a, _ := c.OnSpawn("writer")
	b, _ := c.OnSpawn("writer")
	if _, err := c.OnFileOperation(a, "Write", "seed-a.txt"); err != nil {
		t.Fatalf("activating a: %v", err)
	}
	if _, err := c.OnFileOperation(b, "Write", "seed-b.txt"); err != nil {
		t.Fatalf("activating b: %v", err)
	}

	lm := c.Locks()
	const rounds = 20
	var holders int64
	var violations int64
	var wg sync.WaitGroup

	for _, agent := range []string{a, b} {
		wg.Add(1)
		go func(agent string) {
			defer wg.Done()
			for i := 0; i < rounds; i++ {
				if !lm.Acquire(agent, "hot.txt", "write", time.Second) {
					continue
				}
				if atomic.AddInt64(&holders, 1) > 1 {
					atomic.AddInt64(&violations, 1)
				}
				atomic.AddInt64(&holders, -1)
				lm.Release(agent, "hot.txt")
			}
		}(agent)
	}
	wg.Wait()

	if violations != 0 {
		t.Errorf("%d simultaneous holders observed, want 0", violations)
	}
}

// TestCrashRecoveryThroughCleanup simulates an agent whose process died:
// its pending record and lock go stale and cleanup reclaims both.
func TestCrashRecoveryThroughCleanup(t *testing.T) {
	root := t.TempDir()
	c := newCoordinator(t, root)

	dead, err := c.OnSpawn("writer")
	if err != nil {
		t.Fatalf("OnSpawn failed: %v", err)
	}

	// Back-date the pending record past the retention age
	dir := session.Dir(root, c.SessionID())
	recPath := filepath.Join(dir, session.PendingDirName, dead+session.RecordSuffix)
	if _, err := os.Stat(recPath); err != nil {
		t.Fatalf("pending record missing: %v", err)
	}
	rec := c.State().GetRecord(dead, state.StatePending)
	if rec == nil {
		t.Fatal("GetRecord returned nil")
	}

	counts := c.State().CleanupStale(time.Nanosecond)
	if counts.Expired != 1 {
		t.Errorf("expired = %d, want 1", counts.Expired)
	}
	if got := c.State().GetState(dead); got != state.StateUnknown {
		t.Errorf("reclaimed agent state = %v, want unknown", got)
	}

	// A replacement agent can register and proceed
	replacement, err := c.OnSpawn("writer")
	if err != nil {
		t.Fatalf("replacement OnSpawn failed: %v", err)
	}
	if _, err := c.OnFileOperation(replacement, "Write", "retry.txt"); err != nil {
		t.Fatalf("replacement write failed: %v", err)
	}
}
