package lock

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/crewsync/crewsync/internal/events"
	"github.com/crewsync/crewsync/internal/session"
)

func newTestManager(t *testing.T, ttl time.Duration) *Manager {
	t.Helper()
	root := t.TempDir()
	s, err := session.Init(root, "sess-test")
	if err != nil {
		t.Fatalf("failed to init session: %v", err)
	}
	dir := session.Dir(root, s.ID)
	return NewManager(dir, s.ID, ttl, events.NewLog(dir), nil)
}

func TestResourceKey(t *testing.T) {
	k1 := ResourceKey("/repo/a.txt")
	k2 := ResourceKey("/repo/b.txt")

	if k1 == k2 {
		t.Error("distinct paths should produce distinct keys")
	}
	if len(k1) != 64 {
		t.Errorf("key length = %d, want 64 hex chars", len(k1))
	}
	if k1 != ResourceKey("/repo/a.txt") {
		t.Error("key derivation should be deterministic")
	}
}

func TestAcquireRelease(t *testing.T) {
	m := newTestManager(t, 0)

	if !m.Acquire("agent-a", "/repo/x.txt", "write", time.Second) {
		t.Fatal("Acquire should succeed on an unlocked resource")
	}

	// Metadata is visible the instant the lock is
	md := m.GetLockInfo("/repo/x.txt")
	if md == nil {
		t.Fatal("GetLockInfo returned nil for held lock")
	}
	if md.OwnerAgentID != "agent-a" {
		t.Errorf("OwnerAgentID = %q, want agent-a", md.OwnerAgentID)
	}
	if md.Operation != "write" {
		t.Errorf("Operation = %q, want write", md.Operation)
	}
	if md.AcquiredAt.IsZero() {
		t.Error("AcquiredAt should be stamped")
	}

	if !m.Release("agent-a", "/repo/x.txt") {
		t.Fatal("Release by owner should succeed")
	}
	if m.GetLockInfo("/repo/x.txt") != nil {
		t.Error("GetLockInfo should return nil after release")
	}
}

func TestAcquireContention(t *testing.T) {
	m := newTestManager(t, 0)

	if !m.Acquire("agent-a", "/repo/x.txt", "write", time.Second) {
		t.Fatal("first Acquire failed")
	}

	// Loser must fail within its own timeout, not the winner's TTL
	start := time.Now()
	if m.Acquire("agent-b", "/repo/x.txt", "write", 100*time.Millisecond) {
		t.Fatal("second Acquire should time out")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("losing Acquire took %v, should be bounded by its timeout", elapsed)
	}

	if !m.IsLocked("/repo/x.txt", "agent-b") {
		t.Error("IsLocked from loser's view should be true")
	}

	m.Release("agent-a", "/repo/x.txt")

	if !m.Acquire("agent-b", "/repo/x.txt", "write", time.Second) {
		t.Error("Acquire after release should succeed")
	}
}

func TestConcurrentAcquireExactlyOneWins(t *testing.T) {
	m := newTestManager(t, 0)

	const contenders = 12
	var wins int64
	var wg sync.WaitGroup
	start := make(chan struct{})

	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			<-start
			agent := string(rune('a' + n))
			if m.Acquire("agent-"+agent, "/repo/hot.txt", "write", 50*time.Millisecond) {
				atomic.AddInt64(&wins, 1)
			}
		}(i)
	}
	close(start)
	wg.Wait()

	if wins != 1 {
		t.Errorf("%d acquisitions succeeded, want exactly 1", wins)
	}
}

func TestOwnLockDoesNotBlock(t *testing.T) {
	m := newTestManager(t, 0)

	if !m.Acquire("agent-a", "/repo/x.txt", "write", time.Second) {
		t.Fatal("Acquire failed")
	}

	if m.IsLocked("/repo/x.txt", "agent-a") {
		t.Error("an agent's own lock should not block itself")
	}

	// Re-acquiring an already-held lock succeeds immediately
	start := time.Now()
	if !m.Acquire("agent-a", "/repo/x.txt", "write", 5*time.Second) {
		t.Error("re-acquire of own lock should succeed")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("re-acquire took %v, should be immediate", elapsed)
	}
}

func TestReleaseSemantics(t *testing.T) {
	m := newTestManager(t, 0)

	// Idempotent: releasing a lock that never existed is fine
	if !m.Release("agent-a", "/repo/never-locked.txt") {
		t.Error("Release of nonexistent lock should return true")
	}

	m.Acquire("agent-a", "/repo/x.txt", "write", time.Second)

	// Never release someone else's live lock
	if m.Release("agent-b", "/repo/x.txt") {
		t.Error("Release by non-owner should return false")
	}
	if m.GetLockInfo("/repo/x.txt") == nil {
		t.Fatal("lock should still be held after refused release")
	}

	if !m.Release("agent-a", "/repo/x.txt") {
		t.Error("Release by owner should succeed")
	}
	// Double release is idempotent
	if !m.Release("agent-a", "/repo/x.txt") {
		t.Error("second Release should return true")
	}
}

func TestStaleLockReclaimedByAcquire(t *testing.T) {
	m := newTestManager(t, 200*time.Millisecond)

	if !m.Acquire("agent-dead", "/repo/x.txt", "write", time.Second) {
		t.Fatal("Acquire failed")
	}

	backdateLock(t, m, "/repo/x.txt", -time.Minute)

	// New acquirer reclaims the stale lock well inside its timeout
	start := time.Now()
	if !m.Acquire("agent-b", "/repo/x.txt", "write", 2*time.Second) {
		t.Fatal("Acquire should reclaim the stale lock")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("stale reclamation took %v, should be immediate", elapsed)
	}

	md := m.GetLockInfo("/repo/x.txt")
	if md == nil || md.OwnerAgentID != "agent-b" {
		t.Errorf("lock owner = %v, want agent-b", md)
	}
}

func TestStaleLockDoesNotBlockIsLocked(t *testing.T) {
	m := newTestManager(t, 200*time.Millisecond)

	m.Acquire("agent-dead", "/repo/x.txt", "write", time.Second)
	backdateLock(t, m, "/repo/x.txt", -time.Minute)

	if m.IsLocked("/repo/x.txt", "agent-b") {
		t.Error("a stale lock should not report as locked")
	}
}

func TestMetadatalessLockIsStale(t *testing.T) {
	m := newTestManager(t, 0)

	// A crashed acquirer's remnant: lock directory without metadata
	remnant := m.lockDir(ResourceKey("/repo/x.txt"))
	if err := os.MkdirAll(remnant, 0755); err != nil {
		t.Fatalf("failed to create remnant: %v", err)
	}

	if m.IsLocked("/repo/x.txt", "agent-b") {
		t.Error("metadata-less lock should not report as locked")
	}
	if !m.Acquire("agent-b", "/repo/x.txt", "write", time.Second) {
		t.Error("Acquire should reclaim a metadata-less lock")
	}
}

func TestReleaseAllForAgent(t *testing.T) {
	m := newTestManager(t, 0)

	m.Acquire("agent-a", "/repo/1.txt", "write", time.Second)
	m.Acquire("agent-a", "/repo/2.txt", "write", time.Second)
	m.Acquire("agent-b", "/repo/3.txt", "write", time.Second)

	released := m.ReleaseAllForAgent("agent-a")
	if len(released) != 2 {
		t.Errorf("ReleaseAllForAgent released %d locks, want 2", len(released))
	}

	if m.GetLockInfo("/repo/1.txt") != nil || m.GetLockInfo("/repo/2.txt") != nil {
		t.Error("agent-a locks should be gone")
	}
	if m.GetLockInfo("/repo/3.txt") == nil {
		t.Error("agent-b lock should survive")
	}
}

func TestCleanupStale(t *testing.T) {
	root := t.TempDir()
	s, err := session.Init(root, "sess-cl")
	if err != nil {
		t.Fatalf("failed to init session: %v", err)
	}
	dir := session.Dir(root, s.ID)
	log := events.NewLog(dir)
	m := NewManager(dir, s.ID, 200*time.Millisecond, log, nil)

	m.Acquire("agent-a", "/repo/old.txt", "write", time.Second)
	m.Acquire("agent-b", "/repo/fresh.txt", "write", time.Second)
	backdateLock(t, m, "/repo/old.txt", -time.Minute)

	count := m.CleanupStale()
	if count != 1 {
		t.Errorf("CleanupStale = %d, want 1", count)
	}

	if m.GetLockInfo("/repo/old.txt") != nil {
		t.Error("stale lock should be gone")
	}
	if m.GetLockInfo("/repo/fresh.txt") == nil {
		t.Error("fresh lock should survive")
	}

	// Force-release must be logged distinctly from a normal release
	evs, err := log.Read()
	if err != nil {
		t.Fatalf("failed to read event log: %v", err)
	}
	found := false
	for _, ev := range evs {
		if ev.Type == events.TypeLockForceReleased {
			found = true
		}
	}
	if !found {
		t.Error("expected a lock_force_released event")
	}
}

// backdateLock rewrites a lock's metadata with an AcquiredAt shifted by
// offset, simulating an owner that died long ago.
func backdateLock(t *testing.T, m *Manager, filePath string, offset time.Duration) {
	t.Helper()

	key := ResourceKey(filePath)
	md := m.readMetadata(key)
	if md == nil {
		t.Fatalf("no metadata for %s", filePath)
	}
	md.AcquiredAt = time.Now().UTC().Add(offset)

	data, err := json.MarshalIndent(md, "", "  ")
	if err != nil {
		t.Fatalf("failed to marshal metadata: %v", err)
	}
	if err := os.WriteFile(filepath.Join(m.lockDir(key), MetadataFileName), data, 0644); err != nil {
		t.Fatalf("failed to rewrite metadata: %v", err)
	}
}
