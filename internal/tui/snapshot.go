// Package tui renders session state: a one-shot styled summary for the
// status command and a live dashboard for the watch command.
package tui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/crewsync/crewsync/internal/lock"
	"github.com/crewsync/crewsync/internal/state"
)

// AgentRow is one agent in a snapshot.
type AgentRow struct {
	AgentID   string
	AgentType string
	State     string
	Workspace string
	Since     time.Time
}

// LockRow is one live lock in a snapshot.
type LockRow struct {
	ResourceKey string
	FilePath    string
	Owner       string
	Operation   string
	Age         time.Duration
}

// Snapshot is a point-in-time view of one session, assembled by
// re-reading the session tree.
type Snapshot struct {
	SessionID string
	Agents    []AgentRow
	Locks     []LockRow
	TakenAt   time.Time
}

// Collect builds a Snapshot from the state and lock managers.
func Collect(sessionID string, sm *state.Manager, lm *lock.Manager) Snapshot {
	snap := Snapshot{SessionID: sessionID, TakenAt: time.Now()}

	add := func(recs []*state.AgentRecord, st string) {
		for _, rec := range recs {
			since := rec.RegisteredAt
			switch {
			case st == "completed" && rec.CompletedAt != nil:
				since = *rec.CompletedAt
			case st == "active" && rec.ActivatedAt != nil:
				since = *rec.ActivatedAt
			}
			snap.Agents = append(snap.Agents, AgentRow{
				AgentID:   rec.AgentID,
				AgentType: rec.AgentType,
				State:     st,
				Workspace: rec.WorkspacePath,
				Since:     since,
			})
		}
	}
	add(sm.ListPending(), "pending")
	add(sm.ListActive(), "active")
	add(sm.ListCompleted(), "completed")
	sort.Slice(snap.Agents, func(i, j int) bool {
		return snap.Agents[i].AgentID < snap.Agents[j].AgentID
	})

	for _, md := range lm.ListLive() {
		snap.Locks = append(snap.Locks, LockRow{
			ResourceKey: md.ResourceKey,
			FilePath:    md.FilePath,
			Owner:       md.OwnerAgentID,
			Operation:   md.Operation,
			Age:         time.Since(md.AcquiredAt),
		})
	}
	sort.Slice(snap.Locks, func(i, j int) bool {
		return snap.Locks[i].FilePath < snap.Locks[j].FilePath
	})

	return snap
}

// Counts returns per-state agent totals.
func (s Snapshot) Counts() (pending, active, completed int) {
	for _, a := range s.Agents {
		switch a.State {
		case "pending":
			pending++
		case "active":
			active++
		case "completed":
			completed++
		}
	}
	return
}

// RenderSummary renders a one-shot styled view of the snapshot, used by
// the status command.
func RenderSummary(s Snapshot) string {
	var b strings.Builder

	pending, active, completed := s.Counts()
	b.WriteString(titleStyle.Render("Session "+s.SessionID) + "\n")
	b.WriteString(fmt.Sprintf("%s %s  %s %s  %s %s\n\n",
		pendingStyle.Render("pending"), headerStyle.Render(fmt.Sprint(pending)),
		activeStyle.Render("active"), headerStyle.Render(fmt.Sprint(active)),
		completedStyle.Render("completed"), headerStyle.Render(fmt.Sprint(completed)),
	))

	if len(s.Agents) == 0 {
		b.WriteString(mutedStyle.Render("no agents") + "\n")
	}
	for _, a := range s.Agents {
		line := fmt.Sprintf("%s  %-10s %s",
			stateStyle(a.State).Render(fmt.Sprintf("%-9s", a.State)),
			a.AgentType, a.AgentID)
		if a.Workspace != "" {
			line += mutedStyle.Render("  " + a.Workspace)
		}
		b.WriteString(line + "\n")
	}

	b.WriteString("\n" + headerStyle.Render("Locks") + "\n")
	if len(s.Locks) == 0 {
		b.WriteString(mutedStyle.Render("no live locks") + "\n")
	}
	for _, l := range s.Locks {
		age := l.Age.Round(time.Second)
		style := mutedStyle
		if l.Age > 5*time.Minute {
			style = warnStyle
		}
		b.WriteString(fmt.Sprintf("%s  held by %s  %s\n",
			l.FilePath, l.Owner, style.Render(age.String())))
	}

	return b.String()
}
