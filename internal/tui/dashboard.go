package tui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/crewsync/crewsync/internal/lock"
	"github.com/crewsync/crewsync/internal/state"
	"github.com/crewsync/crewsync/internal/watch"
)

// refreshInterval is the fallback poll cadence. Watcher events normally
// drive refreshes; the ticker covers mutations the watcher misses (a
// lock going stale changes nothing on disk).
const refreshInterval = 2 * time.Second

type tickMsg time.Time

// changeMsg wraps a watcher notification for the bubbletea loop.
type changeMsg watch.Change

// watcherClosedMsg signals that the change stream ended.
type watcherClosedMsg struct{}

// Model is the live dashboard: a snapshot plus the plumbing to refresh
// it from watcher events and a ticker.
type Model struct {
	sessionID string
	stateMgr  *state.Manager
	lockMgr   *lock.Manager
	changes   <-chan watch.Change

	snap      Snapshot
	lastEvent string
	width     int
	height    int
}

// NewModel creates the dashboard model. changes may be nil; the
// dashboard then refreshes on the ticker alone.
func NewModel(sessionID string, sm *state.Manager, lm *lock.Manager, changes <-chan watch.Change) Model {
	return Model{
		sessionID: sessionID,
		stateMgr:  sm,
		lockMgr:   lm,
		changes:   changes,
		snap:      Collect(sessionID, sm, lm),
	}
}

// Init schedules the first tick and the first watcher read.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.tick(), m.nextChange())
}

func (m Model) tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m Model) nextChange() tea.Cmd {
	if m.changes == nil {
		return nil
	}
	return func() tea.Msg {
		c, ok := <-m.changes
		if !ok {
			return watcherClosedMsg{}
		}
		return changeMsg(c)
	}
}

// Update handles key presses, refresh ticks, and watcher changes.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "r":
			m.snap = Collect(m.sessionID, m.stateMgr, m.lockMgr)
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tickMsg:
		m.snap = Collect(m.sessionID, m.stateMgr, m.lockMgr)
		return m, m.tick()

	case changeMsg:
		m.snap = Collect(m.sessionID, m.stateMgr, m.lockMgr)
		m.lastEvent = describeChange(watch.Change(msg))
		return m, m.nextChange()

	case watcherClosedMsg:
		return m, nil
	}
	return m, nil
}

// View renders the dashboard.
func (m Model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("crewsync — session "+m.sessionID) + "\n")

	pending, active, completed := m.snap.Counts()
	counts := fmt.Sprintf("%s %d   %s %d   %s %d   %s %d",
		pendingStyle.Render("pending"), pending,
		activeStyle.Render("active"), active,
		completedStyle.Render("completed"), completed,
		headerStyle.Render("locks"), len(m.snap.Locks))
	b.WriteString(counts + "\n\n")

	b.WriteString(m.renderAgents())
	b.WriteString("\n")
	b.WriteString(m.renderLocks())

	if m.lastEvent != "" {
		b.WriteString("\n" + mutedStyle.Render("last: "+m.lastEvent))
	}
	b.WriteString("\n" + mutedStyle.Render("q quit · r refresh"))
	return b.String()
}

func (m Model) renderAgents() string {
	var rows []string
	rows = append(rows, headerStyle.Render(fmt.Sprintf("%-9s  %-10s  %-34s  %s",
		"STATE", "TYPE", "AGENT", "WORKSPACE")))

	if len(m.snap.Agents) == 0 {
		rows = append(rows, mutedStyle.Render("no agents"))
	}
	for _, a := range m.snap.Agents {
		ws := a.Workspace
		if ws == "" {
			ws = "-"
		}
		rows = append(rows, fmt.Sprintf("%s  %-10s  %-34s  %s",
			stateStyle(a.State).Render(fmt.Sprintf("%-9s", a.State)),
			a.AgentType, a.AgentID, mutedStyle.Render(ws)))
	}
	return panelStyle.Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}

func (m Model) renderLocks() string {
	var rows []string
	rows = append(rows, headerStyle.Render(fmt.Sprintf("%-40s  %-34s  %s",
		"FILE", "OWNER", "AGE")))

	if len(m.snap.Locks) == 0 {
		rows = append(rows, mutedStyle.Render("no live locks"))
	}
	for _, l := range m.snap.Locks {
		age := l.Age.Round(time.Second)
		style := mutedStyle
		if l.Age > 5*time.Minute {
			style = warnStyle
		}
		rows = append(rows, fmt.Sprintf("%-40s  %-34s  %s",
			truncate(l.FilePath, 40), l.Owner, style.Render(age.String())))
	}
	return panelStyle.Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}

func describeChange(c watch.Change) string {
	verb := "updated"
	if c.Removed {
		verb = "removed"
	}
	if c.Kind == watch.ChangeLock {
		return fmt.Sprintf("lock %s %s", c.Name[:8], verb)
	}
	if c.State != "" {
		return fmt.Sprintf("agent %s %s (%s)", c.Name, verb, c.State)
	}
	return fmt.Sprintf("agent %s %s", c.Name, verb)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "…" + s[len(s)-n+1:]
}
