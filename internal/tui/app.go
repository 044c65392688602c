package tui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/crewsync/crewsync/internal/lock"
	"github.com/crewsync/crewsync/internal/state"
	"github.com/crewsync/crewsync/internal/watch"
)

// App wraps the Bubbletea program for the live dashboard.
type App struct {
	model   Model
	watcher *watch.Watcher
}

// NewApp assembles a dashboard over a session. watcher may be nil; the
// dashboard then refreshes on its ticker alone.
func NewApp(sessionID string, sm *state.Manager, lm *lock.Manager, watcher *watch.Watcher) *App {
	var changes <-chan watch.Change
	if watcher != nil {
		changes = watcher.Changes()
	}
	return &App{
		model:   NewModel(sessionID, sm, lm, changes),
		watcher: watcher,
	}
}

// Run starts the dashboard and blocks until the user quits.
func (a *App) Run() error {
	if a.watcher != nil {
		a.watcher.Start()
		defer a.watcher.Stop()
	}

	program := tea.NewProgram(a.model, tea.WithAltScreen())
	_, err := program.Run()
	return err
}
