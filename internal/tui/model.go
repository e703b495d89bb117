// Package tui renders the interactive thread browser.
package tui

import (
	"context"

	"github.com/Veraticus/under-the-hammer/internal/model"
	"github.com/Veraticus/under-the-hammer/internal/service"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
)

// Tab selects which thread list fills the table.
type Tab int

const (
	// TabFocus shows threads waiting on the agent.
	TabFocus Tab = iota
	// TabWaiting shows threads waiting on the other party.
	TabWaiting
)

// ThreadLister is the read side of the thread sorter the browser consumes.
type ThreadLister interface {
	FocusList(ctx context.Context, userID string) (*service.ThreadPage, error)
	WaitingList(ctx context.Context, userID string, riskOnly bool, limit, offset int) (*service.ThreadPage, error)
	Counts(ctx context.Context, userID string) (*service.ThreadCounts, error)
}

// Config wires the browser to its data source.
type Config struct {
	Lister   ThreadLister
	UserID   string
	PageSize int
	Width    int
	Height   int
}

// Model holds the browser state.
type Model struct {
	lister    ThreadLister
	lastError error
	threads   []model.Thread
	keymap    KeyMap
	counts    service.ThreadCounts
	userID    string
	tab       Tab
	cursor    int
	offset    int
	pageSize  int
	total     int
	width     int
	height    int
	hasMore   bool
	riskOnly  bool
	loading   bool
	showHelp  bool
	quitting  bool
	ready     bool
}

// newModel creates a new model with the given configuration.
func newModel(cfg Config) Model {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 25
	}
	if cfg.Width <= 0 {
		cfg.Width = 80
	}
	if cfg.Height <= 0 {
		cfg.Height = 24
	}
	return Model{
		lister:   cfg.Lister,
		keymap:   DefaultKeyMap(),
		userID:   cfg.UserID,
		tab:      TabFocus,
		pageSize: cfg.PageSize,
		width:    cfg.Width,
		height:   cfg.Height,
		loading:  true,
	}
}

// Init initializes the model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		tea.EnterAltScreen,
		m.loadThreads(),
		m.loadCounts(),
	)
}

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if next, cmd, handled := m.handleGlobalKeys(msg); handled {
			return next, cmd
		}
		if m.showHelp {
			return m, nil
		}
		return m.handleBrowseKeys(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case threadsLoadedMsg:
		if msg.tab != m.tab {
			return m, nil
		}
		m.loading = false
		m.ready = true
		if msg.err != nil {
			m.lastError = msg.err
			return m, nil
		}
		m.lastError = nil
		m.threads = msg.page.Threads
		m.total = msg.page.Total
		m.hasMore = msg.page.HasMore
		if m.cursor >= len(m.threads) {
			m.cursor = max(len(m.threads)-1, 0)
		}
		return m, nil

	case countsLoadedMsg:
		if msg.err == nil && msg.counts != nil {
			m.counts = *msg.counts
		}
		return m, nil
	}

	return m, nil
}

// View renders the UI.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if m.showHelp {
		return m.renderHelp()
	}
	if !m.ready {
		return m.renderLoading()
	}
	return m.renderBrowse()
}

// handleGlobalKeys handles keys that work in any state.
func (m Model) handleGlobalKeys(msg tea.KeyMsg) (Model, tea.Cmd, bool) {
	switch msg.String() {
	case "ctrl+c", "q":
		m.quitting = true
		return m, tea.Quit, true
	case "esc":
		if m.showHelp {
			m.showHelp = false
			return m, nil, true
		}
		m.quitting = true
		return m, tea.Quit, true
	case "?":
		m.showHelp = !m.showHelp
		return m, nil, true
	case "ctrl+l":
		return m, tea.ClearScreen, true
	}
	return m, nil, false
}

// handleBrowseKeys handles navigation inside the thread table.
func (m Model) handleBrowseKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keymap.Up):
		if m.cursor > 0 {
			m.cursor--
		}
		return m, nil

	case key.Matches(msg, m.keymap.Down):
		if m.cursor < len(m.threads)-1 {
			m.cursor++
		}
		return m, nil

	case key.Matches(msg, m.keymap.NextTab):
		if m.tab == TabFocus {
			m.tab = TabWaiting
		} else {
			m.tab = TabFocus
		}
		m.cursor = 0
		m.offset = 0
		m.loading = true
		return m, m.loadThreads()

	case key.Matches(msg, m.keymap.ToggleRisk):
		if m.tab != TabWaiting {
			return m, nil
		}
		m.riskOnly = !m.riskOnly
		m.cursor = 0
		m.offset = 0
		m.loading = true
		return m, m.loadThreads()

	case key.Matches(msg, m.keymap.Refresh):
		m.loading = true
		return m, tea.Batch(m.loadThreads(), m.loadCounts())

	case key.Matches(msg, m.keymap.PageDown):
		if m.tab != TabWaiting || !m.hasMore {
			return m, nil
		}
		m.offset += m.pageSize
		m.cursor = 0
		m.loading = true
		return m, m.loadThreads()

	case key.Matches(msg, m.keymap.PageUp):
		if m.tab != TabWaiting || m.offset == 0 {
			return m, nil
		}
		m.offset = max(m.offset-m.pageSize, 0)
		m.cursor = 0
		m.loading = true
		return m, m.loadThreads()
	}

	return m, nil
}
