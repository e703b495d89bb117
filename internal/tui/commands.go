package tui

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// loadThreads fetches the active tab's thread page. The returned message
// carries the tab it was requested for so late replies from a previous tab
// can be dropped.
func (m Model) loadThreads() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		switch m.tab {
		case TabWaiting:
			page, err := m.lister.WaitingList(ctx, m.userID, m.riskOnly, m.pageSize, m.offset)
			return threadsLoadedMsg{err: err, page: page, tab: TabWaiting}
		default:
			page, err := m.lister.FocusList(ctx, m.userID)
			return threadsLoadedMsg{err: err, page: page, tab: TabFocus}
		}
	}
}

// loadCounts fetches the header statistics.
func (m Model) loadCounts() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		counts, err := m.lister.Counts(ctx, m.userID)
		return countsLoadedMsg{err: err, counts: counts}
	}
}
