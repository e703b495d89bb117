package tui

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Veraticus/under-the-hammer/internal/model"
	"github.com/Veraticus/under-the-hammer/internal/service"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/require"
)

type waitingCall struct {
	riskOnly bool
	limit    int
	offset   int
}

type fakeLister struct {
	focusErr     error
	waitingErr   error
	countsErr    error
	focus        *service.ThreadPage
	waiting      *service.ThreadPage
	counts       *service.ThreadCounts
	waitingCalls []waitingCall
	focusCalls   int
}

func (f *fakeLister) FocusList(_ context.Context, _ string) (*service.ThreadPage, error) {
	f.focusCalls++
	if f.focusErr != nil {
		return nil, f.focusErr
	}
	return f.focus, nil
}

func (f *fakeLister) WaitingList(_ context.Context, _ string, riskOnly bool, limit, offset int) (*service.ThreadPage, error) {
	f.waitingCalls = append(f.waitingCalls, waitingCall{riskOnly: riskOnly, limit: limit, offset: offset})
	if f.waitingErr != nil {
		return nil, f.waitingErr
	}
	return f.waiting, nil
}

func (f *fakeLister) Counts(_ context.Context, _ string) (*service.ThreadCounts, error) {
	if f.countsErr != nil {
		return nil, f.countsErr
	}
	return f.counts, nil
}

func newFakeLister() *fakeLister {
	now := time.Now()
	return &fakeLister{
		focus: &service.ThreadPage{
			Threads: []model.Thread{
				{
					ID:            "th-1",
					Subject:       "12 Harbour View Rd - LIM report",
					Participants:  []string{"jan@harcourts.example"},
					Risk:          model.RiskCritical,
					Category:      model.CategoryFocus,
					LastMessageAt: now.Add(-49 * time.Hour),
				},
				{
					ID:            "th-2",
					Subject:       "Open home times for Saturday",
					Participants:  []string{"sam@example.com"},
					Category:      model.CategoryFocus,
					LastMessageAt: now.Add(-3 * time.Hour),
				},
				{
					ID:            "th-3",
					Subject:       "Builder quote",
					Category:      model.CategoryFocus,
					LastMessageAt: now.Add(-30 * time.Second),
				},
			},
			Total:     3,
			Displayed: 3,
		},
		waiting: &service.ThreadPage{
			Threads: []model.Thread{
				{
					ID:            "th-9",
					Subject:       "Vendor to confirm settlement date",
					Participants:  []string{"vendor@example.com"},
					Risk:          model.RiskHigh,
					Category:      model.CategoryWaiting,
					LastMessageAt: now.Add(-72 * time.Hour),
				},
			},
			Total:     30,
			Displayed: 1,
			HasMore:   true,
		},
		counts: &service.ThreadCounts{Focus: 3, Waiting: 30, AtRisk: 2},
	}
}

// collect executes a command tree and flattens the resulting messages.
func collect(cmd tea.Cmd) []tea.Msg {
	if cmd == nil {
		return nil
	}
	msg := cmd()
	if batch, ok := msg.(tea.BatchMsg); ok {
		var out []tea.Msg
		for _, c := range batch {
			out = append(out, collect(c)...)
		}
		return out
	}
	return []tea.Msg{msg}
}

func apply(t *testing.T, m Model, msgs ...tea.Msg) Model {
	t.Helper()
	for _, msg := range msgs {
		next, _ := m.Update(msg)
		updated, ok := next.(Model)
		require.True(t, ok)
		m = updated
	}
	return m
}

func keyMsg(s string) tea.KeyMsg {
	switch s {
	case "tab":
		return tea.KeyMsg{Type: tea.KeyTab}
	case "pgdown":
		return tea.KeyMsg{Type: tea.KeyPgDown}
	case "pgup":
		return tea.KeyMsg{Type: tea.KeyPgUp}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	case "ctrl+c":
		return tea.KeyMsg{Type: tea.KeyCtrlC}
	default:
		return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
	}
}

func press(t *testing.T, m Model, s string) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(keyMsg(s))
	updated, ok := next.(Model)
	require.True(t, ok)
	return updated, cmd
}

// startModel runs Init and applies everything it produced.
func startModel(t *testing.T, lister *fakeLister) Model {
	t.Helper()
	m := newModel(Config{Lister: lister, UserID: "user-1", Width: 100, Height: 30})
	return apply(t, m, collect(m.Init())...)
}

func TestInitLoadsThreadsAndCounts(t *testing.T) {
	lister := newFakeLister()
	m := startModel(t, lister)

	require.True(t, m.ready)
	require.False(t, m.loading)
	require.Equal(t, 1, lister.focusCalls)
	require.Len(t, m.threads, 3)

	view := m.View()
	require.Contains(t, view, "12 Harbour View Rd - LIM report")
	require.Contains(t, view, "CRITICAL")
	require.Contains(t, view, "jan@harcourts.example")
	require.Contains(t, view, "2d")
	require.Contains(t, view, "Focus 3")
	require.Contains(t, view, "At risk 2")
	require.Contains(t, view, "1 of 3")
	require.Contains(t, view, "›")
}

func TestViewBeforeFirstLoad(t *testing.T) {
	m := newModel(Config{Lister: newFakeLister(), UserID: "user-1"})
	require.Contains(t, m.View(), "Loading threads...")
}

func TestTabSwitchLoadsWaiting(t *testing.T) {
	lister := newFakeLister()
	m := startModel(t, lister)

	m, cmd := press(t, m, "tab")
	require.Equal(t, TabWaiting, m.tab)
	require.True(t, m.loading)
	require.NotNil(t, cmd)

	m = apply(t, m, collect(cmd)...)
	require.Len(t, lister.waitingCalls, 1)
	require.Equal(t, waitingCall{riskOnly: false, limit: 25, offset: 0}, lister.waitingCalls[0])

	view := m.View()
	require.Contains(t, view, "Vendor to confirm settlement date")
	require.Contains(t, view, "HIGH")
	require.Contains(t, view, "PgDn for more")

	m, cmd = press(t, m, "tab")
	require.Equal(t, TabFocus, m.tab)
	m = apply(t, m, collect(cmd)...)
	require.Contains(t, m.View(), "Builder quote")
}

func TestRiskFilterOnlyOnWaitingTab(t *testing.T) {
	lister := newFakeLister()
	m := startModel(t, lister)

	m, cmd := press(t, m, "f")
	require.Nil(t, cmd)
	require.Empty(t, lister.waitingCalls)

	m, cmd = press(t, m, "tab")
	m = apply(t, m, collect(cmd)...)

	m, cmd = press(t, m, "f")
	m = apply(t, m, collect(cmd)...)
	require.True(t, m.riskOnly)
	require.True(t, lister.waitingCalls[1].riskOnly)
	require.Contains(t, m.View(), "at-risk only")

	m, cmd = press(t, m, "f")
	apply(t, m, collect(cmd)...)
	require.False(t, lister.waitingCalls[2].riskOnly)
}

func TestCursorClampsToList(t *testing.T) {
	m := startModel(t, newFakeLister())

	for i := 0; i < 5; i++ {
		m, _ = press(t, m, "j")
	}
	require.Equal(t, 2, m.cursor)
	require.Contains(t, m.View(), "3 of 3")

	for i := 0; i < 5; i++ {
		m, _ = press(t, m, "k")
	}
	require.Equal(t, 0, m.cursor)
}

func TestPagingOnWaitingTab(t *testing.T) {
	lister := newFakeLister()
	m := startModel(t, lister)

	// Focus list never pages.
	m, cmd := press(t, m, "pgdown")
	require.Nil(t, cmd)

	m, cmd = press(t, m, "tab")
	m = apply(t, m, collect(cmd)...)

	m, cmd = press(t, m, "pgdown")
	m = apply(t, m, collect(cmd)...)
	require.Equal(t, 25, m.offset)
	require.Equal(t, 25, lister.waitingCalls[1].offset)

	m, cmd = press(t, m, "pgup")
	m = apply(t, m, collect(cmd)...)
	require.Equal(t, 0, m.offset)
	require.Equal(t, 0, lister.waitingCalls[2].offset)

	// Already on the first page.
	_, cmd = press(t, m, "pgup")
	require.Nil(t, cmd)
}

func TestStaleTabReplyDropped(t *testing.T) {
	lister := newFakeLister()
	m := startModel(t, lister)

	m, _ = press(t, m, "tab")
	require.Equal(t, TabWaiting, m.tab)

	stale := threadsLoadedMsg{
		tab:  TabFocus,
		page: &service.ThreadPage{Threads: []model.Thread{{ID: "stale", Subject: "stale reply"}}},
	}
	m = apply(t, m, stale)

	require.True(t, m.loading)
	require.Len(t, m.threads, 3)
	require.NotContains(t, m.View(), "stale reply")
}

func TestLoadErrorShownAndCleared(t *testing.T) {
	lister := newFakeLister()
	lister.focusErr = errors.New("database is locked")
	m := startModel(t, lister)

	require.True(t, m.ready)
	require.Contains(t, m.View(), "database is locked")

	lister.focusErr = nil
	m, cmd := press(t, m, "r")
	m = apply(t, m, collect(cmd)...)
	require.NotContains(t, m.View(), "database is locked")
	require.Contains(t, m.View(), "Builder quote")
}

func TestCountsErrorIgnored(t *testing.T) {
	lister := newFakeLister()
	lister.countsErr = errors.New("counts query failed")
	m := startModel(t, lister)

	require.NoError(t, m.lastError)
	require.Equal(t, service.ThreadCounts{}, m.counts)
	require.Contains(t, m.View(), "Builder quote")
}

func TestRefreshReloadsThreadsAndCounts(t *testing.T) {
	lister := newFakeLister()
	m := startModel(t, lister)

	lister.counts = &service.ThreadCounts{Focus: 9, Waiting: 1, AtRisk: 0}
	m, cmd := press(t, m, "r")
	m = apply(t, m, collect(cmd)...)

	require.Equal(t, 2, lister.focusCalls)
	require.Contains(t, m.View(), "Focus 9")
}

func TestHelpToggle(t *testing.T) {
	m := startModel(t, newFakeLister())

	m, _ = press(t, m, "?")
	require.True(t, m.showHelp)
	view := m.View()
	require.Contains(t, view, "at-risk only")
	require.Contains(t, view, "Press ? or Esc to close help")

	// Navigation is inert while help is open.
	m, _ = press(t, m, "j")
	require.Equal(t, 0, m.cursor)

	m, cmd := press(t, m, "esc")
	require.False(t, m.showHelp)
	require.Nil(t, cmd)

	m, cmd = press(t, m, "esc")
	require.NotNil(t, cmd)
	require.IsType(t, tea.QuitMsg{}, cmd())
	require.Empty(t, m.View())
}

func TestQuitKeys(t *testing.T) {
	for _, k := range []string{"q", "ctrl+c"} {
		m := startModel(t, newFakeLister())
		m, cmd := press(t, m, k)
		require.NotNil(t, cmd, "key %q", k)
		require.IsType(t, tea.QuitMsg{}, cmd())
		require.Empty(t, m.View())
	}
}

func TestNarrowLayoutDropsFromColumn(t *testing.T) {
	m := startModel(t, newFakeLister())

	m = apply(t, m, tea.WindowSizeMsg{Width: 60, Height: 20})
	view := m.View()
	require.NotContains(t, view, "FROM")
	require.NotContains(t, view, "jan@harcourts.example")

	m = apply(t, m, tea.WindowSizeMsg{Width: 110, Height: 30})
	view = m.View()
	require.Contains(t, view, "FROM")
	require.Contains(t, view, "jan@harcourts.example")
}

func TestFocusOverflowHint(t *testing.T) {
	lister := newFakeLister()
	lister.focus.Total = 12
	m := startModel(t, lister)
	require.Contains(t, m.View(), "9 more not shown")
}

func TestEmptyStates(t *testing.T) {
	lister := newFakeLister()
	lister.focus = &service.ThreadPage{}
	lister.waiting = &service.ThreadPage{}
	m := startModel(t, lister)
	require.Contains(t, m.View(), "Inbox zero. Nothing needs a reply.")

	m, cmd := press(t, m, "tab")
	m = apply(t, m, collect(cmd)...)
	require.Contains(t, m.View(), "Not waiting on anyone.")

	m, cmd = press(t, m, "f")
	m = apply(t, m, collect(cmd)...)
	require.Contains(t, m.View(), "No at-risk threads.")
}

func TestRunValidatesConfig(t *testing.T) {
	err := Run(context.Background(), Config{})
	require.ErrorContains(t, err, "thread lister is required")

	err = Run(context.Background(), Config{Lister: newFakeLister()})
	require.ErrorContains(t, err, "user id is required")
}

func TestFormatAge(t *testing.T) {
	tests := []struct {
		name string
		d    time.Duration
		want string
	}{
		{name: "just now", d: 20 * time.Second, want: "now"},
		{name: "negative clamps", d: -time.Hour, want: "now"},
		{name: "minutes", d: 90 * time.Second, want: "1m"},
		{name: "hours", d: 3*time.Hour + 20*time.Minute, want: "3h"},
		{name: "days", d: 49 * time.Hour, want: "2d"},
		{name: "weeks", d: 20 * 24 * time.Hour, want: "2w"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, formatAge(tt.d))
		})
	}
}

func TestTruncate(t *testing.T) {
	require.Equal(t, "short", truncate("short", 10))
	require.Equal(t, "exact", truncate("exact", 5))
	require.Equal(t, "long…", truncate("longer", 5))
	require.Equal(t, "…", truncate("anything", 1))
	require.Equal(t, "", truncate("anything", 0))
}
