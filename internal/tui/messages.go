package tui

import "github.com/Veraticus/under-the-hammer/internal/service"

// Data loading messages.
type threadsLoadedMsg struct {
	err  error
	page *service.ThreadPage
	tab  Tab
}

type countsLoadedMsg struct {
	err    error
	counts *service.ThreadCounts
}
