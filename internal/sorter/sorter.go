// Package sorter produces the prioritized Focus and Waiting views. Ordering
// is riskiest first with deterministic tie-breaks so two renders of the same
// data never disagree.
package sorter

import (
	"context"
	"fmt"
	"sort"

	"github.com/Veraticus/under-the-hammer/internal/model"
	"github.com/Veraticus/under-the-hammer/internal/service"
)

// FocusLimit caps the focus view. The focus list is a work queue, not an
// archive; past ten items the agent should clear it, not scroll it.
const FocusLimit = 10

// Service answers thread list and count queries.
type Service struct {
	storage service.Storage
}

// New creates a sorter service backed by the given storage.
func New(storage service.Storage) *Service {
	return &Service{storage: storage}
}

// FocusList returns the threads where the agent owes the next reply,
// bounded to FocusLimit entries.
func (s *Service) FocusList(ctx context.Context, userID string) (*service.ThreadPage, error) {
	return s.ListThreads(ctx, service.ThreadListQuery{
		UserID:   userID,
		Category: model.CategoryFocus,
		Limit:    FocusLimit,
	})
}

// WaitingList returns one page of threads where the other party owes the
// next reply. RiskOnly restricts the page to flagged threads.
func (s *Service) WaitingList(ctx context.Context, userID string, riskOnly bool, limit, offset int) (*service.ThreadPage, error) {
	return s.ListThreads(ctx, service.ThreadListQuery{
		UserID:   userID,
		Category: model.CategoryWaiting,
		RiskOnly: riskOnly,
		Limit:    limit,
		Offset:   offset,
	})
}

// ListThreads returns one page of a category, riskiest first. The page
// carries enough shape for a caller to render "N of M" and paginate.
func (s *Service) ListThreads(ctx context.Context, query service.ThreadListQuery) (*service.ThreadPage, error) {
	threads, total, err := s.storage.ListThreadsByCategory(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list threads: %w", err)
	}

	offset := query.Offset
	if offset < 0 {
		offset = 0
	}

	return &service.ThreadPage{
		Threads:   threads,
		Total:     total,
		Displayed: len(threads),
		Offset:    offset,
		HasMore:   offset+len(threads) < total,
	}, nil
}

// Counts returns the count-only view used when a caller needs statistics
// without paying for thread rows.
func (s *Service) Counts(ctx context.Context, userID string) (*service.ThreadCounts, error) {
	counts, err := s.storage.CountThreads(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to count threads: %w", err)
	}
	return counts, nil
}

// Less reports whether thread a outranks thread b: higher risk first, then
// older last activity, then id. Total over distinct threads.
func Less(a, b *model.Thread) bool {
	if a.Risk.Rank() != b.Risk.Rank() {
		return a.Risk.Rank() > b.Risk.Rank()
	}
	if !a.LastMessageAt.Equal(b.LastMessageAt) {
		return a.LastMessageAt.Before(b.LastMessageAt)
	}
	return a.ID < b.ID
}

// Sort orders threads in place using Less. Callers that already hold a
// slice use this instead of round-tripping through storage.
func Sort(threads []model.Thread) {
	sort.Slice(threads, func(i, j int) bool {
		return Less(&threads[i], &threads[j])
	})
}
