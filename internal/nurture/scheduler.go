// Package nurture manages long-term follow-up touches for deals parked in
// the nurture stage.
package nurture

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/Veraticus/under-the-hammer/internal/model"
	"github.com/Veraticus/under-the-hammer/internal/service"
)

// DefaultCadence is how far out the first touch lands when a deal is
// parked without an explicit schedule.
const DefaultCadence = 90 * 24 * time.Hour

// Scheduler creates and resolves nurture touches.
type Scheduler struct {
	storage service.Storage
	clock   clockwork.Clock
}

// New creates a scheduler. A nil clock uses the real one.
func New(storage service.Storage, clock clockwork.Clock) *Scheduler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Scheduler{
		storage: storage,
		clock:   clock,
	}
}

// ParkDeal moves a deal into the nurture stage and schedules its first
// touch. A zero cadence uses the default.
func (s *Scheduler) ParkDeal(ctx context.Context, dealID, note string, cadence time.Duration) (*model.NurtureTouch, error) {
	deal, err := s.storage.GetDeal(ctx, dealID)
	if err != nil {
		return nil, fmt.Errorf("failed to load deal: %w", err)
	}

	if deal.Stage != model.StageNurture {
		if err := s.storage.UpdateDealStage(ctx, dealID, model.StageNurture, false); err != nil {
			return nil, fmt.Errorf("failed to park deal: %w", err)
		}
	}

	return s.ScheduleTouch(ctx, deal.UserID, dealID, note, cadence)
}

// ScheduleTouch creates one touch due cadence from now. A zero cadence
// uses the default.
func (s *Scheduler) ScheduleTouch(ctx context.Context, userID, dealID, note string, cadence time.Duration) (*model.NurtureTouch, error) {
	if cadence <= 0 {
		cadence = DefaultCadence
	}

	touch := &model.NurtureTouch{
		UserID: userID,
		DealID: dealID,
		Note:   note,
		DueAt:  s.clock.Now().UTC().Add(cadence),
	}
	if err := s.storage.CreateNurtureTouch(ctx, touch); err != nil {
		return nil, fmt.Errorf("failed to schedule touch: %w", err)
	}

	return touch, nil
}

// CompleteTouch marks a touch done as of now.
func (s *Scheduler) CompleteTouch(ctx context.Context, id int64) error {
	if err := s.storage.CompleteNurtureTouch(ctx, id, s.clock.Now().UTC()); err != nil {
		return fmt.Errorf("failed to complete touch: %w", err)
	}
	return nil
}

// CountPendingTouches counts the touches due as of now. This is the number
// the morning briefing reports.
func (s *Scheduler) CountPendingTouches(ctx context.Context, userID string) (int, error) {
	count, err := s.storage.CountPendingNurtureTouches(ctx, userID, s.clock.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to count touches: %w", err)
	}
	return count, nil
}
