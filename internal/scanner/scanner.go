// Package scanner walks each user's open deals looking for conditions and
// settlements coming due and deals that have stopped moving. Every find is
// checked against the dedup ledger before a notification goes out, so an
// hourly scan never turns a daily reminder into an hourly one.
package scanner

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/Veraticus/under-the-hammer/internal/ledger"
	"github.com/Veraticus/under-the-hammer/internal/model"
	"github.com/Veraticus/under-the-hammer/internal/service"
)

// Config carries the scan thresholds and the agency's local timezone. Day
// arithmetic happens in Location; an agent in Auckland should get "due
// today" by their calendar, not UTC's.
type Config struct {
	Location           *time.Location
	ConditionLeadDays  int
	SettlementLeadDays int
	StaleDealDays      int
}

// Scanner evaluates open deals against the calendar and emits deduplicated
// notifications for anything needing attention.
type Scanner struct {
	storage  service.Storage
	ledger   *ledger.Ledger
	notifier service.Notifier
	nurture  service.NurtureScheduler
	clock    clockwork.Clock
	logger   *slog.Logger
	loc      *time.Location

	conditionLeadDays  int
	settlementLeadDays int
	staleDealDays      int
}

// New creates a scanner. Storage, ledger, notifier, and nurture are
// required; a nil clock uses the real one.
func New(storage service.Storage, led *ledger.Ledger, notifier service.Notifier, nurture service.NurtureScheduler, clock clockwork.Clock, cfg Config, logger *slog.Logger) (*Scanner, error) {
	if storage == nil {
		return nil, fmt.Errorf("storage is required")
	}
	if led == nil {
		return nil, fmt.Errorf("ledger is required")
	}
	if notifier == nil {
		return nil, fmt.Errorf("notifier is required")
	}
	if nurture == nil {
		return nil, fmt.Errorf("nurture scheduler is required")
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.ConditionLeadDays <= 0 {
		cfg.ConditionLeadDays = 3
	}
	if cfg.SettlementLeadDays <= 0 {
		cfg.SettlementLeadDays = 7
	}
	if cfg.StaleDealDays <= 0 {
		cfg.StaleDealDays = 14
	}

	return &Scanner{
		storage:            storage,
		ledger:             led,
		notifier:           notifier,
		nurture:            nurture,
		clock:              clock,
		logger:             logger.With("component", "scanner"),
		loc:                cfg.Location,
		conditionLeadDays:  cfg.ConditionLeadDays,
		settlementLeadDays: cfg.SettlementLeadDays,
		staleDealDays:      cfg.StaleDealDays,
	}, nil
}

// ScanUser evaluates one user's open deals. A failure inside one deal is
// logged and the remaining deals still get scanned; the returned error
// covers only the cases where scanning could not proceed at all.
func (s *Scanner) ScanUser(ctx context.Context, userID string) (service.ScanStats, error) {
	var stats service.ScanStats

	deals, err := s.storage.ListOpenDealsForUser(ctx, userID)
	if err != nil {
		return stats, fmt.Errorf("failed to load open deals: %w", err)
	}

	for i := range deals {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		s.scanDeal(ctx, &deals[i], &stats)
	}

	s.logger.Debug("User scan complete",
		"user_id", userID,
		"deals", len(deals),
		"conditions_checked", stats.ConditionsChecked,
		"actions_triggered", stats.ActionsTriggered,
		"notifications_sent", stats.NotificationsSent)

	return stats, nil
}

// ScanAllUsers runs ScanUser for every user holding open deals. One user's
// failure never blocks another's scan.
func (s *Scanner) ScanAllUsers(ctx context.Context) service.ScanSummary {
	summary := service.ScanSummary{StartedAt: s.clock.Now().UTC()}

	userIDs, err := s.storage.ListUserIDsWithOpenDeals(ctx)
	if err != nil {
		s.logger.Error("Failed to list users for scan", "error", err)
		summary.Duration = s.clock.Since(summary.StartedAt)
		return summary
	}

	for _, userID := range userIDs {
		stats, err := s.ScanUser(ctx, userID)
		if err != nil {
			summary.UsersFailed++
			s.logger.Error("User scan failed", "user_id", userID, "error", err)
			continue
		}
		summary.UsersOK++
		summary.Totals.Add(stats)
	}

	summary.Duration = s.clock.Since(summary.StartedAt)
	s.logger.Info("Scan complete",
		"users_ok", summary.UsersOK,
		"users_failed", summary.UsersFailed,
		"notifications_sent", summary.Totals.NotificationsSent,
		"duration", summary.Duration)

	return summary
}

// scanDeal runs every check against one deal. Failures are logged, never
// returned; a broken notifier or a bad row must not stop the sweep.
func (s *Scanner) scanDeal(ctx context.Context, deal *model.Deal, stats *service.ScanStats) {
	nearest, found := s.checkConditions(ctx, deal, stats)
	if found {
		s.escalateRisk(ctx, deal, nearest, stats)
	}
	s.checkSettlement(ctx, deal, stats)
	s.checkStale(ctx, deal, stats)
}

// checkConditions emits deadline notifications for pending conditions due
// within the lead window and returns the smallest days-remaining seen, or
// false when the deal has no pending conditions.
func (s *Scanner) checkConditions(ctx context.Context, deal *model.Deal, stats *service.ScanStats) (int, bool) {
	nearest := 0
	found := false

	for _, cond := range deal.PendingConditions() {
		stats.ConditionsChecked++

		days := s.daysUntil(cond.DueDate)
		if !found || days < nearest {
			nearest = days
			found = true
		}

		if days < 0 || days > s.conditionLeadDays {
			continue
		}

		subject := deal.ID + ":" + string(cond.Type)
		s.notify(ctx, deal.UserID, subject, model.KindConditionDeadline, conditionNotification(deal, cond, days), stats)
	}

	return nearest, found
}

// escalateRisk raises a deal's risk from its nearest pending condition:
// overdue means critical, due within a day means at least high. Risk is
// only ever raised here; clearing it back down is a human call.
func (s *Scanner) escalateRisk(ctx context.Context, deal *model.Deal, nearestDays int, stats *service.ScanStats) {
	var target model.RiskLevel
	switch {
	case nearestDays <= 0:
		target = model.RiskCritical
	case nearestDays == 1:
		target = model.RiskHigh
	default:
		return
	}

	if deal.Risk.Rank() >= target.Rank() {
		return
	}

	if err := s.storage.UpdateDealRisk(ctx, deal.ID, target); err != nil {
		s.logger.Error("Failed to escalate deal risk",
			"deal_id", deal.ID,
			"target", target,
			"error", err)
		return
	}

	deal.Risk = target
	stats.ActionsTriggered++
	s.logger.Info("Escalated deal risk",
		"deal_id", deal.ID,
		"risk", target,
		"days_remaining", nearestDays)
}

// checkSettlement emits a countdown notification when the deal settles
// within the lead window.
func (s *Scanner) checkSettlement(ctx context.Context, deal *model.Deal, stats *service.ScanStats) {
	if deal.SettlementDate == nil {
		return
	}

	days := s.daysUntil(*deal.SettlementDate)
	if days < 0 || days > s.settlementLeadDays {
		return
	}

	s.notify(ctx, deal.UserID, deal.ID, model.KindSettlementCountdown, settlementNotification(deal, days), stats)
}

// checkStale flags deals that have sat in one stage past the staleness
// threshold. The ledger's week-long window keeps this to one nudge a week.
func (s *Scanner) checkStale(ctx context.Context, deal *model.Deal, stats *service.ScanStats) {
	now := s.clock.Now()
	cutoff := now.Add(-time.Duration(s.staleDealDays) * 24 * time.Hour)
	if deal.StageEnteredAt.After(cutoff) {
		return
	}

	daysStalled := int(now.Sub(deal.StageEnteredAt).Hours() / 24)
	s.notify(ctx, deal.UserID, deal.ID, model.KindStaleDeal, staleNotification(deal, daysStalled), stats)
}

// daysUntil computes whole calendar days from today to the due date in the
// scanner's zone. Zero means due today, negative means overdue.
func (s *Scanner) daysUntil(due time.Time) int {
	now := s.clock.Now().In(s.loc)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.loc)
	d := due.In(s.loc)
	dueDay := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, s.loc)

	return int(math.Ceil(dueDay.Sub(today).Hours() / 24))
}

// notify sends one notification if the ledger allows it, recording the
// send on success. Send failures are logged and left unrecorded so the
// next scan can try again.
func (s *Scanner) notify(ctx context.Context, userID, subjectKey, kind string, n model.Notification, stats *service.ScanStats) {
	if !s.ledger.ShouldNotify(ctx, userID, subjectKey, kind) {
		return
	}

	if err := s.notifier.SendNotification(ctx, userID, n); err != nil {
		s.logger.Error("Failed to send notification",
			"user_id", userID,
			"kind", kind,
			"subject_key", subjectKey,
			"error", err)
		return
	}

	s.ledger.Record(ctx, userID, subjectKey, kind)
	stats.NotificationsSent++
}

// urgencyFor maps days remaining to the urgency carried in notification
// payloads: due or overdue is critical, tomorrow is high, further out is
// medium.
func urgencyFor(days int) string {
	switch {
	case days <= 0:
		return "critical"
	case days == 1:
		return "high"
	default:
		return "medium"
	}
}

// duePhrase renders days-remaining for notification titles.
func duePhrase(days int) string {
	switch {
	case days <= 0:
		return "today"
	case days == 1:
		return "tomorrow"
	default:
		return fmt.Sprintf("in %d days", days)
	}
}

func conditionNotification(deal *model.Deal, cond model.Condition, days int) model.Notification {
	label := cond.Label
	if label == "" {
		label = string(cond.Type)
	}
	urgency := urgencyFor(days)

	return model.Notification{
		Title: fmt.Sprintf("%s due %s", label, duePhrase(days)),
		Body:  deal.Address,
		Tag:   "condition-deadline-" + cond.ID,
		Data: map[string]string{
			"deal_id":        deal.ID,
			"condition_id":   cond.ID,
			"condition_type": string(cond.Type),
			"days_remaining": strconv.Itoa(days),
			"urgency":        urgency,
		},
		RequireInteraction: urgency == "critical",
	}
}

func settlementNotification(deal *model.Deal, days int) model.Notification {
	urgency := urgencyFor(days)

	return model.Notification{
		Title: "Settlement due " + duePhrase(days),
		Body:  deal.Address,
		Tag:   "settlement-" + deal.ID,
		Data: map[string]string{
			"deal_id":        deal.ID,
			"days_remaining": strconv.Itoa(days),
			"urgency":        urgency,
		},
		RequireInteraction: urgency == "critical",
	}
}

func staleNotification(deal *model.Deal, daysStalled int) model.Notification {
	return model.Notification{
		Title: fmt.Sprintf("No movement for %d days", daysStalled),
		Body:  fmt.Sprintf("%s is still in %s", deal.Address, deal.Stage),
		Tag:   "stale-" + deal.ID,
		Data: map[string]string{
			"deal_id":      deal.ID,
			"stage":        deal.Stage.String(),
			"days_stalled": strconv.Itoa(daysStalled),
		},
	}
}
