package scanner

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/Veraticus/under-the-hammer/internal/model"
	"github.com/Veraticus/under-the-hammer/internal/service"
)

// briefingCounts is what the morning briefing has to say. All zero means
// it says nothing.
type briefingCounts struct {
	dueToday       int
	overdue        int
	riskyDeals     int
	nurtureTouches int
}

func (c briefingCounts) empty() bool {
	return c.dueToday == 0 && c.overdue == 0 && c.riskyDeals == 0 && c.nurtureTouches == 0
}

// SendMorningBriefing composes and sends one user's daily summary. It
// returns true only when a briefing actually went out; a quiet book or the
// ledger's once-a-day throttle both return false without error.
func (s *Scanner) SendMorningBriefing(ctx context.Context, userID string) (bool, error) {
	counts, err := s.briefingCounts(ctx, userID)
	if err != nil {
		return false, err
	}
	if counts.empty() {
		return false, nil
	}

	if !s.ledger.ShouldNotify(ctx, userID, model.KindMorningBriefing, model.KindMorningBriefing) {
		return false, nil
	}

	if err := s.notifier.SendNotification(ctx, userID, briefingNotification(counts)); err != nil {
		return false, fmt.Errorf("failed to send morning briefing: %w", err)
	}

	s.ledger.Record(ctx, userID, model.KindMorningBriefing, model.KindMorningBriefing)
	s.logger.Info("Sent morning briefing",
		"user_id", userID,
		"due_today", counts.dueToday,
		"overdue", counts.overdue,
		"risky_deals", counts.riskyDeals,
		"nurture_touches", counts.nurtureTouches)

	return true, nil
}

// RunMorningBriefings sends the briefing to every user holding open deals.
func (s *Scanner) RunMorningBriefings(ctx context.Context) service.BriefingSummary {
	var summary service.BriefingSummary

	userIDs, err := s.storage.ListUserIDsWithOpenDeals(ctx)
	if err != nil {
		s.logger.Error("Failed to list users for briefing", "error", err)
		return summary
	}

	for _, userID := range userIDs {
		summary.UsersChecked++
		sent, err := s.SendMorningBriefing(ctx, userID)
		if err != nil {
			summary.Failed++
			s.logger.Error("Morning briefing failed", "user_id", userID, "error", err)
			continue
		}
		if sent {
			summary.Sent++
		}
	}

	return summary
}

// briefingCounts gathers the four numbers the briefing reports. The
// nurture count is an enrichment; if it cannot be read the briefing still
// goes out with the other three.
func (s *Scanner) briefingCounts(ctx context.Context, userID string) (briefingCounts, error) {
	var counts briefingCounts

	deals, err := s.storage.ListOpenDealsForUser(ctx, userID)
	if err != nil {
		return counts, fmt.Errorf("failed to load open deals: %w", err)
	}

	for i := range deals {
		deal := &deals[i]
		if deal.Risk == model.RiskHigh || deal.Risk == model.RiskCritical {
			counts.riskyDeals++
		}
		for _, cond := range deal.PendingConditions() {
			switch days := s.daysUntil(cond.DueDate); {
			case days == 0:
				counts.dueToday++
			case days < 0:
				counts.overdue++
			}
		}
	}

	pending, err := s.nurture.CountPendingTouches(ctx, userID)
	if err != nil {
		s.logger.Warn("Failed to count nurture touches for briefing",
			"user_id", userID,
			"error", err)
	} else {
		counts.nurtureTouches = pending
	}

	return counts, nil
}

func briefingNotification(c briefingCounts) model.Notification {
	var parts []string
	if c.dueToday > 0 {
		parts = append(parts, countNoun(c.dueToday, "condition", "conditions")+" due today")
	}
	if c.overdue > 0 {
		parts = append(parts, countNoun(c.overdue, "condition", "conditions")+" overdue")
	}
	if c.riskyDeals > 0 {
		parts = append(parts, countNoun(c.riskyDeals, "deal", "deals")+" needing attention")
	}
	if c.nurtureTouches > 0 {
		parts = append(parts, countNoun(c.nurtureTouches, "nurture touch", "nurture touches")+" pending")
	}

	return model.Notification{
		Title: "Morning briefing",
		Body:  strings.Join(parts, ", "),
		Tag:   "morning-briefing",
		Data: map[string]string{
			"due_today":       strconv.Itoa(c.dueToday),
			"overdue":         strconv.Itoa(c.overdue),
			"risky_deals":     strconv.Itoa(c.riskyDeals),
			"nurture_touches": strconv.Itoa(c.nurtureTouches),
		},
	}
}

func countNoun(n int, singular, plural string) string {
	if n == 1 {
		return "1 " + singular
	}
	return fmt.Sprintf("%d %s", n, plural)
}
