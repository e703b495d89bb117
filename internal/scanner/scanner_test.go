package scanner

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/under-the-hammer/internal/ledger"
	"github.com/Veraticus/under-the-hammer/internal/model"
	"github.com/Veraticus/under-the-hammer/internal/service"
	"github.com/Veraticus/under-the-hammer/internal/testutil"
)

var nzst = time.FixedZone("NZST", 12*60*60)

type sentNotification struct {
	userID string
	n      model.Notification
}

type mockNotifier struct {
	failTags map[string]error
	sent     []sentNotification
	mu       sync.Mutex
}

func (m *mockNotifier) SendNotification(_ context.Context, userID string, n model.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.failTags[n.Tag]; ok {
		return err
	}
	m.sent = append(m.sent, sentNotification{userID: userID, n: n})
	return nil
}

func (m *mockNotifier) notifications() []sentNotification {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]sentNotification, len(m.sent))
	copy(out, m.sent)
	return out
}

type fakeNurture struct {
	err     error
	pending int
}

func (f *fakeNurture) CountPendingTouches(context.Context, string) (int, error) {
	return f.pending, f.err
}

func newTestScanner(t *testing.T, notifier service.Notifier, nurture service.NurtureScheduler, now time.Time) (*Scanner, *testutil.TestDB, *clockwork.FakeClock) {
	t.Helper()

	db := testutil.SetupTestDB(t)
	clock := clockwork.NewFakeClockAt(now)
	led := ledger.New(db.Storage, clock)

	s, err := New(db.Storage, led, notifier, nurture, clock, Config{Location: nzst}, slog.Default())
	require.NoError(t, err)

	return s, db, clock
}

func TestScanUserConditionDeadline(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, nzst)
	notifier := &mockNotifier{}
	s, db, clock := newTestScanner(t, notifier, &fakeNurture{}, now)
	ctx := context.Background()

	deal := testutil.NewDeal("deal-1", "user-1", model.StageConditional)
	deal.Conditions = []model.Condition{
		testutil.NewCondition("cond-1", "deal-1", model.ConditionFinance, now.Add(2*24*time.Hour)),
	}
	db.MustCreateDeal(deal)

	stats, err := s.ScanUser(ctx, "user-1")
	require.NoError(t, err)

	assert.Equal(t, 1, stats.ConditionsChecked)
	assert.Equal(t, 1, stats.NotificationsSent)

	sent := notifier.notifications()
	require.Len(t, sent, 1)
	assert.Equal(t, "user-1", sent[0].userID)
	assert.Equal(t, "finance due in 2 days", sent[0].n.Title)
	assert.Equal(t, "2", sent[0].n.Data["days_remaining"])
	assert.Equal(t, "medium", sent[0].n.Data["urgency"])
	assert.False(t, sent[0].n.RequireInteraction)

	// An hour later the 24h window still holds: nothing new goes out.
	clock.Advance(time.Hour)
	stats, err = s.ScanUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 0, stats.NotificationsSent)
	assert.Len(t, notifier.notifications(), 1)

	// The next day the same pending condition notifies again.
	clock.Advance(24 * time.Hour)
	stats, err = s.ScanUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.NotificationsSent)

	sent = notifier.notifications()
	require.Len(t, sent, 2)
	assert.Equal(t, "1", sent[1].n.Data["days_remaining"])
	assert.Equal(t, "high", sent[1].n.Data["urgency"])
}

func TestScanUserConditionOutsideWindow(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, nzst)
	notifier := &mockNotifier{}
	s, db, _ := newTestScanner(t, notifier, &fakeNurture{}, now)

	deal := testutil.NewDeal("deal-1", "user-1", model.StageConditional)
	deal.Conditions = []model.Condition{
		testutil.NewCondition("cond-far", "deal-1", model.ConditionLIM, now.Add(10*24*time.Hour)),
		testutil.NewCondition("cond-done", "deal-1", model.ConditionFinance, now.Add(24*time.Hour)),
	}
	deal.Conditions[1].Status = model.ConditionSatisfied
	db.MustCreateDeal(deal)

	stats, err := s.ScanUser(context.Background(), "user-1")
	require.NoError(t, err)

	assert.Equal(t, 1, stats.ConditionsChecked, "satisfied conditions are not evaluated")
	assert.Equal(t, 0, stats.NotificationsSent)
	assert.Empty(t, notifier.notifications())
}

func TestScanUserOverdueConditionEscalates(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, nzst)
	notifier := &mockNotifier{}
	s, db, _ := newTestScanner(t, notifier, &fakeNurture{}, now)
	ctx := context.Background()

	deal := testutil.NewDeal("deal-1", "user-1", model.StageConditional)
	deal.Conditions = []model.Condition{
		testutil.NewCondition("cond-1", "deal-1", model.ConditionFinance, now.Add(-2*24*time.Hour)),
	}
	db.MustCreateDeal(deal)

	stats, err := s.ScanUser(ctx, "user-1")
	require.NoError(t, err)

	// Overdue conditions escalate risk but get no deadline reminder; the
	// day-zero notification already fired.
	assert.Equal(t, 0, stats.NotificationsSent)
	assert.Equal(t, 1, stats.ActionsTriggered)

	got, err := db.Storage.GetDeal(ctx, "deal-1")
	require.NoError(t, err)
	assert.Equal(t, model.RiskCritical, got.Risk)
}

func TestScanUserRiskEscalation(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, nzst)

	tests := []struct {
		name       string
		startRisk  model.RiskLevel
		dueIn      time.Duration
		wantRisk   model.RiskLevel
		wantAction int
	}{
		{"due today goes critical", model.RiskNone, 2 * time.Hour, model.RiskCritical, 1},
		{"due tomorrow goes high", model.RiskNone, 24 * time.Hour, model.RiskHigh, 1},
		{"never lowers existing risk", model.RiskCritical, 24 * time.Hour, model.RiskCritical, 0},
		{"two days out leaves risk alone", model.RiskNone, 2 * 24 * time.Hour, model.RiskNone, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			notifier := &mockNotifier{}
			s, db, _ := newTestScanner(t, notifier, &fakeNurture{}, now)
			ctx := context.Background()

			deal := testutil.NewDeal("deal-1", "user-1", model.StageConditional)
			deal.Risk = tt.startRisk
			deal.Conditions = []model.Condition{
				testutil.NewCondition("cond-1", "deal-1", model.ConditionFinance, now.Add(tt.dueIn)),
			}
			db.MustCreateDeal(deal)

			stats, err := s.ScanUser(ctx, "user-1")
			require.NoError(t, err)
			assert.Equal(t, tt.wantAction, stats.ActionsTriggered)

			got, err := db.Storage.GetDeal(ctx, "deal-1")
			require.NoError(t, err)
			assert.Equal(t, tt.wantRisk, got.Risk)
		})
	}
}

func TestScanUserSettlementCountdown(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, nzst)

	tests := []struct {
		name     string
		dueIn    time.Duration
		wantSent int
		wantDays string
	}{
		{"five days out", 5 * 24 * time.Hour, 1, "5"},
		{"settlement day", 3 * time.Hour, 1, "0"},
		{"past the lead window", 9 * 24 * time.Hour, 0, ""},
		{"already settled date", -2 * 24 * time.Hour, 0, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			notifier := &mockNotifier{}
			s, db, _ := newTestScanner(t, notifier, &fakeNurture{}, now)

			settlement := now.Add(tt.dueIn)
			deal := testutil.NewDeal("deal-1", "user-1", model.StageUnconditional)
			deal.SettlementDate = &settlement
			db.MustCreateDeal(deal)

			stats, err := s.ScanUser(context.Background(), "user-1")
			require.NoError(t, err)
			assert.Equal(t, tt.wantSent, stats.NotificationsSent)

			if tt.wantSent > 0 {
				sent := notifier.notifications()
				require.Len(t, sent, 1)
				assert.Equal(t, tt.wantDays, sent[0].n.Data["days_remaining"])
			}
		})
	}
}

func TestScanUserStaleDeal(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, nzst)
	notifier := &mockNotifier{}
	s, db, clock := newTestScanner(t, notifier, &fakeNurture{}, now)
	ctx := context.Background()

	deal := testutil.NewDeal("deal-1", "user-1", model.StageViewings)
	deal.StageEnteredAt = now.Add(-20 * 24 * time.Hour)
	db.MustCreateDeal(deal)

	stats, err := s.ScanUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.NotificationsSent)

	sent := notifier.notifications()
	require.Len(t, sent, 1)
	assert.Equal(t, "20", sent[0].n.Data["days_stalled"])
	assert.Equal(t, "viewings", sent[0].n.Data["stage"])

	// Within the week the reminder stays quiet.
	clock.Advance(3 * 24 * time.Hour)
	stats, err = s.ScanUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 0, stats.NotificationsSent)

	// Past the week window it nags again.
	clock.Advance(5 * 24 * time.Hour)
	stats, err = s.ScanUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.NotificationsSent)
	assert.Len(t, notifier.notifications(), 2)
}

func TestScanUserFreshDealNotStale(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, nzst)
	notifier := &mockNotifier{}
	s, db, _ := newTestScanner(t, notifier, &fakeNurture{}, now)

	deal := testutil.NewDeal("deal-1", "user-1", model.StageViewings)
	deal.StageEnteredAt = now.Add(-10 * 24 * time.Hour)
	db.MustCreateDeal(deal)

	stats, err := s.ScanUser(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, 0, stats.NotificationsSent)
}

func TestScanUserIsolatesDealFailures(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, nzst)
	notifier := &mockNotifier{
		failTags: map[string]error{"condition-deadline-cond-3": fmt.Errorf("push relay down")},
	}
	s, db, clock := newTestScanner(t, notifier, &fakeNurture{}, now)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		id := fmt.Sprintf("deal-%d", i)
		deal := testutil.NewDeal(id, "user-1", model.StageConditional)
		deal.Conditions = []model.Condition{
			testutil.NewCondition(fmt.Sprintf("cond-%d", i), id, model.ConditionFinance, now.Add(2*24*time.Hour)),
		}
		db.MustCreateDeal(deal)
	}

	stats, err := s.ScanUser(ctx, "user-1")
	require.NoError(t, err, "one deal's failure must not fail the scan")

	assert.Equal(t, 5, stats.ConditionsChecked, "every deal still gets visited")
	assert.Equal(t, 4, stats.NotificationsSent)

	// The failed send was never recorded, so once the notifier recovers
	// the next scan delivers it while the others stay suppressed.
	notifier.failTags = nil
	clock.Advance(time.Hour)

	stats, err = s.ScanUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.NotificationsSent)

	var tags []string
	for _, sn := range notifier.notifications() {
		tags = append(tags, sn.n.Tag)
	}
	assert.Contains(t, tags, "condition-deadline-cond-3")
}

type flakyStorage struct {
	service.Storage
	failUser string
}

func (f *flakyStorage) ListOpenDealsForUser(ctx context.Context, userID string) ([]model.Deal, error) {
	if userID == f.failUser {
		return nil, fmt.Errorf("disk on fire")
	}
	return f.Storage.ListOpenDealsForUser(ctx, userID)
}

func TestScanAllUsersIsolatesUserFailures(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, nzst)
	notifier := &mockNotifier{}
	db := testutil.SetupTestDB(t)
	clock := clockwork.NewFakeClockAt(now)
	store := &flakyStorage{Storage: db.Storage, failUser: "user-broken"}
	led := ledger.New(store, clock)

	s, err := New(store, led, notifier, &fakeNurture{}, clock, Config{Location: nzst}, slog.Default())
	require.NoError(t, err)

	for _, userID := range []string{"user-broken", "user-ok"} {
		deal := testutil.NewDeal("deal-"+userID, userID, model.StageConditional)
		deal.Conditions = []model.Condition{
			testutil.NewCondition("cond-"+userID, deal.ID, model.ConditionFinance, now.Add(24*time.Hour)),
		}
		db.MustCreateDeal(deal)
	}

	summary := s.ScanAllUsers(context.Background())

	assert.Equal(t, 1, summary.UsersOK)
	assert.Equal(t, 1, summary.UsersFailed)
	assert.Equal(t, 1, summary.Totals.NotificationsSent, "the healthy user's scan still delivers")

	sent := notifier.notifications()
	require.Len(t, sent, 1)
	assert.Equal(t, "user-ok", sent[0].userID)
}

func TestDaysUntil(t *testing.T) {
	now := time.Date(2026, 3, 10, 23, 30, 0, 0, nzst)
	notifier := &mockNotifier{}
	s, _, _ := newTestScanner(t, notifier, &fakeNurture{}, now)

	tests := []struct {
		name string
		due  time.Time
		want int
	}{
		{"later tonight", time.Date(2026, 3, 10, 23, 59, 0, 0, nzst), 0},
		{"just past midnight", time.Date(2026, 3, 11, 0, 30, 0, 0, nzst), 1},
		{"two days by calendar", time.Date(2026, 3, 12, 1, 0, 0, 0, nzst), 2},
		{"yesterday", time.Date(2026, 3, 9, 23, 0, 0, 0, nzst), -1},
		{"utc instant lands tomorrow locally", time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC), 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, s.daysUntil(tt.due))
		})
	}
}

func TestNewValidation(t *testing.T) {
	db := testutil.SetupTestDB(t)
	led := ledger.New(db.Storage, nil)

	_, err := New(nil, led, &mockNotifier{}, &fakeNurture{}, nil, Config{}, nil)
	require.Error(t, err)

	_, err = New(db.Storage, nil, &mockNotifier{}, &fakeNurture{}, nil, Config{}, nil)
	require.Error(t, err)

	_, err = New(db.Storage, led, nil, &fakeNurture{}, nil, Config{}, nil)
	require.Error(t, err)

	s, err := New(db.Storage, led, &mockNotifier{}, &fakeNurture{}, nil, Config{}, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, s.conditionLeadDays)
	assert.Equal(t, 7, s.settlementLeadDays)
	assert.Equal(t, 14, s.staleDealDays)
}
