package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/under-the-hammer/internal/service"
)

var nzst = time.FixedZone("NZST", 12*60*60)

type fakeScanner struct {
	lastCtx       context.Context
	scanCalls     chan struct{}
	briefingCalls chan struct{}
	scans         int
	briefings     int
	panicOnce     bool
	mu            sync.Mutex
}

func newFakeScanner() *fakeScanner {
	return &fakeScanner{
		scanCalls:     make(chan struct{}, 32),
		briefingCalls: make(chan struct{}, 32),
	}
}

func (f *fakeScanner) ScanAllUsers(ctx context.Context) service.ScanSummary {
	f.mu.Lock()
	f.scans++
	f.lastCtx = ctx
	shouldPanic := f.panicOnce
	f.panicOnce = false
	f.mu.Unlock()

	f.scanCalls <- struct{}{}
	if shouldPanic {
		panic("scan exploded")
	}
	return service.ScanSummary{UsersOK: 1}
}

func (f *fakeScanner) RunMorningBriefings(_ context.Context) service.BriefingSummary {
	f.mu.Lock()
	f.briefings++
	f.mu.Unlock()

	f.briefingCalls <- struct{}{}
	return service.BriefingSummary{UsersChecked: 1, Sent: 1}
}

func (f *fakeScanner) scanCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.scans
}

func (f *fakeScanner) briefingCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.briefings
}

type fakeSyncer struct {
	syncCalls chan struct{}
	syncs     int
	mu        sync.Mutex
}

func newFakeSyncer() *fakeSyncer {
	return &fakeSyncer{syncCalls: make(chan struct{}, 32)}
}

func (f *fakeSyncer) SyncAllAccounts(_ context.Context) service.SyncBatch {
	f.mu.Lock()
	f.syncs++
	f.mu.Unlock()

	f.syncCalls <- struct{}{}
	return service.SyncBatch{Results: []service.SyncResult{{Success: true}}}
}

func (f *fakeSyncer) syncCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.syncs
}

func waitCall(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func blockUntilWaiters(t *testing.T, clock *clockwork.FakeClock, n int) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, n))
}

// quietConfig keeps every loop except the one under test out of the way.
func quietConfig() Config {
	return Config{
		Location:              nzst,
		ScanInterval:          1000 * time.Hour,
		InitialScanDelay:      1000 * time.Hour,
		BriefingCheckInterval: 1000 * time.Hour,
		BriefingHour:          7,
	}
}

func TestSchedulerRunsScans(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 10, 9, 0, 0, 0, nzst))
	scanner := newFakeScanner()

	cfg := quietConfig()
	cfg.ScanInterval = time.Hour
	cfg.InitialScanDelay = time.Minute

	sched, err := New(scanner, nil, clock, cfg, slog.Default())
	require.NoError(t, err)
	assert.Nil(t, sched.LastScan())

	require.NoError(t, sched.Start())
	defer sched.Stop()

	// Initial-delay timer plus the briefing ticker.
	blockUntilWaiters(t, clock, 2)
	clock.Advance(time.Minute)
	waitCall(t, scanner.scanCalls, "initial scan")

	// The scan ticker only registers after the initial scan returns, so
	// two waiters again means the summary has been stored.
	blockUntilWaiters(t, clock, 2)
	require.NotNil(t, sched.LastScan())
	assert.Equal(t, 1, sched.LastScan().UsersOK)

	clock.Advance(time.Hour)
	waitCall(t, scanner.scanCalls, "first interval scan")
	clock.Advance(time.Hour)
	waitCall(t, scanner.scanCalls, "second interval scan")

	assert.Equal(t, 3, scanner.scanCount())
}

func TestSchedulerStartIsIdempotent(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 10, 9, 0, 0, 0, nzst))
	scanner := newFakeScanner()

	cfg := quietConfig()
	cfg.InitialScanDelay = time.Minute

	sched, err := New(scanner, nil, clock, cfg, slog.Default())
	require.NoError(t, err)

	require.NoError(t, sched.Start())
	require.NoError(t, sched.Start(), "second start is a no-op")
	defer sched.Stop()

	blockUntilWaiters(t, clock, 2)
	clock.Advance(time.Minute)
	waitCall(t, scanner.scanCalls, "initial scan")

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, scanner.scanCount(), "one set of loops, one initial scan")
}

func TestSchedulerStopAndRestart(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 10, 9, 0, 0, 0, nzst))
	scanner := newFakeScanner()

	cfg := quietConfig()
	cfg.InitialScanDelay = time.Minute

	sched, err := New(scanner, nil, clock, cfg, slog.Default())
	require.NoError(t, err)

	sched.Stop() // not running yet

	require.NoError(t, sched.Start())
	blockUntilWaiters(t, clock, 2)
	clock.Advance(time.Minute)
	waitCall(t, scanner.scanCalls, "initial scan")

	sched.Stop()
	sched.Stop() // second stop is a no-op

	scanner.mu.Lock()
	jobCtx := scanner.lastCtx
	scanner.mu.Unlock()
	require.NotNil(t, jobCtx)
	assert.NoError(t, jobCtx.Err(), "stop never cancels a triggered job's context")

	clock.Advance(5 * time.Hour)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, scanner.scanCount(), "stopped scheduler triggers nothing")

	require.NoError(t, sched.Start())
	defer sched.Stop()
	blockUntilWaiters(t, clock, 2)
	clock.Advance(time.Minute)
	waitCall(t, scanner.scanCalls, "initial scan after restart")
	assert.Equal(t, 2, scanner.scanCount())
}

func TestSchedulerBriefingWindow(t *testing.T) {
	// 06:50 local; briefing checks land at 07:20, 07:50, 08:20.
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 10, 6, 50, 0, 0, nzst))
	scanner := newFakeScanner()

	cfg := quietConfig()
	cfg.BriefingCheckInterval = 30 * time.Minute
	cfg.BriefingHour = 7

	sched, err := New(scanner, nil, clock, cfg, slog.Default())
	require.NoError(t, err)
	require.NoError(t, sched.Start())
	defer sched.Stop()

	blockUntilWaiters(t, clock, 2)

	clock.Advance(30 * time.Minute) // 07:20
	waitCall(t, scanner.briefingCalls, "briefing inside the window")

	clock.Advance(30 * time.Minute) // 07:50, second half of the hour
	time.Sleep(100 * time.Millisecond)
	clock.Advance(30 * time.Minute) // 08:20, wrong hour
	time.Sleep(100 * time.Millisecond)

	assert.Equal(t, 1, scanner.briefingCount())
}

func TestInBriefingWindow(t *testing.T) {
	scanner := newFakeScanner()
	sched, err := New(scanner, nil, clockwork.NewFakeClock(), Config{Location: nzst, BriefingHour: 7}, slog.Default())
	require.NoError(t, err)

	tests := []struct {
		name string
		now  time.Time
		want bool
	}{
		{"top of the hour", time.Date(2026, 3, 10, 7, 0, 0, 0, nzst), true},
		{"last minute of the window", time.Date(2026, 3, 10, 7, 29, 59, 0, nzst), true},
		{"second half of the hour", time.Date(2026, 3, 10, 7, 30, 0, 0, nzst), false},
		{"hour before", time.Date(2026, 3, 10, 6, 59, 0, 0, nzst), false},
		{"hour after", time.Date(2026, 3, 10, 8, 0, 0, 0, nzst), false},
		{"utc instant inside the local window", time.Date(2026, 3, 9, 19, 10, 0, 0, time.UTC), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, sched.inBriefingWindow(tt.now))
		})
	}
}

func TestSchedulerSyncLoop(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 10, 9, 0, 0, 0, nzst))
	scanner := newFakeScanner()
	syncer := newFakeSyncer()

	cfg := quietConfig()
	cfg.SyncInterval = 15 * time.Minute

	sched, err := New(scanner, syncer, clock, cfg, slog.Default())
	require.NoError(t, err)
	require.NoError(t, sched.Start())
	defer sched.Stop()

	// Initial-delay timer, briefing ticker, sync ticker.
	blockUntilWaiters(t, clock, 3)

	clock.Advance(15 * time.Minute)
	waitCall(t, syncer.syncCalls, "first sync")
	clock.Advance(15 * time.Minute)
	waitCall(t, syncer.syncCalls, "second sync")

	assert.Equal(t, 2, syncer.syncCount())
}

func TestSchedulerSyncDisabled(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 10, 9, 0, 0, 0, nzst))
	scanner := newFakeScanner()
	syncer := newFakeSyncer()

	cfg := quietConfig()
	cfg.SyncInterval = 0

	sched, err := New(scanner, syncer, clock, cfg, slog.Default())
	require.NoError(t, err)
	require.NoError(t, sched.Start())
	defer sched.Stop()

	blockUntilWaiters(t, clock, 2)
	clock.Advance(2 * time.Hour)
	time.Sleep(100 * time.Millisecond)

	assert.Zero(t, syncer.syncCount(), "zero interval turns the sync loop off")
}

func TestSchedulerSurvivesPanickingJob(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 10, 9, 0, 0, 0, nzst))
	scanner := newFakeScanner()
	scanner.panicOnce = true

	cfg := quietConfig()
	cfg.ScanInterval = time.Hour
	cfg.InitialScanDelay = time.Minute

	sched, err := New(scanner, nil, clock, cfg, slog.Default())
	require.NoError(t, err)
	require.NoError(t, sched.Start())
	defer sched.Stop()

	blockUntilWaiters(t, clock, 2)
	clock.Advance(time.Minute)
	waitCall(t, scanner.scanCalls, "panicking scan")

	// The loop re-parks on its ticker after recovering, and the panic
	// happened before a summary could be stored.
	blockUntilWaiters(t, clock, 2)
	assert.Nil(t, sched.LastScan())

	clock.Advance(time.Hour)
	waitCall(t, scanner.scanCalls, "scan after the panic")
	assert.Equal(t, 2, scanner.scanCount())
}

func TestNewValidation(t *testing.T) {
	_, err := New(nil, nil, clockwork.NewFakeClock(), Config{}, slog.Default())
	assert.Error(t, err)

	sched, err := New(newFakeScanner(), nil, nil, Config{BriefingHour: 25}, nil)
	require.NoError(t, err)
	assert.Equal(t, time.Hour, sched.scanInterval)
	assert.Equal(t, time.Minute, sched.initialScanDelay)
	assert.Equal(t, 30*time.Minute, sched.briefingInterval)
	assert.Equal(t, 7, sched.briefingHour, "out-of-range hour falls back to the default")
	assert.Zero(t, sched.syncInterval)
}
