// Package scheduler owns the timers. It triggers deadline scans, morning
// briefing checks, and account syncs on fixed intervals, and guarantees
// that nothing a triggered job does can kill a timer loop.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/Veraticus/under-the-hammer/internal/service"
)

// DealScanner runs deadline scans and morning briefings across all users.
type DealScanner interface {
	ScanAllUsers(ctx context.Context) service.ScanSummary
	RunMorningBriefings(ctx context.Context) service.BriefingSummary
}

// AccountSyncer syncs every enabled mail account.
type AccountSyncer interface {
	SyncAllAccounts(ctx context.Context) service.SyncBatch
}

// Config controls the scheduler's intervals. The briefing fires on the
// first check that lands inside the configured local hour's first half;
// a SyncInterval of zero disables the sync loop.
type Config struct {
	Location              *time.Location
	ScanInterval          time.Duration
	InitialScanDelay      time.Duration
	BriefingCheckInterval time.Duration
	SyncInterval          time.Duration
	BriefingHour          int
}

// Scheduler drives the periodic work. Start and Stop are safe to call
// from any goroutine; jobs run on a context detached from Stop so an
// in-flight scan always finishes cleanly.
type Scheduler struct {
	scanner          DealScanner
	syncer           AccountSyncer
	clock            clockwork.Clock
	logger           *slog.Logger
	loc              *time.Location
	cancel           context.CancelFunc
	lastScan         *service.ScanSummary
	scanInterval     time.Duration
	initialScanDelay time.Duration
	briefingInterval time.Duration
	syncInterval     time.Duration
	briefingHour     int
	running          bool
	wg               sync.WaitGroup
	mu               sync.Mutex
}

// New creates a scheduler. The syncer may be nil when no accounts are
// connected; the sync loop stays off.
func New(scanner DealScanner, syncer AccountSyncer, clock clockwork.Clock, cfg Config, logger *slog.Logger) (*Scheduler, error) {
	if scanner == nil {
		return nil, fmt.Errorf("scheduler requires a scanner")
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}

	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}
	scanInterval := cfg.ScanInterval
	if scanInterval <= 0 {
		scanInterval = time.Hour
	}
	initialDelay := cfg.InitialScanDelay
	if initialDelay <= 0 {
		initialDelay = time.Minute
	}
	briefingInterval := cfg.BriefingCheckInterval
	if briefingInterval <= 0 {
		briefingInterval = 30 * time.Minute
	}
	briefingHour := cfg.BriefingHour
	if briefingHour < 0 || briefingHour > 23 {
		briefingHour = 7
	}

	return &Scheduler{
		scanner:          scanner,
		syncer:           syncer,
		clock:            clock,
		logger:           logger.With("component", "scheduler"),
		loc:              loc,
		scanInterval:     scanInterval,
		initialScanDelay: initialDelay,
		briefingInterval: briefingInterval,
		syncInterval:     cfg.SyncInterval,
		briefingHour:     briefingHour,
	}, nil
}

// Start launches the timer loops. Calling Start on a running scheduler
// is a logged no-op.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		s.logger.Info("Scheduler already running")
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.running = true

	s.wg.Add(2)
	go s.scanLoop(ctx)
	go s.briefingLoop(ctx)

	if s.syncer != nil && s.syncInterval > 0 {
		s.wg.Add(1)
		go s.syncLoop(ctx)
	}

	s.logger.Info("Scheduler started",
		"scan_interval", s.scanInterval,
		"initial_scan_delay", s.initialScanDelay,
		"briefing_check_interval", s.briefingInterval,
		"briefing_hour", s.briefingHour,
		"sync_interval", s.syncInterval,
		"timezone", s.loc.String())
	return nil
}

// Stop halts the timer loops and waits for any in-flight job to finish.
// Stopping a scheduler that is not running does nothing.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
	s.logger.Info("Scheduler stopped")
}

// LastScan returns a copy of the most recent scan summary, or nil if no
// scan has completed yet.
func (s *Scheduler) LastScan() *service.ScanSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastScan == nil {
		return nil
	}
	summary := *s.lastScan
	return &summary
}

func (s *Scheduler) scanLoop(ctx context.Context) {
	defer s.wg.Done()

	select {
	case <-ctx.Done():
		return
	case <-s.clock.After(s.initialScanDelay):
	}
	s.runScan(ctx)

	ticker := s.clock.NewTicker(s.scanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			s.runScan(ctx)
		}
	}
}

func (s *Scheduler) briefingLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := s.clock.NewTicker(s.briefingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if !s.inBriefingWindow(s.clock.Now()) {
				continue
			}
			s.runGuarded(ctx, "morning_briefings", func(jobCtx context.Context) {
				summary := s.scanner.RunMorningBriefings(jobCtx)
				s.logger.Debug("Briefing check finished",
					"users_checked", summary.UsersChecked,
					"sent", summary.Sent,
					"failed", summary.Failed)
			})
		}
	}
}

func (s *Scheduler) syncLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := s.clock.NewTicker(s.syncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			s.runGuarded(ctx, "sync_all_accounts", func(jobCtx context.Context) {
				batch := s.syncer.SyncAllAccounts(jobCtx)
				s.logger.Debug("Scheduled sync finished",
					"results", len(batch.Results),
					"succeeded", batch.Succeeded(),
					"skipped", len(batch.Skipped))
			})
		}
	}
}

func (s *Scheduler) runScan(ctx context.Context) {
	s.runGuarded(ctx, "scan_all_users", func(jobCtx context.Context) {
		summary := s.scanner.ScanAllUsers(jobCtx)
		s.mu.Lock()
		s.lastScan = &summary
		s.mu.Unlock()
	})
}

// inBriefingWindow reports whether a briefing check at this instant lands
// in the first half hour of the configured local hour. The dedup ledger
// keeps the briefing from repeating within that window.
func (s *Scheduler) inBriefingWindow(now time.Time) bool {
	local := now.In(s.loc)
	return local.Hour() == s.briefingHour && local.Minute() < 30
}

// runGuarded runs one triggered job on a context detached from Stop and
// keeps a panicking job from taking the timer loop down with it.
func (s *Scheduler) runGuarded(ctx context.Context, name string, job func(context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Scheduled job panicked",
				"job", name,
				"panic", r,
				"stack", string(debug.Stack()))
		}
	}()
	job(context.WithoutCancel(ctx))
}
