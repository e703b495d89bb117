// Package syncer pulls conversation threads from connected mail accounts,
// merges them into storage, and hands merged threads to the classifier.
// Transient provider failures are retried on a fixed delay schedule; one
// sync per account runs at a time.
package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/Veraticus/under-the-hammer/internal/common"
	"github.com/Veraticus/under-the-hammer/internal/model"
	"github.com/Veraticus/under-the-hammer/internal/service"
)

// ConnectorFactory builds the connector for one account. Construction is
// per account because Yahoo IMAP needs the account email for XOAUTH2.
type ConnectorFactory func(account model.SyncAccount) (service.Connector, error)

// Config controls retry and concurrency behavior for the engine.
type Config struct {
	RetryDelays   []time.Duration
	MaxRetries    int
	MaxConcurrent int
}

// Engine syncs mail accounts. Retry counters and the in-flight set are
// instance state keyed by account id; they are never persisted.
type Engine struct {
	storage       service.Storage
	creds         service.CredentialResolver
	classifier    service.ThreadClassifier
	events        service.EventPublisher
	connectorFor  ConnectorFactory
	clock         clockwork.Clock
	logger        *slog.Logger
	inFlight      map[string]bool
	attempts      map[string]int
	retryDelays   []time.Duration
	maxRetries    int
	maxConcurrent int
	mu            sync.Mutex
}

// New creates a sync engine. The classifier and event publisher may be
// nil; the engine syncs without them.
func New(storage service.Storage, creds service.CredentialResolver, connectorFor ConnectorFactory, classifier service.ThreadClassifier, events service.EventPublisher, clock clockwork.Clock, cfg Config, logger *slog.Logger) (*Engine, error) {
	if storage == nil {
		return nil, fmt.Errorf("syncer requires storage")
	}
	if creds == nil {
		return nil, fmt.Errorf("syncer requires a credential resolver")
	}
	if connectorFor == nil {
		return nil, fmt.Errorf("syncer requires a connector factory")
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}

	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	delays := cfg.RetryDelays
	if len(delays) == 0 {
		delays = []time.Duration{time.Minute, 5 * time.Minute, 15 * time.Minute}
	}
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}

	return &Engine{
		storage:       storage,
		creds:         creds,
		classifier:    classifier,
		events:        events,
		connectorFor:  connectorFor,
		clock:         clock,
		logger:        logger.With("component", "syncer"),
		inFlight:      make(map[string]bool),
		attempts:      make(map[string]int),
		retryDelays:   delays,
		maxRetries:    maxRetries,
		maxConcurrent: maxConcurrent,
	}, nil
}

// SyncAccount syncs one account end to end. It never returns an error;
// failures land in the result so timer callbacks and batch drivers can
// treat every outcome uniformly. A sync already running for the account
// is reported, not queued.
func (e *Engine) SyncAccount(ctx context.Context, accountID string) service.SyncResult {
	result := service.SyncResult{
		StartedAt: e.clock.Now().UTC(),
		AccountID: accountID,
	}

	account, err := e.storage.GetSyncAccount(ctx, accountID)
	if err != nil {
		result.Error = fmt.Sprintf("load account: %v", err)
		result.Duration = e.clock.Since(result.StartedAt)
		e.logger.Error("Sync aborted, account unavailable", "account_id", accountID, "error", err)
		return result
	}
	result.UserID = account.UserID
	result.Provider = account.Provider

	if !e.beginSync(accountID) {
		result.AlreadyRunning = true
		result.Error = common.ErrSyncInProgress.Error()
		result.Duration = e.clock.Since(result.StartedAt)
		e.logger.Info("Sync already in progress, skipping", "account_id", accountID)
		return result
	}
	defer e.endSync(accountID)

	e.logger.Info("Starting sync",
		"account_id", accountID,
		"provider", account.Provider,
		"email", account.Email)
	e.publish(account.UserID, service.EventSyncStarted, map[string]any{
		"account_id": accountID,
		"provider":   account.Provider.String(),
	})

	err = e.syncAccount(ctx, account, &result)
	result.Duration = e.clock.Since(result.StartedAt)
	if err != nil {
		result.Error = e.describeError(account, err)
		e.logger.Error("Sync failed",
			"account_id", accountID,
			"provider", account.Provider,
			"attempts", result.Attempts,
			"error", err)
	} else {
		result.Success = true
		e.logger.Info("Sync completed",
			"account_id", accountID,
			"provider", account.Provider,
			"threads", result.ThreadsProcessed,
			"new_threads", result.NewThreads,
			"attempts", result.Attempts,
			"duration", result.Duration)
	}

	e.publish(account.UserID, service.EventSyncCompleted, map[string]any{
		"account_id": accountID,
		"success":    result.Success,
		"processed":  result.ThreadsProcessed,
		"new":        result.NewThreads,
		"attempts":   result.Attempts,
		"error":      result.Error,
	})

	return result
}

// syncAccount runs the sync steps in order: resolve credentials, fetch,
// store, classify, advance the cursor. Classification is best-effort; a
// cursor that fails to advance fails the sync so the next run re-fetches
// the same window and the upsert absorbs the overlap.
func (e *Engine) syncAccount(ctx context.Context, account *model.SyncAccount, result *service.SyncResult) error {
	accessToken, err := e.creds.GetValidAccessToken(ctx, account.ID)
	if err != nil {
		return fmt.Errorf("resolve credentials: %w", err)
	}

	connector, err := e.connectorFor(*account)
	if err != nil {
		return fmt.Errorf("build %s connector: %w", account.Provider, err)
	}

	var since *time.Time
	if account.LastSyncAt != nil {
		t := account.LastSyncAt.UTC()
		since = &t
	}

	threads, attempts, err := e.fetchThreadsWithRetry(ctx, connector, account, accessToken, since)
	result.Attempts = attempts
	if err != nil {
		return err
	}

	e.logger.Info("Fetched threads",
		"account_id", account.ID,
		"provider", account.Provider,
		"count", len(threads),
		"attempts", attempts)

	classifyIDs := e.storeThreads(ctx, account, threads, result)

	if len(classifyIDs) > 0 && e.classifier != nil {
		if classifyErr := e.classifier.BatchProcessThreads(ctx, classifyIDs); classifyErr != nil {
			e.logger.Warn("Thread classification failed",
				"account_id", account.ID,
				"threads", len(classifyIDs),
				"error", classifyErr)
		}
	}

	if err := e.storage.UpdateLastSyncAt(ctx, account.ID, e.clock.Now().UTC()); err != nil {
		return fmt.Errorf("advance sync cursor: %w", err)
	}

	return nil
}

// storeThreads merges fetched threads one at a time; a thread that fails
// to store is logged and skipped, never the whole batch. Every merged
// thread goes to the classifier: the provider query already filters to
// threads with activity since the cursor, and the classifier skips
// revisions it has already seen.
func (e *Engine) storeThreads(ctx context.Context, account *model.SyncAccount, threads []model.ParsedThread, result *service.SyncResult) []string {
	classifyIDs := make([]string, 0, len(threads))
	for _, parsed := range threads {
		thread, isNew, err := e.storage.UpsertThread(ctx, account.UserID, account.ID, account.Provider, parsed)
		if err != nil {
			e.logger.Error("Failed to store thread",
				"account_id", account.ID,
				"external_id", parsed.ExternalID,
				"error", err)
			continue
		}

		result.ThreadsProcessed++
		classifyIDs = append(classifyIDs, thread.ID)
		if isNew {
			result.NewThreads++
			e.publish(account.UserID, service.EventThreadNew, map[string]any{
				"thread_id":  thread.ID,
				"account_id": account.ID,
				"subject":    thread.Subject,
			})
		}
	}

	if result.ThreadsProcessed > 0 {
		e.publish(account.UserID, service.EventSyncProgress, map[string]any{
			"account_id": account.ID,
			"processed":  result.ThreadsProcessed,
			"new":        result.NewThreads,
		})
	}

	return classifyIDs
}

// fetchThreadsWithRetry fetches with the fixed delay schedule. The retry
// counter resets on success, on a non-retryable failure, and when the
// budget is exhausted; maxRetries of 3 means 4 attempts total.
func (e *Engine) fetchThreadsWithRetry(ctx context.Context, connector service.Connector, account *model.SyncAccount, accessToken string, since *time.Time) ([]model.ParsedThread, int, error) {
	attempts := 0
	for {
		attempts++
		threads, err := connector.FetchThreads(ctx, accessToken, since)
		if err == nil {
			e.resetAttempts(account.ID)
			return threads, attempts, nil
		}

		if !classifyRetryable(err) {
			e.resetAttempts(account.ID)
			return nil, attempts, err
		}

		count := e.incrementAttempts(account.ID)
		if count > e.maxRetries {
			e.resetAttempts(account.ID)
			return nil, attempts, fmt.Errorf("sync abandoned after %d attempts: %w", attempts, err)
		}

		delay := e.retryDelay(count)
		e.logger.Warn("Fetch failed, retrying",
			"account_id", account.ID,
			"provider", account.Provider,
			"retry", count,
			"max_retries", e.maxRetries,
			"delay", delay,
			"error", err)

		select {
		case <-ctx.Done():
			return nil, attempts, ctx.Err()
		case <-e.clock.After(delay):
		}
	}
}

// retryDelay maps a retry count to its wait. Retries past the end of the
// schedule reuse the last entry.
func (e *Engine) retryDelay(retryCount int) time.Duration {
	return e.retryDelays[min(retryCount-1, len(e.retryDelays)-1)]
}

// SyncAllAccounts syncs every sync-enabled account. Accounts missing
// required fields are filtered out with a warning rather than aborting
// the batch, and one account's failure never touches another's result.
func (e *Engine) SyncAllAccounts(ctx context.Context) service.SyncBatch {
	batch := service.SyncBatch{StartedAt: e.clock.Now().UTC()}

	accounts, err := e.storage.ListSyncEnabledAccounts(ctx)
	if err != nil {
		e.logger.Error("Failed to list sync accounts", "error", err)
		batch.Duration = e.clock.Since(batch.StartedAt)
		return batch
	}

	valid := make([]model.SyncAccount, 0, len(accounts))
	for _, account := range accounts {
		if err := account.Validate(); err != nil {
			e.logger.Warn("Skipping account", "account_id", account.ID, "reason", err)
			batch.Skipped = append(batch.Skipped, service.SkippedAccount{
				AccountID: account.ID,
				Reason:    err.Error(),
			})
			continue
		}
		valid = append(valid, account)
	}

	results := make([]service.SyncResult, len(valid))
	var g errgroup.Group
	g.SetLimit(e.maxConcurrent)
	for i, account := range valid {
		g.Go(func() error {
			results[i] = e.SyncAccount(ctx, account.ID)
			return nil
		})
	}
	_ = g.Wait()

	batch.Results = results
	batch.Duration = e.clock.Since(batch.StartedAt)

	e.logger.Info("Account sync batch finished",
		"accounts", len(valid),
		"skipped", len(batch.Skipped),
		"succeeded", batch.Succeeded(),
		"duration", batch.Duration)

	return batch
}

// RetryCount reports the live retry counter for an account. Zero means
// the account's last fetch succeeded, failed permanently, or exhausted
// its budget.
func (e *Engine) RetryCount(accountID string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.attempts[accountID]
}

func (e *Engine) incrementAttempts(accountID string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.attempts[accountID]++
	return e.attempts[accountID]
}

func (e *Engine) resetAttempts(accountID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.attempts, accountID)
}

func (e *Engine) beginSync(accountID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.inFlight[accountID] {
		return false
	}
	e.inFlight[accountID] = true
	return true
}

func (e *Engine) endSync(accountID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.inFlight, accountID)
}

func (e *Engine) publish(userID, name string, payload map[string]any) {
	if e.events == nil {
		return
	}
	e.events.Publish(userID, service.Event{
		Name:    name,
		UserID:  userID,
		At:      e.clock.Now().UTC(),
		Payload: payload,
	})
}
