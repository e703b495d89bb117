package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Veraticus/under-the-hammer/internal/common"
	"github.com/Veraticus/under-the-hammer/internal/model"
	"github.com/Veraticus/under-the-hammer/internal/service"
)

// batchSize bounds how many threads one prompt carries.
const batchSize = 10

// Classifier implements the service.ThreadClassifier interface using the
// Gemini API.
type Classifier struct {
	client      Client
	storage     service.Storage
	cache       *classificationCache
	logger      *slog.Logger
	rateLimiter *rateLimiter
	retryOpts   service.RetryOptions
}

// NewClassifier creates a new LLM-based thread classifier.
func NewClassifier(cfg Config, storage service.Storage, logger *slog.Logger) (*Classifier, error) {
	if storage == nil {
		return nil, fmt.Errorf("storage cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	client, err := newGeminiClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create LLM client: %w", err)
	}

	retryOpts := service.RetryOptions{
		MaxAttempts:  cfg.MaxRetries,
		InitialDelay: cfg.RetryDelay,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
	}
	if retryOpts.MaxAttempts == 0 {
		retryOpts.MaxAttempts = 3
	}
	if retryOpts.InitialDelay == 0 {
		retryOpts.InitialDelay = time.Second
	}

	return &Classifier{
		client:      client,
		storage:     storage,
		cache:       newClassificationCache(cfg.CacheTTL),
		logger:      logger.With("component", "llm"),
		rateLimiter: newRateLimiter(cfg.RateLimit),
		retryOpts:   retryOpts,
	}, nil
}

// BatchProcessThreads classifies the given threads and stores the results.
// Threads that vanished, or whose current revision was classified recently,
// are skipped. Processing continues past per-batch failures; the last error
// is returned once every batch has been attempted.
func (c *Classifier) BatchProcessThreads(ctx context.Context, threadIDs []string) error {
	if len(threadIDs) == 0 {
		return nil
	}

	var pending []model.Thread
	for _, id := range threadIDs {
		thread, err := c.storage.GetThread(ctx, id)
		if err != nil {
			if errors.Is(err, common.ErrNotFound) {
				c.logger.Warn("thread vanished before classification", "thread_id", id)
				continue
			}
			return fmt.Errorf("failed to load thread %s: %w", id, err)
		}

		if _, found := c.cache.get(cacheKey(thread.ID, thread.LastMessageAt)); found {
			c.logger.Debug("cache hit for thread", "thread_id", thread.ID)
			continue
		}

		pending = append(pending, *thread)
	}

	var lastErr error
	for start := 0; start < len(pending); start += batchSize {
		end := min(start+batchSize, len(pending))
		if err := c.classifyBatch(ctx, pending[start:end]); err != nil {
			c.logger.Error("batch classification failed",
				"error", err,
				"threads", end-start)
			lastErr = err
		}
	}

	return lastErr
}

// classifyBatch sends one prompt covering the given threads and persists
// whatever valid classifications come back.
func (c *Classifier) classifyBatch(ctx context.Context, threads []model.Thread) error {
	if err := c.rateLimiter.wait(ctx); err != nil {
		return fmt.Errorf("rate limit error: %w", err)
	}

	prompt := c.buildThreadPrompt(threads)

	var classifications []ThreadClassification
	err := common.WithRetry(ctx, func() error {
		c.logger.Debug("attempting LLM thread classification", "threads", len(threads))

		content, err := c.client.Classify(ctx, prompt)
		if err != nil {
			c.logger.Warn("LLM classification attempt failed", "error", err)
			return &common.RetryableError{Err: err, Retryable: true}
		}

		parsed, parseErr := parseThreadClassifications(content)
		if parseErr != nil {
			c.logger.Warn("invalid classification response", "error", parseErr)
			return &common.RetryableError{Err: parseErr, Retryable: true}
		}

		classifications = parsed
		return nil
	}, c.retryOpts)
	if err != nil {
		return fmt.Errorf("thread classification failed: %w", err)
	}

	byID := make(map[string]model.Thread, len(threads))
	for _, t := range threads {
		byID[t.ID] = t
	}

	applied := 0
	for _, tc := range classifications {
		thread, ok := byID[tc.ThreadID]
		if !ok {
			c.logger.Warn("model returned an unknown thread id", "thread_id", tc.ThreadID)
			continue
		}

		if err := c.storage.UpdateThreadClassification(ctx, tc.ThreadID, tc.Category, tc.Risk, tc.Summary); err != nil {
			return fmt.Errorf("failed to store classification for %s: %w", tc.ThreadID, err)
		}
		c.cache.set(cacheKey(thread.ID, thread.LastMessageAt), tc)
		applied++
	}

	if applied < len(threads) {
		// Unclassified threads stay category-less and get retried on the
		// next sync that touches them.
		c.logger.Warn("model skipped threads",
			"requested", len(threads),
			"classified", applied)
	}

	c.logger.Info("threads classified",
		"requested", len(threads),
		"classified", applied)

	return nil
}

// buildThreadPrompt creates the triage prompt for a batch of threads.
func (c *Classifier) buildThreadPrompt(threads []model.Thread) string {
	var b strings.Builder
	for i, t := range threads {
		fmt.Fprintf(&b, "[%d] id: %s\n", i+1, t.ID)
		fmt.Fprintf(&b, "subject: %s\n", t.Subject)
		if len(t.Participants) > 0 {
			fmt.Fprintf(&b, "participants: %s\n", strings.Join(t.Participants, ", "))
		}
		fmt.Fprintf(&b, "last message: %s\n", t.LastMessageAt.UTC().Format(time.RFC3339))
		if t.Summary != "" {
			fmt.Fprintf(&b, "preview: %s\n", t.Summary)
		}
		b.WriteString("\n")
	}

	return fmt.Sprintf(`You are triaging a residential real estate agent's inbox. For each conversation below, decide:
1. "category": "focus" if the agent owes the next reply, "waiting" if the other party does
2. "risk": how likely the underlying deal is to stall or fall over: "none", "low", "medium", "high", or "critical"
3. "summary": one sentence, at most 20 words, describing where the conversation stands

Conversations:

%sRespond with a JSON array only, one object per conversation, like:
[{"id": "<id>", "category": "focus", "risk": "medium", "summary": "Buyer asked for a second viewing before going unconditional."}]

Classify every conversation. Use the id values exactly as given.`, b.String())
}

// Close stops background goroutines and cleans up resources.
func (c *Classifier) Close() error {
	if c.cache != nil {
		c.cache.Close()
	}
	if c.rateLimiter != nil {
		c.rateLimiter.Close()
	}
	return nil
}

// Ensure Classifier implements the ThreadClassifier interface.
var _ service.ThreadClassifier = (*Classifier)(nil)
