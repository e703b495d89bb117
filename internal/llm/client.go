package llm

import (
	"context"
	"time"

	"github.com/Veraticus/under-the-hammer/internal/model"
)

// Client is the transport for one LLM provider. It sends a prompt and
// returns the raw text of the model's reply; parsing happens above it.
type Client interface {
	Classify(ctx context.Context, prompt string) (string, error)
}

// ThreadClassification is one thread's classification as returned by the
// model after validation.
type ThreadClassification struct {
	ThreadID string
	Category model.Category
	Risk     model.RiskLevel
	Summary  string
}

// Config holds configuration for the LLM classifier.
type Config struct {
	APIKey      string
	Model       string
	BaseURL     string
	MaxRetries  int
	RetryDelay  time.Duration
	CacheTTL    time.Duration
	RateLimit   int
	Temperature float64
	MaxTokens   int
}
