package syncer

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Veraticus/under-the-hammer/internal/common"
	"github.com/Veraticus/under-the-hammer/internal/model"
	"github.com/Veraticus/under-the-hammer/internal/service"
)

func TestClassifyRetryable(t *testing.T) {
	tests := []struct {
		err  error
		name string
		want bool
	}{
		{
			name: "nil error",
			err:  nil,
			want: false,
		},
		{
			name: "connection reset",
			err:  errors.New("read tcp 10.0.0.2:993: connection reset by peer"),
			want: true,
		},
		{
			name: "io timeout",
			err:  errors.New("dial tcp 142.250.0.1:443: i/o timeout"),
			want: true,
		},
		{
			name: "dns failure case insensitive",
			err:  errors.New("DNS Failure resolving imap.mail.yahoo.com"),
			want: true,
		},
		{
			name: "connection refused",
			err:  errors.New("dial tcp 127.0.0.1:993: connection refused"),
			want: true,
		},
		{
			name: "rate-limit in message",
			err:  &service.ProviderError{Provider: model.ProviderMicrosoft, Message: "upstream rate-limit reached"},
			want: true,
		},
		{
			name: "status 429",
			err:  &service.ProviderError{Provider: model.ProviderGmail, Status: 429, Message: "Too many requests"},
			want: true,
		},
		{
			name: "status 503",
			err:  &service.ProviderError{Provider: model.ProviderMicrosoft, Status: 503, Message: "Service unavailable"},
			want: true,
		},
		{
			name: "status 504",
			err:  &service.ProviderError{Provider: model.ProviderGmail, Status: 504, Message: "Gateway timeout"},
			want: true,
		},
		{
			name: "wrapped provider error",
			err:  fmt.Errorf("fetch page 2: %w", &service.ProviderError{Provider: model.ProviderGmail, Status: 503}),
			want: true,
		},
		{
			name: "expired token",
			err:  &service.ProviderError{Provider: model.ProviderGmail, Status: 401, Code: "invalid_grant", Message: "Token has been expired or revoked"},
			want: false,
		},
		{
			name: "missing label",
			err:  &service.ProviderError{Provider: model.ProviderGmail, Status: 404, Message: "label not found"},
			want: false,
		},
		{
			name: "auth sentinel",
			err:  common.ErrAuthFailed,
			want: false,
		},
		{
			name: "plain permanent failure",
			err:  errors.New("mailbox does not exist"),
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classifyRetryable(tt.err))
		})
	}
}

func TestRetryDelaySchedule(t *testing.T) {
	engine := &Engine{retryDelays: testConfig().RetryDelays}

	assert.Equal(t, time.Minute, engine.retryDelay(1))
	assert.Equal(t, 5*time.Minute, engine.retryDelay(2))
	assert.Equal(t, 15*time.Minute, engine.retryDelay(3))
	assert.Equal(t, 15*time.Minute, engine.retryDelay(7), "retries past the schedule reuse the last entry")
}
