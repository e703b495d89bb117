package syncer

import (
	"context"
	"sync"
	"time"

	"github.com/Veraticus/under-the-hammer/internal/model"
)

// MockConnector is a test implementation of the Connector interface. It
// returns queued responses in order and records every call.
type MockConnector struct {
	calls     []MockFetchCall
	responses []MockFetchResponse
	mu        sync.Mutex
}

// MockFetchCall records the arguments of one FetchThreads call.
type MockFetchCall struct {
	Since       *time.Time
	AccessToken string
}

// MockFetchResponse is one scripted FetchThreads outcome.
type MockFetchResponse struct {
	Err     error
	Threads []model.ParsedThread
}

// NewMockConnector creates a mock connector with no scripted responses.
// An unscripted call succeeds with no threads.
func NewMockConnector() *MockConnector {
	return &MockConnector{
		calls:     make([]MockFetchCall, 0),
		responses: make([]MockFetchResponse, 0),
	}
}

// QueueThreads scripts a successful fetch returning the given threads.
func (m *MockConnector) QueueThreads(threads ...model.ParsedThread) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, MockFetchResponse{Threads: threads})
}

// QueueError scripts a failed fetch.
func (m *MockConnector) QueueError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, MockFetchResponse{Err: err})
}

// FetchThreads pops the next scripted response.
func (m *MockConnector) FetchThreads(_ context.Context, accessToken string, since *time.Time) ([]model.ParsedThread, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, MockFetchCall{
		AccessToken: accessToken,
		Since:       since,
	})

	if len(m.responses) == 0 {
		return nil, nil
	}
	next := m.responses[0]
	m.responses = m.responses[1:]
	return next.Threads, next.Err
}

// Calls returns a copy of all recorded calls for verification in tests.
func (m *MockConnector) Calls() []MockFetchCall {
	m.mu.Lock()
	defer m.mu.Unlock()

	calls := make([]MockFetchCall, len(m.calls))
	copy(calls, m.calls)
	return calls
}

// CallCount returns the number of times FetchThreads was called.
func (m *MockConnector) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// Reset clears recorded calls and unconsumed responses.
func (m *MockConnector) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = make([]MockFetchCall, 0)
	m.responses = make([]MockFetchResponse, 0)
}
