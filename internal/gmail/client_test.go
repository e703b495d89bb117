package gmail

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gmailapi "google.golang.org/api/gmail/v1"

	"github.com/Veraticus/under-the-hammer/internal/model"
	"github.com/Veraticus/under-the-hammer/internal/service"
)

func newTestClient(endpoint string) *Client {
	c := NewClient()
	c.endpoint = endpoint
	return c
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		t.Errorf("failed to encode fake response: %v", err)
	}
}

func TestClient_FetchThreads(t *testing.T) {
	since := time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC)

	listing := &gmailapi.Thread{
		Id: "thread-1",
		Messages: []*gmailapi.Message{
			{
				Id:           "msg-1",
				InternalDate: time.Date(2024, 5, 11, 9, 0, 0, 0, time.UTC).UnixMilli(),
				Snippet:      "Can we view the property on Saturday?",
				Payload: &gmailapi.MessagePart{
					Headers: []*gmailapi.MessagePartHeader{
						{Name: "Subject", Value: "12 Harbour View listing"},
						{Name: "From", Value: "Jess Buyer <jess@example.com>"},
						{Name: "To", Value: "Agent <agent@example.co.nz>"},
					},
				},
			},
			{
				Id:           "msg-2",
				InternalDate: time.Date(2024, 5, 12, 14, 30, 0, 0, time.UTC).UnixMilli(),
				Snippet:      "Saturday at 10am works.",
				Payload: &gmailapi.MessagePart{
					Headers: []*gmailapi.MessagePartHeader{
						{Name: "Subject", Value: "Re: 12 Harbour View listing"},
						{Name: "From", Value: "Agent <agent@example.co.nz>"},
						{Name: "To", Value: "jess@example.com"},
					},
				},
			},
		},
	}
	offer := &gmailapi.Thread{
		Id: "thread-2",
		Messages: []*gmailapi.Message{
			{
				Id:           "msg-3",
				InternalDate: time.Date(2024, 5, 12, 8, 15, 0, 0, time.UTC).UnixMilli(),
				Snippet:      "Offer attached for 4 Totara Lane.",
				Payload: &gmailapi.MessagePart{
					Headers: []*gmailapi.MessagePartHeader{
						{Name: "Subject", Value: "Offer: 4 Totara Lane"},
						{Name: "From", Value: "sam@example.com"},
						{Name: "To", Value: "agent@example.co.nz"},
					},
				},
			},
		},
	}

	var listCalls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))

		switch r.URL.Path {
		case "/gmail/v1/users/me/threads":
			listCalls++
			assert.Equal(t, "in:inbox after:1715299200", r.URL.Query().Get("q"))
			if r.URL.Query().Get("pageToken") == "" {
				writeJSON(t, w, &gmailapi.ListThreadsResponse{
					Threads:       []*gmailapi.Thread{{Id: "thread-1"}},
					NextPageToken: "page-2",
				})
				return
			}
			writeJSON(t, w, &gmailapi.ListThreadsResponse{
				Threads: []*gmailapi.Thread{{Id: "thread-2"}},
			})
		case "/gmail/v1/users/me/threads/thread-1":
			assert.Equal(t, "metadata", r.URL.Query().Get("format"))
			writeJSON(t, w, listing)
		case "/gmail/v1/users/me/threads/thread-2":
			writeJSON(t, w, offer)
		default:
			t.Errorf("unexpected request path: %s", r.URL.Path)
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	threads, err := client.FetchThreads(context.Background(), "test-token", &since)
	require.NoError(t, err)
	require.Len(t, threads, 2)
	assert.Equal(t, 2, listCalls, "expected pagination to fetch both pages")

	first := threads[0]
	assert.Equal(t, "thread-1", first.ExternalID)
	assert.Equal(t, "12 Harbour View listing", first.Subject)
	assert.Equal(t, "Saturday at 10am works.", first.Summary)
	assert.Equal(t, time.Date(2024, 5, 12, 14, 30, 0, 0, time.UTC), first.LastMessageAt)
	assert.Equal(t, []string{"jess@example.com", "agent@example.co.nz"}, first.Participants)
	require.Len(t, first.Messages, 2)
	assert.Equal(t, "msg-1", first.Messages[0].ExternalID)
	assert.Equal(t, "jess@example.com", first.Messages[0].From)
	assert.Equal(t, []string{"agent@example.co.nz"}, first.Messages[0].To)

	second := threads[1]
	assert.Equal(t, "thread-2", second.ExternalID)
	assert.Equal(t, "Offer: 4 Totara Lane", second.Subject)
	require.Len(t, second.Messages, 1)
}

func TestClient_FetchThreadsAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error": {"code": 429, "message": "Rate limit exceeded", "status": "RESOURCE_EXHAUSTED"}}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	_, err := client.FetchThreads(context.Background(), "test-token", nil)
	require.Error(t, err)

	var provErr *service.ProviderError
	require.True(t, errors.As(err, &provErr), "expected a provider error, got %T: %v", err, err)
	assert.Equal(t, model.ProviderGmail, provErr.Provider)
	assert.Equal(t, http.StatusTooManyRequests, provErr.Status)
	assert.Contains(t, provErr.Message, "Rate limit exceeded")
}

func TestClient_FetchThreadsValidation(t *testing.T) {
	client := NewClient()

	_, err := client.FetchThreads(nil, "token", nil) //nolint:staticcheck
	assert.Error(t, err)

	_, err = client.FetchThreads(context.Background(), "", nil)
	assert.Error(t, err)
}

func TestMapThread(t *testing.T) {
	thread := &gmailapi.Thread{
		Id: "t-9",
		Messages: []*gmailapi.Message{
			{
				Id:           "m-1",
				InternalDate: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC).UnixMilli(),
				Snippet:      "first",
				Payload: &gmailapi.MessagePart{
					Headers: []*gmailapi.MessagePartHeader{
						{Name: "Subject", Value: "Building report"},
						{Name: "From", Value: "A Person <a@example.com>"},
						{Name: "To", Value: "b@example.com, C <c@example.com>"},
					},
				},
			},
			nil,
			{
				Id:           "m-2",
				InternalDate: time.Date(2024, 3, 2, 10, 0, 0, 0, time.UTC).UnixMilli(),
				Snippet:      "latest",
				Payload: &gmailapi.MessagePart{
					Headers: []*gmailapi.MessagePartHeader{
						{Name: "Subject", Value: "Re: Building report"},
						{Name: "From", Value: "B@example.com"},
						{Name: "To", Value: "a@example.com"},
					},
				},
			},
		},
	}

	parsed := mapThread(thread)

	assert.Equal(t, "t-9", parsed.ExternalID)
	assert.Equal(t, "Building report", parsed.Subject, "subject should come from the earliest message")
	assert.Equal(t, "latest", parsed.Summary)
	assert.Equal(t, time.Date(2024, 3, 2, 10, 0, 0, 0, time.UTC), parsed.LastMessageAt)
	assert.Equal(t, []string{"a@example.com", "b@example.com", "c@example.com"}, parsed.Participants,
		"participants should be deduplicated and lowercased")
	require.Len(t, parsed.Messages, 2, "nil messages should be skipped")
}

func TestMapMessageMissingPayload(t *testing.T) {
	pm, subject := mapMessage(&gmailapi.Message{
		Id:           "m-7",
		InternalDate: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC).UnixMilli(),
		Snippet:      "  trimmed  ",
	})

	assert.Equal(t, "m-7", pm.ExternalID)
	assert.Equal(t, "trimmed", pm.Snippet)
	assert.Empty(t, subject)
	assert.Empty(t, pm.From)
}

func TestParseAddresses(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   []string
	}{
		{
			name:   "single bare address",
			header: "agent@example.co.nz",
			want:   []string{"agent@example.co.nz"},
		},
		{
			name:   "display names and mixed case",
			header: "Jess Buyer <Jess@Example.com>, sam@example.com",
			want:   []string{"jess@example.com", "sam@example.com"},
		},
		{
			name:   "quoted comma in display name",
			header: `"Buyer, Jess" <jess@example.com>`,
			want:   []string{"jess@example.com"},
		},
		{
			name:   "unparseable falls back to raw",
			header: "not an address",
			want:   []string{"not an address"},
		},
		{
			name:   "empty",
			header: "   ",
			want:   nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parseAddresses(tt.header))
		})
	}
}
