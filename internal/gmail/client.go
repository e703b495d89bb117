// Package gmail fetches inbox threads from the Gmail API and normalizes
// them into the shape the sync engine consumes.
package gmail

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"golang.org/x/oauth2"
	gmailapi "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/Veraticus/under-the-hammer/internal/model"
	"github.com/Veraticus/under-the-hammer/internal/service"
)

const (
	// pageSize is the thread list page size. Gmail caps this at 500.
	pageSize = 100
	// defaultWindow bounds the fetch when no sync watermark exists yet.
	defaultWindow = 7 * 24 * time.Hour
)

// Client implements the Connector interface for Gmail accounts. The access
// token arrives per call, so the underlying API service is built per fetch.
type Client struct {
	logger *slog.Logger
	// endpoint overrides the Gmail API base URL in tests.
	endpoint string
}

// NewClient creates a Gmail connector.
func NewClient() *Client {
	return &Client{
		logger: slog.Default().With("component", "gmail"),
	}
}

// FetchThreads lists inbox threads with messages after the given watermark
// and maps them into parsed threads. A nil since falls back to the default
// window.
func (c *Client) FetchThreads(ctx context.Context, accessToken string, since *time.Time) ([]model.ParsedThread, error) {
	if ctx == nil {
		return nil, fmt.Errorf("context cannot be nil")
	}
	if accessToken == "" {
		return nil, fmt.Errorf("access token cannot be empty")
	}

	opts := []option.ClientOption{
		option.WithTokenSource(oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken})),
	}
	if c.endpoint != "" {
		opts = append(opts, option.WithEndpoint(c.endpoint))
	}
	svc, err := gmailapi.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gmail service: %w", err)
	}

	cutoff := time.Now().Add(-defaultWindow)
	if since != nil {
		cutoff = *since
	}
	query := fmt.Sprintf("in:inbox after:%d", cutoff.Unix())

	c.logger.Debug("Listing Gmail threads", "query", query)

	var ids []string
	pageToken := ""
	for {
		call := svc.Users.Threads.List("me").Q(query).MaxResults(pageSize).Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		resp, err := call.Do()
		if err != nil {
			return nil, wrapAPIError("list threads", err)
		}
		for _, t := range resp.Threads {
			ids = append(ids, t.Id)
		}
		if resp.NextPageToken == "" {
			break
		}
		pageToken = resp.NextPageToken
	}

	threads := make([]model.ParsedThread, 0, len(ids))
	for _, id := range ids {
		full, err := svc.Users.Threads.Get("me", id).
			Format("metadata").
			MetadataHeaders("Subject", "From", "To").
			Context(ctx).
			Do()
		if err != nil {
			return nil, wrapAPIError(fmt.Sprintf("get thread %s", id), err)
		}
		parsed := mapThread(full)
		if parsed.ExternalID == "" || len(parsed.Messages) == 0 {
			continue
		}
		threads = append(threads, parsed)
	}

	c.logger.Info("Fetched Gmail threads", "count", len(threads))

	return threads, nil
}

// mapThread converts an API thread with metadata-format messages into the
// connector shape. The subject comes from the earliest message; the thread
// timestamp is the newest message's internal date.
func mapThread(t *gmailapi.Thread) model.ParsedThread {
	parsed := model.ParsedThread{
		ExternalID: t.Id,
	}

	seen := make(map[string]struct{})
	for _, msg := range t.Messages {
		if msg == nil {
			continue
		}
		pm, subject := mapMessage(msg)

		if parsed.Subject == "" && subject != "" {
			parsed.Subject = subject
		}
		if pm.SentAt.After(parsed.LastMessageAt) {
			parsed.LastMessageAt = pm.SentAt
			parsed.Summary = pm.Snippet
		}
		for _, addr := range append([]string{pm.From}, pm.To...) {
			if addr == "" {
				continue
			}
			if _, ok := seen[addr]; ok {
				continue
			}
			seen[addr] = struct{}{}
			parsed.Participants = append(parsed.Participants, addr)
		}

		parsed.Messages = append(parsed.Messages, pm)
	}

	return parsed
}

// mapMessage converts one metadata-format message. It returns the message
// and the subject header so the thread mapper can pick a thread subject.
func mapMessage(msg *gmailapi.Message) (model.ParsedMessage, string) {
	pm := model.ParsedMessage{
		ExternalID: msg.Id,
		Snippet:    strings.TrimSpace(msg.Snippet),
		SentAt:     time.UnixMilli(msg.InternalDate).UTC(),
	}

	subject := ""
	if msg.Payload != nil {
		for _, h := range msg.Payload.Headers {
			if h == nil {
				continue
			}
			switch strings.ToLower(h.Name) {
			case "subject":
				subject = strings.TrimSpace(h.Value)
			case "from":
				if addrs := parseAddresses(h.Value); len(addrs) > 0 {
					pm.From = addrs[0]
				}
			case "to":
				pm.To = parseAddresses(h.Value)
			}
		}
	}

	return pm, subject
}

// parseAddresses extracts lowercased bare addresses from an RFC 5322 address
// list header. Unparseable headers fall back to the trimmed raw value so a
// malformed sender still shows up somewhere.
func parseAddresses(header string) []string {
	header = strings.TrimSpace(header)
	if header == "" {
		return nil
	}

	parsed, err := mail.ParseAddressList(header)
	if err != nil {
		return []string{header}
	}

	addrs := make([]string, 0, len(parsed))
	for _, a := range parsed {
		addrs = append(addrs, strings.ToLower(a.Address))
	}
	return addrs
}

// wrapAPIError normalizes Gmail API failures so retry classification can
// inspect the HTTP status.
func wrapAPIError(op string, err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		msg := gerr.Message
		if msg == "" {
			msg = gerr.Error()
		}
		return &service.ProviderError{
			Provider: model.ProviderGmail,
			Status:   gerr.Code,
			Message:  fmt.Sprintf("%s failed: %s", op, msg),
		}
	}
	return fmt.Errorf("gmail %s failed: %w", op, err)
}

// Ensure Client implements the Connector interface.
var _ service.Connector = (*Client)(nil)
