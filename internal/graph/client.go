// Package graph fetches inbox threads from the Microsoft Graph API and
// normalizes them into the shape the sync engine consumes.
package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Veraticus/under-the-hammer/internal/model"
	"github.com/Veraticus/under-the-hammer/internal/service"
)

const (
	defaultBaseURL = "https://graph.microsoft.com/v1.0"
	// pageSize is the message page size requested via $top.
	pageSize = 50
	// defaultWindow bounds the fetch when no sync watermark exists yet.
	defaultWindow = 7 * 24 * time.Hour
)

// Client implements the Connector interface for Microsoft 365 mailboxes.
// Graph returns flat messages, so threads are grouped by conversation ID.
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	baseURL    string
}

// Graph API response types.
type messageList struct {
	NextLink string         `json:"@odata.nextLink"`
	Value    []graphMessage `json:"value"`
}

type graphMessage struct {
	ID               string      `json:"id"`
	ConversationID   string      `json:"conversationId"`
	Subject          string      `json:"subject"`
	BodyPreview      string      `json:"bodyPreview"`
	ReceivedDateTime time.Time   `json:"receivedDateTime"`
	From             recipient   `json:"from"`
	ToRecipients     []recipient `json:"toRecipients"`
}

type recipient struct {
	EmailAddress emailAddress `json:"emailAddress"`
}

type emailAddress struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

type apiError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// NewClient creates a Microsoft Graph connector.
func NewClient() *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger:  slog.Default().With("component", "graph"),
		baseURL: defaultBaseURL,
	}
}

// FetchThreads pages through inbox messages received after the given
// watermark and groups them into threads by conversation ID. A nil since
// falls back to the default window.
func (c *Client) FetchThreads(ctx context.Context, accessToken string, since *time.Time) ([]model.ParsedThread, error) {
	if ctx == nil {
		return nil, fmt.Errorf("context cannot be nil")
	}
	if accessToken == "" {
		return nil, fmt.Errorf("access token cannot be empty")
	}

	cutoff := time.Now().Add(-defaultWindow)
	if since != nil {
		cutoff = *since
	}

	q := url.Values{}
	q.Set("$filter", fmt.Sprintf("receivedDateTime ge %s", cutoff.UTC().Format(time.RFC3339)))
	q.Set("$orderby", "receivedDateTime asc")
	q.Set("$select", "id,conversationId,subject,bodyPreview,receivedDateTime,from,toRecipients")
	q.Set("$top", fmt.Sprintf("%d", pageSize))
	next := c.baseURL + "/me/mailFolders/inbox/messages?" + q.Encode()

	c.logger.Debug("Listing Graph messages", "since", cutoff.UTC().Format(time.RFC3339))

	var messages []graphMessage
	for next != "" {
		page, err := c.getPage(ctx, next, accessToken)
		if err != nil {
			return nil, err
		}
		messages = append(messages, page.Value...)
		next = page.NextLink
	}

	threads := groupThreads(messages)

	c.logger.Info("Fetched Graph threads", "messages", len(messages), "threads", len(threads))

	return threads, nil
}

// getPage performs one authenticated GET against the messages collection.
// The nextLink URLs Graph returns are absolute, so pagination reuses this
// with the link verbatim.
func (c *Client) getPage(ctx context.Context, pageURL, accessToken string) (*messageList, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, c.errorFromResponse(resp)
	}

	var page messageList
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return &page, nil
}

// errorFromResponse normalizes a non-200 Graph response so retry
// classification can inspect the status and OData error code.
func (c *Client) errorFromResponse(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var parsed apiError
	message := strings.TrimSpace(string(body))
	code := ""
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error.Message != "" {
		message = parsed.Error.Message
		code = parsed.Error.Code
	}

	return &service.ProviderError{
		Provider: model.ProviderMicrosoft,
		Status:   resp.StatusCode,
		Code:     code,
		Message:  message,
	}
}

// groupThreads folds a receivedDateTime-ascending message list into one
// thread per conversation, preserving the order conversations first appear.
func groupThreads(messages []graphMessage) []model.ParsedThread {
	var order []string
	byConversation := make(map[string]*model.ParsedThread)
	seen := make(map[string]map[string]struct{})

	for _, gm := range messages {
		convID := gm.ConversationID
		if convID == "" {
			// Drafts and some calendar items have no conversation; treat
			// each as its own thread.
			convID = gm.ID
		}

		thread, ok := byConversation[convID]
		if !ok {
			thread = &model.ParsedThread{
				ExternalID: convID,
				Subject:    strings.TrimSpace(gm.Subject),
			}
			byConversation[convID] = thread
			seen[convID] = make(map[string]struct{})
			order = append(order, convID)
		}

		pm := mapMessage(gm)
		if pm.SentAt.After(thread.LastMessageAt) {
			thread.LastMessageAt = pm.SentAt
			thread.Summary = pm.Snippet
		}
		for _, addr := range append([]string{pm.From}, pm.To...) {
			if addr == "" {
				continue
			}
			if _, dup := seen[convID][addr]; dup {
				continue
			}
			seen[convID][addr] = struct{}{}
			thread.Participants = append(thread.Participants, addr)
		}
		thread.Messages = append(thread.Messages, pm)
	}

	threads := make([]model.ParsedThread, 0, len(order))
	for _, convID := range order {
		threads = append(threads, *byConversation[convID])
	}
	return threads
}

// mapMessage converts one Graph message into the connector shape.
func mapMessage(gm graphMessage) model.ParsedMessage {
	pm := model.ParsedMessage{
		ExternalID: gm.ID,
		From:       strings.ToLower(strings.TrimSpace(gm.From.EmailAddress.Address)),
		Snippet:    strings.TrimSpace(gm.BodyPreview),
		SentAt:     gm.ReceivedDateTime.UTC(),
	}
	for _, r := range gm.ToRecipients {
		addr := strings.ToLower(strings.TrimSpace(r.EmailAddress.Address))
		if addr == "" {
			continue
		}
		pm.To = append(pm.To, addr)
	}
	return pm
}

// Ensure Client implements the Connector interface.
var _ service.Connector = (*Client)(nil)
