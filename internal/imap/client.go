// Package imap fetches mail threads from Yahoo mailboxes over IMAP. Yahoo
// exposes no conversation API, so messages are grouped into threads by
// normalized subject, the classic fallback threading strategy.
package imap

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	goimap "github.com/emersion/go-imap"
	imapclient "github.com/emersion/go-imap/client"
	"github.com/emersion/go-sasl"

	"github.com/Veraticus/under-the-hammer/internal/common"
	"github.com/Veraticus/under-the-hammer/internal/model"
	"github.com/Veraticus/under-the-hammer/internal/service"
)

const (
	yahooAddr = "imap.mail.yahoo.com:993"
	// defaultWindow bounds the fetch when no sync watermark exists yet.
	defaultWindow = 7 * 24 * time.Hour
)

// conn is the slice of the IMAP client the fetcher uses, split out so
// tests can fake a mailbox without a live server.
type conn interface {
	Authenticate(auth sasl.Client) error
	Select(name string, readOnly bool) (*goimap.MailboxStatus, error)
	UidSearch(criteria *goimap.SearchCriteria) ([]uint32, error)
	UidFetch(seqset *goimap.SeqSet, items []goimap.FetchItem, ch chan *goimap.Message) error
	Logout() error
}

// Client implements the Connector interface for Yahoo mailboxes. XOAUTH2
// needs the mailbox address alongside the bearer token, so a client is
// built per account.
type Client struct {
	logger *slog.Logger
	dial   func(addr string) (conn, error)
	addr   string
	email  string
}

// NewClient creates an IMAP connector for the given mailbox address.
func NewClient(email string) *Client {
	return &Client{
		logger: slog.Default().With("component", "imap"),
		dial: func(addr string) (conn, error) {
			c, err := imapclient.DialTLS(addr, nil)
			if err != nil {
				return nil, err
			}
			return c, nil
		},
		addr:  yahooAddr,
		email: email,
	}
}

// FetchThreads searches INBOX for messages received after the given
// watermark and groups their envelopes into threads. A nil since falls
// back to the default window.
func (c *Client) FetchThreads(ctx context.Context, accessToken string, since *time.Time) ([]model.ParsedThread, error) {
	if ctx == nil {
		return nil, fmt.Errorf("context cannot be nil")
	}
	if accessToken == "" {
		return nil, fmt.Errorf("access token cannot be empty")
	}
	if c.email == "" {
		return nil, fmt.Errorf("mailbox address cannot be empty")
	}

	cutoff := time.Now().Add(-defaultWindow)
	if since != nil {
		cutoff = *since
	}

	mailbox, err := c.dial(c.addr)
	if err != nil {
		return nil, &service.ProviderError{
			Provider: model.ProviderYahoo,
			Message:  fmt.Sprintf("failed to connect to %s: %v", c.addr, err),
		}
	}
	defer func() { _ = mailbox.Logout() }()

	if err := mailbox.Authenticate(newXOAuth2Client(c.email, accessToken)); err != nil {
		return nil, fmt.Errorf("%w: yahoo rejected the access token: %v", common.ErrAuthFailed, err)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	status, err := mailbox.Select("INBOX", true)
	if err != nil {
		return nil, wrapIMAPError("select INBOX", err)
	}
	if status.Messages == 0 {
		return nil, nil
	}

	criteria := goimap.NewSearchCriteria()
	// IMAP SINCE matches on the internal date with day granularity.
	criteria.Since = cutoff
	uids, err := mailbox.UidSearch(criteria)
	if err != nil {
		return nil, wrapIMAPError("search INBOX", err)
	}
	if len(uids) == 0 {
		return nil, nil
	}

	c.logger.Debug("Fetching IMAP envelopes", "mailbox", c.email, "uids", len(uids))

	seqset := new(goimap.SeqSet)
	seqset.AddNum(uids...)
	items := []goimap.FetchItem{goimap.FetchEnvelope, goimap.FetchUid}

	messages := make(chan *goimap.Message, 10)
	done := make(chan error, 1)
	go func() {
		done <- mailbox.UidFetch(seqset, items, messages)
	}()

	var fetched []fetchedMessage
	for msg := range messages {
		if msg == nil || msg.Envelope == nil {
			continue
		}
		fetched = append(fetched, fetchedMessage{uid: msg.Uid, envelope: msg.Envelope})
	}
	if err := <-done; err != nil {
		return nil, wrapIMAPError("fetch envelopes", err)
	}

	threads := groupBySubject(fetched)

	c.logger.Info("Fetched IMAP threads", "messages", len(fetched), "threads", len(threads))

	return threads, nil
}

// fetchedMessage pairs a UID with its envelope. The UID backs the message
// identity when the envelope carries no Message-Id.
type fetchedMessage struct {
	envelope *goimap.Envelope
	uid      uint32
}

// groupBySubject folds fetched envelopes into one thread per normalized
// subject, ordered by each thread's earliest message. Messages without a
// usable subject become single-message threads.
func groupBySubject(fetched []fetchedMessage) []model.ParsedThread {
	sort.SliceStable(fetched, func(i, j int) bool {
		return fetched[i].envelope.Date.Before(fetched[j].envelope.Date)
	})

	var order []string
	byKey := make(map[string]*model.ParsedThread)
	seen := make(map[string]map[string]struct{})

	for _, fm := range fetched {
		env := fm.envelope
		key := "subject:" + normalizeSubject(env.Subject)
		if key == "subject:" {
			key = "message:" + messageID(fm)
		}

		thread, ok := byKey[key]
		if !ok {
			thread = &model.ParsedThread{
				ExternalID: key,
				Subject:    strings.TrimSpace(env.Subject),
			}
			byKey[key] = thread
			seen[key] = make(map[string]struct{})
			order = append(order, key)
		}

		pm := mapEnvelope(fm)
		if pm.SentAt.After(thread.LastMessageAt) {
			thread.LastMessageAt = pm.SentAt
		}
		for _, addr := range append([]string{pm.From}, pm.To...) {
			if addr == "" {
				continue
			}
			if _, dup := seen[key][addr]; dup {
				continue
			}
			seen[key][addr] = struct{}{}
			thread.Participants = append(thread.Participants, addr)
		}
		thread.Messages = append(thread.Messages, pm)
	}

	threads := make([]model.ParsedThread, 0, len(order))
	for _, key := range order {
		threads = append(threads, *byKey[key])
	}
	return threads
}

// mapEnvelope converts one envelope into the connector shape. Envelopes
// carry no body, so the snippet stays empty until classification fills in
// a summary.
func mapEnvelope(fm fetchedMessage) model.ParsedMessage {
	env := fm.envelope
	pm := model.ParsedMessage{
		ExternalID: messageID(fm),
		SentAt:     env.Date.UTC(),
	}
	if len(env.From) > 0 {
		pm.From = formatAddress(env.From[0])
	}
	for _, addr := range env.To {
		formatted := formatAddress(addr)
		if formatted == "" {
			continue
		}
		pm.To = append(pm.To, formatted)
	}
	return pm
}

func messageID(fm fetchedMessage) string {
	if id := strings.TrimSpace(fm.envelope.MessageId); id != "" {
		return id
	}
	return fmt.Sprintf("uid:%d", fm.uid)
}

func formatAddress(addr *goimap.Address) string {
	if addr == nil || addr.MailboxName == "" || addr.HostName == "" {
		return ""
	}
	return strings.ToLower(addr.Address())
}

// normalizeSubject lowercases a subject and strips reply and forward
// prefixes so "RE: Re: Offer" and "Offer" land in the same thread.
func normalizeSubject(subject string) string {
	s := strings.ToLower(strings.TrimSpace(subject))
	for {
		trimmed := s
		for _, prefix := range []string{"re:", "fw:", "fwd:"} {
			trimmed = strings.TrimSpace(strings.TrimPrefix(trimmed, prefix))
		}
		if trimmed == s {
			break
		}
		s = trimmed
	}
	return strings.Join(strings.Fields(s), " ")
}

func wrapIMAPError(op string, err error) error {
	return &service.ProviderError{
		Provider: model.ProviderYahoo,
		Message:  fmt.Sprintf("%s failed: %v", op, err),
	}
}

// Ensure Client implements the Connector interface.
var _ service.Connector = (*Client)(nil)
