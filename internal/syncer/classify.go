package syncer

import (
	"errors"
	"strconv"
	"strings"

	"github.com/Veraticus/under-the-hammer/internal/common"
	"github.com/Veraticus/under-the-hammer/internal/model"
	"github.com/Veraticus/under-the-hammer/internal/service"
)

// retryableFragments are matched case-insensitively against a failure's
// message, code, and status. They cover transient network trouble and
// provider throttling; auth failures and bad requests never match.
var retryableFragments = []string{
	"connection reset",
	"timeout",
	"dns failure",
	"connection refused",
	"rate-limit",
	"429",
	"503",
	"504",
}

// classifyRetryable reports whether a fetch failure is worth retrying.
func classifyRetryable(err error) bool {
	if err == nil {
		return false
	}

	text := err.Error()
	var provErr *service.ProviderError
	if errors.As(err, &provErr) {
		switch provErr.Status {
		case 429, 503, 504:
			return true
		}
		text = provErr.Message + " " + provErr.Code
		if provErr.Status > 0 {
			text += " " + strconv.Itoa(provErr.Status)
		}
	}

	text = strings.ToLower(text)
	for _, fragment := range retryableFragments {
		if strings.Contains(text, fragment) {
			return true
		}
	}
	return false
}

// yahooAuthHint tells the user how to recover from a rejected Yahoo IMAP
// sign-in. The raw IMAP response gives them nothing to act on.
const yahooAuthHint = `Yahoo rejected the IMAP sign-in for this account. To fix it:
  1. Open Yahoo Mail > Account Security and confirm IMAP access is allowed
  2. Revoke access for this app, then reconnect with: hammer accounts add --provider yahoo
  3. If the account uses two-step verification, complete the browser consent again`

// describeError turns a sync failure into the human-readable string that
// rides on the completed event. Yahoo auth failures get remediation steps
// appended.
func (e *Engine) describeError(account *model.SyncAccount, err error) string {
	msg := err.Error()
	if account.Provider == model.ProviderYahoo && errors.Is(err, common.ErrAuthFailed) {
		return msg + "\n" + yahooAuthHint
	}
	return msg
}
