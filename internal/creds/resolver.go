// Package creds turns stored sync accounts into valid OAuth2 access
// tokens, refreshing them transparently when they are near expiry.
package creds

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/oauth2/microsoft"
	"golang.org/x/oauth2/yahoo"

	"github.com/Veraticus/under-the-hammer/internal/common"
	"github.com/Veraticus/under-the-hammer/internal/config"
	"github.com/Veraticus/under-the-hammer/internal/model"
	"github.com/Veraticus/under-the-hammer/internal/service"
)

// expirySkew is how close to expiry a token may get before it is treated
// as expired. Refreshing early avoids mid-sync 401s.
const expirySkew = 5 * time.Minute

// providerScopes lists the minimal read scopes requested per provider.
var providerScopes = map[model.Provider][]string{
	model.ProviderGmail:     {"https://www.googleapis.com/auth/gmail.readonly"},
	model.ProviderMicrosoft: {"https://graph.microsoft.com/Mail.Read", "offline_access"},
	model.ProviderYahoo:     {"mail-r"},
}

type cachedToken struct {
	expiresAt time.Time
	token     string
}

// Resolver implements service.CredentialResolver on top of stored accounts.
type Resolver struct {
	storage   service.Storage
	clock     clockwork.Clock
	cache     map[string]cachedToken
	endpoint  *oauth2.Endpoint
	providers config.ProvidersConfig
	mu        sync.Mutex
}

// NewResolver creates a resolver. A nil clock uses the real one.
func NewResolver(storage service.Storage, providers config.ProvidersConfig, clock clockwork.Clock) *Resolver {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Resolver{
		storage:   storage,
		providers: providers,
		clock:     clock,
		cache:     make(map[string]cachedToken),
	}
}

// GetValidAccessToken returns an access token that is valid now. Stored
// tokens inside the expiry skew are refreshed with the account's refresh
// token and the refreshed token is written back to storage.
func (r *Resolver) GetValidAccessToken(ctx context.Context, accountID string) (string, error) {
	now := r.clock.Now()

	r.mu.Lock()
	if cached, ok := r.cache[accountID]; ok && now.Before(cached.expiresAt.Add(-expirySkew)) {
		r.mu.Unlock()
		return cached.token, nil
	}
	r.mu.Unlock()

	account, err := r.storage.GetSyncAccount(ctx, accountID)
	if err != nil {
		return "", fmt.Errorf("failed to load account: %w", err)
	}

	if account.AccessToken != "" && now.Before(account.TokenExpiry.Add(-expirySkew)) {
		r.remember(accountID, account.AccessToken, account.TokenExpiry)
		return account.AccessToken, nil
	}

	token, err := r.refresh(ctx, account)
	if err != nil {
		return "", err
	}

	if err := r.storage.UpdateAccountToken(ctx, accountID, token.AccessToken, token.Expiry); err != nil {
		slog.Warn("Failed to persist refreshed token",
			"account_id", accountID,
			"error", err)
	}
	r.remember(accountID, token.AccessToken, token.Expiry)

	return token.AccessToken, nil
}

// refresh exchanges the account's refresh token for a new access token.
func (r *Resolver) refresh(ctx context.Context, account *model.SyncAccount) (*oauth2.Token, error) {
	oauthConfig, err := r.oauthConfig(account.Provider)
	if err != nil {
		return nil, err
	}

	// A token carrying only the refresh token forces the source to refresh.
	tokenSource := oauthConfig.TokenSource(ctx, &oauth2.Token{RefreshToken: account.RefreshToken})
	token, err := tokenSource.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %s token refresh for %s: %v",
			common.ErrAuthFailed, account.Provider, account.Email, err)
	}

	return token, nil
}

// oauthConfig builds the provider's OAuth2 client configuration.
func (r *Resolver) oauthConfig(provider model.Provider) (*oauth2.Config, error) {
	var client config.OAuthClientConfig
	var endpoint oauth2.Endpoint

	switch provider {
	case model.ProviderGmail:
		client = r.providers.Google
		endpoint = google.Endpoint
	case model.ProviderMicrosoft:
		client = r.providers.Microsoft
		endpoint = microsoft.AzureADEndpoint("common")
	case model.ProviderYahoo:
		client = r.providers.Yahoo
		endpoint = yahoo.Endpoint
	default:
		return nil, fmt.Errorf("%w: no OAuth endpoint for provider %q", common.ErrInvalidAccount, provider)
	}

	if client.ClientID == "" || client.ClientSecret == "" {
		return nil, fmt.Errorf("%w: %s client credentials not configured", common.ErrMissingConfig, provider)
	}

	if r.endpoint != nil {
		endpoint = *r.endpoint
	}

	return &oauth2.Config{
		ClientID:     client.ClientID,
		ClientSecret: client.ClientSecret,
		Endpoint:     endpoint,
		Scopes:       providerScopes[provider],
	}, nil
}

func (r *Resolver) remember(accountID, token string, expiresAt time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache[accountID] = cachedToken{token: token, expiresAt: expiresAt}
}

// Forget drops an account's cached token, forcing the next call through
// the full lookup. Used after auth failures.
func (r *Resolver) Forget(accountID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cache, accountID)
}
