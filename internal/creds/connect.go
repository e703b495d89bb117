package creds

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/Veraticus/under-the-hammer/internal/model"
)

// ConnectOptions configures an interactive account connection.
type ConnectOptions struct {
	Provider model.Provider
	UserID   string
	Email    string
	// Port is where the local callback server listens. Defaults to 8484.
	Port int
}

// ConnectInteractive runs the OAuth2 authorization-code flow in a browser,
// waits for the local callback, and stores the resulting account.
func (r *Resolver) ConnectInteractive(ctx context.Context, opts ConnectOptions) (*model.SyncAccount, error) {
	oauthConfig, err := r.oauthConfig(opts.Provider)
	if err != nil {
		return nil, err
	}

	port := opts.Port
	if port == 0 {
		port = 8484
	}
	oauthConfig.RedirectURL = fmt.Sprintf("http://localhost:%d/callback", port)

	// Start local server to receive the callback
	codeChan := make(chan string, 1)
	errorChan := make(chan error, 1)

	mux := http.NewServeMux()
	mux.HandleFunc("/callback", func(w http.ResponseWriter, req *http.Request) {
		code := req.URL.Query().Get("code")
		if code == "" {
			errorChan <- fmt.Errorf("no authorization code received")
			_, _ = fmt.Fprintf(w, `<html><body>
				<h1>Authentication Failed</h1>
				<p>No authorization code received. Please try again.</p>
				<script>window.setTimeout(function(){window.close();}, 3000);</script>
			</body></html>`)
			return
		}

		codeChan <- code
		_, _ = fmt.Fprintf(w, `<html><body>
			<h1>Authentication Successful!</h1>
			<p>You can close this window and return to the terminal.</p>
			<script>window.setTimeout(function(){window.close();}, 3000);</script>
		</body></html>`)
	})

	server := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}

	go func() {
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			errorChan <- fmt.Errorf("failed to start callback server: %w", err)
		}
	}()

	// Offline access so the provider issues a refresh token
	authURL := oauthConfig.AuthCodeURL("state-token", oauth2.AccessTypeOffline, oauth2.ApprovalForce)

	slog.Info("🔐 Mailbox authentication required", "provider", opts.Provider)
	slog.Info("Please visit this URL to authenticate", "url", authURL)
	slog.Info("Waiting for authentication...")

	var authCode string
	select {
	case authCode = <-codeChan:
		slog.Info("Received authorization code")
	case err := <-errorChan:
		_ = server.Shutdown(ctx)
		return nil, err
	case <-ctx.Done():
		_ = server.Shutdown(context.Background())
		return nil, ctx.Err()
	case <-time.After(5 * time.Minute):
		_ = server.Shutdown(ctx)
		return nil, fmt.Errorf("authentication timeout - no response received within 5 minutes")
	}

	if err := server.Shutdown(ctx); err != nil {
		slog.Warn("Error shutting down callback server", "error", err)
	}

	token, err := oauthConfig.Exchange(ctx, authCode)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange authorization code: %w", err)
	}
	if token.RefreshToken == "" {
		return nil, fmt.Errorf("provider did not issue a refresh token; revoke access and reconnect")
	}

	account := &model.SyncAccount{
		ID:           uuid.New().String(),
		UserID:       opts.UserID,
		Provider:     opts.Provider,
		Email:        opts.Email,
		RefreshToken: token.RefreshToken,
		AccessToken:  token.AccessToken,
		TokenExpiry:  token.Expiry,
		SyncEnabled:  true,
	}

	if err := r.storage.CreateSyncAccount(ctx, account); err != nil {
		return nil, fmt.Errorf("failed to store account: %w", err)
	}
	r.remember(account.ID, token.AccessToken, token.Expiry)

	slog.Info("Account connected",
		"account_id", account.ID,
		"provider", account.Provider,
		"email", account.Email)

	return account, nil
}
