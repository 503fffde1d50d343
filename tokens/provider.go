package tokens

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"golang.org/x/oauth2"
)

// Provider performs the provider-specific token refresh for one credential
// family (Google, Slack, Atlassian, ...).
type Provider interface {
	Refresh(ctx context.Context, current Credential) (Credential, error)
}

// TerminalError marks a refresh failure that must not be retried, such as
// a revoked grant. The service marks the credential invalid and emits a
// user-visible event.
type TerminalError struct {
	Reason string
	Err    error
}

// Error implements error.
func (e *TerminalError) Error() string {
	return fmt.Sprintf("terminal refresh failure (%s): %v", e.Reason, e.Err)
}

// Unwrap exposes the underlying error.
func (e *TerminalError) Unwrap() error { return e.Err }

// IsTerminal reports whether err is a non-retryable refresh failure.
func IsTerminal(err error) bool {
	var te *TerminalError
	return errors.As(err, &te)
}

// OAuthProvider refreshes credentials through a standard OAuth2 token
// endpoint.
type OAuthProvider struct {
	cfg *oauth2.Config
}

// NewOAuthProvider builds a provider from the app's OAuth configuration.
func NewOAuthProvider(clientID, clientSecret, tokenURL string, scopes []string) *OAuthProvider {
	return &OAuthProvider{cfg: &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: tokenURL},
		Scopes:       scopes,
	}}
}

// Refresh exchanges the refresh token for fresh token material and
// classifies failures as retryable or terminal.
func (p *OAuthProvider) Refresh(ctx context.Context, current Credential) (Credential, error) {
	if current.RefreshToken == "" {
		return Credential{}, &TerminalError{Reason: "no refresh token", Err: errors.New("credential has no refresh token")}
	}

	src := p.cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: current.RefreshToken})
	tok, err := src.Token()
	if err != nil {
		return Credential{}, classifyRefreshError(err)
	}

	next := Credential{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
		TokenType:    tok.TokenType,
		Status:       StatusActive,
	}
	// Providers that do not rotate refresh tokens omit them from the
	// response; keep the current one.
	if next.RefreshToken == "" {
		next.RefreshToken = current.RefreshToken
	}
	return next, nil
}

// classifyRefreshError maps transport and OAuth errors onto the retry
// policy: invalid_grant and revocation are terminal, transient network and
// 5xx/429 failures are retryable.
func classifyRefreshError(err error) error {
	var retrieve *oauth2.RetrieveError
	if errors.As(err, &retrieve) {
		if retrieve.ErrorCode == "invalid_grant" {
			return &TerminalError{Reason: "invalid_grant", Err: err}
		}
		if retrieve.Response != nil {
			switch code := retrieve.Response.StatusCode; {
			case code == http.StatusUnauthorized || code == http.StatusForbidden:
				return &TerminalError{Reason: "revoked", Err: err}
			case code == http.StatusTooManyRequests || code >= 500:
				return err // retryable
			}
		}
		if retrieve.ErrorCode != "" {
			return &TerminalError{Reason: retrieve.ErrorCode, Err: err}
		}
		return err
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return err // retryable
	}
	return err
}
