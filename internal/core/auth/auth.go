// Package auth owns the Cognito credential exchange and token refresh for
// the Reveal cloud API. Token state lives in memory only and is re-derived
// from credentials on every process start.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	cognitoURL      = "https://cognito-idp.us-east-1.amazonaws.com/"
	cognitoClientID = "6r9tpojvgvkci5trla0ip14mon"

	// Tokens are refreshed once they are within this buffer of expiry.
	expiryBuffer = 5 * time.Minute

	// Cognito omits ExpiresIn on some responses; the observed default is 12h.
	defaultExpiresIn = 43200
)

// ErrAuthenticationFailed means the identity provider rejected the
// credentials or returned no usable token payload.
var ErrAuthenticationFailed = errors.New("auth: authentication failed")

// AccountResolver looks up the vendor account id once tokens are available.
// Implemented by the reveal client; the lookup is best-effort.
type AccountResolver interface {
	ResolveAccountID(ctx context.Context) (string, error)
}

type authRequest struct {
	AuthFlow       string            `json:"AuthFlow"`
	AuthParameters map[string]string `json:"AuthParameters"`
	ClientID       string            `json:"ClientId"`
}

type tokenSet struct {
	AccessToken  string `json:"AccessToken"`
	IDToken      string `json:"IdToken"`
	RefreshToken string `json:"RefreshToken"`
	ExpiresIn    int    `json:"ExpiresIn"`
}

type authResponse struct {
	AuthenticationResult *tokenSet `json:"AuthenticationResult"`
}

// TokenManager exchanges credentials for Cognito tokens and keeps them
// fresh. One instance is owned by exactly one reveal client.
type TokenManager struct {
	username string
	password string
	http     *resty.Client
	log      *slog.Logger

	resolver AccountResolver

	mu           sync.Mutex
	accessToken  string
	idToken      string
	refreshToken string
	expiry       time.Time
	accountID    string

	now func() time.Time // overridable in tests
}

// NewTokenManager creates a token manager for the given credentials.
func NewTokenManager(username, password string, log *slog.Logger) *TokenManager {
	return &TokenManager{
		username: username,
		password: password,
		http:     resty.New().SetBaseURL(cognitoURL).SetTimeout(30 * time.Second),
		log:      log,
		now:      time.Now,
	}
}

// SetAccountResolver wires the post-authentication account lookup. Optional;
// resolution failures are logged and otherwise ignored.
func (m *TokenManager) SetAccountResolver(r AccountResolver) {
	m.resolver = r
}

// SetEndpoint overrides the identity provider URL. Used by tests.
func (m *TokenManager) SetEndpoint(url string) {
	m.http.SetBaseURL(url)
}

// Authenticate performs the password-grant flow and replaces the token set
// wholesale. On success it also resolves the account id, best-effort.
func (m *TokenManager) Authenticate(ctx context.Context) error {
	body := authRequest{
		AuthFlow: "USER_PASSWORD_AUTH",
		AuthParameters: map[string]string{
			"USERNAME": m.username,
			"PASSWORD": m.password,
		},
		ClientID: cognitoClientID,
	}

	result, err := m.initiateAuth(ctx, body)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.accessToken = result.AccessToken
	m.idToken = result.IDToken
	m.refreshToken = result.RefreshToken
	m.expiry = m.now().Add(time.Duration(expiresIn(result.ExpiresIn)) * time.Second)
	m.mu.Unlock()

	m.log.Info("authenticated with identity provider")

	if m.resolver != nil {
		if id, err := m.resolver.ResolveAccountID(ctx); err != nil {
			m.log.Warn("account lookup failed", "error", err)
		} else if id != "" {
			m.mu.Lock()
			m.accountID = id
			m.mu.Unlock()
			m.log.Info("resolved account id", "account_id", id)
		}
	}
	return nil
}

// Refresh exchanges the stored refresh token for a new access token. It
// reports failure as an error and never falls back to a full authenticate;
// EnsureValid owns that escalation.
func (m *TokenManager) Refresh(ctx context.Context) error {
	m.mu.Lock()
	refresh := m.refreshToken
	m.mu.Unlock()

	if refresh == "" {
		return fmt.Errorf("auth: refresh: no refresh token")
	}

	body := authRequest{
		AuthFlow: "REFRESH_TOKEN_AUTH",
		AuthParameters: map[string]string{
			"REFRESH_TOKEN": refresh,
		},
		ClientID: cognitoClientID,
	}

	result, err := m.initiateAuth(ctx, body)
	if err != nil {
		return fmt.Errorf("auth: refresh: %w", err)
	}

	m.mu.Lock()
	m.accessToken = result.AccessToken
	m.idToken = result.IDToken
	// Cognito does not rotate the refresh token on this flow.
	m.expiry = m.now().Add(time.Duration(expiresIn(result.ExpiresIn)) * time.Second)
	m.mu.Unlock()

	m.log.Info("refreshed access token")
	return nil
}

// EnsureValid guarantees a usable access token: authenticates when none
// exists, refreshes inside the expiry buffer, and escalates a failed
// refresh to a full authenticate. Outside the buffer it is a no-op.
func (m *TokenManager) EnsureValid(ctx context.Context) error {
	m.mu.Lock()
	access := m.accessToken
	refresh := m.refreshToken
	expiry := m.expiry
	m.mu.Unlock()

	if access == "" || expiry.IsZero() {
		return m.Authenticate(ctx)
	}

	if m.now().Before(expiry.Add(-expiryBuffer)) {
		return nil
	}

	if refresh == "" {
		return m.Authenticate(ctx)
	}

	if err := m.Refresh(ctx); err != nil {
		m.log.Warn("token refresh failed, re-authenticating", "error", err)
		return m.Authenticate(ctx)
	}
	return nil
}

// AccessToken returns the current access token. Callers must EnsureValid
// immediately before each use.
func (m *TokenManager) AccessToken() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.accessToken
}

// IDToken returns the current id token. The vendor's stats endpoint
// authorizes with this instead of the access token.
func (m *TokenManager) IDToken() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.idToken
}

// AccountID returns the resolved account id, or empty if the lookup failed.
func (m *TokenManager) AccountID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.accountID
}

func (m *TokenManager) initiateAuth(ctx context.Context, body authRequest) (*tokenSet, error) {
	resp, err := m.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/x-amz-json-1.1").
		SetHeader("X-Amz-Target", "AWSCognitoIdentityProviderService.InitiateAuth").
		SetHeader("X-Amz-User-Agent", "aws-amplify/6.8.2 auth/4 framework/1").
		SetHeader("User-Agent", browserUserAgent).
		SetHeader("Origin", vendorOrigin).
		SetHeader("Referer", vendorOrigin+"/").
		SetBody(body).
		Post("/")
	if err != nil {
		return nil, fmt.Errorf("auth: initiate auth: %w", err)
	}

	if resp.StatusCode() != 200 {
		m.log.Error("identity provider rejected request", "status", resp.StatusCode())
		return nil, ErrAuthenticationFailed
	}

	// The provider's content-type is unreliable; always parse the raw body.
	var parsed authResponse
	if err := json.Unmarshal(resp.Body(), &parsed); err != nil {
		return nil, fmt.Errorf("auth: parse response: %w", err)
	}
	if parsed.AuthenticationResult == nil || parsed.AuthenticationResult.AccessToken == "" {
		return nil, ErrAuthenticationFailed
	}
	return parsed.AuthenticationResult, nil
}

func expiresIn(v int) int {
	if v <= 0 {
		return defaultExpiresIn
	}
	return v
}

const (
	vendorOrigin     = "https://account.revealcellcam.com"
	browserUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36"
)
