package auth

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// cognitoStub fakes the identity provider. It records the auth flows it
// sees and can be told to reject refresh attempts.
type cognitoStub struct {
	mu            sync.Mutex
	flows         []string
	failRefresh   bool
	expiresIn     int
	omitExpiresIn bool
}

func (s *cognitoStub) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			AuthFlow       string            `json:"AuthFlow"`
			AuthParameters map[string]string `json:"AuthParameters"`
			ClientID       string            `json:"ClientId"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "6r9tpojvgvkci5trla0ip14mon", req.ClientID)

		s.mu.Lock()
		s.flows = append(s.flows, req.AuthFlow)
		failRefresh := s.failRefresh
		s.mu.Unlock()

		if req.AuthFlow == "REFRESH_TOKEN_AUTH" && failRefresh {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		result := map[string]any{
			"AccessToken":  "access-" + req.AuthFlow,
			"IdToken":      "id-" + req.AuthFlow,
			"RefreshToken": "refresh-token",
		}
		if !s.omitExpiresIn {
			if s.expiresIn > 0 {
				result["ExpiresIn"] = s.expiresIn
			} else {
				result["ExpiresIn"] = 3600
			}
		}
		// The real provider labels this x-amz-json; clients must not
		// trust the content type.
		w.Header().Set("Content-Type", "application/x-amz-json-1.1")
		json.NewEncoder(w).Encode(map[string]any{"AuthenticationResult": result})
	}
}

func (s *cognitoStub) seenFlows() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.flows...)
}

func newTestManager(t *testing.T, stub *cognitoStub) *TokenManager {
	srv := httptest.NewServer(stub.handler(t))
	t.Cleanup(srv.Close)

	m := NewTokenManager("hunter", "secret", testLogger())
	m.SetEndpoint(srv.URL)
	return m
}

func TestAuthenticate(t *testing.T) {
	stub := &cognitoStub{}
	m := newTestManager(t, stub)

	require.NoError(t, m.Authenticate(context.Background()))
	assert.Equal(t, "access-USER_PASSWORD_AUTH", m.AccessToken())
	assert.Equal(t, "id-USER_PASSWORD_AUTH", m.IDToken())
	assert.Equal(t, []string{"USER_PASSWORD_AUTH"}, stub.seenFlows())
}

func TestAuthenticateDefaultExpiry(t *testing.T) {
	stub := &cognitoStub{omitExpiresIn: true}
	m := newTestManager(t, stub)

	start := time.Now()
	m.now = func() time.Time { return start }

	require.NoError(t, m.Authenticate(context.Background()))
	assert.Equal(t, start.Add(defaultExpiresIn*time.Second), m.expiry)
}

func TestEnsureValidFreshTokenIsNoOp(t *testing.T) {
	stub := &cognitoStub{expiresIn: 3600}
	m := newTestManager(t, stub)

	require.NoError(t, m.EnsureValid(context.Background()))
	require.NoError(t, m.EnsureValid(context.Background()))

	// One authenticate, no refresh: the token is well outside the buffer.
	assert.Equal(t, []string{"USER_PASSWORD_AUTH"}, stub.seenFlows())
}

func TestEnsureValidRefreshesInsideBuffer(t *testing.T) {
	stub := &cognitoStub{expiresIn: 3600}
	m := newTestManager(t, stub)

	require.NoError(t, m.Authenticate(context.Background()))

	// Jump to two minutes before expiry, inside the five minute buffer.
	expiry := m.expiry
	m.now = func() time.Time { return expiry.Add(-2 * time.Minute) }

	require.NoError(t, m.EnsureValid(context.Background()))
	assert.Equal(t, []string{"USER_PASSWORD_AUTH", "REFRESH_TOKEN_AUTH"}, stub.seenFlows())
	assert.Equal(t, "access-REFRESH_TOKEN_AUTH", m.AccessToken())
}

func TestEnsureValidEscalatesFailedRefresh(t *testing.T) {
	stub := &cognitoStub{expiresIn: 3600}
	m := newTestManager(t, stub)

	require.NoError(t, m.Authenticate(context.Background()))

	stub.mu.Lock()
	stub.failRefresh = true
	stub.mu.Unlock()

	expiry := m.expiry
	m.now = func() time.Time { return expiry.Add(-time.Minute) }

	require.NoError(t, m.EnsureValid(context.Background()))
	assert.Equal(t,
		[]string{"USER_PASSWORD_AUTH", "REFRESH_TOKEN_AUTH", "USER_PASSWORD_AUTH"},
		stub.seenFlows())
	assert.Equal(t, "access-USER_PASSWORD_AUTH", m.AccessToken())
}

func TestRefreshWithoutTokenFails(t *testing.T) {
	m := NewTokenManager("hunter", "secret", testLogger())
	assert.Error(t, m.Refresh(context.Background()))
}

func TestAuthenticateRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	m := NewTokenManager("hunter", "wrong", testLogger())
	m.SetEndpoint(srv.URL)

	err := m.Authenticate(context.Background())
	assert.ErrorIs(t, err, ErrAuthenticationFailed)
}
