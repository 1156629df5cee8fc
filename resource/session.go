package resource

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

// ErrNoRefreshToken is returned by Refresh when the session holds no refresh token.
var ErrNoRefreshToken = errors.New("resource: no refresh token")

// Session supplies credentials and request context to the client.
type Session interface {
	AccessToken() string
	Tenant() string
	Culture() string
	IsAuthenticated() bool
	// Refresh obtains a new access token. stale is the token a failed request
	// used; when the session already moved past it Refresh returns nil at once.
	Refresh(ctx context.Context, stale string) error
}

// TokenSession keeps OAuth tokens in memory and refreshes them with the
// refresh_token grant.
type TokenSession struct {
	// refreshMu serializes token requests; mu only guards the fields and is
	// never held across a round trip.
	refreshMu sync.Mutex

	mu           sync.Mutex
	accessToken  string
	refreshToken string
	tenant       string
	culture      string

	tokenURL  string
	clientID  string
	http      *http.Client
	now       func() time.Time
	logger    zerolog.Logger
	metrics   *Metrics
	onExpired func()
}

// SessionOption configures a TokenSession.
type SessionOption func(*TokenSession)

// WithSessionHTTPClient sets the client used for token requests.
func WithSessionHTTPClient(c *http.Client) SessionOption {
	return func(s *TokenSession) { s.http = c }
}

// WithSessionLogger sets the session logger.
func WithSessionLogger(logger zerolog.Logger) SessionOption {
	return func(s *TokenSession) { s.logger = logger }
}

// WithSessionMetrics counts refresh outcomes.
func WithSessionMetrics(m *Metrics) SessionOption {
	return func(s *TokenSession) { s.metrics = m }
}

// WithSessionClock replaces time.Now for expiry checks.
func WithSessionClock(now func() time.Time) SessionOption {
	return func(s *TokenSession) { s.now = now }
}

// WithOnExpired registers a callback run when a refresh is rejected or a
// request is forbidden and the user has to sign in again.
func WithOnExpired(fn func()) SessionOption {
	return func(s *TokenSession) { s.onExpired = fn }
}

// NewTokenSession creates an empty session for the backend in cfg.
func NewTokenSession(cfg Config, opts ...SessionOption) *TokenSession {
	s := &TokenSession{
		culture:  cfg.Culture,
		tokenURL: strings.TrimSuffix(cfg.BaseURL, "/") + cfg.TokenPath,
		clientID: cfg.ClientID,
		now:      time.Now,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.http == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		s.http = &http.Client{Timeout: timeout}
	}
	return s
}

// SetTokens stores a token pair.
func (s *TokenSession) SetTokens(access, refresh string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accessToken = access
	s.refreshToken = refresh
}

// SetTenant selects the tenant sent with every request. Empty means host.
func (s *TokenSession) SetTenant(tenant string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tenant = tenant
}

// SetCulture sets the Accept-Language value.
func (s *TokenSession) SetCulture(culture string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.culture = culture
}

// Clear drops both tokens.
func (s *TokenSession) Clear() {
	s.SetTokens("", "")
}

func (s *TokenSession) AccessToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accessToken
}

func (s *TokenSession) Tenant() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tenant
}

func (s *TokenSession) Culture() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.culture
}

// ExpiresAt returns the exp claim of the access token, if it is a JWT carrying one.
func (s *TokenSession) ExpiresAt() (time.Time, bool) {
	return tokenExpiry(s.AccessToken())
}

// IsAuthenticated reports whether an access token is held and has not
// expired. Opaque tokens carry no expiry and count as valid until the
// backend rejects them.
func (s *TokenSession) IsAuthenticated() bool {
	token := s.AccessToken()
	if token == "" {
		return false
	}
	exp, ok := tokenExpiry(token)
	if !ok {
		return true
	}
	return s.now().Before(exp)
}

func tokenExpiry(token string) (time.Time, bool) {
	if token == "" {
		return time.Time{}, false
	}

	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
}

// Refresh implements Session. Concurrent callers holding the same stale
// token share one token request.
func (s *TokenSession) Refresh(ctx context.Context, stale string) error {
	expired, err := s.refresh(ctx, stale)
	if expired && s.onExpired != nil {
		s.onExpired()
	}
	return err
}

func (s *TokenSession) refresh(ctx context.Context, stale string) (bool, error) {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	s.mu.Lock()
	access, refreshToken := s.accessToken, s.refreshToken
	s.mu.Unlock()

	if access != "" && access != stale {
		return false, nil
	}
	if refreshToken == "" {
		s.countRefresh("missing")
		return true, ErrNoRefreshToken
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	if s.clientID != "" {
		form.Set("client_id", s.clientID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		s.countRefresh("error")
		return false, &TransportError{Method: req.Method, URL: s.tokenURL, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		s.countRefresh("error")
		return false, &TransportError{Method: req.Method, URL: s.tokenURL, Err: err}
	}

	switch {
	case resp.StatusCode >= http.StatusInternalServerError:
		s.countRefresh("error")
		return false, &ServerError{Method: req.Method, URL: s.tokenURL, Status: resp.StatusCode, Body: body}
	case resp.StatusCode >= http.StatusBadRequest:
		s.countRefresh("rejected")
		s.mu.Lock()
		// tokens set while the request ran are kept
		if s.refreshToken == refreshToken {
			s.accessToken, s.refreshToken = "", ""
		}
		s.mu.Unlock()
		s.logger.Warn().Int("status", resp.StatusCode).Msg("refresh token rejected, session cleared")
		return true, &ClientError{Method: req.Method, URL: s.tokenURL, Status: resp.StatusCode, Body: body}
	}

	var tokens tokenResponse
	if err := json.Unmarshal(body, &tokens); err != nil || tokens.AccessToken == "" {
		s.countRefresh("error")
		if err == nil {
			err = errors.New("token response without access_token")
		}
		return false, &DecodeError{Method: req.Method, URL: s.tokenURL, Err: err}
	}

	s.mu.Lock()
	if s.refreshToken == refreshToken {
		s.accessToken = tokens.AccessToken
		if tokens.RefreshToken != "" {
			s.refreshToken = tokens.RefreshToken
		}
	}
	s.mu.Unlock()

	s.countRefresh("success")
	s.logger.Debug().Msg("access token refreshed")
	return false, nil
}

// Forbidden implements ForbiddenHandler. The tokens are kept; the expiry
// callback runs so the caller can ask for a new sign in.
func (s *TokenSession) Forbidden() {
	if s.onExpired != nil {
		s.onExpired()
	}
}

func (s *TokenSession) countRefresh(outcome string) {
	if s.metrics != nil {
		s.metrics.TokenRefreshes.WithLabelValues(outcome).Inc()
	}
}
