package zns

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/ignite/zns-dispatch/internal/config"
	"github.com/ignite/zns-dispatch/internal/pkg/httpretry"
	"github.com/ignite/zns-dispatch/internal/pkg/logger"
)

// ErrTokenRefresh wraps every failure of the OA token endpoint.
var ErrTokenRefresh = errors.New("zns: access token refresh failed")

// TokenStore persists the refresh token. Zalo refresh tokens are single-use,
// so the rotated token has to survive restarts.
type TokenStore interface {
	Load(ctx context.Context) (string, error)
	Save(ctx context.Context, refreshToken string) error
}

// RefreshTokenSource exchanges the OA refresh token for a new access token.
// Wrap it in oauth2.ReuseTokenSource to only refresh when the token expires.
type RefreshTokenSource struct {
	endpoint   string
	appID      string
	secretKey  string
	httpClient httpretry.HTTPDoer
	store      TokenStore
	timeout    time.Duration
	now        func() time.Time

	mu           sync.Mutex
	refreshToken string
}

// NewRefreshTokenSource builds a source from the ZNS config. store may be nil.
func NewRefreshTokenSource(cfg config.ZNSConfig, store TokenStore) *RefreshTokenSource {
	return &RefreshTokenSource{
		endpoint:     cfg.OAuthURL,
		appID:        cfg.AppID,
		secretKey:    cfg.SecretKey,
		refreshToken: cfg.RefreshToken,
		store:        store,
		timeout:      cfg.Timeout(),
		httpClient:   httpretry.NewRetryClient(&http.Client{Timeout: cfg.Timeout()}, 2),
		now:          time.Now,
	}
}

// WithHTTPClient replaces the HTTP client used for refreshes.
func (s *RefreshTokenSource) WithHTTPClient(doer httpretry.HTTPDoer) *RefreshTokenSource {
	s.httpClient = doer
	return s
}

// Token implements oauth2.TokenSource.
func (s *RefreshTokenSource) Token() (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	refresh := s.refreshToken
	if s.store != nil {
		stored, err := s.store.Load(ctx)
		if err != nil {
			logger.Warn("zns: loading stored refresh token failed", "error", err)
		} else if stored != "" {
			refresh = stored
		}
	}
	if refresh == "" {
		return nil, fmt.Errorf("%w: no refresh token", ErrTokenRefresh)
	}

	tr, err := s.exchange(ctx, refresh)
	if err != nil {
		return nil, err
	}

	if tr.RefreshToken != "" {
		s.refreshToken = tr.RefreshToken
		if s.store != nil {
			if err := s.store.Save(ctx, tr.RefreshToken); err != nil {
				logger.Error("zns: persisting rotated refresh token failed", "error", err)
			}
		}
	}

	tok := &oauth2.Token{
		AccessToken:  tr.AccessToken,
		TokenType:    "Bearer",
		RefreshToken: tr.RefreshToken,
	}
	if tr.ExpiresIn > 0 {
		tok.Expiry = s.now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	}
	logger.Info("zns: access token refreshed", "expires_at", tok.Expiry.Format(time.RFC3339))
	return tok, nil
}

func (s *RefreshTokenSource) exchange(ctx context.Context, refresh string) (*tokenResponse, error) {
	form := url.Values{}
	form.Set("refresh_token", refresh)
	form.Set("app_id", s.appID)
	form.Set("grant_type", "refresh_token")
	encoded := form.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, strings.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("%w: creating request: %v", ErrTokenRefresh, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("secret_key", s.secretKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenRefresh, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", ErrTokenRefresh, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: status %d: %s", ErrTokenRefresh, resp.StatusCode, truncate(string(body), 200))
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, fmt.Errorf("%w: parsing response: %v", ErrTokenRefresh, err)
	}
	if tr.Error != 0 || tr.AccessToken == "" {
		reason := tr.ErrorDescription
		if reason == "" {
			reason = tr.ErrorReason
		}
		if reason == "" {
			reason = tr.Message
		}
		return nil, fmt.Errorf("%w: error %d: %s", ErrTokenRefresh, tr.Error, reason)
	}
	return &tr, nil
}

// NewTokenSource picks the token source for cfg: refreshing when refresh
// credentials exist, otherwise the static access token.
func NewTokenSource(cfg config.ZNSConfig, store TokenStore) (oauth2.TokenSource, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if !cfg.CanRefresh() {
		return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.AccessToken}), nil
	}

	// a configured access token has no known expiry, so the first call refreshes
	return oauth2.ReuseTokenSource(nil, NewRefreshTokenSource(cfg, store)), nil
}
