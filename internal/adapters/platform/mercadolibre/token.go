package mercadolibre

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"facturacl/ms_facturacion_marketplace/internal/infrastructure/cache"
)

// PersistTokensFunc stores a rotated token pair. Mercado Libre invalidates
// the old refresh token on every refresh, so losing the new pair means the
// account has to re-authorize.
type PersistTokensFunc func(ctx context.Context, accessToken, refreshToken string) error

// TokenSource hands out a valid access token for one account, refreshing
// through the OAuth endpoint when the cached token expires or gets rejected.
type TokenSource struct {
	baseURL      string
	clientID     string
	clientSecret string
	httpClient   HTTPClient
	log          *slog.Logger
	persist      PersistTokensFunc

	mu           sync.Mutex
	accessToken  string
	refreshToken string
	cache        *cache.TokenCache
}

func NewTokenSource(baseURL, clientID, clientSecret, accessToken, refreshToken string, httpClient HTTPClient, persist PersistTokensFunc, log *slog.Logger) *TokenSource {
	return &TokenSource{
		baseURL:      strings.TrimRight(baseURL, "/"),
		clientID:     clientID,
		clientSecret: clientSecret,
		accessToken:  accessToken,
		refreshToken: refreshToken,
		httpClient:   httpClient,
		persist:      persist,
		log:          log,
		cache:        cache.NewTokenCache(),
	}
}

// Token returns the current access token. The stored token is used as-is
// until a call rejects it; a 401 triggers Refresh through the client.
func (ts *TokenSource) Token(ctx context.Context) (string, error) {
	if token, ok := ts.cache.Get(); ok {
		return token, nil
	}

	ts.mu.Lock()
	current := ts.accessToken
	ts.mu.Unlock()

	if current != "" {
		return current, nil
	}
	return ts.Refresh(ctx)
}

type refreshResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
}

// Refresh exchanges the refresh token for a new token pair and persists the
// rotation. Safe for concurrent use; only one refresh runs at a time.
func (ts *TokenSource) Refresh(ctx context.Context) (string, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	// Another caller may have refreshed while this one waited on the lock.
	if token, ok := ts.cache.Get(); ok {
		return token, nil
	}

	if ts.refreshToken == "" {
		return "", fmt.Errorf("no refresh token available")
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("client_id", ts.clientID)
	form.Set("client_secret", ts.clientSecret)
	form.Set("refresh_token", ts.refreshToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ts.baseURL+"/oauth/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("create refresh request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := ts.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("execute refresh request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read refresh response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token refresh returned status %d: %s", resp.StatusCode, truncate(string(body), 256))
	}

	var refreshed refreshResponse
	if err := json.Unmarshal(body, &refreshed); err != nil {
		return "", fmt.Errorf("decode refresh response: %w", err)
	}
	if refreshed.AccessToken == "" {
		return "", fmt.Errorf("token refresh returned empty access token")
	}

	ts.accessToken = refreshed.AccessToken
	if refreshed.RefreshToken != "" {
		ts.refreshToken = refreshed.RefreshToken
	}

	ttl := time.Duration(refreshed.ExpiresIn) * time.Second
	if ttl > time.Minute {
		// Renew a minute early to avoid racing the expiry.
		ttl -= time.Minute
	}
	if ttl > 0 {
		ts.cache.Set(refreshed.AccessToken, ttl)
	}

	if ts.persist != nil {
		if err := ts.persist(ctx, ts.accessToken, ts.refreshToken); err != nil {
			ts.log.Error("failed to persist rotated mercado libre tokens", "error", err)
		}
	}

	ts.log.Info("mercado libre access token refreshed", "expires_in", refreshed.ExpiresIn)
	return ts.accessToken, nil
}

// Invalidate drops the cached token so the next call refreshes. Used after
// a 401 from the API.
func (ts *TokenSource) Invalidate() {
	ts.cache.Clear()
	ts.mu.Lock()
	ts.accessToken = ""
	ts.mu.Unlock()
}
