// Package tokens owns the OAuth credential lifecycle: it tracks expiry,
// proactively refreshes the access token before it lapses, and persists
// every mutation so the store stays the source of truth across restarts.
package tokens

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/courtpulse/bookingsync/internal/store"
)

// DefaultRefreshMargin is how long before expiry the refresh fires.
const DefaultRefreshMargin = 5 * time.Minute

const googleTokenInfoURL = "https://oauth2.googleapis.com/tokeninfo"

// ErrNoRefreshToken is returned when a refresh is needed but no refresh
// token has ever been stored. Recovery requires re-authorization out of
// band; the manager does not retry on its own.
var ErrNoRefreshToken = errors.New("no refresh token available")

// Store is the persistence the manager needs.
type Store interface {
	LoadSyncState(ctx context.Context) (*store.SyncState, error)
	SaveTokens(ctx context.Context, tok store.Tokens) error
}

// refreshFunc exchanges a refresh token for a fresh credential pair.
type refreshFunc func(ctx context.Context, refreshToken string) (store.Tokens, error)

// Manager keeps a single credential pair valid. It holds at most one
// pending refresh timer; every Save cancels the previous one before
// scheduling the next.
type Manager struct {
	store  Store
	logger *slog.Logger
	margin time.Duration

	refresh       refreshFunc
	introspectURL string
	httpc         *http.Client
	now           func() time.Time

	mu      sync.Mutex
	current store.Tokens
	timer   *time.Timer
}

// NewManager creates a token manager backed by st, refreshing through the
// given OAuth client config. A non-positive margin falls back to the
// default.
func NewManager(cfg *oauth2.Config, st Store, margin time.Duration, logger *slog.Logger) *Manager {
	if margin <= 0 {
		margin = DefaultRefreshMargin
	}
	return &Manager{
		store:         st,
		logger:        logger,
		margin:        margin,
		refresh:       oauthRefresher(cfg),
		introspectURL: googleTokenInfoURL,
		httpc:         &http.Client{Timeout: 10 * time.Second},
		now:           time.Now,
	}
}

func oauthRefresher(cfg *oauth2.Config) refreshFunc {
	return func(ctx context.Context, refreshToken string) (store.Tokens, error) {
		src := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
		tok, err := src.Token()
		if err != nil {
			return store.Tokens{}, fmt.Errorf("refresh token exchange: %w", err)
		}
		return store.Tokens{
			AccessToken:  tok.AccessToken,
			RefreshToken: tok.RefreshToken,
			Expiry:       tok.Expiry,
		}, nil
	}
}

// Bootstrap loads the persisted credential, if any, and hands it back to
// Save so the refresh timer is armed from process start.
func (m *Manager) Bootstrap(ctx context.Context) error {
	state, err := m.store.LoadSyncState(ctx)
	if err != nil {
		return fmt.Errorf("load sync state: %w", err)
	}
	if !state.Tokens.Valid() {
		m.logger.Info("no previous credential found, starting fresh")
		return nil
	}
	m.logger.Info("loaded credential from store")
	return m.Save(ctx, state.Tokens)
}

// Save validates the expiry of tok, persists it, and schedules exactly one
// pending refresh. A credential with no known expiry is introspected; if
// introspection fails the manager falls back to an unconditional refresh.
func (m *Manager) Save(ctx context.Context, tok store.Tokens) error {
	if tok.Expiry.IsZero() {
		seconds, err := m.introspect(ctx, tok.AccessToken)
		if err != nil {
			// Introspection failure is treated as "token is bad" even
			// when the endpoint itself may have been unreachable.
			m.logger.Warn("token introspection failed, refreshing instead", "error", err)
			return m.Refresh(ctx)
		}
		tok.Expiry = m.now().Add(time.Duration(seconds) * time.Second)
	}

	m.mu.Lock()
	if tok.RefreshToken == "" {
		tok.RefreshToken = m.current.RefreshToken
	}
	m.current = tok
	m.mu.Unlock()

	if err := m.store.SaveTokens(ctx, tok); err != nil {
		return fmt.Errorf("persist tokens: %w", err)
	}

	m.logger.Info("access token saved",
		"expires_in", tok.Expiry.Sub(m.now()).Round(time.Second).String())

	m.scheduleRefresh(tok.Expiry)
	return nil
}

// EnsureValid returns a credential guaranteed to outlive the refresh
// margin, loading from the store or refreshing as needed.
func (m *Manager) EnsureValid(ctx context.Context) (store.Tokens, error) {
	m.mu.Lock()
	cur := m.current
	m.mu.Unlock()

	if cur.AccessToken != "" && m.now().Before(cur.Expiry.Add(-m.margin)) {
		return cur, nil
	}

	state, err := m.store.LoadSyncState(ctx)
	if err != nil {
		return store.Tokens{}, fmt.Errorf("load sync state: %w", err)
	}
	if !state.Tokens.Valid() {
		return store.Tokens{}, fmt.Errorf("no credential in store, authorize first")
	}

	tok := state.Tokens
	if !tok.Expiry.IsZero() && m.now().Before(tok.Expiry.Add(-m.margin)) {
		m.mu.Lock()
		m.current = tok
		m.mu.Unlock()
		m.scheduleRefresh(tok.Expiry)
		return tok, nil
	}

	if tok.Expiry.IsZero() {
		// Remaining lifetime unknown; Save introspects and falls back to
		// refresh when that fails.
		if err := m.Save(ctx, tok); err != nil {
			return store.Tokens{}, err
		}
	} else if err := m.Refresh(ctx); err != nil {
		return store.Tokens{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current, nil
}

// Refresh exchanges the stored refresh token for a new access token and
// recurses into Save. A missing refresh token is fatal for this cycle
// only; the next notification retries acquisition independently.
func (m *Manager) Refresh(ctx context.Context) error {
	m.mu.Lock()
	refreshToken := m.current.RefreshToken
	m.mu.Unlock()

	if refreshToken == "" {
		state, err := m.store.LoadSyncState(ctx)
		if err != nil {
			m.logger.Error("cannot load credential for refresh", "error", err)
			return fmt.Errorf("load sync state: %w", err)
		}
		refreshToken = state.Tokens.RefreshToken
	}
	if refreshToken == "" {
		m.logger.Error("no refresh token in store, re-authorization required")
		return ErrNoRefreshToken
	}

	tok, err := m.refresh(ctx, refreshToken)
	if err != nil {
		m.logger.Error("failed to refresh access token", "error", err)
		return err
	}
	if tok.RefreshToken == "" {
		tok.RefreshToken = refreshToken
	}

	m.logger.Info("access token refreshed")
	return m.Save(ctx, tok)
}

// Token implements oauth2.TokenSource so the Gmail client transport always
// carries a valid credential.
func (m *Manager) Token() (*oauth2.Token, error) {
	tok, err := m.EnsureValid(context.Background())
	if err != nil {
		return nil, err
	}
	return &oauth2.Token{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    "Bearer",
		Expiry:       tok.Expiry,
	}, nil
}

// Close cancels any pending refresh timer.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

// scheduleRefresh arms the single refresh timer at expiry minus the
// margin. A credential already within the margin refreshes immediately.
func (m *Manager) scheduleRefresh(expiry time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}

	wait := expiry.Sub(m.now()) - m.margin
	if wait <= 0 {
		m.logger.Warn("token already near expiry, refreshing now")
		go func() {
			if err := m.Refresh(context.Background()); err != nil {
				m.logger.Error("immediate refresh failed", "error", err)
			}
		}()
		return
	}

	m.logger.Info("scheduled token refresh", "in", wait.Round(time.Second).String())
	m.timer = time.AfterFunc(wait, func() {
		if err := m.Refresh(context.Background()); err != nil {
			m.logger.Error("scheduled refresh failed", "error", err)
		}
	})
}

// introspect asks the provider how many seconds the access token has left.
func (m *Manager) introspect(ctx context.Context, accessToken string) (int64, error) {
	u := m.introspectURL + "?access_token=" + url.QueryEscape(accessToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}

	resp, err := m.httpc.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("bad status %d", resp.StatusCode)
	}

	// The tokeninfo endpoint has returned expires_in both as a JSON number
	// and as a quoted string over the years.
	var payload map[string]any
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(&payload); err != nil {
		return 0, fmt.Errorf("decode response: %w", err)
	}

	var seconds int64
	switch v := payload["expires_in"].(type) {
	case json.Number:
		seconds, _ = v.Int64()
	case string:
		seconds, _ = strconv.ParseInt(v, 10, 64)
	}
	if seconds <= 0 {
		return 0, fmt.Errorf("provider did not return expires_in")
	}
	return seconds, nil
}
