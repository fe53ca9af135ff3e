package tokens

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/courtpulse/bookingsync/internal/store"
)

type fakeStore struct {
	state   store.SyncState
	loadErr error
	saved   []store.Tokens
}

func (f *fakeStore) LoadSyncState(context.Context) (*store.SyncState, error) {
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	state := f.state
	return &state, nil
}

func (f *fakeStore) SaveTokens(_ context.Context, tok store.Tokens) error {
	f.saved = append(f.saved, tok)
	f.state.Tokens = tok
	return nil
}

func (f *fakeStore) lastSaved() store.Tokens {
	if len(f.saved) == 0 {
		return store.Tokens{}
	}
	return f.saved[len(f.saved)-1]
}

func newTestManager(t *testing.T, st Store, refresh refreshFunc, margin time.Duration) *Manager {
	t.Helper()
	m := &Manager{
		store:         st,
		logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		margin:        margin,
		refresh:       refresh,
		introspectURL: "http://127.0.0.1:0/tokeninfo",
		httpc:         &http.Client{Timeout: time.Second},
		now:           time.Now,
	}
	t.Cleanup(m.Close)
	return m
}

func staticRefresher(tok store.Tokens, err error) refreshFunc {
	return func(context.Context, string) (store.Tokens, error) {
		return tok, err
	}
}

func TestSaveSchedulesSingleTimer(t *testing.T) {
	st := &fakeStore{}
	var refreshes atomic.Int64
	refresh := func(context.Context, string) (store.Tokens, error) {
		refreshes.Add(1)
		return store.Tokens{
			AccessToken:  "refreshed",
			RefreshToken: "r",
			Expiry:       time.Now().Add(time.Hour),
		}, nil
	}
	m := newTestManager(t, st, refresh, 10*time.Millisecond)

	tok := store.Tokens{
		AccessToken:  "a",
		RefreshToken: "r",
		Expiry:       time.Now().Add(40 * time.Millisecond),
	}
	require.NoError(t, m.Save(context.Background(), tok))
	// A second save cancels the first timer before arming its own.
	tok.AccessToken = "b"
	require.NoError(t, m.Save(context.Background(), tok))

	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, int64(1), refreshes.Load())
}

func TestSaveWithinMarginRefreshesImmediately(t *testing.T) {
	st := &fakeStore{}
	refreshed := make(chan struct{}, 1)
	refresh := func(context.Context, string) (store.Tokens, error) {
		select {
		case refreshed <- struct{}{}:
		default:
		}
		return store.Tokens{
			AccessToken:  "refreshed",
			RefreshToken: "r",
			Expiry:       time.Now().Add(time.Hour),
		}, nil
	}
	m := newTestManager(t, st, refresh, 5*time.Minute)

	tok := store.Tokens{
		AccessToken:  "a",
		RefreshToken: "r",
		Expiry:       time.Now().Add(time.Minute),
	}
	require.NoError(t, m.Save(context.Background(), tok))

	select {
	case <-refreshed:
	case <-time.After(2 * time.Second):
		t.Fatal("expected an immediate refresh for a token inside the margin")
	}
}

func TestSaveIntrospectsUnknownExpiry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "a", r.URL.Query().Get("access_token"))
		w.Write([]byte(`{"expires_in": 3600}`))
	}))
	defer srv.Close()

	st := &fakeStore{}
	m := newTestManager(t, st, staticRefresher(store.Tokens{}, errors.New("must not refresh")), 5*time.Minute)
	m.introspectURL = srv.URL

	require.NoError(t, m.Save(context.Background(), store.Tokens{
		AccessToken:  "a",
		RefreshToken: "r",
	}))

	saved := st.lastSaved()
	assert.WithinDuration(t, time.Now().Add(time.Hour), saved.Expiry, 5*time.Second)
}

func TestSaveIntrospectsStringExpiresIn(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"expires_in": "1800"}`))
	}))
	defer srv.Close()

	st := &fakeStore{}
	m := newTestManager(t, st, staticRefresher(store.Tokens{}, errors.New("must not refresh")), 5*time.Minute)
	m.introspectURL = srv.URL

	require.NoError(t, m.Save(context.Background(), store.Tokens{AccessToken: "a", RefreshToken: "r"}))
	assert.WithinDuration(t, time.Now().Add(30*time.Minute), st.lastSaved().Expiry, 5*time.Second)
}

func TestSaveIntrospectionFailureFallsBackToRefresh(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	st := &fakeStore{}
	st.state.Tokens = store.Tokens{AccessToken: "old", RefreshToken: "stored-refresh"}

	var usedRefreshToken string
	refresh := func(_ context.Context, rt string) (store.Tokens, error) {
		usedRefreshToken = rt
		return store.Tokens{
			AccessToken:  "refreshed",
			RefreshToken: "stored-refresh",
			Expiry:       time.Now().Add(time.Hour),
		}, nil
	}
	m := newTestManager(t, st, refresh, 5*time.Minute)
	m.introspectURL = srv.URL

	require.NoError(t, m.Save(context.Background(), store.Tokens{AccessToken: "a"}))

	assert.Equal(t, "stored-refresh", usedRefreshToken)
	assert.Equal(t, "refreshed", st.lastSaved().AccessToken)
}

func TestRefreshWithoutRefreshToken(t *testing.T) {
	st := &fakeStore{}
	m := newTestManager(t, st, staticRefresher(store.Tokens{}, nil), 5*time.Minute)

	err := m.Refresh(context.Background())
	assert.ErrorIs(t, err, ErrNoRefreshToken)
}

func TestRefreshPreservesRefreshToken(t *testing.T) {
	st := &fakeStore{}
	st.state.Tokens = store.Tokens{AccessToken: "old", RefreshToken: "keep-me"}

	// Providers often omit the refresh token on renewal responses.
	refresh := staticRefresher(store.Tokens{
		AccessToken: "new",
		Expiry:      time.Now().Add(time.Hour),
	}, nil)
	m := newTestManager(t, st, refresh, 5*time.Minute)

	require.NoError(t, m.Refresh(context.Background()))
	assert.Equal(t, "keep-me", st.lastSaved().RefreshToken)
	assert.Equal(t, "new", st.lastSaved().AccessToken)
}

func TestEnsureValidUsesCachedToken(t *testing.T) {
	st := &fakeStore{loadErr: errors.New("store must not be touched")}
	m := newTestManager(t, st, staticRefresher(store.Tokens{}, errors.New("no refresh")), 5*time.Minute)
	m.current = store.Tokens{
		AccessToken: "cached",
		Expiry:      time.Now().Add(time.Hour),
	}

	tok, err := m.EnsureValid(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "cached", tok.AccessToken)
}

func TestEnsureValidLoadsFromStore(t *testing.T) {
	st := &fakeStore{}
	st.state.Tokens = store.Tokens{
		AccessToken:  "persisted",
		RefreshToken: "r",
		Expiry:       time.Now().Add(time.Hour),
	}
	m := newTestManager(t, st, staticRefresher(store.Tokens{}, errors.New("no refresh")), 5*time.Minute)

	tok, err := m.EnsureValid(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "persisted", tok.AccessToken)
}

func TestEnsureValidRefreshesNearExpiry(t *testing.T) {
	st := &fakeStore{}
	st.state.Tokens = store.Tokens{
		AccessToken:  "stale",
		RefreshToken: "r",
		Expiry:       time.Now().Add(time.Minute),
	}
	refresh := staticRefresher(store.Tokens{
		AccessToken:  "fresh",
		RefreshToken: "r",
		Expiry:       time.Now().Add(time.Hour),
	}, nil)
	m := newTestManager(t, st, refresh, 5*time.Minute)

	tok, err := m.EnsureValid(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fresh", tok.AccessToken)
}

func TestEnsureValidWithEmptyStore(t *testing.T) {
	st := &fakeStore{}
	m := newTestManager(t, st, staticRefresher(store.Tokens{}, nil), 5*time.Minute)

	_, err := m.EnsureValid(context.Background())
	assert.Error(t, err)
}

func TestBootstrapWithoutCredential(t *testing.T) {
	st := &fakeStore{}
	m := newTestManager(t, st, staticRefresher(store.Tokens{}, nil), 5*time.Minute)

	require.NoError(t, m.Bootstrap(context.Background()))
	assert.Empty(t, st.saved)
}
