// Package auth verifies the Google-signed OIDC tokens that Pub/Sub
// attaches to push deliveries.
package auth

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// googleJWKSURL serves the keys Google signs push OIDC tokens with.
const googleJWKSURL = "https://www.googleapis.com/oauth2/v3/certs"

var acceptedIssuers = []string{
	"accounts.google.com",
	"https://accounts.google.com",
}

// PushVerifier validates push request bearer tokens with cached JWKS.
// Keys are refreshed in the background so verification never blocks on a
// network fetch.
type PushVerifier struct {
	audience    string
	jwksURL     string
	cache       *jwk.Cache
	keySet      jwk.Set
	keySetMutex sync.RWMutex
	refreshTTL  time.Duration
}

// NewPushVerifier creates a verifier that requires tokens minted for the
// given audience.
func NewPushVerifier(audience string) (*PushVerifier, error) {
	v := &PushVerifier{
		audience:   audience,
		jwksURL:    googleJWKSURL,
		refreshTTL: 5 * time.Minute,
	}

	cache := jwk.NewCache(context.Background())
	if err := cache.Register(v.jwksURL, jwk.WithMinRefreshInterval(v.refreshTTL)); err != nil {
		return nil, fmt.Errorf("failed to register JWKS URL: %w", err)
	}
	v.cache = cache

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	keySet, err := v.fetchKeySet(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed initial JWKS fetch: %w", err)
	}
	v.keySet = keySet

	go v.backgroundRefresh()

	return v, nil
}

// fetchKeySet retrieves the JWKS from the cache (or fetches if needed)
func (v *PushVerifier) fetchKeySet(ctx context.Context) (jwk.Set, error) {
	keySet, err := v.cache.Get(ctx, v.jwksURL)
	if err != nil {
		return jwk.Fetch(ctx, v.jwksURL)
	}
	return keySet, nil
}

// backgroundRefresh proactively refreshes the JWKS so request handling
// stays off the network.
func (v *PushVerifier) backgroundRefresh() {
	ticker := time.NewTicker(v.refreshTTL)
	defer ticker.Stop()

	for range ticker.C {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		keySet, err := v.fetchKeySet(ctx)
		cancel()

		if err == nil {
			v.keySetMutex.Lock()
			v.keySet = keySet
			v.keySetMutex.Unlock()
		}
		// Silently continue on error - we'll retry on next tick
	}
}

func (v *PushVerifier) getKeySet() jwk.Set {
	v.keySetMutex.RLock()
	defer v.keySetMutex.RUnlock()
	return v.keySet
}

// VerifyRequest checks the bearer token on a push delivery: signature
// against Google's keys, expiry, audience, and issuer.
func (v *PushVerifier) VerifyRequest(r *http.Request) error {
	token, err := jwt.ParseRequest(
		r,
		jwt.WithKeySet(v.getKeySet()),
		jwt.WithValidate(true),
		jwt.WithAudience(v.audience),
	)
	if err != nil {
		return fmt.Errorf("failed to parse push token: %w", err)
	}

	for _, iss := range acceptedIssuers {
		if token.Issuer() == iss {
			return nil
		}
	}
	return fmt.Errorf("unexpected token issuer %q", token.Issuer())
}
