package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// ErrNoToken is returned when the request carries no bearer token.
var ErrNoToken = errors.New("no bearer token")

// hmacKeyID is the kid stamped on tokens signed with the shared secret.
const hmacKeyID = "crmgw-session"

// JWTVerifier resolves sessions from bearer JWTs, either against a cached
// remote JWKS or against a shared HMAC secret.
type JWTVerifier struct {
	jwksURL     string
	issuer      string
	cache       *jwk.Cache
	keySet      jwk.Set
	keySetMutex sync.RWMutex
	lastFetch   time.Time
	refreshTTL  time.Duration
}

// NewJWTVerifier creates a verifier backed by the JWKS at jwksURL.
// Keys are cached and refreshed in the background until ctx is done, so
// verification never blocks on a network fetch.
func NewJWTVerifier(ctx context.Context, jwksURL, issuer string) (*JWTVerifier, error) {
	verifier := &JWTVerifier{
		jwksURL:    jwksURL,
		issuer:     issuer,
		refreshTTL: 5 * time.Minute,
	}

	cache := jwk.NewCache(ctx)
	if err := cache.Register(jwksURL, jwk.WithMinRefreshInterval(verifier.refreshTTL)); err != nil {
		return nil, fmt.Errorf("register JWKS URL: %w", err)
	}
	verifier.cache = cache

	fetchCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	keySet, err := verifier.fetchKeySet(fetchCtx)
	if err != nil {
		return nil, fmt.Errorf("initial JWKS fetch: %w", err)
	}
	verifier.keySet = keySet
	verifier.lastFetch = time.Now()

	go verifier.backgroundRefresh(ctx)

	return verifier, nil
}

// NewHMACVerifier creates a verifier for HS256 tokens signed with secret.
func NewHMACVerifier(secret []byte, issuer string) (*JWTVerifier, error) {
	key, err := hmacKey(secret)
	if err != nil {
		return nil, err
	}
	set := jwk.NewSet()
	if err := set.AddKey(key); err != nil {
		return nil, fmt.Errorf("add signing key: %w", err)
	}
	return &JWTVerifier{
		issuer:    issuer,
		keySet:    set,
		lastFetch: time.Now(),
	}, nil
}

func hmacKey(secret []byte) (jwk.Key, error) {
	if len(secret) == 0 {
		return nil, errors.New("hmac secret is empty")
	}
	key, err := jwk.FromRaw(secret)
	if err != nil {
		return nil, fmt.Errorf("build hmac key: %w", err)
	}
	if err := key.Set(jwk.KeyIDKey, hmacKeyID); err != nil {
		return nil, err
	}
	if err := key.Set(jwk.AlgorithmKey, jwa.HS256); err != nil {
		return nil, err
	}
	return key, nil
}

func (v *JWTVerifier) fetchKeySet(ctx context.Context) (jwk.Set, error) {
	keySet, err := v.cache.Get(ctx, v.jwksURL)
	if err != nil {
		return jwk.Fetch(ctx, v.jwksURL)
	}
	return keySet, nil
}

func (v *JWTVerifier) backgroundRefresh(ctx context.Context) {
	ticker := time.NewTicker(v.refreshTTL)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		fetchCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		keySet, err := v.fetchKeySet(fetchCtx)
		cancel()

		// keep the previous set on failure; next tick retries
		if err == nil {
			v.keySetMutex.Lock()
			v.keySet = keySet
			v.lastFetch = time.Now()
			v.keySetMutex.Unlock()
		}
	}
}

func (v *JWTVerifier) getKeySet() jwk.Set {
	v.keySetMutex.RLock()
	defer v.keySetMutex.RUnlock()
	return v.keySet
}

// ResolveSession validates the bearer token on r and returns its session.
// A missing, invalid or expired token, or an unknown role claim, is an error.
func (v *JWTVerifier) ResolveSession(r *http.Request) (*Session, error) {
	raw := bearerToken(r)
	if raw == "" {
		return nil, ErrNoToken
	}

	opts := []jwt.ParseOption{
		jwt.WithKeySet(v.getKeySet(), jws.WithInferAlgorithmFromKey(true)),
		jwt.WithValidate(true),
		jwt.WithAcceptableSkew(30 * time.Second),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	token, err := jwt.ParseString(raw, opts...)
	if err != nil {
		return nil, fmt.Errorf("parse JWT: %w", err)
	}

	userID := token.Subject()
	if userID == "" {
		return nil, errors.New("token missing subject")
	}

	roleClaim := stringClaim(token, "role")
	role, ok := ParseRole(roleClaim)
	if !ok {
		return nil, fmt.Errorf("token carries unknown role %q", roleClaim)
	}

	return &Session{
		UserID: userID,
		Name:   stringClaim(token, "name"),
		Email:  stringClaim(token, "email"),
		Role:   role,
		Token:  raw,
	}, nil
}

// KeyCacheStats describes the verifier's key set.
type KeyCacheStats struct {
	Keys       int       `json:"keys"`
	LastFetch  time.Time `json:"lastFetch"`
	RefreshTTL string    `json:"refreshTtl,omitempty"`
	Remote     bool      `json:"remote"`
}

// CacheStats reports the state of the cached key set.
func (v *JWTVerifier) CacheStats() KeyCacheStats {
	v.keySetMutex.RLock()
	defer v.keySetMutex.RUnlock()

	stats := KeyCacheStats{
		LastFetch: v.lastFetch,
		Remote:    v.jwksURL != "",
	}
	if v.keySet != nil {
		stats.Keys = v.keySet.Len()
	}
	if v.refreshTTL > 0 {
		stats.RefreshTTL = v.refreshTTL.String()
	}
	return stats
}

func stringClaim(token jwt.Token, name string) string {
	if v, ok := token.Get(name); ok {
		s, _ := v.(string)
		return s
	}
	return ""
}

// bearerToken returns the credentials of a "Bearer" Authorization header.
// Other schemes yield "".
func bearerToken(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(h) > 7 && strings.EqualFold(h[:7], "Bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}
