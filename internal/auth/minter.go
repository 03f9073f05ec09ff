package auth

import (
	"fmt"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// Minter issues HS256 session tokens accepted by NewHMACVerifier.
// It exists for local development and tests; production sessions come
// from the identity provider.
type Minter struct {
	key    jwk.Key
	issuer string
	now    func() time.Time
}

func NewMinter(secret []byte, issuer string) (*Minter, error) {
	key, err := hmacKey(secret)
	if err != nil {
		return nil, err
	}
	return &Minter{key: key, issuer: issuer, now: time.Now}, nil
}

// Mint signs a token for s that expires after ttl.
func (m *Minter) Mint(s Session, ttl time.Duration) (string, error) {
	if s.UserID == "" {
		return "", fmt.Errorf("mint: user id is required")
	}
	if _, ok := ParseRole(string(s.Role)); !ok {
		return "", fmt.Errorf("mint: unknown role %q", s.Role)
	}

	now := m.now()
	b := jwt.NewBuilder().
		Subject(s.UserID).
		IssuedAt(now).
		NotBefore(now).
		Expiration(now.Add(ttl)).
		Claim("role", string(s.Role))
	if m.issuer != "" {
		b = b.Issuer(m.issuer)
	}
	if s.Name != "" {
		b = b.Claim("name", s.Name)
	}
	if s.Email != "" {
		b = b.Claim("email", s.Email)
	}

	token, err := b.Build()
	if err != nil {
		return "", fmt.Errorf("build token: %w", err)
	}

	signed, err := jwt.Sign(token, jwt.WithKey(jwa.HS256, m.key))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return string(signed), nil
}
