package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Provider names an OAuth mail provider as the auth server knows it.
type Provider string

const (
	ProviderGoogle    Provider = "google"
	ProviderMicrosoft Provider = "microsoft"
)

// ErrNoAccount is returned when the user has not connected the provider.
var ErrNoAccount = errors.New("no connected account")

// Token is an OAuth token for a connected mail account.
type Token struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
}

// AccountTokenClient fetches the caller's connected-account tokens from the
// auth server. The auth server owns storage and refresh of those tokens.
type AccountTokenClient struct {
	baseURL string
	client  *http.Client
}

func NewAccountTokenClient(authServerURL string) *AccountTokenClient {
	return &AccountTokenClient{
		baseURL: strings.TrimRight(authServerURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// GetToken fetches the provider token of the user identified by bearer.
func (c *AccountTokenClient) GetToken(ctx context.Context, bearer string, provider Provider) (*Token, error) {
	endpoint := fmt.Sprintf("%s/api/auth/accounts/%s/token", c.baseURL, url.PathEscape(string(provider)))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+bearer)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%s: %w", provider, ErrNoAccount)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("bad status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var result struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresAt    int64  `json:"expires_at"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	tok := &Token{
		AccessToken:  result.AccessToken,
		RefreshToken: result.RefreshToken,
	}
	if result.ExpiresAt > 0 {
		tok.Expiry = time.Unix(result.ExpiresAt, 0)
	}
	return tok, nil
}
