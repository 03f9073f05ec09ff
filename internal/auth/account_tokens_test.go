package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccountTokenClient_GetToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer session-jwt" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch r.URL.Path {
		case "/api/auth/accounts/google/token":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"access_token":"ya29.token","refresh_token":"r1","expires_at":1700000000}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := NewAccountTokenClient(srv.URL + "/")

	tok, err := c.GetToken(context.Background(), "session-jwt", ProviderGoogle)
	require.NoError(t, err)
	assert.Equal(t, "ya29.token", tok.AccessToken)
	assert.Equal(t, "r1", tok.RefreshToken)
	assert.Equal(t, int64(1700000000), tok.Expiry.Unix())

	_, err = c.GetToken(context.Background(), "session-jwt", ProviderMicrosoft)
	assert.True(t, errors.Is(err, ErrNoAccount))

	_, err = c.GetToken(context.Background(), "bad", ProviderGoogle)
	assert.ErrorContains(t, err, "bad status 401")
}
