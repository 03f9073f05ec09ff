package rate

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestAllow_BurstThenDeny(t *testing.T) {
	l := New(1, 2)
	base := time.Unix(1_700_000_000, 0)
	l.now = func() time.Time { return base }

	assert.True(t, l.Allow("u-1"))
	assert.True(t, l.Allow("u-1"))
	assert.False(t, l.Allow("u-1"))

	// other callers have their own bucket
	assert.True(t, l.Allow("u-2"))

	base = base.Add(time.Second)
	assert.True(t, l.Allow("u-1"))
}

func TestAllow_SweepsIdleBuckets(t *testing.T) {
	l := New(1, 1)
	base := time.Unix(1_700_000_000, 0)
	l.now = func() time.Time { return base }

	l.Allow("a")
	l.Allow("b")
	assert.Equal(t, 2, l.Len())

	base = base.Add(11 * time.Minute)
	l.Allow("c")
	assert.Equal(t, 1, l.Len())
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	l := New(1, 1)
	l.now = func() time.Time { return time.Unix(1_700_000_000, 0) }

	r := gin.New()
	r.GET("/x", l.Middleware(func(c *gin.Context) string { return c.GetHeader("X-User") }), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	do := func(user string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		req.Header.Set("X-User", user)
		r.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusNoContent, do("alice").Code)
	w := do("alice")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.JSONEq(t, `{"success":false,"error":"Too many requests"}`, w.Body.String())
	assert.Equal(t, http.StatusNoContent, do("bob").Code)
}
