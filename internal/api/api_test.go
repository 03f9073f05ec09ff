package api

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/microsoft/kiota-abstractions-go/authentication"
	msgraphsdk "github.com/microsoftgraph/msgraph-sdk-go"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Martian-dev/crm-mail-gateway/internal/activity"
	"github.com/Martian-dev/crm-mail-gateway/internal/auth"
	"github.com/Martian-dev/crm-mail-gateway/internal/email"
	"github.com/Martian-dev/crm-mail-gateway/internal/gateway"
	"github.com/Martian-dev/crm-mail-gateway/internal/guards"
	"github.com/Martian-dev/crm-mail-gateway/internal/providers/outlook"
	"github.com/Martian-dev/crm-mail-gateway/internal/rate"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var testSecret = []byte("api-test-secret")

type stubService struct {
	mu      sync.Mutex
	calls   int
	actions []email.Action
	err     error
	panics  bool
}

func (s *stubService) hit() {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
}

func (s *stubService) GetMessageByID(_ context.Context, id string) (*email.Message, error) {
	s.hit()
	if s.panics {
		panic("adapter exploded")
	}
	if s.err != nil {
		return nil, s.err
	}
	return &email.Message{ID: id, Subject: "Hello"}, nil
}

func (s *stubService) GetFolders(context.Context) ([]email.Folder, error) {
	s.hit()
	return []email.Folder{{ID: "inbox", Name: "Inbox", Kind: email.FolderSystem}}, s.err
}

func (s *stubService) GetMessageAttachments(context.Context, string, bool) ([]email.Attachment, error) {
	s.hit()
	return nil, s.err
}

func (s *stubService) PerformAction(_ context.Context, a email.Action) error {
	s.hit()
	s.mu.Lock()
	s.actions = append(s.actions, a)
	s.mu.Unlock()
	return s.err
}

func (s *stubService) ReplyToEmail(context.Context, string, string, bool) (string, error) {
	s.hit()
	return "reply-1", s.err
}

func (s *stubService) ForwardEmail(context.Context, string, []string, string) (string, error) {
	s.hit()
	return "fwd-1", s.err
}

type recordedAction struct {
	UserID, Provider, Action, MessageID, ResultID string
}

type fakeRecorder struct {
	mu      sync.Mutex
	actions []recordedAction
	err     error
}

func (f *fakeRecorder) RecordEmailAction(_ context.Context, userID string, provider email.ProviderType, action, messageID, resultID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.actions = append(f.actions, recordedAction{userID, string(provider), action, messageID, resultID})
	return f.err
}

func (f *fakeRecorder) Recent(_ context.Context, userID string, limit int) ([]activity.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []activity.Event
	for i := len(f.actions) - 1; i >= 0 && len(out) < limit; i-- {
		a := f.actions[i]
		if a.UserID == userID {
			out = append(out, activity.Event{UserID: a.UserID, Provider: a.Provider, Action: a.Action, MessageID: a.MessageID})
		}
	}
	return out, nil
}

type fakeTokens struct {
	token    string
	err      error
	bearer   string
	provider auth.Provider
}

func (f *fakeTokens) GetToken(_ context.Context, bearer string, p auth.Provider) (*auth.Token, error) {
	f.bearer, f.provider = bearer, p
	if f.err != nil {
		return nil, f.err
	}
	return &auth.Token{AccessToken: f.token}, nil
}

type harness struct {
	handler  http.Handler
	svc      *stubService
	recorder *fakeRecorder
	minter   *auth.Minter
	tokens   map[auth.Role]string
	// lastToken is the access token the last adapter was built with.
	lastToken string
}

type harnessOption func(*Options)

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)

	verifier, err := auth.NewHMACVerifier(testSecret, "")
	require.NoError(t, err)
	minter, err := auth.NewMinter(testSecret, "")
	require.NoError(t, err)

	h := &harness{
		svc:      &stubService{},
		recorder: &fakeRecorder{},
		minter:   minter,
		tokens:   map[auth.Role]string{},
	}
	build := func(_ context.Context, token string) (email.Service, error) {
		h.lastToken = token
		return h.svc, nil
	}
	gw := gateway.New(gateway.Options{Timeout: time.Second, Logger: log}).
		WithConstructor(email.ProviderGoogle, build).
		WithConstructor(email.ProviderMicrosoft, build)

	o := Options{
		Guard:    guards.New(verifier, guards.Options{Logger: log}),
		Emails:   gw,
		Activity: h.recorder,
		Sessions: verifier,
		Logger:   log,
	}
	for _, opt := range opts {
		opt(&o)
	}
	h.handler = NewServer(o).Handler()
	return h
}

func (h *harness) bearer(t *testing.T, role auth.Role) string {
	t.Helper()
	if tok, ok := h.tokens[role]; ok {
		return tok
	}
	tok, err := h.minter.Mint(auth.Session{UserID: "u-" + strings.ToLower(string(role)), Name: "Test", Role: role}, time.Hour)
	require.NoError(t, err)
	h.tokens[role] = tok
	return tok
}

func (h *harness) do(t *testing.T, method, path string, role auth.Role, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if role != "" {
		req.Header.Set("Authorization", "Bearer "+h.bearer(t, role))
	}
	w := httptest.NewRecorder()
	h.handler.ServeHTTP(w, req)
	return w
}

func TestPerformAction_MarkRead(t *testing.T) {
	h := newHarness(t)

	w := h.do(t, http.MethodPost, "/api/email/action", auth.RoleEmployee,
		`{"provider":"microsoft","accessToken":"tok","type":"mark_read","messageId":"abc123"}`)

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"success":true}`, w.Body.String())
	require.Len(t, h.svc.actions, 1)
	assert.Equal(t, email.Action{Type: email.ActionMarkRead, MessageID: "abc123"}, h.svc.actions[0])
	assert.Equal(t, "tok", h.lastToken)
	assert.Equal(t, []recordedAction{{"u-employee", "microsoft", "mark_read", "abc123", ""}}, h.recorder.actions)
}

func TestPerformAction_MoveWithoutFolder(t *testing.T) {
	h := newHarness(t)

	w := h.do(t, http.MethodPost, "/api/email/action", auth.RoleUser,
		`{"provider":"google","accessToken":"tok","type":"move","messageId":"m-1"}`)

	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{
		"success": false,
		"error": "Validation error",
		"details": [{"field": "folderId", "message": "is required for move"}]
	}`, w.Body.String())
	assert.Zero(t, h.svc.calls)
	assert.Empty(t, h.recorder.actions)
}

func TestValidationErrors(t *testing.T) {
	tests := []struct {
		name  string
		path  string
		body  string
		field string
	}{
		{"unknown provider", "/api/email/message", `{"provider":"yahoo","accessToken":"t","messageId":"m"}`, "provider"},
		{"missing message id", "/api/email/message", `{"provider":"google","accessToken":"t"}`, "messageId"},
		{"reply without content", "/api/email/reply", `{"provider":"google","accessToken":"t","messageId":"m"}`, "content"},
		{"forward without recipients", "/api/email/forward", `{"provider":"google","accessToken":"t","messageId":"m","recipients":[]}`, "recipients"},
		{"forward bad recipient", "/api/email/forward", `{"provider":"google","accessToken":"t","messageId":"m","recipients":["nope"]}`, "recipients[0]"},
		{"missing token", "/api/email/folders", `{"provider":"microsoft"}`, "accessToken"},
		{"malformed body", "/api/email/folders", `{"provider":`, "body"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			w := h.do(t, http.MethodPost, tt.path, auth.RoleUser, tt.body)

			require.Equal(t, http.StatusBadRequest, w.Code)
			var resp struct {
				Success bool               `json:"success"`
				Error   string             `json:"error"`
				Details []email.FieldError `json:"details"`
			}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.False(t, resp.Success)
			assert.Equal(t, "Validation error", resp.Error)
			require.NotEmpty(t, resp.Details)
			assert.Equal(t, tt.field, resp.Details[0].Field)
			assert.Zero(t, h.svc.calls)
		})
	}
}

func TestProviderError(t *testing.T) {
	h := newHarness(t)
	h.svc.err = email.NewEmailError(email.ProviderGoogle, http.StatusUnauthorized, "Invalid Credentials", nil)

	w := h.do(t, http.MethodPost, "/api/email/message", auth.RoleUser,
		`{"provider":"google","accessToken":"expired","messageId":"m-1"}`)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.JSONEq(t, `{"success":false,"error":"Invalid Credentials","provider":"google"}`, w.Body.String())
}

func TestProviderError_StatusOutsideRange(t *testing.T) {
	h := newHarness(t)
	h.svc.err = email.NewEmailError(email.ProviderMicrosoft, 0, "provider request failed", nil)

	w := h.do(t, http.MethodPost, "/api/email/folders", auth.RoleUser,
		`{"provider":"microsoft","accessToken":"t"}`)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"success":false,"error":"provider request failed","provider":"microsoft"}`, w.Body.String())
}

func TestPanicBecomesInternalError(t *testing.T) {
	h := newHarness(t)
	h.svc.panics = true

	w := h.do(t, http.MethodPost, "/api/email/message", auth.RoleUser,
		`{"provider":"google","accessToken":"t","messageId":"m-1"}`)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"success":false,"error":"Internal server error"}`, w.Body.String())
}

func TestReplyAndForward(t *testing.T) {
	h := newHarness(t)

	w := h.do(t, http.MethodPost, "/api/email/reply", auth.RoleManager,
		`{"provider":"google","accessToken":"t","messageId":"m-1","content":"Thanks","replyAll":true}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"success":true,"data":{"id":"reply-1"}}`, w.Body.String())

	w = h.do(t, http.MethodPost, "/api/email/forward", auth.RoleManager,
		`{"provider":"google","accessToken":"t","messageId":"m-1","recipients":["bob@example.com"]}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"success":true,"data":{"id":"fwd-1"}}`, w.Body.String())

	assert.Equal(t, []recordedAction{
		{"u-manager", "google", "reply_all", "m-1", "reply-1"},
		{"u-manager", "google", "forward", "m-1", "fwd-1"},
	}, h.recorder.actions)

	w = h.do(t, http.MethodGet, "/api/activity?limit=1", auth.RoleManager, "")
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Data []activity.Event `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "forward", resp.Data[0].Action)
}

func TestRecordFailureDoesNotFailRequest(t *testing.T) {
	h := newHarness(t)
	h.recorder.err = assert.AnError

	w := h.do(t, http.MethodPost, "/api/email/action", auth.RoleUser,
		`{"provider":"google","accessToken":"t","type":"delete","messageId":"m-1"}`)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestActivityLimitValidation(t *testing.T) {
	h := newHarness(t)

	w := h.do(t, http.MethodGet, "/api/activity?limit=0", auth.RoleUser, "")

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), `"field":"limit"`)
}

func TestAccessTokenFromConnectedAccount(t *testing.T) {
	tokens := &fakeTokens{token: "from-account"}
	h := newHarness(t, func(o *Options) { o.Tokens = tokens })

	w := h.do(t, http.MethodPost, "/api/email/folders", auth.RoleUser, `{"provider":"microsoft"}`)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "from-account", h.lastToken)
	assert.Equal(t, auth.ProviderMicrosoft, tokens.provider)
	assert.Equal(t, h.bearer(t, auth.RoleUser), tokens.bearer)
}

func TestAccessTokenNoConnectedAccount(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.Tokens = &fakeTokens{err: auth.ErrNoAccount} })

	w := h.do(t, http.MethodPost, "/api/email/folders", auth.RoleUser, `{"provider":"google"}`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), `"field":"accessToken"`)
	assert.Zero(t, h.svc.calls)
}

func TestGuards(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		name     string
		method   string
		path     string
		role     auth.Role
		status   int
		location string
		body     string
	}{
		{"api without session", http.MethodPost, "/api/email/folders", "", http.StatusUnauthorized, "", `{"success":false,"error":"Unauthorized"}`},
		{"employee on manager page", http.MethodGet, "/manager", auth.RoleEmployee, http.StatusFound, "/dashboard", ""},
		{"user on admin page", http.MethodGet, "/admin", auth.RoleUser, http.StatusFound, "/dashboard", ""},
		{"admin on b2b page", http.MethodGet, "/b2b", auth.RoleAdmin, http.StatusFound, "/dashboard", ""},
		{"page without session", http.MethodGet, "/dashboard", "", http.StatusFound, "/sign-in?callbackUrl=%2Fdashboard", ""},
		{"manager on manager page", http.MethodGet, "/manager", auth.RoleManager, http.StatusOK, "", ""},
		{"b2b on b2b page", http.MethodGet, "/b2b", auth.RoleB2B, http.StatusOK, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := h.do(t, tt.method, tt.path, tt.role, "")
			assert.Equal(t, tt.status, w.Code)
			if tt.location != "" {
				assert.Equal(t, tt.location, w.Header().Get("Location"))
			}
			if tt.body != "" {
				assert.JSONEq(t, tt.body, w.Body.String())
			}
		})
	}
	assert.Zero(t, h.svc.calls)
}

func TestMe(t *testing.T) {
	h := newHarness(t)

	w := h.do(t, http.MethodGet, "/api/me", auth.RoleManager, "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"success":true,"data":{
		"id":"u-manager","name":"Test","email":"","role":"MANAGER",
		"isAdmin":false,"isManager":true,"isUser":true,"isB2B":false
	}}`, w.Body.String())
	assert.NotEmpty(t, w.Header().Get(requestIDHeader))
}

func TestHealthz(t *testing.T) {
	h := newHarness(t)

	w := h.do(t, http.MethodGet, "/healthz", "", "")

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Status      string             `json:"status"`
		SessionKeys auth.KeyCacheStats `json:"sessionKeys"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 1, resp.SessionKeys.Keys)
	assert.False(t, resp.SessionKeys.Remote)
}

func TestRateLimit(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.Limiter = rate.New(0.001, 1) })

	assert.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/api/me", auth.RoleUser, "").Code)

	w := h.do(t, http.MethodGet, "/api/me", auth.RoleUser, "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.JSONEq(t, `{"success":false,"error":"Too many requests"}`, w.Body.String())

	// Buckets are per user.
	assert.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/api/me", auth.RoleAdmin, "").Code)
}

// TestMarkReadReachesGraph runs the action through the real gateway and
// Outlook adapter against a fake Graph endpoint.
func TestMarkReadReachesGraph(t *testing.T) {
	var (
		mu     sync.Mutex
		method string
		body   map[string]any
	)
	graph := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1.0/me/messages/abc123" {
			http.NotFound(w, r)
			return
		}
		var rd io.Reader = r.Body
		if r.Header.Get("Content-Encoding") == "gzip" {
			gz, err := gzip.NewReader(r.Body)
			if err == nil {
				rd = gz
			}
		}
		raw, _ := io.ReadAll(rd)
		mu.Lock()
		method = r.Method
		_ = json.NewDecoder(bytes.NewReader(raw)).Decode(&body)
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"abc123","isRead":true}`))
	}))
	t.Cleanup(graph.Close)

	w := postThroughGraph(t, graph.URL,
		`{"provider":"microsoft","accessToken":"tok","type":"mark_read","messageId":"abc123"}`)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"success":true}`, w.Body.String())
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, http.MethodPatch, method)
	assert.Equal(t, true, body["isRead"])
}

func TestGraphStatusWithoutBody(t *testing.T) {
	graph := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	t.Cleanup(graph.Close)

	w := postThroughGraph(t, graph.URL,
		`{"provider":"microsoft","accessToken":"expired","type":"mark_read","messageId":"abc123"}`)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.JSONEq(t, `{"success":false,"error":"Unauthorized","provider":"microsoft"}`, w.Body.String())
}

// postThroughGraph posts body to the action route with the real gateway and
// Outlook adapter pointed at graphURL.
func postThroughGraph(t *testing.T, graphURL, body string) *httptest.ResponseRecorder {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)
	verifier, err := auth.NewHMACVerifier(testSecret, "")
	require.NoError(t, err)

	gw := gateway.New(gateway.Options{Timeout: 5 * time.Second, Logger: log}).
		WithConstructor(email.ProviderMicrosoft, func(_ context.Context, _ string) (email.Service, error) {
			adapter, err := msgraphsdk.NewGraphRequestAdapter(&authentication.AnonymousAuthenticationProvider{})
			if err != nil {
				return nil, err
			}
			adapter.SetBaseUrl(graphURL + "/v1.0")
			return outlook.NewWithClient(msgraphsdk.NewGraphServiceClient(adapter)), nil
		})
	handler := NewServer(Options{
		Guard:  guards.New(verifier, guards.Options{Logger: log}),
		Emails: gw,
		Logger: log,
	}).Handler()

	minter, err := auth.NewMinter(testSecret, "")
	require.NoError(t, err)
	tok, err := minter.Mint(auth.Session{UserID: "u-1", Role: auth.RoleEmployee}, time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/email/action", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+tok)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}
