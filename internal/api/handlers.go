package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/Martian-dev/crm-mail-gateway/internal/activity"
	"github.com/Martian-dev/crm-mail-gateway/internal/auth"
	"github.com/Martian-dev/crm-mail-gateway/internal/email"
	"github.com/Martian-dev/crm-mail-gateway/internal/guards"
)

const (
	defaultActivityLimit = 50
	maxActivityLimit     = 200
)

func (s *Server) getMessage(c *gin.Context) {
	var req messageRequest
	svc, ok := s.prepare(c, &req)
	if !ok {
		return
	}
	msg, err := svc.GetMessageByID(c.Request.Context(), req.MessageID)
	if err != nil {
		s.fail(c, err)
		return
	}
	success(c, msg)
}

func (s *Server) getFolders(c *gin.Context) {
	var req foldersRequest
	svc, ok := s.prepare(c, &req)
	if !ok {
		return
	}
	folders, err := svc.GetFolders(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	success(c, folders)
}

func (s *Server) getAttachments(c *gin.Context) {
	var req attachmentsRequest
	svc, ok := s.prepare(c, &req)
	if !ok {
		return
	}
	atts, err := svc.GetMessageAttachments(c.Request.Context(), req.MessageID, req.IncludeContent)
	if err != nil {
		s.fail(c, err)
		return
	}
	success(c, atts)
}

func (s *Server) performAction(c *gin.Context) {
	var req actionRequest
	svc, ok := s.prepare(c, &req)
	if !ok {
		return
	}
	if err := svc.PerformAction(c.Request.Context(), req.Action); err != nil {
		s.fail(c, err)
		return
	}
	s.record(c, req.Provider, string(req.Type), req.MessageID, "")
	success(c, nil)
}

func (s *Server) reply(c *gin.Context) {
	var req replyRequest
	svc, ok := s.prepare(c, &req)
	if !ok {
		return
	}
	id, err := svc.ReplyToEmail(c.Request.Context(), req.MessageID, req.Content, req.ReplyAll)
	if err != nil {
		s.fail(c, err)
		return
	}
	action := "reply"
	if req.ReplyAll {
		action = "reply_all"
	}
	s.record(c, req.Provider, action, req.MessageID, id)
	success(c, gin.H{"id": id})
}

func (s *Server) forward(c *gin.Context) {
	var req forwardRequest
	svc, ok := s.prepare(c, &req)
	if !ok {
		return
	}
	id, err := svc.ForwardEmail(c.Request.Context(), req.MessageID, req.Recipients, req.Content)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.record(c, req.Provider, "forward", req.MessageID, id)
	success(c, gin.H{"id": id})
}

func (s *Server) me(c *gin.Context) {
	sess, found := guards.SessionFrom(c)
	if !found {
		internalError(c)
		return
	}
	success(c, gin.H{
		"id":        sess.UserID,
		"name":      sess.Name,
		"email":     sess.Email,
		"role":      sess.Role,
		"isAdmin":   guards.IsAdmin(sess.Role),
		"isManager": guards.IsManager(sess.Role),
		"isUser":    guards.IsUser(sess.Role),
		"isB2B":     guards.IsB2B(sess.Role),
	})
}

func (s *Server) listActivity(c *gin.Context) {
	sess, found := guards.SessionFrom(c)
	if !found {
		internalError(c)
		return
	}

	limit := defaultActivityLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxActivityLimit {
			s.fail(c, email.Invalid("limit", "must be between 1 and "+strconv.Itoa(maxActivityLimit)))
			return
		}
		limit = n
	}

	events := []activity.Event{}
	if s.activity != nil {
		recent, err := s.activity.Recent(c.Request.Context(), sess.UserID, limit)
		if err != nil {
			s.fail(c, err)
			return
		}
		if recent != nil {
			events = recent
		}
	}
	success(c, events)
}

func (s *Server) healthz(c *gin.Context) {
	body := gin.H{"status": "ok"}
	if s.sessions != nil {
		body["sessionKeys"] = s.sessions.CacheStats()
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) page(name string) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, _ := guards.SessionFrom(c)
		c.JSON(http.StatusOK, gin.H{"page": name, "user": sess})
	}
}

// prepare decodes and validates the body into req, fills a missing access
// token from the caller's connected account and builds the email service.
// On failure the response has been written and ok is false.
func (s *Server) prepare(c *gin.Context, req request) (svc email.Service, ok bool) {
	if err := c.ShouldBindJSON(req); err != nil {
		s.fail(c, email.Invalid("body", "must be a valid JSON object"))
		return nil, false
	}
	if err := email.Validate(req); err != nil {
		s.fail(c, err)
		return nil, false
	}

	creds := req.creds()
	if err := s.resolveToken(c, creds); err != nil {
		s.fail(c, err)
		return nil, false
	}

	svc, err := s.emails.CreateEmailService(c.Request.Context(), email.Provider{
		Type:        creds.Provider,
		AccessToken: creds.AccessToken,
	})
	if err != nil {
		s.fail(c, err)
		return nil, false
	}
	return svc, true
}

func (s *Server) resolveToken(c *gin.Context, creds *credentials) error {
	if creds.AccessToken != "" {
		return nil
	}
	sess, found := guards.SessionFrom(c)
	if s.tokens == nil || !found {
		return email.Invalid("accessToken", "is required")
	}

	tok, err := s.tokens.GetToken(c.Request.Context(), sess.Token, auth.Provider(creds.Provider))
	switch {
	case errors.Is(err, auth.ErrNoAccount):
		return email.Invalid("accessToken", "is required: no connected "+string(creds.Provider)+" account")
	case err != nil:
		return email.NewEmailError(creds.Provider, http.StatusBadGateway, "failed to fetch account token", err)
	case tok == nil || tok.AccessToken == "":
		return email.Invalid("accessToken", "is required")
	}
	creds.AccessToken = tok.AccessToken
	return nil
}

// record stores a completed action. A failure is logged and never fails
// the request.
func (s *Server) record(c *gin.Context, provider email.ProviderType, action, messageID, resultID string) {
	if s.activity == nil {
		return
	}
	sess, found := guards.SessionFrom(c)
	if !found {
		return
	}
	if err := s.activity.RecordEmailAction(c.Request.Context(), sess.UserID, provider, action, messageID, resultID); err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{
			"user_id":  sess.UserID,
			"provider": provider,
			"action":   action,
		}).Warn("record activity failed")
	}
}
