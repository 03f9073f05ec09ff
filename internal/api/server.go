// Package api exposes the guard-protected email endpoints and page routes
// over gin.
package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/Martian-dev/crm-mail-gateway/internal/activity"
	"github.com/Martian-dev/crm-mail-gateway/internal/auth"
	"github.com/Martian-dev/crm-mail-gateway/internal/email"
	"github.com/Martian-dev/crm-mail-gateway/internal/guards"
	"github.com/Martian-dev/crm-mail-gateway/internal/metrics"
	"github.com/Martian-dev/crm-mail-gateway/internal/rate"
)

// ServiceFactory builds an email service for one request.
type ServiceFactory interface {
	CreateEmailService(ctx context.Context, p email.Provider) (email.Service, error)
}

// AccountTokens looks up the caller's connected provider token.
type AccountTokens interface {
	GetToken(ctx context.Context, bearer string, provider auth.Provider) (*auth.Token, error)
}

// KeyStats reports the state of the session verifier's key set.
type KeyStats interface {
	CacheStats() auth.KeyCacheStats
}

// ActivityRecorder stores completed email actions.
type ActivityRecorder interface {
	RecordEmailAction(ctx context.Context, userID string, provider email.ProviderType, action, messageID, resultID string) error
	Recent(ctx context.Context, userID string, limit int) ([]activity.Event, error)
}

type Options struct {
	Guard  *guards.Guard
	Emails ServiceFactory

	// Optional collaborators.
	Tokens   AccountTokens
	Activity ActivityRecorder
	Limiter  *rate.Limiter
	Gatherer prometheus.Gatherer
	Sessions KeyStats

	Logger  *logrus.Logger
	Metrics *metrics.Metrics
}

type Server struct {
	guard    *guards.Guard
	emails   ServiceFactory
	tokens   AccountTokens
	activity ActivityRecorder
	limiter  *rate.Limiter
	gatherer prometheus.Gatherer
	sessions KeyStats
	log      *logrus.Logger
	metrics  *metrics.Metrics
}

func NewServer(opts Options) *Server {
	s := &Server{
		guard:    opts.Guard,
		emails:   opts.Emails,
		tokens:   opts.Tokens,
		activity: opts.Activity,
		limiter:  opts.Limiter,
		gatherer: opts.Gatherer,
		sessions: opts.Sessions,
		log:      opts.Logger,
		metrics:  opts.Metrics,
	}
	if s.log == nil {
		s.log = logrus.StandardLogger()
	}
	return s
}

// Handler builds the gin engine with every route registered.
func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.Use(requestLogger(s.log, s.metrics), recovery(s.log))

	r.GET("/healthz", s.healthz)
	if s.gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}

	r.GET("/dashboard", s.guard.Page(guards.UserRoles), s.page("dashboard"))
	r.GET("/admin", s.guard.Page(guards.AdminRoles), s.page("admin"))
	r.GET("/manager", s.guard.Page(guards.ManagerRoles), s.page("manager"))
	r.GET("/b2b", s.guard.Page(guards.B2BRoles), s.page("b2b"))

	api := r.Group("/api", s.guard.API(guards.UserRoles))
	if s.limiter != nil {
		api.Use(s.limiter.Middleware(callerKey))
	}
	api.GET("/me", s.me)
	api.GET("/activity", s.listActivity)

	mail := api.Group("/email")
	mail.POST("/message", s.getMessage)
	mail.POST("/folders", s.getFolders)
	mail.POST("/attachments", s.getAttachments)
	mail.POST("/action", s.performAction)
	mail.POST("/reply", s.reply)
	mail.POST("/forward", s.forward)

	return r
}

// callerKey identifies the rate limit bucket: the session user, else the
// client address.
func callerKey(c *gin.Context) string {
	if s, ok := guards.SessionFrom(c); ok {
		return "user:" + s.UserID
	}
	return "ip:" + c.ClientIP()
}
