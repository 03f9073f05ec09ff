// Package guards decides whether a request may reach a handler, based on the
// caller's session and role.
//
// The Require* functions return a Decision instead of transferring control,
// so the caller chooses whether a failure becomes a redirect (page routes) or
// a JSON status (API routes). The predicates answer the same questions for a
// role that is already known, without side effects.
package guards

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/sirupsen/logrus"

	"github.com/Martian-dev/crm-mail-gateway/internal/auth"
	"github.com/Martian-dev/crm-mail-gateway/internal/metrics"
)

// SessionResolver returns the session of the request, or an error when the
// request is not authenticated.
type SessionResolver interface {
	ResolveSession(r *http.Request) (*auth.Session, error)
}

// RoleSet is an allow-list of roles.
type RoleSet []auth.Role

func (s RoleSet) Contains(r auth.Role) bool {
	for _, allowed := range s {
		if allowed == r {
			return true
		}
	}
	return false
}

var (
	AdminRoles   = RoleSet{auth.RoleAdmin}
	ManagerRoles = RoleSet{auth.RoleAdmin, auth.RoleManager}
	UserRoles    = RoleSet{auth.RoleAdmin, auth.RoleManager, auth.RoleEmployee, auth.RoleB2B, auth.RoleUser}
	B2BRoles     = RoleSet{auth.RoleB2B}
)

// Outcome classifies a Decision.
type Outcome int

const (
	Authorized Outcome = iota
	Unauthenticated
	Forbidden
)

func (o Outcome) String() string {
	switch o {
	case Authorized:
		return "authorized"
	case Unauthenticated:
		return "unauthenticated"
	case Forbidden:
		return "forbidden"
	default:
		return "unknown"
	}
}

// Decision is the result of a guard check. Session is set only when the
// outcome is Authorized; Redirect is set otherwise.
type Decision struct {
	Outcome  Outcome
	Session  *auth.Session
	Redirect string
}

func (d Decision) Authorized() bool {
	return d.Outcome == Authorized && d.Session != nil
}

// Options configures a Guard.
type Options struct {
	SignInPath  string
	LandingPath string
	Logger      *logrus.Logger
	Metrics     *metrics.Metrics
}

// Guard enforces authentication and role membership. It holds no per-request
// state and is safe for concurrent use.
type Guard struct {
	resolver    SessionResolver
	signInPath  string
	landingPath string
	log         *logrus.Logger
	metrics     *metrics.Metrics
}

func New(resolver SessionResolver, opts Options) *Guard {
	g := &Guard{
		resolver:    resolver,
		signInPath:  opts.SignInPath,
		landingPath: opts.LandingPath,
		log:         opts.Logger,
		metrics:     opts.Metrics,
	}
	if g.signInPath == "" {
		g.signInPath = "/sign-in"
	}
	if g.landingPath == "" {
		g.landingPath = "/dashboard"
	}
	if g.log == nil {
		g.log = logrus.StandardLogger()
	}
	return g
}

// RequireAuth resolves the session of r. Without one the decision redirects
// to the sign-in page, carrying the requested path as callbackUrl.
func (g *Guard) RequireAuth(r *http.Request) Decision {
	s, err := g.resolver.ResolveSession(r)
	if err != nil || s == nil {
		if err != nil && !errors.Is(err, auth.ErrNoToken) {
			g.log.WithError(err).WithField("path", r.URL.Path).Debug("session rejected")
		}
		return Decision{Outcome: Unauthenticated, Redirect: g.signInURL(r)}
	}
	return Decision{Outcome: Authorized, Session: s}
}

// RequireRole composes RequireAuth with an allow-list check. A session whose
// role is outside allowed is redirected to the landing page. An empty
// allow-list admits nobody.
func (g *Guard) RequireRole(r *http.Request, allowed RoleSet) Decision {
	d := g.RequireAuth(r)
	if !d.Authorized() {
		return d
	}
	if !allowed.Contains(d.Session.Role) {
		g.log.WithFields(logrus.Fields{
			"user_id": d.Session.UserID,
			"role":    d.Session.Role,
			"path":    r.URL.Path,
		}).Info("role not permitted")
		return Decision{Outcome: Forbidden, Redirect: g.landingPath}
	}
	return d
}

func (g *Guard) RequireAdmin(r *http.Request) Decision   { return g.RequireRole(r, AdminRoles) }
func (g *Guard) RequireManager(r *http.Request) Decision { return g.RequireRole(r, ManagerRoles) }
func (g *Guard) RequireUser(r *http.Request) Decision    { return g.RequireRole(r, UserRoles) }
func (g *Guard) RequireB2B(r *http.Request) Decision     { return g.RequireRole(r, B2BRoles) }

func (g *Guard) signInURL(r *http.Request) string {
	callback := r.URL.RequestURI()
	if callback == "" || callback == g.signInPath {
		return g.signInPath
	}
	return g.signInPath + "?" + url.Values{"callbackUrl": {callback}}.Encode()
}

// HasRole reports whether role is a member of allowed.
func HasRole(role auth.Role, allowed RoleSet) bool { return allowed.Contains(role) }

func IsAdmin(role auth.Role) bool   { return AdminRoles.Contains(role) }
func IsManager(role auth.Role) bool { return ManagerRoles.Contains(role) }
func IsUser(role auth.Role) bool    { return UserRoles.Contains(role) }
func IsB2B(role auth.Role) bool     { return B2BRoles.Contains(role) }
