package guards

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Martian-dev/crm-mail-gateway/internal/auth"
)

const sessionKey = "guards.session"

// Page guards a page route. Failed decisions answer with a 302 to the
// decision's redirect and the handler chain stops.
func (g *Guard) Page(allowed RoleSet) gin.HandlerFunc {
	mustNotBeEmpty(allowed)
	return func(c *gin.Context) {
		d := g.RequireRole(c.Request, allowed)
		g.metrics.GuardDecision("page", d.Outcome.String())
		if !d.Authorized() {
			c.Redirect(http.StatusFound, d.Redirect)
			c.Abort()
			return
		}
		c.Set(sessionKey, d.Session)
		c.Next()
	}
}

// API guards a JSON route. A missing session answers 401 and a role outside
// allowed answers 403; neither redirects.
func (g *Guard) API(allowed RoleSet) gin.HandlerFunc {
	mustNotBeEmpty(allowed)
	return func(c *gin.Context) {
		d := g.RequireRole(c.Request, allowed)
		g.metrics.GuardDecision("api", d.Outcome.String())
		switch d.Outcome {
		case Authorized:
			c.Set(sessionKey, d.Session)
			c.Next()
		case Forbidden:
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"success": false, "error": "Forbidden"})
		default:
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "Unauthorized"})
		}
	}
}

// SessionFrom returns the session a guard middleware attached to c.
func SessionFrom(c *gin.Context) (*auth.Session, bool) {
	v, ok := c.Get(sessionKey)
	if !ok {
		return nil, false
	}
	s, ok := v.(*auth.Session)
	return s, ok && s != nil
}

func mustNotBeEmpty(allowed RoleSet) {
	if len(allowed) == 0 {
		panic("guards: empty role set")
	}
}
