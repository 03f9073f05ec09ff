package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Martian-dev/crm-mail-gateway/internal/email"
)

func success(c *gin.Context, data any) {
	if data == nil {
		c.JSON(http.StatusOK, gin.H{"success": true})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": data})
}

// fail maps err onto the error taxonomy. Anything outside it is logged and
// answered with a bare 500.
func (s *Server) fail(c *gin.Context, err error) {
	if ve, ok := email.AsValidationError(err); ok {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Validation error",
			"details": ve.Details,
		})
		return
	}
	if ee, ok := email.AsEmailError(err); ok {
		c.JSON(ee.HTTPStatus(), gin.H{
			"success":  false,
			"error":    ee.Message,
			"provider": ee.Provider,
		})
		return
	}

	s.log.WithError(err).WithField("path", c.Request.URL.Path).Error("unhandled error")
	internalError(c)
}

func internalError(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
		"success": false,
		"error":   "Internal server error",
	})
}
