package api

import (
	"io"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Martian-dev/crm-mail-gateway/internal/guards"
	"github.com/Martian-dev/crm-mail-gateway/internal/metrics"
)

const requestIDHeader = "X-Request-ID"

func requestLogger(log *logrus.Logger, m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		reqID := c.GetHeader(requestIDHeader)
		if reqID == "" {
			reqID = uuid.NewString()
		}
		c.Header(requestIDHeader, reqID)

		c.Next()

		status := c.Writer.Status()
		m.HTTPResponse(c.FullPath(), status)

		fields := logrus.Fields{
			"request_id": reqID,
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     status,
			"latency_ms": time.Since(start).Milliseconds(),
			"client_ip":  c.ClientIP(),
		}
		if s, ok := guards.SessionFrom(c); ok {
			fields["user_id"] = s.UserID
		}
		entry := log.WithFields(fields)
		switch {
		case status >= 500:
			entry.Error("request")
		case status >= 400:
			entry.Warn("request")
		default:
			entry.Info("request")
		}
	}
}

func recovery(log *logrus.Logger) gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(io.Discard, func(c *gin.Context, rec any) {
		log.WithFields(logrus.Fields{
			"panic": rec,
			"path":  c.Request.URL.Path,
		}).Error("panic recovered")
		internalError(c)
	})
}
