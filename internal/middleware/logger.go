package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/rx-api/pkg/logger"
)

// Logger logs one line per request. Bodies are never logged; they carry
// patient data.
func Logger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		if raw != "" {
			path = path + "?" + raw
		}
		status := c.Writer.Status()
		fields := []interface{}{
			"request_id", c.GetString(ContextRequestID),
			"client_ip", c.ClientIP(),
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"latency", time.Since(start).String(),
		}
		if identity := IdentityFrom(c); identity != nil {
			fields = append(fields, "user_id", identity.UserID.String(), "role", string(identity.Role))
		}

		var err error
		if last := c.Errors.Last(); last != nil {
			err = last.Err
		}

		switch {
		case status >= 500:
			log.Error(err, "server error", fields...)
		case status >= 400:
			if err != nil {
				fields = append(fields, "error", err.Error())
			}
			log.Warn("client error", fields...)
		default:
			log.Info("request processed", fields...)
		}
	}
}
