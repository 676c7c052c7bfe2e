package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/rx-api/pkg/httputil"
)

// ErrorHandler answers for handlers that attached an error with c.Error but
// wrote no response.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		httputil.RespondWithError(c, c.Errors.Last().Err)
	}
}
