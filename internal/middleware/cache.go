package middleware

import (
	"github.com/gin-gonic/gin"
)

// NoStore keeps prescription and patient responses out of shared and
// browser caches.
func NoStore() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Cache-Control", "no-store, private")
		c.Header("Pragma", "no-cache")
		c.Next()
	}
}
