package middlewares

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// MaxBodyBytes rejects requests that declare a body over limit and caps the rest, so a
// chunked upload fails inside the JSON decoder instead of being read in full.
func MaxBodyBytes(limit int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > limit {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{
				"error": gin.H{
					"code":      "request_too_large",
					"message":   "Request body too large",
					"requestId": c.GetString(CtxRequestID),
					"details":   gin.H{"limitBytes": limit},
				},
			})
			return
		}

		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		c.Next()
	}
}
