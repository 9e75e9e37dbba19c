package middleware

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

const (
	UserIDKey      = "userID"
	IsModeratorKey = "isModerator"
)

// Identity reads the caller from X-User-ID and X-Moderator. It identifies the
// caller only; authentication happens in front of this service.
func Identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("X-User-ID")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing X-User-ID header"})
			return
		}
		userID, err := strconv.ParseInt(header, 10, 64)
		if err != nil || userID <= 0 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid X-User-ID header"})
			return
		}

		moderator, _ := strconv.ParseBool(c.GetHeader("X-Moderator"))

		c.Set(UserIDKey, userID)
		c.Set(IsModeratorKey, moderator)
		c.Next()
	}
}
