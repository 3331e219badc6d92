package middlewares

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/hoa_backend/config"
	"github.com/mmdatafocus/hoa_backend/utils"
)

// Session is what the login service stores in Redis under "Token:<token>".
type Session struct {
	Username string `json:"username"`
	Role     string `json:"role"`
}

// SessionMiddleware accepts an opaque session token in the "token" header.
func SessionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Request.Header.Get("token")
		if token == "" {
			c.Next()
			return
		}
		var session Session
		exists, err := config.GetRedisObject(c.Request.Context(), "Token:"+token, &session)
		if err != nil || !exists || session.Username == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		ctx := utils.SetTokenInContext(c.Request.Context(), token)
		ctx = utils.SetUsernameInContext(ctx, session.Username)
		ctx = utils.SetIsAdminInContext(ctx, session.Role == utils.RoleOfficial)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
