package middlewares

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/hoa_backend/utils"
)

// AuthMiddleware reads a bearer token and puts the caller on the request context.
// Requests without the header pass through anonymous; RequireSession rejects them later.
func AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.Request.Header.Get("Authorization")
		if auth == "" {
			c.Next()
			return
		}

		bearer := "Bearer "
		if !strings.HasPrefix(auth, bearer) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		token := auth[len(bearer):]

		validate, err := utils.JwtValidate(token)
		if err != nil || !validate.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		customClaim, ok := validate.Claims.(*utils.JwtCustomClaim)
		if !ok || customClaim.Username == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		ctx := utils.SetTokenInContext(c.Request.Context(), token)
		ctx = utils.SetUsernameInContext(ctx, customClaim.Username)
		ctx = utils.SetIsAdminInContext(ctx, customClaim.Role == utils.RoleOfficial)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// RequireSession rejects anonymous requests.
func RequireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		if username, ok := utils.GetUsernameFromContext(c.Request.Context()); !ok || username == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

// RequireOfficial rejects callers without the official role.
func RequireOfficial() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		if username, ok := utils.GetUsernameFromContext(ctx); !ok || username == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		if isAdmin, _ := utils.GetIsAdminFromContext(ctx); !isAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "only officials may do this"})
			return
		}
		c.Next()
	}
}
