package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/sotakn/campus-timetable-api/internal/models"
	"github.com/sotakn/campus-timetable-api/internal/service"
	appErrors "github.com/sotakn/campus-timetable-api/pkg/errors"
	"github.com/sotakn/campus-timetable-api/pkg/response"
)

// ContextUserKey is the gin context key storing JWT claims.
const ContextUserKey = "currentUser"

// JWT protects routes by requiring a valid access token.
func JWT(tokens *service.TokenService) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			response.Error(c, appErrors.Clone(appErrors.ErrUnauthorized, "invalid authorization header"))
			c.Abort()
			return
		}

		claims, err := tokens.ValidateToken(parts[1])
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}

		c.Set(ContextUserKey, claims)
		c.Next()
	}
}

// CurrentUserID extracts the authenticated user's ID from the request
// context. It returns empty when the route is unauthenticated.
func CurrentUserID(c *gin.Context) string {
	value, ok := c.Get(ContextUserKey)
	if !ok {
		return ""
	}
	claims, ok := value.(*models.TokenClaims)
	if !ok {
		return ""
	}
	return claims.UserID()
}
