package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"notifygate/internal/models"
)

// CorrelationID tags every request with an opaque ID, honoring one
// supplied by the caller.
func CorrelationID() gin.HandlerFunc {
	return func(c *gin.Context) {
		correlationID := c.GetHeader("X-Correlation-ID")
		if correlationID == "" {
			correlationID = uuid.New().String()
		}
		c.Set("correlationID", correlationID)
		c.Header("X-Correlation-ID", correlationID)
		c.Next()
	}
}

// Authentication verifies the bearer credential. Routes mounted
// outside this middleware (health) skip the check entirely.
func Authentication(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, models.ErrorResponse(
				models.CodeMissingCredential,
				"Authorization header is required",
			))
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, models.ErrorResponse(
				models.CodeMalformedCredential,
				"Authorization header must be: Bearer <token>",
			))
			return
		}

		token, err := jwt.Parse(parts[1], func(token *jwt.Token) (interface{}, error) {
			return []byte(jwtSecret), nil
		}, jwt.WithValidMethods([]string{"HS256"}))
		if err != nil || !token.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, models.ErrorResponse(
				models.CodeInvalidCredential,
				"Authentication token is invalid or expired",
			))
			return
		}

		if claims, ok := token.Claims.(jwt.MapClaims); ok {
			if sub, ok := claims["user_id"].(string); ok {
				c.Set("auth_user_id", sub)
			}
		}
		c.Next()
	}
}
