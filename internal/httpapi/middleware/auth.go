package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/visionquest-ai/backend/internal/common"
)

const UserIDKey = "user_id"

// AuthOptional resolves the caller's identity from a Bearer token when
// one is present. Requests without a token stay anonymous; requests
// with a bad token are rejected rather than downgraded.
func AuthOptional(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		if auth == "" {
			c.Next()
			return
		}
		raw := strings.TrimPrefix(auth, "Bearer ")
		if raw == auth || raw == "" {
			common.Fail(c, http.StatusUnauthorized, 40100, "malformed authorization header")
			c.Abort()
			return
		}

		claims := jwt.MapClaims{}
		token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return []byte(secret), nil
		})
		if err != nil || !token.Valid {
			common.Fail(c, http.StatusUnauthorized, 40101, "invalid token")
			c.Abort()
			return
		}

		if sub, _ := claims["sub"].(string); sub != "" {
			c.Set(UserIDKey, sub)
		}
		c.Next()
	}
}

// UserID returns the authenticated identity or "" when anonymous.
func UserID(c *gin.Context) string {
	return c.GetString(UserIDKey)
}
