package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const claimsKey = "auth.claims"

// ClaimsFrom returns the claims RequireRole stored on the request.
func ClaimsFrom(c *gin.Context) (Claims, bool) {
	v, ok := c.Get(claimsKey)
	if !ok {
		return Claims{}, false
	}
	claims, ok := v.(Claims)
	return claims, ok
}

// RequireRole rejects requests without a valid bearer token carrying role.
// With disabled set every request passes; without a secret every request
// is refused.
func RequireRole(j JWT, role string, disabled bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if disabled {
			c.Next()
			return
		}
		tok := bearerToken(c.GetHeader("Authorization"))
		if tok == "" {
			abort(c, http.StatusUnauthorized, "missing bearer token")
			return
		}
		claims, err := j.Parse(tok)
		if errors.Is(err, ErrNoSecret) {
			abort(c, http.StatusServiceUnavailable, "admin api not configured")
			return
		}
		if err != nil {
			abort(c, http.StatusUnauthorized, "invalid token")
			return
		}
		if claims.Role != role {
			abort(c, http.StatusForbidden, "forbidden")
			return
		}
		c.Set(claimsKey, claims)
		c.Next()
	}
}

func abort(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, gin.H{"code": status, "message": message})
}

func bearerToken(v string) string {
	v = strings.TrimSpace(v)
	parts := strings.SplitN(v, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
