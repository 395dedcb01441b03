package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/drleavio/chatapp/internal/auth"
)

const (
	// SessionCookie carries the session token for browser clients.
	SessionCookie = "session"

	ctxUserID = "userID"
	ctxClaims = "claims"
)

// Sessions issues and reads session tokens on HTTP requests.
type Sessions struct {
	Codec *auth.Codec
	// Secure marks the cookie https-only; set in production.
	Secure bool
}

// Issue signs a session for claims and sets it as the session cookie.
func (s *Sessions) Issue(c *gin.Context, claims *auth.Claims) (string, error) {
	token, expiresAt, err := s.Codec.GenerateToken(claims)
	if err != nil {
		return "", err
	}
	s.setCookie(c, token, expiresAt)
	return token, nil
}

// Clear removes the session cookie.
func (s *Sessions) Clear(c *gin.Context) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Sessions) setCookie(c *gin.Context, token string, expiresAt time.Time) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     SessionCookie,
		Value:    token,
		Path:     "/",
		Expires:  expiresAt,
		MaxAge:   int(time.Until(expiresAt).Seconds()),
		HttpOnly: true,
		Secure:   s.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// tokenFromRequest looks at the Authorization header, then the session cookie,
// then (for websocket upgrades, where browsers cannot set headers) the token query parameter.
func tokenFromRequest(c *gin.Context, allowQuery bool) string {
	if header := c.GetHeader("Authorization"); strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	if cookie, err := c.Cookie(SessionCookie); err == nil && cookie != "" {
		return cookie
	}
	if allowQuery {
		return c.Query("token")
	}
	return ""
}

// AuthMiddleware validates the session and sets the caller in context.
// A session past half of its lifetime is re-issued.
func (s *Sessions) AuthMiddleware(allowQuery bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := tokenFromRequest(c, allowQuery)
		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
			return
		}

		claims, err := s.Codec.ValidateToken(tokenString)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
			return
		}

		// ValidateToken guarantees a well-formed id.
		userID, _ := claims.UUID()
		c.Set(ctxUserID, userID)
		c.Set(ctxClaims, claims)

		if s.Codec.NeedsRefresh(claims) {
			if token, expiresAt, err := s.Codec.RefreshToken(claims); err == nil {
				s.setCookie(c, token, expiresAt)
			} else {
				log.Warn("Failed to refresh session for %s: %v", userID, err)
			}
		}

		c.Next()
	}
}

// CurrentClaims returns the session claims placed by AuthMiddleware.
func CurrentClaims(c *gin.Context) (*auth.Claims, bool) {
	value, exists := c.Get(ctxClaims)
	if !exists {
		return nil, false
	}
	claims, ok := value.(*auth.Claims)
	return claims, ok
}

func currentUserID(c *gin.Context) (uuid.UUID, bool) {
	value, exists := c.Get(ctxUserID)
	if !exists {
		return uuid.Nil, false
	}
	id, ok := value.(uuid.UUID)
	return id, ok
}
