package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"gardian_admin/internal/models"
	"gardian_admin/internal/session"
)

// SessionCookie carries the session token for page requests.
const SessionCookie = "gardian_session"

const (
	ctxSessionKey = "session"
	ctxAdminKey   = "admin"
)

// SessionResolver turns a token into a session state.
type SessionResolver interface {
	Resolve(ctx context.Context, token string) (session.State, error)
}

// SessionToken finds the token on a request: bearer header, then cookie, then ?token=.
func SessionToken(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	if v, err := c.Cookie(SessionCookie); err == nil && v != "" {
		return v
	}
	return c.Query("token")
}

// RequireAdmin rejects API requests without an administrator session with 401.
func RequireAdmin(sessions SessionResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !authorize(c, sessions) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			return
		}
		c.Next()
	}
}

// RequireAdminPage redirects page requests without an administrator session to /login. It
// runs on every request, so a session that expires mid-visit is caught on the next navigation.
func RequireAdminPage(sessions SessionResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !authorize(c, sessions) {
			c.Redirect(http.StatusFound, "/login")
			c.Abort()
			return
		}
		c.Next()
	}
}

func authorize(c *gin.Context, sessions SessionResolver) bool {
	st, err := sessions.Resolve(c.Request.Context(), SessionToken(c))
	if err != nil {
		return false
	}
	c.Set(ctxSessionKey, st)
	c.Set(ctxAdminKey, st.User)
	return true
}

// CurrentSession returns the session stored by the guard.
func CurrentSession(c *gin.Context) (session.State, bool) {
	v, ok := c.Get(ctxSessionKey)
	if !ok {
		return session.State{}, false
	}
	st, ok := v.(session.State)
	return st, ok
}

// CurrentAdmin returns the administrator record stored by the guard.
func CurrentAdmin(c *gin.Context) *models.User {
	v, ok := c.Get(ctxAdminKey)
	if !ok {
		return nil
	}
	u, _ := v.(*models.User)
	return u
}
