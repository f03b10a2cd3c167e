package http

import (
	"strings"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"

	"github.com/dkeye/Stage/internal/domain"
	"github.com/dkeye/Stage/internal/token"
)

const (
	actorKey      = "actor"
	sessionBearer = "bearer"
)

func bearerFrom(c *gin.Context) string {
	h := c.GetHeader("Authorization")
	if raw, ok := strings.CutPrefix(h, "Bearer "); ok {
		return strings.TrimSpace(raw)
	}
	return ""
}

// AuthMiddleware accepts a bearer header or the token stored in the session
// cookie by POST /api/session. Browsers cannot set headers on websocket
// upgrades, hence the cookie.
func AuthMiddleware(v *token.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := bearerFrom(c)
		if raw == "" {
			if s, ok := sessions.Default(c).Get(sessionBearer).(string); ok {
				raw = s
			}
		}
		if raw == "" {
			abortWithError(c, domain.ErrUnauthorized)
			return
		}
		actor, err := v.Verify(raw)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.Set(actorKey, actor)
		c.Next()
	}
}

func ActorFrom(c *gin.Context) domain.Actor {
	if v, ok := c.Get(actorKey); ok {
		if a, ok := v.(domain.Actor); ok {
			return a
		}
	}
	return domain.Actor{}
}
