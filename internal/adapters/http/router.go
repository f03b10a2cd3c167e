// Package http exposes the seat adjudicator, token issuer and sync gateway.
package http

import (
	"context"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Stage/internal/adapters/signal"
	"github.com/dkeye/Stage/internal/app/realtime"
	"github.com/dkeye/Stage/internal/app/seats"
	"github.com/dkeye/Stage/internal/config"
	"github.com/dkeye/Stage/internal/token"
)

const sessionName = "StageSessions"

type Deps struct {
	Seats    *seats.Service
	Issuer   *token.Issuer
	Verifier *token.Verifier
	Gateway  *signal.Gateway
	Hub      *realtime.Hub
	MediaURL string
}

func SetupRouter(ctx context.Context, cfg *config.Config, d Deps) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	store.Options(sessions.Options{Path: "/", MaxAge: 3600 * 24 * 7, HttpOnly: true, SameSite: http.SameSiteLaxMode})
	r.Use(sessions.Sessions(sessionName, store))

	h := &handlers{deps: d}

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")
	api.POST("/session", h.createSession)

	authed := api.Group("", AuthMiddleware(d.Verifier))
	authed.GET("/me", h.me)
	authed.GET("/rooms", h.listRooms)
	authed.GET("/rooms/:room/seats", h.listSeats)
	authed.POST("/rooms/:room/seats/claim", h.claimSeat)
	authed.POST("/rooms/:room/seats/release", h.releaseSeat)
	authed.DELETE("/rooms/:room/seats", h.clearSeats)
	authed.POST("/token", h.issueToken)
	authed.GET("/ws/sync", func(c *gin.Context) {
		actor := ActorFrom(c)
		log.Info().Str("module", "adapters.http").Str("identity", actor.Identity).Msg("ws sync endpoint hit")
		d.Gateway.HandleSync(ctx, c, actor)
	})

	log.Info().Str("module", "adapters.http").Str("mode", cfg.Mode).Msg("router setup")
	return r
}
