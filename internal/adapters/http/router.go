// Package http is the browser-facing boundary of a consultation screen:
// call controls and a server-sent event stream of call snapshots.
package http

import (
	"net/http"

	"github.com/dkeye/consult/internal/app/screen"
	"github.com/dkeye/consult/internal/config"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

func genClientToken() string {
	idStr := uuid.NewString()
	return idStr
}

func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = genClientToken()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

// Deps are the collaborators the router serves.
type Deps struct {
	Screens *screen.Registry
	Limiter *StartLimiter
	Metrics prometheus.Gatherer
}

func SetupRouter(cfg *config.Config, d Deps) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	store.Options(sessions.Options{Path: "/", MaxAge: 3600 * 24 * 7, HttpOnly: true})
	r.Use(sessions.Sessions("ConsultSessions", store))
	r.Use(ClientTokenMiddleware())

	r.Static("/static", cfg.StaticPath)
	r.GET("/", func(c *gin.Context) {
		c.File(cfg.StaticPath + "/index.html")
	})

	h := &handlers{screens: d.Screens, limiter: d.Limiter}

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "screens": d.Screens.Len()})
	})
	if d.Metrics != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Metrics, promhttp.HandlerOpts{})))
	}

	api := r.Group("/api")

	api.POST("/screen", h.openScreen)
	api.DELETE("/screen", h.closeScreen)

	callAPI := api.Group("/call", h.requireScreen)
	callAPI.GET("", h.snapshot)
	callAPI.GET("/events", h.events)
	callAPI.POST("/start", h.start)
	callAPI.POST("/accept", h.accept)
	callAPI.POST("/end", h.end)
	callAPI.POST("/mute", h.mute)
	callAPI.POST("/video", h.video)
	callAPI.POST("/camera", h.camera)

	log.Info().
		Str("module", "adapters.http").
		Str("static", cfg.StaticPath).
		Msg("router setup")
	return r
}
