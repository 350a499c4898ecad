package server

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"torquedash/internal/auth"
	"torquedash/internal/handler"
	"torquedash/internal/hub"
	"torquedash/internal/ingest"
	"torquedash/internal/livecache"
	"torquedash/internal/middleware"
	"torquedash/internal/socketio"
	"torquedash/internal/store"
)

const (
	liveRequestLimit  = 120
	liveRequestWindow = time.Minute
)

type Deps struct {
	Store       store.Store
	Hub         *hub.Hub
	LiveCache   *livecache.Cache
	Ingest      *ingest.Service
	TokenConfig auth.TokenConfig
	Logger      *slog.Logger

	// LiveRateLimiter guards the public live-session endpoints. Nil means
	// the default per-client budget.
	LiveRateLimiter *middleware.RateLimiter
}

func NewRouter(deps Deps) *gin.Engine {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Hub == nil {
		deps.Hub = hub.New(hub.WithLogger(deps.Logger))
	}
	if deps.LiveCache == nil {
		deps.LiveCache = livecache.New(livecache.WithLogger(deps.Logger))
	}
	if deps.Ingest == nil {
		deps.Ingest = ingest.NewService(ingest.Config{}, ingest.Deps{
			Store:     deps.Store,
			Live:      deps.LiveCache,
			Publisher: deps.Hub,
			Logger:    deps.Logger,
		})
	}
	if deps.LiveRateLimiter == nil {
		deps.LiveRateLimiter = middleware.NewRateLimiter(liveRequestLimit, liveRequestWindow)
	}
	liveOnly := deps.Ingest.LiveOnlyMode()

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.Logger())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"ok": true, "liveOnlyMode": liveOnly})
	})

	api := r.Group("/api")

	uploadHandler := &handler.UploadHandler{Ingest: deps.Ingest, Logger: deps.Logger}
	api.GET("/upload", uploadHandler.Upload)

	liveHandler := &handler.LiveHandler{Cache: deps.LiveCache, LiveOnlyMode: liveOnly}
	live := api.Group("/live-sessions")
	live.Use(middleware.RateLimitMiddleware(deps.LiveRateLimiter))
	live.GET("", liveHandler.List)
	live.GET("/:sessionId", liveHandler.Get)

	sessionHandler := &handler.SessionHandler{Store: deps.Store, Logger: deps.Logger}
	api.GET("/sessions/shared/:shareId", sessionHandler.SharedList)
	api.GET("/sessions/shared/:shareId/:sessionId", sessionHandler.SharedGet)

	protected := api.Group("")
	protected.Use(middleware.RequireAuth(deps.TokenConfig))
	protected.GET("/sessions", sessionHandler.List)
	protected.GET("/sessions/active", sessionHandler.Active)
	protected.GET("/sessions/:sessionId", sessionHandler.Get)
	protected.GET("/sessions/:sessionId/sensors", sessionHandler.Sensors)
	protected.DELETE("/sessions/:sessionId", sessionHandler.Delete)

	accountHandler := &handler.AccountHandler{Store: deps.Store, LiveOnlyMode: liveOnly, Logger: deps.Logger}
	protected.GET("/users/settings", accountHandler.Settings)
	protected.PATCH("/users/settings/live-mode", accountHandler.UpdateLiveMode)
	protected.GET("/users/forwardurls", accountHandler.ForwardURLs)
	protected.PUT("/users/forwardurls", accountHandler.UpdateForwardURLs)
	protected.GET("/users/shareid", accountHandler.ShareID)
	protected.PATCH("/users/shareid", accountHandler.ToggleShareID)

	sio := socketio.NewServer(socketio.Deps{Hub: deps.Hub, Logger: deps.Logger})
	r.GET("/socket.io/", gin.WrapH(sio))

	wsHandler := &handler.WebSocketHandler{Hub: deps.Hub, Logger: deps.Logger}
	r.GET("/ws", wsHandler.Serve)

	return r
}
