package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
	"gorm.io/gorm"

	"github.com/roumaissazd/ApplicationSummerIntership/internal/auth"
	"github.com/roumaissazd/ApplicationSummerIntership/internal/config"
	"github.com/roumaissazd/ApplicationSummerIntership/internal/directory"
	"github.com/roumaissazd/ApplicationSummerIntership/internal/metrics"
	"github.com/roumaissazd/ApplicationSummerIntership/internal/mw"
	"github.com/roumaissazd/ApplicationSummerIntership/internal/service"
	"github.com/roumaissazd/ApplicationSummerIntership/internal/ws"
)

// SetupRouter wires middleware, the chat REST API and the websocket endpoint.
func SetupRouter(cfg config.Config, db *gorm.DB, hub *ws.Hub, typing *ws.TypingBroadcaster) *gin.Engine {
	dir := directory.New(db)
	convs := service.NewConversationService(db, dir)
	msgs := service.NewMessageService(db, convs, dir, cfg.HistoryPageSize)
	h := NewHandler(convs, msgs, hub)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(metrics.GinMiddleware())
	r.Use(mw.CORS(cfg.Env))
	r.Use(mw.RateLimit(rate.Every(time.Second/20), 40))

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api/v1")
	authed := api.Group("")
	authed.Use(auth.Middleware(cfg))

	authed.GET("/conversations", h.ListConversations)
	authed.POST("/conversations", h.CreateConversation)
	authed.GET("/conversations/:id", h.GetConversation)
	authed.GET("/conversations/:id/messages", h.ListMessages)
	authed.POST("/messages", h.SendMessage)
	authed.POST("/messages/read", h.MarkRead)

	// The websocket endpoint authenticates itself (token query param support).
	r.GET("/ws", ws.Serve(hub, typing, convs, msgs, cfg))

	return r
}
