package server

import (
	"net/http"
	"time"

	"github.com/tufan8877/whisper3-sub000/internal/auth"
	"github.com/tufan8877/whisper3-sub000/internal/config"
	"github.com/tufan8877/whisper3-sub000/internal/metrics"
	"github.com/tufan8877/whisper3-sub000/internal/mw"
	"github.com/tufan8877/whisper3-sub000/internal/service"
	"github.com/tufan8877/whisper3-sub000/internal/store"
	"github.com/tufan8877/whisper3-sub000/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

// SetupRouter 统一初始化 Gin 中间件、REST API 以及 WebSocket 端点。
func SetupRouter(cfg config.Config, st store.Store, hub *ws.Hub) *gin.Engine {
	userSvc := service.NewUserService(st, cfg)
	chatSvc := service.NewChatService(st)
	msgSvc := service.NewMessageService(st)
	h := NewHandler(userSvc, chatSvc, msgSvc)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(metrics.GinMiddleware())
	r.Use(mw.CORS(cfg.AllowedOrigins))
	r.Use(mw.RateLimit(rate.Every(time.Second/20), 40))

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api/v1")
	api.POST("/auth/register", h.Register)
	api.POST("/auth/login", h.Login)
	api.POST("/auth/refresh", h.RefreshToken)

	authed := api.Group("")
	authed.Use(auth.AuthMiddleware(cfg, st))
	authed.GET("/users/search", h.SearchUsers)
	authed.POST("/users/:id/block", h.BlockUser)
	authed.POST("/chats", h.CreateChat)
	authed.GET("/chats/:id", h.ListChats)
	authed.GET("/chats/:id/messages", h.ListMessages)
	authed.POST("/chats/:id/mark-read", h.MarkRead)
	authed.POST("/chats/:id/delete", h.DeleteChat)

	r.GET("/ws", ws.Serve(hub, ws.Deps{
		Cfg:      cfg,
		Store:    st,
		Users:    userSvc,
		Chats:    chatSvc,
		Messages: msgSvc,
	}))

	return r
}
