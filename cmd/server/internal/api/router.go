package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/houzhh15/meeting-proxy/cmd/server/internal/conversation"
	"github.com/houzhh15/meeting-proxy/cmd/server/internal/middleware"
	"github.com/houzhh15/meeting-proxy/cmd/server/internal/remote"
	"github.com/houzhh15/meeting-proxy/cmd/server/internal/session"
	"github.com/houzhh15/meeting-proxy/cmd/server/internal/store"
)

// Deps 路由依赖
type Deps struct {
	Store      store.Store
	Tracker    *session.Tracker
	Engine     *conversation.Engine
	Dispatcher remote.Dispatcher
	Logger     *slog.Logger
	APIKey     string
	StartedAt  time.Time
}

// RegisterRoutes 注册全部路由
// webhook 路径跳过 API key 校验（平台侧无法携带我们的 key）。
func RegisterRoutes(r *gin.Engine, d Deps) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"uptime": time.Since(d.StartedAt).Round(time.Second).String(),
		})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/api/v1")
	v1.Use(middleware.APIKeyGuard(d.APIKey, "/api/v1/bot/webhook"))

	v1.POST("/bot/webhook/transcript", HandleTranscriptWebhook(d.Tracker, d.Engine, d.Logger))
	v1.POST("/bot/webhook/status", HandleStatusWebhook(d.Tracker, d.Engine, d.Logger))

	v1.POST("/meetings/:meeting_id/leave", HandleLeaveMeeting(d.Store, d.Tracker, d.Engine, d.Dispatcher, d.Logger))
	v1.POST("/meetings/:meeting_id/ai", HandleSetAIEnabled(d.Store, d.Logger))

	v1.GET("/meetings/:meeting_id/sessions", HandleListSessions(d.Store))
	v1.GET("/meetings/:meeting_id/followups", HandleListFollowUps(d.Store))
	v1.GET("/sessions/:session_id/turns", HandleListTurns(d.Store))
}
