package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/houzhh15/meeting-proxy/cmd/server/internal/conversation"
	"github.com/houzhh15/meeting-proxy/cmd/server/internal/remote"
	"github.com/houzhh15/meeting-proxy/cmd/server/internal/session"
	"github.com/houzhh15/meeting-proxy/cmd/server/internal/store"
)

// HandleLeaveMeeting 运维主动要求机器人离会
// POST /api/v1/meetings/:meeting_id/leave
// 先排空会话队列（处理中的发言跑完），再请求平台离会并落终态。
func HandleLeaveMeeting(st store.Store, tracker *session.Tracker, engine *conversation.Engine, dispatcher remote.Dispatcher, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		meetingID := c.Param("meeting_id")

		sess, err := tracker.ActiveForMeeting(c.Request.Context(), meetingID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "no active session for meeting"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "session lookup failed"})
			return
		}

		engine.CloseSession(sess.ID)

		if sess.BotID != "" {
			if err := dispatcher.RequestLeave(c.Request.Context(), sess.BotID); err != nil {
				// 平台调用失败也要把本地状态落到 left
				logger.Error("request leave failed", "session_id", sess.ID, "bot_id", sess.BotID, "error", err)
			}
		}

		updated, err := tracker.Apply(c.Request.Context(), sess.ID, store.StateLeft, timeNow(), "")
		if err != nil {
			logger.Error("apply left failed", "session_id", sess.ID, "error", err)
			c.JSON(http.StatusConflict, gin.H{"success": false, "message": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{"success": true, "data": updated})
	}
}

// HandleSetAIEnabled 切换会议的 AI 参会开关
// POST /api/v1/meetings/:meeting_id/ai
func HandleSetAIEnabled(st store.Store, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		meetingID := c.Param("meeting_id")

		var body struct {
			Enabled *bool `json:"enabled" binding:"required"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "enabled field is required"})
			return
		}

		if err := st.SetAIEnabled(c.Request.Context(), meetingID, *body.Enabled); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "meeting not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "update failed"})
			return
		}

		logger.Info("ai participation toggled", "meeting_id", meetingID, "enabled", *body.Enabled)
		c.JSON(http.StatusOK, gin.H{"success": true, "data": gin.H{"meeting_id": meetingID, "enabled": *body.Enabled}})
	}
}
