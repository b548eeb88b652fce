package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/houzhh15/meeting-proxy/cmd/server/internal/store"
)

// HandleListSessions 查询会议的全部会话记录（含终态）
// GET /api/v1/meetings/:meeting_id/sessions
func HandleListSessions(st store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessions, err := st.ListSessions(c.Request.Context(), c.Param("meeting_id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "query failed"})
			return
		}
		if sessions == nil {
			sessions = []store.BotSession{}
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "data": sessions})
	}
}

// HandleListTurns 查询会话的发言日志（含 outcome 与回复文本）
// GET /api/v1/sessions/:session_id/turns
func HandleListTurns(st store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		turns, err := st.ListTurns(c.Request.Context(), c.Param("session_id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "query failed"})
			return
		}
		if turns == nil {
			turns = []store.ConversationTurn{}
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "data": turns})
	}
}

// HandleListFollowUps 查询会议的持ち帰り事项（taken_back 发言）
// GET /api/v1/meetings/:meeting_id/followups
func HandleListFollowUps(st store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		turns, err := st.ListFollowUps(c.Request.Context(), c.Param("meeting_id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "query failed"})
			return
		}
		if turns == nil {
			turns = []store.ConversationTurn{}
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "data": turns})
	}
}
