// Package api exposes the HTTP surface: platform webhooks, operator control
// endpoints and the read-only query surface for minutes/dashboard consumers.
package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/houzhh15/meeting-proxy/cmd/server/internal/conversation"
	"github.com/houzhh15/meeting-proxy/cmd/server/internal/session"
	"github.com/houzhh15/meeting-proxy/cmd/server/internal/store"
)

// transcriptPayload Recall 风格实时转写事件
type transcriptPayload struct {
	Event string `json:"event"`
	Data  struct {
		Bot struct {
			ID string `json:"id"`
		} `json:"bot"`
		Data struct {
			Words []struct {
				Text string `json:"text"`
			} `json:"words"`
			Participant struct {
				Name string `json:"name"`
			} `json:"participant"`
		} `json:"data"`
	} `json:"data"`
}

// statusPayload 平台机器人状态变更事件
type statusPayload struct {
	Event string `json:"event"`
	Data  struct {
		Bot struct {
			ID string `json:"id"`
		} `json:"bot"`
		Status struct {
			Code string `json:"code"`
		} `json:"status"`
	} `json:"data"`
}

// HandleTranscriptWebhook 处理实时转写 webhook
// POST /api/v1/bot/webhook/transcript
// 过期/未知会话的事件直接丢弃并返回 200，避免平台重发。
func HandleTranscriptWebhook(tracker *session.Tracker, engine *conversation.Engine, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var payload transcriptPayload
		if err := c.ShouldBindJSON(&payload); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"status": "error", "reason": "malformed payload"})
			return
		}

		var b strings.Builder
		for _, w := range payload.Data.Data.Words {
			b.WriteString(w.Text)
		}
		text := strings.TrimSpace(b.String())

		speaker := payload.Data.Data.Participant.Name
		if speaker == "" {
			speaker = "unknown"
		}
		botID := payload.Data.Bot.ID

		if text == "" {
			c.JSON(http.StatusOK, gin.H{"status": "ignored", "reason": "empty transcript"})
			return
		}
		if botID == "" {
			c.JSON(http.StatusOK, gin.H{"status": "ignored", "reason": "missing bot id"})
			return
		}

		sess, err := tracker.Resolve(c.Request.Context(), botID)
		if err != nil || sess.State.IsTerminal() {
			logger.Warn("stale transcript event dropped", "bot_id", botID, "speaker", speaker)
			c.JSON(http.StatusOK, gin.H{"status": "ignored", "reason": "stale session"})
			return
		}

		err = engine.Enqueue(conversation.Utterance{
			SessionID: sess.ID,
			MeetingID: sess.MeetingID,
			Speaker:   speaker,
			Text:      text,
			Timestamp: timeNow(),
		})
		if err != nil {
			logger.Warn("transcript event not enqueued", "session_id", sess.ID, "error", err)
			c.JSON(http.StatusOK, gin.H{"status": "ignored", "reason": err.Error()})
			return
		}

		// 分类异步执行，这里只确认接收
		c.JSON(http.StatusOK, gin.H{
			"status":            "received",
			"speaker":           speaker,
			"transcript_length": len(text),
		})
	}
}

// HandleStatusWebhook 处理平台机器人状态变更 webhook
// POST /api/v1/bot/webhook/status
func HandleStatusWebhook(tracker *session.Tracker, engine *conversation.Engine, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var payload statusPayload
		if err := c.ShouldBindJSON(&payload); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"status": "error", "reason": "malformed payload"})
			return
		}

		botID := payload.Data.Bot.ID
		code := payload.Data.Status.Code
		if botID == "" || code == "" {
			c.JSON(http.StatusOK, gin.H{"status": "ignored", "reason": "missing bot id or status code"})
			return
		}

		sess, err := tracker.Resolve(c.Request.Context(), botID)
		if err != nil || sess.State.IsTerminal() {
			logger.Warn("stale status event dropped", "bot_id", botID, "code", code)
			c.JSON(http.StatusOK, gin.H{"status": "ignored", "reason": "stale session"})
			return
		}

		target, detail := mapStatusCode(code)
		if target == "" {
			c.JSON(http.StatusOK, gin.H{"status": "ignored", "reason": "unhandled status code"})
			return
		}

		if _, err := tracker.Apply(c.Request.Context(), sess.ID, target, timeNow(), detail); err != nil {
			var invalid session.InvalidTransitionError
			if errors.As(err, &invalid) {
				// 乱序到达的状态事件静默丢弃
				logger.Debug("status event ignored", "session_id", sess.ID, "code", code, "error", err)
				c.JSON(http.StatusOK, gin.H{"status": "ignored", "reason": "out of order"})
				return
			}
			logger.Error("apply status transition failed", "session_id", sess.ID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"status": "error"})
			return
		}

		if target == store.StateLeft {
			engine.CloseSession(sess.ID)
		}

		c.JSON(http.StatusOK, gin.H{"status": "applied", "state": target})
	}
}

// mapStatusCode 平台状态码 → 会话状态
func mapStatusCode(code string) (store.SessionState, string) {
	switch code {
	case "in_call", "in_call_recording", "in_call_not_recording":
		return store.StateInMeeting, ""
	case "call_ended", "done":
		return store.StateLeft, ""
	case "fatal":
		return store.StateError, "platform reported fatal status"
	default:
		return "", ""
	}
}
