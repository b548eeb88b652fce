// Package audit persists classification outcomes to a rotating JSONL file so
// operators can review bot behaviour after a meeting without database access.
package audit

import (
	"encoding/json"
	"log"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// ConversationAuditor records every processed utterance and its outcome.
type ConversationAuditor struct {
	logger *log.Logger
}

// NewConversationAuditor creates an auditor with automatic log rotation.
func NewConversationAuditor(logPath string) *ConversationAuditor {
	writer := &lumberjack.Logger{
		Filename:   logPath,
		MaxSize:    100, // MB
		MaxBackups: 10,  // Keep 10 old files
		MaxAge:     30,  // Keep for 30 days
		Compress:   true,
	}

	return &ConversationAuditor{
		logger: log.New(writer, "", 0), // No prefix, no timestamp (we add our own)
	}
}

// LogOutcome records one classified turn.
func (a *ConversationAuditor) LogOutcome(sessionID, meetingID, speaker, text, outcome, responseText, errCode string) {
	record := map[string]interface{}{
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
		"session_id": sessionID,
		"meeting_id": meetingID,
		"speaker":    speaker,
		"text":       text,
		"outcome":    outcome,
	}
	if responseText != "" {
		record["response_text"] = responseText
	}
	if errCode != "" {
		record["error_code"] = errCode
	}

	data, _ := json.Marshal(record)
	a.logger.Println(string(data))
}

// LogSessionEvent records a session lifecycle change (dispatch, leave, error).
func (a *ConversationAuditor) LogSessionEvent(sessionID, meetingID, event, detail string) {
	record := map[string]interface{}{
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
		"session_id": sessionID,
		"meeting_id": meetingID,
		"event":      event,
	}
	if detail != "" {
		record["detail"] = detail
	}

	data, _ := json.Marshal(record)
	a.logger.Println(string(data))
}
