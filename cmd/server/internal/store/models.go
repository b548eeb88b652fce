// Package store defines the persisted records of the meeting-proxy core and
// the operations the scheduler, webhook intake and query surface need.
// Calendar sync owns meeting creation/deletion; the core only reads meetings
// and updates join bookkeeping.
package store

import "time"

// SessionState 会话生命周期状态
type SessionState string

const (
	StateJoining    SessionState = "joining"
	StateDispatched SessionState = "dispatched"
	StateInMeeting  SessionState = "in_meeting"
	StateError      SessionState = "error"
	StateFailed     SessionState = "failed"
	StateLeft       SessionState = "left"
	StateAbandoned  SessionState = "abandoned"
	StateMissed     SessionState = "missed"
)

// Outcome 单条发言的分类结果
type Outcome string

const (
	OutcomeAnswered  Outcome = "answered"
	OutcomeTakenBack Outcome = "taken_back"
	OutcomeIgnored   Outcome = "ignored"
)

// Meeting 由日历同步写入的会议记录
type Meeting struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	StartTime       time.Time `json:"start_time"`
	EndTime         time.Time `json:"end_time"`
	MeetingURL      string    `json:"meeting_url"`
	AIEnabled       bool      `json:"ai_enabled"`
	JoinAttempted   bool      `json:"join_attempted"`
	DispatchRetries int       `json:"dispatch_retries"`
}

// BotSession 一次机器人参会的生命周期记录
// BotID 在 dispatch 成功前为空；Left/Abandoned/Missed 为终态
type BotSession struct {
	ID        string       `json:"id"`
	MeetingID string       `json:"meeting_id"`
	BotID     string       `json:"bot_id,omitempty"`
	State     SessionState `json:"state"`
	CreatedAt time.Time    `json:"created_at"`
	JoinedAt  *time.Time   `json:"joined_at,omitempty"`
	LeftAt    *time.Time   `json:"left_at,omitempty"`
	LastError string       `json:"last_error,omitempty"`
}

// ConversationTurn 会话日志中的一条发言，追加后不可变更
type ConversationTurn struct {
	ID           int64     `json:"id"`
	SessionID    string    `json:"session_id"`
	MeetingID    string    `json:"meeting_id"`
	Speaker      string    `json:"speaker"`
	Text         string    `json:"text"`
	Timestamp    time.Time `json:"timestamp"`
	Outcome      Outcome   `json:"outcome"`
	ResponseText string    `json:"response_text,omitempty"`
	SnippetsUsed []string  `json:"snippets_used,omitempty"`
	ErrorCode    string    `json:"error_code,omitempty"`
}

// Material 会议关联的参考资料（抽取后的文本）
type Material struct {
	ID         int64     `json:"id"`
	MeetingID  string    `json:"meeting_id"`
	Filename   string    `json:"filename"`
	Text       string    `json:"text"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// IsTerminal 判断会话状态是否为终态
func (s SessionState) IsTerminal() bool {
	switch s {
	case StateLeft, StateAbandoned, StateMissed:
		return true
	}
	return false
}
