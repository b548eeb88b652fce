package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound 查询目标不存在
var ErrNotFound = errors.New("store: not found")

// Store 核心所需的持久化操作
// MarkJoinAttempted 必须是原子的 check-then-set：同一会议并发调用时
// 只有一个调用者得到 true，这是 dispatch-once 不变量的基础。
type Store interface {
	// Meetings
	GetMeeting(ctx context.Context, meetingID string) (*Meeting, error)
	ListAIEnabledMeetingsInWindow(ctx context.Context, from, to time.Time) ([]Meeting, error)
	MarkJoinAttempted(ctx context.Context, meetingID string) (bool, error)
	SetAIEnabled(ctx context.Context, meetingID string, enabled bool) error
	IncrementDispatchRetries(ctx context.Context, meetingID string) (int, error)

	// Bot sessions
	CreateSession(ctx context.Context, s *BotSession) error
	GetSession(ctx context.Context, sessionID string) (*BotSession, error)
	FindSessionByBotID(ctx context.Context, botID string) (*BotSession, error)
	ActiveSessionForMeeting(ctx context.Context, meetingID string) (*BotSession, error)
	UpdateSession(ctx context.Context, s *BotSession) error
	ListSessions(ctx context.Context, meetingID string) ([]BotSession, error)

	// Conversation log (append-only)
	AppendTurn(ctx context.Context, turn *ConversationTurn) error
	ListTurns(ctx context.Context, sessionID string) ([]ConversationTurn, error)
	ListFollowUps(ctx context.Context, meetingID string) ([]ConversationTurn, error)

	// Materials
	ListMaterials(ctx context.Context, meetingID string) ([]Material, error)
}
