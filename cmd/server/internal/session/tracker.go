package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/houzhh15/meeting-proxy/cmd/server/internal/metrics"
	"github.com/houzhh15/meeting-proxy/cmd/server/internal/store"
)

// ErrActiveSessionExists 会议已存在活跃会话
var ErrActiveSessionExists = errors.New("session: meeting already has an active session")

// Auditor 会话生命周期审计接口（audit.ConversationAuditor 实现）
type Auditor interface {
	LogSessionEvent(sessionID, meetingID, event, detail string)
}

// Tracker 维护 meeting ↔ 活跃会话 与 botID → 会话 的内存索引
// 持久化真值在 store 中；进程重启后通过 Resolve 从 store 恢复映射。
type Tracker struct {
	st      store.Store
	logger  *slog.Logger
	auditor Auditor

	mu       sync.Mutex
	byBot    map[string]string // botID -> sessionID
	byMeet   map[string]string // meetingID -> active sessionID
	sessions map[string]*store.BotSession
}

// NewTracker creates a tracker over the given store.
func NewTracker(st store.Store, logger *slog.Logger) *Tracker {
	return &Tracker{
		st:       st,
		logger:   logger.With("component", "session-tracker"),
		byBot:    make(map[string]string),
		byMeet:   make(map[string]string),
		sessions: make(map[string]*store.BotSession),
	}
}

// Create 为会议创建新会话（初始状态由调用方指定，joining 或 missed）
// 同一会议同时只允许一个非终态会话。
func (t *Tracker) Create(ctx context.Context, meetingID string, state store.SessionState, now time.Time) (*store.BotSession, error) {
	t.mu.Lock()
	if sid, ok := t.byMeet[meetingID]; ok {
		if s := t.sessions[sid]; s != nil && !s.State.IsTerminal() {
			t.mu.Unlock()
			return nil, ErrActiveSessionExists
		}
	}
	t.mu.Unlock()

	s := &store.BotSession{
		ID:        uuid.NewString(),
		MeetingID: meetingID,
		State:     state,
		CreatedAt: now,
	}
	if err := t.st.CreateSession(ctx, s); err != nil {
		return nil, err
	}

	t.mu.Lock()
	if !s.State.IsTerminal() {
		t.byMeet[meetingID] = s.ID
	}
	t.sessions[s.ID] = s
	metrics.SetActiveSessions(t.activeCountLocked())
	t.mu.Unlock()

	t.logger.Info("session created", "session_id", s.ID, "meeting_id", meetingID, "state", s.State)
	if t.auditor != nil {
		t.auditor.LogSessionEvent(s.ID, meetingID, "created", string(s.State))
	}
	return s, nil
}

// SetAuditor 注册生命周期审计；nil 表示不审计
func (t *Tracker) SetAuditor(a Auditor) {
	t.auditor = a
}

// BindBot 记录 dispatch 成功返回的远端 bot ID
func (t *Tracker) BindBot(sessionID, botID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.sessions[sessionID]; ok {
		s.BotID = botID
	}
	t.byBot[botID] = sessionID
}

// Apply 校验迁移、落库并维护索引
func (t *Tracker) Apply(ctx context.Context, sessionID string, to store.SessionState, now time.Time, lastError string) (*store.BotSession, error) {
	t.mu.Lock()
	s, ok := t.sessions[sessionID]
	t.mu.Unlock()
	if !ok {
		var err error
		s, err = t.st.GetSession(ctx, sessionID)
		if err != nil {
			return nil, err
		}
	}

	if err := Transition(s, to); err != nil {
		return nil, err
	}
	switch to {
	case store.StateInMeeting:
		joined := now
		s.JoinedAt = &joined
	case store.StateLeft, store.StateAbandoned:
		left := now
		s.LeftAt = &left
	}
	if lastError != "" {
		s.LastError = lastError
	}

	if err := t.st.UpdateSession(ctx, s); err != nil {
		return nil, err
	}

	t.mu.Lock()
	t.sessions[s.ID] = s
	if s.State.IsTerminal() {
		delete(t.byMeet, s.MeetingID)
	} else {
		t.byMeet[s.MeetingID] = s.ID
	}
	metrics.SetActiveSessions(t.activeCountLocked())
	t.mu.Unlock()

	t.logger.Info("session state changed", "session_id", s.ID, "meeting_id", s.MeetingID, "state", s.State)
	if t.auditor != nil {
		t.auditor.LogSessionEvent(s.ID, s.MeetingID, string(s.State), lastError)
	}
	return s, nil
}

// Resolve 通过 botID 查找会话；内存索引缺失时回源 store
// （进程重启后 webhook 先于任何其它调用到达的场景）
func (t *Tracker) Resolve(ctx context.Context, botID string) (*store.BotSession, error) {
	t.mu.Lock()
	if sid, ok := t.byBot[botID]; ok {
		if s := t.sessions[sid]; s != nil {
			cp := *s
			t.mu.Unlock()
			return &cp, nil
		}
	}
	t.mu.Unlock()

	s, err := t.st.FindSessionByBotID(ctx, botID)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	t.sessions[s.ID] = s
	t.byBot[botID] = s.ID
	if !s.State.IsTerminal() {
		t.byMeet[s.MeetingID] = s.ID
	}
	metrics.SetActiveSessions(t.activeCountLocked())
	t.mu.Unlock()

	t.logger.Info("session restored from store", "session_id", s.ID, "bot_id", botID)
	return s, nil
}

// ActiveForMeeting 返回会议当前活跃会话
func (t *Tracker) ActiveForMeeting(ctx context.Context, meetingID string) (*store.BotSession, error) {
	t.mu.Lock()
	if sid, ok := t.byMeet[meetingID]; ok {
		if s := t.sessions[sid]; s != nil && !s.State.IsTerminal() {
			cp := *s
			t.mu.Unlock()
			return &cp, nil
		}
	}
	t.mu.Unlock()

	s, err := t.st.ActiveSessionForMeeting(ctx, meetingID)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	t.sessions[s.ID] = s
	t.byMeet[meetingID] = s.ID
	if s.BotID != "" {
		t.byBot[s.BotID] = s.ID
	}
	t.mu.Unlock()
	return s, nil
}

func (t *Tracker) activeCountLocked() int {
	n := 0
	for _, s := range t.sessions {
		if !s.State.IsTerminal() {
			n++
		}
	}
	return n
}
