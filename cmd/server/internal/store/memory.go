package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Memory 内存实现，用于测试与 dev 环境（无 DATABASE_URL 时）
// 所有方法在同一把互斥锁下执行，MarkJoinAttempted 因此天然原子。
type Memory struct {
	mu        sync.Mutex
	meetings  map[string]*Meeting
	sessions  map[string]*BotSession
	turns     []ConversationTurn
	materials map[string][]Material
	turnSeq   int64
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		meetings:  make(map[string]*Meeting),
		sessions:  make(map[string]*BotSession),
		materials: make(map[string][]Material),
	}
}

// PutMeeting 写入会议记录（日历同步的职责，测试用入口）
func (m *Memory) PutMeeting(meeting *Meeting) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *meeting
	m.meetings[meeting.ID] = &cp
}

// PutMaterial 写入资料记录（测试用入口）
func (m *Memory) PutMaterial(mat Material) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.materials[mat.MeetingID] = append(m.materials[mat.MeetingID], mat)
}

func (m *Memory) GetMeeting(_ context.Context, meetingID string) (*Meeting, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	meeting, ok := m.meetings[meetingID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *meeting
	return &cp, nil
}

func (m *Memory) ListAIEnabledMeetingsInWindow(_ context.Context, from, to time.Time) ([]Meeting, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Meeting
	for _, meeting := range m.meetings {
		if !meeting.AIEnabled {
			continue
		}
		if meeting.StartTime.Before(from) || meeting.StartTime.After(to) {
			continue
		}
		out = append(out, *meeting)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

func (m *Memory) MarkJoinAttempted(_ context.Context, meetingID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	meeting, ok := m.meetings[meetingID]
	if !ok {
		return false, ErrNotFound
	}
	if meeting.JoinAttempted {
		return false, nil
	}
	meeting.JoinAttempted = true
	return true, nil
}

func (m *Memory) SetAIEnabled(_ context.Context, meetingID string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	meeting, ok := m.meetings[meetingID]
	if !ok {
		return ErrNotFound
	}
	meeting.AIEnabled = enabled
	return nil
}

func (m *Memory) IncrementDispatchRetries(_ context.Context, meetingID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	meeting, ok := m.meetings[meetingID]
	if !ok {
		return 0, ErrNotFound
	}
	meeting.DispatchRetries++
	return meeting.DispatchRetries, nil
}

func (m *Memory) CreateSession(_ context.Context, s *BotSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.sessions[s.ID] = &cp
	return nil
}

func (m *Memory) GetSession(_ context.Context, sessionID string) (*BotSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *Memory) FindSessionByBotID(_ context.Context, botID string) (*BotSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.BotID == botID && botID != "" {
			cp := *s
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) ActiveSessionForMeeting(_ context.Context, meetingID string) (*BotSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.MeetingID == meetingID && !s.State.IsTerminal() {
			cp := *s
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) UpdateSession(_ context.Context, s *BotSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.ID]; !ok {
		return ErrNotFound
	}
	cp := *s
	m.sessions[s.ID] = &cp
	return nil
}

func (m *Memory) ListSessions(_ context.Context, meetingID string) ([]BotSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []BotSession
	for _, s := range m.sessions {
		if s.MeetingID == meetingID {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) AppendTurn(_ context.Context, turn *ConversationTurn) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turnSeq++
	turn.ID = m.turnSeq
	m.turns = append(m.turns, *turn)
	return nil
}

func (m *Memory) ListTurns(_ context.Context, sessionID string) ([]ConversationTurn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ConversationTurn
	for _, t := range m.turns {
		if t.SessionID == sessionID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *Memory) ListFollowUps(_ context.Context, meetingID string) ([]ConversationTurn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ConversationTurn
	for _, t := range m.turns {
		if t.MeetingID == meetingID && t.Outcome == OutcomeTakenBack {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *Memory) ListMaterials(_ context.Context, meetingID string) ([]Material, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mats := make([]Material, len(m.materials[meetingID]))
	copy(mats, m.materials[meetingID])
	sort.SliceStable(mats, func(i, j int) bool { return mats[i].UploadedAt.Before(mats[j].UploadedAt) })
	return mats, nil
}
