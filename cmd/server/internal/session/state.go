// Package session owns the BotSession lifecycle: the legal state transitions
// and the in-memory tracker that maps meetings and remote bot IDs to their
// single active session.
package session

import (
	"fmt"

	"github.com/houzhh15/meeting-proxy/cmd/server/internal/store"
)

// InvalidTransitionError 非法状态迁移
type InvalidTransitionError struct {
	From store.SessionState
	To   store.SessionState
}

func (e InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid session transition: %s -> %s", e.From, e.To)
}

// transitions 状态迁移表
// joining → dispatched → in_meeting → left 为正常路径
// joining → failed → abandoned 为 dispatch 失败路径（failed → joining 重试）
// in_meeting → error → left 为会议中故障路径
// missed 只在创建时赋值，不存在入边
var transitions = map[store.SessionState][]store.SessionState{
	store.StateJoining:    {store.StateDispatched, store.StateFailed},
	store.StateDispatched: {store.StateInMeeting, store.StateError, store.StateLeft},
	store.StateInMeeting:  {store.StateError, store.StateLeft},
	store.StateError:      {store.StateLeft},
	store.StateFailed:     {store.StateJoining, store.StateAbandoned},
}

// CanTransition 判断从 from 到 to 是否合法
func CanTransition(from, to store.SessionState) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition 校验并应用状态迁移；终态（left/abandoned/missed）拒绝任何出边
func Transition(s *store.BotSession, to store.SessionState) error {
	if !CanTransition(s.State, to) {
		return InvalidTransitionError{From: s.State, To: to}
	}
	s.State = to
	return nil
}
