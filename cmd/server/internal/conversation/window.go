// Package conversation maintains bounded per-session context windows, decides
// which utterances address the bot, and serializes turn processing so each
// session handles one utterance at a time.
package conversation

import (
	"github.com/houzhh15/meeting-proxy/cmd/server/internal/store"
)

// Window 有界会话上下文窗口（FIFO）
// 满时淘汰最旧一条；淘汰只影响提示词上下文，不触碰持久化日志。
type Window struct {
	max   int
	turns []store.ConversationTurn
}

// NewWindow creates a window holding at most max turns. max must be >= 1.
func NewWindow(max int) *Window {
	if max < 1 {
		max = 1
	}
	return &Window{max: max, turns: make([]store.ConversationTurn, 0, max)}
}

// Push 追加一条发言，超出容量时淘汰最旧的一条
func (w *Window) Push(t store.ConversationTurn) {
	if len(w.turns) == w.max {
		copy(w.turns, w.turns[1:])
		w.turns = w.turns[:w.max-1]
	}
	w.turns = append(w.turns, t)
}

// Turns 返回窗口内容快照（旧→新）
func (w *Window) Turns() []store.ConversationTurn {
	out := make([]store.ConversationTurn, len(w.turns))
	copy(out, w.turns)
	return out
}

// Len 当前窗口长度
func (w *Window) Len() int {
	return len(w.turns)
}
