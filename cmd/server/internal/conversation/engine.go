package conversation

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/houzhh15/meeting-proxy/cmd/server/internal/metrics"
	"github.com/houzhh15/meeting-proxy/cmd/server/internal/store"
	"github.com/houzhh15/meeting-proxy/pkg/logger"
)

var (
	// ErrSessionClosed 会话已关闭，不再接受新发言
	ErrSessionClosed = errors.New("conversation: session closed")
	// ErrQueueFull 会话队列已满，事件被丢弃
	ErrQueueFull = errors.New("conversation: session queue full")
)

// queueSize 单会话待处理发言队列容量
const queueSize = 64

// Utterance 一条待处理的参会者发言
type Utterance struct {
	SessionID string
	MeetingID string
	Speaker   string
	Text      string
	Timestamp time.Time
}

// Request 传给回复流水线的上下文
type Request struct {
	SessionID string
	MeetingID string
	Speaker   string
	Text      string
	Timestamp time.Time
	History   []store.ConversationTurn
}

// Result 回复流水线的处理结果
type Result struct {
	Outcome      store.Outcome
	ResponseText string
	SnippetsUsed []string
	ErrorCode    string
}

// Responder 对触发的发言生成并投递回复
type Responder interface {
	Respond(ctx context.Context, req Request) Result
}

// Auditor 审计日志接口（audit.ConversationAuditor 实现）
type Auditor interface {
	LogOutcome(sessionID, meetingID, speaker, text, outcome, responseText, errCode string)
}

// Engine 会话上下文管理器
// 每个会话持有独立 worker goroutine + 队列：会话内严格串行，会话间互不阻塞。
type Engine struct {
	st         store.Store
	matcher    *TriggerMatcher
	responder  Responder
	auditor    Auditor
	logger     *slog.Logger
	windowSize int

	mu      sync.Mutex
	workers map[string]*worker
	closed  map[string]struct{}
}

type worker struct {
	ch     chan Utterance
	done   chan struct{}
	window *Window
}

// NewEngine creates the conversation engine.
func NewEngine(st store.Store, matcher *TriggerMatcher, responder Responder, auditor Auditor, logger *slog.Logger, windowSize int) *Engine {
	return &Engine{
		st:         st,
		matcher:    matcher,
		responder:  responder,
		auditor:    auditor,
		logger:     logger.With("component", "conversation-engine"),
		windowSize: windowSize,
		workers:    make(map[string]*worker),
		closed:     make(map[string]struct{}),
	}
}

// Enqueue 将发言放入所属会话的串行队列，立即返回
// 会话已关闭返回 ErrSessionClosed；队列满时丢弃并返回 ErrQueueFull。
func (e *Engine) Enqueue(ev Utterance) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, done := e.closed[ev.SessionID]; done {
		return ErrSessionClosed
	}
	w, ok := e.workers[ev.SessionID]
	if !ok {
		w = &worker{
			ch:     make(chan Utterance, queueSize),
			done:   make(chan struct{}),
			window: NewWindow(e.windowSize),
		}
		e.workers[ev.SessionID] = w
		go e.run(ev.SessionID, w)
	}

	// 发送必须持锁：CloseSession 可能并发 close(w.ch)
	// 非阻塞发送不会在锁内停留
	select {
	case w.ch <- ev:
		return nil
	default:
		e.logger.Warn("utterance dropped, queue full", "session_id", ev.SessionID, "speaker", ev.Speaker)
		return ErrQueueFull
	}
}

// CloseSession 关闭会话队列并等待排队中的发言处理完毕
// 关闭后的入队请求收到 ErrSessionClosed；排空后 worker 条目随之释放。
func (e *Engine) CloseSession(sessionID string) {
	e.mu.Lock()
	if _, done := e.closed[sessionID]; done {
		e.mu.Unlock()
		return
	}
	e.closed[sessionID] = struct{}{}
	w, ok := e.workers[sessionID]
	if !ok {
		e.mu.Unlock()
		return
	}
	close(w.ch)
	e.mu.Unlock()

	<-w.done

	e.mu.Lock()
	delete(e.workers, sessionID)
	e.mu.Unlock()
}

// History 返回会话当前窗口内容（旧→新）
func (e *Engine) History(sessionID string) []store.ConversationTurn {
	e.mu.Lock()
	w, ok := e.workers[sessionID]
	e.mu.Unlock()
	if !ok {
		return nil
	}
	return w.window.Turns()
}

// run 会话 worker 主循环；channel 关闭且队列清空后退出
func (e *Engine) run(sessionID string, w *worker) {
	defer close(w.done)
	for ev := range w.ch {
		e.process(context.Background(), w, ev)
	}
}

// process 处理单条发言：触发判定 → 流水线 → 落库 → 窗口
func (e *Engine) process(ctx context.Context, w *worker, ev Utterance) {
	start := time.Now()
	turn := &store.ConversationTurn{
		SessionID: ev.SessionID,
		MeetingID: ev.MeetingID,
		Speaker:   ev.Speaker,
		Text:      ev.Text,
		Timestamp: ev.Timestamp,
	}

	if !e.matcher.Matches(ev.Text) {
		turn.Outcome = store.OutcomeIgnored
	} else {
		res := e.responder.Respond(ctx, Request{
			SessionID: ev.SessionID,
			MeetingID: ev.MeetingID,
			Speaker:   ev.Speaker,
			Text:      ev.Text,
			Timestamp: ev.Timestamp,
			History:   w.window.Turns(),
		})
		turn.Outcome = res.Outcome
		turn.ResponseText = res.ResponseText
		turn.SnippetsUsed = res.SnippetsUsed
		turn.ErrorCode = res.ErrorCode
	}

	if err := e.st.AppendTurn(ctx, turn); err != nil {
		metrics.RecordPipelineError("persistence")
		e.logger.Error("append turn failed", "session_id", ev.SessionID, "error", err)
	}

	// 持久化之后再入窗口：窗口淘汰不影响持久化日志
	w.window.Push(*turn)

	metrics.RecordClassification(string(turn.Outcome))
	if e.auditor != nil {
		e.auditor.LogOutcome(ev.SessionID, ev.MeetingID, ev.Speaker, ev.Text,
			string(turn.Outcome), turn.ResponseText, turn.ErrorCode)
	}
	logger.LogTurnOutcome(e.logger, ev.SessionID, ev.Speaker, string(turn.Outcome),
		time.Since(start).Milliseconds(), turn.ErrorCode)
}
