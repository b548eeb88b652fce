package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/houzhh15/meeting-proxy/cmd/server/internal/store"
)

// fakeResponder 记录调用并返回固定结果
type fakeResponder struct {
	mu    sync.Mutex
	calls []Request
	res   Result
	delay time.Duration
}

func (f *fakeResponder) Respond(_ context.Context, req Request) Result {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	return f.res
}

func (f *fakeResponder) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newTestEngine(t *testing.T, windowSize int, res Result) (*Engine, *store.Memory, *fakeResponder) {
	t.Helper()
	mem := store.NewMemory()
	fr := &fakeResponder{res: res}
	matcher := NewTriggerMatcher("AI Avatar", nil, []string{"か", "か。"})
	eng := NewEngine(mem, matcher, fr, nil, slog.Default(), windowSize)
	return eng, mem, fr
}

func ev(sessionID, text string) Utterance {
	return Utterance{SessionID: sessionID, MeetingID: "m1", Speaker: "佐藤", Text: text, Timestamp: time.Now()}
}

func TestIgnoredUtteranceSkipsResponder(t *testing.T) {
	eng, mem, fr := newTestEngine(t, 10, Result{Outcome: store.OutcomeAnswered, ResponseText: "res"})

	require.NoError(t, eng.Enqueue(ev("s1", "次の議題に移ります")))
	eng.CloseSession("s1")

	assert.Equal(t, 0, fr.callCount())
	turns, err := mem.ListTurns(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, store.OutcomeIgnored, turns[0].Outcome)
	assert.Empty(t, turns[0].ResponseText)
}

func TestTriggeredUtteranceRunsResponder(t *testing.T) {
	eng, mem, fr := newTestEngine(t, 10, Result{
		Outcome:      store.OutcomeAnswered,
		ResponseText: "納期は来週金曜です。",
		SnippetsUsed: []string{"schedule.md"},
	})

	require.NoError(t, eng.Enqueue(ev("s1", "納期はいつですか")))
	eng.CloseSession("s1")

	require.Equal(t, 1, fr.callCount())
	turns, err := mem.ListTurns(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, store.OutcomeAnswered, turns[0].Outcome)
	assert.Equal(t, "納期は来週金曜です。", turns[0].ResponseText)
	assert.Equal(t, []string{"schedule.md"}, turns[0].SnippetsUsed)
}

// signalAuditor 每处理一条发言发一次信号，测试用
type signalAuditor struct {
	ch chan struct{}
}

func (a *signalAuditor) LogOutcome(_, _, _, _, _, _, _ string) {
	a.ch <- struct{}{}
}

func TestWindowBoundVsDurableLog(t *testing.T) {
	mem := store.NewMemory()
	fr := &fakeResponder{res: Result{Outcome: store.OutcomeAnswered}}
	matcher := NewTriggerMatcher("AI Avatar", nil, []string{"か", "か。"})
	aud := &signalAuditor{ch: make(chan struct{}, 8)}
	eng := NewEngine(mem, matcher, fr, aud, slog.Default(), 3)

	for _, text := range []string{"A", "B", "C", "D"} {
		require.NoError(t, eng.Enqueue(ev("s1", text)))
	}
	for i := 0; i < 4; i++ {
		select {
		case <-aud.ch:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for turns to be processed")
		}
	}

	// worker 存活期间读取窗口
	history := eng.History("s1")
	require.Len(t, history, 3, "window holds only the newest N")
	assert.Equal(t, "B", history[0].Text)
	assert.Equal(t, "D", history[2].Text)

	eng.CloseSession("s1")
	turns, err := mem.ListTurns(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, turns, 4, "durable log keeps every turn")
}

func TestHistoryPassedToResponder(t *testing.T) {
	eng, _, fr := newTestEngine(t, 10, Result{Outcome: store.OutcomeAnswered})

	require.NoError(t, eng.Enqueue(ev("s1", "最初の発言です")))
	require.NoError(t, eng.Enqueue(ev("s1", "予算は足りますか")))
	eng.CloseSession("s1")

	require.Equal(t, 1, fr.callCount())
	req := fr.calls[0]
	require.Len(t, req.History, 1, "history holds prior turns, not the current one")
	assert.Equal(t, "最初の発言です", req.History[0].Text)
}

func TestCloseSessionDrainsThenRejects(t *testing.T) {
	eng, mem, _ := newTestEngine(t, 10, Result{Outcome: store.OutcomeTakenBack})

	require.NoError(t, eng.Enqueue(ev("s1", "これは大丈夫ですか")))
	require.NoError(t, eng.Enqueue(ev("s1", "もう一点いいですか")))
	eng.CloseSession("s1")

	turns, err := mem.ListTurns(context.Background(), "s1")
	require.NoError(t, err)
	assert.Len(t, turns, 2, "queued turns complete before close returns")

	err = eng.Enqueue(ev("s1", "まだ聞こえますか"))
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestCloseSessionReleasesWorker(t *testing.T) {
	eng, _, _ := newTestEngine(t, 10, Result{Outcome: store.OutcomeAnswered})

	require.NoError(t, eng.Enqueue(ev("s1", "発言です")))
	require.NoError(t, eng.Enqueue(ev("s2", "別の発言です")))
	eng.CloseSession("s1")

	eng.mu.Lock()
	_, s1Alive := eng.workers["s1"]
	_, s2Alive := eng.workers["s2"]
	eng.mu.Unlock()
	assert.False(t, s1Alive, "drained worker is released")
	assert.True(t, s2Alive, "other sessions keep their workers")

	// 解放後も閉鎖済み扱いのまま
	assert.ErrorIs(t, eng.Enqueue(ev("s1", "まだ聞こえますか")), ErrSessionClosed)
	eng.CloseSession("s2")
}

func TestConcurrentEnqueueAndCloseAreSafe(t *testing.T) {
	eng, _, _ := newTestEngine(t, 10, Result{Outcome: store.OutcomeAnswered})

	for i := 0; i < 200; i++ {
		id := fmt.Sprintf("race-%d", i)
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				err := eng.Enqueue(ev(id, "雑談です"))
				if err != nil {
					assert.ErrorIs(t, err, ErrSessionClosed)
					return
				}
			}
		}()
		go func() {
			defer wg.Done()
			eng.CloseSession(id)
		}()
		wg.Wait()
	}
}

func TestSessionsProcessIndependently(t *testing.T) {
	mem := store.NewMemory()
	slow := &fakeResponder{res: Result{Outcome: store.OutcomeAnswered}, delay: 200 * time.Millisecond}
	matcher := NewTriggerMatcher("AI Avatar", nil, []string{"か"})
	eng := NewEngine(mem, matcher, slow, nil, slog.Default(), 10)

	require.NoError(t, eng.Enqueue(ev("slow-session", "時間のかかる質問ですか")))

	start := time.Now()
	require.NoError(t, eng.Enqueue(ev("fast-session", "雑談です")))
	eng.CloseSession("fast-session")
	elapsed := time.Since(start)

	assert.Less(t, elapsed, 150*time.Millisecond, "fast session must not wait on slow session")
	eng.CloseSession("slow-session")
}
