package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/houzhh15/meeting-proxy/cmd/server/internal/conversation"
	"github.com/houzhh15/meeting-proxy/cmd/server/internal/knowledge"
	"github.com/houzhh15/meeting-proxy/cmd/server/internal/store"
)

const testAck = "持ち帰って確認します。"

type fakeGenerator struct {
	text string
	err  error
	got  string
}

func (f *fakeGenerator) Generate(_ context.Context, prompt string) (string, error) {
	f.got = prompt
	return f.text, f.err
}

type fakeSynthesizer struct {
	err   error
	texts []string
}

func (f *fakeSynthesizer) Synthesize(_ context.Context, text string) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.texts = append(f.texts, text)
	return []byte("mp3:" + text), nil
}

type fakeDispatcher struct {
	err    error
	audios []string
	botIDs []string
}

func (f *fakeDispatcher) CreateBot(context.Context, string, string) (string, error) { return "", nil }
func (f *fakeDispatcher) RequestLeave(context.Context, string) error               { return nil }
func (f *fakeDispatcher) SendAudio(_ context.Context, botID, b64 string) error {
	if f.err != nil {
		return f.err
	}
	f.botIDs = append(f.botIDs, botID)
	f.audios = append(f.audios, b64)
	return nil
}

func newTestPipeline(t *testing.T, gen *fakeGenerator, syn *fakeSynthesizer, disp *fakeDispatcher) (*Pipeline, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	require.NoError(t, mem.CreateSession(context.Background(), &store.BotSession{
		ID: "s1", MeetingID: "m1", BotID: "bot-1", State: store.StateInMeeting, CreatedAt: time.Now(),
	}))
	p := New(mem, knowledge.NewSelector(), gen, syn, disp, slog.Default(),
		"あなたは会議アシスタントです。", "AI Avatar", testAck)
	return p, mem
}

func req(text string) conversation.Request {
	return conversation.Request{
		SessionID: "s1",
		MeetingID: "m1",
		Speaker:   "佐藤",
		Text:      text,
		Timestamp: time.Now(),
	}
}

func TestRespondAnsweredWithSnippet(t *testing.T) {
	gen := &fakeGenerator{text: "[ANSWERED] スタンダードプランは月額5万円です。"}
	syn := &fakeSynthesizer{}
	disp := &fakeDispatcher{}
	p, mem := newTestPipeline(t, gen, syn, disp)
	mem.PutMaterial(store.Material{
		MeetingID: "m1", Filename: "pricing.md",
		Text:       "料金プラン：スタンダードプランは月額5万円です。",
		UploadedAt: time.Now(),
	})

	res := p.Respond(context.Background(), req("料金プランはいくらですか"))

	assert.Equal(t, store.OutcomeAnswered, res.Outcome)
	assert.Equal(t, "スタンダードプランは月額5万円です。", res.ResponseText)
	assert.Equal(t, []string{"pricing.md"}, res.SnippetsUsed)
	assert.Empty(t, res.ErrorCode)
	assert.Contains(t, gen.got, "添付資料")
	require.Len(t, disp.botIDs, 1)
	assert.Equal(t, "bot-1", disp.botIDs[0])
}

func TestRespondTakenBackSpeaksAcknowledgment(t *testing.T) {
	gen := &fakeGenerator{text: "[TAKEN_BACK] 予算の承認は私では判断できかねます。"}
	syn := &fakeSynthesizer{}
	disp := &fakeDispatcher{}
	p, _ := newTestPipeline(t, gen, syn, disp)

	res := p.Respond(context.Background(), req("予算を倍にできますか"))

	assert.Equal(t, store.OutcomeTakenBack, res.Outcome)
	assert.Equal(t, testAck, res.ResponseText)
	require.Len(t, syn.texts, 1)
	assert.Equal(t, testAck, syn.texts[0], "spoken text is the fixed acknowledgment")
}

func TestRespondGenerationFailureForcesTakenBack(t *testing.T) {
	gen := &fakeGenerator{err: errors.New("deadline exceeded")}
	syn := &fakeSynthesizer{}
	disp := &fakeDispatcher{}
	p, _ := newTestPipeline(t, gen, syn, disp)

	res := p.Respond(context.Background(), req("これはどうですか"))

	assert.Equal(t, store.OutcomeTakenBack, res.Outcome)
	assert.Equal(t, testAck, res.ResponseText)
	assert.Equal(t, errCodeGeneration, res.ErrorCode)
	require.Len(t, syn.texts, 1, "acknowledgment still delivered")
}

func TestRespondAmbiguousOutputAcknowledgmentOnly(t *testing.T) {
	// タグ無しの生成結果は taken_back 扱い、発話は固定致辞のみ
	gen := &fakeGenerator{text: "たぶん大丈夫だと思います"}
	syn := &fakeSynthesizer{}
	disp := &fakeDispatcher{}
	p, _ := newTestPipeline(t, gen, syn, disp)

	res := p.Respond(context.Background(), req("リリースは間に合いますか"))

	assert.Equal(t, store.OutcomeTakenBack, res.Outcome)
	assert.Equal(t, testAck, res.ResponseText)
	require.Len(t, syn.texts, 1)
	assert.Equal(t, testAck, syn.texts[0])
}

func TestRespondSynthesisFailureKeepsOutcome(t *testing.T) {
	gen := &fakeGenerator{text: "[ANSWERED] 納期は来週金曜です。"}
	syn := &fakeSynthesizer{err: errors.New("tts unavailable")}
	disp := &fakeDispatcher{}
	p, _ := newTestPipeline(t, gen, syn, disp)

	res := p.Respond(context.Background(), req("納期はいつですか"))

	assert.Equal(t, store.OutcomeAnswered, res.Outcome)
	assert.Equal(t, "納期は来週金曜です。", res.ResponseText, "response text survives synthesis failure")
	assert.Equal(t, errCodeSynthesis, res.ErrorCode)
	assert.Empty(t, disp.audios, "no delivery without audio")
}

func TestRespondDeliveryFailureKeepsOutcome(t *testing.T) {
	gen := &fakeGenerator{text: "[ANSWERED] はい、可能です。"}
	syn := &fakeSynthesizer{}
	disp := &fakeDispatcher{err: errors.New("bot disconnected")}
	p, _ := newTestPipeline(t, gen, syn, disp)

	res := p.Respond(context.Background(), req("変更は可能ですか"))

	assert.Equal(t, store.OutcomeAnswered, res.Outcome)
	assert.Equal(t, errCodeDelivery, res.ErrorCode)
}

func TestRespondNoMaterialsIsNotAnError(t *testing.T) {
	gen := &fakeGenerator{text: "[ANSWERED] 一般論としてはその通りです。"}
	syn := &fakeSynthesizer{}
	disp := &fakeDispatcher{}
	p, _ := newTestPipeline(t, gen, syn, disp)

	res := p.Respond(context.Background(), req("これは一般的な質問ですか"))

	assert.Equal(t, store.OutcomeAnswered, res.Outcome)
	assert.Empty(t, res.SnippetsUsed)
	assert.Empty(t, res.ErrorCode)
}
