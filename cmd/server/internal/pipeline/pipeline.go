package pipeline

import (
	"context"
	"encoding/base64"
	"log/slog"

	"github.com/houzhh15/meeting-proxy/cmd/server/internal/conversation"
	"github.com/houzhh15/meeting-proxy/cmd/server/internal/knowledge"
	"github.com/houzhh15/meeting-proxy/cmd/server/internal/metrics"
	"github.com/houzhh15/meeting-proxy/cmd/server/internal/remote"
	"github.com/houzhh15/meeting-proxy/cmd/server/internal/store"
)

// 错误码（记录在 ConversationTurn.ErrorCode，不向 webhook 调用方抛出）
const (
	errCodeGeneration = "generation_failure"
	errCodeSynthesis  = "synthesis_failure"
	errCodeDelivery   = "delivery_failure"
)

// Pipeline 回复流水线：生成 → 分类 → 合成 → 投递
// 实现 conversation.Responder；单条发言的任何失败都不会中断会话。
type Pipeline struct {
	st          store.Store
	selector    *knowledge.Selector
	generator   remote.Generator
	synthesizer remote.Synthesizer
	dispatcher  remote.Dispatcher
	logger      *slog.Logger

	persona string
	botName string
	ack     string
}

// New creates the response pipeline.
func New(st store.Store, selector *knowledge.Selector, generator remote.Generator,
	synthesizer remote.Synthesizer, dispatcher remote.Dispatcher,
	logger *slog.Logger, persona, botName, ack string) *Pipeline {
	return &Pipeline{
		st:          st,
		selector:    selector,
		generator:   generator,
		synthesizer: synthesizer,
		dispatcher:  dispatcher,
		logger:      logger.With("component", "pipeline"),
		persona:     persona,
		botName:     botName,
		ack:         ack,
	}
}

// Respond 处理一条已触发的发言
// 生成失败强制 taken_back；合成/投递失败只记录错误码，分类结果保持不变。
func (p *Pipeline) Respond(ctx context.Context, req conversation.Request) conversation.Result {
	snippets := p.selectSnippets(ctx, req.MeetingID, req.Text)
	prompt := BuildPrompt(p.persona, p.botName, snippets, req.History, req.Speaker, req.Text)

	res := conversation.Result{}
	for _, sn := range snippets {
		res.SnippetsUsed = append(res.SnippetsUsed, sn.Filename)
	}

	generated, err := p.generator.Generate(ctx, prompt)
	if err != nil {
		// 生成失败：回退为 taken_back，播报固定致辞
		metrics.RecordPipelineError("generation")
		p.logger.Error("generation failed", "session_id", req.SessionID, "error", err)
		res.Outcome = store.OutcomeTakenBack
		res.ResponseText = p.ack
		res.ErrorCode = errCodeGeneration
		p.deliver(ctx, req.SessionID, p.ack, &res)
		return res
	}

	outcome, clean := Classify(generated)
	res.Outcome = outcome

	spoken := clean
	if outcome == store.OutcomeTakenBack {
		spoken = p.ack
	}
	res.ResponseText = spoken

	p.deliver(ctx, req.SessionID, spoken, &res)
	return res
}

// selectSnippets 拉取会议资料并做片段选择；资料缺失不算错误
func (p *Pipeline) selectSnippets(ctx context.Context, meetingID, text string) []knowledge.Snippet {
	materials, err := p.st.ListMaterials(ctx, meetingID)
	if err != nil {
		p.logger.Warn("list materials failed", "meeting_id", meetingID, "error", err)
		return nil
	}
	return p.selector.Select(text, materials)
}

// deliver 合成语音并推送回会议
func (p *Pipeline) deliver(ctx context.Context, sessionID, text string, res *conversation.Result) {
	if text == "" {
		return
	}

	audio, err := p.synthesizer.Synthesize(ctx, text)
	if err != nil {
		metrics.RecordPipelineError("synthesis")
		p.logger.Error("synthesis failed", "session_id", sessionID, "error", err)
		if res.ErrorCode == "" {
			res.ErrorCode = errCodeSynthesis
		}
		return
	}

	session, err := p.st.GetSession(ctx, sessionID)
	if err != nil || session.BotID == "" {
		metrics.RecordPipelineError("delivery")
		p.logger.Error("no deliverable bot for session", "session_id", sessionID, "error", err)
		if res.ErrorCode == "" {
			res.ErrorCode = errCodeDelivery
		}
		return
	}

	if err := p.dispatcher.SendAudio(ctx, session.BotID, base64.StdEncoding.EncodeToString(audio)); err != nil {
		metrics.RecordPipelineError("delivery")
		p.logger.Error("audio delivery failed", "session_id", sessionID, "bot_id", session.BotID, "error", err)
		if res.ErrorCode == "" {
			res.ErrorCode = errCodeDelivery
		}
	}
}
