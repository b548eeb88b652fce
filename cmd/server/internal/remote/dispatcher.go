// Package remote holds the clients for the external collaborators: the bot
// platform (dispatch/leave/audio), the generation service and the speech
// synthesis service. Every call carries a per-request timeout so a slow
// collaborator never blocks a scheduler tick or a session worker.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Dispatcher 机器人平台客户端接口
type Dispatcher interface {
	// CreateBot 请求平台派出机器人加入会议，返回平台侧 bot ID
	CreateBot(ctx context.Context, joinURL, botName string) (string, error)
	// RequestLeave 请求机器人离开会议
	RequestLeave(ctx context.Context, botID string) error
	// SendAudio 向会议推送一段 base64 编码的 mp3 音频
	SendAudio(ctx context.Context, botID, b64Audio string) error
}

// Generator 文本生成服务接口
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Synthesizer 语音合成服务接口
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// RecallClient Recall 风格机器人平台的 HTTP 客户端
type RecallClient struct {
	baseURL        string
	apiKey         string
	webhookBaseURL string
	client         *http.Client
}

// NewRecallClient creates a platform client. timeout applies per call.
func NewRecallClient(baseURL, apiKey, webhookBaseURL string, timeout time.Duration) *RecallClient {
	return &RecallClient{
		baseURL:        baseURL,
		apiKey:         apiKey,
		webhookBaseURL: webhookBaseURL,
		client:         &http.Client{Timeout: timeout},
	}
}

// CreateBot 派出机器人；实时转写通过 webhook 推回本服务
func (c *RecallClient) CreateBot(ctx context.Context, joinURL, botName string) (string, error) {
	payload := map[string]interface{}{
		"meeting_url": joinURL,
		"bot_name":    botName,
		"recording_config": map[string]interface{}{
			"transcript": map[string]interface{}{
				"provider": map[string]interface{}{
					"meeting_captions": map[string]interface{}{},
				},
			},
			"realtime_endpoints": []map[string]interface{}{
				{
					"type":   "webhook",
					"url":    c.webhookBaseURL + "/api/v1/bot/webhook/transcript",
					"events": []string{"transcript.data"},
				},
			},
		},
	}

	var resp struct {
		ID string `json:"id"`
	}
	if err := c.post(ctx, "/bot/", payload, &resp); err != nil {
		return "", fmt.Errorf("create bot: %w", err)
	}
	if resp.ID == "" {
		return "", fmt.Errorf("create bot: platform returned empty bot id")
	}
	return resp.ID, nil
}

// RequestLeave 请求机器人离会
func (c *RecallClient) RequestLeave(ctx context.Context, botID string) error {
	if err := c.post(ctx, "/bot/"+botID+"/leave_call/", map[string]interface{}{}, nil); err != nil {
		return fmt.Errorf("request leave for bot %s: %w", botID, err)
	}
	return nil
}

// SendAudio 推送回复音频（base64 mp3）
func (c *RecallClient) SendAudio(ctx context.Context, botID, b64Audio string) error {
	payload := map[string]interface{}{
		"kind":     "mp3",
		"b64_data": b64Audio,
	}
	if err := c.post(ctx, "/bot/"+botID+"/output_audio/", payload, nil); err != nil {
		return fmt.Errorf("send audio to bot %s: %w", botID, err)
	}
	return nil
}

func (c *RecallClient) post(ctx context.Context, path string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Token "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("calling platform: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("platform returned %d: %s", resp.StatusCode, string(data))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}
