package remote

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// TTSClient 语音合成服务的 HTTP 客户端
// 服务端返回 base64 编码的 mp3；Synthesize 解码后返回原始字节。
type TTSClient struct {
	baseURL      string
	voiceName    string
	speakingRate float64
	client       *http.Client
}

// NewTTSClient creates a synthesis client.
func NewTTSClient(baseURL, voiceName string, speakingRate float64, timeout time.Duration) *TTSClient {
	return &TTSClient{
		baseURL:      baseURL,
		voiceName:    voiceName,
		speakingRate: speakingRate,
		client:       &http.Client{Timeout: timeout},
	}
}

// Synthesize 合成一段语音
func (c *TTSClient) Synthesize(ctx context.Context, text string) ([]byte, error) {
	payload := map[string]interface{}{
		"text":          text,
		"voice_name":    c.voiceName,
		"speaking_rate": c.speakingRate,
		"audio_format":  "mp3",
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/synthesize", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling tts service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("tts service returned %d: %s", resp.StatusCode, string(data))
	}

	var out struct {
		AudioContent string `json:"audio_content"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	if out.AudioContent == "" {
		return nil, fmt.Errorf("tts service returned empty audio")
	}

	audio, err := base64.StdEncoding.DecodeString(out.AudioContent)
	if err != nil {
		return nil, fmt.Errorf("decoding audio content: %w", err)
	}
	return audio, nil
}
