package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateBot(t *testing.T) {
	var gotAuth string
	var gotPayload map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/bot/", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotPayload))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"id": "bot-123"})
	}))
	defer srv.Close()

	c := NewRecallClient(srv.URL, "secret-key", "https://proxy.example.com", 5*time.Second)
	botID, err := c.CreateBot(context.Background(), "https://meet.example.com/abc", "AI Avatar")
	require.NoError(t, err)
	assert.Equal(t, "bot-123", botID)
	assert.Equal(t, "Token secret-key", gotAuth)
	assert.Equal(t, "https://meet.example.com/abc", gotPayload["meeting_url"])
	assert.Equal(t, "AI Avatar", gotPayload["bot_name"])

	rc, ok := gotPayload["recording_config"].(map[string]interface{})
	require.True(t, ok, "recording_config present")
	endpoints, ok := rc["realtime_endpoints"].([]interface{})
	require.True(t, ok)
	require.Len(t, endpoints, 1)
	ep := endpoints[0].(map[string]interface{})
	assert.Equal(t, "https://proxy.example.com/api/v1/bot/webhook/transcript", ep["url"])
}

func TestCreateBotEmptyIDIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{})
	}))
	defer srv.Close()

	c := NewRecallClient(srv.URL, "k", "https://x", 5*time.Second)
	_, err := c.CreateBot(context.Background(), "https://meet", "bot")
	assert.Error(t, err)
}

func TestCreateBotServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"detail":"invalid meeting url"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewRecallClient(srv.URL, "k", "https://x", 5*time.Second)
	_, err := c.CreateBot(context.Background(), "not-a-url", "bot")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
}

func TestRequestLeaveAndSendAudioPaths(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewRecallClient(srv.URL, "k", "https://x", 5*time.Second)
	require.NoError(t, c.RequestLeave(context.Background(), "bot-9"))
	require.NoError(t, c.SendAudio(context.Background(), "bot-9", "bW96"))
	assert.Equal(t, []string{"/bot/bot-9/leave_call/", "/bot/bot-9/output_audio/"}, paths)
}

func TestCreateBotTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
	}))
	defer srv.Close()

	c := NewRecallClient(srv.URL, "k", "https://x", 50*time.Millisecond)
	_, err := c.CreateBot(context.Background(), "https://meet", "bot")
	assert.Error(t, err)
}
