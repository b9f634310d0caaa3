package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/prinsights/internal/domain/port/driven"
)

func newTestOpenAI(t *testing.T, handler http.HandlerFunc) *OpenAI {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	p, err := NewOpenAI(Config{BaseURL: srv.URL + "/v1/", APIKey: "sk-test", Model: "gpt-5-nano", MaxRetries: 2})
	require.NoError(t, err)
	p.retryDelay = time.Millisecond
	return p
}

func TestNewOpenAI_RequiresKey(t *testing.T) {
	_, err := NewOpenAI(Config{})
	require.ErrorIs(t, err, driven.ErrConfiguration)
}

func TestNewOpenAI_Defaults(t *testing.T) {
	p, err := NewOpenAI(Config{APIKey: "sk"})
	require.NoError(t, err)

	assert.Equal(t, defaultModel, p.Model())
	assert.Equal(t, defaultBaseURL, p.baseURL)
}

func TestOpenAI_Generate(t *testing.T) {
	p := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var req chatRequest
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&req)) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		assert.Equal(t, "gpt-5-nano", req.Model)
		assert.Equal(t, 1000, req.MaxTokens)
		assert.InDelta(t, 0.7, req.Temperature, 1e-9)
		assert.Equal(t, []chatMessage{
			{Role: "system", Content: "be terse"},
			{Role: "user", Content: "stats"},
		}, req.Messages)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices": [{"message": {"role": "assistant", "content": "{\"insights\": []}"}, "finish_reason": "stop"}]}`))
	})

	got, err := p.Generate(context.Background(), driven.InsightPrompt{System: "be terse", User: "stats", MaxTokens: 1000})

	require.NoError(t, err)
	assert.Equal(t, `{"insights": []}`, got)
}

func TestOpenAI_RetriesRateLimit(t *testing.T) {
	var calls atomic.Int32
	p := newTestOpenAI(t, func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"choices": [{"message": {"content": "ok"}}]}`))
	})

	got, err := p.Generate(context.Background(), driven.InsightPrompt{User: "stats"})

	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, int32(2), calls.Load())
}

func TestOpenAI_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	p := newTestOpenAI(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, `{"error": "bad key"}`, http.StatusUnauthorized)
	})

	_, err := p.Generate(context.Background(), driven.InsightPrompt{User: "stats"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 401")
	assert.Equal(t, int32(1), calls.Load())
}

func TestOpenAI_NoChoices(t *testing.T) {
	p := newTestOpenAI(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"choices": []}`))
	})
	p.maxRetries = 0

	_, err := p.Generate(context.Background(), driven.InsightPrompt{User: "stats"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "no choices")
}
