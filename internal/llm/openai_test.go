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
)

type chatRequest struct {
	Model       string  `json:"model"`
	Temperature float32 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
	Messages    []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

func chatServer(t *testing.T, failFirst int32, reply string) (*httptest.Server, *atomic.Int32, chan chatRequest) {
	t.Helper()
	var calls atomic.Int32
	reqs := make(chan chatRequest, 8)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err == nil {
			reqs <- req
		}
		if n <= failFirst {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":{"message":"upstream busy","type":"server_error"}}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":     "chatcmpl-1",
			"object": "chat.completion",
			"model":  req.Model,
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]string{"role": "assistant", "content": reply},
				"finish_reason": "stop",
			}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv, &calls, reqs
}

func TestOpenAIGenerator_Generate(t *testing.T) {
	srv, calls, reqs := chatServer(t, 0, "  方案正文  ")
	g, err := NewOpenAIGenerator(OpenAIConfig{APIKey: "k", BaseURL: srv.URL + "/v1", Model: "qwen-plus"})
	require.NoError(t, err)

	out, err := g.Generate(context.Background(), "写一份方案", Options{Temperature: 0.5, MaxTokens: 6000})
	require.NoError(t, err)
	assert.Equal(t, "方案正文", out)
	assert.EqualValues(t, 1, calls.Load())

	req := <-reqs
	assert.Equal(t, "qwen-plus", req.Model)
	assert.Equal(t, 6000, req.MaxTokens)
	assert.InDelta(t, 0.5, req.Temperature, 1e-6)
	require.Len(t, req.Messages, 1)
	assert.Equal(t, "user", req.Messages[0].Role)
	assert.Equal(t, "写一份方案", req.Messages[0].Content)
}

func TestOpenAIGenerator_ModelOverride(t *testing.T) {
	srv, _, reqs := chatServer(t, 0, "ok")
	g, err := NewOpenAIGenerator(OpenAIConfig{APIKey: "k", BaseURL: srv.URL + "/v1", Model: "qwen-plus"})
	require.NoError(t, err)

	_, err = g.Generate(context.Background(), "hi", Options{Model: "qwen-turbo"})
	require.NoError(t, err)
	assert.Equal(t, "qwen-turbo", (<-reqs).Model)
}

func TestOpenAIGenerator_Retries(t *testing.T) {
	srv, calls, _ := chatServer(t, 1, "second time")
	g, err := NewOpenAIGenerator(OpenAIConfig{
		APIKey: "k", BaseURL: srv.URL + "/v1", Model: "m",
		MaxRetries: 1, RetryDelay: time.Millisecond,
	})
	require.NoError(t, err)

	out, err := g.Generate(context.Background(), "p", Options{})
	require.NoError(t, err)
	assert.Equal(t, "second time", out)
	assert.EqualValues(t, 2, calls.Load())
}

func TestOpenAIGenerator_GivesUp(t *testing.T) {
	srv, calls, _ := chatServer(t, 10, "never")
	g, err := NewOpenAIGenerator(OpenAIConfig{
		APIKey: "k", BaseURL: srv.URL + "/v1", Model: "m",
		MaxRetries: 2, RetryDelay: time.Millisecond,
	})
	require.NoError(t, err)

	_, err = g.Generate(context.Background(), "p", Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.EqualValues(t, 3, calls.Load())
}

func TestOpenAIGenerator_ContextDeadline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	g, err := NewOpenAIGenerator(OpenAIConfig{APIKey: "k", BaseURL: srv.URL + "/v1", Model: "m", MaxRetries: 3})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err = g.Generate(ctx, "p", Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestNewOpenAIGenerator_RequiresKey(t *testing.T) {
	_, err := NewOpenAIGenerator(OpenAIConfig{})
	assert.Error(t, err)
}
