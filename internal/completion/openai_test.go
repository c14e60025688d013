package completion_test

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

	"github.com/fakeyudi/snek/internal/completion"
)

type capturedRequest struct {
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
	Stream      bool    `json:"stream"`
	Messages    []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

func TestOpenAIClientSendsRequest(t *testing.T) {
	var got capturedRequest
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"return 42"}}]}`))
	}))
	defer srv.Close()

	c := completion.NewOpenAIClient(completion.OpenAIConfig{URL: srv.URL, APIKey: "sk-test", Model: "glm-4.6"})
	text, err := c.Complete(context.Background(), sampleRequest())

	require.NoError(t, err)
	assert.Equal(t, "return 42", text)
	assert.Equal(t, "Bearer sk-test", auth)
	assert.Equal(t, "glm-4.6", got.Model)
	assert.Equal(t, 64, got.MaxTokens)
	assert.Zero(t, got.Temperature)
	assert.False(t, got.Stream)
	require.Len(t, got.Messages, 4)
	assert.Equal(t, "system", got.Messages[0].Role)
}

func TestOpenAIClientErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"bad key"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := completion.NewOpenAIClient(completion.OpenAIConfig{URL: srv.URL, APIKey: "sk-test", MaxRetries: 3})
	_, err := c.Complete(context.Background(), sampleRequest())

	var upstream *completion.UpstreamError
	require.ErrorAs(t, err, &upstream)
	assert.Equal(t, http.StatusUnauthorized, upstream.StatusCode)
	assert.Contains(t, upstream.Error(), "bad key")
}

func TestOpenAIClientRetriesRateLimit(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"ok"}}]}`))
	}))
	defer srv.Close()

	c := completion.NewOpenAIClient(completion.OpenAIConfig{
		URL: srv.URL, APIKey: "k", MaxRetries: 2, Backoff: time.Millisecond,
	})
	text, err := c.Complete(context.Background(), sampleRequest())

	require.NoError(t, err)
	assert.Equal(t, "ok", text)
	assert.Equal(t, int32(3), calls.Load())
}

func TestOpenAIClientEmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	c := completion.NewOpenAIClient(completion.OpenAIConfig{URL: srv.URL, APIKey: "k"})
	text, err := c.Complete(context.Background(), sampleRequest())

	require.NoError(t, err)
	assert.Empty(t, text)
}

func TestOpenAIClientHonoursCancellation(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := completion.NewOpenAIClient(completion.OpenAIConfig{URL: srv.URL, APIKey: "k", MaxRetries: 2})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := c.Complete(ctx, sampleRequest())

	var upstream *completion.UpstreamError
	require.ErrorAs(t, err, &upstream)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestOpenAIClientWithoutKey(t *testing.T) {
	c := completion.NewOpenAIClient(completion.OpenAIConfig{URL: "http://127.0.0.1:0"})
	_, err := c.Complete(context.Background(), sampleRequest())

	var upstream *completion.UpstreamError
	require.ErrorAs(t, err, &upstream)
}
