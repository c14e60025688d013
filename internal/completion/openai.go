package completion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/fakeyudi/snek/internal/snapshot"
)

// Defaults for the OpenAI-compatible provider.
const (
	DefaultOpenAIURL   = "https://api.openai.com/v1/chat/completions"
	DefaultOpenAIModel = "gpt-4o-mini"
)

type openAIRequest struct {
	Model       string                 `json:"model"`
	Messages    []snapshot.ChatMessage `json:"messages"`
	Temperature float64                `json:"temperature"`
	MaxTokens   int                    `json:"max_tokens"`
	Stream      bool                   `json:"stream"`
}

type openAIResponse struct {
	Choices []struct {
		Message snapshot.ChatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// OpenAIConfig configures an OpenAIClient.
type OpenAIConfig struct {
	URL        string // full chat completions endpoint
	APIKey     string
	Model      string
	MaxRetries int           // retries after a 429 or 5xx response
	Backoff    time.Duration // first retry delay, doubled each attempt
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// OpenAIClient talks to any endpoint speaking the OpenAI chat completions
// protocol.
type OpenAIClient struct {
	url        string
	apiKey     string
	model      string
	maxRetries int
	backoff    time.Duration
	httpClient *http.Client
	logger     *zap.Logger
}

func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	c := &OpenAIClient{
		url:        cfg.URL,
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		maxRetries: cfg.MaxRetries,
		backoff:    cfg.Backoff,
		httpClient: cfg.HTTPClient,
		logger:     cfg.Logger,
	}
	if c.url == "" {
		c.url = DefaultOpenAIURL
	}
	if c.model == "" {
		c.model = DefaultOpenAIModel
	}
	if c.backoff <= 0 {
		c.backoff = 500 * time.Millisecond
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{}
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	return c
}

// Complete sends one non-streaming chat completion request.
func (c *OpenAIClient) Complete(ctx context.Context, req Request) (string, error) {
	if c.apiKey == "" {
		return "", &UpstreamError{Provider: "openai", Err: errors.New("API key not configured")}
	}

	body, err := json.Marshal(openAIRequest{
		Model:       c.model,
		Messages:    BuildMessages(req),
		Temperature: 0,
		MaxTokens:   req.MaxTokens,
		Stream:      false,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := c.backoff << (attempt - 1)
			c.logger.Debug("retrying completion", zap.Int("attempt", attempt), zap.Duration("delay", delay), zap.Error(lastErr))
			select {
			case <-ctx.Done():
				return "", &UpstreamError{Provider: "openai", Err: ctx.Err()}
			case <-time.After(delay):
			}
		}

		text, retry, err := c.do(ctx, body)
		if err == nil {
			return text, nil
		}
		lastErr = err
		if !retry {
			break
		}
	}
	return "", lastErr
}

// do performs one HTTP round trip. retry reports whether the failure is
// worth another attempt.
func (c *OpenAIClient) do(ctx context.Context, body []byte) (text string, retry bool, err error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return "", false, &UpstreamError{Provider: "openai", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", ctx.Err() == nil, &UpstreamError{Provider: "openai", Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", true, &UpstreamError{Provider: "openai", StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	if resp.StatusCode != http.StatusOK {
		retry = resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		return "", retry, &UpstreamError{Provider: "openai", StatusCode: resp.StatusCode, Err: errors.New(string(bytes.TrimSpace(data)))}
	}

	var parsed openAIResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", false, &UpstreamError{Provider: "openai", StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to parse response: %w", err)}
	}
	if parsed.Error != nil {
		return "", false, &UpstreamError{Provider: "openai", StatusCode: resp.StatusCode, Err: errors.New(parsed.Error.Message)}
	}
	if len(parsed.Choices) == 0 {
		return "", false, nil
	}
	return parsed.Choices[0].Message.Content, false, nil
}
