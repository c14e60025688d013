package completion

import (
	"context"
	"errors"
	"strings"

	"google.golang.org/genai"

	"github.com/fakeyudi/snek/internal/snapshot"
)

// DefaultGeminiModel is used when no model is configured for the gemini
// provider.
const DefaultGeminiModel = "gemini-2.5-flash"

// GeminiClient generates completions with the Google GenAI SDK.
type GeminiClient struct {
	client *genai.Client
	model  string
}

// NewGeminiClient creates a client for the Gemini API.
func NewGeminiClient(ctx context.Context, apiKey, model string) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, &UpstreamError{Provider: "gemini", Err: errors.New("API key not configured")}
	}
	if model == "" {
		model = DefaultGeminiModel
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, &UpstreamError{Provider: "gemini", Err: err}
	}
	return &GeminiClient{client: client, model: model}, nil
}

// Complete sends the conversation built for req as one GenerateContent call.
func (c *GeminiClient) Complete(ctx context.Context, req Request) (string, error) {
	system, contents := geminiContents(BuildMessages(req))

	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
		Temperature:       genai.Ptr[float32](0),
		MaxOutputTokens:   int32(req.MaxTokens),
	}
	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, cfg)
	if err != nil {
		return "", &UpstreamError{Provider: "gemini", Err: err}
	}
	return resp.Text(), nil
}

// geminiContents folds system messages into one system instruction and maps
// the remaining roles onto Gemini's user/model pair.
func geminiContents(msgs []snapshot.ChatMessage) (string, []*genai.Content) {
	var system []string
	contents := make([]*genai.Content, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case snapshot.RoleSystem:
			system = append(system, m.Content)
		case snapshot.RoleAssistant:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}
	return strings.Join(system, "\n\n"), contents
}
