package providers

import (
	"context"
	"errors"
	"io"

	"github.com/ChamsBouzaiene/finchat/internal/engine"

	openai "github.com/meguminnnnnnnnn/go-openai"
)

// OpenAIClient implements engine.LLMClient for OpenAI and any
// OpenAI-compatible API (DeepSeek) selected by base URL.
type OpenAIClient struct {
	client  *openai.Client
	baseURL string
}

// NewOpenAIClient creates a client. An empty baseURL uses api.openai.com.
func NewOpenAIClient(apiKey, baseURL string) *OpenAIClient {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &OpenAIClient{
		client:  openai.NewClientWithConfig(config),
		baseURL: baseURL,
	}
}

// Stream implements engine.LLMClient.
func (c *OpenAIClient) Stream(ctx context.Context, modelName string, messages []engine.ChatMessage, opts engine.ChatOptions) (<-chan engine.StreamEvent, <-chan error) {
	w := newStreamWriter(ctx)
	go func() {
		w.finish(c.stream(ctx, w, modelName, messages, opts))
	}()
	return w.events, w.errs
}

func (c *OpenAIClient) stream(ctx context.Context, w *streamWriter, modelName string, messages []engine.ChatMessage, opts engine.ChatOptions) error {
	req := openai.ChatCompletionRequest{
		Model:    modelName,
		Messages: toOpenAIMessages(messages),
		Stream:   true,
		StreamOptions: &openai.StreamOptions{
			IncludeUsage: true,
		},
	}
	if opts.MaxOutputTokens > 0 {
		req.MaxTokens = opts.MaxOutputTokens
	}
	if opts.Temperature > 0 {
		temperature := opts.Temperature
		req.Temperature = &temperature
	}

	stream, err := c.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return providerError(err)
	}
	defer stream.Close()

	var usage engine.Usage
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return providerError(err)
		}

		// The usage chunk arrives last and carries no choices.
		if resp.Usage != nil && resp.Usage.TotalTokens > 0 {
			usage = engine.Usage{
				Prompt:     resp.Usage.PromptTokens,
				Completion: resp.Usage.CompletionTokens,
				Total:      resp.Usage.TotalTokens,
			}
		}
		if len(resp.Choices) == 0 {
			continue
		}
		if !w.text(resp.Choices[0].Delta.Content) {
			return ctx.Err()
		}
	}

	if !w.usage(usage) {
		return ctx.Err()
	}
	return nil
}

// toOpenAIMessages keeps every message in order. OpenAI-compatible APIs
// accept several system messages.
func toOpenAIMessages(messages []engine.ChatMessage) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		role := openai.ChatMessageRoleUser
		switch msg.Role {
		case engine.RoleSystem:
			role = openai.ChatMessageRoleSystem
		case engine.RoleAssistant:
			role = openai.ChatMessageRoleAssistant
		}
		out = append(out, openai.ChatCompletionMessage{Role: role, Content: msg.Content})
	}
	return out
}
