package providers

import (
	"context"
	"fmt"

	"github.com/ChamsBouzaiene/finchat/internal/engine"

	anthropic "github.com/liushuangls/go-anthropic/v2"
)

// defaultAnthropicMaxTokens is sent when the catalog leaves the limit open;
// the Messages API requires one.
const defaultAnthropicMaxTokens = 4096

// AnthropicClient implements engine.LLMClient over the Messages streaming API.
type AnthropicClient struct {
	client *anthropic.Client
}

// NewAnthropicClient creates a client for the Anthropic API.
func NewAnthropicClient(apiKey string) *AnthropicClient {
	return &AnthropicClient{client: anthropic.NewClient(apiKey)}
}

// Stream implements engine.LLMClient.
func (c *AnthropicClient) Stream(ctx context.Context, modelName string, messages []engine.ChatMessage, opts engine.ChatOptions) (<-chan engine.StreamEvent, <-chan error) {
	w := newStreamWriter(ctx)
	go func() {
		w.finish(c.stream(ctx, w, modelName, messages, opts))
	}()
	return w.events, w.errs
}

func (c *AnthropicClient) stream(ctx context.Context, w *streamWriter, modelName string, messages []engine.ChatMessage, opts engine.ChatOptions) error {
	system, turns := alternate(messages)

	var systemParts []anthropic.MessageSystemPart
	for _, s := range system {
		systemParts = append(systemParts, anthropic.MessageSystemPart{Type: "text", Text: s})
	}
	msgs := make([]anthropic.Message, 0, len(turns))
	for _, t := range turns {
		role := anthropic.RoleUser
		if t.Role == engine.RoleAssistant {
			role = anthropic.RoleAssistant
		}
		msgs = append(msgs, anthropic.Message{
			Role:    role,
			Content: []anthropic.MessageContent{anthropic.NewTextMessageContent(t.Content)},
		})
	}

	maxTokens := defaultAnthropicMaxTokens
	if opts.MaxOutputTokens > 0 {
		maxTokens = opts.MaxOutputTokens
	}
	req := anthropic.MessagesStreamRequest{
		MessagesRequest: anthropic.MessagesRequest{
			Model:     anthropic.Model(modelName),
			Messages:  msgs,
			MaxTokens: maxTokens,
		},
	}
	if len(systemParts) > 0 {
		req.MultiSystem = systemParts
	}
	if opts.Temperature > 0 {
		temperature := opts.Temperature
		req.Temperature = &temperature
	}

	var streamErr error
	stopped := false
	req.OnError = func(errResp anthropic.ErrorResponse) {
		if streamErr != nil {
			return
		}
		msg := errResp.Type
		if errResp.Error != nil {
			msg = errResp.Error.Message
		}
		streamErr = fmt.Errorf("anthropic streaming error: %s", msg)
	}
	req.OnContentBlockDelta = func(delta anthropic.MessagesEventContentBlockDeltaData) {
		if stopped || delta.Delta.Type != "text_delta" || delta.Delta.Text == nil {
			return
		}
		if !w.text(*delta.Delta.Text) {
			stopped = true
		}
	}

	resp, err := c.client.CreateMessagesStream(ctx, req)
	if err != nil {
		return providerError(err)
	}
	if streamErr != nil {
		return providerError(streamErr)
	}
	if stopped {
		return ctx.Err()
	}

	u := engine.Usage{
		Prompt:     resp.Usage.InputTokens,
		Completion: resp.Usage.OutputTokens,
		Total:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
	}
	if !w.usage(u) {
		return ctx.Err()
	}
	return nil
}
