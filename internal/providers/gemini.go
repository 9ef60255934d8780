package providers

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ChamsBouzaiene/finchat/internal/engine"
	"google.golang.org/genai"
)

// GeminiClient implements engine.LLMClient using the Google Gen AI SDK.
type GeminiClient struct {
	client *genai.Client
}

// NewGeminiClient creates a Gemini API client.
func NewGeminiClient(ctx context.Context, apiKey string) (*GeminiClient, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return &GeminiClient{client: client}, nil
}

// Stream implements engine.LLMClient.
func (c *GeminiClient) Stream(ctx context.Context, modelName string, messages []engine.ChatMessage, opts engine.ChatOptions) (<-chan engine.StreamEvent, <-chan error) {
	w := newStreamWriter(ctx)
	go func() {
		w.finish(c.stream(ctx, w, modelName, messages, opts))
	}()
	return w.events, w.errs
}

func (c *GeminiClient) stream(ctx context.Context, w *streamWriter, modelName string, messages []engine.ChatMessage, opts engine.ChatOptions) error {
	system, turns := alternate(messages)
	slog.Debug("Gemini.Stream", "model", modelName, "turns", len(turns), "system_parts", len(system))

	config := &genai.GenerateContentConfig{}
	if len(system) > 0 {
		parts := make([]*genai.Part, 0, len(system))
		for _, s := range system {
			parts = append(parts, &genai.Part{Text: s})
		}
		config.SystemInstruction = &genai.Content{Parts: parts}
	}
	if opts.Temperature > 0 {
		temperature := opts.Temperature
		config.Temperature = &temperature
	}
	if opts.MaxOutputTokens > 0 {
		config.MaxOutputTokens = int32(opts.MaxOutputTokens)
	}

	contents := make([]*genai.Content, 0, len(turns))
	for _, t := range turns {
		role := "user"
		if t.Role == engine.RoleAssistant {
			role = "model"
		}
		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{{Text: t.Content}},
		})
	}

	var usage engine.Usage
	for resp, err := range c.client.Models.GenerateContentStream(ctx, modelName, contents, config) {
		if err != nil {
			return providerError(err)
		}
		if resp == nil {
			continue
		}
		if m := resp.UsageMetadata; m != nil {
			usage = engine.Usage{
				Prompt:     int(m.PromptTokenCount),
				Completion: int(m.CandidatesTokenCount),
				Total:      int(m.TotalTokenCount),
			}
		}
		for _, cand := range resp.Candidates {
			if cand.Content == nil {
				continue
			}
			for _, part := range cand.Content.Parts {
				if part.Thought {
					continue
				}
				if !w.text(part.Text) {
					return ctx.Err()
				}
			}
		}
	}

	if !w.usage(usage) {
		return ctx.Err()
	}
	return nil
}
