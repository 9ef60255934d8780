// Package providers adapts LLM vendor SDKs to engine.LLMClient and maps the
// model catalog onto them.
package providers

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ChamsBouzaiene/finchat/internal/engine"
)

var (
	// ErrUnknownModel is returned for ids missing from the catalog.
	ErrUnknownModel = errors.New("unknown model")
	// ErrMissingCredentials is returned when a provider's API key is unset.
	ErrMissingCredentials = errors.New("missing credentials")
)

// Credentials maps providers to API keys.
type Credentials map[Provider]string

// CredentialsFromEnv reads each provider's key with getenv.
func CredentialsFromEnv(getenv func(string) string) Credentials {
	creds := make(Credentials, len(Providers))
	for p, cfg := range Providers {
		if key := getenv(cfg.EnvKey); key != "" {
			creds[p] = key
		}
	}
	return creds
}

// ModelInfo is the public view of a catalog entry.
type ModelInfo struct {
	ID            string   `json:"id"`
	Provider      Provider `json:"provider"`
	ModelName     string   `json:"model_name"`
	Description   string   `json:"description"`
	ContextTokens int      `json:"max_tokens"`
	Available     bool     `json:"available"`
}

// Factory creates provider clients on demand and reuses one client per
// provider. It implements engine.ModelResolver.
type Factory struct {
	creds Credentials

	mu      sync.Mutex
	clients map[Provider]engine.LLMClient
}

// NewFactory creates a factory over the given credentials.
func NewFactory(creds Credentials) *Factory {
	return &Factory{
		creds:   creds,
		clients: make(map[Provider]engine.LLMClient),
	}
}

var _ engine.ModelResolver = (*Factory)(nil)

// NewClient returns the client for a catalog model together with the
// provider's name for it.
func (f *Factory) NewClient(ctx context.Context, modelID string) (engine.LLMClient, string, error) {
	spec, ok := Lookup(modelID)
	if !ok {
		return nil, "", fmt.Errorf("%w: %s", ErrUnknownModel, modelID)
	}
	client, err := f.client(ctx, spec.Provider)
	if err != nil {
		return nil, "", err
	}
	return client, spec.ModelName, nil
}

// Resolve implements engine.ModelResolver.
func (f *Factory) Resolve(ctx context.Context, modelID string) (engine.ResolvedModel, error) {
	client, name, err := f.NewClient(ctx, modelID)
	if err != nil {
		return engine.ResolvedModel{}, err
	}
	spec := Models[modelID]
	return engine.ResolvedModel{
		Client:          client,
		Name:            name,
		MaxOutputTokens: spec.MaxOutputTokens,
		Temperature:     spec.Temperature,
	}, nil
}

// Available reports whether credentials exist for the model's provider.
func (f *Factory) Available(modelID string) bool {
	spec, ok := Lookup(modelID)
	return ok && f.creds[spec.Provider] != ""
}

// List describes every catalog model, sorted by id.
func (f *Factory) List() []ModelInfo {
	ids := ModelIDs()
	out := make([]ModelInfo, 0, len(ids))
	for _, id := range ids {
		spec := Models[id]
		out = append(out, ModelInfo{
			ID:            id,
			Provider:      spec.Provider,
			ModelName:     spec.ModelName,
			Description:   spec.Description,
			ContextTokens: spec.ContextTokens,
			Available:     f.Available(id),
		})
	}
	return out
}

func (f *Factory) client(ctx context.Context, p Provider) (engine.LLMClient, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if c, ok := f.clients[p]; ok {
		return c, nil
	}
	cfg, ok := Providers[p]
	if !ok {
		return nil, fmt.Errorf("unsupported provider: %s", p)
	}
	key := f.creds[p]
	if key == "" {
		return nil, fmt.Errorf("%w: %s not set", ErrMissingCredentials, cfg.EnvKey)
	}

	var c engine.LLMClient
	switch p {
	case ProviderOpenAI, ProviderDeepSeek:
		c = NewOpenAIClient(key, cfg.BaseURL)
	case ProviderAnthropic:
		c = NewAnthropicClient(key)
	case ProviderGemini:
		g, err := NewGeminiClient(ctx, key)
		if err != nil {
			return nil, err
		}
		c = g
	default:
		return nil, fmt.Errorf("unsupported provider: %s", p)
	}
	f.clients[p] = c
	return c, nil
}
