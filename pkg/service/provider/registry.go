package provider

import (
	"context"
	"sync"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gollem"
	"github.com/m-mizutani/gollem/llm/claude"
	"github.com/m-mizutani/gollem/llm/gemini"
	"github.com/m-mizutani/gollem/llm/openai"
	"github.com/secmon-lab/concierge/pkg/domain/interfaces"
	"github.com/secmon-lab/concierge/pkg/domain/model/config"
	"github.com/secmon-lab/concierge/pkg/domain/types"
	"github.com/secmon-lab/concierge/pkg/utils/logging"
)

const (
	BackendOpenAI = "openai"
	BackendClaude = "claude"
	BackendGemini = "gemini"
)

var ErrUnknownBackend = goerr.New("unknown provider backend")

// Credentials for the supported backends
type Credentials struct {
	OpenAIAPIKey   string `masq:"secret"`
	ClaudeAPIKey   string `masq:"secret"`
	GeminiProject  string
	GeminiLocation string
}

// ClientFactory creates the gollem client of one configured provider
type ClientFactory func(ctx context.Context, p config.Provider) (gollem.LLMClient, error)

// NewClientFactory returns a factory selecting the backend by name
func NewClientFactory(creds Credentials) ClientFactory {
	return func(ctx context.Context, p config.Provider) (gollem.LLMClient, error) {
		switch p.Backend {
		case BackendOpenAI:
			if creds.OpenAIAPIKey == "" {
				return nil, goerr.New("openai API key is not configured", goerr.V("provider", p.ID))
			}
			var opts []openai.Option
			if p.Model != "" {
				opts = append(opts, openai.WithModel(p.Model))
			}
			return openai.New(ctx, creds.OpenAIAPIKey, opts...)

		case BackendClaude:
			if creds.ClaudeAPIKey == "" {
				return nil, goerr.New("claude API key is not configured", goerr.V("provider", p.ID))
			}
			var opts []claude.Option
			if p.Model != "" {
				opts = append(opts, claude.WithModel(p.Model))
			}
			return claude.New(ctx, creds.ClaudeAPIKey, opts...)

		case BackendGemini:
			if creds.GeminiProject == "" {
				return nil, goerr.New("gemini project is not configured", goerr.V("provider", p.ID))
			}
			var opts []gemini.Option
			if p.Model != "" {
				opts = append(opts, gemini.WithModel(p.Model))
			}
			return gemini.New(ctx, creds.GeminiProject, creds.GeminiLocation, opts...)

		default:
			return nil, goerr.Wrap(ErrUnknownBackend, "cannot create client",
				goerr.V("provider", p.ID), goerr.V("backend", p.Backend))
		}
	}
}

// Registry maps provider IDs to their implementations
type Registry struct {
	mu        sync.RWMutex
	providers map[types.ProviderID]interfaces.GenerationProvider
}

func NewRegistry() *Registry {
	return &Registry{providers: make(map[types.ProviderID]interfaces.GenerationProvider)}
}

func (r *Registry) Register(p interfaces.GenerationProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.ID()] = p
}

// Build creates every configured provider that is not registered yet.
// Providers removed from configuration stay registered but are never
// selected because selection only considers configured providers.
func (r *Registry) Build(ctx context.Context, providers []config.Provider, factory ClientFactory) error {
	for _, p := range providers {
		if _, ok := r.Provider(p.ID); ok {
			continue
		}

		client, err := factory(ctx, p)
		if err != nil {
			return goerr.Wrap(err, "failed to create provider client", goerr.V("provider", p.ID))
		}
		llm, err := NewLLM(p, client)
		if err != nil {
			return err
		}
		r.Register(llm)

		logging.From(ctx).Info("provider registered",
			"provider", p.ID,
			"backend", p.Backend,
			"model", p.Model,
			"tier", p.Tier,
		)
	}
	return nil
}

func (r *Registry) Provider(id types.ProviderID) (interfaces.GenerationProvider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[id]
	return p, ok
}

func (r *Registry) Prober(id types.ProviderID) (interfaces.Prober, bool) {
	p, ok := r.Provider(id)
	if !ok {
		return nil, false
	}
	prober, ok := p.(interfaces.Prober)
	return prober, ok
}

// Client returns the gollem client behind a provider
func (r *Registry) Client(id types.ProviderID) (gollem.LLMClient, bool) {
	p, ok := r.Provider(id)
	if !ok {
		return nil, false
	}
	c, ok := p.(interface{ Client() gollem.LLMClient })
	if !ok {
		return nil, false
	}
	return c.Client(), true
}
