package config

import (
	"context"
	"log/slog"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/concierge/pkg/domain/interfaces"
	"github.com/secmon-lab/concierge/pkg/domain/model/config"
	"github.com/secmon-lab/concierge/pkg/domain/types"
	"github.com/secmon-lab/concierge/pkg/service/embedding"
	"github.com/secmon-lab/concierge/pkg/service/provider"
	"github.com/urfave/cli/v3"
)

// LLM holds backend credentials and the embedding settings
type LLM struct {
	openAIKey         string
	claudeKey         string
	geminiProject     string
	geminiLocation    string
	embeddingProvider string
	embeddingCache    int
	embeddingDim      int
}

func (x *LLM) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "openai-api-key",
			Usage:       "OpenAI API key",
			Category:    "LLM",
			Sources:     cli.EnvVars("CONCIERGE_OPENAI_API_KEY"),
			Destination: &x.openAIKey,
		},
		&cli.StringFlag{
			Name:        "claude-api-key",
			Usage:       "Anthropic API key",
			Category:    "LLM",
			Sources:     cli.EnvVars("CONCIERGE_CLAUDE_API_KEY"),
			Destination: &x.claudeKey,
		},
		&cli.StringFlag{
			Name:        "gemini-project",
			Usage:       "Google Cloud project ID for Gemini API",
			Category:    "LLM",
			Sources:     cli.EnvVars("CONCIERGE_GEMINI_PROJECT"),
			Destination: &x.geminiProject,
		},
		&cli.StringFlag{
			Name:        "gemini-location",
			Usage:       "Google Cloud location for Gemini API",
			Category:    "LLM",
			Value:       "us-central1",
			Sources:     cli.EnvVars("CONCIERGE_GEMINI_LOCATION"),
			Destination: &x.geminiLocation,
		},
		&cli.StringFlag{
			Name:        "embedding-provider",
			Usage:       "Policy provider ID used for embeddings (default: first openai or gemini provider)",
			Category:    "LLM",
			Sources:     cli.EnvVars("CONCIERGE_EMBEDDING_PROVIDER"),
			Destination: &x.embeddingProvider,
		},
		&cli.IntFlag{
			Name:        "embedding-dimension",
			Usage:       "Embedding vector dimension; must match the vector index",
			Category:    "LLM",
			Value:       embedding.DefaultDimension,
			Sources:     cli.EnvVars("CONCIERGE_EMBEDDING_DIMENSION"),
			Destination: &x.embeddingDim,
		},
		&cli.IntFlag{
			Name:        "embedding-cache-size",
			Usage:       "Number of embeddings kept in the in-process cache",
			Category:    "LLM",
			Value:       1024,
			Sources:     cli.EnvVars("CONCIERGE_EMBEDDING_CACHE_SIZE"),
			Destination: &x.embeddingCache,
		},
	}
}

func (x *LLM) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Bool("openai", x.openAIKey != ""),
		slog.Bool("claude", x.claudeKey != ""),
		slog.String("gemini_project", x.geminiProject),
		slog.String("gemini_location", x.geminiLocation),
		slog.String("embedding_provider", x.embeddingProvider),
		slog.Int("embedding_dimension", x.embeddingDim),
	)
}

func (x *LLM) Credentials() provider.Credentials {
	return provider.Credentials{
		OpenAIAPIKey:   x.openAIKey,
		ClaudeAPIKey:   x.claudeKey,
		GeminiProject:  x.geminiProject,
		GeminiLocation: x.geminiLocation,
	}
}

// EmbeddingProviderID picks the provider whose client generates embeddings.
// Claude has no embedding endpoint and is never chosen implicitly.
func (x *LLM) EmbeddingProviderID(policy *config.Policy) (types.ProviderID, error) {
	if x.embeddingProvider != "" {
		id := types.ProviderID(x.embeddingProvider)
		if _, ok := policy.Provider(id); !ok {
			return "", goerr.Wrap(ErrUnknownProvider, "embedding provider is not in the policy", goerr.V(ProviderKey, id))
		}
		return id, nil
	}
	for _, p := range policy.Providers {
		if p.Backend == provider.BackendOpenAI || p.Backend == provider.BackendGemini {
			return p.ID, nil
		}
	}
	return "", goerr.Wrap(ErrInvalidConfig, "no provider can generate embeddings; add an openai or gemini provider")
}

// ConfigureEmbedding builds the embedding client on top of a registered
// provider client. Calls are recorded in ledger when it is not nil.
func (x *LLM) ConfigureEmbedding(ctx context.Context, policies embedding.PolicySource, registry *provider.Registry, ledger interfaces.UsageRecorder) (*embedding.Client, error) {
	id, err := x.EmbeddingProviderID(policies.Current())
	if err != nil {
		return nil, err
	}
	client, ok := registry.Client(id)
	if !ok {
		return nil, goerr.Wrap(ErrUnknownProvider, "embedding provider has no client", goerr.V(ProviderKey, id))
	}
	opts := []embedding.Option{embedding.WithDimension(x.embeddingDim)}
	if ledger != nil {
		opts = append(opts, embedding.WithLedger(ledger, id, policies))
	}
	emb, err := embedding.New(client, x.embeddingCache, opts...)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create embedding client", goerr.V(ProviderKey, id))
	}
	return emb, nil
}
