package embedding

import (
	"context"
	"crypto/sha256"
	"slices"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gollem"
	"github.com/secmon-lab/concierge/pkg/domain/interfaces"
	"github.com/secmon-lab/concierge/pkg/domain/model"
	"github.com/secmon-lab/concierge/pkg/domain/model/config"
	"github.com/secmon-lab/concierge/pkg/domain/types"
	"github.com/secmon-lab/concierge/pkg/utils/errutil"
)

// PolicySource supplies provider pricing and budget settings at call time
type PolicySource interface {
	Current() *config.Policy
}

// DefaultDimension matches the vector index created by the migrate command
const DefaultDimension = 768

// Client turns text into vectors through a gollem backend. Results are kept
// in an LRU cache keyed by text digest so identical input yields an identical
// vector for the life of the process.
type Client struct {
	llmClient gollem.LLMClient
	dimension int
	timeout   time.Duration
	cache     *lru.Cache[[sha256.Size]byte, []float32]

	recorder   interfaces.UsageRecorder
	providerID types.ProviderID
	policies   PolicySource
}

type Option func(*Client)

func WithDimension(n int) Option {
	return func(c *Client) {
		c.dimension = n
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithLedger records every backend call, cache misses only, as usage of
// providerID priced by the current policy
func WithLedger(r interfaces.UsageRecorder, providerID types.ProviderID, policies PolicySource) Option {
	return func(c *Client) {
		c.recorder = r
		c.providerID = providerID
		c.policies = policies
	}
}

func New(llmClient gollem.LLMClient, cacheSize int, opts ...Option) (*Client, error) {
	if llmClient == nil {
		return nil, goerr.New("LLM client is required")
	}
	if cacheSize <= 0 {
		cacheSize = 1024
	}
	cache, err := lru.New[[sha256.Size]byte, []float32](cacheSize)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create embedding cache", goerr.V("size", cacheSize))
	}

	c := &Client{
		llmClient: llmClient,
		dimension: DefaultDimension,
		timeout:   10 * time.Second,
		cache:     cache,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) Dimension() int { return c.dimension }

// Embed returns the vector of text. The returned slice is owned by the caller.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	key := sha256.Sum256([]byte(text))
	if v, ok := c.cache.Get(key); ok {
		return slices.Clone(v), nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	embeddings, err := c.llmClient.GenerateEmbedding(ctx, c.dimension, []string{text})
	c.record(ctx, text, err == nil)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to generate embedding")
	}
	if len(embeddings) == 0 {
		return nil, goerr.New("no embedding returned")
	}
	if len(embeddings[0]) != c.dimension {
		return nil, goerr.New("embedding dimension mismatch",
			goerr.V("expected", c.dimension),
			goerr.V("actual", len(embeddings[0])))
	}

	result := make([]float32, len(embeddings[0]))
	for i, v := range embeddings[0] {
		result[i] = float32(v)
	}

	c.cache.Add(key, result)
	return slices.Clone(result), nil
}

// record writes the ledger entry of one embedding call. Embedding backends
// report no usage, so input tokens are estimated.
func (c *Client) record(ctx context.Context, text string, success bool) {
	if c.recorder == nil {
		return
	}

	policy := c.policies.Current()
	rec := &model.UsageRecord{
		Owner:      model.OwnerFrom(ctx),
		ProviderID: c.providerID,
		Task:       model.TaskEmbedding,
		Success:    success,
		Attempts:   1,
	}
	if success {
		rec.TokensIn = model.EstimateTokens(text)
		if p, ok := policy.Provider(c.providerID); ok {
			rec.CostUSD = p.Cost(rec.TokensIn, 0)
		}
	}

	ctx = context.WithoutCancel(ctx)
	if err := c.recorder.RecordUsage(ctx, rec, policy.Budget); err != nil {
		errutil.Handle(ctx, err, "failed to record embedding usage")
	}
}
