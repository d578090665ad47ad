package classifier

import (
	"context"

	"github.com/m-mizutani/gollem"
	"github.com/secmon-lab/concierge/pkg/domain/interfaces"
	"github.com/secmon-lab/concierge/pkg/domain/model"
	"github.com/secmon-lab/concierge/pkg/domain/model/config"
	"github.com/secmon-lab/concierge/pkg/domain/types"
	"github.com/secmon-lab/concierge/pkg/utils/logging"
)

// ClientLookup resolves the gollem client of a configured provider
type ClientLookup interface {
	Client(id types.ProviderID) (gollem.LLMClient, bool)
}

type PolicySource interface {
	Current() *config.Policy
}

// ProviderLLM is an LLM classifier bound to whichever provider the current
// policy names, so a reload can move classification to another backend.
type ProviderLLM struct {
	clients      ClientLookup
	policy       PolicySource
	historyLimit int
	recorder     interfaces.UsageRecorder
}

type ProviderOption func(*ProviderLLM)

// WithLedger records classification calls as usage of the classifier provider
func WithLedger(r interfaces.UsageRecorder) ProviderOption {
	return func(c *ProviderLLM) {
		c.recorder = r
	}
}

func NewProviderLLM(clients ClientLookup, policy PolicySource, historyLimit int, opts ...ProviderOption) *ProviderLLM {
	c := &ProviderLLM{
		clients:      clients,
		policy:       policy,
		historyLimit: historyLimit,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *ProviderLLM) Classify(ctx context.Context, text string, history []model.Message) model.RoutingDecision {
	policy := c.policy.Current()
	cfg := policy.Classifier
	client, ok := c.clients.Client(cfg.ProviderID)
	if !ok {
		logging.From(ctx).Warn("classifier provider is not registered", "provider", cfg.ProviderID)
		return model.DefaultRoutingDecision("classifier provider unavailable")
	}

	opts := []Option{}
	if cfg.Timeout > 0 {
		opts = append(opts, WithTimeout(cfg.Timeout))
	}
	if c.historyLimit > 0 {
		opts = append(opts, WithHistoryLimit(c.historyLimit))
	}
	if c.recorder != nil {
		if p, ok := policy.Provider(cfg.ProviderID); ok {
			opts = append(opts, WithUsageRecorder(c.recorder, p, policy.Budget))
		}
	}
	llm, err := NewLLM(client, opts...)
	if err != nil {
		return model.DefaultRoutingDecision(err.Error())
	}
	return llm.Classify(ctx, text, history)
}
