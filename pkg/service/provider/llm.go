package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gollem"
	"github.com/secmon-lab/concierge/pkg/domain/model"
	"github.com/secmon-lab/concierge/pkg/domain/model/config"
	"github.com/secmon-lab/concierge/pkg/domain/types"
)

// LLM adapts a gollem client to GenerationProvider. Each Generate call
// opens a fresh session; conversation history is rendered into the input.
type LLM struct {
	cfg    config.Provider
	client gollem.LLMClient
}

func NewLLM(cfg config.Provider, client gollem.LLMClient) (*LLM, error) {
	if client == nil {
		return nil, goerr.New("LLM client is required", goerr.V("provider", cfg.ID))
	}
	return &LLM{cfg: cfg, client: client}, nil
}

func (p *LLM) ID() types.ProviderID { return p.cfg.ID }

// Client exposes the underlying gollem client for classification and embedding
func (p *LLM) Client() gollem.LLMClient { return p.client }

func (p *LLM) Generate(ctx context.Context, prompt *model.Prompt) model.Outcome {
	opts := []gollem.SessionOption{}
	if prompt.System != "" {
		opts = append(opts, gollem.WithSessionSystemPrompt(prompt.System))
	}

	session, err := p.client.NewSession(ctx, opts...)
	if err != nil {
		return Failure(goerr.Wrap(err, "failed to create session", goerr.V("provider", p.cfg.ID)))
	}

	input := renderInput(prompt)
	resp, err := session.Generate(ctx, []gollem.Input{gollem.Text(input)})
	if err != nil {
		return Failure(goerr.Wrap(err, "failed to generate content", goerr.V("provider", p.cfg.ID)))
	}
	if resp == nil || len(resp.Texts) == 0 {
		return model.RetryableFailure{Reason: "empty response"}
	}

	text := strings.Join(resp.Texts, "")
	tokensIn, tokensOut := resp.InputToken, resp.OutputToken
	if tokensIn == 0 && tokensOut == 0 {
		// backend did not report usage
		tokensIn = model.EstimateTokens(prompt.System) + model.EstimateTokens(input)
		tokensOut = model.EstimateTokens(text)
	}
	return model.Success{
		Text:      text,
		TokensIn:  tokensIn,
		TokensOut: tokensOut,
		CostUSD:   p.cfg.Cost(tokensIn, tokensOut),
	}
}

// Probe checks that the backend accepts a session and counts tokens
func (p *LLM) Probe(ctx context.Context) error {
	session, err := p.client.NewSession(ctx)
	if err != nil {
		return goerr.Wrap(err, "failed to create probe session", goerr.V("provider", p.cfg.ID))
	}
	if _, err := session.CountToken(ctx, gollem.Text("ping")); err != nil {
		return goerr.Wrap(err, "probe failed", goerr.V("provider", p.cfg.ID))
	}
	return nil
}

func renderInput(prompt *model.Prompt) string {
	if len(prompt.History) == 0 {
		return prompt.Input
	}

	var sb strings.Builder
	sb.WriteString("## Conversation so far:\n\n")
	for _, m := range prompt.History {
		fmt.Fprintf(&sb, "%s: %s\n", m.Role, m.Text)
	}
	sb.WriteString("\n## Current message:\n\n")
	sb.WriteString(prompt.Input)
	return sb.String()
}
