package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gollem"
	"github.com/secmon-lab/concierge/pkg/domain/interfaces"
	"github.com/secmon-lab/concierge/pkg/domain/model"
	"github.com/secmon-lab/concierge/pkg/domain/model/config"
	"github.com/secmon-lab/concierge/pkg/domain/types"
	"github.com/secmon-lab/concierge/pkg/utils/errutil"
	"github.com/secmon-lab/concierge/pkg/utils/logging"
)

// LLM classifies requests with a fast backend constrained to a JSON schema.
type LLM struct {
	llmClient    gollem.LLMClient
	timeout      time.Duration
	historyLimit int

	recorder interfaces.UsageRecorder
	provider config.Provider
	budget   config.Budget
}

type Option func(*LLM)

// WithTimeout bounds a single classification call
func WithTimeout(d time.Duration) Option {
	return func(c *LLM) {
		c.timeout = d
	}
}

// WithHistoryLimit sets how many recent messages are shown to the classifier
func WithHistoryLimit(n int) Option {
	return func(c *LLM) {
		c.historyLimit = n
	}
}

// WithUsageRecorder records every classification call against the provider's
// pricing in the ledger
func WithUsageRecorder(r interfaces.UsageRecorder, p config.Provider, b config.Budget) Option {
	return func(c *LLM) {
		c.recorder = r
		c.provider = p
		c.budget = b
	}
}

func NewLLM(llmClient gollem.LLMClient, opts ...Option) (*LLM, error) {
	if llmClient == nil {
		return nil, goerr.New("LLM client is required")
	}

	c := &LLM{
		llmClient:    llmClient,
		timeout:      10 * time.Second,
		historyLimit: 4,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type llmResponse struct {
	Intent     string   `json:"intent"`
	Confidence *float64 `json:"confidence"`
}

// Classify never fails. Any backend, timeout or schema error yields the
// degraded default decision.
func (c *LLM) Classify(ctx context.Context, text string, history []model.Message) model.RoutingDecision {
	decision, err := c.classify(ctx, text, history)
	if err != nil {
		logging.From(ctx).Warn("classification degraded to default", "error", err.Error())
		return model.DefaultRoutingDecision(err.Error())
	}
	return decision
}

func (c *LLM) classify(ctx context.Context, text string, history []model.Message) (model.RoutingDecision, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	session, err := c.llmClient.NewSession(ctx,
		gollem.WithSessionContentType(gollem.ContentTypeJSON),
		gollem.WithSessionResponseSchema(responseSchema()),
		gollem.WithSessionSystemPrompt(systemPrompt),
	)
	if err != nil {
		return model.RoutingDecision{}, goerr.Wrap(err, "failed to create classifier session")
	}

	prompt := c.userPrompt(text, history)
	resp, err := session.Generate(ctx, []gollem.Input{gollem.Text(prompt)})
	if err != nil {
		c.record(ctx, prompt, nil, false)
		return model.RoutingDecision{}, goerr.Wrap(err, "failed to generate classification")
	}
	if resp == nil || len(resp.Texts) == 0 {
		c.record(ctx, prompt, resp, false)
		return model.RoutingDecision{}, goerr.New("empty classifier response")
	}

	// the backend completed the call even if the answer fails validation
	c.record(ctx, prompt, resp, true)
	return parseResponse(strings.Join(resp.Texts, ""))
}

// record writes the ledger entry of one classification call. A failed call
// is charged only when the provider is configured to charge on failure.
func (c *LLM) record(ctx context.Context, prompt string, resp *gollem.Response, success bool) {
	if c.recorder == nil {
		return
	}

	rec := &model.UsageRecord{
		Owner:      model.OwnerFrom(ctx),
		ProviderID: c.provider.ID,
		Task:       model.TaskClassification,
		Success:    success,
		Attempts:   1,
	}
	if resp != nil {
		rec.TokensIn, rec.TokensOut = resp.InputToken, resp.OutputToken
		if rec.TokensIn == 0 && rec.TokensOut == 0 {
			rec.TokensIn = model.EstimateTokens(systemPrompt) + model.EstimateTokens(prompt)
			rec.TokensOut = model.EstimateTokens(strings.Join(resp.Texts, ""))
		}
	}
	if success || c.provider.ChargeOnFailure {
		rec.CostUSD = c.provider.Cost(rec.TokensIn, rec.TokensOut)
	}

	ctx = context.WithoutCancel(ctx)
	if err := c.recorder.RecordUsage(ctx, rec, c.budget); err != nil {
		errutil.Handle(ctx, err, "failed to record classification usage")
	}
}

// parseResponse validates the raw JSON against the response contract
func parseResponse(raw string) (model.RoutingDecision, error) {
	var r llmResponse
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return model.RoutingDecision{}, goerr.Wrap(err, "failed to parse classifier response", goerr.V("response", raw))
	}

	intent, err := types.ParseIntent(r.Intent)
	if err != nil {
		return model.RoutingDecision{}, goerr.Wrap(err, "classifier returned unknown intent", goerr.V("response", raw))
	}
	if r.Confidence == nil {
		return model.RoutingDecision{}, goerr.New("classifier response has no confidence", goerr.V("response", raw))
	}
	conf := *r.Confidence
	if conf < 0 || conf > 1 {
		return model.RoutingDecision{}, goerr.New("classifier confidence out of range", goerr.V("confidence", conf))
	}

	return model.RoutingDecision{Intent: intent, Confidence: conf}, nil
}

const systemPrompt = `You route requests for a personal assistant. Classify the latest user message into exactly one intent:

- simple-query: short factual question or small talk answerable in a few sentences
- complex-task: multi-step reasoning, writing, coding, planning or analysis
- memory-store: the user asks you to remember, note or save something about them
- memory-recall: the user asks what you remember or refers to something stored earlier
- other: anything that fits none of the above

Report confidence between 0 and 1. Do not answer the message itself.`

func (c *LLM) userPrompt(text string, history []model.Message) string {
	var sb strings.Builder

	if len(history) > 0 {
		start := max(len(history)-c.historyLimit, 0)
		sb.WriteString("## Recent conversation:\n\n")
		for _, m := range history[start:] {
			fmt.Fprintf(&sb, "%s: %s\n", m.Role, m.Text)
		}
		sb.WriteString("\n")
	}

	sb.WriteString("## Message to classify:\n\n")
	sb.WriteString(text)
	sb.WriteString("\n")

	return sb.String()
}

var (
	minConfidence = 0.0
	maxConfidence = 1.0
)

func responseSchema() *gollem.Parameter {
	intents := make([]string, 0, len(types.AllIntents()))
	for _, i := range types.AllIntents() {
		intents = append(intents, i.String())
	}

	return &gollem.Parameter{
		Title:       "RoutingDecision",
		Description: "Intent classification of a user message",
		Type:        gollem.TypeObject,
		Properties: map[string]*gollem.Parameter{
			"intent": {
				Type:        gollem.TypeString,
				Description: "Intent category of the message",
				Enum:        intents,
				Required:    true,
			},
			"confidence": {
				Type:        gollem.TypeNumber,
				Description: "Confidence of the classification between 0 and 1",
				Minimum:     &minConfidence,
				Maximum:     &maxConfidence,
				Required:    true,
			},
		},
	}
}
