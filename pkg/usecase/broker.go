package usecase

import (
	"context"
	"errors"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/concierge/pkg/domain/interfaces"
	"github.com/secmon-lab/concierge/pkg/domain/model"
	"github.com/secmon-lab/concierge/pkg/domain/model/config"
	"github.com/secmon-lab/concierge/pkg/domain/types"
	"github.com/secmon-lab/concierge/pkg/service/classifier"
	"github.com/secmon-lab/concierge/pkg/service/executor"
	"github.com/secmon-lab/concierge/pkg/service/ratelimit"
	"github.com/secmon-lab/concierge/pkg/service/sanitizer"
	"github.com/secmon-lab/concierge/pkg/service/selector"
	"github.com/secmon-lab/concierge/pkg/utils/clock"
	"github.com/secmon-lab/concierge/pkg/utils/errutil"
	"github.com/secmon-lab/concierge/pkg/utils/logging"
)

// ExhaustedMessage is returned to the user when every provider failed
const ExhaustedMessage = "All assistants are unavailable right now. Please try again in a few minutes."

// PolicySource returns the policy snapshot for a new request
type PolicySource interface {
	Current() *config.Policy
}

// BudgetView derives budget state from the ledger
type BudgetView interface {
	CheckBudget(scope model.BudgetScope, b config.Budget) model.BudgetState
}

// Executor runs a fallback chain
type Executor interface {
	Execute(ctx context.Context, chain model.Chain, req *executor.Request) (*executor.Result, error)
}

type allAvailable struct{}

func (allAvailable) IsAvailable(types.ProviderID) bool { return true }

// BrokerUseCase composes admission, context assembly, classification,
// selection and execution into one request/response cycle.
type BrokerUseCase struct {
	repo        interfaces.Repository
	policies    PolicySource
	memory      *MemoryUseCase
	assembler   *ContextAssembler
	executor    Executor
	cipher      interfaces.Cipher
	limiter     ratelimit.Limiter
	classifiers map[string]interfaces.Classifier
	budget      BudgetView
	health      selector.HealthView
	clock       clock.Clock
}

type BrokerOption func(*BrokerUseCase)

func WithLimiter(l ratelimit.Limiter) BrokerOption {
	return func(b *BrokerUseCase) {
		b.limiter = l
	}
}

// WithClassifier registers a classifier under a policy classifier kind
func WithClassifier(kind string, c interfaces.Classifier) BrokerOption {
	return func(b *BrokerUseCase) {
		b.classifiers[kind] = c
	}
}

func WithBudgetView(v BudgetView) BrokerOption {
	return func(b *BrokerUseCase) {
		b.budget = v
	}
}

func WithHealthView(h selector.HealthView) BrokerOption {
	return func(b *BrokerUseCase) {
		b.health = h
	}
}

func WithBrokerClock(c clock.Clock) BrokerOption {
	return func(b *BrokerUseCase) {
		b.clock = c
	}
}

func NewBrokerUseCase(repo interfaces.Repository, policies PolicySource, memory *MemoryUseCase, assembler *ContextAssembler, exec Executor, opts ...BrokerOption) *BrokerUseCase {
	b := &BrokerUseCase{
		repo:      repo,
		policies:  policies,
		memory:    memory,
		assembler: assembler,
		executor:  exec,
		cipher:    memory.cipher,
		limiter:   ratelimit.NewMemory(),
		classifiers: map[string]interfaces.Classifier{
			config.ClassifierHeuristic: classifier.NewHeuristic(),
		},
		health: allAvailable{},
		clock:  clock.Real(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Handle processes one request. Policy denials, exhausted chains and
// cancellations are reported in the Response; only fatal system failures
// such as unreachable storage or a missing key are returned as errors.
func (b *BrokerUseCase) Handle(ctx context.Context, req *model.Request) (*model.Response, error) {
	start := b.clock.Now()
	if req.ID == "" {
		req.ID = model.NewRequestID()
	}
	if err := req.Owner.Validate(); err != nil {
		return nil, goerr.Wrap(err, "invalid request owner", goerr.V(RequestKey, req.ID))
	}
	if strings.TrimSpace(req.Text) == "" {
		return nil, goerr.Wrap(ErrEmptyMessage, "empty request", goerr.V(RequestKey, req.ID))
	}

	logger := logging.From(ctx).With("request_id", req.ID, "owner", req.Owner)
	ctx = model.WithOwner(logging.With(ctx, logger), req.Owner)

	// one snapshot per request; reloads apply to the next request
	policy := b.policies.Current()

	resp := &model.Response{RequestID: req.ID}
	finish := func() (*model.Response, error) {
		resp.Elapsed = b.clock.Now().Sub(start)
		return resp, nil
	}

	decision, err := b.limiter.Allow(ctx, req.Owner, policy.RateLimit)
	if err != nil {
		return nil, goerr.Wrap(err, "rate limiter unavailable", goerr.V(RequestKey, req.ID))
	}
	if !decision.Permitted {
		logger.Info("request rate limited", "retry_after", decision.RetryAfter, "warn", decision.Warn)
		resp.Denial = model.NewRateLimitDenial(decision.RetryAfter, decision.Warn)
		return finish()
	}

	if res := sanitizer.New(policy.Sanitizer).Inspect(ctx, req.Text); res.Flagged {
		resp.Denial = model.NewContentDenial(res.Reason)
		return finish()
	}

	rc, err := b.assembler.Assemble(ctx, req, policy.Context)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to assemble request context", goerr.V(RequestKey, req.ID))
	}

	routing := classifier.Route(b.classifierFor(policy).Classify(ctx, req.Text, rc.History), policy.Routing)
	resp.Decision = routing
	Narrow(rc, policy.Context, routing.Intent == types.IntentMemoryRecall)
	logger.Info("request classified",
		"intent", routing.Intent,
		"confidence", routing.Confidence,
		"tier", routing.PreferredTier,
		"degraded", routing.Degraded,
	)

	stored := false
	if routing.Intent == types.IntentMemoryStore {
		if _, err := b.memory.Remember(ctx, RememberInput{
			Owner:   req.Owner,
			Text:    req.Text,
			Channel: req.Channel,
			Kind:    types.RecordKindExplicit,
		}); err != nil {
			return nil, goerr.Wrap(err, "failed to store requested memory", goerr.V(RequestKey, req.ID))
		}
		stored = true
	}

	var daily model.BudgetState
	if b.budget != nil {
		daily = b.budget.CheckBudget(model.BudgetScope{Period: types.BudgetPeriodDaily}, policy.Budget)
	}
	chain := selector.Select(ctx, routing, daily, b.health, policy.Providers)

	result, err := b.executor.Execute(ctx, chain, &executor.Request{
		Owner:  req.Owner,
		Task:   model.TaskType(routing.Intent),
		Prompt: BuildPrompt(rc, req.Text, policy.Context.MaxPromptChars),
		Policy: policy,
	})
	if err != nil {
		var denied *executor.DenialError
		var exhausted *executor.ExhaustedError
		switch {
		case errors.As(err, &denied):
			resp.Denial = denied.Denial
			return finish()
		case errors.As(err, &exhausted):
			logger.Warn("all providers failed", "error", err.Error())
			resp.Text = ExhaustedMessage
			return finish()
		case ctx.Err() != nil:
			logger.Info("request cancelled by caller")
			resp.Discarded = true
			return finish()
		default:
			return nil, goerr.Wrap(err, "execution failed", goerr.V(RequestKey, req.ID))
		}
	}

	if ctx.Err() != nil {
		// the provider finished after the caller went away
		logger.Info("discarding result of cancelled request", "provider", result.Provider)
		resp.Discarded = true
		return finish()
	}

	resp.Success = true
	resp.Text = result.Success.Text
	resp.Provider = result.Provider

	b.persist(ctx, req, resp.Text, policy.Context, stored)
	return finish()
}

func (b *BrokerUseCase) classifierFor(policy *config.Policy) interfaces.Classifier {
	if c, ok := b.classifiers[policy.Classifier.Kind]; ok {
		return c
	}
	return b.classifiers[config.ClassifierHeuristic]
}

// persist appends both turns to history and remembers the exchange. The
// answer is already produced, so failures are reported but do not fail the
// request.
func (b *BrokerUseCase) persist(ctx context.Context, req *model.Request, answer string, cfg config.Context, stored bool) {
	now := b.clock.Now()
	for _, turn := range []struct {
		role model.Role
		text string
	}{
		{model.RoleUser, req.Text},
		{model.RoleAssistant, answer},
	} {
		ciphertext, err := b.cipher.Encrypt([]byte(turn.text))
		if err != nil {
			errutil.Handle(ctx, goerr.Wrap(err, "failed to encrypt history"), "history not stored")
			return
		}
		entry := &model.HistoryEntry{
			ID:         model.NewHistoryID(),
			Owner:      req.Owner,
			Channel:    req.Channel,
			Role:       turn.role,
			Ciphertext: ciphertext,
			CreatedAt:  now,
		}
		if err := b.repo.History().Append(ctx, entry); err != nil {
			errutil.Handle(ctx, goerr.Wrap(err, "failed to append history", goerr.V(RequestKey, req.ID)), "history not stored")
			return
		}
	}

	if !cfg.AutoRemember || stored {
		return
	}
	if _, err := b.memory.Remember(ctx, RememberInput{
		Owner:   req.Owner,
		Text:    "User: " + req.Text + "\nAssistant: " + answer,
		Channel: req.Channel,
		Kind:    types.RecordKindExchange,
	}); err != nil {
		errutil.Handle(ctx, err, "exchange not remembered")
	}
}
