package executor

import (
	"context"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/concierge/pkg/domain/interfaces"
	"github.com/secmon-lab/concierge/pkg/domain/model"
	"github.com/secmon-lab/concierge/pkg/domain/model/config"
	"github.com/secmon-lab/concierge/pkg/domain/types"
	"github.com/secmon-lab/concierge/pkg/utils/clock"
	"github.com/secmon-lab/concierge/pkg/utils/errutil"
	"github.com/secmon-lab/concierge/pkg/utils/logging"
)

// ProviderLookup resolves a chain entry to its implementation
type ProviderLookup interface {
	Provider(id types.ProviderID) (interfaces.GenerationProvider, bool)
}

// Ledger is the budget ledger as seen by the executor
type Ledger interface {
	RecordUsage(ctx context.Context, rec *model.UsageRecord, b config.Budget) error
	HardStopped(b config.Budget) (bool, string)
}

// HealthReporter receives the outcome of every attempt
type HealthReporter interface {
	ReportSuccess(ctx context.Context, id types.ProviderID)
	ReportFailure(ctx context.Context, id types.ProviderID, reason string, threshold int) bool
}

type Executor struct {
	providers ProviderLookup
	ledger    Ledger
	health    HealthReporter
	clock     clock.Clock
	jitter    func() float64
}

type Option func(*Executor)

func WithClock(c clock.Clock) Option {
	return func(e *Executor) {
		e.clock = c
	}
}

// WithJitter replaces the random source of backoff jitter. f must return
// values in [0,1).
func WithJitter(f func() float64) Option {
	return func(e *Executor) {
		e.jitter = f
	}
}

func New(providers ProviderLookup, ledger Ledger, health HealthReporter, opts ...Option) *Executor {
	e := &Executor{
		providers: providers,
		ledger:    ledger,
		health:    health,
		clock:     clock.Real(),
		jitter:    defaultJitter,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Request is one logical generation request
type Request struct {
	Owner  types.OwnerID
	Task   model.TaskType
	Prompt *model.Prompt
	// Policy is the snapshot captured at admission
	Policy *config.Policy
}

// Result of a successful execution
type Result struct {
	Success  model.Success
	Provider types.ProviderID
	// Turns is the number of providers attempted, including the successful one
	Turns int
}

// turn accumulates the attempts made against one provider
type turn struct {
	candidate model.Candidate
	cfg       config.Provider
	attempts  int
	costUSD   float64
	last      model.Outcome
}

// Execute runs the request through chain. It returns a *DenialError when the
// budget hard stop excludes every candidate, an *ExhaustedError when every
// provider failed, or the context error when the request was cancelled
// between attempts. An attempt already dispatched always runs to completion
// and is recorded.
func (e *Executor) Execute(ctx context.Context, chain model.Chain, req *Request) (*Result, error) {
	policy := req.Policy
	logger := logging.From(ctx)

	chain, denial := e.applyHardStop(ctx, chain, policy.Budget)
	if denial != nil {
		return nil, &DenialError{Denial: denial}
	}

	exhausted := &ExhaustedError{}
	if len(chain) == 0 {
		return nil, exhausted
	}

	var (
		s   = step{state: StateDispatch}
		cur *turn
		out model.Outcome
	)

	for !s.state.Terminal() {
		switch s.state {
		case StateDispatch:
			if err := ctx.Err(); err != nil {
				// a retry in progress still owes its ledger entry
				if s.attempt > 0 {
					e.finishTurn(ctx, req, cur, false)
				}
				return nil, goerr.Wrap(err, "request cancelled before dispatch",
					goerr.V("provider", chain[s.index].ProviderID))
			}
			if s.attempt == 0 {
				cur = e.newTurn(chain[s.index], policy)
			}
			out = e.dispatch(ctx, cur, req)

		case StateAwait:
			// out is consumed by the transition below

		case StateRetryable:
			f := out.(model.RetryableFailure)
			logger.Warn("provider attempt failed, retryable",
				"provider", cur.candidate.ProviderID,
				"attempt", cur.attempts,
				"reason", f.Reason,
			)

		case StateFatal:
			f, _ := out.(model.FatalFailure)
			logger.Warn("provider attempt failed, fatal",
				"provider", cur.candidate.ProviderID,
				"attempt", cur.attempts,
				"reason", f.Reason,
			)

		case StateBackoff:
			var hint time.Duration
			if f, ok := out.(model.RetryableFailure); ok {
				hint = f.RetryAfter
			}
			d := backoff(s.attempt, policy.Retry.BaseDelay, policy.Retry.MaxDelay, hint, e.jitter)
			if err := e.clock.Sleep(ctx, d); err != nil {
				e.finishTurn(ctx, req, cur, false)
				return nil, goerr.Wrap(err, "request cancelled during backoff",
					goerr.V("provider", cur.candidate.ProviderID))
			}

		case StateAdvance:
			e.finishTurn(ctx, req, cur, false)
			exhausted.Providers = append(exhausted.Providers, providerError(cur))
			if s.index+1 < len(chain) {
				logger.Info("advancing to next provider",
					"from", cur.candidate.ProviderID,
					"to", chain[s.index+1].ProviderID,
				)
			}
		}

		s = transition(s, out, policy.Retry.MaxRetries, len(chain))
	}

	if s.state == StateExhausted {
		return nil, exhausted
	}

	e.finishTurn(ctx, req, cur, true)
	return &Result{
		Success:  out.(model.Success),
		Provider: cur.candidate.ProviderID,
		Turns:    s.index + 1,
	}, nil
}

func (e *Executor) newTurn(c model.Candidate, policy *config.Policy) *turn {
	cfg, _ := policy.Provider(c.ProviderID)
	return &turn{candidate: c, cfg: cfg}
}

// dispatch makes one attempt. The call is detached from request
// cancellation and bounded by the attempt timeout only.
func (e *Executor) dispatch(ctx context.Context, t *turn, req *Request) model.Outcome {
	t.attempts++

	provider, ok := e.providers.Provider(t.candidate.ProviderID)
	if !ok {
		out := model.FatalFailure{Reason: "provider is not registered"}
		t.last = out
		return out
	}

	timeout := t.cfg.Timeout
	if timeout <= 0 {
		timeout = req.Policy.Retry.AttemptTimeout
	}
	attemptCtx := context.WithoutCancel(ctx)
	if timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(attemptCtx, timeout)
		defer cancel()
	}

	out := provider.Generate(attemptCtx, req.Prompt)
	if out == nil {
		out = model.FatalFailure{Reason: "provider returned no outcome"}
	}
	t.last = out

	switch o := out.(type) {
	case model.Success:
		t.costUSD += o.CostUSD
		e.health.ReportSuccess(ctx, t.candidate.ProviderID)
	default:
		if t.cfg.ChargeOnFailure {
			t.costUSD += o.Cost()
		}
		e.health.ReportFailure(ctx, t.candidate.ProviderID, reasonOf(o), req.Policy.Health.FailureThreshold)
	}
	return out
}

// finishTurn writes the single ledger entry of a provider turn
func (e *Executor) finishTurn(ctx context.Context, req *Request, t *turn, success bool) {
	rec := &model.UsageRecord{
		Timestamp:  e.clock.Now(),
		Owner:      req.Owner,
		ProviderID: t.candidate.ProviderID,
		Task:       req.Task,
		CostUSD:    t.costUSD,
		Success:    success,
		Attempts:   t.attempts,
	}
	if s, ok := t.last.(model.Success); ok && success {
		rec.TokensIn = s.TokensIn
		rec.TokensOut = s.TokensOut
	}

	ctx = context.WithoutCancel(ctx)
	if err := e.ledger.RecordUsage(ctx, rec, req.Policy.Budget); err != nil {
		errutil.Handle(ctx, err, "failed to record usage")
	}
}

// applyHardStop removes paid candidates when spend has reached the hard stop.
func (e *Executor) applyHardStop(ctx context.Context, chain model.Chain, b config.Budget) (model.Chain, *model.PolicyDenial) {
	stopped, detail := e.ledger.HardStopped(b)
	if !stopped {
		return chain, nil
	}

	kept := make(model.Chain, 0, len(chain))
	for _, c := range chain {
		if !c.Paid {
			kept = append(kept, c)
		}
	}
	logging.From(ctx).Warn("budget hard stop active, paid providers skipped",
		"detail", detail,
		"remaining", kept.IDs(),
	)

	if len(kept) == 0 {
		return nil, model.NewBudgetDenial(detail)
	}
	return kept, nil
}

func providerError(t *turn) ProviderError {
	pe := ProviderError{
		ProviderID: t.candidate.ProviderID,
		Attempts:   t.attempts,
		Reason:     reasonOf(t.last),
	}
	switch o := t.last.(type) {
	case model.RetryableFailure:
		pe.Kind = model.ErrorKindRetryable
		pe.Err = o.Err
	case model.FatalFailure:
		pe.Kind = model.ErrorKindFatalProvider
		pe.Err = o.Err
	}
	return pe
}

func reasonOf(out model.Outcome) string {
	switch o := out.(type) {
	case model.RetryableFailure:
		return o.Reason
	case model.FatalFailure:
		return o.Reason
	case model.Success:
		return "success"
	default:
		return "unknown"
	}
}
