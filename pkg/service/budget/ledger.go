package budget

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/concierge/pkg/domain/interfaces"
	"github.com/secmon-lab/concierge/pkg/domain/model"
	"github.com/secmon-lab/concierge/pkg/domain/model/config"
	"github.com/secmon-lab/concierge/pkg/domain/types"
	"github.com/secmon-lab/concierge/pkg/utils/clock"
	"github.com/secmon-lab/concierge/pkg/utils/logging"
)

// Ledger keeps the usage records of the current month in memory and derives
// every BudgetState from them. There is no separately mutated spend counter.
type Ledger struct {
	repo     interfaces.UsageRepository
	notifier interfaces.Notifier
	clock    clock.Clock

	mu       sync.Mutex
	records  []*model.UsageRecord
	notified map[string]struct{}
}

type Option func(*Ledger)

func WithNotifier(n interfaces.Notifier) Option {
	return func(l *Ledger) {
		l.notifier = n
	}
}

func WithClock(c clock.Clock) Option {
	return func(l *Ledger) {
		l.clock = c
	}
}

func New(repo interfaces.UsageRepository, opts ...Option) *Ledger {
	l := &Ledger{
		repo:     repo,
		clock:    clock.Real(),
		notified: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// WindowStart returns the start of the period containing now in loc.
func WindowStart(period types.BudgetPeriod, now time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	t := now.In(loc)
	switch period {
	case types.BudgetPeriodMonthly:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, loc)
	default:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
	}
}

// Load rebuilds the in-memory window from the repository. Thresholds already
// crossed are marked as notified so a restart does not repeat notifications.
func (l *Ledger) Load(ctx context.Context, b config.Budget) error {
	since := WindowStart(types.BudgetPeriodMonthly, l.clock.Now(), b.Location)
	records, err := l.repo.ListSince(ctx, since)
	if err != nil {
		return goerr.Wrap(err, "failed to load usage ledger", goerr.V("since", since))
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.records = records
	for _, ev := range l.crossedLocked(b) {
		l.notified[ev.key] = struct{}{}
	}

	logging.From(ctx).Info("usage ledger loaded", "records", len(records), "since", since)
	return nil
}

// RecordUsage appends one immutable entry. The entry is kept in memory even
// when persisting fails so budget checks stay accurate; the error is returned
// for the caller to report.
func (l *Ledger) RecordUsage(ctx context.Context, rec *model.UsageRecord, b config.Budget) error {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = l.clock.Now()
	}
	if rec.ID == "" {
		rec.ID = model.NewUsageID(rec.Timestamp)
	}

	copied := *rec
	l.mu.Lock()
	l.pruneLocked(b)
	l.records = append(l.records, &copied)
	crossings := l.crossedLocked(b)
	var fresh []crossing
	for _, c := range crossings {
		if _, ok := l.notified[c.key]; ok {
			continue
		}
		l.notified[c.key] = struct{}{}
		fresh = append(fresh, c)
	}
	l.mu.Unlock()

	for _, c := range fresh {
		logging.From(ctx).Warn("budget threshold crossed",
			"period", c.state.Scope.Period,
			"provider", c.state.Scope.ProviderID,
			"task", c.state.Scope.Task,
			"threshold", c.threshold,
			"percent_used", c.state.PercentUsed,
		)
		if l.notifier != nil {
			state := c.state
			l.notifier.Notify(ctx, &model.Event{
				Kind:      model.EventBudgetThreshold,
				At:        l.clock.Now(),
				Budget:    &state,
				Threshold: c.threshold,
			})
		}
	}

	if err := l.repo.Append(ctx, &copied); err != nil {
		return goerr.Wrap(err, "failed to persist usage record",
			goerr.V("provider", rec.ProviderID),
			goerr.V("cost", rec.CostUSD),
		)
	}
	return nil
}

// CheckBudget recomputes the state of scope from the ledger.
func (l *Ledger) CheckBudget(scope model.BudgetScope, b config.Budget) model.BudgetState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stateLocked(scope, b)
}

// HardStopped reports whether paid providers must be skipped.
func (l *Ledger) HardStopped(b config.Budget) (bool, string) {
	if b.HardStopPercent <= 0 {
		return false, ""
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for _, period := range []types.BudgetPeriod{types.BudgetPeriodDaily, types.BudgetPeriodMonthly} {
		st := l.stateLocked(model.BudgetScope{Period: period}, b)
		if st.CapUSD > 0 && st.PercentUsed >= b.HardStopPercent {
			return true, fmt.Sprintf("%s spend $%.4f is %.1f%% of $%.2f", period, st.SpentUSD, st.PercentUsed, st.CapUSD)
		}
	}
	return false, ""
}

func (l *Ledger) stateLocked(scope model.BudgetScope, b config.Budget) model.BudgetState {
	if !scope.Period.IsValid() {
		scope.Period = types.BudgetPeriodDaily
	}
	start := WindowStart(scope.Period, l.clock.Now(), b.Location)

	var spent float64
	for _, r := range l.records {
		if r.Timestamp.Before(start) {
			continue
		}
		if scope.ProviderID != "" && r.ProviderID != scope.ProviderID {
			continue
		}
		if scope.Task != "" && r.Task != scope.Task {
			continue
		}
		spent += r.CostUSD
	}

	st := model.BudgetState{
		Scope:       scope,
		SpentUSD:    spent,
		CapUSD:      b.CapFor(scope.Period, scope.ProviderID, string(scope.Task)),
		WithinLimit: true,
		WindowStart: start,
	}
	if st.CapUSD > 0 {
		st.PercentUsed = spent / st.CapUSD * 100
		st.WithinLimit = st.PercentUsed < 100
	}
	return st
}

type crossing struct {
	key       string
	threshold float64
	state     model.BudgetState
}

// capScopes lists the global scopes followed by every scoped cap
func capScopes(b config.Budget) []model.BudgetScope {
	scopes := []model.BudgetScope{
		{Period: types.BudgetPeriodDaily},
		{Period: types.BudgetPeriodMonthly},
	}
	for _, c := range b.Caps {
		scopes = append(scopes, model.BudgetScope{
			Period:     c.Period,
			ProviderID: c.ProviderID,
			Task:       model.TaskType(c.Task),
		})
	}
	return scopes
}

func (l *Ledger) crossedLocked(b config.Budget) []crossing {
	var out []crossing
	for _, scope := range capScopes(b) {
		st := l.stateLocked(scope, b)
		if st.CapUSD <= 0 {
			continue
		}
		for _, th := range b.Thresholds {
			if st.PercentUsed >= th {
				out = append(out, crossing{
					key: fmt.Sprintf("%s:%s:%s:%s:%g", scope.Period, scope.ProviderID, scope.Task,
						st.WindowStart.Format(time.DateOnly), th),
					threshold: th,
					state:     st,
				})
			}
		}
	}
	return out
}

// pruneLocked drops records from before the current month.
func (l *Ledger) pruneLocked(b config.Budget) {
	start := WindowStart(types.BudgetPeriodMonthly, l.clock.Now(), b.Location)
	kept := l.records[:0]
	for _, r := range l.records {
		if !r.Timestamp.Before(start) {
			kept = append(kept, r)
		}
	}
	l.records = kept
}
