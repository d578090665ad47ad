package budget_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/concierge/pkg/domain/model"
	"github.com/secmon-lab/concierge/pkg/domain/model/config"
	"github.com/secmon-lab/concierge/pkg/domain/types"
	"github.com/secmon-lab/concierge/pkg/repository/memory"
	"github.com/secmon-lab/concierge/pkg/service/budget"
	"github.com/secmon-lab/concierge/pkg/utils/clock"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []*model.Event
}

func (n *recordingNotifier) Notify(ctx context.Context, ev *model.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
}

func (n *recordingNotifier) Events() []*model.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]*model.Event(nil), n.events...)
}

var testBudget = config.Budget{
	DailyCapUSD:   1.0,
	MonthlyCapUSD: 20.0,
	Thresholds:    []float64{80, 100},
	Location:      time.UTC,
}

func usage(provider types.ProviderID, cost float64) *model.UsageRecord {
	return &model.UsageRecord{
		Owner:      "U1",
		ProviderID: provider,
		Task:       model.TaskType(types.IntentSimpleQuery),
		CostUSD:    cost,
		Success:    true,
		Attempts:   1,
	}
}

func TestCheckBudgetDerivesFromLedger(t *testing.T) {
	ctx := context.Background()
	c := clock.NewFake(time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC))
	l := budget.New(memory.New().Usage(), budget.WithClock(c))

	gt.NoError(t, l.RecordUsage(ctx, usage("gpt", 0.25), testBudget)).Required()
	gt.NoError(t, l.RecordUsage(ctx, usage("claude", 0.15), testBudget)).Required()

	daily := l.CheckBudget(model.BudgetScope{Period: types.BudgetPeriodDaily}, testBudget)
	gt.Number(t, daily.SpentUSD).Greater(0.3999).Less(0.4001)
	gt.Number(t, daily.PercentUsed).Greater(39.99).Less(40.01)
	gt.Bool(t, daily.WithinLimit).True()

	t.Run("repeated checks are identical", func(t *testing.T) {
		again := l.CheckBudget(model.BudgetScope{Period: types.BudgetPeriodDaily}, testBudget)
		gt.Value(t, again).Equal(daily)
	})

	t.Run("provider scope filters entries", func(t *testing.T) {
		st := l.CheckBudget(model.BudgetScope{Period: types.BudgetPeriodDaily, ProviderID: "gpt"}, testBudget)
		gt.Number(t, st.SpentUSD).Greater(0.2499).Less(0.2501)
		// no scoped cap configured for gpt
		gt.Number(t, st.CapUSD).Equal(0)
		gt.Bool(t, st.WithinLimit).True()
	})

	t.Run("daily window resets at midnight", func(t *testing.T) {
		c.Advance(13 * time.Hour)
		st := l.CheckBudget(model.BudgetScope{Period: types.BudgetPeriodDaily}, testBudget)
		gt.Number(t, st.SpentUSD).Equal(0)

		monthly := l.CheckBudget(model.BudgetScope{Period: types.BudgetPeriodMonthly}, testBudget)
		gt.Number(t, monthly.SpentUSD).Greater(0.3999).Less(0.4001)
		gt.Number(t, monthly.PercentUsed).Greater(1.99).Less(2.01)
	})
}

func TestScopedCaps(t *testing.T) {
	ctx := context.Background()
	c := clock.NewFake(time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC))
	n := &recordingNotifier{}
	l := budget.New(memory.New().Usage(), budget.WithClock(c), budget.WithNotifier(n))

	b := testBudget
	b.DailyCapUSD = 100
	b.Caps = []config.ScopedCap{
		{Period: types.BudgetPeriodDaily, ProviderID: "gpt", CapUSD: 0.5},
		{Period: types.BudgetPeriodMonthly, Task: string(model.TaskEmbedding), CapUSD: 1},
	}

	gt.NoError(t, l.RecordUsage(ctx, usage("gpt", 0.45), b)).Required()
	gt.NoError(t, l.RecordUsage(ctx, usage("claude", 0.45), b)).Required()

	gpt := l.CheckBudget(model.BudgetScope{Period: types.BudgetPeriodDaily, ProviderID: "gpt"}, b)
	gt.Number(t, gpt.CapUSD).Equal(0.5)
	gt.Number(t, gpt.PercentUsed).Greater(89.99).Less(90.01)
	gt.Bool(t, gpt.WithinLimit).True()

	global := l.CheckBudget(model.BudgetScope{Period: types.BudgetPeriodDaily}, b)
	gt.Number(t, global.CapUSD).Equal(100)

	t.Run("scoped cap crossing notifies with its scope", func(t *testing.T) {
		events := n.Events()
		gt.Array(t, events).Length(1).Required()
		gt.Value(t, events[0].Budget.Scope.ProviderID).Equal(types.ProviderID("gpt"))
		gt.Number(t, events[0].Threshold).Equal(80)
	})

	t.Run("task cap counts only that task", func(t *testing.T) {
		emb := usage("gemini", 0.6)
		emb.Task = model.TaskEmbedding
		gt.NoError(t, l.RecordUsage(ctx, emb, b)).Required()

		st := l.CheckBudget(model.BudgetScope{Period: types.BudgetPeriodMonthly, Task: model.TaskEmbedding}, b)
		gt.Number(t, st.SpentUSD).Greater(0.5999).Less(0.6001)
		gt.Number(t, st.CapUSD).Equal(1)
	})
}

func TestCheckBudgetUnlimited(t *testing.T) {
	ctx := context.Background()
	l := budget.New(memory.New().Usage())
	gt.NoError(t, l.RecordUsage(ctx, usage("gpt", 5), config.Budget{})).Required()

	st := l.CheckBudget(model.BudgetScope{Period: types.BudgetPeriodDaily}, config.Budget{})
	gt.Bool(t, st.WithinLimit).True()
	gt.Number(t, st.PercentUsed).Equal(0)
	gt.Number(t, st.SpentUSD).Equal(5)
}

func TestThresholdNotifiesOncePerWindow(t *testing.T) {
	ctx := context.Background()
	c := clock.NewFake(time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC))
	n := &recordingNotifier{}
	l := budget.New(memory.New().Usage(), budget.WithClock(c), budget.WithNotifier(n))

	gt.NoError(t, l.RecordUsage(ctx, usage("gpt", 0.5), testBudget)).Required()
	gt.Array(t, n.Events()).Length(0)

	gt.NoError(t, l.RecordUsage(ctx, usage("gpt", 0.35), testBudget)).Required()
	events := n.Events()
	gt.Array(t, events).Length(1).Required()
	gt.Value(t, events[0].Kind).Equal(model.EventBudgetThreshold)
	gt.Number(t, events[0].Threshold).Equal(80)
	gt.Value(t, events[0].Budget.Scope.Period).Equal(types.BudgetPeriodDaily)

	gt.NoError(t, l.RecordUsage(ctx, usage("gpt", 0.01), testBudget)).Required()
	gt.Array(t, n.Events()).Length(1)

	gt.NoError(t, l.RecordUsage(ctx, usage("gpt", 0.2), testBudget)).Required()
	events = n.Events()
	gt.Array(t, events).Length(2).Required()
	gt.Number(t, events[1].Threshold).Equal(100)

	t.Run("next day notifies again", func(t *testing.T) {
		c.Advance(24 * time.Hour)
		gt.NoError(t, l.RecordUsage(ctx, usage("gpt", 0.9), testBudget)).Required()
		events := n.Events()
		gt.Array(t, events).Length(3).Required()
		gt.Number(t, events[2].Threshold).Equal(80)
	})
}

func TestLoadRestoresLedger(t *testing.T) {
	ctx := context.Background()
	c := clock.NewFake(time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC))
	repo := memory.New().Usage()

	first := budget.New(repo, budget.WithClock(c))
	gt.NoError(t, first.RecordUsage(ctx, usage("gpt", 0.9), testBudget)).Required()

	old := usage("gpt", 100)
	old.Timestamp = time.Date(2026, 4, 30, 23, 0, 0, 0, time.UTC)
	old.ID = model.NewUsageID(old.Timestamp)
	gt.NoError(t, repo.Append(ctx, old)).Required()

	n := &recordingNotifier{}
	second := budget.New(repo, budget.WithClock(c), budget.WithNotifier(n))
	gt.NoError(t, second.Load(ctx, testBudget)).Required()

	monthly := second.CheckBudget(model.BudgetScope{Period: types.BudgetPeriodMonthly}, testBudget)
	gt.Number(t, monthly.SpentUSD).Greater(0.8999).Less(0.9001)

	// 80% was crossed before the restart and must not be announced again
	gt.NoError(t, second.RecordUsage(ctx, usage("gpt", 0.01), testBudget)).Required()
	gt.Array(t, n.Events()).Length(0)
}

func TestHardStop(t *testing.T) {
	ctx := context.Background()
	c := clock.NewFake(time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC))
	l := budget.New(memory.New().Usage(), budget.WithClock(c))

	b := testBudget
	stopped, _ := l.HardStopped(b)
	gt.Bool(t, stopped).False()

	gt.NoError(t, l.RecordUsage(ctx, usage("gpt", 1.2), b)).Required()
	stopped, _ = l.HardStopped(b)
	gt.Bool(t, stopped).False()

	b.HardStopPercent = 100
	stopped, detail := l.HardStopped(b)
	gt.Bool(t, stopped).True()
	gt.String(t, detail).Contains("daily")
}

func TestWindowStartUsesLocation(t *testing.T) {
	tokyo := time.FixedZone("JST", 9*60*60)
	now := time.Date(2026, 5, 31, 20, 0, 0, 0, time.UTC) // June 1st 05:00 in JST

	gt.Value(t, budget.WindowStart(types.BudgetPeriodDaily, now, tokyo)).
		Equal(time.Date(2026, 6, 1, 0, 0, 0, 0, tokyo))
	gt.Value(t, budget.WindowStart(types.BudgetPeriodMonthly, now, tokyo)).
		Equal(time.Date(2026, 6, 1, 0, 0, 0, 0, tokyo))
	gt.Value(t, budget.WindowStart(types.BudgetPeriodMonthly, now, time.UTC)).
		Equal(time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC))
}
