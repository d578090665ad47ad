package worker_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/concierge/pkg/domain/interfaces"
	"github.com/secmon-lab/concierge/pkg/domain/model/config"
	"github.com/secmon-lab/concierge/pkg/domain/types"
	"github.com/secmon-lab/concierge/pkg/service/health"
	"github.com/secmon-lab/concierge/pkg/service/worker"
	"github.com/secmon-lab/concierge/pkg/utils/clock"
)

type staticPolicy struct {
	p *config.Policy
}

func (s *staticPolicy) Current() *config.Policy { return s.p }

// mockProber is a Prober whose result can be switched during a test
type mockProber struct {
	mu     sync.Mutex
	err    error
	called int
}

func (m *mockProber) setError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *mockProber) Probe(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.called++
	return m.err
}

func (m *mockProber) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.called
}

type proberMap map[types.ProviderID]interfaces.Prober

func (m proberMap) Prober(id types.ProviderID) (interfaces.Prober, bool) {
	p, ok := m[id]
	return p, ok
}

func newPolicy() *config.Policy {
	p := config.Default()
	p.Providers = []config.Provider{
		{ID: "claude", Tier: types.TierQuality},
		{ID: "local", Tier: types.TierFast},
	}
	p.Health.FailureThreshold = 1
	p.Health.Cooldown = time.Minute
	p.Health.ProbeInterval = 10 * time.Millisecond
	return p
}

func TestProbeOnce(t *testing.T) {
	ctx := context.Background()
	c := clock.NewFake(time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC))
	table := health.New(health.WithClock(c))
	policy := &staticPolicy{p: newPolicy()}
	table.Sync(policy.p.Providers)

	prober := &mockProber{err: errors.New("still down")}
	w := worker.NewHealthProbeWorker(table, proberMap{"claude": prober}, policy)

	table.ReportFailure(ctx, "claude", "503", 1)
	table.ReportFailure(ctx, "local", "503", 1)

	t.Run("nothing is probed before cooldown", func(t *testing.T) {
		w.ProbeOnce(ctx)
		gt.Number(t, prober.calls()).Equal(0)
		gt.Bool(t, table.IsAvailable("local")).False()
	})

	t.Run("failed probe keeps provider down", func(t *testing.T) {
		c.Advance(time.Minute)
		w.ProbeOnce(ctx)
		gt.Number(t, prober.calls()).Equal(1)
		gt.Bool(t, table.IsAvailable("claude")).False()
		// no prober: re-enabled half-open
		gt.Bool(t, table.IsAvailable("local")).True()
	})

	t.Run("successful probe restores provider", func(t *testing.T) {
		prober.setError(nil)
		c.Advance(time.Minute)
		w.ProbeOnce(ctx)
		gt.Number(t, prober.calls()).Equal(2)
		gt.Bool(t, table.IsAvailable("claude")).True()
	})
}

func TestHealthProbeWorkerStartStop(t *testing.T) {
	ctx := context.Background()
	table := health.New()
	policy := &staticPolicy{p: newPolicy()}
	policy.p.Health.Cooldown = 0
	table.Sync(policy.p.Providers)
	table.ReportFailure(ctx, "claude", "503", 1)

	prober := &mockProber{}
	w := worker.NewHealthProbeWorker(table, proberMap{"claude": prober}, policy)
	gt.NoError(t, w.Start(ctx)).Required()

	deadline := time.Now().Add(2 * time.Second)
	for !table.IsAvailable("claude") && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	w.Stop()

	gt.Bool(t, table.IsAvailable("claude")).True()
	gt.Number(t, prober.calls()).GreaterOrEqual(1)
}
