package worker

import (
	"context"
	"time"

	"github.com/secmon-lab/concierge/pkg/domain/interfaces"
	"github.com/secmon-lab/concierge/pkg/domain/model/config"
	"github.com/secmon-lab/concierge/pkg/domain/types"
	"github.com/secmon-lab/concierge/pkg/service/health"
	"github.com/secmon-lab/concierge/pkg/utils/logging"
)

// PolicySource returns the policy in effect right now
type PolicySource interface {
	Current() *config.Policy
}

// ProberLookup resolves the liveness check of a provider, if it has one
type ProberLookup interface {
	Prober(id types.ProviderID) (interfaces.Prober, bool)
}

// HealthProbeWorker re-checks unavailable providers once their cooldown has
// elapsed. Providers without a Prober are re-enabled half-open.
//
// Architecture assumptions:
// - Single server instance; health state is process local
type HealthProbeWorker struct {
	table   *health.Table
	probers ProberLookup
	policy  PolicySource
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func NewHealthProbeWorker(table *health.Table, probers ProberLookup, policy PolicySource) *HealthProbeWorker {
	return &HealthProbeWorker{
		table:   table,
		probers: probers,
		policy:  policy,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Start begins the background probe loop without blocking
func (w *HealthProbeWorker) Start(ctx context.Context) error {
	logging.Default().Info("health probe worker starting",
		"interval", w.interval().String())

	go w.run(ctx)

	return nil
}

// Stop signals the worker to stop and waits for completion
func (w *HealthProbeWorker) Stop() {
	logging.Default().Info("health probe worker stopping")
	close(w.stopCh)
	<-w.doneCh
	logging.Default().Info("health probe worker stopped")
}

func (w *HealthProbeWorker) interval() time.Duration {
	if d := w.policy.Current().Health.ProbeInterval; d > 0 {
		return d
	}
	return 30 * time.Second
}

func (w *HealthProbeWorker) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.interval())
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.ProbeOnce(ctx)

		case <-w.stopCh:
			logging.Default().Info("health probe worker received stop signal")
			return

		case <-ctx.Done():
			logging.Default().Info("health probe worker context cancelled")
			return
		}
	}
}

// ProbeOnce runs a single probe cycle over every provider that is due.
func (w *HealthProbeWorker) ProbeOnce(ctx context.Context) {
	p := w.policy.Current()
	w.table.Sync(p.Providers)

	for _, id := range w.table.Due(p.Health.Cooldown) {
		prober, ok := w.probers.Prober(id)
		if !ok {
			w.table.HalfOpen(ctx, id, p.Health.FailureThreshold)
			continue
		}

		timeout := p.Retry.AttemptTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		probeCtx, cancel := context.WithTimeout(ctx, timeout)
		err := prober.Probe(probeCtx)
		cancel()

		if err != nil {
			logging.From(ctx).Info("provider probe failed, staying unavailable",
				"provider", id,
				"error", err.Error())
			w.table.MarkChecked(id)
			continue
		}
		w.table.ReportSuccess(ctx, id)
	}
}
