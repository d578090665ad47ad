package health

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	"github.com/secmon-lab/concierge/pkg/domain/interfaces"
	"github.com/secmon-lab/concierge/pkg/domain/model"
	"github.com/secmon-lab/concierge/pkg/domain/model/config"
	"github.com/secmon-lab/concierge/pkg/domain/types"
	"github.com/secmon-lab/concierge/pkg/utils/clock"
	"github.com/secmon-lab/concierge/pkg/utils/logging"
)

// Table holds the advisory availability of each provider. Reads are lock
// free; state transitions are serialized so streak counting stays exact.
type Table struct {
	entries  *xsync.Map[types.ProviderID, model.ProviderHealth]
	clock    clock.Clock
	notifier interfaces.Notifier

	mu sync.Mutex
}

type Option func(*Table)

func WithClock(c clock.Clock) Option {
	return func(t *Table) {
		t.clock = c
	}
}

func WithNotifier(n interfaces.Notifier) Option {
	return func(t *Table) {
		t.notifier = n
	}
}

func New(opts ...Option) *Table {
	t := &Table{
		entries: xsync.NewMap[types.ProviderID, model.ProviderHealth](),
		clock:   clock.Real(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Sync adds newly configured providers as available and removes providers
// that are no longer configured. Existing state is preserved.
func (t *Table) Sync(providers []config.Provider) {
	t.mu.Lock()
	defer t.mu.Unlock()

	keep := make(map[types.ProviderID]struct{}, len(providers))
	for _, p := range providers {
		keep[p.ID] = struct{}{}
		h, ok := t.entries.Load(p.ID)
		if !ok {
			h = model.ProviderHealth{ProviderID: p.ID, Available: true}
		}
		h.Tier = p.Tier
		t.entries.Store(p.ID, h)
	}

	t.entries.Range(func(id types.ProviderID, _ model.ProviderHealth) bool {
		if _, ok := keep[id]; !ok {
			t.entries.Delete(id)
		}
		return true
	})
}

// IsAvailable reports the advisory state. Unknown providers count as available.
func (t *Table) IsAvailable(id types.ProviderID) bool {
	h, ok := t.entries.Load(id)
	return !ok || h.Available
}

func (t *Table) Get(id types.ProviderID) (model.ProviderHealth, bool) {
	return t.entries.Load(id)
}

// All returns every entry sorted by provider ID.
func (t *Table) All() []model.ProviderHealth {
	var out []model.ProviderHealth
	t.entries.Range(func(_ types.ProviderID, h model.ProviderHealth) bool {
		out = append(out, h)
		return true
	})
	slices.SortFunc(out, func(a, b model.ProviderHealth) int {
		switch {
		case a.ProviderID < b.ProviderID:
			return -1
		case a.ProviderID > b.ProviderID:
			return 1
		}
		return 0
	})
	return out
}

// ReportSuccess clears the failure streak and re-enables the provider.
func (t *Table) ReportSuccess(ctx context.Context, id types.ProviderID) {
	t.mu.Lock()
	h, ok := t.entries.Load(id)
	wasDown := ok && !h.Available
	h.ProviderID = id
	h.Available = true
	h.ConsecutiveFailures = 0
	h.DownSince = time.Time{}
	h.LastCheckedAt = t.clock.Now()
	t.entries.Store(id, h)
	t.mu.Unlock()

	if wasDown {
		logging.From(ctx).Info("provider available again", "provider", id)
		t.notify(ctx, &model.Event{Kind: model.EventProviderUp, At: t.clock.Now(), ProviderID: id})
	}
}

// ReportFailure extends the failure streak. When the streak reaches
// threshold the provider is marked unavailable and reports true.
func (t *Table) ReportFailure(ctx context.Context, id types.ProviderID, reason string, threshold int) bool {
	if threshold <= 0 {
		threshold = 1
	}

	t.mu.Lock()
	h, ok := t.entries.Load(id)
	if !ok {
		h = model.ProviderHealth{ProviderID: id, Available: true}
	}
	h.ConsecutiveFailures++
	// failures of an override attempt must not postpone the recovery check
	if h.Available {
		h.LastCheckedAt = t.clock.Now()
	}
	tripped := h.Available && h.ConsecutiveFailures >= threshold
	if tripped {
		h.Available = false
		h.DownSince = t.clock.Now()
	}
	t.entries.Store(id, h)
	t.mu.Unlock()

	if tripped {
		logging.From(ctx).Warn("provider marked unavailable",
			"provider", id,
			"consecutive_failures", h.ConsecutiveFailures,
			"reason", reason,
		)
		t.notify(ctx, &model.Event{
			Kind:       model.EventProviderDown,
			At:         t.clock.Now(),
			ProviderID: id,
			Detail:     reason,
		})
	}
	return tripped
}

// Due returns unavailable providers whose last check is at least cooldown old.
func (t *Table) Due(cooldown time.Duration) []types.ProviderID {
	now := t.clock.Now()
	var due []types.ProviderID
	for _, h := range t.All() {
		if h.Available {
			continue
		}
		if now.Sub(h.LastCheckedAt) >= cooldown {
			due = append(due, h.ProviderID)
		}
	}
	return due
}

// MarkChecked records a failed re-probe. The provider stays unavailable.
func (t *Table) MarkChecked(id types.ProviderID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if h, ok := t.entries.Load(id); ok {
		h.LastCheckedAt = t.clock.Now()
		t.entries.Store(id, h)
	}
}

// HalfOpen re-enables a provider that cannot be probed. One more failure
// marks it unavailable again.
func (t *Table) HalfOpen(ctx context.Context, id types.ProviderID, threshold int) {
	t.mu.Lock()
	h, ok := t.entries.Load(id)
	if !ok || h.Available {
		t.mu.Unlock()
		return
	}
	h.Available = true
	h.DownSince = time.Time{}
	h.ConsecutiveFailures = max(threshold-1, 0)
	h.LastCheckedAt = t.clock.Now()
	t.entries.Store(id, h)
	t.mu.Unlock()

	logging.From(ctx).Info("provider re-enabled after cooldown", "provider", id)
	t.notify(ctx, &model.Event{Kind: model.EventProviderUp, At: t.clock.Now(), ProviderID: id, Detail: "cooldown elapsed"})
}

func (t *Table) notify(ctx context.Context, ev *model.Event) {
	if t.notifier != nil {
		t.notifier.Notify(ctx, ev)
	}
}
