package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	"github.com/secmon-lab/concierge/pkg/domain/model/config"
	"github.com/secmon-lab/concierge/pkg/domain/types"
	"github.com/secmon-lab/concierge/pkg/utils/clock"
)

type window struct {
	mu         sync.Mutex
	stamps     []time.Time
	lastDenied time.Time
}

// Memory keeps windows in process. Each owner has its own lock so owners
// never contend with each other.
type Memory struct {
	clock   clock.Clock
	windows *xsync.Map[types.OwnerID, *window]
}

var _ Limiter = &Memory{}

type MemoryOption func(*Memory)

func WithClock(c clock.Clock) MemoryOption {
	return func(m *Memory) {
		m.clock = c
	}
}

func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		clock:   clock.Real(),
		windows: xsync.NewMap[types.OwnerID, *window](),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Memory) window(owner types.OwnerID) *window {
	if w, ok := m.windows.Load(owner); ok {
		return w
	}
	w, _ := m.windows.LoadOrStore(owner, &window{})
	return w
}

func (m *Memory) Allow(ctx context.Context, owner types.OwnerID, limit config.RateLimit) (*Decision, error) {
	if unlimited(limit) {
		return &Decision{Permitted: true}, nil
	}

	w := m.window(owner)
	now := m.clock.Now()

	w.mu.Lock()
	defer w.mu.Unlock()

	// stamps are appended in time order, so expired ones form a prefix
	expired := 0
	for expired < len(w.stamps) && now.Sub(w.stamps[expired]) >= limit.Window {
		expired++
	}
	w.stamps = w.stamps[expired:]

	if len(w.stamps) < limit.MaxRequests {
		w.stamps = append(w.stamps, now)
		return &Decision{Permitted: true}, nil
	}

	// a steady stream of denials stays silent after the first warning
	d := &Decision{
		RetryAfter: w.stamps[0].Add(limit.Window).Sub(now),
		Warn:       w.lastDenied.IsZero() || now.Sub(w.lastDenied) >= limit.WarningCooldown,
	}
	w.lastDenied = now
	return d, nil
}

// Len returns the number of timestamps currently held for owner.
func (m *Memory) Len(owner types.OwnerID) int {
	w, ok := m.windows.Load(owner)
	if !ok {
		return 0
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.stamps)
}
