package ratelimit_test

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/gt"
	"github.com/redis/go-redis/v9"
	"github.com/secmon-lab/concierge/pkg/domain/model/config"
	"github.com/secmon-lab/concierge/pkg/domain/types"
	"github.com/secmon-lab/concierge/pkg/service/ratelimit"
	"github.com/secmon-lab/concierge/pkg/utils/clock"
)

var limit = config.RateLimit{
	MaxRequests:     10,
	Window:          60 * time.Second,
	WarningCooldown: 30 * time.Second,
}

func newOwner() types.OwnerID {
	return types.OwnerID("U-" + uuid.NewString())
}

func runLimiterTest(t *testing.T, newLimiter func(t *testing.T, c clock.Clock) ratelimit.Limiter) {
	t.Run("ten permitted then eleventh denied", func(t *testing.T) {
		ctx := context.Background()
		c := clock.NewFake(time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC))
		l := newLimiter(t, c)
		owner := newOwner()

		for i := range 10 {
			d, err := l.Allow(ctx, owner, limit)
			gt.NoError(t, err).Required()
			gt.Bool(t, d.Permitted).True()
			if i < 9 {
				c.Advance(time.Second)
			}
		}

		c.Advance(time.Second)
		d, err := l.Allow(ctx, owner, limit)
		gt.NoError(t, err).Required()
		gt.Bool(t, d.Permitted).False()
		gt.Value(t, d.RetryAfter).Equal(50 * time.Second)
		gt.Bool(t, d.Warn).True()
	})

	t.Run("denials spaced inside cooldown stay silent", func(t *testing.T) {
		ctx := context.Background()
		c := clock.NewFake(time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC))
		l := newLimiter(t, c)
		owner := newOwner()
		long := limit
		long.Window = 120 * time.Second

		for range 10 {
			_, err := l.Allow(ctx, owner, long)
			gt.NoError(t, err).Required()
		}

		// each denial is 20s after the previous one
		var warns []bool
		for i := range 4 {
			if i > 0 {
				c.Advance(20 * time.Second)
			}
			d, err := l.Allow(ctx, owner, long)
			gt.NoError(t, err).Required()
			gt.Bool(t, d.Permitted).False()
			warns = append(warns, d.Warn)
		}
		gt.Value(t, warns).Equal([]bool{true, false, false, false})

		// a quiet gap longer than the cooldown warns again
		c.Advance(40 * time.Second)
		d, err := l.Allow(ctx, owner, long)
		gt.NoError(t, err).Required()
		gt.Bool(t, d.Permitted).False()
		gt.Bool(t, d.Warn).True()
	})

	t.Run("window slides", func(t *testing.T) {
		ctx := context.Background()
		c := clock.NewFake(time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC))
		l := newLimiter(t, c)
		owner := newOwner()

		for range 10 {
			_, err := l.Allow(ctx, owner, limit)
			gt.NoError(t, err).Required()
		}
		c.Advance(60 * time.Second)

		d, err := l.Allow(ctx, owner, limit)
		gt.NoError(t, err).Required()
		gt.Bool(t, d.Permitted).True()
	})

	t.Run("owners are isolated", func(t *testing.T) {
		ctx := context.Background()
		c := clock.NewFake(time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC))
		l := newLimiter(t, c)
		busy := newOwner()
		quiet := newOwner()

		for range 11 {
			_, err := l.Allow(ctx, busy, limit)
			gt.NoError(t, err).Required()
		}

		d, err := l.Allow(ctx, quiet, limit)
		gt.NoError(t, err).Required()
		gt.Bool(t, d.Permitted).True()
		gt.Value(t, d.RetryAfter).Equal(time.Duration(0))
	})

	t.Run("zero max disables limiting", func(t *testing.T) {
		l := newLimiter(t, clock.Real())
		d, err := l.Allow(context.Background(), newOwner(), config.RateLimit{})
		gt.NoError(t, err).Required()
		gt.Bool(t, d.Permitted).True()
	})
}

func TestMemoryLimiter(t *testing.T) {
	runLimiterTest(t, func(t *testing.T, c clock.Clock) ratelimit.Limiter {
		return ratelimit.NewMemory(ratelimit.WithClock(c))
	})
}

func TestRedisLimiter(t *testing.T) {
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	opt, err := redis.ParseURL(url)
	gt.NoError(t, err).Required()
	client := redis.NewClient(opt)
	t.Cleanup(func() { _ = client.Close() })

	runLimiterTest(t, func(t *testing.T, c clock.Clock) ratelimit.Limiter {
		return ratelimit.NewRedis(client,
			ratelimit.WithRedisClock(c),
			ratelimit.WithKeyPrefix(fmt.Sprintf("test:%s:", uuid.NewString())),
		)
	})
}

func TestRedisKeySharesSlot(t *testing.T) {
	r := ratelimit.NewRedis(nil, ratelimit.WithKeyPrefix("p:"))
	gt.Value(t, ratelimit.RedisKey(r, "alice")).Equal("p:{alice}")
}

// Under concurrent load the window never admits more than MaxRequests.
func TestMemoryLimiterNeverExceedsCap(t *testing.T) {
	c := clock.NewFake(time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC))
	l := ratelimit.NewMemory(ratelimit.WithClock(c))
	owner := newOwner()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
	)
	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := l.Allow(context.Background(), owner, limit)
			if err == nil && d.Permitted {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	gt.Value(t, accepted).Equal(limit.MaxRequests)
	gt.Number(t, l.Len(owner)).LessOrEqual(limit.MaxRequests)
}
