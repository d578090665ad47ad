package clock_test

import (
	"context"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/concierge/pkg/utils/clock"
)

func TestFakeSleepAdvances(t *testing.T) {
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	c := clock.NewFake(base)

	gt.NoError(t, c.Sleep(context.Background(), 2*time.Second)).Required()
	c.Advance(time.Second)

	gt.Value(t, c.Now()).Equal(base.Add(3 * time.Second))
	gt.Array(t, c.Sleeps()).Length(1)
}

func TestSleepAbortsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	gt.Error(t, clock.Real().Sleep(ctx, time.Hour)).Is(context.Canceled)
	gt.Error(t, clock.NewFake(time.Now()).Sleep(ctx, time.Hour)).Is(context.Canceled)
}
