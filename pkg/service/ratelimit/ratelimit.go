package ratelimit

import (
	"context"
	"time"

	"github.com/secmon-lab/concierge/pkg/domain/model/config"
	"github.com/secmon-lab/concierge/pkg/domain/types"
)

// Decision of one admission check.
type Decision struct {
	Permitted bool
	// RetryAfter is the time until the oldest request in the window expires
	RetryAfter time.Duration
	// Warn is false for denials within the warning cooldown of the last warned denial
	Warn bool
}

// Limiter is a per-owner sliding window. The limits are passed per call so a
// request is checked against the policy snapshot it was admitted with.
type Limiter interface {
	Allow(ctx context.Context, owner types.OwnerID, limit config.RateLimit) (*Decision, error)
}

func unlimited(limit config.RateLimit) bool {
	return limit.MaxRequests <= 0 || limit.Window <= 0
}
