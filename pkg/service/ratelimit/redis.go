package ratelimit

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
	"github.com/redis/go-redis/v9"
	"github.com/secmon-lab/concierge/pkg/domain/model/config"
	"github.com/secmon-lab/concierge/pkg/domain/types"
	"github.com/secmon-lab/concierge/pkg/utils/clock"
)

// slidingWindow prunes, counts and conditionally admits in one round trip.
// Returns {1, 0, 0} when admitted and {0, retry_ms, warn} when denied. The
// previous denial is kept under KEYS[2] in the caller's clock.
var slidingWindow = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local max = tonumber(ARGV[3])
local cooldown = tonumber(ARGV[5])

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
if count < max then
  redis.call('ZADD', key, now, ARGV[4])
  redis.call('PEXPIRE', key, window)
  return {1, 0, 0}
end

local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
local retry = tonumber(oldest[2]) + window - now

local warn = 1
local last = redis.call('GET', KEYS[2])
if last and (now - tonumber(last)) < cooldown then
  warn = 0
end
redis.call('SET', KEYS[2], now, 'PX', math.max(cooldown, window, 1))
return {0, retry, warn}
`)

// Redis shares windows across broker replicas.
type Redis struct {
	client redis.UniversalClient
	prefix string
	clock  clock.Clock
}

var _ Limiter = &Redis{}

type RedisOption func(*Redis)

func WithRedisClock(c clock.Clock) RedisOption {
	return func(r *Redis) {
		r.clock = c
	}
}

func WithKeyPrefix(prefix string) RedisOption {
	return func(r *Redis) {
		r.prefix = prefix
	}
}

func NewRedis(client redis.UniversalClient, opts ...RedisOption) *Redis {
	r := &Redis{
		client: client,
		prefix: "concierge:ratelimit:",
		clock:  clock.Real(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Redis) Allow(ctx context.Context, owner types.OwnerID, limit config.RateLimit) (*Decision, error) {
	if unlimited(limit) {
		return &Decision{Permitted: true}, nil
	}

	nowMs := r.clock.Now().UnixMilli()
	key := r.key(owner)
	member := strconv.FormatInt(nowMs, 10) + "-" + uuid.NewString()

	res, err := slidingWindow.Run(ctx, r.client, []string{key, key + ":denied"},
		nowMs, limit.Window.Milliseconds(), limit.MaxRequests, member, limit.WarningCooldown.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return nil, goerr.Wrap(err, "failed to evaluate rate limit", goerr.V("owner", owner))
	}
	if len(res) != 3 {
		return nil, goerr.New("unexpected rate limit script result", goerr.V("result", res))
	}
	if res[0] == 1 {
		return &Decision{Permitted: true}, nil
	}

	return &Decision{
		RetryAfter: time.Duration(res[1]) * time.Millisecond,
		Warn:       res[2] == 1,
	}, nil
}

// key wraps owner in a hash tag so both keys of the script share a cluster slot
func (r *Redis) key(owner types.OwnerID) string {
	return r.prefix + "{" + string(owner) + "}"
}
