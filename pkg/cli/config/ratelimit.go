package config

import (
	"context"
	"log/slog"

	"github.com/m-mizutani/goerr/v2"
	"github.com/redis/go-redis/v9"
	"github.com/secmon-lab/concierge/pkg/service/ratelimit"
	"github.com/secmon-lab/concierge/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

// RateLimit selects the rate limiter store. Limits themselves come from the policy.
type RateLimit struct {
	redisURL  string
	keyPrefix string
}

func (x *RateLimit) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "redis-url",
			Usage:       "Redis URL for a shared rate limiter (in-process limiter when empty)",
			Category:    "Rate Limit",
			Sources:     cli.EnvVars("CONCIERGE_REDIS_URL"),
			Destination: &x.redisURL,
		},
		&cli.StringFlag{
			Name:        "redis-key-prefix",
			Usage:       "Key prefix of rate limiter entries",
			Category:    "Rate Limit",
			Value:       "concierge:ratelimit:",
			Sources:     cli.EnvVars("CONCIERGE_REDIS_KEY_PREFIX"),
			Destination: &x.keyPrefix,
		},
	}
}

func (x *RateLimit) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Bool("redis", x.redisURL != ""),
		slog.String("key_prefix", x.keyPrefix),
	)
}

// Configure returns the limiter and a closer for its connection
func (x *RateLimit) Configure(ctx context.Context) (ratelimit.Limiter, func(), error) {
	if x.redisURL == "" {
		return ratelimit.NewMemory(), func() {}, nil
	}

	opt, err := redis.ParseURL(x.redisURL)
	if err != nil {
		return nil, nil, goerr.Wrap(ErrInvalidConfig, "invalid redis-url", goerr.V("error", err.Error()))
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, goerr.Wrap(err, "failed to connect to redis", goerr.V("addr", opt.Addr))
	}

	logging.Default().Info("Using Redis rate limiter", "addr", opt.Addr)
	return ratelimit.NewRedis(client, ratelimit.WithKeyPrefix(x.keyPrefix)), func() { _ = client.Close() }, nil
}
