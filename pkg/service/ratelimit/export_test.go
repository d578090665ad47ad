package ratelimit

import "github.com/secmon-lab/concierge/pkg/domain/types"

func RedisKey(r *Redis, owner types.OwnerID) string {
	return r.key(owner)
}
