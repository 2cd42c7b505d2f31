// Package ratelimit provides a cross-process send budget per tenant bot,
// shared by every worker process through Redis.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limits caps sends per bot. Zero disables a window.
type Limits struct {
	PerSecond int
	PerMinute int
}

// Lua script for atomic two-window check. Counters are only incremented
// when both windows have room, so a denied call consumes nothing.
const windowLimitLuaScript = `
local secondKey = KEYS[1]
local minuteKey = KEYS[2]
local increment = tonumber(ARGV[1])
local secondLimit = tonumber(ARGV[2])
local minuteLimit = tonumber(ARGV[3])

local secCurrent = tonumber(redis.call("GET", secondKey) or "0")
local minCurrent = tonumber(redis.call("GET", minuteKey) or "0")

if secondLimit > 0 and secCurrent + increment > secondLimit then
    return {0, 1}
end
if minuteLimit > 0 and minCurrent + increment > minuteLimit then
    return {0, 2}
end

local newSec = redis.call("INCRBY", secondKey, increment)
if newSec == increment then
    redis.call("EXPIRE", secondKey, 2)
end
local newMin = redis.call("INCRBY", minuteKey, increment)
if newMin == increment then
    redis.call("EXPIRE", minuteKey, 120)
end

return {1, 0}
`

// Limiter enforces Limits per key using Redis Lua scripts.
type Limiter struct {
	redis  *redis.Client
	limits Limits
	script *redis.Script
	now    func() time.Time
}

// New creates a limiter with the given per-key limits.
func New(client *redis.Client, limits Limits) *Limiter {
	return &Limiter{
		redis:  client,
		limits: limits,
		script: redis.NewScript(windowLimitLuaScript),
		now:    time.Now,
	}
}

// CheckAndIncrement atomically reserves n sends for key. When denied it
// returns how long to wait for the blocking window to roll over.
func (l *Limiter) CheckAndIncrement(ctx context.Context, key string, n int) (allowed bool, wait time.Duration, err error) {
	now := l.now()
	secondKey := fmt.Sprintf("ratelimit:%s:sec:%d", key, now.Unix())
	minuteKey := fmt.Sprintf("ratelimit:%s:min:%d", key, now.Unix()/60)

	res, err := l.script.Run(ctx, l.redis, []string{secondKey, minuteKey},
		n, l.limits.PerSecond, l.limits.PerMinute).Int64Slice()
	if err != nil {
		return false, 0, fmt.Errorf("rate limit check %s: %w", key, err)
	}
	if len(res) < 2 {
		return false, 0, fmt.Errorf("rate limit check %s: unexpected reply %v", key, res)
	}
	if res[0] == 1 {
		return true, 0, nil
	}

	switch res[1] {
	case 2:
		next := now.Truncate(time.Minute).Add(time.Minute)
		return false, next.Sub(now), nil
	default:
		next := now.Truncate(time.Second).Add(time.Second)
		return false, next.Sub(now), nil
	}
}
