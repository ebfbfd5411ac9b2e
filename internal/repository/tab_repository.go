package repository

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// tabTTL bounds how long an abandoned claim outlives its last beat.
const tabTTL = time.Minute

// Claim overwrites the holder unless a different token beat recently.
var claimScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'token')
local beat = tonumber(redis.call('HGET', KEYS[1], 'beat') or '0')
if cur and cur ~= ARGV[1] and tonumber(ARGV[2]) - beat < tonumber(ARGV[3]) then
  return cur
end
redis.call('HSET', KEYS[1], 'token', ARGV[1], 'beat', ARGV[2])
redis.call('PEXPIRE', KEYS[1], ARGV[4])
return ARGV[1]
`)

var beatScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  redis.call('HSET', KEYS[1], 'beat', ARGV[1])
  redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`)

var releaseScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'token') == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// TabRepository keeps the active-tab claims in Redis hashes so that every
// agent instance sees the same holder for a user's attempt.
type TabRepository struct {
	rdb *redis.Client
}

// NewTabRepository creates a new TabRepository.
func NewTabRepository(rdb *redis.Client) *TabRepository {
	return &TabRepository{rdb: rdb}
}

func (r *TabRepository) Claim(ctx context.Context, key, token string, now time.Time, freshness time.Duration) (string, bool, error) {
	holder, err := claimScript.Run(ctx, r.rdb, []string{key},
		token, now.UnixMilli(), freshness.Milliseconds(), tabTTL.Milliseconds(),
	).Text()
	if err != nil {
		return "", false, fmt.Errorf("claim tab: %w", err)
	}
	return holder, holder == token, nil
}

func (r *TabRepository) Beat(ctx context.Context, key string, now time.Time) error {
	if err := beatScript.Run(ctx, r.rdb, []string{key}, now.UnixMilli(), tabTTL.Milliseconds()).Err(); err != nil {
		return fmt.Errorf("beat tab: %w", err)
	}
	return nil
}

func (r *TabRepository) Holder(ctx context.Context, key string) (string, time.Time, bool, error) {
	fields, err := r.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return "", time.Time{}, false, fmt.Errorf("read tab holder: %w", err)
	}
	token, ok := fields["token"]
	if !ok {
		return "", time.Time{}, false, nil
	}
	ms, err := strconv.ParseInt(fields["beat"], 10, 64)
	if err != nil {
		return "", time.Time{}, false, fmt.Errorf("parse tab beat %q: %w", fields["beat"], err)
	}
	return token, time.UnixMilli(ms), true, nil
}

func (r *TabRepository) Release(ctx context.Context, key, token string) error {
	if err := releaseScript.Run(ctx, r.rdb, []string{key}, token).Err(); err != nil {
		return fmt.Errorf("release tab: %w", err)
	}
	return nil
}
