package lock

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"eatcloud/internal/pkg/redis"
)

const keyPrefix = "lock:"

const (
	scriptAcquireWrite = "lock_acquire_write"
	scriptAcquireRead  = "lock_acquire_read"
	scriptReleaseWrite = "lock_release_write"
	scriptReleaseRead  = "lock_release_read"
)

// KEYS[1] lock key, KEYS[2] reader set. ARGV token, lease ms, now ms.
const acquireWriteLua = `
redis.call('ZREMRANGEBYSCORE', KEYS[2], '-inf', ARGV[3])
if redis.call('ZCARD', KEYS[2]) > 0 then
  return 0
end
if redis.call('SET', KEYS[1], ARGV[1], 'NX', 'PX', ARGV[2]) then
  return 1
end
return 0
`

const acquireReadLua = `
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
redis.call('ZREMRANGEBYSCORE', KEYS[2], '-inf', ARGV[3])
redis.call('ZADD', KEYS[2], tonumber(ARGV[3]) + tonumber(ARGV[2]), ARGV[1])
if redis.call('PTTL', KEYS[2]) < tonumber(ARGV[2]) then
  redis.call('PEXPIRE', KEYS[2], ARGV[2])
end
return 1
`

const releaseWriteLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`

// KEYS[2] reader set. ARGV token, now ms.
const releaseReadLua = `
local score = redis.call('ZSCORE', KEYS[2], ARGV[1])
if not score then
  return 0
end
redis.call('ZREM', KEYS[2], ARGV[1])
if tonumber(score) <= tonumber(ARGV[2]) then
  return 0
end
return 1
`

// Redis is a Backend on top of SET NX PX for writers and a scored set of reader tokens.
type Redis struct {
	client *redis.Client
	retry  time.Duration
	now    func() time.Time
}

func NewRedis(client *redis.Client, retry time.Duration) (*Redis, error) {
	for name, src := range map[string]string{
		scriptAcquireWrite: acquireWriteLua,
		scriptAcquireRead:  acquireReadLua,
		scriptReleaseWrite: releaseWriteLua,
		scriptReleaseRead:  releaseReadLua,
	} {
		if err := client.LoadScriptFromContent(name, src); err != nil {
			return nil, err
		}
	}
	if retry <= 0 {
		retry = 50 * time.Millisecond
	}
	return &Redis{client: client, retry: retry, now: time.Now}, nil
}

// redisKeys hash-tags the key so both entries share a cluster slot.
func redisKeys(key string) []string {
	k := keyPrefix + "{" + key + "}"
	return []string{k, k + ":readers"}
}

func (b *Redis) Acquire(ctx context.Context, key string, mode Mode, lease time.Duration) (Lease, error) {
	token := uuid.NewString()
	script := scriptAcquireWrite
	if mode == Read {
		script = scriptAcquireRead
	}
	keys := redisKeys(key)
	leaseMs := strconv.FormatInt(lease.Milliseconds(), 10)

	for {
		now := strconv.FormatInt(b.now().UnixMilli(), 10)
		res, err := b.client.RunScript(ctx, script, keys, token, leaseMs, now)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, err
		}
		if ok, _ := res.(int64); ok == 1 {
			return &redisLease{b: b, key: key, token: token, mode: mode}, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(b.retry):
		}
	}
}

type redisLease struct {
	b     *Redis
	key   string
	token string
	mode  Mode
}

func (l *redisLease) Key() string { return l.key }

func (l *redisLease) Release(ctx context.Context) error {
	var (
		res any
		err error
	)
	if l.mode == Read {
		now := strconv.FormatInt(l.b.now().UnixMilli(), 10)
		res, err = l.b.client.RunScript(ctx, scriptReleaseRead, redisKeys(l.key), l.token, now)
	} else {
		res, err = l.b.client.RunScript(ctx, scriptReleaseWrite, redisKeys(l.key), l.token)
	}
	if err != nil {
		return errors.Wrapf(err, "release lock %s", l.key)
	}
	if n, _ := res.(int64); n == 0 {
		return ErrNotHeld
	}
	return nil
}
