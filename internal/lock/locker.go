package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/edvin/jobrunner/internal/platform"
)

// ErrConflict is returned when the lock is already held. Callers fail
// fast; conflicting acquisitions are never queued.
var ErrConflict = errors.New("lock already held")

// ErrNotHeld is returned when releasing a lock the caller does not own,
// e.g. after the TTL expired and another dispatch acquired it.
var ErrNotHeld = errors.New("lock not held by this owner")

// releaseScript deletes the key only when it still holds the owner's
// token, so an expired-and-reacquired lock cannot be released by the old
// owner.
const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`

// RedisClient is the slice of the go-redis client the locker uses.
type RedisClient interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...any) *redis.Cmd
}

// Locker is the TTL-bound mutual-exclusion lock enforcing the singleton
// contract. Acquisition is a single atomic SET NX with a TTL equal to the
// job's hard time limit, so a crashed holder cannot starve future runs.
type Locker struct {
	client RedisClient
	prefix string
}

func New(client RedisClient) *Locker {
	return &Locker{client: client, prefix: "jobrunner:lock:"}
}

// Acquire takes the lock for a job and returns the opaque owner token
// needed to release it. ErrConflict means another execution holds it.
func (l *Locker) Acquire(ctx context.Context, jobID string, ttl time.Duration) (string, error) {
	token := platform.NewID()
	ok, err := l.client.SetNX(ctx, l.prefix+jobID, token, ttl).Result()
	if err != nil {
		return "", fmt.Errorf("acquire lock for %s: %w", jobID, err)
	}
	if !ok {
		return "", fmt.Errorf("acquire lock for %s: %w", jobID, ErrConflict)
	}
	return token, nil
}

// Release frees the lock if token still owns it.
func (l *Locker) Release(ctx context.Context, jobID, token string) error {
	n, err := l.client.Eval(ctx, releaseScript, []string{l.prefix + jobID}, token).Int()
	if err != nil {
		return fmt.Errorf("release lock for %s: %w", jobID, err)
	}
	if n == 0 {
		return fmt.Errorf("release lock for %s: %w", jobID, ErrNotHeld)
	}
	return nil
}
