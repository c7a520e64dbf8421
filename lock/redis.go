package lock

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const DefaultLease = 5 * time.Minute

// Only the holder's token may delete the key.
var releaseScript = redis.NewScript(`
	if redis.call('GET', KEYS[1]) == ARGV[1] then
		return redis.call('DEL', KEYS[1])
	end
	return 0
`)

// Redis is a Locker backed by a single Redis key per name. The key expires
// after the lease so a crashed holder cannot block the job forever.
type Redis struct {
	client redis.UniversalClient
	prefix string
	lease  time.Duration
}

func NewRedis(client redis.UniversalClient, prefix string, lease time.Duration) *Redis {
	if lease <= 0 {
		lease = DefaultLease
	}
	if prefix == "" {
		prefix = "visits:lock:"
	}
	return &Redis{client: client, prefix: prefix, lease: lease}
}

func (r *Redis) TryLock(ctx context.Context, name string) (Unlock, bool, error) {
	key := r.prefix + name
	token := uuid.NewString()

	ok, err := r.client.SetNX(ctx, key, token, r.lease).Result()
	if err != nil {
		return nil, false, errors.Wrapf(err, "acquire lock %q", name)
	}
	if !ok {
		return nil, false, nil
	}
	return func(ctx context.Context) error {
		err := releaseScript.Run(ctx, r.client, []string{key}, token).Err()
		return errors.Wrapf(err, "release lock %q", name)
	}, true, nil
}
