package lock

import (
	"context"
	"hash/fnv"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

// Postgres is a Locker using session-level advisory locks. Each held lock
// pins one pool connection until it is released.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) TryLock(ctx context.Context, name string) (Unlock, bool, error) {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, false, errors.Wrap(err, "acquire connection")
	}

	key := advisoryKey(name)
	var ok bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, key).Scan(&ok); err != nil {
		conn.Release()
		return nil, false, errors.Wrapf(err, "acquire lock %q", name)
	}
	if !ok {
		conn.Release()
		return nil, false, nil
	}

	return func(ctx context.Context) error {
		defer conn.Release()
		_, err := conn.Exec(ctx, `SELECT pg_advisory_unlock($1)`, key)
		return errors.Wrapf(err, "release lock %q", name)
	}, true, nil
}

func advisoryKey(name string) int64 {
	h := fnv.New64a()
	h.Write([]byte("visits:" + name))
	return int64(h.Sum64())
}
