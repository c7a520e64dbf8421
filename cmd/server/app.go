package main

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgxpool"
	pkgerrors "github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/warp/visit-scheduler/booking"
	"github.com/warp/visit-scheduler/booking/store"
	"github.com/warp/visit-scheduler/config"
	"github.com/warp/visit-scheduler/jobs"
	"github.com/warp/visit-scheduler/lock"
	"github.com/warp/visit-scheduler/logging"
	"github.com/warp/visit-scheduler/notify"
	"github.com/warp/visit-scheduler/reference"
	"github.com/warp/visit-scheduler/store/sqlite"
)

// app holds the wired dependencies shared by every command.
type app struct {
	cfg    config.Config
	log    zerolog.Logger
	store  booking.TxStore
	engine *booking.Engine

	closers []func() error
}

func newApp(path string) (*app, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, log: logging.Init(cfg.Log.Level, cfg.Log.Pretty)}

	enc, err := reference.New(cfg.Reference.Salt, cfg.Reference.MinLength)
	if err != nil {
		return nil, err
	}

	switch cfg.Store.Driver {
	case "memory":
		a.store = store.NewMemory(enc)
	default:
		st, err := sqlite.New(cfg.Store.Path, enc)
		if err != nil {
			return nil, pkgerrors.Wrap(err, "open store")
		}
		a.store = st
		a.closers = append(a.closers, st.Close)
	}

	notifiers := notify.Multi{notify.NewLog(a.log)}
	if cfg.AMQP.Enabled {
		broker := notify.NewAMQP(cfg.AMQP.URL, cfg.AMQP.Queue, a.log)
		notifiers = append(notifiers, broker)
		a.closers = append(a.closers, broker.Close)
	}

	a.engine = booking.NewEngine(a.store, notifiers, cfg.BookingPolicy(),
		booking.WithMatcher(cfg.Matcher()),
		booking.WithLogger(a.log.With().Str("component", "booking").Logger()),
	)
	return a, nil
}

// locker builds the lock backend that keeps sweeps single-flight across
// replicas.
func (a *app) locker(ctx context.Context) (lock.Locker, error) {
	switch a.cfg.Jobs.Lock {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     a.cfg.Redis.Addr,
			Password: a.cfg.Redis.Password,
			DB:       a.cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, pkgerrors.Wrapf(err, "connect redis %s", a.cfg.Redis.Addr)
		}
		a.closers = append(a.closers, client.Close)
		return lock.NewRedis(client, "", 0), nil
	case "postgres":
		pool, err := pgxpool.New(ctx, a.cfg.Postgres.URL)
		if err != nil {
			return nil, pkgerrors.Wrap(err, "connect postgres")
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, pkgerrors.Wrap(err, "ping postgres")
		}
		a.closers = append(a.closers, func() error { pool.Close(); return nil })
		return lock.NewPostgres(pool), nil
	default:
		return lock.NewLocal(), nil
	}
}

func (a *app) tasks() []jobs.Task {
	return []jobs.Task{
		jobs.ExpiryTask(a.engine, a.cfg.Jobs.ExpiryInterval.Duration),
		jobs.EligibilityTask(a.engine, a.store, a.cfg.Jobs.EligibilityInterval.Duration),
	}
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		a.log.Warn().Err(err).Msg("shutdown cleanup failed")
		return err
	}
	return nil
}
