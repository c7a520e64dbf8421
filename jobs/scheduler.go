/*
scheduler.go - Background maintenance scheduler

PURPOSE:
  Periodically runs the booking engine's maintenance sweeps:
  - expiry:      deletes held reservations past the hold TTL
  - eligibility: flags future bookings whose prisoner no longer qualifies

DESIGN:
  - One goroutine per task, each with its own ticker
  - Every task runs once immediately on Start
  - A task takes a named lock before running and skips the tick when the
    lock is held by another replica
  - The last run of each task is recorded for the admin endpoint

CONFIGURATION:
  - Interval per task (see config.Jobs)
  - Enabled: whether Start launches anything

USAGE:
  s := jobs.NewScheduler(locker, logger,
      jobs.ExpiryTask(engine, time.Minute),
      jobs.EligibilityTask(engine, nil, time.Hour),
  )
  s.Start()
  defer s.Stop()

SEE ALSO:
  - booking/expiry.go:   ExpireStaleHolds
  - booking/flagging.go: FlagIneligibleBookings
  - lock/lock.go:        Locker implementations
*/
package jobs

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/warp/visit-scheduler/booking"
	"github.com/warp/visit-scheduler/lock"
)

var (
	ErrUnknownTask = errors.New("unknown task")
	ErrLocked      = errors.New("task is running elsewhere")
)

// Task is a named periodic sweep.
type Task struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) (booking.SweepResult, error)
}

func ExpiryTask(e *booking.Engine, interval time.Duration) Task {
	return Task{Name: "expiry", Interval: interval, Run: e.ExpireStaleHolds}
}

func EligibilityTask(e *booking.Engine, lookup booking.PrisonerLookup, interval time.Duration) Task {
	return Task{
		Name:     "eligibility",
		Interval: interval,
		Run: func(ctx context.Context) (booking.SweepResult, error) {
			return e.FlagIneligibleBookings(ctx, lookup)
		},
	}
}

// Run records one execution of a task.
type Run struct {
	Task        string              `json:"task"`
	StartedAt   time.Time           `json:"startedAt"`
	CompletedAt time.Time           `json:"completedAt"`
	Result      booking.SweepResult `json:"result"`
	Error       string              `json:"error,omitempty"`
}

// Scheduler runs tasks on their intervals.
type Scheduler struct {
	Enabled bool
	Timeout time.Duration

	tasks  map[string]Task
	locker lock.Locker
	log    zerolog.Logger
	now    func() time.Time

	stop    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	started bool

	runsMu sync.Mutex
	runs   map[string]Run
}

// NewScheduler creates a scheduler. A nil locker falls back to lock.Local.
func NewScheduler(locker lock.Locker, logger zerolog.Logger, tasks ...Task) *Scheduler {
	if locker == nil {
		locker = lock.NewLocal()
	}
	s := &Scheduler{
		Enabled: true,
		Timeout: 5 * time.Minute,
		tasks:   make(map[string]Task, len(tasks)),
		locker:  locker,
		log:     logger.With().Str("component", "scheduler").Logger(),
		now:     time.Now,
		runs:    make(map[string]Run),
	}
	for _, t := range tasks {
		s.tasks[t.Name] = t
	}
	return s
}

// Start launches one goroutine per task.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		s.log.Info().Msg("disabled, not starting")
		return
	}
	if s.started {
		return
	}
	s.started = true
	s.stop = make(chan struct{})

	for _, name := range slices.Sorted(maps.Keys(s.tasks)) {
		t := s.tasks[name]
		if t.Interval <= 0 {
			s.log.Warn().Str("task", name).Msg("no interval, not scheduled")
			continue
		}
		s.wg.Add(1)
		go s.loop(t, s.stop)
		s.log.Info().Str("task", name).Dur("interval", t.Interval).Msg("started")
	}
}

// Stop stops every task loop and waits for in-flight runs.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}
	close(s.stop)
	s.wg.Wait()
	s.started = false
	s.log.Info().Msg("stopped")
}

func (s *Scheduler) loop(t Task, stop <-chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(t.Interval)
	defer ticker.Stop()

	s.tick(t)
	for {
		select {
		case <-ticker.C:
			s.tick(t)
		case <-stop:
			return
		}
	}
}

func (s *Scheduler) tick(t Task) {
	ctx, cancel := context.WithTimeout(context.Background(), s.Timeout)
	defer cancel()

	if _, err := s.execute(ctx, t); err != nil && !errors.Is(err, ErrLocked) {
		s.log.Error().Err(err).Str("task", t.Name).Msg("task failed")
	}
}

// RunNow runs a task immediately, under the same lock as scheduled runs.
func (s *Scheduler) RunNow(ctx context.Context, name string) (booking.SweepResult, error) {
	t, ok := s.tasks[name]
	if !ok {
		return booking.SweepResult{}, errors.Wrap(ErrUnknownTask, name)
	}
	return s.execute(ctx, t)
}

func (s *Scheduler) execute(ctx context.Context, t Task) (booking.SweepResult, error) {
	unlock, acquired, err := s.locker.TryLock(ctx, t.Name)
	if err != nil {
		return booking.SweepResult{}, err
	}
	if !acquired {
		s.log.Debug().Str("task", t.Name).Msg("lock held elsewhere, skipping")
		return booking.SweepResult{}, ErrLocked
	}
	defer func() {
		if err := unlock(context.WithoutCancel(ctx)); err != nil {
			s.log.Warn().Err(err).Str("task", t.Name).Msg("unlock failed")
		}
	}()

	run := Run{Task: t.Name, StartedAt: s.now()}
	res, err := t.Run(ctx)
	run.CompletedAt = s.now()
	run.Result = res
	if err != nil {
		run.Error = err.Error()
	}
	s.record(run)

	if err == nil && (res.Affected > 0 || res.Failed > 0) {
		s.log.Info().
			Str("task", t.Name).
			Int("processed", res.Processed).
			Int("affected", res.Affected).
			Int("skipped", res.Skipped).
			Int("failed", res.Failed).
			Msg("completed")
	}
	return res, err
}

func (s *Scheduler) record(r Run) {
	s.runsMu.Lock()
	defer s.runsMu.Unlock()
	s.runs[r.Task] = r
}

// LastRuns returns the most recent run of each task that has run, by name.
func (s *Scheduler) LastRuns() []Run {
	s.runsMu.Lock()
	defer s.runsMu.Unlock()
	out := make([]Run, 0, len(s.runs))
	for _, name := range slices.Sorted(maps.Keys(s.runs)) {
		out = append(out, s.runs[name])
	}
	return out
}

// Tasks returns the registered task names.
func (s *Scheduler) Tasks() []string {
	return slices.Sorted(maps.Keys(s.tasks))
}
