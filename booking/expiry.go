package booking

import (
	"context"

	"github.com/warp/visit-scheduler/session"
)

// ExpireStaleHolds deletes every held reservation not modified within
// HoldTTL. Each hold is re-read and deleted in its own transaction, so a
// hold touched after listing survives and a hold deleted concurrently is
// skipped. One release event is emitted per deleted hold.
func (e *Engine) ExpireStaleHolds(ctx context.Context) (SweepResult, error) {
	now := e.now()
	cutoff := now.Add(-e.policy.HoldTTL)
	stale, err := e.store.ListReservations(ctx, ReservationFilter{
		Status:         ReservationHeld,
		ModifiedBefore: &cutoff,
	})
	if err != nil {
		return SweepResult{}, err
	}

	var res SweepResult
	for _, r := range stale {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		res.Processed++

		var deleted bool
		err := e.store.WithTx(ctx, func(s Store) error {
			cur, err := s.GetReservation(ctx, r.Reference)
			if session.IsNotFound(err) {
				return nil
			}
			if err != nil {
				return err
			}
			if cur.Live(now, e.policy.HoldTTL) || cur.Status != ReservationHeld {
				return nil
			}
			deleted, err = s.DeleteReservation(ctx, cur.Reference)
			return err
		})
		if err != nil {
			res.Failed++
			e.log.Error().Err(err).Str("reservation", r.Reference).Msg("failed to expire hold")
			continue
		}
		if !deleted {
			res.Skipped++
			continue
		}

		res.Affected++
		e.emit(ctx, reservationEvent(EventReservationReleased, r, now))
	}

	e.log.Info().
		Int("processed", res.Processed).
		Int("expired", res.Affected).
		Int("skipped", res.Skipped).
		Int("failed", res.Failed).
		Msg("stale holds swept")
	return res, nil
}
