package booking

import (
	"context"

	"github.com/warp/visit-scheduler/session"
)

// FlagReasonIneligible is recorded on bookings whose prisoner no longer
// satisfies the session's eligibility facets.
const FlagReasonIneligible = "prisoner no longer eligible for session"

// FlagIneligibleBookings re-checks every future booked visit against the
// prisoner's current classification and flags those that no longer match.
// Flagged bookings stay booked; staff decide what to do with them. A lookup
// failure for one prisoner is logged and the sweep moves on.
func (e *Engine) FlagIneligibleBookings(ctx context.Context, lookup PrisonerLookup) (SweepResult, error) {
	if lookup == nil {
		lookup = e.store
	}
	today := e.today()
	bookings, err := e.store.ListBookings(ctx, BookingFilter{Status: BookingBooked, FromDate: &today})
	if err != nil {
		return SweepResult{}, err
	}

	definitions := make(map[string]session.Definition)
	var res SweepResult
	for _, b := range bookings {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		res.Processed++
		if b.Flagged {
			res.Skipped++
			continue
		}

		def, ok := definitions[b.DefinitionRef]
		if !ok {
			if def, err = e.store.GetDefinition(ctx, b.DefinitionRef); err != nil {
				res.Failed++
				e.log.Error().Err(err).Str("booking", b.Reference).Msg("definition lookup failed")
				continue
			}
			definitions[b.DefinitionRef] = def
		}
		p, err := lookup.Prisoner(ctx, b.PrisonerID)
		if err != nil {
			res.Failed++
			e.log.Warn().Err(err).Str("booking", b.Reference).Str("prisoner", b.PrisonerID).Msg("prisoner lookup failed")
			continue
		}
		if session.IsEligible(p, def) {
			continue
		}

		var flagged Booking
		err = e.store.WithTx(ctx, func(s Store) error {
			cur, err := s.GetBooking(ctx, b.Reference)
			if err != nil {
				return err
			}
			if cur.Status != BookingBooked || cur.Flagged {
				return nil
			}
			cur.Flagged = true
			cur.FlagReason = FlagReasonIneligible
			cur.ModifiedAt = e.now()
			if err := s.UpdateBooking(ctx, cur); err != nil {
				return err
			}
			flagged = cur
			return nil
		})
		if err != nil {
			res.Failed++
			e.log.Error().Err(err).Str("booking", b.Reference).Msg("failed to flag booking")
			continue
		}
		if flagged.Reference == "" {
			res.Skipped++
			continue
		}
		res.Affected++
		e.emit(ctx, bookingEvent(EventBookingFlagged, flagged, flagged.ModifiedAt))
	}

	e.log.Info().
		Int("processed", res.Processed).
		Int("flagged", res.Affected).
		Int("failed", res.Failed).
		Msg("booking eligibility swept")
	return res, nil
}
