package booking

import (
	"context"

	"github.com/warp/visit-scheduler/migration"
	"github.com/warp/visit-scheduler/session"
)

// MigrateRequest is a visit carried over from the legacy system.
type MigrateRequest struct {
	Visit       migration.LegacyVisit
	Restriction session.Restriction
	Visitors    []Visitor
	Contact     *Contact
	Support     string
	Cancelled   bool
}

// ImportMigratedVisit attaches a legacy visit to the best matching
// definition and records it as a booking. Migrated visits already happened
// or were promised, so neither the booking window nor capacity is checked.
func (e *Engine) ImportMigratedVisit(ctx context.Context, req MigrateRequest) (Booking, error) {
	ve := &session.ValidationError{}
	if req.Visit.Prisoner.ID == "" {
		ve.Add("prisonerId", "is required")
	}
	if req.Visit.Prison == "" {
		ve.Add("prisonId", "is required")
	}
	if req.Visit.Date.IsZero() {
		ve.Add("visitDate", "is required")
	}
	if !req.Restriction.Valid() {
		ve.Add("visitRestriction", "must be one of OPEN CLOSED")
	}
	if err := ve.OrNil(); err != nil {
		return Booking{}, err
	}

	defs, err := e.store.ListDefinitions(ctx, req.Visit.Prison)
	if err != nil {
		return Booking{}, err
	}
	def, err := e.matcher.BestMatch(req.Visit, migration.Candidates(req.Visit, defs))
	if err != nil {
		e.log.Warn().Err(err).Str("prisoner", req.Visit.Prisoner.ID).Msg("migrated visit not matched")
		return Booking{}, err
	}

	now := e.now()
	var out Booking
	err = e.store.WithTx(ctx, func(s Store) error {
		occ, err := s.GetOrCreateOccurrence(ctx, def.Reference, req.Visit.Date)
		if err != nil {
			return err
		}
		status := BookingBooked
		if req.Cancelled {
			status = BookingCancelled
		}
		r, err := s.CreateReservation(ctx, Reservation{
			PrisonerID:    req.Visit.Prisoner.ID,
			Prison:        def.Prison,
			DefinitionRef: def.Reference,
			OccurrenceRef: occ.Reference,
			Date:          req.Visit.Date,
			Restriction:   req.Restriction,
			Visitors:      req.Visitors,
			Contact:       req.Contact,
			Support:       req.Support,
			Status:        ReservationCompleted,
			CreatedAt:     now,
			ModifiedAt:    now,
		})
		if err != nil {
			return err
		}
		b := Booking{Status: status, Migrated: true, CreatedAt: now, ModifiedAt: now}
		applyReservation(&b, r)
		if out, err = s.CreateBooking(ctx, b); err != nil {
			return err
		}
		r.BookingRef = out.Reference
		return s.UpdateReservation(ctx, r)
	})
	if err != nil {
		return Booking{}, err
	}

	e.log.Info().
		Str("booking", out.Reference).
		Str("session", def.Reference).
		Str("date", out.Date.String()).
		Msg("migrated visit imported")
	return out, nil
}

// MatchMigratedVisit ranks the candidate definitions for a legacy visit
// without writing anything. The ranking excludes candidates beyond the
// proximity ceiling; err is the same one ImportMigratedVisit would return.
func (e *Engine) MatchMigratedVisit(ctx context.Context, v migration.LegacyVisit) (session.Definition, []migration.Score, error) {
	defs, err := e.store.ListDefinitions(ctx, v.Prison)
	if err != nil {
		return session.Definition{}, nil, err
	}
	candidates := migration.Candidates(v, defs)
	ranked := e.matcher.Rank(v, candidates)
	best, err := e.matcher.BestMatch(v, candidates)
	return best, ranked, err
}
