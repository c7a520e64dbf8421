package booking

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/warp/visit-scheduler/migration"
	"github.com/warp/visit-scheduler/session"
)

// =============================================================================
// POLICY - Booking rules passed in by the caller
// =============================================================================

type Policy struct {
	// HoldTTL is how long an untouched hold keeps its capacity unit.
	HoldTTL time.Duration
	// MinNoticeDays and MaxNoticeDays bound the bookable window from today.
	MinNoticeDays int
	MaxNoticeDays int
	MaxVisitors   int
	// MinSupportLength applies only when support text is given.
	MinSupportLength int
}

func DefaultPolicy() Policy {
	return Policy{
		HoldTTL:          24 * time.Hour,
		MinNoticeDays:    2,
		MaxNoticeDays:    28,
		MaxVisitors:      10,
		MinSupportLength: 3,
	}
}

// =============================================================================
// ENGINE
// =============================================================================

type Engine struct {
	store    TxStore
	notifier Notifier
	policy   Policy
	matcher  migration.Matcher
	now      func() time.Time
	log      zerolog.Logger
}

type Option func(*Engine)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithMatcher replaces the default migration matcher.
func WithMatcher(m migration.Matcher) Option {
	return func(e *Engine) { e.matcher = m }
}

func NewEngine(store TxStore, notifier Notifier, policy Policy, opts ...Option) *Engine {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	e := &Engine{
		store:    store,
		notifier: notifier,
		policy:   policy,
		matcher:  migration.NewMatcher(),
		now:      time.Now,
		log:      log.With().Str("component", "booking").Logger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Policy() Policy { return e.policy }

func (e *Engine) today() session.Date { return session.DateOf(e.now()) }

// emit delivers events after commit. Failures are logged only.
func (e *Engine) emit(ctx context.Context, events ...Event) {
	for _, ev := range events {
		if err := e.notifier.Notify(ctx, ev); err != nil {
			e.log.Error().Err(err).
				Str("event", string(ev.Type)).
				Str("reference", ev.Reference).
				Msg("notification failed")
		}
	}
}

// =============================================================================
// RESERVE
// =============================================================================

type ReserveRequest struct {
	PrisonerID       string              `json:"prisonerId" validate:"required"`
	DefinitionRef    string              `json:"sessionTemplateReference" validate:"required"`
	Date             session.Date        `json:"sessionDate" validate:"-"`
	Restriction      session.Restriction `json:"sessionRestriction" validate:"required,oneof=OPEN CLOSED"`
	Visitors         []Visitor           `json:"visitors" validate:"dive"`
	Contact          *Contact            `json:"visitContact,omitempty" validate:"omitempty"`
	Support          string              `json:"visitorSupport,omitempty"`
	AllowOverBooking bool                `json:"allowOverBooking"`
	// BookingRef re-opens an existing booking for change.
	BookingRef string `json:"bookingReference,omitempty"`
}

// Reserve places a capacity hold on one occurrence of a definition.
func (e *Engine) Reserve(ctx context.Context, req ReserveRequest) (Reservation, error) {
	ve := &session.ValidationError{}
	if err := collect(ve, validate.Struct(req)); err != nil {
		return Reservation{}, err
	}
	e.policy.checkVisitors(ve, req.Visitors)
	e.policy.checkSupport(ve, req.Support)
	if req.Date.IsZero() {
		ve.Add("sessionDate", "is required")
	}
	if err := ve.OrNil(); err != nil {
		return Reservation{}, err
	}

	now := e.now()
	var (
		out        Reservation
		superseded []Reservation
	)
	err := e.store.WithTx(ctx, func(s Store) error {
		def, err := s.GetDefinition(ctx, req.DefinitionRef)
		if err != nil {
			return err
		}
		ve := &session.ValidationError{}
		e.policy.checkDate(ve, def, req.Date, session.DateOf(now))
		if err := ve.OrNil(); err != nil {
			return err
		}

		if req.BookingRef != "" {
			if superseded, err = e.reopen(ctx, s, req); err != nil {
				return err
			}
		}

		occ, err := s.GetOrCreateOccurrence(ctx, def.Reference, req.Date)
		if err != nil {
			return err
		}
		if err := e.checkCapacity(ctx, s, def, occ, req.Restriction, "", req.BookingRef, req.AllowOverBooking, now); err != nil {
			return err
		}

		out, err = s.CreateReservation(ctx, Reservation{
			BookingRef:    req.BookingRef,
			PrisonerID:    req.PrisonerID,
			Prison:        def.Prison,
			DefinitionRef: def.Reference,
			OccurrenceRef: occ.Reference,
			Date:          req.Date,
			Restriction:   req.Restriction,
			Visitors:      req.Visitors,
			Contact:       req.Contact,
			Support:       req.Support,
			Status:        ReservationHeld,
			CreatedAt:     now,
			ModifiedAt:    now,
		})
		return err
	})
	if err != nil {
		return Reservation{}, err
	}

	for _, r := range superseded {
		e.emit(ctx, reservationEvent(EventReservationReleased, r, now))
	}
	e.log.Info().
		Str("reservation", out.Reference).
		Str("session", out.DefinitionRef).
		Str("date", out.Date.String()).
		Str("restriction", string(out.Restriction)).
		Bool("overbooking", req.AllowOverBooking).
		Msg("reservation held")
	return out, nil
}

// reopen checks that a booking can be changed and drops holds left by
// earlier, abandoned change attempts.
func (e *Engine) reopen(ctx context.Context, s Store, req ReserveRequest) ([]Reservation, error) {
	b, err := s.GetBooking(ctx, req.BookingRef)
	if err != nil {
		return nil, err
	}
	if b.Status != BookingBooked {
		return nil, session.NewValidationError("bookingReference", "booking is "+string(b.Status))
	}
	if b.PrisonerID != req.PrisonerID {
		return nil, session.NewValidationError("bookingReference", "booking belongs to another prisoner")
	}
	return e.releaseHolds(ctx, s, b.Reference)
}

func (e *Engine) releaseHolds(ctx context.Context, s Store, bookingRef string) ([]Reservation, error) {
	holds, err := s.ListReservations(ctx, ReservationFilter{BookingRef: bookingRef, Status: ReservationHeld})
	if err != nil {
		return nil, err
	}
	var released []Reservation
	for _, h := range holds {
		deleted, err := s.DeleteReservation(ctx, h.Reference)
		if err != nil {
			return nil, err
		}
		if deleted {
			released = append(released, h)
		}
	}
	return released, nil
}

// =============================================================================
// CAPACITY CHECK
// =============================================================================

// usedCapacity counts live holds plus booked visits for an occurrence and
// restriction. excludeReservation and excludeBooking leave out the visit
// being moved.
func (e *Engine) usedCapacity(ctx context.Context, s Store, occurrenceRef string, restriction session.Restriction, excludeReservation, excludeBooking string, now time.Time) (int, error) {
	liveSince := now.Add(-e.policy.HoldTTL)
	holds, err := s.ListReservations(ctx, ReservationFilter{
		OccurrenceRef: occurrenceRef,
		Restriction:   restriction,
		Status:        ReservationHeld,
		ModifiedAfter: &liveSince,
		ExcludeRef:    excludeReservation,
	})
	if err != nil {
		return 0, err
	}
	booked, err := s.ListBookings(ctx, BookingFilter{
		OccurrenceRef: occurrenceRef,
		Restriction:   restriction,
		Status:        BookingBooked,
		ExcludeRef:    excludeBooking,
	})
	if err != nil {
		return 0, err
	}

	bookedRefs := make(map[string]struct{}, len(booked))
	for _, b := range booked {
		bookedRefs[b.Reference] = struct{}{}
	}
	used := len(booked)
	for _, h := range holds {
		if _, sameSlot := bookedRefs[h.BookingRef]; h.BookingRef != "" && sameSlot {
			continue
		}
		used++
	}
	return used, nil
}

func (e *Engine) checkCapacity(ctx context.Context, s Store, def session.Definition, occ Occurrence, restriction session.Restriction, excludeReservation, excludeBooking string, allowOverBooking bool, now time.Time) error {
	if allowOverBooking {
		return nil
	}
	used, err := e.usedCapacity(ctx, s, occ.Reference, restriction, excludeReservation, excludeBooking, now)
	if err != nil {
		return err
	}
	capacity := def.Capacity(restriction)
	if capacity-used < 1 {
		return &session.CapacityExceededError{
			DefinitionRef: def.Reference,
			Date:          occ.Date,
			Restriction:   restriction,
			Capacity:      capacity,
			Used:          used,
		}
	}
	return nil
}

// =============================================================================
// CHANGE
// =============================================================================

// ChangeRequest holds optional replacements. Nil fields are left as they are.
type ChangeRequest struct {
	DefinitionRef    *string              `json:"sessionTemplateReference,omitempty"`
	Date             *session.Date        `json:"sessionDate,omitempty" validate:"-"`
	Restriction      *session.Restriction `json:"sessionRestriction,omitempty" validate:"omitempty,oneof=OPEN CLOSED"`
	Visitors         []Visitor            `json:"visitors,omitempty" validate:"omitempty,dive"`
	Contact          *Contact             `json:"visitContact,omitempty" validate:"omitempty"`
	Support          *string              `json:"visitorSupport,omitempty"`
	AllowOverBooking bool                 `json:"allowOverBooking"`
}

// Change edits a held reservation. Capacity is re-checked only when the
// restriction or the resolved occurrence changes, and only against the new
// occurrence.
func (e *Engine) Change(ctx context.Context, ref string, req ChangeRequest) (Reservation, error) {
	ve := &session.ValidationError{}
	if err := collect(ve, validate.Struct(req)); err != nil {
		return Reservation{}, err
	}
	if req.Visitors != nil {
		e.policy.checkVisitors(ve, req.Visitors)
	}
	if req.Support != nil {
		e.policy.checkSupport(ve, *req.Support)
	}
	if err := ve.OrNil(); err != nil {
		return Reservation{}, err
	}

	now := e.now()
	var out Reservation
	err := e.store.WithTx(ctx, func(s Store) error {
		r, err := s.GetReservation(ctx, ref)
		if err != nil {
			return err
		}
		if err := e.requireLiveHold(r, now); err != nil {
			return err
		}

		defRef, date, restriction := r.DefinitionRef, r.Date, r.Restriction
		if req.DefinitionRef != nil {
			defRef = *req.DefinitionRef
		}
		if req.Date != nil {
			date = *req.Date
		}
		if req.Restriction != nil {
			restriction = *req.Restriction
		}

		def, err := s.GetDefinition(ctx, defRef)
		if err != nil {
			return err
		}
		if defRef != r.DefinitionRef || !date.Equal(r.Date) {
			ve := &session.ValidationError{}
			e.policy.checkDate(ve, def, date, session.DateOf(now))
			if err := ve.OrNil(); err != nil {
				return err
			}
		}

		occ, err := s.GetOrCreateOccurrence(ctx, def.Reference, date)
		if err != nil {
			return err
		}
		if occ.Reference != r.OccurrenceRef || restriction != r.Restriction {
			if err := e.checkCapacity(ctx, s, def, occ, restriction, r.Reference, r.BookingRef, req.AllowOverBooking, now); err != nil {
				return err
			}
		}

		r.DefinitionRef = def.Reference
		r.Prison = def.Prison
		r.OccurrenceRef = occ.Reference
		r.Date = date
		r.Restriction = restriction
		if req.Visitors != nil {
			r.Visitors = req.Visitors
		}
		if req.Contact != nil {
			r.Contact = req.Contact
		}
		if req.Support != nil {
			r.Support = *req.Support
		}
		r.ModifiedAt = now
		if err := s.UpdateReservation(ctx, r); err != nil {
			return err
		}
		out = r
		return nil
	})
	if err != nil {
		return Reservation{}, err
	}

	e.log.Info().
		Str("reservation", out.Reference).
		Str("session", out.DefinitionRef).
		Str("date", out.Date.String()).
		Str("restriction", string(out.Restriction)).
		Msg("reservation changed")
	return out, nil
}

// requireLiveHold rejects completed reservations and holds whose capacity
// unit has already lapsed.
func (e *Engine) requireLiveHold(r Reservation, now time.Time) error {
	if r.Status != ReservationHeld {
		return session.NewValidationError("reservation", "reservation is already "+string(r.Status))
	}
	if !r.Live(now, e.policy.HoldTTL) {
		return session.NewValidationError("reservation", "reservation has expired")
	}
	return nil
}

// =============================================================================
// COMPLETE
// =============================================================================

// Complete turns a held reservation into a booking. A reservation carrying a
// BookingRef updates that booking instead of creating one. No capacity check
// is made: the hold already owns its unit.
func (e *Engine) Complete(ctx context.Context, ref string) (Booking, error) {
	now := e.now()
	var (
		out     Booking
		changed bool
	)
	err := e.store.WithTx(ctx, func(s Store) error {
		r, err := s.GetReservation(ctx, ref)
		if err != nil {
			return err
		}
		if err := e.requireLiveHold(r, now); err != nil {
			return err
		}
		if r.Contact == nil {
			return session.NewValidationError("visitContact", "is required to complete a booking")
		}

		if r.BookingRef != "" {
			b, err := s.GetBooking(ctx, r.BookingRef)
			if err != nil {
				return err
			}
			if b.Status != BookingBooked {
				return session.NewValidationError("bookingReference", "booking is "+string(b.Status))
			}
			applyReservation(&b, r)
			b.ModifiedAt = now
			if err := s.UpdateBooking(ctx, b); err != nil {
				return err
			}
			out, changed = b, true
		} else {
			b := Booking{Status: BookingBooked, CreatedAt: now, ModifiedAt: now}
			applyReservation(&b, r)
			if out, err = s.CreateBooking(ctx, b); err != nil {
				return err
			}
			r.BookingRef = out.Reference
		}

		r.Status = ReservationCompleted
		r.ModifiedAt = now
		return s.UpdateReservation(ctx, r)
	})
	if err != nil {
		return Booking{}, err
	}

	eventType := EventBookingCompleted
	if changed {
		eventType = EventBookingUpdated
	}
	e.emit(ctx, bookingEvent(eventType, out, now))
	e.log.Info().
		Str("booking", out.Reference).
		Str("reservation", out.CurrentReservationRef).
		Bool("changed", changed).
		Msg("booking completed")
	return out, nil
}

func applyReservation(b *Booking, r Reservation) {
	b.PrisonerID = r.PrisonerID
	b.Prison = r.Prison
	b.DefinitionRef = r.DefinitionRef
	b.OccurrenceRef = r.OccurrenceRef
	b.Date = r.Date
	b.Restriction = r.Restriction
	b.Visitors = r.Visitors
	b.Contact = r.Contact
	b.Support = r.Support
	b.CurrentReservationRef = r.Reference
}

// =============================================================================
// CANCEL
// =============================================================================

// Cancel accepts either a reservation or a booking reference. A held
// reservation is deleted. A booking is marked cancelled and any open change
// hold on it is deleted. A completed reservation cancels its booking.
func (e *Engine) Cancel(ctx context.Context, ref string) error {
	now := e.now()
	var events []Event
	err := e.store.WithTx(ctx, func(s Store) error {
		events = nil
		target := ref
		r, err := s.GetReservation(ctx, ref)
		switch {
		case err == nil && r.Status == ReservationHeld:
			if _, err := s.DeleteReservation(ctx, r.Reference); err != nil {
				return err
			}
			events = append(events, reservationEvent(EventReservationReleased, r, now))
			return nil
		case err == nil:
			target = r.BookingRef
		case !session.IsNotFound(err):
			return err
		}

		b, err := s.GetBooking(ctx, target)
		if err != nil {
			return err
		}
		if b.Status == BookingCancelled {
			return session.NewValidationError("reference", "booking is already cancelled")
		}
		released, err := e.releaseHolds(ctx, s, b.Reference)
		if err != nil {
			return err
		}
		b.Status = BookingCancelled
		b.ModifiedAt = now
		if err := s.UpdateBooking(ctx, b); err != nil {
			return err
		}
		for _, h := range released {
			events = append(events, reservationEvent(EventReservationReleased, h, now))
		}
		events = append(events, bookingEvent(EventBookingCancelled, b, now))
		return nil
	})
	if err != nil {
		return err
	}

	e.emit(ctx, events...)
	e.log.Info().Str("reference", ref).Int("events", len(events)).Msg("cancelled")
	return nil
}

// =============================================================================
// QUERIES
// =============================================================================

func (e *Engine) GetReservation(ctx context.Context, ref string) (Reservation, error) {
	return e.store.GetReservation(ctx, ref)
}

func (e *Engine) GetBooking(ctx context.Context, ref string) (Booking, error) {
	return e.store.GetBooking(ctx, ref)
}

// ListBookings returns bookings matching f, for reporting and sweeps.
func (e *Engine) ListBookings(ctx context.Context, f BookingFilter) ([]Booking, error) {
	return e.store.ListBookings(ctx, f)
}
