package booking

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/warp/visit-scheduler/session"
)

// =============================================================================
// NOTIFICATION HOOK
// =============================================================================
//
// Events are emitted after the owning transaction commits. A failed
// notification is logged and never rolls back the operation.

type EventType string

const (
	EventReservationReleased EventType = "reservation.released"
	EventBookingCompleted    EventType = "booking.completed"
	EventBookingUpdated      EventType = "booking.updated"
	EventBookingCancelled    EventType = "booking.cancelled"
	EventBookingFlagged      EventType = "booking.flagged"
)

type Event struct {
	ID            string              `json:"id"`
	Type          EventType           `json:"type"`
	Reference     string              `json:"reference"`
	BookingRef    string              `json:"bookingReference,omitempty"`
	PrisonerID    string              `json:"prisonerId"`
	Prison        string              `json:"prisonId,omitempty"`
	DefinitionRef string              `json:"sessionTemplateReference"`
	Date          session.Date        `json:"sessionDate"`
	Restriction   session.Restriction `json:"sessionRestriction"`
	Reason        string              `json:"reason,omitempty"`
	OccurredAt    time.Time           `json:"occurredAt"`
}

type Notifier interface {
	Notify(ctx context.Context, e Event) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, e Event) error

func (f NotifierFunc) Notify(ctx context.Context, e Event) error { return f(ctx, e) }

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, Event) error { return nil }

func reservationEvent(t EventType, r Reservation, at time.Time) Event {
	return Event{
		ID:            uuid.NewString(),
		Type:          t,
		Reference:     r.Reference,
		BookingRef:    r.BookingRef,
		PrisonerID:    r.PrisonerID,
		Prison:        r.Prison,
		DefinitionRef: r.DefinitionRef,
		Date:          r.Date,
		Restriction:   r.Restriction,
		OccurredAt:    at,
	}
}

func bookingEvent(t EventType, b Booking, at time.Time) Event {
	return Event{
		ID:            uuid.NewString(),
		Type:          t,
		Reference:     b.Reference,
		BookingRef:    b.Reference,
		PrisonerID:    b.PrisonerID,
		Prison:        b.Prison,
		DefinitionRef: b.DefinitionRef,
		Date:          b.Date,
		Restriction:   b.Restriction,
		Reason:        b.FlagReason,
		OccurredAt:    at,
	}
}
