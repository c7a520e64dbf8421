/*
store.go - Persistence contracts for the booking engine

PURPOSE:
  Defines the interface between the engine and the database. Entities are
  addressed by opaque references; stores keep integer ids internally and
  convert through reference.Encoder.

KEY INTERFACES:
  Store:          definitions, occurrences, reservations, bookings, prisoners
  TxStore:        Store plus WithTx for serialized read-decide-write
  PrisonerLookup: classification data used for eligibility checks

SERIALIZATION CONTRACT:
  WithTx must serialize against every other WithTx on the same data. The
  capacity check counts rows and then inserts one; two transactions on the
  same occurrence must never interleave between those steps.

IMPLEMENTATIONS:
  - booking/store/memory.go: in-memory, for tests and development
  - store/sqlite/sqlite.go:  SQLite with immediate transactions
*/
package booking

import (
	"context"
	"time"

	"github.com/warp/visit-scheduler/session"
)

// =============================================================================
// STORE INTERFACES
// =============================================================================

type DefinitionStore interface {
	// CreateDefinition assigns a reference and persists def.
	CreateDefinition(ctx context.Context, def session.Definition) (session.Definition, error)
	UpdateDefinition(ctx context.Context, def session.Definition) error
	GetDefinition(ctx context.Context, ref string) (session.Definition, error)
	// ListDefinitions returns every definition of a prison, or all when prison is empty.
	ListDefinitions(ctx context.Context, prison string) ([]session.Definition, error)
}

type OccurrenceStore interface {
	// GetOrCreateOccurrence returns the occurrence for (definition, date),
	// creating it on first use.
	GetOrCreateOccurrence(ctx context.Context, definitionRef string, date session.Date) (Occurrence, error)
	// FindOccurrence looks up without creating.
	FindOccurrence(ctx context.Context, definitionRef string, date session.Date) (Occurrence, bool, error)
}

type ReservationStore interface {
	CreateReservation(ctx context.Context, r Reservation) (Reservation, error)
	UpdateReservation(ctx context.Context, r Reservation) error
	GetReservation(ctx context.Context, ref string) (Reservation, error)
	// DeleteReservation reports whether a row was removed. Missing rows are not an error.
	DeleteReservation(ctx context.Context, ref string) (bool, error)
	ListReservations(ctx context.Context, f ReservationFilter) ([]Reservation, error)
}

type BookingStore interface {
	CreateBooking(ctx context.Context, b Booking) (Booking, error)
	UpdateBooking(ctx context.Context, b Booking) error
	GetBooking(ctx context.Context, ref string) (Booking, error)
	ListBookings(ctx context.Context, f BookingFilter) ([]Booking, error)
}

// PrisonerLookup resolves classification data for eligibility checks.
type PrisonerLookup interface {
	Prisoner(ctx context.Context, id string) (session.Prisoner, error)
}

type PrisonerStore interface {
	PrisonerLookup
	SavePrisoner(ctx context.Context, p session.Prisoner) error
}

// Store is everything the engine persists.
type Store interface {
	DefinitionStore
	OccurrenceStore
	ReservationStore
	BookingStore
	PrisonerStore
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// =============================================================================
// FILTERS - Zero values match everything
// =============================================================================

type ReservationFilter struct {
	DefinitionRef  string
	OccurrenceRef  string
	BookingRef     string
	Restriction    session.Restriction
	Status         ReservationStatus
	FromDate       *session.Date // Date >= FromDate
	ModifiedAfter  *time.Time    // strictly after
	ModifiedBefore *time.Time    // strictly before
	ExcludeRef     string
}

// Matches is the reference semantics every store implements.
func (f ReservationFilter) Matches(r Reservation) bool {
	switch {
	case f.DefinitionRef != "" && r.DefinitionRef != f.DefinitionRef:
		return false
	case f.OccurrenceRef != "" && r.OccurrenceRef != f.OccurrenceRef:
		return false
	case f.BookingRef != "" && r.BookingRef != f.BookingRef:
		return false
	case f.Restriction != "" && r.Restriction != f.Restriction:
		return false
	case f.Status != "" && r.Status != f.Status:
		return false
	case f.FromDate != nil && r.Date.Before(*f.FromDate):
		return false
	case f.ModifiedAfter != nil && !r.ModifiedAt.After(*f.ModifiedAfter):
		return false
	case f.ModifiedBefore != nil && !r.ModifiedAt.Before(*f.ModifiedBefore):
		return false
	case f.ExcludeRef != "" && r.Reference == f.ExcludeRef:
		return false
	}
	return true
}

type BookingFilter struct {
	DefinitionRef string
	OccurrenceRef string
	PrisonerID    string
	Prison        string
	Restriction   session.Restriction
	Status        BookingStatus
	FromDate      *session.Date
	ExcludeRef    string
}

func (f BookingFilter) Matches(b Booking) bool {
	switch {
	case f.DefinitionRef != "" && b.DefinitionRef != f.DefinitionRef:
		return false
	case f.OccurrenceRef != "" && b.OccurrenceRef != f.OccurrenceRef:
		return false
	case f.PrisonerID != "" && b.PrisonerID != f.PrisonerID:
		return false
	case f.Prison != "" && b.Prison != f.Prison:
		return false
	case f.Restriction != "" && b.Restriction != f.Restriction:
		return false
	case f.Status != "" && b.Status != f.Status:
		return false
	case f.FromDate != nil && b.Date.Before(*f.FromDate):
		return false
	case f.ExcludeRef != "" && b.Reference == f.ExcludeRef:
		return false
	}
	return true
}
