/*
Package booking implements the capacity and reservation engine.

PURPOSE:
  Turns session definitions into bookable occurrences and guards their
  capacity. A visit is first held as a Reservation, then completed into a
  Booking. Holds that are never completed are swept after HoldTTL.

STATE MACHINE:

    Reserve ──▶ [held] ──Complete──▶ [completed] ──▶ Booking [booked]
                  │                                      │
                  ├──Change (held only)                  ├──Reserve(BookingRef) re-opens
                  ├──Cancel ──▶ deleted                  └──Cancel ──▶ [cancelled]
                  └──ExpireStaleHolds ──▶ deleted

CAPACITY RULE:
  For an (occurrence, restriction) pair:

    used      = live held reservations + booked visits
    remaining = capacity[restriction] - used

  A live hold is one modified within HoldTTL. A hold that re-opens a booking
  on the same slot shares that booking's unit. Reserve and Change fail with
  session.CapacityExceededError when remaining < 1, unless overbooking was
  explicitly requested.

KEY CONCEPTS IN THIS FILE (types.go):
  - Occurrence: one dated instance of a definition
  - Reservation: a capacity hold
  - Booking: a confirmed visit
  - Visitor / Contact: who is coming and how to reach them

OTHER FILES:
  - store.go:       persistence contracts (Store, TxStore, filters)
  - engine.go:      Reserve / Change / Complete / Cancel
  - expiry.go:      stale hold sweep
  - flagging.go:    eligibility re-validation sweep
  - availability.go: bookable sessions for a prisoner
  - definitions.go: definition administration with overlap checks
  - migrate.go:     import of legacy visits through the migration matcher
  - notify.go:      notification hook contract
  - validation.go:  request validation
*/
package booking

import (
	"time"

	"github.com/warp/visit-scheduler/session"
)

// =============================================================================
// OCCURRENCE
// =============================================================================

// Occurrence is unique per (definition, date) and created by the first
// reservation against that date.
type Occurrence struct {
	Reference     string
	DefinitionRef string
	Date          session.Date
}

// =============================================================================
// VISITORS
// =============================================================================

type Visitor struct {
	PersonID     int64  `json:"nomisPersonId" validate:"required,gt=0"`
	Name         string `json:"name,omitempty" validate:"max=200"`
	VisitContact bool   `json:"visitContact,omitempty"`
}

type Contact struct {
	Name      string `json:"name" validate:"required,max=100"`
	Telephone string `json:"telephone,omitempty" validate:"omitempty,max=30"`
	Email     string `json:"email,omitempty" validate:"omitempty,email"`
}

// =============================================================================
// RESERVATION - Capacity hold
// =============================================================================

type ReservationStatus string

const (
	ReservationHeld      ReservationStatus = "held"
	ReservationCompleted ReservationStatus = "completed"
)

type Reservation struct {
	Reference     string
	BookingRef    string // set when the hold re-opens an existing booking
	PrisonerID    string
	Prison        string
	DefinitionRef string
	OccurrenceRef string
	Date          session.Date
	Restriction   session.Restriction

	Visitors []Visitor
	Contact  *Contact
	Support  string

	Status     ReservationStatus
	CreatedAt  time.Time
	ModifiedAt time.Time
}

// Live reports whether a held reservation still counts against capacity.
func (r Reservation) Live(now time.Time, ttl time.Duration) bool {
	return r.Status == ReservationHeld && r.ModifiedAt.After(now.Add(-ttl))
}

// =============================================================================
// BOOKING - Confirmed visit
// =============================================================================

type BookingStatus string

const (
	BookingBooked    BookingStatus = "booked"
	BookingCancelled BookingStatus = "cancelled"
)

type Booking struct {
	Reference     string
	PrisonerID    string
	Prison        string
	DefinitionRef string
	OccurrenceRef string
	Date          session.Date
	Restriction   session.Restriction

	Visitors []Visitor
	Contact  *Contact
	Support  string

	Status BookingStatus
	// CurrentReservationRef is the completed reservation that produced the
	// booking's current state. Migrated visits get a synthetic one on import.
	CurrentReservationRef string

	Flagged    bool
	FlagReason string
	Migrated   bool

	CreatedAt  time.Time
	ModifiedAt time.Time
}

// =============================================================================
// SWEEP RESULT
// =============================================================================

// SweepResult summarises a background sweep. Records are processed
// independently; a failure on one never stops the rest.
type SweepResult struct {
	Processed int `json:"processed"`
	Affected  int `json:"affected"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}
