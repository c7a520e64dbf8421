package sqlite_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/visit-scheduler/booking"
	"github.com/warp/visit-scheduler/reference"
	"github.com/warp/visit-scheduler/session"
	"github.com/warp/visit-scheduler/store/sqlite"
)

// Monday 2025-03-03, 10:00 UTC.
var now = time.Date(2025, time.March, 3, 10, 0, 0, 0, time.UTC)

var visitDate = session.DateOf(now).AddWeeks(1)

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.New(":memory:", reference.MustNew("test", reference.DefaultMinLength))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newEngine(s booking.TxStore) *booking.Engine {
	return booking.NewEngine(s, nil, booking.DefaultPolicy(),
		booking.WithClock(func() time.Time { return now }),
		booking.WithLogger(zerolog.Nop()),
	)
}

func definition() session.Definition {
	to := visitDate.AddWeeks(10)
	return session.Definition{
		Name:            "Monday morning",
		Prison:          "HEI",
		VisitRoom:       "Main Hall",
		DayOfWeek:       time.Monday,
		Start:           session.NewTimeOfDay(9, 0),
		End:             session.NewTimeOfDay(10, 0),
		ValidFrom:       session.DateOf(now),
		ValidTo:         &to,
		WeeklyFrequency: 1,
		OpenCapacity:    1,
		ClosedCapacity:  1,
		Locations:       session.IncludeLocations("Wing A", session.NewPermittedLocation("A", "1")),
		Categories:      session.CategoryFacet{ValueFacet: session.IncludeValues("Cat C", "C")},
	}
}

func reserveRequest(prisoner, defRef string) booking.ReserveRequest {
	return booking.ReserveRequest{
		PrisonerID:    prisoner,
		DefinitionRef: defRef,
		Date:          visitDate,
		Restriction:   session.RestrictionOpen,
		Visitors:      []booking.Visitor{{PersonID: 4729510, Name: "Jane Smith", VisitContact: true}},
		Contact:       &booking.Contact{Name: "Jane Smith", Telephone: "01234 567890"},
		Support:       "wheelchair access",
	}
}

// =============================================================================
// DEFINITIONS
// =============================================================================

func TestDefinition_RoundTrip(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	created, err := s.CreateDefinition(ctx, definition())
	require.NoError(t, err)
	require.NotEmpty(t, created.Reference)

	got, err := s.GetDefinition(ctx, created.Reference)
	require.NoError(t, err)
	assert.Equal(t, created.Name, got.Name)
	assert.Equal(t, created.Start, got.Start)
	assert.True(t, got.ValidFrom.Equal(created.ValidFrom))
	require.NotNil(t, got.ValidTo)
	assert.True(t, got.ValidTo.Equal(*created.ValidTo))
	assert.Equal(t, created.Locations, got.Locations)
	assert.Equal(t, created.Categories, got.Categories)

	got.OpenCapacity = 20
	require.NoError(t, s.UpdateDefinition(ctx, got))
	again, err := s.GetDefinition(ctx, created.Reference)
	require.NoError(t, err)
	assert.Equal(t, 20, again.OpenCapacity)
}

func TestDefinition_NotFound(t *testing.T) {
	s := newStore(t)

	_, err := s.GetDefinition(context.Background(), "not-a-ref")

	assert.True(t, session.IsNotFound(err))
}

func TestListDefinitions_ByPrison(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	_, err := s.CreateDefinition(ctx, definition())
	require.NoError(t, err)
	other := definition()
	other.Prison = "MDI"
	_, err = s.CreateDefinition(ctx, other)
	require.NoError(t, err)

	hei, err := s.ListDefinitions(ctx, "HEI")
	require.NoError(t, err)
	all, err := s.ListDefinitions(ctx, "")
	require.NoError(t, err)

	assert.Len(t, hei, 1)
	assert.Len(t, all, 2)
}

// =============================================================================
// OCCURRENCES
// =============================================================================

func TestGetOrCreateOccurrence_Idempotent(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	def, err := s.CreateDefinition(ctx, definition())
	require.NoError(t, err)

	_, found, err := s.FindOccurrence(ctx, def.Reference, visitDate)
	require.NoError(t, err)
	assert.False(t, found)

	first, err := s.GetOrCreateOccurrence(ctx, def.Reference, visitDate)
	require.NoError(t, err)
	second, err := s.GetOrCreateOccurrence(ctx, def.Reference, visitDate)
	require.NoError(t, err)

	assert.Equal(t, first.Reference, second.Reference)
}

func TestFindOccurrence_UnknownDefinition(t *testing.T) {
	s := newStore(t)
	enc := reference.MustNew("test", reference.DefaultMinLength)

	_, _, err := s.FindOccurrence(context.Background(), enc.Encode(reference.KindDefinition, 99), visitDate)

	assert.True(t, session.IsNotFound(err))
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func TestWithTx_RollsBackOnError(t *testing.T) {
	// GIVEN: A transaction that creates an occurrence and then fails
	// WHEN: WithTx returns
	// THEN: The occurrence does not exist

	s := newStore(t)
	ctx := context.Background()
	def, err := s.CreateDefinition(ctx, definition())
	require.NoError(t, err)

	boom := errors.New("boom")
	err = s.WithTx(ctx, func(tx booking.Store) error {
		if _, err := tx.GetOrCreateOccurrence(ctx, def.Reference, visitDate); err != nil {
			return err
		}
		return boom
	})

	assert.ErrorIs(t, err, boom)
	_, found, err := s.FindOccurrence(ctx, def.Reference, visitDate)
	require.NoError(t, err)
	assert.False(t, found)
}

// =============================================================================
// RESERVATIONS AND BOOKINGS (through the engine)
// =============================================================================

func TestEngine_ReserveCompleteCancel(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	engine := newEngine(s)
	def, err := s.CreateDefinition(ctx, definition())
	require.NoError(t, err)

	held, err := engine.Reserve(ctx, reserveRequest("A1234BC", def.Reference))
	require.NoError(t, err)
	got, err := s.GetReservation(ctx, held.Reference)
	require.NoError(t, err)
	assert.Equal(t, booking.ReservationHeld, got.Status)
	assert.Equal(t, "wheelchair access", got.Support)
	require.NotNil(t, got.Contact)
	assert.Equal(t, "01234 567890", got.Contact.Telephone)
	assert.Equal(t, held.Visitors, got.Visitors)
	assert.True(t, got.ModifiedAt.Equal(now))

	b, err := engine.Complete(ctx, held.Reference)
	require.NoError(t, err)
	stored, err := s.GetBooking(ctx, b.Reference)
	require.NoError(t, err)
	assert.Equal(t, booking.BookingBooked, stored.Status)
	assert.Equal(t, held.Reference, stored.CurrentReservationRef)

	completed, err := s.GetReservation(ctx, held.Reference)
	require.NoError(t, err)
	assert.Equal(t, booking.ReservationCompleted, completed.Status)
	assert.Equal(t, b.Reference, completed.BookingRef)

	_, err = engine.Reserve(ctx, reserveRequest("B2345CD", def.Reference))
	assert.ErrorIs(t, err, session.ErrCapacityExceeded)

	err = engine.Cancel(ctx, b.Reference)
	require.NoError(t, err)
	_, err = engine.Reserve(ctx, reserveRequest("B2345CD", def.Reference))
	assert.NoError(t, err, "cancelled booking frees its unit")
}

func TestEngine_ConcurrentReserve_CapacityOne(t *testing.T) {
	dir := t.TempDir()
	s, err := sqlite.New(filepath.Join(dir, "visits.db"), reference.MustNew("test", reference.DefaultMinLength))
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	engine := newEngine(s)
	def, err := s.CreateDefinition(ctx, definition())
	require.NoError(t, err)

	prisoners := []string{"A1234BC", "B2345CD", "C3456DE", "D4567EF"}
	errs := make([]error, len(prisoners))
	var wg sync.WaitGroup
	for i, p := range prisoners {
		wg.Add(1)
		go func(i int, p string) {
			defer wg.Done()
			_, errs[i] = engine.Reserve(ctx, reserveRequest(p, def.Reference))
		}(i, p)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, session.ErrCapacityExceeded)
	}
	assert.Equal(t, 1, succeeded)
}

func TestListReservations_Filters(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	engine := newEngine(s)
	def, err := s.CreateDefinition(ctx, definition())
	require.NoError(t, err)
	def.OpenCapacity = 5
	require.NoError(t, s.UpdateDefinition(ctx, def))

	a, err := engine.Reserve(ctx, reserveRequest("A1234BC", def.Reference))
	require.NoError(t, err)
	_, err = engine.Reserve(ctx, reserveRequest("B2345CD", def.Reference))
	require.NoError(t, err)

	held, err := s.ListReservations(ctx, booking.ReservationFilter{
		DefinitionRef: def.Reference,
		Status:        booking.ReservationHeld,
		ExcludeRef:    a.Reference,
	})
	require.NoError(t, err)
	require.Len(t, held, 1)
	assert.Equal(t, "B2345CD", held[0].PrisonerID)

	before := now
	stale, err := s.ListReservations(ctx, booking.ReservationFilter{ModifiedBefore: &before})
	require.NoError(t, err)
	assert.Empty(t, stale, "ModifiedBefore is strict")

	none, err := s.ListReservations(ctx, booking.ReservationFilter{DefinitionRef: "garbage"})
	require.NoError(t, err)
	assert.Empty(t, none)

	removed, err := s.DeleteReservation(ctx, a.Reference)
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = s.DeleteReservation(ctx, a.Reference)
	require.NoError(t, err)
	assert.False(t, removed)
}

// =============================================================================
// PRISONERS
// =============================================================================

func TestSavePrisoner_Upsert(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.SavePrisoner(ctx, session.Prisoner{ID: "A1234BC", Prison: "HEI", Category: "C"}))
	require.NoError(t, s.SavePrisoner(ctx, session.Prisoner{
		ID: "A1234BC", Prison: "HEI", Category: "D", Levels: [4]string{"A", "1", "", ""},
	}))

	p, err := s.Prisoner(ctx, "A1234BC")
	require.NoError(t, err)
	assert.Equal(t, "D", p.Category)
	assert.Equal(t, [4]string{"A", "1", "", ""}, p.Levels)

	_, err = s.Prisoner(ctx, "Z9999ZZ")
	assert.True(t, session.IsNotFound(err))
}
