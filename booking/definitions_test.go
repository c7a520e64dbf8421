package booking_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/visit-scheduler/booking"
	"github.com/warp/visit-scheduler/migration"
	"github.com/warp/visit-scheduler/session"
)

func newDefinition() session.Definition {
	return session.Definition{
		Name:            "Monday morning",
		Prison:          "HEI",
		DayOfWeek:       time.Monday,
		Start:           session.NewTimeOfDay(9, 0),
		End:             session.NewTimeOfDay(10, 0),
		ValidFrom:       monday,
		WeeklyFrequency: 1,
		OpenCapacity:    10,
		ClosedCapacity:  2,
	}
}

func intPtr(i int) *int { return &i }

// =============================================================================
// CREATE
// =============================================================================

func TestCreateDefinition_AssignsReference(t *testing.T) {
	f := newFixture(t)

	def, err := f.engine.CreateDefinition(f.ctx, newDefinition(), false)

	require.NoError(t, err)
	assert.NotEmpty(t, def.Reference)
	got, err := f.engine.GetDefinition(f.ctx, def.Reference)
	require.NoError(t, err)
	assert.Equal(t, def, got)
}

func TestCreateDefinition_Overlap(t *testing.T) {
	// GIVEN: An existing Monday 09:00-10:00 session
	// WHEN: Creating an identical one
	// THEN: SchedulingConflictError naming it, unless overridden

	f := newFixture(t)
	existing, err := f.engine.CreateDefinition(f.ctx, newDefinition(), false)
	require.NoError(t, err)

	_, err = f.engine.CreateDefinition(f.ctx, newDefinition(), false)

	var conflict *session.SchedulingConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, []string{existing.Reference}, conflict.Conflicts)

	_, err = f.engine.CreateDefinition(f.ctx, newDefinition(), true)
	assert.NoError(t, err)
}

func TestCreateDefinition_OtherPrison_NoOverlap(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.CreateDefinition(f.ctx, newDefinition(), false)
	require.NoError(t, err)

	other := newDefinition()
	other.Prison = "MDI"
	_, err = f.engine.CreateDefinition(f.ctx, other, false)

	assert.NoError(t, err)
}

func TestValidateDefinition(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*session.Definition)
		field  string
	}{
		{"missing prison", func(d *session.Definition) { d.Prison = "" }, "prisonId"},
		{"end before start", func(d *session.Definition) { d.End = d.Start }, "endTime"},
		{"valid to before from", func(d *session.Definition) { to := monday.AddDays(-1); d.ValidTo = &to }, "validToDate"},
		{"negative capacity", func(d *session.Definition) { d.OpenCapacity = -1 }, "openCapacity"},
		{"zero frequency", func(d *session.Definition) { d.WeeklyFrequency = 0 }, "weeklyFrequency"},
		{"location without level one", func(d *session.Definition) {
			d.Locations = session.IncludeLocations("bad", session.NewPermittedLocation("", "1"))
		}, "locationGroups[0].locations[0]"},
		{"empty category group", func(d *session.Definition) {
			d.Categories = session.CategoryFacet{ValueFacet: session.IncludeValues("none")}
		}, "categoryGroups[0]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := newDefinition()
			tt.mutate(&def)

			err := booking.ValidateDefinition(def)

			var ve *session.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Contains(t, ve.Fields, tt.field)
		})
	}

	assert.NoError(t, booking.ValidateDefinition(newDefinition()))
}

// =============================================================================
// UPDATE
// =============================================================================

func TestUpdateDefinition_NoBookings_ScheduleEditable(t *testing.T) {
	f := newFixture(t)
	def, err := f.engine.CreateDefinition(f.ctx, newDefinition(), false)
	require.NoError(t, err)

	start := session.NewTimeOfDay(13, 0)
	end := session.NewTimeOfDay(14, 30)
	updated, err := f.engine.UpdateDefinition(f.ctx, def.Reference, booking.DefinitionUpdate{Start: &start, End: &end}, false)

	require.NoError(t, err)
	assert.Equal(t, start, updated.Start)
	got, err := f.engine.GetDefinition(f.ctx, def.Reference)
	require.NoError(t, err)
	assert.Equal(t, end, got.End)
}

func TestUpdateDefinition_WithBookings_ScheduleFrozen(t *testing.T) {
	// GIVEN: A session with a future booking
	// WHEN: Moving its start time
	// THEN: ValidationError on startTime; the definition is unchanged

	f := newFixture(t)
	def := f.definition()
	f.book("A1234BC", def.Reference)

	start := session.NewTimeOfDay(9, 30)
	_, err := f.engine.UpdateDefinition(f.ctx, def.Reference, booking.DefinitionUpdate{Start: &start}, false)

	var ve *session.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Fields, "startTime")
	got, err := f.engine.GetDefinition(f.ctx, def.Reference)
	require.NoError(t, err)
	assert.Equal(t, def.Start, got.Start)
}

func TestUpdateDefinition_WithBookings_CapacityFloor(t *testing.T) {
	f := newFixture(t)
	def := f.definition(func(d *session.Definition) { d.OpenCapacity = 3 })
	f.book("A1234BC", def.Reference)
	f.book("B2345CD", def.Reference)

	_, err := f.engine.UpdateDefinition(f.ctx, def.Reference, booking.DefinitionUpdate{OpenCapacity: intPtr(1)}, false)
	var ve *session.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Fields, "openCapacity")

	updated, err := f.engine.UpdateDefinition(f.ctx, def.Reference, booking.DefinitionUpdate{OpenCapacity: intPtr(2)}, false)
	require.NoError(t, err)
	assert.Equal(t, 2, updated.OpenCapacity)
}

func TestUpdateDefinition_WithBookings_EligibilityEditable(t *testing.T) {
	f := newFixture(t)
	def := f.definition()
	f.book("A1234BC", def.Reference)

	cats := session.CategoryFacet{ValueFacet: session.IncludeValues("Cat C", "C")}
	name := "Cat C only"
	updated, err := f.engine.UpdateDefinition(f.ctx, def.Reference, booking.DefinitionUpdate{Categories: &cats, Name: &name}, false)

	require.NoError(t, err)
	assert.Equal(t, name, updated.Name)
	assert.False(t, updated.Categories.Unrestricted())
}

func TestUpdateDefinition_OverlapExcludesItself(t *testing.T) {
	f := newFixture(t)
	a, err := f.engine.CreateDefinition(f.ctx, newDefinition(), false)
	require.NoError(t, err)
	later := newDefinition()
	later.Start, later.End = session.NewTimeOfDay(14, 0), session.NewTimeOfDay(15, 0)
	b, err := f.engine.CreateDefinition(f.ctx, later, false)
	require.NoError(t, err)

	_, err = f.engine.UpdateDefinition(f.ctx, a.Reference, booking.DefinitionUpdate{OpenCapacity: intPtr(12)}, false)
	require.NoError(t, err, "no conflict with itself")

	start := session.NewTimeOfDay(9, 30)
	_, err = f.engine.UpdateDefinition(f.ctx, b.Reference, booking.DefinitionUpdate{Start: &start}, false)
	var conflict *session.SchedulingConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, []string{a.Reference}, conflict.Conflicts)
}

func TestUpdateDefinition_Unknown(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.UpdateDefinition(f.ctx, "zz-zz-zz-zz", booking.DefinitionUpdate{}, false)

	assert.True(t, session.IsNotFound(err))
}

// =============================================================================
// MIGRATED VISITS
// =============================================================================

func TestImportMigratedVisit(t *testing.T) {
	// GIVEN: A full 09:00-10:00 session
	// WHEN: Importing a legacy 09:05-10:05 visit on the same date
	// THEN: A migrated booking is created without a capacity check

	f := newFixture(t)
	def := f.definition()
	f.book("A1234BC", def.Reference)

	b, err := f.engine.ImportMigratedVisit(f.ctx, booking.MigrateRequest{
		Visit: migration.LegacyVisit{
			Prisoner: session.Prisoner{ID: "B2345CD", Prison: "HEI"},
			Prison:   "HEI",
			Date:     visitDate,
			Start:    session.NewTimeOfDay(9, 5),
			End:      session.NewTimeOfDay(10, 5),
		},
		Restriction: session.RestrictionOpen,
		Visitors:    []booking.Visitor{{PersonID: 1}},
	})

	require.NoError(t, err)
	assert.True(t, b.Migrated)
	assert.Equal(t, def.Reference, b.DefinitionRef)
	assert.Equal(t, booking.BookingBooked, b.Status)
	require.NotEmpty(t, b.CurrentReservationRef)

	r, err := f.engine.GetReservation(f.ctx, b.CurrentReservationRef)
	require.NoError(t, err)
	assert.Equal(t, booking.ReservationCompleted, r.Status)
	assert.Equal(t, b.Reference, r.BookingRef)
	assert.Equal(t, b.OccurrenceRef, r.OccurrenceRef)

	stored, err := f.engine.GetBooking(f.ctx, b.Reference)
	require.NoError(t, err)
	assert.Equal(t, r.Reference, stored.CurrentReservationRef)
}

func TestImportMigratedVisit_NoMatch(t *testing.T) {
	f := newFixture(t)
	f.definition()

	_, err := f.engine.ImportMigratedVisit(f.ctx, booking.MigrateRequest{
		Visit: migration.LegacyVisit{
			Prisoner: session.Prisoner{ID: "B2345CD"},
			Prison:   "HEI",
			Date:     visitDate,
			Start:    session.NewTimeOfDay(15, 0),
			End:      session.NewTimeOfDay(16, 0),
		},
		Restriction: session.RestrictionOpen,
	})

	assert.True(t, errors.Is(err, session.ErrMigrationMatch))
}

func TestMatchMigratedVisit_DryRun(t *testing.T) {
	f := newFixture(t)
	near := f.definition()
	f.definition(func(d *session.Definition) {
		d.Start, d.End = session.NewTimeOfDay(10, 0), session.NewTimeOfDay(11, 0)
	})
	visit := migration.LegacyVisit{
		Prisoner: session.Prisoner{ID: "B2345CD"},
		Prison:   "HEI",
		Date:     visitDate,
		Start:    session.NewTimeOfDay(9, 5),
		End:      session.NewTimeOfDay(10, 5),
	}

	best, ranked, err := f.engine.MatchMigratedVisit(f.ctx, visit)

	require.NoError(t, err)
	assert.Equal(t, near.Reference, best.Reference)
	require.Len(t, ranked, 2)
	assert.Equal(t, 10, ranked[0].Proximity)
	assert.Equal(t, 110, ranked[1].Proximity)
	list, err := f.engine.ListBookings(f.ctx, booking.BookingFilter{})
	require.NoError(t, err)
	assert.Empty(t, list, "dry run writes nothing")
}
