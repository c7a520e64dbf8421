package session_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/visit-scheduler/session"
)

// =============================================================================
// TEST FIXTURES
// =============================================================================

// monday is 2025-03-03.
var monday = session.NewDate(2025, time.March, 3)

func weeklyDefinition() session.Definition {
	return session.Definition{
		Reference:       "def-a",
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

func datePtr(d session.Date) *session.Date { return &d }

// =============================================================================
// RECURRENCE TESTS
// =============================================================================

func TestOccurrencesBetween_Weekly_ElevenDatesOverTenWeeks(t *testing.T) {
	// GIVEN: A weekly Monday session valid from the first day
	// WHEN: Enumerating 70 days
	// THEN: 11 Mondays, 7 days apart

	def := weeklyDefinition()
	dates := session.Occurrences(monday, monday.AddDays(70), def)

	require.Len(t, dates, 11)
	for i, d := range dates {
		assert.Equal(t, time.Monday, d.Weekday())
		if i > 0 {
			assert.Equal(t, 7, dates[i-1].DaysUntil(d))
		}
	}
}

func TestOccurrencesBetween_AlignsToWeekday(t *testing.T) {
	def := weeklyDefinition()
	def.DayOfWeek = time.Thursday

	dates := session.Occurrences(monday, monday.AddDays(13), def)

	require.Len(t, dates, 2)
	assert.Equal(t, "2025-03-06", dates[0].String())
	assert.Equal(t, "2025-03-13", dates[1].String())
}

func TestOccurrencesBetween_ClampedToValidity(t *testing.T) {
	def := weeklyDefinition()
	def.ValidFrom = monday.AddWeeks(2)
	def.ValidTo = datePtr(monday.AddWeeks(4))

	dates := session.Occurrences(monday, monday.AddWeeks(10), def)

	require.Len(t, dates, 3)
	assert.True(t, dates[0].Equal(monday.AddWeeks(2)))
	assert.True(t, dates[2].Equal(monday.AddWeeks(4)))
}

func TestOccurrencesBetween_EmptyWindow_NoDates(t *testing.T) {
	def := weeklyDefinition()

	// Tuesday to Saturday contains no Monday.
	dates := session.Occurrences(monday.AddDays(1), monday.AddDays(5), def)
	assert.Empty(t, dates)

	// Reversed window.
	dates = session.Occurrences(monday.AddDays(30), monday, def)
	assert.Empty(t, dates)
}

func TestOccurrencesBetween_Fortnightly_ShiftsOutOfSkipWeek(t *testing.T) {
	// GIVEN: A fortnightly session valid from monday
	// WHEN: The window starts in a skip week
	// THEN: The first date is the following week, then every 14 days

	def := weeklyDefinition()
	def.WeeklyFrequency = 2

	dates := session.Occurrences(monday.AddWeeks(1), monday.AddWeeks(7), def)

	require.Len(t, dates, 3)
	assert.True(t, dates[0].Equal(monday.AddWeeks(2)))
	assert.True(t, dates[1].Equal(monday.AddWeeks(4)))
	assert.True(t, dates[2].Equal(monday.AddWeeks(6)))
}

func TestOccurrencesBetween_ThreeWeekly_StaysInPhase(t *testing.T) {
	def := weeklyDefinition()
	def.WeeklyFrequency = 3

	dates := session.Occurrences(monday.AddWeeks(1), monday.AddWeeks(9), def)

	require.Len(t, dates, 3)
	for _, d := range dates {
		assert.False(t, session.IsSkipOccurrence(d, def.ValidFrom, 3), d.String())
	}
	assert.True(t, dates[0].Equal(monday.AddWeeks(3)))
}

func TestOccurrencesBetween_StopsWhenConsumerStops(t *testing.T) {
	def := weeklyDefinition()
	count := 0
	for range session.OccurrencesBetween(monday, monday.AddWeeks(52), def) {
		count++
		if count == 3 {
			break
		}
	}
	assert.Equal(t, 3, count)
}

func TestIsSkipOccurrence_Fortnightly(t *testing.T) {
	vf := monday
	assert.True(t, session.IsSkipOccurrence(vf.AddWeeks(1), vf, 2))
	assert.False(t, session.IsSkipOccurrence(vf.AddWeeks(2), vf, 2))
	assert.False(t, session.IsSkipOccurrence(vf, vf, 2))
	assert.False(t, session.IsSkipOccurrence(vf.AddWeeks(1), vf, 1), "weekly never skips")
}

func TestIsOccurrence(t *testing.T) {
	def := weeklyDefinition()
	def.WeeklyFrequency = 2

	assert.True(t, session.IsOccurrence(monday, def))
	assert.False(t, session.IsOccurrence(monday.AddWeeks(1), def), "skip week")
	assert.False(t, session.IsOccurrence(monday.AddDays(1), def), "wrong weekday")
	assert.False(t, session.IsOccurrence(monday.AddWeeks(-2), def), "before validity")
}

// =============================================================================
// ELIGIBILITY TESTS
// =============================================================================

func TestIsEligible_NoLocationGroups_AnyHousing(t *testing.T) {
	def := weeklyDefinition()

	assert.True(t, session.IsEligible(session.Prisoner{}, def))
	assert.True(t, session.IsEligible(session.Prisoner{Levels: [4]string{"A", "1", "001"}}, def))
}

func TestIsEligible_IncludeCategory(t *testing.T) {
	// GIVEN: A session restricted to category C
	// THEN: C passes, D fails, unknown fails

	def := weeklyDefinition()
	def.Categories = session.CategoryFacet{ValueFacet: session.IncludeValues("cat C", "C")}

	assert.True(t, session.IsEligible(session.Prisoner{Category: "C"}, def))
	assert.False(t, session.IsEligible(session.Prisoner{Category: "D"}, def))
	assert.False(t, session.IsEligible(session.Prisoner{}, def))
}

func TestIsEligible_ExcludeIncentive(t *testing.T) {
	def := weeklyDefinition()
	def.Incentives = session.IncentiveFacet{ValueFacet: session.ExcludeValues("no basic", "BAS")}

	assert.True(t, session.IsEligible(session.Prisoner{Incentive: "STD"}, def))
	assert.False(t, session.IsEligible(session.Prisoner{Incentive: "BAS"}, def))
	assert.False(t, session.IsEligible(session.Prisoner{}, def), "unknown never passes a restricted facet")
}

func TestIsEligible_CategoryUnionAcrossGroups(t *testing.T) {
	def := weeklyDefinition()
	def.Categories = session.CategoryFacet{ValueFacet: session.ValueFacet{Groups: []session.ValueGroup{
		{Name: "B", Values: []string{"B"}},
		{Name: "C", Values: []string{"C"}},
	}}}

	assert.True(t, session.IsEligible(session.Prisoner{Category: "B"}, def))
	assert.True(t, session.IsEligible(session.Prisoner{Category: "C"}, def))
	assert.False(t, session.IsEligible(session.Prisoner{Category: "D"}, def))
}

func TestIsEligible_LocationLevels(t *testing.T) {
	def := weeklyDefinition()
	def.Locations = session.IncludeLocations("wing A landing 1",
		session.NewPermittedLocation("A", "1"),
		session.NewPermittedLocation("C"),
	)

	tests := []struct {
		name   string
		levels [4]string
		want   bool
	}{
		{"exact two levels", [4]string{"A", "1", "", ""}, true},
		{"deeper housing under wildcard", [4]string{"A", "1", "003", "2"}, true},
		{"wrong landing", [4]string{"A", "2", "", ""}, false},
		{"second entry", [4]string{"C", "9", "", ""}, true},
		{"unknown housing", [4]string{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, session.IsEligible(session.Prisoner{Levels: tt.levels}, def))
		})
	}
}

func TestIsEligible_AllFacetsMustPass(t *testing.T) {
	def := weeklyDefinition()
	def.Locations = session.IncludeLocations("A", session.NewPermittedLocation("A"))
	def.Categories = session.CategoryFacet{ValueFacet: session.IncludeValues("C", "C")}

	assert.True(t, session.IsEligible(session.Prisoner{Category: "C", Levels: [4]string{"A"}}, def))
	assert.False(t, session.IsEligible(session.Prisoner{Category: "C", Levels: [4]string{"B"}}, def))
	assert.False(t, session.IsEligible(session.Prisoner{Category: "D", Levels: [4]string{"A"}}, def))
}

func TestLocationSpecificity(t *testing.T) {
	def := weeklyDefinition()
	assert.Equal(t, -1, session.LocationSpecificity(session.Prisoner{}, def), "no location facet")

	def.Locations = session.IncludeLocations("mixed",
		session.NewPermittedLocation("A"),
		session.NewPermittedLocation("A", "1", "002"),
	)
	p := session.Prisoner{Levels: [4]string{"A", "1", "002", ""}}
	assert.Equal(t, 3, session.LocationSpecificity(p, def))

	p.Levels = [4]string{"A", "2", "", ""}
	assert.Equal(t, 1, session.LocationSpecificity(p, def))

	p.Levels = [4]string{"B", "", "", ""}
	assert.Equal(t, -1, session.LocationSpecificity(p, def))

	def.Locations = session.IncludeLocations("not A", session.NewPermittedLocation("A"))
	def.Locations.Exclude = true
	assert.Equal(t, -1, session.LocationSpecificity(p, def), "exclusion lists grant no specificity")
}

// =============================================================================
// OVERLAP TESTS
// =============================================================================

func TestOverlaps_IdenticalUnrestricted(t *testing.T) {
	a := weeklyDefinition()
	b := weeklyDefinition()
	b.Reference = "def-b"

	assert.True(t, session.Overlaps(a, b))
}

func TestOverlaps_DisjointDateRanges(t *testing.T) {
	a := weeklyDefinition()
	a.ValidTo = datePtr(monday.AddWeeks(4))
	b := weeklyDefinition()
	b.ValidFrom = monday.AddWeeks(5)

	assert.False(t, session.Overlaps(a, b))
	assert.False(t, session.Overlaps(b, a))
}

func TestOverlaps_Conditions(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(b *session.Definition)
		want   bool
	}{
		{"different weekday", func(b *session.Definition) { b.DayOfWeek = time.Tuesday }, false},
		{"touching times", func(b *session.Definition) {
			b.Start = session.NewTimeOfDay(10, 0)
			b.End = session.NewTimeOfDay(11, 0)
		}, true},
		{"disjoint times", func(b *session.Definition) {
			b.Start = session.NewTimeOfDay(14, 0)
			b.End = session.NewTimeOfDay(15, 0)
		}, false},
		{"open ended ranges", func(b *session.Definition) { b.ValidFrom = monday.AddWeeks(100) }, true},
		{"weekly vs fortnightly always aligned", func(b *session.Definition) {
			b.WeeklyFrequency = 2
			b.ValidFrom = monday.AddWeeks(1)
		}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := weeklyDefinition()
			b := weeklyDefinition()
			b.Reference = "def-b"
			tt.mutate(&b)
			assert.Equal(t, tt.want, session.Overlaps(a, b))
		})
	}
}

func TestOverlaps_FortnightlyPhases(t *testing.T) {
	a := weeklyDefinition()
	a.WeeklyFrequency = 2
	b := weeklyDefinition()
	b.WeeklyFrequency = 2

	b.ValidFrom = monday.AddWeeks(1)
	assert.False(t, session.Overlaps(a, b), "alternate weeks never meet")

	b.ValidFrom = monday.AddWeeks(2)
	assert.True(t, session.Overlaps(a, b), "same phase")
}

func TestOverlaps_FortnightlyPhaseFromFirstOccurrence(t *testing.T) {
	// GIVEN: Two fortnightly Monday sessions
	// AND: The second becomes valid on the Sunday before week 1
	// WHEN: Checking overlap
	// THEN: Phase follows the first Monday each one runs, so they never meet

	a := weeklyDefinition()
	a.WeeklyFrequency = 2
	b := weeklyDefinition()
	b.WeeklyFrequency = 2
	b.ValidFrom = monday.AddWeeks(1).AddDays(-1)

	assert.False(t, session.Overlaps(a, b))
	assert.False(t, session.Overlaps(b, a))
	assert.True(t, b.FirstOccurrence().Equal(monday.AddWeeks(1)))
}

func TestOverlaps_EligibilityScopes(t *testing.T) {
	catC := session.CategoryFacet{ValueFacet: session.IncludeValues("C", "C")}
	catD := session.CategoryFacet{ValueFacet: session.IncludeValues("D", "D")}
	notC := session.CategoryFacet{ValueFacet: session.ExcludeValues("not C", "C")}

	a := weeklyDefinition()
	b := weeklyDefinition()
	b.Reference = "def-b"

	a.Categories, b.Categories = catC, catD
	assert.False(t, session.Overlaps(a, b), "disjoint category sets")

	a.Categories, b.Categories = catC, catC
	assert.True(t, session.Overlaps(a, b))

	a.Categories, b.Categories = catC, notC
	assert.False(t, session.Overlaps(a, b), "include C vs exclude C")

	a.Categories, b.Categories = catD, notC
	assert.True(t, session.Overlaps(a, b))

	a.Categories, b.Categories = catC, session.CategoryFacet{}
	assert.True(t, session.Overlaps(a, b), "one side open to all")
}

func TestOverlaps_LocationPartialLevels(t *testing.T) {
	a := weeklyDefinition()
	b := weeklyDefinition()
	b.Reference = "def-b"

	a.Locations = session.IncludeLocations("wing A", session.NewPermittedLocation("A"))
	b.Locations = session.IncludeLocations("A landing 2", session.NewPermittedLocation("A", "2"))
	assert.True(t, session.Overlaps(a, b))

	b.Locations = session.IncludeLocations("wing B", session.NewPermittedLocation("B", "2"))
	assert.False(t, session.Overlaps(a, b))
}

func TestConflicts_SkipsSelf(t *testing.T) {
	a := weeklyDefinition()
	b := weeklyDefinition()
	b.Reference = "def-b"
	c := weeklyDefinition()
	c.Reference = "def-c"
	c.DayOfWeek = time.Friday

	assert.Equal(t, []string{"def-b"}, session.Conflicts(a, []session.Definition{a, b, c}))
}

// =============================================================================
// VALUE TYPE TESTS
// =============================================================================

func TestDate_WeekdayAdjusters(t *testing.T) {
	wed := session.MustParseDate("2025-03-05")

	assert.Equal(t, "2025-03-10", wed.NextOrSame(time.Monday).String())
	assert.Equal(t, "2025-03-03", wed.PreviousOrSame(time.Monday).String())
	assert.Equal(t, "2025-03-05", wed.NextOrSame(time.Wednesday).String())
}

func TestTimeOfDay_Parse(t *testing.T) {
	tod, err := session.ParseTimeOfDay("13:45")
	require.NoError(t, err)
	assert.Equal(t, 13*60+45, tod.Minutes())
	assert.Equal(t, "13:45", tod.String())

	_, err = session.ParseTimeOfDay("25:00")
	assert.Error(t, err)
}

func TestParseWeekday(t *testing.T) {
	wd, err := session.ParseWeekday("MONDAY")
	require.NoError(t, err)
	assert.Equal(t, time.Monday, wd)

	_, err = session.ParseWeekday("Funday")
	assert.Error(t, err)
}
