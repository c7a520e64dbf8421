/*
Package session provides the scheduling core for prison social visits.

PURPOSE:
  Session definitions describe a recurring bookable time slot: a prison, a
  day of the week, a time-of-day window, a validity date range, a weekly
  cadence, open/closed capacities and three eligibility facets. Everything
  in this package is a pure function of its inputs: no storage, no clocks.

KEY CONCEPTS IN THIS FILE (types.go):
  - Definition: the recurring session template
  - PermittedLocation: a 1-4 level housing hierarchy pattern
  - LocationFacet / ValueFacet: include-or-exclude scoped eligibility groups
  - Prisoner: the classification data eligibility is evaluated against

OTHER FILES:
  - time.go:        Date and TimeOfDay value types
  - recurrence.go:  Recurrence Calculator (occurrence dates, skip weeks)
  - eligibility.go: Eligibility Matcher (facets, location specificity)
  - overlap.go:     Overlap Detector used on definition create/update
  - errors.go:      Error taxonomy shared by every package

SEE ALSO:
  - booking/engine.go: capacity and reservation state machine
  - migration/matcher.go: best-match scoring for legacy visits
*/
package session

import "time"

// =============================================================================
// DEFINITION - Recurring session template
// =============================================================================

type Definition struct {
	Reference string
	Name      string
	Prison    string
	VisitRoom string

	DayOfWeek time.Weekday
	Start     TimeOfDay
	End       TimeOfDay

	ValidFrom Date
	ValidTo   *Date // nil = open ended

	// WeeklyFrequency repeats the session every N weeks, counted from ValidFrom.
	WeeklyFrequency int

	OpenCapacity   int
	ClosedCapacity int

	Locations  LocationFacet
	Categories CategoryFacet
	Incentives IncentiveFacet
}

// Frequency returns the weekly frequency, treating unset as weekly.
func (d Definition) Frequency() int {
	if d.WeeklyFrequency < 1 {
		return 1
	}
	return d.WeeklyFrequency
}

// FirstOccurrence is the first date on or after ValidFrom falling on DayOfWeek.
func (d Definition) FirstOccurrence() Date {
	return d.ValidFrom.NextOrSame(d.DayOfWeek)
}

// ValidOn reports whether date lies inside the validity range.
func (d Definition) ValidOn(date Date) bool {
	if date.Before(d.ValidFrom) {
		return false
	}
	return d.ValidTo == nil || date.BeforeOrEqual(*d.ValidTo)
}

// Capacity returns the capacity for a restriction.
func (d Definition) Capacity(r Restriction) int {
	if r == RestrictionClosed {
		return d.ClosedCapacity
	}
	return d.OpenCapacity
}

// =============================================================================
// RESTRICTION - OPEN or CLOSED visit, each with its own capacity counter
// =============================================================================

type Restriction string

const (
	RestrictionOpen   Restriction = "OPEN"
	RestrictionClosed Restriction = "CLOSED"
)

func (r Restriction) Valid() bool {
	return r == RestrictionOpen || r == RestrictionClosed
}

// =============================================================================
// ELIGIBILITY FACETS
// =============================================================================

// PermittedLocation is a housing pattern. Level 1 is mandatory; an empty
// string at levels 2-4 matches any value.
type PermittedLocation struct {
	Levels [4]string
}

func NewPermittedLocation(levels ...string) PermittedLocation {
	var pl PermittedLocation
	copy(pl.Levels[:], levels)
	return pl
}

// Specificity is the number of set levels.
func (pl PermittedLocation) Specificity() int {
	n := 0
	for _, l := range pl.Levels {
		if l != "" {
			n++
		}
	}
	return n
}

type LocationGroup struct {
	Reference string
	Name      string
	Locations []PermittedLocation
}

type ValueGroup struct {
	Reference string
	Name      string
	Values    []string
}

// LocationFacet restricts a session by prisoner housing.
type LocationFacet struct {
	Exclude bool
	Groups  []LocationGroup
}

// ValueFacet is the shared shape of the classification-code facets.
type ValueFacet struct {
	Exclude bool
	Groups  []ValueGroup
}

// CategoryFacet restricts a session by prisoner security category.
type CategoryFacet struct{ ValueFacet }

// IncentiveFacet restricts a session by prisoner incentive level.
type IncentiveFacet struct{ ValueFacet }

// IncludeValues builds an include-scoped facet with a single group.
func IncludeValues(name string, values ...string) ValueFacet {
	return ValueFacet{Groups: []ValueGroup{{Name: name, Values: values}}}
}

// ExcludeValues builds an exclude-scoped facet with a single group.
func ExcludeValues(name string, values ...string) ValueFacet {
	return ValueFacet{Exclude: true, Groups: []ValueGroup{{Name: name, Values: values}}}
}

// IncludeLocations builds an include-scoped location facet with a single group.
func IncludeLocations(name string, locations ...PermittedLocation) LocationFacet {
	return LocationFacet{Groups: []LocationGroup{{Name: name, Locations: locations}}}
}

type FacetKind string

const (
	FacetLocation  FacetKind = "location"
	FacetCategory  FacetKind = "category"
	FacetIncentive FacetKind = "incentive"
)

// =============================================================================
// PRISONER - Classification data for eligibility checks
// =============================================================================

// Prisoner carries the classification a session is matched against.
// Empty strings mean the value is unknown.
type Prisoner struct {
	ID        string
	Prison    string
	Category  string
	Incentive string
	Levels    [4]string
}
