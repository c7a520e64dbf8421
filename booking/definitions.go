package booking

import (
	"context"
	"fmt"
	"time"

	"github.com/warp/visit-scheduler/session"
)

// =============================================================================
// DEFINITION ADMINISTRATION
// =============================================================================
//
// Definitions are never deleted; retire one by setting ValidTo. Create and
// update run the overlap detector against the prison's other definitions and
// fail with session.SchedulingConflictError unless the administrator
// overrides.

// CreateDefinition validates and stores a new definition.
func (e *Engine) CreateDefinition(ctx context.Context, def session.Definition, override bool) (session.Definition, error) {
	def.Reference = ""
	if def.WeeklyFrequency == 0 {
		def.WeeklyFrequency = 1
	}
	if err := ValidateDefinition(def); err != nil {
		return session.Definition{}, err
	}

	var (
		out       session.Definition
		conflicts []string
	)
	err := e.store.WithTx(ctx, func(s Store) error {
		others, err := s.ListDefinitions(ctx, def.Prison)
		if err != nil {
			return err
		}
		conflicts = session.Conflicts(def, others)
		if len(conflicts) > 0 && !override {
			return &session.SchedulingConflictError{Conflicts: conflicts}
		}
		out, err = s.CreateDefinition(ctx, def)
		return err
	})
	if err != nil {
		return session.Definition{}, err
	}

	evt := e.log.Info()
	if len(conflicts) > 0 {
		evt = e.log.Warn().Strs("overlaps", conflicts)
	}
	evt.Str("session", out.Reference).Str("prison", out.Prison).Msg("session definition created")
	return out, nil
}

// DefinitionUpdate holds optional replacements. Nil fields are unchanged.
type DefinitionUpdate struct {
	Name            *string
	VisitRoom       *string
	DayOfWeek       *time.Weekday
	Start           *session.TimeOfDay
	End             *session.TimeOfDay
	ValidFrom       *session.Date
	ValidTo         *session.Date
	ClearValidTo    bool
	WeeklyFrequency *int
	OpenCapacity    *int
	ClosedCapacity  *int
	Locations       *session.LocationFacet
	Categories      *session.CategoryFacet
	Incentives      *session.IncentiveFacet
}

// apply returns the updated definition and the schedule fields that changed.
func (u DefinitionUpdate) apply(def session.Definition) (session.Definition, []string) {
	var schedule []string
	if u.Name != nil {
		def.Name = *u.Name
	}
	if u.VisitRoom != nil {
		def.VisitRoom = *u.VisitRoom
	}
	if u.DayOfWeek != nil && *u.DayOfWeek != def.DayOfWeek {
		def.DayOfWeek = *u.DayOfWeek
		schedule = append(schedule, "dayOfWeek")
	}
	if u.Start != nil && *u.Start != def.Start {
		def.Start = *u.Start
		schedule = append(schedule, "startTime")
	}
	if u.End != nil && *u.End != def.End {
		def.End = *u.End
		schedule = append(schedule, "endTime")
	}
	if u.ValidFrom != nil && !u.ValidFrom.Equal(def.ValidFrom) {
		def.ValidFrom = *u.ValidFrom
		schedule = append(schedule, "validFromDate")
	}
	switch {
	case u.ClearValidTo && def.ValidTo != nil:
		def.ValidTo = nil
		schedule = append(schedule, "validToDate")
	case u.ValidTo != nil && (def.ValidTo == nil || !u.ValidTo.Equal(*def.ValidTo)):
		to := *u.ValidTo
		def.ValidTo = &to
		schedule = append(schedule, "validToDate")
	}
	if u.WeeklyFrequency != nil && *u.WeeklyFrequency != def.WeeklyFrequency {
		def.WeeklyFrequency = *u.WeeklyFrequency
		schedule = append(schedule, "weeklyFrequency")
	}
	if u.OpenCapacity != nil {
		def.OpenCapacity = *u.OpenCapacity
	}
	if u.ClosedCapacity != nil {
		def.ClosedCapacity = *u.ClosedCapacity
	}
	if u.Locations != nil {
		def.Locations = *u.Locations
	}
	if u.Categories != nil {
		def.Categories = *u.Categories
	}
	if u.Incentives != nil {
		def.Incentives = *u.Incentives
	}
	return def, schedule
}

// UpdateDefinition applies a partial update. While the definition has live
// bookings dated today or later, its schedule is frozen and capacities may
// not drop below the busiest future occurrence.
func (e *Engine) UpdateDefinition(ctx context.Context, ref string, u DefinitionUpdate, override bool) (session.Definition, error) {
	now := e.now()
	var (
		out       session.Definition
		conflicts []string
	)
	err := e.store.WithTx(ctx, func(s Store) error {
		cur, err := s.GetDefinition(ctx, ref)
		if err != nil {
			return err
		}
		updated, schedule := u.apply(cur)
		if err := ValidateDefinition(updated); err != nil {
			return err
		}

		occupied, err := e.futureOccurrences(ctx, s, ref, now)
		if err != nil {
			return err
		}
		if len(occupied) > 0 {
			ve := &session.ValidationError{}
			for _, field := range schedule {
				ve.Add(field, "cannot change while the session has bookings")
			}
			if err := e.checkCapacityFloor(ctx, s, ve, updated, occupied, now); err != nil {
				return err
			}
			if err := ve.OrNil(); err != nil {
				return err
			}
		}

		others, err := s.ListDefinitions(ctx, updated.Prison)
		if err != nil {
			return err
		}
		conflicts = session.Conflicts(updated, others)
		if len(conflicts) > 0 && !override {
			return &session.SchedulingConflictError{Conflicts: conflicts}
		}
		if err := s.UpdateDefinition(ctx, updated); err != nil {
			return err
		}
		out = updated
		return nil
	})
	if err != nil {
		return session.Definition{}, err
	}

	evt := e.log.Info()
	if len(conflicts) > 0 {
		evt = e.log.Warn().Strs("overlaps", conflicts)
	}
	evt.Str("session", out.Reference).Msg("session definition updated")
	return out, nil
}

// futureOccurrences returns the occurrences from today onwards that carry a
// booked visit or a live hold.
func (e *Engine) futureOccurrences(ctx context.Context, s Store, defRef string, now time.Time) (map[string]session.Date, error) {
	today := session.DateOf(now)
	liveSince := now.Add(-e.policy.HoldTTL)
	booked, err := s.ListBookings(ctx, BookingFilter{DefinitionRef: defRef, Status: BookingBooked, FromDate: &today})
	if err != nil {
		return nil, err
	}
	holds, err := s.ListReservations(ctx, ReservationFilter{
		DefinitionRef: defRef,
		Status:        ReservationHeld,
		FromDate:      &today,
		ModifiedAfter: &liveSince,
	})
	if err != nil {
		return nil, err
	}
	occupied := make(map[string]session.Date)
	for _, b := range booked {
		occupied[b.OccurrenceRef] = b.Date
	}
	for _, h := range holds {
		occupied[h.OccurrenceRef] = h.Date
	}
	return occupied, nil
}

func (e *Engine) checkCapacityFloor(ctx context.Context, s Store, ve *session.ValidationError, def session.Definition, occupied map[string]session.Date, now time.Time) error {
	fields := map[session.Restriction]string{
		session.RestrictionOpen:   "openCapacity",
		session.RestrictionClosed: "closedCapacity",
	}
	for restriction, field := range fields {
		maxUsed, busiest := 0, session.Date{}
		for occRef, date := range occupied {
			used, err := e.usedCapacity(ctx, s, occRef, restriction, "", "", now)
			if err != nil {
				return err
			}
			if used > maxUsed {
				maxUsed, busiest = used, date
			}
		}
		if def.Capacity(restriction) < maxUsed {
			ve.Add(field, fmt.Sprintf("cannot be less than the %d visits booked on %s", maxUsed, busiest))
		}
	}
	return nil
}

func (e *Engine) GetDefinition(ctx context.Context, ref string) (session.Definition, error) {
	return e.store.GetDefinition(ctx, ref)
}

func (e *Engine) ListDefinitions(ctx context.Context, prison string) ([]session.Definition, error) {
	return e.store.ListDefinitions(ctx, prison)
}

// =============================================================================
// DEFINITION VALIDATION
// =============================================================================

// ValidateDefinition checks the structural rules of a definition.
func ValidateDefinition(def session.Definition) error {
	ve := &session.ValidationError{}
	if def.Prison == "" {
		ve.Add("prisonId", "is required")
	}
	if def.DayOfWeek < time.Sunday || def.DayOfWeek > time.Saturday {
		ve.Add("dayOfWeek", "is not a day of the week")
	}
	if def.Start < 0 || def.End > session.NewTimeOfDay(24, 0) {
		ve.Add("startTime", "must be within the day")
	}
	if def.End <= def.Start {
		ve.Add("endTime", "must be after the start time")
	}
	if def.ValidFrom.IsZero() {
		ve.Add("validFromDate", "is required")
	}
	if def.ValidTo != nil && def.ValidTo.Before(def.ValidFrom) {
		ve.Add("validToDate", "must not be before the valid from date")
	}
	if def.WeeklyFrequency < 1 {
		ve.Add("weeklyFrequency", "must be at least 1")
	}
	if def.OpenCapacity < 0 {
		ve.Add("openCapacity", "must not be negative")
	}
	if def.ClosedCapacity < 0 {
		ve.Add("closedCapacity", "must not be negative")
	}
	for i, g := range def.Locations.Groups {
		for j, loc := range g.Locations {
			if msg := locationProblem(loc); msg != "" {
				ve.Add(fmt.Sprintf("locationGroups[%d].locations[%d]", i, j), msg)
			}
		}
	}
	checkValueGroups(ve, "categoryGroups", def.Categories.Groups)
	checkValueGroups(ve, "incentiveLevelGroups", def.Incentives.Groups)
	return ve.OrNil()
}

func locationProblem(loc session.PermittedLocation) string {
	if loc.Levels[0] == "" {
		return "level one is required"
	}
	for i := 1; i < len(loc.Levels); i++ {
		if loc.Levels[i] != "" && loc.Levels[i-1] == "" {
			return fmt.Sprintf("level %d is set without level %d", i+1, i)
		}
	}
	return ""
}

func checkValueGroups(ve *session.ValidationError, field string, groups []session.ValueGroup) {
	for i, g := range groups {
		if len(g.Values) == 0 {
			ve.Add(fmt.Sprintf("%s[%d]", field, i), "must contain at least one value")
		}
	}
}
