package booking

import (
	"cmp"
	"context"
	"slices"

	"github.com/warp/visit-scheduler/session"
)

// AvailableSession is one bookable occurrence with its remaining capacity.
type AvailableSession struct {
	DefinitionRef   string
	Name            string
	VisitRoom       string
	Date            session.Date
	Start           session.TimeOfDay
	End             session.TimeOfDay
	OpenCapacity    int
	ClosedCapacity  int
	OpenRemaining   int
	ClosedRemaining int
}

// AvailableSessions lists occurrences at prison between from and to,
// clamped to the booking window. When prisonerID is set, only definitions
// the prisoner is eligible for are listed. Remaining capacity may be
// negative when a slot was overbooked.
func (e *Engine) AvailableSessions(ctx context.Context, prison, prisonerID string, from, to session.Date) ([]AvailableSession, error) {
	now := e.now()
	today := session.DateOf(now)
	from = session.MaxDate(from, today.AddDays(e.policy.MinNoticeDays))
	if e.policy.MaxNoticeDays > 0 {
		to = session.MinDate(to, today.AddDays(e.policy.MaxNoticeDays))
	}
	if to.Before(from) {
		return nil, nil
	}

	defs, err := e.store.ListDefinitions(ctx, prison)
	if err != nil {
		return nil, err
	}
	if prisonerID != "" {
		p, err := e.store.Prisoner(ctx, prisonerID)
		if err != nil {
			return nil, err
		}
		defs = slices.DeleteFunc(defs, func(d session.Definition) bool {
			return !session.IsEligible(p, d)
		})
	}

	var out []AvailableSession
	for _, def := range defs {
		for date := range session.OccurrencesBetween(from, to, def) {
			a := AvailableSession{
				DefinitionRef:   def.Reference,
				Name:            def.Name,
				VisitRoom:       def.VisitRoom,
				Date:            date,
				Start:           def.Start,
				End:             def.End,
				OpenCapacity:    def.OpenCapacity,
				ClosedCapacity:  def.ClosedCapacity,
				OpenRemaining:   def.OpenCapacity,
				ClosedRemaining: def.ClosedCapacity,
			}
			occ, found, err := e.store.FindOccurrence(ctx, def.Reference, date)
			if err != nil {
				return nil, err
			}
			if found {
				openUsed, err := e.usedCapacity(ctx, e.store, occ.Reference, session.RestrictionOpen, "", "", now)
				if err != nil {
					return nil, err
				}
				closedUsed, err := e.usedCapacity(ctx, e.store, occ.Reference, session.RestrictionClosed, "", "", now)
				if err != nil {
					return nil, err
				}
				a.OpenRemaining -= openUsed
				a.ClosedRemaining -= closedUsed
			}
			out = append(out, a)
		}
	}

	slices.SortFunc(out, func(a, b AvailableSession) int {
		if c := a.Date.Time().Compare(b.Date.Time()); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Start, b.Start); c != 0 {
			return c
		}
		return cmp.Compare(a.DefinitionRef, b.DefinitionRef)
	})
	return out, nil
}
