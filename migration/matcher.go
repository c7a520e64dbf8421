/*
Package migration reconciles visits carried over from the legacy booking
system with current session definitions.

PURPOSE:
  A legacy visit records a prison, a date and a time window but no session.
  The matcher picks the definition the visit most plausibly belongs to.

ALGORITHM:
  1. Candidates: same prison, same weekday, valid on the date and not a skip
     week for the definition's cadence.
  2. Score each candidate:
       proximity  = |start diff| + |end diff| in minutes (lower is better)
       location   = session.LocationSpecificity (higher is better, -1 when
                    the candidate has no location restriction)
       category   = category facet admits the prisoner
       incentive  = incentive facet admits the prisoner
       room       = visit room name equals the legacy room
  3. Drop candidates whose proximity exceeds the ceiling.
  4. Sort by proximity ascending, then location, category, incentive and
     room descending. Reference breaks any remaining tie.

EXAMPLE:
  Legacy 09:00-10:00 against 09:05-10:05 (proximity 10) and 11:00-12:00
  (proximity 240): the first wins, the second is beyond the default ceiling
  of 180 minutes.
*/
package migration

import (
	"cmp"
	"slices"

	"github.com/warp/visit-scheduler/session"
)

const DefaultCeilingMinutes = 180

// LegacyVisit is the slot a migrated visit occupied in the old system.
type LegacyVisit struct {
	Prisoner session.Prisoner
	Prison   string
	Date     session.Date
	Start    session.TimeOfDay
	End      session.TimeOfDay
	RoomName string
}

// Matcher selects the best definition for a legacy visit.
type Matcher struct {
	// CeilingMinutes is the largest proximity still considered a match.
	CeilingMinutes int
}

func NewMatcher() Matcher {
	return Matcher{CeilingMinutes: DefaultCeilingMinutes}
}

func (m Matcher) ceiling() int {
	if m.CeilingMinutes <= 0 {
		return DefaultCeilingMinutes
	}
	return m.CeilingMinutes
}

// Score is the comparison key for one candidate.
type Score struct {
	Definition session.Definition
	Proximity  int
	Location   int
	Category   bool
	Incentive  bool
	Room       bool
}

func (m Matcher) Score(v LegacyVisit, def session.Definition) Score {
	return Score{
		Definition: def,
		Proximity:  absDiff(v.Start, def.Start) + absDiff(v.End, def.End),
		Location:   session.LocationSpecificity(v.Prisoner, def),
		Category:   session.CategoryMatches(v.Prisoner, def),
		Incentive:  session.IncentiveMatches(v.Prisoner, def),
		Room:       v.RoomName == def.VisitRoom,
	}
}

// Rank scores candidates, drops those beyond the ceiling and returns the
// rest best first.
func (m Matcher) Rank(v LegacyVisit, candidates []session.Definition) []Score {
	scores := make([]Score, 0, len(candidates))
	for _, def := range candidates {
		s := m.Score(v, def)
		if s.Proximity > m.ceiling() {
			continue
		}
		scores = append(scores, s)
	}
	slices.SortStableFunc(scores, compareScores)
	return scores
}

func compareScores(a, b Score) int {
	if c := cmp.Compare(a.Proximity, b.Proximity); c != 0 {
		return c
	}
	if c := cmp.Compare(b.Location, a.Location); c != 0 {
		return c
	}
	if c := compareBool(b.Category, a.Category); c != 0 {
		return c
	}
	if c := compareBool(b.Incentive, a.Incentive); c != 0 {
		return c
	}
	if c := compareBool(b.Room, a.Room); c != 0 {
		return c
	}
	return cmp.Compare(a.Definition.Reference, b.Definition.Reference)
}

// BestMatch returns the highest ranked candidate.
func (m Matcher) BestMatch(v LegacyVisit, candidates []session.Definition) (session.Definition, error) {
	if len(candidates) == 0 {
		return session.Definition{}, m.noMatch(v, "no candidate sessions")
	}
	ranked := m.Rank(v, candidates)
	if len(ranked) == 0 {
		return session.Definition{}, m.noMatch(v, "no candidate within the proximity ceiling")
	}
	return ranked[0].Definition, nil
}

func (m Matcher) noMatch(v LegacyVisit, reason string) error {
	return &session.MigrationMatchError{
		Prison:    v.Prison,
		Date:      v.Date,
		DayOfWeek: v.Date.Weekday(),
		Start:     v.Start,
		End:       v.End,
		Reason:    reason,
	}
}

// Candidates keeps the definitions that actually run at the legacy visit's
// prison on its date.
func Candidates(v LegacyVisit, defs []session.Definition) []session.Definition {
	var out []session.Definition
	for _, def := range defs {
		if def.Prison != v.Prison {
			continue
		}
		if !session.IsOccurrence(v.Date, def) {
			continue
		}
		out = append(out, def)
	}
	return out
}

func absDiff(a, b session.TimeOfDay) int {
	d := a.Minutes() - b.Minutes()
	if d < 0 {
		return -d
	}
	return d
}

func compareBool(a, b bool) int {
	switch {
	case a == b:
		return 0
	case a:
		return 1
	}
	return -1
}
