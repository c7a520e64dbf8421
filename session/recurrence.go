package session

import (
	"iter"
	"slices"
)

// =============================================================================
// RECURRENCE CALCULATOR - Calendar dates of a recurring definition
// =============================================================================

// OccurrencesBetween yields every date in [first, last] on which def runs.
// The window is clamped to the definition's validity range and aligned to its
// weekday. For multi-week cadences the first date is moved out of a skip week
// before stepping by WeeklyFrequency weeks. An empty window yields nothing.
func OccurrencesBetween(first, last Date, def Definition) iter.Seq[Date] {
	start, end, ok := occurrenceWindow(first, last, def)
	return func(yield func(Date) bool) {
		if !ok {
			return
		}
		step := def.Frequency()
		for d := start; d.BeforeOrEqual(end); d = d.AddWeeks(step) {
			if !yield(d) {
				return
			}
		}
	}
}

// Occurrences collects OccurrencesBetween into a slice.
func Occurrences(first, last Date, def Definition) []Date {
	return slices.Collect(OccurrencesBetween(first, last, def))
}

func occurrenceWindow(first, last Date, def Definition) (Date, Date, bool) {
	first = MaxDate(first, def.ValidFrom)
	if def.ValidTo != nil {
		last = MinDate(last, *def.ValidTo)
	}

	start := first.NextOrSame(def.DayOfWeek)
	end := last.PreviousOrSame(def.DayOfWeek)

	if freq := def.Frequency(); freq > 1 {
		if IsSkipOccurrence(start, def.ValidFrom, freq) {
			start = start.AddWeeks(weeksToNextAligned(start, def.ValidFrom, freq))
		}
	}

	if end.Before(start) {
		return Date{}, Date{}, false
	}
	return start, end, true
}

// IsSkipOccurrence reports whether candidate falls in a week on which a
// definition repeating every frequency weeks from validFrom does not run.
func IsSkipOccurrence(candidate, validFrom Date, frequency int) bool {
	if frequency <= 1 {
		return false
	}
	return weeksBetween(validFrom, candidate)%frequency != 0
}

// IsOccurrence reports whether def runs on date.
func IsOccurrence(date Date, def Definition) bool {
	return date.Weekday() == def.DayOfWeek &&
		def.ValidOn(date) &&
		!IsSkipOccurrence(date, def.ValidFrom, def.Frequency())
}

// weeksBetween counts whole weeks from a to b, truncated toward zero.
func weeksBetween(a, b Date) int {
	return a.DaysUntil(b) / 7
}

func weeksToNextAligned(d, validFrom Date, frequency int) int {
	rem := weeksBetween(validFrom, d) % frequency
	if rem < 0 {
		rem += frequency
	}
	return frequency - rem
}
