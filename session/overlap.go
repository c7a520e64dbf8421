package session

// =============================================================================
// OVERLAP DETECTOR - Do two definitions compete for the same prisoners?
// =============================================================================
//
// Used only to warn an administrator on create/update. Two definitions
// overlap when every one of these holds:
//
//   1. same day of week
//   2. validity ranges intersect (open ended = far future)
//   3. time-of-day windows intersect (touching counts)
//   4. weekly cadences are aligned
//   5. eligibility scopes share at least one possible prisoner

// Overlaps reports whether a and b conflict.
func Overlaps(a, b Definition) bool {
	return a.DayOfWeek == b.DayOfWeek &&
		validityIntersects(a, b) &&
		timesIntersect(a, b) &&
		frequenciesAligned(a, b) &&
		scopesIntersect(a, b)
}

// Conflicts returns the references of others that overlap def, skipping
// def's own reference.
func Conflicts(def Definition, others []Definition) []string {
	var refs []string
	for _, o := range others {
		if o.Reference != "" && o.Reference == def.Reference {
			continue
		}
		if Overlaps(def, o) {
			refs = append(refs, o.Reference)
		}
	}
	return refs
}

func validityIntersects(a, b Definition) bool {
	if a.ValidTo != nil && a.ValidTo.Before(b.ValidFrom) {
		return false
	}
	if b.ValidTo != nil && b.ValidTo.Before(a.ValidFrom) {
		return false
	}
	return true
}

func timesIntersect(a, b Definition) bool {
	return a.Start <= b.End && b.Start <= a.End
}

// frequenciesAligned treats any weekly definition as aligned with everything,
// whatever the other's phase.
func frequenciesAligned(a, b Definition) bool {
	if a.Frequency() == 1 || b.Frequency() == 1 {
		return true
	}
	aAnchor, bAnchor := a.FirstOccurrence(), b.FirstOccurrence()
	return !IsSkipOccurrence(aAnchor, bAnchor, b.Frequency()) &&
		!IsSkipOccurrence(bAnchor, aAnchor, a.Frequency())
}

func scopesIntersect(a, b Definition) bool {
	if a.OpenToAll() || b.OpenToAll() {
		return true
	}
	return locationsIntersect(a.Locations, b.Locations) &&
		valuesIntersect(a.Categories.ValueFacet, b.Categories.ValueFacet) &&
		valuesIntersect(a.Incentives.ValueFacet, b.Incentives.ValueFacet)
}

func valuesIntersect(a, b ValueFacet) bool {
	if a.Unrestricted() || b.Unrestricted() {
		return true
	}
	switch {
	case a.Exclude && b.Exclude:
		return true
	case a.Exclude:
		return anyOutside(b.Values(), a.Values())
	case b.Exclude:
		return anyOutside(a.Values(), b.Values())
	}
	bv := b.Values()
	for v := range a.Values() {
		if _, ok := bv[v]; ok {
			return true
		}
	}
	return false
}

// anyOutside reports whether some included value is not excluded.
func anyOutside(included, excluded map[string]struct{}) bool {
	for v := range included {
		if _, ok := excluded[v]; !ok {
			return true
		}
	}
	return false
}

func locationsIntersect(a, b LocationFacet) bool {
	if a.Unrestricted() || b.Unrestricted() || a.Exclude || b.Exclude {
		return true
	}
	for _, ea := range a.Entries() {
		for _, eb := range b.Entries() {
			if ea.Overlaps(eb) {
				return true
			}
		}
	}
	return false
}

// Overlaps reports whether some housing location satisfies both patterns:
// at every level either side is a wildcard or both agree.
func (pl PermittedLocation) Overlaps(other PermittedLocation) bool {
	for i := range pl.Levels {
		x, y := pl.Levels[i], other.Levels[i]
		if x != "" && y != "" && x != y {
			return false
		}
	}
	return true
}
