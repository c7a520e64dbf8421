package session

// =============================================================================
// ELIGIBILITY MATCHER - Can this prisoner use this session?
// =============================================================================
//
// A definition restricts its population through three independent facets.
// Each facet either has no groups (open to everyone) or evaluates the
// prisoner against the union of its groups. The prisoner is eligible when
// every facet passes.
//
//   Location  ─┐
//   Category  ─┼─ AND ──▶ eligible
//   Incentive ─┘

// Facet is one eligibility dimension of a definition. The set of
// implementations is closed: LocationFacet, CategoryFacet, IncentiveFacet.
type Facet interface {
	Kind() FacetKind
	// Unrestricted reports whether the facet admits every prisoner.
	Unrestricted() bool
	Matches(p Prisoner) bool

	facet()
}

// Facets returns the definition's facets in evaluation order.
func (d Definition) Facets() []Facet {
	return []Facet{d.Locations, d.Categories, d.Incentives}
}

// IsEligible reports whether p may book def.
func IsEligible(p Prisoner, def Definition) bool {
	for _, f := range def.Facets() {
		if !f.Matches(p) {
			return false
		}
	}
	return true
}

// OpenToAll reports whether no facet restricts the definition.
func (d Definition) OpenToAll() bool {
	for _, f := range d.Facets() {
		if !f.Unrestricted() {
			return false
		}
	}
	return true
}

// =============================================================================
// LOCATION FACET
// =============================================================================

func (LocationFacet) Kind() FacetKind { return FacetLocation }
func (LocationFacet) facet()          {}

func (f LocationFacet) Unrestricted() bool { return len(f.Entries()) == 0 }

// Entries flattens the permitted locations of every group.
func (f LocationFacet) Entries() []PermittedLocation {
	var out []PermittedLocation
	for _, g := range f.Groups {
		out = append(out, g.Locations...)
	}
	return out
}

func (f LocationFacet) Matches(p Prisoner) bool {
	entries := f.Entries()
	if len(entries) == 0 {
		return true
	}
	matched := false
	for _, e := range entries {
		if e.Matches(p.Levels) {
			matched = true
			break
		}
	}
	if f.Exclude {
		return !matched
	}
	return matched
}

// Matches reports whether every set level equals the prisoner's housing at
// that level. Unset levels match anything, including unknown housing.
func (pl PermittedLocation) Matches(levels [4]string) bool {
	for i, want := range pl.Levels {
		if want == "" {
			continue
		}
		if levels[i] != want {
			return false
		}
	}
	return true
}

// LocationSpecificity returns the highest specificity among the definition's
// permitted locations that p's housing satisfies. It is -1 when the definition
// has no location restriction, when nothing matches, and for exclusion lists,
// which grant no specificity.
func LocationSpecificity(p Prisoner, def Definition) int {
	if def.Locations.Exclude {
		return -1
	}
	best := -1
	for _, e := range def.Locations.Entries() {
		if e.Matches(p.Levels) && e.Specificity() > best {
			best = e.Specificity()
		}
	}
	return best
}

// =============================================================================
// VALUE FACETS (category / incentive level)
// =============================================================================

func (f ValueFacet) Unrestricted() bool { return len(f.Groups) == 0 }

// Values returns the union of values across all groups.
func (f ValueFacet) Values() map[string]struct{} {
	set := make(map[string]struct{})
	for _, g := range f.Groups {
		for _, v := range g.Values {
			set[v] = struct{}{}
		}
	}
	return set
}

// admits evaluates a prisoner's code. Unknown codes never pass a restricted facet.
func (f ValueFacet) admits(value string) bool {
	if f.Unrestricted() {
		return true
	}
	if value == "" {
		return false
	}
	_, member := f.Values()[value]
	if f.Exclude {
		return !member
	}
	return member
}

func (CategoryFacet) Kind() FacetKind            { return FacetCategory }
func (CategoryFacet) facet()                     {}
func (f CategoryFacet) Matches(p Prisoner) bool  { return f.admits(p.Category) }
func (IncentiveFacet) Kind() FacetKind           { return FacetIncentive }
func (IncentiveFacet) facet()                    {}
func (f IncentiveFacet) Matches(p Prisoner) bool { return f.admits(p.Incentive) }

// CategoryMatches evaluates only the category facet.
func CategoryMatches(p Prisoner, def Definition) bool {
	return def.Categories.Matches(p)
}

// IncentiveMatches evaluates only the incentive facet.
func IncentiveMatches(p Prisoner, def Definition) bool {
	return def.Incentives.Matches(p)
}
