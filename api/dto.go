/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

TYPES:
  Sessions:
    SessionTemplateDTO, UpdateSessionTemplateRequest, AvailableSessionDTO

  Reservations and bookings:
    ReservationDTO, BookingDTO (reserve/change bodies decode straight into
    booking.ReserveRequest and booking.ChangeRequest)

  Prisoners:
    PrisonerDTO

  Migration:
    MigrateVisitRequest, MatchResponse

VALIDATION:
  Field rules live on the booking request types (validator tags). DTOs here
  only carry data; conversion errors become 400s in the handlers.

SEE ALSO:
  - handlers.go: Uses these types
  - booking/engine.go: ReserveRequest, ChangeRequest
*/
package api

import (
	"strings"
	"time"

	"github.com/warp/visit-scheduler/booking"
	"github.com/warp/visit-scheduler/migration"
	"github.com/warp/visit-scheduler/session"
)

// =============================================================================
// SESSION TEMPLATES
// =============================================================================

type LocationGroupDTO struct {
	Reference string     `json:"reference,omitempty"`
	Name      string     `json:"name"`
	Locations [][]string `json:"locations"` // each entry: 1-4 levels, "" for wildcard
}

type ValueGroupDTO struct {
	Reference string   `json:"reference,omitempty"`
	Name      string   `json:"name"`
	Values    []string `json:"values"`
}

type SessionTemplateDTO struct {
	Reference            string             `json:"reference,omitempty"`
	Name                 string             `json:"name"`
	PrisonID             string             `json:"prisonId"`
	VisitRoom            string             `json:"visitRoom"`
	DayOfWeek            string             `json:"dayOfWeek"`
	StartTime            session.TimeOfDay  `json:"startTime"`
	EndTime              session.TimeOfDay  `json:"endTime"`
	ValidFromDate        session.Date       `json:"validFromDate"`
	ValidToDate          *session.Date      `json:"validToDate,omitempty"`
	WeeklyFrequency      int                `json:"weeklyFrequency"`
	OpenCapacity         int                `json:"openCapacity"`
	ClosedCapacity       int                `json:"closedCapacity"`
	ExcludeLocations     bool               `json:"excludeLocationGroups"`
	LocationGroups       []LocationGroupDTO `json:"locationGroups"`
	ExcludeCategories    bool               `json:"excludeCategoryGroups"`
	CategoryGroups       []ValueGroupDTO    `json:"categoryGroups"`
	ExcludeIncentives    bool               `json:"excludeIncentiveLevelGroups"`
	IncentiveLevelGroups []ValueGroupDTO    `json:"incentiveLevelGroups"`
}

type UpdateSessionTemplateRequest struct {
	Name            *string            `json:"name,omitempty"`
	VisitRoom       *string            `json:"visitRoom,omitempty"`
	DayOfWeek       *string            `json:"dayOfWeek,omitempty"`
	StartTime       *session.TimeOfDay `json:"startTime,omitempty"`
	EndTime         *session.TimeOfDay `json:"endTime,omitempty"`
	ValidFromDate   *session.Date      `json:"validFromDate,omitempty"`
	ValidToDate     *session.Date      `json:"validToDate,omitempty"`
	ClearValidTo    bool               `json:"clearValidToDate,omitempty"`
	WeeklyFrequency *int               `json:"weeklyFrequency,omitempty"`
	OpenCapacity    *int               `json:"openCapacity,omitempty"`
	ClosedCapacity  *int               `json:"closedCapacity,omitempty"`

	ExcludeLocations     *bool              `json:"excludeLocationGroups,omitempty"`
	LocationGroups       []LocationGroupDTO `json:"locationGroups,omitempty"`
	ExcludeCategories    *bool              `json:"excludeCategoryGroups,omitempty"`
	CategoryGroups       []ValueGroupDTO    `json:"categoryGroups,omitempty"`
	ExcludeIncentives    *bool              `json:"excludeIncentiveLevelGroups,omitempty"`
	IncentiveLevelGroups []ValueGroupDTO    `json:"incentiveLevelGroups,omitempty"`
}

func toSessionTemplateDTO(def session.Definition) SessionTemplateDTO {
	return SessionTemplateDTO{
		Reference:            def.Reference,
		Name:                 def.Name,
		PrisonID:             def.Prison,
		VisitRoom:            def.VisitRoom,
		DayOfWeek:            strings.ToUpper(def.DayOfWeek.String()),
		StartTime:            def.Start,
		EndTime:              def.End,
		ValidFromDate:        def.ValidFrom,
		ValidToDate:          def.ValidTo,
		WeeklyFrequency:      def.WeeklyFrequency,
		OpenCapacity:         def.OpenCapacity,
		ClosedCapacity:       def.ClosedCapacity,
		ExcludeLocations:     def.Locations.Exclude,
		LocationGroups:       toLocationGroupDTOs(def.Locations.Groups),
		ExcludeCategories:    def.Categories.Exclude,
		CategoryGroups:       toValueGroupDTOs(def.Categories.Groups),
		ExcludeIncentives:    def.Incentives.Exclude,
		IncentiveLevelGroups: toValueGroupDTOs(def.Incentives.Groups),
	}
}

func (d SessionTemplateDTO) toDefinition() (session.Definition, error) {
	wd, err := session.ParseWeekday(d.DayOfWeek)
	if err != nil {
		return session.Definition{}, session.NewValidationError("dayOfWeek", err.Error())
	}
	return session.Definition{
		Name:            d.Name,
		Prison:          d.PrisonID,
		VisitRoom:       d.VisitRoom,
		DayOfWeek:       wd,
		Start:           d.StartTime,
		End:             d.EndTime,
		ValidFrom:       d.ValidFromDate,
		ValidTo:         d.ValidToDate,
		WeeklyFrequency: d.WeeklyFrequency,
		OpenCapacity:    d.OpenCapacity,
		ClosedCapacity:  d.ClosedCapacity,
		Locations:       session.LocationFacet{Exclude: d.ExcludeLocations, Groups: fromLocationGroupDTOs(d.LocationGroups)},
		Categories:      session.CategoryFacet{ValueFacet: session.ValueFacet{Exclude: d.ExcludeCategories, Groups: fromValueGroupDTOs(d.CategoryGroups)}},
		Incentives:      session.IncentiveFacet{ValueFacet: session.ValueFacet{Exclude: d.ExcludeIncentives, Groups: fromValueGroupDTOs(d.IncentiveLevelGroups)}},
	}, nil
}

// toUpdate converts the request. Facet groups replace the stored facet
// when either the groups or the exclude flag is present.
func (u UpdateSessionTemplateRequest) toUpdate(current session.Definition) (booking.DefinitionUpdate, error) {
	out := booking.DefinitionUpdate{
		Name:            u.Name,
		VisitRoom:       u.VisitRoom,
		Start:           u.StartTime,
		End:             u.EndTime,
		ValidFrom:       u.ValidFromDate,
		ValidTo:         u.ValidToDate,
		ClearValidTo:    u.ClearValidTo,
		WeeklyFrequency: u.WeeklyFrequency,
		OpenCapacity:    u.OpenCapacity,
		ClosedCapacity:  u.ClosedCapacity,
	}
	if u.DayOfWeek != nil {
		wd, err := session.ParseWeekday(*u.DayOfWeek)
		if err != nil {
			return booking.DefinitionUpdate{}, session.NewValidationError("dayOfWeek", err.Error())
		}
		out.DayOfWeek = &wd
	}
	if u.LocationGroups != nil || u.ExcludeLocations != nil {
		f := current.Locations
		if u.LocationGroups != nil {
			f.Groups = fromLocationGroupDTOs(u.LocationGroups)
		}
		if u.ExcludeLocations != nil {
			f.Exclude = *u.ExcludeLocations
		}
		out.Locations = &f
	}
	if u.CategoryGroups != nil || u.ExcludeCategories != nil {
		f := current.Categories
		if u.CategoryGroups != nil {
			f.Groups = fromValueGroupDTOs(u.CategoryGroups)
		}
		if u.ExcludeCategories != nil {
			f.Exclude = *u.ExcludeCategories
		}
		out.Categories = &f
	}
	if u.IncentiveLevelGroups != nil || u.ExcludeIncentives != nil {
		f := current.Incentives
		if u.IncentiveLevelGroups != nil {
			f.Groups = fromValueGroupDTOs(u.IncentiveLevelGroups)
		}
		if u.ExcludeIncentives != nil {
			f.Exclude = *u.ExcludeIncentives
		}
		out.Incentives = &f
	}
	return out, nil
}

func toLocationGroupDTOs(groups []session.LocationGroup) []LocationGroupDTO {
	out := make([]LocationGroupDTO, len(groups))
	for i, g := range groups {
		locs := make([][]string, len(g.Locations))
		for j, l := range g.Locations {
			n := 4
			for n > 1 && l.Levels[n-1] == "" {
				n--
			}
			locs[j] = append([]string(nil), l.Levels[:n]...)
		}
		out[i] = LocationGroupDTO{Reference: g.Reference, Name: g.Name, Locations: locs}
	}
	return out
}

func fromLocationGroupDTOs(groups []LocationGroupDTO) []session.LocationGroup {
	if len(groups) == 0 {
		return nil
	}
	out := make([]session.LocationGroup, len(groups))
	for i, g := range groups {
		locs := make([]session.PermittedLocation, len(g.Locations))
		for j, l := range g.Locations {
			locs[j] = session.NewPermittedLocation(l...)
		}
		out[i] = session.LocationGroup{Reference: g.Reference, Name: g.Name, Locations: locs}
	}
	return out
}

func toValueGroupDTOs(groups []session.ValueGroup) []ValueGroupDTO {
	out := make([]ValueGroupDTO, len(groups))
	for i, g := range groups {
		out[i] = ValueGroupDTO{Reference: g.Reference, Name: g.Name, Values: g.Values}
	}
	return out
}

func fromValueGroupDTOs(groups []ValueGroupDTO) []session.ValueGroup {
	if len(groups) == 0 {
		return nil
	}
	out := make([]session.ValueGroup, len(groups))
	for i, g := range groups {
		out[i] = session.ValueGroup{Reference: g.Reference, Name: g.Name, Values: g.Values}
	}
	return out
}

type AvailableSessionDTO struct {
	SessionTemplateReference string            `json:"sessionTemplateReference"`
	Name                     string            `json:"name"`
	VisitRoom                string            `json:"visitRoom"`
	SessionDate              session.Date      `json:"sessionDate"`
	StartTime                session.TimeOfDay `json:"startTime"`
	EndTime                  session.TimeOfDay `json:"endTime"`
	OpenCapacity             int               `json:"openVisitCapacity"`
	OpenRemaining            int               `json:"openVisitBookedRemaining"`
	ClosedCapacity           int               `json:"closedVisitCapacity"`
	ClosedRemaining          int               `json:"closedVisitBookedRemaining"`
}

func toAvailableSessionDTO(s booking.AvailableSession) AvailableSessionDTO {
	return AvailableSessionDTO{
		SessionTemplateReference: s.DefinitionRef,
		Name:                     s.Name,
		VisitRoom:                s.VisitRoom,
		SessionDate:              s.Date,
		StartTime:                s.Start,
		EndTime:                  s.End,
		OpenCapacity:             s.OpenCapacity,
		OpenRemaining:            s.OpenRemaining,
		ClosedCapacity:           s.ClosedCapacity,
		ClosedRemaining:          s.ClosedRemaining,
	}
}

// =============================================================================
// RESERVATIONS AND BOOKINGS
// =============================================================================

type ReservationDTO struct {
	Reference                string              `json:"reference"`
	BookingReference         string              `json:"bookingReference,omitempty"`
	PrisonerID               string              `json:"prisonerId"`
	PrisonID                 string              `json:"prisonId"`
	SessionTemplateReference string              `json:"sessionTemplateReference"`
	SessionDate              session.Date        `json:"sessionDate"`
	SessionRestriction       session.Restriction `json:"sessionRestriction"`
	Visitors                 []booking.Visitor   `json:"visitors"`
	VisitContact             *booking.Contact    `json:"visitContact,omitempty"`
	VisitorSupport           string              `json:"visitorSupport,omitempty"`
	Status                   string              `json:"status"`
	CreatedTimestamp         time.Time           `json:"createdTimestamp"`
	ModifiedTimestamp        time.Time           `json:"modifiedTimestamp"`
}

func toReservationDTO(r booking.Reservation) ReservationDTO {
	return ReservationDTO{
		Reference:                r.Reference,
		BookingReference:         r.BookingRef,
		PrisonerID:               r.PrisonerID,
		PrisonID:                 r.Prison,
		SessionTemplateReference: r.DefinitionRef,
		SessionDate:              r.Date,
		SessionRestriction:       r.Restriction,
		Visitors:                 nonNil(r.Visitors),
		VisitContact:             r.Contact,
		VisitorSupport:           r.Support,
		Status:                   string(r.Status),
		CreatedTimestamp:         r.CreatedAt,
		ModifiedTimestamp:        r.ModifiedAt,
	}
}

type BookingDTO struct {
	Reference                string              `json:"reference"`
	ReservationReference     string              `json:"applicationReference,omitempty"`
	PrisonerID               string              `json:"prisonerId"`
	PrisonID                 string              `json:"prisonId"`
	SessionTemplateReference string              `json:"sessionTemplateReference"`
	SessionDate              session.Date        `json:"sessionDate"`
	SessionRestriction       session.Restriction `json:"visitRestriction"`
	Visitors                 []booking.Visitor   `json:"visitors"`
	VisitContact             *booking.Contact    `json:"visitContact,omitempty"`
	VisitorSupport           string              `json:"visitorSupport,omitempty"`
	Status                   string              `json:"visitStatus"`
	Flagged                  bool                `json:"flagged"`
	FlagReason               string              `json:"flagReason,omitempty"`
	Migrated                 bool                `json:"migrated"`
	CreatedTimestamp         time.Time           `json:"createdTimestamp"`
	ModifiedTimestamp        time.Time           `json:"modifiedTimestamp"`
}

func toBookingDTO(b booking.Booking) BookingDTO {
	return BookingDTO{
		Reference:                b.Reference,
		ReservationReference:     b.CurrentReservationRef,
		PrisonerID:               b.PrisonerID,
		PrisonID:                 b.Prison,
		SessionTemplateReference: b.DefinitionRef,
		SessionDate:              b.Date,
		SessionRestriction:       b.Restriction,
		Visitors:                 nonNil(b.Visitors),
		VisitContact:             b.Contact,
		VisitorSupport:           b.Support,
		Status:                   string(b.Status),
		Flagged:                  b.Flagged,
		FlagReason:               b.FlagReason,
		Migrated:                 b.Migrated,
		CreatedTimestamp:         b.CreatedAt,
		ModifiedTimestamp:        b.ModifiedAt,
	}
}

func nonNil(v []booking.Visitor) []booking.Visitor {
	if v == nil {
		return []booking.Visitor{}
	}
	return v
}

// =============================================================================
// PRISONERS
// =============================================================================

type PrisonerDTO struct {
	PrisonerID     string   `json:"prisonerId"`
	PrisonID       string   `json:"prisonId"`
	Category       string   `json:"category,omitempty"`
	IncentiveLevel string   `json:"incentiveLevel,omitempty"`
	Location       []string `json:"location,omitempty"` // housing levels 1-4
}

func toPrisonerDTO(p session.Prisoner) PrisonerDTO {
	var loc []string
	for _, l := range p.Levels {
		if l == "" {
			break
		}
		loc = append(loc, l)
	}
	return PrisonerDTO{
		PrisonerID:     p.ID,
		PrisonID:       p.Prison,
		Category:       p.Category,
		IncentiveLevel: p.Incentive,
		Location:       loc,
	}
}

func (d PrisonerDTO) toPrisoner() session.Prisoner {
	p := session.Prisoner{
		ID:        d.PrisonerID,
		Prison:    d.PrisonID,
		Category:  d.Category,
		Incentive: d.IncentiveLevel,
	}
	copy(p.Levels[:], d.Location)
	return p
}

// =============================================================================
// MIGRATION
// =============================================================================

type MigrateVisitRequest struct {
	Prisoner         PrisonerDTO         `json:"prisoner"`
	PrisonID         string              `json:"prisonId"`
	VisitDate        session.Date        `json:"visitDate"`
	StartTime        session.TimeOfDay   `json:"startTime"`
	EndTime          session.TimeOfDay   `json:"endTime"`
	VisitRoom        string              `json:"visitRoom"`
	VisitRestriction session.Restriction `json:"visitRestriction"`
	Visitors         []booking.Visitor   `json:"visitors"`
	VisitContact     *booking.Contact    `json:"visitContact,omitempty"`
	VisitorSupport   string              `json:"visitorSupport,omitempty"`
	Cancelled        bool                `json:"cancelled"`
}

func (m MigrateVisitRequest) legacyVisit() migration.LegacyVisit {
	return migration.LegacyVisit{
		Prisoner: m.Prisoner.toPrisoner(),
		Prison:   m.PrisonID,
		Date:     m.VisitDate,
		Start:    m.StartTime,
		End:      m.EndTime,
		RoomName: m.VisitRoom,
	}
}

func (m MigrateVisitRequest) toRequest() booking.MigrateRequest {
	return booking.MigrateRequest{
		Visit:       m.legacyVisit(),
		Restriction: m.VisitRestriction,
		Visitors:    m.Visitors,
		Contact:     m.VisitContact,
		Support:     m.VisitorSupport,
		Cancelled:   m.Cancelled,
	}
}

type ScoreDTO struct {
	SessionTemplateReference string `json:"sessionTemplateReference"`
	Proximity                int    `json:"proximityMinutes"`
	Location                 int    `json:"locationSpecificity"`
	Category                 bool   `json:"categoryMatch"`
	Incentive                bool   `json:"incentiveMatch"`
	Room                     bool   `json:"roomMatch"`
}

type MatchResponse struct {
	Match      *SessionTemplateDTO `json:"match"`
	Reason     string              `json:"reason,omitempty"`
	Candidates []ScoreDTO          `json:"candidates"`
}

func toScoreDTOs(scores []migration.Score) []ScoreDTO {
	out := make([]ScoreDTO, len(scores))
	for i, s := range scores {
		out[i] = ScoreDTO{
			SessionTemplateReference: s.Definition.Reference,
			Proximity:                s.Proximity,
			Location:                 s.Location,
			Category:                 s.Category,
			Incentive:                s.Incentive,
			Room:                     s.Room,
		}
	}
	return out
}

// =============================================================================
// SHARED
// =============================================================================

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error   string            `json:"error"`
	Details string            `json:"details,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

type LoadScenarioResponse struct {
	Scenario  string   `json:"scenario"`
	Sessions  []string `json:"sessionTemplateReferences"`
	Prisoners []string `json:"prisonerIds"`
	Bookings  []string `json:"bookingReferences,omitempty"`
}
