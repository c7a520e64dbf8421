/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the store with realistic
	data for demos and frontend development. Each scenario creates session
	templates, prisoners and, where useful, bookings that demonstrate a
	specific feature.

AVAILABLE SCENARIOS:

	single-prison:    Weekly and fortnightly sessions open to everyone
	restricted-wings: Location and incentive restricted sessions
	nearly-full:      A small session with one booking and one live hold

HOW SCENARIOS WORK:
 1. Create session templates through the engine (overlap checked)
 2. Save prisoners
 3. Reserve and complete bookings on the first bookable date

Everything goes through the engine, so loaded data obeys the same rules as
API traffic. Scenarios are additive: loading one twice reports a
scheduling conflict instead of duplicating sessions.

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "nearly-full"}

SEE ALSO:
  - handlers.go: Handler implementations
  - booking/definitions.go: Definition validation and overlap checks
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/warp/visit-scheduler/booking"
	"github.com/warp/visit-scheduler/session"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "single-prison",
		Name:        "Single Prison",
		Description: "Weekly Monday and fortnightly Wednesday sessions open to all prisoners",
	},
	{
		ID:          "restricted-wings",
		Name:        "Restricted Wings",
		Description: "Wing A only and enhanced incentive only sessions with prisoners on both sides",
	},
	{
		ID:          "nearly-full",
		Name:        "Nearly Full",
		Description: "Two-seat session with one confirmed booking and one held reservation",
	},
}

type scenarioLoader func(ctx context.Context, h *Handler) (LoadScenarioResponse, error)

var loaders = map[string]scenarioLoader{
	"single-prison":    loadSinglePrison,
	"restricted-wings": loadRestrictedWings,
	"nearly-full":      loadNearlyFull,
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// LoadScenario loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !decode(w, r, &req) {
		return
	}
	load, ok := loaders[req.ScenarioID]
	if !ok {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "unknown scenario", Details: req.ScenarioID})
		return
	}

	resp, err := load(r.Context(), h)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp.Scenario = req.ScenarioID
	h.log.Info().Str("scenario", req.ScenarioID).Int("sessions", len(resp.Sessions)).Msg("scenario loaded")
	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func loadSinglePrison(ctx context.Context, h *Handler) (LoadScenarioResponse, error) {
	const prison = "HEI"
	today := session.Today()

	var resp LoadScenarioResponse
	defs := []session.Definition{
		{
			Name:            "Monday morning",
			Prison:          prison,
			VisitRoom:       "Main visits hall",
			DayOfWeek:       time.Monday,
			Start:           session.NewTimeOfDay(9, 0),
			End:             session.NewTimeOfDay(11, 0),
			ValidFrom:       today,
			WeeklyFrequency: 1,
			OpenCapacity:    20,
			ClosedCapacity:  2,
		},
		{
			Name:            "Wednesday afternoon",
			Prison:          prison,
			VisitRoom:       "Main visits hall",
			DayOfWeek:       time.Wednesday,
			Start:           session.NewTimeOfDay(14, 0),
			End:             session.NewTimeOfDay(16, 0),
			ValidFrom:       today,
			WeeklyFrequency: 2,
			OpenCapacity:    10,
			ClosedCapacity:  1,
		},
	}
	if err := h.createDefinitions(ctx, &resp, defs...); err != nil {
		return resp, err
	}
	err := h.savePrisoners(ctx, &resp,
		session.Prisoner{ID: "A1234BC", Prison: prison, Category: "C", Incentive: "STD", Levels: [4]string{"A", "1", "001"}},
		session.Prisoner{ID: "B2345CD", Prison: prison, Category: "B", Incentive: "ENH", Levels: [4]string{"B", "2", "014"}},
	)
	return resp, err
}

func loadRestrictedWings(ctx context.Context, h *Handler) (LoadScenarioResponse, error) {
	const prison = "BLI"
	today := session.Today()

	var resp LoadScenarioResponse
	defs := []session.Definition{
		{
			Name:            "Wing A",
			Prison:          prison,
			VisitRoom:       "Visits room 1",
			DayOfWeek:       time.Tuesday,
			Start:           session.NewTimeOfDay(13, 45),
			End:             session.NewTimeOfDay(15, 45),
			ValidFrom:       today,
			WeeklyFrequency: 1,
			OpenCapacity:    12,
			ClosedCapacity:  1,
			Locations:       session.IncludeLocations("Wing A", session.NewPermittedLocation("A")),
		},
		{
			Name:            "Enhanced",
			Prison:          prison,
			VisitRoom:       "Visits room 2",
			DayOfWeek:       time.Saturday,
			Start:           session.NewTimeOfDay(10, 0),
			End:             session.NewTimeOfDay(11, 30),
			ValidFrom:       today,
			WeeklyFrequency: 1,
			OpenCapacity:    8,
			Incentives:      session.IncentiveFacet{ValueFacet: session.IncludeValues("Enhanced", "ENH", "EN2", "EN3")},
		},
		{
			Name:            "Segregation closed",
			Prison:          prison,
			VisitRoom:       "Closed booths",
			DayOfWeek:       time.Thursday,
			Start:           session.NewTimeOfDay(9, 30),
			End:             session.NewTimeOfDay(10, 30),
			ValidFrom:       today,
			WeeklyFrequency: 1,
			ClosedCapacity:  3,
			Locations:       session.IncludeLocations("Segregation", session.NewPermittedLocation("SEG")),
		},
	}
	if err := h.createDefinitions(ctx, &resp, defs...); err != nil {
		return resp, err
	}
	err := h.savePrisoners(ctx, &resp,
		session.Prisoner{ID: "C3456DE", Prison: prison, Category: "C", Incentive: "STD", Levels: [4]string{"A", "3", "022"}},
		session.Prisoner{ID: "D4567EF", Prison: prison, Category: "C", Incentive: "ENH", Levels: [4]string{"B", "1", "005"}},
		session.Prisoner{ID: "E5678FG", Prison: prison, Category: "B", Incentive: "BAS", Levels: [4]string{"SEG", "1", "002"}},
	)
	return resp, err
}

func loadNearlyFull(ctx context.Context, h *Handler) (LoadScenarioResponse, error) {
	const prison = "DHI"
	today := session.Today()

	var resp LoadScenarioResponse
	def := session.Definition{
		Name:            "Family visit",
		Prison:          prison,
		VisitRoom:       "Family room",
		DayOfWeek:       time.Friday,
		Start:           session.NewTimeOfDay(13, 30),
		End:             session.NewTimeOfDay(15, 30),
		ValidFrom:       today,
		WeeklyFrequency: 1,
		OpenCapacity:    2,
	}
	if err := h.createDefinitions(ctx, &resp, def); err != nil {
		return resp, err
	}
	def, err := h.Engine.GetDefinition(ctx, resp.Sessions[0])
	if err != nil {
		return resp, err
	}
	err = h.savePrisoners(ctx, &resp,
		session.Prisoner{ID: "F6789GH", Prison: prison, Category: "C", Incentive: "STD", Levels: [4]string{"H", "1", "010"}},
		session.Prisoner{ID: "G7890HJ", Prison: prison, Category: "D", Incentive: "ENH", Levels: [4]string{"H", "2", "004"}},
	)
	if err != nil {
		return resp, err
	}

	date, ok := firstBookable(def, h.Engine.Policy(), today)
	if !ok {
		return resp, fmt.Errorf("no bookable date for %s", def.Reference)
	}

	held, err := h.Engine.Reserve(ctx, booking.ReserveRequest{
		PrisonerID:    "F6789GH",
		DefinitionRef: def.Reference,
		Date:          date,
		Restriction:   session.RestrictionOpen,
		Visitors:      []booking.Visitor{{PersonID: 4729510, Name: "Jane Smith", VisitContact: true}},
		Contact:       &booking.Contact{Name: "Jane Smith", Telephone: "01234 567890"},
	})
	if err != nil {
		return resp, err
	}
	b, err := h.Engine.Complete(ctx, held.Reference)
	if err != nil {
		return resp, err
	}
	resp.Bookings = append(resp.Bookings, b.Reference)

	// Left held so the session shows one seat taken by a hold.
	_, err = h.Engine.Reserve(ctx, booking.ReserveRequest{
		PrisonerID:    "G7890HJ",
		DefinitionRef: def.Reference,
		Date:          date,
		Restriction:   session.RestrictionOpen,
		Visitors:      []booking.Visitor{{PersonID: 4729877, Name: "Tom Jones"}},
	})
	return resp, err
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) createDefinitions(ctx context.Context, resp *LoadScenarioResponse, defs ...session.Definition) error {
	for _, def := range defs {
		created, err := h.Engine.CreateDefinition(ctx, def, false)
		if err != nil {
			return err
		}
		resp.Sessions = append(resp.Sessions, created.Reference)
	}
	return nil
}

func (h *Handler) savePrisoners(ctx context.Context, resp *LoadScenarioResponse, prisoners ...session.Prisoner) error {
	for _, p := range prisoners {
		if err := h.Prisoners.SavePrisoner(ctx, p); err != nil {
			return err
		}
		resp.Prisoners = append(resp.Prisoners, p.ID)
	}
	return nil
}

// firstBookable is the earliest occurrence inside the booking window.
func firstBookable(def session.Definition, p booking.Policy, today session.Date) (session.Date, bool) {
	from := today.AddDays(p.MinNoticeDays)
	for d := range session.OccurrencesBetween(from, from.AddWeeks(def.Frequency()+1), def) {
		return d, true
	}
	return session.Date{}, false
}
