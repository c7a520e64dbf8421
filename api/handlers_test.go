/*
handlers_test.go - HTTP tests for the API handlers

Tests for:
- Session template create/get/update/list and error mapping
- Reserve -> complete -> cancel over HTTP
- Capacity and scheduling conflicts (409)
- Prisoner classification round trip
- Migration match dry run
- Admin job endpoints
*/
package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/visit-scheduler/booking"
	"github.com/warp/visit-scheduler/booking/store"
	"github.com/warp/visit-scheduler/jobs"
	"github.com/warp/visit-scheduler/session"
)

// =============================================================================
// TEST FIXTURES
// =============================================================================

type apiFixture struct {
	t      *testing.T
	store  *store.Memory
	engine *booking.Engine
	router http.Handler
}

func newAPI(t *testing.T) *apiFixture {
	st := store.NewMemory(nil)
	engine := booking.NewEngine(st, nil, booking.DefaultPolicy(), booking.WithLogger(zerolog.Nop()))
	h := NewHandler(engine, st, nil, zerolog.Nop())
	return &apiFixture{t: t, store: st, engine: engine, router: NewRouter(h, nil)}
}

func (f *apiFixture) do(method, path string, body any) *httptest.ResponseRecorder {
	f.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(f.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

// visitDate is comfortably inside the default booking window.
func visitDate() session.Date { return session.Today().AddDays(5) }

func template(capacity int) SessionTemplateDTO {
	d := visitDate()
	return SessionTemplateDTO{
		Name:            "Morning",
		PrisonID:        "MDI",
		VisitRoom:       "Visits hall",
		DayOfWeek:       strings.ToUpper(d.Weekday().String()),
		StartTime:       session.NewTimeOfDay(9, 0),
		EndTime:         session.NewTimeOfDay(10, 0),
		ValidFromDate:   session.Today(),
		WeeklyFrequency: 1,
		OpenCapacity:    capacity,
		ClosedCapacity:  1,
	}
}

func (f *apiFixture) createTemplate(dto SessionTemplateDTO) SessionTemplateDTO {
	f.t.Helper()
	rec := f.do(http.MethodPost, "/api/sessions", dto)
	require.Equal(f.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody[SessionTemplateDTO](f.t, rec)
}

func reserveRequest(prisoner, ref string) booking.ReserveRequest {
	return booking.ReserveRequest{
		PrisonerID:    prisoner,
		DefinitionRef: ref,
		Date:          visitDate(),
		Restriction:   session.RestrictionOpen,
		Visitors:      []booking.Visitor{{PersonID: 101, Name: "Ann Other"}},
		Contact:       &booking.Contact{Name: "Ann Other", Telephone: "0114 496 0000"},
	}
}

// =============================================================================
// SESSION TEMPLATES
// =============================================================================

func TestSessionTemplate_Lifecycle(t *testing.T) {
	// GIVEN: A created session template
	// WHEN: Getting, listing and renaming it
	// THEN: Each call sees the same reference and the rename sticks

	f := newAPI(t)
	created := f.createTemplate(template(10))
	require.NotEmpty(t, created.Reference)
	assert.Equal(t, strings.ToUpper(visitDate().Weekday().String()), created.DayOfWeek)

	rec := f.do(http.MethodGet, "/api/sessions/"+created.Reference, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Morning", decodeBody[SessionTemplateDTO](t, rec).Name)

	rec = f.do(http.MethodGet, "/api/sessions?prisonId=MDI", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]SessionTemplateDTO](t, rec), 1)

	rec = f.do(http.MethodGet, "/api/sessions?prisonId=LEI", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeBody[[]SessionTemplateDTO](t, rec))

	name := "Morning (main hall)"
	rec = f.do(http.MethodPatch, "/api/sessions/"+created.Reference, UpdateSessionTemplateRequest{Name: &name})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, name, decodeBody[SessionTemplateDTO](t, rec).Name)
}

func TestCreateSession_ValidationFields(t *testing.T) {
	f := newAPI(t)
	dto := template(10)
	dto.PrisonID = ""
	dto.EndTime = dto.StartTime

	rec := f.do(http.MethodPost, "/api/sessions", dto)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeBody[ErrorResponse](t, rec)
	assert.Contains(t, resp.Fields, "prisonId")
	assert.Contains(t, resp.Fields, "endTime")
}

func TestCreateSession_OverlapConflict(t *testing.T) {
	// GIVEN: A template already covering the slot
	// WHEN: Creating an identical one, then again with override
	// THEN: 409 first, 201 once the overlap check is overridden

	f := newAPI(t)
	f.createTemplate(template(10))

	rec := f.do(http.MethodPost, "/api/sessions", template(10))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "scheduling conflict", decodeBody[ErrorResponse](t, rec).Error)

	rec = f.do(http.MethodPost, "/api/sessions?override=true", template(10))
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestGetSession_NotFound(t *testing.T) {
	f := newAPI(t)

	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/api/sessions/not-a-ref", nil).Code)
}

func TestBadBody(t *testing.T) {
	f := newAPI(t)
	req := httptest.NewRequest(http.MethodPost, "/api/reservations", strings.NewReader("{"))
	rec := httptest.NewRecorder()

	f.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid request body", decodeBody[ErrorResponse](t, rec).Error)
}

// =============================================================================
// AVAILABILITY
// =============================================================================

func TestAvailableSessions(t *testing.T) {
	// GIVEN: A one-seat template with a held reservation on visitDate
	// WHEN: Listing availability around that date
	// THEN: visitDate shows no open seats left

	f := newAPI(t)
	tmpl := f.createTemplate(template(1))
	rec := f.do(http.MethodPost, "/api/reservations", reserveRequest("A1234BC", tmpl.Reference))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	d := visitDate().String()
	rec = f.do(http.MethodGet, "/api/sessions/available?prisonId=MDI&from="+d+"&to="+d, nil)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	list := decodeBody[[]AvailableSessionDTO](t, rec)
	require.Len(t, list, 1)
	assert.Equal(t, tmpl.Reference, list[0].SessionTemplateReference)
	assert.Equal(t, 0, list[0].OpenRemaining)
	assert.Equal(t, 1, list[0].ClosedRemaining)
}

func TestAvailableSessions_BadParams(t *testing.T) {
	f := newAPI(t)

	rec := f.do(http.MethodGet, "/api/sessions/available", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodGet, "/api/sessions/available?prisonId=MDI&from=tomorrow", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeBody[ErrorResponse](t, rec).Fields, "from")
}

// =============================================================================
// RESERVATIONS AND BOOKINGS
// =============================================================================

func TestReserveCompleteCancel(t *testing.T) {
	// GIVEN: A session template
	// WHEN: Reserving, completing, then cancelling through the booking
	// THEN: The booking moves from booked to cancelled

	f := newAPI(t)
	tmpl := f.createTemplate(template(5))

	rec := f.do(http.MethodPost, "/api/reservations", reserveRequest("A1234BC", tmpl.Reference))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	res := decodeBody[ReservationDTO](t, rec)
	assert.Equal(t, "held", res.Status)

	rec = f.do(http.MethodGet, "/api/reservations/"+res.Reference, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(http.MethodPost, "/api/reservations/"+res.Reference+"/complete", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	b := decodeBody[BookingDTO](t, rec)
	assert.Equal(t, "booked", b.Status)
	assert.Equal(t, res.Reference, b.ReservationReference)

	rec = f.do(http.MethodGet, "/api/bookings?prisonerId=A1234BC", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]BookingDTO](t, rec), 1)

	rec = f.do(http.MethodDelete, "/api/bookings/"+b.Reference, nil)
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	rec = f.do(http.MethodGet, "/api/bookings/"+b.Reference, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "cancelled", decodeBody[BookingDTO](t, rec).Status)

	rec = f.do(http.MethodDelete, "/api/bookings/"+b.Reference, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReserve_CapacityExceeded(t *testing.T) {
	f := newAPI(t)
	tmpl := f.createTemplate(template(1))
	require.Equal(t, http.StatusCreated, f.do(http.MethodPost, "/api/reservations", reserveRequest("A1234BC", tmpl.Reference)).Code)

	rec := f.do(http.MethodPost, "/api/reservations", reserveRequest("B2345CD", tmpl.Reference))

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "capacity exceeded", decodeBody[ErrorResponse](t, rec).Error)
}

func TestChangeReservation(t *testing.T) {
	f := newAPI(t)
	tmpl := f.createTemplate(template(5))
	res := decodeBody[ReservationDTO](t, f.do(http.MethodPost, "/api/reservations", reserveRequest("A1234BC", tmpl.Reference)))

	closed := session.RestrictionClosed
	rec := f.do(http.MethodPut, "/api/reservations/"+res.Reference, booking.ChangeRequest{Restriction: &closed})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, session.RestrictionClosed, decodeBody[ReservationDTO](t, rec).SessionRestriction)
}

func TestChangeBooking_OpensHold(t *testing.T) {
	// GIVEN: A booking
	// WHEN: Posting a change against it
	// THEN: A new held reservation points back at the booking

	f := newAPI(t)
	tmpl := f.createTemplate(template(5))
	res := decodeBody[ReservationDTO](t, f.do(http.MethodPost, "/api/reservations", reserveRequest("A1234BC", tmpl.Reference)))
	b := decodeBody[BookingDTO](t, f.do(http.MethodPost, "/api/reservations/"+res.Reference+"/complete", nil))

	rec := f.do(http.MethodPost, "/api/bookings/"+b.Reference+"/change", reserveRequest("A1234BC", tmpl.Reference))

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	hold := decodeBody[ReservationDTO](t, rec)
	assert.Equal(t, b.Reference, hold.BookingReference)
	assert.Equal(t, "held", hold.Status)
}

// =============================================================================
// PRISONERS
// =============================================================================

func TestPrisoner_SaveAndGet(t *testing.T) {
	f := newAPI(t)

	rec := f.do(http.MethodPut, "/api/prisoners/A1234BC", PrisonerDTO{
		PrisonID:       "MDI",
		Category:       "C",
		IncentiveLevel: "ENH",
		Location:       []string{"A", "1", "001"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(http.MethodGet, "/api/prisoners/A1234BC", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	p := decodeBody[PrisonerDTO](t, rec)
	assert.Equal(t, "A1234BC", p.PrisonerID)
	assert.Equal(t, []string{"A", "1", "001"}, p.Location)

	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/api/prisoners/Z9999ZZ", nil).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPut, "/api/prisoners/A1234BC", PrisonerDTO{}).Code)
}

// =============================================================================
// MIGRATION
// =============================================================================

func TestMatchVisit(t *testing.T) {
	// GIVEN: One 09:00-10:00 template
	// WHEN: Matching a 09:15 legacy visit, then one at another prison
	// THEN: The first matches; the second returns a reason and no match

	f := newAPI(t)
	tmpl := f.createTemplate(template(5))
	visit := MigrateVisitRequest{
		Prisoner:  PrisonerDTO{PrisonerID: "A1234BC", PrisonID: "MDI"},
		PrisonID:  "MDI",
		VisitDate: visitDate(),
		StartTime: session.NewTimeOfDay(9, 15),
		EndTime:   session.NewTimeOfDay(10, 15),
	}

	rec := f.do(http.MethodPost, "/api/migration/match", visit)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decodeBody[MatchResponse](t, rec)
	require.NotNil(t, resp.Match)
	assert.Equal(t, tmpl.Reference, resp.Match.Reference)
	require.Len(t, resp.Candidates, 1)
	assert.Equal(t, 30, resp.Candidates[0].Proximity)

	visit.PrisonID = "LEI"
	rec = f.do(http.MethodPost, "/api/migration/match", visit)
	require.Equal(t, http.StatusOK, rec.Code)
	resp = decodeBody[MatchResponse](t, rec)
	assert.Nil(t, resp.Match)
	assert.NotEmpty(t, resp.Reason)

	visit.VisitRestriction = session.RestrictionOpen
	rec = f.do(http.MethodPost, "/api/migration/visits", visit)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestMigrateVisit(t *testing.T) {
	f := newAPI(t)
	tmpl := f.createTemplate(template(5))

	rec := f.do(http.MethodPost, "/api/migration/visits", MigrateVisitRequest{
		Prisoner:         PrisonerDTO{PrisonerID: "A1234BC", PrisonID: "MDI"},
		PrisonID:         "MDI",
		VisitDate:        visitDate(),
		StartTime:        session.NewTimeOfDay(9, 0),
		EndTime:          session.NewTimeOfDay(10, 0),
		VisitRestriction: session.RestrictionOpen,
		Visitors:         []booking.Visitor{{PersonID: 7}},
	})

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	b := decodeBody[BookingDTO](t, rec)
	assert.True(t, b.Migrated)
	assert.Equal(t, tmpl.Reference, b.SessionTemplateReference)
	assert.NotEmpty(t, b.ReservationReference)
}

// =============================================================================
// ADMIN
// =============================================================================

func TestJobs_NotConfigured(t *testing.T) {
	f := newAPI(t)

	rec := f.do(http.MethodGet, "/api/admin/jobs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]", strings.TrimSpace(rec.Body.String()))

	assert.Equal(t, http.StatusNotFound, f.do(http.MethodPost, "/api/admin/jobs/expire-holds/run", nil).Code)
}

func TestJobs_RunNow(t *testing.T) {
	st := store.NewMemory(nil)
	engine := booking.NewEngine(st, nil, booking.DefaultPolicy(), booking.WithLogger(zerolog.Nop()))
	task := jobs.ExpiryTask(engine, time.Minute)
	sched := jobs.NewScheduler(nil, zerolog.Nop(), task)
	router := NewRouter(NewHandler(engine, st, sched, zerolog.Nop()), nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/admin/jobs/"+task.Name+"/run", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, booking.SweepResult{}, decodeBody[booking.SweepResult](t, rec))

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/admin/jobs/nope/run", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/admin/jobs", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	runs := decodeBody[[]jobs.Run](t, rec)
	require.Len(t, runs, 1)
	assert.Equal(t, task.Name, runs[0].Task)
}

func TestHealthz(t *testing.T) {
	f := newAPI(t)

	rec := f.do(http.MethodGet, "/healthz", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}
