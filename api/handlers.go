/*
handlers.go - HTTP API handlers for the visit scheduler

PURPOSE:
  Exposes the booking engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to the engine.

ENDPOINTS:
  Session templates:
    GET    /api/sessions                    List templates (?prisonId=)
    POST   /api/sessions                    Create template (?override=true skips overlap check)
    GET    /api/sessions/{ref}              Get template
    PATCH  /api/sessions/{ref}              Partial update (?override=true)
    GET    /api/sessions/available          Bookable occurrences (?prisonId=&prisonerId=&from=&to=)

  Reservations (capacity holds):
    POST   /api/reservations                Reserve
    GET    /api/reservations/{ref}          Get
    PUT    /api/reservations/{ref}          Change a held reservation
    POST   /api/reservations/{ref}/complete Confirm into a booking
    DELETE /api/reservations/{ref}          Cancel (hold or the booking it produced)

  Bookings:
    GET    /api/bookings                    List (?prisonerId=&prisonId=&status=&from=)
    GET    /api/bookings/{ref}              Get
    POST   /api/bookings/{ref}/change       Open a change hold on a booking
    DELETE /api/bookings/{ref}              Cancel

  Prisoners:
    GET    /api/prisoners/{id}              Get classification
    PUT    /api/prisoners/{id}              Save classification

  Migration:
    POST   /api/migration/visits            Import a legacy visit
    POST   /api/migration/match             Rank candidate sessions without writing

  Admin:
    GET    /api/admin/jobs                  Last run of each background task
    POST   /api/admin/jobs/{task}/run       Run a task now

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Resource not found
  - 409: Capacity exceeded, scheduling conflict, task already running
  - 422: No session matches a migrated visit
  - 500: Internal errors

SECURITY NOTE:
  No authentication or authorization. Deploy behind the gateway.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo data loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/warp/visit-scheduler/booking"
	"github.com/warp/visit-scheduler/jobs"
	"github.com/warp/visit-scheduler/session"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine    *booking.Engine
	Prisoners booking.PrisonerStore
	Scheduler *jobs.Scheduler // optional; admin endpoints return 404 without it

	log zerolog.Logger
}

// NewHandler creates a handler. The store supplies prisoner data.
func NewHandler(engine *booking.Engine, prisoners booking.PrisonerStore, scheduler *jobs.Scheduler, logger zerolog.Logger) *Handler {
	return &Handler{
		Engine:    engine,
		Prisoners: prisoners,
		Scheduler: scheduler,
		log:       logger.With().Str("component", "api").Logger(),
	}
}

// =============================================================================
// SESSION TEMPLATE HANDLERS
// =============================================================================

func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	defs, err := h.Engine.ListDefinitions(r.Context(), r.URL.Query().Get("prisonId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	dtos := make([]SessionTemplateDTO, len(defs))
	for i, d := range defs {
		dtos[i] = toSessionTemplateDTO(d)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req SessionTemplateDTO
	if !decode(w, r, &req) {
		return
	}
	def, err := req.toDefinition()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	created, err := h.Engine.CreateDefinition(r.Context(), def, override(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSessionTemplateDTO(created))
}

func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	def, err := h.Engine.GetDefinition(r.Context(), chi.URLParam(r, "ref"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionTemplateDTO(def))
}

func (h *Handler) UpdateSession(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "ref")
	var req UpdateSessionTemplateRequest
	if !decode(w, r, &req) {
		return
	}
	current, err := h.Engine.GetDefinition(r.Context(), ref)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	u, err := req.toUpdate(current)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	updated, err := h.Engine.UpdateDefinition(r.Context(), ref, u, override(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionTemplateDTO(updated))
}

func (h *Handler) AvailableSessions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	prison := q.Get("prisonId")
	if prison == "" {
		h.writeError(w, r, session.NewValidationError("prisonId", "is required"))
		return
	}
	ve := &session.ValidationError{}
	from := dateParam(ve, q.Get("from"), "from", session.Date{})
	to := dateParam(ve, q.Get("to"), "to", session.Date{})
	if err := ve.OrNil(); err != nil {
		h.writeError(w, r, err)
		return
	}
	if from.IsZero() {
		from = session.Today()
	}
	if to.IsZero() {
		to = from.AddDays(h.Engine.Policy().MaxNoticeDays)
	}

	list, err := h.Engine.AvailableSessions(r.Context(), prison, q.Get("prisonerId"), from, to)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	dtos := make([]AvailableSessionDTO, len(list))
	for i, s := range list {
		dtos[i] = toAvailableSessionDTO(s)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// RESERVATION HANDLERS
// =============================================================================

func (h *Handler) Reserve(w http.ResponseWriter, r *http.Request) {
	var req booking.ReserveRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.Engine.Reserve(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toReservationDTO(res))
}

func (h *Handler) GetReservation(w http.ResponseWriter, r *http.Request) {
	res, err := h.Engine.GetReservation(r.Context(), chi.URLParam(r, "ref"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toReservationDTO(res))
}

func (h *Handler) ChangeReservation(w http.ResponseWriter, r *http.Request) {
	var req booking.ChangeRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.Engine.Change(r.Context(), chi.URLParam(r, "ref"), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toReservationDTO(res))
}

func (h *Handler) CompleteReservation(w http.ResponseWriter, r *http.Request) {
	b, err := h.Engine.Complete(r.Context(), chi.URLParam(r, "ref"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingDTO(b))
}

// Cancel handles both DELETE /reservations/{ref} and DELETE /bookings/{ref}.
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	if err := h.Engine.Cancel(r.Context(), chi.URLParam(r, "ref")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// BOOKING HANDLERS
// =============================================================================

func (h *Handler) ListBookings(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := booking.BookingFilter{
		PrisonerID: q.Get("prisonerId"),
		Prison:     q.Get("prisonId"),
		Status:     booking.BookingStatus(q.Get("status")),
	}
	if v := q.Get("from"); v != "" {
		ve := &session.ValidationError{}
		from := dateParam(ve, v, "from", session.Date{})
		if err := ve.OrNil(); err != nil {
			h.writeError(w, r, err)
			return
		}
		f.FromDate = &from
	}
	list, err := h.Engine.ListBookings(r.Context(), f)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	dtos := make([]BookingDTO, len(list))
	for i, b := range list {
		dtos[i] = toBookingDTO(b)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) GetBooking(w http.ResponseWriter, r *http.Request) {
	b, err := h.Engine.GetBooking(r.Context(), chi.URLParam(r, "ref"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingDTO(b))
}

// ChangeBooking opens a held reservation against an existing booking. The
// booking keeps its unit until the hold is completed or expires.
func (h *Handler) ChangeBooking(w http.ResponseWriter, r *http.Request) {
	var req booking.ReserveRequest
	if !decode(w, r, &req) {
		return
	}
	req.BookingRef = chi.URLParam(r, "ref")
	res, err := h.Engine.Reserve(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toReservationDTO(res))
}

// =============================================================================
// PRISONER HANDLERS
// =============================================================================

func (h *Handler) GetPrisoner(w http.ResponseWriter, r *http.Request) {
	p, err := h.Prisoners.Prisoner(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPrisonerDTO(p))
}

func (h *Handler) SavePrisoner(w http.ResponseWriter, r *http.Request) {
	var req PrisonerDTO
	if !decode(w, r, &req) {
		return
	}
	req.PrisonerID = chi.URLParam(r, "id")
	if req.PrisonID == "" {
		h.writeError(w, r, session.NewValidationError("prisonId", "is required"))
		return
	}
	if err := h.Prisoners.SavePrisoner(r.Context(), req.toPrisoner()); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// =============================================================================
// MIGRATION HANDLERS
// =============================================================================

func (h *Handler) MigrateVisit(w http.ResponseWriter, r *http.Request) {
	var req MigrateVisitRequest
	if !decode(w, r, &req) {
		return
	}
	b, err := h.Engine.ImportMigratedVisit(r.Context(), req.toRequest())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toBookingDTO(b))
}

func (h *Handler) MatchVisit(w http.ResponseWriter, r *http.Request) {
	var req MigrateVisitRequest
	if !decode(w, r, &req) {
		return
	}
	best, ranked, err := h.Engine.MatchMigratedVisit(r.Context(), req.legacyVisit())
	resp := MatchResponse{Candidates: toScoreDTOs(ranked)}
	var miss *session.MigrationMatchError
	switch {
	case err == nil:
		dto := toSessionTemplateDTO(best)
		resp.Match = &dto
	case errors.As(err, &miss):
		resp.Reason = miss.Reason
	default:
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

func (h *Handler) ListJobRuns(w http.ResponseWriter, r *http.Request) {
	if h.Scheduler == nil {
		writeJSON(w, http.StatusOK, []jobs.Run{})
		return
	}
	writeJSON(w, http.StatusOK, h.Scheduler.LastRuns())
}

func (h *Handler) RunJob(w http.ResponseWriter, r *http.Request) {
	if h.Scheduler == nil {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "background jobs are not configured"})
		return
	}
	res, err := h.Scheduler.RunNow(r.Context(), chi.URLParam(r, "task"))
	switch {
	case errors.Is(err, jobs.ErrUnknownTask):
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "unknown task", Details: err.Error()})
	case errors.Is(err, jobs.ErrLocked):
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: err.Error()})
	case err != nil:
		h.writeError(w, r, err)
	default:
		writeJSON(w, http.StatusOK, res)
	}
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError maps the session error taxonomy onto HTTP statuses.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		ve       *session.ValidationError
		full     *session.CapacityExceededError
		conflict *session.SchedulingConflictError
	)
	switch {
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "validation failed", Fields: ve.Fields})
	case session.IsNotFound(err):
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "not found", Details: err.Error()})
	case errors.As(err, &full):
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: "capacity exceeded", Details: err.Error()})
	case errors.As(err, &conflict):
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: "scheduling conflict", Details: err.Error()})
	case errors.Is(err, session.ErrMigrationMatch):
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{Error: "no matching session", Details: err.Error()})
	default:
		zerolog.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
	}
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Details: err.Error()})
		return false
	}
	return true
}

func override(r *http.Request) bool {
	v, _ := strconv.ParseBool(r.URL.Query().Get("override"))
	return v
}

func dateParam(ve *session.ValidationError, raw, field string, def session.Date) session.Date {
	if raw == "" {
		return def
	}
	d, err := session.ParseDate(raw)
	if err != nil {
		ve.Add(field, "must be a date (YYYY-MM-DD)")
		return def
	}
	return d
}
