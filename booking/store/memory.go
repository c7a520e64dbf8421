// Package store provides an in-memory booking.TxStore.
package store

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/warp/visit-scheduler/booking"
	"github.com/warp/visit-scheduler/reference"
	"github.com/warp/visit-scheduler/session"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory serializes every call, including whole transactions, behind one
// mutex. Transactions are simulated with a snapshot and rollback on error.
type Memory struct {
	mu sync.Mutex
	st *state
}

var (
	_ booking.TxStore = (*Memory)(nil)
	_ booking.Store   = (*state)(nil)
)

// NewMemory builds an empty store. A nil encoder uses a fixed development salt.
func NewMemory(enc reference.Encoder) *Memory {
	if enc == nil {
		enc = reference.MustNew("memory", reference.DefaultMinLength)
	}
	return &Memory{st: newState(enc)}
}

// WithTx executes fn within a transaction.
func (m *Memory) WithTx(_ context.Context, fn func(booking.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.st.clone()
	if err := fn(m.st); err != nil {
		m.st = snapshot
		return err
	}
	return nil
}

func (m *Memory) CreateDefinition(ctx context.Context, def session.Definition) (session.Definition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.CreateDefinition(ctx, def)
}

func (m *Memory) UpdateDefinition(ctx context.Context, def session.Definition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.UpdateDefinition(ctx, def)
}

func (m *Memory) GetDefinition(ctx context.Context, ref string) (session.Definition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.GetDefinition(ctx, ref)
}

func (m *Memory) ListDefinitions(ctx context.Context, prison string) ([]session.Definition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.ListDefinitions(ctx, prison)
}

func (m *Memory) GetOrCreateOccurrence(ctx context.Context, definitionRef string, date session.Date) (booking.Occurrence, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.GetOrCreateOccurrence(ctx, definitionRef, date)
}

func (m *Memory) FindOccurrence(ctx context.Context, definitionRef string, date session.Date) (booking.Occurrence, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.FindOccurrence(ctx, definitionRef, date)
}

func (m *Memory) CreateReservation(ctx context.Context, r booking.Reservation) (booking.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.CreateReservation(ctx, r)
}

func (m *Memory) UpdateReservation(ctx context.Context, r booking.Reservation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.UpdateReservation(ctx, r)
}

func (m *Memory) GetReservation(ctx context.Context, ref string) (booking.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.GetReservation(ctx, ref)
}

func (m *Memory) DeleteReservation(ctx context.Context, ref string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.DeleteReservation(ctx, ref)
}

func (m *Memory) ListReservations(ctx context.Context, f booking.ReservationFilter) ([]booking.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.ListReservations(ctx, f)
}

func (m *Memory) CreateBooking(ctx context.Context, b booking.Booking) (booking.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.CreateBooking(ctx, b)
}

func (m *Memory) UpdateBooking(ctx context.Context, b booking.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.UpdateBooking(ctx, b)
}

func (m *Memory) GetBooking(ctx context.Context, ref string) (booking.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.GetBooking(ctx, ref)
}

func (m *Memory) ListBookings(ctx context.Context, f booking.BookingFilter) ([]booking.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.ListBookings(ctx, f)
}

func (m *Memory) SavePrisoner(ctx context.Context, p session.Prisoner) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.SavePrisoner(ctx, p)
}

func (m *Memory) Prisoner(ctx context.Context, id string) (session.Prisoner, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.Prisoner(ctx, id)
}

// =============================================================================
// STATE - The unlocked data, also handed to WithTx callbacks
// =============================================================================

type occurrenceKey struct {
	definition int64
	date       string
}

type state struct {
	enc            reference.Encoder
	seq            map[reference.Kind]int64
	definitions    map[int64]session.Definition
	occurrences    map[int64]booking.Occurrence
	occurrenceKeys map[occurrenceKey]int64
	reservations   map[int64]booking.Reservation
	bookings       map[int64]booking.Booking
	prisoners      map[string]session.Prisoner
}

func newState(enc reference.Encoder) *state {
	return &state{
		enc:            enc,
		seq:            make(map[reference.Kind]int64),
		definitions:    make(map[int64]session.Definition),
		occurrences:    make(map[int64]booking.Occurrence),
		occurrenceKeys: make(map[occurrenceKey]int64),
		reservations:   make(map[int64]booking.Reservation),
		bookings:       make(map[int64]booking.Booking),
		prisoners:      make(map[string]session.Prisoner),
	}
}

// clone copies every map. Values are replaced wholesale on write, never
// mutated in place, so copying the maps is enough for rollback.
func (s *state) clone() *state {
	return &state{
		enc:            s.enc,
		seq:            maps.Clone(s.seq),
		definitions:    maps.Clone(s.definitions),
		occurrences:    maps.Clone(s.occurrences),
		occurrenceKeys: maps.Clone(s.occurrenceKeys),
		reservations:   maps.Clone(s.reservations),
		bookings:       maps.Clone(s.bookings),
		prisoners:      maps.Clone(s.prisoners),
	}
}

func (s *state) next(kind reference.Kind) (int64, string) {
	s.seq[kind]++
	id := s.seq[kind]
	return id, s.enc.Encode(kind, id)
}

func (s *state) decode(kind reference.Kind, entity, ref string) (int64, error) {
	id, err := s.enc.Decode(kind, ref)
	if err != nil {
		return 0, &session.NotFoundError{Kind: entity, Reference: ref}
	}
	return id, nil
}

func sortedIDs[V any](m map[int64]V) []int64 {
	return slices.Sorted(maps.Keys(m))
}

// --- definitions ---

func (s *state) CreateDefinition(_ context.Context, def session.Definition) (session.Definition, error) {
	id, ref := s.next(reference.KindDefinition)
	def.Reference = ref
	s.definitions[id] = def
	return def, nil
}

func (s *state) UpdateDefinition(_ context.Context, def session.Definition) error {
	id, err := s.decode(reference.KindDefinition, "definition", def.Reference)
	if err != nil {
		return err
	}
	if _, ok := s.definitions[id]; !ok {
		return &session.NotFoundError{Kind: "definition", Reference: def.Reference}
	}
	s.definitions[id] = def
	return nil
}

func (s *state) GetDefinition(_ context.Context, ref string) (session.Definition, error) {
	id, err := s.decode(reference.KindDefinition, "definition", ref)
	if err != nil {
		return session.Definition{}, err
	}
	def, ok := s.definitions[id]
	if !ok {
		return session.Definition{}, &session.NotFoundError{Kind: "definition", Reference: ref}
	}
	return def, nil
}

func (s *state) ListDefinitions(_ context.Context, prison string) ([]session.Definition, error) {
	var out []session.Definition
	for _, id := range sortedIDs(s.definitions) {
		def := s.definitions[id]
		if prison == "" || def.Prison == prison {
			out = append(out, def)
		}
	}
	return out, nil
}

// --- occurrences ---

func (s *state) GetOrCreateOccurrence(ctx context.Context, definitionRef string, date session.Date) (booking.Occurrence, error) {
	occ, found, err := s.FindOccurrence(ctx, definitionRef, date)
	if err != nil || found {
		return occ, err
	}
	defID, _ := s.decode(reference.KindDefinition, "definition", definitionRef)
	id, ref := s.next(reference.KindOccurrence)
	occ = booking.Occurrence{Reference: ref, DefinitionRef: definitionRef, Date: date}
	s.occurrences[id] = occ
	s.occurrenceKeys[occurrenceKey{definition: defID, date: date.String()}] = id
	return occ, nil
}

func (s *state) FindOccurrence(_ context.Context, definitionRef string, date session.Date) (booking.Occurrence, bool, error) {
	defID, err := s.decode(reference.KindDefinition, "definition", definitionRef)
	if err != nil {
		return booking.Occurrence{}, false, err
	}
	if _, ok := s.definitions[defID]; !ok {
		return booking.Occurrence{}, false, &session.NotFoundError{Kind: "definition", Reference: definitionRef}
	}
	id, ok := s.occurrenceKeys[occurrenceKey{definition: defID, date: date.String()}]
	if !ok {
		return booking.Occurrence{}, false, nil
	}
	return s.occurrences[id], true, nil
}

// --- reservations ---

func (s *state) CreateReservation(_ context.Context, r booking.Reservation) (booking.Reservation, error) {
	id, ref := s.next(reference.KindReservation)
	r.Reference = ref
	r.Visitors = slices.Clone(r.Visitors)
	s.reservations[id] = r
	return r, nil
}

func (s *state) UpdateReservation(_ context.Context, r booking.Reservation) error {
	id, err := s.decode(reference.KindReservation, "reservation", r.Reference)
	if err != nil {
		return err
	}
	if _, ok := s.reservations[id]; !ok {
		return &session.NotFoundError{Kind: "reservation", Reference: r.Reference}
	}
	r.Visitors = slices.Clone(r.Visitors)
	s.reservations[id] = r
	return nil
}

func (s *state) GetReservation(_ context.Context, ref string) (booking.Reservation, error) {
	id, err := s.decode(reference.KindReservation, "reservation", ref)
	if err != nil {
		return booking.Reservation{}, err
	}
	r, ok := s.reservations[id]
	if !ok {
		return booking.Reservation{}, &session.NotFoundError{Kind: "reservation", Reference: ref}
	}
	return r, nil
}

func (s *state) DeleteReservation(_ context.Context, ref string) (bool, error) {
	id, err := s.enc.Decode(reference.KindReservation, ref)
	if err != nil {
		return false, nil
	}
	if _, ok := s.reservations[id]; !ok {
		return false, nil
	}
	delete(s.reservations, id)
	return true, nil
}

func (s *state) ListReservations(_ context.Context, f booking.ReservationFilter) ([]booking.Reservation, error) {
	var out []booking.Reservation
	for _, id := range sortedIDs(s.reservations) {
		if r := s.reservations[id]; f.Matches(r) {
			out = append(out, r)
		}
	}
	return out, nil
}

// --- bookings ---

func (s *state) CreateBooking(_ context.Context, b booking.Booking) (booking.Booking, error) {
	id, ref := s.next(reference.KindBooking)
	b.Reference = ref
	b.Visitors = slices.Clone(b.Visitors)
	s.bookings[id] = b
	return b, nil
}

func (s *state) UpdateBooking(_ context.Context, b booking.Booking) error {
	id, err := s.decode(reference.KindBooking, "booking", b.Reference)
	if err != nil {
		return err
	}
	if _, ok := s.bookings[id]; !ok {
		return &session.NotFoundError{Kind: "booking", Reference: b.Reference}
	}
	b.Visitors = slices.Clone(b.Visitors)
	s.bookings[id] = b
	return nil
}

func (s *state) GetBooking(_ context.Context, ref string) (booking.Booking, error) {
	id, err := s.decode(reference.KindBooking, "booking", ref)
	if err != nil {
		return booking.Booking{}, err
	}
	b, ok := s.bookings[id]
	if !ok {
		return booking.Booking{}, &session.NotFoundError{Kind: "booking", Reference: ref}
	}
	return b, nil
}

func (s *state) ListBookings(_ context.Context, f booking.BookingFilter) ([]booking.Booking, error) {
	var out []booking.Booking
	for _, id := range sortedIDs(s.bookings) {
		if b := s.bookings[id]; f.Matches(b) {
			out = append(out, b)
		}
	}
	return out, nil
}

// --- prisoners ---

func (s *state) SavePrisoner(_ context.Context, p session.Prisoner) error {
	s.prisoners[p.ID] = p
	return nil
}

func (s *state) Prisoner(_ context.Context, id string) (session.Prisoner, error) {
	p, ok := s.prisoners[id]
	if !ok {
		return session.Prisoner{}, &session.NotFoundError{Kind: "prisoner", Reference: id}
	}
	return p, nil
}
