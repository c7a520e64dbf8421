/*
Package sqlite provides a SQLite-backed implementation of booking.TxStore.

PURPOSE:
  Persists session definitions, occurrences, reservations, bookings and the
  local prisoner table. Rows are keyed by INTEGER ids; the outside world
  only sees the opaque references produced by reference.Encoder.

KEY TABLES:
  session_definitions:  definition JSON plus indexed prison / weekday
  session_occurrences:  one row per (definition, date), created lazily
  reservations:         capacity holds, held or completed
  bookings:             confirmed visits, booked or cancelled
  prisoners:            classification data for eligibility checks

INDEXES:
  - idx_reservations_capacity: live-hold count per occurrence (hot path)
  - idx_reservations_expiry:   stale hold sweep
  - idx_bookings_capacity:     booked count per occurrence (hot path)
  - idx_occurrences_unique:    enforces one occurrence per definition and date

CONCURRENCY:
  The capacity check is a read-decide-write sequence. Transactions are
  opened with _txlock=immediate, so the write lock is taken at BEGIN, and
  the pool holds a single connection. Two WithTx calls therefore never
  interleave. Calls outside WithTx queue on the same connection.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Readers on other processes don't block the writer
  - Better crash recovery

TIMESTAMPS:
  Stored as fixed-width UTC strings so that text comparison orders them
  correctly (hold expiry compares modified_at in SQL).

USAGE:
  store, err := sqlite.New("./data/visits.db", enc)
  if err != nil {
      log.Fatal().Err(err).Msg("open store")
  }
  defer store.Close()

  engine := booking.NewEngine(store, notifier, policy)

SEE ALSO:
  - booking/store.go: Interface definitions
  - booking/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"github.com/warp/visit-scheduler/booking"
	"github.com/warp/visit-scheduler/reference"
	"github.com/warp/visit-scheduler/session"
)

const timestampLayout = "2006-01-02T15:04:05.000000000Z"

// Store implements booking.TxStore using SQLite.
type Store struct {
	*repo
	db *sql.DB
}

var _ booking.TxStore = (*Store)(nil)

// New opens (or creates) the database at dbPath and migrates the schema.
// Use ":memory:" for an in-memory database.
func New(dbPath string, enc reference.Encoder) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_txlock=immediate&_busy_timeout=5000")
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}
	// One connection: serializes transactions and keeps ":memory:" alive.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	s := &Store{repo: &repo{q: db, enc: enc}, db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to migrate database")
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS session_definitions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		prison TEXT NOT NULL,
		day_of_week INTEGER NOT NULL,
		definition_json TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_definitions_prison
		ON session_definitions(prison, day_of_week);

	CREATE TABLE IF NOT EXISTS session_occurrences (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		definition_id INTEGER NOT NULL REFERENCES session_definitions(id),
		session_date TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_occurrences_unique
		ON session_occurrences(definition_id, session_date);

	CREATE TABLE IF NOT EXISTS bookings (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		prisoner_id TEXT NOT NULL,
		prison TEXT NOT NULL,
		definition_id INTEGER NOT NULL REFERENCES session_definitions(id),
		occurrence_id INTEGER NOT NULL REFERENCES session_occurrences(id),
		session_date TEXT NOT NULL,
		restriction TEXT NOT NULL,
		visitors_json TEXT NOT NULL,
		contact_json TEXT,
		support TEXT,
		status TEXT NOT NULL,
		current_reservation_id INTEGER,
		flagged BOOLEAN NOT NULL DEFAULT FALSE,
		flag_reason TEXT,
		migrated BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TEXT NOT NULL,
		modified_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_bookings_capacity
		ON bookings(occurrence_id, restriction, status);
	CREATE INDEX IF NOT EXISTS idx_bookings_definition_date
		ON bookings(definition_id, session_date);
	CREATE INDEX IF NOT EXISTS idx_bookings_prisoner
		ON bookings(prisoner_id);

	CREATE TABLE IF NOT EXISTS reservations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		booking_id INTEGER REFERENCES bookings(id),
		prisoner_id TEXT NOT NULL,
		prison TEXT NOT NULL,
		definition_id INTEGER NOT NULL REFERENCES session_definitions(id),
		occurrence_id INTEGER NOT NULL REFERENCES session_occurrences(id),
		session_date TEXT NOT NULL,
		restriction TEXT NOT NULL,
		visitors_json TEXT NOT NULL,
		contact_json TEXT,
		support TEXT,
		status TEXT NOT NULL,
		created_at TEXT NOT NULL,
		modified_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_reservations_capacity
		ON reservations(occurrence_id, restriction, status, modified_at);
	CREATE INDEX IF NOT EXISTS idx_reservations_expiry
		ON reservations(status, modified_at);
	CREATE INDEX IF NOT EXISTS idx_reservations_booking
		ON reservations(booking_id) WHERE booking_id IS NOT NULL;

	CREATE TABLE IF NOT EXISTS prisoners (
		id TEXT PRIMARY KEY,
		prison TEXT,
		category TEXT,
		incentive TEXT,
		level1 TEXT,
		level2 TEXT,
		level3 TEXT,
		level4 TEXT,
		updated_at TEXT NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONAL STORE (booking.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store booking.Store) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer sqlTx.Rollback()

	if err := fn(&repo{q: sqlTx, enc: s.enc}); err != nil {
		return err
	}
	return errors.Wrap(sqlTx.Commit(), "failed to commit transaction")
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// repo implements booking.Store on top of a querier.
type repo struct {
	q   querier
	enc reference.Encoder
}

// =============================================================================
// DEFINITIONS
// =============================================================================

func (r *repo) CreateDefinition(ctx context.Context, def session.Definition) (session.Definition, error) {
	def.Reference = ""
	body, err := json.Marshal(def)
	if err != nil {
		return session.Definition{}, errors.Wrap(err, "encode definition")
	}
	now := formatTime(time.Now())
	res, err := r.q.ExecContext(ctx, `
		INSERT INTO session_definitions (prison, day_of_week, definition_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)`,
		def.Prison, int(def.DayOfWeek), string(body), now, now,
	)
	if err != nil {
		return session.Definition{}, errors.Wrap(err, "insert definition")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return session.Definition{}, errors.Wrap(err, "definition id")
	}
	def.Reference = r.enc.Encode(reference.KindDefinition, id)
	return def, nil
}

func (r *repo) UpdateDefinition(ctx context.Context, def session.Definition) error {
	id, err := r.decode(reference.KindDefinition, "definition", def.Reference)
	if err != nil {
		return err
	}
	stored := def
	stored.Reference = ""
	body, err := json.Marshal(stored)
	if err != nil {
		return errors.Wrap(err, "encode definition")
	}
	res, err := r.q.ExecContext(ctx, `
		UPDATE session_definitions SET prison = ?, day_of_week = ?, definition_json = ?, updated_at = ?
		WHERE id = ?`,
		def.Prison, int(def.DayOfWeek), string(body), formatTime(time.Now()), id,
	)
	if err != nil {
		return errors.Wrap(err, "update definition")
	}
	return requireRow(res, "definition", def.Reference)
}

func (r *repo) GetDefinition(ctx context.Context, ref string) (session.Definition, error) {
	id, err := r.decode(reference.KindDefinition, "definition", ref)
	if err != nil {
		return session.Definition{}, err
	}
	var body string
	err = r.q.QueryRowContext(ctx, `SELECT definition_json FROM session_definitions WHERE id = ?`, id).Scan(&body)
	if err == sql.ErrNoRows {
		return session.Definition{}, &session.NotFoundError{Kind: "definition", Reference: ref}
	}
	if err != nil {
		return session.Definition{}, errors.Wrap(err, "get definition")
	}
	return r.decodeDefinition(id, body)
}

func (r *repo) ListDefinitions(ctx context.Context, prison string) ([]session.Definition, error) {
	query := `SELECT id, definition_json FROM session_definitions`
	var args []any
	if prison != "" {
		query += ` WHERE prison = ?`
		args = append(args, prison)
	}
	rows, err := r.q.QueryContext(ctx, query+` ORDER BY id`, args...)
	if err != nil {
		return nil, errors.Wrap(err, "list definitions")
	}
	defer rows.Close()

	var defs []session.Definition
	for rows.Next() {
		var (
			id   int64
			body string
		)
		if err := rows.Scan(&id, &body); err != nil {
			return nil, errors.Wrap(err, "scan definition")
		}
		def, err := r.decodeDefinition(id, body)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, rows.Err()
}

func (r *repo) decodeDefinition(id int64, body string) (session.Definition, error) {
	var def session.Definition
	if err := json.Unmarshal([]byte(body), &def); err != nil {
		return session.Definition{}, errors.Wrapf(err, "decode definition %d", id)
	}
	def.Reference = r.enc.Encode(reference.KindDefinition, id)
	return def, nil
}

// =============================================================================
// OCCURRENCES
// =============================================================================

func (r *repo) GetOrCreateOccurrence(ctx context.Context, definitionRef string, date session.Date) (booking.Occurrence, error) {
	occ, found, err := r.FindOccurrence(ctx, definitionRef, date)
	if err != nil || found {
		return occ, err
	}
	defID, err := r.decode(reference.KindDefinition, "definition", definitionRef)
	if err != nil {
		return booking.Occurrence{}, err
	}
	res, err := r.q.ExecContext(ctx,
		`INSERT INTO session_occurrences (definition_id, session_date) VALUES (?, ?)`,
		defID, date.String(),
	)
	if err != nil {
		return booking.Occurrence{}, errors.Wrap(err, "insert occurrence")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return booking.Occurrence{}, errors.Wrap(err, "occurrence id")
	}
	return booking.Occurrence{
		Reference:     r.enc.Encode(reference.KindOccurrence, id),
		DefinitionRef: definitionRef,
		Date:          date,
	}, nil
}

func (r *repo) FindOccurrence(ctx context.Context, definitionRef string, date session.Date) (booking.Occurrence, bool, error) {
	defID, err := r.decode(reference.KindDefinition, "definition", definitionRef)
	if err != nil {
		return booking.Occurrence{}, false, err
	}
	var id int64
	err = r.q.QueryRowContext(ctx,
		`SELECT id FROM session_occurrences WHERE definition_id = ? AND session_date = ?`,
		defID, date.String(),
	).Scan(&id)
	switch {
	case err == nil:
		return booking.Occurrence{
			Reference:     r.enc.Encode(reference.KindOccurrence, id),
			DefinitionRef: definitionRef,
			Date:          date,
		}, true, nil
	case err != sql.ErrNoRows:
		return booking.Occurrence{}, false, errors.Wrap(err, "find occurrence")
	}

	var exists int
	err = r.q.QueryRowContext(ctx, `SELECT 1 FROM session_definitions WHERE id = ?`, defID).Scan(&exists)
	if err == sql.ErrNoRows {
		return booking.Occurrence{}, false, &session.NotFoundError{Kind: "definition", Reference: definitionRef}
	}
	if err != nil {
		return booking.Occurrence{}, false, errors.Wrap(err, "find definition")
	}
	return booking.Occurrence{}, false, nil
}

// =============================================================================
// RESERVATIONS
// =============================================================================

const reservationColumns = `id, booking_id, prisoner_id, prison, definition_id, occurrence_id,
	session_date, restriction, visitors_json, contact_json, support, status, created_at, modified_at`

func (r *repo) CreateReservation(ctx context.Context, res booking.Reservation) (booking.Reservation, error) {
	ids, err := r.slotIDs(res.BookingRef, res.DefinitionRef, res.OccurrenceRef)
	if err != nil {
		return booking.Reservation{}, err
	}
	visitors, contact, err := encodeVisit(res.Visitors, res.Contact)
	if err != nil {
		return booking.Reservation{}, err
	}
	result, err := r.q.ExecContext(ctx, `
		INSERT INTO reservations (booking_id, prisoner_id, prison, definition_id, occurrence_id,
			session_date, restriction, visitors_json, contact_json, support, status, created_at, modified_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ids.booking, res.PrisonerID, res.Prison, ids.definition, ids.occurrence,
		res.Date.String(), string(res.Restriction), visitors, contact, nullString(res.Support),
		string(res.Status), formatTime(res.CreatedAt), formatTime(res.ModifiedAt),
	)
	if err != nil {
		return booking.Reservation{}, errors.Wrap(err, "insert reservation")
	}
	id, err := result.LastInsertId()
	if err != nil {
		return booking.Reservation{}, errors.Wrap(err, "reservation id")
	}
	res.Reference = r.enc.Encode(reference.KindReservation, id)
	return res, nil
}

func (r *repo) UpdateReservation(ctx context.Context, res booking.Reservation) error {
	id, err := r.decode(reference.KindReservation, "reservation", res.Reference)
	if err != nil {
		return err
	}
	ids, err := r.slotIDs(res.BookingRef, res.DefinitionRef, res.OccurrenceRef)
	if err != nil {
		return err
	}
	visitors, contact, err := encodeVisit(res.Visitors, res.Contact)
	if err != nil {
		return err
	}
	result, err := r.q.ExecContext(ctx, `
		UPDATE reservations SET booking_id = ?, prisoner_id = ?, prison = ?, definition_id = ?,
			occurrence_id = ?, session_date = ?, restriction = ?, visitors_json = ?, contact_json = ?,
			support = ?, status = ?, modified_at = ?
		WHERE id = ?`,
		ids.booking, res.PrisonerID, res.Prison, ids.definition, ids.occurrence,
		res.Date.String(), string(res.Restriction), visitors, contact, nullString(res.Support),
		string(res.Status), formatTime(res.ModifiedAt), id,
	)
	if err != nil {
		return errors.Wrap(err, "update reservation")
	}
	return requireRow(result, "reservation", res.Reference)
}

func (r *repo) GetReservation(ctx context.Context, ref string) (booking.Reservation, error) {
	id, err := r.decode(reference.KindReservation, "reservation", ref)
	if err != nil {
		return booking.Reservation{}, err
	}
	list, err := r.queryReservations(ctx, `SELECT `+reservationColumns+` FROM reservations WHERE id = ?`, id)
	if err != nil {
		return booking.Reservation{}, err
	}
	if len(list) == 0 {
		return booking.Reservation{}, &session.NotFoundError{Kind: "reservation", Reference: ref}
	}
	return list[0], nil
}

func (r *repo) DeleteReservation(ctx context.Context, ref string) (bool, error) {
	id, err := r.enc.Decode(reference.KindReservation, ref)
	if err != nil {
		return false, nil
	}
	result, err := r.q.ExecContext(ctx, `DELETE FROM reservations WHERE id = ?`, id)
	if err != nil {
		return false, errors.Wrap(err, "delete reservation")
	}
	n, err := result.RowsAffected()
	return n > 0, errors.Wrap(err, "delete reservation")
}

func (r *repo) ListReservations(ctx context.Context, f booking.ReservationFilter) ([]booking.Reservation, error) {
	var w where
	if !w.ref(r.enc, "definition_id", reference.KindDefinition, f.DefinitionRef) ||
		!w.ref(r.enc, "occurrence_id", reference.KindOccurrence, f.OccurrenceRef) ||
		!w.ref(r.enc, "booking_id", reference.KindBooking, f.BookingRef) {
		return nil, nil
	}
	w.excludeRef(r.enc, reference.KindReservation, f.ExcludeRef)
	if f.Restriction != "" {
		w.add("restriction = ?", string(f.Restriction))
	}
	if f.Status != "" {
		w.add("status = ?", string(f.Status))
	}
	if f.FromDate != nil {
		w.add("session_date >= ?", f.FromDate.String())
	}
	if f.ModifiedAfter != nil {
		w.add("modified_at > ?", formatTime(*f.ModifiedAfter))
	}
	if f.ModifiedBefore != nil {
		w.add("modified_at < ?", formatTime(*f.ModifiedBefore))
	}
	return r.queryReservations(ctx, `SELECT `+reservationColumns+` FROM reservations`+w.String()+` ORDER BY id`, w.args...)
}

func (r *repo) queryReservations(ctx context.Context, query string, args ...any) ([]booking.Reservation, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query reservations")
	}
	defer rows.Close()

	var out []booking.Reservation
	for rows.Next() {
		var (
			res                       booking.Reservation
			id, defID, occID          int64
			bookingID                 sql.NullInt64
			date, restriction, status string
			visitors                  string
			contact, support          sql.NullString
			createdAt, modifiedAt     string
		)
		if err := rows.Scan(&id, &bookingID, &res.PrisonerID, &res.Prison, &defID, &occID,
			&date, &restriction, &visitors, &contact, &support, &status, &createdAt, &modifiedAt); err != nil {
			return nil, errors.Wrap(err, "scan reservation")
		}
		res.Reference = r.enc.Encode(reference.KindReservation, id)
		if bookingID.Valid {
			res.BookingRef = r.enc.Encode(reference.KindBooking, bookingID.Int64)
		}
		res.DefinitionRef = r.enc.Encode(reference.KindDefinition, defID)
		res.OccurrenceRef = r.enc.Encode(reference.KindOccurrence, occID)
		res.Restriction = session.Restriction(restriction)
		res.Status = booking.ReservationStatus(status)
		res.Support = support.String
		if res.Date, err = session.ParseDate(date); err != nil {
			return nil, errors.Wrap(err, "parse session date")
		}
		if res.Visitors, res.Contact, err = decodeVisit(visitors, contact); err != nil {
			return nil, err
		}
		res.CreatedAt = parseTime(createdAt)
		res.ModifiedAt = parseTime(modifiedAt)
		out = append(out, res)
	}
	return out, rows.Err()
}

// =============================================================================
// BOOKINGS
// =============================================================================

const bookingColumns = `id, prisoner_id, prison, definition_id, occurrence_id, session_date, restriction,
	visitors_json, contact_json, support, status, current_reservation_id, flagged, flag_reason, migrated,
	created_at, modified_at`

func (r *repo) CreateBooking(ctx context.Context, b booking.Booking) (booking.Booking, error) {
	ids, err := r.slotIDs("", b.DefinitionRef, b.OccurrenceRef)
	if err != nil {
		return booking.Booking{}, err
	}
	current, err := r.optionalID(reference.KindReservation, "reservation", b.CurrentReservationRef)
	if err != nil {
		return booking.Booking{}, err
	}
	visitors, contact, err := encodeVisit(b.Visitors, b.Contact)
	if err != nil {
		return booking.Booking{}, err
	}
	result, err := r.q.ExecContext(ctx, `
		INSERT INTO bookings (prisoner_id, prison, definition_id, occurrence_id, session_date, restriction,
			visitors_json, contact_json, support, status, current_reservation_id, flagged, flag_reason,
			migrated, created_at, modified_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.PrisonerID, b.Prison, ids.definition, ids.occurrence, b.Date.String(), string(b.Restriction),
		visitors, contact, nullString(b.Support), string(b.Status), current, b.Flagged,
		nullString(b.FlagReason), b.Migrated, formatTime(b.CreatedAt), formatTime(b.ModifiedAt),
	)
	if err != nil {
		return booking.Booking{}, errors.Wrap(err, "insert booking")
	}
	id, err := result.LastInsertId()
	if err != nil {
		return booking.Booking{}, errors.Wrap(err, "booking id")
	}
	b.Reference = r.enc.Encode(reference.KindBooking, id)
	return b, nil
}

func (r *repo) UpdateBooking(ctx context.Context, b booking.Booking) error {
	id, err := r.decode(reference.KindBooking, "booking", b.Reference)
	if err != nil {
		return err
	}
	ids, err := r.slotIDs("", b.DefinitionRef, b.OccurrenceRef)
	if err != nil {
		return err
	}
	current, err := r.optionalID(reference.KindReservation, "reservation", b.CurrentReservationRef)
	if err != nil {
		return err
	}
	visitors, contact, err := encodeVisit(b.Visitors, b.Contact)
	if err != nil {
		return err
	}
	result, err := r.q.ExecContext(ctx, `
		UPDATE bookings SET prisoner_id = ?, prison = ?, definition_id = ?, occurrence_id = ?,
			session_date = ?, restriction = ?, visitors_json = ?, contact_json = ?, support = ?,
			status = ?, current_reservation_id = ?, flagged = ?, flag_reason = ?, migrated = ?,
			modified_at = ?
		WHERE id = ?`,
		b.PrisonerID, b.Prison, ids.definition, ids.occurrence, b.Date.String(), string(b.Restriction),
		visitors, contact, nullString(b.Support), string(b.Status), current, b.Flagged,
		nullString(b.FlagReason), b.Migrated, formatTime(b.ModifiedAt), id,
	)
	if err != nil {
		return errors.Wrap(err, "update booking")
	}
	return requireRow(result, "booking", b.Reference)
}

func (r *repo) GetBooking(ctx context.Context, ref string) (booking.Booking, error) {
	id, err := r.decode(reference.KindBooking, "booking", ref)
	if err != nil {
		return booking.Booking{}, err
	}
	list, err := r.queryBookings(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = ?`, id)
	if err != nil {
		return booking.Booking{}, err
	}
	if len(list) == 0 {
		return booking.Booking{}, &session.NotFoundError{Kind: "booking", Reference: ref}
	}
	return list[0], nil
}

func (r *repo) ListBookings(ctx context.Context, f booking.BookingFilter) ([]booking.Booking, error) {
	var w where
	if !w.ref(r.enc, "definition_id", reference.KindDefinition, f.DefinitionRef) ||
		!w.ref(r.enc, "occurrence_id", reference.KindOccurrence, f.OccurrenceRef) {
		return nil, nil
	}
	w.excludeRef(r.enc, reference.KindBooking, f.ExcludeRef)
	if f.PrisonerID != "" {
		w.add("prisoner_id = ?", f.PrisonerID)
	}
	if f.Prison != "" {
		w.add("prison = ?", f.Prison)
	}
	if f.Restriction != "" {
		w.add("restriction = ?", string(f.Restriction))
	}
	if f.Status != "" {
		w.add("status = ?", string(f.Status))
	}
	if f.FromDate != nil {
		w.add("session_date >= ?", f.FromDate.String())
	}
	return r.queryBookings(ctx, `SELECT `+bookingColumns+` FROM bookings`+w.String()+` ORDER BY id`, w.args...)
}

func (r *repo) queryBookings(ctx context.Context, query string, args ...any) ([]booking.Booking, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query bookings")
	}
	defer rows.Close()

	var out []booking.Booking
	for rows.Next() {
		var (
			b                         booking.Booking
			id, defID, occID          int64
			current                   sql.NullInt64
			date, restriction, status string
			visitors                  string
			contact, support, reason  sql.NullString
			createdAt, modifiedAt     string
		)
		if err := rows.Scan(&id, &b.PrisonerID, &b.Prison, &defID, &occID, &date, &restriction,
			&visitors, &contact, &support, &status, &current, &b.Flagged, &reason, &b.Migrated,
			&createdAt, &modifiedAt); err != nil {
			return nil, errors.Wrap(err, "scan booking")
		}
		b.Reference = r.enc.Encode(reference.KindBooking, id)
		b.DefinitionRef = r.enc.Encode(reference.KindDefinition, defID)
		b.OccurrenceRef = r.enc.Encode(reference.KindOccurrence, occID)
		if current.Valid {
			b.CurrentReservationRef = r.enc.Encode(reference.KindReservation, current.Int64)
		}
		b.Restriction = session.Restriction(restriction)
		b.Status = booking.BookingStatus(status)
		b.Support = support.String
		b.FlagReason = reason.String
		if b.Date, err = session.ParseDate(date); err != nil {
			return nil, errors.Wrap(err, "parse session date")
		}
		if b.Visitors, b.Contact, err = decodeVisit(visitors, contact); err != nil {
			return nil, err
		}
		b.CreatedAt = parseTime(createdAt)
		b.ModifiedAt = parseTime(modifiedAt)
		out = append(out, b)
	}
	return out, rows.Err()
}

// =============================================================================
// PRISONERS
// =============================================================================

func (r *repo) SavePrisoner(ctx context.Context, p session.Prisoner) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO prisoners (id, prison, category, incentive, level1, level2, level3, level4, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			prison = excluded.prison,
			category = excluded.category,
			incentive = excluded.incentive,
			level1 = excluded.level1,
			level2 = excluded.level2,
			level3 = excluded.level3,
			level4 = excluded.level4,
			updated_at = excluded.updated_at`,
		p.ID, nullString(p.Prison), nullString(p.Category), nullString(p.Incentive),
		nullString(p.Levels[0]), nullString(p.Levels[1]), nullString(p.Levels[2]), nullString(p.Levels[3]),
		formatTime(time.Now()),
	)
	return errors.Wrap(err, "save prisoner")
}

func (r *repo) Prisoner(ctx context.Context, id string) (session.Prisoner, error) {
	var (
		p                            session.Prisoner
		prison, category, incentive  sql.NullString
		level1, level2, level3, lvl4 sql.NullString
	)
	err := r.q.QueryRowContext(ctx, `
		SELECT id, prison, category, incentive, level1, level2, level3, level4
		FROM prisoners WHERE id = ?`, id,
	).Scan(&p.ID, &prison, &category, &incentive, &level1, &level2, &level3, &lvl4)
	if err == sql.ErrNoRows {
		return session.Prisoner{}, &session.NotFoundError{Kind: "prisoner", Reference: id}
	}
	if err != nil {
		return session.Prisoner{}, errors.Wrap(err, "get prisoner")
	}
	p.Prison = prison.String
	p.Category = category.String
	p.Incentive = incentive.String
	p.Levels = [4]string{level1.String, level2.String, level3.String, lvl4.String}
	return p, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (r *repo) decode(kind reference.Kind, entity, ref string) (int64, error) {
	id, err := r.enc.Decode(kind, ref)
	if err != nil {
		return 0, &session.NotFoundError{Kind: entity, Reference: ref}
	}
	return id, nil
}

func (r *repo) optionalID(kind reference.Kind, entity, ref string) (sql.NullInt64, error) {
	if ref == "" {
		return sql.NullInt64{}, nil
	}
	id, err := r.decode(kind, entity, ref)
	if err != nil {
		return sql.NullInt64{}, err
	}
	return sql.NullInt64{Int64: id, Valid: true}, nil
}

type slotIDs struct {
	booking    sql.NullInt64
	definition int64
	occurrence int64
}

func (r *repo) slotIDs(bookingRef, definitionRef, occurrenceRef string) (slotIDs, error) {
	var (
		ids slotIDs
		err error
	)
	if ids.booking, err = r.optionalID(reference.KindBooking, "booking", bookingRef); err != nil {
		return ids, err
	}
	if ids.definition, err = r.decode(reference.KindDefinition, "definition", definitionRef); err != nil {
		return ids, err
	}
	if ids.occurrence, err = r.decode(reference.KindOccurrence, "occurrence", occurrenceRef); err != nil {
		return ids, err
	}
	return ids, nil
}

// where accumulates AND-ed conditions.
type where struct {
	clauses []string
	args    []any
}

func (w *where) add(clause string, arg any) {
	w.clauses = append(w.clauses, clause)
	w.args = append(w.args, arg)
}

// ref adds an id condition for a reference filter. It returns false when
// the reference cannot belong to any row.
func (w *where) ref(enc reference.Encoder, column string, kind reference.Kind, ref string) bool {
	if ref == "" {
		return true
	}
	id, err := enc.Decode(kind, ref)
	if err != nil {
		return false
	}
	w.add(column+" = ?", id)
	return true
}

func (w *where) excludeRef(enc reference.Encoder, kind reference.Kind, ref string) {
	if ref == "" {
		return
	}
	if id, err := enc.Decode(kind, ref); err == nil {
		w.add("id <> ?", id)
	}
}

func (w where) String() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.clauses, " AND ")
}

func encodeVisit(visitors []booking.Visitor, contact *booking.Contact) (string, sql.NullString, error) {
	if visitors == nil {
		visitors = []booking.Visitor{}
	}
	v, err := json.Marshal(visitors)
	if err != nil {
		return "", sql.NullString{}, errors.Wrap(err, "encode visitors")
	}
	if contact == nil {
		return string(v), sql.NullString{}, nil
	}
	c, err := json.Marshal(contact)
	if err != nil {
		return "", sql.NullString{}, errors.Wrap(err, "encode contact")
	}
	return string(v), sql.NullString{String: string(c), Valid: true}, nil
}

func decodeVisit(visitors string, contact sql.NullString) ([]booking.Visitor, *booking.Contact, error) {
	var v []booking.Visitor
	if err := json.Unmarshal([]byte(visitors), &v); err != nil {
		return nil, nil, errors.Wrap(err, "decode visitors")
	}
	if !contact.Valid {
		return v, nil, nil
	}
	var c booking.Contact
	if err := json.Unmarshal([]byte(contact.String), &c); err != nil {
		return nil, nil, errors.Wrap(err, "decode contact")
	}
	return v, &c, nil
}

func requireRow(res sql.Result, entity, ref string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "rows affected")
	}
	if n == 0 {
		return &session.NotFoundError{Kind: entity, Reference: ref}
	}
	return nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timestampLayout, s)
	return t
}
