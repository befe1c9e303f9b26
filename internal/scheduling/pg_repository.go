package scheduling

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// exclusion_violation, raised by availability_slots_no_overlap
const pgExclusionViolation = "23P01"

// dbtx is satisfied by both *pgxpool.Pool and pgx.Tx.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgStore struct {
	pool *pgxpool.Pool
	pgQueries
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool, pgQueries: pgQueries{db: pool}}
}

// InTx runs fn in a read-committed transaction. Row locks taken through the
// Tx are held until fn returns.
func (s *PgStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	pgTx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = pgTx.Rollback(ctx) }()

	if err := fn(ctx, &pgQueries{db: pgTx}); err != nil {
		return err
	}

	if err := pgTx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

type pgQueries struct {
	db dbtx
}

// Helpers

const slotColumns = `id, doctor_id, starts_at, ends_at, is_booked, created_at`

const appointmentColumns = `id, patient_id, doctor_id, slot_id, starts_at, ends_at, notes, status, created_at, updated_at`

func scanUser(row pgx.Row) (*User, error) {
	var u User
	var role string

	err := row.Scan(&u.ID, &u.Name, &u.Email, &role)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	u.Role, err = ParseRole(role)
	if err != nil {
		return nil, fmt.Errorf("user %d: %w", u.ID, err)
	}
	return &u, nil
}

func scanSlot(row pgx.Row) (*AvailabilitySlot, error) {
	var s AvailabilitySlot

	err := row.Scan(
		&s.ID,
		&s.DoctorID,
		&s.StartsAt,
		&s.EndsAt,
		&s.IsBooked,
		&s.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	s.StartsAt = s.StartsAt.UTC()
	s.EndsAt = s.EndsAt.UTC()
	return &s, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var notes *string

	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.DoctorID,
		&a.SlotID,
		&a.StartsAt,
		&a.EndsAt,
		&notes,
		&a.Status,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	a.Notes = notes
	a.StartsAt = a.StartsAt.UTC()
	a.EndsAt = a.EndsAt.UTC()
	return &a, nil
}

func collectSlots(rows pgx.Rows) ([]AvailabilitySlot, error) {
	defer rows.Close()

	var result []AvailabilitySlot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func isExclusionViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgExclusionViolation
}

// Directory

func (q *pgQueries) GetUser(ctx context.Context, id int64) (*User, error) {
	row := q.db.QueryRow(ctx, `
		SELECT id, name, email, role
		FROM users
		WHERE id = $1
	`, id)
	return scanUser(row)
}

func (q *pgQueries) ListUsersByRole(ctx context.Context, role Role, query string) ([]User, error) {
	rows, err := q.db.Query(ctx, `
		SELECT id, name, email, role
		FROM users
		WHERE role = $1
		  AND ($2 = '' OR name ILIKE '%' || $2 || '%' OR email ILIKE '%' || $2 || '%')
		ORDER BY name ASC
	`, role.String(), strings.TrimSpace(query))
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var result []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Slots

func (q *pgQueries) GetSlot(ctx context.Context, id int64) (*AvailabilitySlot, error) {
	row := q.db.QueryRow(ctx, `
		SELECT `+slotColumns+`
		FROM availability_slots
		WHERE id = $1
	`, id)
	return scanSlot(row)
}

func (q *pgQueries) ListOpenSlots(ctx context.Context, f SlotFilter) ([]AvailabilitySlot, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+slotColumns+`
		FROM availability_slots
		WHERE is_booked = false
		  AND ($1::bigint IS NULL OR doctor_id = $1)
		  AND ($2::timestamptz IS NULL OR starts_at >= $2)
		  AND ($3::timestamptz IS NULL OR ends_at <= $3)
		ORDER BY starts_at ASC, id ASC
	`, f.DoctorID, f.From, f.To)
	if err != nil {
		return nil, fmt.Errorf("list open slots: %w", err)
	}
	return collectSlots(rows)
}

func (q *pgQueries) FindOverlapping(ctx context.Context, doctorID int64, start, end time.Time) (*AvailabilitySlot, error) {
	row := q.db.QueryRow(ctx, `
		SELECT `+slotColumns+`
		FROM availability_slots
		WHERE doctor_id = $1
		  AND starts_at < $3
		  AND ends_at > $2
		ORDER BY starts_at ASC
		LIMIT 1
	`, doctorID, start, end)

	s, err := scanSlot(row)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return s, err
}

func (q *pgQueries) CreateSlot(ctx context.Context, doctorID int64, start, end time.Time) (*AvailabilitySlot, error) {
	row := q.db.QueryRow(ctx, `
		INSERT INTO availability_slots (doctor_id, starts_at, ends_at, is_booked, created_at)
		VALUES ($1, $2, $3, false, now())
		RETURNING `+slotColumns, doctorID, start, end)

	s, err := scanSlot(row)
	if err != nil {
		if isExclusionViolation(err) {
			return nil, &OverlapError{DoctorID: doctorID, StartsAt: start, EndsAt: end}
		}
		return nil, fmt.Errorf("insert slot: %w", err)
	}
	return s, nil
}

func (q *pgQueries) LockSlot(ctx context.Context, id int64) (*AvailabilitySlot, error) {
	row := q.db.QueryRow(ctx, `
		SELECT `+slotColumns+`
		FROM availability_slots
		WHERE id = $1
		FOR UPDATE
	`, id)
	return scanSlot(row)
}

func (q *pgQueries) MarkBooked(ctx context.Context, id int64) (*AvailabilitySlot, error) {
	row := q.db.QueryRow(ctx, `
		UPDATE availability_slots
		SET is_booked = true
		WHERE id = $1
		  AND is_booked = false
		RETURNING `+slotColumns, id)

	s, err := scanSlot(row)
	if errors.Is(err, ErrNotFound) {
		// distinguish a missing row from a lost race on the flag
		if _, getErr := q.GetSlot(ctx, id); getErr == nil {
			return nil, ErrAlreadyBooked
		}
		return nil, ErrNotFound
	}
	return s, err
}

func (q *pgQueries) DeleteOpenSlot(ctx context.Context, id int64) error {
	tag, err := q.db.Exec(ctx, `
		DELETE FROM availability_slots
		WHERE id = $1
		  AND is_booked = false
	`, id)
	if err != nil {
		return fmt.Errorf("delete slot: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := q.GetSlot(ctx, id); getErr == nil {
			return ErrAlreadyBooked
		}
		return ErrNotFound
	}
	return nil
}

func (q *pgQueries) DeleteOpenSlotsInRange(ctx context.Context, doctorID int64, from, to time.Time) (int64, error) {
	tag, err := q.db.Exec(ctx, `
		DELETE FROM availability_slots
		WHERE doctor_id = $1
		  AND is_booked = false
		  AND starts_at >= $2
		  AND ends_at <= $3
	`, doctorID, from, to)
	if err != nil {
		return 0, fmt.Errorf("delete slot range: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Appointments

func (q *pgQueries) GetAppointment(ctx context.Context, id int64) (*Appointment, error) {
	row := q.db.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (q *pgQueries) ListAppointments(ctx context.Context, f AppointmentFilter) ([]Appointment, error) {
	var status *string
	if f.Status != nil {
		s := string(*f.Status)
		status = &s
	}

	rows, err := q.db.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE ($1::bigint IS NULL OR patient_id = $1)
		  AND ($2::bigint IS NULL OR doctor_id = $2)
		  AND ($3::text IS NULL OR status = $3)
		ORDER BY starts_at ASC, id ASC
	`, f.PatientID, f.DoctorID, status)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	return collectAppointments(rows)
}

func (q *pgQueries) CreateAppointment(ctx context.Context, a *Appointment) (*Appointment, error) {
	row := q.db.QueryRow(ctx, `
		INSERT INTO appointments (patient_id, doctor_id, slot_id, starts_at, ends_at, notes, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())
		RETURNING `+appointmentColumns,
		a.PatientID, a.DoctorID, a.SlotID, a.StartsAt, a.EndsAt, a.Notes, a.Status)

	created, err := scanAppointment(row)
	if err != nil {
		return nil, fmt.Errorf("insert appointment: %w", err)
	}
	return created, nil
}

func (q *pgQueries) LockAppointment(ctx context.Context, id int64) (*Appointment, error) {
	row := q.db.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
		FOR UPDATE
	`, id)
	return scanAppointment(row)
}

func (q *pgQueries) UpdateAppointmentStatus(ctx context.Context, id int64, from, to AppointmentStatus) (*Appointment, error) {
	row := q.db.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+appointmentColumns, id, to, from)

	a, err := scanAppointment(row)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrInvalidTransition
	}
	return a, err
}
