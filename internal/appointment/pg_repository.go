package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DB is the subset of pgxpool.Pool the repository needs. pgxmock satisfies it
// in tests.
type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

var _ DB = (*pgxpool.Pool)(nil)

type PgRepository struct {
	db DB
}

func NewPgRepository(db DB) *PgRepository {
	return &PgRepository{db: db}
}

const appointmentColumns = `id, patient_name, phone_number, appointment_time, status, notes, created_at, updated_at`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var notes *string

	err := row.Scan(
		&a.ID,
		&a.PatientName,
		&a.PhoneNumber,
		&a.AppointmentTime,
		&a.Status,
		&notes,
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
	return &a, nil
}

func scanAppointments(rows pgx.Rows) ([]Appointment, error) {
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

func (r *PgRepository) ListByTime(ctx context.Context) ([]Appointment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		ORDER BY appointment_time ASC
	`)
	if err != nil {
		return nil, err
	}
	return scanAppointments(rows)
}

func (r *PgRepository) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) Create(ctx context.Context, params CreateParams) (*Appointment, error) {
	id := uuid.New()

	row := r.db.QueryRow(ctx, `
		INSERT INTO appointments (id, patient_name, phone_number, appointment_time, status, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 'pending', $5, now(), now())
		RETURNING `+appointmentColumns+`
	`, id, params.PatientName, params.PhoneNumber, params.AppointmentTime, params.Notes)

	return scanAppointment(row)
}

func (r *PgRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status Status) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		RETURNING `+appointmentColumns+`
	`, id, status)

	return scanAppointment(row)
}

func (r *PgRepository) Reschedule(ctx context.Context, id uuid.UUID, newTime time.Time) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE appointments
		SET appointment_time = $2,
		    status = 'rescheduled',
		    updated_at = now()
		WHERE id = $1
		RETURNING `+appointmentColumns+`
	`, id, newTime)

	return scanAppointment(row)
}

func (r *PgRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `
		DELETE FROM appointments
		WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("delete appointment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PgRepository) ListUpcoming(ctx context.Context, until time.Time) ([]Appointment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE appointment_time > now()
		  AND appointment_time <= $1
		  AND status IN ('pending', 'confirmed', 'rescheduled')
		ORDER BY appointment_time ASC
	`, until)
	if err != nil {
		return nil, err
	}
	return scanAppointments(rows)
}

func (r *PgRepository) CountByStatus(ctx context.Context) (Stats, error) {
	row := r.db.QueryRow(ctx, `
		SELECT count(*),
		       count(*) FILTER (WHERE status = 'pending'),
		       count(*) FILTER (WHERE status = 'confirmed'),
		       count(*) FILTER (WHERE status = 'cancelled'),
		       count(*) FILTER (WHERE status = 'rescheduled'),
		       count(*) FILTER (WHERE appointment_time::date = now()::date)
		FROM appointments
	`)

	var s Stats
	if err := row.Scan(&s.Total, &s.Pending, &s.Confirmed, &s.Cancelled, &s.Rescheduled, &s.Today); err != nil {
		return Stats{}, fmt.Errorf("count appointments: %w", err)
	}
	return s, nil
}
