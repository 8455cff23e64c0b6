package scheduling

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/telehealth/internal/domain/availability"
	"github.com/ehr/telehealth/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// -- Appointment --

type appointmentRepoPG struct{ pool *pgxpool.Pool }

func NewAppointmentRepoPG(pool *pgxpool.Pool) AppointmentRepository {
	return &appointmentRepoPG{pool: pool}
}

func (r *appointmentRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const apptCols = `id, patient_id, doctor_id, appt_date, appt_time, status, created_at, updated_at`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var date pgtype.Date
	var tod pgtype.Time
	var status string
	err := row.Scan(&a.ID, &a.PatientID, &a.DoctorID, &date, &tod, &status, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	a.Date = db.CivilDate(date)
	if t := db.CivilTime(tod); t != nil {
		a.Time = *t
	}
	a.Status = AppointmentStatus(status)
	return &a, nil
}

func (r *appointmentRepoPG) Create(ctx context.Context, a *Appointment) error {
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO appointments (id, patient_id, doctor_id, appt_date, appt_time, status)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING created_at, updated_at`,
		a.ID, a.PatientID, a.DoctorID, db.DateValue(a.Date), db.TimeValue(&a.Time), string(a.Status),
	).Scan(&a.CreatedAt, &a.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

func (r *appointmentRepoPG) GetByID(ctx context.Context, id string) (*Appointment, error) {
	return scanAppointment(r.conn(ctx).QueryRow(ctx, `SELECT `+apptCols+` FROM appointments WHERE id = $1`, id))
}

func (r *appointmentRepoPG) Reschedule(ctx context.Context, a *Appointment) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE appointments SET appt_date = $2, appt_time = $3, status = $4, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		a.ID, db.DateValue(a.Date), db.TimeValue(&a.Time), string(a.Status),
	).Scan(&a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (r *appointmentRepoPG) UpdateStatus(ctx context.Context, id string, status AppointmentStatus) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE appointments SET status = $2, updated_at = NOW() WHERE id = $1`, id, string(status))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *appointmentRepoPG) Delete(ctx context.Context, id string) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM appointments WHERE id = $1`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *appointmentRepoPG) List(ctx context.Context, f AppointmentFilter) ([]*Appointment, error) {
	query := `SELECT ` + apptCols + ` FROM appointments`
	var where []string
	var args []interface{}
	idx := 1
	if f.PatientID != "" {
		where = append(where, fmt.Sprintf("patient_id = $%d", idx))
		args = append(args, f.PatientID)
		idx++
	}
	if f.DoctorID != "" {
		where = append(where, fmt.Sprintf("doctor_id = $%d", idx))
		args = append(args, f.DoctorID)
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY appt_date, appt_time, id"

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

// -- Unavailability --

type unavailabilityRepoPG struct{ pool *pgxpool.Pool }

func NewUnavailabilityRepoPG(pool *pgxpool.Pool) UnavailabilityRepository {
	return &unavailabilityRepoPG{pool: pool}
}

func (r *unavailabilityRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const periodCols = `id, doctor_id, start_date, end_date, start_time, end_time, is_all_day, reason`

func scanPeriod(row pgx.Row) (*availability.Period, error) {
	var p availability.Period
	var start, end pgtype.Date
	var startTime, endTime pgtype.Time
	err := row.Scan(&p.ID, &p.DoctorID, &start, &end, &startTime, &endTime, &p.IsAllDay, &p.Reason)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	p.StartDate = db.CivilDate(start)
	p.EndDate = db.CivilDate(end)
	p.StartTime = db.CivilTime(startTime)
	p.EndTime = db.CivilTime(endTime)
	return &p, nil
}

func (r *unavailabilityRepoPG) Create(ctx context.Context, p *availability.Period) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO doctor_unavailability (id, doctor_id, start_date, end_date, start_time, end_time, is_all_day, reason)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		p.ID, p.DoctorID, db.DateValue(p.StartDate), db.DateValue(p.EndDate),
		db.TimeValue(p.StartTime), db.TimeValue(p.EndTime), p.IsAllDay, p.Reason)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

func (r *unavailabilityRepoPG) GetByID(ctx context.Context, id string) (*availability.Period, error) {
	return scanPeriod(r.conn(ctx).QueryRow(ctx,
		`SELECT `+periodCols+` FROM doctor_unavailability WHERE id = $1`, id))
}

func (r *unavailabilityRepoPG) Delete(ctx context.Context, id string) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM doctor_unavailability WHERE id = $1`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *unavailabilityRepoPG) List(ctx context.Context, doctorID string) ([]availability.Period, error) {
	query := `SELECT ` + periodCols + ` FROM doctor_unavailability`
	var args []interface{}
	if doctorID != "" {
		query += ` WHERE doctor_id = $1`
		args = append(args, doctorID)
	}
	query += ` ORDER BY seq`

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []availability.Period
	for rows.Next() {
		p, err := scanPeriod(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *p)
	}
	return items, rows.Err()
}
