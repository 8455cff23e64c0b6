package medication

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/telehealth/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type prescriptionRepoPG struct{ pool *pgxpool.Pool }

func NewPrescriptionRepoPG(pool *pgxpool.Pool) Repository {
	return &prescriptionRepoPG{pool: pool}
}

func (r *prescriptionRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const prescriptionCols = `id, patient_id, doctor_id, medication_name, dosage, frequency, instructions,
	prescribed_date, status, created_at, updated_at`

func scanPrescription(row pgx.Row) (*Prescription, error) {
	var p Prescription
	var date pgtype.Date
	var status string
	err := row.Scan(&p.ID, &p.PatientID, &p.DoctorID, &p.Medication, &p.Dosage, &p.Frequency,
		&p.Instructions, &date, &status, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	p.Date = db.CivilDate(date)
	p.Status = Status(status)
	return &p, nil
}

func (r *prescriptionRepoPG) Create(ctx context.Context, p *Prescription) error {
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO prescriptions (id, patient_id, doctor_id, medication_name, dosage, frequency,
			instructions, prescribed_date, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING created_at, updated_at`,
		p.ID, p.PatientID, p.DoctorID, p.Medication, p.Dosage, p.Frequency,
		p.Instructions, db.DateValue(p.Date), string(p.Status),
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicate
	}
	return err
}

func (r *prescriptionRepoPG) GetByID(ctx context.Context, id string) (*Prescription, error) {
	return scanPrescription(r.conn(ctx).QueryRow(ctx,
		`SELECT `+prescriptionCols+` FROM prescriptions WHERE id = $1`, id))
}

func (r *prescriptionRepoPG) List(ctx context.Context, f Filter) ([]*Prescription, error) {
	query := `SELECT ` + prescriptionCols + ` FROM prescriptions`
	var where []string
	var args []interface{}
	add := func(col string, v interface{}) {
		args = append(args, v)
		where = append(where, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if f.PatientID != "" {
		add("patient_id", f.PatientID)
	}
	if f.DoctorID != "" {
		add("doctor_id", f.DoctorID)
	}
	if f.Status != "" {
		add("status", string(f.Status))
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY prescribed_date DESC, id"

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Prescription
	for rows.Next() {
		p, err := scanPrescription(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, p)
	}
	return items, rows.Err()
}

func (r *prescriptionRepoPG) SetStatus(ctx context.Context, id string, status Status, from ...Status) (bool, error) {
	var (
		tag pgconn.CommandTag
		err error
	)
	if len(from) == 0 {
		tag, err = r.conn(ctx).Exec(ctx,
			`UPDATE prescriptions SET status = $2, updated_at = NOW() WHERE id = $1`, id, string(status))
	} else {
		allowed := make([]string, len(from))
		for i, s := range from {
			allowed[i] = string(s)
		}
		tag, err = r.conn(ctx).Exec(ctx,
			`UPDATE prescriptions SET status = $2, updated_at = NOW() WHERE id = $1 AND status = ANY($3)`,
			id, string(status), allowed)
	}
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}
