package clinical

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

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

func connFor(ctx context.Context, pool *pgxpool.Pool) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return pool
}

func mapInsertErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicate
	}
	return err
}

// filterClause renders f as a WHERE clause over patient_id and doctor_id.
func filterClause(f Filter) (string, []interface{}) {
	var where []string
	var args []interface{}
	if f.PatientID != "" {
		args = append(args, f.PatientID)
		where = append(where, fmt.Sprintf("patient_id = $%d", len(args)))
	}
	if f.DoctorID != "" {
		args = append(args, f.DoctorID)
		where = append(where, fmt.Sprintf("doctor_id = $%d", len(args)))
	}
	if len(where) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(where, " AND "), args
}

// -- Vitals --

type vitalsRepoPG struct{ pool *pgxpool.Pool }

func NewVitalsRepoPG(pool *pgxpool.Pool) VitalsRepository {
	return &vitalsRepoPG{pool: pool}
}

const vitalsCols = `id, patient_id, pulse_rate, body_temperature, respiration_rate,
	blood_pressure_systolic, blood_pressure_diastolic, recorded_at`

func scanVitals(row pgx.Row) (*Vitals, error) {
	var v Vitals
	if err := row.Scan(&v.ID, &v.PatientID, &v.Pulse, &v.Temperature, &v.Respiration,
		&v.Systolic, &v.Diastolic, &v.RecordedAt); err != nil {
		return nil, err
	}
	v.BloodPressure = fmt.Sprintf("%d/%d", v.Systolic, v.Diastolic)
	return &v, nil
}

func (r *vitalsRepoPG) Create(ctx context.Context, v *Vitals) error {
	_, err := connFor(ctx, r.pool).Exec(ctx, `
		INSERT INTO vital_signs (`+vitalsCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		v.ID, v.PatientID, v.Pulse, v.Temperature, v.Respiration,
		v.Systolic, v.Diastolic, v.RecordedAt,
	)
	return mapInsertErr(err)
}

func (r *vitalsRepoPG) ListByPatient(ctx context.Context, patientID string, since time.Time) ([]*Vitals, error) {
	rows, err := connFor(ctx, r.pool).Query(ctx,
		`SELECT `+vitalsCols+` FROM vital_signs
		 WHERE patient_id = $1 AND recorded_at >= $2
		 ORDER BY recorded_at, id`, patientID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Vitals
	for rows.Next() {
		v, err := scanVitals(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, v)
	}
	return items, rows.Err()
}

// -- Diagnoses --

type diagnosisRepoPG struct{ pool *pgxpool.Pool }

func NewDiagnosisRepoPG(pool *pgxpool.Pool) DiagnosisRepository {
	return &diagnosisRepoPG{pool: pool}
}

const diagnosisCols = `id, patient_id, doctor_id, notes, treatment_plan, code, description, severity, diagnosed_at`

func (r *diagnosisRepoPG) Create(ctx context.Context, d *Diagnosis) error {
	_, err := connFor(ctx, r.pool).Exec(ctx, `
		INSERT INTO diagnoses (`+diagnosisCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		d.ID, d.PatientID, d.DoctorID, d.Notes, d.TreatmentPlan,
		d.Code, d.Description, string(d.Severity), d.Timestamp,
	)
	return mapInsertErr(err)
}

func (r *diagnosisRepoPG) List(ctx context.Context, f Filter) ([]*Diagnosis, error) {
	where, args := filterClause(f)
	rows, err := connFor(ctx, r.pool).Query(ctx,
		`SELECT `+diagnosisCols+` FROM diagnoses`+where+` ORDER BY diagnosed_at DESC, id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Diagnosis
	for rows.Next() {
		var d Diagnosis
		var severity string
		if err := rows.Scan(&d.ID, &d.PatientID, &d.DoctorID, &d.Notes, &d.TreatmentPlan,
			&d.Code, &d.Description, &severity, &d.Timestamp); err != nil {
			return nil, err
		}
		d.Severity = Severity(severity)
		items = append(items, &d)
	}
	return items, rows.Err()
}

// -- Referrals --

type referralRepoPG struct{ pool *pgxpool.Pool }

func NewReferralRepoPG(pool *pgxpool.Pool) ReferralRepository {
	return &referralRepoPG{pool: pool}
}

const referralCols = `id, patient_id, doctor_id, clinic_name, reason, referral_date, created_at`

func (r *referralRepoPG) Create(ctx context.Context, ref *Referral) error {
	err := connFor(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO referrals (id, patient_id, doctor_id, clinic_name, reason, referral_date)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING created_at`,
		ref.ID, ref.PatientID, ref.DoctorID, ref.ClinicName, ref.Reason, db.DateValue(ref.Date),
	).Scan(&ref.CreatedAt)
	return mapInsertErr(err)
}

func (r *referralRepoPG) List(ctx context.Context, f Filter) ([]*Referral, error) {
	where, args := filterClause(f)
	rows, err := connFor(ctx, r.pool).Query(ctx,
		`SELECT `+referralCols+` FROM referrals`+where+` ORDER BY created_at DESC, id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Referral
	for rows.Next() {
		var ref Referral
		var date pgtype.Date
		if err := rows.Scan(&ref.ID, &ref.PatientID, &ref.DoctorID, &ref.ClinicName, &ref.Reason,
			&date, &ref.CreatedAt); err != nil {
			return nil, err
		}
		ref.Date = db.CivilDate(date)
		items = append(items, &ref)
	}
	return items, rows.Err()
}
