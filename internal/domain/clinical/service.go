package clinical

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/telehealth/internal/platform/apperr"
	"github.com/ehr/telehealth/internal/platform/civil"
	"github.com/ehr/telehealth/internal/platform/events"
)

const defaultTrendDays = 30

type Service struct {
	vitals    VitalsRepository
	diagnoses DiagnosisRepository
	referrals ReferralRepository
	emitter   *events.Emitter
	logger    zerolog.Logger
	now       func() time.Time
}

type Option func(*Service)

func WithEvents(e *events.Emitter) Option {
	return func(s *Service) { s.emitter = e }
}

// WithLogger sets the logger that receives vital-sign alerts.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(vitals VitalsRepository, diagnoses DiagnosisRepository, referrals ReferralRepository, opts ...Option) *Service {
	s := &Service{
		vitals:    vitals,
		diagnoses: diagnoses,
		referrals: referrals,
		logger:    zerolog.Nop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func newID(prefix string) string {
	return prefix + strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", "")[:8])
}

// -- Vitals --

type VitalsInput struct {
	PatientID     string
	Pulse         int
	Temperature   float64
	Respiration   int
	BloodPressure string
}

type RecordResult struct {
	Vitals *Vitals
	Alerts []Alert
}

// RecordVitals validates and stores one set of readings. Out-of-range
// readings are rejected before anything is written.
func (s *Service) RecordVitals(ctx context.Context, in VitalsInput) (*RecordResult, error) {
	v := &Vitals{
		ID:            newID("VS"),
		PatientID:     strings.TrimSpace(in.PatientID),
		Pulse:         in.Pulse,
		Temperature:   in.Temperature,
		Respiration:   in.Respiration,
		BloodPressure: in.BloodPressure,
		RecordedAt:    s.now().UTC(),
	}
	if err := v.validate(); err != nil {
		return nil, apperr.WrapValidation(err)
	}
	if err := s.vitals.Create(ctx, v); err != nil {
		return nil, fmt.Errorf("record vitals: %w", err)
	}
	s.emitter.Emit(ctx, events.VitalsRecorded, v.PatientID, v)

	alerts := Alerts(v)
	for _, a := range alerts {
		s.logger.Warn().
			Str("patient_id", v.PatientID).
			Str("sign", a.Sign).
			Str("level", string(a.Level)).
			Msg(a.Message)
		s.emitter.Emit(ctx, events.VitalsAlert, v.PatientID, map[string]interface{}{
			"vitalsId": v.ID,
			"alert":    a,
		})
	}
	if alerts == nil {
		alerts = []Alert{}
	}
	return &RecordResult{Vitals: v, Alerts: alerts}, nil
}

func (s *Service) GetVitals(ctx context.Context, patientID string) ([]*Vitals, error) {
	if strings.TrimSpace(patientID) == "" {
		return nil, apperr.Validation("patientId is required")
	}
	return s.vitals.ListByPatient(ctx, patientID, time.Time{})
}

// Trend averages the readings recorded in the last daysBack days. A
// non-positive daysBack uses the 30 day default.
func (s *Service) Trend(ctx context.Context, patientID string, daysBack int) (*Trend, error) {
	if strings.TrimSpace(patientID) == "" {
		return nil, apperr.Validation("patientId is required")
	}
	if daysBack <= 0 {
		daysBack = defaultTrendDays
	}
	since := s.now().UTC().AddDate(0, 0, -daysBack)
	list, err := s.vitals.ListByPatient(ctx, patientID, since)
	if err != nil {
		return nil, fmt.Errorf("list vitals: %w", err)
	}
	return summarise(patientID, daysBack, list), nil
}

// -- Diagnoses --

type DiagnosisInput struct {
	PatientID     string
	DoctorID      string
	Notes         string
	TreatmentPlan string
	Code          string
	Description   string
	Severity      string
}

func (s *Service) CreateDiagnosis(ctx context.Context, in DiagnosisInput) (*Diagnosis, error) {
	if strings.TrimSpace(in.PatientID) == "" || strings.TrimSpace(in.DoctorID) == "" {
		return nil, apperr.Validation("patientId and doctorId are required")
	}
	d := &Diagnosis{
		ID:            newID("DG"),
		PatientID:     in.PatientID,
		DoctorID:      in.DoctorID,
		Notes:         strings.TrimSpace(in.Notes),
		TreatmentPlan: strings.TrimSpace(in.TreatmentPlan),
		Code:          strings.TrimSpace(in.Code),
		Description:   strings.TrimSpace(in.Description),
		Timestamp:     s.now().UTC(),
	}
	if in.Severity != "" {
		sev, err := ParseSeverity(in.Severity)
		if err != nil {
			return nil, apperr.WrapValidation(err)
		}
		d.Severity = sev
	}
	if err := s.diagnoses.Create(ctx, d); err != nil {
		return nil, s.mapCreateErr("diagnosis", d.ID, err)
	}
	return d, nil
}

// CreateDiagnosisExtended records a coded diagnosis. Code and description
// are required.
func (s *Service) CreateDiagnosisExtended(ctx context.Context, in DiagnosisInput) (*Diagnosis, error) {
	if strings.TrimSpace(in.Code) == "" || strings.TrimSpace(in.Description) == "" {
		return nil, apperr.Validation("code and description are required")
	}
	return s.CreateDiagnosis(ctx, in)
}

func (s *Service) ListDiagnoses(ctx context.Context, f Filter) ([]*Diagnosis, error) {
	return s.diagnoses.List(ctx, f)
}

// -- Referrals --

type ReferralInput struct {
	PatientID  string
	DoctorID   string
	ClinicName string
	Reason     string
	Date       civil.Date
}

func (s *Service) CreateReferral(ctx context.Context, in ReferralInput) (*Referral, error) {
	if strings.TrimSpace(in.PatientID) == "" || strings.TrimSpace(in.DoctorID) == "" {
		return nil, apperr.Validation("patientId and doctorId are required")
	}
	if strings.TrimSpace(in.ClinicName) == "" {
		return nil, apperr.Validation("clinicName is required")
	}
	ref := &Referral{
		ID:         newID("RF"),
		PatientID:  in.PatientID,
		DoctorID:   in.DoctorID,
		ClinicName: strings.TrimSpace(in.ClinicName),
		Reason:     strings.TrimSpace(in.Reason),
		Date:       in.Date,
	}
	if ref.Date.IsZero() {
		ref.Date = civil.DateOf(s.now())
	}
	if err := s.referrals.Create(ctx, ref); err != nil {
		return nil, s.mapCreateErr("referral", ref.ID, err)
	}
	return ref, nil
}

func (s *Service) ListReferrals(ctx context.Context, f Filter) ([]*Referral, error) {
	return s.referrals.List(ctx, f)
}

func (s *Service) mapCreateErr(kind, id string, err error) error {
	if errors.Is(err, ErrDuplicate) {
		return apperr.Conflict("%s %s already exists", kind, id)
	}
	return fmt.Errorf("create %s: %w", kind, err)
}
