package medication

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/telehealth/internal/platform/apperr"
	"github.com/ehr/telehealth/internal/platform/civil"
	"github.com/ehr/telehealth/internal/platform/events"
)

type Service struct {
	repo    Repository
	emitter *events.Emitter
	now     func() time.Time
}

type Option func(*Service)

func WithEvents(e *events.Emitter) Option {
	return func(s *Service) { s.emitter = e }
}

// WithClock replaces time.Now, which dates prescriptions created without a
// date.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(repo Repository, opts ...Option) *Service {
	s := &Service{repo: repo, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func newPrescriptionID() string {
	return "PRE" + strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", "")[:8])
}

type CreateInput struct {
	ID           string
	PatientID    string
	DoctorID     string
	Medication   string
	Dosage       string
	Frequency    string
	Instructions string
	Date         civil.Date
	Status       string
}

func (s *Service) Create(ctx context.Context, in CreateInput) (*Prescription, error) {
	if strings.TrimSpace(in.PatientID) == "" || strings.TrimSpace(in.DoctorID) == "" {
		return nil, apperr.Validation("patientId and doctorId are required")
	}
	if strings.TrimSpace(in.Medication) == "" || strings.TrimSpace(in.Dosage) == "" {
		return nil, apperr.Validation("medication and dosage are required")
	}
	status := StatusPending
	if in.Status != "" {
		var err error
		if status, err = ParseStatus(in.Status); err != nil {
			return nil, apperr.WrapValidation(err)
		}
	}
	p := &Prescription{
		ID:           in.ID,
		PatientID:    in.PatientID,
		DoctorID:     in.DoctorID,
		Medication:   strings.TrimSpace(in.Medication),
		Dosage:       strings.TrimSpace(in.Dosage),
		Frequency:    strings.TrimSpace(in.Frequency),
		Instructions: strings.TrimSpace(in.Instructions),
		Date:         in.Date,
		Status:       status,
	}
	if p.ID == "" {
		p.ID = newPrescriptionID()
	}
	if p.Frequency == "" {
		p.Frequency = defaultFrequency
	}
	if p.Instructions == "" {
		p.Instructions = defaultInstructions
	}
	if p.Date.IsZero() {
		p.Date = civil.DateOf(s.now())
	}

	if err := s.repo.Create(ctx, p); err != nil {
		if errors.Is(err, ErrDuplicate) {
			return nil, apperr.Conflict("prescription %s already exists", p.ID)
		}
		return nil, fmt.Errorf("create prescription: %w", err)
	}
	s.emitter.Emit(ctx, events.PrescriptionCreated, p.PatientID, p)
	return p, nil
}

func (s *Service) List(ctx context.Context, f Filter) ([]*Prescription, error) {
	return s.repo.List(ctx, f)
}

// UpdateStatus sets any valid status regardless of the current one.
func (s *Service) UpdateStatus(ctx context.Context, id, status string) (*Prescription, error) {
	st, err := ParseStatus(status)
	if err != nil {
		return nil, apperr.WrapValidation(err)
	}
	return s.transition(ctx, id, st, nil)
}

// RequestRefill moves an ACTIVE prescription back to PENDING for review.
func (s *Service) RequestRefill(ctx context.Context, id string) (*Prescription, error) {
	return s.transition(ctx, id, StatusPending, []Status{StatusActive})
}

// ApproveRefill approves a PENDING or ACTIVE prescription.
func (s *Service) ApproveRefill(ctx context.Context, id string) (*Prescription, error) {
	return s.transition(ctx, id, StatusApproved, refillable)
}

// RejectRefill rejects a PENDING or ACTIVE prescription.
func (s *Service) RejectRefill(ctx context.Context, id string) (*Prescription, error) {
	return s.transition(ctx, id, StatusRejected, refillable)
}

// transition checks the current status and writes the new one in a single
// conditional update. An empty from allows any current status.
func (s *Service) transition(ctx context.Context, id string, to Status, from []Status) (*Prescription, error) {
	if strings.TrimSpace(id) == "" {
		return nil, apperr.Validation("prescriptionId is required")
	}
	ok, err := s.repo.SetStatus(ctx, id, to, from...)
	if err != nil {
		return nil, fmt.Errorf("update prescription status: %w", err)
	}
	p, err := s.repo.GetByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, apperr.NotFound("prescription %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get prescription: %w", err)
	}
	if !ok {
		return nil, apperr.Conflict("prescription %s is %s; expected %s", id, p.Status, joinStatuses(from))
	}
	s.emitter.Emit(ctx, events.PrescriptionStatus, p.PatientID, p)
	return p, nil
}

func joinStatuses(list []Status) string {
	parts := make([]string, len(list))
	for i, s := range list {
		parts[i] = string(s)
	}
	return strings.Join(parts, " or ")
}
