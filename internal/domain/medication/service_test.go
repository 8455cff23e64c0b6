package medication

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/telehealth/internal/platform/apperr"
	"github.com/ehr/telehealth/internal/platform/events"
)

func newTestService() (*Service, *events.Recorder) {
	rec := &events.Recorder{}
	clock := func() time.Time { return time.Date(2025, 4, 2, 10, 0, 0, 0, time.UTC) }
	svc := NewService(NewPrescriptionRepoMem(),
		WithEvents(events.NewEmitter(rec, zerolog.Nop())),
		WithClock(clock))
	return svc, rec
}

func createWithStatus(t *testing.T, svc *Service, status Status) *Prescription {
	t.Helper()
	p, err := svc.Create(context.Background(), CreateInput{
		PatientID: "PAT001", DoctorID: "DOC001", Medication: "Amoxicillin", Dosage: "500mg",
		Status: string(status),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return p
}

func TestCreate_Defaults(t *testing.T) {
	svc, rec := newTestService()
	p, err := svc.Create(context.Background(), CreateInput{
		PatientID: "PAT001", DoctorID: "DOC001", Medication: " Ibuprofen ", Dosage: "200mg",
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(p.ID, "PRE") || len(p.ID) != 11 {
		t.Errorf("unexpected id %q", p.ID)
	}
	if p.Status != StatusPending || p.Date.String() != "2025-04-02" || p.Medication != "Ibuprofen" {
		t.Errorf("unexpected prescription %+v", p)
	}
	if p.Frequency != defaultFrequency || p.Instructions != defaultInstructions {
		t.Errorf("expected default frequency and instructions, got %+v", p)
	}
	if len(rec.OfType(events.PrescriptionCreated)) != 1 {
		t.Error("expected prescription.created event")
	}
}

func TestCreate_Validation(t *testing.T) {
	svc, _ := newTestService()
	tests := []struct {
		name string
		in   CreateInput
	}{
		{"missing patient", CreateInput{DoctorID: "DOC001", Medication: "A", Dosage: "1"}},
		{"missing medication", CreateInput{PatientID: "PAT001", DoctorID: "DOC001", Dosage: "1"}},
		{"bad status", CreateInput{PatientID: "PAT001", DoctorID: "DOC001", Medication: "A", Dosage: "1", Status: "EXPIRED"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.Create(context.Background(), tt.in); !errors.Is(err, apperr.ErrValidation) {
				t.Errorf("expected validation error, got %v", err)
			}
		})
	}
}

func TestRefillTransitions(t *testing.T) {
	tests := []struct {
		name    string
		from    Status
		apply   func(*Service, context.Context, string) (*Prescription, error)
		want    Status
		allowed bool
	}{
		{"approve pending", StatusPending, (*Service).ApproveRefill, StatusApproved, true},
		{"approve active", StatusActive, (*Service).ApproveRefill, StatusApproved, true},
		{"approve completed", StatusCompleted, (*Service).ApproveRefill, StatusCompleted, false},
		{"approve rejected", StatusRejected, (*Service).ApproveRefill, StatusRejected, false},
		{"reject pending", StatusPending, (*Service).RejectRefill, StatusRejected, true},
		{"reject active", StatusActive, (*Service).RejectRefill, StatusRejected, true},
		{"reject cancelled", StatusCancelled, (*Service).RejectRefill, StatusCancelled, false},
		{"reject approved", StatusApproved, (*Service).RejectRefill, StatusApproved, false},
		{"request active", StatusActive, (*Service).RequestRefill, StatusPending, true},
		{"request pending", StatusPending, (*Service).RequestRefill, StatusPending, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, rec := newTestService()
			p := createWithStatus(t, svc, tt.from)

			_, err := tt.apply(svc, context.Background(), p.ID)
			if tt.allowed && err != nil {
				t.Fatalf("expected success, got %v", err)
			}
			if !tt.allowed && !errors.Is(err, apperr.ErrConflict) {
				t.Fatalf("expected conflict, got %v", err)
			}

			got, _ := svc.repo.GetByID(context.Background(), p.ID)
			if got.Status != tt.want {
				t.Errorf("expected status %s, got %s", tt.want, got.Status)
			}
			changed := rec.OfType(events.PrescriptionStatus)
			if tt.allowed != (len(changed) == 1) {
				t.Errorf("unexpected status events %d", len(changed))
			}
		})
	}
}

func TestTransition_NotFound(t *testing.T) {
	svc, _ := newTestService()
	if _, err := svc.ApproveRefill(context.Background(), "PRE404"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
	if _, err := svc.UpdateStatus(context.Background(), "PRE404", "ACTIVE"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestUpdateStatus_Unconditional(t *testing.T) {
	svc, _ := newTestService()
	p := createWithStatus(t, svc, StatusRejected)
	got, err := svc.UpdateStatus(context.Background(), p.ID, "completed")
	if err != nil || got.Status != StatusCompleted {
		t.Errorf("expected COMPLETED, got %+v (%v)", got, err)
	}
	if _, err := svc.UpdateStatus(context.Background(), p.ID, "LOST"); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestList_Filters(t *testing.T) {
	svc, _ := newTestService()
	createWithStatus(t, svc, StatusActive)
	createWithStatus(t, svc, StatusPending)
	if _, err := svc.Create(context.Background(), CreateInput{
		PatientID: "PAT002", DoctorID: "DOC002", Medication: "B", Dosage: "1",
	}); err != nil {
		t.Fatal(err)
	}

	got, _ := svc.List(context.Background(), Filter{PatientID: "PAT001"})
	if len(got) != 2 {
		t.Errorf("expected 2 for PAT001, got %d", len(got))
	}
	got, _ = svc.List(context.Background(), Filter{PatientID: "PAT001", Status: StatusActive})
	if len(got) != 1 {
		t.Errorf("expected 1 active for PAT001, got %d", len(got))
	}
	got, _ = svc.List(context.Background(), Filter{DoctorID: "DOC002"})
	if len(got) != 1 {
		t.Errorf("expected 1 for DOC002, got %d", len(got))
	}
}
