package medication

import (
	"fmt"
	"strings"
	"time"

	"github.com/ehr/telehealth/internal/platform/civil"
)

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusActive    Status = "ACTIVE"
	StatusApproved  Status = "APPROVED"
	StatusRejected  Status = "REJECTED"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
)

var validStatuses = map[Status]bool{
	StatusPending:   true,
	StatusActive:    true,
	StatusApproved:  true,
	StatusRejected:  true,
	StatusCompleted: true,
	StatusCancelled: true,
}

func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	if !validStatuses[st] {
		return "", fmt.Errorf("invalid prescription status: %s", s)
	}
	return st, nil
}

// Refill decisions apply only to prescriptions in one of these states.
var refillable = []Status{StatusPending, StatusActive}

const (
	defaultFrequency    = "As prescribed"
	defaultInstructions = "Follow doctor instructions"
)

type Prescription struct {
	ID           string     `json:"id"`
	PatientID    string     `json:"patientId"`
	DoctorID     string     `json:"doctorId"`
	Medication   string     `json:"medication"`
	Dosage       string     `json:"dosage"`
	Frequency    string     `json:"frequency"`
	Instructions string     `json:"instructions"`
	Date         civil.Date `json:"date"`
	Status       Status     `json:"status"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

type Filter struct {
	PatientID string
	DoctorID  string
	Status    Status
}

func (f Filter) matches(p *Prescription) bool {
	if f.PatientID != "" && p.PatientID != f.PatientID {
		return false
	}
	if f.DoctorID != "" && p.DoctorID != f.DoctorID {
		return false
	}
	if f.Status != "" && p.Status != f.Status {
		return false
	}
	return true
}
