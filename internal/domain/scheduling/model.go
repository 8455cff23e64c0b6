package scheduling

import (
	"fmt"
	"strings"
	"time"

	"github.com/ehr/telehealth/internal/platform/civil"
)

type AppointmentStatus string

const (
	StatusScheduled   AppointmentStatus = "SCHEDULED"
	StatusBooked      AppointmentStatus = "BOOKED"
	StatusConfirmed   AppointmentStatus = "CONFIRMED"
	StatusCompleted   AppointmentStatus = "COMPLETED"
	StatusCancelled   AppointmentStatus = "CANCELLED"
	StatusRescheduled AppointmentStatus = "RESCHEDULED"
)

var validStatuses = map[AppointmentStatus]bool{
	StatusScheduled:   true,
	StatusBooked:      true,
	StatusConfirmed:   true,
	StatusCompleted:   true,
	StatusCancelled:   true,
	StatusRescheduled: true,
}

func ParseAppointmentStatus(s string) (AppointmentStatus, error) {
	st := AppointmentStatus(strings.ToUpper(strings.TrimSpace(s)))
	if !validStatuses[st] {
		return "", fmt.Errorf("invalid appointment status: %s", s)
	}
	return st, nil
}

// Appointment is a booked slot between a patient and a doctor. Date and
// Time are wall-clock values with no zone.
type Appointment struct {
	ID        string            `json:"id"`
	PatientID string            `json:"patientId"`
	DoctorID  string            `json:"doctorId"`
	Date      civil.Date        `json:"date"`
	Time      civil.TimeOfDay   `json:"time"`
	Status    AppointmentStatus `json:"status"`
	CreatedAt time.Time         `json:"createdAt"`
	UpdatedAt time.Time         `json:"updatedAt"`
}

// AppointmentFilter narrows a listing. Empty fields match everything.
type AppointmentFilter struct {
	PatientID string
	DoctorID  string
}

func (f AppointmentFilter) matches(a *Appointment) bool {
	if f.PatientID != "" && a.PatientID != f.PatientID {
		return false
	}
	if f.DoctorID != "" && a.DoctorID != f.DoctorID {
		return false
	}
	return true
}
