package scheduling

import (
	"context"
	"errors"

	"github.com/ehr/telehealth/internal/domain/availability"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("record already exists")
)

type AppointmentRepository interface {
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id string) (*Appointment, error)
	// Reschedule sets the date, time and status of an existing appointment.
	Reschedule(ctx context.Context, a *Appointment) error
	UpdateStatus(ctx context.Context, id string, status AppointmentStatus) (bool, error)
	Delete(ctx context.Context, id string) (bool, error)
	List(ctx context.Context, f AppointmentFilter) ([]*Appointment, error)
}

// UnavailabilityRepository stores periods. Listings are returned in the
// order the periods were created.
type UnavailabilityRepository interface {
	Create(ctx context.Context, p *availability.Period) error
	GetByID(ctx context.Context, id string) (*availability.Period, error)
	Delete(ctx context.Context, id string) (bool, error)
	// List returns the periods of doctorID, or every period when it is empty.
	List(ctx context.Context, doctorID string) ([]availability.Period, error)
}
