package scheduling

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/ehr/telehealth/internal/domain/availability"
	"github.com/ehr/telehealth/internal/platform/apperr"
	"github.com/ehr/telehealth/internal/platform/civil"
	"github.com/ehr/telehealth/internal/platform/events"
)

type Service struct {
	appts            AppointmentRepository
	periods          UnavailabilityRepository
	locker           Locker
	emitter          *events.Emitter
	strictReschedule bool
	newApptID        func() string
	newPeriodID      func() string
}

type Option func(*Service)

// WithLocker replaces the in-process locker guarding bookings.
func WithLocker(l Locker) Option {
	return func(s *Service) { s.locker = l }
}

func WithEvents(e *events.Emitter) Option {
	return func(s *Service) { s.emitter = e }
}

// WithStrictReschedule makes Reschedule reject a new slot that falls inside
// one of the doctor's unavailability periods. By default only bookings are
// checked.
func WithStrictReschedule(strict bool) Option {
	return func(s *Service) { s.strictReschedule = strict }
}

func NewService(appts AppointmentRepository, periods UnavailabilityRepository, opts ...Option) *Service {
	s := &Service{
		appts:       appts,
		periods:     periods,
		locker:      NewMemLocker(),
		newApptID:   newAppointmentID,
		newPeriodID: func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func newAppointmentID() string {
	return "AP" + strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
}

func unavailableError(reason string) error {
	return apperr.Conflict("Doctor is unavailable at this time. Reason: %s", reason)
}

// BookInput describes a new appointment. ID and Status are optional.
type BookInput struct {
	ID        string
	PatientID string
	DoctorID  string
	Date      civil.Date
	Time      civil.TimeOfDay
	Status    string
}

// Book checks the doctor's unavailability and stores the appointment. The
// check and the insert run under the doctor's lock, so a period created
// concurrently is either seen by the check or created after the booking.
func (s *Service) Book(ctx context.Context, in BookInput) (*Appointment, error) {
	if strings.TrimSpace(in.PatientID) == "" || strings.TrimSpace(in.DoctorID) == "" {
		return nil, apperr.Validation("patientId and doctorId are required")
	}
	if in.Date.IsZero() {
		return nil, apperr.Validation("date is required")
	}
	status := StatusScheduled
	if in.Status != "" {
		var err error
		if status, err = ParseAppointmentStatus(in.Status); err != nil {
			return nil, apperr.WrapValidation(err)
		}
	}
	a := &Appointment{
		ID:        in.ID,
		PatientID: in.PatientID,
		DoctorID:  in.DoctorID,
		Date:      in.Date,
		Time:      in.Time,
		Status:    status,
	}
	if a.ID == "" {
		a.ID = s.newApptID()
	}

	err := s.locker.WithLock(ctx, doctorLockKey(a.DoctorID), func(ctx context.Context) error {
		if err := s.ensureAvailable(ctx, a.DoctorID, a.Date, a.Time); err != nil {
			return err
		}
		if err := s.appts.Create(ctx, a); err != nil {
			if errors.Is(err, ErrDuplicate) {
				return apperr.Conflict("appointment %s already exists", a.ID)
			}
			return fmt.Errorf("create appointment: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.emitter.Emit(ctx, events.AppointmentBooked, a.DoctorID, a)
	return a, nil
}

func (s *Service) ensureAvailable(ctx context.Context, doctorID string, date civil.Date, t civil.TimeOfDay) error {
	periods, err := s.periods.List(ctx, doctorID)
	if err != nil {
		return fmt.Errorf("list unavailability: %w", err)
	}
	if reason, conflict := availability.UnavailabilityReason(periods, doctorID, date, &t); conflict {
		return unavailableError(reason)
	}
	return nil
}

// Reschedule moves an appointment and marks it RESCHEDULED.
func (s *Service) Reschedule(ctx context.Context, id string, date civil.Date, t civil.TimeOfDay) (*Appointment, error) {
	if date.IsZero() {
		return nil, apperr.Validation("date is required")
	}
	a, err := s.getAppointment(ctx, id)
	if err != nil {
		return nil, err
	}

	err = s.locker.WithLock(ctx, doctorLockKey(a.DoctorID), func(ctx context.Context) error {
		if s.strictReschedule {
			if err := s.ensureAvailable(ctx, a.DoctorID, date, t); err != nil {
				return err
			}
		}
		a.Date, a.Time, a.Status = date, t, StatusRescheduled
		if err := s.appts.Reschedule(ctx, a); err != nil {
			if errors.Is(err, ErrNotFound) {
				return apperr.NotFound("appointment %s not found", id)
			}
			return fmt.Errorf("reschedule appointment: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.emitter.Emit(ctx, events.AppointmentRescheduled, a.DoctorID, a)
	return a, nil
}

func (s *Service) UpdateStatus(ctx context.Context, id, status string) (*Appointment, error) {
	st, err := ParseAppointmentStatus(status)
	if err != nil {
		return nil, apperr.WrapValidation(err)
	}
	ok, err := s.appts.UpdateStatus(ctx, id, st)
	if err != nil {
		return nil, fmt.Errorf("update appointment status: %w", err)
	}
	if !ok {
		return nil, apperr.NotFound("appointment %s not found", id)
	}
	a, err := s.getAppointment(ctx, id)
	if err != nil {
		return nil, err
	}
	s.emitter.Emit(ctx, events.AppointmentStatusChanged, a.DoctorID, a)
	return a, nil
}

func (s *Service) Cancel(ctx context.Context, id string) (*Appointment, error) {
	return s.UpdateStatus(ctx, id, string(StatusCancelled))
}

// Delete removes an appointment outright. Callers restrict it to
// administrators.
func (s *Service) Delete(ctx context.Context, id string) error {
	ok, err := s.appts.Delete(ctx, id)
	if err != nil {
		return fmt.Errorf("delete appointment: %w", err)
	}
	if !ok {
		return apperr.NotFound("appointment %s not found", id)
	}
	s.emitter.Emit(ctx, events.AppointmentDeleted, id, map[string]string{"id": id})
	return nil
}

func (s *Service) ListAppointments(ctx context.Context, f AppointmentFilter) ([]*Appointment, error) {
	return s.appts.List(ctx, f)
}

func (s *Service) getAppointment(ctx context.Context, id string) (*Appointment, error) {
	if strings.TrimSpace(id) == "" {
		return nil, apperr.Validation("appointmentId is required")
	}
	a, err := s.appts.GetByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, apperr.NotFound("appointment %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	return a, nil
}

// Availability is the outcome of a probe. Conflicts lists every blocking
// period; Reason is taken from the first.
type Availability struct {
	Available bool                  `json:"available"`
	Reason    string                `json:"reason,omitempty"`
	Conflicts []availability.Period `json:"conflicts"`
}

// CheckAvailability reports whether doctorID can be booked at date and t.
// A nil t only conflicts with all-day periods.
func (s *Service) CheckAvailability(ctx context.Context, doctorID string, date civil.Date, t *civil.TimeOfDay) (*Availability, error) {
	if strings.TrimSpace(doctorID) == "" || date.IsZero() {
		return nil, apperr.Validation("doctorId and date are required")
	}
	periods, err := s.periods.List(ctx, doctorID)
	if err != nil {
		return nil, fmt.Errorf("list unavailability: %w", err)
	}
	conflicts := availability.ConflictingPeriods(periods, doctorID, date, t)
	res := &Availability{Available: len(conflicts) == 0, Conflicts: conflicts}
	if res.Conflicts == nil {
		res.Conflicts = []availability.Period{}
	}
	if !res.Available {
		res.Reason = conflicts[0].Reason
	}
	return res, nil
}

// CreateUnavailability stores p for its doctor. Only that doctor may do so.
// A period with neither time is treated as all-day.
func (s *Service) CreateUnavailability(ctx context.Context, actorID string, p availability.Period) (*availability.Period, error) {
	if strings.TrimSpace(p.DoctorID) == "" {
		return nil, apperr.Validation("doctorId is required")
	}
	if p.StartDate.IsZero() || p.EndDate.IsZero() {
		return nil, apperr.Validation("startDate and endDate are required")
	}
	if actorID != p.DoctorID {
		return nil, apperr.Forbidden("Only the doctor can manage their own unavailability")
	}
	if p.StartTime == nil && p.EndTime == nil {
		p.IsAllDay = true
	}
	if err := p.Validate(); err != nil {
		return nil, apperr.WrapValidation(err)
	}
	p.Reason = strings.TrimSpace(p.Reason)
	if p.ID == "" {
		p.ID = s.newPeriodID()
	}

	err := s.locker.WithLock(ctx, doctorLockKey(p.DoctorID), func(ctx context.Context) error {
		return s.periods.Create(ctx, &p)
	})
	if errors.Is(err, ErrDuplicate) {
		return nil, apperr.Conflict("unavailability period %s already exists", p.ID)
	}
	if err != nil {
		return nil, fmt.Errorf("create unavailability: %w", err)
	}
	s.emitter.Emit(ctx, events.UnavailabilityCreated, p.DoctorID, p)
	return &p, nil
}

// DeleteUnavailability removes a period owned by actorID. Deleting a period
// that no longer exists fails with a not-found error and changes nothing.
func (s *Service) DeleteUnavailability(ctx context.Context, actorID, id string) error {
	if strings.TrimSpace(id) == "" {
		return apperr.Validation("id is required")
	}
	p, err := s.periods.GetByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return apperr.NotFound("Unavailability period %s not found", id)
	}
	if err != nil {
		return fmt.Errorf("get unavailability: %w", err)
	}
	if p.DoctorID != actorID {
		return apperr.Forbidden("Only the doctor can manage their own unavailability")
	}

	var deleted bool
	err = s.locker.WithLock(ctx, doctorLockKey(p.DoctorID), func(ctx context.Context) error {
		var derr error
		deleted, derr = s.periods.Delete(ctx, id)
		return derr
	})
	if err != nil {
		return fmt.Errorf("delete unavailability: %w", err)
	}
	if !deleted {
		return apperr.NotFound("Unavailability period %s not found", id)
	}
	s.emitter.Emit(ctx, events.UnavailabilityDeleted, p.DoctorID, p)
	return nil
}

// ListUnavailability returns doctorID's periods, or all periods when it is
// empty.
func (s *Service) ListUnavailability(ctx context.Context, doctorID string) ([]availability.Period, error) {
	return s.periods.List(ctx, doctorID)
}
