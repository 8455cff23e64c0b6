package scheduling

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ehr/telehealth/internal/domain/availability"
)

type appointmentRepoMem struct {
	mu    sync.RWMutex
	items map[string]*Appointment
}

func NewAppointmentRepoMem() AppointmentRepository {
	return &appointmentRepoMem{items: make(map[string]*Appointment)}
}

func (r *appointmentRepoMem) Create(_ context.Context, a *Appointment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[a.ID]; ok {
		return ErrDuplicate
	}
	now := time.Now().UTC()
	a.CreatedAt, a.UpdatedAt = now, now
	cp := *a
	r.items[a.ID] = &cp
	return nil
}

func (r *appointmentRepoMem) GetByID(_ context.Context, id string) (*Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (r *appointmentRepoMem) Reschedule(_ context.Context, a *Appointment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.items[a.ID]
	if !ok {
		return ErrNotFound
	}
	cur.Date, cur.Time, cur.Status = a.Date, a.Time, a.Status
	cur.UpdatedAt = time.Now().UTC()
	a.UpdatedAt = cur.UpdatedAt
	return nil
}

func (r *appointmentRepoMem) UpdateStatus(_ context.Context, id string, status AppointmentStatus) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.items[id]
	if !ok {
		return false, nil
	}
	cur.Status = status
	cur.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (r *appointmentRepoMem) Delete(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[id]; !ok {
		return false, nil
	}
	delete(r.items, id)
	return true, nil
}

func (r *appointmentRepoMem) List(_ context.Context, f AppointmentFilter) ([]*Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Appointment
	for _, a := range r.items {
		if f.matches(a) {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].Date.Compare(out[j].Date); c != 0 {
			return c < 0
		}
		if out[i].Time != out[j].Time {
			return out[i].Time.Before(out[j].Time)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

type unavailabilityRepoMem struct {
	mu    sync.RWMutex
	items []availability.Period
}

func NewUnavailabilityRepoMem() UnavailabilityRepository {
	return &unavailabilityRepoMem{}
}

func (r *unavailabilityRepoMem) Create(_ context.Context, p *availability.Period) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.items {
		if existing.ID == p.ID {
			return ErrDuplicate
		}
	}
	r.items = append(r.items, clonePeriod(*p))
	return nil
}

func (r *unavailabilityRepoMem) GetByID(_ context.Context, id string) (*availability.Period, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.items {
		if p.ID == id {
			cp := clonePeriod(p)
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (r *unavailabilityRepoMem) Delete(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, p := range r.items {
		if p.ID == id {
			r.items = append(r.items[:i], r.items[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (r *unavailabilityRepoMem) List(_ context.Context, doctorID string) ([]availability.Period, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []availability.Period
	for _, p := range r.items {
		if doctorID == "" || p.DoctorID == doctorID {
			out = append(out, clonePeriod(p))
		}
	}
	return out, nil
}

// clonePeriod copies the time pointers so callers never share them with the
// store.
func clonePeriod(p availability.Period) availability.Period {
	if p.StartTime != nil {
		t := *p.StartTime
		p.StartTime = &t
	}
	if p.EndTime != nil {
		t := *p.EndTime
		p.EndTime = &t
	}
	return p
}
