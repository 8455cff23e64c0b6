package medication

import (
	"context"
	"sort"
	"sync"
	"time"
)

type prescriptionRepoMem struct {
	mu    sync.RWMutex
	items map[string]*Prescription
}

func NewPrescriptionRepoMem() Repository {
	return &prescriptionRepoMem{items: make(map[string]*Prescription)}
}

func (r *prescriptionRepoMem) Create(_ context.Context, p *Prescription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[p.ID]; ok {
		return ErrDuplicate
	}
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now
	cp := *p
	r.items[p.ID] = &cp
	return nil
}

func (r *prescriptionRepoMem) GetByID(_ context.Context, id string) (*Prescription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *prescriptionRepoMem) List(_ context.Context, f Filter) ([]*Prescription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Prescription
	for _, p := range r.items {
		if f.matches(p) {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].Date.Compare(out[j].Date); c != 0 {
			return c > 0
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *prescriptionRepoMem) SetStatus(_ context.Context, id string, status Status, from ...Status) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.items[id]
	if !ok {
		return false, nil
	}
	if len(from) > 0 && !hasStatus(from, p.Status) {
		return false, nil
	}
	p.Status = status
	p.UpdatedAt = time.Now().UTC()
	return true, nil
}

func hasStatus(list []Status, s Status) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
