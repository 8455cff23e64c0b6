package clinical

import (
	"context"
	"sort"
	"sync"
	"time"
)

type vitalsRepoMem struct {
	mu    sync.RWMutex
	items []*Vitals
	ids   map[string]bool
}

func NewVitalsRepoMem() VitalsRepository {
	return &vitalsRepoMem{ids: make(map[string]bool)}
}

func (r *vitalsRepoMem) Create(_ context.Context, v *Vitals) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ids[v.ID] {
		return ErrDuplicate
	}
	cp := *v
	r.items = append(r.items, &cp)
	r.ids[v.ID] = true
	return nil
}

func (r *vitalsRepoMem) ListByPatient(_ context.Context, patientID string, since time.Time) ([]*Vitals, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Vitals
	for _, v := range r.items {
		if v.PatientID != patientID || v.RecordedAt.Before(since) {
			continue
		}
		cp := *v
		out = append(out, &cp)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].RecordedAt.Before(out[j].RecordedAt) })
	return out, nil
}

type diagnosisRepoMem struct {
	mu    sync.RWMutex
	items []*Diagnosis
	ids   map[string]bool
}

func NewDiagnosisRepoMem() DiagnosisRepository {
	return &diagnosisRepoMem{ids: make(map[string]bool)}
}

func (r *diagnosisRepoMem) Create(_ context.Context, d *Diagnosis) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ids[d.ID] {
		return ErrDuplicate
	}
	cp := *d
	r.items = append(r.items, &cp)
	r.ids[d.ID] = true
	return nil
}

func (r *diagnosisRepoMem) List(_ context.Context, f Filter) ([]*Diagnosis, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Diagnosis
	for i := len(r.items) - 1; i >= 0; i-- {
		d := r.items[i]
		if f.matches(d.PatientID, d.DoctorID) {
			cp := *d
			out = append(out, &cp)
		}
	}
	return out, nil
}

type referralRepoMem struct {
	mu    sync.RWMutex
	items []*Referral
	ids   map[string]bool
}

func NewReferralRepoMem() ReferralRepository {
	return &referralRepoMem{ids: make(map[string]bool)}
}

func (r *referralRepoMem) Create(_ context.Context, ref *Referral) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ids[ref.ID] {
		return ErrDuplicate
	}
	ref.CreatedAt = time.Now().UTC()
	cp := *ref
	r.items = append(r.items, &cp)
	r.ids[ref.ID] = true
	return nil
}

func (r *referralRepoMem) List(_ context.Context, f Filter) ([]*Referral, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Referral
	for i := len(r.items) - 1; i >= 0; i-- {
		ref := r.items[i]
		if f.matches(ref.PatientID, ref.DoctorID) {
			cp := *ref
			out = append(out, &cp)
		}
	}
	return out, nil
}
