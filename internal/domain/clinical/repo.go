package clinical

import (
	"context"
	"errors"
	"time"
)

var ErrDuplicate = errors.New("clinical record already exists")

type VitalsRepository interface {
	Create(ctx context.Context, v *Vitals) error
	// ListByPatient returns readings recorded at or after since, oldest
	// first. A zero since returns every reading.
	ListByPatient(ctx context.Context, patientID string, since time.Time) ([]*Vitals, error)
}

type DiagnosisRepository interface {
	Create(ctx context.Context, d *Diagnosis) error
	List(ctx context.Context, f Filter) ([]*Diagnosis, error)
}

type ReferralRepository interface {
	Create(ctx context.Context, r *Referral) error
	List(ctx context.Context, f Filter) ([]*Referral, error)
}
