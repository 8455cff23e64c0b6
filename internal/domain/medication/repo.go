package medication

import (
	"context"
	"errors"
)

var (
	ErrNotFound  = errors.New("prescription not found")
	ErrDuplicate = errors.New("prescription already exists")
)

type Repository interface {
	Create(ctx context.Context, p *Prescription) error
	GetByID(ctx context.Context, id string) (*Prescription, error)
	List(ctx context.Context, f Filter) ([]*Prescription, error)
	// SetStatus moves id to status when its current status is one of from,
	// or unconditionally when from is empty. It reports whether a row
	// changed.
	SetStatus(ctx context.Context, id string, status Status, from ...Status) (bool, error)
}
