package identity

import (
	"context"
	"errors"
)

var (
	ErrNotFound  = errors.New("user not found")
	ErrDuplicate = errors.New("user already exists")
)

// Repository persists users. Lookups by login match either the username or
// the email address, case-insensitively.
type Repository interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id string) (*User, error)
	GetByLogin(ctx context.Context, login string) (*User, error)
	UsernameOrEmailTaken(ctx context.Context, username, email string) (usernameTaken, emailTaken bool, err error)
	UpdatePassword(ctx context.Context, id, hash string) (bool, error)
	List(ctx context.Context, role Role) ([]*User, error)
}
