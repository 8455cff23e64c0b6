package identity

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

type userRepoMem struct {
	mu    sync.RWMutex
	users map[string]*User
}

// NewUserRepoMem returns a map-backed Repository.
func NewUserRepoMem() Repository {
	return &userRepoMem{users: make(map[string]*User)}
}

func (r *userRepoMem) Create(_ context.Context, u *User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.users[u.ID]; exists {
		return ErrDuplicate
	}
	for _, other := range r.users {
		if strings.EqualFold(other.Username, u.Username) || strings.EqualFold(other.Email, u.Email) {
			return ErrDuplicate
		}
	}
	now := time.Now().UTC()
	u.CreatedAt, u.UpdatedAt = now, now
	cp := *u
	r.users[u.ID] = &cp
	return nil
}

func (r *userRepoMem) GetByID(_ context.Context, id string) (*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *userRepoMem) GetByLogin(_ context.Context, login string) (*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var byEmail *User
	for _, u := range r.users {
		if strings.EqualFold(u.Username, login) {
			cp := *u
			return &cp, nil
		}
		if byEmail == nil && strings.EqualFold(u.Email, login) {
			byEmail = u
		}
	}
	if byEmail == nil {
		return nil, ErrNotFound
	}
	cp := *byEmail
	return &cp, nil
}

func (r *userRepoMem) UsernameOrEmailTaken(_ context.Context, username, email string) (bool, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var userTaken, emailTaken bool
	for _, u := range r.users {
		userTaken = userTaken || strings.EqualFold(u.Username, username)
		emailTaken = emailTaken || strings.EqualFold(u.Email, email)
	}
	return userTaken, emailTaken, nil
}

func (r *userRepoMem) UpdatePassword(_ context.Context, id, hash string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[id]
	if !ok {
		return false, nil
	}
	u.PasswordHash = hash
	u.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (r *userRepoMem) List(_ context.Context, role Role) ([]*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*User
	for _, u := range r.users {
		if role != "" && u.Role != role {
			continue
		}
		cp := *u
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
