package identity

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/ehr/telehealth/internal/platform/apperr"
	"github.com/ehr/telehealth/internal/platform/events"
	"github.com/ehr/telehealth/internal/platform/session"
)

const (
	msgInvalidLogin = "Invalid username or password"
	msgResetFailed  = "Unable to reset password for that account"
	idAttempts      = 20
)

// Sessions is the subset of session.Manager used by the service.
type Sessions interface {
	Issue(userID, role string) (string, time.Time, error)
	Parse(token string) (*session.Claims, error)
	Revoke(token string) (*session.Claims, error)
}

type Service struct {
	repo       Repository
	sessions   Sessions
	emitter    *events.Emitter
	bcryptCost int
	newID      func(Role) string
}

type Option func(*Service)

// WithSessions makes Login issue a session token and enables Logout.
func WithSessions(s Sessions) Option {
	return func(svc *Service) { svc.sessions = s }
}

func WithEvents(e *events.Emitter) Option {
	return func(svc *Service) { svc.emitter = e }
}

func WithBcryptCost(cost int) Option {
	return func(svc *Service) { svc.bcryptCost = cost }
}

// WithIDGenerator replaces the random user id generator.
func WithIDGenerator(fn func(Role) string) Option {
	return func(svc *Service) { svc.newID = fn }
}

func NewService(repo Repository, opts ...Option) *Service {
	s := &Service{repo: repo, bcryptCost: bcrypt.DefaultCost, newID: randomID}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func randomID(role Role) string {
	return fmt.Sprintf("%s%03d", role.IDPrefix(), rand.IntN(1000))
}

// LoginResult is a successful authentication. Token is empty when sessions
// are not enabled.
type LoginResult struct {
	User      *User
	Token     string
	ExpiresAt time.Time
}

// Login matches login against the username, then the email address. Every
// failure reports the same message.
func (s *Service) Login(ctx context.Context, login, password string) (*LoginResult, error) {
	login = strings.TrimSpace(login)
	if login == "" || password == "" {
		return nil, apperr.Unauthenticated(msgInvalidLogin)
	}
	u, err := s.repo.GetByLogin(ctx, login)
	if errors.Is(err, ErrNotFound) {
		return nil, apperr.Unauthenticated(msgInvalidLogin)
	}
	if err != nil {
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, apperr.Unauthenticated(msgInvalidLogin)
	}

	res := &LoginResult{User: u}
	if s.sessions != nil {
		res.Token, res.ExpiresAt, err = s.sessions.Issue(u.ID, string(u.Role))
		if err != nil {
			return nil, err
		}
	}
	return res, nil
}

// SignupInput carries the fields of a new account.
type SignupInput struct {
	Name           string
	Email          string
	Username       string
	Password       string
	Role           string
	Specialization string
}

func (s *Service) Signup(ctx context.Context, in SignupInput) (*User, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.TrimSpace(in.Email)
	in.Username = strings.TrimSpace(in.Username)
	if in.Name == "" || in.Email == "" || in.Username == "" {
		return nil, apperr.Validation("name, email and username are required")
	}
	role := RolePatient
	if strings.TrimSpace(in.Role) != "" {
		var err error
		if role, err = ParseRole(in.Role); err != nil {
			return nil, apperr.WrapValidation(err)
		}
	}
	if err := validateEmail(in.Email); err != nil {
		return nil, apperr.WrapValidation(err)
	}
	if err := validatePassword(in.Password); err != nil {
		return nil, apperr.WrapValidation(err)
	}

	userTaken, emailTaken, err := s.repo.UsernameOrEmailTaken(ctx, in.Username, in.Email)
	if err != nil {
		return nil, fmt.Errorf("check existing user: %w", err)
	}
	if userTaken {
		return nil, apperr.Conflict("Username already exists")
	}
	if emailTaken {
		return nil, apperr.Conflict("Email already registered")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	u := &User{
		Name:         in.Name,
		Email:        in.Email,
		Username:     in.Username,
		PasswordHash: string(hash),
		Role:         role,
	}
	if role == RoleDoctor {
		u.Specialization = strings.TrimSpace(in.Specialization)
	}

	for attempt := 0; attempt < idAttempts; attempt++ {
		u.ID = s.newID(role)
		if _, err := s.repo.GetByID(ctx, u.ID); err == nil {
			continue
		} else if !errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("check user id: %w", err)
		}
		err := s.repo.Create(ctx, u)
		if errors.Is(err, ErrDuplicate) {
			// lost a race on the id, username or email; recheck the latter two
			userTaken, emailTaken, cerr := s.repo.UsernameOrEmailTaken(ctx, in.Username, in.Email)
			if cerr == nil && (userTaken || emailTaken) {
				return nil, apperr.Conflict("Username or email already registered")
			}
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("create user: %w", err)
		}
		s.emitter.Emit(ctx, events.UserRegistered, u.ID, u.Public())
		return u, nil
	}
	return nil, fmt.Errorf("could not allocate a %s user id after %d attempts", role, idAttempts)
}

// ResetPassword sets a new password for the account whose username or email
// equals identifier.
func (s *Service) ResetPassword(ctx context.Context, identifier, newPassword string) error {
	if err := validatePassword(newPassword); err != nil {
		return apperr.WrapValidation(err)
	}
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return apperr.Validation("username or email is required")
	}
	u, err := s.repo.GetByLogin(ctx, identifier)
	if errors.Is(err, ErrNotFound) {
		return apperr.NotFound(msgResetFailed)
	}
	if err != nil {
		return fmt.Errorf("lookup user: %w", err)
	}
	return s.setPassword(ctx, u.ID, newPassword)
}

// ChangePassword requires the current password.
func (s *Service) ChangePassword(ctx context.Context, userID, current, newPassword string) error {
	u, err := s.repo.GetByID(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return apperr.NotFound("user %s not found", userID)
	}
	if err != nil {
		return fmt.Errorf("lookup user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(current)); err != nil {
		return apperr.Unauthenticated("Current password is incorrect")
	}
	if err := validatePassword(newPassword); err != nil {
		return apperr.WrapValidation(err)
	}
	return s.setPassword(ctx, u.ID, newPassword)
}

func (s *Service) setPassword(ctx context.Context, id, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	ok, err := s.repo.UpdatePassword(ctx, id, string(hash))
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if !ok {
		return apperr.NotFound("user %s not found", id)
	}
	return nil
}

// Logout revokes token. Without sessions, or without a token, there is
// nothing to revoke and Logout succeeds.
func (s *Service) Logout(ctx context.Context, actorID, token string) error {
	if s.sessions == nil || token == "" {
		return nil
	}
	claims, err := s.sessions.Parse(token)
	if err != nil {
		return apperr.Unauthenticated("Invalid session token")
	}
	if claims.Subject != actorID {
		return apperr.Forbidden("session token belongs to another user")
	}
	if _, err := s.sessions.Revoke(token); err != nil {
		return apperr.Unauthenticated("Invalid session token")
	}
	return nil
}

// ListUsers returns every user, or only those with role when it is set.
func (s *Service) ListUsers(ctx context.Context, role string) ([]*User, error) {
	var r Role
	if strings.TrimSpace(role) != "" {
		var err error
		if r, err = ParseRole(role); err != nil {
			return nil, apperr.WrapValidation(err)
		}
	}
	return s.repo.List(ctx, r)
}

// GetUser returns the user with id.
func (s *Service) GetUser(ctx context.Context, id string) (*User, error) {
	u, err := s.repo.GetByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, apperr.NotFound("user %s not found", id)
	}
	return u, err
}

// IsAdministrator reports whether id names an administrator account. An
// unknown id is not an administrator.
func (s *Service) IsAdministrator(ctx context.Context, id string) (bool, error) {
	u, err := s.repo.GetByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return u.IsAdmin(), nil
}
