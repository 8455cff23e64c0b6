package identity

import (
	"fmt"
	"net/mail"
	"strings"
	"time"
)

// Role is fixed when a user is created.
type Role string

const (
	RolePatient       Role = "PATIENT"
	RoleDoctor        Role = "DOCTOR"
	RoleAdministrator Role = "ADMINISTRATOR"
)

// ParseRole accepts the role names case-insensitively, plus "ADMIN".
func ParseRole(s string) (Role, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "PATIENT":
		return RolePatient, nil
	case "DOCTOR":
		return RoleDoctor, nil
	case "ADMINISTRATOR", "ADMIN":
		return RoleAdministrator, nil
	}
	return "", fmt.Errorf("invalid role: %s", s)
}

// IDPrefix is the prefix of generated user ids for the role.
func (r Role) IDPrefix() string {
	switch r {
	case RoleDoctor:
		return "DOC"
	case RoleAdministrator:
		return "ADM"
	default:
		return "PAT"
	}
}

// User is any account. Specialization is set only for doctors.
type User struct {
	ID             string
	Name           string
	Email          string
	Username       string
	PasswordHash   string
	Role           Role
	Specialization string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// PublicUser is the wire view of a user. It never includes the hash.
type PublicUser struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Email          string `json:"email"`
	Username       string `json:"username"`
	Role           Role   `json:"role"`
	Specialization string `json:"specialization,omitempty"`
}

func (u *User) Public() PublicUser {
	return PublicUser{
		ID:             u.ID,
		Name:           u.Name,
		Email:          u.Email,
		Username:       u.Username,
		Role:           u.Role,
		Specialization: u.Specialization,
	}
}

func (u *User) IsDoctor() bool { return u.Role == RoleDoctor }
func (u *User) IsAdmin() bool  { return u.Role == RoleAdministrator }

const minPasswordLength = 6

func validatePassword(pw string) error {
	if len(pw) < minPasswordLength {
		return fmt.Errorf("password must be at least %d characters", minPasswordLength)
	}
	if len(pw) > 72 {
		return fmt.Errorf("password must be at most 72 bytes")
	}
	return nil
}

func validateEmail(email string) error {
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return fmt.Errorf("invalid email address: %s", email)
	}
	return nil
}
