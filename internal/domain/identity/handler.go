package identity

import (
	"context"
	"strings"
	"time"

	"github.com/ehr/telehealth/internal/platform/apperr"
	"github.com/ehr/telehealth/internal/platform/rpc"
)

const (
	OpLogout         = "LOGOUT"
	OpChangePassword = "CHANGE_PASSWORD"
	OpGetUsers       = "GET_USERS"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterOps(r *rpc.Router) {
	r.Handle(rpc.OpLogin, rpc.Typed(h.login))
	r.Handle(rpc.OpSignup, rpc.Typed(h.signup))
	r.Handle(rpc.OpResetPassword, rpc.Typed(h.resetPassword))
	r.Handle(OpLogout, h.logout)
	r.Handle(OpChangePassword, rpc.Typed(h.changePassword))
	r.Handle(OpGetUsers, rpc.Typed(h.getUsers))
}

type loginFields struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginPayload struct {
	UserID    string     `json:"userId"`
	Username  string     `json:"username"`
	UserType  Role       `json:"userType"`
	FullName  string     `json:"fullName"`
	Token     string     `json:"token,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

func (h *Handler) login(ctx context.Context, _ *rpc.Request, f *loginFields) (rpc.Reply, error) {
	res, err := h.svc.Login(ctx, f.Username, f.Password)
	if err != nil {
		return rpc.Reply{}, err
	}
	p := loginPayload{
		UserID:   res.User.ID,
		Username: res.User.Username,
		UserType: res.User.Role,
		FullName: res.User.Name,
		Token:    res.Token,
	}
	if res.Token != "" {
		exp := res.ExpiresAt.UTC()
		p.ExpiresAt = &exp
	}
	return rpc.Reply{Message: "Login successful", Payload: p}, nil
}

type signupFields struct {
	Name           string `json:"name"`
	FullName       string `json:"fullName"`
	Email          string `json:"email"`
	Username       string `json:"username"`
	Password       string `json:"password"`
	Role           string `json:"role"`
	UserType       string `json:"userType"`
	Specialization string `json:"specialization"`
}

func (f *signupFields) Validate() error {
	if f.Name == "" {
		f.Name = f.FullName
	}
	if f.Role == "" {
		f.Role = f.UserType
	}
	if f.Role == "" {
		f.Role = string(RolePatient)
	}
	if strings.TrimSpace(f.Username) == "" || f.Password == "" {
		return apperr.Validation("username and password are required")
	}
	return nil
}

func (h *Handler) signup(ctx context.Context, _ *rpc.Request, f *signupFields) (rpc.Reply, error) {
	u, err := h.svc.Signup(ctx, SignupInput{
		Name:           f.Name,
		Email:          f.Email,
		Username:       f.Username,
		Password:       f.Password,
		Role:           f.Role,
		Specialization: f.Specialization,
	})
	if err != nil {
		return rpc.Reply{}, err
	}
	return rpc.Reply{Message: "Account created successfully", Payload: map[string]interface{}{
		"userId": u.ID,
		"user":   u.Public(),
	}}, nil
}

type resetFields struct {
	Identifier  string `json:"identifier"`
	Username    string `json:"username"`
	Email       string `json:"email"`
	NewPassword string `json:"newPassword"`
}

func (f *resetFields) Validate() error {
	if f.Identifier == "" {
		f.Identifier = f.Username
	}
	if f.Identifier == "" {
		f.Identifier = f.Email
	}
	if f.Identifier == "" || f.NewPassword == "" {
		return apperr.Validation("identifier and newPassword are required")
	}
	return nil
}

func (h *Handler) resetPassword(ctx context.Context, _ *rpc.Request, f *resetFields) (rpc.Reply, error) {
	if err := h.svc.ResetPassword(ctx, f.Identifier, f.NewPassword); err != nil {
		return rpc.Reply{}, err
	}
	return rpc.Reply{Message: "Password reset successfully"}, nil
}

func (h *Handler) logout(ctx context.Context, req *rpc.Request) (rpc.Reply, error) {
	if err := h.svc.Logout(ctx, req.ActorID, req.Token); err != nil {
		return rpc.Reply{}, err
	}
	return rpc.Reply{Message: "Logged out"}, nil
}

type changePasswordFields struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

func (f *changePasswordFields) Validate() error {
	if f.CurrentPassword == "" || f.NewPassword == "" {
		return apperr.Validation("currentPassword and newPassword are required")
	}
	return nil
}

func (h *Handler) changePassword(ctx context.Context, req *rpc.Request, f *changePasswordFields) (rpc.Reply, error) {
	if err := h.svc.ChangePassword(ctx, req.ActorID, f.CurrentPassword, f.NewPassword); err != nil {
		return rpc.Reply{}, err
	}
	return rpc.Reply{Message: "Password changed successfully"}, nil
}

type getUsersFields struct {
	Role string `json:"role"`
}

func (h *Handler) getUsers(ctx context.Context, _ *rpc.Request, f *getUsersFields) (rpc.Reply, error) {
	users, err := h.svc.ListUsers(ctx, f.Role)
	if err != nil {
		return rpc.Reply{}, err
	}
	out := make([]PublicUser, 0, len(users))
	for _, u := range users {
		out = append(out, u.Public())
	}
	return rpc.Reply{Message: "Users retrieved", Payload: map[string]interface{}{
		"users": out,
		"count": len(out),
	}}, nil
}
