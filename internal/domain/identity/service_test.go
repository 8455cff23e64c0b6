package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/ehr/telehealth/internal/platform/apperr"
	"github.com/ehr/telehealth/internal/platform/events"
	"github.com/ehr/telehealth/internal/platform/session"
)

func newTestService(t *testing.T, opts ...Option) (*Service, Repository) {
	t.Helper()
	repo := NewUserRepoMem()
	opts = append([]Option{WithBcryptCost(bcrypt.MinCost)}, opts...)
	return NewService(repo, opts...), repo
}

func signupPatient(t *testing.T, svc *Service, username string) *User {
	t.Helper()
	u, err := svc.Signup(context.Background(), SignupInput{
		Name:     "Pat " + username,
		Email:    username + "@example.com",
		Username: username,
		Password: "secret1",
		Role:     "PATIENT",
	})
	if err != nil {
		t.Fatalf("signup %s: %v", username, err)
	}
	return u
}

func TestSignup_GeneratesPrefixedID(t *testing.T) {
	svc, _ := newTestService(t)
	u := signupPatient(t, svc, "alice")
	if len(u.ID) != 6 || u.ID[:3] != "PAT" {
		t.Errorf("unexpected id %q", u.ID)
	}
	if u.PasswordHash == "secret1" || u.PasswordHash == "" {
		t.Error("expected password to be hashed")
	}

	doc, err := svc.Signup(context.Background(), SignupInput{
		Name: "Dr Who", Email: "who@example.com", Username: "drwho", Password: "tardis1",
		Role: "doctor", Specialization: "Cardiology",
	})
	if err != nil {
		t.Fatalf("doctor signup: %v", err)
	}
	if doc.ID[:3] != "DOC" || doc.Specialization != "Cardiology" {
		t.Errorf("unexpected doctor %+v", doc)
	}
}

func TestSignup_RetriesIDCollisions(t *testing.T) {
	ids := []string{"PAT001", "PAT001", "PAT002"}
	var n int
	svc, _ := newTestService(t, WithIDGenerator(func(Role) string {
		id := ids[n]
		if n < len(ids)-1 {
			n++
		}
		return id
	}))

	first := signupPatient(t, svc, "first")
	second := signupPatient(t, svc, "second")
	if first.ID != "PAT001" || second.ID != "PAT002" {
		t.Errorf("expected PAT001 and PAT002, got %s and %s", first.ID, second.ID)
	}
}

func TestSignup_ExhaustsIDs(t *testing.T) {
	svc, _ := newTestService(t, WithIDGenerator(func(Role) string { return "PAT007" }))
	signupPatient(t, svc, "bond")

	_, err := svc.Signup(context.Background(), SignupInput{
		Name: "Other", Email: "other@example.com", Username: "other", Password: "secret1",
	})
	if err == nil {
		t.Fatal("expected id allocation failure")
	}
	if _, classified := apperr.KindOf(err); classified {
		t.Errorf("expected a server error, got %v", err)
	}
}

func TestSignup_Duplicates(t *testing.T) {
	svc, _ := newTestService(t)
	signupPatient(t, svc, "alice")

	tests := []struct {
		name string
		in   SignupInput
	}{
		{"username", SignupInput{Name: "A", Email: "new@example.com", Username: "ALICE", Password: "secret1"}},
		{"email", SignupInput{Name: "A", Email: "alice@example.com", Username: "alice2", Password: "secret1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Signup(context.Background(), tt.in)
			if !errors.Is(err, apperr.ErrConflict) {
				t.Errorf("expected conflict, got %v", err)
			}
		})
	}
}

func TestSignup_Validation(t *testing.T) {
	svc, _ := newTestService(t)
	tests := []struct {
		name string
		in   SignupInput
	}{
		{"missing name", SignupInput{Email: "a@example.com", Username: "a", Password: "secret1"}},
		{"bad email", SignupInput{Name: "A", Email: "not-an-email", Username: "a", Password: "secret1"}},
		{"short password", SignupInput{Name: "A", Email: "a@example.com", Username: "a", Password: "abc"}},
		{"bad role", SignupInput{Name: "A", Email: "a@example.com", Username: "a", Password: "secret1", Role: "NURSE"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Signup(context.Background(), tt.in)
			if !errors.Is(err, apperr.ErrValidation) {
				t.Errorf("expected validation error, got %v", err)
			}
		})
	}
}

func TestSignup_EmitsEvent(t *testing.T) {
	rec := &events.Recorder{}
	svc, _ := newTestService(t, WithEvents(events.NewEmitter(rec, zerolog.Nop())))
	u := signupPatient(t, svc, "alice")

	got := rec.OfType(events.UserRegistered)
	if len(got) != 1 || got[0].Key != u.ID {
		t.Fatalf("expected one user.registered event, got %+v", got)
	}
	if _, ok := got[0].Data.(PublicUser); !ok {
		t.Errorf("expected public user data, got %T", got[0].Data)
	}
}

func TestLogin(t *testing.T) {
	svc, _ := newTestService(t)
	u := signupPatient(t, svc, "alice")

	for _, login := range []string{"alice", "ALICE", "alice@example.com"} {
		res, err := svc.Login(context.Background(), login, "secret1")
		if err != nil {
			t.Fatalf("login %s: %v", login, err)
		}
		if res.User.ID != u.ID || res.Token != "" {
			t.Errorf("unexpected result %+v", res)
		}
	}
}

func TestLogin_Failures(t *testing.T) {
	svc, _ := newTestService(t)
	signupPatient(t, svc, "alice")

	for _, tc := range [][2]string{{"alice", "wrong"}, {"nobody", "secret1"}, {"", ""}} {
		_, err := svc.Login(context.Background(), tc[0], tc[1])
		if !errors.Is(err, apperr.ErrUnauthenticated) {
			t.Errorf("%v: expected unauthenticated, got %v", tc, err)
			continue
		}
		if err.Error() != msgInvalidLogin {
			t.Errorf("%v: expected generic message, got %q", tc, err.Error())
		}
	}
}

func newTestSessions(t *testing.T) *session.Manager {
	t.Helper()
	store := session.NewRevocationStore(time.Minute)
	t.Cleanup(store.Close)
	m, err := session.NewManager("test-key", time.Hour, store)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return m
}

func TestLogin_IssuesToken(t *testing.T) {
	sessions := newTestSessions(t)
	svc, _ := newTestService(t, WithSessions(sessions))
	u := signupPatient(t, svc, "alice")

	res, err := svc.Login(context.Background(), "alice", "secret1")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if res.Token == "" || res.ExpiresAt.IsZero() {
		t.Fatal("expected a session token")
	}
	subject, err := sessions.VerifySubject(context.Background(), res.Token)
	if err != nil || subject != u.ID {
		t.Errorf("expected subject %s, got %s (%v)", u.ID, subject, err)
	}
}

func TestLogout(t *testing.T) {
	sessions := newTestSessions(t)
	svc, _ := newTestService(t, WithSessions(sessions))
	u := signupPatient(t, svc, "alice")
	res, _ := svc.Login(context.Background(), "alice", "secret1")

	if err := svc.Logout(context.Background(), "PAT999", res.Token); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("expected forbidden for another actor, got %v", err)
	}
	if err := svc.Logout(context.Background(), u.ID, res.Token); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, err := sessions.Parse(res.Token); !errors.Is(err, session.ErrRevoked) {
		t.Errorf("expected revoked token, got %v", err)
	}
	if err := svc.Logout(context.Background(), u.ID, res.Token); !errors.Is(err, apperr.ErrUnauthenticated) {
		t.Errorf("expected second logout to fail, got %v", err)
	}
}

func TestLogout_WithoutSessions(t *testing.T) {
	svc, _ := newTestService(t)
	if err := svc.Logout(context.Background(), "PAT001", "anything"); err != nil {
		t.Errorf("expected no-op logout, got %v", err)
	}
}

func TestResetPassword(t *testing.T) {
	svc, _ := newTestService(t)
	signupPatient(t, svc, "alice")

	if err := svc.ResetPassword(context.Background(), "alice@example.com", "newpass1"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if _, err := svc.Login(context.Background(), "alice", "secret1"); err == nil {
		t.Error("expected old password to stop working")
	}
	if _, err := svc.Login(context.Background(), "alice", "newpass1"); err != nil {
		t.Errorf("expected new password to work: %v", err)
	}

	err := svc.ResetPassword(context.Background(), "ghost", "newpass1")
	if !errors.Is(err, apperr.ErrNotFound) || err.Error() != msgResetFailed {
		t.Errorf("expected generic not found, got %v", err)
	}
	if err := svc.ResetPassword(context.Background(), "alice", "x"); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestChangePassword(t *testing.T) {
	svc, _ := newTestService(t)
	u := signupPatient(t, svc, "alice")

	if err := svc.ChangePassword(context.Background(), u.ID, "wrong", "newpass1"); !errors.Is(err, apperr.ErrUnauthenticated) {
		t.Errorf("expected unauthenticated, got %v", err)
	}
	if err := svc.ChangePassword(context.Background(), u.ID, "secret1", "newpass1"); err != nil {
		t.Fatalf("change password: %v", err)
	}
	if _, err := svc.Login(context.Background(), "alice", "newpass1"); err != nil {
		t.Errorf("expected new password to work: %v", err)
	}
	if err := svc.ChangePassword(context.Background(), "PAT404", "a", "newpass1"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestListUsers(t *testing.T) {
	svc, _ := newTestService(t)
	signupPatient(t, svc, "alice")
	signupPatient(t, svc, "bob")
	if _, err := svc.Signup(context.Background(), SignupInput{
		Name: "Dr A", Email: "dra@example.com", Username: "dra", Password: "secret1", Role: "DOCTOR",
	}); err != nil {
		t.Fatalf("signup doctor: %v", err)
	}

	all, err := svc.ListUsers(context.Background(), "")
	if err != nil || len(all) != 3 {
		t.Fatalf("expected 3 users, got %d (%v)", len(all), err)
	}
	doctors, _ := svc.ListUsers(context.Background(), "doctor")
	if len(doctors) != 1 || !doctors[0].IsDoctor() {
		t.Errorf("expected 1 doctor, got %+v", doctors)
	}
	if _, err := svc.ListUsers(context.Background(), "ROBOT"); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}
