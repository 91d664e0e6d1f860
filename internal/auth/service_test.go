package auth

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"
)

type serviceFixture struct {
	svc    *Service
	store  *fakeStore
	hasher *plainHasher
	locks  *fakeLockouts
	now    *time.Time
}

func newServiceFixture(t *testing.T, opts ...ServiceOption) serviceFixture {
	t.Helper()
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	fx := serviceFixture{store: newFakeStore(), hasher: &plainHasher{}, locks: newFakeLockouts(), now: &now}
	clock := func() time.Time { return *fx.now }
	opts = append([]ServiceOption{WithClock(clock), WithLockout(fx.locks, 3, 15*time.Minute)}, opts...)
	svc, err := NewService(fx.store, fx.hasher, newTestTokens(t, fx.now), opts...)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	fx.svc = svc
	return fx
}

func (fx serviceFixture) addAlice() *User {
	return fx.store.put(&User{
		ID: "u-alice", Username: "alice", Email: "alice@example.com",
		PasswordHash: "plain:s3cret-pass", Active: true,
		Roles: []Role{{ID: "r-user", Name: RoleUser, Active: true}},
	})
}

func TestLoginSuccess(t *testing.T) {
	fx := newServiceFixture(t)
	fx.addAlice()

	res, err := fx.svc.Login(context.Background(), "  Alice@Example.com ", "s3cret-pass")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if res.Token == "" || !res.ExpiresAt.Equal(fx.now.Add(time.Hour)) {
		t.Fatalf("unexpected result %+v", res)
	}
	if !slices.Equal(res.Profile.Authorities, []string{"ROLE_USER"}) || res.Principal.ID != "u-alice" {
		t.Fatalf("unexpected profile %+v", res.Profile)
	}

	p, err := fx.svc.ValidateToken(context.Background(), res.Token)
	if err != nil || p.Username != "alice" {
		t.Fatalf("ValidateToken = %+v, %v", p, err)
	}
	if res.Principal.TokenID == "" || p.TokenID != res.Principal.TokenID {
		t.Fatalf("token id not carried: login %q, validate %q", res.Principal.TokenID, p.TokenID)
	}

	stored, _ := fx.store.FindByID(context.Background(), "u-alice")
	if stored.LastLoginAt == nil || !stored.LastLoginAt.Equal(*fx.now) {
		t.Fatalf("last login not recorded: %v", stored.LastLoginAt)
	}
}

func TestLoginDoesNotRestoreConcurrentRevocation(t *testing.T) {
	fx := newServiceFixture(t)
	fx.store.put(&User{
		ID: "u-alice", Username: "alice", Email: "alice@example.com",
		PasswordHash: "plain:s3cret-pass", Active: true,
		Roles: []Role{*fx.store.roles["r-admin"]},
	})
	fx.hasher.onVerify = func() {
		u, _ := fx.store.FindByID(context.Background(), "u-alice")
		u.Active = false
		u.Roles = nil
		_ = fx.store.Save(context.Background(), u)
	}

	if _, err := fx.svc.Login(context.Background(), "alice", "s3cret-pass"); err != nil {
		t.Fatalf("Login: %v", err)
	}

	stored, err := fx.store.FindByID(context.Background(), "u-alice")
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if stored.Active || len(stored.Roles) != 0 {
		t.Fatalf("revocation undone: active=%v roles=%v", stored.Active, stored.Roles)
	}
	if stored.LastLoginAt == nil || !stored.LastLoginAt.Equal(*fx.now) {
		t.Fatalf("last login not recorded: %v", stored.LastLoginAt)
	}
	if fx.store.saves != 1 || fx.store.touches != 1 {
		t.Fatalf("saves=%d touches=%d, want 1 and 1", fx.store.saves, fx.store.touches)
	}
}

func TestLoginFailuresAreUniform(t *testing.T) {
	fx := newServiceFixture(t)
	fx.addAlice()
	fx.store.put(&User{ID: "u-off", Username: "off", Email: "off@example.com", PasswordHash: "plain:s3cret-pass"})

	cases := map[string][2]string{
		"wrong password":   {"alice", "nope"},
		"unknown identity": {"mallory", "s3cret-pass"},
		"inactive account": {"off", "s3cret-pass"},
		"blank identity":   {"   ", "s3cret-pass"},
		"blank password":   {"alice", ""},
	}
	for name, in := range cases {
		_, err := fx.svc.Login(context.Background(), in[0], in[1])
		if !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("%s: expected ErrInvalidCredentials, got %v", name, err)
		}
		if err.Error() != ErrInvalidCredentials.Error() {
			t.Fatalf("%s: error leaks detail: %v", name, err)
		}
	}
}

func TestLoginUnknownIdentityStillVerifiesPassword(t *testing.T) {
	fx := newServiceFixture(t)
	before := fx.hasher.verifies
	if _, err := fx.svc.Login(context.Background(), "nobody", "whatever"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if fx.hasher.verifies != before+1 {
		t.Fatalf("expected one dummy verification, got %d", fx.hasher.verifies-before)
	}
}

func TestLoginLockout(t *testing.T) {
	fx := newServiceFixture(t)
	fx.addAlice()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := fx.svc.Login(ctx, "alice", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: %v", i, err)
		}
	}
	if _, err := fx.svc.Login(ctx, "alice", "s3cret-pass"); !errors.Is(err, ErrTooManyAttempts) {
		t.Fatalf("expected lockout, got %v", err)
	}

	*fx.now = fx.now.Add(15 * time.Minute)
	if _, err := fx.svc.Login(ctx, "alice", "s3cret-pass"); err != nil {
		t.Fatalf("login after lockout window: %v", err)
	}
	if st, _ := fx.locks.Get(ctx, "alice"); st.FailedCount != 0 {
		t.Fatalf("lockout not cleared: %+v", st)
	}
}

func TestLoginStoreErrorIsNotMasked(t *testing.T) {
	fx := newServiceFixture(t)
	fx.store.findErr = errors.New("db down")
	_, err := fx.svc.Login(context.Background(), "alice", "s3cret-pass")
	if err == nil || errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected infrastructure error, got %v", err)
	}
}

func TestValidateTokenAfterDeactivation(t *testing.T) {
	fx := newServiceFixture(t)
	alice := fx.addAlice()
	res, err := fx.svc.Login(context.Background(), "alice", "s3cret-pass")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	alice.Active = false
	fx.store.put(alice)
	if _, err := fx.svc.ValidateToken(context.Background(), res.Token); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}

	*fx.now = fx.now.Add(2 * time.Hour)
	if _, err := fx.svc.ValidateToken(context.Background(), res.Token); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected expired token to fail, got %v", err)
	}
}

func TestRegister(t *testing.T) {
	fx := newServiceFixture(t)
	ctx := context.Background()

	profile, err := fx.svc.Register(ctx, RegisterInput{Username: "Erin", Email: "Erin@Example.com", Password: "longenough"})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if profile.ID == "" || profile.Username != "erin" || profile.Email != "erin@example.com" || !profile.Active {
		t.Fatalf("unexpected profile %+v", profile)
	}
	if !slices.Equal(profile.Roles, []string{RoleUser}) {
		t.Fatalf("default role not assigned: %v", profile.Roles)
	}
	if _, err := fx.svc.Login(ctx, "erin", "longenough"); err != nil {
		t.Fatalf("login after register: %v", err)
	}

	_, err = fx.svc.Register(ctx, RegisterInput{Username: "someone", Email: "ERIN@example.com", Password: "longenough"})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestRegisterValidation(t *testing.T) {
	fx := newServiceFixture(t)
	cases := map[string]RegisterInput{
		"short username": {Username: "ab", Email: "ab@example.com", Password: "longenough"},
		"bad chars":      {Username: "a b c", Email: "abc@example.com", Password: "longenough"},
		"no at":          {Username: "abc", Email: "abc.example.com", Password: "longenough"},
		"short password": {Username: "abc", Email: "abc@example.com", Password: "short"},
		"long password":  {Username: "abc", Email: "abc@example.com", Password: strings.Repeat("p", 73)},
	}
	for name, in := range cases {
		if _, err := fx.svc.Register(context.Background(), in); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("%s: expected ErrInvalidInput, got %v", name, err)
		}
	}
}

func TestProfileAndRole(t *testing.T) {
	fx := newServiceFixture(t)
	fx.addAlice()
	ctx := context.Background()

	p, err := fx.svc.Profile(ctx, "u-alice")
	if err != nil || p.Username != "alice" {
		t.Fatalf("Profile = %+v, %v", p, err)
	}
	if _, err := fx.svc.Profile(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	role, err := fx.svc.Role(ctx, "r-admin")
	if err != nil || role.Name != RoleAdmin || len(role.Permissions) != 2 {
		t.Fatalf("Role = %+v, %v", role, err)
	}
	if _, err := fx.svc.Role(ctx, " "); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestBootstrapAdmin(t *testing.T) {
	fx := newServiceFixture(t)
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "admin-password")
	cfg := BootstrapConfig{Username: "admin", Email: "admin@backoffice.local", PasswordPath: path}

	if err := fx.svc.BootstrapAdmin(ctx, cfg); err != nil {
		t.Fatalf("BootstrapAdmin: %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read password file: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil || info.Mode().Perm() != 0o600 {
		t.Fatalf("password file mode = %v, %v", info.Mode().Perm(), err)
	}

	res, err := fx.svc.Login(ctx, "admin", strings.TrimSpace(string(raw)))
	if err != nil {
		t.Fatalf("admin login: %v", err)
	}
	if !res.Principal.HasAuthority(AuthorityAdmin) || !res.Principal.HasAuthority(AuthorityUserRead) {
		t.Fatalf("admin authorities = %v", res.Principal.Authorities)
	}

	saves := fx.store.saves
	if err := fx.svc.BootstrapAdmin(ctx, cfg); err != nil {
		t.Fatalf("second BootstrapAdmin: %v", err)
	}
	if fx.store.saves != saves {
		t.Fatal("bootstrap must be idempotent")
	}
}

func TestBootstrapAdminRequiresPasswordSink(t *testing.T) {
	fx := newServiceFixture(t)
	ctx := context.Background()

	err := fx.svc.BootstrapAdmin(ctx, BootstrapConfig{Username: "admin", Email: "admin@backoffice.local"})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if fx.store.saves != 0 {
		t.Fatal("admin must not be created without a password sink")
	}

	cfg := BootstrapConfig{Username: "admin", Email: "admin@backoffice.local", LogPassword: true}
	if err := fx.svc.BootstrapAdmin(ctx, cfg); err != nil {
		t.Fatalf("BootstrapAdmin with logging allowed: %v", err)
	}
	if _, err := fx.store.FindByUsernameOrEmail(ctx, "admin"); err != nil {
		t.Fatalf("admin not created: %v", err)
	}
}
