// AngelaMos | 2026
// service_test.go

package auth

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/angelamos/basecamp/internal/config"
	"github.com/angelamos/basecamp/internal/core"
	"github.com/angelamos/basecamp/internal/credential"
	"github.com/angelamos/basecamp/internal/lockout"
	"github.com/angelamos/basecamp/internal/onetime"
	"github.com/angelamos/basecamp/internal/token"
)

type memUserRepo struct {
	mu    sync.Mutex
	users map[string]*credential.User
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{users: make(map[string]*credential.User)}
}

func (r *memUserRepo) Create(_ context.Context, user *credential.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, u := range r.users {
		if u.Email == user.Email {
			return fmt.Errorf("create user: %w", core.ErrDuplicateKey)
		}
	}
	cp := *user
	cp.CreatedAt = time.Now()
	r.users[cp.ID] = &cp
	return nil
}

func (r *memUserRepo) GetByID(
	_ context.Context,
	id string,
) (*credential.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[id]
	if !ok {
		return nil, fmt.Errorf("get user: %w", core.ErrNotFound)
	}
	cp := *u
	return &cp, nil
}

func (r *memUserRepo) GetByEmail(
	_ context.Context,
	email string,
) (*credential.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, u := range r.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("get user by email: %w", core.ErrNotFound)
}

func (r *memUserRepo) UpdatePassword(_ context.Context, id, hash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[id]
	if !ok {
		return fmt.Errorf("update password: %w", core.ErrNotFound)
	}
	u.PasswordHash = hash
	return nil
}

func (r *memUserRepo) IncrementTokenVersion(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[id]
	if !ok {
		return fmt.Errorf("increment token version: %w", core.ErrNotFound)
	}
	u.TokenVersion++
	return nil
}

func (r *memUserRepo) MarkEmailVerified(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[id]
	if !ok {
		return fmt.Errorf("mark email verified: %w", core.ErrNotFound)
	}
	u.EmailVerified = true
	return nil
}

func (r *memUserRepo) RecordLoginFailure(
	_ context.Context,
	id string,
	threshold int,
	lockFor time.Duration,
) (*credential.LockState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[id]
	if !ok {
		return nil, fmt.Errorf("record login failure: %w", core.ErrNotFound)
	}

	u.FailedLoginAttempts++
	if !u.AccountLocked && u.FailedLoginAttempts >= threshold {
		u.AccountLocked = true
		until := time.Now().Add(lockFor)
		u.LockUntil = &until
	}

	return &credential.LockState{
		FailedLoginAttempts: u.FailedLoginAttempts,
		AccountLocked:       u.AccountLocked,
		LockUntil:           u.LockUntil,
	}, nil
}

func (r *memUserRepo) ResetLockout(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[id]
	if !ok {
		return fmt.Errorf("reset lockout: %w", core.ErrNotFound)
	}
	u.FailedLoginAttempts = 0
	u.AccountLocked = false
	u.LockUntil = nil
	return nil
}

type memTokenRepo struct {
	mu     sync.Mutex
	tokens map[string]*token.RefreshToken
}

func newMemTokenRepo() *memTokenRepo {
	return &memTokenRepo{tokens: make(map[string]*token.RefreshToken)}
}

func (r *memTokenRepo) Create(_ context.Context, tok *token.RefreshToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *tok
	cp.CreatedAt = time.Now()
	r.tokens[cp.ID] = &cp
	return nil
}

func (r *memTokenRepo) ClaimForRotation(
	_ context.Context,
	tokenHash, replacedByID string,
) (*token.RefreshToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, tok := range r.tokens {
		if tok.TokenHash != tokenHash {
			continue
		}
		if tok.IsUsed || tok.RevokedAt != nil || time.Now().After(tok.ExpiresAt) {
			break
		}
		now := time.Now()
		tok.IsUsed = true
		tok.UsedAt = &now
		tok.ReplacedByID = &replacedByID
		cp := *tok
		return &cp, nil
	}
	return nil, fmt.Errorf("claim refresh token: %w", core.ErrNotFound)
}

func (r *memTokenRepo) FindByHash(
	_ context.Context,
	tokenHash string,
) (*token.RefreshToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, tok := range r.tokens {
		if tok.TokenHash == tokenHash {
			cp := *tok
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("find refresh token: %w", core.ErrNotFound)
}

func (r *memTokenRepo) FindByID(
	_ context.Context,
	id string,
) (*token.RefreshToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tok, ok := r.tokens[id]
	if !ok {
		return nil, fmt.Errorf("find refresh token: %w", core.ErrNotFound)
	}
	cp := *tok
	return &cp, nil
}

func (r *memTokenRepo) RevokeByID(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tok, ok := r.tokens[id]
	if !ok || tok.RevokedAt != nil {
		return fmt.Errorf("revoke refresh token: %w", core.ErrNotFound)
	}
	now := time.Now()
	tok.RevokedAt = &now
	return nil
}

func (r *memTokenRepo) RevokeAllForUser(_ context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	for _, tok := range r.tokens {
		if tok.UserID == userID && tok.RevokedAt == nil {
			tok.RevokedAt = &now
		}
	}
	return nil
}

func (r *memTokenRepo) ActiveForUser(
	_ context.Context,
	userID string,
) ([]token.RefreshToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []token.RefreshToken
	for _, tok := range r.tokens {
		if tok.UserID == userID && tok.RevokedAt == nil && !tok.IsUsed &&
			time.Now().Before(tok.ExpiresAt) {
			out = append(out, *tok)
		}
	}
	return out, nil
}

func (r *memTokenRepo) DeleteExpired(_ context.Context) (int64, error) {
	return 0, nil
}

// memOnetime keeps issued secrets so tests can replay them the way a mailed
// link would.
type memOnetime struct {
	mu      sync.Mutex
	records map[string]*onetime.Token
	issued  map[string]string
}

func newMemOnetime() *memOnetime {
	return &memOnetime{
		records: make(map[string]*onetime.Token),
		issued:  make(map[string]string),
	}
}

func (s *memOnetime) Issue(
	_ context.Context,
	userID, email string,
	purpose onetime.Purpose,
	ttl time.Duration,
) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range s.records {
		if rec.UserID == userID && rec.Purpose == purpose && !rec.IsUsed {
			rec.ExpiresAt = time.Now()
		}
	}

	raw, err := core.GenerateOpaqueToken()
	if err != nil {
		return "", err
	}

	s.records[core.HashToken(raw)] = &onetime.Token{
		ID:        raw[:8],
		UserID:    userID,
		Purpose:   purpose,
		TokenHash: core.HashToken(raw),
		Email:     email,
		ExpiresAt: time.Now().Add(ttl),
		CreatedAt: time.Now(),
	}
	s.issued[userID+":"+string(purpose)] = raw

	return raw, nil
}

func (s *memOnetime) Consume(
	_ context.Context,
	raw string,
	purpose onetime.Purpose,
) (*onetime.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[core.HashToken(raw)]
	if !ok || rec.Purpose != purpose {
		return nil, fmt.Errorf("consume token: %w", core.ErrNotFound)
	}
	if rec.IsUsed {
		return nil, fmt.Errorf("consume token: %w", core.ErrTokenUsed)
	}
	if time.Now().After(rec.ExpiresAt) {
		return nil, fmt.Errorf("consume token: %w", core.ErrTokenExpired)
	}

	now := time.Now()
	rec.IsUsed = true
	rec.UsedAt = &now
	cp := *rec
	return &cp, nil
}

func (s *memOnetime) FindIfUsed(
	_ context.Context,
	raw string,
) (*onetime.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[core.HashToken(raw)]
	if !ok || !rec.IsUsed {
		return nil, fmt.Errorf("find used token: %w", core.ErrNotFound)
	}
	cp := *rec
	return &cp, nil
}

func (s *memOnetime) DeleteExpired(_ context.Context) (int64, error) {
	return 0, nil
}

func (s *memOnetime) lastIssued(
	userID string,
	purpose onetime.Purpose,
) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, ok := s.issued[userID+":"+string(purpose)]
	return raw, ok
}

type authFixture struct {
	svc       *Service
	userRepo  *memUserRepo
	tokenRepo *memTokenRepo
	onetime   *memOnetime
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()

	dir := t.TempDir()
	privatePath := filepath.Join(dir, "private.pem")
	publicPath := filepath.Join(dir, "public.pem")
	require.NoError(t, token.GenerateKeyPair(privatePath, publicPath))

	jwtManager, err := token.NewJWTManager(config.JWTConfig{
		PrivateKeyPath:     privatePath,
		PublicKeyPath:      publicPath,
		AccessTokenExpire:  15 * time.Minute,
		RefreshTokenExpire: 720 * time.Hour,
		Issuer:             "basecamp",
		Audience:           "basecamp-api",
	})
	require.NoError(t, err)

	logger := slog.New(slog.DiscardHandler)

	userRepo := newMemUserRepo()
	users := credential.NewService(userRepo)
	guard := lockout.NewGuard(userRepo, lockout.Config{
		Threshold: 5,
		Duration:  30 * time.Minute,
	}, logger)

	tokenRepo := newMemTokenRepo()
	tokens := token.NewService(tokenRepo, jwtManager, users, nil, logger)

	onetimeStore := newMemOnetime()

	svc := NewService(users, guard, tokens, onetimeStore, Config{
		VerifyEmailTTL:   24 * time.Hour,
		ResetPasswordTTL: time.Hour,
	}, logger)

	return &authFixture{
		svc:       svc,
		userRepo:  userRepo,
		tokenRepo: tokenRepo,
		onetime:   onetimeStore,
	}
}

func (f *authFixture) register(t *testing.T) *AuthResponse {
	t.Helper()

	resp, err := f.svc.Register(context.Background(), RegisterRequest{
		Email:    "camper@example.com",
		Password: "hunter2hunter2",
		Name:     "Camper",
	}, token.ClientContext{UserAgent: "test"})
	require.NoError(t, err)
	return resp
}

func TestLogin_Success(t *testing.T) {
	f := newAuthFixture(t)
	f.register(t)

	resp, err := f.svc.Login(context.Background(), LoginRequest{
		Email:    "camper@example.com",
		Password: "hunter2hunter2",
	}, token.ClientContext{})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Tokens.AccessToken)
	require.NotEmpty(t, resp.Tokens.RefreshToken)
	require.Equal(t, "Bearer", resp.Tokens.TokenType)
	require.Equal(t, "camper@example.com", resp.User.Email)
}

func TestLogin_UnknownEmail(t *testing.T) {
	f := newAuthFixture(t)

	_, err := f.svc.Login(context.Background(), LoginRequest{
		Email:    "ghost@example.com",
		Password: "whatever-pass",
	}, token.ClientContext{})
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLogin_LocksAfterRepeatedFailures(t *testing.T) {
	f := newAuthFixture(t)
	f.register(t)
	ctx := context.Background()

	bad := LoginRequest{Email: "camper@example.com", Password: "wrong-password"}

	for i := 1; i <= 4; i++ {
		_, err := f.svc.Login(ctx, bad, token.ClientContext{})
		require.ErrorIs(t, err, ErrInvalidCredentials, "attempt %d", i)
	}

	// The fifth failure trips the lock.
	_, err := f.svc.Login(ctx, bad, token.ClientContext{})
	require.ErrorIs(t, err, core.ErrAccountLocked)

	// Even the correct password is refused while locked.
	_, err = f.svc.Login(ctx, LoginRequest{
		Email:    "camper@example.com",
		Password: "hunter2hunter2",
	}, token.ClientContext{})
	require.ErrorIs(t, err, core.ErrAccountLocked)
}

func TestLogin_SuccessResetsFailureCount(t *testing.T) {
	f := newAuthFixture(t)
	reg := f.register(t)
	ctx := context.Background()

	bad := LoginRequest{Email: "camper@example.com", Password: "wrong-password"}
	good := LoginRequest{Email: "camper@example.com", Password: "hunter2hunter2"}

	for i := 0; i < 4; i++ {
		_, err := f.svc.Login(ctx, bad, token.ClientContext{})
		require.ErrorIs(t, err, ErrInvalidCredentials)
	}

	_, err := f.svc.Login(ctx, good, token.ClientContext{})
	require.NoError(t, err)

	stored, err := f.userRepo.GetByID(ctx, reg.User.ID)
	require.NoError(t, err)
	require.Zero(t, stored.FailedLoginAttempts)
}

func TestRegister_DuplicateEmail(t *testing.T) {
	f := newAuthFixture(t)
	f.register(t)

	_, err := f.svc.Register(context.Background(), RegisterRequest{
		Email:    "camper@example.com",
		Password: "anotherpass123",
		Name:     "Other",
	}, token.ClientContext{})
	require.ErrorIs(t, err, ErrEmailExists)
}

func TestVerifyEmail_Flow(t *testing.T) {
	f := newAuthFixture(t)
	reg := f.register(t)
	ctx := context.Background()

	secret, ok := f.onetime.lastIssued(reg.User.ID, onetime.PurposeVerifyEmail)
	require.True(t, ok, "registration should issue a verification token")

	require.NoError(t, f.svc.VerifyEmail(ctx, secret))

	stored, err := f.userRepo.GetByID(ctx, reg.User.ID)
	require.NoError(t, err)
	require.True(t, stored.EmailVerified)

	// Replaying the same link reports already-verified, not a hard failure.
	err = f.svc.VerifyEmail(ctx, secret)
	require.ErrorIs(t, err, ErrAlreadyVerified)
}

func TestResetPassword_RevokesEverything(t *testing.T) {
	f := newAuthFixture(t)
	reg := f.register(t)
	ctx := context.Background()

	require.NoError(t, f.svc.ForgotPassword(ctx, "camper@example.com"))

	secret, ok := f.onetime.lastIssued(reg.User.ID, onetime.PurposeResetPassword)
	require.True(t, ok, "forgot-password should issue a reset token")

	require.NoError(t, f.svc.ResetPassword(ctx, secret, "brand-new-pass1"))

	// Old password no longer works, new one does.
	_, err := f.svc.Login(ctx, LoginRequest{
		Email:    "camper@example.com",
		Password: "hunter2hunter2",
	}, token.ClientContext{})
	require.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = f.svc.Login(ctx, LoginRequest{
		Email:    "camper@example.com",
		Password: "brand-new-pass1",
	}, token.ClientContext{})
	require.NoError(t, err)

	// The registration-time refresh credential died with the reset.
	_, err = f.svc.Refresh(ctx, reg.Tokens.RefreshToken, token.ClientContext{})
	require.Error(t, err)

	// Token version bumped so surviving access credentials can be screened.
	stored, err := f.userRepo.GetByID(ctx, reg.User.ID)
	require.NoError(t, err)
	require.GreaterOrEqual(t, stored.TokenVersion, 1)
}

func TestForgotPassword_UnknownEmailIsSilent(t *testing.T) {
	f := newAuthFixture(t)

	require.NoError(t, f.svc.ForgotPassword(
		context.Background(),
		"ghost@example.com",
	))
}

func TestChangePassword_WrongCurrent(t *testing.T) {
	f := newAuthFixture(t)
	reg := f.register(t)

	err := f.svc.ChangePassword(
		context.Background(),
		reg.User.ID,
		"not-the-password",
		"new-password-123",
	)
	require.ErrorIs(t, err, ErrInvalidCredentials)
}
