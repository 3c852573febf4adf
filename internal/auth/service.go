// AngelaMos | 2026
// service.go

// Package auth orchestrates the authentication flows: it is the only place
// where the credential store, the lockout guard, the token service and the
// one-time token store meet.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/angelamos/basecamp/internal/core"
	"github.com/angelamos/basecamp/internal/credential"
	"github.com/angelamos/basecamp/internal/lockout"
	"github.com/angelamos/basecamp/internal/onetime"
	"github.com/angelamos/basecamp/internal/token"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrEmailExists        = errors.New("email already exists")
	ErrAlreadyVerified    = errors.New("email already verified")
)

type Config struct {
	VerifyEmailTTL   time.Duration
	ResetPasswordTTL time.Duration
}

type Service struct {
	users   *credential.Service
	guard   *lockout.Guard
	tokens  *token.Service
	onetime onetime.Store
	cfg     Config
	logger  *slog.Logger
}

func NewService(
	users *credential.Service,
	guard *lockout.Guard,
	tokens *token.Service,
	onetimeStore onetime.Store,
	cfg Config,
	logger *slog.Logger,
) *Service {
	return &Service{
		users:   users,
		guard:   guard,
		tokens:  tokens,
		onetime: onetimeStore,
		cfg:     cfg,
		logger:  logger,
	}
}

// Login authenticates a password attempt. The lockout guard is consulted
// before the password is checked, so a locked account never reveals whether
// the password was right. Unknown emails burn the same verification cost as
// known ones.
func (s *Service) Login(
	ctx context.Context,
	req LoginRequest,
	client token.ClientContext,
) (*AuthResponse, error) {
	user, err := s.users.GetByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			//nolint:errcheck // timing attack prevention - always verify to prevent enumeration
			_, _, _ = core.VerifyPasswordTimingSafe(req.Password, nil)
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("get user: %w", err)
	}

	if err := s.guard.CheckBeforeAuth(ctx, user); err != nil {
		return nil, err
	}

	valid, newHash, err := core.VerifyPasswordTimingSafe(
		req.Password,
		&user.PasswordHash,
	)
	if err != nil {
		return nil, fmt.Errorf("verify password: %w", err)
	}

	if !valid {
		locked, recErr := s.guard.RecordFailure(ctx, user.ID)
		if recErr != nil {
			s.logger.Error("failed to record login failure",
				"user_id", user.ID,
				"error", recErr,
			)
		}
		if locked {
			return nil, &lockout.LockedError{
				Remaining: s.guard.LockDuration(),
			}
		}
		return nil, ErrInvalidCredentials
	}

	if newHash != "" {
		//nolint:errcheck // best-effort rehash upgrade
		_ = s.users.UpdatePassword(ctx, user.ID, newHash)
	}

	if err := s.guard.RecordSuccess(ctx, user.ID); err != nil {
		s.logger.Error("failed to reset lockout state",
			"user_id", user.ID,
			"error", err,
		)
	}

	pair, err := s.tokens.Issue(ctx, user, client)
	if err != nil {
		return nil, fmt.Errorf("issue tokens: %w", err)
	}

	return authResponse(user, pair), nil
}

// Register creates the account and opens its first token family. A
// verification token is issued alongside; delivery is the mailer's concern.
func (s *Service) Register(
	ctx context.Context,
	req RegisterRequest,
	client token.ClientContext,
) (*AuthResponse, error) {
	passwordHash, err := core.HashPassword(req.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user, err := s.users.Create(ctx, req.Email, passwordHash, req.Name)
	if err != nil {
		if errors.Is(err, core.ErrDuplicateKey) {
			return nil, ErrEmailExists
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	if _, err := s.onetime.Issue(
		ctx,
		user.ID,
		user.Email,
		onetime.PurposeVerifyEmail,
		s.cfg.VerifyEmailTTL,
	); err != nil {
		s.logger.Error("failed to issue verification token",
			"user_id", user.ID,
			"error", err,
		)
	}

	pair, err := s.tokens.Issue(ctx, user, client)
	if err != nil {
		return nil, fmt.Errorf("issue tokens: %w", err)
	}

	return authResponse(user, pair), nil
}

// Refresh exchanges a refresh credential for a new pair via single-use
// rotation. Reuse and expiry are surfaced through the token sentinels.
func (s *Service) Refresh(
	ctx context.Context,
	refreshToken string,
	client token.ClientContext,
) (*TokenResponse, error) {
	pair, err := s.tokens.Rotate(ctx, refreshToken, client)
	if err != nil {
		return nil, err
	}

	resp := tokenResponse(pair)
	return &resp, nil
}

// VerifyEmail consumes a verification token. Re-presenting an already
// consumed token reports the distinct already-verified condition instead of
// a generic failure.
func (s *Service) VerifyEmail(ctx context.Context, raw string) error {
	record, err := s.onetime.Consume(ctx, raw, onetime.PurposeVerifyEmail)
	if err != nil {
		if errors.Is(err, core.ErrTokenUsed) {
			return ErrAlreadyVerified
		}
		return err
	}

	if err := s.users.MarkEmailVerified(ctx, record.UserID); err != nil {
		return fmt.Errorf("mark verified: %w", err)
	}

	return nil
}

// ForgotPassword issues a reset token when the email is known. Its return is
// identical either way; the endpoint never confirms account existence.
func (s *Service) ForgotPassword(ctx context.Context, email string) error {
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("get user: %w", err)
	}

	if _, err := s.onetime.Issue(
		ctx,
		user.ID,
		user.Email,
		onetime.PurposeResetPassword,
		s.cfg.ResetPasswordTTL,
	); err != nil {
		return fmt.Errorf("issue reset token: %w", err)
	}

	s.logger.Info("password reset token issued", "user_id", user.ID)
	return nil
}

// ResetPassword consumes a reset token, replaces the password and revokes
// every outstanding credential for the account.
func (s *Service) ResetPassword(
	ctx context.Context,
	raw, newPassword string,
) error {
	record, err := s.onetime.Consume(ctx, raw, onetime.PurposeResetPassword)
	if err != nil {
		return err
	}

	newHash, err := core.HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	if err := s.users.UpdatePassword(ctx, record.UserID, newHash); err != nil {
		return fmt.Errorf("update password: %w", err)
	}

	if err := s.revokeEverything(ctx, record.UserID); err != nil {
		return err
	}

	if err := s.guard.AdminReset(ctx, record.UserID); err != nil {
		s.logger.Error("failed to clear lockout after reset",
			"user_id", record.UserID,
			"error", err,
		)
	}

	return nil
}

// ChangePassword verifies the current password before replacing it, then
// signs the user out everywhere.
func (s *Service) ChangePassword(
	ctx context.Context,
	userID, currentPassword, newPassword string,
) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("get user: %w", err)
	}

	valid, _, err := core.VerifyPasswordWithRehash(
		currentPassword,
		user.PasswordHash,
	)
	if err != nil {
		return fmt.Errorf("verify password: %w", err)
	}

	if !valid {
		return ErrInvalidCredentials
	}

	newHash, err := core.HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	if err := s.users.UpdatePassword(ctx, userID, newHash); err != nil {
		return fmt.Errorf("update password: %w", err)
	}

	return s.revokeEverything(ctx, userID)
}

// Logout revokes the presented refresh credential and files a revocation
// record for the access credential that authorized the call.
func (s *Service) Logout(
	ctx context.Context,
	refreshToken string,
	claims *token.Claims,
) error {
	if err := s.tokens.Logout(ctx, refreshToken, claims.UserID); err != nil {
		return err
	}

	if err := s.tokens.RevokeAccess(ctx, claims.JTI, claims.ExpiresAt); err != nil {
		s.logger.Error("failed to revoke access credential",
			"user_id", claims.UserID,
			"error", err,
		)
	}

	return nil
}

// LogoutAll signs the user out of every device.
func (s *Service) LogoutAll(ctx context.Context, userID string) error {
	return s.revokeEverything(ctx, userID)
}

func (s *Service) GetActiveSessions(
	ctx context.Context,
	userID string,
) ([]token.SessionInfo, error) {
	return s.tokens.ActiveSessions(ctx, userID)
}

func (s *Service) RevokeSession(
	ctx context.Context,
	userID, sessionID string,
) error {
	return s.tokens.RevokeSession(ctx, userID, sessionID)
}

func (s *Service) GetCurrentUser(
	ctx context.Context,
	userID string,
) (*UserResponse, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	resp := userResponse(user)
	return &resp, nil
}

// revokeEverything kills all refresh credentials and bumps the token version
// so surviving access credentials fail version validation on their next use.
func (s *Service) revokeEverything(ctx context.Context, userID string) error {
	if err := s.tokens.RevokeAll(ctx, userID); err != nil {
		return fmt.Errorf("revoke refresh tokens: %w", err)
	}

	if err := s.users.IncrementTokenVersion(ctx, userID); err != nil {
		return fmt.Errorf("increment token version: %w", err)
	}

	return nil
}

func authResponse(user *credential.User, pair *token.Pair) *AuthResponse {
	return &AuthResponse{
		User:   userResponse(user),
		Tokens: tokenResponse(pair),
	}
}

func tokenResponse(pair *token.Pair) TokenResponse {
	return TokenResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int(time.Until(pair.AccessExpiresAt).Seconds()),
		ExpiresAt:    pair.AccessExpiresAt,
	}
}

func userResponse(user *credential.User) UserResponse {
	return UserResponse{
		ID:            user.ID,
		Email:         user.Email,
		Name:          user.Name,
		Role:          user.Role,
		EmailVerified: user.EmailVerified,
		CreatedAt:     user.CreatedAt,
	}
}
