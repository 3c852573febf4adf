// AngelaMos | 2026
// service.go

package token

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/angelamos/basecamp/internal/core"
	"github.com/angelamos/basecamp/internal/credential"
)

const revokedAccessPrefix = "revoked:access:"

// UserProvider is the slice of the credential store the token service needs.
type UserProvider interface {
	GetByID(ctx context.Context, id string) (*credential.User, error)
}

// Service mints, verifies and rotates the platform's credentials. Access
// credentials are stateless ES256 tokens; refresh credentials are opaque,
// store-backed and single-use.
type Service struct {
	repo   Repository
	jwt    *JWTManager
	users  UserProvider
	redis  *redis.Client
	logger *slog.Logger
}

func NewService(
	repo Repository,
	jwt *JWTManager,
	users UserProvider,
	redisClient *redis.Client,
	logger *slog.Logger,
) *Service {
	return &Service{
		repo:   repo,
		jwt:    jwt,
		users:  users,
		redis:  redisClient,
		logger: logger,
	}
}

// Issue mints a fresh access/refresh pair for an authenticated user, opening
// a new token family.
func (s *Service) Issue(
	ctx context.Context,
	user *credential.User,
	client ClientContext,
) (*Pair, error) {
	return s.issuePair(ctx, user, client, "", uuid.New().String())
}

// VerifyAccess checks signature and expiry, rejects credentials minted
// before the user's current token version, then rejects those with a
// standing revocation record. All failures are closed: an error from either
// store never admits the token.
func (s *Service) VerifyAccess(
	ctx context.Context,
	raw string,
) (*Claims, error) {
	claims, err := s.jwt.ParseAccessToken(ctx, raw)
	if err != nil {
		return nil, err
	}

	user, err := s.users.GetByID(ctx, claims.UserID)
	if err != nil {
		return nil, fmt.Errorf("load credential state: %w", err)
	}

	if claims.TokenVersion != user.TokenVersion {
		return nil, fmt.Errorf("verify access: %w", core.ErrTokenRevoked)
	}

	exists, err := s.redis.Exists(ctx, revokedAccessPrefix+claims.JTI).Result()
	if err != nil {
		return nil, fmt.Errorf("check revocation record: %w", err)
	}

	if exists > 0 {
		return nil, fmt.Errorf("verify access: %w", core.ErrTokenRevoked)
	}

	return claims, nil
}

// Rotate exchanges a valid refresh credential for a new pair. The claim is a
// single conditional update, so concurrent rotations of the same token admit
// exactly one winner; losers observe reuse semantics. Presenting an
// already-used or revoked credential is treated as theft: every refresh
// credential the user holds is revoked before the failure is returned.
func (s *Service) Rotate(
	ctx context.Context,
	refreshToken string,
	client ClientContext,
) (*Pair, error) {
	tokenHash := core.HashToken(refreshToken)
	newTokenID := uuid.New().String()

	claimed, err := s.repo.ClaimForRotation(ctx, tokenHash, newTokenID)
	if err != nil {
		if !errors.Is(err, core.ErrNotFound) {
			return nil, fmt.Errorf("rotate: %w", err)
		}
		return nil, s.classifyRotationFailure(ctx, tokenHash)
	}

	user, err := s.users.GetByID(ctx, claimed.UserID)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}

	return s.issuePair(ctx, user, client, claimed.FamilyID, newTokenID)
}

// classifyRotationFailure distinguishes never-existed, expired and reused
// after a failed claim. Reuse triggers whole-account refresh revocation; a
// single compromised token invalidates the entire chain.
func (s *Service) classifyRotationFailure(
	ctx context.Context,
	tokenHash string,
) error {
	existing, err := s.repo.FindByHash(ctx, tokenHash)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return fmt.Errorf("rotate: %w", core.ErrTokenInvalid)
		}
		return fmt.Errorf("rotate: %w", err)
	}

	if existing.IsUsed || existing.IsRevoked() {
		if revokeErr := s.repo.RevokeAllForUser(ctx, existing.UserID); revokeErr != nil {
			s.logger.Error("failed to revoke credentials after reuse signal",
				"user_id", existing.UserID,
				"error", revokeErr,
			)
		}

		s.logger.Warn("refresh token reuse detected, all sessions revoked",
			"user_id", existing.UserID,
			"family_id", existing.FamilyID,
		)

		return fmt.Errorf("rotate: %w", core.ErrTokenReused)
	}

	return fmt.Errorf("rotate: %w", core.ErrTokenExpired)
}

// RevokeAll marks every live refresh credential for the user revoked. Used
// on password change, privilege change and explicit logout-everywhere. The
// update completes before success is reported.
func (s *Service) RevokeAll(ctx context.Context, userID string) error {
	if err := s.repo.RevokeAllForUser(ctx, userID); err != nil {
		return fmt.Errorf("revoke all: %w", err)
	}
	return nil
}

// RevokeAccess files a revocation record so an otherwise-valid access
// credential is rejected until its natural expiry. The record carries the
// same TTL, so the revocation set never grows without bound.
func (s *Service) RevokeAccess(
	ctx context.Context,
	jti string,
	expiresAt time.Time,
) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return nil
	}

	key := revokedAccessPrefix + jti
	if err := s.redis.Set(ctx, key, "1", ttl).Err(); err != nil {
		return fmt.Errorf("record access revocation: %w", err)
	}

	return nil
}

// Logout revokes a single refresh credential after an ownership check. An
// unknown token is a no-op; logout is idempotent.
func (s *Service) Logout(
	ctx context.Context,
	refreshToken, userID string,
) error {
	tokenHash := core.HashToken(refreshToken)

	stored, err := s.repo.FindByHash(ctx, tokenHash)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("find token: %w", err)
	}

	if stored.UserID != userID {
		return fmt.Errorf("logout: %w", core.ErrForbidden)
	}

	if err := s.repo.RevokeByID(ctx, stored.ID); err != nil &&
		!errors.Is(err, core.ErrNotFound) {
		return fmt.Errorf("revoke token: %w", err)
	}

	return nil
}

type SessionInfo struct {
	ID        string    `json:"id"`
	UserAgent string    `json:"user_agent"`
	IPAddress string    `json:"ip_address"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (s *Service) ActiveSessions(
	ctx context.Context,
	userID string,
) ([]SessionInfo, error) {
	tokens, err := s.repo.ActiveForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	sessions := make([]SessionInfo, 0, len(tokens))
	for _, t := range tokens {
		sessions = append(sessions, SessionInfo{
			ID:        t.ID,
			UserAgent: t.UserAgent,
			IPAddress: t.IPAddress,
			CreatedAt: t.CreatedAt,
			ExpiresAt: t.ExpiresAt,
		})
	}

	return sessions, nil
}

func (s *Service) RevokeSession(
	ctx context.Context,
	userID, sessionID string,
) error {
	stored, err := s.repo.FindByID(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("find session: %w", err)
	}

	if stored.UserID != userID {
		return fmt.Errorf("revoke session: %w", core.ErrForbidden)
	}

	if err := s.repo.RevokeByID(ctx, sessionID); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}

	return nil
}

func (s *Service) issuePair(
	ctx context.Context,
	user *credential.User,
	client ClientContext,
	familyID, tokenID string,
) (*Pair, error) {
	accessToken, jti, accessExpiresAt, err := s.jwt.MintAccessToken(Claims{
		UserID:        user.ID,
		Role:          user.Role,
		EmailVerified: user.EmailVerified,
		TokenVersion:  user.TokenVersion,
	})
	if err != nil {
		return nil, fmt.Errorf("mint access token: %w", err)
	}

	refreshToken, err := core.GenerateOpaqueToken()
	if err != nil {
		return nil, fmt.Errorf("generate refresh token: %w", err)
	}

	if familyID == "" {
		familyID = uuid.New().String()
	}

	refreshExpiresAt := time.Now().Add(s.jwt.RefreshTokenTTL())

	entity := &RefreshToken{
		ID:        tokenID,
		UserID:    user.ID,
		TokenHash: core.HashToken(refreshToken),
		FamilyID:  familyID,
		ExpiresAt: refreshExpiresAt,
		UserAgent: client.UserAgent,
		IPAddress: client.IPAddress,
	}

	if err := s.repo.Create(ctx, entity); err != nil {
		return nil, fmt.Errorf("store refresh token: %w", err)
	}

	return &Pair{
		AccessToken:      accessToken,
		AccessJTI:        jti,
		AccessExpiresAt:  accessExpiresAt,
		RefreshToken:     refreshToken,
		RefreshExpiresAt: refreshExpiresAt,
	}, nil
}
