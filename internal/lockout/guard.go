// AngelaMos | 2026
// guard.go

// Package lockout enforces temporary account suspension after repeated
// authentication failures. The state machine per account is
// unlocked -> (failure)* -> locked -> (window elapses or admin reset) ->
// unlocked. Unlocking is lazy: the window is checked on every attempt, so no
// background sweep exists.
package lockout

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/angelamos/basecamp/internal/core"
	"github.com/angelamos/basecamp/internal/credential"
)

// LockedError carries the remaining lock window for the request boundary.
// It matches errors.Is(err, core.ErrAccountLocked).
type LockedError struct {
	Remaining time.Duration
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("account locked for %s", e.Remaining.Round(time.Second))
}

func (e *LockedError) Unwrap() error {
	return core.ErrAccountLocked
}

type Config struct {
	Threshold int
	Duration  time.Duration
}

type Guard struct {
	repo   credential.Repository
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

func NewGuard(
	repo credential.Repository,
	cfg Config,
	logger *slog.Logger,
) *Guard {
	return &Guard{
		repo:   repo,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// LockDuration exposes the configured window so callers can report it when a
// failure they just recorded tripped the lock.
func (g *Guard) LockDuration() time.Duration {
	return g.cfg.Duration
}

// CheckBeforeAuth gates an authentication attempt. An elapsed lock is
// cleared in place and the attempt proceeds; an active lock rejects the
// attempt with the remaining window.
func (g *Guard) CheckBeforeAuth(
	ctx context.Context,
	user *credential.User,
) error {
	if !user.AccountLocked {
		return nil
	}

	now := g.now()

	if user.LockUntil != nil && !now.Before(*user.LockUntil) {
		if err := g.repo.ResetLockout(ctx, user.ID); err != nil {
			return fmt.Errorf("clear elapsed lock: %w", err)
		}

		user.AccountLocked = false
		user.LockUntil = nil
		user.FailedLoginAttempts = 0

		g.logger.Info("lock window elapsed, account unlocked",
			"user_id", user.ID,
		)
		return nil
	}

	remaining := user.LockRemaining(now)
	if user.LockUntil == nil {
		// Permanent lock; only an admin reset clears it.
		remaining = g.cfg.Duration
	}

	return &LockedError{Remaining: remaining}
}

// RecordFailure bumps the failure counter via the store's atomic update and
// reports whether this attempt tripped the lock.
func (g *Guard) RecordFailure(
	ctx context.Context,
	userID string,
) (bool, error) {
	state, err := g.repo.RecordLoginFailure(
		ctx,
		userID,
		g.cfg.Threshold,
		g.cfg.Duration,
	)
	if err != nil {
		return false, err
	}

	if state.AccountLocked {
		g.logger.Warn("account locked after repeated failures",
			"user_id", userID,
			"failed_attempts", state.FailedLoginAttempts,
		)
	}

	return state.AccountLocked, nil
}

// RecordSuccess resets the counter and clears any lock fields.
func (g *Guard) RecordSuccess(ctx context.Context, userID string) error {
	return g.repo.ResetLockout(ctx, userID)
}

// AdminReset clears the lock on behalf of an operator, including permanent
// locks that the lazy expiry never touches.
func (g *Guard) AdminReset(ctx context.Context, userID string) error {
	if err := g.repo.ResetLockout(ctx, userID); err != nil {
		return err
	}

	g.logger.Info("account lock cleared by admin", "user_id", userID)
	return nil
}
