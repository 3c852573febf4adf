// AngelaMos | 2026
// guard_test.go

package lockout

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/angelamos/basecamp/internal/core"
	"github.com/angelamos/basecamp/internal/credential"
)

// fakeRepo reproduces the store's atomic increment under a mutex.
type fakeRepo struct {
	mu    sync.Mutex
	users map[string]*credential.User
	now   func() time.Time
}

func newFakeRepo(now func() time.Time) *fakeRepo {
	return &fakeRepo{
		users: make(map[string]*credential.User),
		now:   now,
	}
}

func (r *fakeRepo) Create(_ context.Context, user *credential.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[user.ID] = user
	return nil
}

func (r *fakeRepo) GetByID(
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

func (r *fakeRepo) GetByEmail(
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
	return nil, fmt.Errorf("get user: %w", core.ErrNotFound)
}

func (r *fakeRepo) UpdatePassword(_ context.Context, id, hash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[id]; ok {
		u.PasswordHash = hash
	}
	return nil
}

func (r *fakeRepo) IncrementTokenVersion(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[id]; ok {
		u.TokenVersion++
	}
	return nil
}

func (r *fakeRepo) MarkEmailVerified(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[id]; ok {
		u.EmailVerified = true
	}
	return nil
}

func (r *fakeRepo) RecordLoginFailure(
	_ context.Context,
	id string,
	threshold int,
	lockFor time.Duration,
) (*credential.LockState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[id]
	if !ok {
		return nil, fmt.Errorf("record failure: %w", core.ErrNotFound)
	}

	u.FailedLoginAttempts++
	if !u.AccountLocked && u.FailedLoginAttempts >= threshold {
		u.AccountLocked = true
		until := r.now().Add(lockFor)
		u.LockUntil = &until
	}

	return &credential.LockState{
		FailedLoginAttempts: u.FailedLoginAttempts,
		AccountLocked:       u.AccountLocked,
		LockUntil:           u.LockUntil,
	}, nil
}

func (r *fakeRepo) ResetLockout(_ context.Context, id string) error {
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

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testGuard(t *testing.T) (*Guard, *fakeRepo, *clock) {
	t.Helper()

	clk := &clock{now: time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)}
	repo := newFakeRepo(clk.Now)

	guard := NewGuard(repo, Config{
		Threshold: 5,
		Duration:  30 * time.Minute,
	}, slog.New(slog.DiscardHandler))
	guard.now = clk.Now

	return guard, repo, clk
}

func seedUser(t *testing.T, repo *fakeRepo) *credential.User {
	t.Helper()

	user := &credential.User{
		ID:    "user-1",
		Email: "camper@example.com",
	}
	require.NoError(t, repo.Create(context.Background(), user))
	return user
}

func TestGuard_LocksAtThreshold(t *testing.T) {
	guard, repo, _ := testGuard(t)
	user := seedUser(t, repo)
	ctx := context.Background()

	for i := 1; i <= 4; i++ {
		locked, err := guard.RecordFailure(ctx, user.ID)
		require.NoError(t, err)
		require.False(t, locked, "attempt %d should not lock", i)
	}

	locked, err := guard.RecordFailure(ctx, user.ID)
	require.NoError(t, err)
	require.True(t, locked)

	fresh, err := repo.GetByID(ctx, user.ID)
	require.NoError(t, err)

	err = guard.CheckBeforeAuth(ctx, fresh)
	require.ErrorIs(t, err, core.ErrAccountLocked)

	var lockedErr *LockedError
	require.ErrorAs(t, err, &lockedErr)
	require.Equal(t, 30*time.Minute, lockedErr.Remaining.Round(time.Minute))
}

func TestGuard_LazyUnlockAfterWindow(t *testing.T) {
	guard, repo, clk := testGuard(t)
	user := seedUser(t, repo)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := guard.RecordFailure(ctx, user.ID)
		require.NoError(t, err)
	}

	// Mid-window the lock still holds.
	clk.Advance(29 * time.Minute)
	fresh, err := repo.GetByID(ctx, user.ID)
	require.NoError(t, err)
	require.ErrorIs(t, guard.CheckBeforeAuth(ctx, fresh), core.ErrAccountLocked)

	// Past the window the next attempt clears the lock in place.
	clk.Advance(2 * time.Minute)
	fresh, err = repo.GetByID(ctx, user.ID)
	require.NoError(t, err)
	require.NoError(t, guard.CheckBeforeAuth(ctx, fresh))
	require.False(t, fresh.AccountLocked)
	require.Zero(t, fresh.FailedLoginAttempts)

	stored, err := repo.GetByID(ctx, user.ID)
	require.NoError(t, err)
	require.False(t, stored.AccountLocked)
}

func TestGuard_SuccessResetsCounter(t *testing.T) {
	guard, repo, _ := testGuard(t)
	user := seedUser(t, repo)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, err := guard.RecordFailure(ctx, user.ID)
		require.NoError(t, err)
	}

	require.NoError(t, guard.RecordSuccess(ctx, user.ID))

	stored, err := repo.GetByID(ctx, user.ID)
	require.NoError(t, err)
	require.Zero(t, stored.FailedLoginAttempts)

	// The slate is clean; four more failures still do not lock.
	for i := 0; i < 4; i++ {
		locked, err := guard.RecordFailure(ctx, user.ID)
		require.NoError(t, err)
		require.False(t, locked)
	}
}

func TestGuard_ConcurrentFailuresLoseNoIncrements(t *testing.T) {
	guard, repo, _ := testGuard(t)
	user := seedUser(t, repo)
	ctx := context.Background()

	const attempts = 20
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			//nolint:errcheck // outcome checked via final state
			_, _ = guard.RecordFailure(ctx, user.ID)
		}()
	}
	wg.Wait()

	stored, err := repo.GetByID(ctx, user.ID)
	require.NoError(t, err)
	require.Equal(t, attempts, stored.FailedLoginAttempts)
	require.True(t, stored.AccountLocked)
}

func TestGuard_PermanentLockNeedsAdmin(t *testing.T) {
	guard, repo, clk := testGuard(t)
	user := seedUser(t, repo)
	ctx := context.Background()

	// A lock with no expiry never clears lazily.
	repo.users[user.ID].AccountLocked = true
	repo.users[user.ID].LockUntil = nil

	clk.Advance(48 * time.Hour)
	fresh, err := repo.GetByID(ctx, user.ID)
	require.NoError(t, err)
	require.ErrorIs(t, guard.CheckBeforeAuth(ctx, fresh), core.ErrAccountLocked)

	require.NoError(t, guard.AdminReset(ctx, user.ID))

	fresh, err = repo.GetByID(ctx, user.ID)
	require.NoError(t, err)
	require.NoError(t, guard.CheckBeforeAuth(ctx, fresh))
}
