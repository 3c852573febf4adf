// AngelaMos | 2026
// entity.go

package credential

import (
	"time"
)

// User is the credential record: identity plus the security counters the
// lockout guard mutates. account_locked with a nil lock_until means the lock
// holds until an admin clears it.
type User struct {
	ID                  string     `db:"id"`
	Email               string     `db:"email"`
	PasswordHash        string     `db:"password_hash"`
	Name                string     `db:"name"`
	Role                string     `db:"role"`
	EmailVerified       bool       `db:"email_verified"`
	TokenVersion        int        `db:"token_version"`
	FailedLoginAttempts int        `db:"failed_login_attempts"`
	AccountLocked       bool       `db:"account_locked"`
	LockUntil           *time.Time `db:"lock_until"`
	CreatedAt           time.Time  `db:"created_at"`
	UpdatedAt           time.Time  `db:"updated_at"`
	DeletedAt           *time.Time `db:"deleted_at"`
}

func (u *User) IsDeleted() bool {
	return u.DeletedAt != nil
}

func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// IsLockedAt reports whether the account is locked at the given instant. A
// lock whose window has elapsed no longer counts; the caller is expected to
// clear it lazily.
func (u *User) IsLockedAt(now time.Time) bool {
	if !u.AccountLocked {
		return false
	}
	if u.LockUntil == nil {
		return true
	}
	return now.Before(*u.LockUntil)
}

// LockRemaining returns how long the lock still holds, zero when unlocked or
// elapsed, and a negative sentinel is never returned.
func (u *User) LockRemaining(now time.Time) time.Duration {
	if !u.AccountLocked || u.LockUntil == nil {
		return 0
	}
	remaining := u.LockUntil.Sub(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}

const (
	RoleCamper = "camper"
	RoleOwner  = "owner"
	RoleAdmin  = "admin"
)

// LockState is the post-update view returned by the store's atomic failure
// increment.
type LockState struct {
	FailedLoginAttempts int        `db:"failed_login_attempts"`
	AccountLocked       bool       `db:"account_locked"`
	LockUntil           *time.Time `db:"lock_until"`
}
