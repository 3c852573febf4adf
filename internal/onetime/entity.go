// AngelaMos | 2026
// entity.go

// Package onetime persists single-use, time-boxed secrets: email
// verification and password reset tokens share one lifecycle. At most one
// live token exists per purpose per user, and a token can be consumed
// exactly once.
package onetime

import (
	"time"
)

type Purpose string

const (
	PurposeVerifyEmail   Purpose = "verify_email"
	PurposeResetPassword Purpose = "reset_password"
)

// Token is the stored record. Like refresh credentials, only the hash of the
// secret is persisted.
type Token struct {
	ID        string     `db:"id"`
	UserID    string     `db:"user_id"`
	Purpose   Purpose    `db:"purpose"`
	TokenHash string     `db:"token_hash"`
	Email     string     `db:"email"`
	ExpiresAt time.Time  `db:"expires_at"`
	CreatedAt time.Time  `db:"created_at"`
	IsUsed    bool       `db:"is_used"`
	UsedAt    *time.Time `db:"used_at"`
}

func (t *Token) IsExpired() bool {
	return time.Now().After(t.ExpiresAt)
}

// IsUsable reports whether the token can still be consumed.
func (t *Token) IsUsable() bool {
	return !t.IsUsed && !t.IsExpired()
}
