// AngelaMos | 2026
// store.go

package onetime

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/angelamos/basecamp/internal/core"
)

type Store interface {
	// Issue invalidates every previously-issued, unused token of the same
	// purpose for the user, then creates a new one. The returned string is
	// the plaintext secret; it is never stored.
	Issue(
		ctx context.Context,
		userID, email string,
		purpose Purpose,
		ttl time.Duration,
	) (string, error)

	// Consume atomically marks the token used. Failure modes are
	// distinguishable: core.ErrNotFound (never existed), core.ErrTokenExpired
	// (or superseded), core.ErrTokenUsed (consumed before).
	Consume(ctx context.Context, raw string, purpose Purpose) (*Token, error)

	// FindIfUsed looks up a token that was already consumed, letting callers
	// answer "already verified" instead of a generic invalid-token error.
	FindIfUsed(ctx context.Context, raw string) (*Token, error)

	DeleteExpired(ctx context.Context) (int64, error)
}

type store struct {
	db *sqlx.DB
}

func NewStore(db *sqlx.DB) Store {
	return &store{db: db}
}

func (s *store) Issue(
	ctx context.Context,
	userID, email string,
	purpose Purpose,
	ttl time.Duration,
) (string, error) {
	raw, err := core.GenerateOpaqueToken()
	if err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}

	record := &Token{
		ID:        uuid.New().String(),
		UserID:    userID,
		Purpose:   purpose,
		TokenHash: core.HashToken(raw),
		Email:     email,
		ExpiresAt: time.Now().Add(ttl),
	}

	// Supersede-then-insert runs in one transaction so two concurrent issues
	// can never leave two live tokens for the same purpose.
	err = core.InTx(ctx, s.db, func(tx *sqlx.Tx) error {
		supersede := `
			UPDATE one_time_tokens
			SET expires_at = NOW()
			WHERE user_id = $1 AND purpose = $2
				AND is_used = false AND expires_at > NOW()`

		if _, txErr := tx.ExecContext(ctx, supersede, userID, purpose); txErr != nil {
			return fmt.Errorf("supersede prior tokens: %w", txErr)
		}

		insert := `
			INSERT INTO one_time_tokens (
				id, user_id, purpose, token_hash, email, expires_at
			) VALUES ($1, $2, $3, $4, $5, $6)`

		if _, txErr := tx.ExecContext(ctx, insert,
			record.ID,
			record.UserID,
			record.Purpose,
			record.TokenHash,
			record.Email,
			record.ExpiresAt,
		); txErr != nil {
			return fmt.Errorf("insert token: %w", txErr)
		}

		return nil
	})
	if err != nil {
		return "", err
	}

	return raw, nil
}

func (s *store) Consume(
	ctx context.Context,
	raw string,
	purpose Purpose,
) (*Token, error) {
	tokenHash := core.HashToken(raw)

	claim := `
		UPDATE one_time_tokens
		SET is_used = true, used_at = NOW()
		WHERE token_hash = $1 AND purpose = $2
			AND is_used = false AND expires_at > NOW()
		RETURNING id, user_id, purpose, token_hash, email, expires_at,
			created_at, is_used, used_at`

	var record Token
	err := s.db.GetContext(ctx, &record, claim, tokenHash, purpose)
	if err == nil {
		return &record, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("consume token: %w", err)
	}

	// Claim missed; look the row up to tell the caller why.
	lookup := `
		SELECT id, user_id, purpose, token_hash, email, expires_at,
			created_at, is_used, used_at
		FROM one_time_tokens
		WHERE token_hash = $1 AND purpose = $2`

	var existing Token
	err = s.db.GetContext(ctx, &existing, lookup, tokenHash, purpose)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("consume token: %w", core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("consume token: %w", err)
	}

	if existing.IsUsed {
		return nil, fmt.Errorf("consume token: %w", core.ErrTokenUsed)
	}

	return nil, fmt.Errorf("consume token: %w", core.ErrTokenExpired)
}

func (s *store) FindIfUsed(ctx context.Context, raw string) (*Token, error) {
	query := `
		SELECT id, user_id, purpose, token_hash, email, expires_at,
			created_at, is_used, used_at
		FROM one_time_tokens
		WHERE token_hash = $1 AND is_used = true`

	var record Token
	err := s.db.GetContext(ctx, &record, query, core.HashToken(raw))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("find used token: %w", core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find used token: %w", err)
	}

	return &record, nil
}

func (s *store) DeleteExpired(ctx context.Context) (int64, error) {
	query := `
		DELETE FROM one_time_tokens
		WHERE expires_at < $1`

	cutoff := time.Now().Add(-24 * time.Hour)

	result, err := s.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete expired tokens: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete expired tokens: %w", err)
	}

	return rows, nil
}
