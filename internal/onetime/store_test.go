// AngelaMos | 2026
// store_test.go

package onetime

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/angelamos/basecamp/internal/core"
)

func testStore(t *testing.T) (Store, sqlmock.Sqlmock) {
	t.Helper()

	mockDB, mock, err := sqlmock.New(
		sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp),
	)
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })

	db := sqlx.NewDb(mockDB, "sqlmock")
	return NewStore(db), mock
}

func tokenColumns() []string {
	return []string{
		"id", "user_id", "purpose", "token_hash", "email", "expires_at",
		"created_at", "is_used", "used_at",
	}
}

func TestIssue_SupersedesThenInserts(t *testing.T) {
	store, mock := testStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE one_time_tokens\s+SET expires_at = NOW\(\)`).
		WithArgs("user-1", PurposeVerifyEmail).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO one_time_tokens`).
		WithArgs(
			sqlmock.AnyArg(),
			"user-1",
			PurposeVerifyEmail,
			sqlmock.AnyArg(),
			"camper@example.com",
			sqlmock.AnyArg(),
		).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	raw, err := store.Issue(
		context.Background(),
		"user-1",
		"camper@example.com",
		PurposeVerifyEmail,
		24*time.Hour,
	)
	require.NoError(t, err)
	require.NotEmpty(t, raw)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIssue_RollsBackOnInsertFailure(t *testing.T) {
	store, mock := testStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE one_time_tokens`).
		WithArgs("user-1", PurposeResetPassword).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO one_time_tokens`).
		WillReturnError(context.DeadlineExceeded)
	mock.ExpectRollback()

	_, err := store.Issue(
		context.Background(),
		"user-1",
		"camper@example.com",
		PurposeResetPassword,
		time.Hour,
	)
	require.Error(t, err)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestConsume_ClaimsOnce(t *testing.T) {
	store, mock := testStore(t)

	now := time.Now()
	mock.ExpectQuery(`UPDATE one_time_tokens\s+SET is_used = true`).
		WithArgs(sqlmock.AnyArg(), PurposeVerifyEmail).
		WillReturnRows(sqlmock.NewRows(tokenColumns()).AddRow(
			"tok-1", "user-1", string(PurposeVerifyEmail), "hash",
			"camper@example.com", now.Add(time.Hour), now, true, now,
		))

	record, err := store.Consume(
		context.Background(),
		"raw-secret",
		PurposeVerifyEmail,
	)
	require.NoError(t, err)
	require.Equal(t, "user-1", record.UserID)
	require.True(t, record.IsUsed)
}

func TestConsume_AlreadyUsed(t *testing.T) {
	store, mock := testStore(t)

	now := time.Now()

	// Claim misses, lookup explains why.
	mock.ExpectQuery(`UPDATE one_time_tokens`).
		WithArgs(sqlmock.AnyArg(), PurposeResetPassword).
		WillReturnRows(sqlmock.NewRows(tokenColumns()))
	mock.ExpectQuery(`SELECT(.|\s)+FROM one_time_tokens\s+WHERE token_hash`).
		WithArgs(sqlmock.AnyArg(), PurposeResetPassword).
		WillReturnRows(sqlmock.NewRows(tokenColumns()).AddRow(
			"tok-1", "user-1", string(PurposeResetPassword), "hash",
			"camper@example.com", now.Add(time.Hour), now, true, now,
		))

	_, err := store.Consume(
		context.Background(),
		"raw-secret",
		PurposeResetPassword,
	)
	require.ErrorIs(t, err, core.ErrTokenUsed)
}

func TestConsume_Expired(t *testing.T) {
	store, mock := testStore(t)

	now := time.Now()

	mock.ExpectQuery(`UPDATE one_time_tokens`).
		WithArgs(sqlmock.AnyArg(), PurposeResetPassword).
		WillReturnRows(sqlmock.NewRows(tokenColumns()))
	mock.ExpectQuery(`SELECT(.|\s)+FROM one_time_tokens`).
		WithArgs(sqlmock.AnyArg(), PurposeResetPassword).
		WillReturnRows(sqlmock.NewRows(tokenColumns()).AddRow(
			"tok-1", "user-1", string(PurposeResetPassword), "hash",
			"camper@example.com", now.Add(-time.Hour), now.Add(-2*time.Hour),
			false, nil,
		))

	_, err := store.Consume(
		context.Background(),
		"raw-secret",
		PurposeResetPassword,
	)
	require.ErrorIs(t, err, core.ErrTokenExpired)
}

func TestConsume_NeverExisted(t *testing.T) {
	store, mock := testStore(t)

	mock.ExpectQuery(`UPDATE one_time_tokens`).
		WithArgs(sqlmock.AnyArg(), PurposeVerifyEmail).
		WillReturnRows(sqlmock.NewRows(tokenColumns()))
	mock.ExpectQuery(`SELECT(.|\s)+FROM one_time_tokens`).
		WithArgs(sqlmock.AnyArg(), PurposeVerifyEmail).
		WillReturnRows(sqlmock.NewRows(tokenColumns()))

	_, err := store.Consume(
		context.Background(),
		"raw-secret",
		PurposeVerifyEmail,
	)
	require.ErrorIs(t, err, core.ErrNotFound)
}

func TestIsUsable(t *testing.T) {
	live := &Token{ExpiresAt: time.Now().Add(time.Hour)}
	require.True(t, live.IsUsable())

	used := &Token{ExpiresAt: time.Now().Add(time.Hour), IsUsed: true}
	require.False(t, used.IsUsable())

	expired := &Token{ExpiresAt: time.Now().Add(-time.Minute)}
	require.False(t, expired.IsUsable())
}
