// AngelaMos | 2026
// repository_test.go

package credential

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/angelamos/basecamp/internal/core"
)

func testRepo(t *testing.T) (Repository, sqlmock.Sqlmock) {
	t.Helper()

	mockDB, mock, err := sqlmock.New(
		sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp),
	)
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })

	db := sqlx.NewDb(mockDB, "sqlmock")
	return NewRepository(db), mock
}

func TestRecordLoginFailure_SingleStatement(t *testing.T) {
	repo, mock := testRepo(t)

	lockUntil := time.Now().Add(30 * time.Minute)
	mock.ExpectQuery(`UPDATE users\s+SET failed_login_attempts = failed_login_attempts \+ 1`).
		WithArgs("user-1", 5, float64(1800)).
		WillReturnRows(sqlmock.NewRows(
			[]string{"failed_login_attempts", "account_locked", "lock_until"},
		).AddRow(5, true, lockUntil))

	state, err := repo.RecordLoginFailure(
		context.Background(),
		"user-1",
		5,
		30*time.Minute,
	)
	require.NoError(t, err)
	require.Equal(t, 5, state.FailedLoginAttempts)
	require.True(t, state.AccountLocked)
	require.NotNil(t, state.LockUntil)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordLoginFailure_BelowThreshold(t *testing.T) {
	repo, mock := testRepo(t)

	mock.ExpectQuery(`UPDATE users`).
		WithArgs("user-1", 5, float64(1800)).
		WillReturnRows(sqlmock.NewRows(
			[]string{"failed_login_attempts", "account_locked", "lock_until"},
		).AddRow(2, false, nil))

	state, err := repo.RecordLoginFailure(
		context.Background(),
		"user-1",
		5,
		30*time.Minute,
	)
	require.NoError(t, err)
	require.Equal(t, 2, state.FailedLoginAttempts)
	require.False(t, state.AccountLocked)
	require.Nil(t, state.LockUntil)
}

func TestRecordLoginFailure_UnknownUser(t *testing.T) {
	repo, mock := testRepo(t)

	mock.ExpectQuery(`UPDATE users`).
		WithArgs("ghost", 5, float64(1800)).
		WillReturnRows(sqlmock.NewRows(
			[]string{"failed_login_attempts", "account_locked", "lock_until"},
		))

	_, err := repo.RecordLoginFailure(
		context.Background(),
		"ghost",
		5,
		30*time.Minute,
	)
	require.ErrorIs(t, err, core.ErrNotFound)
}

func TestResetLockout(t *testing.T) {
	repo, mock := testRepo(t)

	mock.ExpectExec(`UPDATE users\s+SET failed_login_attempts = 0`).
		WithArgs("user-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.ResetLockout(context.Background(), "user-1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestResetLockout_UnknownUser(t *testing.T) {
	repo, mock := testRepo(t)

	mock.ExpectExec(`UPDATE users`).
		WithArgs("ghost").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.ResetLockout(context.Background(), "ghost")
	require.ErrorIs(t, err, core.ErrNotFound)
}

func TestGetByEmail_NotFound(t *testing.T) {
	repo, mock := testRepo(t)

	mock.ExpectQuery(`SELECT(.|\s)+FROM users\s+WHERE email = \$1`).
		WithArgs("nobody@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := repo.GetByEmail(context.Background(), "nobody@example.com")
	require.ErrorIs(t, err, core.ErrNotFound)
}

func TestIncrementTokenVersion(t *testing.T) {
	repo, mock := testRepo(t)

	mock.ExpectExec(`UPDATE users\s+SET token_version = token_version \+ 1`).
		WithArgs("user-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.IncrementTokenVersion(context.Background(), "user-1"))
	require.NoError(t, mock.ExpectationsWereMet())
}
