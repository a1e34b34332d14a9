package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"github.com/and161185/safechat/internal/errs"
	"github.com/and161185/safechat/internal/model"
)

func newDB(t *testing.T) (*DB, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	return &DB{Pool: mock, PollInterval: 5 * time.Millisecond}, mock
}

var userCols = []string{"id", "username", "pwd_hash", "salt_auth", "public_key", "push_token", "created_at"}

func TestUserRepo_Create_OK_and_UniqueViolation(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewUserRepo(db)
	ctx := context.Background()
	u := &model.User{ID: "u1", Username: "alice", PwdHash: []byte("h"), SaltAuth: []byte("s")}

	mock.ExpectExec(`INSERT INTO users \(id, username, pwd_hash, salt_auth, public_key, push_token\) VALUES \(\$1, \$2, \$3, \$4, \$5, \$6\)`).
		WithArgs(u.ID, u.Username, u.PwdHash, u.SaltAuth, "", "").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, r.Create(ctx, u))

	mock.ExpectExec(`INSERT INTO users`).
		WithArgs(u.ID, u.Username, u.PwdHash, u.SaltAuth, "", "").
		WillReturnError(&pgconn.PgError{Code: "23505"})
	require.ErrorIs(t, r.Create(ctx, u), errs.ErrAlreadyExists)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepo_GetByIDAndUsername(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewUserRepo(db)
	ctx := context.Background()
	now := time.Now()

	mock.ExpectQuery(`SELECT id, username, pwd_hash, salt_auth, public_key, push_token, created_at FROM users WHERE id=\$1`).
		WithArgs("u1").
		WillReturnRows(pgxmock.NewRows(userCols).AddRow("u1", "alice", []byte("h"), []byte("s"), "age1xyz", "tok", now))
	u, err := r.GetByID(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, "alice", u.Username)
	require.Equal(t, "age1xyz", u.PublicKey)
	require.Equal(t, now, u.CreatedAt)

	mock.ExpectQuery(`FROM users WHERE username=\$1`).
		WithArgs("bob").
		WillReturnError(pgx.ErrNoRows)
	_, err = r.GetByUsername(ctx, "bob")
	require.ErrorIs(t, err, errs.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepo_SetPublicKeyIfEmpty(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewUserRepo(db)
	ctx := context.Background()
	const upd = `UPDATE users SET public_key = \$2 WHERE id = \$1 AND public_key = ''`

	mock.ExpectExec(upd).WithArgs("u1", "age1a").WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, r.SetPublicKeyIfEmpty(ctx, "u1", "age1a"))

	// already published
	mock.ExpectExec(upd).WithArgs("u1", "age1b").WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery(`FROM users WHERE id=\$1`).WithArgs("u1").
		WillReturnRows(pgxmock.NewRows(userCols).AddRow("u1", "alice", []byte("h"), []byte("s"), "age1a", "", time.Now()))
	require.ErrorIs(t, r.SetPublicKeyIfEmpty(ctx, "u1", "age1b"), errs.ErrAlreadyExists)

	// unknown user
	mock.ExpectExec(upd).WithArgs("nope", "age1b").WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery(`FROM users WHERE id=\$1`).WithArgs("nope").WillReturnError(pgx.ErrNoRows)
	require.ErrorIs(t, r.SetPublicKeyIfEmpty(ctx, "nope", "age1b"), errs.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepo_SetPushToken(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewUserRepo(db)
	ctx := context.Background()

	mock.ExpectExec(`UPDATE users SET push_token = \$2 WHERE id = \$1`).WithArgs("u1", "tok").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, r.SetPushToken(ctx, "u1", "tok"))

	mock.ExpectExec(`UPDATE users SET push_token`).WithArgs("u2", "tok").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	require.ErrorIs(t, r.SetPushToken(ctx, "u2", "tok"), errs.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}
