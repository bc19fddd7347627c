package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/goIdentity"
	"github.com/MrEthical07/goIdentity/internal/dbx"
	"github.com/MrEthical07/goIdentity/permission"
	"github.com/georgysavva/scany/v2/sqlscan"
	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolation = "23505"

// constraintFields maps unique constraint names to the field reported back
// to clients.
var constraintFields = map[string]string{
	"users_username_key": "username",
	"emails_email_key":   "email",
}

// Store implements goIdentity.IdentityStore.
type Store struct {
	db *sql.DB
}

// NewStore wraps db, which is normally [SQLDB] over a pgx pool.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

var _ goIdentity.IdentityStore = (*Store)(nil)

type credentialsRow struct {
	UserID        string `db:"user_id"`
	PasswordHash  string `db:"password_hash"`
	ResetPassword bool   `db:"reset_password"`
}

// CredentialsByEmail finds the account whose primary address is email.
func (s *Store) CredentialsByEmail(ctx context.Context, email string) (goIdentity.Credentials, error) {
	var row credentialsRow
	err := sqlscan.Get(ctx, s.db, &row, `
		SELECT u.user_id, u.password_hash, coalesce(u.reset_password, false) AS reset_password
		FROM users u
		JOIN emails e ON e.user_id = u.user_id
		WHERE e.email = $1 AND e.is_primary`, email)
	if err != nil {
		return goIdentity.Credentials{}, mapErr(err)
	}
	return goIdentity.Credentials{
		UserID:        row.UserID,
		PasswordHash:  row.PasswordHash,
		ResetPassword: row.ResetPassword,
	}, nil
}

func (s *Store) PasswordHash(ctx context.Context, userID string) (string, error) {
	var hash string
	if err := sqlscan.Get(ctx, s.db, &hash, `SELECT password_hash FROM users WHERE user_id = $1`, userID); err != nil {
		return "", mapErr(err)
	}
	return hash, nil
}

// UpdatePasswordHash stores hash and clears reset_password.
func (s *Store) UpdatePasswordHash(ctx context.Context, userID, hash string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET password_hash = $1, reset_password = false
		WHERE user_id = $2`, hash, userID)
	if err != nil {
		return mapErr(err)
	}
	return requireRow(res)
}

// CreateAccount inserts the user and its primary email in one transaction.
func (s *Store) CreateAccount(ctx context.Context, acct goIdentity.NewAccount) (string, error) {
	var userID string
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := sqlscan.Get(ctx, tx, &userID, `
			INSERT INTO users (username, password_hash, image)
			VALUES ($1, $2, $3)
			RETURNING user_id`, acct.Username, acct.PasswordHash, acct.Image); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO emails (user_id, email, is_primary)
			VALUES ($1, $2, true)`, userID, acct.Email)
		return err
	})
	if err != nil {
		return "", mapErr(err)
	}
	return userID, nil
}

type emailRecordRow struct {
	UserID   string `db:"user_id"`
	Verified bool   `db:"verified"`
}

// LookupEmail resolves any stored address to its owner.
func (s *Store) LookupEmail(ctx context.Context, email string) (goIdentity.EmailRecord, error) {
	var row emailRecordRow
	if err := sqlscan.Get(ctx, s.db, &row, `
		SELECT user_id, verified FROM emails WHERE email = $1`, email); err != nil {
		return goIdentity.EmailRecord{}, mapErr(err)
	}
	return goIdentity.EmailRecord{UserID: row.UserID, Verified: row.Verified}, nil
}

func (s *Store) PrimaryEmail(ctx context.Context, userID string) (string, error) {
	var email string
	if err := sqlscan.Get(ctx, s.db, &email, `
		SELECT email FROM emails WHERE user_id = $1 AND is_primary`, userID); err != nil {
		return "", mapErr(err)
	}
	return email, nil
}

// MarkEmailVerified flags email verified, scoped to its owner.
func (s *Store) MarkEmailVerified(ctx context.Context, userID, email string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE emails SET verified = true, confirmation_sent_at = NULL
		WHERE user_id = $1 AND email = $2`, userID, email)
	if err != nil {
		return mapErr(err)
	}
	return requireRow(res)
}

func (s *Store) MarkConfirmationSent(ctx context.Context, userID, email string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE emails SET confirmation_sent_at = $3
		WHERE user_id = $1 AND email = $2`, userID, email, at.UTC())
	if err != nil {
		return mapErr(err)
	}
	return requireRow(res)
}

type grantsRow struct {
	Verified bool `db:"verified"`
}

// Grants loads stored roles and the primary email verification flag.
//
//	Performance: 2 queries.
func (s *Store) Grants(ctx context.Context, userID string) (permission.Grants, error) {
	var row grantsRow
	err := sqlscan.Get(ctx, s.db, &row, `
		SELECT coalesce(e.verified, false) AS verified
		FROM users u
		LEFT JOIN emails e ON e.user_id = u.user_id AND e.is_primary
		WHERE u.user_id = $1`, userID)
	if err != nil {
		return permission.Grants{}, mapErr(err)
	}

	var roles []string
	if err := sqlscan.Select(ctx, s.db, &roles, `
		SELECT role FROM user_roles WHERE user_id = $1 ORDER BY role`, userID); err != nil {
		return permission.Grants{}, mapErr(err)
	}
	return permission.Grants{Roles: roles, Verified: row.Verified}, nil
}

// GrantRole stores an extra role for userID. Granting twice is a no-op.
func (s *Store) GrantRole(ctx context.Context, userID, role string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_roles (user_id, role) VALUES ($1, $2)
		ON CONFLICT DO NOTHING`, userID, role)
	return mapErr(err)
}

// mapErr converts driver errors into the goIdentity taxonomy.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if sqlscan.NotFound(err) {
		return goIdentity.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		if field, ok := constraintFields[pgErr.ConstraintName]; ok {
			return &goIdentity.ConflictError{Field: field}
		}
	}
	return fmt.Errorf("db error: %w", err)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return goIdentity.ErrNotFound
	}
	return nil
}
