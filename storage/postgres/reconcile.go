package postgres

import (
	"context"
	"errors"
	"strings"

	"github.com/MrEthical07/goIdentity"
	"github.com/MrEthical07/goIdentity/internal/dbx"
	"github.com/MrEthical07/goIdentity/oauth"
	"github.com/georgysavva/scany/v2/sqlscan"
	"github.com/google/uuid"
)

// Reconcile links a federated identity to a local user inside one
// transaction and returns that user's id. An existing social login always
// wins, even when the provider now reports an address owned by someone
// else; that address is then left untouched. Otherwise the email decides,
// and a fresh account with placeholder credentials is created when the
// email is unknown. Any failure rolls back every step.
func (s *Store) Reconcile(ctx context.Context, in goIdentity.ReconcileInput) (string, error) {
	id := in.Identity
	if id.Email == "" {
		return "", goIdentity.Invalid("email", "missing")
	}
	if id.Provider == "" || id.ProviderUserID == "" {
		return "", goIdentity.Invalid("provider", "missing")
	}
	if in.PlaceholderHash == nil {
		return "", errors.New("reconcile: placeholder hash source required")
	}
	email := strings.TrimSpace(id.Email)

	var userID string
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		var (
			found userSource
			err   error
		)
		userID, found, err = findOrCreateUser(ctx, tx, id, email, in.PlaceholderHash)
		if err != nil {
			return err
		}

		if found == viaLink {
			if err := upsertOwnedEmail(ctx, tx, userID, email, id.Verified); err != nil {
				return err
			}
			return backfillProfile(ctx, tx, userID, id)
		}

		emailID, owner, err := upsertEmail(ctx, tx, userID, email, id.Verified)
		if err != nil {
			return err
		}
		if owner != userID {
			// Lost a race for the address: adopt the winner and drop the
			// placeholder account this transaction created.
			if found == viaCreate {
				if _, err := tx.ExecContext(ctx, `DELETE FROM users WHERE user_id = $1`, userID); err != nil {
					return err
				}
			}
			userID = owner
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO social_logins (email_id, user_id, provider, provider_user_id)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (provider, provider_user_id) DO NOTHING`,
			emailID, userID, id.Provider, id.ProviderUserID); err != nil {
			return err
		}

		return backfillProfile(ctx, tx, userID, id)
	})
	if err != nil {
		var v *goIdentity.ValidationError
		if errors.As(err, &v) {
			return "", err
		}
		return "", mapErr(err)
	}
	return userID, nil
}

// userSource records how findOrCreateUser resolved the user.
type userSource int

const (
	viaLink userSource = iota
	viaEmail
	viaCreate
)

func findOrCreateUser(ctx context.Context, tx dbx.DBTX, id oauth.Identity, email string, placeholder func(context.Context) (string, error)) (string, userSource, error) {
	var userID string

	err := sqlscan.Get(ctx, tx, &userID, `
		SELECT user_id FROM social_logins
		WHERE provider = $1 AND provider_user_id = $2`, id.Provider, id.ProviderUserID)
	if err == nil {
		return userID, viaLink, nil
	}
	if !sqlscan.NotFound(err) {
		return "", 0, err
	}

	err = sqlscan.Get(ctx, tx, &userID, `SELECT user_id FROM emails WHERE email = $1`, email)
	if err == nil {
		return userID, viaEmail, nil
	}
	if !sqlscan.NotFound(err) {
		return "", 0, err
	}

	hash, err := placeholder(ctx)
	if err != nil {
		return "", 0, err
	}
	err = sqlscan.Get(ctx, tx, &userID, `
		INSERT INTO users (username, password_hash, reset_password, reset_username)
		VALUES ($1, $2, true, true)
		RETURNING user_id`, uuid.NewString(), hash)
	if err != nil {
		return "", 0, err
	}
	return userID, viaCreate, nil
}

type emailRow struct {
	EmailID string `db:"email_id"`
	UserID  string `db:"user_id"`
}

// upsertEmail inserts email for userID, or marks an existing row verified.
// The row is primary only when the user has no primary address yet. It
// returns the row id and its owner, which differs from userID when the
// address already belonged to someone else.
func upsertEmail(ctx context.Context, tx dbx.DBTX, userID, email string, verified bool) (string, string, error) {
	var row emailRow
	err := sqlscan.Get(ctx, tx, &row, `
		INSERT INTO emails (email, user_id, verified, is_primary)
		VALUES ($1, $2, $3, NOT EXISTS (
			SELECT 1 FROM emails WHERE user_id = $2 AND is_primary
		))
		ON CONFLICT (email) DO UPDATE
		SET verified = true, confirmation_sent_at = NULL
		RETURNING email_id, user_id`, email, userID, verified)
	if err != nil {
		return "", "", err
	}
	return row.EmailID, row.UserID, nil
}

// upsertOwnedEmail is upsertEmail for an already linked user: a row owned by
// another user is neither updated nor adopted.
func upsertOwnedEmail(ctx context.Context, tx dbx.DBTX, userID, email string, verified bool) error {
	var emailID string
	err := sqlscan.Get(ctx, tx, &emailID, `
		INSERT INTO emails (email, user_id, verified, is_primary)
		VALUES ($1, $2, $3, NOT EXISTS (
			SELECT 1 FROM emails WHERE user_id = $2 AND is_primary
		))
		ON CONFLICT (email) DO UPDATE
		SET verified = true, confirmation_sent_at = NULL
		WHERE emails.user_id = EXCLUDED.user_id
		RETURNING email_id`, email, userID, verified)
	if sqlscan.NotFound(err) {
		return nil
	}
	return err
}

// backfillProfile fills bio and image only where they are still NULL.
func backfillProfile(ctx context.Context, tx dbx.DBTX, userID string, id oauth.Identity) error {
	image := oauth.DefaultAvatar(userID)
	if id.Image != nil {
		image = *id.Image
	}
	_, err := tx.ExecContext(ctx, `
		UPDATE users
		SET bio = coalesce(bio, $1), image = coalesce(image, $2)
		WHERE user_id = $3`, id.Bio, image, userID)
	return err
}
