package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/sudo-init-do/nearhub/internal/apperr"
	"github.com/sudo-init-do/nearhub/internal/models"
)

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func (s *Store) CreateUser(ctx context.Context, u *models.User) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO users (id, name, email, password, role, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		u.ID, u.Name, u.Email, u.Password, u.Role, u.CreatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: email already registered", apperr.ErrInvalidState)
	}
	return err
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	u, err := scanUser(s.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email))
	if err != nil {
		return nil, notFound(err, "user with email", email)
	}
	return u, nil
}

func (s *Store) SetPassword(ctx context.Context, userID, hash string) error {
	tag, err := s.db.Exec(ctx, `UPDATE users SET password = $1 WHERE id = $2`, hash, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: user %s", apperr.ErrNotFound, userID)
	}
	return nil
}

func (s *Store) SetRoleByEmail(ctx context.Context, email, role string) error {
	tag, err := s.db.Exec(ctx, `UPDATE users SET role = $1 WHERE email = $2`, role, email)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: user with email %s", apperr.ErrNotFound, email)
	}
	return nil
}

// UpdateProfile overwrites only the non-empty fields.
func (s *Store) UpdateProfile(ctx context.Context, userID, name, bio, avatarURL string) (*models.User, error) {
	u, err := scanUser(s.db.QueryRow(ctx, `
		UPDATE users
		SET name = COALESCE(NULLIF($1, ''), name),
		    bio = COALESCE(NULLIF($2, ''), bio),
		    avatar_url = COALESCE(NULLIF($3, ''), avatar_url)
		WHERE id = $4
		RETURNING `+userColumns, name, bio, avatarURL, userID))
	if err != nil {
		return nil, notFound(err, "user", userID)
	}
	return u, nil
}

func (s *Store) CreatePasswordReset(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO password_resets (token_hash, user_id, expires_at, created_at)
		VALUES ($1, $2, $3, $4)`, tokenHash, userID, expiresAt, s.now())
	return err
}

// ConsumePasswordReset marks an unused, unexpired token used and returns its user.
func (s *Store) ConsumePasswordReset(ctx context.Context, tokenHash string, at time.Time) (string, error) {
	var userID string
	err := s.db.QueryRow(ctx, `
		UPDATE password_resets SET used_at = $2
		WHERE token_hash = $1 AND used_at IS NULL AND expires_at > $2
		RETURNING user_id`, tokenHash, at).Scan(&userID)
	if err != nil {
		return "", notFound(err, "reset token", "")
	}
	return userID, nil
}
