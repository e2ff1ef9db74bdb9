package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolation = "23505"

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) AccountExists(ctx context.Context, username string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM users WHERE username = $1)
	`, username).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check account exists: %w", err)
	}

	return exists, nil
}

// CreateAccount relies on the unique constraint on users.username, not on a
// prior existence check, so concurrent signups for the same name cannot both
// succeed.
func (r *Repository) CreateAccount(ctx context.Context, username, passwordHash string) error {
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("generate user id: %w", err)
	}

	now := time.Now().UTC()
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO users (id, username, password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
	`, id.String(), username, passwordHash, now)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrUsernameTaken
		}
		return fmt.Errorf("insert user: %w", err)
	}

	return nil
}

func (r *Repository) GetByUsername(ctx context.Context, username string) (User, error) {
	var user User
	err := r.db.QueryRowContext(ctx, `
		SELECT id, username, password_hash, created_at, updated_at
		FROM users
		WHERE username = $1
	`, username).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, err
		}
		return User{}, fmt.Errorf("query user by username: %w", err)
	}

	return user, nil
}

func (r *Repository) DeleteAccount(ctx context.Context, userID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM users
		WHERE id = $1
	`, userID)
	if err != nil {
		return 0, fmt.Errorf("delete user: %w", err)
	}

	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete user rows affected: %w", err)
	}

	return deleted, nil
}

func (r *Repository) GetLoginAttempt(ctx context.Context, username string) (LoginAttempt, error) {
	attempt := LoginAttempt{Username: username}

	var lockoutUntil sql.NullTime
	err := r.db.QueryRowContext(ctx, `
		SELECT failed_attempts, lockout_until
		FROM login_attempts
		WHERE username = $1
	`, username).Scan(&attempt.FailedAttempts, &lockoutUntil)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return attempt, nil
		}
		return LoginAttempt{}, fmt.Errorf("query login attempt: %w", err)
	}
	if lockoutUntil.Valid {
		value := lockoutUntil.Time.UTC()
		attempt.LockoutUntil = &value
	}

	return attempt, nil
}

// RegisterFailedAttempt is a single upsert so that concurrent failures for
// the same username each count exactly once. The lockout expiry is armed on
// the attempt that crosses the threshold; an unexpired lockout is never
// moved, while an expired one re-arms on a further failure at or above the
// threshold.
func (r *Repository) RegisterFailedAttempt(ctx context.Context, username string, threshold int, lockDuration time.Duration, now time.Time) (LoginAttempt, error) {
	attempt := LoginAttempt{Username: username}
	until := now.UTC().Add(lockDuration)

	var lockoutUntil sql.NullTime
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO login_attempts (username, failed_attempts, lockout_until, updated_at)
		VALUES ($1, 1, CASE WHEN 1 >= $2 THEN $4::timestamptz END, $3)
		ON CONFLICT (username) DO UPDATE SET
			failed_attempts = login_attempts.failed_attempts + 1,
			lockout_until = CASE
				WHEN login_attempts.lockout_until IS NOT NULL AND login_attempts.lockout_until > $3 THEN login_attempts.lockout_until
				WHEN login_attempts.failed_attempts + 1 >= $2 THEN $4::timestamptz
				ELSE login_attempts.lockout_until
			END,
			updated_at = $3
		RETURNING failed_attempts, lockout_until
	`, username, threshold, now.UTC(), until).Scan(&attempt.FailedAttempts, &lockoutUntil)
	if err != nil {
		return LoginAttempt{}, fmt.Errorf("upsert failed login attempt: %w", err)
	}
	if lockoutUntil.Valid {
		value := lockoutUntil.Time.UTC()
		attempt.LockoutUntil = &value
	}

	return attempt, nil
}

// ResetLoginAttempts zeroes the counter and clears the lockout. Updating no
// rows is fine: a username that never failed has no record and gets none.
func (r *Repository) ResetLoginAttempts(ctx context.Context, username string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE login_attempts
		SET failed_attempts = 0, lockout_until = NULL, updated_at = $2
		WHERE username = $1
	`, username, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("reset login attempts: %w", err)
	}

	return nil
}

// CleanupStaleLoginAttempts evicts records that have been idle past the
// retention window and are not currently locked.
func (r *Repository) CleanupStaleLoginAttempts(ctx context.Context, retention time.Duration, batchSize int) (int64, error) {
	if batchSize <= 0 {
		batchSize = 500
	}
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}

	cutoff := time.Now().UTC().Add(-retention)

	res, err := r.db.ExecContext(ctx, `
		WITH stale AS (
			SELECT username
			FROM login_attempts
			WHERE updated_at < $1
			  AND (lockout_until IS NULL OR lockout_until < NOW())
			ORDER BY updated_at ASC
			LIMIT $2
		)
		DELETE FROM login_attempts t
		USING stale
		WHERE t.username = stale.username
	`, cutoff, batchSize)
	if err != nil {
		return 0, fmt.Errorf("delete stale login attempts: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("stale login attempts rows affected: %w", err)
	}

	return affected, nil
}
