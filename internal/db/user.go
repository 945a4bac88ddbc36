package db

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/mattn/go-sqlite3"

	"cipherchat/internal/apperr"
	"cipherchat/internal/models"
)

const userColumns = `id, user_id, username, password, created_at`

func scanUser(row rowScanner) (*models.User, error) {
	var (
		u       models.User
		created int64
	)
	if err := row.Scan(&u.ID, &u.UserID, &u.Username, &u.Password, &created); err != nil {
		return nil, err
	}
	u.CreatedAt = fromMillis(created)
	return &u, nil
}

func isUniqueViolation(err error, column string) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique &&
		strings.Contains(sqliteErr.Error(), column)
}

// CreateUser inserts a user. passwordHash must already be hashed.
func (db *DB) CreateUser(ctx context.Context, userID, username, passwordHash string) (*models.User, error) {
	createdAt := db.now().UnixMilli()
	result, err := db.ExecContext(ctx,
		`INSERT INTO users (user_id, username, password, created_at) VALUES (?, ?, ?, ?)`,
		userID, username, passwordHash, createdAt)
	if err != nil {
		switch {
		case isUniqueViolation(err, "users.username"):
			return nil, apperr.ErrUsernameTaken
		case isUniqueViolation(err, "users.user_id"):
			return nil, apperr.ErrUserIDTaken
		}
		return nil, apperr.Internal("failed to create user", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, apperr.Internal("failed to read user id", err)
	}

	return &models.User{
		ID:        id,
		UserID:    userID,
		Username:  username,
		Password:  passwordHash,
		CreatedAt: fromMillis(createdAt),
	}, nil
}

func (db *DB) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	return db.getUser(ctx, `SELECT `+userColumns+` FROM users WHERE username = ?`, username)
}

func (db *DB) GetUserByUserID(ctx context.Context, userID string) (*models.User, error) {
	return db.getUser(ctx, `SELECT `+userColumns+` FROM users WHERE user_id = ?`, userID)
}

func (db *DB) getUser(ctx context.Context, query string, arg string) (*models.User, error) {
	u, err := scanUser(db.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrUserNotFound
	}
	if err != nil {
		return nil, apperr.Internal("failed to load user", err)
	}
	return u, nil
}

// DeleteUser removes the user together with their contact entries in both
// directions and every message they sent or received.
func (db *DB) DeleteUser(ctx context.Context, userID string) (bool, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return false, apperr.Internal("failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM contacts WHERE user_id = ? OR contact_id = ?`, userID, userID); err != nil {
		return false, apperr.Internal("failed to delete contacts", err)
	}
	if _, err := deleteUserMessages(ctx, tx, userID); err != nil {
		return false, err
	}
	result, err := tx.ExecContext(ctx, `DELETE FROM users WHERE user_id = ?`, userID)
	if err != nil {
		return false, apperr.Internal("failed to delete user", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, apperr.Internal("failed to delete user", err)
	}
	if n == 0 {
		return false, nil
	}

	if err := tx.Commit(); err != nil {
		return false, apperr.Internal("failed to commit user deletion", err)
	}
	return true, nil
}
