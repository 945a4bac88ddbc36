package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"cipherchat/internal/apperr"
	"cipherchat/internal/models"
)

const messageColumns = `id, sender_id, receiver_id, encrypted_content, seen, created_at`

// PurgeResult counts the rows removed by one PurgeExpired call.
type PurgeResult struct {
	Empty   int64
	Expired int64
}

func (r PurgeResult) Total() int64 {
	return r.Empty + r.Expired
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (models.Message, error) {
	var (
		m       models.Message
		created int64
	)
	if err := row.Scan(&m.ID, &m.SenderID, &m.ReceiverID, &m.EncryptedContent, &m.Seen, &created); err != nil {
		return models.Message{}, err
	}
	m.CreatedAt = fromMillis(created)
	return m, nil
}

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}

// CreateMessage persists a new unseen message and returns it with its
// assigned id and creation time.
func (db *DB) CreateMessage(ctx context.Context, senderID, receiverID, content string) (*models.Message, error) {
	if isBlank(content) {
		return nil, apperr.ErrEmptyContent
	}
	if senderID == "" {
		return nil, apperr.ErrMissingSender
	}
	if receiverID == "" {
		return nil, apperr.ErrMissingReceiver
	}

	createdAt := db.now().UnixMilli()
	result, err := db.ExecContext(ctx,
		`INSERT INTO messages (sender_id, receiver_id, encrypted_content, seen, created_at) VALUES (?, ?, ?, 0, ?)`,
		senderID, receiverID, content, createdAt)
	if err != nil {
		return nil, apperr.Internal("failed to save message", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, apperr.Internal("failed to read message id", err)
	}

	db.metrics.MessageCreated()

	return &models.Message{
		ID:               id,
		SenderID:         senderID,
		ReceiverID:       receiverID,
		EncryptedContent: content,
		CreatedAt:        fromMillis(createdAt),
	}, nil
}

// GetMessage returns a message by id. Blank-content rows are reported as
// not found.
func (db *DB) GetMessage(ctx context.Context, id int64) (*models.Message, error) {
	row := db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = ?`, id)
	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrMessageNotFound
	}
	if err != nil {
		return nil, apperr.Internal("failed to load message", err)
	}
	if isBlank(m.EncryptedContent) {
		return nil, apperr.ErrMessageNotFound
	}
	return &m, nil
}

// ListConversation returns the messages exchanged between a and b in either
// direction, oldest first with ties broken by id.
func (db *DB) ListConversation(ctx context.Context, a, b string) ([]models.Message, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE (sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)
		ORDER BY created_at ASC, id ASC`,
		a, b, b, a)
	if err != nil {
		return nil, apperr.Internal("failed to query conversation", err)
	}
	defer func() { _ = rows.Close() }()

	messages := make([]models.Message, 0)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, apperr.Internal("failed to scan message", err)
		}
		if isBlank(m.EncryptedContent) {
			continue
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Internal("failed to read conversation", err)
	}
	return messages, nil
}

// MarkSeen sets the seen flag. It reports whether the message exists; marking
// an already seen message again is a successful no-op.
func (db *DB) MarkSeen(ctx context.Context, id int64) (bool, error) {
	result, err := db.ExecContext(ctx, `UPDATE messages SET seen = 1 WHERE id = ?`, id)
	if err != nil {
		return false, apperr.Internal("failed to mark message seen", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, apperr.Internal("failed to mark message seen", err)
	}
	return n > 0, nil
}

// FlipSeen sets the seen flag only if it is still clear. flipped is true for
// exactly one caller per message; found reports whether the message exists.
func (db *DB) FlipSeen(ctx context.Context, id int64) (flipped, found bool, err error) {
	result, err := db.ExecContext(ctx, `UPDATE messages SET seen = 1 WHERE id = ? AND seen = 0`, id)
	if err != nil {
		return false, false, apperr.Internal("failed to mark message seen", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, false, apperr.Internal("failed to mark message seen", err)
	}
	if n > 0 {
		return true, true, nil
	}

	err = db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM messages WHERE id = ?)`, id).Scan(&found)
	if err != nil {
		return false, false, apperr.Internal("failed to look up message", err)
	}
	return false, found, nil
}

// DeleteMessage removes a message and reports whether it existed.
func (db *DB) DeleteMessage(ctx context.Context, id int64) (bool, error) {
	result, err := db.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, id)
	if err != nil {
		return false, apperr.Internal("failed to delete message", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, apperr.Internal("failed to delete message", err)
	}
	return n > 0, nil
}

// DeleteConversation removes every message between a and b.
func (db *DB) DeleteConversation(ctx context.Context, a, b string) (int64, error) {
	return deleteConversation(ctx, db.DB, a, b)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func deleteConversation(ctx context.Context, ex execer, a, b string) (int64, error) {
	result, err := ex.ExecContext(ctx,
		`DELETE FROM messages WHERE (sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)`,
		a, b, b, a)
	if err != nil {
		return 0, apperr.Internal("failed to delete conversation", err)
	}
	return result.RowsAffected()
}

// DeleteUserMessages removes every message the user sent or received.
func (db *DB) DeleteUserMessages(ctx context.Context, userID string) (int64, error) {
	return deleteUserMessages(ctx, db.DB, userID)
}

func deleteUserMessages(ctx context.Context, ex execer, userID string) (int64, error) {
	result, err := ex.ExecContext(ctx, `DELETE FROM messages WHERE sender_id = ? OR receiver_id = ?`, userID, userID)
	if err != nil {
		return 0, apperr.Internal("failed to delete user messages", err)
	}
	return result.RowsAffected()
}

// PurgeExpired deletes blank-content messages and seen messages older than
// the retention window in a single transaction.
func (db *DB) PurgeExpired(ctx context.Context) (PurgeResult, error) {
	cutoff := db.now().Add(-db.retention).UnixMilli()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return PurgeResult{}, fmt.Errorf("begin purge: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	empty, err := tx.ExecContext(ctx,
		`DELETE FROM messages WHERE TRIM(encrypted_content, ' ' || char(9, 10, 11, 12, 13)) = ''`)
	if err != nil {
		return PurgeResult{}, fmt.Errorf("purge empty messages: %w", err)
	}
	expired, err := tx.ExecContext(ctx,
		`DELETE FROM messages WHERE seen = 1 AND created_at < ?`, cutoff)
	if err != nil {
		return PurgeResult{}, fmt.Errorf("purge expired messages: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return PurgeResult{}, fmt.Errorf("commit purge: %w", err)
	}

	var res PurgeResult
	res.Empty, _ = empty.RowsAffected()
	res.Expired, _ = expired.RowsAffected()
	return res, nil
}
