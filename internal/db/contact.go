package db

import (
	"context"

	"cipherchat/internal/apperr"
	"cipherchat/internal/models"
)

func (db *DB) ListContacts(ctx context.Context, userID string) ([]models.Contact, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, user_id, contact_id FROM contacts WHERE user_id = ? ORDER BY id ASC`, userID)
	if err != nil {
		return nil, apperr.Internal("failed to query contacts", err)
	}
	defer func() { _ = rows.Close() }()

	contacts := make([]models.Contact, 0)
	for rows.Next() {
		var c models.Contact
		if err := rows.Scan(&c.ID, &c.UserID, &c.ContactID); err != nil {
			return nil, apperr.Internal("failed to scan contact", err)
		}
		contacts = append(contacts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Internal("failed to read contacts", err)
	}
	return contacts, nil
}

// AddContact records contactID in userID's contact list. The contact must be
// a registered user.
func (db *DB) AddContact(ctx context.Context, userID, contactID string) (*models.Contact, error) {
	if userID == contactID {
		return nil, apperr.ErrSelfContact
	}
	if _, err := db.GetUserByUserID(ctx, contactID); err != nil {
		return nil, err
	}

	result, err := db.ExecContext(ctx,
		`INSERT INTO contacts (user_id, contact_id) VALUES (?, ?)`, userID, contactID)
	if err != nil {
		if isUniqueViolation(err, "contacts.") {
			return nil, apperr.ErrAlreadyContact
		}
		return nil, apperr.Internal("failed to add contact", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, apperr.Internal("failed to read contact id", err)
	}
	return &models.Contact{ID: id, UserID: userID, ContactID: contactID}, nil
}

// DeleteContact removes the contact entry and the whole conversation between
// the two users. It reports whether the entry existed.
func (db *DB) DeleteContact(ctx context.Context, userID, contactID string) (bool, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return false, apperr.Internal("failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx,
		`DELETE FROM contacts WHERE user_id = ? AND contact_id = ?`, userID, contactID)
	if err != nil {
		return false, apperr.Internal("failed to delete contact", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, apperr.Internal("failed to delete contact", err)
	}
	if n == 0 {
		return false, nil
	}

	if _, err := deleteConversation(ctx, tx, userID, contactID); err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, apperr.Internal("failed to commit contact deletion", err)
	}
	return true, nil
}
