package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/mailchat/mailchat/internal/models"
	"github.com/mailchat/mailchat/internal/store"
)

// CreateAccount inserts the account and assigns its id.
func (s *Store) CreateAccount(ctx context.Context, account *models.Account) (int64, error) {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO accounts (
			name, email, imap_host, imap_port, imap_username, smtp_host, smtp_port,
			encrypted_password, use_ssl, smtp_security
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at
	`,
		account.Name,
		strings.ToLower(strings.TrimSpace(account.Email)),
		account.IMAPHost,
		account.IMAPPort,
		account.IMAPUsername,
		account.SMTPHost,
		account.SMTPPort,
		account.EncryptedPassword,
		account.UseSSL,
		string(account.SMTPSecurity),
	).Scan(&account.ID, &account.CreatedAt)

	if err != nil {
		return 0, fmt.Errorf("failed to create account: %w", err)
	}

	return account.ID, nil
}

const accountColumns = `
	id, name, email, imap_host, imap_port, imap_username, smtp_host, smtp_port,
	encrypted_password, use_ssl, smtp_security, last_uid, created_at`

func scanAccount(row pgx.Row) (*models.Account, error) {
	var account models.Account
	var security string
	var lastUID int64

	err := row.Scan(
		&account.ID,
		&account.Name,
		&account.Email,
		&account.IMAPHost,
		&account.IMAPPort,
		&account.IMAPUsername,
		&account.SMTPHost,
		&account.SMTPPort,
		&account.EncryptedPassword,
		&account.UseSSL,
		&security,
		&lastUID,
		&account.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	account.SMTPSecurity = models.SMTPSecurity(security)
	account.LastUID = uint32(lastUID)
	return &account, nil
}

func (s *Store) GetAccount(ctx context.Context, accountID int64) (*models.Account, error) {
	account, err := scanAccount(s.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1`, accountID))

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}

	return account, nil
}

func (s *Store) ListAccounts(ctx context.Context) ([]*models.Account, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*models.Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, account)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating accounts: %w", err)
	}

	return accounts, nil
}

// DeleteAccount removes the account; contacts, groups, messages, dedup state
// and chat state follow via ON DELETE CASCADE.
func (s *Store) DeleteAccount(ctx context.Context, accountID int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM accounts WHERE id = $1`, accountID)
	if err != nil {
		return fmt.Errorf("failed to delete account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrAccountNotFound
	}
	return nil
}

// AdvanceSyncCursor moves the cursor forward only; a stale uid is a no-op.
func (s *Store) AdvanceSyncCursor(ctx context.Context, accountID int64, uid uint32) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE accounts SET last_uid = GREATEST(last_uid, $2) WHERE id = $1
	`, accountID, int64(uid))
	if err != nil {
		return fmt.Errorf("failed to advance sync cursor: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrAccountNotFound
	}
	return nil
}

// UpsertContact creates the contact if unseen; a non-empty display name
// updates the stored one, an empty one never erases it.
func (s *Store) UpsertContact(ctx context.Context, contact *models.Contact) error {
	if err := s.accountExists(ctx, contact.AccountID); err != nil {
		return err
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO contacts (account_id, email, display_name)
		VALUES ($1, $2, $3)
		ON CONFLICT (account_id, email) DO UPDATE SET
			display_name = CASE
				WHEN EXCLUDED.display_name <> '' THEN EXCLUDED.display_name
				ELSE contacts.display_name
			END
	`, contact.AccountID, strings.ToLower(strings.TrimSpace(contact.Email)), contact.DisplayName)

	if err != nil {
		return fmt.Errorf("failed to upsert contact: %w", err)
	}
	return nil
}

func (s *Store) ListContacts(ctx context.Context, accountID int64) ([]*models.Contact, error) {
	if err := s.accountExists(ctx, accountID); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT account_id, email, display_name
		FROM contacts
		WHERE account_id = $1
		ORDER BY CASE WHEN display_name <> '' THEN display_name ELSE email END
	`, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list contacts: %w", err)
	}
	defer rows.Close()

	var contacts []*models.Contact
	for rows.Next() {
		var contact models.Contact
		if err := rows.Scan(&contact.AccountID, &contact.Email, &contact.DisplayName); err != nil {
			return nil, fmt.Errorf("failed to scan contact: %w", err)
		}
		contacts = append(contacts, &contact)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating contacts: %w", err)
	}

	return contacts, nil
}

// DeleteContact removes the contact, its chat and its messages. Tombstoning
// of the deleted messages' external ids happens via ON DELETE SET NULL on
// external_ids.message_seq.
func (s *Store) DeleteContact(ctx context.Context, accountID int64, email string) error {
	email = strings.ToLower(strings.TrimSpace(email))

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		DELETE FROM contacts WHERE account_id = $1 AND email = $2
	`, accountID, email)
	if err != nil {
		return fmt.Errorf("failed to delete contact: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrContactNotFound
	}

	if _, err := tx.Exec(ctx, `
		DELETE FROM messages WHERE account_id = $1 AND contact_email = $2
	`, accountID, email); err != nil {
		return fmt.Errorf("failed to delete contact messages: %w", err)
	}

	scopeKey := models.ContactScope(accountID, email).Key()
	if _, err := tx.Exec(ctx, `
		DELETE FROM chat_state WHERE account_id = $1 AND scope_key = $2
	`, accountID, scopeKey); err != nil {
		return fmt.Errorf("failed to delete chat state: %w", err)
	}

	return tx.Commit(ctx)
}

func (s *Store) accountExists(ctx context.Context, accountID int64) error {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM accounts WHERE id = $1)`, accountID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check account existence: %w", err)
	}
	if !exists {
		return store.ErrAccountNotFound
	}
	return nil
}
