package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/mailchat/mailchat/internal/models"
	"github.com/mailchat/mailchat/internal/store"
)

const previewLength = 120

func preview(body string) string {
	runes := []rune(strings.TrimSpace(body))
	if len(runes) <= previewLength {
		return string(runes)
	}
	return string(runes[:previewLength])
}

// scopeColumns returns the nullable contact/group column values for a scope.
func scopeColumns(scope models.ChatScope) (contactEmail *string, groupID *int64) {
	if scope.IsGroup() {
		id := scope.GroupID
		return nil, &id
	}
	email := scope.ContactEmail
	return &email, nil
}

// AppendMessage commits the message, its attachments, the dedup entry and
// the sidebar update in one transaction.
func (s *Store) AppendMessage(ctx context.Context, msg *models.Message) (int64, bool, error) {
	if err := s.accountExists(ctx, msg.Scope.AccountID); err != nil {
		return 0, false, err
	}
	if msg.Scope.IsGroup() {
		if _, err := s.GetGroup(ctx, msg.Scope.AccountID, msg.Scope.GroupID); err != nil {
			return 0, false, err
		}
	}

	if msg.SentAt.IsZero() {
		msg.SentAt = time.Now().UTC()
	}
	if msg.DeliveryStatus == "" {
		msg.DeliveryStatus = models.DeliverySent
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Claim the external id first so a concurrent append of the same message
	// loses on the primary key, not on a duplicate message row.
	if msg.ExternalID != "" {
		tag, err := tx.Exec(ctx, `
			INSERT INTO external_ids (account_id, external_id)
			VALUES ($1, $2)
			ON CONFLICT (account_id, external_id) DO NOTHING
		`, msg.Scope.AccountID, msg.ExternalID)
		if err != nil {
			return 0, false, fmt.Errorf("failed to record external id: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return 0, false, store.ErrDuplicateMessage
		}
	}

	contactEmail, groupID := scopeColumns(msg.Scope)
	var externalID *string
	if msg.ExternalID != "" {
		externalID = &msg.ExternalID
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO messages (
			account_id, contact_email, group_id, external_id, direction,
			sender_email, subject, body, body_html, in_reply_to,
			sent_at, is_read, delivery_status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING seq
	`,
		msg.Scope.AccountID, contactEmail, groupID, externalID, string(msg.Direction),
		msg.SenderEmail, msg.Subject, msg.Body, msg.BodyHTML, msg.InReplyTo,
		msg.SentAt, msg.IsRead, string(msg.DeliveryStatus),
	).Scan(&msg.Seq)
	if err != nil {
		return 0, false, fmt.Errorf("failed to insert message: %w", err)
	}

	if msg.ExternalID != "" {
		if _, err := tx.Exec(ctx, `
			UPDATE external_ids SET message_seq = $3
			WHERE account_id = $1 AND external_id = $2
		`, msg.Scope.AccountID, msg.ExternalID, msg.Seq); err != nil {
			return 0, false, fmt.Errorf("failed to link external id: %w", err)
		}
	}

	for _, att := range msg.Attachments {
		if _, err := tx.Exec(ctx, `
			INSERT INTO attachments (message_seq, name, content_type, size_bytes, content)
			VALUES ($1, $2, $3, $4, $5)
		`, msg.Seq, att.Name, att.ContentType, att.Size, att.Content); err != nil {
			return 0, false, fmt.Errorf("failed to insert attachment: %w", err)
		}
	}

	unreadDelta := 0
	if msg.Direction == models.DirectionInbound && !msg.IsRead {
		unreadDelta = 1
	}

	var inserted bool
	err = tx.QueryRow(ctx, `
		INSERT INTO chat_state (account_id, scope_key, contact_email, group_id, last_body, last_at, unread_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (account_id, scope_key) DO UPDATE SET
			last_body = EXCLUDED.last_body,
			last_at = EXCLUDED.last_at,
			unread_count = chat_state.unread_count + $7
		RETURNING (xmax = 0)
	`,
		msg.Scope.AccountID, msg.Scope.Key(), contactEmail, groupID,
		preview(msg.Body), msg.SentAt, unreadDelta,
	).Scan(&inserted)
	if err != nil {
		return 0, false, fmt.Errorf("failed to update chat state: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, false, fmt.Errorf("failed to commit message: %w", err)
	}
	return msg.Seq, inserted, nil
}

const messageColumns = `
	seq, account_id, contact_email, group_id, external_id, direction,
	sender_email, subject, body, body_html, in_reply_to,
	sent_at, is_read, delivery_status`

func scanMessage(row pgx.Row) (*models.Message, error) {
	var msg models.Message
	var contactEmail, externalID *string
	var groupID *int64
	var direction, status string

	err := row.Scan(
		&msg.Seq, &msg.Scope.AccountID, &contactEmail, &groupID, &externalID, &direction,
		&msg.SenderEmail, &msg.Subject, &msg.Body, &msg.BodyHTML, &msg.InReplyTo,
		&msg.SentAt, &msg.IsRead, &status,
	)
	if err != nil {
		return nil, err
	}

	if contactEmail != nil {
		msg.Scope.ContactEmail = *contactEmail
	}
	if groupID != nil {
		msg.Scope.GroupID = *groupID
	}
	if externalID != nil {
		msg.ExternalID = *externalID
	}
	msg.Direction = models.Direction(direction)
	msg.DeliveryStatus = models.DeliveryStatus(status)
	return &msg, nil
}

// ListMessagesSince returns the scope's messages with seq past the cursor,
// ascending, attachments included.
func (s *Store) ListMessagesSince(ctx context.Context, scope models.ChatScope, sinceSeq int64) ([]*models.Message, error) {
	var rows pgx.Rows
	var err error
	if scope.IsGroup() {
		rows, err = s.pool.Query(ctx, `
			SELECT `+messageColumns+` FROM messages
			WHERE account_id = $1 AND group_id = $2 AND seq > $3
			ORDER BY seq
		`, scope.AccountID, scope.GroupID, sinceSeq)
	} else {
		rows, err = s.pool.Query(ctx, `
			SELECT `+messageColumns+` FROM messages
			WHERE account_id = $1 AND contact_email = $2 AND seq > $3
			ORDER BY seq
		`, scope.AccountID, scope.ContactEmail, sinceSeq)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating messages: %w", err)
	}

	for _, msg := range messages {
		if msg.Attachments, err = s.messageAttachments(ctx, msg.Seq); err != nil {
			return nil, err
		}
	}
	return messages, nil
}

func (s *Store) messageAttachments(ctx context.Context, seq int64) ([]models.Attachment, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT name, content_type, size_bytes, content
		FROM attachments WHERE message_seq = $1 ORDER BY id
	`, seq)
	if err != nil {
		return nil, fmt.Errorf("failed to list attachments: %w", err)
	}
	defer rows.Close()

	var attachments []models.Attachment
	for rows.Next() {
		var att models.Attachment
		if err := rows.Scan(&att.Name, &att.ContentType, &att.Size, &att.Content); err != nil {
			return nil, fmt.Errorf("failed to scan attachment: %w", err)
		}
		attachments = append(attachments, att)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating attachments: %w", err)
	}
	return attachments, nil
}

// MarkMessageRead flips an inbound message to read and decrements the
// chat's unread counter. Already-read or outbound messages are a no-op.
func (s *Store) MarkMessageRead(ctx context.Context, accountID, seq int64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	msg, err := scanMessage(tx.QueryRow(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE seq = $1 AND account_id = $2
		FOR UPDATE
	`, seq, accountID))
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrMessageNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to load message: %w", err)
	}

	if msg.Direction != models.DirectionInbound || msg.IsRead {
		return tx.Commit(ctx)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE messages SET is_read = TRUE WHERE seq = $1
	`, seq); err != nil {
		return fmt.Errorf("failed to mark message read: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE chat_state SET unread_count = GREATEST(unread_count - 1, 0)
		WHERE account_id = $1 AND scope_key = $2
	`, accountID, msg.Scope.Key()); err != nil {
		return fmt.Errorf("failed to update unread count: %w", err)
	}

	return tx.Commit(ctx)
}

// MarkScopeRead flips every inbound message in the scope to read and zeroes
// the chat's unread counter.
func (s *Store) MarkScopeRead(ctx context.Context, scope models.ChatScope) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	contactEmail, groupID := scopeColumns(scope)
	if _, err := tx.Exec(ctx, `
		UPDATE messages SET is_read = TRUE
		WHERE account_id = $1
		  AND contact_email IS NOT DISTINCT FROM $2
		  AND group_id IS NOT DISTINCT FROM $3
		  AND direction = 'inbound'
	`, scope.AccountID, contactEmail, groupID); err != nil {
		return fmt.Errorf("failed to mark scope read: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE chat_state SET unread_count = 0
		WHERE account_id = $1 AND scope_key = $2
	`, scope.AccountID, scope.Key()); err != nil {
		return fmt.Errorf("failed to reset unread count: %w", err)
	}

	return tx.Commit(ctx)
}

// MarkOutboundRead upgrades the delivery status of the outbound message with
// the given external id. Reports whether a message matched.
func (s *Store) MarkOutboundRead(ctx context.Context, accountID int64, externalID string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE messages SET delivery_status = 'read'
		WHERE account_id = $1 AND external_id = $2 AND direction = 'outbound'
	`, accountID, strings.TrimSpace(externalID))
	if err != nil {
		return false, fmt.Errorf("failed to mark outbound read: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// DeleteMessage removes the message and repairs the chat preview. The dedup
// entry stays behind as a tombstone via ON DELETE SET NULL.
func (s *Store) DeleteMessage(ctx context.Context, accountID, seq int64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	msg, err := scanMessage(tx.QueryRow(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE seq = $1 AND account_id = $2
		FOR UPDATE
	`, seq, accountID))
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrMessageNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to load message: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM messages WHERE seq = $1`, seq); err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}

	unreadDelta := 0
	if msg.Direction == models.DirectionInbound && !msg.IsRead {
		unreadDelta = 1
	}

	contactEmail, groupID := scopeColumns(msg.Scope)
	var lastBody string
	var lastAt *time.Time
	err = tx.QueryRow(ctx, `
		SELECT body, sent_at FROM messages
		WHERE account_id = $1
		  AND contact_email IS NOT DISTINCT FROM $2
		  AND group_id IS NOT DISTINCT FROM $3
		ORDER BY seq DESC LIMIT 1
	`, accountID, contactEmail, groupID).Scan(&lastBody, &lastAt)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("failed to find latest message: %w", err)
	}

	if lastAt != nil {
		_, err = tx.Exec(ctx, `
			UPDATE chat_state SET
				last_body = $3,
				last_at = $4,
				unread_count = GREATEST(unread_count - $5, 0)
			WHERE account_id = $1 AND scope_key = $2
		`, accountID, msg.Scope.Key(), preview(lastBody), *lastAt, unreadDelta)
	} else {
		// An emptied chat leaves the sidebar entirely.
		_, err = tx.Exec(ctx, `
			DELETE FROM chat_state
			WHERE account_id = $1 AND scope_key = $2
		`, accountID, msg.Scope.Key())
	}
	if err != nil {
		return fmt.Errorf("failed to repair chat state: %w", err)
	}

	return tx.Commit(ctx)
}

// HasExternalID reports whether the external id is known, live message or
// tombstone alike.
func (s *Store) HasExternalID(ctx context.Context, accountID int64, externalID string) (bool, error) {
	if err := s.accountExists(ctx, accountID); err != nil {
		return false, err
	}

	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM external_ids WHERE account_id = $1 AND external_id = $2
		)
	`, accountID, strings.TrimSpace(externalID)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check external id: %w", err)
	}
	return exists, nil
}

// ClearTombstone forgets a tombstoned external id. Dedup entries that still
// point at a live message are left alone.
func (s *Store) ClearTombstone(ctx context.Context, accountID int64, externalID string) error {
	if err := s.accountExists(ctx, accountID); err != nil {
		return err
	}

	if _, err := s.pool.Exec(ctx, `
		DELETE FROM external_ids
		WHERE account_id = $1 AND external_id = $2 AND message_seq IS NULL
	`, accountID, strings.TrimSpace(externalID)); err != nil {
		return fmt.Errorf("failed to clear tombstone: %w", err)
	}
	return nil
}

// ListChats returns sidebar summaries, most recent activity first.
func (s *Store) ListChats(ctx context.Context, accountID int64) ([]*models.ChatSummary, error) {
	if err := s.accountExists(ctx, accountID); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT
			cs.contact_email, cs.group_id, cs.last_body, cs.last_at, cs.unread_count,
			COALESCE(NULLIF(c.display_name, ''), cs.contact_email, g.name, '') AS display_name,
			COALESCE(gm.member_count, 0) AS member_count
		FROM chat_state cs
		LEFT JOIN contacts c
			ON c.account_id = cs.account_id AND c.email = cs.contact_email
		LEFT JOIN groups g ON g.id = cs.group_id
		LEFT JOIN (
			SELECT group_id, COUNT(*) AS member_count FROM group_members GROUP BY group_id
		) gm ON gm.group_id = cs.group_id
		WHERE cs.account_id = $1
		ORDER BY cs.last_at DESC
	`, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list chats: %w", err)
	}
	defer rows.Close()

	var summaries []*models.ChatSummary
	for rows.Next() {
		var summary models.ChatSummary
		var contactEmail *string
		var groupID *int64

		err := rows.Scan(
			&contactEmail, &groupID, &summary.LastBody, &summary.LastAt,
			&summary.UnreadCount, &summary.DisplayName, &summary.MemberCount,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan chat summary: %w", err)
		}

		if groupID != nil {
			summary.Scope = models.GroupScope(accountID, *groupID)
		} else if contactEmail != nil {
			summary.Scope = models.ContactScope(accountID, *contactEmail)
		}
		summaries = append(summaries, &summary)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating chats: %w", err)
	}
	return summaries, nil
}
