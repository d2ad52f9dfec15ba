// Package store defines the ChatStore contract: an append-only per-chat
// message log with monotonic sequence ids, incrementally maintained unread
// counters and previews, and dedup state that survives message deletion.
//
// Two drivers implement it: memory (development, tests) and postgres.
package store

import (
	"context"
	"errors"

	"github.com/mailchat/mailchat/internal/models"
)

var (
	// ErrAccountNotFound is returned when a referenced account does not exist.
	ErrAccountNotFound = errors.New("account not found")
	// ErrContactNotFound is returned when a referenced contact does not exist.
	ErrContactNotFound = errors.New("contact not found")
	// ErrGroupNotFound is returned when a referenced group does not exist.
	ErrGroupNotFound = errors.New("group not found")
	// ErrMessageNotFound is returned when a referenced message does not exist.
	ErrMessageNotFound = errors.New("message not found")
	// ErrDuplicateMessage is returned by AppendMessage when the external
	// message id is already known for the account, tombstones included.
	ErrDuplicateMessage = errors.New("duplicate external message id")
	// ErrInvalidSetting is returned when a settings value fails validation.
	ErrInvalidSetting = errors.New("invalid setting")
)

// ChatStore is the engine's persistence contract. Implementations must
// support concurrent appends across accounts and concurrent append vs. read
// within one account; ListMessagesSince only ever observes committed appends.
type ChatStore interface {
	// Accounts.
	CreateAccount(ctx context.Context, account *models.Account) (int64, error)
	GetAccount(ctx context.Context, accountID int64) (*models.Account, error)
	ListAccounts(ctx context.Context) ([]*models.Account, error)
	DeleteAccount(ctx context.Context, accountID int64) error
	// AdvanceSyncCursor moves the account's sync cursor forward. It never
	// regresses: a uid at or below the stored cursor is a no-op.
	AdvanceSyncCursor(ctx context.Context, accountID int64, uid uint32) error

	// Contacts. Contacts are created lazily on first inbound or outbound
	// message to an unseen address.
	UpsertContact(ctx context.Context, contact *models.Contact) error
	ListContacts(ctx context.Context, accountID int64) ([]*models.Contact, error)
	// DeleteContact removes the contact and its messages. Dedup tombstones
	// for the deleted messages are kept so the next sync does not resurrect
	// them.
	DeleteContact(ctx context.Context, accountID int64, email string) error

	// Groups.
	CreateGroup(ctx context.Context, group *models.Group) (int64, error)
	GetGroup(ctx context.Context, accountID, groupID int64) (*models.Group, error)
	ListGroups(ctx context.Context, accountID int64) ([]*models.Group, error)
	DeleteGroup(ctx context.Context, accountID, groupID int64) error
	// FindGroupByMembers returns the group whose member set exactly matches
	// the given addresses (lower-cased, order-insensitive), or
	// ErrGroupNotFound.
	FindGroupByMembers(ctx context.Context, accountID int64, members []string) (*models.Group, error)

	// Messages. AppendMessage assigns msg.Seq, returns ErrDuplicateMessage
	// for a known external id, and reports whether the append created a new
	// chat scope. It fails with ErrAccountNotFound if the account was removed.
	AppendMessage(ctx context.Context, msg *models.Message) (seq int64, newChat bool, err error)
	// ListMessagesSince returns messages in the scope with Seq > sinceSeq in
	// ascending order; empty when there is nothing new.
	ListMessagesSince(ctx context.Context, scope models.ChatScope, sinceSeq int64) ([]*models.Message, error)
	MarkMessageRead(ctx context.Context, accountID, seq int64) error
	MarkScopeRead(ctx context.Context, scope models.ChatScope) error
	// MarkOutboundRead upgrades the delivery status of the outbound message
	// with the given external id to "read". Reports whether a message matched.
	MarkOutboundRead(ctx context.Context, accountID int64, externalID string) (bool, error)
	// DeleteMessage hard-deletes a message and tombstones its external id.
	DeleteMessage(ctx context.Context, accountID, seq int64) error
	// HasExternalID reports whether the external id is known for the account,
	// either as a stored message or as a tombstone.
	HasExternalID(ctx context.Context, accountID int64, externalID string) (bool, error)
	// ClearTombstone forgets a tombstoned external id so the message can be
	// re-ingested on the next sync.
	ClearTombstone(ctx context.Context, accountID int64, externalID string) error

	// ListChats returns the sidebar summaries (contact and group chats) for
	// the account, most recent activity first.
	ListChats(ctx context.Context, accountID int64) ([]*models.ChatSummary, error)

	// Settings.
	GetSettings(ctx context.Context) (models.Settings, error)
	SaveSettings(ctx context.Context, updates map[string]string) error

	Close()
}
