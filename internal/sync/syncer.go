// Package sync is the poll engine: it fetches new mail past each account's
// cursor, runs filtering and classification, appends to the chat store and
// advances the cursor once the batch is durably persisted.
package sync

import (
	"context"
	"errors"
	"log"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/mailchat/mailchat/internal/classify"
	"github.com/mailchat/mailchat/internal/crypto"
	"github.com/mailchat/mailchat/internal/filter"
	"github.com/mailchat/mailchat/internal/imap"
	"github.com/mailchat/mailchat/internal/mailerr"
	"github.com/mailchat/mailchat/internal/models"
	"github.com/mailchat/mailchat/internal/store"
	"github.com/mailchat/mailchat/internal/websocket"
)

// batchLimit caps one sync cycle. A mailbox further behind catches up over
// subsequent cycles.
const batchLimit = 200

// Result is the outcome of one sync cycle.
type Result struct {
	Fetched  int `json:"fetched"`
	NewChats int `json:"new_chats"`
}

// Health is the per-account sync status surfaced to the UI.
type Health struct {
	AccountID  int64        `json:"account_id"`
	Healthy    bool         `json:"healthy"`
	LastSyncAt time.Time    `json:"last_sync_at,omitempty"`
	LastError  string       `json:"last_error,omitempty"`
	ErrorKind  mailerr.Kind `json:"error_kind,omitempty"`
}

// Syncer runs sync cycles. Concurrent Sync calls for the same account are
// coalesced into one cycle; different accounts run fully in parallel.
type Syncer struct {
	store      store.ChatStore
	encryptor  *crypto.Encryptor
	classifier *classify.Classifier
	hub        *websocket.Hub
	timeout    time.Duration

	flight singleflight.Group

	mu     sync.Mutex
	health map[int64]Health
}

func NewSyncer(chatStore store.ChatStore, encryptor *crypto.Encryptor, hub *websocket.Hub, timeout time.Duration) *Syncer {
	return &Syncer{
		store:      chatStore,
		encryptor:  encryptor,
		classifier: classify.New(chatStore),
		hub:        hub,
		timeout:    timeout,
		health:     make(map[int64]Health),
	}
}

// Sync runs one cycle for the account. A call arriving while a cycle for
// the same account is in flight joins that cycle's result instead of
// opening a second mailbox session.
func (s *Syncer) Sync(ctx context.Context, accountID int64) (Result, error) {
	v, err, _ := s.flight.Do(strconv.FormatInt(accountID, 10), func() (any, error) {
		result, err := s.syncOnce(ctx, accountID)
		s.recordHealth(accountID, err)
		return result, err
	})
	result, _ := v.(Result)
	return result, err
}

// Health returns the last known sync status for the account.
func (s *Syncer) Health(accountID int64) Health {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h, ok := s.health[accountID]; ok {
		return h
	}
	return Health{AccountID: accountID, Healthy: true}
}

func (s *Syncer) recordHealth(accountID int64, err error) {
	h := Health{AccountID: accountID, Healthy: err == nil, LastSyncAt: time.Now().UTC()}
	if err != nil {
		h.LastError = err.Error()
		h.ErrorKind = mailerr.KindOf(err)
	}

	s.mu.Lock()
	s.health[accountID] = h
	s.mu.Unlock()
}

func (s *Syncer) syncOnce(ctx context.Context, accountID int64) (Result, error) {
	var result Result

	account, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return result, err
	}

	// Settings snapshot for this cycle. A broken stored value aborts the
	// cycle; the previous settings stay in effect for everyone else.
	settings, err := s.store.GetSettings(ctx)
	if err != nil {
		if errors.Is(err, store.ErrInvalidSetting) {
			return result, mailerr.Wrap(mailerr.KindFilterConfig, err, "invalid settings")
		}
		return result, err
	}

	password, err := s.encryptor.Decrypt(account.EncryptedPassword)
	if err != nil {
		return result, mailerr.Wrap(mailerr.KindAuthentication, err, "failed to decrypt password for %s", account.Email)
	}

	session, err := imap.Connect(account, password, s.timeout)
	if err != nil {
		return result, err
	}
	defer session.Close()

	uids, err := session.SearchSince(account.LastUID)
	if err != nil {
		return result, err
	}
	if len(uids) == 0 {
		return result, nil
	}
	if len(uids) > batchLimit {
		uids = uids[len(uids)-batchLimit:]
	}

	maxUID := account.LastUID
	err = session.FetchRaw(uids, func(raw imap.RawMessage) error {
		if raw.UID > maxUID {
			maxUID = raw.UID
		}

		parsed, parseErr := imap.ParseRaw(raw.UID, raw.Body)
		if parseErr != nil {
			// One malformed message never aborts the batch.
			log.Printf("sync: account %d: %v", accountID, parseErr)
			return nil
		}

		return s.ingest(ctx, account, settings, parsed, &result)
	})
	if err != nil {
		return result, err
	}

	// The batch is fully persisted; only now may the cursor move.
	if maxUID > account.LastUID {
		if err := s.store.AdvanceSyncCursor(ctx, accountID, maxUID); err != nil {
			return result, err
		}
	}

	if result.Fetched > 0 && s.hub != nil {
		s.hub.BroadcastEvent("sync", struct {
			AccountID int64 `json:"account_id"`
			Fetched   int   `json:"fetched"`
			NewChats  int   `json:"new_chats"`
		}{accountID, result.Fetched, result.NewChats})
	}

	return result, nil
}

// ingest runs one parsed message through receipts, filters, classification
// and the store. Per-message problems are logged and skipped; only store
// failures abort the batch.
func (s *Syncer) ingest(ctx context.Context, account *models.Account, settings models.Settings, parsed *imap.ParsedMail, result *Result) error {
	if parsed.IsReadReceipt {
		s.consumeReadReceipt(ctx, account, parsed)
		return nil
	}

	// Own outbound mail observed in the inbox is already recorded by the
	// dispatcher.
	if parsed.From == "" || parsed.From == account.Email {
		return nil
	}

	if verdict := filter.Evaluate(parsed.From, parsed.Subject, parsed.Headers, settings); !verdict.Keep {
		return nil
	}

	if parsed.ExternalID != "" {
		known, err := s.store.HasExternalID(ctx, account.ID, parsed.ExternalID)
		if err != nil {
			return err
		}
		if known {
			return nil
		}
	}

	body, bodyHTML := filter.Normalize(parsed.Body, parsed.BodyHTML, settings.StripReplies)
	if body == "" && bodyHTML == "" && len(parsed.Attachments) == 0 {
		return nil
	}

	scope, err := s.classifier.Classify(ctx, account, parsed.From, parsed.Recipients)
	if err != nil {
		log.Printf("sync: account %d: cannot classify message %s: %v", account.ID, parsed.ExternalID, err)
		return nil
	}

	if !scope.IsGroup() {
		contact := &models.Contact{AccountID: account.ID, Email: scope.ContactEmail, DisplayName: parsed.FromName}
		if err := s.store.UpsertContact(ctx, contact); err != nil {
			return err
		}
	}

	msg := &models.Message{
		Scope:          scope,
		ExternalID:     parsed.ExternalID,
		Direction:      models.DirectionInbound,
		SenderEmail:    parsed.From,
		Subject:        parsed.Subject,
		Body:           body,
		BodyHTML:       bodyHTML,
		Attachments:    parsed.Attachments,
		InReplyTo:      parsed.InReplyTo,
		SentAt:         parsed.SentAt,
		DeliveryStatus: models.DeliverySent,
	}

	_, newChat, err := s.store.AppendMessage(ctx, msg)
	if errors.Is(err, store.ErrDuplicateMessage) {
		return nil
	}
	if err != nil {
		return err
	}

	result.Fetched++
	if newChat {
		result.NewChats++
	}

	if s.hub != nil {
		s.hub.BroadcastEvent("new_message", struct {
			AccountID int64            `json:"account_id"`
			Scope     models.ChatScope `json:"scope"`
			Seq       int64            `json:"seq"`
			Sender    string           `json:"sender"`
			NewChat   bool             `json:"new_chat"`
		}{account.ID, scope, msg.Seq, msg.SenderEmail, newChat})
	}
	return nil
}

// consumeReadReceipt upgrades the referenced outbound message to "read".
// Receipts never enter the chat timeline, mappable or not.
func (s *Syncer) consumeReadReceipt(ctx context.Context, account *models.Account, parsed *imap.ParsedMail) {
	for _, mid := range parsed.ReceiptMessageIDs {
		matched, err := s.store.MarkOutboundRead(ctx, account.ID, mid)
		if err != nil {
			log.Printf("sync: account %d: failed to process read receipt: %v", account.ID, err)
			return
		}
		if matched {
			if s.hub != nil {
				s.hub.BroadcastEvent("message_read", struct {
					AccountID  int64  `json:"account_id"`
					ExternalID string `json:"external_message_id"`
				}{account.ID, mid})
			}
			return
		}
	}
}
