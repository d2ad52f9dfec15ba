// Package memory implements the ChatStore in process memory. It backs
// development setups and most of the test suite; the postgres driver is the
// production counterpart.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mailchat/mailchat/internal/models"
	"github.com/mailchat/mailchat/internal/store"
)

// Store keeps all engine state behind a single RWMutex. Appends for
// different accounts share the lock, which is fine at chat-app scale; reads
// only ever observe fully committed appends.
type Store struct {
	mu sync.RWMutex

	nextAccountID int64
	nextGroupID   int64
	nextSeq       int64

	accounts map[int64]*models.Account
	contacts map[int64]map[string]*models.Contact
	groups   map[int64]*models.Group
	messages map[string][]*models.Message
	bySeq    map[int64]*models.Message
	chats    map[string]*chatState

	// external ids known per account: external id -> seq of the live
	// message, or 0 for a tombstone. Entries survive message deletion.
	external map[int64]map[string]int64

	settings map[string]string
}

type chatState struct {
	scope    models.ChatScope
	lastBody string
	lastAt   time.Time
	unread   int
}

// NewStore creates an empty store seeded with default settings.
func NewStore() *Store {
	return &Store{
		accounts: make(map[int64]*models.Account),
		contacts: make(map[int64]map[string]*models.Contact),
		groups:   make(map[int64]*models.Group),
		messages: make(map[string][]*models.Message),
		bySeq:    make(map[int64]*models.Message),
		chats:    make(map[string]*chatState),
		external: make(map[int64]map[string]int64),
		settings: store.EncodeSettings(models.DefaultSettings()),
	}
}

var _ store.ChatStore = (*Store)(nil)

// CreateAccount stores the account and assigns its id.
func (s *Store) CreateAccount(_ context.Context, account *models.Account) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextAccountID++
	account.ID = s.nextAccountID
	account.Email = normalizeEmail(account.Email)
	if account.CreatedAt.IsZero() {
		account.CreatedAt = time.Now().UTC()
	}

	clone := *account
	s.accounts[account.ID] = &clone
	s.contacts[account.ID] = make(map[string]*models.Contact)
	s.external[account.ID] = make(map[string]int64)
	return account.ID, nil
}

func (s *Store) GetAccount(_ context.Context, accountID int64) (*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	account, ok := s.accounts[accountID]
	if !ok {
		return nil, store.ErrAccountNotFound
	}
	clone := *account
	return &clone, nil
}

func (s *Store) ListAccounts(_ context.Context) ([]*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	accounts := make([]*models.Account, 0, len(s.accounts))
	for _, account := range s.accounts {
		clone := *account
		accounts = append(accounts, &clone)
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].ID < accounts[j].ID })
	return accounts, nil
}

// DeleteAccount removes the account and everything that belongs to it,
// dedup state included: a deleted account has no sync task left to dedup for.
func (s *Store) DeleteAccount(_ context.Context, accountID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[accountID]; !ok {
		return store.ErrAccountNotFound
	}

	delete(s.accounts, accountID)
	delete(s.contacts, accountID)
	delete(s.external, accountID)

	for groupID, group := range s.groups {
		if group.AccountID == accountID {
			delete(s.groups, groupID)
		}
	}
	for key, state := range s.chats {
		if state.scope.AccountID == accountID {
			for _, msg := range s.messages[key] {
				delete(s.bySeq, msg.Seq)
			}
			delete(s.messages, key)
			delete(s.chats, key)
		}
	}
	return nil
}

func (s *Store) AdvanceSyncCursor(_ context.Context, accountID int64, uid uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accounts[accountID]
	if !ok {
		return store.ErrAccountNotFound
	}
	if uid > account.LastUID {
		account.LastUID = uid
	}
	return nil
}

func (s *Store) UpsertContact(_ context.Context, contact *models.Contact) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	contacts, ok := s.contacts[contact.AccountID]
	if !ok {
		return store.ErrAccountNotFound
	}

	email := normalizeEmail(contact.Email)
	existing, ok := contacts[email]
	if !ok {
		contacts[email] = &models.Contact{
			AccountID:   contact.AccountID,
			Email:       email,
			DisplayName: contact.DisplayName,
		}
		return nil
	}
	// A later message without a display name must not erase a known one.
	if contact.DisplayName != "" {
		existing.DisplayName = contact.DisplayName
	}
	return nil
}

func (s *Store) ListContacts(_ context.Context, accountID int64) ([]*models.Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	contacts, ok := s.contacts[accountID]
	if !ok {
		return nil, store.ErrAccountNotFound
	}

	result := make([]*models.Contact, 0, len(contacts))
	for _, contact := range contacts {
		clone := *contact
		result = append(result, &clone)
	}
	sort.Slice(result, func(i, j int) bool {
		return displayOrEmail(result[i]) < displayOrEmail(result[j])
	})
	return result, nil
}

func (s *Store) DeleteContact(_ context.Context, accountID int64, email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	contacts, ok := s.contacts[accountID]
	if !ok {
		return store.ErrAccountNotFound
	}

	email = normalizeEmail(email)
	if _, ok := contacts[email]; !ok {
		return store.ErrContactNotFound
	}
	delete(contacts, email)

	key := models.ContactScope(accountID, email).Key()
	s.dropScopeLocked(accountID, key)
	return nil
}

func (s *Store) CreateGroup(_ context.Context, group *models.Group) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[group.AccountID]; !ok {
		return 0, store.ErrAccountNotFound
	}

	s.nextGroupID++
	group.ID = s.nextGroupID
	group.Members = normalizeMemberSet(group.Members)
	if group.CreatedAt.IsZero() {
		group.CreatedAt = time.Now().UTC()
	}

	clone := *group
	clone.Members = append([]string(nil), group.Members...)
	s.groups[group.ID] = &clone
	return group.ID, nil
}

func (s *Store) GetGroup(_ context.Context, accountID, groupID int64) (*models.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getGroupLocked(accountID, groupID)
}

func (s *Store) getGroupLocked(accountID, groupID int64) (*models.Group, error) {
	group, ok := s.groups[groupID]
	if !ok || group.AccountID != accountID {
		return nil, store.ErrGroupNotFound
	}
	clone := *group
	clone.Members = append([]string(nil), group.Members...)
	return &clone, nil
}

func (s *Store) ListGroups(_ context.Context, accountID int64) ([]*models.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var groups []*models.Group
	for _, group := range s.groups {
		if group.AccountID != accountID {
			continue
		}
		clone := *group
		clone.Members = append([]string(nil), group.Members...)
		groups = append(groups, &clone)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Name < groups[j].Name })
	return groups, nil
}

func (s *Store) DeleteGroup(_ context.Context, accountID, groupID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	group, ok := s.groups[groupID]
	if !ok || group.AccountID != accountID {
		return store.ErrGroupNotFound
	}
	delete(s.groups, groupID)

	key := models.GroupScope(accountID, groupID).Key()
	s.dropScopeLocked(accountID, key)
	return nil
}

func (s *Store) FindGroupByMembers(_ context.Context, accountID int64, members []string) (*models.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	want := normalizeMemberSet(members)
	for _, group := range s.groups {
		if group.AccountID != accountID {
			continue
		}
		if sameMemberSet(group.Members, want) {
			clone := *group
			clone.Members = append([]string(nil), group.Members...)
			return &clone, nil
		}
	}
	return nil, store.ErrGroupNotFound
}

// AppendMessage commits a message to its chat scope and maintains the
// chat's unread counter and preview in the same critical section.
func (s *Store) AppendMessage(_ context.Context, msg *models.Message) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	external, ok := s.external[msg.Scope.AccountID]
	if !ok {
		return 0, false, store.ErrAccountNotFound
	}
	if msg.Scope.IsGroup() {
		if _, err := s.getGroupLocked(msg.Scope.AccountID, msg.Scope.GroupID); err != nil {
			return 0, false, err
		}
	}
	if msg.ExternalID != "" {
		if _, exists := external[msg.ExternalID]; exists {
			return 0, false, store.ErrDuplicateMessage
		}
	}

	s.nextSeq++
	msg.Seq = s.nextSeq
	if msg.SentAt.IsZero() {
		msg.SentAt = time.Now().UTC()
	}
	if msg.DeliveryStatus == "" {
		msg.DeliveryStatus = models.DeliverySent
	}

	clone := cloneMessage(msg)
	key := msg.Scope.Key()
	s.messages[key] = append(s.messages[key], clone)
	s.bySeq[msg.Seq] = clone
	if msg.ExternalID != "" {
		external[msg.ExternalID] = msg.Seq
	}

	state, exists := s.chats[key]
	if !exists {
		state = &chatState{scope: msg.Scope}
		s.chats[key] = state
	}
	state.lastBody = preview(msg.Body)
	state.lastAt = msg.SentAt
	if msg.Direction == models.DirectionInbound && !msg.IsRead {
		state.unread++
	}

	return msg.Seq, !exists, nil
}

func (s *Store) ListMessagesSince(_ context.Context, scope models.ChatScope, sinceSeq int64) ([]*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := s.messages[scope.Key()]
	// Seqs are appended in ascending order; find the first one past the cursor.
	start := sort.Search(len(msgs), func(i int) bool { return msgs[i].Seq > sinceSeq })

	result := make([]*models.Message, 0, len(msgs)-start)
	for _, msg := range msgs[start:] {
		result = append(result, cloneMessage(msg))
	}
	return result, nil
}

func (s *Store) MarkMessageRead(_ context.Context, accountID, seq int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.bySeq[seq]
	if !ok || msg.Scope.AccountID != accountID {
		return store.ErrMessageNotFound
	}
	if msg.Direction != models.DirectionInbound || msg.IsRead {
		return nil
	}

	msg.IsRead = true
	if state, ok := s.chats[msg.Scope.Key()]; ok && state.unread > 0 {
		state.unread--
	}
	return nil
}

func (s *Store) MarkScopeRead(_ context.Context, scope models.ChatScope) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := scope.Key()
	for _, msg := range s.messages[key] {
		if msg.Direction == models.DirectionInbound {
			msg.IsRead = true
		}
	}
	if state, ok := s.chats[key]; ok {
		state.unread = 0
	}
	return nil
}

func (s *Store) MarkOutboundRead(_ context.Context, accountID int64, externalID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	external, ok := s.external[accountID]
	if !ok {
		return false, store.ErrAccountNotFound
	}
	seq, ok := external[strings.TrimSpace(externalID)]
	if !ok || seq == 0 {
		return false, nil
	}
	msg, ok := s.bySeq[seq]
	if !ok || msg.Direction != models.DirectionOutbound {
		return false, nil
	}
	msg.DeliveryStatus = models.DeliveryRead
	return true, nil
}

// DeleteMessage removes the message but keeps its external id as a
// tombstone, so a later sync over the same mailbox window stays a no-op.
func (s *Store) DeleteMessage(_ context.Context, accountID, seq int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.bySeq[seq]
	if !ok || msg.Scope.AccountID != accountID {
		return store.ErrMessageNotFound
	}

	key := msg.Scope.Key()
	msgs := s.messages[key]
	for i, m := range msgs {
		if m.Seq == seq {
			s.messages[key] = append(msgs[:i], msgs[i+1:]...)
			break
		}
	}
	delete(s.bySeq, seq)
	if msg.ExternalID != "" {
		s.external[accountID][msg.ExternalID] = 0 // tombstone
	}

	if state, ok := s.chats[key]; ok {
		if msg.Direction == models.DirectionInbound && !msg.IsRead && state.unread > 0 {
			state.unread--
		}
		if remaining := s.messages[key]; len(remaining) > 0 {
			last := remaining[len(remaining)-1]
			state.lastBody = preview(last.Body)
			state.lastAt = last.SentAt
		} else {
			// An emptied chat leaves the sidebar entirely.
			delete(s.messages, key)
			delete(s.chats, key)
		}
	}
	return nil
}

func (s *Store) HasExternalID(_ context.Context, accountID int64, externalID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	external, ok := s.external[accountID]
	if !ok {
		return false, store.ErrAccountNotFound
	}
	_, exists := external[strings.TrimSpace(externalID)]
	return exists, nil
}

func (s *Store) ClearTombstone(_ context.Context, accountID int64, externalID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	external, ok := s.external[accountID]
	if !ok {
		return store.ErrAccountNotFound
	}
	externalID = strings.TrimSpace(externalID)
	// Only tombstones may be cleared; a live message keeps its dedup entry.
	if seq, exists := external[externalID]; exists && seq == 0 {
		delete(external, externalID)
	}
	return nil
}

func (s *Store) ListChats(_ context.Context, accountID int64) ([]*models.ChatSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.accounts[accountID]; !ok {
		return nil, store.ErrAccountNotFound
	}

	var summaries []*models.ChatSummary
	for _, state := range s.chats {
		if state.scope.AccountID != accountID {
			continue
		}
		summary := &models.ChatSummary{
			Scope:       state.scope,
			LastBody:    state.lastBody,
			LastAt:      state.lastAt,
			UnreadCount: state.unread,
		}
		if state.scope.IsGroup() {
			if group, ok := s.groups[state.scope.GroupID]; ok {
				summary.DisplayName = group.Name
				summary.MemberCount = len(group.Members)
			}
		} else {
			summary.DisplayName = state.scope.ContactEmail
			if contact, ok := s.contacts[accountID][state.scope.ContactEmail]; ok && contact.DisplayName != "" {
				summary.DisplayName = contact.DisplayName
			}
		}
		summaries = append(summaries, summary)
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].LastAt.After(summaries[j].LastAt)
	})
	return summaries, nil
}

func (s *Store) GetSettings(_ context.Context) (models.Settings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return store.DecodeSettings(s.settings)
}

func (s *Store) SaveSettings(_ context.Context, updates map[string]string) error {
	if err := store.ValidateSettingsUpdate(updates); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for key, value := range updates {
		s.settings[key] = value
	}
	return nil
}

func (s *Store) Close() {}

// dropScopeLocked removes a chat scope's messages and sidebar state while
// keeping the account's dedup entries as tombstones.
func (s *Store) dropScopeLocked(accountID int64, key string) {
	external := s.external[accountID]
	for _, msg := range s.messages[key] {
		delete(s.bySeq, msg.Seq)
		if msg.ExternalID != "" && external != nil {
			external[msg.ExternalID] = 0
		}
	}
	delete(s.messages, key)
	delete(s.chats, key)
}

func cloneMessage(msg *models.Message) *models.Message {
	clone := *msg
	if msg.Attachments != nil {
		clone.Attachments = append([]models.Attachment(nil), msg.Attachments...)
	}
	return &clone
}

const previewLength = 120

func preview(body string) string {
	runes := []rune(strings.TrimSpace(body))
	if len(runes) <= previewLength {
		return string(runes)
	}
	return string(runes[:previewLength])
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func normalizeMemberSet(members []string) []string {
	seen := make(map[string]struct{}, len(members))
	result := make([]string, 0, len(members))
	for _, member := range members {
		member = normalizeEmail(member)
		if member == "" {
			continue
		}
		if _, ok := seen[member]; ok {
			continue
		}
		seen[member] = struct{}{}
		result = append(result, member)
	}
	sort.Strings(result)
	return result
}

func sameMemberSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func displayOrEmail(contact *models.Contact) string {
	if contact.DisplayName != "" {
		return contact.DisplayName
	}
	return contact.Email
}
