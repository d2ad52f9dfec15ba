package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mailchat/mailchat/internal/models"
	"github.com/mailchat/mailchat/internal/store"
)

func newAccount(t *testing.T, s *Store) *models.Account {
	t.Helper()
	account := &models.Account{
		Name:  "Me",
		Email: "me@example.com",
	}
	if _, err := s.CreateAccount(context.Background(), account); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	return account
}

func inbound(accountID int64, email, externalID, body string) *models.Message {
	return &models.Message{
		Scope:       models.ContactScope(accountID, email),
		ExternalID:  externalID,
		Direction:   models.DirectionInbound,
		SenderEmail: email,
		Body:        body,
		SentAt:      time.Now().UTC(),
	}
}

func TestAppendMessageAssignsAscendingSeqs(t *testing.T) {
	s := NewStore()
	account := newAccount(t, s)
	ctx := context.Background()

	var last int64
	for i, body := range []string{"one", "two", "three"} {
		seq, newChat, err := s.AppendMessage(ctx, inbound(account.ID, "bob@example.com", "", body))
		if err != nil {
			t.Fatalf("AppendMessage: %v", err)
		}
		if seq <= last {
			t.Errorf("seq %d not above previous %d", seq, last)
		}
		if wantNew := i == 0; newChat != wantNew {
			t.Errorf("append %d: newChat = %v, want %v", i, newChat, wantNew)
		}
		last = seq
	}

	msgs, err := s.ListMessagesSince(ctx, models.ContactScope(account.ID, "bob@example.com"), 0)
	if err != nil {
		t.Fatalf("ListMessagesSince: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want 3", len(msgs))
	}
	for i := 1; i < len(msgs); i++ {
		if msgs[i].Seq <= msgs[i-1].Seq {
			t.Errorf("seqs not ascending: %d then %d", msgs[i-1].Seq, msgs[i].Seq)
		}
	}
}

func TestAppendMessageDeduplicates(t *testing.T) {
	s := NewStore()
	account := newAccount(t, s)
	ctx := context.Background()

	if _, _, err := s.AppendMessage(ctx, inbound(account.ID, "bob@example.com", "<m1@x>", "hi")); err != nil {
		t.Fatalf("first append: %v", err)
	}
	_, _, err := s.AppendMessage(ctx, inbound(account.ID, "bob@example.com", "<m1@x>", "hi again"))
	if !errors.Is(err, store.ErrDuplicateMessage) {
		t.Fatalf("err = %v, want ErrDuplicateMessage", err)
	}
}

func TestDeleteMessageLeavesTombstone(t *testing.T) {
	s := NewStore()
	account := newAccount(t, s)
	ctx := context.Background()

	seq, _, err := s.AppendMessage(ctx, inbound(account.ID, "bob@example.com", "<m1@x>", "hi"))
	if err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	if err := s.DeleteMessage(ctx, account.ID, seq); err != nil {
		t.Fatalf("DeleteMessage: %v", err)
	}

	// The external id stays known, so the next sync pass skips the message.
	known, err := s.HasExternalID(ctx, account.ID, "<m1@x>")
	if err != nil || !known {
		t.Fatalf("HasExternalID = %v, %v; want tombstone", known, err)
	}
	if _, _, err := s.AppendMessage(ctx, inbound(account.ID, "bob@example.com", "<m1@x>", "hi")); !errors.Is(err, store.ErrDuplicateMessage) {
		t.Fatalf("re-append err = %v, want ErrDuplicateMessage", err)
	}

	// Clearing the tombstone allows re-ingestion.
	if err := s.ClearTombstone(ctx, account.ID, "<m1@x>"); err != nil {
		t.Fatalf("ClearTombstone: %v", err)
	}
	if _, _, err := s.AppendMessage(ctx, inbound(account.ID, "bob@example.com", "<m1@x>", "hi")); err != nil {
		t.Fatalf("append after clear: %v", err)
	}
}

func TestClearTombstoneIgnoresLiveMessage(t *testing.T) {
	s := NewStore()
	account := newAccount(t, s)
	ctx := context.Background()

	if _, _, err := s.AppendMessage(ctx, inbound(account.ID, "bob@example.com", "<m1@x>", "hi")); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	if err := s.ClearTombstone(ctx, account.ID, "<m1@x>"); err != nil {
		t.Fatalf("ClearTombstone: %v", err)
	}
	if _, _, err := s.AppendMessage(ctx, inbound(account.ID, "bob@example.com", "<m1@x>", "hi")); !errors.Is(err, store.ErrDuplicateMessage) {
		t.Fatalf("err = %v, want live message still deduplicated", err)
	}
}

func TestUnreadCounters(t *testing.T) {
	s := NewStore()
	account := newAccount(t, s)
	ctx := context.Background()
	scope := models.ContactScope(account.ID, "bob@example.com")

	seq1, _, _ := s.AppendMessage(ctx, inbound(account.ID, "bob@example.com", "", "one"))
	s.AppendMessage(ctx, inbound(account.ID, "bob@example.com", "", "two"))

	// Outbound messages never count as unread.
	s.AppendMessage(ctx, &models.Message{
		Scope:       scope,
		Direction:   models.DirectionOutbound,
		SenderEmail: account.Email,
		Body:        "reply",
		IsRead:      true,
		SentAt:      time.Now().UTC(),
	})

	chats, err := s.ListChats(ctx, account.ID)
	if err != nil {
		t.Fatalf("ListChats: %v", err)
	}
	if len(chats) != 1 || chats[0].UnreadCount != 2 {
		t.Fatalf("chats = %+v, want one chat with 2 unread", chats)
	}

	if err := s.MarkMessageRead(ctx, account.ID, seq1); err != nil {
		t.Fatalf("MarkMessageRead: %v", err)
	}
	// Marking the same message twice must not decrement twice.
	if err := s.MarkMessageRead(ctx, account.ID, seq1); err != nil {
		t.Fatalf("MarkMessageRead again: %v", err)
	}
	chats, _ = s.ListChats(ctx, account.ID)
	if chats[0].UnreadCount != 1 {
		t.Errorf("UnreadCount = %d, want 1", chats[0].UnreadCount)
	}

	if err := s.MarkScopeRead(ctx, scope); err != nil {
		t.Fatalf("MarkScopeRead: %v", err)
	}
	chats, _ = s.ListChats(ctx, account.ID)
	if chats[0].UnreadCount != 0 {
		t.Errorf("UnreadCount = %d after MarkScopeRead", chats[0].UnreadCount)
	}
}

func TestListChatsPreviewAndOrder(t *testing.T) {
	s := NewStore()
	account := newAccount(t, s)
	ctx := context.Background()

	earlier := time.Now().UTC().Add(-time.Hour)
	s.AppendMessage(ctx, &models.Message{
		Scope:       models.ContactScope(account.ID, "old@example.com"),
		Direction:   models.DirectionInbound,
		SenderEmail: "old@example.com",
		Body:        "older chat",
		SentAt:      earlier,
	})
	s.AppendMessage(ctx, inbound(account.ID, "new@example.com", "", "newer chat"))

	chats, err := s.ListChats(ctx, account.ID)
	if err != nil {
		t.Fatalf("ListChats: %v", err)
	}
	if len(chats) != 2 {
		t.Fatalf("got %d chats, want 2", len(chats))
	}
	if chats[0].Scope.ContactEmail != "new@example.com" {
		t.Errorf("most recent chat first, got %q", chats[0].Scope.ContactEmail)
	}
	if chats[0].LastBody != "newer chat" {
		t.Errorf("LastBody = %q", chats[0].LastBody)
	}

	// The preview follows a delete back to the previous message.
	seq, _, _ := s.AppendMessage(ctx, inbound(account.ID, "new@example.com", "", "latest"))
	if err := s.DeleteMessage(ctx, account.ID, seq); err != nil {
		t.Fatalf("DeleteMessage: %v", err)
	}
	chats, _ = s.ListChats(ctx, account.ID)
	if chats[0].LastBody != "newer chat" {
		t.Errorf("LastBody after delete = %q, want %q", chats[0].LastBody, "newer chat")
	}
}

func TestPreviewTruncation(t *testing.T) {
	long := ""
	for range 50 {
		long += "абвгд " // multi-byte runes, 6 runes per repeat
	}
	got := preview(long)
	if runes := []rune(got); len(runes) != previewLength {
		t.Errorf("preview length = %d runes, want %d", len(runes), previewLength)
	}
}

func TestDeleteLastMessageRemovesChat(t *testing.T) {
	s := NewStore()
	account := newAccount(t, s)
	ctx := context.Background()

	seq, _, err := s.AppendMessage(ctx, inbound(account.ID, "bob@example.com", "<m1@x>", "only one"))
	if err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	if err := s.DeleteMessage(ctx, account.ID, seq); err != nil {
		t.Fatalf("DeleteMessage: %v", err)
	}

	// The emptied chat is gone from the sidebar, not parked with stale
	// activity data.
	chats, err := s.ListChats(ctx, account.ID)
	if err != nil {
		t.Fatalf("ListChats: %v", err)
	}
	if len(chats) != 0 {
		t.Fatalf("chats = %+v, want none", chats)
	}

	// A fresh message reopens the chat as new.
	_, newChat, err := s.AppendMessage(ctx, inbound(account.ID, "bob@example.com", "", "again"))
	if err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	if !newChat {
		t.Error("reopened chat not reported as new")
	}
}

func TestContactDisplayNamePreserved(t *testing.T) {
	s := NewStore()
	account := newAccount(t, s)
	ctx := context.Background()

	s.UpsertContact(ctx, &models.Contact{AccountID: account.ID, Email: "Bob@Example.com", DisplayName: "Bob"})
	// A later upsert without a display name keeps the existing one.
	s.UpsertContact(ctx, &models.Contact{AccountID: account.ID, Email: "bob@example.com"})

	contacts, err := s.ListContacts(ctx, account.ID)
	if err != nil {
		t.Fatalf("ListContacts: %v", err)
	}
	if len(contacts) != 1 || contacts[0].DisplayName != "Bob" || contacts[0].Email != "bob@example.com" {
		t.Fatalf("contacts = %+v", contacts)
	}
}

func TestDeleteContactTombstonesMessages(t *testing.T) {
	s := NewStore()
	account := newAccount(t, s)
	ctx := context.Background()

	s.UpsertContact(ctx, &models.Contact{AccountID: account.ID, Email: "bob@example.com"})
	s.AppendMessage(ctx, inbound(account.ID, "bob@example.com", "<m1@x>", "hi"))

	if err := s.DeleteContact(ctx, account.ID, "bob@example.com"); err != nil {
		t.Fatalf("DeleteContact: %v", err)
	}

	chats, _ := s.ListChats(ctx, account.ID)
	if len(chats) != 0 {
		t.Errorf("chats = %+v, want none", chats)
	}
	known, _ := s.HasExternalID(ctx, account.ID, "<m1@x>")
	if !known {
		t.Error("dedup entry lost on contact delete")
	}
}

func TestFindGroupByMembers(t *testing.T) {
	s := NewStore()
	account := newAccount(t, s)
	ctx := context.Background()

	group := &models.Group{
		AccountID: account.ID,
		Name:      "Team",
		Members:   []string{"Alice@Example.com", "bob@example.com"},
	}
	if _, err := s.CreateGroup(ctx, group); err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}

	// Order and case do not matter.
	found, err := s.FindGroupByMembers(ctx, account.ID, []string{"BOB@example.com", "alice@example.com"})
	if err != nil {
		t.Fatalf("FindGroupByMembers: %v", err)
	}
	if found.ID != group.ID {
		t.Errorf("found group %d, want %d", found.ID, group.ID)
	}

	// Subsets and supersets do not match.
	if _, err := s.FindGroupByMembers(ctx, account.ID, []string{"alice@example.com"}); !errors.Is(err, store.ErrGroupNotFound) {
		t.Errorf("subset err = %v, want ErrGroupNotFound", err)
	}
	if _, err := s.FindGroupByMembers(ctx, account.ID, []string{"alice@example.com", "bob@example.com", "eve@example.com"}); !errors.Is(err, store.ErrGroupNotFound) {
		t.Errorf("superset err = %v, want ErrGroupNotFound", err)
	}
}

func TestAdvanceSyncCursorNeverRegresses(t *testing.T) {
	s := NewStore()
	account := newAccount(t, s)
	ctx := context.Background()

	if err := s.AdvanceSyncCursor(ctx, account.ID, 40); err != nil {
		t.Fatalf("AdvanceSyncCursor: %v", err)
	}
	if err := s.AdvanceSyncCursor(ctx, account.ID, 20); err != nil {
		t.Fatalf("AdvanceSyncCursor: %v", err)
	}

	got, _ := s.GetAccount(ctx, account.ID)
	if got.LastUID != 40 {
		t.Errorf("LastUID = %d, want 40", got.LastUID)
	}
}

func TestMarkOutboundRead(t *testing.T) {
	s := NewStore()
	account := newAccount(t, s)
	ctx := context.Background()

	s.AppendMessage(ctx, &models.Message{
		Scope:          models.ContactScope(account.ID, "bob@example.com"),
		ExternalID:     "<out1@x>",
		Direction:      models.DirectionOutbound,
		SenderEmail:    account.Email,
		Body:           "sent",
		IsRead:         true,
		DeliveryStatus: models.DeliverySent,
		SentAt:         time.Now().UTC(),
	})

	matched, err := s.MarkOutboundRead(ctx, account.ID, "<out1@x>")
	if err != nil || !matched {
		t.Fatalf("MarkOutboundRead = %v, %v", matched, err)
	}
	msgs, _ := s.ListMessagesSince(ctx, models.ContactScope(account.ID, "bob@example.com"), 0)
	if msgs[0].DeliveryStatus != models.DeliveryRead {
		t.Errorf("DeliveryStatus = %q, want read", msgs[0].DeliveryStatus)
	}

	matched, err = s.MarkOutboundRead(ctx, account.ID, "<unknown@x>")
	if err != nil || matched {
		t.Errorf("unknown id matched = %v, %v", matched, err)
	}
}

func TestDeleteAccountRemovesEverything(t *testing.T) {
	s := NewStore()
	account := newAccount(t, s)
	ctx := context.Background()

	s.AppendMessage(ctx, inbound(account.ID, "bob@example.com", "<m1@x>", "hi"))
	if err := s.DeleteAccount(ctx, account.ID); err != nil {
		t.Fatalf("DeleteAccount: %v", err)
	}

	if _, err := s.GetAccount(ctx, account.ID); !errors.Is(err, store.ErrAccountNotFound) {
		t.Errorf("GetAccount err = %v", err)
	}
	if _, err := s.ListChats(ctx, account.ID); !errors.Is(err, store.ErrAccountNotFound) {
		t.Errorf("ListChats err = %v", err)
	}
	if _, _, err := s.AppendMessage(ctx, inbound(account.ID, "bob@example.com", "", "late")); !errors.Is(err, store.ErrAccountNotFound) {
		t.Errorf("AppendMessage err = %v", err)
	}
}
