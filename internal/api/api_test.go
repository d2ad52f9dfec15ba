package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/mailchat/mailchat/internal/crypto"
	"github.com/mailchat/mailchat/internal/models"
	"github.com/mailchat/mailchat/internal/smtp"
	"github.com/mailchat/mailchat/internal/store/memory"
	"github.com/mailchat/mailchat/internal/sync"
)

type testEnv struct {
	mux       *http.ServeMux
	store     *memory.Store
	encryptor *crypto.Encryptor
}

// newTestEnv wires the handlers against a memory store, mirroring the
// production mux.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	key := base64.StdEncoding.EncodeToString([]byte("0123456789abcdef0123456789abcdef"))
	encryptor, err := crypto.NewEncryptor(key)
	if err != nil {
		t.Fatalf("NewEncryptor: %v", err)
	}

	chatStore := memory.NewStore()
	dispatcher := smtp.NewDispatcher(chatStore, encryptor, 5*time.Second)
	syncer := sync.NewSyncer(chatStore, encryptor, nil, 5*time.Second)

	accountsHandler := NewAccountsHandler(chatStore, encryptor)
	chatsHandler := NewChatsHandler(chatStore)
	contactsHandler := NewContactsHandler(chatStore)
	groupsHandler := NewGroupsHandler(chatStore)
	sendHandler := NewSendHandler(dispatcher)
	syncHandler := NewSyncHandler(syncer)
	settingsHandler := NewSettingsHandler(chatStore)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/accounts", accountsHandler.List)
	mux.HandleFunc("POST /api/v1/accounts", accountsHandler.Create)
	mux.HandleFunc("DELETE /api/v1/accounts/{id}", accountsHandler.Delete)
	mux.HandleFunc("GET /api/v1/chats", chatsHandler.ListChats)
	mux.HandleFunc("GET /api/v1/messages", chatsHandler.ListMessages)
	mux.HandleFunc("POST /api/v1/messages/read", chatsHandler.MarkRead)
	mux.HandleFunc("DELETE /api/v1/messages/{seq}", chatsHandler.DeleteMessage)
	mux.HandleFunc("GET /api/v1/contacts", contactsHandler.List)
	mux.HandleFunc("POST /api/v1/contacts", contactsHandler.Create)
	mux.HandleFunc("DELETE /api/v1/contacts/{email}", contactsHandler.Delete)
	mux.HandleFunc("GET /api/v1/groups", groupsHandler.List)
	mux.HandleFunc("POST /api/v1/groups", groupsHandler.Create)
	mux.HandleFunc("DELETE /api/v1/groups/{id}", groupsHandler.Delete)
	mux.HandleFunc("POST /api/v1/send", sendHandler.SendToContact)
	mux.HandleFunc("POST /api/v1/send_group", sendHandler.SendToGroup)
	mux.HandleFunc("GET /api/v1/sync/status", syncHandler.Status)
	mux.HandleFunc("GET /api/v1/settings", settingsHandler.Get)
	mux.HandleFunc("PUT /api/v1/settings", settingsHandler.Put)

	return &testEnv{mux: mux, store: chatStore, encryptor: encryptor}
}

func (e *testEnv) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	e.mux.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) seedAccount(t *testing.T) *models.Account {
	t.Helper()
	encrypted, err := e.encryptor.Encrypt("secret")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	account := &models.Account{
		Name:              "Me",
		Email:             "me@example.com",
		IMAPHost:          "imap.example.com",
		IMAPPort:          993,
		SMTPHost:          "smtp.example.com",
		SMTPPort:          465,
		EncryptedPassword: encrypted,
		UseSSL:            true,
		SMTPSecurity:      models.SMTPSecurityAuto,
	}
	if _, err := e.store.CreateAccount(context.Background(), account); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	return account
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Kind string `json:"kind"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("error body not JSON: %v (%s)", err, rec.Body.String())
	}
	return body.Error.Kind
}

func TestAccountsCreateAndList(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/accounts", `{
		"name": "Me", "email": "me@example.com", "password": "pw",
		"imap_host": "imap.example.com", "imap_port": 993,
		"smtp_host": "smtp.example.com", "smtp_port": 465
	}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var created models.Account
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.ID == 0 {
		t.Error("expected assigned account id")
	}
	if created.SMTPSecurity != models.SMTPSecurityAuto {
		t.Errorf("SMTPSecurity = %q, want default auto", created.SMTPSecurity)
	}
	if strings.Contains(rec.Body.String(), "pw") {
		t.Error("password leaked in response")
	}

	rec = env.do(t, http.MethodGet, "/api/v1/accounts", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	var accounts []*models.Account
	if err := json.Unmarshal(rec.Body.Bytes(), &accounts); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(accounts) != 1 {
		t.Errorf("listed %d accounts, want 1", len(accounts))
	}
}

func TestAccountsCreateValidation(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name string
		body string
	}{
		{"bad email", `{"email": "nope", "password": "pw", "imap_host": "h", "imap_port": 1, "smtp_host": "h", "smtp_port": 1}`},
		{"missing password", `{"email": "a@b.example", "imap_host": "h", "imap_port": 1, "smtp_host": "h", "smtp_port": 1}`},
		{"bad security", `{"email": "a@b.example", "password": "pw", "imap_host": "h", "imap_port": 1, "smtp_host": "h", "smtp_port": 1, "smtp_security": "tlsv9"}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/v1/accounts", tc.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
			if kind := decodeError(t, rec); kind != "validation" {
				t.Errorf("kind = %q, want validation", kind)
			}
		})
	}
}

func TestAccountDelete(t *testing.T) {
	env := newTestEnv(t)
	account := env.seedAccount(t)

	rec := env.do(t, http.MethodDelete, "/api/v1/accounts/1", "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rec.Code)
	}

	rec = env.do(t, http.MethodDelete, "/api/v1/accounts/1", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", rec.Code)
	}
	_ = account
}

func TestChatsAndMessages(t *testing.T) {
	env := newTestEnv(t)
	account := env.seedAccount(t)
	ctx := context.Background()

	for _, body := range []string{"first", "second"} {
		msg := &models.Message{
			Scope:       models.ContactScope(account.ID, "bob@example.com"),
			Direction:   models.DirectionInbound,
			SenderEmail: "bob@example.com",
			Body:        body,
			SentAt:      time.Now().UTC(),
		}
		if _, _, err := env.store.AppendMessage(ctx, msg); err != nil {
			t.Fatalf("AppendMessage: %v", err)
		}
	}

	rec := env.do(t, http.MethodGet, "/api/v1/chats?account_id=1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("chats status = %d", rec.Code)
	}
	var chats []*models.ChatSummary
	if err := json.Unmarshal(rec.Body.Bytes(), &chats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(chats) != 1 || chats[0].UnreadCount != 2 {
		t.Fatalf("chats = %+v, want one chat with 2 unread", chats)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/messages?account_id=1&contact_email=bob@example.com&since=0", "")
	var messages []*models.Message
	if err := json.Unmarshal(rec.Body.Bytes(), &messages); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("got %d messages, want 2", len(messages))
	}

	// Incremental fetch past the first seq.
	rec = env.do(t, http.MethodGet, "/api/v1/messages?account_id=1&contact_email=bob@example.com&since="+
		strconv.FormatInt(messages[0].Seq, 10), "")
	if err := json.Unmarshal(rec.Body.Bytes(), &messages); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(messages) != 1 || messages[0].Body != "second" {
		t.Fatalf("incremental fetch = %+v, want only the second message", messages)
	}

	// mark_read drains the unread counter.
	env.do(t, http.MethodGet, "/api/v1/messages?account_id=1&contact_email=bob@example.com&mark_read=1", "")
	rec = env.do(t, http.MethodGet, "/api/v1/chats?account_id=1", "")
	if err := json.Unmarshal(rec.Body.Bytes(), &chats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if chats[0].UnreadCount != 0 {
		t.Errorf("UnreadCount = %d after mark_read", chats[0].UnreadCount)
	}
}

func TestMessagesScopeValidation(t *testing.T) {
	env := newTestEnv(t)
	env.seedAccount(t)

	rec := env.do(t, http.MethodGet, "/api/v1/messages?account_id=1", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("no scope: status = %d, want 400", rec.Code)
	}
	rec = env.do(t, http.MethodGet, "/api/v1/messages?account_id=1&contact_email=b@x.example&group_id=2", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("both scopes: status = %d, want 400", rec.Code)
	}
}

func TestDeleteMessage(t *testing.T) {
	env := newTestEnv(t)
	account := env.seedAccount(t)
	ctx := context.Background()

	msg := &models.Message{
		Scope:       models.ContactScope(account.ID, "bob@example.com"),
		ExternalID:  "<m@example.com>",
		Direction:   models.DirectionInbound,
		SenderEmail: "bob@example.com",
		Body:        "delete me",
		SentAt:      time.Now().UTC(),
	}
	seq, _, err := env.store.AppendMessage(ctx, msg)
	if err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}

	rec := env.do(t, http.MethodDelete, "/api/v1/messages/"+strconv.FormatInt(seq, 10)+"?account_id=1", "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rec.Code)
	}

	// Dedup state survives the delete.
	known, err := env.store.HasExternalID(ctx, account.ID, "<m@example.com>")
	if err != nil || !known {
		t.Errorf("HasExternalID = %v, %v; want tombstone", known, err)
	}
}

func TestGroups(t *testing.T) {
	env := newTestEnv(t)
	env.seedAccount(t)

	rec := env.do(t, http.MethodPost, "/api/v1/groups", `{
		"account_id": 1, "name": "Team",
		"members": ["alice@example.com", "bob@example.com"]
	}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodPost, "/api/v1/groups", `{"account_id": 1, "name": "Empty", "members": []}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty members status = %d, want 400", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/groups?account_id=1", "")
	var groups []*models.Group
	if err := json.Unmarshal(rec.Body.Bytes(), &groups); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(groups) != 1 || len(groups[0].Members) != 2 {
		t.Fatalf("groups = %+v", groups)
	}

	rec = env.do(t, http.MethodDelete, "/api/v1/groups/1?account_id=1", "")
	if rec.Code != http.StatusNoContent {
		t.Errorf("delete status = %d", rec.Code)
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v1/settings", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	var settings map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &settings); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if settings["poll_interval_ms"] != "1000" {
		t.Errorf("default poll_interval_ms = %q", settings["poll_interval_ms"])
	}

	rec = env.do(t, http.MethodPut, "/api/v1/settings", `{"poll_interval_ms": "2000", "filter_noreply": "0"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("put status = %d, body %s", rec.Code, rec.Body.String())
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &settings); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if settings["poll_interval_ms"] != "2000" || settings["filter_noreply"] != "0" {
		t.Errorf("settings after update = %v", settings)
	}
}

func TestSettingsRejectInvalidUpdate(t *testing.T) {
	env := newTestEnv(t)

	// Below the 500ms floor: the whole update is rejected and previous
	// values stay in effect.
	rec := env.do(t, http.MethodPut, "/api/v1/settings", `{"poll_interval_ms": "100"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/settings", "")
	var settings map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &settings); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if settings["poll_interval_ms"] != "1000" {
		t.Errorf("poll_interval_ms = %q, want unchanged 1000", settings["poll_interval_ms"])
	}
}

func TestSyncStatusUnknownAccountIsHealthy(t *testing.T) {
	env := newTestEnv(t)
	env.seedAccount(t)

	rec := env.do(t, http.MethodGet, "/api/v1/sync/status?account_id=1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var health struct {
		Healthy bool `json:"healthy"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &health); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !health.Healthy {
		t.Error("account with no sync history should report healthy")
	}
}

