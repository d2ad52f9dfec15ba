package testutil

import (
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/backend/memory"
	imapclient "github.com/emersion/go-imap/client"
	"github.com/emersion/go-imap/server"
)

// TestIMAPServer is an in-process IMAP server backed by the go-imap memory
// backend. The backend creates one default user ("username"/"password")
// whose INBOX is pre-seeded with a single sample message; tests that care
// about counts should run one baseline sync first.
type TestIMAPServer struct {
	Server   *server.Server
	Address  string
	Backend  *memory.Backend
	cleanup  func()
	username string
	password string
}

// NewTestIMAPServer starts a test IMAP server on a random port.
func NewTestIMAPServer(t *testing.T) *TestIMAPServer {
	t.Helper()

	be := memory.New()
	s := server.New(be)
	s.AllowInsecureAuth = true

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	addr := listener.Addr().String()

	go func() {
		if err := s.Serve(listener); err != nil {
			t.Logf("IMAP server error: %v", err)
		}
	}()

	// Give server time to start
	time.Sleep(100 * time.Millisecond)

	return &TestIMAPServer{
		Server:   s,
		Address:  addr,
		Backend:  be,
		cleanup:  func() { _ = s.Close() },
		username: "username",
		password: "password",
	}
}

// Close shuts down the test IMAP server.
func (s *TestIMAPServer) Close() {
	if s.cleanup != nil {
		s.cleanup()
	}
}

// Username returns the default test username.
func (s *TestIMAPServer) Username() string {
	return s.username
}

// Password returns the default test password.
func (s *TestIMAPServer) Password() string {
	return s.password
}

// Connect creates a logged-in IMAP client connection to the test server.
func (s *TestIMAPServer) Connect(t *testing.T) (*imapclient.Client, func()) {
	t.Helper()

	client, err := imapclient.Dial(s.Address)
	if err != nil {
		t.Fatalf("Failed to connect to test server: %v", err)
	}
	if err := client.Login(s.username, s.password); err != nil {
		_ = client.Logout()
		t.Fatalf("Failed to login: %v", err)
	}

	return client, func() { _ = client.Logout() }
}

// AddRawMessage appends a raw RFC 822 message to the INBOX and returns its
// UID. The raw text may use bare newlines; they are normalized to CRLF.
func (s *TestIMAPServer) AddRawMessage(t *testing.T, raw string) uint32 {
	t.Helper()

	client, cleanup := s.Connect(t)
	defer cleanup()

	if _, err := client.Select("INBOX", false); err != nil {
		t.Fatalf("Failed to select INBOX: %v", err)
	}

	normalized := strings.ReplaceAll(strings.ReplaceAll(raw, "\r\n", "\n"), "\n", "\r\n")
	if err := client.Append("INBOX", nil, time.Now(), strings.NewReader(normalized)); err != nil {
		t.Fatalf("Failed to append message: %v", err)
	}

	status, err := client.Select("INBOX", true)
	if err != nil {
		t.Fatalf("Failed to reselect INBOX: %v", err)
	}
	if status.Messages == 0 {
		t.Fatal("INBOX empty after append")
	}

	// The appended message is the last one; fetch its UID.
	seqSet := new(imap.SeqSet)
	seqSet.AddNum(status.Messages)

	messages := make(chan *imap.Message, 1)
	done := make(chan error, 1)
	go func() {
		done <- client.Fetch(seqSet, []imap.FetchItem{imap.FetchUid}, messages)
	}()

	var uid uint32
	for msg := range messages {
		uid = msg.Uid
	}
	if err := <-done; err != nil {
		t.Fatalf("Failed to fetch UID: %v", err)
	}
	return uid
}

// AddMessage builds a plain-text message from the given fields, with
// optional extra headers, and appends it to the INBOX.
func (s *TestIMAPServer) AddMessage(t *testing.T, messageID, from, to, subject, body string, extraHeaders map[string]string) uint32 {
	t.Helper()

	var b strings.Builder
	fmt.Fprintf(&b, "Message-ID: %s\n", messageID)
	fmt.Fprintf(&b, "Date: %s\n", time.Now().Format(time.RFC1123Z))
	fmt.Fprintf(&b, "From: %s\n", from)
	fmt.Fprintf(&b, "To: %s\n", to)
	fmt.Fprintf(&b, "Subject: %s\n", subject)
	for name, value := range extraHeaders {
		fmt.Fprintf(&b, "%s: %s\n", name, value)
	}
	b.WriteString("Content-Type: text/plain; charset=utf-8\n\n")
	b.WriteString(body)
	b.WriteString("\n")

	return s.AddRawMessage(t, b.String())
}
