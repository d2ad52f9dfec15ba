package testutil

import (
	"io"
	"net"
	"sync"
	"testing"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
)

// Envelope is one message accepted by the test SMTP server.
type Envelope struct {
	From string
	To   []string
	Data []byte
}

// TestSMTPServer is an in-process SMTP server that accepts any credentials
// over plaintext and records every delivered envelope.
type TestSMTPServer struct {
	Address string

	server *smtp.Server

	mu        sync.Mutex
	envelopes []*Envelope
}

// NewTestSMTPServer starts the server on a random loopback port and shuts it
// down when the test finishes.
func NewTestSMTPServer(t *testing.T) *TestSMTPServer {
	t.Helper()

	ts := &TestSMTPServer{}

	s := smtp.NewServer(ts)
	s.Domain = "localhost"
	s.AllowInsecureAuth = true
	ts.server = s

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	ts.Address = listener.Addr().String()

	go func() {
		if err := s.Serve(listener); err != nil {
			t.Logf("SMTP server stopped: %v", err)
		}
	}()

	return ts
}

// Close shuts down the server.
func (ts *TestSMTPServer) Close() {
	_ = ts.server.Close()
}

// GetMessages returns every envelope delivered so far.
func (ts *TestSMTPServer) GetMessages() []*Envelope {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return append([]*Envelope(nil), ts.envelopes...)
}

func (ts *TestSMTPServer) deliver(env *Envelope) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.envelopes = append(ts.envelopes, env)
}

// NewSession implements smtp.Backend.
func (ts *TestSMTPServer) NewSession(*smtp.Conn) (smtp.Session, error) {
	return &smtpSession{server: ts}, nil
}

type smtpSession struct {
	server *TestSMTPServer
	from   string
	to     []string
}

func (s *smtpSession) AuthMechanisms() []string {
	return []string{sasl.Plain}
}

func (s *smtpSession) Auth(mech string) (sasl.Server, error) {
	return sasl.NewPlainServer(func(identity, username, password string) error {
		return nil
	}), nil
}

func (s *smtpSession) Mail(from string, opts *smtp.MailOptions) error {
	s.from = from
	return nil
}

func (s *smtpSession) Rcpt(to string, opts *smtp.RcptOptions) error {
	s.to = append(s.to, to)
	return nil
}

func (s *smtpSession) Data(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.server.deliver(&Envelope{From: s.from, To: s.to, Data: data})
	return nil
}

func (s *smtpSession) Reset() {
	s.from = ""
	s.to = nil
}

func (s *smtpSession) Logout() error {
	return nil
}
