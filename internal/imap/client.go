// Package imap holds the mailbox session used by the sync engine: connect,
// search for UIDs past the cursor, fetch raw messages, and optionally IDLE
// on the INBOX for push-style wakeups.
package imap

import (
	"fmt"
	"net"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/mailchat/mailchat/internal/mailerr"
	"github.com/mailchat/mailchat/internal/models"
)

// Session is one authenticated IMAP connection with INBOX selected. A
// session is not safe for concurrent use; the sync engine's per-account
// single-flight guard guarantees exclusive access.
type Session struct {
	c *client.Client
}

// Connect dials the account's IMAP endpoint, authenticates and selects the
// INBOX. Dial and command timeouts are bounded so a dead server can never
// hang the scheduler.
func Connect(account *models.Account, password string, timeout time.Duration) (*Session, error) {
	addr := fmt.Sprintf("%s:%d", account.IMAPHost, account.IMAPPort)
	dialer := &net.Dialer{Timeout: timeout}

	var c *client.Client
	var err error
	if account.UseSSL {
		c, err = client.DialWithDialerTLS(dialer, addr, nil)
	} else {
		c, err = client.DialWithDialer(dialer, addr)
	}
	if err != nil {
		return nil, mailerr.Wrap(mailerr.KindConnection, err, "failed to dial %s", addr)
	}
	c.Timeout = timeout

	if err := c.Login(account.LoginUsername(), password); err != nil {
		_ = c.Logout()
		return nil, mailerr.Wrap(mailerr.KindAuthentication, err, "login rejected for %s", account.LoginUsername())
	}

	if _, err := c.Select("INBOX", true); err != nil {
		_ = c.Logout()
		return nil, mailerr.Wrap(mailerr.KindConnection, err, "failed to select INBOX")
	}

	return &Session{c: c}, nil
}

// SearchSince returns the UIDs of messages with UID strictly greater than
// lastUID, ascending.
func (s *Session) SearchSince(lastUID uint32) ([]uint32, error) {
	seqSet := new(imap.SeqSet)
	seqSet.AddRange(lastUID+1, 0) // 0 is *

	criteria := imap.NewSearchCriteria()
	criteria.Uid = seqSet

	uids, err := s.c.UidSearch(criteria)
	if err != nil {
		return nil, mailerr.Wrap(mailerr.KindConnection, err, "UID search failed")
	}

	// Servers answer "UID n:*" with at least the last message even when its
	// UID is at or below n; drop those.
	result := uids[:0]
	for _, uid := range uids {
		if uid > lastUID {
			result = append(result, uid)
		}
	}
	return result, nil
}

// Close logs the session out. Errors are ignored; the connection is gone
// either way.
func (s *Session) Close() {
	_ = s.c.Logout()
}
