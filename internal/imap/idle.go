package imap

import (
	"context"
	"time"

	idle "github.com/emersion/go-imap-idle"
	imapclient "github.com/emersion/go-imap/client"
)

// idleFallbackPoll is the poll cadence IdleWithFallback uses against
// servers without IDLE support.
const idleFallbackPoll = 30 * time.Second

// Idle blocks in an IMAP IDLE loop on the session's INBOX, invoking notify
// whenever the server reports mailbox activity, until the context is
// canceled or the connection fails. The session must not be used for
// anything else while idling.
func (s *Session) Idle(ctx context.Context, notify func()) error {
	// IDLE holds the connection open far longer than any command timeout.
	s.c.Timeout = 0
	idleClient := idle.NewClient(s.c)

	updates := make(chan imapclient.Update, 10)
	s.c.Updates = updates

	stop := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- idleClient.IdleWithFallback(stop, idleFallbackPoll)
	}()

	for {
		select {
		case <-ctx.Done():
			close(stop)
			<-done
			return ctx.Err()
		case err := <-done:
			return err
		case update := <-updates:
			mbox, ok := update.(*imapclient.MailboxUpdate)
			if !ok || mbox.Mailbox == nil || mbox.Mailbox.Messages == 0 {
				continue
			}
			notify()
		}
	}
}
