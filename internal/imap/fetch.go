package imap

import (
	"io"

	"github.com/emersion/go-imap"
	"github.com/mailchat/mailchat/internal/mailerr"
)

// RawMessage is one fetched message before MIME parsing.
type RawMessage struct {
	UID  uint32
	Body io.Reader
}

// FetchRaw fetches the full RFC 822 bodies for the given UIDs and streams
// them to handle in server order. A UID the server does not answer for is
// skipped silently; transport failure aborts the fetch.
func (s *Session) FetchRaw(uids []uint32, handle func(RawMessage) error) error {
	if len(uids) == 0 {
		return nil
	}

	seqSet := new(imap.SeqSet)
	for _, uid := range uids {
		seqSet.AddNum(uid)
	}

	section := &imap.BodySectionName{}
	items := []imap.FetchItem{imap.FetchUid, section.FetchItem()}

	messages := make(chan *imap.Message, 8)
	done := make(chan error, 1)
	go func() {
		done <- s.c.UidFetch(seqSet, items, messages)
	}()

	var handleErr error
	for msg := range messages {
		if handleErr != nil {
			continue // drain the channel so UidFetch can finish
		}
		body := msg.GetBody(section)
		if body == nil {
			continue
		}
		handleErr = handle(RawMessage{UID: msg.Uid, Body: body})
	}

	if err := <-done; err != nil {
		return mailerr.Wrap(mailerr.KindConnection, err, "UID fetch failed")
	}
	return handleErr
}
