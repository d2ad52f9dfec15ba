// Package classify maps a parsed inbound message to its chat scope: a group
// chat when the participant set exactly matches a stored group, a 1:1
// contact chat otherwise.
package classify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mailchat/mailchat/internal/models"
	"github.com/mailchat/mailchat/internal/store"
)

// Classifier resolves chat scopes against the stored groups.
type Classifier struct {
	store store.ChatStore
}

func New(chatStore store.ChatStore) *Classifier {
	return &Classifier{store: chatStore}
}

// Classify determines the inbound scope for a message from fromAddr sent to
// recipients (To plus Cc). The participant set is the sender plus all
// recipients minus the account's own address; an exact match against a
// group's member set wins, anything else falls back to the 1:1 chat with the
// sender. A partial overlap with a group is deliberately not a group match.
func (c *Classifier) Classify(ctx context.Context, account *models.Account, fromAddr string, recipients []string) (models.ChatScope, error) {
	own := strings.ToLower(strings.TrimSpace(account.Email))
	from := strings.ToLower(strings.TrimSpace(fromAddr))

	participants := make([]string, 0, len(recipients)+1)
	if from != "" && from != own {
		participants = append(participants, from)
	}
	for _, recipient := range recipients {
		addr := strings.ToLower(strings.TrimSpace(recipient))
		if addr == "" || addr == own {
			continue
		}
		participants = append(participants, addr)
	}

	if len(participants) > 1 {
		group, err := c.store.FindGroupByMembers(ctx, account.ID, participants)
		if err == nil {
			return models.GroupScope(account.ID, group.ID), nil
		}
		if !errors.Is(err, store.ErrGroupNotFound) {
			return models.ChatScope{}, fmt.Errorf("failed to match group: %w", err)
		}
	}

	if from == "" || from == own {
		// Own outbound mail observed inbound, or a missing From header.
		// Fall back to the first foreign recipient.
		if len(participants) == 0 {
			return models.ChatScope{}, fmt.Errorf("no counterpart address for message from %q", fromAddr)
		}
		return models.ContactScope(account.ID, participants[0]), nil
	}

	return models.ContactScope(account.ID, from), nil
}
