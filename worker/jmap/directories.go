package jmap

import (
	"context"
	"strings"

	"git.sr.ht/~rockorager/go-jmap"
	"git.sr.ht/~rockorager/go-jmap/mail/mailbox"

	"git.sr.ht/~tbpro/tbmail/models"
)

func (c *Client) ListMailboxes(ctx context.Context) ([]*models.MailboxSummary, error) {
	var req jmap.Request

	req.Invoke(&mailbox.Get{Account: c.AccountId()})
	resp, err := c.Do(ctx, &req)
	if err != nil {
		return nil, err
	}

	var mboxes []*models.MailboxSummary
	for _, inv := range resp.Responses {
		switch r := inv.Args.(type) {
		case *mailbox.GetResponse:
			for _, mbox := range r.List {
				mboxes = append(mboxes, translateMailbox(mbox))
			}
		case *jmap.MethodError:
			return nil, wrapMethodError(r)
		}
	}
	models.SortMailboxes(mboxes)

	special := resolveSpecial(mboxes)
	c.mu.Lock()
	c.special = special
	c.mu.Unlock()
	c.log.Debugf("%d mailboxes, special: %v", len(mboxes), special)

	return mboxes, nil
}

// names matched, lowercased, when no mailbox advertises a role
var specialNames = map[models.Role][]string{
	models.InboxRole:  {"inbox"},
	models.SentRole:   {"sent", "sent items"},
	models.DraftsRole: {"drafts"},
	models.TrashRole:  {"trash", "deleted items"},
	models.OutboxRole: {"outbox"},
}

// resolveSpecial maps roles to mailbox ids: by role first, then by name.
// The inbox falls back to the first mailbox.
func resolveSpecial(mboxes []*models.MailboxSummary) map[models.Role]string {
	special := make(map[models.Role]string)
	for _, mbox := range mboxes {
		if mbox.Role == models.OtherRole {
			continue
		}
		if _, ok := special[mbox.Role]; !ok {
			special[mbox.Role] = mbox.ID
		}
	}
	for role, names := range specialNames {
		if _, ok := special[role]; ok {
			continue
		}
	lookup:
		for _, name := range names {
			for _, mbox := range mboxes {
				if strings.ToLower(strings.TrimSpace(mbox.Name)) == name {
					special[role] = mbox.ID
					break lookup
				}
			}
		}
	}
	if _, ok := special[models.InboxRole]; !ok && len(mboxes) > 0 {
		special[models.InboxRole] = mboxes[0].ID
	}
	return special
}
