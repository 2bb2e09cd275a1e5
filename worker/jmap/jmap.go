package jmap

import (
	"errors"
	"fmt"
	"time"

	"git.sr.ht/~rockorager/go-jmap"
	"git.sr.ht/~rockorager/go-jmap/mail"
	"git.sr.ht/~rockorager/go-jmap/mail/email"
	"git.sr.ht/~rockorager/go-jmap/mail/mailbox"
	msgmail "github.com/emersion/go-message/mail"

	"git.sr.ht/~tbpro/tbmail/models"
	"git.sr.ht/~tbpro/tbmail/worker/types"
)

func translateMsgSummary(m *email.Email) *models.MessageSummary {
	mboxes := make(map[string]bool, len(m.MailboxIDs))
	for id, ok := range m.MailboxIDs {
		if ok {
			mboxes[string(id)] = true
		}
	}
	keywords := make(map[string]bool, len(m.Keywords))
	for kw, ok := range m.Keywords {
		if ok {
			keywords[kw] = true
		}
	}
	return &models.MessageSummary{
		ID:            string(m.ID),
		ThreadID:      string(m.ThreadID),
		MailboxIDs:    mboxes,
		From:          translateAddrList(m.From),
		To:            translateAddrList(m.To),
		Cc:            translateAddrList(m.CC),
		Bcc:           translateAddrList(m.BCC),
		ReplyTo:       translateAddrList(m.ReplyTo),
		Sender:        translateAddrList(m.Sender),
		Subject:       m.Subject,
		ReceivedAt:    derefTime(m.ReceivedAt),
		SentAt:        derefTime(m.SentAt),
		Preview:       m.Preview,
		Keywords:      keywords,
		HasAttachment: m.HasAttachment,
		Size:          m.Size,
	}
}

func translateMailbox(mbox *mailbox.Mailbox) *models.MailboxSummary {
	return &models.MailboxSummary{
		ID:           string(mbox.ID),
		Name:         mbox.Name,
		Role:         jmapRole2tbmail[mbox.Role],
		SortOrder:    mbox.SortOrder,
		TotalEmails:  int(mbox.TotalEmails),
		UnreadEmails: int(mbox.UnreadEmails),
		ParentID:     string(mbox.ParentID),
	}
}

var jmapRole2tbmail = map[mailbox.Role]models.Role{
	mailbox.RoleArchive:    models.ArchiveRole,
	mailbox.RoleDrafts:     models.DraftsRole,
	mailbox.RoleInbox:      models.InboxRole,
	mailbox.RoleJunk:       models.JunkRole,
	mailbox.RoleSent:       models.SentRole,
	mailbox.RoleTrash:      models.TrashRole,
	mailbox.Role("outbox"): models.OutboxRole,
}

func translateSort(prop models.SortProperty) []*email.SortComparator {
	return []*email.SortComparator{{
		Property:    string(prop),
		IsAscending: false,
	}}
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

func translateAddrList(addrs []*mail.Address) []*msgmail.Address {
	res := make([]*msgmail.Address, 0, len(addrs))
	for _, a := range addrs {
		if a == nil {
			continue
		}
		res = append(res, &msgmail.Address{Name: a.Name, Address: a.Email})
	}
	return res
}

func toIDs(ids []string) []jmap.ID {
	res := make([]jmap.ID, 0, len(ids))
	for _, id := range ids {
		res = append(res, jmap.ID(id))
	}
	return res
}

func fromIDs(ids []jmap.ID) []string {
	res := make([]string, 0, len(ids))
	for _, id := range ids {
		res = append(res, string(id))
	}
	return res
}

func wrapSetError(id jmap.ID, err *jmap.SetError) error {
	var s string
	if err.Description != nil {
		s = *err.Description
	} else if err.Properties != nil {
		s = fmt.Sprintf("%s %v", err.Type, *err.Properties)
	}
	if err.Type == "invalidProperties" && s == "invalidProperties [mailboxIds]" {
		s = "a message must belong to one or more mailboxes"
	}
	return &types.MutationRejected{ID: string(id), Type: err.Type, Reason: s}
}

// wrapMethodError reports the errors after which a list can only be
// reloaded as an expired cursor.
func wrapMethodError(err *jmap.MethodError) error {
	switch err.Type {
	case "cannotCalculateChanges", "tooManyChanges", "unsupportedSort":
		return fmt.Errorf("%s: %w", err.Type, types.ErrCursorExpired)
	}
	if err.Description != nil {
		return fmt.Errorf("%s: %s", err.Type, *err.Description)
	}
	return errors.New(err.Type)
}
