package view

import (
	"fmt"
	"strings"
	"time"

	"git.sr.ht/~tbpro/tbmail/lib/pagecache"
	"git.sr.ht/~tbpro/tbmail/models"
)

const NoSubject = "(no subject)"

const DateFormat = "Mon, 02 Jan 2006 15:04"

type MessageDetail struct {
	ID      string
	Subject string
	From    string
	To      string
	Cc      string
	Date    time.Time
	Flags   string
	Size    string
	Preview string
	Unread  bool

	HasAttachment bool
}

// DateText formats Date in local time, empty when unknown.
func (d *MessageDetail) DateText() string {
	if d.Date.IsZero() {
		return ""
	}
	return d.Date.Local().Format(DateFormat)
}

// Detail returns the detail of message id from entry. The date is the one
// the mailbox is sorted by.
func Detail(
	mbox *models.MailboxSummary, entry *pagecache.Entry, id string,
) (*MessageDetail, bool) {
	if entry == nil {
		return nil, false
	}
	m, ok := entry.Get(id)
	if !ok {
		return nil, false
	}
	subject := strings.TrimSpace(m.Subject)
	if subject == "" {
		subject = NoSubject
	}
	return &MessageDetail{
		ID:            m.ID,
		Subject:       subject,
		From:          models.FormatAddresses(m.From),
		To:            models.FormatAddresses(m.To),
		Cc:            models.FormatAddresses(m.Cc),
		Date:          m.Date(models.SortFor(mbox)),
		Flags:         strings.Join(m.Flags(), ", "),
		Size:          fmt.Sprintf("%d bytes", m.Size),
		Preview:       m.Preview,
		Unread:        !m.IsSeen(),
		HasAttachment: m.HasAttachment,
	}, true
}
