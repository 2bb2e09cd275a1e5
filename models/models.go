package models

import (
	"sort"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
)

// Role is the special use of a mailbox.
type Role string

const (
	InboxRole   Role = "inbox"
	SentRole    Role = "sent"
	DraftsRole  Role = "drafts"
	TrashRole   Role = "trash"
	OutboxRole  Role = "outbox"
	ArchiveRole Role = "archive"
	JunkRole    Role = "junk"
	OtherRole   Role = ""
)

// SortProperty is the timestamp a mailbox is ordered by, always descending.
type SortProperty string

const (
	SortReceivedAt SortProperty = "receivedAt"
	SortSentAt     SortProperty = "sentAt"
)

// Well known keywords.
const (
	SeenKeyword     = "$seen"
	FlaggedKeyword  = "$flagged"
	AnsweredKeyword = "$answered"
	DraftKeyword    = "$draft"
)

// SummaryProperties is the property set fetched for every message list
// entry, both on initial load and for delta additions.
var SummaryProperties = []string{
	"id",
	"threadId",
	"mailboxIds",
	"subject",
	"from",
	"to",
	"cc",
	"bcc",
	"replyTo",
	"sender",
	"receivedAt",
	"sentAt",
	"preview",
	"keywords",
	"hasAttachment",
	"size",
}

type MailboxSummary struct {
	ID        string
	Name      string
	Role      Role
	SortOrder uint64

	// The total number of messages in this mailbox.
	TotalEmails int

	// The number of unread messages. Kept aligned with optimistic read
	// state changes until the next server listing.
	UnreadEmails int

	// Identifier only, the parent is not owned.
	ParentID string
}

// SortFor returns the property a mailbox message list is ordered by.
func SortFor(mbox *MailboxSummary) SortProperty {
	if mbox == nil {
		return SortReceivedAt
	}
	switch strings.ToLower(mbox.Name) {
	case "sent", "sent items":
		return SortSentAt
	}
	if mbox.Role == SentRole {
		return SortSentAt
	}
	return SortReceivedAt
}

// SortMailboxes orders mailboxes by sort order then name.
func SortMailboxes(mboxes []*MailboxSummary) {
	sort.SliceStable(mboxes, func(i, j int) bool {
		a, b := mboxes[i], mboxes[j]
		if a.SortOrder != b.SortOrder {
			return a.SortOrder < b.SortOrder
		}
		return strings.ToLower(a.Name) < strings.ToLower(b.Name)
	})
}

// A MessageSummary is the list view of a message. Summaries stored in the
// page cache are shared with readers and must never be modified in place:
// use Clone and replace.
type MessageSummary struct {
	ID         string
	ThreadID   string
	MailboxIDs map[string]bool

	From    []*mail.Address
	To      []*mail.Address
	Cc      []*mail.Address
	Bcc     []*mail.Address
	ReplyTo []*mail.Address
	Sender  []*mail.Address

	Subject    string
	ReceivedAt time.Time
	SentAt     time.Time
	Preview    string

	Keywords      map[string]bool
	HasAttachment bool
	Size          uint64
}

func (m *MessageSummary) IsSeen() bool {
	return m.Keywords[SeenKeyword]
}

// Date returns the timestamp used to order m for the given sort property.
func (m *MessageSummary) Date(prop SortProperty) time.Time {
	if prop == SortSentAt && !m.SentAt.IsZero() {
		return m.SentAt
	}
	return m.ReceivedAt
}

// FromText is the sender display text used by the list and the text filter.
func (m *MessageSummary) FromText() string {
	return FormatAddresses(m.From)
}

// Flags returns the set keywords, sorted.
func (m *MessageSummary) Flags() []string {
	flags := make([]string, 0, len(m.Keywords))
	for k, v := range m.Keywords {
		if v {
			flags = append(flags, k)
		}
	}
	sort.Strings(flags)
	return flags
}

// Clone returns a copy of m whose keyword and mailbox maps can be modified
// without affecting m. Address lists are shared.
func (m *MessageSummary) Clone() *MessageSummary {
	c := *m
	c.Keywords = make(map[string]bool, len(m.Keywords)+1)
	for k, v := range m.Keywords {
		c.Keywords[k] = v
	}
	c.MailboxIDs = make(map[string]bool, len(m.MailboxIDs))
	for k, v := range m.MailboxIDs {
		c.MailboxIDs[k] = v
	}
	return &c
}

// WithKeyword returns a copy of m with keyword set or cleared.
func (m *MessageSummary) WithKeyword(keyword string, set bool) *MessageSummary {
	c := m.Clone()
	if set {
		c.Keywords[keyword] = true
	} else {
		delete(c.Keywords, keyword)
	}
	return c
}
