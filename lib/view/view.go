// Package view derives what the presentation layer shows from the page cache:
// the visible message list of the active mailbox, its count and status, and
// the detail of a selected message. Everything here is a pure function of
// its input.
package view

import (
	"strings"

	"git.sr.ht/~tbpro/tbmail/lib/pagecache"
	"git.sr.ht/~tbpro/tbmail/models"
)

type Filter int

const (
	FilterAll Filter = iota
	FilterUnread
)

func (f Filter) String() string {
	if f == FilterUnread {
		return "unread"
	}
	return "all"
}

// ParseFilter accepts "all" and "unread". Anything else is FilterAll.
func ParseFilter(s string) Filter {
	if strings.EqualFold(s, "unread") {
		return FilterUnread
	}
	return FilterAll
}

type Query struct {
	Filter Filter
	// Text is matched case insensitively against the sender and subject.
	Text string
}

// Matches reports whether m passes q.
func (q Query) Matches(m *models.MessageSummary) bool {
	if q.Filter == FilterUnread && m.IsSeen() {
		return false
	}
	if q.Text == "" {
		return true
	}
	text := strings.ToLower(q.Text)
	return strings.Contains(strings.ToLower(m.FromText()), text) ||
		strings.Contains(strings.ToLower(m.Subject), text)
}

type Input struct {
	// Mailbox is nil when the mailbox is not listed, MailboxID then names
	// it.
	Mailbox   *models.MailboxSummary
	MailboxID string
	// Entry is nil when nothing was loaded for the mailbox yet.
	Entry   *pagecache.Entry
	Query   Query
	Loading bool
	Err     error
}

// Snapshot is a read only projection. Messages are shared with the cache
// and must not be modified.
type Snapshot struct {
	MailboxID string
	Sort      models.SortProperty
	Messages  []*models.MessageSummary
	// Count is the mailbox size, not the number of visible messages.
	Count   int
	Loaded  int
	HasMore bool
	Stale   bool
	Loading bool
	Err     error
}

func Project(in Input) *Snapshot {
	snap := &Snapshot{
		Sort:    models.SortFor(in.Mailbox),
		Loading: in.Loading,
		Err:     in.Err,
	}
	snap.MailboxID = in.MailboxID
	if in.Mailbox != nil {
		snap.MailboxID = in.Mailbox.ID
	}
	snap.Count = Count(in.Mailbox, in.Entry)
	if in.Entry == nil {
		return snap
	}
	snap.HasMore = in.Entry.HasMore
	snap.Stale = in.Entry.Stale
	for _, p := range in.Entry.Pages {
		for _, m := range p.Messages {
			snap.Loaded++
			if in.Query.Matches(m) {
				snap.Messages = append(snap.Messages, m)
			}
		}
	}
	return snap
}

// Count prefers the server reported total of the query, then the total of
// the mailbox when it is known, even zero, then the number of loaded
// messages.
func Count(mbox *models.MailboxSummary, entry *pagecache.Entry) int {
	if entry != nil && entry.Total != nil {
		return *entry.Total
	}
	if mbox != nil {
		return mbox.TotalEmails
	}
	if entry != nil {
		return entry.Len()
	}
	return 0
}
