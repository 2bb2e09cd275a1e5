package pagecache

import (
	"errors"
	"fmt"
	"time"

	"git.sr.ht/~tbpro/tbmail/models"
)

// ErrInconsistent is returned by Check when an entry holds duplicate ids or
// messages out of sort order.
var ErrInconsistent = errors.New("inconsistent message list")

// Key identifies a cached message list.
type Key struct {
	MailboxID string
	Sort      models.SortProperty
}

func (k Key) String() string {
	return k.MailboxID + "/" + string(k.Sort)
}

// Page is one fetched slice of a mailbox query result.
type Page struct {
	// Position of the first message in the server query at fetch time.
	Position int
	Messages []*models.MessageSummary
}

// Entry is the cached, paginated message list of a mailbox. Pages are in
// server order. Messages are shared between snapshots and are never modified
// in place.
type Entry struct {
	Pages []*Page

	// Cursor is the server query state the head of the list reflects.
	Cursor string
	// Total is the server reported message count, nil when unknown.
	Total *int

	// NextPosition is the server position of the next page to fetch.
	NextPosition int
	HasMore      bool

	Stale     bool
	FetchedAt time.Time

	// Epoch changes whenever the list is replaced or invalidated, Version on
	// every write.
	Epoch   uint64
	Version uint64
}

func (e *Entry) clone() *Entry {
	c := *e
	c.Pages = make([]*Page, len(e.Pages))
	for i, p := range e.Pages {
		msgs := make([]*models.MessageSummary, len(p.Messages))
		copy(msgs, p.Messages)
		c.Pages[i] = &Page{Position: p.Position, Messages: msgs}
	}
	if e.Total != nil {
		total := *e.Total
		c.Total = &total
	}
	return &c
}

// Messages returns all loaded messages, in order.
func (e *Entry) Messages() []*models.MessageSummary {
	msgs := make([]*models.MessageSummary, 0, e.Len())
	for _, p := range e.Pages {
		msgs = append(msgs, p.Messages...)
	}
	return msgs
}

func (e *Entry) Len() int {
	n := 0
	for _, p := range e.Pages {
		n += len(p.Messages)
	}
	return n
}

// Empty reports whether no page was loaded, as after Invalidate.
func (e *Entry) Empty() bool {
	return len(e.Pages) == 0
}

// Find returns the page and offset of message id.
func (e *Entry) Find(id string) (page int, index int, ok bool) {
	for p, pg := range e.Pages {
		for i, m := range pg.Messages {
			if m.ID == id {
				return p, i, true
			}
		}
	}
	return -1, -1, false
}

func (e *Entry) Get(id string) (*models.MessageSummary, bool) {
	p, i, ok := e.Find(id)
	if !ok {
		return nil, false
	}
	return e.Pages[p].Messages[i], true
}

// Replace swaps the message with the same id for m.
func (e *Entry) Replace(m *models.MessageSummary) bool {
	p, i, ok := e.Find(m.ID)
	if !ok {
		return false
	}
	e.Pages[p].Messages[i] = m
	return true
}

// Remove drops message id from whichever page holds it.
func (e *Entry) Remove(id string) (*models.MessageSummary, bool) {
	p, i, ok := e.Find(id)
	if !ok {
		return nil, false
	}
	pg := e.Pages[p]
	m := pg.Messages[i]
	pg.Messages = append(pg.Messages[:i], pg.Messages[i+1:]...)
	return m, true
}

// AppendPage adds a page after the loaded ones, skipping ids already
// present. It returns the number of messages actually added.
func (e *Entry) AppendPage(p *Page) int {
	seen := make(map[string]bool, e.Len())
	for _, pg := range e.Pages {
		for _, m := range pg.Messages {
			seen[m.ID] = true
		}
	}
	msgs := make([]*models.MessageSummary, 0, len(p.Messages))
	for _, m := range p.Messages {
		if seen[m.ID] {
			continue
		}
		seen[m.ID] = true
		msgs = append(msgs, m)
	}
	e.Pages = append(e.Pages, &Page{Position: p.Position, Messages: msgs})
	return len(msgs)
}

// Check verifies that ids are unique and that messages are in descending
// order of the sort property. Messages without a date are not ordered.
func (e *Entry) Check(sort models.SortProperty) error {
	seen := make(map[string]bool, e.Len())
	var prev time.Time
	for _, pg := range e.Pages {
		for _, m := range pg.Messages {
			if seen[m.ID] {
				return fmt.Errorf("%w: duplicate %s", ErrInconsistent, m.ID)
			}
			seen[m.ID] = true
			date := m.Date(sort)
			if date.IsZero() {
				continue
			}
			if !prev.IsZero() && date.After(prev) {
				return fmt.Errorf("%w: %s out of order", ErrInconsistent, m.ID)
			}
			prev = date
		}
	}
	return nil
}
