package mailsync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"git.sr.ht/~tbpro/tbmail/models"
	"git.sr.ht/~tbpro/tbmail/worker/types"
)

var base = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

// message builds a summary received i minutes before base.
func message(id string, i int, mailboxID string) *models.MessageSummary {
	return &models.MessageSummary{
		ID:         id,
		MailboxIDs: map[string]bool{mailboxID: true},
		Subject:    "subject " + id,
		ReceivedAt: base.Add(-time.Duration(i) * time.Minute),
		Keywords:   map[string]bool{},
	}
}

func messages(mailboxID string, n int) []*models.MessageSummary {
	res := make([]*models.MessageSummary, 0, n)
	for i := 0; i < n; i++ {
		res = append(res, message(fmt.Sprintf("%s-%03d", mailboxID, i), i, mailboxID))
	}
	return res
}

type query struct {
	mailboxID string
	position  int
}

// fakeClient serves message lists from memory and records every call.
type fakeClient struct {
	mu sync.Mutex

	mailboxes []*models.MailboxSummary
	lists     map[string][]*models.MessageSummary
	cursors   map[string]string
	// total is left nil for mailboxes listed here
	noTotal map[string]bool

	connectErr error
	listErr    error
	// errors returned by QueryMessageIDs, by position
	queryErr map[int]error
	// QueryMessageIDs blocks on the gate of a mailbox, ignoring its context
	gates   map[string]chan struct{}
	started chan query

	changes    func(mailboxID, cursor string) (*types.Changes, error)
	setErr     error
	deleteErr  error
	onMutation func()

	queries      []query
	changeCalls  []string
	readFlags    map[string]bool
	deleted      []string
	cancelAlls   int
	connectCalls int
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		mailboxes: []*models.MailboxSummary{
			{ID: "inbox", Name: "Inbox", Role: models.InboxRole, SortOrder: 1},
			{ID: "archive", Name: "Archive", Role: models.ArchiveRole, SortOrder: 2},
			{ID: "trash", Name: "Trash", Role: models.TrashRole, SortOrder: 3},
		},
		lists:     make(map[string][]*models.MessageSummary),
		cursors:   make(map[string]string),
		noTotal:   make(map[string]bool),
		queryErr:  make(map[int]error),
		gates:     make(map[string]chan struct{}),
		started:   make(chan query, 64),
		readFlags: make(map[string]bool),
	}
}

func (c *fakeClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connectCalls++
	return c.connectErr
}

func (c *fakeClient) ListMailboxes(ctx context.Context) ([]*models.MailboxSummary, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.listErr != nil {
		return nil, c.listErr
	}
	res := make([]*models.MailboxSummary, 0, len(c.mailboxes))
	for _, mbox := range c.mailboxes {
		m := *mbox
		res = append(res, &m)
	}
	return res, nil
}

func (c *fakeClient) QueryMessageIDs(
	ctx context.Context, mailboxID string, sort models.SortProperty,
	position, limit int,
) (*types.QueryResult, error) {
	q := query{mailboxID, position}
	c.mu.Lock()
	c.queries = append(c.queries, q)
	gate := c.gates[mailboxID]
	err := c.queryErr[position]
	c.mu.Unlock()
	select {
	case c.started <- q:
	default:
	}
	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	list := c.lists[mailboxID]
	res := &types.QueryResult{Position: position, Cursor: c.cursor(mailboxID)}
	if !c.noTotal[mailboxID] {
		res.Total = types.IntPtr(len(list))
	}
	for i := position; i < len(list) && i < position+limit; i++ {
		res.IDs = append(res.IDs, list[i].ID)
	}
	return res, nil
}

func (c *fakeClient) cursor(mailboxID string) string {
	if cur, ok := c.cursors[mailboxID]; ok {
		return cur
	}
	return "s1"
}

// FetchMessageSummaries answers in reverse order.
func (c *fakeClient) FetchMessageSummaries(
	ctx context.Context, ids []string, properties []string,
) ([]*models.MessageSummary, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var res []*models.MessageSummary
	for _, list := range c.lists {
		for _, m := range list {
			if want[m.ID] {
				res = append([]*models.MessageSummary{m.Clone()}, res...)
				delete(want, m.ID)
			}
		}
	}
	return res, nil
}

func (c *fakeClient) QueryChangesSince(
	ctx context.Context, mailboxID string, sort models.SortProperty, cursor string,
) (*types.Changes, error) {
	c.mu.Lock()
	c.changeCalls = append(c.changeCalls, cursor)
	changes := c.changes
	current := c.cursor(mailboxID)
	c.mu.Unlock()
	if changes != nil {
		return changes(mailboxID, cursor)
	}
	if cursor != current {
		return nil, types.ErrCursorExpired
	}
	return &types.Changes{NewCursor: current}, nil
}

func (c *fakeClient) SetReadFlag(ctx context.Context, id string, read bool) error {
	c.mu.Lock()
	hook := c.onMutation
	err := c.setErr
	c.mu.Unlock()
	if hook != nil {
		hook()
	}
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.readFlags[id] = read
	c.mu.Unlock()
	return nil
}

func (c *fakeClient) DeleteOrArchive(ctx context.Context, id, fromMailboxID string) error {
	c.mu.Lock()
	hook := c.onMutation
	err := c.deleteErr
	c.mu.Unlock()
	if hook != nil {
		hook()
	}
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.deleted = append(c.deleted, id)
	c.mu.Unlock()
	return nil
}

func (c *fakeClient) CancelAllRequests() {
	c.mu.Lock()
	c.cancelAlls++
	c.mu.Unlock()
}

// firstPages counts the page 0 queries of a mailbox.
func (c *fakeClient) firstPages(mailboxID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, q := range c.queries {
		if q.mailboxID == mailboxID && q.position == 0 {
			n++
		}
	}
	return n
}

func (c *fakeClient) positions(mailboxID string) []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	var res []int
	for _, q := range c.queries {
		if q.mailboxID == mailboxID {
			res = append(res, q.position)
		}
	}
	return res
}

func (c *fakeClient) set(fn func(c *fakeClient)) {
	c.mu.Lock()
	fn(c)
	c.mu.Unlock()
}
