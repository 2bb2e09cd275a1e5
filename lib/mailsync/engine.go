// Package mailsync keeps the paginated message lists of an account in the
// page cache consistent with the server. Initial loads and pagination use
// bulk queries, refreshes use delta queries, and read or delete mutations
// are applied to the cache before the server confirms them.
//
// All methods are safe for concurrent use. Methods that talk to the server
// take a context and block until the server answered or the context is done.
package mailsync

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"git.sr.ht/~tbpro/tbmail/lib/log"
	"git.sr.ht/~tbpro/tbmail/lib/pagecache"
	"git.sr.ht/~tbpro/tbmail/lib/view"
	"git.sr.ht/~tbpro/tbmail/models"
	"git.sr.ht/~tbpro/tbmail/worker/types"
)

// errSuperseded aborts a cache write whose result is no longer wanted: the
// mailbox was left or a newer state was committed first.
var errSuperseded = errors.New("superseded")

type Engine struct {
	client types.Client
	cache  *pagecache.Cache
	store  Store
	log    log.Logger

	pageSize int
	prefetch int
	interval time.Duration
	timeout  time.Duration
	clock    func() time.Time

	mu          sync.Mutex
	state       ConnState
	connErr     error
	mailboxes   []*models.MailboxSummary
	active      string
	selected    string
	status      map[string]*mailboxStatus
	transitions map[string]*transition
	generation  uint64

	// at most one page 0 program and one next page fetch per transition
	loads singleflight.Group

	obsMu     sync.Mutex
	observers []func()

	loopMu sync.Mutex
	loop   *refreshLoop
	focus  chan struct{}

	// background revalidations
	wg sync.WaitGroup
}

func New(client types.Client, opts ...Option) *Engine {
	e := &Engine{
		client:      client,
		log:         log.NewLogger("sync", 2),
		pageSize:    DefaultPageSize,
		prefetch:    DefaultPrefetch,
		interval:    DefaultRefreshInterval,
		timeout:     DefaultRequestTimeout,
		status:      make(map[string]*mailboxStatus),
		transitions: make(map[string]*transition),
		focus:       make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.cache == nil {
		e.cache = pagecache.New(0, 0)
	}
	if e.clock != nil {
		e.cache.WithClock(e.clock)
	}
	e.cache.OnUpdate(func(pagecache.Key) { e.notify() })
	return e
}

// OnUpdate registers fn to be called after any change of the engine state
// or of a cached message list. fn is called without engine locks held and
// may call any read accessor.
func (e *Engine) OnUpdate(fn func()) {
	e.obsMu.Lock()
	e.observers = append(e.observers, fn)
	e.obsMu.Unlock()
}

func (e *Engine) notify() {
	e.obsMu.Lock()
	observers := make([]func(), len(e.observers))
	copy(observers, e.observers)
	e.obsMu.Unlock()
	for _, fn := range observers {
		fn()
	}
}

func (e *Engine) Cache() *pagecache.Cache {
	return e.cache
}

// State returns the connection state and the error of the last failed
// connection attempt.
func (e *Engine) State() (ConnState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state, e.connErr
}

func (e *Engine) Active() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active
}

func (e *Engine) Selected() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.selected
}

// Mailboxes returns the known mailboxes, in display order. The summaries
// must not be modified.
func (e *Engine) Mailboxes() []*models.MailboxSummary {
	e.mu.Lock()
	defer e.mu.Unlock()
	res := make([]*models.MailboxSummary, len(e.mailboxes))
	copy(res, e.mailboxes)
	return res
}

func (e *Engine) Mailbox(id string) (*models.MailboxSummary, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	mbox := e.mailboxLocked(id)
	return mbox, mbox != nil
}

func (e *Engine) mailboxLocked(id string) *models.MailboxSummary {
	for _, mbox := range e.mailboxes {
		if mbox.ID == id {
			return mbox
		}
	}
	return nil
}

func (e *Engine) Status(mailboxID string) Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.status[mailboxID]
	if !ok {
		return Status{}
	}
	return Status{Loading: s.loading > 0, Err: s.err}
}

func (e *Engine) beginLoad(mailboxID string) {
	e.mu.Lock()
	s, ok := e.status[mailboxID]
	if !ok {
		s = &mailboxStatus{}
		e.status[mailboxID] = s
	}
	s.loading++
	e.mu.Unlock()
	e.notify()
}

func (e *Engine) endLoad(mailboxID string, err error) {
	e.mu.Lock()
	if s, ok := e.status[mailboxID]; ok {
		s.loading--
		s.err = err
	}
	e.mu.Unlock()
	e.notify()
}

// keyFor returns the cache key of a mailbox message list. Unknown mailboxes
// are sorted by reception date.
func (e *Engine) keyFor(mailboxID string) pagecache.Key {
	e.mu.Lock()
	mbox := e.mailboxLocked(mailboxID)
	e.mu.Unlock()
	return pagecache.Key{MailboxID: mailboxID, Sort: models.SortFor(mbox)}
}

// View projects the active mailbox through q.
func (e *Engine) View(q view.Query) *view.Snapshot {
	e.mu.Lock()
	id := e.active
	mbox := e.mailboxLocked(id)
	var status Status
	if s, ok := e.status[id]; ok {
		status = Status{Loading: s.loading > 0, Err: s.err}
	}
	e.mu.Unlock()
	in := view.Input{
		Mailbox:   mbox,
		MailboxID: id,
		Query:     q,
		Loading:   status.Loading,
		Err:       status.Err,
	}
	if id != "" {
		key := pagecache.Key{MailboxID: id, Sort: models.SortFor(mbox)}
		if entry, ok := e.cache.Get(key); ok {
			in.Entry = entry
		}
	}
	return view.Project(in)
}

// Detail returns the detail of message id of the active mailbox.
func (e *Engine) Detail(id string) (*view.MessageDetail, bool) {
	e.mu.Lock()
	mbox := e.mailboxLocked(e.active)
	active := e.active
	e.mu.Unlock()
	entry, ok := e.cache.Get(pagecache.Key{MailboxID: active, Sort: models.SortFor(mbox)})
	if !ok {
		return nil, false
	}
	return view.Detail(mbox, entry, id)
}

func (e *Engine) now() time.Time {
	if e.clock != nil {
		return e.clock()
	}
	return time.Now()
}

// call bounds a protocol client call with the request timeout.
func (e *Engine) call(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.timeout)
}

// adjustCounts applies an optimistic change to the counters of the listed
// mailboxes. Counters never go below zero. Summaries are replaced, never
// modified in place.
func (e *Engine) adjustCounts(mailboxIDs map[string]bool, total, unread int) {
	e.mu.Lock()
	for i, mbox := range e.mailboxes {
		if !mailboxIDs[mbox.ID] {
			continue
		}
		c := *mbox
		c.TotalEmails = max(c.TotalEmails+total, 0)
		c.UnreadEmails = max(c.UnreadEmails+unread, 0)
		e.mailboxes[i] = &c
	}
	e.mu.Unlock()
	e.notify()
}
