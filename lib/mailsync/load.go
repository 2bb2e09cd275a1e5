package mailsync

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/singleflight"

	"git.sr.ht/~tbpro/tbmail/lib/log"
	"git.sr.ht/~tbpro/tbmail/lib/pagecache"
	"git.sr.ht/~tbpro/tbmail/models"
	"git.sr.ht/~tbpro/tbmail/worker/types"
)

// A transition is the lifetime of the requests issued for one mailbox
// between two switches. Leaving a mailbox cancels its transition: requests
// in flight are aborted and results arriving late are not committed.
type transition struct {
	mailboxID  string
	generation uint64
	ctx        context.Context
	cancel     context.CancelFunc
}

func (t *transition) live() bool {
	return t.ctx.Err() == nil
}

func (e *Engine) transitionFor(mailboxID string) *transition {
	e.mu.Lock()
	defer e.mu.Unlock()
	if tr, ok := e.transitions[mailboxID]; ok && tr.live() {
		return tr
	}
	e.generation++
	ctx, cancel := context.WithCancel(context.Background())
	tr := &transition{
		mailboxID:  mailboxID,
		generation: e.generation,
		ctx:        ctx,
		cancel:     cancel,
	}
	e.transitions[mailboxID] = tr
	return tr
}

// forget cancels everything in flight for a mailbox that disappeared and
// drops its persisted lists.
func (e *Engine) forget(mailboxID string) {
	e.mu.Lock()
	if tr, ok := e.transitions[mailboxID]; ok {
		tr.cancel()
		delete(e.transitions, mailboxID)
	}
	delete(e.status, mailboxID)
	e.mu.Unlock()
	if e.store != nil {
		if err := e.store.PurgeFolderContents(mailboxID); err != nil {
			e.log.Warnf("purge %s: %v", mailboxID, err)
		}
	}
}

// wait returns the result of a shared load, or ctx.Err() when the caller
// gives up first. The load itself goes on for the other waiters.
func wait(ctx context.Context, ch <-chan singleflight.Result) error {
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// lookup returns the cached entry of key, restoring the persisted one on a
// cold start.
func (e *Engine) lookup(key pagecache.Key) (*pagecache.Entry, bool) {
	if entry, ok := e.cache.Get(key); ok {
		return entry, true
	}
	if e.restoreFolder(key) {
		return e.cache.Get(key)
	}
	return nil, false
}

// LoadInitial makes sure the message list of a mailbox is loaded. When the
// cached list is missing, invalidated or stale, the first page is fetched
// and committed, then more pages are fetched until the prefetch target is
// reached or the server has no more. Concurrent calls for the same mailbox
// share one program.
//
// An error on the first page is returned and leaves the cache untouched. An
// error on a later page stops the prefetch, keeps the pages already fetched
// and is only logged.
func (e *Engine) LoadInitial(ctx context.Context, mailboxID string) error {
	key := e.keyFor(mailboxID)
	if entry, ok := e.lookup(key); ok && !entry.Empty() && !entry.Stale {
		return nil
	}
	return e.load(ctx, key, false)
}

// reload fetches the list again, even when it is fresh. With clear, the
// entry is invalidated first, which drops its cursor.
func (e *Engine) reload(ctx context.Context, mailboxID string, clear bool) error {
	key := e.keyFor(mailboxID)
	if clear {
		e.cache.Invalidate(key)
	}
	return e.load(ctx, key, true)
}

func (e *Engine) load(ctx context.Context, key pagecache.Key, force bool) error {
	tr := e.transitionFor(key.MailboxID)
	ch := e.loads.DoChan(fmt.Sprintf("load %s %d", key, tr.generation),
		func() (any, error) {
			return nil, e.loadProgram(tr, key, force)
		})
	return wait(ctx, ch)
}

func (e *Engine) loadProgram(tr *transition, key pagecache.Key, force bool) error {
	if entry, ok := e.cache.Get(key); ok && !force && !entry.Empty() && !entry.Stale {
		// a program that just completed already did the work
		return nil
	}
	e.beginLoad(key.MailboxID)
	page, err := e.fetchPage(tr.ctx, key, 0)
	if err != nil {
		e.log.Errorf("load %s: %v", key, err)
		e.endLoad(key.MailboxID, err)
		return err
	}
	entry := &pagecache.Entry{
		Cursor: page.cursor,
		Total:  page.total,
	}
	entry.AppendPage(&pagecache.Page{Position: page.position, Messages: page.messages})
	entry.NextPosition, entry.HasMore = page.next(e.pageSize)
	if !e.cache.SetIf(key, entry, tr.live) {
		e.log.Debugf("load %s: discarding results of a left mailbox", key)
		e.endLoad(key.MailboxID, nil)
		return tr.ctx.Err()
	}
	e.persistFolder(key)
	e.endLoad(key.MailboxID, nil)

	for entry.HasMore && entry.Len() < e.prefetch {
		entry, err = e.appendNext(tr, key)
		if err != nil {
			if tr.live() {
				e.log.Warnf("prefetch %s: %v", key, err)
			}
			break
		}
	}
	return nil
}

// FetchNextPage appends the next page of a loaded list. It does nothing
// when the server reported no more pages, and loads the list when it was
// never loaded. Errors leave the loaded pages untouched.
func (e *Engine) FetchNextPage(ctx context.Context, mailboxID string) error {
	key := e.keyFor(mailboxID)
	entry, ok := e.lookup(key)
	if !ok || entry.Empty() {
		return e.LoadInitial(ctx, mailboxID)
	}
	if !entry.HasMore {
		return nil
	}
	tr := e.transitionFor(mailboxID)
	ch := e.loads.DoChan(fmt.Sprintf("next %s %d %d", key, tr.generation, entry.NextPosition),
		func() (any, error) {
			e.beginLoad(mailboxID)
			_, err := e.appendNext(tr, key)
			if errors.Is(err, errSuperseded) {
				err = nil
			}
			if err != nil && tr.live() {
				e.endLoad(mailboxID, err)
				return nil, err
			}
			e.endLoad(mailboxID, nil)
			return nil, err
		})
	return wait(ctx, ch)
}

// OnVisibleRange is called with the index of the last visible message. The
// next page is fetched once the view gets within half a page of the end of
// the loaded messages.
func (e *Engine) OnVisibleRange(ctx context.Context, end int) error {
	id := e.Active()
	if id == "" {
		return nil
	}
	entry, ok := e.cache.Get(e.keyFor(id))
	if !ok || !entry.HasMore {
		return nil
	}
	if end < entry.Len()-e.pageSize/2 {
		return nil
	}
	return e.FetchNextPage(ctx, id)
}

// appendNext fetches the page at the next position of the cached entry and
// appends it. It returns the resulting entry.
func (e *Engine) appendNext(tr *transition, key pagecache.Key) (*pagecache.Entry, error) {
	cur, ok := e.cache.Get(key)
	if !ok || cur.Empty() {
		return nil, errSuperseded
	}
	if !cur.HasMore {
		return cur, nil
	}
	page, err := e.fetchPage(tr.ctx, key, cur.NextPosition)
	if err != nil {
		return nil, err
	}
	err = e.cache.Patch(key, func(entry *pagecache.Entry) error {
		if !tr.live() || entry.Epoch != cur.Epoch {
			return errSuperseded
		}
		entry.AppendPage(&pagecache.Page{Position: page.position, Messages: page.messages})
		entry.NextPosition, entry.HasMore = page.next(e.pageSize)
		if page.total != nil {
			entry.Total = page.total
		}
		return entry.Check(key.Sort)
	})
	if err != nil {
		return nil, err
	}
	entry, _ := e.cache.Get(key)
	return entry, nil
}

type fetchedPage struct {
	position int
	ids      int
	total    *int
	cursor   string
	messages []*models.MessageSummary
}

// next returns the position of the following page and whether the server
// has more.
func (p *fetchedPage) next(pageSize int) (int, bool) {
	next := p.position + p.ids
	if p.ids == 0 {
		return next, false
	}
	if p.total != nil {
		return next, next < *p.total
	}
	return next, p.ids >= pageSize
}

func (e *Engine) fetchPage(
	ctx context.Context, key pagecache.Key, position int,
) (*fetchedPage, error) {
	cctx, cancel := e.call(ctx)
	defer cancel()
	res, err := e.client.QueryMessageIDs(cctx, key.MailboxID, key.Sort,
		position, e.pageSize)
	if err != nil {
		return nil, err
	}
	msgs, err := e.summaries(cctx, res.IDs)
	if err != nil {
		return nil, err
	}
	return &fetchedPage{
		position: res.Position,
		ids:      len(res.IDs),
		total:    res.Total,
		cursor:   res.Cursor,
		messages: msgs,
	}, nil
}

// summaries fetches the summaries of ids and returns them in ids order.
// Messages the server does not know anymore are left out.
func (e *Engine) summaries(ctx context.Context, ids []string) ([]*models.MessageSummary, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	fetched, err := e.client.FetchMessageSummaries(ctx, ids, models.SummaryProperties)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*models.MessageSummary, len(fetched))
	for _, m := range fetched {
		byID[m.ID] = m
	}
	msgs := make([]*models.MessageSummary, 0, len(ids))
	for _, id := range ids {
		if m, ok := byID[id]; ok {
			msgs = append(msgs, m)
		} else {
			e.log.Tracef("message %s vanished before its summary was fetched", id)
		}
	}
	return msgs, nil
}

// SwitchMailbox makes mailboxID the active mailbox. Everything in flight for
// the previous one is canceled. A fresh cached list is reused as is, a
// stale one is served immediately and revalidated in the background, and a
// missing one is loaded. Once the mailbox list is known, ids missing from it
// are refused with ErrUnknownMailbox.
func (e *Engine) SwitchMailbox(ctx context.Context, mailboxID string) error {
	e.mu.Lock()
	if len(e.mailboxes) > 0 && e.mailboxLocked(mailboxID) == nil {
		e.mu.Unlock()
		return fmt.Errorf("%s: %w", mailboxID, types.ErrUnknownMailbox)
	}
	previous := e.active
	if previous != "" && previous != mailboxID {
		if tr, ok := e.transitions[previous]; ok {
			tr.cancel()
			delete(e.transitions, previous)
		}
	}
	e.active = mailboxID
	if previous != mailboxID {
		e.selected = ""
	}
	e.mu.Unlock()
	if previous != "" && previous != mailboxID {
		e.log.Debugf("leaving %s for %s", previous, mailboxID)
		e.client.CancelAllRequests()
	}
	e.notify()

	key := e.keyFor(mailboxID)
	entry, ok := e.lookup(key)
	switch {
	case ok && !entry.Empty() && !entry.Stale:
		return nil
	case ok && !entry.Empty():
		e.revalidate(mailboxID)
		return nil
	}
	return e.LoadInitial(ctx, mailboxID)
}

// revalidate refreshes a stale list in the background.
func (e *Engine) revalidate(mailboxID string) {
	tr := e.transitionFor(mailboxID)
	e.wg.Add(1)
	go func() {
		defer log.PanicHandler()
		defer e.wg.Done()
		e.beginLoad(mailboxID)
		err := e.refresh(tr.ctx, mailboxID)
		if err != nil && tr.live() {
			e.log.Warnf("revalidate %s: %v", mailboxID, err)
		}
		e.endLoad(mailboxID, nil)
	}()
}
