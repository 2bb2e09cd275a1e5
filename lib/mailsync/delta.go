package mailsync

import (
	"context"
	"errors"
	"slices"
	"time"

	"git.sr.ht/~tbpro/tbmail/lib/pagecache"
	"git.sr.ht/~tbpro/tbmail/models"
	"git.sr.ht/~tbpro/tbmail/worker/types"
)

// RefreshDelta asks the server what changed in a mailbox list since the
// cursor of the cached entry and merges the answer.
//
// It returns false with a nil error when the delta cannot be applied: no
// list with a cursor is cached, the server cannot compute the changes
// anymore (expired cursor) or the result would leave the list inconsistent.
// The caller then falls back to a full reload. Connection errors are
// returned as is and leave the cache untouched.
//
// A delta computed from a cursor that was superseded while the request was
// in flight is dropped and reported as applied.
func (e *Engine) RefreshDelta(ctx context.Context, mailboxID string) (bool, error) {
	key := e.keyFor(mailboxID)
	cur, ok := e.lookup(key)
	if !ok || cur.Empty() || cur.Cursor == "" {
		return false, nil
	}
	tr := e.transitionFor(mailboxID)

	cctx, cancel := e.call(ctx)
	defer cancel()
	changes, err := e.client.QueryChangesSince(cctx, mailboxID, key.Sort, cur.Cursor)
	switch {
	case errors.Is(err, types.ErrCursorExpired):
		e.log.Debugf("delta %s: cursor %s expired", key, cur.Cursor)
		return false, nil
	case err != nil:
		return false, err
	}
	ids := make([]string, 0, len(changes.Added))
	for _, a := range changes.Added {
		ids = append(ids, a.ID)
	}
	added, err := e.summaries(cctx, ids)
	if err != nil {
		return false, err
	}

	err = e.cache.Patch(key, func(entry *pagecache.Entry) error {
		if !tr.live() || entry.Epoch != cur.Epoch || entry.Cursor != cur.Cursor {
			return errSuperseded
		}
		return mergeDelta(entry, key.Sort, changes, added, e.now())
	})
	switch {
	case errors.Is(err, errSuperseded):
		e.log.Debugf("delta %s: superseded", key)
		return true, nil
	case errors.Is(err, pagecache.ErrNotFound):
		return false, nil
	case errors.Is(err, pagecache.ErrInconsistent):
		e.log.Warnf("delta %s: %v", key, err)
		return false, nil
	case err != nil:
		return false, err
	}
	e.log.Tracef("delta %s: +%d -%d -> %s", key,
		len(changes.Added), len(changes.Removed), changes.NewCursor)
	e.persistFolder(key)
	return true, nil
}

// mergeDelta applies changes to the head of entry: removals first, then
// insertions at the server indexes, which are computed against the list
// with the removals applied. Later pages only lose the ids that are
// inserted again in the head. Removed ids found in later pages stay listed
// until the next reload but still move the positions that follow them, so
// the next page starts where the server expects it. Insertions past the
// head are dropped unless the head is the whole list.
//
// The merge fails with pagecache.ErrInconsistent when the result holds
// duplicates or is out of order.
func mergeDelta(
	entry *pagecache.Entry, sort models.SortProperty,
	changes *types.Changes, added []*models.MessageSummary, now time.Time,
) error {
	if len(entry.Pages) == 0 {
		return pagecache.ErrInconsistent
	}
	head := entry.Pages[0]
	// removals per page
	removed := make([]int, len(entry.Pages))

	gone := make(map[string]bool, len(changes.Removed))
	for _, id := range changes.Removed {
		gone[id] = true
	}
	kept := head.Messages[:0]
	for _, m := range head.Messages {
		if gone[m.ID] {
			removed[0]++
			continue
		}
		kept = append(kept, m)
	}
	head.Messages = kept

	byID := make(map[string]*models.MessageSummary, len(added))
	for _, m := range added {
		byID[m.ID] = m
	}
	whole := len(entry.Pages) == 1 && !entry.HasMore
	inserted := 0
	for _, a := range changes.Added {
		m, ok := byID[a.ID]
		if !ok || a.Index < 0 {
			continue
		}
		if p, _, ok := entry.Find(a.ID); ok {
			entry.Remove(a.ID)
			removed[p]++
		}
		index := a.Index
		if index > len(head.Messages) {
			if !whole {
				continue
			}
			index = len(head.Messages)
		}
		head.Messages = slices.Insert(head.Messages, index, m)
		inserted++
	}
	for i, p := range entry.Pages[1:] {
		for _, m := range p.Messages {
			if gone[m.ID] {
				removed[i+1]++
			}
		}
	}

	shift := inserted - removed[0]
	for i, p := range entry.Pages[1:] {
		p.Position = max(p.Position+shift, 0)
		shift -= removed[i+1]
	}
	entry.NextPosition = max(entry.NextPosition+shift, 0)
	switch {
	case changes.Total != nil:
		total := *changes.Total
		entry.Total = &total
	case entry.Total != nil:
		total := max(*entry.Total+shift, 0)
		entry.Total = &total
	}
	if entry.Total != nil {
		entry.HasMore = entry.NextPosition < *entry.Total
	}
	entry.Cursor = changes.NewCursor
	entry.Stale = false
	entry.FetchedAt = now
	return entry.Check(sort)
}

// refresh brings a list up to date with a delta and falls back to a single
// full reload when the delta cannot be applied or the server rejected it.
// Connection errors are returned without a reload. A list that was never
// loaded is loaded.
func (e *Engine) refresh(ctx context.Context, mailboxID string) error {
	entry, ok := e.lookup(e.keyFor(mailboxID))
	if !ok || entry.Empty() {
		return e.LoadInitial(ctx, mailboxID)
	}
	applied, err := e.RefreshDelta(ctx, mailboxID)
	switch {
	case err == nil:
	case types.IsConnectionError(err) || ctx.Err() != nil:
		return err
	default:
		e.log.Warnf("refresh %s: %v, reloading", mailboxID, err)
		return e.reload(ctx, mailboxID, true)
	}
	if applied {
		return nil
	}
	e.log.Debugf("refresh %s: delta not applicable, reloading", mailboxID)
	return e.reload(ctx, mailboxID, true)
}

// RefreshCurrentMailbox is the user triggered refresh of the active
// mailbox: a delta, or a full reload when the delta fails for any reason.
// Errors of the reload are returned.
func (e *Engine) RefreshCurrentMailbox(ctx context.Context) error {
	if err := e.requireOnline(); err != nil {
		return err
	}
	id := e.Active()
	if id == "" {
		return nil
	}
	entry, ok := e.lookup(e.keyFor(id))
	if !ok || entry.Empty() {
		return e.LoadInitial(ctx, id)
	}
	applied, err := e.RefreshDelta(ctx, id)
	switch {
	case err != nil:
		// keep what is cached if the reload fails too
		e.log.Warnf("refresh %s: %v", id, err)
		return e.reload(ctx, id, false)
	case !applied:
		return e.reload(ctx, id, true)
	}
	return nil
}

// PeriodicRefresh is the background maintenance run by the refresh loop:
// the mailbox counters and the active list are refreshed, idle lists are
// evicted. It only runs while connected and never fails, errors are
// logged.
func (e *Engine) PeriodicRefresh(ctx context.Context) {
	e.mu.Lock()
	if e.state != Connected {
		e.mu.Unlock()
		return
	}
	e.state = Refreshing
	id := e.active
	e.mu.Unlock()
	e.notify()

	defer func() {
		e.mu.Lock()
		if e.state == Refreshing {
			e.state = Connected
		}
		e.mu.Unlock()
		e.notify()
	}()

	if err := e.RefreshMailboxes(ctx); err != nil {
		e.log.Warnf("periodic refresh: mailboxes: %v", err)
	}
	var keep []pagecache.Key
	if id != "" {
		key := e.keyFor(id)
		keep = append(keep, key)
		if err := e.refresh(ctx, id); err != nil {
			e.log.Warnf("periodic refresh: %s: %v", id, err)
		}
	}
	for _, key := range e.cache.Evict(keep...) {
		e.log.Debugf("evicted %s", key)
	}
}
