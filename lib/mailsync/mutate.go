package mailsync

import (
	"context"
	"errors"
	"fmt"

	"git.sr.ht/~tbpro/tbmail/lib/pagecache"
	"git.sr.ht/~tbpro/tbmail/models"
	"git.sr.ht/~tbpro/tbmail/worker/types"
)

var errAbsent = errors.New("absent")

// locate finds a cached message, in the active list first.
func (e *Engine) locate(id string) (*models.MessageSummary, bool) {
	if active := e.Active(); active != "" {
		if entry, ok := e.cache.Get(e.keyFor(active)); ok {
			if m, ok := entry.Get(id); ok {
				return m, true
			}
		}
	}
	for _, key := range e.cache.Keys() {
		entry, ok := e.cache.Get(key)
		if !ok {
			continue
		}
		if m, ok := entry.Get(id); ok {
			return m, true
		}
	}
	return nil, false
}

// holding returns the keys of the cached lists that contain message id.
func (e *Engine) holding(id string) []pagecache.Key {
	var keys []pagecache.Key
	for _, key := range e.cache.Keys() {
		if entry, ok := e.cache.Get(key); ok {
			if _, ok := entry.Get(id); ok {
				keys = append(keys, key)
			}
		}
	}
	return keys
}

// converge brings the cache back to server truth after a failed mutation:
// the lists are invalidated and their persisted heads dropped, so their next
// read refetches them, and the counters are listed again. No optimistic
// change is undone field by field.
func (e *Engine) converge(ctx context.Context, keys []pagecache.Key) {
	for _, key := range keys {
		e.log.Debugf("invalidating %s", key)
		e.cache.Invalidate(key)
		e.forgetFolder(key)
	}
	if err := e.RefreshMailboxes(ctx); err != nil {
		e.log.Warnf("mailboxes after a failed mutation: %v", err)
	}
}

// ToggleRead sets or clears the read flag of a cached message. The cached
// summary and the unread counters of its mailboxes are updated before the
// server is asked. When the server call fails, every list holding the
// message is invalidated and the error is returned.
func (e *Engine) ToggleRead(ctx context.Context, id string, read bool) error {
	m, ok := e.locate(id)
	if !ok {
		return types.ErrUnknownMessage
	}
	if m.IsSeen() == read {
		return nil
	}
	keys := e.holding(id)
	for _, key := range keys {
		e.cache.Pin(key)
		defer e.cache.Unpin(key)
	}

	for _, key := range keys {
		err := e.cache.Patch(key, func(entry *pagecache.Entry) error {
			cur, ok := entry.Get(id)
			if !ok {
				return errAbsent
			}
			entry.Replace(cur.WithKeyword(models.SeenKeyword, read))
			return nil
		})
		if err != nil && !errors.Is(err, errAbsent) {
			return err
		}
	}
	unread := 1
	if read {
		unread = -1
	}
	e.adjustCounts(m.MailboxIDs, 0, unread)

	cctx, cancel := e.call(ctx)
	err := e.client.SetReadFlag(cctx, id, read)
	cancel()
	if err != nil {
		e.log.Errorf("mark %s read=%v: %v", id, read, err)
		e.converge(ctx, keys)
		return err
	}
	for _, key := range keys {
		e.persistFolder(key)
	}
	return nil
}

// DeleteMessage removes a message from the cached list of a mailbox and
// updates the counters, then asks the server to move it to the trash, or to
// destroy it. On failure the list is invalidated and the error returned.
// Messages missing from the cached list are refused with ErrUnknownMessage.
func (e *Engine) DeleteMessage(ctx context.Context, id, mailboxID string) error {
	key := e.keyFor(mailboxID)
	e.cache.Pin(key)
	defer e.cache.Unpin(key)

	var removed *models.MessageSummary
	err := e.cache.Patch(key, func(entry *pagecache.Entry) error {
		page, _, ok := entry.Find(id)
		if !ok {
			return errAbsent
		}
		removed, _ = entry.Remove(id)
		for _, p := range entry.Pages[page+1:] {
			p.Position--
		}
		entry.NextPosition = max(entry.NextPosition-1, 0)
		if entry.Total != nil {
			total := max(*entry.Total-1, 0)
			entry.Total = &total
		}
		return nil
	})
	switch {
	case errors.Is(err, errAbsent) || errors.Is(err, pagecache.ErrNotFound):
		return fmt.Errorf("%s: %w", id, types.ErrUnknownMessage)
	case err != nil:
		return err
	}
	unread := 0
	if !removed.IsSeen() {
		unread = -1
	}
	e.adjustCounts(map[string]bool{mailboxID: true}, -1, unread)
	e.mu.Lock()
	if e.selected == id {
		e.selected = ""
	}
	e.mu.Unlock()

	cctx, cancel := e.call(ctx)
	err = e.client.DeleteOrArchive(cctx, id, mailboxID)
	cancel()
	if err != nil {
		e.log.Errorf("delete %s from %s: %v", id, mailboxID, err)
		e.converge(ctx, []pagecache.Key{key})
		return err
	}
	e.persistFolder(key)
	return nil
}

// SelectMessage selects a message of the active list and marks it read.
func (e *Engine) SelectMessage(ctx context.Context, id string) error {
	m, ok := e.locate(id)
	if !ok {
		return types.ErrUnknownMessage
	}
	e.mu.Lock()
	e.selected = id
	e.mu.Unlock()
	e.notify()
	if m.IsSeen() {
		return nil
	}
	return e.ToggleRead(ctx, id, true)
}
