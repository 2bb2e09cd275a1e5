package mailsync

import (
	"git.sr.ht/~tbpro/tbmail/lib/pagecache"
	"git.sr.ht/~tbpro/tbmail/models"
	"git.sr.ht/~tbpro/tbmail/worker/jmap/cache"
)

// Store persists the head of the message lists and the mailbox list across
// restarts. *cache.JMAPCache implements it.
type Store interface {
	GetFolderContents(mailboxID string, sort models.SortProperty) (*cache.FolderContents, error)
	PutFolderContents(*cache.FolderContents) error
	DeleteFolderContents(mailboxID string, sort models.SortProperty) error
	PurgeFolderContents(mailboxID string) error
	GetMailboxList() (*cache.MailboxList, error)
	PutMailboxList(*cache.MailboxList) error
}

func (e *Engine) restoreMailboxes() {
	if e.store == nil {
		return
	}
	list, err := e.store.GetMailboxList()
	if err != nil {
		if !cache.IsNotFound(err) {
			e.log.Warnf("restore mailboxes: %v", err)
		}
		return
	}
	e.mu.Lock()
	if len(e.mailboxes) == 0 {
		e.mailboxes = list.Mailboxes
	}
	e.mu.Unlock()
	e.notify()
}

func (e *Engine) persistMailboxes(list []*models.MailboxSummary) {
	if e.store == nil {
		return
	}
	if err := e.store.PutMailboxList(&cache.MailboxList{Mailboxes: list}); err != nil {
		e.log.Warnf("persist mailboxes: %v", err)
	}
}

// restoreFolder puts the persisted head of a list in the page cache, marked
// stale so that it is revalidated before being trusted.
func (e *Engine) restoreFolder(key pagecache.Key) bool {
	if e.store == nil {
		return false
	}
	fc, err := e.store.GetFolderContents(key.MailboxID, key.Sort)
	if err != nil {
		if !cache.IsNotFound(err) {
			e.log.Warnf("restore %s: %v", key, err)
		}
		return false
	}
	entry := &pagecache.Entry{
		Cursor:       fc.QueryState,
		Total:        fc.Total,
		NextPosition: fc.NextPosition,
		HasMore:      fc.HasMore,
		Stale:        true,
		FetchedAt:    e.now(),
	}
	entry.AppendPage(&pagecache.Page{Messages: fc.Messages})
	if entry.Check(key.Sort) != nil {
		e.log.Warnf("restore %s: dropping inconsistent snapshot", key)
		return false
	}
	e.log.Debugf("restored %s at %s", key, fc.QueryState)
	e.cache.Set(key, entry)
	return true
}

// persistFolder saves the first page of a cached list.
func (e *Engine) persistFolder(key pagecache.Key) {
	if e.store == nil {
		return
	}
	entry, ok := e.cache.Get(key)
	if !ok || entry.Empty() {
		return
	}
	head := entry.Pages[0]
	next := head.Position + len(head.Messages)
	fc := &cache.FolderContents{
		MailboxID:    key.MailboxID,
		Sort:         key.Sort,
		QueryState:   entry.Cursor,
		Total:        entry.Total,
		NextPosition: next,
		HasMore:      len(entry.Pages) > 1 || entry.HasMore,
		Messages:     head.Messages,
	}
	if err := e.store.PutFolderContents(fc); err != nil {
		e.log.Warnf("persist %s: %v", key, err)
	}
}

// forgetFolder drops the persisted head of a list that no longer matches the
// server, so that a restart does not restore it.
func (e *Engine) forgetFolder(key pagecache.Key) {
	if e.store == nil {
		return
	}
	if err := e.store.DeleteFolderContents(key.MailboxID, key.Sort); err != nil {
		e.log.Warnf("forget %s: %v", key, err)
	}
}
