package mailsync

import (
	"context"

	"git.sr.ht/~tbpro/tbmail/models"
	"git.sr.ht/~tbpro/tbmail/worker/types"
)

func (e *Engine) setState(state ConnState, err error) {
	e.mu.Lock()
	e.state = state
	e.connErr = err
	e.mu.Unlock()
	e.notify()
}

// Connect authenticates, lists the mailboxes, starts the periodic refresh
// and opens the inbox, or the mailbox that was active before a
// reconnection. When a store is configured, the persisted mailbox list is
// published before the first round trip.
//
// A failure of the client Connect or of the mailbox listing leaves the
// engine Disconnected with the error kept for display. A failure to load
// the active mailbox is returned but the engine stays Connected.
func (e *Engine) Connect(ctx context.Context) error {
	e.mu.Lock()
	if e.state != Disconnected {
		e.mu.Unlock()
		return nil
	}
	e.state = Connecting
	e.connErr = nil
	warm := len(e.mailboxes) == 0
	e.mu.Unlock()
	e.notify()

	if warm {
		e.restoreMailboxes()
	}

	cctx, cancel := e.call(ctx)
	err := e.client.Connect(cctx)
	cancel()
	if err != nil {
		e.log.Errorf("connect: %v", err)
		e.setState(Disconnected, err)
		return err
	}
	if err := e.RefreshMailboxes(ctx); err != nil {
		e.log.Errorf("list mailboxes: %v", err)
		e.setState(Disconnected, err)
		return err
	}

	e.mu.Lock()
	target := e.active
	if target == "" || e.mailboxLocked(target) == nil {
		target = inboxOf(e.mailboxes)
	}
	e.active = ""
	e.state = Connected
	e.mu.Unlock()
	e.notify()
	e.log.Infof("connected, opening %q", target)
	e.Start()

	if target == "" {
		return nil
	}
	return e.SwitchMailbox(ctx, target)
}

// inboxOf returns the id of the inbox: by role, then by name, then the
// first mailbox.
func inboxOf(mboxes []*models.MailboxSummary) string {
	for _, mbox := range mboxes {
		if mbox.Role == models.InboxRole {
			return mbox.ID
		}
	}
	for _, mbox := range mboxes {
		if mbox.Name == "Inbox" || mbox.Name == "INBOX" {
			return mbox.ID
		}
	}
	if len(mboxes) > 0 {
		return mboxes[0].ID
	}
	return ""
}

// Disconnect stops the periodic refresh, aborts every load in flight and
// moves to Disconnected. Cached message lists are kept.
func (e *Engine) Disconnect() {
	e.Stop()
	e.mu.Lock()
	for id, tr := range e.transitions {
		tr.cancel()
		delete(e.transitions, id)
	}
	e.state = Disconnected
	e.connErr = nil
	e.mu.Unlock()
	e.client.CancelAllRequests()
	e.wg.Wait()
	e.notify()
}

// RefreshMailboxes replaces the mailbox list and its counters with the
// server's. Message lists of mailboxes that disappeared are dropped.
func (e *Engine) RefreshMailboxes(ctx context.Context) error {
	cctx, cancel := e.call(ctx)
	defer cancel()
	list, err := e.client.ListMailboxes(cctx)
	if err != nil {
		return err
	}
	models.SortMailboxes(list)

	e.mu.Lock()
	previous := e.mailboxes
	e.mailboxes = list
	e.mu.Unlock()

	current := make(map[string]bool, len(list))
	for _, mbox := range list {
		current[mbox.ID] = true
	}
	for _, mbox := range previous {
		if !current[mbox.ID] {
			e.log.Debugf("mailbox %s (%s) is gone", mbox.ID, mbox.Name)
			e.cache.DeleteMailbox(mbox.ID)
			e.forget(mbox.ID)
		}
	}
	e.persistMailboxes(list)
	e.notify()
	return nil
}

// requireOnline returns ErrNotConnected unless the engine is connected.
func (e *Engine) requireOnline() error {
	state, _ := e.State()
	if !state.Online() {
		return types.ErrNotConnected
	}
	return nil
}
