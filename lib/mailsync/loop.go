package mailsync

import (
	"context"
	"time"

	"git.sr.ht/~tbpro/tbmail/lib/log"
)

type refreshLoop struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Start runs PeriodicRefresh on every refresh interval and after every
// Focus call, until Stop. Starting a running engine does nothing.
func (e *Engine) Start() {
	e.loopMu.Lock()
	defer e.loopMu.Unlock()
	if e.loop != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	loop := &refreshLoop{cancel: cancel, done: make(chan struct{})}
	e.loop = loop

	go func() {
		defer log.PanicHandler()
		defer close(loop.done)
		ticker := time.NewTicker(e.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			case <-e.focus:
				e.log.Tracef("focus regained")
			}
			e.PeriodicRefresh(ctx)
		}
	}()
}

// Stop ends the refresh loop and waits for a refresh in progress to abort.
func (e *Engine) Stop() {
	e.loopMu.Lock()
	loop := e.loop
	e.loop = nil
	e.loopMu.Unlock()
	if loop == nil {
		return
	}
	loop.cancel()
	<-loop.done
}

// Focus schedules a refresh, as when the user comes back to the client.
// Focus events received while one is pending are merged.
func (e *Engine) Focus() {
	select {
	case e.focus <- struct{}{}:
	default:
	}
}
