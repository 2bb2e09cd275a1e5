// Package jmap implements the protocol client of the sync engine over
// go-jmap.
package jmap

import (
	"context"
	"net/http"
	"net/url"
	"sync"

	"git.sr.ht/~rockorager/go-jmap"

	"git.sr.ht/~tbpro/tbmail/config"
	"git.sr.ht/~tbpro/tbmail/lib/log"
	"git.sr.ht/~tbpro/tbmail/models"
	"git.sr.ht/~tbpro/tbmail/worker/jmap/cache"
	"git.sr.ht/~tbpro/tbmail/worker/types"
)

var _ types.Client = (*Client)(nil)

type Client struct {
	config struct {
		account    *config.AccountConfig
		endpoint   string
		oauth      bool
		user       *url.Userinfo
		cacheState bool
	}

	log   log.Logger
	cache *cache.JMAPCache
	// under the authentication, a keepalive tuned transport when nil
	transport http.RoundTripper

	// guards the session, replaced on re-authentication
	sessMu sync.RWMutex
	client *jmap.Client

	mu sync.Mutex
	// cancel funcs of in-flight requests
	inflight map[uint64]context.CancelFunc
	nextReq  uint64
	// mailbox ids by role, resolved on every mailbox listing
	special map[models.Role]string
}

func newClient() *Client {
	return &Client{
		log:      log.NewLogger("jmap", 2),
		inflight: make(map[uint64]context.CancelFunc),
		special:  make(map[models.Role]string),
	}
}

// Cache returns the state cache of the account, shared with the engine.
func (c *Client) Cache() *cache.JMAPCache {
	return c.cache
}

// Special returns the id of the mailbox with the given role, if known.
func (c *Client) Special(role models.Role) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.special[role]
	return id, ok
}

// track registers the cancel func of a request so that CancelAllRequests
// can abort it. The returned func must be called when the request is over.
func (c *Client) track(ctx context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.nextReq++
	id := c.nextReq
	c.inflight[id] = cancel
	c.mu.Unlock()
	return ctx, func() {
		c.mu.Lock()
		delete(c.inflight, id)
		c.mu.Unlock()
		cancel()
	}
}

func (c *Client) CancelAllRequests() {
	c.mu.Lock()
	n := len(c.inflight)
	for id, cancel := range c.inflight {
		cancel()
		delete(c.inflight, id)
	}
	c.mu.Unlock()
	if n > 0 {
		c.log.Debugf("cancelled %d requests", n)
	}
}
