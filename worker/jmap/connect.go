package jmap

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"git.sr.ht/~rockorager/go-jmap"
	"git.sr.ht/~rockorager/go-jmap/mail"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"

	"git.sr.ht/~tbpro/tbmail/worker/types"
)

// spans go to the global provider, looked up on every request
const tracerName = "tbmail/jmap"

// Connect authenticates, reusing the cached session when there is one.
func (c *Client) Connect(ctx context.Context) error {
	c.sessMu.Lock()
	c.client = &jmap.Client{SessionEndpoint: c.config.endpoint}

	if c.config.oauth {
		pass, _ := c.config.user.Password()
		c.client.WithAccessToken(pass)
	} else {
		user := c.config.user.Username()
		pass, _ := c.config.user.Password()
		c.client.WithBasicAuth(user, pass)
	}

	if transport, ok := c.client.HttpClient.Transport.(*oauth2.Transport); ok {
		transport.Base = otelhttp.NewTransport(c.baseTransport())
	}

	if session, err := c.cache.GetSession(); err == nil {
		c.client.Session = session
	}
	cached := c.client.Session != nil
	c.sessMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if cached && c.AccountId() != "" {
		c.log.Debugf("reusing cached session for %s", c.config.endpoint)
		return nil
	}
	return c.UpdateSession()
}

func (c *Client) baseTransport() http.RoundTripper {
	if c.transport != nil {
		return c.transport
	}
	t := http.DefaultTransport.(*http.Transport).Clone()
	// Enable TCP keepalive to detect dead connections faster
	t.DialContext = (&net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 15 * time.Second,
	}).DialContext
	return t
}

func (c *Client) AccountId() jmap.ID {
	c.sessMu.RLock()
	defer c.sessMu.RUnlock()
	switch {
	case c.client == nil:
		fallthrough
	case c.client.Session == nil:
		fallthrough
	case c.client.Session.PrimaryAccounts == nil:
		return ""
	default:
		return c.client.Session.PrimaryAccounts[mail.URI]
	}
}

// UpdateSession fetches the session resource again and caches it.
func (c *Client) UpdateSession() error {
	c.sessMu.Lock()
	err := c.client.Authenticate()
	session := c.client.Session
	c.sessMu.Unlock()
	if err != nil {
		return &types.ConnectionError{Op: "authenticate", Err: err}
	}
	if err := c.cache.PutSession(session); err != nil {
		c.log.Warnf("PutSession: %s", err)
	}
	return nil
}

var seqnum uint64

// Do sends req. It is aborted when ctx is done or CancelAllRequests is
// called. Transport failures are retried once after refreshing the session
// in case an endpoint changed.
func (c *Client) Do(ctx context.Context, req *jmap.Request) (*jmap.Response, error) {
	if !c.connected() {
		return nil, types.ErrNotConnected
	}
	ctx, done := c.track(ctx)
	defer done()

	seq := atomic.AddUint64(&seqnum, 1)
	ctx, span := otel.Tracer(tracerName).Start(ctx, "jmap.request", trace.WithAttributes(
		attribute.Int64("jmap.seq", int64(seq)),
		attribute.StringSlice("jmap.methods", methodNames(req)),
		attribute.String("jmap.endpoint", c.config.endpoint),
	))
	defer span.End()
	req.Context = ctx

	body, _ := json.Marshal(req.Calls)
	c.log.Debugf(">%d> POST %s", seq, body)
	resp, err := c.do(req)
	if err != nil && ctx.Err() == nil {
		c.log.Debugf("<%d< %s", seq, err)
		if err := c.UpdateSession(); err != nil {
			return nil, fail(span, err)
		}
		resp, err = c.do(req)
	}
	if err != nil {
		c.log.Debugf("<%d< %s", seq, err)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fail(span, ctxErr)
		}
		return nil, fail(span, &types.ConnectionError{Op: "request", Err: err})
	}
	if resp.SessionState != c.sessionState() {
		if err := c.UpdateSession(); err != nil {
			return nil, fail(span, err)
		}
	}
	c.log.Debugf("<%d< done", seq)
	return resp, nil
}

func (c *Client) connected() bool {
	c.sessMu.RLock()
	defer c.sessMu.RUnlock()
	return c.client != nil
}

func (c *Client) do(req *jmap.Request) (*jmap.Response, error) {
	c.sessMu.RLock()
	defer c.sessMu.RUnlock()
	return c.client.Do(req)
}

func (c *Client) sessionState() string {
	c.sessMu.RLock()
	defer c.sessMu.RUnlock()
	if c.client.Session == nil {
		return ""
	}
	return c.client.Session.State
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

func methodNames(req *jmap.Request) []string {
	names := make([]string, 0, len(req.Calls))
	for _, inv := range req.Calls {
		names = append(names, inv.Name)
	}
	return names
}
