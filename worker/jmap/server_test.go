package jmap

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"git.sr.ht/~tbpro/tbmail/config"
	"git.sr.ht/~tbpro/tbmail/models"
	"git.sr.ht/~tbpro/tbmail/worker/jmap/cache"
	"git.sr.ht/~tbpro/tbmail/worker/types"
)

// method answers one method call with the name and arguments of the
// response.
type method func(args map[string]any) (string, any)

type call struct {
	name string
	args map[string]any
}

// jmapServer is a minimal JMAP server: a session resource and an api
// endpoint dispatching method calls to handlers.
type jmapServer struct {
	srv *httptest.Server

	mu       sync.Mutex
	state    string
	status   int
	methods  map[string]method
	calls    []call
	sessions int
	auth     string
}

func newJMAPServer(t *testing.T) *jmapServer {
	t.Helper()
	s := &jmapServer{
		state:   "S1",
		status:  http.StatusOK,
		methods: make(map[string]method),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/session", s.session)
	mux.HandleFunc("/api", s.api)
	s.srv = httptest.NewTLSServer(mux)
	t.Cleanup(s.srv.Close)
	return s
}

func (s *jmapServer) session(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.sessions++
	s.auth = r.Header.Get("Authorization")
	state := s.state
	s.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"capabilities": map[string]any{
			"urn:ietf:params:jmap:core": map[string]any{},
			"urn:ietf:params:jmap:mail": map[string]any{},
		},
		"accounts": map[string]any{
			"A1": map[string]any{
				"name":                "bob",
				"isPersonal":          true,
				"accountCapabilities": map[string]any{},
			},
		},
		"primaryAccounts": map[string]string{
			"urn:ietf:params:jmap:mail": "A1",
		},
		"username": "bob",
		"apiUrl":   s.srv.URL + "/api",
		"state":    state,
	})
}

func (s *jmapServer) api(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Calls []json.RawMessage `json:"methodCalls"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	status := s.status
	state := s.state
	var responses []any
	for _, raw := range req.Calls {
		var inv []json.RawMessage
		var name, id string
		args := map[string]any{}
		if json.Unmarshal(raw, &inv) != nil || len(inv) != 3 {
			continue
		}
		_ = json.Unmarshal(inv[0], &name)
		_ = json.Unmarshal(inv[1], &args)
		_ = json.Unmarshal(inv[2], &id)
		s.calls = append(s.calls, call{name: name, args: args})
		fn, ok := s.methods[name]
		if !ok {
			responses = append(responses, []any{"error",
				map[string]string{"type": "unknownMethod"}, id})
			continue
		}
		respName, resp := fn(args)
		responses = append(responses, []any{respName, resp, id})
	}
	s.mu.Unlock()

	if status != http.StatusOK {
		http.Error(w, "unavailable", status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"methodResponses": responses,
		"sessionState":    state,
	})
}

func (s *jmapServer) handle(name string, fn method) {
	s.mu.Lock()
	s.methods[name] = fn
	s.mu.Unlock()
}

func (s *jmapServer) set(fn func(s *jmapServer)) {
	s.mu.Lock()
	fn(s)
	s.mu.Unlock()
}

func (s *jmapServer) lastCall(t *testing.T) call {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(t, s.calls)
	return s.calls[len(s.calls)-1]
}

func (s *jmapServer) counts() (sessions int, calls int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions, len(s.calls)
}

// dial returns a client configured for the server, sharing store.
func (s *jmapServer) dial(t *testing.T, store *cache.JMAPCache) *Client {
	t.Helper()
	host := strings.TrimPrefix(s.srv.URL, "https://")
	c := newClient()
	require.NoError(t, c.configure(&config.AccountConfig{
		Name:   "test",
		Source: "jmap://bob:secret@" + host + "/session",
	}))
	c.cache = store
	c.transport = s.srv.Client().Transport
	return c
}

func (s *jmapServer) connect(t *testing.T) *Client {
	t.Helper()
	c := s.dial(t, cache.NewJMAPCache(false, "test"))
	require.NoError(t, c.Connect(context.Background()))
	return c
}

func TestConnectSession(t *testing.T) {
	s := newJMAPServer(t)
	store := cache.NewJMAPCache(false, "test")

	c := s.dial(t, store)
	require.NoError(t, c.Connect(context.Background()))
	assert.Equal(t, "A1", string(c.AccountId()))
	sessions, _ := s.counts()
	assert.Equal(t, 1, sessions)
	s.set(func(s *jmapServer) {
		assert.True(t, strings.HasPrefix(s.auth, "Basic "), s.auth)
	})

	// the cached session is reused
	c = s.dial(t, store)
	require.NoError(t, c.Connect(context.Background()))
	assert.Equal(t, "A1", string(c.AccountId()))
	sessions, _ = s.counts()
	assert.Equal(t, 1, sessions)
}

func TestQueryMessageIDsServer(t *testing.T) {
	s := newJMAPServer(t)
	c := s.connect(t)

	s.handle("Email/query", func(args map[string]any) (string, any) {
		if args["position"] != nil {
			// past the end, total not computed
			return "Email/query", map[string]any{
				"accountId":  "A1",
				"queryState": "q1",
				"position":   100,
			}
		}
		return "Email/query", map[string]any{
			"accountId":           "A1",
			"queryState":          "q1",
			"canCalculateChanges": true,
			"ids":                 []string{"m1", "m2"},
			"total":               2,
		}
	})
	res, err := c.QueryMessageIDs(context.Background(), "inbox", models.SortReceivedAt, 0, 50)
	require.NoError(t, err)
	assert.Equal(t, []string{"m1", "m2"}, res.IDs)
	assert.Equal(t, "q1", res.Cursor)
	require.NotNil(t, res.Total)
	assert.Equal(t, 2, *res.Total)

	args := s.lastCall(t).args
	assert.Equal(t, "A1", args["accountId"])
	assert.Equal(t, map[string]any{"inMailbox": "inbox"}, args["filter"])
	assert.Equal(t, []any{map[string]any{
		"property": "receivedAt", "isAscending": false,
	}}, args["sort"])
	assert.Equal(t, true, args["calculateTotal"])
	assert.EqualValues(t, 50, args["limit"])

	res, err = c.QueryMessageIDs(context.Background(), "inbox", models.SortReceivedAt, 100, 50)
	require.NoError(t, err)
	assert.Empty(t, res.IDs)
	assert.Equal(t, 100, res.Position)
	assert.Nil(t, res.Total)
}

func TestQueryChangesSinceServer(t *testing.T) {
	s := newJMAPServer(t)
	c := s.connect(t)

	s.handle("Email/queryChanges", func(args map[string]any) (string, any) {
		if args["sinceQueryState"] == "old" {
			return "error", map[string]any{"type": "tooManyChanges"}
		}
		return "Email/queryChanges", map[string]any{
			"accountId":     "A1",
			"oldQueryState": "q1",
			"newQueryState": "q2",
			"removed":       []string{"m1"},
			"added":         []map[string]any{{"id": "m3", "index": 0}},
		}
	})
	changes, err := c.QueryChangesSince(context.Background(), "inbox", models.SortReceivedAt, "q1")
	require.NoError(t, err)
	assert.Equal(t, []string{"m1"}, changes.Removed)
	assert.Equal(t, []types.AddedItem{{ID: "m3", Index: 0}}, changes.Added)
	assert.Equal(t, "q2", changes.NewCursor)
	assert.Nil(t, changes.Total)

	args := s.lastCall(t).args
	assert.Equal(t, "q1", args["sinceQueryState"])
	assert.EqualValues(t, MaxChanges, args["maxChanges"])

	_, err = c.QueryChangesSince(context.Background(), "inbox", models.SortReceivedAt, "old")
	assert.ErrorIs(t, err, types.ErrCursorExpired)
}

func TestSetReadFlagServer(t *testing.T) {
	s := newJMAPServer(t)
	c := s.connect(t)

	s.handle("Email/set", func(args map[string]any) (string, any) {
		update, _ := args["update"].(map[string]any)
		if _, ok := update["locked"]; ok {
			return "Email/set", map[string]any{
				"accountId": "A1",
				"notUpdated": map[string]any{
					"locked": map[string]any{"type": "forbidden", "description": "read only"},
				},
			}
		}
		return "Email/set", map[string]any{
			"accountId": "A1",
			"updated":   map[string]any{"m1": nil},
		}
	})
	require.NoError(t, c.SetReadFlag(context.Background(), "m1", true))
	assert.Equal(t, map[string]any{
		"m1": map[string]any{"keywords/$seen": true},
	}, s.lastCall(t).args["update"])

	require.NoError(t, c.SetReadFlag(context.Background(), "m1", false))
	assert.Equal(t, map[string]any{
		"m1": map[string]any{"keywords/$seen": nil},
	}, s.lastCall(t).args["update"])

	err := c.SetReadFlag(context.Background(), "locked", true)
	var rejected *types.MutationRejected
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, "locked", rejected.ID)
	assert.Equal(t, "forbidden", rejected.Type)
	assert.Equal(t, "read only", rejected.Reason)
}

func TestDeleteOrArchiveServer(t *testing.T) {
	s := newJMAPServer(t)
	c := s.connect(t)

	s.handle("Mailbox/get", func(map[string]any) (string, any) {
		return "Mailbox/get", map[string]any{
			"accountId": "A1",
			"list": []map[string]any{
				{"id": "in", "name": "Inbox", "role": "inbox"},
				{"id": "bin", "name": "Corbeille", "role": "trash"},
			},
		}
	})
	s.handle("Email/set", func(args map[string]any) (string, any) {
		if args["destroy"] != nil {
			return "Email/set", map[string]any{
				"accountId": "A1",
				"notDestroyed": map[string]any{
					"m1": map[string]any{"type": "notFound"},
				},
			}
		}
		return "Email/set", map[string]any{
			"accountId": "A1",
			"updated":   map[string]any{"m1": nil},
		}
	})
	_, err := c.ListMailboxes(context.Background())
	require.NoError(t, err)

	require.NoError(t, c.DeleteOrArchive(context.Background(), "m1", "in"))
	assert.Equal(t, map[string]any{
		"m1": map[string]any{"mailboxIds/bin": true, "mailboxIds/in": nil},
	}, s.lastCall(t).args["update"])

	err = c.DeleteOrArchive(context.Background(), "m1", "bin")
	assert.Equal(t, []any{"m1"}, s.lastCall(t).args["destroy"])
	assert.True(t, types.IsMutationRejected(err))
	assert.EqualError(t, err, "m1: rejected: notFound")
}

func TestDoSessionChanges(t *testing.T) {
	s := newJMAPServer(t)
	c := s.connect(t)
	s.handle("Mailbox/get", func(map[string]any) (string, any) {
		return "Mailbox/get", map[string]any{"accountId": "A1"}
	})

	s.set(func(s *jmapServer) { s.state = "S2" })
	_, err := c.ListMailboxes(context.Background())
	require.NoError(t, err)
	sessions, _ := s.counts()
	assert.Equal(t, 2, sessions)
	assert.Equal(t, "S2", c.sessionState())
}

func TestDoServerFailure(t *testing.T) {
	s := newJMAPServer(t)
	c := s.connect(t)
	s.set(func(s *jmapServer) { s.status = http.StatusServiceUnavailable })

	_, err := c.ListMailboxes(context.Background())
	assert.True(t, types.IsConnectionError(err), "%v", err)
	// retried once after refreshing the session
	sessions, calls := s.counts()
	assert.Equal(t, 2, sessions)
	assert.Equal(t, 2, calls)
}

func TestDoTracing(t *testing.T) {
	prev := otel.GetTracerProvider()
	recorder := tracetest.NewSpanRecorder()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)))
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	s := newJMAPServer(t)
	c := s.connect(t)
	s.handle("Email/query", func(map[string]any) (string, any) {
		return "error", map[string]any{"type": "unsupportedFilter"}
	})
	_, err := c.QueryMessageIDs(context.Background(), "inbox", models.SortReceivedAt, 0, 10)
	require.EqualError(t, err, "unsupportedFilter")

	var request sdktrace.ReadOnlySpan
	var posts []sdktrace.ReadOnlySpan
	for _, span := range recorder.Ended() {
		switch span.Name() {
		case "jmap.request":
			request = span
		case "HTTP POST":
			posts = append(posts, span)
		}
	}
	require.NotNil(t, request)
	assert.Contains(t, request.Attributes(),
		attribute.StringSlice("jmap.methods", []string{"Email/query"}))
	require.Len(t, posts, 1)
	assert.Equal(t, request.SpanContext().SpanID(), posts[0].Parent().SpanID())
}
