package types

import (
	"context"

	"git.sr.ht/~tbpro/tbmail/models"
)

// Client is the protocol client consumed by the sync engine. Every call may
// be aborted through its context or, collectively, by CancelAllRequests.
type Client interface {
	// Connect discovers the session and authenticates.
	Connect(ctx context.Context) error

	// ListMailboxes returns all mailboxes, ordered by sort order then name.
	ListMailboxes(ctx context.Context) ([]*models.MailboxSummary, error)

	// QueryMessageIDs returns one page of message ids of a mailbox.
	QueryMessageIDs(ctx context.Context, mailboxID string,
		sort models.SortProperty, position, limit int) (*QueryResult, error)

	// FetchMessageSummaries returns the summaries of ids with the given
	// properties. The order need not match ids and missing messages are
	// omitted.
	FetchMessageSummaries(ctx context.Context, ids []string,
		properties []string) ([]*models.MessageSummary, error)

	// QueryChangesSince returns what changed in a mailbox query since
	// cursor. It fails with ErrCursorExpired when the server can no longer
	// compute the changes.
	QueryChangesSince(ctx context.Context, mailboxID string,
		sort models.SortProperty, cursor string) (*Changes, error)

	SetReadFlag(ctx context.Context, id string, read bool) error

	// DeleteOrArchive moves a message to trash, or destroys it when there is
	// no trash mailbox or it already is in trash.
	DeleteOrArchive(ctx context.Context, id, fromMailboxID string) error

	// CancelAllRequests aborts all outstanding calls, best effort.
	CancelAllRequests()
}

type QueryResult struct {
	IDs      []string
	Position int
	// Total is nil when the server did not compute it.
	Total  *int
	Cursor string
}

// AddedItem is a message inserted in a query result at Index, computed
// against the result with all removals already applied.
type AddedItem struct {
	ID    string
	Index int
}

type Changes struct {
	Added     []AddedItem
	Removed   []string
	NewCursor string
	Total     *int
}

// IntPtr is a helper to fill optional totals.
func IntPtr(i int) *int {
	return &i
}
