package jmap

import (
	"context"
	"errors"

	"git.sr.ht/~rockorager/go-jmap"
	"git.sr.ht/~rockorager/go-jmap/mail/email"

	"git.sr.ht/~tbpro/tbmail/models"
	"git.sr.ht/~tbpro/tbmail/worker/types"
)

// MaxChanges bounds the size of a delta. Servers answer with
// tooManyChanges past it and the mailbox is reloaded.
const MaxChanges = 500

var errNoResponse = errors.New("no response")

func (c *Client) QueryChangesSince(
	ctx context.Context, mailboxID string, sort models.SortProperty, cursor string,
) (*types.Changes, error) {
	var req jmap.Request

	req.Invoke(&email.QueryChanges{
		Account:         c.AccountId(),
		Filter:          &email.FilterCondition{InMailbox: jmap.ID(mailboxID)},
		Sort:            translateSort(sort),
		SinceQueryState: cursor,
		MaxChanges:      MaxChanges,
	})
	resp, err := c.Do(ctx, &req)
	if err != nil {
		return nil, err
	}

	for _, inv := range resp.Responses {
		switch r := inv.Args.(type) {
		case *email.QueryChangesResponse:
			changes := &types.Changes{
				Removed:   fromIDs(r.Removed),
				NewCursor: r.NewQueryState,
			}
			for _, add := range r.Added {
				changes.Added = append(changes.Added, types.AddedItem{
					ID:    string(add.ID),
					Index: int(add.Index),
				})
			}
			// the engine shifts its own total
			c.log.Debugf("%s: %d added, %d removed since %s",
				mailboxID, len(changes.Added), len(changes.Removed), cursor)
			return changes, nil
		case *jmap.MethodError:
			return nil, wrapMethodError(r)
		}
	}
	return nil, &types.ConnectionError{Op: "Email/queryChanges", Err: errNoResponse}
}
