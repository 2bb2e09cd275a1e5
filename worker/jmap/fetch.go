package jmap

import (
	"context"

	"git.sr.ht/~rockorager/go-jmap"
	"git.sr.ht/~rockorager/go-jmap/mail/email"

	"git.sr.ht/~tbpro/tbmail/models"
	"git.sr.ht/~tbpro/tbmail/worker/types"
)

func (c *Client) QueryMessageIDs(
	ctx context.Context, mailboxID string, sort models.SortProperty,
	position, limit int,
) (*types.QueryResult, error) {
	var req jmap.Request

	req.Invoke(&email.Query{
		Account:        c.AccountId(),
		Filter:         &email.FilterCondition{InMailbox: jmap.ID(mailboxID)},
		Sort:           translateSort(sort),
		Position:       int64(position),
		Limit:          uint64(limit),
		CalculateTotal: true,
	})
	resp, err := c.Do(ctx, &req)
	if err != nil {
		return nil, err
	}

	for _, inv := range resp.Responses {
		switch r := inv.Args.(type) {
		case *email.QueryResponse:
			ids := fromIDs(r.IDs)
			res := &types.QueryResult{
				IDs:      ids,
				Position: int(r.Position),
				Cursor:   r.QueryState,
				Total:    queryTotal(int(r.Total), int(r.Position), len(ids)),
			}
			if !r.CanCalculateChanges {
				c.log.Debugf("%s: server cannot calculate changes", mailboxID)
			}
			return res, nil
		case *jmap.MethodError:
			return nil, wrapMethodError(r)
		}
	}
	return nil, &types.ConnectionError{Op: "Email/query", Err: errNoResponse}
}

// queryTotal tells a zero total from a total the server did not compute: a
// query that returned ids or started past the head cannot be empty.
func queryTotal(total, position, n int) *int {
	if total == 0 && (n > 0 || position > 0) {
		return nil
	}
	return types.IntPtr(total)
}

func (c *Client) FetchMessageSummaries(
	ctx context.Context, ids []string, properties []string,
) ([]*models.MessageSummary, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	if len(properties) == 0 {
		properties = models.SummaryProperties
	}
	var req jmap.Request

	req.Invoke(&email.Get{
		Account:    c.AccountId(),
		IDs:        toIDs(ids),
		Properties: properties,
	})
	resp, err := c.Do(ctx, &req)
	if err != nil {
		return nil, err
	}

	var res []*models.MessageSummary
	for _, inv := range resp.Responses {
		switch r := inv.Args.(type) {
		case *email.GetResponse:
			for _, m := range r.List {
				res = append(res, translateMsgSummary(m))
			}
			if len(r.NotFound) > 0 {
				c.log.Debugf("Email/get: %d messages not found", len(r.NotFound))
			}
		case *jmap.MethodError:
			return nil, wrapMethodError(r)
		}
	}
	return res, nil
}
