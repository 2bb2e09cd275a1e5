package jmap

import (
	"context"
	"fmt"

	"git.sr.ht/~rockorager/go-jmap"
	"git.sr.ht/~rockorager/go-jmap/mail/email"

	"git.sr.ht/~tbpro/tbmail/models"
)

func (c *Client) SetReadFlag(ctx context.Context, id string, read bool) error {
	var req jmap.Request

	patch := jmap.Patch{}
	path := fmt.Sprintf("keywords/%s", models.SeenKeyword)
	if read {
		patch[path] = true
	} else {
		patch[path] = nil
	}
	req.Invoke(&email.Set{
		Account: c.AccountId(),
		Update:  map[jmap.ID]jmap.Patch{jmap.ID(id): patch},
	})

	resp, err := c.Do(ctx, &req)
	if err != nil {
		return err
	}
	return checkNotUpdated(resp)
}

// DeleteOrArchive moves the message to trash. It is destroyed when there is
// no trash mailbox or when it is deleted from trash.
func (c *Client) DeleteOrArchive(ctx context.Context, id, fromMailboxID string) error {
	var req jmap.Request

	trash, _ := c.Special(models.TrashRole)
	patch := deletePatch(trash, fromMailboxID)
	if len(patch) == 0 {
		c.log.Debugf("destroying %s", id)
		req.Invoke(&email.Set{
			Account: c.AccountId(),
			Destroy: []jmap.ID{jmap.ID(id)},
		})
	} else {
		c.log.Debugf("moving %s to trash", id)
		req.Invoke(&email.Set{
			Account: c.AccountId(),
			Update:  map[jmap.ID]jmap.Patch{jmap.ID(id): patch},
		})
	}

	resp, err := c.Do(ctx, &req)
	if err != nil {
		return err
	}
	return checkNotUpdated(resp)
}

// deletePatch returns the mailboxIds patch moving a message from a mailbox
// to trash, or nil when the message must be destroyed instead.
func deletePatch(trash, from string) jmap.Patch {
	if trash == "" || trash == from {
		return nil
	}
	patch := jmap.Patch{mboxPatch(trash): true}
	if from != "" {
		patch[mboxPatch(from)] = nil
	}
	return patch
}

func mboxPatch(mbox string) string {
	return fmt.Sprintf("mailboxIds/%s", mbox)
}

func checkNotUpdated(resp *jmap.Response) error {
	for _, inv := range resp.Responses {
		switch r := inv.Args.(type) {
		case *email.SetResponse:
			for id, err := range r.NotUpdated {
				return wrapSetError(id, err)
			}
			for id, err := range r.NotDestroyed {
				return wrapSetError(id, err)
			}
		case *jmap.MethodError:
			return wrapMethodError(r)
		}
	}
	return nil
}
