package cache

import (
	"git.sr.ht/~tbpro/tbmail/models"
)

// MailboxList is the last known mailbox list, shown before the first
// round trip to the server completes.
type MailboxList struct {
	Mailboxes []*models.MailboxSummary
}

func (c *JMAPCache) GetMailboxList() (*MailboxList, error) {
	buf, err := c.get(mailboxListKey)
	if err != nil {
		return nil, err
	}
	list := new(MailboxList)
	err = unmarshal(buf, list)
	if err != nil {
		return nil, err
	}
	return list, nil
}

func (c *JMAPCache) PutMailboxList(list *MailboxList) error {
	buf, err := marshal(list)
	if err != nil {
		return err
	}
	return c.put(mailboxListKey, buf)
}

const mailboxListKey = "mailbox/list"
