package cache

import (
	"git.sr.ht/~tbpro/tbmail/lib/log"
	"git.sr.ht/~tbpro/tbmail/models"
)

// FolderContents is the persisted head of a mailbox message list: enough to
// display it at startup and to ask the server what changed since.
type FolderContents struct {
	MailboxID    string
	Sort         models.SortProperty
	QueryState   string
	Total        *int
	NextPosition int
	HasMore      bool
	Messages     []*models.MessageSummary
}

func (c *JMAPCache) GetFolderContents(
	mailboxId string, sort models.SortProperty,
) (*FolderContents, error) {
	buf, err := c.get(folderContentsKey(mailboxId, sort))
	if err != nil {
		return nil, err
	}
	m := new(FolderContents)
	err = unmarshal(buf, m)
	if err != nil {
		log.Debugf("cache format has changed, purging foldercontents")
		if e := c.purge("foldercontents/"); e != nil {
			log.Errorf("foldercontents cache purge: %s", e)
		}
		return nil, err
	}
	return m, nil
}

func (c *JMAPCache) PutFolderContents(m *FolderContents) error {
	buf, err := marshal(m)
	if err != nil {
		return err
	}
	return c.put(folderContentsKey(m.MailboxID, m.Sort), buf)
}

func (c *JMAPCache) DeleteFolderContents(mailboxId string, sort models.SortProperty) error {
	return c.delete(folderContentsKey(mailboxId, sort))
}

// PurgeFolderContents drops the persisted lists of a mailbox for every sort.
func (c *JMAPCache) PurgeFolderContents(mailboxId string) error {
	return c.purge("foldercontents/" + mailboxId + "/")
}

func folderContentsKey(mailboxId string, sort models.SortProperty) string {
	return "foldercontents/" + mailboxId + "/" + string(sort)
}
