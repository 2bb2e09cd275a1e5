package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"

	"git.sr.ht/~tbpro/tbmail/models"
)

// resolveMailbox finds the mailbox designated by search: an exact id, an
// exact name ignoring case, or the best fuzzy name match.
func resolveMailbox(mboxes []*models.MailboxSummary, search string) (string, error) {
	names := make([]string, 0, len(mboxes))
	byName := make(map[string]string, len(mboxes))
	for _, mbox := range mboxes {
		if mbox.ID == search {
			return mbox.ID, nil
		}
		if strings.EqualFold(mbox.Name, search) {
			return mbox.ID, nil
		}
		if _, ok := byName[mbox.Name]; !ok {
			names = append(names, mbox.Name)
			byName[mbox.Name] = mbox.ID
		}
	}
	ranks := fuzzy.RankFindFold(search, names)
	if len(ranks) == 0 {
		return "", fmt.Errorf("%s: no such mailbox", search)
	}
	sort.Stable(ranks)
	return byName[ranks[0].Target], nil
}
