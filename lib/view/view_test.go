package view

import (
	"errors"
	"testing"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.sr.ht/~tbpro/tbmail/lib/pagecache"
	"git.sr.ht/~tbpro/tbmail/models"
)

func summary(id, subject, from string, seen bool) *models.MessageSummary {
	m := &models.MessageSummary{
		ID:       id,
		Subject:  subject,
		From:     []*mail.Address{{Name: from, Address: "x@example.org"}},
		Keywords: map[string]bool{},
	}
	if seen {
		m.Keywords[models.SeenKeyword] = true
	}
	return m
}

func subjects(s *Snapshot) []string {
	var res []string
	for _, m := range s.Messages {
		res = append(res, m.Subject)
	}
	return res
}

func TestFilterComposition(t *testing.T) {
	entry := &pagecache.Entry{Pages: []*pagecache.Page{{Messages: []*models.MessageSummary{
		summary("1", "Hi", "Alice", false),
		summary("2", "Bye", "Bob", true),
	}}}}
	mbox := &models.MailboxSummary{ID: "inbox", Role: models.InboxRole}

	tests := []struct {
		name  string
		query Query
		want  []string
	}{
		{"unread and text", Query{Filter: FilterUnread, Text: "hi"}, []string{"Hi"}},
		{"all", Query{}, []string{"Hi", "Bye"}},
		{"unread", Query{Filter: FilterUnread}, []string{"Hi"}},
		{"sender", Query{Text: "BOB"}, []string{"Bye"}},
		{"address", Query{Text: "example.org"}, []string{"Hi", "Bye"}},
		{"nothing", Query{Filter: FilterUnread, Text: "bye"}, nil},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			snap := Project(Input{Mailbox: mbox, Entry: entry, Query: test.query})
			assert.Equal(t, test.want, subjects(snap))
			assert.Equal(t, 2, snap.Loaded)
		})
	}
}

func TestCount(t *testing.T) {
	entry := &pagecache.Entry{Pages: []*pagecache.Page{{Messages: []*models.MessageSummary{
		summary("1", "a", "A", false),
	}}}}
	mbox := &models.MailboxSummary{ID: "inbox", TotalEmails: 7}

	assert.Equal(t, 1, Count(nil, entry))
	assert.Equal(t, 7, Count(mbox, entry))
	total := 12
	entry.Total = &total
	assert.Equal(t, 12, Count(mbox, entry))
	assert.Equal(t, 7, Count(mbox, nil))
	assert.Equal(t, 0, Count(nil, nil))

	// a known empty mailbox is not replaced by the loaded messages
	entry.Total = nil
	assert.Equal(t, 0, Count(&models.MailboxSummary{ID: "inbox"}, entry))
}

func TestProjectStatus(t *testing.T) {
	failure := errors.New("boom")
	mbox := &models.MailboxSummary{ID: "sent", Role: models.SentRole}
	snap := Project(Input{Mailbox: mbox, Loading: true, Err: failure})
	assert.Equal(t, "sent", snap.MailboxID)
	assert.Equal(t, models.SortSentAt, snap.Sort)
	assert.True(t, snap.Loading)
	assert.Equal(t, failure, snap.Err)
	assert.Empty(t, snap.Messages)

	entry := &pagecache.Entry{HasMore: true, Stale: true}
	snap = Project(Input{Mailbox: mbox, Entry: entry})
	assert.True(t, snap.HasMore)
	assert.True(t, snap.Stale)
}

func TestDetail(t *testing.T) {
	received := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	sent := received.Add(-time.Hour)
	m := summary("1", "  ", "Alice", false)
	m.To = []*mail.Address{{Address: "bob@example.org"}, {Name: "Carol", Address: "carol@example.org"}}
	m.ReceivedAt = received
	m.SentAt = sent
	m.Size = 2048
	m.Keywords[models.FlaggedKeyword] = true
	m.Keywords[models.AnsweredKeyword] = true
	entry := &pagecache.Entry{Pages: []*pagecache.Page{{Messages: []*models.MessageSummary{m}}}}

	d, ok := Detail(&models.MailboxSummary{Role: models.InboxRole}, entry, "1")
	require.True(t, ok)
	assert.Equal(t, NoSubject, d.Subject)
	assert.Equal(t, "Alice <x@example.org>", d.From)
	assert.Equal(t, "bob@example.org, Carol <carol@example.org>", d.To)
	assert.Equal(t, received, d.Date)
	assert.Equal(t, "$answered, $flagged", d.Flags)
	assert.Equal(t, "2048 bytes", d.Size)
	assert.True(t, d.Unread)

	d, ok = Detail(&models.MailboxSummary{Role: models.SentRole}, entry, "1")
	require.True(t, ok)
	assert.Equal(t, sent, d.Date)

	_, ok = Detail(nil, entry, "2")
	assert.False(t, ok)
	_, ok = Detail(nil, nil, "1")
	assert.False(t, ok)
}

func TestParseFilter(t *testing.T) {
	assert.Equal(t, FilterUnread, ParseFilter("Unread"))
	assert.Equal(t, FilterAll, ParseFilter("all"))
	assert.Equal(t, FilterAll, ParseFilter("bogus"))
	assert.Equal(t, "unread", FilterUnread.String())
}
