package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/mattn/go-runewidth"

	"git.sr.ht/~tbpro/tbmail/lib/view"
	"git.sr.ht/~tbpro/tbmail/models"
)

const (
	fromWidth    = 24
	subjectWidth = 50
	dateFormat   = "2006-01-02 15:04"
)

type printer struct {
	w     io.Writer
	limit int
}

func newPrinter(w io.Writer, limit int) *printer {
	return &printer{w: w, limit: limit}
}

// column truncates or pads s to exactly width cells.
func column(s string, width int) string {
	s = strings.Join(strings.Fields(s), " ")
	return runewidth.FillRight(runewidth.Truncate(s, width, "…"), width)
}

func (p *printer) Print(mboxes []*models.MailboxSummary, active string, snap *view.Snapshot) {
	for _, mbox := range mboxes {
		marker := " "
		if mbox.ID == active {
			marker = ">"
		}
		unread := ""
		if mbox.UnreadEmails > 0 {
			unread = fmt.Sprintf(" (%d)", mbox.UnreadEmails)
		}
		fmt.Fprintf(p.w, "%s %s%s\n", marker, mbox.Name, unread)
	}
	fmt.Fprintln(p.w)
	fmt.Fprintln(p.w, status(snap))

	for i, m := range snap.Messages {
		if p.limit > 0 && i >= p.limit {
			fmt.Fprintf(p.w, "  ... %d more\n", len(snap.Messages)-i)
			break
		}
		flag := " "
		if !m.IsSeen() {
			flag = "N"
		}
		subject := m.Subject
		if strings.TrimSpace(subject) == "" {
			subject = view.NoSubject
		}
		fmt.Fprintf(p.w, "%s %s  %s  %s  %s\n", flag,
			m.Date(snap.Sort).Local().Format(dateFormat),
			column(m.FromText(), fromWidth),
			column(subject, subjectWidth),
			m.ID)
	}
}

func status(snap *view.Snapshot) string {
	var parts []string
	parts = append(parts, fmt.Sprintf("%d messages", snap.Count))
	if snap.Loaded < snap.Count {
		parts = append(parts, fmt.Sprintf("%d loaded", snap.Loaded))
	}
	if snap.Loading {
		parts = append(parts, "loading")
	}
	if snap.Stale {
		parts = append(parts, "stale")
	}
	if snap.Err != nil {
		parts = append(parts, "error: "+snap.Err.Error())
	}
	return strings.Join(parts, ", ")
}
