package models

import (
	"strings"

	"github.com/emersion/go-message/mail"
)

// FormatAddress renders "Name <addr>", or just the address when there is no
// display name. Empty addresses render as "".
func FormatAddress(addr *mail.Address) string {
	if addr == nil {
		return ""
	}
	email := strings.TrimSpace(addr.Address)
	if email == "" {
		return ""
	}
	name := strings.TrimSpace(addr.Name)
	if name == "" {
		return email
	}
	return name + " <" + email + ">"
}

func FormatAddresses(addrs []*mail.Address) string {
	parts := make([]string, 0, len(addrs))
	for _, a := range addrs {
		if s := FormatAddress(a); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, ", ")
}
