package jmap

import (
	"fmt"
	"net/url"
	"strings"

	"git.sr.ht/~tbpro/tbmail/config"
	"git.sr.ht/~tbpro/tbmail/worker/jmap/cache"
)

// NewClient configures a client for acct. The source url scheme is jmap or
// jmap+oauthbearer, the path is the session endpoint, always reached over
// https.
func NewClient(acct *config.AccountConfig) (*Client, error) {
	c := newClient()
	if err := c.configure(acct); err != nil {
		return nil, err
	}
	c.cache = cache.NewJMAPCache(c.config.cacheState, acct.Name)
	return c, nil
}

func (c *Client) configure(acct *config.AccountConfig) error {
	c.config.cacheState = acct.CacheState
	if v, ok := acct.Params["cache-state"]; ok {
		c.config.cacheState = parseBool(v)
	}

	u, err := url.Parse(acct.Source)
	if err != nil {
		return err
	}
	if !strings.HasPrefix(u.Scheme, "jmap") {
		return fmt.Errorf("%s: unsupported scheme %q", acct.Name, u.Scheme)
	}

	if strings.HasSuffix(u.Scheme, "+oauthbearer") {
		c.config.oauth = true
		if u.User == nil {
			return fmt.Errorf("access token not specified")
		}
	} else {
		if u.User == nil {
			return fmt.Errorf("user:password not specified")
		} else if u.User.Username() == "" {
			return fmt.Errorf("username not specified")
		} else if _, ok := u.User.Password(); !ok {
			return fmt.Errorf("password not specified")
		}
	}

	u.RawQuery = ""
	u.Fragment = ""
	c.config.user = u.User
	u.User = nil
	u.Scheme = "https"

	c.config.endpoint = u.String()
	c.config.account = acct

	return nil
}

func parseBool(val string) bool {
	switch strings.ToLower(val) {
	case "1", "t", "true", "yes", "y", "on":
		return true
	}
	return false
}
