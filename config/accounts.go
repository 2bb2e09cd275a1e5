package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"path"
	"reflect"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/go-ini/ini"

	"git.sr.ht/~tbpro/tbmail/lib/log"
)

type RemoteConfig struct {
	Value       string
	PasswordCmd string
}

func (c *RemoteConfig) parseValue() (*url.URL, error) {
	return url.Parse(c.Value)
}

func (c *RemoteConfig) ConnectionString() (string, error) {
	if c.Value == "" || c.PasswordCmd == "" {
		return c.Value, nil
	}

	u, err := c.parseValue()
	if err != nil {
		return "", err
	}

	// ignore the command if a password is specified
	if _, exists := u.User.Password(); exists {
		return c.Value, nil
	}

	cmd := exec.Command("sh", "-c", c.PasswordCmd)
	cmd.Stdin = os.Stdin
	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	pw := strings.TrimSpace(string(output))
	u.User = url.UserPassword(u.User.Username(), pw)

	return u.String(), nil
}

type AccountConfig struct {
	Name   string        `ini:"-"`
	Source string        `ini:"-"`
	From   *mail.Address `ini:"-"`
	// keys not known by this file
	Params map[string]string `ini:"-"`

	CacheState      bool          `ini:"cache-state"`
	PageSize        int           `ini:"page-size"`
	Prefetch        int           `ini:"prefetch"`
	RefreshInterval time.Duration `ini:"refresh-interval"`
	StaleAfter      time.Duration `ini:"stale-after"`
	EvictAfter      time.Duration `ini:"evict-after"`
	RequestTimeout  time.Duration `ini:"request-timeout"`
}

func defaultAccountConfig(name string) AccountConfig {
	return AccountConfig{
		Name:            name,
		Params:          make(map[string]string),
		PageSize:        100,
		Prefetch:        500,
		RefreshInterval: 30 * time.Second,
		StaleAfter:      30 * time.Second,
		EvictAfter:      5 * time.Minute,
		RequestTimeout:  30 * time.Second,
	}
}

func parseAccounts(root string, accts []string, unsafe bool) ([]*AccountConfig, error) {
	filename := path.Join(root, "accounts.conf")
	if !unsafe {
		if err := checkConfigPerms(filename); err != nil {
			return nil, err
		}
	}

	log.Debugf("Parsing accounts configuration from %s", filename)

	file, err := ini.Load(filename)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	file.NameMapper = mapName

	var accounts []*AccountConfig
	for _, _sec := range file.SectionStrings() {
		if _sec == "DEFAULT" {
			continue
		}
		if len(accts) > 0 && !contains(accts, _sec) {
			continue
		}
		account, err := parseAccount(file.Section(_sec))
		if err != nil {
			return nil, err
		}
		log.Debugf("accounts.conf: [%s] source = %s", account.Name, redact(account.Source))
		accounts = append(accounts, account)
	}
	if len(accts) > 0 && len(accounts) != len(accts) {
		return nil, errors.New("account(s) not found")
	}
	return accounts, nil
}

func parseAccount(sec *ini.Section) (*AccountConfig, error) {
	sourceRemoteConfig := RemoteConfig{}
	account := defaultAccountConfig(sec.Name())
	if err := sec.MapTo(&account); err != nil {
		return nil, err
	}
	known := make(map[string]bool)
	typ := reflect.TypeOf(account)
	for i := 0; i < typ.NumField(); i++ {
		if tag := typ.Field(i).Tag.Get("ini"); tag != "-" {
			known[tag] = true
		}
	}
	for key, val := range sec.KeysHash() {
		switch key {
		case "source":
			sourceRemoteConfig.Value = val
		case "source-cred-cmd":
			sourceRemoteConfig.PasswordCmd = val
		case "from":
			addr, err := mail.ParseAddress(val)
			if err != nil {
				return nil, fmt.Errorf("%s=%s %w", key, val, err)
			}
			account.From = addr
		default:
			if !known[key] {
				account.Params[key] = val
			}
		}
	}
	source, err := sourceRemoteConfig.ConnectionString()
	if err != nil {
		return nil, fmt.Errorf("Invalid source credentials for %s: %w", account.Name, err)
	}
	account.Source = source

	if account.Source == "" {
		return nil, fmt.Errorf("Expected source for account %s", account.Name)
	}
	if account.PageSize <= 0 {
		return nil, fmt.Errorf("%s: page-size must be positive", account.Name)
	}
	if account.Prefetch < account.PageSize {
		account.Prefetch = account.PageSize
	}
	return &account, nil
}

// redact hides the password of a source url for logging.
func redact(source string) string {
	u, err := url.Parse(source)
	if err != nil {
		return "<invalid>"
	}
	return u.Redacted()
}
