package config

import (
	"errors"
	"fmt"
	"os"
	"path"
	"unicode"

	"github.com/go-ini/ini"

	"git.sr.ht/~tbpro/tbmail/lib/log"
	"git.sr.ht/~tbpro/tbmail/lib/xdg"
)

type TbmailConfig struct {
	General  GeneralConfig
	Accounts []*AccountConfig
}

// LoadConfigFromFile reads tbmail.conf and accounts.conf from root, or from
// $XDG_CONFIG_HOME/tbmail when root is nil. Only the named accounts are
// loaded when accts is not empty.
func LoadConfigFromFile(root *string, accts []string) (*TbmailConfig, error) {
	if root == nil {
		dir := xdg.ConfigPath("tbmail")
		root = &dir
	}
	config := &TbmailConfig{General: defaultGeneralConfig()}

	filename := path.Join(*root, "tbmail.conf")
	file, err := ini.LoadSources(ini.LoadOptions{
		KeyValueDelimiters: "=",
		Loose:              true,
	}, filename)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	file.NameMapper = mapName
	if err := config.parseGeneral(file); err != nil {
		return nil, err
	}
	log.Debugf("tbmail.conf: [general] %#v", config.General)

	accounts, err := parseAccounts(*root, accts, config.General.UnsafeAccountsConf)
	if err != nil {
		return nil, err
	}
	config.Accounts = accounts
	return config, nil
}

// Account returns the named account, or the first one when name is empty.
func (c *TbmailConfig) Account(name string) (*AccountConfig, error) {
	if len(c.Accounts) == 0 {
		return nil, errors.New("no account configured")
	}
	if name == "" {
		return c.Accounts[0], nil
	}
	for _, acct := range c.Accounts {
		if acct.Name == name {
			return acct, nil
		}
	}
	return nil, fmt.Errorf("account %q not found", name)
}

func mapName(raw string) string {
	newstr := make([]rune, 0, len(raw))
	for i, chr := range raw {
		if isUpper := 'A' <= chr && chr <= 'Z'; isUpper {
			if i > 0 {
				newstr = append(newstr, '-')
			}
		}
		newstr = append(newstr, unicode.ToLower(chr))
	}
	return string(newstr)
}

// checkConfigPerms checks for too open permissions
// printing the fix on stdout and returning an error
func checkConfigPerms(filename string) error {
	info, err := os.Stat(filename)
	if errors.Is(err, os.ErrNotExist) {
		return nil // disregard absent files
	}
	if err != nil {
		return err
	}

	perms := info.Mode().Perm()
	// group or others have read access
	if perms&0o44 != 0 {
		fmt.Fprintf(os.Stderr, "The file %v has too open permissions.\n", filename)
		fmt.Fprintln(os.Stderr, "This is a security issue (it contains passwords).")
		fmt.Fprintf(os.Stderr, "To fix it, run `chmod 600 %v`\n", filename)
		return errors.New("account.conf permissions too lax")
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
