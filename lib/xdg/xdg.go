package xdg

import (
	"os"
	"os/user"
	"path/filepath"
	"strings"
)

// assign to a local var to allow mocking in unit tests
var currentUser = user.Current

// HomeDir returns $HOME, falling back on the passwd entry of the current user.
func HomeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		if u, e := currentUser(); e == nil {
			home = u.HomeDir
		}
	}
	return home
}

// ExpandHome joins fragments and replaces a leading ~ with the home dir.
func ExpandHome(fragments ...string) string {
	res := filepath.Join(fragments...)
	if strings.HasPrefix(res, "~/") || res == "~" {
		res = HomeDir() + strings.TrimPrefix(res, "~")
	}
	return res
}

// CachePath returns paths relative to $XDG_CACHE_HOME. Absolute paths are
// returned as is.
func CachePath(paths ...string) string {
	return under("XDG_CACHE_HOME", os.UserCacheDir, "~/.cache", paths)
}

// ConfigPath returns paths relative to $XDG_CONFIG_HOME. Absolute paths are
// returned as is.
func ConfigPath(paths ...string) string {
	return under("XDG_CONFIG_HOME", os.UserConfigDir, "~/.config", paths)
}

func under(env string, lookup func() (string, error), fallback string, paths []string) string {
	res := filepath.Join(paths...)
	if filepath.IsAbs(res) {
		return res
	}
	base := os.Getenv(env)
	if base == "" {
		var err error
		base, err = lookup()
		if err != nil {
			base = ExpandHome(fallback)
		}
	}
	return filepath.Join(base, res)
}
