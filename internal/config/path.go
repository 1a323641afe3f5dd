package config

import (
	"os"
	"path/filepath"
	"strings"
)

const appDir = "keywatch"

// DefaultDataDir picks the data directory for the pebble backend. The first
// match wins: $XDG_DATA_HOME/keywatch, /var/lib/keywatch when /var/lib exists,
// the macOS and Windows per-user locations, then ~/.keywatch. Without a home
// directory it returns ./data.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "./data"
	}
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, appDir)
	}
	candidates := []struct{ parent, dir string }{
		{"/var/lib", filepath.Join("/var/lib", appDir)},
		{filepath.Join(home, "Library"), filepath.Join(home, "Library", "Application Support", "Keywatch")},
		{filepath.Join(home, "AppData"), filepath.Join(home, "AppData", "Local", "Keywatch")},
	}
	for _, c := range candidates {
		if isDir(c.parent) {
			return c.dir
		}
	}
	return filepath.Join(home, "."+appDir)
}

// ExpandHome replaces a leading "~" with the user's home directory. Other
// paths, and "~" when no home directory is known, are returned unchanged.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

func isDir(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.IsDir()
}
