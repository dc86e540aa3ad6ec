// Package profile resolves the on-disk layout of a client profile:
// the local message cache, log files and the profile lock.
package profile

import (
	"os"
	"path/filepath"
)

// BaseDir returns ~/.matchat.
func BaseDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".matchat")
}

// Dir returns the profile-specific directory.
func Dir(name string) string {
	return filepath.Join(BaseDir(), "profiles", name)
}

// CachePath returns the sqlite cache path for a profile.
func CachePath(name string) string {
	return filepath.Join(Dir(name), "cache.db")
}

// LockPath returns the lock file path for a profile.
func LockPath(name string) string {
	return filepath.Join(Dir(name), "LOCK")
}

// LogDir returns the log directory for a profile.
func LogDir(name string) string {
	return filepath.Join(Dir(name), "logs")
}

// LogPath returns the client log file path.
func LogPath(name string) string {
	return filepath.Join(LogDir(name), "matchat.log")
}

// ConfigPath returns the global client config file path.
func ConfigPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// EnsureDir creates the profile directory tree with 0700 permissions.
func EnsureDir(name string) error {
	for _, d := range []string{Dir(name), LogDir(name)} {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
