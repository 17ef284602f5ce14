// Package ospath provides discovery of OS-dependent paths.
package ospath

import (
	"os"
	"path/filepath"
	"strings"
)

const appDirName = "mimespool"

// ConfigDir returns the directory where configuration data (possibly roaming) needs to be stored.
func ConfigDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}

	return filepath.Join(dir, appDirName)
}

// ResolveUserFriendlyPath replaces ~ in a path with a home directory.
func ResolveUserFriendlyPath(path string, relativeToHome bool) string {
	home, _ := os.UserHomeDir()
	if home != "" && strings.HasPrefix(path, "~") {
		return home + path[1:]
	}

	if filepath.IsAbs(path) {
		return path
	}

	if relativeToHome {
		return filepath.Join(home, path)
	}

	return path
}

// IsAbs determines if a given path is absolute, including UNC paths on Windows.
func IsAbs(s string) bool {
	if filepath.IsAbs(s) {
		return true
	}

	if os.PathSeparator == '\\' && strings.HasPrefix(s, `\\`) {
		parts := strings.Split(s[2:], `\`)

		return len(parts) > 1 && parts[1] != ""
	}

	return false
}
