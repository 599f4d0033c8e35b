// Package auth resolves the master authentication key and the effective
// user identity the client authenticates as, per spec.md §6.4/§6.5.
package auth

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ResolveUser derives the effective user identity at construction time,
// frozen for the client's lifetime (spec.md §9 "module-level identity
// resolution"). If SUDO_USER is set while running as root, the effective
// user becomes sudo_<SUDO_USER>; otherwise fall back to defaultUser.
func ResolveUser(defaultUser string) string {
	if os.Geteuid() == 0 {
		if sudoUser := strings.TrimSpace(os.Getenv("SUDO_USER")); sudoUser != "" {
			return "sudo_" + sudoUser
		}
	}
	return defaultUser
}

// KeyFilePath returns the path to the master key file for keyUser, per
// spec.md §6.5: <cachedir>/.<key-user>_key.
func KeyFilePath(cacheDir, keyUser string) string {
	return filepath.Join(cacheDir, "."+keyUser+"_key")
}

// ReadKey reads the master key for keyUser. An unreadable file is treated as
// an empty key (§6.5) rather than an error — the server is expected to fall
// back to external auth in that case.
func ReadKey(cacheDir, keyUser string) string {
	path := KeyFilePath(cacheDir, keyUser)

	if parent := filepath.Dir(path); !parentAccessible(parent) {
		return ""
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func parentAccessible(dir string) bool {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return false
	}
	f, err := os.Open(dir)
	if err != nil {
		return false
	}
	defer f.Close()
	return true
}

// RequireReadableParent is a stricter variant used by callers that want an
// explicit error instead of a silently empty key (e.g. CLI preflight
// checks).
func RequireReadableParent(cacheDir, keyUser string) error {
	path := KeyFilePath(cacheDir, keyUser)
	parent := filepath.Dir(path)
	if !parentAccessible(parent) {
		return fmt.Errorf("key directory %q is not accessible", parent)
	}
	return nil
}
