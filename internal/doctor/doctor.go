// Package doctor validates a saltctl configuration and its runtime
// preconditions (socket reachability, cache directory layout, key file
// permissions) before a client is constructed, surfacing actionable issues
// instead of letting the first publish() fail opaquely.
package doctor

import (
	"fmt"
	"os"

	"github.com/mattjoyce/saltctl/internal/auth"
	"github.com/mattjoyce/saltctl/internal/config"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool
	Errors   []Issue
	Warnings []Issue
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string
	Field    string
	Message  string
}

// Doctor validates a loaded Config against the local filesystem.
type Doctor struct {
	cfg *config.Config
}

// New creates a Doctor from a loaded config.
func New(cfg *config.Config) *Doctor {
	return &Doctor{cfg: cfg}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validateTimeouts(r)
	d.validateSockDir(r)
	d.validateCacheDir(r)
	d.validateKeyFile(r)
	d.warnEmptyNodegroups(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) validateTimeouts(r *Result) {
	if d.cfg.DefaultTimeout <= 0 {
		d.addError(r, "timeouts", "default_timeout", "default_timeout must be positive")
	}
	if d.cfg.ExtensionQuantum <= 0 {
		d.addError(r, "timeouts", "extension_quantum", "extension_quantum must be positive")
	}
}

func (d *Doctor) validateSockDir(r *Result) {
	info, err := os.Stat(d.cfg.SockDir)
	if err != nil {
		d.addWarning(r, "transport", "sock_dir",
			fmt.Sprintf("socket directory %q is not present yet (%v) — publishing will fail until the master starts it", d.cfg.SockDir, err))
		return
	}
	if !info.IsDir() {
		d.addError(r, "transport", "sock_dir", fmt.Sprintf("%q exists but is not a directory", d.cfg.SockDir))
	}
}

func (d *Doctor) validateCacheDir(r *Result) {
	info, err := os.Stat(d.cfg.CacheDir)
	if err != nil {
		d.addError(r, "cache", "cache_dir", fmt.Sprintf("cache directory %q is not accessible: %v", d.cfg.CacheDir, err))
		return
	}
	if !info.IsDir() {
		d.addError(r, "cache", "cache_dir", fmt.Sprintf("%q exists but is not a directory", d.cfg.CacheDir))
	}
}

func (d *Doctor) validateKeyFile(r *Result) {
	keyUser := auth.ResolveUser(d.cfg.DefaultUser)
	if err := auth.RequireReadableParent(d.cfg.CacheDir, keyUser); err != nil {
		d.addWarning(r, "auth", "cache_dir",
			fmt.Sprintf("cannot verify master key for user %q: %v — publishes will authenticate with an empty key", keyUser, err))
	}
}

func (d *Doctor) warnEmptyNodegroups(r *Result) {
	if len(d.cfg.Nodegroups) == 0 {
		d.addWarning(r, "target", "nodegroups", "no nodegroups configured — nodegroup targets will always fail to resolve")
	}
}
