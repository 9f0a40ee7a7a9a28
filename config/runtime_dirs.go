package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// RuntimeDirs holds the runtime directory paths for p4bridge.
//
//	{base}/        - runtime root and writer lock
//	{base}/db/     - evaluator database, when file backed
//	{base}-sock/   - P4Runtime socket directory
//
// RuntimeDirs is immutable after construction. Use NewRuntimeDirs to create.
type RuntimeDirs struct {
	base string
	db   string
	sock string
	lock string
}

// DefaultRuntimeDirs returns RuntimeDirs rooted at /run/p4bridge.
func DefaultRuntimeDirs() RuntimeDirs {
	dirs, err := NewRuntimeDirs("/run/p4bridge")
	if err != nil {
		panic(fmt.Sprintf("DefaultRuntimeDirs: %v", err))
	}
	return dirs
}

// NewRuntimeDirs creates RuntimeDirs rooted at the given base path.
// Returns an error if base is empty or not an absolute path.
func NewRuntimeDirs(base string) (RuntimeDirs, error) {
	if base == "" {
		return RuntimeDirs{}, fmt.Errorf("base path cannot be empty")
	}
	if !filepath.IsAbs(base) {
		return RuntimeDirs{}, fmt.Errorf("base path must be absolute, got %q", base)
	}
	base = filepath.Clean(base)
	return RuntimeDirs{
		base: base,
		db:   filepath.Join(base, "db"),
		sock: base + "-sock",
		lock: filepath.Join(base, ".lock"),
	}, nil
}

// Base returns the runtime root path (e.g., /run/p4bridge).
func (d RuntimeDirs) Base() string { return d.base }

// DB returns the database directory path.
func (d RuntimeDirs) DB() string { return d.db }

// Sock returns the socket directory path.
func (d RuntimeDirs) Sock() string { return d.sock }

// Lock returns the single-instance lock file path.
func (d RuntimeDirs) Lock() string { return d.lock }

// SocketPath returns the P4Runtime unix socket path.
func (d RuntimeDirs) SocketPath() string {
	return filepath.Join(d.sock, "p4runtime.sock")
}

// DBPath returns the evaluator database file path.
func (d RuntimeDirs) DBPath() string {
	return filepath.Join(d.db, "evaluator.db")
}

// EnsureDirectories creates the runtime directories. Call this at
// startup to fail fast on permission problems.
func (d RuntimeDirs) EnsureDirectories() error {
	for _, dir := range []string{d.base, d.db, d.sock} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}
