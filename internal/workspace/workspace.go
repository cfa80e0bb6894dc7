// Package workspace lays out the autopilot data directory:
//
//	<root>/data/autopilot.db      sqlite database (default location)
//	<root>/events/<runId>.ndjson  run event mirror
//	<root>/schemas/               output schemas handed to codex
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	DataDir    = "data"
	EventsDir  = "events"
	SchemasDir = "schemas"

	DatabaseFile = "autopilot.db"
)

// GetRequiredDirectories returns the directories every workspace has
func GetRequiredDirectories() []string {
	return []string{DataDir, EventsDir, SchemasDir}
}

// Layout resolves workspace paths against a root
type Layout struct {
	Root string
}

// DatabasePath is the default sqlite location
func (l Layout) DatabasePath() string {
	return filepath.Join(l.Root, DataDir, DatabaseFile)
}

// EventsPath is the run event mirror directory
func (l Layout) EventsPath() string {
	return filepath.Join(l.Root, EventsDir)
}

// SchemasPath is the directory for codex output schema files
func (l Layout) SchemasPath() string {
	return filepath.Join(l.Root, SchemasDir)
}

// Resolve returns p unchanged when absolute, otherwise joined onto the root
func (l Layout) Resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(l.Root, p)
}

// Initialize creates the workspace directories with 0700 permissions. It
// is safe to call repeatedly.
func Initialize(workspaceRoot string) error {
	for _, dir := range GetRequiredDirectories() {
		path := filepath.Join(workspaceRoot, dir)
		if err := os.MkdirAll(path, 0700); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", path, err)
		}
	}
	return nil
}

// IsInitialized checks if a workspace has all required directories
func IsInitialized(workspaceRoot string) (bool, error) {
	for _, dir := range GetRequiredDirectories() {
		path := filepath.Join(workspaceRoot, dir)

		info, err := os.Stat(path)
		if os.IsNotExist(err) {
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("failed to check directory %s: %w", path, err)
		}
		if !info.IsDir() {
			return false, nil
		}
	}
	return true, nil
}
