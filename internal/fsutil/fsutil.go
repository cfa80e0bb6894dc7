// Package fsutil provides crash-safe file writes and workspace-confined
// path resolution.
package fsutil

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Private files (config, recorded invocations) are owner-only; exported
// project documents are world-readable like the rest of the project tree.
const (
	privateFile os.FileMode = 0o600
	privateDir  os.FileMode = 0o700
	sharedFile  os.FileMode = 0o644
	sharedDir   os.FileMode = 0o755
)

// AtomicWrite replaces path with data so readers see either the old or the
// new content: write .<base>.tmp.<pid>.<rand>, fsync, rename, fsync dir.
// Files are created 0600 and parent directories 0700.
func AtomicWrite(path string, data []byte) error {
	return atomicWrite(path, data, privateFile, privateDir)
}

func atomicWrite(path string, data []byte, filePerm, dirPerm os.FileMode) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmpPath, err := tempPath(path)
	if err != nil {
		return fmt.Errorf("failed to generate temp path: %w", err)
	}
	tmp, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_EXCL, filePerm)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("failed to sync %s: %w", filepath.Base(path), err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err = os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return syncDir(dir)
}

// AtomicWriteJSON writes v as indented JSON with a trailing newline
func AtomicWriteJSON(path string, v any) error {
	if v == nil {
		return fmt.Errorf("cannot write nil value")
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return AtomicWrite(path, append(data, '\n'))
}

func tempPath(path string) (string, error) {
	randBytes := make([]byte, 4)
	if _, err := rand.Read(randBytes); err != nil {
		return "", fmt.Errorf("failed to generate random suffix: %w", err)
	}
	name := fmt.Sprintf(".%s.tmp.%d.%s", filepath.Base(path), os.Getpid(), hex.EncodeToString(randBytes))
	return filepath.Join(filepath.Dir(path), name), nil
}

func syncDir(path string) error {
	dir, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open directory: %w", err)
	}
	defer dir.Close()

	if err := dir.Sync(); err != nil {
		return fmt.Errorf("failed to sync directory: %w", err)
	}
	return nil
}

// ResolveWorkspacePath joins a relative path onto root and rejects results
// that leave root, either lexically or through an existing symlink.
func ResolveWorkspacePath(root, relative string) (string, error) {
	rootAbs, err := filepath.EvalSymlinks(filepath.Clean(root))
	if err != nil {
		return "", fmt.Errorf("failed to resolve workspace: %w", err)
	}
	if filepath.IsAbs(relative) {
		return "", fmt.Errorf("absolute paths not allowed: %s", relative)
	}

	cleanPath := filepath.Join(rootAbs, relative)
	if !within(rootAbs, cleanPath) {
		return "", fmt.Errorf("path escapes workspace: %s", relative)
	}

	if _, err := os.Lstat(cleanPath); err == nil {
		resolved, err := filepath.EvalSymlinks(cleanPath)
		if err != nil {
			return "", fmt.Errorf("failed to resolve symlinks: %w", err)
		}
		if !within(rootAbs, resolved) {
			return "", fmt.Errorf("symlink escapes workspace: %s", relative)
		}
		return resolved, nil
	}
	return cleanPath, nil
}

func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// Artifact describes a file written by WriteArtifact
type Artifact struct {
	Path   string `json:"path"`
	SHA256 string `json:"sha256"`
	Size   int64  `json:"size"`
}

// WriteArtifact atomically writes content to a path inside root and
// returns its checksum. The returned path stays relative to root. Artifacts
// are created 0644 since they belong to the user's project.
func WriteArtifact(root, relativePath string, content []byte) (Artifact, error) {
	fullPath, err := ResolveWorkspacePath(root, relativePath)
	if err != nil {
		return Artifact{}, fmt.Errorf("invalid artifact path: %w", err)
	}
	if err := atomicWrite(fullPath, content, sharedFile, sharedDir); err != nil {
		return Artifact{}, err
	}

	hash := sha256.Sum256(content)
	return Artifact{
		Path:   relativePath,
		SHA256: fmt.Sprintf("sha256:%x", hash),
		Size:   int64(len(content)),
	}, nil
}
