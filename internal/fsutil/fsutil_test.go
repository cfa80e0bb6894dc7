package fsutil

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func TestAtomicWrite(t *testing.T) {
	tmpDir := t.TempDir()

	tests := []struct {
		name     string
		path     string
		data     []byte
		existing []byte
	}{
		{name: "new file", path: filepath.Join(tmpDir, "new.txt"), data: []byte("hello world")},
		{name: "overwrite", path: filepath.Join(tmpDir, "existing.txt"), data: []byte("updated"), existing: []byte("original")},
		{name: "empty file", path: filepath.Join(tmpDir, "empty.txt"), data: []byte{}},
		{name: "nested directory", path: filepath.Join(tmpDir, "nested", "deep", "file.txt"), data: []byte("nested")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.existing != nil {
				if err := os.WriteFile(tt.path, tt.existing, 0600); err != nil {
					t.Fatalf("failed to create initial file: %v", err)
				}
			}

			if err := AtomicWrite(tt.path, tt.data); err != nil {
				t.Fatalf("AtomicWrite() error = %v", err)
			}

			content, err := os.ReadFile(tt.path)
			if err != nil {
				t.Fatalf("failed to read written file: %v", err)
			}
			if string(content) != string(tt.data) {
				t.Errorf("file content = %q, want %q", content, tt.data)
			}

			info, err := os.Stat(tt.path)
			if err != nil {
				t.Fatalf("failed to stat file: %v", err)
			}
			if mode := info.Mode().Perm(); mode != 0600 {
				t.Errorf("file permissions = %o, want 0600", mode)
			}
		})
	}
}

func TestAtomicWriteJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	if err := AtomicWriteJSON(path, map[string]any{"port": 3001}); err != nil {
		t.Fatalf("AtomicWriteJSON() error = %v", err)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(content) != "{\n  \"port\": 3001\n}\n" {
		t.Errorf("unexpected content %q", content)
	}

	if err := AtomicWriteJSON(path, nil); err == nil {
		t.Error("expected error for nil value")
	}
}

func TestAtomicWriteLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "file.txt")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := AtomicWrite(path, []byte(fmt.Sprintf("writer %d", i))); err != nil {
				t.Errorf("writer %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("expected only the target file, found %d entries", len(entries))
	}
	content, _ := os.ReadFile(path)
	if !strings.HasPrefix(string(content), "writer ") {
		t.Errorf("torn write: %q", content)
	}
}

func TestResolveWorkspacePath(t *testing.T) {
	root := t.TempDir()
	rootResolved, err := filepath.EvalSymlinks(root)
	if err != nil {
		t.Fatalf("eval root: %v", err)
	}

	outside := t.TempDir()
	if err := os.Symlink(outside, filepath.Join(root, "escape")); err != nil {
		t.Fatalf("symlink: %v", err)
	}
	if err := os.Mkdir(filepath.Join(root, "docs"), 0700); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	tests := []struct {
		name     string
		relative string
		want     string
		wantErr  string
	}{
		{name: "simple", relative: "a/b.md", want: filepath.Join(rootResolved, "a", "b.md")},
		{name: "existing dir", relative: "docs", want: filepath.Join(rootResolved, "docs")},
		{name: "dot segments inside", relative: "a/../b.md", want: filepath.Join(rootResolved, "b.md")},
		{name: "file named with dots", relative: "..notes", want: filepath.Join(rootResolved, "..notes")},
		{name: "traversal", relative: "../etc/passwd", wantErr: "escapes workspace"},
		{name: "absolute", relative: "/etc/passwd", wantErr: "absolute paths not allowed"},
		{name: "symlink escape", relative: "escape", wantErr: "symlink escapes workspace"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveWorkspacePath(root, tt.relative)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("ResolveWorkspacePath() error = %v, want %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ResolveWorkspacePath() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("ResolveWorkspacePath() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestWriteArtifact(t *testing.T) {
	root := t.TempDir()
	content := []byte("# Requirements\n")

	artifact, err := WriteArtifact(root, ".autopilot/s1/requirements.md", content)
	if err != nil {
		t.Fatalf("WriteArtifact() error = %v", err)
	}

	want := fmt.Sprintf("sha256:%x", sha256.Sum256(content))
	if artifact.SHA256 != want {
		t.Errorf("SHA256 = %s, want %s", artifact.SHA256, want)
	}
	if artifact.Size != int64(len(content)) || artifact.Path != ".autopilot/s1/requirements.md" {
		t.Errorf("unexpected artifact %+v", artifact)
	}

	got, err := os.ReadFile(filepath.Join(root, ".autopilot", "s1", "requirements.md"))
	if err != nil || string(got) != string(content) {
		t.Errorf("artifact content = %q, %v", got, err)
	}

	info, err := os.Stat(filepath.Join(root, ".autopilot", "s1", "requirements.md"))
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if mode := info.Mode().Perm(); mode&0o044 == 0 {
		t.Errorf("artifact permissions = %o, want group/other readable", mode)
	}

	if _, err := WriteArtifact(root, "../outside.md", content); err == nil {
		t.Error("expected error for path outside root")
	}
}
