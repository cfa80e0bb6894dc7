package testharness

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// versionVar is stamped into smoke builds so output can be traced to them
const versionVar = "github.com/bishoku/autopilot-codex/internal/cli.Version"

// BuildBinaries compiles the autopilot and mockcodex binaries into
// outputDir and returns their paths.
func BuildBinaries(ctx context.Context, projectRoot, outputDir string) (autopilot, mockcodex string, err error) {
	if projectRoot == "" {
		return "", "", fmt.Errorf("project root is required")
	}
	if outputDir == "" {
		return "", "", fmt.Errorf("output directory is required")
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return "", "", fmt.Errorf("failed to create output directory: %w", err)
	}

	autopilot = filepath.Join(outputDir, "autopilot")
	mockcodex = filepath.Join(outputDir, "mockcodex")

	builds := []struct {
		out, pkg string
		ldflags  []string
	}{
		{autopilot, "./cmd/autopilot", []string{"-X", versionVar + "=smoke"}},
		{mockcodex, "./cmd/mockcodex", nil},
	}
	for _, b := range builds {
		if err := goBuild(ctx, projectRoot, b.out, b.pkg, b.ldflags); err != nil {
			return "", "", err
		}
	}
	return autopilot, mockcodex, nil
}

func goBuild(ctx context.Context, projectRoot, outputPath, pkg string, ldflags []string) error {
	args := []string{"build", "-trimpath", "-o", outputPath}
	if len(ldflags) > 0 {
		args = append(args, "-ldflags", strings.Join(ldflags, " "))
	}
	cmd := exec.CommandContext(ctx, "go", append(args, pkg)...)
	cmd.Dir = projectRoot
	cmd.Env = mergeEnv(os.Environ(), map[string]string{"CGO_ENABLED": "0"})

	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("go build %s failed: %w\n%s", pkg, err, out)
	}
	return nil
}

func setEnv(env []string, key, value string) []string {
	prefix := key + "="
	for i, kv := range env {
		if strings.HasPrefix(kv, prefix) {
			env[i] = prefix + value
			return env
		}
	}
	return append(env, prefix+value)
}
