package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateDefault(t *testing.T) {
	cfg := GenerateDefault()

	assert.Equal(t, "1.0", cfg.Version)
	assert.Equal(t, ".autopilot", cfg.WorkspaceRoot)
	assert.Equal(t, 3001, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Server.LogLevel)
	assert.Empty(t, cfg.Server.APIKey)
	assert.Equal(t, "data/autopilot.db", cfg.Database.Path)
	assert.Equal(t, "codex", cfg.Codex.BinPath)
	assert.Equal(t, "workspace-write", cfg.Codex.Sandbox)
	assert.True(t, cfg.Events.MirrorNDJSON)
	assert.True(t, cfg.Execution.ExclusiveSessions)

	require.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "missing version", mutate: func(c *Config) { c.Version = "" }, wantErr: "version"},
		{name: "port zero", mutate: func(c *Config) { c.Server.Port = 0 }, wantErr: "server.port"},
		{name: "port too large", mutate: func(c *Config) { c.Server.Port = 70000 }, wantErr: "server.port"},
		{name: "negative timeout", mutate: func(c *Config) { c.Server.ReadTimeoutS = -1 }, wantErr: "timeouts"},
		{name: "bad log level", mutate: func(c *Config) { c.Server.LogLevel = "loud" }, wantErr: "invalid log level"},
		{name: "empty database", mutate: func(c *Config) { c.Database.Path = " " }, wantErr: "database.path"},
		{name: "empty codex bin", mutate: func(c *Config) { c.Codex.BinPath = "" }, wantErr: "codex.bin_path"},
		{name: "bad sandbox", mutate: func(c *Config) { c.Codex.Sandbox = "yolo" }, wantErr: "codex.sandbox"},
		{name: "empty sandbox allowed", mutate: func(c *Config) { c.Codex.Sandbox = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := GenerateDefault()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.Contains(t, err.Error(), "Hint:")
		})
	}
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"":      slog.LevelInfo,
		"DEBUG": slog.LevelDebug,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	} {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseLevel("trace")
	assert.Error(t, err)
}

func TestSaveAndLoadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "autopilot.json")
	cfg := GenerateDefault()
	cfg.Codex.ExtraArgs = []string{"--model", "gpt-5-codex"}

	require.NoError(t, cfg.SaveToFile(path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestSaveAndLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "autopilot.yaml")
	cfg := GenerateDefault()
	cfg.Codex.Env = map[string]string{"OPENAI_BASE_URL": "http://localhost:8080"}

	require.NoError(t, cfg.SaveToFile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "bin_path: codex")

	loaded, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestLoadFromFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "autopilot.yml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 4000\n"), 0600))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, 4000, cfg.Server.Port)
	assert.Equal(t, "codex", cfg.Codex.BinPath)
	assert.True(t, cfg.Execution.ExclusiveSessions)
}

func TestLoadFromFileErrors(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "autopilot.json")
	require.NoError(t, os.WriteFile(bad, []byte("{not json"), 0600))
	_, err = LoadFromFile(bad)
	assert.ErrorContains(t, err, "failed to parse config file")
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"PORT":              "8088",
		"DATABASE_URL":      "file:./dev.db",
		"CODEX_BIN_PATH":    "/opt/codex",
		"WS_SERVER_URL":     "ws://localhost:8088/ws",
		"LOG_LEVEL":         "debug",
		"AUTOPILOT_API_KEY": "secret",
	}
	cfg := GenerateDefault()
	require.NoError(t, cfg.ApplyEnv(func(k string) string { return env[k] }))

	assert.Equal(t, 8088, cfg.Server.Port)
	assert.Equal(t, "./dev.db", cfg.Database.Path)
	assert.Equal(t, "/opt/codex", cfg.Codex.BinPath)
	assert.Equal(t, "ws://localhost:8088/ws", cfg.Server.WSServerURL)
	assert.Equal(t, "debug", cfg.Server.LogLevel)
	assert.Equal(t, "secret", cfg.Server.APIKey)

	err := cfg.ApplyEnv(func(k string) string {
		if k == "PORT" {
			return "abc"
		}
		return ""
	})
	assert.ErrorContains(t, err, "invalid PORT")
}

func TestFindSearchesParents(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0700))
	require.NoError(t, GenerateDefault().SaveToFile(filepath.Join(root, "autopilot.json")))

	found, err := Find(nested)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "autopilot.json"), found)
}

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("PORT", "")
	t.Setenv("DATABASE_URL", "")

	cfg, path, err := Load("", dir)
	require.NoError(t, err)
	assert.Empty(t, path)
	assert.Equal(t, filepath.Join(dir, ".autopilot"), cfg.WorkspaceRoot)
	assert.Equal(t, filepath.Join(dir, ".autopilot", "data", "autopilot.db"), cfg.DatabasePath())
}

func TestLoadReadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	// Register for restore; godotenv does not override variables that are set
	t.Setenv("CODEX_BIN_PATH", "")
	os.Unsetenv("CODEX_BIN_PATH")
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("CODEX_BIN_PATH=/from/dotenv\n"), 0600))

	cfg, _, err := Load("", dir)
	require.NoError(t, err)
	assert.Equal(t, "/from/dotenv", cfg.Codex.BinPath)
}

func TestLoadResolvesWorkspaceAgainstConfigFile(t *testing.T) {
	dir := t.TempDir()
	cfg := GenerateDefault()
	cfg.WorkspaceRoot = "state"
	cfg.Database.Path = "/abs/autopilot.db"
	path := filepath.Join(dir, "autopilot.json")
	require.NoError(t, cfg.SaveToFile(path))
	t.Setenv("DATABASE_URL", "")

	loaded, got, err := Load(path, t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, path, got)
	assert.Equal(t, filepath.Join(dir, "state"), loaded.WorkspaceRoot)
	assert.Equal(t, "/abs/autopilot.db", loaded.DatabasePath())
}
