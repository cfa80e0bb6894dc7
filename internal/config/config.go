package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/bishoku/autopilot-codex/internal/fsutil"
	"github.com/bishoku/autopilot-codex/internal/workspace"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// FileNames are searched, in order, when no config path is given
var FileNames = []string{"autopilot.json", "autopilot.yaml", "autopilot.yml"}

// Config represents the autopilot configuration file
type Config struct {
	Version       string    `json:"version" yaml:"version"`
	WorkspaceRoot string    `json:"workspace_root" yaml:"workspace_root"`
	Server        Server    `json:"server" yaml:"server"`
	Database      Database  `json:"database" yaml:"database"`
	Codex         Codex     `json:"codex" yaml:"codex"`
	Events        Events    `json:"events" yaml:"events"`
	Execution     Execution `json:"execution" yaml:"execution"`
}

// Server contains HTTP server settings
type Server struct {
	Port          int    `json:"port" yaml:"port"`
	APIKey        string `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	ReadTimeoutS  int    `json:"read_timeout_s" yaml:"read_timeout_s"`
	WriteTimeoutS int    `json:"write_timeout_s" yaml:"write_timeout_s"`
	// WSServerURL is advertised to clients; empty means same origin
	WSServerURL string `json:"ws_server_url,omitempty" yaml:"ws_server_url,omitempty"`
	LogLevel    string `json:"log_level" yaml:"log_level"`
}

// Database contains storage settings
type Database struct {
	// Path is the sqlite file; relative paths resolve against workspace_root
	Path string `json:"path" yaml:"path"`
}

// Codex contains agent launch settings
type Codex struct {
	BinPath          string            `json:"bin_path" yaml:"bin_path"`
	ExtraArgs        []string          `json:"extra_args,omitempty" yaml:"extra_args,omitempty"`
	Env              map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	Sandbox          string            `json:"sandbox" yaml:"sandbox"`
	SkipGitRepoCheck bool              `json:"skip_git_repo_check" yaml:"skip_git_repo_check"`
}

// Events contains run event persistence settings
type Events struct {
	MirrorNDJSON bool `json:"mirror_ndjson" yaml:"mirror_ndjson"`
}

// Execution contains orchestration policy
type Execution struct {
	ExclusiveSessions bool `json:"exclusive_sessions" yaml:"exclusive_sessions"`
}

// GenerateDefault creates a Config with default values
func GenerateDefault() *Config {
	return &Config{
		Version:       "1.0",
		WorkspaceRoot: ".autopilot",
		Server: Server{
			Port:          3001,
			ReadTimeoutS:  30,
			WriteTimeoutS: 0,
			LogLevel:      "info",
		},
		Database: Database{
			Path: filepath.Join(workspace.DataDir, workspace.DatabaseFile),
		},
		Codex: Codex{
			BinPath:          "codex",
			Sandbox:          "workspace-write",
			SkipGitRepoCheck: false,
		},
		Events: Events{
			MirrorNDJSON: true,
		},
		Execution: Execution{
			ExclusiveSessions: true,
		},
	}
}

// Validate checks the configuration for errors and returns user-friendly error messages
func (c *Config) Validate() error {
	if c.Version == "" {
		return fmt.Errorf("configuration error: missing required field 'version'\n\nHint: Add a version field like:\n  \"version\": \"1.0\"")
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("configuration error: invalid 'server.port' value: %d\n\nHint: Use a TCP port between 1 and 65535, or set PORT", c.Server.Port)
	}

	if c.Server.ReadTimeoutS < 0 || c.Server.WriteTimeoutS < 0 {
		return fmt.Errorf("configuration error: server timeouts must not be negative\n\nHint: Use 0 to disable a timeout")
	}

	if _, err := ParseLevel(c.Server.LogLevel); err != nil {
		return fmt.Errorf("configuration error: %v\n\nHint: Use one of debug, info, warn, error", err)
	}

	if strings.TrimSpace(c.Database.Path) == "" {
		return fmt.Errorf("configuration error: missing required field 'database.path'\n\nHint: Point it at a sqlite file:\n  \"database\": {\n    \"path\": \"data/autopilot.db\"\n  }")
	}

	if strings.TrimSpace(c.Codex.BinPath) == "" {
		return fmt.Errorf("configuration error: 'codex.bin_path' is empty\n\nHint: Specify the codex binary, or set CODEX_BIN_PATH:\n  \"codex\": {\n    \"bin_path\": \"codex\"\n  }")
	}

	switch c.Codex.Sandbox {
	case "", "read-only", "workspace-write", "danger-full-access":
	default:
		return fmt.Errorf("configuration error: invalid 'codex.sandbox' value: %q\n\nHint: Use read-only, workspace-write or danger-full-access", c.Codex.Sandbox)
	}

	return nil
}

// ParseLevel maps a LOG_LEVEL value to a slog level. Empty means info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("invalid log level %q", s)
}

// LoadFromFile loads a configuration file. Paths ending in .yaml or .yml
// are parsed as YAML, anything else as JSON. Missing fields keep their
// defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg := GenerateDefault()
	if isYAML(path) {
		err = yaml.Unmarshal(data, cfg)
	} else {
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return cfg, nil
}

// SaveToFile writes the configuration atomically with 0600 permissions
func (c *Config) SaveToFile(path string) error {
	if isYAML(path) {
		data, err := yaml.Marshal(c)
		if err != nil {
			return fmt.Errorf("failed to marshal config: %w", err)
		}
		if err := fsutil.AtomicWrite(path, data); err != nil {
			return fmt.Errorf("failed to write config file %s: %w", path, err)
		}
		return nil
	}

	if err := fsutil.AtomicWriteJSON(path, c); err != nil {
		return fmt.Errorf("failed to write config file %s: %w", path, err)
	}
	return nil
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// Find searches dir and its parents for a config file. It returns "" when
// none exists.
func Find(dir string) (string, error) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	for {
		for _, name := range FileNames {
			path := filepath.Join(dir, name)
			if info, err := os.Stat(path); err == nil && !info.IsDir() {
				return path, nil
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", nil
		}
		dir = parent
	}
}

// ApplyEnv overrides settings from environment variables
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if v := getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid PORT %q: %w", v, err)
		}
		c.Server.Port = port
	}
	if v := getenv("DATABASE_URL"); v != "" {
		c.Database.Path = strings.TrimPrefix(v, "file:")
	}
	if v := getenv("CODEX_BIN_PATH"); v != "" {
		c.Codex.BinPath = v
	}
	if v := getenv("WS_SERVER_URL"); v != "" {
		c.Server.WSServerURL = v
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		c.Server.LogLevel = v
	}
	if v := getenv("AUTOPILOT_API_KEY"); v != "" {
		c.Server.APIKey = v
	}
	return nil
}

// Load resolves the effective configuration: .env from dir (if present),
// then the config file (explicit path, or found by searching up from dir,
// or defaults rooted at dir), then environment overrides. The returned
// path is "" when defaults were used.
func Load(explicitPath, dir string) (*Config, string, error) {
	envFile := filepath.Join(dir, ".env")
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			return nil, "", fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}

	path := explicitPath
	if path == "" {
		found, err := Find(dir)
		if err != nil {
			return nil, "", err
		}
		path = found
	}

	var cfg *Config
	if path != "" {
		loaded, err := LoadFromFile(path)
		if err != nil {
			return nil, "", err
		}
		cfg = loaded
		cfg.WorkspaceRoot = resolveAgainst(filepath.Dir(path), cfg.WorkspaceRoot)
	} else {
		cfg = GenerateDefault()
		cfg.WorkspaceRoot = resolveAgainst(dir, cfg.WorkspaceRoot)
	}

	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return nil, "", err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func resolveAgainst(base, p string) string {
	if p == "" {
		p = "."
	}
	if filepath.IsAbs(p) {
		return p
	}
	abs, err := filepath.Abs(filepath.Join(base, p))
	if err != nil {
		return filepath.Join(base, p)
	}
	return abs
}

// Layout returns the workspace layout of this configuration
func (c *Config) Layout() workspace.Layout {
	return workspace.Layout{Root: c.WorkspaceRoot}
}

// DatabasePath returns the sqlite path, resolved against the workspace
func (c *Config) DatabasePath() string {
	return c.Layout().Resolve(c.Database.Path)
}
