// Package config loads the daemon's per-workspace configuration and the
// environment variables documented in spec.md §6.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultPort is the first port the daemon tries to bind (§4.6).
	DefaultPort = 47779
	// DefaultDrainSeconds bounds the graceful-shutdown session drain window (§5).
	DefaultDrainSeconds = 5
	// DefaultMaxFileBytes skips files larger than this during discovery.
	DefaultMaxFileBytes = 2 << 20 // 2 MiB
	// DefaultCommitBatchSize bounds how many files one indexer commit transaction covers.
	DefaultCommitBatchSize = 200
	// DefaultScanIntervalSeconds is the scan-tick period absent a config override.
	DefaultScanIntervalSeconds = 30
	// DefaultMCPQueueSize is the per-session request queue capacity (§5 backpressure).
	DefaultMCPQueueSize = 1000
)

// Format selects the tool-response payload encoding (§4.10).
type Format string

const (
	FormatPack Format = "pack"
	FormatJSON Format = "json"
)

// SearchFirstMode selects the policy middleware's enforcement level (§4.9).
type SearchFirstMode string

const (
	SearchFirstOff     SearchFirstMode = "off"
	SearchFirstWarn    SearchFirstMode = "warn"
	SearchFirstEnforce SearchFirstMode = "enforce"
)

// WorkspaceConfig is the per-workspace YAML config (".sari.yaml" at the
// workspace root), following the teacher's struct-with-yaml-tags-and-
// Default() convention (internal/httplink/config.go).
type WorkspaceConfig struct {
	Discover DiscoverConfig `yaml:"discover"`
	Indexer  IndexerConfig  `yaml:"indexer"`
}

// DiscoverConfig controls which files the indexer's scan pass considers.
type DiscoverConfig struct {
	IncludeExt   []string `yaml:"include_ext"`
	IncludeFiles []string `yaml:"include_files"`
	ExcludeDirs  []string `yaml:"exclude_dirs"`
	ExcludeGlobs []string `yaml:"exclude_globs"`
	MaxFileBytes *int64   `yaml:"max_file_bytes"`
}

// IndexerConfig controls scan cadence and batching.
type IndexerConfig struct {
	ScanIntervalSeconds *int `yaml:"scan_interval_seconds"`
	CommitBatchSize     *int `yaml:"commit_batch_size"`
}

// DefaultWorkspaceConfig returns the built-in defaults matching the
// extensions the trimmed internal/lang registry recognizes.
func DefaultWorkspaceConfig() *WorkspaceConfig {
	return &WorkspaceConfig{
		Discover: DiscoverConfig{
			IncludeExt: []string{
				".go", ".py", ".js", ".jsx", ".ts", ".tsx",
				".java", ".c", ".h", ".cpp", ".hpp", ".cc", ".cxx", ".rs",
			},
			IncludeFiles: []string{"Makefile", "Dockerfile"},
			ExcludeDirs: []string{
				".git", ".hg", ".svn", ".venv", "venv", "env", "node_modules",
				"vendor", "dist", "build", "target", "bin", "obj", "out",
				"__pycache__", ".pytest_cache", ".mypy_cache", ".tox", ".nox",
				".idea", ".vscode", ".vs", "coverage", "bower_components",
				"site-packages", "Pods", ".cache", ".gradle", ".maven",
			},
			ExcludeGlobs: nil,
		},
		Indexer: IndexerConfig{},
	}
}

// LoadWorkspaceConfig reads ".sari.yaml" from dir, falling back to
// defaults (merged field-by-field) when absent or malformed — a config
// error never blocks the daemon from starting (spec.md §7 class 5).
func LoadWorkspaceConfig(dir string) *WorkspaceConfig {
	cfg := DefaultWorkspaceConfig()
	data, err := os.ReadFile(filepath.Join(dir, ".sari.yaml"))
	if err != nil {
		return cfg
	}
	var override WorkspaceConfig
	if err := yaml.Unmarshal(data, &override); err != nil {
		return cfg
	}
	if len(override.Discover.IncludeExt) > 0 {
		cfg.Discover.IncludeExt = override.Discover.IncludeExt
	}
	if len(override.Discover.IncludeFiles) > 0 {
		cfg.Discover.IncludeFiles = override.Discover.IncludeFiles
	}
	if len(override.Discover.ExcludeDirs) > 0 {
		cfg.Discover.ExcludeDirs = override.Discover.ExcludeDirs
	}
	if len(override.Discover.ExcludeGlobs) > 0 {
		cfg.Discover.ExcludeGlobs = override.Discover.ExcludeGlobs
	}
	if override.Discover.MaxFileBytes != nil {
		cfg.Discover.MaxFileBytes = override.Discover.MaxFileBytes
	}
	if override.Indexer.ScanIntervalSeconds != nil {
		cfg.Indexer.ScanIntervalSeconds = override.Indexer.ScanIntervalSeconds
	}
	if override.Indexer.CommitBatchSize != nil {
		cfg.Indexer.CommitBatchSize = override.Indexer.CommitBatchSize
	}
	return cfg
}

func (c *WorkspaceConfig) MaxFileBytes() int64 {
	if c.Discover.MaxFileBytes != nil {
		return *c.Discover.MaxFileBytes
	}
	return DefaultMaxFileBytes
}

func (c *WorkspaceConfig) ScanIntervalSeconds() int {
	if c.Indexer.ScanIntervalSeconds != nil {
		return *c.Indexer.ScanIntervalSeconds
	}
	return DefaultScanIntervalSeconds
}

func (c *WorkspaceConfig) CommitBatchSize() int {
	if c.Indexer.CommitBatchSize != nil {
		return *c.Indexer.CommitBatchSize
	}
	return DefaultCommitBatchSize
}

// Env holds the process-wide settings read from the SARI_* environment
// variables documented in spec.md §6.
type Env struct {
	WorkspaceRoot    string
	DaemonHost       string
	DaemonPort       int
	RegistryFile     string
	Format           Format
	SearchFirstMode  SearchFirstMode
	InitTimeout      int
	MCPQueueSize     int
	MCPDebug         bool
	AllowNonLoopback bool
}

// LoadEnv reads the SARI_* environment into an Env, applying the
// documented defaults for anything unset.
func LoadEnv() Env {
	e := Env{
		WorkspaceRoot:   os.Getenv("SARI_WORKSPACE_ROOT"),
		DaemonHost:      getenvDefault("SARI_DAEMON_HOST", "127.0.0.1"),
		DaemonPort:      atoiDefault(os.Getenv("SARI_DAEMON_PORT"), DefaultPort),
		RegistryFile:    os.Getenv("SARI_REGISTRY_FILE"),
		Format:          Format(getenvDefault("SARI_FORMAT", string(FormatPack))),
		SearchFirstMode: SearchFirstMode(getenvDefault("SARI_SEARCH_FIRST_MODE", string(SearchFirstWarn))),
		InitTimeout:     atoiDefault(os.Getenv("SARI_INIT_TIMEOUT"), 30),
		MCPQueueSize:    atoiDefault(os.Getenv("SARI_MCP_QUEUE_SIZE"), DefaultMCPQueueSize),
		MCPDebug:        boolDefault(os.Getenv("SARI_MCP_DEBUG"), false),
		AllowNonLoopback: boolDefault(os.Getenv("SARI_ALLOW_NON_LOOPBACK"), false),
	}
	return e
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func atoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func boolDefault(s string, def bool) bool {
	if s == "" {
		return def
	}
	switch strings.ToLower(s) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return def
}

// StateDir returns the per-user state directory. It holds the daemon's
// PID file, the MCP debug traffic log (when SARI_MCP_DEBUG is set) and
// the proxy's spawn lock files. The server registry is not kept here
// (see registry.DefaultPath), and no daemon stderr log is written.
func StateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.TempDir()
	}
	return filepath.Join(home, ".local", "state", "sari")
}

// CacheDir returns the per-user cache directory for the default index
// database location, following the teacher's cacheDir() convention.
func CacheDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.TempDir()
	}
	return filepath.Join(home, ".cache", "sari")
}
