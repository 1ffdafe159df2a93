// Package config loads and validates the retrieval core configuration
// from YAML, with defaults that work out of the box.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full configuration tree.
type Config struct {
	// DataDir is the root directory for the database, vector index,
	// and session files. Defaults to ~/.ragcore.
	DataDir string `yaml:"data_dir"`

	Chunking  ChunkingConfig  `yaml:"chunking"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Watcher   WatcherConfig   `yaml:"watcher"`
	Cleanup   CleanupConfig   `yaml:"cleanup"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ChunkingConfig controls document decomposition.
type ChunkingConfig struct {
	SizeChars    int `yaml:"size_chars"`
	OverlapChars int `yaml:"overlap_chars"`
}

// RetrievalConfig mirrors the retrieval settings surface.
type RetrievalConfig struct {
	Scope            string `yaml:"scope"`
	KLex             int    `yaml:"k_lex"`
	KVec             int    `yaml:"k_vec"`
	RRFK             int    `yaml:"rrf_k"`
	MaxCandidates    int    `yaml:"max_candidates"`
	MaxContextChunks int    `yaml:"max_context_chunks"`
	MaxContextChars  int    `yaml:"max_context_chars"`
	EnableLLMRerank  bool   `yaml:"enable_llm_rerank"`
}

// WatcherConfig controls the folder watcher.
type WatcherConfig struct {
	DebounceMillis int `yaml:"debounce_ms"`
	MaxRetries     int `yaml:"max_retries"`
}

// CleanupConfig controls stale-document eviction.
type CleanupConfig struct {
	RetentionDays int `yaml:"retention_days"`
	IntervalHours int `yaml:"interval_hours"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level    string `yaml:"level"`
	FilePath string `yaml:"file_path"`
}

// Default returns the baseline configuration.
func Default() Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return Config{
		DataDir: filepath.Join(home, ".ragcore"),
		Chunking: ChunkingConfig{
			SizeChars:    1200,
			OverlapChars: 150,
		},
		Retrieval: RetrievalConfig{
			Scope:            "session",
			KLex:             8,
			KVec:             8,
			RRFK:             60,
			MaxCandidates:    12,
			MaxContextChunks: 6,
			MaxContextChars:  6000,
		},
		Watcher: WatcherConfig{
			DebounceMillis: 2500,
			MaxRetries:     3,
		},
		Cleanup: CleanupConfig{
			RetentionDays: 7,
			IntervalHours: 24,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads a YAML config file over the defaults. A missing file
// returns the defaults without error.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Save writes the configuration as YAML.
func (c Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate rejects out-of-range values.
func (c Config) Validate() error {
	if c.Chunking.SizeChars < 0 {
		return fmt.Errorf("chunking.size_chars must be >= 0")
	}
	if c.Chunking.SizeChars > 0 && (c.Chunking.SizeChars < 200 || c.Chunking.SizeChars > 5000) {
		return fmt.Errorf("chunking.size_chars must be within [200, 5000]")
	}
	if c.Chunking.OverlapChars < 0 || c.Chunking.OverlapChars > 1000 {
		return fmt.Errorf("chunking.overlap_chars must be within [0, 1000]")
	}
	switch c.Retrieval.Scope {
	case "session", "workspace", "global":
	default:
		return fmt.Errorf("retrieval.scope must be session, workspace, or global")
	}
	if c.Cleanup.RetentionDays < 0 || c.Cleanup.RetentionDays > 90 {
		return fmt.Errorf("cleanup.retention_days must be within [0, 90]")
	}
	if c.Watcher.DebounceMillis < 0 {
		return fmt.Errorf("watcher.debounce_ms must be >= 0")
	}
	return nil
}

// DebounceWindow returns the watcher debounce as a duration.
func (c Config) DebounceWindow() time.Duration {
	return time.Duration(c.Watcher.DebounceMillis) * time.Millisecond
}

// CleanupInterval returns the cleanup period as a duration.
func (c Config) CleanupInterval() time.Duration {
	return time.Duration(c.Cleanup.IntervalHours) * time.Hour
}

// DatabasePath returns the SQLite file location under DataDir.
func (c Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "rag.db")
}

// VectorDir returns the vector index directory under DataDir.
func (c Config) VectorDir() string {
	return filepath.Join(c.DataDir, "vectors")
}

// SessionRoot returns the per-session PDF directory under DataDir.
func (c Config) SessionRoot() string {
	return filepath.Join(c.DataDir, "sessions")
}
