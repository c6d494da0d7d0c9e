package lexkb

import (
	"os"
	"path/filepath"

	"github.com/brunobiangulo/lexkb/llm"
)

// Config holds all configuration for the LexKB engine.
type Config struct {
	// DBPath is the full path to the SQLite database file.
	// If empty, defaults to ~/.lexkb/<DBName>.db
	DBPath string `json:"db_path" yaml:"db_path"`

	// DBName is the name for the database (used when DBPath is empty).
	// Defaults to "lexkb". The file will be <DBName>.db inside the
	// storage directory (~/.lexkb/ or working dir).
	DBName string `json:"db_name" yaml:"db_name"`

	// StorageDir controls where the database is created when DBPath
	// is not explicitly set. Options: "home" (default) uses ~/.lexkb/,
	// "local" uses the current working directory.
	StorageDir string `json:"storage_dir" yaml:"storage_dir"`

	// LLM providers
	Chat      llm.Config `json:"chat" yaml:"chat"`
	Embedding llm.Config `json:"embedding" yaml:"embedding"`

	// Search fusion
	RRFK                int `json:"rrf_k" yaml:"rrf_k"`
	CandidateMultiplier int `json:"candidate_multiplier" yaml:"candidate_multiplier"`

	// Pipeline
	Workers           int  `json:"workers" yaml:"workers"`                       // Max parallel oracle calls per stage (default 8)
	SkipRelationships bool `json:"skip_relationships" yaml:"skip_relationships"` // Skip relationship extraction during pipeline runs

	// Embedding dimensions (must match model)
	EmbeddingDim int `json:"embedding_dim" yaml:"embedding_dim"`
}

// DefaultConfig returns a Config with sensible defaults for local
// inference. Database is stored in ~/.lexkb/lexkb.db by default.
func DefaultConfig() Config {
	return Config{
		DBName:     "lexkb",
		StorageDir: "home",
		Chat: llm.Config{
			BaseURL: "http://localhost:11434",
			Model:   "llama3.1:8b",
		},
		Embedding: llm.Config{
			BaseURL:    "http://localhost:11434",
			Model:      "nomic-embed-text",
			EmbedModel: "nomic-embed-text",
		},
		RRFK:                60,
		CandidateMultiplier: 2,
		Workers:             8,
		EmbeddingDim:        768,
	}
}

// resolveDBPath computes the final database path from config fields.
func (c *Config) resolveDBPath() string {
	if c.DBPath != "" {
		return c.DBPath
	}

	name := c.DBName
	if name == "" {
		name = "lexkb"
	}

	switch c.StorageDir {
	case "local", "cwd":
		return name + ".db"
	default: // "home" or empty
		home, err := os.UserHomeDir()
		if err != nil {
			return name + ".db" // fallback to cwd
		}
		dir := filepath.Join(home, ".lexkb")
		return filepath.Join(dir, name+".db")
	}
}
