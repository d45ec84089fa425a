// Package config provides configuration management for the servers.
// This file contains the lightweight configuration for standalone operation.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/hla-match-prediction/internal/domain"
)

// LiteConfig is a simplified configuration for standalone operation.
// It needs no database server and no dictionary service: frequencies live in
// SQLite and typings are resolved from a static dictionary file.
type LiteConfig struct {
	// Data storage
	DataDir        string // Base directory for data files
	DictionaryFile string // Static dictionary JSON; defaults to DataDir/dictionary.json

	// Engine settings
	MaxGenotypeCount    int64
	DonorWorkers        int
	BatchTimeout        time.Duration
	DictionaryCacheSize int
	UntypedLocusPolicy  domain.UntypedLocusPolicy
	NomenclatureVersion string

	// Logging
	LogLevel  string // Log level: debug, info, warn, error
	LogFormat string // Log format: json, text
}

// DefaultLiteConfig returns a configuration with sensible defaults.
func DefaultLiteConfig() *LiteConfig {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".hla-match-prediction")

	return &LiteConfig{
		DataDir:             dataDir,
		MaxGenotypeCount:    2000000,
		BatchTimeout:        60 * time.Second,
		DictionaryCacheSize: 10000,
		UntypedLocusPolicy:  domain.UntypedLocusAutoExclude,
		LogLevel:            "info",
		LogFormat:           "json",
	}
}

// LoadLiteConfig loads configuration from environment variables.
// Falls back to defaults if not set.
func LoadLiteConfig() *LiteConfig {
	cfg := DefaultLiteConfig()

	if v := os.Getenv("HLA_MATCH_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	cfg.DictionaryFile = os.Getenv("HLA_MATCH_DICTIONARY_FILE")

	if v := os.Getenv("HLA_MATCH_MAX_GENOTYPE_COUNT"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			cfg.MaxGenotypeCount = n
		}
	}
	if v := os.Getenv("HLA_MATCH_DONOR_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.DonorWorkers = n
		}
	}
	if v := os.Getenv("HLA_MATCH_BATCH_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d >= 0 {
			cfg.BatchTimeout = d
		}
	}
	if v := os.Getenv("HLA_MATCH_DICTIONARY_CACHE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.DictionaryCacheSize = n
		}
	}
	switch policy := domain.UntypedLocusPolicy(os.Getenv("HLA_MATCH_UNTYPED_LOCUS_POLICY")); policy {
	case domain.UntypedLocusAutoExclude, domain.UntypedLocusRequireExplicit:
		cfg.UntypedLocusPolicy = policy
	}
	cfg.NomenclatureVersion = os.Getenv("HLA_MATCH_NOMENCLATURE_VERSION")

	if v := os.Getenv("HLA_MATCH_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("HLA_MATCH_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}

	return cfg
}

// MatchPredictionConfig returns the engine settings
func (c *LiteConfig) MatchPredictionConfig() domain.MatchPredictionConfig {
	return domain.MatchPredictionConfig{
		MaxGenotypeCount:           c.MaxGenotypeCount,
		DonorWorkers:               c.DonorWorkers,
		BatchTimeout:               c.BatchTimeout,
		DictionaryCacheSize:        c.DictionaryCacheSize,
		UntypedLocusPolicy:         c.UntypedLocusPolicy,
		DefaultNomenclatureVersion: c.NomenclatureVersion,
	}
}

// LoggingConfig returns the logging settings. The lite server speaks MCP on
// stdout, so logs always go to stderr.
func (c *LiteConfig) LoggingConfig() domain.LoggingConfig {
	return domain.LoggingConfig{Level: c.LogLevel, Format: c.LogFormat, Output: "stderr"}
}

// FrequencyDBPath returns the path to the frequency SQLite database.
func (c *LiteConfig) FrequencyDBPath() string {
	return filepath.Join(c.DataDir, "frequencies.db")
}

// DictionaryPath returns the static dictionary file
func (c *LiteConfig) DictionaryPath() string {
	if c.DictionaryFile != "" {
		return c.DictionaryFile
	}
	return filepath.Join(c.DataDir, "dictionary.json")
}

// ExportDir returns the directory for JSON exports.
func (c *LiteConfig) ExportDir() string {
	return filepath.Join(c.DataDir, "exports")
}

// EnsureDataDir creates the data directory if it doesn't exist.
func (c *LiteConfig) EnsureDataDir() error {
	if err := os.MkdirAll(c.DataDir, 0755); err != nil {
		return err
	}
	return os.MkdirAll(c.ExportDir(), 0755)
}
