package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hla-match-prediction/internal/domain"
)

func TestDefaultLiteConfig(t *testing.T) {
	cfg := DefaultLiteConfig()

	assert.NotEmpty(t, cfg.DataDir)
	assert.Equal(t, int64(2000000), cfg.MaxGenotypeCount)
	assert.Equal(t, 60*time.Second, cfg.BatchTimeout)
	assert.Equal(t, 10000, cfg.DictionaryCacheSize)
	assert.Equal(t, domain.UntypedLocusAutoExclude, cfg.UntypedLocusPolicy)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
}

func TestLoadLiteConfig_Defaults(t *testing.T) {
	clearEnvVars(t)

	cfg := LoadLiteConfig()

	assert.NotEmpty(t, cfg.DataDir)
	assert.Empty(t, cfg.DictionaryFile)
	assert.Equal(t, 0, cfg.DonorWorkers)
	assert.Equal(t, domain.UntypedLocusAutoExclude, cfg.UntypedLocusPolicy)
}

func TestLoadLiteConfig_EnvironmentOverrides(t *testing.T) {
	clearEnvVars(t)

	t.Setenv("HLA_MATCH_DATA_DIR", "/tmp/test-hla")
	t.Setenv("HLA_MATCH_DICTIONARY_FILE", "/opt/dictionary.json")
	t.Setenv("HLA_MATCH_MAX_GENOTYPE_COUNT", "5000")
	t.Setenv("HLA_MATCH_DONOR_WORKERS", "3")
	t.Setenv("HLA_MATCH_BATCH_TIMEOUT", "15s")
	t.Setenv("HLA_MATCH_DICTIONARY_CACHE_SIZE", "42")
	t.Setenv("HLA_MATCH_UNTYPED_LOCUS_POLICY", "require_explicit")
	t.Setenv("HLA_MATCH_NOMENCLATURE_VERSION", "3.33.0")
	t.Setenv("HLA_MATCH_LOG_LEVEL", "debug")

	cfg := LoadLiteConfig()

	assert.Equal(t, "/tmp/test-hla", cfg.DataDir)
	assert.Equal(t, "/opt/dictionary.json", cfg.DictionaryPath())
	assert.Equal(t, int64(5000), cfg.MaxGenotypeCount)
	assert.Equal(t, 3, cfg.DonorWorkers)
	assert.Equal(t, 15*time.Second, cfg.BatchTimeout)
	assert.Equal(t, 42, cfg.DictionaryCacheSize)
	assert.Equal(t, domain.UntypedLocusRequireExplicit, cfg.UntypedLocusPolicy)
	assert.Equal(t, "debug", cfg.LogLevel)

	mp := cfg.MatchPredictionConfig()
	assert.Equal(t, int64(5000), mp.MaxGenotypeCount)
	assert.Equal(t, 3, mp.DonorWorkers)
	assert.Equal(t, "3.33.0", mp.DefaultNomenclatureVersion)
	assert.Equal(t, domain.UntypedLocusRequireExplicit, mp.UntypedLocusPolicy)
}

func TestLoadLiteConfig_IgnoresInvalidValues(t *testing.T) {
	clearEnvVars(t)

	t.Setenv("HLA_MATCH_MAX_GENOTYPE_COUNT", "-1")
	t.Setenv("HLA_MATCH_DONOR_WORKERS", "many")
	t.Setenv("HLA_MATCH_BATCH_TIMEOUT", "soon")
	t.Setenv("HLA_MATCH_UNTYPED_LOCUS_POLICY", "guess")

	cfg := LoadLiteConfig()

	assert.Equal(t, int64(2000000), cfg.MaxGenotypeCount)
	assert.Equal(t, 0, cfg.DonorWorkers)
	assert.Equal(t, 60*time.Second, cfg.BatchTimeout)
	assert.Equal(t, domain.UntypedLocusAutoExclude, cfg.UntypedLocusPolicy)
}

func TestLiteConfig_Paths(t *testing.T) {
	cfg := &LiteConfig{DataDir: "/home/user/.hla-match-prediction"}

	assert.Equal(t, "/home/user/.hla-match-prediction/frequencies.db", cfg.FrequencyDBPath())
	assert.Equal(t, "/home/user/.hla-match-prediction/dictionary.json", cfg.DictionaryPath())
	assert.Equal(t, "/home/user/.hla-match-prediction/exports", cfg.ExportDir())
	assert.Equal(t, "stderr", cfg.LoggingConfig().Output)
}

func TestLiteConfig_EnsureDataDir(t *testing.T) {
	cfg := &LiteConfig{DataDir: filepath.Join(t.TempDir(), "hla")}

	err := cfg.EnsureDataDir()
	require.NoError(t, err)

	_, err = os.Stat(cfg.DataDir)
	assert.NoError(t, err)

	_, err = os.Stat(cfg.ExportDir())
	assert.NoError(t, err)
}

func clearEnvVars(t *testing.T) {
	t.Helper()
	vars := []string{
		"HLA_MATCH_DATA_DIR",
		"HLA_MATCH_DICTIONARY_FILE",
		"HLA_MATCH_MAX_GENOTYPE_COUNT",
		"HLA_MATCH_DONOR_WORKERS",
		"HLA_MATCH_BATCH_TIMEOUT",
		"HLA_MATCH_DICTIONARY_CACHE_SIZE",
		"HLA_MATCH_UNTYPED_LOCUS_POLICY",
		"HLA_MATCH_NOMENCLATURE_VERSION",
		"HLA_MATCH_LOG_LEVEL",
		"HLA_MATCH_LOG_FORMAT",
	}
	for _, v := range vars {
		// t.Setenv restores the previous value when the test ends
		t.Setenv(v, "")
		os.Unsetenv(v)
	}
}
