package domain

import (
	"time"
)

// Config represents the main application configuration
type Config struct {
	Environment     string                `mapstructure:"environment"`
	Server          ServerConfig          `mapstructure:"server"`
	Database        DatabaseConfig        `mapstructure:"database"`
	Dictionary      DictionaryConfig      `mapstructure:"dictionary"`
	Cache           CacheConfig           `mapstructure:"cache"`
	Logging         LoggingConfig         `mapstructure:"logging"`
	MatchPrediction MatchPredictionConfig `mapstructure:"match_prediction"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	TLSEnabled   bool          `mapstructure:"tls_enabled"`
	CertFile     string        `mapstructure:"cert_file"`
	KeyFile      string        `mapstructure:"key_file"`
}

// DatabaseConfig represents database connection configuration
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Database        string        `mapstructure:"database"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// DictionaryConfig represents the HLA metadata dictionary service configuration
type DictionaryConfig struct {
	BaseURL    string        `mapstructure:"base_url"`
	APIKey     string        `mapstructure:"api_key"`
	Timeout    time.Duration `mapstructure:"timeout"`
	RateLimit  int           `mapstructure:"rate_limit"`
	RetryCount int           `mapstructure:"retry_count"`
	// StaticFile points at a JSON dictionary used instead of the HTTP service
	StaticFile string `mapstructure:"static_file"`
}

// CacheConfig represents Redis cache configuration for dictionary responses
type CacheConfig struct {
	RedisURL    string        `mapstructure:"redis_url"`
	DefaultTTL  time.Duration `mapstructure:"default_ttl"`
	MaxRetries  int           `mapstructure:"max_retries"`
	PoolSize    int           `mapstructure:"pool_size"`
	PoolTimeout time.Duration `mapstructure:"pool_timeout"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// UntypedLocusPolicy decides how a model locus untyped for a subject is handled
type UntypedLocusPolicy string

const (
	// UntypedLocusAutoExclude drops the locus from the calculation
	UntypedLocusAutoExclude UntypedLocusPolicy = "auto_exclude"
	// UntypedLocusRequireExplicit rejects the request unless the caller
	// listed the locus in the excluded loci
	UntypedLocusRequireExplicit UntypedLocusPolicy = "require_explicit"
)

// MatchPredictionConfig tunes the match prediction engine
type MatchPredictionConfig struct {
	// MaxGenotypeCount bounds the candidate genotype cross join per subject
	MaxGenotypeCount           int64              `mapstructure:"max_genotype_count"`
	LikelihoodWorkers          int                `mapstructure:"likelihood_workers"`
	ReductionWorkers           int                `mapstructure:"reduction_workers"`
	DonorWorkers               int                `mapstructure:"donor_workers"`
	BatchTimeout               time.Duration      `mapstructure:"batch_timeout"`
	DictionaryCacheSize        int                `mapstructure:"dictionary_cache_size"`
	UntypedLocusPolicy         UntypedLocusPolicy `mapstructure:"untyped_locus_policy"`
	DefaultNomenclatureVersion string             `mapstructure:"default_nomenclature_version"`
}
