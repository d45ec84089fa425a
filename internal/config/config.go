package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/hla-match-prediction/internal/domain"
)

// EnvPrefix prefixes every environment override, e.g. HLA_MATCH_SERVER_PORT
const EnvPrefix = "HLA_MATCH"

// DefaultConfigPaths are searched for config.yaml in order
var DefaultConfigPaths = []string{".", "./config", "/etc/hla-match-prediction/"}

// Manager implements domain.ConfigManager using Viper
type Manager struct {
	v           *viper.Viper
	configPaths []string
	config      *domain.Config
}

// NewManager loads configuration from config.yaml in configPaths (or
// DefaultConfigPaths), environment variables and defaults.
func NewManager(configPaths ...string) (*Manager, error) {
	if len(configPaths) == 0 {
		configPaths = DefaultConfigPaths
	}
	m := &Manager{configPaths: configPaths}
	if err := m.loadConfig(); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return m, nil
}

// loadConfig loads configuration from various sources
func (m *Manager) loadConfig() error {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	for _, path := range m.configPaths {
		v.AddConfigPath(path)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// The file is optional; defaults and environment still apply
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	config := &domain.Config{}
	if err := v.Unmarshal(config); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}

	m.v = v
	m.config = config
	return nil
}

// setDefaults registers every key so that AutomaticEnv can override it
func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")

	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "120s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.tls_enabled", false)
	v.SetDefault("server.cert_file", "")
	v.SetDefault("server.key_file", "")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.database", "hla_match_prediction")
	v.SetDefault("database.username", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "5m")
	v.SetDefault("database.migrations_path", "internal/database/migrations")

	// HLA metadata dictionary defaults
	v.SetDefault("dictionary.base_url", "")
	v.SetDefault("dictionary.api_key", "")
	v.SetDefault("dictionary.timeout", "10s")
	v.SetDefault("dictionary.rate_limit", 50)
	v.SetDefault("dictionary.retry_count", 2)
	v.SetDefault("dictionary.static_file", "")

	// Cache defaults; an empty URL disables the shared dictionary cache
	v.SetDefault("cache.redis_url", "")
	v.SetDefault("cache.default_ttl", "168h")
	v.SetDefault("cache.max_retries", 3)
	v.SetDefault("cache.pool_size", 10)
	v.SetDefault("cache.pool_timeout", "4s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	// Match prediction defaults; zero worker counts mean GOMAXPROCS
	v.SetDefault("match_prediction.max_genotype_count", 2000000)
	v.SetDefault("match_prediction.likelihood_workers", 0)
	v.SetDefault("match_prediction.reduction_workers", 0)
	v.SetDefault("match_prediction.donor_workers", 0)
	v.SetDefault("match_prediction.batch_timeout", "60s")
	v.SetDefault("match_prediction.dictionary_cache_size", 10000)
	v.SetDefault("match_prediction.untyped_locus_policy", string(domain.UntypedLocusAutoExclude))
	v.SetDefault("match_prediction.default_nomenclature_version", "")
}

// GetConfig returns the complete configuration
func (m *Manager) GetConfig() *domain.Config {
	return m.config
}

// GetDatabaseConfig returns database configuration
func (m *Manager) GetDatabaseConfig() *domain.DatabaseConfig {
	return &m.config.Database
}

// GetServerConfig returns server configuration
func (m *Manager) GetServerConfig() *domain.ServerConfig {
	return &m.config.Server
}

// GetMatchPredictionConfig returns engine configuration
func (m *Manager) GetMatchPredictionConfig() *domain.MatchPredictionConfig {
	return &m.config.MatchPrediction
}

// Reload reloads the configuration
func (m *Manager) Reload() error {
	return m.loadConfig()
}

// Validate validates the configuration
func (m *Manager) Validate() error {
	config := m.config

	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}
	if config.Server.TLSEnabled && (config.Server.CertFile == "" || config.Server.KeyFile == "") {
		return fmt.Errorf("TLS requires cert_file and key_file")
	}

	if config.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if config.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}
	if config.Database.Username == "" {
		return fmt.Errorf("database username is required")
	}

	if config.Dictionary.BaseURL == "" && config.Dictionary.StaticFile == "" {
		return fmt.Errorf("dictionary base_url or static_file is required")
	}
	if config.Dictionary.BaseURL != "" {
		if u, err := url.Parse(config.Dictionary.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid dictionary base URL: %s", config.Dictionary.BaseURL)
		}
	}
	if config.Dictionary.RateLimit <= 0 {
		return fmt.Errorf("dictionary rate limit must be positive: %d", config.Dictionary.RateLimit)
	}
	if config.Dictionary.RetryCount < 0 {
		return fmt.Errorf("dictionary retry count must not be negative: %d", config.Dictionary.RetryCount)
	}

	mp := config.MatchPrediction
	if mp.MaxGenotypeCount <= 0 {
		return fmt.Errorf("match_prediction.max_genotype_count must be positive: %d", mp.MaxGenotypeCount)
	}
	if mp.LikelihoodWorkers < 0 || mp.ReductionWorkers < 0 || mp.DonorWorkers < 0 {
		return fmt.Errorf("match_prediction worker counts must not be negative")
	}
	if mp.BatchTimeout < 0 {
		return fmt.Errorf("match_prediction.batch_timeout must not be negative: %s", mp.BatchTimeout)
	}
	if mp.DictionaryCacheSize <= 0 {
		return fmt.Errorf("match_prediction.dictionary_cache_size must be positive: %d", mp.DictionaryCacheSize)
	}
	switch mp.UntypedLocusPolicy {
	case domain.UntypedLocusAutoExclude, domain.UntypedLocusRequireExplicit:
	default:
		return fmt.Errorf("invalid untyped locus policy: %s", mp.UntypedLocusPolicy)
	}

	if _, err := logrus.ParseLevel(config.Logging.Level); err != nil {
		return fmt.Errorf("invalid log level: %s", config.Logging.Level)
	}
	switch strings.ToLower(config.Logging.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("invalid log format: %s", config.Logging.Format)
	}

	return nil
}

// GetDatabaseConnectionString returns a formatted database connection string
func (m *Manager) GetDatabaseConnectionString() string {
	db := m.config.Database
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		db.Host, db.Port, db.Username, db.Password, db.Database, db.SSLMode)
}

// GetDatabaseURL returns the database as a postgres:// URL
func (m *Manager) GetDatabaseURL() string {
	db := m.config.Database
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(db.Username, db.Password),
		Host:     fmt.Sprintf("%s:%d", db.Host, db.Port),
		Path:     "/" + db.Database,
		RawQuery: url.Values{"sslmode": []string{db.SSLMode}}.Encode(),
	}
	return u.String()
}

// GetRedisConnectionString returns the Redis connection string
func (m *Manager) GetRedisConnectionString() string {
	return m.config.Cache.RedisURL
}

// IsProduction returns true if running in production mode
func (m *Manager) IsProduction() bool {
	return strings.ToLower(m.config.Environment) == "production"
}

// IsDevelopment returns true if running in development mode
func (m *Manager) IsDevelopment() bool {
	env := strings.ToLower(m.config.Environment)
	return env == "development" || env == "dev" || env == ""
}
