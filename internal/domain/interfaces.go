package domain

import (
	"context"
)

// HlaMetadataDictionary resolves typing strings into the allele groups
// (P-group-equivalents) they may represent. Unresolvable input fails with
// *InvalidHlaError.
type HlaMetadataDictionary interface {
	Resolve(ctx context.Context, locus Locus, typing string, nomenclatureVersion string) ([]string, error)
}

// HaplotypeFrequencyRepository provides read-only access to haplotype
// frequency reference data.
type HaplotypeFrequencyRepository interface {
	// SelectActiveSet picks the active set for the population, falling back
	// from registry+ethnicity to registry only to the global set. Returns
	// *FrequencySetNotFoundError when nothing matches.
	SelectActiveSet(ctx context.Context, registryCode, ethnicityCode string) (*HaplotypeFrequencySet, error)

	// LoadFrequencies loads the full, immutable frequency table of a set
	LoadFrequencies(ctx context.Context, setID int64) (*HaplotypeFrequencyTable, error)
}

// MatchPredictor is the engine entry point used by the request layers
type MatchPredictor interface {
	CalculateMatchProbabilities(ctx context.Context, req *MatchProbabilityRequest) (*MatchProbabilityResponse, error)
	CalculateGenotypeLikelihoods(ctx context.Context, subject SubjectInput, excludedLoci []Locus, nomenclatureVersion string) (*GenotypeLikelihoods, error)
}

// ConfigManager defines the interface for configuration management
type ConfigManager interface {
	GetConfig() *Config
	GetDatabaseConfig() *DatabaseConfig
	GetServerConfig() *ServerConfig
	GetMatchPredictionConfig() *MatchPredictionConfig
	Reload() error
	Validate() error
	GetDatabaseConnectionString() string
	GetDatabaseURL() string
	GetRedisConnectionString() string
	IsProduction() bool
	IsDevelopment() bool
}
