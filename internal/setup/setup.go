package setup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hla-match-prediction/internal/config"
	"github.com/hla-match-prediction/internal/domain"
	"github.com/hla-match-prediction/internal/frequencies"
	"github.com/hla-match-prediction/pkg/external"
)

// warningPrefix marks issues that do not stop the server from running
const warningPrefix = "warning: "

// Status describes the lite server's data directory
type Status struct {
	DataDir           string
	DataDirExists     bool
	DictionaryPath    string
	DictionaryVersion string
	DictionaryError   string
	FrequencyDBPath   string
	FrequencyDBExists bool
	Sets              []domain.HaplotypeFrequencySet
	Issues            []string
}

// HasGlobalSet reports whether an active set with no population codes exists
func (s *Status) HasGlobalSet() bool {
	for _, set := range s.Sets {
		if set.Active && set.RegistryCode == "" && set.EthnicityCode == "" {
			return true
		}
	}
	return false
}

// GetStatus inspects the data directory without creating anything
func GetStatus(ctx context.Context, cfg *config.LiteConfig) (*Status, error) {
	status := &Status{
		DataDir:         cfg.DataDir,
		DictionaryPath:  cfg.DictionaryPath(),
		FrequencyDBPath: cfg.FrequencyDBPath(),
		Issues:          []string{},
	}

	if _, err := os.Stat(status.DataDir); err == nil {
		status.DataDirExists = true
	} else {
		status.Issues = append(status.Issues, warningPrefix+fmt.Sprintf("data directory will be created on first run: %s", status.DataDir))
	}

	dictionary, err := external.LoadStaticDictionary(status.DictionaryPath)
	if err != nil {
		status.DictionaryError = err.Error()
		status.Issues = append(status.Issues, fmt.Sprintf("dictionary unusable: %v", err))
	} else {
		status.DictionaryVersion = dictionary.Version()
	}

	if _, err := os.Stat(status.FrequencyDBPath); err != nil {
		status.Issues = append(status.Issues, "no frequency sets imported")
		return status, nil
	}
	status.FrequencyDBExists = true

	store, err := frequencies.NewSQLiteStore(status.FrequencyDBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open frequency store: %w", err)
	}
	defer store.Close()

	sets, err := store.ListSets(ctx)
	if err != nil {
		return nil, err
	}
	status.Sets = sets

	switch {
	case len(sets) == 0:
		status.Issues = append(status.Issues, "no frequency sets imported")
	case !status.HasGlobalSet():
		status.Issues = append(status.Issues, warningPrefix+"no global frequency set; subjects outside the imported populations cannot be predicted")
	}
	for _, set := range sets {
		if status.DictionaryVersion != "" && set.Active && set.HlaNomenclatureVersion != status.DictionaryVersion {
			status.Issues = append(status.Issues, warningPrefix+fmt.Sprintf(
				"frequency set %d uses nomenclature %s, dictionary is %s", set.ID, set.HlaNomenclatureVersion, status.DictionaryVersion))
		}
	}

	return status, nil
}

// Validate checks whether the lite server can answer predictions
func Validate(ctx context.Context, cfg *config.LiteConfig) (bool, []string) {
	status, err := GetStatus(ctx, cfg)
	if err != nil {
		return false, []string{err.Error()}
	}
	return allWarnings(status.Issues), status.Issues
}

// allWarnings returns true if all issues are just warnings (not errors).
func allWarnings(issues []string) bool {
	for _, issue := range issues {
		if !strings.HasPrefix(issue, warningPrefix) {
			return false
		}
	}
	return true
}

// ImportFile loads a frequency set export into the lite store
func ImportFile(ctx context.Context, cfg *config.LiteConfig, path string) (*domain.HaplotypeFrequencySet, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open import file: %w", err)
	}
	defer file.Close()

	if err := cfg.EnsureDataDir(); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	store, err := frequencies.NewSQLiteStore(cfg.FrequencyDBPath())
	if err != nil {
		return nil, fmt.Errorf("failed to open frequency store: %w", err)
	}
	defer store.Close()

	return store.ImportJSON(ctx, file)
}

// ExportSet writes a stored set to path. An empty path writes into the
// export directory.
func ExportSet(ctx context.Context, cfg *config.LiteConfig, setID int64, path string) (string, error) {
	if err := cfg.EnsureDataDir(); err != nil {
		return "", fmt.Errorf("failed to create data directory: %w", err)
	}
	if path == "" {
		path = filepath.Join(cfg.ExportDir(),
			fmt.Sprintf("frequency_set_%d_%s.json", setID, time.Now().Format("20060102_150405")))
	}

	store, err := frequencies.NewSQLiteStore(cfg.FrequencyDBPath())
	if err != nil {
		return "", fmt.Errorf("failed to open frequency store: %w", err)
	}
	defer store.Close()

	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create export file: %w", err)
	}
	exportErr := store.ExportJSON(ctx, setID, file)
	closeErr := file.Close()
	if err := errors.Join(exportErr, closeErr); err != nil {
		_ = os.Remove(path)
		return "", err
	}
	return path, nil
}

// ListSets returns every stored set in import order
func ListSets(ctx context.Context, cfg *config.LiteConfig) ([]domain.HaplotypeFrequencySet, error) {
	if _, err := os.Stat(cfg.FrequencyDBPath()); err != nil {
		return nil, nil
	}
	store, err := frequencies.NewSQLiteStore(cfg.FrequencyDBPath())
	if err != nil {
		return nil, fmt.Errorf("failed to open frequency store: %w", err)
	}
	defer store.Close()
	return store.ListSets(ctx)
}
