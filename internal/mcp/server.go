// Package mcp exposes the match prediction engine as MCP tools.
package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	"github.com/hla-match-prediction/internal/config"
	"github.com/hla-match-prediction/internal/domain"
	"github.com/hla-match-prediction/internal/frequencies"
	"github.com/hla-match-prediction/internal/metrics"
	"github.com/hla-match-prediction/internal/service"
	"github.com/hla-match-prediction/pkg/external"
)

const (
	serverName    = "hla-match-prediction"
	serverVersion = "v1.0.0"
)

// Server is an MCP server over a match predictor and a frequency store
type Server struct {
	predictor domain.MatchPredictor
	store     frequencies.Store
	exportDir string
	mcpServer *mcp.Server
	logger    *logrus.Logger
}

// NewServer creates the MCP server and registers its tools
func NewServer(predictor domain.MatchPredictor, store frequencies.Store, exportDir string, logger *logrus.Logger) *Server {
	s := &Server{
		predictor: predictor,
		store:     store,
		exportDir: exportDir,
		logger:    logger,
	}

	s.mcpServer = mcp.NewServer(&mcp.Implementation{
		Name:    serverName,
		Version: serverVersion,
	}, nil)
	s.registerTools()

	return s
}

// NewLiteServer wires a server that needs no external services: frequencies
// live in SQLite under the data directory and typings are resolved from the
// static dictionary file.
func NewLiteServer(cfg *config.LiteConfig, logger *logrus.Logger) (*Server, error) {
	if err := cfg.EnsureDataDir(); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dictionary, err := external.LoadStaticDictionary(cfg.DictionaryPath())
	if err != nil {
		return nil, fmt.Errorf("failed to load dictionary: %w", err)
	}

	store, err := frequencies.NewSQLiteStore(cfg.FrequencyDBPath())
	if err != nil {
		return nil, fmt.Errorf("failed to create frequency store: %w", err)
	}

	engineConfig := cfg.MatchPredictionConfig()
	if engineConfig.DefaultNomenclatureVersion == "" {
		engineConfig.DefaultNomenclatureVersion = dictionary.Version()
	}

	predictor := service.NewMatchProbabilityService(dictionary, store, engineConfig, metrics.New(), logger)

	logger.WithFields(logrus.Fields{
		"data_dir":             cfg.DataDir,
		"nomenclature_version": engineConfig.DefaultNomenclatureVersion,
	}).Info("Lite server initialized")

	return NewServer(predictor, store, cfg.ExportDir(), logger), nil
}

// Run serves MCP over stdio until ctx is cancelled or the client disconnects
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("Starting HLA match prediction MCP server")
	if err := s.mcpServer.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("MCP server failed: %w", err)
	}
	return nil
}

// Close releases the frequency store
func (s *Server) Close() error {
	if s.store == nil {
		return nil
	}
	return s.store.Close()
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "calculate_match_probability",
		Description: "Predict the probability that each donor matches the patient at 0, 1 and 2 mismatches, with per-locus match probabilities.",
	}, s.handleMatchProbability)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "calculate_genotype_likelihood",
		Description: "Return the normalized genotype likelihood distribution for one ambiguous HLA typing.",
	}, s.handleGenotypeLikelihood)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "list_frequency_sets",
		Description: "List the stored haplotype frequency sets, or show which set applies to a registry and ethnicity.",
	}, s.handleListFrequencySets)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "import_frequency_set",
		Description: "Import a haplotype frequency set from a JSON export file. The new set becomes active for its population.",
	}, s.handleImportFrequencySet)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "export_frequency_set",
		Description: "Export a haplotype frequency set to a JSON file for backup or transfer.",
	}, s.handleExportFrequencySet)

	s.logger.WithField("tool_count", 5).Debug("Registered MCP tools")
}
