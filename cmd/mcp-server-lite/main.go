// Package main provides the lightweight entry point for the HLA match
// prediction MCP server. It needs no database server: frequencies live in
// SQLite and typings are resolved from a static dictionary.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/hla-match-prediction/internal/config"
	"github.com/hla-match-prediction/internal/mcp"
	"github.com/hla-match-prediction/internal/setup"
)

func main() {
	// Load lightweight configuration
	cfg := config.LoadLiteConfig()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Check for setup subcommand
	if len(os.Args) > 1 && os.Args[1] == "setup" {
		cli := setup.NewCLI(cfg, os.Stdout)
		if err := cli.Run(ctx, os.Args[2:]); err != nil {
			log.Fatalf("Setup failed: %v", err)
		}
		return
	}

	logger, err := config.NewLogger(cfg.LoggingConfig())
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	logger.WithField("data_dir", cfg.DataDir).Info("Starting HLA match prediction MCP server (lite)")

	server, err := mcp.NewLiteServer(cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create MCP server")
	}
	defer server.Close()

	if err := server.Run(ctx); err != nil {
		logger.WithError(err).Error("MCP server failed")
		return
	}

	logger.Info("MCP server stopped")
}
