/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/kentakayama/netmap-over-http/internal/config"
	"github.com/kentakayama/netmap-over-http/internal/domain/service"
	"github.com/kentakayama/netmap-over-http/internal/infra/sqlite"
	"github.com/kentakayama/netmap-over-http/internal/infra/x509path"
	"github.com/kentakayama/netmap-over-http/internal/keys"
	"github.com/kentakayama/netmap-over-http/internal/netmap"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	configFile string
	dbPath     string
	keyPath    string
	verbose    bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "netmapd",
		Short: "Network map directory server",
		Long: `Serves the signed network map, node infos and network parameters over HTTP,
and administers certificate requests and network parameters on the same database.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "database path (overrides config)")
	rootCmd.PersistentFlags().StringVar(&keyPath, "key", "", "network map private key path (overrides config)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")

	rootCmd.AddCommand(
		serveCmd(),
		keygenCmd(),
		parametersCmd(),
		requestCmd(),
		publishCmd(),
		nodeInfosCmd(),
		inspectCmd(),
		clientCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func setupLogger(verbose bool) *zap.Logger {
	config := zap.NewProductionConfig()
	if verbose {
		config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	} else {
		config.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}

	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := config.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

// loadConfig reads --config over the defaults and applies the --db and --key overrides.
func loadConfig() (config.ServerConfig, error) {
	cfg := config.Default()
	if configFile != "" {
		loaded, err := config.Load(configFile)
		if err != nil {
			return cfg, fmt.Errorf("failed to load config: %w", err)
		}
		cfg = *loaded
	}
	if dbPath != "" {
		cfg.DBPath = dbPath
	}
	if keyPath != "" {
		cfg.NetworkMapKeyPath = keyPath
	}
	return cfg, nil
}

// services is the admin view of the database shared with a running server.
type services struct {
	db       *sql.DB
	repos    service.Repositories
	nodes    *netmap.NodeInfoStorage
	maps     *netmap.NetworkMapStorage
	requests *netmap.RequestStorage
	logger   *zap.Logger
}

func openServices(ctx context.Context, cfg config.ServerConfig, logger *zap.Logger) (*services, error) {
	var validator netmap.CertPathValidator
	if cfg.RootCertPath != "" {
		root, err := x509path.LoadRoot(cfg.RootCertPath)
		if err != nil {
			return nil, err
		}
		validator = x509path.NewValidator(root)
	}

	db, err := sqlite.InitDB(ctx, cfg.DBPath)
	if err != nil {
		return nil, err
	}
	repos := sqlite.NewRepositories(db)
	return &services{
		db:       db,
		repos:    repos,
		nodes:    netmap.NewNodeInfoStorage(repos, logger),
		maps:     netmap.NewNetworkMapStorage(repos, logger),
		requests: netmap.NewRequestStorage(repos, validator, logger),
		logger:   logger,
	}, nil
}

func (s *services) Close() error {
	return sqlite.CloseDB(s.db)
}

// withServices runs f against the configured database.
func withServices(cmd *cobra.Command, f func(ctx context.Context, s *services, cfg config.ServerConfig) error) error {
	logger := setupLogger(verbose)
	defer logger.Sync()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	s, err := openServices(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer s.Close()
	return f(cmd.Context(), s, cfg)
}

func loadNetworkMapKey(cfg config.ServerConfig) (*keys.KeyPair, error) {
	if cfg.NetworkMapKeyPath == "" {
		return nil, fmt.Errorf("network map key is required (--key or network_map_key_path)")
	}
	return keys.Load(cfg.NetworkMapKeyPath)
}
