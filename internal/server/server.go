/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package server

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/kentakayama/netmap-over-http/internal/config"
	"github.com/kentakayama/netmap-over-http/internal/domain"
	"github.com/kentakayama/netmap-over-http/internal/domain/service"
	"github.com/kentakayama/netmap-over-http/internal/infra/sqlite"
	"github.com/kentakayama/netmap-over-http/internal/keys"
	"github.com/kentakayama/netmap-over-http/internal/netmap"
	"github.com/kentakayama/netmap-over-http/internal/signed"
	"go.uber.org/zap"
)

// Server wires the HTTP listener, the persistence backend and the periodic network map signer.
type Server struct {
	cfg     config.ServerConfig
	handler *handler
	http    *http.Server
	signer  *netmap.Signer
	logger  *zap.Logger
	db      *sql.DB

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	done      chan struct{}
}

// New constructs a Server backed by the SQLite database named in cfg.
func New(ctx context.Context, cfg config.ServerConfig, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	key, err := keys.Load(cfg.NetworkMapKeyPath)
	if err != nil {
		return nil, err
	}

	db, err := sqlite.InitDB(ctx, cfg.DBPath)
	if err != nil {
		return nil, err
	}

	s := newServer(cfg, sqlite.NewRepositories(db), key, logger)
	s.db = db
	return s, nil
}

func newServer(cfg config.ServerConfig, repos service.Repositories, key signed.Signer, logger *zap.Logger) *Server {
	h := newHandler(
		netmap.NewNodeInfoStorage(repos, logger),
		netmap.NewNetworkMapStorage(repos, logger),
		logger,
	)
	return &Server{
		cfg:     cfg,
		handler: h,
		http: &http.Server{
			Addr:              cfg.Addr,
			Handler:           h,
			ReadHeaderTimeout: 5 * time.Second,
		},
		signer: netmap.NewSigner(repos, key, logger),
		logger: logger,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// ListenAndServe starts the signing loop and the HTTP server, and blocks until the server stops.
func (s *Server) ListenAndServe() error {
	s.startOnce.Do(func() {
		go s.signLoop(time.Duration(s.cfg.SigningInterval))
	})

	s.logger.Info("network map server started", zap.String("addr", s.http.Addr))
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) signLoop(interval time.Duration) {
	defer close(s.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		s.signOnce(context.Background())
		select {
		case <-s.stop:
			return
		case <-ticker.C:
		}
	}
}

// signOnce runs one signing round and logs its outcome.
func (s *Server) signOnce(ctx context.Context) bool {
	published, err := s.signer.SignNetworkMap(ctx)
	switch {
	case errors.Is(err, domain.ErrNoNetworkParameters):
		s.logger.Debug("no signed network parameters yet, skipping network map signing")
	case errors.Is(err, domain.ErrDanglingParametersReference):
		s.logger.Error("network map references unknown parameters", zap.Error(err))
	case err != nil:
		s.logger.Warn("network map signing failed", zap.Error(err))
	case published:
		s.logger.Info("published new network map")
	}
	return published
}

// Shutdown stops the signing loop, gracefully takes down the HTTP server and closes the database.
func (s *Server) Shutdown(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.stop) })
	// never started
	s.startOnce.Do(func() { close(s.done) })

	err := s.http.Shutdown(ctx)

	select {
	case <-s.done:
	case <-ctx.Done():
		if err == nil {
			err = ctx.Err()
		}
	}

	if s.db != nil {
		if cerr := sqlite.CloseDB(s.db); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}
