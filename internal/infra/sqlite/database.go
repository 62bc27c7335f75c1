/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/kentakayama/netmap-over-http/internal/domain/service"
	_ "github.com/mattn/go-sqlite3"
)

const memoryDBPath = ":memory:"

// InitDB initializes the SQLite database and creates necessary tables.
func InitDB(ctx context.Context, dbPath string) (*sql.DB, error) {
	dsn := memoryDBPath
	if dbPath != memoryDBPath {
		// immediate transactions take the write lock up front, so a publish never fails
		// half way through on a lock upgrade. Per-connection pragmas go in the DSN so every
		// pooled connection gets them.
		dsn = fmt.Sprintf("file:%s?_txlock=immediate&_busy_timeout=5000&_foreign_keys=on&_synchronous=NORMAL", dbPath)
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Verify the connection
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Configure connection pool
	if dbPath == memoryDBPath {
		// every connection to :memory: is a separate database
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
	}

	// NOTE: Some pragmas are persistent per DB file (journal_mode) and return a row.
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set PRAGMA foreign_keys: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set PRAGMA journal_mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA synchronous = NORMAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set PRAGMA synchronous: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set PRAGMA busy_timeout: %w", err)
	}

	// Create tables and indexes
	if err := createSchema(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return db, nil
}

// createSchema creates all necessary database tables.
func createSchema(ctx context.Context, db *sql.DB) error {
	schema := `
	-- Certificate signing requests and their lifecycle
	CREATE TABLE IF NOT EXISTS certificate_requests (
		id TEXT PRIMARY KEY,
		legal_name TEXT NOT NULL,
		public_key BLOB NOT NULL,
		public_key_hash BLOB NOT NULL,
		status INTEGER NOT NULL,
		modified_by TEXT NOT NULL DEFAULT '',
		remark TEXT NOT NULL DEFAULT '',
		certificate_path BLOB NULLABLE, -- set once the request is approved
		certificate_status INTEGER NULLABLE,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		modified_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_certificate_requests_public_key_hash ON certificate_requests(public_key_hash);
	CREATE INDEX IF NOT EXISTS idx_certificate_requests_status ON certificate_requests(status, certificate_status);

	-- Signed node infos, content addressed
	CREATE TABLE IF NOT EXISTS node_infos (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		hash BLOB UNIQUE NOT NULL,
		signed_node_info BLOB NOT NULL,
		public_key_hash BLOB NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	-- Expecting "latest node info per key" lookups
	CREATE INDEX IF NOT EXISTS idx_node_infos_public_key_hash ON node_infos(public_key_hash, id);

	-- Append-only network parameters log; id is the insertion order
	CREATE TABLE IF NOT EXISTS network_parameters (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		hash BLOB UNIQUE NOT NULL,
		parameters BLOB NOT NULL,
		signature BLOB NULLABLE, -- NULL while the version is an unsigned candidate
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	-- Published network maps
	CREATE TABLE IF NOT EXISTS network_maps (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		hash BLOB UNIQUE NOT NULL,
		network_map BLOB NOT NULL,
		signature BLOB NOT NULL,
		network_parameters_hash BLOB NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		-- table constraints (placed after column definitions for compatibility)
		FOREIGN KEY (network_parameters_hash) REFERENCES network_parameters(hash)
	);

	-- Current pointers, one row per kind
	CREATE TABLE IF NOT EXISTS current_pointers (
		kind TEXT PRIMARY KEY,
		hash BLOB NOT NULL
	);
	`

	// Execute schema using transaction
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// CloseDB closes the database connection.
func CloseDB(db *sql.DB) error {
	if db == nil {
		return nil
	}
	return db.Close()
}

// NewRepositories returns the SQLite backed persistence collaborator.
func NewRepositories(db *sql.DB) service.Repositories {
	return service.Repositories{
		NodeInfos:         NewNodeInfoRepository(db),
		NetworkParameters: NewNetworkParametersRepository(db),
		NetworkMaps:       NewNetworkMapRepository(db),
		Requests:          NewCertificateRequestRepository(db),
	}
}
