/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kentakayama/netmap-over-http/internal/domain"
	"github.com/kentakayama/netmap-over-http/internal/domain/model"
)

const currentNetworkMapKind = "network_map"

// NetworkMapRepository handles published network maps and the current network map pointer.
type NetworkMapRepository struct {
	db *sql.DB
}

func NewNetworkMapRepository(db *sql.DB) *NetworkMapRepository {
	return &NetworkMapRepository{db: db}
}

// Publish stores the network map and moves the current pointer to it in one transaction.
func (r *NetworkMapRepository) Publish(ctx context.Context, m *model.NetworkMapRecord) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM network_parameters WHERE hash = ?`, m.NetworkParametersHash).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", domain.ErrDanglingParametersReference, m.NetworkParametersHash)
	}
	if err != nil {
		return fmt.Errorf("lookup network_parameters: %w", err)
	}

	const insert = `
		INSERT INTO network_maps (hash, network_map, signature, network_parameters_hash, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(hash) DO NOTHING
	`
	if _, err := tx.ExecContext(ctx, insert, m.Hash, m.NetworkMap, []byte(m.Signature), m.NetworkParametersHash, m.CreatedAt); err != nil {
		return fmt.Errorf("insert network_map: %w", err)
	}

	const pointer = `
		INSERT INTO current_pointers (kind, hash)
		VALUES (?, ?)
		ON CONFLICT(kind) DO UPDATE SET hash = excluded.hash
	`
	if _, err := tx.ExecContext(ctx, pointer, currentNetworkMapKind, m.Hash); err != nil {
		return fmt.Errorf("update current network_map: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (r *NetworkMapRepository) FindByHash(ctx context.Context, hash model.SecureHash) (*model.NetworkMapRecord, error) {
	const q = `
		SELECT id, hash, network_map, signature, network_parameters_hash, created_at
		FROM network_maps
		WHERE hash = ?
		LIMIT 1
	`
	var m model.NetworkMapRecord
	var sig []byte
	err := r.db.QueryRowContext(ctx, q, hash).Scan(&m.ID, &m.Hash, &m.NetworkMap, &sig, &m.NetworkParametersHash, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("scan network_map: %w", err)
	}
	m.Signature = sig
	return &m, nil
}

// FindCurrent returns the current network map together with the parameters it references.
// Both come from one statement, so a concurrent Publish is observed entirely or not at all.
func (r *NetworkMapRepository) FindCurrent(ctx context.Context) (*model.NetworkMapRecord, *model.NetworkParametersRecord, error) {
	const q = `
		SELECT m.id, m.hash, m.network_map, m.signature, m.network_parameters_hash, m.created_at,
		       p.id, p.hash, p.parameters, p.signature, p.created_at
		FROM current_pointers c
		JOIN network_maps m ON m.hash = c.hash
		JOIN network_parameters p ON p.hash = m.network_parameters_hash
		WHERE c.kind = ?
	`
	var m model.NetworkMapRecord
	var p model.NetworkParametersRecord
	var mapSig, paramsSig []byte
	err := r.db.QueryRowContext(ctx, q, currentNetworkMapKind).Scan(
		&m.ID, &m.Hash, &m.NetworkMap, &mapSig, &m.NetworkParametersHash, &m.CreatedAt,
		&p.ID, &p.Hash, &p.Parameters, &paramsSig, &p.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, domain.ErrNotFound
		}
		return nil, nil, fmt.Errorf("scan current network_map: %w", err)
	}
	m.Signature = mapSig
	if len(paramsSig) > 0 {
		p.Signature = paramsSig
	}
	return &m, &p, nil
}
