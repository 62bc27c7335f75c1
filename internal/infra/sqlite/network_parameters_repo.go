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

// NetworkParametersRepository handles the append-only network parameters log.
type NetworkParametersRepository struct {
	db *sql.DB
}

func NewNetworkParametersRepository(db *sql.DB) *NetworkParametersRepository {
	return &NetworkParametersRepository{db: db}
}

const selectNetworkParameters = `
	SELECT id, hash, parameters, signature, created_at
	FROM network_parameters
`

func scanNetworkParameters(row interface{ Scan(...any) error }) (*model.NetworkParametersRecord, error) {
	var p model.NetworkParametersRecord
	var sig []byte
	if err := row.Scan(&p.ID, &p.Hash, &p.Parameters, &sig, &p.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("scan network_parameters: %w", err)
	}
	if len(sig) > 0 {
		p.Signature = sig
	}
	return &p, nil
}

// Create appends a parameters version and returns the stored record. An identical version is
// not appended again; a signature supplied for a stored unsigned version is attached to it.
func (r *NetworkParametersRepository) Create(ctx context.Context, p *model.NetworkParametersRecord) (*model.NetworkParametersRecord, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	const insert = `
		INSERT INTO network_parameters (hash, parameters, signature, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(hash) DO NOTHING
	`
	var sig []byte
	if p.Signed() {
		sig = p.Signature
	}
	res, err := tx.ExecContext(ctx, insert, p.Hash, p.Parameters, sig, p.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert network_parameters: %w", err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if inserted == 0 && sig != nil {
		const attach = `UPDATE network_parameters SET signature = ? WHERE hash = ? AND signature IS NULL`
		if _, err := tx.ExecContext(ctx, attach, sig, p.Hash); err != nil {
			return nil, fmt.Errorf("update network_parameters: %w", err)
		}
	}

	stored, err := scanNetworkParameters(tx.QueryRowContext(ctx, selectNetworkParameters+`WHERE hash = ?`, p.Hash))
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return stored, nil
}

func (r *NetworkParametersRepository) FindByHash(ctx context.Context, hash model.SecureHash) (*model.NetworkParametersRecord, error) {
	return scanNetworkParameters(r.db.QueryRowContext(ctx, selectNetworkParameters+`WHERE hash = ?`, hash))
}

// FindLatest returns the most recently inserted version, signed or not.
func (r *NetworkParametersRepository) FindLatest(ctx context.Context) (*model.NetworkParametersRecord, error) {
	return scanNetworkParameters(r.db.QueryRowContext(ctx, selectNetworkParameters+`ORDER BY id DESC LIMIT 1`))
}

// FindLatestSigned returns the most recently inserted signed version.
func (r *NetworkParametersRepository) FindLatestSigned(ctx context.Context) (*model.NetworkParametersRecord, error) {
	return scanNetworkParameters(r.db.QueryRowContext(ctx, selectNetworkParameters+`WHERE signature IS NOT NULL ORDER BY id DESC LIMIT 1`))
}

// AttachSignature signs a stored unsigned version.
func (r *NetworkParametersRepository) AttachSignature(ctx context.Context, hash model.SecureHash, sig model.Signature) error {
	const q = `
		UPDATE network_parameters
		SET signature = ?
		WHERE hash = ? AND signature IS NULL
	`
	res, err := r.db.ExecContext(ctx, q, []byte(sig), hash)
	if err != nil {
		return fmt.Errorf("update network_parameters: %w", err)
	}
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		if _, err := r.FindByHash(ctx, hash); err != nil {
			return err
		}
		return domain.ErrAlreadySigned
	}
	return nil
}
