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

// NodeInfoRepository handles signed node info persistence.
type NodeInfoRepository struct {
	db *sql.DB
}

func NewNodeInfoRepository(db *sql.DB) *NodeInfoRepository {
	return &NodeInfoRepository{db: db}
}

// Put inserts a signed node info. A record with the same hash is left as is.
func (r *NodeInfoRepository) Put(ctx context.Context, n *model.NodeInfoRecord) error {
	const q = `
		INSERT INTO node_infos (hash, signed_node_info, public_key_hash, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(hash) DO NOTHING
	`
	if _, err := r.db.ExecContext(ctx, q, n.Hash, n.SignedNodeInfo, n.PublicKeyHash, n.CreatedAt); err != nil {
		return fmt.Errorf("insert node_info: %w", err)
	}
	return nil
}

func (r *NodeInfoRepository) FindByHash(ctx context.Context, hash model.SecureHash) (*model.NodeInfoRecord, error) {
	const q = `
		SELECT id, hash, signed_node_info, public_key_hash, created_at
		FROM node_infos
		WHERE hash = ?
		LIMIT 1
	`
	row := r.db.QueryRowContext(ctx, q, hash)
	var n model.NodeInfoRecord
	if err := row.Scan(&n.ID, &n.Hash, &n.SignedNodeInfo, &n.PublicKeyHash, &n.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("scan node_info: %w", err)
	}
	return &n, nil
}

// ReplaceSignedNodeInfo overwrites the signed node info stored under hash.
func (r *NodeInfoRepository) ReplaceSignedNodeInfo(ctx context.Context, hash model.SecureHash, signedNodeInfo []byte) error {
	const q = `UPDATE node_infos SET signed_node_info = ? WHERE hash = ?`
	res, err := r.db.ExecContext(ctx, q, signedNodeInfo, hash)
	if err != nil {
		return fmt.Errorf("update node_info: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListHashesByCertificateStatus returns every stored node info of a key whose approved request
// has a certificate in status.
func (r *NodeInfoRepository) ListHashesByCertificateStatus(ctx context.Context, status model.CertificateStatus) ([]model.SecureHash, error) {
	const q = `
		SELECT DISTINCT n.hash, n.id
		FROM node_infos n
		JOIN certificate_requests c ON c.public_key_hash = n.public_key_hash
		WHERE c.status = ?
		  AND c.certificate_path IS NOT NULL
		  AND c.certificate_status = ?
		ORDER BY n.id
	`
	return r.queryHashes(ctx, q, model.RequestStatusApproved, status)
}

// ListLatestHashesByCertificateStatus returns, for every approved request whose certificate is in
// status, the most recently stored node info of that key.
func (r *NodeInfoRepository) ListLatestHashesByCertificateStatus(ctx context.Context, status model.CertificateStatus) ([]model.SecureHash, error) {
	const q = `
		SELECT DISTINCT n.hash, n.id
		FROM node_infos n
		JOIN certificate_requests c ON c.public_key_hash = n.public_key_hash
		WHERE c.status = ?
		  AND c.certificate_path IS NOT NULL
		  AND c.certificate_status = ?
		  AND n.id = (SELECT MAX(n2.id) FROM node_infos n2 WHERE n2.public_key_hash = n.public_key_hash)
		ORDER BY n.id
	`
	return r.queryHashes(ctx, q, model.RequestStatusApproved, status)
}

func (r *NodeInfoRepository) queryHashes(ctx context.Context, q string, args ...any) ([]model.SecureHash, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query node_infos: %w", err)
	}
	defer rows.Close()

	var hashes []model.SecureHash
	for rows.Next() {
		var h model.SecureHash
		var id int64
		if err := rows.Scan(&h, &id); err != nil {
			return nil, fmt.Errorf("scan node_info hash: %w", err)
		}
		hashes = append(hashes, h)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return hashes, nil
}
