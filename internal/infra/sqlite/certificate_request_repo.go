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
	"time"

	"github.com/kentakayama/netmap-over-http/internal/domain"
	"github.com/kentakayama/netmap-over-http/internal/domain/model"
	"github.com/kentakayama/netmap-over-http/internal/serialization"
)

// CertificateRequestRepository handles certificate request persistence.
type CertificateRequestRepository struct {
	db *sql.DB
}

func NewCertificateRequestRepository(db *sql.DB) *CertificateRequestRepository {
	return &CertificateRequestRepository{db: db}
}

// Create inserts a new certificate request.
func (r *CertificateRequestRepository) Create(ctx context.Context, req *model.CertificateRequest) error {
	publicKey, err := req.PublicKey.Encoded()
	if err != nil {
		return fmt.Errorf("encode public key: %w", err)
	}
	const q = `
		INSERT INTO certificate_requests (id, legal_name, public_key, public_key_hash, status, modified_by, remark, created_at, modified_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = r.db.ExecContext(ctx, q, req.ID, req.LegalName, publicKey, req.PublicKeyHash, req.Status,
		req.ModifiedBy, req.Remark, req.CreatedAt, req.ModifiedAt)
	if err != nil {
		return fmt.Errorf("insert certificate_request: %w", err)
	}
	return nil
}

// FindByID returns a certificate request by its ID.
func (r *CertificateRequestRepository) FindByID(ctx context.Context, id string) (*model.CertificateRequest, error) {
	const q = `
		SELECT id, legal_name, public_key, public_key_hash, status, modified_by, remark,
		       certificate_path, certificate_status, created_at, modified_at
		FROM certificate_requests
		WHERE id = ?
		LIMIT 1
	`
	var req model.CertificateRequest
	var publicKey, certPath []byte
	var certStatus sql.NullInt64
	err := r.db.QueryRowContext(ctx, q, id).Scan(&req.ID, &req.LegalName, &publicKey, &req.PublicKeyHash,
		&req.Status, &req.ModifiedBy, &req.Remark, &certPath, &certStatus, &req.CreatedAt, &req.ModifiedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("scan certificate_request: %w", err)
	}

	if err := serialization.Unmarshal(publicKey, &req.PublicKey); err != nil {
		return nil, fmt.Errorf("decode public key: %w", err)
	}
	if certPath != nil {
		if err := serialization.Unmarshal(certPath, &req.CertPath); err != nil {
			return nil, fmt.Errorf("decode certificate path: %w", err)
		}
	}
	if certStatus.Valid {
		s := model.CertificateStatus(certStatus.Int64)
		req.CertificateStatus = &s
	}
	return &req, nil
}

// UpdateStatus moves a request from status from to status to.
func (r *CertificateRequestRepository) UpdateStatus(ctx context.Context, id string, from, to model.RequestStatus, modifiedBy, remark string) error {
	const q = `
		UPDATE certificate_requests
		SET status = ?, modified_by = ?, remark = ?, modified_at = ?
		WHERE id = ? AND status = ?
	`
	res, err := r.db.ExecContext(ctx, q, to, modifiedBy, remark, time.Now().UTC(), id, from)
	if err != nil {
		return fmt.Errorf("update certificate_request: %w", err)
	}
	return r.checkUpdated(ctx, res, id)
}

// PutCertificatePath attaches a certificate path to an approved request and marks the certificate valid.
func (r *CertificateRequestRepository) PutCertificatePath(ctx context.Context, id string, path model.CertPath) error {
	encoded, err := serialization.Marshal(path)
	if err != nil {
		return fmt.Errorf("encode certificate path: %w", err)
	}
	const q = `
		UPDATE certificate_requests
		SET certificate_path = ?, certificate_status = ?, modified_at = ?
		WHERE id = ? AND status = ? AND certificate_path IS NULL
	`
	res, err := r.db.ExecContext(ctx, q, encoded, model.CertificateStatusValid, time.Now().UTC(), id, model.RequestStatusApproved)
	if err != nil {
		return fmt.Errorf("update certificate_request: %w", err)
	}
	return r.checkUpdated(ctx, res, id)
}

// UpdateCertificateStatus changes the status of an attached certificate.
func (r *CertificateRequestRepository) UpdateCertificateStatus(ctx context.Context, id string, status model.CertificateStatus) error {
	const q = `
		UPDATE certificate_requests
		SET certificate_status = ?, modified_at = ?
		WHERE id = ? AND certificate_path IS NOT NULL
	`
	res, err := r.db.ExecContext(ctx, q, status, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update certificate_request: %w", err)
	}
	return r.checkUpdated(ctx, res, id)
}

// checkUpdated tells a missing request apart from one that is in the wrong state.
func (r *CertificateRequestRepository) checkUpdated(ctx context.Context, res sql.Result, id string) error {
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected > 0 {
		return nil
	}
	if _, err := r.FindByID(ctx, id); err != nil {
		return err
	}
	return domain.ErrInvalidTransition
}
