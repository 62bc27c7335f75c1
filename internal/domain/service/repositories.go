/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package service

import (
	"context"

	"github.com/kentakayama/netmap-over-http/internal/domain/model"
)

// NodeInfoRepository defines the interface for signed node info persistence.
// Records are keyed by content hash. The payload of a record never changes.
type NodeInfoRepository interface {
	// Put stores the record; storing an existing hash again is a no-op.
	Put(ctx context.Context, n *model.NodeInfoRecord) error
	// ReplaceSignedNodeInfo overwrites the stored artifact of an existing hash, keeping its
	// insertion order. It fails with domain.ErrNotFound for an unknown hash.
	ReplaceSignedNodeInfo(ctx context.Context, hash model.SecureHash, signedNodeInfo []byte) error
	FindByHash(ctx context.Context, hash model.SecureHash) (*model.NodeInfoRecord, error)
	// ListHashesByCertificateStatus returns every node info, in insertion order, of a key whose
	// certificate request is approved with a certificate path in the given status.
	ListHashesByCertificateStatus(ctx context.Context, status model.CertificateStatus) ([]model.SecureHash, error)
	// ListLatestHashesByCertificateStatus is ListHashesByCertificateStatus narrowed to the most
	// recently stored node info of each key.
	ListLatestHashesByCertificateStatus(ctx context.Context, status model.CertificateStatus) ([]model.SecureHash, error)
}

// NetworkParametersRepository defines the interface for the append-only network parameters log.
type NetworkParametersRepository interface {
	// Create appends a version. If the hash already exists nothing is appended, and a signature
	// is attached to a stored unsigned version. The stored record is returned.
	Create(ctx context.Context, p *model.NetworkParametersRecord) (*model.NetworkParametersRecord, error)
	FindByHash(ctx context.Context, hash model.SecureHash) (*model.NetworkParametersRecord, error)
	FindLatest(ctx context.Context) (*model.NetworkParametersRecord, error)
	FindLatestSigned(ctx context.Context) (*model.NetworkParametersRecord, error)
	AttachSignature(ctx context.Context, hash model.SecureHash, sig model.Signature) error
}

// NetworkMapRepository defines the interface for published network maps and the current pointer.
type NetworkMapRepository interface {
	// Publish stores m and makes it current in one atomic step. It fails with
	// domain.ErrDanglingParametersReference, leaving the current map untouched, when
	// m.NetworkParametersHash is not stored.
	Publish(ctx context.Context, m *model.NetworkMapRecord) error
	FindByHash(ctx context.Context, hash model.SecureHash) (*model.NetworkMapRecord, error)
	// FindCurrent returns the current map and the parameters it references from a single read.
	FindCurrent(ctx context.Context) (*model.NetworkMapRecord, *model.NetworkParametersRecord, error)
}

// CertificateRequestRepository defines the interface for certificate request persistence.
type CertificateRequestRepository interface {
	Create(ctx context.Context, r *model.CertificateRequest) error
	FindByID(ctx context.Context, id string) (*model.CertificateRequest, error)
	// UpdateStatus moves a request from one status to another, failing with
	// domain.ErrInvalidTransition if the request is no longer in status from.
	UpdateStatus(ctx context.Context, id string, from, to model.RequestStatus, modifiedBy, remark string) error
	PutCertificatePath(ctx context.Context, id string, path model.CertPath) error
	UpdateCertificateStatus(ctx context.Context, id string, status model.CertificateStatus) error
}

// Repositories bundles the persistence collaborator.
type Repositories struct {
	NodeInfos         NodeInfoRepository
	NetworkParameters NetworkParametersRepository
	NetworkMaps       NetworkMapRepository
	Requests          CertificateRequestRepository
}
