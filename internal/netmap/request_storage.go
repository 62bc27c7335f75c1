/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package netmap

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kentakayama/netmap-over-http/internal/domain"
	"github.com/kentakayama/netmap-over-http/internal/domain/model"
	"github.com/kentakayama/netmap-over-http/internal/domain/service"
	"github.com/kentakayama/netmap-over-http/internal/util"
	"go.uber.org/zap"
)

// CertPathValidator checks a certificate path against the network root and returns the certified key.
type CertPathValidator interface {
	Validate(path model.CertPath) (model.PublicKey, error)
}

// RequestStorage drives certificate requests through their lifecycle.
type RequestStorage struct {
	requests  service.CertificateRequestRepository
	nodeInfos service.NodeInfoRepository
	maps      service.NetworkMapRepository
	validator CertPathValidator
	logger    *zap.Logger
}

// NewRequestStorage returns a RequestStorage. With a nil validator certificate paths are
// accepted without checking the chain.
func NewRequestStorage(repos service.Repositories, validator CertPathValidator, logger *zap.Logger) *RequestStorage {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RequestStorage{
		requests:  repos.Requests,
		nodeInfos: repos.NodeInfos,
		maps:      repos.NetworkMaps,
		validator: validator,
		logger:    logger,
	}
}

// SaveRequest records a submitted request and returns its ID.
func (s *RequestStorage) SaveRequest(ctx context.Context, legalName string, key model.PublicKey) (string, error) {
	if strings.TrimSpace(legalName) == "" {
		return "", fmt.Errorf("%w: empty legal name", ErrInvalidRequest)
	}
	if key.IsComposite() || len(key.COSEKey) == 0 {
		return "", fmt.Errorf("%w: a single public key is required", ErrInvalidRequest)
	}
	keyHash, err := key.Hash()
	if err != nil {
		return "", err
	}

	now := time.Now().UTC()
	req := &model.CertificateRequest{
		ID:            uuid.NewString(),
		LegalName:     legalName,
		PublicKey:     key,
		PublicKeyHash: keyHash,
		Status:        model.RequestStatusSubmitted,
		CreatedAt:     now,
		ModifiedAt:    now,
	}
	if err := s.requests.Create(ctx, req); err != nil {
		return "", err
	}
	s.logger.Info("certificate request submitted", zap.String("id", req.ID), zap.String("legal_name", legalName))
	return req.ID, nil
}

// GetRequest returns a request by ID, or domain.ErrNotFound.
func (s *RequestStorage) GetRequest(ctx context.Context, id string) (*model.CertificateRequest, error) {
	return s.requests.FindByID(ctx, id)
}

func (s *RequestStorage) MarkRequestTicketCreated(ctx context.Context, id string) error {
	return s.transition(ctx, id, model.RequestStatusTicketCreated, "", "")
}

func (s *RequestStorage) ApproveRequest(ctx context.Context, id, approvedBy string) error {
	return s.transition(ctx, id, model.RequestStatusApproved, approvedBy, "")
}

func (s *RequestStorage) RejectRequest(ctx context.Context, id, rejectedBy, reason string) error {
	return s.transition(ctx, id, model.RequestStatusRejected, rejectedBy, reason)
}

func (s *RequestStorage) transition(ctx context.Context, id string, to model.RequestStatus, by, remark string) error {
	req, err := s.requests.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if !req.Status.CanTransitionTo(to) {
		return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, req.Status, to)
	}
	if err := s.requests.UpdateStatus(ctx, id, req.Status, to, by, remark); err != nil {
		return err
	}
	s.logger.Info("certificate request updated",
		zap.String("id", id),
		zap.Stringer("from", req.Status),
		zap.Stringer("to", to),
		zap.String("by", by),
	)
	return nil
}

// PutCertificatePath attaches the issued certificate path to an approved request. The leaf must
// certify the key the request was made for.
func (s *RequestStorage) PutCertificatePath(ctx context.Context, id string, path model.CertPath) error {
	req, err := s.requests.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if req.Status != model.RequestStatusApproved {
		return fmt.Errorf("%w: certificate path for %s request", domain.ErrInvalidTransition, req.Status)
	}
	if len(path) == 0 {
		return fmt.Errorf("%w: empty certificate path", ErrInvalidRequest)
	}
	if s.validator != nil {
		certified, err := s.validator.Validate(path)
		if err != nil {
			return err
		}
		if !certified.Equal(req.PublicKey) {
			return domain.ErrCertificatePathMismatch
		}
	}
	if err := s.requests.PutCertificatePath(ctx, id, path); err != nil {
		return err
	}
	s.logger.Info("certificate path attached", zap.String("id", id), zap.Int("length", len(path)))
	return nil
}

// RevokeCertificate marks the certificate of a request revoked. Its node drops out of the next network map.
func (s *RequestStorage) RevokeCertificate(ctx context.Context, id string) error {
	req, err := s.requests.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if !req.HasValidCertificate() {
		return fmt.Errorf("%w: no valid certificate", domain.ErrInvalidTransition)
	}
	if err := s.requests.UpdateCertificateStatus(ctx, id, model.CertificateStatusRevoked); err != nil {
		return err
	}
	s.logger.Warn("certificate revoked", zap.String("id", id), zap.String("legal_name", req.LegalName))
	return nil
}

// GetNodeInfoHashes returns node info hashes by certificate status. A node info is VALID when the
// request of its key is approved with a valid certificate and the node info appears in the current
// network map, which can still hold an older node info of a key that has since stored a newer one.
// REVOKED covers every node info of a key whose certificate was revoked.
func (s *RequestStorage) GetNodeInfoHashes(ctx context.Context, status model.CertificateStatus) ([]model.SecureHash, error) {
	hashes, err := s.nodeInfos.ListHashesByCertificateStatus(ctx, status)
	if err != nil {
		return nil, err
	}
	if status != model.CertificateStatusValid {
		return hashes, nil
	}

	current, _, err := s.maps.FindCurrent(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return []model.SecureHash{}, nil
		}
		return nil, err
	}
	published, err := decodeNetworkMap(current)
	if err != nil {
		return nil, err
	}
	return util.NewSet(published.NodeInfoHashes...).Filter(hashes), nil
}

func decodeNetworkMap(r *model.NetworkMapRecord) (*model.NetworkMap, error) {
	return networkMapArtifact(r).Raw.Deserialize()
}
