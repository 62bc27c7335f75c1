/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

// Package netmap implements the network map directory: the node identity directory, the
// network parameters version store, the certificate request gate and the network map assembler.
package netmap

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/kentakayama/netmap-over-http/internal/domain/model"
	"github.com/kentakayama/netmap-over-http/internal/domain/service"
	"github.com/kentakayama/netmap-over-http/internal/signed"
	"go.uber.org/zap"
)

// SignedNodeInfo is a NodeInfo signed by each of its legal identities.
type SignedNodeInfo = signed.Artifact[model.NodeInfo]

// NodeInfoStorage is the content addressed node identity directory.
type NodeInfoStorage struct {
	repo   service.NodeInfoRepository
	logger *zap.Logger
}

func NewNodeInfoStorage(repos service.Repositories, logger *zap.Logger) *NodeInfoStorage {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NodeInfoStorage{repo: repos.NodeInfos, logger: logger}
}

// PutNodeInfo stores the artifact under the hash of its raw payload bytes. Storing the same bytes
// again returns the same hash. Signatures are not required to verify here, but a stored artifact
// that fails verification is replaced by an incoming one with the same payload that passes.
func (s *NodeInfoStorage) PutNodeInfo(ctx context.Context, a *SignedNodeInfo) (model.SecureHash, error) {
	info, err := a.Raw.Deserialize()
	if err != nil {
		return model.SecureHash{}, err
	}
	key, err := info.PrimaryKey()
	if err != nil {
		return model.SecureHash{}, fmt.Errorf("%w: %v", ErrNoPrimaryIdentity, err)
	}
	keyHash, err := key.Hash()
	if err != nil {
		return model.SecureHash{}, err
	}
	encoded, err := a.Encode()
	if err != nil {
		return model.SecureHash{}, fmt.Errorf("encode signed node info: %w", err)
	}

	hash := a.Hash()
	record := &model.NodeInfoRecord{
		Hash:           hash,
		SignedNodeInfo: encoded,
		PublicKeyHash:  keyHash,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.repo.Put(ctx, record); err != nil {
		return model.SecureHash{}, err
	}
	stored, err := s.repo.FindByHash(ctx, hash)
	if err != nil {
		return model.SecureHash{}, err
	}
	if err := s.repair(ctx, stored, a, encoded); err != nil {
		return model.SecureHash{}, err
	}
	s.logger.Debug("stored node info",
		zap.Stringer("hash", hash),
		zap.Stringer("key", keyHash),
		zap.Int64("serial", info.Serial),
	)
	return hash, nil
}

// repair swaps the signatures of a stored node info that fails verification for incoming ones that
// pass. It does nothing when stored already holds the incoming artifact.
func (s *NodeInfoStorage) repair(ctx context.Context, stored *model.NodeInfoRecord, incoming *SignedNodeInfo, encoded []byte) error {
	if bytes.Equal(stored.SignedNodeInfo, encoded) {
		return nil
	}
	if current, err := signed.Decode[model.NodeInfo](stored.SignedNodeInfo); err == nil {
		if _, err := signed.Verify(current); err == nil {
			return nil
		}
	}
	if _, err := signed.Verify(incoming); err != nil {
		return nil
	}
	if err := s.repo.ReplaceSignedNodeInfo(ctx, stored.Hash, encoded); err != nil {
		return err
	}
	s.logger.Info("replaced unverifiable node info", zap.Stringer("hash", stored.Hash))
	return nil
}

// GetNodeInfo returns the stored artifact as submitted, or domain.ErrNotFound.
func (s *NodeInfoStorage) GetNodeInfo(ctx context.Context, hash model.SecureHash) (*SignedNodeInfo, error) {
	record, err := s.repo.FindByHash(ctx, hash)
	if err != nil {
		return nil, err
	}
	return signed.Decode[model.NodeInfo](record.SignedNodeInfo)
}

// GetVerifiedNodeInfo returns the node info after checking every legal identity signed it.
func (s *NodeInfoStorage) GetVerifiedNodeInfo(ctx context.Context, hash model.SecureHash) (*model.NodeInfo, error) {
	a, err := s.GetNodeInfo(ctx, hash)
	if err != nil {
		return nil, err
	}
	info, err := signed.Verify(a)
	if err != nil {
		return nil, fmt.Errorf("node info %s: %w", hash, err)
	}
	return info, nil
}
