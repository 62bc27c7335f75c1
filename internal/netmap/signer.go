/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package netmap

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/kentakayama/netmap-over-http/internal/domain"
	"github.com/kentakayama/netmap-over-http/internal/domain/model"
	"github.com/kentakayama/netmap-over-http/internal/domain/service"
	"github.com/kentakayama/netmap-over-http/internal/serialization"
	"github.com/kentakayama/netmap-over-http/internal/signed"
	"go.uber.org/zap"
)

// Signer assembles and publishes the network map from the current directory state.
type Signer struct {
	nodeInfos service.NodeInfoRepository
	nodes     *NodeInfoStorage
	maps      *NetworkMapStorage
	key       signed.Signer
	logger    *zap.Logger

	// one signing round at a time
	mu sync.Mutex
}

func NewSigner(repos service.Repositories, key signed.Signer, logger *zap.Logger) *Signer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Signer{
		nodeInfos: repos.NodeInfos,
		nodes:     NewNodeInfoStorage(repos, logger),
		maps:      NewNetworkMapStorage(repos, logger),
		key:       key,
		logger:    logger,
	}
}

// SignNetworkMap runs one signing round: it takes the latest signed parameters and the latest node
// info of every key with a valid certificate, if it verifies, and publishes them as the new network map. It
// reports false without publishing when the result equals the current network map.
func (s *Signer) SignNetworkMap(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	params, err := s.maps.params.FindLatestSigned(ctx)
	if errors.Is(err, domain.ErrNotFound) {
		return false, domain.ErrNoNetworkParameters
	}
	if err != nil {
		return false, err
	}

	candidates, err := s.nodeInfos.ListLatestHashesByCertificateStatus(ctx, model.CertificateStatusValid)
	if err != nil {
		return false, err
	}
	eligible, err := s.verified(ctx, candidates)
	if err != nil {
		return false, err
	}

	next := model.NewNetworkMap(eligible, params.Hash)
	current, err := s.maps.GetCurrentNetworkMap(ctx)
	if err != nil {
		return false, err
	}
	if current != nil {
		raw, err := serialization.Marshal(next)
		if err != nil {
			return false, err
		}
		if bytes.Equal(raw, current.Raw.Bytes()) {
			s.logger.Debug("network map unchanged", zap.Stringer("hash", current.Hash()))
			return false, nil
		}
	}

	if _, err := s.maps.AssembleAndPublish(ctx, next.NodeInfoHashes, next.NetworkParametersHash, s.key); err != nil {
		return false, fmt.Errorf("publish network map: %w", err)
	}
	return true, nil
}

// verified drops candidates whose node info fails verification. Verification runs in parallel.
func (s *Signer) verified(ctx context.Context, candidates []model.SecureHash) ([]model.SecureHash, error) {
	artifacts := make([]*SignedNodeInfo, len(candidates))
	for i, h := range candidates {
		a, err := s.nodes.GetNodeInfo(ctx, h)
		if err != nil {
			return nil, err
		}
		artifacts[i] = a
	}

	ok := make([]bool, len(candidates))
	var wg sync.WaitGroup
	for i, a := range artifacts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := signed.Verify(a); err != nil {
				s.logger.Warn("excluding node info from network map",
					zap.Stringer("hash", candidates[i]),
					zap.Error(err),
				)
				return
			}
			ok[i] = true
		}()
	}
	wg.Wait()

	eligible := make([]model.SecureHash, 0, len(candidates))
	for i, h := range candidates {
		if ok[i] {
			eligible = append(eligible, h)
		}
	}
	return eligible, nil
}
