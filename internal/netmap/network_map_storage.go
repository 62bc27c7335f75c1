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
	"time"

	"github.com/kentakayama/netmap-over-http/internal/domain"
	"github.com/kentakayama/netmap-over-http/internal/domain/model"
	"github.com/kentakayama/netmap-over-http/internal/domain/service"
	"github.com/kentakayama/netmap-over-http/internal/signed"
	"go.uber.org/zap"
)

type (
	// SignedNetworkParameters carries one signature by the network map key, or none while unsigned.
	SignedNetworkParameters = signed.Artifact[model.NetworkParameters]
	// SignedNetworkMap carries exactly one signature by the network map key.
	SignedNetworkMap = signed.Artifact[model.NetworkMap]
)

// OperatorName is the identity name of the network map key.
const OperatorName = "network map"

// OperatorIdentity is the identity network maps and network parameters are verified against.
func OperatorIdentity(key model.PublicKey) model.Identity {
	return model.Identity{Name: OperatorName, OwningKey: key}
}

// Snapshot is the current network map together with the parameters it references.
type Snapshot struct {
	NetworkMap        *SignedNetworkMap
	NetworkParameters *SignedNetworkParameters
}

// NetworkMapStorage is the network parameters version store and the current network map.
type NetworkMapStorage struct {
	params service.NetworkParametersRepository
	maps   service.NetworkMapRepository
	logger *zap.Logger
}

func NewNetworkMapStorage(repos service.Repositories, logger *zap.Logger) *NetworkMapStorage {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NetworkMapStorage{params: repos.NetworkParameters, maps: repos.NetworkMaps, logger: logger}
}

func parametersArtifact(r *model.NetworkParametersRecord) *SignedNetworkParameters {
	var sigs []model.Signature
	if r.Signed() {
		sigs = []model.Signature{r.Signature}
	}
	return &SignedNetworkParameters{Raw: signed.FromBytes[model.NetworkParameters](r.Parameters), Signatures: sigs}
}

func networkMapArtifact(r *model.NetworkMapRecord) *SignedNetworkMap {
	return &SignedNetworkMap{Raw: signed.FromBytes[model.NetworkMap](r.NetworkMap), Signatures: []model.Signature{r.Signature}}
}

// SaveNetworkParameters appends a parameters version. The hash covers the parameters only; sig may be nil.
// Saving identical parameters again appends nothing but attaches sig to a stored unsigned version.
// sig is verified against the network map key only when the version is published.
func (s *NetworkMapStorage) SaveNetworkParameters(ctx context.Context, params model.NetworkParameters, sig model.Signature) (model.SecureHash, error) {
	if err := params.Validate(); err != nil {
		return model.SecureHash{}, err
	}
	raw, err := signed.Serialize(params)
	if err != nil {
		return model.SecureHash{}, err
	}
	stored, err := s.params.Create(ctx, &model.NetworkParametersRecord{
		Hash:       raw.Hash(),
		Parameters: raw.Bytes(),
		Signature:  sig,
		CreatedAt:  time.Now().UTC(),
	})
	if err != nil {
		return model.SecureHash{}, err
	}
	s.logger.Info("saved network parameters",
		zap.Stringer("hash", stored.Hash),
		zap.Int("epoch", params.Epoch),
		zap.Bool("signed", stored.Signed()),
	)
	return stored.Hash, nil
}

// SignNetworkParameters signs a stored unsigned version with the network map key.
func (s *NetworkMapStorage) SignNetworkParameters(ctx context.Context, hash model.SecureHash, signer signed.Signer) error {
	stored, err := s.params.FindByHash(ctx, hash)
	if err != nil {
		return err
	}
	if stored.Signed() {
		return domain.ErrAlreadySigned
	}
	a, err := signed.SignBytes(signed.FromBytes[model.NetworkParameters](stored.Parameters), signer)
	if err != nil {
		return err
	}
	if err := s.params.AttachSignature(ctx, hash, a.Signatures[0]); err != nil {
		return err
	}
	s.logger.Info("signed network parameters", zap.Stringer("hash", hash))
	return nil
}

// GetNetworkParameters returns a stored version by hash, or domain.ErrNotFound.
func (s *NetworkMapStorage) GetNetworkParameters(ctx context.Context, hash model.SecureHash) (*SignedNetworkParameters, error) {
	stored, err := s.params.FindByHash(ctx, hash)
	if err != nil {
		return nil, err
	}
	return parametersArtifact(stored), nil
}

// GetLatestNetworkParameters returns the most recently saved version whether or not it is signed,
// or nil if none was saved.
func (s *NetworkMapStorage) GetLatestNetworkParameters(ctx context.Context) (*SignedNetworkParameters, error) {
	stored, err := s.params.FindLatest(ctx)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return parametersArtifact(stored), nil
}

// GetCurrentSignedNetworkParameters returns the parameters the current network map references,
// which can be older than the latest saved version. It returns nil before the first publication.
func (s *NetworkMapStorage) GetCurrentSignedNetworkParameters(ctx context.Context) (*SignedNetworkParameters, error) {
	snapshot, err := s.GetCurrent(ctx)
	if err != nil || snapshot == nil {
		return nil, err
	}
	return snapshot.NetworkParameters, nil
}

// GetCurrentNetworkMap returns the current signed network map, or nil before the first publication.
func (s *NetworkMapStorage) GetCurrentNetworkMap(ctx context.Context) (*SignedNetworkMap, error) {
	snapshot, err := s.GetCurrent(ctx)
	if err != nil || snapshot == nil {
		return nil, err
	}
	return snapshot.NetworkMap, nil
}

// GetCurrent returns the current network map and its parameters from one consistent read.
func (s *NetworkMapStorage) GetCurrent(ctx context.Context) (*Snapshot, error) {
	m, p, err := s.maps.FindCurrent(ctx)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &Snapshot{NetworkMap: networkMapArtifact(m), NetworkParameters: parametersArtifact(p)}, nil
}

// GetNetworkMap returns a published network map by hash, or domain.ErrNotFound.
func (s *NetworkMapStorage) GetNetworkMap(ctx context.Context, hash model.SecureHash) (*SignedNetworkMap, error) {
	m, err := s.maps.FindByHash(ctx, hash)
	if err != nil {
		return nil, err
	}
	return networkMapArtifact(m), nil
}

// AssembleAndPublish builds a network map of eligible node infos under parametersHash, signs it
// and makes it current. The parameters must be stored and signed by signer; otherwise nothing changes.
func (s *NetworkMapStorage) AssembleAndPublish(ctx context.Context, eligible []model.SecureHash, parametersHash model.SecureHash, signer signed.Signer) (*SignedNetworkMap, error) {
	operator := OperatorIdentity(signer.Public())
	if err := s.checkParameters(ctx, parametersHash, operator); err != nil {
		return nil, err
	}

	a, err := signed.Sign(model.NewNetworkMap(eligible, parametersHash), signer)
	if err != nil {
		return nil, err
	}
	if err := s.publish(ctx, a, operator); err != nil {
		return nil, err
	}
	return a, nil
}

// PublishNetworkMap makes an already signed network map current. The map and the parameters it
// references must both carry a valid signature by operator.
func (s *NetworkMapStorage) PublishNetworkMap(ctx context.Context, a *SignedNetworkMap, operator model.PublicKey) error {
	return s.publish(ctx, a, OperatorIdentity(operator))
}

func (s *NetworkMapStorage) publish(ctx context.Context, a *SignedNetworkMap, operator model.Identity) error {
	m, err := a.VerifiedWith(operator)
	if err != nil {
		return fmt.Errorf("network map %s: %w", a.Hash(), err)
	}
	if err := s.checkParameters(ctx, m.NetworkParametersHash, operator); err != nil {
		return err
	}
	record := &model.NetworkMapRecord{
		Hash:                  a.Hash(),
		NetworkMap:            a.Raw.Bytes(),
		Signature:             a.Signatures[0],
		NetworkParametersHash: m.NetworkParametersHash,
		CreatedAt:             time.Now().UTC(),
	}
	if err := s.maps.Publish(ctx, record); err != nil {
		if errors.Is(err, domain.ErrDanglingParametersReference) {
			s.logger.Error("refusing to publish network map", zap.Stringer("hash", record.Hash), zap.Error(err))
		}
		return err
	}
	s.logger.Info("published network map",
		zap.Stringer("hash", record.Hash),
		zap.Stringer("parameters", m.NetworkParametersHash),
		zap.Int("nodes", len(m.NodeInfoHashes)),
	)
	return nil
}

// checkParameters requires the parameters under hash to be stored and signed by operator.
func (s *NetworkMapStorage) checkParameters(ctx context.Context, hash model.SecureHash, operator model.Identity) error {
	params, err := s.params.FindByHash(ctx, hash)
	if errors.Is(err, domain.ErrNotFound) {
		err = fmt.Errorf("%w: %s", domain.ErrDanglingParametersReference, hash)
		s.logger.Error("refusing to publish network map", zap.Error(err))
		return err
	}
	if err != nil {
		return err
	}
	if !params.Signed() {
		return fmt.Errorf("%w: %s", domain.ErrParametersNotSigned, hash)
	}
	if _, err := parametersArtifact(params).VerifiedWith(operator); err != nil {
		s.logger.Warn("refusing to publish network map", zap.Stringer("parameters", hash), zap.Error(err))
		return fmt.Errorf("%w: %s: %w", domain.ErrInvalidParametersSignature, hash, err)
	}
	return nil
}
