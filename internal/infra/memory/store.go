/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

// Package memory is an in-memory persistence backend with the same contracts as the SQLite one.
package memory

import (
	"bytes"
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kentakayama/netmap-over-http/internal/domain"
	"github.com/kentakayama/netmap-over-http/internal/domain/model"
	"github.com/kentakayama/netmap-over-http/internal/domain/service"
)

// current is replaced as a whole on publish, so readers always see a matching pair.
type current struct {
	networkMap *model.NetworkMapRecord
	parameters *model.NetworkParametersRecord
}

// Store keeps every entity in maps guarded by one mutex. Writers are serialized.
type Store struct {
	mu sync.RWMutex

	nodeInfos    map[model.SecureHash]*model.NodeInfoRecord
	nodeInfoSeq  int64
	params       map[model.SecureHash]*model.NetworkParametersRecord
	paramsOrder  []model.SecureHash
	networkMaps  map[model.SecureHash]*model.NetworkMapRecord
	networkMapID int64
	requests     map[string]*model.CertificateRequest

	current atomic.Pointer[current]
}

func NewStore() *Store {
	return &Store{
		nodeInfos:   make(map[model.SecureHash]*model.NodeInfoRecord),
		params:      make(map[model.SecureHash]*model.NetworkParametersRecord),
		networkMaps: make(map[model.SecureHash]*model.NetworkMapRecord),
		requests:    make(map[string]*model.CertificateRequest),
	}
}

// Repositories returns the store as a persistence collaborator.
func (s *Store) Repositories() service.Repositories {
	return service.Repositories{
		NodeInfos:         s.NodeInfos(),
		NetworkParameters: s.NetworkParameters(),
		NetworkMaps:       s.NetworkMaps(),
		Requests:          s.Requests(),
	}
}

func (s *Store) NodeInfos() *NodeInfoRepository {
	return &NodeInfoRepository{s: s}
}

func (s *Store) NetworkParameters() *NetworkParametersRepository {
	return &NetworkParametersRepository{s: s}
}

func (s *Store) NetworkMaps() *NetworkMapRepository {
	return &NetworkMapRepository{s: s}
}

func (s *Store) Requests() *CertificateRequestRepository {
	return &CertificateRequestRepository{s: s}
}

// Records are copied on the way in and out so callers never share memory with the store.

func cloneNodeInfo(n *model.NodeInfoRecord) *model.NodeInfoRecord {
	c := *n
	c.SignedNodeInfo = bytes.Clone(n.SignedNodeInfo)
	return &c
}

func cloneParameters(p *model.NetworkParametersRecord) *model.NetworkParametersRecord {
	c := *p
	c.Parameters = bytes.Clone(p.Parameters)
	c.Signature = bytes.Clone(p.Signature)
	return &c
}

func cloneNetworkMap(m *model.NetworkMapRecord) *model.NetworkMapRecord {
	c := *m
	c.NetworkMap = bytes.Clone(m.NetworkMap)
	c.Signature = bytes.Clone(m.Signature)
	return &c
}

func cloneRequest(r *model.CertificateRequest) *model.CertificateRequest {
	c := *r
	c.CertPath = make(model.CertPath, 0, len(r.CertPath))
	for _, der := range r.CertPath {
		c.CertPath = append(c.CertPath, bytes.Clone(der))
	}
	if len(r.CertPath) == 0 {
		c.CertPath = nil
	}
	if r.CertificateStatus != nil {
		status := *r.CertificateStatus
		c.CertificateStatus = &status
	}
	return &c
}

// NodeInfoRepository is the in-memory NodeInfoRepository.
type NodeInfoRepository struct {
	s *Store
}

func (r *NodeInfoRepository) Put(ctx context.Context, n *model.NodeInfoRecord) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.nodeInfos[n.Hash]; ok {
		return nil
	}
	r.s.nodeInfoSeq++
	c := cloneNodeInfo(n)
	c.ID = r.s.nodeInfoSeq
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	r.s.nodeInfos[n.Hash] = c
	return nil
}

func (r *NodeInfoRepository) FindByHash(ctx context.Context, hash model.SecureHash) (*model.NodeInfoRecord, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	n, ok := r.s.nodeInfos[hash]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneNodeInfo(n), nil
}

func (r *NodeInfoRepository) ReplaceSignedNodeInfo(ctx context.Context, hash model.SecureHash, signedNodeInfo []byte) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n, ok := r.s.nodeInfos[hash]
	if !ok {
		return domain.ErrNotFound
	}
	n.SignedNodeInfo = bytes.Clone(signedNodeInfo)
	return nil
}

func (r *NodeInfoRepository) ListHashesByCertificateStatus(ctx context.Context, status model.CertificateStatus) ([]model.SecureHash, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	keys := r.s.keysWithCertificateStatus(status)
	var records []*model.NodeInfoRecord
	for _, n := range r.s.nodeInfos {
		if _, ok := keys[n.PublicKeyHash]; ok {
			records = append(records, n)
		}
	}
	return hashesInOrder(records), nil
}

func (r *NodeInfoRepository) ListLatestHashesByCertificateStatus(ctx context.Context, status model.CertificateStatus) ([]model.SecureHash, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	keys := r.s.keysWithCertificateStatus(status)
	latest := make(map[model.SecureHash]*model.NodeInfoRecord)
	for _, n := range r.s.nodeInfos {
		if _, ok := keys[n.PublicKeyHash]; !ok {
			continue
		}
		if prev, ok := latest[n.PublicKeyHash]; !ok || n.ID > prev.ID {
			latest[n.PublicKeyHash] = n
		}
	}

	records := make([]*model.NodeInfoRecord, 0, len(latest))
	for _, n := range latest {
		records = append(records, n)
	}
	return hashesInOrder(records), nil
}

// keysWithCertificateStatus must be called with mu held.
func (s *Store) keysWithCertificateStatus(status model.CertificateStatus) map[model.SecureHash]struct{} {
	keys := make(map[model.SecureHash]struct{})
	for _, req := range s.requests {
		if req.Status == model.RequestStatusApproved && len(req.CertPath) > 0 &&
			req.CertificateStatus != nil && *req.CertificateStatus == status {
			keys[req.PublicKeyHash] = struct{}{}
		}
	}
	return keys
}

func hashesInOrder(records []*model.NodeInfoRecord) []model.SecureHash {
	slices.SortFunc(records, func(a, b *model.NodeInfoRecord) int {
		return cmp.Compare(a.ID, b.ID)
	})
	var hashes []model.SecureHash
	for _, n := range records {
		hashes = append(hashes, n.Hash)
	}
	return hashes
}

// NetworkParametersRepository is the in-memory NetworkParametersRepository.
type NetworkParametersRepository struct {
	s *Store
}

func (r *NetworkParametersRepository) Create(ctx context.Context, p *model.NetworkParametersRecord) (*model.NetworkParametersRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if stored, ok := r.s.params[p.Hash]; ok {
		if !stored.Signed() && p.Signed() {
			stored.Signature = bytes.Clone(p.Signature)
		}
		return cloneParameters(stored), nil
	}

	c := cloneParameters(p)
	if !p.Signed() {
		c.Signature = nil
	}
	c.ID = int64(len(r.s.paramsOrder) + 1)
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	r.s.params[p.Hash] = c
	r.s.paramsOrder = append(r.s.paramsOrder, p.Hash)
	return cloneParameters(c), nil
}

func (r *NetworkParametersRepository) FindByHash(ctx context.Context, hash model.SecureHash) (*model.NetworkParametersRecord, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	p, ok := r.s.params[hash]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneParameters(p), nil
}

func (r *NetworkParametersRepository) FindLatest(ctx context.Context) (*model.NetworkParametersRecord, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	if len(r.s.paramsOrder) == 0 {
		return nil, domain.ErrNotFound
	}
	return cloneParameters(r.s.params[r.s.paramsOrder[len(r.s.paramsOrder)-1]]), nil
}

func (r *NetworkParametersRepository) FindLatestSigned(ctx context.Context) (*model.NetworkParametersRecord, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for i := len(r.s.paramsOrder) - 1; i >= 0; i-- {
		if p := r.s.params[r.s.paramsOrder[i]]; p.Signed() {
			return cloneParameters(p), nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *NetworkParametersRepository) AttachSignature(ctx context.Context, hash model.SecureHash, sig model.Signature) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.params[hash]
	if !ok {
		return domain.ErrNotFound
	}
	if p.Signed() {
		return domain.ErrAlreadySigned
	}
	p.Signature = bytes.Clone(sig)
	return nil
}

// NetworkMapRepository is the in-memory NetworkMapRepository.
type NetworkMapRepository struct {
	s *Store
}

func (r *NetworkMapRepository) Publish(ctx context.Context, m *model.NetworkMapRecord) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	p, ok := r.s.params[m.NetworkParametersHash]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrDanglingParametersReference, m.NetworkParametersHash)
	}

	stored, ok := r.s.networkMaps[m.Hash]
	if !ok {
		r.s.networkMapID++
		stored = cloneNetworkMap(m)
		stored.ID = r.s.networkMapID
		if stored.CreatedAt.IsZero() {
			stored.CreatedAt = time.Now().UTC()
		}
		r.s.networkMaps[m.Hash] = stored
	}

	r.s.current.Store(&current{
		networkMap: cloneNetworkMap(stored),
		parameters: cloneParameters(p),
	})
	return nil
}

func (r *NetworkMapRepository) FindByHash(ctx context.Context, hash model.SecureHash) (*model.NetworkMapRecord, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	m, ok := r.s.networkMaps[hash]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneNetworkMap(m), nil
}

// FindCurrent does not take the lock.
func (r *NetworkMapRepository) FindCurrent(ctx context.Context) (*model.NetworkMapRecord, *model.NetworkParametersRecord, error) {
	c := r.s.current.Load()
	if c == nil {
		return nil, nil, domain.ErrNotFound
	}
	return cloneNetworkMap(c.networkMap), cloneParameters(c.parameters), nil
}

// CertificateRequestRepository is the in-memory CertificateRequestRepository.
type CertificateRequestRepository struct {
	s *Store
}

func (r *CertificateRequestRepository) Create(ctx context.Context, req *model.CertificateRequest) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.requests[req.ID]; ok {
		return fmt.Errorf("certificate request %s already exists", req.ID)
	}
	r.s.requests[req.ID] = cloneRequest(req)
	return nil
}

func (r *CertificateRequestRepository) FindByID(ctx context.Context, id string) (*model.CertificateRequest, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	req, ok := r.s.requests[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneRequest(req), nil
}

func (r *CertificateRequestRepository) UpdateStatus(ctx context.Context, id string, from, to model.RequestStatus, modifiedBy, remark string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	req, ok := r.s.requests[id]
	if !ok {
		return domain.ErrNotFound
	}
	if req.Status != from {
		return domain.ErrInvalidTransition
	}
	req.Status = to
	req.ModifiedBy = modifiedBy
	req.Remark = remark
	req.ModifiedAt = time.Now().UTC()
	return nil
}

func (r *CertificateRequestRepository) PutCertificatePath(ctx context.Context, id string, path model.CertPath) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	req, ok := r.s.requests[id]
	if !ok {
		return domain.ErrNotFound
	}
	if req.Status != model.RequestStatusApproved || len(req.CertPath) > 0 {
		return domain.ErrInvalidTransition
	}
	req.CertPath = cloneRequest(&model.CertificateRequest{CertPath: path}).CertPath
	valid := model.CertificateStatusValid
	req.CertificateStatus = &valid
	req.ModifiedAt = time.Now().UTC()
	return nil
}

func (r *CertificateRequestRepository) UpdateCertificateStatus(ctx context.Context, id string, status model.CertificateStatus) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	req, ok := r.s.requests[id]
	if !ok {
		return domain.ErrNotFound
	}
	if len(req.CertPath) == 0 {
		return domain.ErrInvalidTransition
	}
	req.CertificateStatus = &status
	req.ModifiedAt = time.Now().UTC()
	return nil
}
