/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package sqlite

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/kentakayama/netmap-over-http/internal/domain"
	"github.com/kentakayama/netmap-over-http/internal/domain/model"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := InitDB(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("InitDB error: %v", err)
	}
	t.Cleanup(func() { CloseDB(db) })
	return db
}

func paramsRecord(epoch byte, sig []byte) *model.NetworkParametersRecord {
	raw := []byte{0xa1, 0x06, epoch}
	return &model.NetworkParametersRecord{
		Hash:       model.HashOf(raw),
		Parameters: raw,
		Signature:  sig,
		CreatedAt:  time.Now().UTC(),
	}
}

func TestNodeInfoRepository_PutFind_OK(t *testing.T) {
	ctx := context.Background()
	repo := NewNodeInfoRepository(newTestDB(t))

	n := &model.NodeInfoRecord{
		Hash:           model.HashOf([]byte("node-info-1")),
		SignedNodeInfo: []byte("signed-1"),
		PublicKeyHash:  model.HashOf([]byte("key-1")),
		CreatedAt:      time.Now().UTC(),
	}
	if err := repo.Put(ctx, n); err != nil {
		t.Fatalf("Put error: %v", err)
	}
	// idempotent
	if err := repo.Put(ctx, n); err != nil {
		t.Fatalf("Put (again) error: %v", err)
	}

	got, err := repo.FindByHash(ctx, n.Hash)
	if err != nil {
		t.Fatalf("FindByHash error: %v", err)
	}
	if got.Hash != n.Hash || got.PublicKeyHash != n.PublicKeyHash {
		t.Fatalf("record mismatch: got %+v want %+v", got, n)
	}
	if !bytes.Equal(got.SignedNodeInfo, n.SignedNodeInfo) {
		t.Fatalf("SignedNodeInfo mismatch: got %x want %x", got.SignedNodeInfo, n.SignedNodeInfo)
	}

	_, err = repo.FindByHash(ctx, model.HashOf([]byte("missing")))
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got: %v", err)
	}
}

func TestNetworkParametersRepository_LatestVsLatestSigned(t *testing.T) {
	ctx := context.Background()
	repo := NewNetworkParametersRepository(newTestDB(t))

	if _, err := repo.FindLatest(ctx); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on empty store, got: %v", err)
	}

	signed := paramsRecord(1, []byte("sig-1"))
	unsigned := paramsRecord(2, nil)
	if _, err := repo.Create(ctx, signed); err != nil {
		t.Fatalf("Create signed error: %v", err)
	}
	if _, err := repo.Create(ctx, unsigned); err != nil {
		t.Fatalf("Create unsigned error: %v", err)
	}

	latest, err := repo.FindLatest(ctx)
	if err != nil {
		t.Fatalf("FindLatest error: %v", err)
	}
	if latest.Hash != unsigned.Hash || latest.Signed() {
		t.Fatalf("FindLatest: got %s signed=%v, want unsigned %s", latest.Hash, latest.Signed(), unsigned.Hash)
	}

	latestSigned, err := repo.FindLatestSigned(ctx)
	if err != nil {
		t.Fatalf("FindLatestSigned error: %v", err)
	}
	if latestSigned.Hash != signed.Hash || !bytes.Equal(latestSigned.Signature, []byte("sig-1")) {
		t.Fatalf("FindLatestSigned: got %+v", latestSigned)
	}
}

func TestNetworkParametersRepository_DuplicateAttachesSignature(t *testing.T) {
	ctx := context.Background()
	repo := NewNetworkParametersRepository(newTestDB(t))

	first, err := repo.Create(ctx, paramsRecord(1, nil))
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	second, err := repo.Create(ctx, paramsRecord(1, []byte("sig")))
	if err != nil {
		t.Fatalf("Create duplicate error: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("duplicate appended a version: ids %d and %d", first.ID, second.ID)
	}
	if !second.Signed() {
		t.Fatalf("signature not attached to stored version")
	}

	// an existing signature is never replaced
	third, err := repo.Create(ctx, paramsRecord(1, []byte("other")))
	if err != nil {
		t.Fatalf("Create duplicate error: %v", err)
	}
	if !bytes.Equal(third.Signature, []byte("sig")) {
		t.Fatalf("signature replaced: got %q", third.Signature)
	}
}

func TestNetworkParametersRepository_AttachSignature(t *testing.T) {
	ctx := context.Background()
	repo := NewNetworkParametersRepository(newTestDB(t))

	p, err := repo.Create(ctx, paramsRecord(3, nil))
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if err := repo.AttachSignature(ctx, p.Hash, model.Signature("sig")); err != nil {
		t.Fatalf("AttachSignature error: %v", err)
	}
	if err := repo.AttachSignature(ctx, p.Hash, model.Signature("sig2")); !errors.Is(err, domain.ErrAlreadySigned) {
		t.Fatalf("expected ErrAlreadySigned, got: %v", err)
	}
	if err := repo.AttachSignature(ctx, model.HashOf([]byte("missing")), model.Signature("sig")); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got: %v", err)
	}
}

func TestNetworkMapRepository_PublishAndFindCurrent(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	params := NewNetworkParametersRepository(db)
	maps := NewNetworkMapRepository(db)

	if _, _, err := maps.FindCurrent(ctx); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound before first publish, got: %v", err)
	}

	p, err := params.Create(ctx, paramsRecord(1, []byte("psig")))
	if err != nil {
		t.Fatalf("Create params error: %v", err)
	}

	m1 := &model.NetworkMapRecord{
		Hash:                  model.HashOf([]byte("map-1")),
		NetworkMap:            []byte("map-1"),
		Signature:             model.Signature("msig-1"),
		NetworkParametersHash: p.Hash,
		CreatedAt:             time.Now().UTC(),
	}
	if err := maps.Publish(ctx, m1); err != nil {
		t.Fatalf("Publish error: %v", err)
	}

	cur, curParams, err := maps.FindCurrent(ctx)
	if err != nil {
		t.Fatalf("FindCurrent error: %v", err)
	}
	if cur.Hash != m1.Hash || curParams.Hash != p.Hash {
		t.Fatalf("FindCurrent mismatch: map %s params %s", cur.Hash, curParams.Hash)
	}
	if !bytes.Equal(curParams.Signature, []byte("psig")) {
		t.Fatalf("params signature mismatch: %q", curParams.Signature)
	}

	m2 := &model.NetworkMapRecord{
		Hash:                  model.HashOf([]byte("map-2")),
		NetworkMap:            []byte("map-2"),
		Signature:             model.Signature("msig-2"),
		NetworkParametersHash: p.Hash,
		CreatedAt:             time.Now().UTC(),
	}
	if err := maps.Publish(ctx, m2); err != nil {
		t.Fatalf("Publish error: %v", err)
	}
	cur, _, err = maps.FindCurrent(ctx)
	if err != nil {
		t.Fatalf("FindCurrent error: %v", err)
	}
	if cur.Hash != m2.Hash {
		t.Fatalf("current not promoted: got %s want %s", cur.Hash, m2.Hash)
	}

	// previous maps stay retrievable by hash
	old, err := maps.FindByHash(ctx, m1.Hash)
	if err != nil {
		t.Fatalf("FindByHash error: %v", err)
	}
	if !bytes.Equal(old.NetworkMap, m1.NetworkMap) {
		t.Fatalf("FindByHash mismatch")
	}
}

func TestNetworkMapRepository_DanglingParameters_NG(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	params := NewNetworkParametersRepository(db)
	maps := NewNetworkMapRepository(db)

	p, err := params.Create(ctx, paramsRecord(1, []byte("psig")))
	if err != nil {
		t.Fatalf("Create params error: %v", err)
	}
	good := &model.NetworkMapRecord{
		Hash:                  model.HashOf([]byte("good")),
		NetworkMap:            []byte("good"),
		Signature:             model.Signature("sig"),
		NetworkParametersHash: p.Hash,
	}
	if err := maps.Publish(ctx, good); err != nil {
		t.Fatalf("Publish error: %v", err)
	}

	bad := &model.NetworkMapRecord{
		Hash:                  model.HashOf([]byte("bad")),
		NetworkMap:            []byte("bad"),
		Signature:             model.Signature("sig"),
		NetworkParametersHash: model.HashOf([]byte("unknown params")),
	}
	if err := maps.Publish(ctx, bad); !errors.Is(err, domain.ErrDanglingParametersReference) {
		t.Fatalf("expected ErrDanglingParametersReference, got: %v", err)
	}

	cur, _, err := maps.FindCurrent(ctx)
	if err != nil {
		t.Fatalf("FindCurrent error: %v", err)
	}
	if cur.Hash != good.Hash {
		t.Fatalf("current changed after failed publish: %s", cur.Hash)
	}
	if _, err := maps.FindByHash(ctx, bad.Hash); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("failed publish left a map behind: %v", err)
	}
}

func TestCertificateRequestRepository_Lifecycle(t *testing.T) {
	ctx := context.Background()
	repo := NewCertificateRequestRepository(newTestDB(t))

	key := model.PublicKey{COSEKey: []byte{0xa1, 0x01, 0x01}}
	keyHash, err := key.Hash()
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}
	now := time.Now().UTC()
	req := &model.CertificateRequest{
		ID:            "req-1",
		LegalName:     "O=Bank A,L=London,C=GB",
		PublicKey:     key,
		PublicKeyHash: keyHash,
		Status:        model.RequestStatusSubmitted,
		CreatedAt:     now,
		ModifiedAt:    now,
	}
	if err := repo.Create(ctx, req); err != nil {
		t.Fatalf("Create error: %v", err)
	}

	got, err := repo.FindByID(ctx, req.ID)
	if err != nil {
		t.Fatalf("FindByID error: %v", err)
	}
	if got.Status != model.RequestStatusSubmitted || !got.PublicKey.Equal(key) || got.CertificateStatus != nil {
		t.Fatalf("unexpected request: %+v", got)
	}

	// no certificate path before approval
	if err := repo.PutCertificatePath(ctx, req.ID, model.CertPath{[]byte{0x30}}); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got: %v", err)
	}

	if err := repo.UpdateStatus(ctx, req.ID, model.RequestStatusSubmitted, model.RequestStatusTicketCreated, "", ""); err != nil {
		t.Fatalf("UpdateStatus error: %v", err)
	}
	// stale compare-and-set
	if err := repo.UpdateStatus(ctx, req.ID, model.RequestStatusSubmitted, model.RequestStatusRejected, "ops", "late"); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got: %v", err)
	}
	if err := repo.UpdateStatus(ctx, req.ID, model.RequestStatusTicketCreated, model.RequestStatusApproved, "ops", ""); err != nil {
		t.Fatalf("UpdateStatus error: %v", err)
	}

	path := model.CertPath{[]byte{0x30, 0x01}, []byte{0x30, 0x02}}
	if err := repo.PutCertificatePath(ctx, req.ID, path); err != nil {
		t.Fatalf("PutCertificatePath error: %v", err)
	}
	if err := repo.PutCertificatePath(ctx, req.ID, path); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition on second path, got: %v", err)
	}

	got, err = repo.FindByID(ctx, req.ID)
	if err != nil {
		t.Fatalf("FindByID error: %v", err)
	}
	if !got.HasValidCertificate() || got.ModifiedBy != "ops" || len(got.CertPath) != 2 {
		t.Fatalf("unexpected approved request: %+v", got)
	}

	if err := repo.UpdateCertificateStatus(ctx, req.ID, model.CertificateStatusRevoked); err != nil {
		t.Fatalf("UpdateCertificateStatus error: %v", err)
	}
	got, err = repo.FindByID(ctx, req.ID)
	if err != nil {
		t.Fatalf("FindByID error: %v", err)
	}
	if got.HasValidCertificate() || *got.CertificateStatus != model.CertificateStatusRevoked {
		t.Fatalf("certificate not revoked: %+v", got)
	}

	if _, err := repo.FindByID(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got: %v", err)
	}
	if err := repo.UpdateStatus(ctx, "missing", model.RequestStatusSubmitted, model.RequestStatusRejected, "", ""); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got: %v", err)
	}
}

func TestNodeInfoRepository_ReplaceSignedNodeInfo(t *testing.T) {
	ctx := context.Background()
	repo := NewNodeInfoRepository(newTestDB(t))

	n := &model.NodeInfoRecord{
		Hash:           model.HashOf([]byte("node-info-1")),
		SignedNodeInfo: []byte("unsigned"),
		PublicKeyHash:  model.HashOf([]byte("key-1")),
		CreatedAt:      time.Now().UTC(),
	}
	if err := repo.Put(ctx, n); err != nil {
		t.Fatalf("Put error: %v", err)
	}
	if err := repo.ReplaceSignedNodeInfo(ctx, n.Hash, []byte("signed")); err != nil {
		t.Fatalf("ReplaceSignedNodeInfo error: %v", err)
	}
	got, err := repo.FindByHash(ctx, n.Hash)
	if err != nil {
		t.Fatalf("FindByHash error: %v", err)
	}
	if string(got.SignedNodeInfo) != "signed" || got.PublicKeyHash != n.PublicKeyHash {
		t.Fatalf("unexpected record after replace: %+v", got)
	}

	if err := repo.ReplaceSignedNodeInfo(ctx, model.HashOf([]byte("missing")), []byte("x")); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got: %v", err)
	}
}

func TestNodeInfoRepository_ListHashesByCertificateStatus(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	nodes := NewNodeInfoRepository(db)
	requests := NewCertificateRequestRepository(db)

	approve := func(id string, key model.PublicKey) model.SecureHash {
		t.Helper()
		h, err := key.Hash()
		if err != nil {
			t.Fatalf("Hash error: %v", err)
		}
		req := &model.CertificateRequest{ID: id, LegalName: id, PublicKey: key, PublicKeyHash: h, Status: model.RequestStatusSubmitted}
		if err := requests.Create(ctx, req); err != nil {
			t.Fatalf("Create error: %v", err)
		}
		if err := requests.UpdateStatus(ctx, id, model.RequestStatusSubmitted, model.RequestStatusTicketCreated, "", ""); err != nil {
			t.Fatalf("UpdateStatus error: %v", err)
		}
		if err := requests.UpdateStatus(ctx, id, model.RequestStatusTicketCreated, model.RequestStatusApproved, "", ""); err != nil {
			t.Fatalf("UpdateStatus error: %v", err)
		}
		if err := requests.PutCertificatePath(ctx, id, model.CertPath{[]byte(id)}); err != nil {
			t.Fatalf("PutCertificatePath error: %v", err)
		}
		return h
	}
	put := func(name string, keyHash model.SecureHash) model.SecureHash {
		t.Helper()
		n := &model.NodeInfoRecord{Hash: model.HashOf([]byte(name)), SignedNodeInfo: []byte(name), PublicKeyHash: keyHash}
		if err := nodes.Put(ctx, n); err != nil {
			t.Fatalf("Put error: %v", err)
		}
		return n.Hash
	}

	keyA := approve("a", model.PublicKey{COSEKey: []byte("a")})
	keyB := approve("b", model.PublicKey{COSEKey: []byte("b")})
	a1 := put("a-serial-1", keyA)
	a2 := put("a-serial-2", keyA)
	b1 := put("b-serial-1", keyB)
	put("unapproved", model.HashOf([]byte("nobody")))

	valid, err := nodes.ListHashesByCertificateStatus(ctx, model.CertificateStatusValid)
	if err != nil {
		t.Fatalf("ListHashesByCertificateStatus error: %v", err)
	}
	if len(valid) != 3 || valid[0] != a1 || valid[1] != a2 || valid[2] != b1 {
		t.Fatalf("unexpected valid hashes: %v", valid)
	}
	latest, err := nodes.ListLatestHashesByCertificateStatus(ctx, model.CertificateStatusValid)
	if err != nil {
		t.Fatalf("ListLatestHashesByCertificateStatus error: %v", err)
	}
	if len(latest) != 2 || latest[0] != a2 || latest[1] != b1 {
		t.Fatalf("unexpected latest valid hashes: %v", latest)
	}

	if err := requests.UpdateCertificateStatus(ctx, "b", model.CertificateStatusRevoked); err != nil {
		t.Fatalf("UpdateCertificateStatus error: %v", err)
	}
	revoked, err := nodes.ListHashesByCertificateStatus(ctx, model.CertificateStatusRevoked)
	if err != nil {
		t.Fatalf("ListHashesByCertificateStatus error: %v", err)
	}
	if len(revoked) != 1 || revoked[0] != b1 {
		t.Fatalf("unexpected revoked hashes: %v", revoked)
	}
}

func TestNetworkMapRepository_ConcurrentReadersSeeConsistentPairs(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	params := NewNetworkParametersRepository(db)
	maps := NewNetworkMapRepository(db)

	// map i always references params i
	var pairs []*model.NetworkMapRecord
	for i := byte(1); i <= 5; i++ {
		p, err := params.Create(ctx, paramsRecord(i, []byte{i}))
		if err != nil {
			t.Fatalf("Create params error: %v", err)
		}
		pairs = append(pairs, &model.NetworkMapRecord{
			Hash:                  model.HashOf([]byte{0xff, i}),
			NetworkMap:            []byte{0xff, i},
			Signature:             model.Signature{i},
			NetworkParametersHash: p.Hash,
		})
	}
	if err := maps.Publish(ctx, pairs[0]); err != nil {
		t.Fatalf("Publish error: %v", err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 64)
	wg.Add(1)
	go func() {
		defer wg.Done()
		for _, m := range pairs[1:] {
			if err := maps.Publish(ctx, m); err != nil {
				errs <- err
				return
			}
		}
	}()
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				m, p, err := maps.FindCurrent(ctx)
				if err != nil {
					errs <- err
					return
				}
				if m.NetworkParametersHash != p.Hash || !bytes.Equal(m.Signature, p.Signature) {
					errs <- errors.New("torn read of current map and parameters")
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent access error: %v", err)
	}
}

func TestNetworkMapRepository_FileDB_ConcurrentPublishersAndReaders(t *testing.T) {
	ctx := context.Background()
	db, err := InitDB(ctx, filepath.Join(t.TempDir(), "netmap.db"))
	if err != nil {
		t.Fatalf("InitDB error: %v", err)
	}
	t.Cleanup(func() { CloseDB(db) })
	params := NewNetworkParametersRepository(db)
	maps := NewNetworkMapRepository(db)

	const (
		versions   = 7
		publishers = 4
		published  = 49
		readers    = 8
		reads      = 200
	)
	var stored []*model.NetworkParametersRecord
	for i := byte(1); i <= versions; i++ {
		p, err := params.Create(ctx, paramsRecord(i, []byte{i}))
		if err != nil {
			t.Fatalf("Create params error: %v", err)
		}
		stored = append(stored, p)
	}
	// a map carries the signature of the parameters it references, so a torn read shows up
	// as a mismatch
	mapOf := func(publisher, i int) *model.NetworkMapRecord {
		p := stored[(publisher+i)%versions]
		raw := []byte{0xfe, byte(publisher), byte(i)}
		return &model.NetworkMapRecord{
			Hash:                  model.HashOf(raw),
			NetworkMap:            raw,
			Signature:             p.Signature,
			NetworkParametersHash: p.Hash,
			CreatedAt:             time.Now().UTC(),
		}
	}
	if err := maps.Publish(ctx, mapOf(0, 0)); err != nil {
		t.Fatalf("Publish error: %v", err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, publishers+readers)
	for w := 0; w < publishers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 1; i <= published; i++ {
				if err := maps.Publish(ctx, mapOf(w, i)); err != nil {
					errs <- err
					return
				}
			}
		}()
	}
	for r := 0; r < readers; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < reads; i++ {
				m, p, err := maps.FindCurrent(ctx)
				if err != nil {
					errs <- err
					return
				}
				if m.NetworkParametersHash != p.Hash || !bytes.Equal(m.Signature, p.Signature) {
					errs <- errors.New("torn read of current map and parameters")
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent access error: %v", err)
	}

	m, _, err := maps.FindCurrent(ctx)
	if err != nil {
		t.Fatalf("FindCurrent error: %v", err)
	}
	if m.NetworkMap[0] != 0xfe || m.NetworkMap[2] != published {
		t.Fatalf("current map is not a last publication: %x", m.NetworkMap)
	}
}
