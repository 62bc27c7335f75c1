/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package model

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecureHash_StringParse_OK(t *testing.T) {
	h := HashOf([]byte("node-info"))
	assert.False(t, h.IsZero())
	assert.Equal(t, h, HashOf([]byte("node-info")))
	assert.NotEqual(t, h, HashOf([]byte("node-info2")))

	parsed, err := ParseSecureHash(h.String())
	require.Nil(t, err)
	assert.Equal(t, h, parsed)
}

func TestSecureHash_Parse_NG(t *testing.T) {
	_, err := ParseSecureHash("not-base58-0OIl")
	assert.True(t, errors.Is(err, ErrInvalidSecureHash))

	_, err = ParseSecureHash("")
	assert.True(t, errors.Is(err, ErrInvalidSecureHash))
}

func TestSecureHash_Scan(t *testing.T) {
	h := HashOf([]byte("x"))
	v, err := h.Value()
	require.Nil(t, err)

	var scanned SecureHash
	require.Nil(t, scanned.Scan(v))
	assert.Equal(t, h, scanned)

	assert.NotNil(t, scanned.Scan([]byte{0x01}))
	assert.NotNil(t, scanned.Scan("text"))
}

func TestRequestStatus_Transitions(t *testing.T) {
	tests := []struct {
		from, to RequestStatus
		ok       bool
	}{
		{RequestStatusSubmitted, RequestStatusTicketCreated, true},
		{RequestStatusSubmitted, RequestStatusRejected, true},
		{RequestStatusSubmitted, RequestStatusApproved, false},
		{RequestStatusTicketCreated, RequestStatusApproved, true},
		{RequestStatusTicketCreated, RequestStatusRejected, true},
		{RequestStatusTicketCreated, RequestStatusSubmitted, false},
		{RequestStatusApproved, RequestStatusRejected, false},
		{RequestStatusApproved, RequestStatusTicketCreated, false},
		{RequestStatusRejected, RequestStatusApproved, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.ok, tt.from.CanTransitionTo(tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestCertificateRequest_HasValidCertificate(t *testing.T) {
	valid := CertificateStatusValid
	revoked := CertificateStatusRevoked

	r := &CertificateRequest{Status: RequestStatusApproved}
	assert.False(t, r.HasValidCertificate())

	r.CertPath = CertPath{[]byte{0x30}}
	r.CertificateStatus = &valid
	assert.True(t, r.HasValidCertificate())

	r.CertificateStatus = &revoked
	assert.False(t, r.HasValidCertificate())

	r.CertificateStatus = &valid
	r.Status = RequestStatusTicketCreated
	assert.False(t, r.HasValidCertificate())
}

func TestNetworkParameters_Validate(t *testing.T) {
	ok := NetworkParameters{
		MinimumPlatformVersion: 1,
		MaxMessageSize:         10485760,
		MaxTransactionSize:     524288000,
		ModifiedTime:           time.Now(),
		Epoch:                  1,
		Notaries: []NotaryInfo{
			{Identity: Identity{Name: "O=Notary,L=Zurich,C=CH"}},
		},
	}
	assert.Nil(t, ok.Validate())

	bad := ok
	bad.MinimumPlatformVersion = 0
	assert.True(t, errors.Is(bad.Validate(), ErrInvalidNetworkParameters))

	bad = ok
	bad.Epoch = 0
	assert.True(t, errors.Is(bad.Validate(), ErrInvalidNetworkParameters))

	bad = ok
	bad.MaxMessageSize = 0
	assert.True(t, errors.Is(bad.Validate(), ErrInvalidNetworkParameters))

	bad = ok
	bad.Notaries = append([]NotaryInfo{}, ok.Notaries[0], ok.Notaries[0])
	assert.True(t, errors.Is(bad.Validate(), ErrInvalidNetworkParameters))
}

func TestNewNetworkMap_SortedAndDeduplicated(t *testing.T) {
	a := HashOf([]byte("a"))
	b := HashOf([]byte("b"))
	p := HashOf([]byte("params"))

	m1 := NewNetworkMap([]SecureHash{a, b, a}, p)
	m2 := NewNetworkMap([]SecureHash{b, a}, p)
	assert.Equal(t, m1, m2)
	assert.Len(t, m1.NodeInfoHashes, 2)
	assert.True(t, m1.Contains(a))
	assert.False(t, m1.Contains(p))

	empty := NewNetworkMap(nil, p)
	assert.NotNil(t, empty.NodeInfoHashes)
	assert.Empty(t, empty.NodeInfoHashes)
}

func TestNodeInfo_PrimaryKey(t *testing.T) {
	composite := Identity{Name: "O=Group", OwningKey: PublicKey{Composite: &CompositeKey{Threshold: 1}}}
	plain := Identity{Name: "O=Bank", OwningKey: PublicKey{COSEKey: []byte{0xa0}}}

	n := NodeInfo{LegalIdentities: []Identity{composite, plain}}
	k, err := n.PrimaryKey()
	require.Nil(t, err)
	assert.True(t, k.Equal(plain.OwningKey))

	n = NodeInfo{LegalIdentities: []Identity{composite}}
	_, err = n.PrimaryKey()
	assert.NotNil(t, err)
}
