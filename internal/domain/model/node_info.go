/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package model

import (
	"errors"
	"time"
)

// NodeInfo describes a network participant. It is only referenced by the hash of its serialized form.
type NodeInfo struct {
	Addresses       []string   `cbor:"1,keyasint"`
	LegalIdentities []Identity `cbor:"2,keyasint"`
	PlatformVersion int        `cbor:"3,keyasint"`
	Serial          int64      `cbor:"4,keyasint"`
}

// SigningIdentities returns the identities expected to sign a NodeInfo, in legal identity order.
func (n NodeInfo) SigningIdentities() []Identity {
	return n.LegalIdentities
}

// PrimaryKey returns the key of the first non-composite legal identity. It links the node to
// its certificate request.
func (n NodeInfo) PrimaryKey() (PublicKey, error) {
	for _, id := range n.LegalIdentities {
		if !id.OwningKey.IsComposite() {
			return id.OwningKey, nil
		}
	}
	return PublicKey{}, errors.New("node info has no non-composite legal identity")
}

// NodeInfoRecord represents a stored signed NodeInfo.
type NodeInfoRecord struct {
	ID             int64
	Hash           SecureHash // hash of the raw NodeInfo payload
	SignedNodeInfo []byte     // encoded signed artifact
	PublicKeyHash  SecureHash
	CreatedAt      time.Time
}
