/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package model

import (
	"slices"
	"time"
)

// NetworkMap is a snapshot of the published node infos and the parameters they run under.
type NetworkMap struct {
	NodeInfoHashes        []SecureHash `cbor:"1,keyasint"`
	NetworkParametersHash SecureHash   `cbor:"2,keyasint"`
}

// NewNetworkMap builds a snapshot with node hashes sorted and deduplicated, so equal sets
// always serialize to equal bytes.
func NewNetworkMap(nodeInfoHashes []SecureHash, parametersHash SecureHash) NetworkMap {
	hashes := slices.Clone(nodeInfoHashes)
	slices.SortFunc(hashes, SecureHash.Compare)
	hashes = slices.Compact(hashes)
	if hashes == nil {
		hashes = []SecureHash{}
	}
	return NetworkMap{
		NodeInfoHashes:        hashes,
		NetworkParametersHash: parametersHash,
	}
}

func (m NetworkMap) Contains(h SecureHash) bool {
	return slices.Contains(m.NodeInfoHashes, h)
}

// NetworkMapRecord represents a published, signed network map.
type NetworkMapRecord struct {
	ID                    int64
	Hash                  SecureHash
	NetworkMap            []byte // serialized NetworkMap
	Signature             Signature
	NetworkParametersHash SecureHash
	CreatedAt             time.Time
}
