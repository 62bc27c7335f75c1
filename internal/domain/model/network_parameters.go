/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package model

import (
	"errors"
	"fmt"
	"time"
)

var ErrInvalidNetworkParameters = errors.New("invalid network parameters")

// NetworkParameters are the values every node in the network must agree on.
type NetworkParameters struct {
	MinimumPlatformVersion int          `cbor:"1,keyasint"`
	Notaries               []NotaryInfo `cbor:"2,keyasint"`
	MaxMessageSize         int64        `cbor:"3,keyasint"`
	MaxTransactionSize     int64        `cbor:"4,keyasint"`
	ModifiedTime           time.Time    `cbor:"5,keyasint"`
	Epoch                  int          `cbor:"6,keyasint"`
}

type NotaryInfo struct {
	Identity   Identity `cbor:"1,keyasint"`
	Validating bool     `cbor:"2,keyasint"`
}

func (p NetworkParameters) Validate() error {
	if p.MinimumPlatformVersion < 1 {
		return fmt.Errorf("%w: minimum platform version must be at least 1", ErrInvalidNetworkParameters)
	}
	if p.Epoch < 1 {
		return fmt.Errorf("%w: epoch must be at least 1", ErrInvalidNetworkParameters)
	}
	if p.MaxMessageSize <= 0 {
		return fmt.Errorf("%w: max message size must be positive", ErrInvalidNetworkParameters)
	}
	if p.MaxTransactionSize <= 0 {
		return fmt.Errorf("%w: max transaction size must be positive", ErrInvalidNetworkParameters)
	}
	seen := make(map[string]struct{}, len(p.Notaries))
	for _, n := range p.Notaries {
		if _, ok := seen[n.Identity.Name]; ok {
			return fmt.Errorf("%w: duplicate notary %q", ErrInvalidNetworkParameters, n.Identity.Name)
		}
		seen[n.Identity.Name] = struct{}{}
	}
	return nil
}

// NetworkParametersRecord represents a stored parameters version. ID is the insertion order.
type NetworkParametersRecord struct {
	ID         int64
	Hash       SecureHash
	Parameters []byte    // serialized NetworkParameters
	Signature  Signature // nil while the version is an unsigned candidate
	CreatedAt  time.Time
}

func (r *NetworkParametersRecord) Signed() bool {
	return len(r.Signature) > 0
}
