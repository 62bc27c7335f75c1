/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package model

import (
	"bytes"
	"fmt"

	"github.com/kentakayama/netmap-over-http/internal/serialization"
)

// PublicKey is either a single COSE_Key or a composite (threshold) key.
type PublicKey struct {
	COSEKey   []byte        `cbor:"1,keyasint,omitempty"` // encoded COSE_Key, public parameters only
	Composite *CompositeKey `cbor:"2,keyasint,omitempty"`
}

// CompositeKey is a weighted threshold over child keys.
type CompositeKey struct {
	Threshold uint             `cbor:"1,keyasint"`
	Children  []CompositeChild `cbor:"2,keyasint"`
}

type CompositeChild struct {
	Weight uint      `cbor:"1,keyasint"`
	Key    PublicKey `cbor:"2,keyasint"`
}

func (k PublicKey) IsComposite() bool {
	return k.Composite != nil
}

// Encoded returns the deterministic encoding of k.
func (k PublicKey) Encoded() ([]byte, error) {
	return serialization.Marshal(k)
}

// Hash identifies a key independently of the identity name bound to it.
func (k PublicKey) Hash() (SecureHash, error) {
	encoded, err := k.Encoded()
	if err != nil {
		return SecureHash{}, fmt.Errorf("encode public key: %w", err)
	}
	return HashOf(encoded), nil
}

func (k PublicKey) Equal(other PublicKey) bool {
	a, errA := k.Encoded()
	b, errB := other.Encoded()
	return errA == nil && errB == nil && bytes.Equal(a, b)
}

// Identity binds a legal name to the key that signs on its behalf.
type Identity struct {
	Name      string    `cbor:"1,keyasint"`
	OwningKey PublicKey `cbor:"2,keyasint"`
}

func (i Identity) String() string {
	h, err := i.OwningKey.Hash()
	if err != nil {
		return i.Name
	}
	s := h.String()
	if len(s) > 12 {
		s = s[len(s)-12:]
	}
	return fmt.Sprintf("%s (key %s)", i.Name, s)
}

// Signature is a raw signature over serialized bytes.
type Signature []byte
