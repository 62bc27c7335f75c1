/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package model

import (
	"bytes"
	"database/sql/driver"
	"errors"
	"fmt"

	"github.com/multiformats/go-multihash"
)

const secureHashSize = 32

// SecureHash is the SHA2-256 content hash of exact serialized bytes.
type SecureHash [secureHashSize]byte

var ErrInvalidSecureHash = errors.New("invalid secure hash")

// HashOf returns the content hash of data.
func HashOf(data []byte) SecureHash {
	sum, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		// multihash.Sum only fails for unknown codes or bad lengths
		panic(fmt.Sprintf("sha2-256 multihash: %v", err))
	}
	decoded, err := multihash.Decode(sum)
	if err != nil {
		panic(fmt.Sprintf("sha2-256 multihash: %v", err))
	}
	var h SecureHash
	copy(h[:], decoded.Digest)
	return h
}

// ParseSecureHash parses the base58 multihash text form produced by String.
func ParseSecureHash(s string) (SecureHash, error) {
	mh, err := multihash.FromB58String(s)
	if err != nil {
		return SecureHash{}, fmt.Errorf("%w: %v", ErrInvalidSecureHash, err)
	}
	decoded, err := multihash.Decode(mh)
	if err != nil {
		return SecureHash{}, fmt.Errorf("%w: %v", ErrInvalidSecureHash, err)
	}
	if decoded.Code != multihash.SHA2_256 || len(decoded.Digest) != secureHashSize {
		return SecureHash{}, fmt.Errorf("%w: unexpected multihash %s/%d", ErrInvalidSecureHash, decoded.Name, decoded.Length)
	}
	var h SecureHash
	copy(h[:], decoded.Digest)
	return h, nil
}

// Multihash returns the self-describing multihash encoding of h.
func (h SecureHash) Multihash() multihash.Multihash {
	mh, err := multihash.Encode(h[:], multihash.SHA2_256)
	if err != nil {
		panic(fmt.Sprintf("sha2-256 multihash: %v", err))
	}
	return multihash.Multihash(mh)
}

func (h SecureHash) String() string {
	return h.Multihash().B58String()
}

func (h SecureHash) IsZero() bool {
	return h == SecureHash{}
}

func (h SecureHash) Compare(other SecureHash) int {
	return bytes.Compare(h[:], other[:])
}

// Value implements driver.Valuer so hashes can be bound as BLOB parameters.
func (h SecureHash) Value() (driver.Value, error) {
	return h[:], nil
}

// Scan implements sql.Scanner.
func (h *SecureHash) Scan(src any) error {
	b, ok := src.([]byte)
	if !ok {
		return fmt.Errorf("%w: cannot scan %T", ErrInvalidSecureHash, src)
	}
	if len(b) != secureHashSize {
		return fmt.Errorf("%w: length %d", ErrInvalidSecureHash, len(b))
	}
	copy(h[:], b)
	return nil
}
