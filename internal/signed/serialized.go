/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package signed

import (
	"bytes"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/kentakayama/netmap-over-http/internal/domain/model"
	"github.com/kentakayama/netmap-over-http/internal/serialization"
)

// SerializedBytes is an immutable serialized form of a T. The bytes are never re-derived
// from a decoded value.
type SerializedBytes[T any] struct {
	raw []byte
}

// Serialize encodes v.
func Serialize[T any](v T) (SerializedBytes[T], error) {
	raw, err := serialization.Marshal(v)
	if err != nil {
		return SerializedBytes[T]{}, fmt.Errorf("serialize %T: %w", v, err)
	}
	return SerializedBytes[T]{raw: raw}, nil
}

// FromBytes wraps a copy of raw.
func FromBytes[T any](raw []byte) SerializedBytes[T] {
	return SerializedBytes[T]{raw: bytes.Clone(raw)}
}

// Bytes returns a copy of the serialized bytes.
func (s SerializedBytes[T]) Bytes() []byte {
	return bytes.Clone(s.raw)
}

func (s SerializedBytes[T]) Len() int {
	return len(s.raw)
}

// Hash is the content hash of the exact serialized bytes.
func (s SerializedBytes[T]) Hash() model.SecureHash {
	return model.HashOf(s.raw)
}

func (s SerializedBytes[T]) Deserialize() (*T, error) {
	if len(s.raw) == 0 {
		return nil, fmt.Errorf("%w: empty", ErrMalformedPayload)
	}
	var v T
	if err := serialization.Unmarshal(s.raw, &v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return &v, nil
}

func (s SerializedBytes[T]) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal(s.raw)
}

func (s *SerializedBytes[T]) UnmarshalCBOR(data []byte) error {
	var raw []byte
	if err := cbor.Unmarshal(data, &raw); err != nil {
		return err
	}
	s.raw = raw
	return nil
}
