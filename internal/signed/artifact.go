/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package signed

import (
	"fmt"
	"slices"

	"github.com/kentakayama/netmap-over-http/internal/domain/model"
	"github.com/kentakayama/netmap-over-http/internal/keys"
	"github.com/kentakayama/netmap-over-http/internal/serialization"
)

// Signable is a payload that names the identities required to sign it, in canonical order.
type Signable interface {
	SigningIdentities() []model.Identity
}

// Signer produces a signature over raw bytes with the private part of Public.
type Signer interface {
	Sign(data []byte) (model.Signature, error)
	Public() model.PublicKey
}

// Artifact is a serialized payload plus signatures in the order of the payload's signers.
type Artifact[T any] struct {
	Raw        SerializedBytes[T]
	Signatures []model.Signature
}

type wireArtifact struct {
	_          struct{} `cbor:",toarray"`
	Raw        []byte
	Signatures []model.Signature
}

// Sign serializes v once and signs those bytes with each signer in order.
func Sign[T any](v T, signers ...Signer) (*Artifact[T], error) {
	raw, err := Serialize(v)
	if err != nil {
		return nil, err
	}
	return SignBytes(raw, signers...)
}

// SignBytes signs already serialized bytes.
func SignBytes[T any](raw SerializedBytes[T], signers ...Signer) (*Artifact[T], error) {
	sigs := make([]model.Signature, 0, len(signers))
	for i, s := range signers {
		sig, err := s.Sign(raw.raw)
		if err != nil {
			return nil, fmt.Errorf("signer %d: %w", i, err)
		}
		sigs = append(sigs, sig)
	}
	return &Artifact[T]{Raw: raw, Signatures: sigs}, nil
}

// Verify deserializes the payload and checks that every identity it names signed the exact raw
// bytes, in order, with no missing and no extra signatures.
func Verify[T Signable](a *Artifact[T]) (*T, error) {
	v, err := a.Raw.Deserialize()
	if err != nil {
		return nil, err
	}
	if err := VerifySignatures(a.Raw.raw, (*v).SigningIdentities(), a.Signatures); err != nil {
		return nil, err
	}
	return v, nil
}

// VerifiedWith deserializes the payload after checking it carries exactly one signature, made by identity.
// Used for artifacts signed by the network map operator rather than by identities in the payload.
// A composite identity is refused, as it would require no signature at all.
func (a *Artifact[T]) VerifiedWith(identity model.Identity) (*T, error) {
	if identity.OwningKey.IsComposite() {
		return nil, fmt.Errorf("trusted identity %q: %w", identity.Name, keys.ErrCompositeKey)
	}
	v, err := a.Raw.Deserialize()
	if err != nil {
		return nil, err
	}
	if err := VerifySignatures(a.Raw.raw, []model.Identity{identity}, a.Signatures); err != nil {
		return nil, err
	}
	return v, nil
}

// Hash is the content hash of the payload; signatures are not covered.
func (a *Artifact[T]) Hash() model.SecureHash {
	return a.Raw.Hash()
}

// VerifySignatures pairs identities and signatures by index and verifies each pair over raw.
// It has no side effects and may run concurrently.
func VerifySignatures(raw []byte, identities []model.Identity, signatures []model.Signature) error {
	required := RequiredSigners(identities)
	if len(signatures) != len(required) {
		return &SignatureCountError{Found: len(signatures), Expected: len(required)}
	}
	for i, id := range required {
		if err := keys.Verify(id.OwningKey, raw, signatures[i]); err != nil {
			return &InvalidSignatureError{Index: i, Identity: id, Err: err}
		}
	}
	return nil
}

// RequiredSigners drops composite-key identities, preserving order.
//
// TODO: require a signature for each leaf key a node owns in a composite identity once
// certificate requests can be issued for composite keys.
func RequiredSigners(identities []model.Identity) []model.Identity {
	return slices.DeleteFunc(slices.Clone(identities), func(id model.Identity) bool {
		return id.OwningKey.IsComposite()
	})
}

func (a *Artifact[T]) MarshalCBOR() ([]byte, error) {
	return serialization.Marshal(wireArtifact{Raw: a.Raw.raw, Signatures: a.Signatures})
}

func (a *Artifact[T]) UnmarshalCBOR(data []byte) error {
	var w wireArtifact
	if err := serialization.Unmarshal(data, &w); err != nil {
		return err
	}
	a.Raw = SerializedBytes[T]{raw: w.Raw}
	a.Signatures = w.Signatures
	return nil
}

// Encode returns the wire form of a.
func (a *Artifact[T]) Encode() ([]byte, error) {
	return a.MarshalCBOR()
}

// Decode parses the wire form of an artifact. The payload itself is not decoded.
func Decode[T any](data []byte) (*Artifact[T], error) {
	var a Artifact[T]
	if err := a.UnmarshalCBOR(data); err != nil {
		return nil, fmt.Errorf("decode signed artifact: %w", err)
	}
	return &a, nil
}
