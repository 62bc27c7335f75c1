/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package keys

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"errors"
	"fmt"
	"os"

	"github.com/fxamacker/cbor/v2"
	"github.com/kentakayama/netmap-over-http/internal/domain/model"
	"github.com/veraison/go-cose"
)

var (
	ErrCompositeKey   = errors.New("composite keys cannot verify signatures directly")
	ErrEmptyPublicKey = errors.New("public key is empty")
)

// KeyPair holds a private COSE_Key and the public key derived from it.
type KeyPair struct {
	private *cose.Key
	public  model.PublicKey
	signer  cose.Signer
}

// Generate creates a fresh key pair for alg. EdDSA and ES256 are supported.
func Generate(alg cose.Algorithm) (*KeyPair, error) {
	switch alg {
	case cose.AlgorithmEdDSA:
		_, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, err
		}
		return FromPrivateKey(priv)
	case cose.AlgorithmES256:
		priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		if err != nil {
			return nil, err
		}
		return FromPrivateKey(priv)
	default:
		return nil, fmt.Errorf("unsupported algorithm %v", alg)
	}
}

// FromPrivateKey wraps an ed25519 or ECDSA private key.
func FromPrivateKey(priv crypto.PrivateKey) (*KeyPair, error) {
	key, err := cose.NewKeyFromPrivate(priv)
	if err != nil {
		return nil, fmt.Errorf("create COSE key: %w", err)
	}
	return fromCOSEKey(key)
}

// Parse decodes a private COSE_Key as written by MarshalPrivate.
func Parse(data []byte) (*KeyPair, error) {
	var key cose.Key
	if err := cbor.Unmarshal(data, &key); err != nil {
		return nil, fmt.Errorf("decode COSE key: %w", err)
	}
	return fromCOSEKey(&key)
}

// Load reads a private COSE_Key file.
func Load(path string) (*KeyPair, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}
	return Parse(data)
}

// LoadPublic reads a COSE_Key file and returns its public part. Private key files are accepted.
func LoadPublic(path string) (model.PublicKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.PublicKey{}, fmt.Errorf("read key file: %w", err)
	}
	var key cose.Key
	if err := cbor.Unmarshal(data, &key); err != nil {
		return model.PublicKey{}, fmt.Errorf("decode COSE key: %w", err)
	}
	pub, err := key.PublicKey()
	if err != nil {
		return model.PublicKey{}, fmt.Errorf("derive public key: %w", err)
	}
	return NewPublicKey(pub)
}

func fromCOSEKey(key *cose.Key) (*KeyPair, error) {
	signer, err := key.Signer()
	if err != nil {
		return nil, fmt.Errorf("create signer: %w", err)
	}
	pub, err := key.PublicKey()
	if err != nil {
		return nil, fmt.Errorf("derive public key: %w", err)
	}
	public, err := NewPublicKey(pub)
	if err != nil {
		return nil, err
	}
	return &KeyPair{
		private: key,
		public:  public,
		signer:  signer,
	}, nil
}

// NewPublicKey encodes pub as a COSE_Key without private parameters.
func NewPublicKey(pub crypto.PublicKey) (model.PublicKey, error) {
	key, err := cose.NewKeyFromPublic(pub)
	if err != nil {
		return model.PublicKey{}, fmt.Errorf("create COSE key: %w", err)
	}
	encoded, err := cbor.Marshal(key)
	if err != nil {
		return model.PublicKey{}, fmt.Errorf("encode COSE key: %w", err)
	}
	return model.PublicKey{COSEKey: encoded}, nil
}

func (k *KeyPair) Public() model.PublicKey {
	return k.public
}

func (k *KeyPair) Algorithm() cose.Algorithm {
	return k.signer.Algorithm()
}

// Identity binds the key pair's public key to a legal name.
func (k *KeyPair) Identity(name string) model.Identity {
	return model.Identity{Name: name, OwningKey: k.public}
}

// Sign signs data as is; the digest, if any, is computed by the algorithm.
func (k *KeyPair) Sign(data []byte) (model.Signature, error) {
	sig, err := k.signer.Sign(rand.Reader, data)
	if err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}
	return sig, nil
}

// MarshalPrivate encodes the private COSE_Key.
func (k *KeyPair) MarshalPrivate() ([]byte, error) {
	return cbor.Marshal(k.private)
}

// Verify checks sig over data against pub.
func Verify(pub model.PublicKey, data []byte, sig model.Signature) error {
	if pub.IsComposite() {
		return ErrCompositeKey
	}
	if len(pub.COSEKey) == 0 {
		return ErrEmptyPublicKey
	}
	var key cose.Key
	if err := cbor.Unmarshal(pub.COSEKey, &key); err != nil {
		return fmt.Errorf("decode COSE key: %w", err)
	}
	verifier, err := key.Verifier()
	if err != nil {
		return fmt.Errorf("create verifier: %w", err)
	}
	return verifier.Verify(data, sig)
}
