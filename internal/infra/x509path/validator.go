/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

// Package x509path validates node certificate paths against the network root.
package x509path

import (
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/kentakayama/netmap-over-http/internal/domain/model"
	"github.com/kentakayama/netmap-over-http/internal/keys"
)

var ErrInvalidCertPath = errors.New("invalid certificate path")

// Validator checks that a path chains up to a single trusted root.
type Validator struct {
	roots *x509.CertPool
	now   func() time.Time
}

func NewValidator(root *x509.Certificate) *Validator {
	roots := x509.NewCertPool()
	roots.AddCert(root)
	return &Validator{roots: roots, now: time.Now}
}

// LoadRoot reads a PEM encoded root certificate.
func LoadRoot(path string) (*x509.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read root certificate: %w", err)
	}
	block, _ := pem.Decode(data)
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, fmt.Errorf("failed to decode root certificate PEM block")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse root certificate: %w", err)
	}
	return cert, nil
}

// LoadPath reads a PEM bundle, leaf first, as a certificate path. Blocks other than
// certificates are skipped.
func LoadPath(path string) (model.CertPath, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read certificate path: %w", err)
	}
	var out model.CertPath
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}
		if block.Type == "CERTIFICATE" {
			out = append(out, block.Bytes)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no certificates in %s", ErrInvalidCertPath, path)
	}
	return out, nil
}

// Validate verifies path (leaf first, root excluded) and returns the leaf's public key.
func (v *Validator) Validate(path model.CertPath) (model.PublicKey, error) {
	if len(path) == 0 {
		return model.PublicKey{}, fmt.Errorf("%w: empty", ErrInvalidCertPath)
	}
	certs := make([]*x509.Certificate, 0, len(path))
	for i, der := range path {
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			return model.PublicKey{}, fmt.Errorf("%w: certificate %d: %v", ErrInvalidCertPath, i, err)
		}
		certs = append(certs, cert)
	}

	intermediates := x509.NewCertPool()
	for _, cert := range certs[1:] {
		intermediates.AddCert(cert)
	}
	opts := x509.VerifyOptions{
		Roots:         v.roots,
		Intermediates: intermediates,
		CurrentTime:   v.now(),
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	}
	if _, err := certs[0].Verify(opts); err != nil {
		return model.PublicKey{}, fmt.Errorf("%w: %v", ErrInvalidCertPath, err)
	}

	pub, err := keys.NewPublicKey(certs[0].PublicKey)
	if err != nil {
		return model.PublicKey{}, fmt.Errorf("%w: leaf key: %v", ErrInvalidCertPath, err)
	}
	return pub, nil
}
