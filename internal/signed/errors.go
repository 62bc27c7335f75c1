/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package signed

import (
	"errors"
	"fmt"

	"github.com/kentakayama/netmap-over-http/internal/domain/model"
)

var (
	ErrMissingSignatures = errors.New("missing signatures")
	ErrExtraSignatures   = errors.New("extra signatures")
	ErrInvalidSignature  = errors.New("invalid signature")
	ErrMalformedPayload  = errors.New("malformed payload")
)

// SignatureCountError reports a mismatch between the number of signatures and required signers.
// It unwraps to ErrMissingSignatures or ErrExtraSignatures.
type SignatureCountError struct {
	Found    int
	Expected int
}

func (e *SignatureCountError) Error() string {
	return fmt.Sprintf("%v: found %d expected %d", e.kind(), e.Found, e.Expected)
}

func (e *SignatureCountError) Unwrap() error {
	return e.kind()
}

func (e *SignatureCountError) kind() error {
	if e.Found < e.Expected {
		return ErrMissingSignatures
	}
	return ErrExtraSignatures
}

// InvalidSignatureError names the first identity whose signature failed to verify.
type InvalidSignatureError struct {
	Index    int
	Identity model.Identity
	Err      error
}

func (e *InvalidSignatureError) Error() string {
	return fmt.Sprintf("%v: %s (signature %d): %v", ErrInvalidSignature, e.Identity, e.Index, e.Err)
}

func (e *InvalidSignatureError) Unwrap() []error {
	return []error{ErrInvalidSignature, e.Err}
}
