/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package netmap

import "errors"

var (
	ErrNoPrimaryIdentity = errors.New("node info has no single-key legal identity")
	ErrInvalidRequest    = errors.New("invalid certificate request")
)
