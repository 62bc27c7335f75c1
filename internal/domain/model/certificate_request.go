/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package model

import "time"

type RequestStatus int

const (
	RequestStatusSubmitted     RequestStatus = 1
	RequestStatusTicketCreated RequestStatus = 2
	RequestStatusApproved      RequestStatus = 3
	RequestStatusRejected      RequestStatus = 4
)

func (s RequestStatus) String() string {
	switch s {
	case RequestStatusSubmitted:
		return "submitted"
	case RequestStatusTicketCreated:
		return "ticket-created"
	case RequestStatusApproved:
		return "approved"
	case RequestStatusRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// CanTransitionTo reports whether the lifecycle allows moving from s to next.
// Transitions are one-directional; approved and rejected are terminal.
func (s RequestStatus) CanTransitionTo(next RequestStatus) bool {
	switch s {
	case RequestStatusSubmitted:
		return next == RequestStatusTicketCreated || next == RequestStatusRejected
	case RequestStatusTicketCreated:
		return next == RequestStatusApproved || next == RequestStatusRejected
	default:
		return false
	}
}

type CertificateStatus int

const (
	CertificateStatusValid   CertificateStatus = 1
	CertificateStatusRevoked CertificateStatus = 2
)

func (s CertificateStatus) String() string {
	switch s {
	case CertificateStatusValid:
		return "valid"
	case CertificateStatusRevoked:
		return "revoked"
	default:
		return "unknown"
	}
}

// CertPath is a DER encoded certificate chain, leaf first, excluding the root.
type CertPath [][]byte

// CertificateRequest tracks a node's request for a certificate through its lifecycle.
type CertificateRequest struct {
	ID                string
	LegalName         string
	PublicKey         PublicKey
	PublicKeyHash     SecureHash
	Status            RequestStatus
	ModifiedBy        string
	Remark            string
	CertPath          CertPath           // NULL until attached after approval
	CertificateStatus *CertificateStatus // NULL until a certificate path is attached
	CreatedAt         time.Time
	ModifiedAt        time.Time
}

// HasValidCertificate reports whether the request is approved with an unrevoked certificate path.
func (r *CertificateRequest) HasValidCertificate() bool {
	return r.Status == RequestStatusApproved &&
		len(r.CertPath) > 0 &&
		r.CertificateStatus != nil && *r.CertificateStatus == CertificateStatusValid
}
