package domain

import "errors"

var (
	ErrNotFound = errors.New("item not found")

	// ErrDanglingParametersReference means a network map would reference network parameters
	// that are not stored. Publication must halt.
	ErrDanglingParametersReference = errors.New("network map references unknown network parameters")
	ErrParametersNotSigned         = errors.New("network parameters are not signed")
	ErrInvalidParametersSignature  = errors.New("network parameters signature does not verify")
	ErrNoNetworkParameters         = errors.New("no signed network parameters available")
	ErrAlreadySigned               = errors.New("network parameters already signed")
	ErrInvalidTransition           = errors.New("invalid certificate request transition")
	ErrCertificatePathMismatch     = errors.New("certificate path does not certify the requested key")
)
