package cpeer

import (
	"fmt"

	"github.com/credmesh/credmesh"
)

// UnsupportedPairingError is returned when connectivity is requested
// between endpoints of different or unrecognized variants.
//
// It matches [credmesh.ErrUnsupportedPairing] with [errors.Is].
type UnsupportedPairingError struct {
	A, B Endpoint
}

func (e *UnsupportedPairingError) Error() string {
	return fmt.Sprintf(
		"cannot check connectivity between %T (%s) and %T (%s)",
		e.A, identityOf(e.A), e.B, identityOf(e.B),
	)
}

func (e *UnsupportedPairingError) Unwrap() error {
	return credmesh.ErrUnsupportedPairing
}

func identityOf(e Endpoint) Identity {
	if e == nil {
		return "<nil>"
	}
	return e.Identity()
}
