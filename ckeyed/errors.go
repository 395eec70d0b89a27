package ckeyed

import (
	"fmt"

	"github.com/credmesh/credmesh/cpeer"
	"github.com/credmesh/credmesh/cquic"
)

// IdentityMismatchError is returned when the identity a peer announces
// in its hello differs from the key in its TLS certificate.
type IdentityMismatchError struct {
	Want, Got cpeer.Identity
}

func (e *IdentityMismatchError) Error() string {
	return fmt.Sprintf("peer announced identity %s but presented key %s", e.Got, e.Want)
}

func (e *IdentityMismatchError) Unwrap() error {
	return cquic.ErrIdentityMismatch
}
