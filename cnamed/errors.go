package cnamed

import (
	"fmt"

	"github.com/credmesh/credmesh/cpeer"
	"github.com/credmesh/credmesh/cquic"
)

// NameMismatchError is returned when a dialed peer
// acknowledges with a different name than the one dialed.
type NameMismatchError struct {
	Want, Got cpeer.Identity
}

func (e *NameMismatchError) Error() string {
	return fmt.Sprintf("dialed %s but peer answered as %s", e.Want, e.Got)
}

func (e *NameMismatchError) Unwrap() error {
	return cquic.ErrIdentityMismatch
}
