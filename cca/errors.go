package cca

import "errors"

// ErrCertRemoved is the cause attached to a live connection
// that was closed because the peer's CA left the trusted pool.
var ErrCertRemoved = errors.New("certificate removed from trusted set")
