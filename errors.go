package credmesh

import "errors"

// ErrTimeout is matched (through [errors.Is]) by every error
// returned when a condition was not observed before its deadline.
var ErrTimeout = errors.New("timed out waiting for condition")

// ErrUnsupportedPairing is matched by errors reporting
// that two endpoints of different variants were compared.
// It is a setup error and is never retried.
var ErrUnsupportedPairing = errors.New("unsupported endpoint pairing")

// ErrRevocationUnsupported is returned from every attempt
// to publish a revocation registry.
// Revocation registries are declared but not implemented.
var ErrRevocationUnsupported = errors.New("revocation registry publication is not supported")
