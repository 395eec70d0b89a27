package cpeer

import (
	"context"
	"fmt"

	"github.com/credmesh/credmesh/cpoll"
)

// KeyAddressed is the capability set of an endpoint
// that refers to peers by their verification key.
//
// A peer key is held in at most one of the two collections:
// the remotes (peers with an established connection record)
// or the peers without remotes (seen, but not yet assigned a record).
type KeyAddressed interface {
	Endpoint

	PublicKey() Identity

	// HasRemote reports whether key is in the endpoint's remotes.
	HasRemote(key Identity) bool

	// HasPeerWithoutRemote reports whether key has been seen
	// but not yet promoted to a remote.
	HasPeerWithoutRemote(key Identity) bool
}

// KnowsKey reports whether e has registered key in either collection.
func KnowsKey(e KeyAddressed, key Identity) bool {
	return e.HasRemote(key) || e.HasPeerWithoutRemote(key)
}

// KeyAddressedChecks returns the checks for a pair of key-addressed endpoints.
//
// Registration on both sides is expected to happen close together,
// so both directions are evaluated as a single check.
func KeyAddressedChecks(a Endpoint, other Endpoint) ([]Check, error) {
	ka, okA := a.(KeyAddressed)
	kb, okB := other.(KeyAddressed)
	if !okA || !okB {
		return nil, &UnsupportedPairingError{A: a, B: other}
	}

	return []Check{
		{
			Name: fmt.Sprintf("mutual key registration %s <-> %s", ka.PublicKey(), kb.PublicKey()),
			Predicate: func(context.Context) cpoll.Result {
				if !KnowsKey(kb, ka.PublicKey()) {
					return cpoll.Retry(fmt.Errorf(
						"%s has not registered %s", kb.PublicKey(), ka.PublicKey(),
					))
				}
				if !KnowsKey(ka, kb.PublicKey()) {
					return cpoll.Retry(fmt.Errorf(
						"%s has not registered %s", ka.PublicKey(), kb.PublicKey(),
					))
				}
				return cpoll.Ok()
			},
		},
	}, nil
}
