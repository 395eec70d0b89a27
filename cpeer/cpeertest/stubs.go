// Package cpeertest contains in-memory endpoints for tests
// that need to control peer registration directly,
// without any network traffic.
package cpeertest

import (
	"net"
	"sync"

	"github.com/credmesh/credmesh/cpeer"
)

var (
	_ cpeer.KeyAddressed       = (*KeyedStub)(nil)
	_ cpeer.TransportAddressed = (*NamedStub)(nil)
)

// KeyedStub is a key-addressed endpoint whose registries
// are only changed by calls from the test.
// It is safe for concurrent use.
type KeyedStub struct {
	key cpeer.Identity

	mu      sync.RWMutex
	remotes map[cpeer.Identity]struct{}
	pending map[cpeer.Identity]struct{}
}

func NewKeyedStub(key cpeer.Identity) *KeyedStub {
	return &KeyedStub{
		key:     key,
		remotes: map[cpeer.Identity]struct{}{},
		pending: map[cpeer.Identity]struct{}{},
	}
}

func (s *KeyedStub) Identity() cpeer.Identity  { return s.key }
func (s *KeyedStub) PublicKey() cpeer.Identity { return s.key }
func (s *KeyedStub) Addr() net.Addr            { return nil }

func (s *KeyedStub) ConnectivityChecks(other cpeer.Endpoint) ([]cpeer.Check, error) {
	return cpeer.KeyAddressedChecks(s, other)
}

func (s *KeyedStub) HasRemote(key cpeer.Identity) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.remotes[key]
	return ok
}

func (s *KeyedStub) HasPeerWithoutRemote(key cpeer.Identity) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.pending[key]
	return ok
}

// AddRemote records key as a remote, removing it from the pending set.
func (s *KeyedStub) AddRemote(key cpeer.Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, key)
	s.remotes[key] = struct{}{}
}

// AddPeerWithoutRemote records key as seen.
// It panics if key is already a remote,
// as that would break the registry invariant.
func (s *KeyedStub) AddPeerWithoutRemote(key cpeer.Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.remotes[key]; ok {
		panic("BUG: key " + string(key) + " is already a remote")
	}
	s.pending[key] = struct{}{}
}

// NamedStub is a transport-addressed endpoint whose remote states
// are only changed by calls from the test.
// It is safe for concurrent use.
type NamedStub struct {
	name cpeer.Identity

	mu     sync.RWMutex
	states map[cpeer.Identity]cpeer.ConnectionState
}

func NewNamedStub(name cpeer.Identity) *NamedStub {
	return &NamedStub{
		name:   name,
		states: map[cpeer.Identity]cpeer.ConnectionState{},
	}
}

func (s *NamedStub) Identity() cpeer.Identity { return s.name }
func (s *NamedStub) Name() cpeer.Identity     { return s.name }
func (s *NamedStub) Addr() net.Addr           { return nil }

func (s *NamedStub) ConnectivityChecks(other cpeer.Endpoint) ([]cpeer.Check, error) {
	return cpeer.TransportAddressedChecks(s, other)
}

func (s *NamedStub) RemoteState(name cpeer.Identity) cpeer.ConnectionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.states[name]
}

// SetRemoteState sets the state reported for name.
func (s *NamedStub) SetRemoteState(name cpeer.Identity, state cpeer.ConnectionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[name] = state
}
