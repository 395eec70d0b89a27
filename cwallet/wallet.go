// Package cwallet holds an agent's signing identity
// and the queue of requests waiting to be sent to a ledger.
package cwallet

import (
	"crypto/ed25519"
	"fmt"
	"sync"

	"github.com/credmesh/credmesh/cledger"
	"github.com/google/uuid"
)

// SeedSize is the required length of a wallet seed.
const SeedSize = ed25519.SeedSize

// Wallet is a named signing identity.
// It is safe for concurrent use.
type Wallet struct {
	name string

	priv ed25519.PrivateKey
	id   string

	mu      sync.Mutex
	pending []cledger.Operation
}

// New returns a wallet whose key is derived from seed.
// The same seed always yields the same identifier.
func New(name string, seed []byte) (*Wallet, error) {
	if len(seed) != SeedSize {
		return nil, fmt.Errorf("wallet seed must be %d bytes (got %d)", SeedSize, len(seed))
	}

	priv := ed25519.NewKeyFromSeed(seed)
	return &Wallet{
		name: name,
		priv: priv,
		id:   cledger.Identifier(priv.Public().(ed25519.PublicKey)),
	}, nil
}

// SeedFromString returns s as a wallet seed.
// s must be exactly [SeedSize] bytes long,
// like the fixed "Faber000000000000000000000000000" style seeds used in tests.
func SeedFromString(s string) ([]byte, error) {
	if len(s) != SeedSize {
		return nil, fmt.Errorf("seed string must be %d bytes (got %d)", SeedSize, len(s))
	}
	return []byte(s), nil
}

func (w *Wallet) Name() string { return w.name }

// Identifier returns the base58 verification key of the wallet.
func (w *Wallet) Identifier() string { return w.id }

// VerKey returns the wallet's ed25519 verification key.
func (w *Wallet) VerKey() ed25519.PublicKey {
	return w.priv.Public().(ed25519.PublicKey)
}

// PrivateKey returns the wallet's signing key.
// It is exposed so the wallet key can also serve as a TLS certificate key.
func (w *Wallet) PrivateKey() ed25519.PrivateKey {
	return w.priv
}

// Sign sets req's identifier to this wallet and signs it.
func (w *Wallet) Sign(req *cledger.Request) error {
	req.Identifier = w.id
	msg, err := req.SigningBytes()
	if err != nil {
		return err
	}
	req.Signature = ed25519.Sign(w.priv, msg)
	return nil
}

// NewRequest returns a signed request carrying op under a fresh request ID.
func (w *Wallet) NewRequest(op cledger.Operation) (cledger.Request, error) {
	req := cledger.Request{
		ReqID:     uuid.New(),
		Operation: op,
	}
	if err := w.Sign(&req); err != nil {
		return cledger.Request{}, err
	}
	return req, nil
}

// Pend queues op to be signed by the next call to [*Wallet.PreparePending].
func (w *Wallet) Pend(op cledger.Operation) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending = append(w.pending, op)
}

// PendSyncRequests queues the requests that refresh
// the wallet's view of its own identity on the ledger.
func (w *Wallet) PendSyncRequests() {
	w.Pend(cledger.GetNym{Dest: w.id})
}

// PendingCount returns the number of queued operations.
func (w *Wallet) PendingCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}

// PreparePending signs and drains every queued operation, in queue order.
// If signing fails, the queue is left untouched.
func (w *Wallet) PreparePending() ([]cledger.Request, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make([]cledger.Request, 0, len(w.pending))
	for _, op := range w.pending {
		req, err := w.NewRequest(op)
		if err != nil {
			return nil, fmt.Errorf("failed to prepare %s request: %w", op.Type(), err)
		}
		out = append(out, req)
	}
	w.pending = nil
	return out, nil
}
