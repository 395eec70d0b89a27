// Package cverify confirms that agent endpoints have registered each other
// as connected peers, waiting for eventual consistency.
package cverify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bits-and-blooms/bitset"
	"github.com/credmesh/credmesh/cpeer"
	"github.com/credmesh/credmesh/cpoll"
)

// Verifier checks mutual peer registration between endpoints.
type Verifier struct {
	log  *slog.Logger
	poll *cpoll.Poller
}

// New returns a Verifier that polls each connectivity check
// with the timeout and interval in cfg.
func New(log *slog.Logger, cfg cpoll.Config) *Verifier {
	return &Verifier{
		log:  log,
		poll: cpoll.New(log.With("sys", "poller"), cfg),
	}
}

// VerifyConnected blocks until a and b are mutually connected.
//
// The checks come from a's variant (see [cpeer.Endpoint.ConnectivityChecks])
// and are polled one after another.
// Each check receives the full configured timeout,
// so the worst-case wait is the sum across checks.
//
// An unsupported pairing is returned immediately, without polling.
// Otherwise the first check that fails to converge ends verification;
// its error wraps the poller's error.
func (v *Verifier) VerifyConnected(ctx context.Context, a, b cpeer.Endpoint) error {
	checks, err := a.ConnectivityChecks(b)
	if err != nil {
		return err
	}

	for _, c := range checks {
		if err := v.poll.Poll(ctx, c.Predicate); err != nil {
			return fmt.Errorf("%s: %w", c.Name, err)
		}
		v.log.Debug("Connectivity check passed", "check", c.Name)
	}

	v.log.Info(
		"Endpoints connected",
		"a", a.Identity(),
		"b", b.Identity(),
	)
	return nil
}

// Pair identifies two endpoints by their index in a mesh.
type Pair struct {
	I, J int
}

// MeshError reports the pairs that [*Verifier.VerifyMesh] could not verify.
type MeshError struct {
	Total int

	Failed []Pair
	Errs   []error
}

func (e *MeshError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d of %d endpoint pairs not connected", len(e.Failed), e.Total)
	for i, p := range e.Failed {
		fmt.Fprintf(&sb, "; (%d,%d): %v", p.I, p.J, e.Errs[i])
	}
	return sb.String()
}

func (e *MeshError) Unwrap() []error {
	return e.Errs
}

// VerifyMesh verifies every unordered pair of eps,
// in index order, each pair with its own time budget.
// A failed pair does not stop verification of the remaining pairs;
// all failures are collected into a [*MeshError].
//
// If ctx is cancelled, pairs not yet attempted are reported
// as failed with the context's cause.
func (v *Verifier) VerifyMesh(ctx context.Context, eps ...cpeer.Endpoint) error {
	n := len(eps)
	total := n * (n - 1) / 2
	if total == 0 {
		return nil
	}

	// Bit i*n+j stays set until the pair (i, j) with i<j is verified.
	unverified := bitset.New(uint(n * n))
	for i := range n {
		for j := i + 1; j < n; j++ {
			unverified.Set(pairBit(n, i, j))
		}
	}
	errs := make(map[uint]error)

outer:
	for i := range n {
		for j := i + 1; j < n; j++ {
			if ctx.Err() != nil {
				break outer
			}

			b := pairBit(n, i, j)
			if err := v.VerifyConnected(ctx, eps[i], eps[j]); err != nil {
				errs[b] = err
				continue
			}
			unverified.Clear(b)
		}
	}

	if unverified.None() {
		return nil
	}

	me := &MeshError{Total: total}
	for b, ok := unverified.NextSet(0); ok; b, ok = unverified.NextSet(b + 1) {
		err, attempted := errs[b]
		if !attempted {
			err = fmt.Errorf("not attempted: %w", context.Cause(ctx))
		}
		me.Failed = append(me.Failed, Pair{I: int(b) / n, J: int(b) % n})
		me.Errs = append(me.Errs, err)
	}
	return me
}

func pairBit(n, i, j int) uint {
	return uint(i*n + j)
}
