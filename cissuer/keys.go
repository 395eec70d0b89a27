// Package cissuer derives the issuer key set
// that is published alongside a credential schema.
//
// The key set has the shape of a CL signature key:
// a modulus N = p*q, a random quadratic residue S,
// and Z and one R per attribute expressed as powers of S.
// Only the public half is ever sent to a ledger.
package cissuer

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"math/big"
	"slices"
)

// MinPrimeBits is the smallest accepted bit length for either prime.
const MinPrimeBits = 64

// Primality test rounds for [*big.Int.ProbablyPrime].
const primalityRounds = 20

// PublicKey is the public half of an issuer key set.
type PublicKey struct {
	N *big.Int `json:"n"`
	S *big.Int `json:"s"`
	Z *big.Int `json:"z"`

	// One base per schema attribute, keyed by attribute name.
	R map[string]*big.Int `json:"r"`
}

// SecretKey is the private half of an issuer key set.
// It must never leave the issuing agent.
type SecretKey struct {
	P *big.Int
	Q *big.Int
}

// Attrs returns the attribute names covered by pk, sorted.
func (pk PublicKey) Attrs() []string {
	out := make([]string, 0, len(pk.R))
	for a := range pk.R {
		out = append(out, a)
	}
	slices.Sort(out)
	return out
}

// Validate reports whether pk has every component set.
func (pk PublicKey) Validate() error {
	var err error
	if pk.N == nil || pk.N.Sign() <= 0 {
		err = errors.Join(err, errors.New("public key modulus must be positive"))
	}
	if pk.S == nil {
		err = errors.Join(err, errors.New("public key S must be set"))
	}
	if pk.Z == nil {
		err = errors.Join(err, errors.New("public key Z must be set"))
	}
	if len(pk.R) == 0 {
		err = errors.Join(err, errors.New("public key must cover at least one attribute"))
	}
	for a, r := range pk.R {
		if r == nil {
			err = errors.Join(err, fmt.Errorf("public key R for attribute %q must be set", a))
		}
	}
	return err
}

// ValidatePrimes checks that p and q are usable as the key set primes.
func ValidatePrimes(p, q *big.Int) error {
	var err error
	for _, c := range []struct {
		name string
		v    *big.Int
	}{
		{"p", p},
		{"q", q},
	} {
		switch {
		case c.v == nil:
			err = errors.Join(err, fmt.Errorf("prime %s must be set", c.name))
		case c.v.BitLen() < MinPrimeBits:
			err = errors.Join(err, fmt.Errorf(
				"prime %s must be at least %d bits (got %d)", c.name, MinPrimeBits, c.v.BitLen(),
			))
		case !c.v.ProbablyPrime(primalityRounds):
			err = errors.Join(err, fmt.Errorf("%s is not prime", c.name))
		}
	}
	if err == nil && p.Cmp(q) == 0 {
		err = errors.New("p and q must be distinct")
	}
	return err
}

// NewKeySet derives an issuer key set from the primes p and q,
// covering every name in attrs.
// Randomness is read from rnd, typically [crypto/rand.Reader].
func NewKeySet(p, q *big.Int, attrs []string, rnd io.Reader) (PublicKey, SecretKey, error) {
	if err := ValidatePrimes(p, q); err != nil {
		return PublicKey{}, SecretKey{}, fmt.Errorf("invalid primes: %w", err)
	}
	if len(attrs) == 0 {
		return PublicKey{}, SecretKey{}, errors.New("key set must cover at least one attribute")
	}

	n := new(big.Int).Mul(p, q)

	s, err := randomQuadraticResidue(n, rnd)
	if err != nil {
		return PublicKey{}, SecretKey{}, err
	}

	z, err := randomPower(s, n, rnd)
	if err != nil {
		return PublicKey{}, SecretKey{}, fmt.Errorf("failed to derive Z: %w", err)
	}

	// Sorted so that the same randomness yields the same key set
	// regardless of the caller's attribute order.
	sorted := slices.Clone(attrs)
	slices.Sort(sorted)

	r := make(map[string]*big.Int, len(sorted))
	for _, a := range sorted {
		if _, dup := r[a]; dup {
			return PublicKey{}, SecretKey{}, fmt.Errorf("duplicate attribute %q", a)
		}
		r[a], err = randomPower(s, n, rnd)
		if err != nil {
			return PublicKey{}, SecretKey{}, fmt.Errorf("failed to derive R for %q: %w", a, err)
		}
	}

	return PublicKey{N: n, S: s, Z: z, R: r},
		SecretKey{P: new(big.Int).Set(p), Q: new(big.Int).Set(q)},
		nil
}

// randomQuadraticResidue returns x^2 mod n for a random x coprime to n.
func randomQuadraticResidue(n *big.Int, rnd io.Reader) (*big.Int, error) {
	one := big.NewInt(1)
	gcd := new(big.Int)
	for {
		x, err := rand.Int(rnd, n)
		if err != nil {
			return nil, fmt.Errorf("failed to sample residue: %w", err)
		}
		if x.Cmp(one) <= 0 {
			continue
		}
		if gcd.GCD(nil, nil, x, n).Cmp(one) != 0 {
			continue
		}
		return x.Exp(x, big.NewInt(2), n), nil
	}
}

func randomPower(base, n *big.Int, rnd io.Reader) (*big.Int, error) {
	e, err := rand.Int(rnd, n)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Exp(base, e, n), nil
}
