// Package ccatest contains utilities for working with CAs in tests.
package ccatest

import (
	"crypto/ed25519"
	"crypto/x509"
	"fmt"
	"time"

	"github.com/credmesh/credmesh/cca"
)

// FastConfig returns a short-lived CA config suitable for tests.
func FastConfig() cca.CAConfig {
	return cca.CAConfig{ValidFor: time.Hour}
}

// TrustPool holds a collection of CAs
// and a [*cca.Pool] trusting all of them.
//
// This simplifies tests that need effective mTLS.
type TrustPool struct {
	CAs []*cca.CA

	Pool *cca.Pool
}

// NewTrustPool returns a TrustPool with n freshly generated CAs.
func NewTrustPool(n int) (*TrustPool, error) {
	cas := make([]*cca.CA, n)
	certs := make([]*x509.Certificate, n)
	for i := range n {
		var err error
		cas[i], err = cca.GenerateCA(FastConfig())
		if err != nil {
			return nil, fmt.Errorf("failed to generate CA at index %d: %w", i, err)
		}
		certs[i] = cas[i].Cert
	}

	return &TrustPool{
		CAs:  cas,
		Pool: cca.NewPoolFromCerts(certs),
	}, nil
}

// Leaf issues a localhost leaf for key from the CA at index caIdx.
func (p *TrustPool) Leaf(caIdx int, key ed25519.PrivateKey) (*cca.Leaf, error) {
	return p.CAs[caIdx].CreateLeafCert(cca.LeafConfig{
		Key:      key,
		ValidFor: time.Hour,
	})
}
