package cca

import (
	"crypto/x509"
	"sync"
)

// Pool is a mutable collection of trusted CA certificates.
//
// Connections authenticated against a CA can call [*Pool.NotifyRemoval]
// to learn when that CA stops being trusted.
type Pool struct {
	mu      sync.RWMutex
	cas     map[string]*x509.Certificate
	removed map[string]chan struct{}

	lazyCertPool func() *x509.CertPool
}

// NewPool returns a new pool that does not contain any trusted certificates yet.
func NewPool() *Pool {
	return NewPoolFromCerts(nil)
}

// NewPoolFromCerts returns a new pool trusting the given certificates.
func NewPoolFromCerts(certs []*x509.Certificate) *Pool {
	p := &Pool{
		cas:     make(map[string]*x509.Certificate, len(certs)),
		removed: make(map[string]chan struct{}),
	}

	for _, cert := range certs {
		p.cas[string(cert.Signature)] = cert
	}

	// Not holding the lock, but nothing else can see p yet.
	p.lockedUpdateLazyCertPool()

	return p
}

// CertPool returns the current certificate pool.
// The returned value is shared until p's CA set changes,
// so it must not be modified.
func (p *Pool) CertPool() *x509.CertPool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lazyCertPool()
}

// Len reports the number of trusted CAs.
func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.cas)
}

// Contains reports whether cert is currently trusted.
func (p *Pool) Contains(cert *x509.Certificate) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.cas[string(cert.Signature)]
	return ok
}

// AddCA adds a single CA certificate to the pool.
func (p *Pool) AddCA(cert *x509.Certificate) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.cas[string(cert.Signature)] = cert
	p.lockedUpdateLazyCertPool()
}

// RemoveCA removes the given certificate from the pool,
// notifying any watchers registered through [*Pool.NotifyRemoval].
func (p *Pool) RemoveCA(cert *x509.Certificate) {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := string(cert.Signature)
	delete(p.cas, key)
	p.lockedNotify(key)
	p.lockedUpdateLazyCertPool()
}

// UpdateCAs replaces the entire CA set with the given certs.
func (p *Pool) UpdateCAs(certs []*x509.Certificate) {
	p.mu.Lock()
	defer p.mu.Unlock()

	next := make(map[string]*x509.Certificate, len(certs))
	for _, cert := range certs {
		next[string(cert.Signature)] = cert
	}
	for key := range p.cas {
		if _, ok := next[key]; !ok {
			p.lockedNotify(key)
		}
	}
	p.cas = next

	p.lockedUpdateLazyCertPool()
}

// NotifyRemoval returns a channel that is closed
// once cert is no longer trusted by p.
// It returns nil if cert is not currently trusted.
//
// Every call for the same certificate returns the same channel.
func (p *Pool) NotifyRemoval(cert *x509.Certificate) <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := string(cert.Signature)
	if _, ok := p.cas[key]; !ok {
		return nil
	}

	ch, ok := p.removed[key]
	if !ok {
		ch = make(chan struct{})
		p.removed[key] = ch
	}
	return ch
}

func (p *Pool) lockedNotify(key string) {
	if ch, ok := p.removed[key]; ok {
		close(ch)
		delete(p.removed, key)
	}
}

func (p *Pool) lockedUpdateLazyCertPool() {
	cas := make([]*x509.Certificate, 0, len(p.cas))
	for _, ca := range p.cas {
		cas = append(cas, ca)
	}
	p.lazyCertPool = sync.OnceValue(func() *x509.CertPool {
		cp := x509.NewCertPool()
		for _, ca := range cas {
			cp.AddCert(ca)
		}
		return cp
	})
}
