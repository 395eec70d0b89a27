package cquic

import (
	"crypto/ed25519"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"
)

// validateTLS panics if conf cannot be used for credmesh mutual TLS.
// It logs suspect certificate settings without panicking.
func validateTLS(log *slog.Logger, conf *tls.Config) {
	// If there are multiple reasons we could panic,
	// collect them all in one go
	// so we can give a maximally helpful error.
	var panicErrs error

	if conf == nil {
		panic(errors.New("HostConfig.TLS must not be nil"))
	}

	if conf.ClientAuth != tls.RequireAndVerifyClientCert {
		panicErrs = errors.Join(
			panicErrs,
			errors.New("client certificates are required; set HostConfig.TLS.ClientAuth = tls.RequireAndVerifyClientCert"),
		)
	}

	if len(conf.Certificates) == 0 {
		panicErrs = errors.Join(
			panicErrs,
			errors.New("HostConfig.TLS.Certificates must contain the host certificate"),
		)
	} else {
		cert := conf.Certificates[0]
		if cert.Leaf == nil {
			panicErrs = errors.Join(
				panicErrs,
				errors.New("BUG: TLS.Certificates[0].Leaf must be set (use x509.ParseCertificate if needed)"),
			)
		} else {
			now := time.Now()
			if cert.Leaf.NotBefore.After(now) {
				log.Error(
					"Certificate's not before field is in the future",
					"not_before", cert.Leaf.NotBefore,
				)
			}
			if cert.Leaf.NotAfter.Before(now) {
				log.Error(
					"Certificate's not after field is in the past",
					"not_after", cert.Leaf.NotAfter,
				)
			}

			if !slices.Contains(cert.Leaf.ExtKeyUsage, x509.ExtKeyUsageServerAuth) {
				log.Error(
					"Certificate is missing server authentication extended key usage; clients will reject TLS handshake",
				)
			}
			if !slices.Contains(cert.Leaf.ExtKeyUsage, x509.ExtKeyUsageClientAuth) {
				log.Error(
					"Certificate is missing client authentication extended key usage; servers will reject TLS handshake",
				)
			}
		}
	}

	if panicErrs != nil {
		panic(panicErrs)
	}
}

// baseTLSConfig clones conf with the credmesh ALPN set
// and both CA pools emptied.
// Pools are filled per connection from the live [cca.Pool].
func baseTLSConfig(log *slog.Logger, conf *tls.Config) *tls.Config {
	c := conf.Clone()

	if c.RootCAs != nil {
		log.Warn("Host's TLS configuration had RootCAs set; those CAs will be ignored")
	}
	if c.ClientCAs != nil {
		log.Warn("Host's TLS configuration had ClientCAs set; those CAs will be ignored")
	}
	empty := x509.NewCertPool()
	c.RootCAs = empty
	c.ClientCAs = empty

	c.NextProtos = []string{ALPN}
	c.MinVersion = tls.VersionTLS13

	return c
}

// PeerCA returns the trust anchor that verified the remote's certificate.
func PeerCA(state tls.ConnectionState) (*x509.Certificate, error) {
	vcs := state.VerifiedChains
	if len(vcs) == 0 {
		return nil, errors.New("no verified chains on connection")
	}

	// Every chain we build has the same root,
	// since leaves are issued directly by a pool CA.
	vc := vcs[0]
	return vc[len(vc)-1], nil
}

// PeerKey returns the ed25519 key of the remote's leaf certificate.
func PeerKey(state tls.ConnectionState) (ed25519.PublicKey, error) {
	if len(state.PeerCertificates) == 0 {
		return nil, errors.New("no peer certificates on connection")
	}

	// The first element of PeerCertificates is the leaf.
	leaf := state.PeerCertificates[0]
	pub, ok := leaf.PublicKey.(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("peer certificate has %T key, expected ed25519", leaf.PublicKey)
	}
	return pub, nil
}
