package cca

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"
)

const (
	caCertFile = "ca.pem"
	caKeyFile  = "ca-key.pem"
)

// CAConfig is the configuration for generating a CA.
type CAConfig struct {
	// Defaults to 24 hours.
	ValidFor time.Duration

	// Optional subject for the CA template,
	// a reasonable default is used otherwise.
	Subject *pkix.Name
}

// LeafConfig is the configuration for issuing a leaf certificate.
type LeafConfig struct {
	// The leaf's key. Required.
	// Key-addressed endpoints derive their identity from this key,
	// so it is supplied by the caller rather than generated.
	Key ed25519.PrivateKey

	// Defaults to 24 hours.
	ValidFor time.Duration

	CommonName string

	// If both are empty, the leaf is valid for localhost,
	// 127.0.0.1 and ::1.
	DNSNames    []string
	IPAddresses []net.IP
}

// CA is an ed25519 certificate authority that issues leaf certificates
// for agent endpoints.
type CA struct {
	CertPEM []byte
	KeyPEM  []byte

	Cert *x509.Certificate

	key ed25519.PrivateKey
}

// Leaf is a certificate issued by a [CA].
// This is the certificate an endpoint presents on both sides of mutual TLS.
type Leaf struct {
	CertPEM []byte
	KeyPEM  []byte

	Cert *x509.Certificate
	Key  ed25519.PrivateKey
}

// TLSCertificate returns l in the form accepted by [tls.Config].
func (l *Leaf) TLSCertificate() tls.Certificate {
	return tls.Certificate{
		Certificate: [][]byte{l.Cert.Raw},
		PrivateKey:  l.Key,
		Leaf:        l.Cert,
	}
}

// GenerateCA generates a new CA from the given config.
func GenerateCA(cfg CAConfig) (*CA, error) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ed25519 key: %w", err)
	}

	validFor := cfg.ValidFor
	if validFor == 0 {
		validFor = 24 * time.Hour
	}

	name := pkix.Name{
		Organization: []string{"credmesh"},
		CommonName:   "credmesh CA",
	}
	if cfg.Subject != nil {
		name = *cfg.Subject
	}

	serial, err := randomSerial()
	if err != nil {
		return nil, err
	}

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      name,
		NotBefore:    time.Now().Add(-15 * time.Second),
		NotAfter:     time.Now().Add(validFor),

		KeyUsage: x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage: []x509.ExtKeyUsage{
			// The CA needs every extended key usage that the leaf certificate will have.
			x509.ExtKeyUsageServerAuth,
			x509.ExtKeyUsageClientAuth,
		},
		BasicConstraintsValid: true,
		IsCA:                  true,
		MaxPathLen:            1,
	}

	der, err := x509.CreateCertificate(nil, template, template, pub, priv)
	if err != nil {
		return nil, fmt.Errorf("failed to create certificate: %w", err)
	}

	certPEM, keyPEM, err := encodePEM(der, priv)
	if err != nil {
		return nil, err
	}

	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate from DER: %w", err)
	}

	return &CA{
		CertPEM: certPEM,
		KeyPEM:  keyPEM,
		Cert:    cert,
		key:     priv,
	}, nil
}

// ParseCA reconstructs a CA from the PEM blocks written by [GenerateCA].
func ParseCA(certPEM, keyPEM []byte) (*CA, error) {
	certBlock, _ := pem.Decode(certPEM)
	if certBlock == nil || certBlock.Type != "CERTIFICATE" {
		return nil, errors.New("no CERTIFICATE block in CA certificate PEM")
	}
	cert, err := x509.ParseCertificate(certBlock.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse CA certificate: %w", err)
	}
	if !cert.IsCA {
		return nil, errors.New("certificate is not a CA")
	}

	keyBlock, _ := pem.Decode(keyPEM)
	if keyBlock == nil || keyBlock.Type != "PRIVATE KEY" {
		return nil, errors.New("no PRIVATE KEY block in CA key PEM")
	}
	k, err := x509.ParsePKCS8PrivateKey(keyBlock.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse CA key: %w", err)
	}
	priv, ok := k.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("CA key has type %T, expected ed25519", k)
	}
	if !priv.Public().(ed25519.PublicKey).Equal(cert.PublicKey) {
		return nil, errors.New("CA key does not match CA certificate")
	}

	return &CA{
		CertPEM: certPEM,
		KeyPEM:  keyPEM,
		Cert:    cert,
		key:     priv,
	}, nil
}

// LoadOrCreateCA reads the CA stored in dir,
// generating and writing a new one if none exists.
func LoadOrCreateCA(dir string, cfg CAConfig) (*CA, error) {
	certPath := filepath.Join(dir, caCertFile)
	keyPath := filepath.Join(dir, caKeyFile)

	certPEM, certErr := os.ReadFile(certPath)
	keyPEM, keyErr := os.ReadFile(keyPath)
	switch {
	case certErr == nil && keyErr == nil:
		return ParseCA(certPEM, keyPEM)
	case errors.Is(certErr, os.ErrNotExist) && errors.Is(keyErr, os.ErrNotExist):
		// Fall through to generate.
	default:
		return nil, fmt.Errorf("failed to read CA from %s: %w", dir, errors.Join(certErr, keyErr))
	}

	ca, err := GenerateCA(cfg)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create CA directory: %w", err)
	}
	if err := writePEMFiles(dir,
		pemFile{name: caKeyFile, data: ca.KeyPEM, perm: 0o600},
		pemFile{name: caCertFile, data: ca.CertPEM, perm: 0o644},
	); err != nil {
		return nil, fmt.Errorf("failed to write CA: %w", err)
	}
	return ca, nil
}

type pemFile struct {
	name string
	data []byte
	perm os.FileMode
}

// writePEMFiles writes files into dir so that either all of them
// end up in place or none do.
// Each file is written to a temporary file first and then renamed.
func writePEMFiles(dir string, files ...pemFile) (err error) {
	tmps := make([]string, 0, len(files))
	placed := make([]string, 0, len(files))
	defer func() {
		if err == nil {
			return
		}
		for _, p := range tmps {
			_ = os.Remove(p)
		}
		for _, p := range placed {
			_ = os.Remove(p)
		}
	}()

	for _, f := range files {
		tmp, err := writeTempFile(dir, f)
		if tmp != "" {
			tmps = append(tmps, tmp)
		}
		if err != nil {
			return fmt.Errorf("failed to write %s: %w", f.name, err)
		}
	}

	for i, f := range files {
		dst := filepath.Join(dir, f.name)
		if err := os.Rename(tmps[i], dst); err != nil {
			return fmt.Errorf("failed to move %s into place: %w", f.name, err)
		}
		placed = append(placed, dst)
	}
	return nil
}

// writeTempFile returns the temporary file's path
// even on failure, once the file exists.
func writeTempFile(dir string, f pemFile) (string, error) {
	tf, err := os.CreateTemp(dir, "."+filepath.Base(f.name)+"-*")
	if err != nil {
		return "", err
	}
	if _, err := tf.Write(f.data); err != nil {
		_ = tf.Close()
		return tf.Name(), err
	}
	if err := tf.Chmod(f.perm); err != nil {
		_ = tf.Close()
		return tf.Name(), err
	}
	return tf.Name(), tf.Close()
}

// CreateLeafCert issues a new leaf certificate for cfg.Key.
func (ca *CA) CreateLeafCert(cfg LeafConfig) (*Leaf, error) {
	if len(cfg.Key) != ed25519.PrivateKeySize {
		panic(errors.New("BUG: LeafConfig.Key must be an ed25519 private key"))
	}

	validFor := cfg.ValidFor
	if validFor == 0 {
		validFor = 24 * time.Hour
	}

	dnsNames, ips := cfg.DNSNames, cfg.IPAddresses
	if len(dnsNames) == 0 && len(ips) == 0 {
		dnsNames = []string{"localhost"}
		ips = []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback}
	}

	cn := cfg.CommonName
	if cn == "" && len(dnsNames) > 0 {
		cn = dnsNames[0]
	}

	serial, err := randomSerial()
	if err != nil {
		return nil, err
	}

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{"credmesh"},
			CommonName:   cn,
		},
		NotBefore: time.Now().Add(-15 * time.Second),
		NotAfter:  time.Now().Add(validFor),
		KeyUsage:  x509.KeyUsageDigitalSignature,
		ExtKeyUsage: []x509.ExtKeyUsage{
			x509.ExtKeyUsageServerAuth,
			x509.ExtKeyUsageClientAuth,
		},
		DNSNames:    dnsNames,
		IPAddresses: ips,

		BasicConstraintsValid: true,
	}

	der, err := x509.CreateCertificate(nil, template, ca.Cert, cfg.Key.Public(), ca.key)
	if err != nil {
		return nil, fmt.Errorf("failed to create certificate: %w", err)
	}

	certPEM, keyPEM, err := encodePEM(der, cfg.Key)
	if err != nil {
		return nil, err
	}

	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate from DER: %w", err)
	}

	return &Leaf{
		CertPEM: certPEM,
		KeyPEM:  keyPEM,
		Cert:    cert,
		Key:     cfg.Key,
	}, nil
}

func encodePEM(der []byte, key ed25519.PrivateKey) (certPEM, keyPEM []byte, err error) {
	var buf bytes.Buffer
	if err := pem.Encode(&buf, &pem.Block{
		Type:  "CERTIFICATE",
		Bytes: der,
	}); err != nil {
		return nil, nil, fmt.Errorf("failed to encode certificate: %w", err)
	}
	certPEM = bytes.Clone(buf.Bytes())

	buf.Reset()
	privBytes, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal private key: %w", err)
	}
	if err := pem.Encode(&buf, &pem.Block{
		Type:  "PRIVATE KEY",
		Bytes: privBytes,
	}); err != nil {
		return nil, nil, fmt.Errorf("failed to encode private key: %w", err)
	}
	keyPEM = buf.Bytes() // Last use of buf.

	return certPEM, keyPEM, nil
}

func randomSerial() (*big.Int, error) {
	limit := new(big.Int).Lsh(big.NewInt(1), 127)
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to generate serial number: %w", err)
	}
	return n.Add(n, big.NewInt(1)), nil
}
