package main

import (
	"context"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net"
	"os"
	"time"

	"github.com/credmesh/credmesh/cagent"
	"github.com/credmesh/credmesh/cboot"
	"github.com/credmesh/credmesh/cca"
	"github.com/credmesh/credmesh/cconfig"
	"github.com/credmesh/credmesh/ckeyed"
	"github.com/credmesh/credmesh/cledger"
	"github.com/credmesh/credmesh/cquic"
	"github.com/credmesh/credmesh/cwallet"
	"github.com/credmesh/credmesh/internal/ctrace"
	"go.opentelemetry.io/otel"
)

// caValidity is the lifetime of a CA created on first start.
const caValidity = 10 * 365 * 24 * time.Hour

// node holds the running components of one agent.
type node struct {
	log *slog.Logger
	cfg *cconfig.Config

	Endpoint *ckeyed.Endpoint
	Agent    *cagent.Agent
	Ledger   *cledger.Ledger

	// Receives bootstrap spans.
	// Defaults to the global OpenTelemetry provider,
	// which does nothing unless the process registers one.
	tp ctrace.TracerProvider

	udp    *net.UDPConn
	cancel context.CancelFunc
}

// startNode creates the agent's persistent state under the configured base directory
// if needed, starts its endpoint and syncs its wallet with the ledger.
func startNode(ctx context.Context, log *slog.Logger, cfg *cconfig.Config) (*node, error) {
	baseDir, err := cfg.ResolvedBaseDir()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(baseDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	caDir, err := cfg.ResolvedCADir()
	if err != nil {
		return nil, err
	}
	ca, err := cca.LoadOrCreateCA(caDir, cca.CAConfig{ValidFor: caValidity})
	if err != nil {
		return nil, err
	}

	w, err := newWallet(cfg)
	if err != nil {
		return nil, err
	}

	// The endpoint presents the wallet key,
	// so its identity matches the wallet's ledger identifier.
	leaf, err := ca.CreateLeafCert(cca.LeafConfig{
		Key:        w.PrivateKey(),
		CommonName: cfg.Name,
	})
	if err != nil {
		return nil, err
	}

	ledgerPath, err := cfg.ResolvedLedgerPath()
	if err != nil {
		return nil, err
	}
	store, err := cledger.OpenSQLiteStore(ctx, ledgerPath)
	if err != nil {
		return nil, err
	}
	ledger := cledger.New(log.With("sys", "ledger"), store)

	uc, err := net.ListenUDP("udp", &net.UDPAddr{Port: cfg.Port})
	if err != nil {
		_ = ledger.Close()
		return nil, fmt.Errorf("failed to listen on UDP port %d: %w", cfg.Port, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	e, err := ckeyed.New(ctx, log.With("sys", "endpoint"), ckeyed.Config{
		Host: cquic.HostConfig{
			UDPConn: uc,
			TLS: &tls.Config{
				Certificates: []tls.Certificate{leaf.TLSCertificate()},
				ClientAuth:   tls.RequireAndVerifyClientCert,
			},
			TrustedCAs: cca.NewPoolFromCerts([]*x509.Certificate{ca.Cert}),
			QUIC:       cquic.DefaultConfig(),
		},
		AdvertiseAddr: cfg.AdvertiseAddr,
	})
	if err != nil {
		cancel()
		_ = uc.Close()
		_ = ledger.Close()
		return nil, err
	}

	n := &node{
		log: log,
		cfg: cfg,

		Endpoint: e,
		Ledger:   ledger,

		tp: otel.GetTracerProvider(),

		udp:    uc,
		cancel: cancel,
	}

	n.Agent = cagent.New(log.With("sys", "agent"), cagent.Config{
		Name:     cfg.Name,
		Endpoint: e,
		Wallet:   w,
		Ledger:   ledger,
	})
	for _, s := range cfg.Schemas {
		if err := n.Agent.AddAttribDef(cagent.AttribDef{
			Name:  attribDefName(s),
			Attrs: s.Attrs,
		}); err != nil {
			n.Close()
			return nil, err
		}
	}

	if err := n.Agent.Start(ctx); err != nil {
		n.Close()
		return nil, err
	}

	return n, nil
}

func newWallet(cfg *cconfig.Config) (*cwallet.Wallet, error) {
	if cfg.Seed != "" {
		seed, err := cwallet.SeedFromString(cfg.Seed)
		if err != nil {
			return nil, err
		}
		return cwallet.New(cfg.Name, seed)
	}

	seed := make([]byte, cwallet.SeedSize)
	if _, err := rand.Read(seed); err != nil {
		return nil, fmt.Errorf("failed to generate wallet seed: %w", err)
	}
	return cwallet.New(cfg.Name, seed)
}

func attribDefName(s cconfig.SchemaConfig) string {
	if s.AttribDef != "" {
		return s.AttribDef
	}
	return s.Name
}

// Bootstrap publishes every configured schema and its issuer keys,
// generating fresh primes for each.
func (n *node) Bootstrap(ctx context.Context) error {
	if len(n.cfg.Schemas) == 0 {
		n.log.Info("No schemas configured for bootstrap")
		return nil
	}

	reqs := make([]cboot.SchemaRequest, len(n.cfg.Schemas))
	for i, s := range n.cfg.Schemas {
		p, q, err := primePair(n.cfg.PrimeBits)
		if err != nil {
			return err
		}
		reqs[i] = cboot.SchemaRequest{
			AttribDefName: attribDefName(s),
			SchemaName:    s.Name,
			SchemaVersion: s.Version,
			P:             p,
			Q:             q,
		}
	}

	_, err := cboot.NewSequencer(n.log.With("sys", "bootstrap"), n.tp).Run(ctx, n.Agent, reqs...)
	return err
}

func primePair(bits int) (p, q *big.Int, err error) {
	p, err = rand.Prime(rand.Reader, bits)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate prime: %w", err)
	}
	for {
		q, err = rand.Prime(rand.Reader, bits)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to generate prime: %w", err)
		}
		if p.Cmp(q) != 0 {
			return p, q, nil
		}
	}
}

// Close stops the endpoint and releases the node's resources.
func (n *node) Close() error {
	n.cancel()
	n.Endpoint.Wait()

	return errors.Join(n.udp.Close(), n.Ledger.Close())
}
