package cquic

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/credmesh/credmesh/cca"
	"github.com/quic-go/quic-go"
)

// InboundHandler is notified of each accepted, TLS-verified connection.
//
// HandleInbound runs on one of the host's accept workers,
// so it should finish the connection's handshake and return,
// moving any long-lived work to its own goroutine.
// If it returns an error, the host closes the connection.
type InboundHandler interface {
	HandleInbound(ctx context.Context, conn Conn) error
}

// InboundHandlerFunc adapts a function to the [InboundHandler] interface.
type InboundHandlerFunc func(ctx context.Context, conn Conn) error

func (f InboundHandlerFunc) HandleInbound(ctx context.Context, conn Conn) error {
	return f(ctx, conn)
}

// HostConfig is the configuration for a [Host].
type HostConfig struct {
	// The caller retains ownership of the UDP connection,
	// and must close it after the host has stopped.
	UDPConn *net.UDPConn

	// The base TLS configuration.
	// The host clones it and modifies the clone.
	TLS *tls.Config

	// Trusted CAs for both inbound and outbound connections.
	TrustedCAs *cca.Pool

	// If nil, [DefaultConfig] is used.
	QUIC *quic.Config

	// The number of concurrent inbound handshakes.
	// If zero, a reasonable default is used.
	AcceptWorkers uint8
}

func (c HostConfig) validate(log *slog.Logger) {
	var panicErrs error

	if c.UDPConn == nil {
		panicErrs = errors.Join(panicErrs, errors.New("HostConfig.UDPConn must not be nil"))
	}
	if c.TrustedCAs == nil {
		panicErrs = errors.Join(panicErrs, errors.New("HostConfig.TrustedCAs must not be nil"))
	}

	if panicErrs != nil {
		panic(panicErrs)
	}

	validateTLS(log, c.TLS)
}

// Host owns a QUIC transport and listener,
// accepting inbound connections and dialing outbound ones.
type Host struct {
	log *slog.Logger

	wg sync.WaitGroup

	transport *quic.Transport
	listener  *quic.Listener

	baseTLSConf *tls.Config
	caPool      *cca.Pool

	dialer Dialer

	handler InboundHandler
}

// NewHost starts a Host listening on cfg.UDPConn.
// The ctx parameter controls the lifecycle of the Host;
// cancel the context to stop it,
// and then use [*Host.Wait] to block until all background work has completed.
//
// NewHost returns runtime errors that happen during initialization.
// Configuration errors cause a panic.
func NewHost(ctx context.Context, log *slog.Logger, cfg HostConfig, handler InboundHandler) (*Host, error) {
	cfg.validate(log)

	quicConf := cfg.QUIC
	if quicConf == nil {
		quicConf = DefaultConfig()
	}

	qt := MakeTransport(cfg.UDPConn)
	baseTLSConf := baseTLSConfig(log, cfg.TLS)

	h := &Host{
		log: log,

		transport: qt,

		baseTLSConf: baseTLSConf,
		caPool:      cfg.TrustedCAs,

		dialer: Dialer{
			BaseTLSConf: baseTLSConf,

			QUICTransport: qt,
			QUICConfig:    quicConf,

			CAPool: cfg.TrustedCAs,
		},

		handler: handler,
	}

	// By setting GetConfigForClient on the listener's TLS config,
	// the ClientCAs pool is current for every incoming connection.
	tlsConf := baseTLSConf.Clone()
	tlsConf.GetConfigForClient = h.listenerTLSConfig

	ql, err := qt.Listen(tlsConf, quicConf)
	if err != nil {
		return nil, fmt.Errorf("failed to set up QUIC listener: %w", err)
	}
	h.listener = ql

	nWorkers := cfg.AcceptWorkers
	if nWorkers == 0 {
		nWorkers = 4
	}

	h.wg.Add(int(nWorkers) + 1)
	for range nWorkers {
		go h.acceptConnections(ctx)
	}
	go h.closeOnDone(ctx)

	return h, nil
}

func (h *Host) listenerTLSConfig(*tls.ClientHelloInfo) (*tls.Config, error) {
	tlsConf := h.baseTLSConf.Clone()

	// The listener only verifies incoming certificates;
	// RootCAs would only matter for outgoing connections.
	tlsConf.ClientCAs = h.caPool.CertPool()

	return tlsConf, nil
}

// Addr returns the address the host is listening on.
func (h *Host) Addr() net.Addr {
	return h.listener.Addr()
}

// Dial opens a verified connection to addr.
// The connection is closed automatically if the remote's CA
// is removed from the trusted pool.
func (h *Host) Dial(ctx context.Context, addr net.Addr) (Conn, error) {
	res, err := h.dialer.Dial(ctx, addr)
	if err != nil {
		return nil, err
	}
	return res.Conn, nil
}

// Wait blocks until the host has finished all background work.
func (h *Host) Wait() {
	h.wg.Wait()
}

func (h *Host) closeOnDone(ctx context.Context) {
	defer h.wg.Done()

	<-ctx.Done()

	if err := h.listener.Close(); err != nil {
		h.log.Debug("Error closing QUIC listener", "err", err)
	}
	if err := h.transport.Close(); err != nil {
		h.log.Debug("Error closing QUIC transport", "err", err)
	}
}

// acceptConnections runs in several independent goroutines,
// effectively limiting the number of concurrent inbound handshakes.
func (h *Host) acceptConnections(ctx context.Context) {
	defer h.wg.Done()

	for {
		rawQC, err := h.listener.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, quic.ErrServerClosed) {
				h.log.Debug(
					"Accept loop quitting",
					"cause", context.Cause(ctx),
				)
				return
			}

			// Debug-level because this could be spammy with garbage connections.
			h.log.Debug("Failed to accept incoming connection", "err", err)
			continue
		}

		qc := WrapConn(rawQC)

		if _, err := watchCA(qc, h.caPool); err != nil {
			h.log.Info(
				"Rejecting connection whose CA is no longer trusted",
				"remote_addr", qc.RemoteAddr().String(),
				"err", err,
			)
			_ = qc.CloseWithError(CARemoved, CARemovedMessage)
			continue
		}

		if err := h.handler.HandleInbound(ctx, qc); err != nil {
			if ctx.Err() != nil {
				return
			}

			// Info level is fine since the remote got past TLS.
			h.log.Info(
				"Failed to handle inbound connection",
				"remote_addr", qc.RemoteAddr().String(),
				"err", err,
			)
			code, msg := HandshakeCloseCode(err)
			if err := qc.CloseWithError(code, msg); err != nil {
				h.log.Debug(
					"Failed to close connection after failed inbound handshake",
					"remote_addr", qc.RemoteAddr().String(),
					"err", err,
				)
			}
		}
	}
}
