// Package cboot sequences the publication of a credential schema
// and the issuer keys bound to it.
package cboot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/credmesh/credmesh/cissuer"
	"github.com/credmesh/credmesh/cledger"
	"github.com/credmesh/credmesh/internal/ctrace"
)

// Publisher is the capability set an agent exposes for bootstrapping.
type Publisher interface {
	PublishSchema(ctx context.Context, attribDefName, name, version string) (cledger.SchemaID, error)
	PublishIssuerKeys(ctx context.Context, id cledger.SchemaID, p, q *big.Int) (cissuer.PublicKey, cissuer.SecretKey, error)

	// Declared for completeness; the bootstrap never calls it.
	PublishRevocationRegistry(ctx context.Context, id cledger.SchemaID) error
}

// SchemaRequest describes one schema to bootstrap.
type SchemaRequest struct {
	AttribDefName string
	SchemaName    string
	SchemaVersion string

	// Primes for the issuer key set.
	P, Q *big.Int
}

// BootstrapSchema publishes the schema described by req
// and then the issuer keys bound to the resulting schema ID.
// The key step only starts once the schema step has succeeded.
//
// The first failure is the publisher's error, returned unchanged
// without starting further steps.
func BootstrapSchema(ctx context.Context, pub Publisher, req SchemaRequest) (cledger.SchemaID, error) {
	id, err := pub.PublishSchema(ctx, req.AttribDefName, req.SchemaName, req.SchemaVersion)
	if err != nil {
		return "", err
	}

	if _, _, err := pub.PublishIssuerKeys(ctx, id, req.P, req.Q); err != nil {
		return "", err
	}

	// Revocation registries are not supported yet,
	// so the bootstrap stops after the issuer keys.

	return id, nil
}

// Sequencer bootstraps several schemas for one publisher, one at a time.
type Sequencer struct {
	log    *slog.Logger
	tracer ctrace.Tracer
}

// NewSequencer returns a Sequencer.
// Each bootstrapped schema gets a span from tp;
// a nil tp disables tracing.
func NewSequencer(log *slog.Logger, tp ctrace.TracerProvider) *Sequencer {
	return &Sequencer{
		log:    log,
		tracer: ctrace.NewTracer(tp),
	}
}

// Run bootstraps each request in order,
// stopping at the first failure.
// It returns the IDs of the schemas fully bootstrapped before any failure.
func (s *Sequencer) Run(ctx context.Context, pub Publisher, reqs ...SchemaRequest) ([]cledger.SchemaID, error) {
	ids := make([]cledger.SchemaID, 0, len(reqs))
	for i, req := range reqs {
		if err := ctx.Err(); err != nil {
			return ids, context.Cause(ctx)
		}

		id, err := s.bootstrapOne(ctx, pub, i, req)
		if err != nil {
			s.log.Info(
				"Schema bootstrap failed",
				"index", i,
				"schema_name", req.SchemaName,
				"err", err,
			)
			return ids, err
		}

		s.log.Info(
			"Schema bootstrapped",
			"schema_id", id,
		)
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *Sequencer) bootstrapOne(
	ctx context.Context, pub Publisher, idx int, req SchemaRequest,
) (cledger.SchemaID, error) {
	ctx, span := s.tracer.Start(
		ctx, "bootstrap schema",
		ctrace.WithAttributes(
			ctrace.SchemaIndexAttr(idx),
			ctrace.StringAttr("credmesh.schema.name", req.SchemaName),
			ctrace.StringAttr("credmesh.schema.version", req.SchemaVersion),
		),
	)
	defer span.End()

	id, err := BootstrapSchema(ctx, pub, req)
	if err != nil {
		ctrace.SpanError(span, err)
		return "", err
	}

	span.AddEvent("schema bootstrapped", ctrace.WithAttributes(ctrace.SchemaIDAttr(string(id))))
	return id, nil
}

// StartupError reports a bootstrap failure during agent startup.
type StartupError struct {
	Cause error
}

func (e *StartupError) Error() string {
	return fmt.Sprintf("Agent startup failed: [cause : %v]", e.Cause)
}

func (e *StartupError) Unwrap() error { return e.Cause }

// RunBootstrap runs fn, converting a failure into a [*StartupError].
// A nil fn is a no-op.
func RunBootstrap(ctx context.Context, fn func(context.Context) error) error {
	if fn == nil {
		return nil
	}
	if err := fn(ctx); err != nil {
		var se *StartupError
		if errors.As(err, &se) {
			return err
		}
		return &StartupError{Cause: err}
	}
	return nil
}
