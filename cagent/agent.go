// Package cagent combines an endpoint, a wallet and a ledger client
// into an agent that can publish credential schemas and issuer keys.
package cagent

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"math/big"
	"slices"
	"sync"

	"github.com/credmesh/credmesh"
	"github.com/credmesh/credmesh/cissuer"
	"github.com/credmesh/credmesh/cledger"
	"github.com/credmesh/credmesh/cpeer"
	"github.com/credmesh/credmesh/cwallet"
)

// LedgerClient is the subset of ledger behavior an agent needs.
// [*cledger.Ledger] satisfies it directly.
type LedgerClient interface {
	Submit(context.Context, cledger.Request) (cledger.Reply, error)
	Schema(context.Context, cledger.SchemaID) (cledger.SchemaRecord, error)
	Schemas(ctx context.Context, issuer string) ([]cledger.SchemaRecord, error)
}

// AttribDef is a named set of attribute names
// from which a schema can be published.
type AttribDef struct {
	Name  string
	Attrs []string
}

// Config is the configuration for an [Agent].
type Config struct {
	Name string

	Endpoint cpeer.Endpoint
	Wallet   *cwallet.Wallet
	Ledger   LedgerClient

	// Source of randomness for issuer key derivation.
	// Defaults to [crypto/rand.Reader].
	Rand io.Reader
}

func (c Config) validate() {
	var panicErrs error

	if c.Name == "" {
		panicErrs = errors.Join(panicErrs, errors.New("Config.Name must not be empty"))
	}
	if c.Endpoint == nil {
		panicErrs = errors.Join(panicErrs, errors.New("Config.Endpoint must not be nil"))
	}
	if c.Wallet == nil {
		panicErrs = errors.Join(panicErrs, errors.New("Config.Wallet must not be nil"))
	}
	if c.Ledger == nil {
		panicErrs = errors.Join(panicErrs, errors.New("Config.Ledger must not be nil"))
	}

	if panicErrs != nil {
		panic(panicErrs)
	}
}

// Agent is a credential-issuing agent.
//
// Publishing calls are safe for concurrent use,
// but a schema's bootstrap steps must still be issued in order by the caller.
type Agent struct {
	log *slog.Logger

	name     string
	endpoint cpeer.Endpoint
	wallet   *cwallet.Wallet
	ledger   LedgerClient
	rnd      io.Reader

	mu         sync.Mutex
	attribDefs map[string]AttribDef
	secretKeys map[cledger.SchemaID]cissuer.SecretKey
}

// New returns an Agent with the given configuration.
// Configuration errors cause a panic.
func New(log *slog.Logger, cfg Config) *Agent {
	cfg.validate()

	rnd := cfg.Rand
	if rnd == nil {
		rnd = rand.Reader
	}

	return &Agent{
		log: log,

		name:     cfg.Name,
		endpoint: cfg.Endpoint,
		wallet:   cfg.Wallet,
		ledger:   cfg.Ledger,
		rnd:      rnd,

		attribDefs: make(map[string]AttribDef),
		secretKeys: make(map[cledger.SchemaID]cissuer.SecretKey),
	}
}

func (a *Agent) Name() string             { return a.name }
func (a *Agent) Endpoint() cpeer.Endpoint { return a.endpoint }
func (a *Agent) Wallet() *cwallet.Wallet  { return a.wallet }
func (a *Agent) Ledger() LedgerClient     { return a.ledger }
func (a *Agent) Identifier() string       { return a.wallet.Identifier() }

// Start syncs the wallet's identity with the ledger
// by submitting every pending wallet request.
func (a *Agent) Start(ctx context.Context) error {
	a.wallet.PendSyncRequests()

	reqs, err := a.wallet.PreparePending()
	if err != nil {
		return fmt.Errorf("failed to prepare wallet requests: %w", err)
	}

	for _, req := range reqs {
		if _, err := a.ledger.Submit(ctx, req); err != nil {
			return fmt.Errorf(
				"failed to submit %s request %s: %w",
				req.Operation.Type(), req.ReqID, err,
			)
		}
	}

	a.log.Info(
		"Agent started",
		"identifier", a.wallet.Identifier(),
		"submitted", len(reqs),
	)
	return nil
}

// AddAttribDef registers def for later use by [*Agent.PublishSchema].
func (a *Agent) AddAttribDef(def AttribDef) error {
	if def.Name == "" {
		return errors.New("attribute definition name must not be empty")
	}
	if len(def.Attrs) == 0 {
		return fmt.Errorf("attribute definition %q has no attributes", def.Name)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.attribDefs[def.Name]; ok {
		return fmt.Errorf("attribute definition %q already exists", def.Name)
	}
	a.attribDefs[def.Name] = AttribDef{
		Name:  def.Name,
		Attrs: slices.Clone(def.Attrs),
	}
	return nil
}

// AttribDefs returns the names of the registered attribute definitions, sorted.
func (a *Agent) AttribDefs() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Sorted(maps.Keys(a.attribDefs))
}

// PublishSchema publishes a schema carrying the attributes of
// the named attribute definition, returning the ledger-assigned ID.
func (a *Agent) PublishSchema(
	ctx context.Context, attribDefName, name, version string,
) (cledger.SchemaID, error) {
	a.mu.Lock()
	def, ok := a.attribDefs[attribDefName]
	a.mu.Unlock()
	if !ok {
		return "", &UnknownAttribDefError{Name: attribDefName}
	}

	req, err := a.wallet.NewRequest(cledger.PublishSchema{
		Name:      name,
		Version:   version,
		AttrNames: def.Attrs,
	})
	if err != nil {
		return "", fmt.Errorf("failed to sign schema request: %w", err)
	}

	reply, err := a.ledger.Submit(ctx, req)
	if err != nil {
		return "", fmt.Errorf("failed to publish schema %s %s: %w", name, version, err)
	}

	a.log.Info(
		"Published schema",
		"schema_id", reply.SchemaID,
		"attrib_def", attribDefName,
	)
	return reply.SchemaID, nil
}

// PublishIssuerKeys derives an issuer key set from p and q
// covering the attributes of the schema id,
// and publishes the public half.
// The secret half is retained by the agent and also returned.
func (a *Agent) PublishIssuerKeys(
	ctx context.Context, id cledger.SchemaID, p, q *big.Int,
) (cissuer.PublicKey, cissuer.SecretKey, error) {
	schema, err := a.ledger.Schema(ctx, id)
	if err != nil {
		return cissuer.PublicKey{}, cissuer.SecretKey{}, fmt.Errorf(
			"failed to look up schema %s: %w", id, err,
		)
	}

	pk, sk, err := cissuer.NewKeySet(p, q, schema.AttrNames, a.rnd)
	if err != nil {
		return cissuer.PublicKey{}, cissuer.SecretKey{}, fmt.Errorf(
			"failed to derive issuer keys for %s: %w", id, err,
		)
	}

	req, err := a.wallet.NewRequest(cledger.PublishIssuerKeys{
		SchemaID:  id,
		PublicKey: pk,
	})
	if err != nil {
		return cissuer.PublicKey{}, cissuer.SecretKey{}, fmt.Errorf(
			"failed to sign issuer key request: %w", err,
		)
	}

	if _, err := a.ledger.Submit(ctx, req); err != nil {
		return cissuer.PublicKey{}, cissuer.SecretKey{}, fmt.Errorf(
			"failed to publish issuer keys for %s: %w", id, err,
		)
	}

	a.mu.Lock()
	a.secretKeys[id] = sk
	a.mu.Unlock()

	a.log.Info("Published issuer keys", "schema_id", id)
	return pk, sk, nil
}

// PublishRevocationRegistry is not supported
// and always returns an error wrapping [credmesh.ErrRevocationUnsupported].
func (a *Agent) PublishRevocationRegistry(_ context.Context, id cledger.SchemaID) error {
	return fmt.Errorf("cannot publish revocation registry for %s: %w", id, credmesh.ErrRevocationUnsupported)
}

// SecretKey returns the issuer secret key the agent holds for schema id.
func (a *Agent) SecretKey(id cledger.SchemaID) (cissuer.SecretKey, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	sk, ok := a.secretKeys[id]
	return sk, ok
}

// Schemas returns the schemas this agent has published.
func (a *Agent) Schemas(ctx context.Context) ([]cledger.SchemaRecord, error) {
	return a.ledger.Schemas(ctx, a.wallet.Identifier())
}
