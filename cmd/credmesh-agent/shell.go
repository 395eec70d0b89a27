package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"

	"github.com/credmesh/credmesh/ckeyed"
	"github.com/credmesh/credmesh/cledger"
	"github.com/credmesh/credmesh/cpeer"
)

// shellEndpoint is the endpoint behavior the shell exposes.
type shellEndpoint interface {
	cpeer.KeyAddressed

	RemotesByKeys() map[cpeer.Identity]ckeyed.Remote
	PeersWithoutRemotes() []cpeer.Identity
	ConnectTo(ctx context.Context, addr string) (cpeer.Identity, error)
	Disconnect(key cpeer.Identity) error

	// PeerEndpoint returns the connected peer's own view of its registrations.
	PeerEndpoint(key cpeer.Identity) (cpeer.Endpoint, error)
}

// keyedShellEndpoint adapts a [*ckeyed.Endpoint] to [shellEndpoint].
type keyedShellEndpoint struct {
	*ckeyed.Endpoint
}

func (e keyedShellEndpoint) PeerEndpoint(key cpeer.Identity) (cpeer.Endpoint, error) {
	v, err := e.PeerView(key)
	if err != nil {
		return nil, err
	}
	return v, nil
}

// connectVerifier confirms that two endpoints registered each other.
type connectVerifier interface {
	VerifyConnected(ctx context.Context, a, b cpeer.Endpoint) error
}

type schemaLister interface {
	Schemas(ctx context.Context) ([]cledger.SchemaRecord, error)
}

// errQuit ends the shell loop without an error.
var errQuit = errors.New("quit")

const shellHelp = `commands:
  help              show this message
  whoami            show this agent's identity and address
  peers             list connected and pending peers
  schemas           list schemas published by this agent
  connect <addr>    connect to the agent listening on addr
                    and wait until it has registered this agent
  disconnect <key>  drop the connection to the peer with key
  quit              stop the agent
`

type shell struct {
	log *slog.Logger
	ep  shellEndpoint
	v   connectVerifier
	ls  schemaLister
	out io.Writer
}

func newShell(
	log *slog.Logger, ep shellEndpoint, v connectVerifier, ls schemaLister, out io.Writer,
) *shell {
	return &shell{log: log, ep: ep, v: v, ls: ls, out: out}
}

// Run executes each of cmds, then each line read from in,
// until quit, the end of in, or ctx is cancelled.
// Command failures are printed and do not stop the shell.
func (s *shell) Run(ctx context.Context, cmds []string, in io.Reader) error {
	for _, c := range cmds {
		if err := s.exec(ctx, c); err != nil {
			if errors.Is(err, errQuit) {
				return nil
			}
			fmt.Fprintf(s.out, "error: %v\n", err)
		}
	}

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- sc.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					if err != nil {
						return fmt.Errorf("failed to read shell input: %w", err)
					}
				default:
				}
				return nil
			}
			if err := s.exec(ctx, line); err != nil {
				if errors.Is(err, errQuit) {
					return nil
				}
				fmt.Fprintf(s.out, "error: %v\n", err)
			}
		}
	}
}

func (s *shell) exec(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}

	s.log.Debug("Running shell command", "cmd", fields[0])

	switch cmd, args := fields[0], fields[1:]; cmd {
	case "help":
		fmt.Fprint(s.out, shellHelp)
		return nil

	case "whoami":
		fmt.Fprintf(s.out, "%s %s\n", s.ep.Identity(), s.ep.Addr())
		return nil

	case "peers":
		s.printPeers()
		return nil

	case "schemas":
		return s.printSchemas(ctx)

	case "connect":
		if len(args) != 1 {
			return errors.New("usage: connect <addr>")
		}
		return s.connect(ctx, args[0])

	case "disconnect":
		if len(args) != 1 {
			return errors.New("usage: disconnect <key>")
		}
		return s.ep.Disconnect(cpeer.Identity(args[0]))

	case "quit", "exit":
		return errQuit

	default:
		return fmt.Errorf("unknown command %q (try help)", cmd)
	}
}

// connect dials addr, then waits until both this endpoint
// and the peer report each other as registered.
func (s *shell) connect(ctx context.Context, addr string) error {
	key, err := s.ep.ConnectTo(ctx, addr)
	if err != nil {
		return err
	}

	peer, err := s.ep.PeerEndpoint(key)
	if err != nil {
		return fmt.Errorf("connected to %s but lost the connection: %w", addr, err)
	}
	if err := s.v.VerifyConnected(ctx, s.ep, peer); err != nil {
		return fmt.Errorf("peer at %s did not register this agent: %w", addr, err)
	}

	fmt.Fprintf(s.out, "connected to %s (%s)\n", addr, key)
	return nil
}

func (s *shell) printPeers() {
	remotes := s.ep.RemotesByKeys()
	pending := s.ep.PeersWithoutRemotes()
	if len(remotes) == 0 && len(pending) == 0 {
		fmt.Fprintln(s.out, "no peers")
		return
	}

	keys := make([]cpeer.Identity, 0, len(remotes))
	for k := range remotes {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	for _, k := range keys {
		r := remotes[k]
		fmt.Fprintf(s.out, "%s %s %s\n", k, r.Addr, r.State)
	}
	for _, k := range pending {
		fmt.Fprintf(s.out, "%s - pending\n", k)
	}
}

func (s *shell) printSchemas(ctx context.Context) error {
	recs, err := s.ls.Schemas(ctx)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		fmt.Fprintln(s.out, "no schemas")
		return nil
	}
	for _, r := range recs {
		fmt.Fprintf(
			s.out, "%s seq=%d attrs=%s\n",
			r.ID, r.SeqNo, strings.Join(r.AttrNames, ","),
		)
	}
	return nil
}
