// Command credmesh-agent runs a key-addressed credential agent:
// a QUIC endpoint, a wallet, a local ledger and an optional interactive shell.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/credmesh/credmesh/cboot"
	"github.com/credmesh/credmesh/cconfig"
	"github.com/credmesh/credmesh/cverify"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := newRootCommand(os.Stdin, os.Stdout).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	configPath  string
	port        int
	name        string
	withCLI     bool
	noBootstrap bool
}

func newRootCommand(in io.Reader, out io.Writer) *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:   "credmesh-agent [shell commands...]",
		Short: "Run a credential agent endpoint",
		Long: `Run a credential agent endpoint.

On start the agent syncs its wallet with the local ledger
and bootstraps the schemas listed in its configuration.

With --withcli, each remaining argument is run as a shell command,
then commands are read from standard input:

	credmesh-agent --port 5555 --withcli "connect 127.0.0.1:6666" peers
`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 && !opts.withCLI {
				return fmt.Errorf("shell commands given without --withcli: %q", args)
			}

			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			return runAgent(cmd.Context(), cfg, opts, args, in, out)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.configPath, "config", "", "path to a config file (yaml, json or toml)")
	f.IntVar(&opts.port, "port", 0, "UDP port to listen on; 0 picks a free port")
	f.StringVar(&opts.name, "name", "", "agent name")
	f.BoolVar(&opts.withCLI, "withcli", false, "run an interactive shell")
	f.BoolVar(&opts.noBootstrap, "no-bootstrap", false, "skip schema bootstrap on start")

	return cmd
}

// loadConfig loads the configuration and applies explicitly set flags on top.
func loadConfig(cmd *cobra.Command, opts options) (*cconfig.Config, error) {
	cfg, err := cconfig.Load(opts.configPath)
	if err != nil {
		return nil, err
	}

	if cmd.Flags().Changed("port") {
		cfg.Port = opts.port
	}
	if cmd.Flags().Changed("name") {
		cfg.Name = opts.name
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runAgent(
	ctx context.Context,
	cfg *cconfig.Config,
	opts options,
	args []string,
	in io.Reader,
	out io.Writer,
) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get working directory: %w", err)
	}
	logPath := cfg.ResolvedLogFilePath(cwd)
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer logFile.Close()

	log := slog.New(slog.NewTextHandler(io.MultiWriter(os.Stderr, logFile), nil))

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	n, err := startNode(ctx, log, cfg)
	if err != nil {
		return err
	}
	defer n.Close()

	fmt.Fprintf(out, "%s listening on %s as %s\n", cfg.Name, n.Endpoint.Addr(), n.Endpoint.Identity())

	if !opts.noBootstrap {
		if err := cboot.RunBootstrap(ctx, n.Bootstrap); err != nil {
			// The agent keeps running without the bootstrapped schemas.
			fmt.Fprintln(out, err.Error())
			log.Warn("Bootstrap failed", "err", err)
		}
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n.Endpoint.Wait()
		return nil
	})
	if opts.withCLI {
		v := cverify.New(log.With("sys", "verifier"), cfg.PollConfig())
		g.Go(func() error {
			defer cancel()
			sh := newShell(log.With("sys", "shell"), keyedShellEndpoint{n.Endpoint}, v, n.Agent, out)
			return sh.Run(gCtx, args, in)
		})
	}

	return g.Wait()
}
