// Command statexferd runs a replica of the key/value state and moves
// checkpoints between replicas.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/hashicorp/go-hclog"
	"github.com/urfave/cli/v2"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/blockberries/statexfer/config"
	statexfergrpc "github.com/blockberries/statexfer/grpc"
	"github.com/blockberries/statexfer/server"
	"github.com/blockberries/statexfer/types"
)

// Build information, set via ldflags.
var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := App().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// App creates the CLI application.
func App() *cli.App {
	return &cli.App{
		Name:    "statexferd",
		Usage:   "replicated key/value state with incremental state transfer",
		Version: fmt.Sprintf("%s (commit: %s)", Version, Commit),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "YAML configuration file",
				EnvVars: []string{"STATEXFER_CONFIG"},
			},
			&cli.StringFlag{
				Name:  "datadir",
				Usage: "override datadir from the configuration",
			},
		},
		Commands: []*cli.Command{
			serveCommand(),
			putCommand(),
			fetchCommand(),
			inspectCommand(),
		},
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "serve the local checkpoint to other replicas",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "listen",
				Usage: "override the gRPC listen address",
			},
			&cli.StringFlag{
				Name:  "bootstrap",
				Usage: "fetch the checkpoint of this peer before serving",
			},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			if l := c.String("listen"); l != "" {
				cfg.Listen = l
			}
			logger := cfg.NewLogger("statexferd")

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv, err := server.New(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer srv.Close()

			if peer := c.String("bootstrap"); peer != "" {
				if _, err := srv.Fetch(ctx, peer); err != nil {
					return fmt.Errorf("bootstrap from %s: %w", peer, err)
				}
			}
			if err := srv.Start(); err != nil {
				return err
			}
			<-ctx.Done()
			logger.Info("shutting down")
			return nil
		},
	}
}

func putCommand() *cli.Command {
	return &cli.Command{
		Name:      "put",
		Usage:     "write keys into the local state and checkpoint them",
		ArgsUsage: "key=value [key= ...]",
		Action: func(c *cli.Context) error {
			pairs, err := parsePairs(c.Args().Slice())
			if err != nil {
				return err
			}
			return withLocal(c, func(ctx context.Context, srv *server.Server) error {
				desc, err := srv.Put(ctx, pairs)
				if err != nil {
					return err
				}
				printDescriptor(c.App.Writer, desc, false)
				return nil
			})
		},
	}
}

func fetchCommand() *cli.Command {
	return &cli.Command{
		Name:      "fetch",
		Usage:     "install the checkpoint of a peer into the local state",
		ArgsUsage: "peer-address",
		Action: func(c *cli.Context) error {
			peer := c.Args().First()
			if peer == "" {
				return fmt.Errorf("fetch: peer address required")
			}
			return withLocal(c, func(ctx context.Context, srv *server.Server) error {
				desc, err := srv.Fetch(ctx, peer)
				if err != nil {
					return err
				}
				printDescriptor(c.App.Writer, desc, false)
				return nil
			})
		},
	}
}

func inspectCommand() *cli.Command {
	return &cli.Command{
		Name:  "inspect",
		Usage: "print the committed checkpoint descriptor",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "peer",
				Usage: "inspect a remote replica instead of the local state",
			},
			&cli.BoolFlag{
				Name:    "parts",
				Aliases: []string{"p"},
				Usage:   "list every part",
			},
		},
		Action: func(c *cli.Context) error {
			if peer := c.String("peer"); peer != "" {
				client, err := statexfergrpc.Dial(c.Context, peer,
					grpc.WithTransportCredentials(insecure.NewCredentials()),
				)
				if err != nil {
					return err
				}
				defer client.Close()
				desc, err := client.Descriptor(c.Context)
				if err != nil {
					return err
				}
				printDescriptor(c.App.Writer, desc, c.Bool("parts"))
				return nil
			}
			return withLocal(c, func(_ context.Context, srv *server.Server) error {
				desc := srv.Driver().Descriptor()
				if desc == nil {
					fmt.Fprintln(c.App.Writer, "no checkpoint")
					return nil
				}
				printDescriptor(c.App.Writer, desc, c.Bool("parts"))
				return nil
			})
		},
	}
}

func loadConfig(c *cli.Context) (config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return cfg, err
	}
	if d := c.String("datadir"); d != "" {
		cfg.DataDir = d
	}
	return cfg, nil
}

// withLocal opens the local replica without serving it.
func withLocal(c *cli.Context, fn func(context.Context, *server.Server) error) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if cfg.DataDir == "" {
		return fmt.Errorf("datadir is required")
	}
	logger := cfg.NewLogger("statexferd")
	if cfg.Log.Level == "info" {
		logger.SetLevel(hclog.Warn)
	}

	srv, err := server.New(c.Context, cfg, logger)
	if err != nil {
		return err
	}
	defer srv.Close()
	return fn(c.Context, srv)
}

// parsePairs parses key=value arguments. An empty value deletes the
// key.
func parsePairs(args []string) (map[string][]byte, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("at least one key=value is required")
	}
	out := make(map[string][]byte, len(args))
	for _, arg := range args {
		k, v, ok := strings.Cut(arg, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid pair %q, expected key=value", arg)
		}
		if v == "" {
			out[k] = nil
			continue
		}
		out[k] = []byte(v)
	}
	return out, nil
}

func printDescriptor(w io.Writer, d *types.StateDescriptor, parts bool) {
	root := "-"
	if d.Root != nil {
		root = d.Root.String()
	}
	fmt.Fprintf(w, "seq:   %d\nroot:  %s\nparts: %d\n", uint64(d.Seq), root, d.Len())
	if !parts {
		return
	}
	for i := range d.Entries {
		e := &d.Entries[i]
		fmt.Fprintf(w, "  %x  seq=%d  %s\n", e.PartID, uint64(e.Seq), e.Content.Short())
	}
}
