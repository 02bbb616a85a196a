// Command ringnode runs a ringnet peer, or inspects one, from the shell.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"ringnet/core"
	"ringnet/internal/config"
	"ringnet/transport"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{Use: "ringnode", Short: "run or inspect a ringnet peer"}
	root.AddCommand(startCmd(), joinCmd(), ringCmd(), routerCmd())
	return root
}

func startCmd() *cobra.Command {
	var env string
	cmd := &cobra.Command{
		Use:   "start",
		Short: "start a ringnet peer and join its configured gateways",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(env)
			if err != nil {
				return err
			}
			node, ctx, cancel, err := bootNode(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer cancel()
			defer node.Stop()

			if cfg.ShouldConnect {
				for _, gw := range cfg.Gateways {
					if err := joinGateway(ctx, node, gw); err != nil {
						logrus.WithError(err).WithField("gateway", gw.Peer).Warn("join failed")
					}
				}
			}
			waitForSignal(ctx)
			return nil
		},
	}
	cmd.Flags().StringVar(&env, "config", "", "environment overlay name (configs/<name>.yaml)")
	return cmd
}

func joinCmd() *cobra.Command {
	var env, gatewayAddr string
	cmd := &cobra.Command{
		Use:   "join",
		Short: "start a ringnet peer and join a single gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			if gatewayAddr == "" {
				return fmt.Errorf("ringnode join: --gateway is required")
			}
			cfg, err := config.Load(env)
			if err != nil {
				return err
			}
			node, ctx, cancel, err := bootNode(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer cancel()
			defer node.Stop()

			peerID, err := node.Bridge.DialGateway(ctx, gatewayAddr)
			if err != nil {
				return fmt.Errorf("ringnode join: %w", err)
			}
			tx, err := node.Join(ctx, core.PeerKeyLocation{Peer: peerID})
			if err != nil {
				return fmt.Errorf("ringnode join: %w", err)
			}
			fmt.Printf("join started: tx=%s gateway=%s\n", tx, peerID)
			waitForSignal(ctx)
			return nil
		},
	}
	cmd.Flags().StringVar(&env, "config", "", "environment overlay name (configs/<name>.yaml)")
	cmd.Flags().StringVar(&gatewayAddr, "gateway", "", "gateway libp2p multiaddr, e.g. /ip4/.../tcp/.../p2p/...")
	return cmd
}

func ringCmd() *cobra.Command {
	ring := &cobra.Command{Use: "ring", Short: "inspect ring membership"}
	ring.AddCommand(ringStatusCmd())
	return ring
}

func ringStatusCmd() *cobra.Command {
	var env string
	var wait time.Duration
	cmd := &cobra.Command{
		Use:   "status",
		Short: "start a peer, join its gateways, and print the resulting connection table",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(env)
			if err != nil {
				return err
			}
			node, ctx, cancel, err := bootNode(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer cancel()
			defer node.Stop()

			for _, gw := range cfg.Gateways {
				if err := joinGateway(ctx, node, gw); err != nil {
					logrus.WithError(err).WithField("gateway", gw.Peer).Warn("join failed")
				}
			}

			select {
			case <-time.After(wait):
			case <-ctx.Done():
			}

			loc := node.Ring.OwnLocation()
			if loc != nil {
				fmt.Printf("self: %s@%s\n", node.Bridge.Self(), loc)
			} else {
				fmt.Printf("self: %s@? (no location assigned)\n", node.Bridge.Self())
			}
			for _, c := range node.Ring.Connections() {
				fmt.Println(c.String())
			}
			known := node.KnownPeers()
			for id, connected := range known {
				fmt.Printf("known: %s connected=%v\n", id, connected)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&env, "config", "", "environment overlay name (configs/<name>.yaml)")
	cmd.Flags().DurationVar(&wait, "wait", 2*time.Second, "how long to wait for the join handshake to settle")
	return cmd
}

func routerCmd() *cobra.Command {
	router := &cobra.Command{Use: "router", Short: "inspect retrieval-time estimates"}
	router.AddCommand(routerEstimateCmd())
	return router
}

func routerEstimateCmd() *cobra.Command {
	var env, peer string
	var distance float64
	cmd := &cobra.Command{
		Use:   "estimate",
		Short: "estimate retrieval time for a peer at a given contract distance",
		RunE: func(cmd *cobra.Command, args []string) error {
			if peer == "" {
				return fmt.Errorf("ringnode router estimate: --peer is required")
			}
			cfg, err := config.Load(env)
			if err != nil {
				return err
			}
			node, _, cancel, err := bootNode(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer cancel()
			defer node.Stop()

			// the node's own Estimator, seeded by whatever OC-handshake
			// round trips its dispatcher has observed since it started;
			// a freshly started node legitimately reports "no estimate".
			v, ok := node.Estimator.Estimate(core.PeerId(peer), distance)
			if !ok {
				fmt.Println("no estimate available (insufficient history)")
				return nil
			}
			fmt.Printf("estimated retrieval time for %s at distance %.6f: %.6f\n", peer, distance, v)
			return nil
		},
	}
	cmd.Flags().StringVar(&env, "config", "", "environment overlay name (configs/<name>.yaml)")
	cmd.Flags().StringVar(&peer, "peer", "", "peer id")
	cmd.Flags().Float64Var(&distance, "distance", 0, "contract distance in [0.0, 0.5]")
	return cmd
}

// bootNode starts the transport layer for cfg and returns a context derived
// from parent that the returned cancel function ends. Interrupt/terminate
// signals are not wired to it; waitForSignal handles those.
func bootNode(parent context.Context, cfg *config.Config) (*transport.Node, context.Context, context.CancelFunc, error) {
	ctx, cancel := context.WithCancel(parent)
	node, err := transport.NewNode(ctx, transport.NodeConfig{
		PeerKey:         cfg.PeerKey,
		ListenAddr:      cfg.ListenAddr,
		DiscoveryTag:    cfg.DiscoveryTag,
		MaxConnections:  cfg.MaxConnections,
		MaxHopsToLive:   cfg.MaxHopsToLive,
		RndIfHTLAbove:   cfg.RndIfHTLAbove,
		RouterCacheSize: cfg.RouterCacheSize,
	})
	if err != nil {
		cancel()
		return nil, nil, nil, fmt.Errorf("ringnode: start transport: %w", err)
	}
	node.Start(ctx)
	return node, ctx, cancel, nil
}

// joinGateway dials and joins a single configured gateway.
func joinGateway(ctx context.Context, node *transport.Node, gw config.GatewayConfig) error {
	peerID, err := node.Bridge.DialGateway(ctx, gw.Addr)
	if err != nil {
		return err
	}
	loc, err := core.NewLocation(gw.Location)
	if err != nil {
		return err
	}
	target := core.PeerKeyLocation{Peer: peerID, Location: &loc}
	if string(peerID) != gw.Peer && gw.Peer != "" {
		target.Peer = core.PeerId(gw.Peer)
	}
	tx, err := node.Join(ctx, target)
	if err != nil {
		return err
	}
	logrus.WithField("tx", tx).WithField("gateway", target.Peer).Info("join started")
	return nil
}

// waitForSignal blocks until SIGINT/SIGTERM or ctx is cancelled.
func waitForSignal(ctx context.Context) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	select {
	case <-sigCh:
	case <-ctx.Done():
	}
}
