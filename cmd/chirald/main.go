// Command chirald is the headless Chiral Network node: it wires
// config, identity, the Kademlia overlay, reachability, chunk
// storage, block-exchange, reputation, payment notifications, and
// keyword search into one running process (spec §6), the way the
// teacher's cmd/cli/bootstrap_node.go wires a BootstrapNode.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/potato-weijie-li/chiral-network-sub000/internal/blockex"
	"github.com/potato-weijie-li/chiral-network-sub000/internal/chunkstore"
	"github.com/potato-weijie-li/chiral-network-sub000/internal/config"
	"github.com/potato-weijie-li/chiral-network-sub000/internal/errs"
	"github.com/potato-weijie-li/chiral-network-sub000/internal/health"
	"github.com/potato-weijie-li/chiral-network-sub000/internal/identity"
	"github.com/potato-weijie-li/chiral-network-sub000/internal/keyword"
	"github.com/potato-weijie-li/chiral-network-sub000/internal/logging"
	"github.com/potato-weijie-li/chiral-network-sub000/internal/overlay"
	"github.com/potato-weijie-li/chiral-network-sub000/internal/payment"
	"github.com/potato-weijie-li/chiral-network-sub000/internal/reach"
	"github.com/potato-weijie-li/chiral-network-sub000/internal/reputation"
)

// Exit codes per spec §6.
const (
	exitOK               = 0
	exitKeypairError     = 1
	exitPortBindFailure  = 2
	exitBootstrapFailure = 3
)

var (
	flagConfigPath []string
	flagEnv        string
)

func main() {
	root := &cobra.Command{
		Use:   "chirald",
		Short: "Chiral Network headless node",
		RunE:  runStart,
	}
	root.Flags().StringSliceVar(&flagConfigPath, "config-dir", nil, "directories to search for default.yaml / <env>.yaml")
	root.Flags().StringVar(&flagEnv, "env", "", "environment config overlay to merge on top of default.yaml")
	root.AddCommand(configCmd())

	if err := root.Execute(); err != nil {
		os.Exit(exitCodeFor(err))
	}
}

// configCmd adds `chirald config print`, which loads the effective
// configuration and renders it back to YAML for operators, bypassing
// viper's internal representation entirely.
func configCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "Inspect chirald configuration"}
	cmd.AddCommand(&cobra.Command{
		Use:   "print",
		Short: "Load and print the effective configuration as YAML",
		RunE: func(cc *cobra.Command, args []string) error {
			cfg, err := config.Load(flagEnv, flagConfigPath...)
			if err != nil {
				return err
			}
			out, err := cfg.YAML()
			if err != nil {
				return err
			}
			fmt.Print(string(out))
			return nil
		},
	})
	return cmd
}

func exitCodeFor(err error) int {
	switch errs.KindOf(err) {
	case errs.KindConfigurationError:
		return exitKeypairError
	case errs.KindPeerUnreachable, errs.KindTimeout:
		return exitBootstrapFailure
	default:
		return exitPortBindFailure
	}
}

// node bundles every subsystem so Stop can unwind them in reverse
// wiring order, the way the teacher's BootstrapNode.Stop tears down
// replication before the base node.
type node struct {
	cfg *config.Config
	log *logrus.Entry

	cancel context.CancelFunc

	reacher  *reach.Reacher
	router   *overlay.Router
	prober   *health.Prober
	exchange *blockex.Exchange
	payments *payment.Channel

	chunkEngine *chunkstore.Engine
	repEngine   *reputation.Engine
	keywordIdx  *keyword.Index
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(flagEnv, flagConfigPath...)
	if err != nil {
		return err
	}

	lv, err := logrus.ParseLevel(cfg.Logging.Level)
	if err != nil {
		lv = logrus.InfoLevel
	}
	logrus.SetLevel(lv)
	log := logging.For("chirald")
	log.WithField("config", cfg.String()).Info("starting")

	// Secondary sugared logger used by a handful of request/response
	// handlers (internal/blockex, internal/payment) alongside logrus.
	if zl, err := zap.NewProduction(); err == nil {
		zap.ReplaceGlobals(zl)
		defer zl.Sync()
	} else {
		log.WithError(err).Warn("zap logger unavailable, request/response handlers fall back to its no-op default")
	}

	n, err := buildNode(cmd.Context(), cfg, log)
	if err != nil {
		return err
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down")
	n.Stop()
	return nil
}

func buildNode(parent context.Context, cfg *config.Config, log *logrus.Entry) (*node, error) {
	ctx, cancel := context.WithCancel(parent)

	id, err := identity.LoadOrCreate(cfg.DataDir)
	if err != nil {
		cancel()
		return nil, err
	}
	log.WithField("peer_id", id.ID.String()).Info("identity loaded")

	h, err := reach.BuildHost(id, cfg)
	if err != nil {
		cancel()
		return nil, errs.Wrap(err, "bind libp2p host")
	}

	router := overlay.NewRouter(ctx, h)
	reacher := reach.NewReacher(ctx, h, cfg, relayCandidatesFrom(router))

	if len(cfg.Network.BootstrapPeers) > 0 {
		if err := router.Bootstrap(ctx, cfg.Network.BootstrapPeers, cfg.BootstrapTimeout()); err != nil {
			log.WithError(err).Warn("bootstrap did not reach any seed; continuing as an isolated node")
		}
	}

	blockStore, err := chunkstore.NewBlockStore(cfg.DataDir)
	if err != nil {
		cancel()
		reacher.Close()
		return nil, err
	}
	chunkEngine := chunkstore.NewEngine(blockStore, int(cfg.Chunking.ChunkSizeBytes))
	exchange := blockex.NewExchange(h, blockStore)

	repEngine := reputation.NewEngine(router, cfg.VerdictTTL())

	sign := func(rec *overlay.Record) error { return rec.Sign(id.PrivKey) }
	keywordIdx := keyword.NewIndex(router, sign)

	payments := payment.NewChannel(h, func(_ context.Context, notif *payment.Notification) error {
		log.WithField("file_hash", notif.FileHash).WithField("payer", notif.Payer.String()).Info("payment notification received")
		return nil
	})

	prober := health.NewProber(router, cfg.HealthCheckInterval())
	prober.Start()

	return &node{
		cfg:         cfg,
		log:         log,
		cancel:      cancel,
		reacher:     reacher,
		router:      router,
		prober:      prober,
		exchange:    exchange,
		payments:    payments,
		chunkEngine: chunkEngine,
		repEngine:   repEngine,
		keywordIdx:  keywordIdx,
	}, nil
}

// Stop unwinds the subsystems in reverse dependency order.
func (n *node) Stop() {
	n.prober.Stop()
	n.reacher.Close()
	n.router.Close()
	n.cancel()
}

// relayCandidatesFrom adapts the router's routing-table snapshot into
// the peer.AddrInfo source reach.NewReacher needs for relay selection,
// so relay candidates are drawn from peers the DHT already knows about
// rather than a separate discovery mechanism.
func relayCandidatesFrom(router *overlay.Router) func() []peer.AddrInfo {
	return func() []peer.AddrInfo {
		recs := router.Peers()
		out := make([]peer.AddrInfo, 0, len(recs))
		for _, rec := range recs {
			addrs := make([]multiaddr.Multiaddr, 0, len(rec.Addrs))
			for _, a := range rec.Addrs {
				if ma, err := multiaddr.NewMultiaddr(a); err == nil {
					addrs = append(addrs, ma)
				}
			}
			if len(addrs) == 0 {
				continue
			}
			out = append(out, peer.AddrInfo{ID: rec.ID, Addrs: addrs})
		}
		return out
	}
}
