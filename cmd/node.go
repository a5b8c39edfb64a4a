package cmd

import (
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/loadbench/loadbench/bench/node"
	"github.com/loadbench/loadbench/bench/wire"
)

var nodeID string

// nodeCmd runs a single worker node.
var nodeCmd = &cobra.Command{
	Use:   "node",
	Short: "Run one worker node with its admission scheduler and status sampler",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig(cmd)
		nc, ok := cfg.Node(nodeID)
		if !ok {
			logrus.Fatalf("Node %q is not in the config (known: %v)", nodeID, cfg.NodeIDs())
		}

		ctx, cancel := signalContext()
		defer cancel()
		if err := serveMetrics(ctx, cfg.MetricsAddr); err != nil {
			logrus.Fatalf("%v", err)
		}

		store, closeStore, err := openStatusStore(cfg)
		if err != nil {
			logrus.Fatalf("Opening status store: %v", err)
		}
		defer closeStore()

		link := wire.NewLink(cfg.Collector.NodeAddr, wire.PathNode, cfg.IdleTimeout, 5*time.Second)
		defer link.Close()

		n := node.New(node.Options{
			ID:           nc.ID,
			Capacity:     cfg.Capacity,
			SamplePeriod: cfg.SamplePeriod,
			BatchSize:    cfg.BatchSize,
			IdleTimeout:  cfg.IdleTimeout,
			Sender:       link,
			Store:        store,
		})
		if err := n.ListenAndServe(ctx, nc.Address); err != nil {
			logrus.Fatalf("%v", err)
		}
		logrus.Infof("Node %s stopped", nc.ID)
	},
}

func init() {
	nodeCmd.Flags().StringVar(&nodeID, "id", "node-1", "Node ID from the config's node list")
}
