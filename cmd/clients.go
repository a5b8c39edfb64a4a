package cmd

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/loadbench/loadbench/bench"
	"github.com/loadbench/loadbench/bench/workload"
)

var (
	clientCount    int // Number of concurrent clients, overrides config
	clientRequests int // Requests per client, overrides config
)

// clientsCmd drives the synthetic client fleet against running nodes and collector.
var clientsCmd = &cobra.Command{
	Use:   "clients",
	Short: "Run the synthetic clients through the router",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig(cmd)

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

		rng := bench.NewPartitionedRNG(cfg.Seed)
		router, dir, rt := newRouter(cfg, rng)
		if err := followStatus(ctx, cfg, store, router); err != nil {
			logrus.Fatalf("Following node status: %v", err)
		}

		results := workload.RunFleet(ctx, cfg, router, dir, rng)
		logFleetResults(cfg, results)
		printTraceSummary(rt)
	},
}

func applyClientFlags(cmd *cobra.Command, cfg *bench.Config) {
	if cmd.Flags().Changed("clients") {
		cfg.Clients.Count = clientCount
	}
	if cmd.Flags().Changed("requests") {
		cfg.Clients.Requests = clientRequests
	}
}

func logFleetResults(cfg *bench.Config, results map[string][]bench.Request) {
	done := 0
	for _, reqs := range results {
		done += len(reqs)
	}
	logrus.Infof("%d clients completed %d/%d requests", len(results), done, cfg.Clients.Count*cfg.Clients.Requests)
}

func init() {
	for _, c := range []*cobra.Command{clientsCmd, runCmd} {
		c.Flags().IntVar(&clientCount, "clients", 1, "Number of concurrent clients")
		c.Flags().IntVar(&clientRequests, "requests", 20, "Requests per client")
	}
}
