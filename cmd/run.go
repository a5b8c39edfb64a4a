package cmd

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/loadbench/loadbench/bench"
	"github.com/loadbench/loadbench/bench/collector"
	"github.com/loadbench/loadbench/bench/node"
	"github.com/loadbench/loadbench/bench/wire"
	"github.com/loadbench/loadbench/bench/workload"
)

// reportGrace bounds how long run waits for the collector after the clients finish.
const reportGrace = 5 * time.Second

// collectorOptions maps config to collector options.
func collectorOptions(cfg *bench.Config) collector.Options {
	return collector.Options{
		Capacity:   cfg.Capacity,
		NodeCount:  len(cfg.Nodes),
		TrimStart:  cfg.Collector.TrimStart,
		TrimEnd:    cfg.Collector.TrimEnd,
		ReportPath: cfg.Collector.ReportPath,
	}
}

func mustListen(addr string) net.Listener {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		logrus.Fatalf("Listening on %s: %v", addr, err)
	}
	return ln
}

// waitQuiescent polls until no client session is active or timeout elapses.
func waitQuiescent(c *collector.Collector, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for c.Active() > 0 {
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(10 * time.Millisecond)
	}
	return true
}

// runCmd starts the collector, every node and the client fleet in one process.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the whole testbed in-process: collector, nodes and clients",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig(cmd)

		ctx, cancel := signalContext()
		defer cancel()
		if err := serveMetrics(ctx, cfg.MetricsAddr); err != nil {
			logrus.Fatalf("%v", err)
		}
		startTime := time.Now()

		store, closeStore, err := openStatusStore(cfg)
		if err != nil {
			logrus.Fatalf("Opening status store: %v", err)
		}
		defer closeStore()

		// Bind everything before the first client dials.
		clientLn, nodeLn := mustListen(cfg.Collector.ClientAddr), mustListen(cfg.Collector.NodeAddr)
		nodeLns := make([]net.Listener, len(cfg.Nodes))
		for i, nc := range cfg.Nodes {
			nodeLns[i] = mustListen(nc.Address)
		}

		serveCtx, stopServing := context.WithCancel(ctx)
		defer stopServing()
		var wg sync.WaitGroup

		col := collector.New(collectorOptions(cfg))
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := collector.NewServer(col, cfg.IdleTimeout).Serve(serveCtx, clientLn, nodeLn); err != nil {
				logrus.Errorf("Collector: %v", err)
			}
		}()

		for i, nc := range cfg.Nodes {
			link := wire.NewLink(cfg.Collector.NodeAddr, wire.PathNode, cfg.IdleTimeout, cfg.Clients.DialTimeout)
			n := node.New(node.Options{
				ID:           nc.ID,
				Capacity:     cfg.Capacity,
				SamplePeriod: cfg.SamplePeriod,
				BatchSize:    cfg.BatchSize,
				IdleTimeout:  cfg.IdleTimeout,
				Sender:       link,
				Store:        store,
			})
			wg.Add(1)
			go func(ln net.Listener) {
				defer wg.Done()
				defer link.Close()
				if err := n.Serve(serveCtx, ln); err != nil {
					logrus.Errorf("Node %s: %v", n.ID(), err)
				}
			}(nodeLns[i])
		}

		rng := bench.NewPartitionedRNG(cfg.Seed)
		router, dir, rt := newRouter(cfg, rng)
		if err := followStatus(serveCtx, cfg, store, router); err != nil {
			logrus.Fatalf("Following node status: %v", err)
		}

		results := workload.RunFleet(ctx, cfg, router, dir, rng)
		logFleetResults(cfg, results)
		if !waitQuiescent(col, reportGrace) {
			logrus.Warnf("%d client sessions never finished", col.Active())
		}
		printTraceSummary(rt)

		stopServing()
		wg.Wait()
		logrus.Infof("Testbed run complete: %d reports, %d pins, wall time %v",
			col.Reports(), dir.PinCount(), time.Since(startTime).Round(time.Millisecond))
	},
}
