package workload

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/loadbench/loadbench/bench"
	"github.com/loadbench/loadbench/bench/wire"
)

// RunFleet runs every configured client concurrently, each with its own
// collector link, and returns the completed requests per client.
func RunFleet(ctx context.Context, cfg *bench.Config, router *bench.Router, fabric bench.FlowFabric, rng *bench.PartitionedRNG) map[string][]bench.Request {
	ids := ClientIDs(cfg.Clients.IDPrefix, cfg.Clients.Count)
	results := make(map[string][]bench.Request, len(ids))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, id := range ids {
		var link *wire.Link
		if cfg.Collector.ClientAddr != "" {
			link = wire.NewLink(cfg.Collector.ClientAddr, wire.PathClient, cfg.IdleTimeout, cfg.Clients.DialTimeout)
		}
		client := NewClient(ClientOptions{
			ID:          id,
			Requests:    cfg.Clients.Requests,
			Generator:   NewGenerator(id, cfg.Clients, rng.ForSubsystem(bench.SubsystemClient(id))),
			Router:      router,
			Fabric:      fabric,
			Collector:   reporterOrNil(link),
			Rate:        cfg.Clients.Rate,
			IdleTimeout: cfg.IdleTimeout,
			DialTimeout: cfg.Clients.DialTimeout,
		})
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if link != nil {
				defer link.Close()
			}
			completed, err := client.Run(ctx)
			if err != nil {
				logrus.WithField("client", id).Errorf("Client run failed: %v", err)
			}
			mu.Lock()
			results[id] = completed
			mu.Unlock()
		}(id)
	}
	wg.Wait()
	return results
}

// reporterOrNil keeps a nil *wire.Link from becoming a non-nil Reporter.
func reporterOrNil(link *wire.Link) Reporter {
	if link == nil {
		return nil
	}
	return link
}
