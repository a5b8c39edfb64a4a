package cmd

import (
	"context"
	"fmt"
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/loadbench/loadbench/bench"
	"github.com/loadbench/loadbench/bench/status"
	"github.com/loadbench/loadbench/bench/trace"
	"github.com/loadbench/loadbench/bench/wire"
)

// openStatusStore builds the configured status backend. The returned close
// func is never nil.
func openStatusStore(cfg *bench.Config) (bench.StatusStore, func(), error) {
	switch cfg.Status.Backend {
	case bench.StatusBackendRedis:
		store, err := status.NewRedisStore(cfg.Status.RedisAddr, cfg.Status.RedisDB)
		if err != nil {
			return nil, func() {}, err
		}
		return store, func() { _ = store.Close() }, nil
	default:
		store, err := status.NewFileStore(cfg.Status.Dir)
		if err != nil {
			return nil, func() {}, err
		}
		return store, func() {}, nil
	}
}

// newRouter builds the router, its directory and the decision trace.
func newRouter(cfg *bench.Config, rng *bench.PartitionedRNG) (*bench.Router, *bench.StaticDirectory, *trace.RoutingTrace) {
	dir := bench.NewStaticDirectory(cfg.NodeAddresses())
	rt := trace.NewRoutingTrace(trace.TraceLevel(cfg.TraceLevel))
	p := bench.NewRoutingPolicy(cfg.Policy, rng.ForSubsystem(bench.SubsystemRouter))
	logrus.Infof("Routing with policy %s over %v", p.Kind(), cfg.NodeIDs())
	return bench.NewRouter(cfg.NodeIDs(), p, dir, rt), dir, rt
}

// followStatus keeps the router's load table fresh until ctx ends: the file
// backend is watched, other backends are polled.
func followStatus(ctx context.Context, cfg *bench.Config, store bench.StatusStore, router *bench.Router) error {
	if fs, ok := store.(*status.FileStore); ok {
		w, err := status.NewWatcher(fs, cfg.NodeIDs(), router)
		if err != nil {
			return err
		}
		go w.Run(ctx)
		return nil
	}
	go status.NewPoller(store, cfg.NodeIDs(), router, cfg.Status.PollInterval).Run(ctx)
	return nil
}

// serveMetrics exposes Prometheus metrics on addr until ctx ends. No-op when addr is empty.
func serveMetrics(ctx context.Context, addr string) error {
	if addr == "" {
		return nil
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("metrics listener: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		if err := wire.Serve(ctx, ln, mux); err != nil {
			logrus.Errorf("Metrics server: %v", err)
		}
	}()
	return nil
}

// printTraceSummary logs the routing decision distribution when tracing is on.
func printTraceSummary(rt *trace.RoutingTrace) {
	if rt == nil {
		return
	}
	for _, line := range trace.Summarize(rt).Lines() {
		logrus.Info(line)
	}
}
