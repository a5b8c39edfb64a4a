package cmd

import (
	"context"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loadbench/loadbench/bench"
	"github.com/loadbench/loadbench/bench/collector"
	"github.com/loadbench/loadbench/bench/status"
)

func TestRootCmd_RegistersSubcommands(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"run", "node", "collector", "clients", "status"} {
		assert.True(t, names[want], "missing subcommand %q", want)
	}
}

func TestLoadConfig_FlagOverrides(t *testing.T) {
	// GIVEN --seed and --policy set on the command line
	cmd := &cobra.Command{}
	cmd.Flags().Int64Var(&seed, "seed", 42, "")
	require.NoError(t, cmd.Flags().Set("seed", "7"))
	policy = "least-loaded"
	configPath = ""
	defer func() { policy = "" }()

	// WHEN the config is loaded
	cfg := loadConfig(cmd)

	// THEN the flags win over the defaults
	assert.Equal(t, int64(7), cfg.Seed)
	assert.Equal(t, "least-loaded", cfg.Policy)
}

func TestApplyClientFlags(t *testing.T) {
	cmd := &cobra.Command{}
	cmd.Flags().IntVar(&clientCount, "clients", 1, "")
	cmd.Flags().IntVar(&clientRequests, "requests", 20, "")
	require.NoError(t, cmd.Flags().Set("clients", "5"))
	cfg := bench.DefaultConfig()

	applyClientFlags(cmd, &cfg)

	assert.Equal(t, 5, cfg.Clients.Count)
	assert.Equal(t, 20, cfg.Clients.Requests, "unchanged flag keeps the config value")
}

func TestResolveConfig_NegativeClientFlagsRejected(t *testing.T) {
	configPath = ""
	for _, flag := range []string{"clients", "requests"} {
		t.Run(flag, func(t *testing.T) {
			// GIVEN a negative --clients or --requests
			cmd := &cobra.Command{}
			cmd.Flags().IntVar(&clientCount, "clients", 1, "")
			cmd.Flags().IntVar(&clientRequests, "requests", 20, "")
			require.NoError(t, cmd.Flags().Set(flag, "-1"))

			// WHEN the config is resolved
			_, err := resolveConfig(cmd)

			// THEN validation catches it before any client is built
			assert.Error(t, err)
		})
	}
}

func TestResolveConfig_ClientFlagsApplied(t *testing.T) {
	configPath = ""
	cmd := &cobra.Command{}
	cmd.Flags().IntVar(&clientCount, "clients", 1, "")
	cmd.Flags().IntVar(&clientRequests, "requests", 20, "")
	require.NoError(t, cmd.Flags().Set("requests", "3"))

	cfg, err := resolveConfig(cmd)

	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Clients.Requests)
}

func TestCollectorOptions(t *testing.T) {
	cfg := bench.DefaultConfig()
	cfg.Collector.TrimStart, cfg.Collector.TrimEnd = 0.1, 0.9

	opts := collectorOptions(&cfg)

	assert.Equal(t, 2, opts.NodeCount)
	assert.Equal(t, cfg.Capacity, opts.Capacity)
	assert.Equal(t, 0.1, opts.TrimStart)
	assert.Equal(t, cfg.Collector.ReportPath, opts.ReportPath)
}

func TestOpenStatusStore_FileBackend(t *testing.T) {
	cfg := bench.DefaultConfig()
	cfg.Status.Dir = t.TempDir()

	store, closeStore, err := openStatusStore(&cfg)
	require.NoError(t, err)
	defer closeStore()

	_, ok := store.(*status.FileStore)
	assert.True(t, ok)
}

func TestFollowStatus_FileBackendFeedsRouter(t *testing.T) {
	// GIVEN a router following the file store
	cfg := bench.DefaultConfig()
	cfg.Status.Dir = t.TempDir()
	store, closeStore, err := openStatusStore(&cfg)
	require.NoError(t, err)
	defer closeStore()
	router, _, _ := newRouter(&cfg, bench.NewPartitionedRNG(1))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, followStatus(ctx, &cfg, store, router))

	// WHEN node-2 persists a status batch
	batch := bench.ReportBatch{NodeID: "node-2", Samples: []bench.StatusSample{
		bench.NewStatusSample("node-2", 35, 0, time.Now()),
	}}
	require.NoError(t, store.Save(ctx, batch))

	// THEN the router's load table picks it up
	assert.Eventually(t, func() bool { return router.Loads().Get("node-2") == 35 }, 2*time.Second, 10*time.Millisecond)
}

func TestWaitQuiescent(t *testing.T) {
	c := collector.New(collector.Options{})
	assert.True(t, waitQuiescent(c, time.Millisecond))

	c.StartSession("a")
	assert.False(t, waitQuiescent(c, 20*time.Millisecond))
}
