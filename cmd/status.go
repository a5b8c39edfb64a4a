package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/loadbench/loadbench/bench/status"
)

// statusCmd prints the latest persisted status of each node.
var statusCmd = &cobra.Command{
	Use:   "status [node-id...]",
	Short: "Show the last persisted status batch of each node",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig(cmd)
		store, closeStore, err := openStatusStore(cfg)
		if err != nil {
			logrus.Fatalf("Opening status store: %v", err)
		}
		defer closeStore()

		ids := args
		if len(ids) == 0 {
			ids = cfg.NodeIDs()
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for _, id := range ids {
			batch, err := store.Load(ctx, id)
			if errors.Is(err, status.ErrNotFound) {
				fmt.Printf("%s: no status\n", id)
				continue
			}
			if err != nil {
				logrus.Errorf("%v", err)
				continue
			}
			latest, ok := batch.Latest()
			if !ok {
				fmt.Printf("%s: empty batch\n", id)
				continue
			}
			fmt.Printf("%s: cpu_usage=%.2f%% is_idle=%t is_unavailable=%t at %s (%d samples)\n",
				id, latest.CPUUsage, latest.IsIdle, latest.IsUnavailable,
				time.UnixMicro(latest.TimestampUs).Format(time.RFC3339Nano), len(batch.Samples))
		}
	},
}
