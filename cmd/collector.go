package cmd

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/loadbench/loadbench/bench/collector"
)

// collectorCmd runs the statistics collector.
var collectorCmd = &cobra.Command{
	Use:   "collector",
	Short: "Collect client traces and node status, report trimmed statistics per run",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig(cmd)
		ctx, cancel := signalContext()
		defer cancel()
		if err := serveMetrics(ctx, cfg.MetricsAddr); err != nil {
			logrus.Fatalf("%v", err)
		}

		c := collector.New(collectorOptions(cfg))
		srv := collector.NewServer(c, cfg.IdleTimeout)
		if err := srv.ListenAndServe(ctx, cfg.Collector.ClientAddr, cfg.Collector.NodeAddr); err != nil {
			logrus.Fatalf("%v", err)
		}
		logrus.Infof("Collector stopped after %d reports", c.Reports())
	},
}
