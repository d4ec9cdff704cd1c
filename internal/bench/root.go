package bench

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	batchz "github.com/zoobzio/batchz"
)

// NewRootCmd creates the batchz-bench command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "batchz-bench",
		Short:         "Load generator for the batchz engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("log-level", "info", "log level (trace, debug, info, warn, error)")
	root.PersistentFlags().String("log-file", "", "also write JSON logs to this file, rotated")

	root.AddCommand(newRunCmd())
	return root
}

func newRunCmd() *cobra.Command {
	var (
		configPath   string
		producers    int
		items        int
		batchSize    uint32
		interval     time.Duration
		queue        uint32
		mode         string
		dedupeKeys   int
		flushLatency time.Duration
		metricsAddr  string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Drive an engine with concurrent producers and print its counters",
		Example: `  batchz-bench run --producers 8 --items 10000 --batch-size 200
  batchz-bench run --config engine.yaml --dedupe-keys 64 --metrics-addr :9090`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := batchz.NewConfig()
			if configPath != "" {
				loaded, err := batchz.LoadConfig(configPath)
				if err != nil {
					return err
				}
				cfg = loaded
			}

			// Explicit flags override the file.
			flags := cmd.Flags()
			if configPath == "" || flags.Changed("batch-size") {
				cfg = cfg.WithBatchSizeLimit(batchSize)
			}
			if configPath == "" || flags.Changed("interval") {
				cfg = cfg.WithFlushInterval(interval)
			}
			if configPath == "" || flags.Changed("queue") {
				cfg = cfg.WithQueueCapacity(queue)
			}
			if configPath == "" || flags.Changed("mode") {
				cfg = cfg.WithWriteMode(batchz.WriteMode(mode))
			}

			level, _ := cmd.Flags().GetString("log-level")
			file, _ := cmd.Flags().GetString("log-file")
			logger, closer := NewLogger(level, file, cmd.ErrOrStderr())
			defer closer.Close()

			report, err := Run(cmd.Context(), Options{
				Config:       cfg,
				Producers:    producers,
				Items:        items,
				DedupeKeys:   dedupeKeys,
				FlushLatency: flushLatency,
				MetricsAddr:  metricsAddr,
			}, logger)
			if err != nil {
				return err
			}
			printReport(cmd.OutOrStdout(), report)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&configPath, "config", "", "YAML engine configuration; explicit flags override it")
	f.IntVar(&producers, "producers", 4, "number of concurrent producers")
	f.IntVar(&items, "items", 10000, "items written by each producer")
	f.Uint32Var(&batchSize, "batch-size", batchz.DefaultBatchSizeLimit, "maximum items per flush")
	f.DurationVar(&interval, "interval", batchz.DefaultFlushInterval, "maximum wait before a non-empty batch is flushed")
	f.Uint32Var(&queue, "queue", batchz.DefaultQueueCapacity, "input queue capacity")
	f.StringVar(&mode, "mode", string(batchz.WriteBlock), "behavior on a full queue (block, reject)")
	f.IntVar(&dedupeKeys, "dedupe-keys", 0, "deduplicate over this many distinct keys (0 disables)")
	f.DurationVar(&flushLatency, "flush-latency", 0, "simulated time spent in each flush")
	f.StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while running")
	return cmd
}

func printReport(w io.Writer, r Report) {
	m := r.Metrics
	fmt.Fprintf(w, "config:          %s\n", r.Config)
	fmt.Fprintf(w, "strategy:        %s\n", r.Strategy)
	fmt.Fprintf(w, "elapsed:         %s\n", r.Elapsed.Round(time.Microsecond))
	fmt.Fprintf(w, "items received:  %d\n", m.ItemsReceived)
	fmt.Fprintf(w, "items accepted:  %d\n", m.ItemsAccepted)
	fmt.Fprintf(w, "items rejected:  %d\n", r.Rejected)
	fmt.Fprintf(w, "items dropped:   %d\n", m.ItemsDropped)
	fmt.Fprintf(w, "batches flushed: %d\n", m.BatchesFlushed)
	fmt.Fprintf(w, "flush errors:    %d\n", m.FlushErrors)
	fmt.Fprintf(w, "throughput:      %.0f items/s\n", r.Throughput())
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
