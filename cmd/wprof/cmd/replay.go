package cmd

import (
	"fmt"
	"io"
	"runtime"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kusoof/wprof/config"
	"github.com/kusoof/wprof/monitoring"
	"github.com/kusoof/wprof/page"
	"github.com/kusoof/wprof/replay"
	"github.com/kusoof/wprof/timing"
)

var replayCmd = &cobra.Command{
	Use:   "replay FILE...",
	Short: "Replay recorded signal logs and write their traces.",
	Long: "`replay` feeds each signal log through its own page registry and " +
		"writes one trace per completed page. Logs are replayed in parallel.",
	Args: cobra.MinimumNArgs(1),
	RunE: runReplay,
}

func init() {
	rootCmd.AddCommand(replayCmd)
	replayCmd.Flags().String("out", "", "Directory the traces are written to.")
	replayCmd.Flags().String("format", "", "Trace format: jsonl, msgpack or sqlite.")
	replayCmd.Flags().Bool("strict", false, "Panic on begin/end misuse.")
	replayCmd.Flags().Int("monitor", 0, "Serve the monitor on this port.")
	replayCmd.Flags().Int("jobs", 0, "Logs replayed at once. Defaults to GOMAXPROCS.")
}

type replayOutcome struct {
	path   string
	result replay.Result
}

func runReplay(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger := cfg.Logger()
	defer func() { _ = logger.Sync() }()

	collector := monitoring.NewCollector()

	var mon *monitoring.Monitor
	if cfg.MonitorPort != 0 {
		mon = monitoring.NewMonitor(collector).WithPortNumber(cfg.MonitorPort)
		mon.StartServer()
	}

	jobs, _ := cmd.Flags().GetInt("jobs")

	outcomes, err := replayAll(cmd, cfg, logger, collector, mon, args, jobs)

	printReplaySummary(cmd.OutOrStdout(), outcomes, collector.Totals())

	return err
}

func replayAll(
	cmd *cobra.Command,
	cfg *config.Config,
	logger *zap.Logger,
	collector *monitoring.Collector,
	mon *monitoring.Monitor,
	paths []string,
	jobs int,
) ([]replayOutcome, error) {
	factory, err := cfg.WriterFactory()
	if err != nil {
		return nil, err
	}

	if jobs <= 0 {
		jobs = runtime.GOMAXPROCS(0)
	}

	outcomes := make([]replayOutcome, len(paths))

	g, gctx := errgroup.WithContext(cmd.Context())
	g.SetLimit(min(jobs, len(paths)))

	for i, path := range paths {
		g.Go(func() error {
			clock := timing.NewManualClock(0)
			fileLogger := logger.With(zap.String("log", path))

			b := page.MakeBuilder().
				WithLogger(fileLogger).
				WithClock(clock).
				WithWriterFactory(factory).
				WithHook(collector)
			if cfg.Strict {
				b = b.WithStrictStack()
			}

			registry := b.Build()
			defer registry.Close()

			r := replay.NewReplayer(registry, clock, fileLogger)

			if mon != nil {
				bar := mon.CreateProgressBar(path, 0)
				defer mon.CompleteProgressBar(bar)

				r.WithProgress(func() { bar.IncrementFinished(1) })
			}

			res, err := r.RunFile(gctx, path)
			outcomes[i] = replayOutcome{path: path, result: res}

			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}

			return nil
		})
	}

	return outcomes, g.Wait()
}

func printReplaySummary(w io.Writer, outcomes []replayOutcome, totals monitoring.Totals) {
	bold := color.New(color.Bold, color.FgCyan)
	gray := color.New(color.FgHiBlack)
	yellow := color.New(color.FgYellow)

	for _, o := range outcomes {
		if o.path == "" {
			continue
		}

		bold.Fprintf(w, "%s\n", o.path)
		gray.Fprintf(w, "  signals %d", o.result.Signals)

		if o.result.Skipped > 0 {
			yellow.Fprintf(w, ", skipped %d", o.result.Skipped)
		}

		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "pages %d, completed %s, discarded %s, nodes %d\n",
		totals.PagesSeen,
		color.GreenString("%d", totals.Completed),
		color.RedString("%d", totals.Discarded),
		totals.Nodes)

	for _, kind := range sortedKeys(totals.Anomalies) {
		yellow.Fprintf(w, "  %s: %d\n", kind, totals.Anomalies[kind])
	}
}
