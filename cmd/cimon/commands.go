package main

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cognicore/cimon/internal/archive"
	"github.com/cognicore/cimon/pkg/cimon"
	"github.com/cognicore/cimon/pkg/cimon/internalerr"
	"github.com/cognicore/cimon/pkg/cimon/maintenance"
	"github.com/cognicore/cimon/pkg/cimon/metrics"
	"github.com/cognicore/cimon/pkg/cimon/signal"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Collect, store and report one pass",
	Long: `Run one full pass: collect from every configured source, classify,
deduplicate, store new signals and send the digest.

A source that fails does not stop the others. The command exits non-zero
only when there is nothing to collect from or every source failed.`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the database and seed the competitor registry",
	Args:  cobra.NoArgs,
	RunE:  runInit,
}

var testReportCmd = &cobra.Command{
	Use:   "test-report",
	Short: "Send a digest built from sample signals",
	Args:  cobra.NoArgs,
	RunE:  runTestReport,
}

var reclassifyCmd = &cobra.Command{
	Use:   "reclassify",
	Short: "Relabel stored signals with the current rules",
	Args:  cobra.NoArgs,
	RunE:  runReclassify,
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write stored signals as JSON Lines",
	Args:  cobra.NoArgs,
	RunE:  runExport,
}

var importCmd = &cobra.Command{
	Use:   "import <file.jsonl>",
	Short: "Load archived signals into the store",
	Long: `Load signals written by export. Signals whose fingerprint is already
stored are skipped, so an archive can be imported more than once.`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Show the most recent runs",
	Args:  cobra.NoArgs,
	RunE:  runRuns,
}

func init() {
	reclassifyCmd.Flags().Bool("dry-run", false, "report changes without writing them")
	runsCmd.Flags().IntP("limit", "n", 20, "number of runs to show")
	exportCmd.Flags().StringP("out", "o", "-", "output file, - for stdout")
	exportCmd.Flags().String("competitor", "", "only this competitor")
	exportCmd.Flags().Duration("window", 0, "only signals collected within this window (0 for all)")
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	sum, runErr := a.monitor.Run(ctx)

	if path := a.comp.Settings.Metrics.Textfile; path != "" {
		rec := metrics.New()
		rec.Observe(sum)
		if err := rec.WriteTextfile(path); err != nil {
			a.log.Warn("failed to write metrics", zap.String("path", path), zap.Error(err))
		}
	}

	if runErr != nil {
		if errors.Is(runErr, internalerr.ErrNoSources) {
			a.log.Error("no usable sources; check the competitor registry",
				zap.String("registry", a.comp.Settings.Registry.Competitors))
		}
		return runErr
	}
	if sum.State == cimon.StateFailed {
		return fmt.Errorf("run %s failed: %d of %d sources failed", sum.RunID, sum.SourcesFailed, sum.Sources)
	}
	return nil
}

func runInit(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.close()

	for _, p := range a.comp.Problems {
		a.log.Warn("skipped registry entry", zap.Error(p))
	}
	if err := a.monitor.InitStorage(cmd.Context(), a.comp.Competitors); err != nil {
		a.log.Error("init failed", zap.Error(err))
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Initialized %s with %d competitors\n",
		a.comp.Settings.Store.Path, len(a.comp.Competitors))
	return nil
}

func runTestReport(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.monitor.SendTestReport(cmd.Context()); err != nil {
		a.log.Error("test report failed", zap.Error(err))
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Test report sent")
	return nil
}

func runReclassify(cmd *cobra.Command, args []string) error {
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.close()

	r := &maintenance.Reclassifier{
		Store:      a.monitor.Store(),
		Classifier: a.comp.Pipeline.Classifier(),
		DryRun:     dryRun,
	}
	res, err := r.Reclassify(cmd.Context())
	if err != nil {
		a.log.Error("reclassify failed", zap.Error(err))
		return err
	}

	out := cmd.OutOrStdout()
	for _, c := range res.Changes {
		fmt.Fprintf(out, "%s -> %s  %s\n", c.From, c.To, c.Title)
	}
	verb := "Updated"
	if dryRun {
		verb = "Would update"
	}
	fmt.Fprintf(out, "%s %d of %d signals (%d errors)\n", verb, len(res.Changes), res.Processed, res.Errors)
	if res.Errors > 0 {
		return fmt.Errorf("%d signals could not be updated", res.Errors)
	}
	return nil
}

func runRuns(cmd *cobra.Command, args []string) error {
	limit, _ := cmd.Flags().GetInt("limit")

	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.close()

	runs, err := a.monitor.Store().Runs(cmd.Context(), limit)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tSTARTED\tDURATION\tCOLLECTED\tPERSISTED\tDUPLICATES\tFAILURES")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%d\n",
			r.ID, r.StartedAt.Local().Format(time.DateTime), r.Duration().Round(time.Millisecond),
			r.Collected, r.Persisted, r.Duplicates, r.Failures)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(os.Stderr, "No runs recorded yet")
	}
	return nil
}

func runExport(cmd *cobra.Command, args []string) error {
	out, _ := cmd.Flags().GetString("out")
	competitor, _ := cmd.Flags().GetString("competitor")
	window, _ := cmd.Flags().GetDuration("window")

	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.close()

	ctx := cmd.Context()
	var signals []signal.Signal
	if window > 0 {
		signals, err = a.monitor.Store().Recent(ctx, competitor, time.Now().Add(-window))
	} else {
		signals, err = a.monitor.Store().Signals(ctx)
		if err == nil && competitor != "" {
			signals = filterCompetitor(signals, competitor)
		}
	}
	if err != nil {
		return err
	}

	if out == "-" {
		err = archive.Write(cmd.OutOrStdout(), signals)
	} else {
		err = archive.WriteFile(out, signals)
	}
	if err != nil {
		return err
	}
	a.log.Info("signals exported", zap.Int("signals", len(signals)), zap.String("out", out))
	return nil
}

func filterCompetitor(signals []signal.Signal, competitor string) []signal.Signal {
	var out []signal.Signal
	for _, s := range signals {
		if s.Competitor == competitor {
			out = append(out, s)
		}
	}
	return out
}

func runImport(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.close()

	signals, err := archive.LoadFromJSONL(args[0], a.log)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	var inserted, skipped int
	for _, s := range signals {
		ok, err := a.monitor.Store().Record(ctx, s)
		if err != nil {
			return fmt.Errorf("import %q: %w", s.Title, err)
		}
		if ok {
			inserted++
		} else {
			skipped++
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Imported %d signals, %d already stored\n", inserted, skipped)
	return nil
}
