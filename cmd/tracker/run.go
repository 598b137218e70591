package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/david/bid-tracker/internal/checkpoint"
	"github.com/david/bid-tracker/internal/health"
	"github.com/david/bid-tracker/internal/ingest"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run ingestion across every enabled source",
	Long: "Visits every enabled source in registry order, reconciles what it finds, marks absent " +
		"opportunities disappeared and prints the run health report. An interrupted run is " +
		"resumed with --resume and discarded otherwise.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		resume, _ := cmd.Flags().GetBool("resume")
		fresh, _ := cmd.Flags().GetBool("fresh")
		if resume && fresh {
			return eris.New("run: --resume and --fresh are mutually exclusive")
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		runner, err := newRunner(st)
		if err != nil {
			return err
		}

		result, err := runner.Run(ctx, ingest.RunOptions{Resume: resume})
		if err != nil {
			if errors.Is(err, ctx.Err()) {
				fmt.Fprintln(os.Stderr, "Run interrupted. Continue it with: tracker run --resume")
			}
			return eris.Wrap(err, "run")
		}

		if result.Resumed {
			fmt.Fprintf(os.Stderr, "Resumed interrupted run, %d source(s) already done.\n", result.Skipped)
		}
		fmt.Fprint(os.Stdout, result.Report.RenderText())
		fmt.Fprintf(os.Stdout, "Marked disappeared: %d\n", result.Swept)
		return nil
	},
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recent run records",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		limit, _ := cmd.Flags().GetInt("limit")
		recs, err := st.ListRunRecords(ctx, limit)
		if err != nil {
			return eris.Wrap(err, "runs")
		}
		if len(recs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs recorded.")
			return nil
		}

		reports := make([]*health.RunReport, 0, len(recs))
		for _, rec := range recs {
			reports = append(reports, health.NewReport(rec))
		}
		formatRunsList(os.Stdout, reports)
		return nil
	},
}

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Print the health report of the latest run",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		recs, err := st.ListRunRecords(ctx, 1)
		if err != nil {
			return eris.Wrap(err, "report")
		}
		if len(recs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs recorded.")
			return nil
		}

		report := health.NewReport(recs[0])
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			data, err := report.JSON()
			if err != nil {
				return err
			}
			fmt.Fprintln(os.Stdout, string(data))
			return nil
		}
		fmt.Fprint(os.Stdout, report.RenderText())
		return nil
	},
}

var checkpointCmd = &cobra.Command{
	Use:   "checkpoint",
	Short: "Show the run checkpoint and whether a resume is pending",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		tracker, err := checkpoint.New(ctx, st)
		if err != nil {
			return err
		}
		formatCheckpoint(os.Stdout, tracker.Snapshot(), tracker.ResumeInfo())
		return nil
	},
}

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List the configured sources",
	RunE: func(cmd *cobra.Command, _ []string) error {
		reg, err := ingest.LoadRegistry(cfg.Ingest.SourcesFile)
		if err != nil {
			return err
		}
		formatSources(os.Stdout, reg.Sources)
		return nil
	},
}

func init() {
	runCmd.Flags().Bool("resume", false, "continue an interrupted run from its checkpoint")
	runCmd.Flags().Bool("fresh", false, "discard any interrupted run and start over (default)")
	runsCmd.Flags().Int("limit", health.DefaultRetention, "number of runs to list")
	reportCmd.Flags().Bool("json", false, "print the report as JSON")

	rootCmd.AddCommand(runCmd, runsCmd, reportCmd, checkpointCmd, sourcesCmd)
}
