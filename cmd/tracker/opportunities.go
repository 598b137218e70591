package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/david/bid-tracker/internal/db"
	"github.com/david/bid-tracker/internal/ingest"
	"github.com/david/bid-tracker/internal/models"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List opportunities",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		presence, _ := cmd.Flags().GetString("presence")
		decision, _ := cmd.Flags().GetString("decision")
		org, _ := cmd.Flags().GetString("org")
		limit, _ := cmd.Flags().GetInt("limit")

		filter := db.QueryFilter{Organization: org, Limit: limit}
		if presence != "" {
			filter.Presence = models.Presence(presence)
			if !filter.Presence.Valid() {
				return eris.Errorf("list: invalid presence %q", presence)
			}
		}
		if decision != "" {
			filter.Decision = models.Decision(decision)
			if d, ok := models.ParseDecision(decision); ok {
				filter.Decision = d
			}
			if !filter.Decision.Valid() {
				return eris.Errorf("list: invalid decision %q", decision)
			}
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		opps, err := st.Query(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "list")
		}
		if len(opps) == 0 {
			fmt.Fprintln(os.Stderr, "No opportunities found.")
			return nil
		}
		formatOpportunities(os.Stdout, opps)
		return nil
	},
}

var showCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one opportunity with its decision log and revisions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		opp, err := st.Get(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "show")
		}
		decisions, err := st.DecisionLog(ctx, opp.ID)
		if err != nil {
			return eris.Wrap(err, "show: decision log")
		}
		revisions, err := st.Revisions(ctx, opp.ID)
		if err != nil {
			return eris.Wrap(err, "show: revisions")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]interface{}{
			"opportunity": opp,
			"decisions":   decisions,
			"revisions":   revisions,
		})
	},
}

var decideCmd = &cobra.Command{
	Use:   "decide <id> <ignore|pursuing|completed|declined>",
	Short: "Record a triage decision",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		notes, _ := cmd.Flags().GetString("notes")

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.ApplyUserDecision(ctx, args[0], args[1], notes); err != nil {
			return eris.Wrap(err, "decide")
		}
		opp, err := st.Get(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "decide")
		}
		fmt.Fprintf(os.Stdout, "%s is now %s\n", opp.ID, opp.Decision)
		return nil
	},
}

var editCmd = &cobra.Command{
	Use:   "edit <id>",
	Short: "Correct an opportunity's title or due date",
	Long:  "Edited fields are protected: later ingestion runs report disagreements instead of overwriting them.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		var edit models.ManualEdit
		if cmd.Flags().Changed("title") {
			title, _ := cmd.Flags().GetString("title")
			edit.Title = &title
		}
		if cmd.Flags().Changed("due") {
			due, _ := cmd.Flags().GetString("due")
			edit.DueDate = &due
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		opp, err := st.ApplyManualEdit(ctx, args[0], edit)
		if err != nil {
			return eris.Wrap(err, "edit")
		}
		formatOpportunities(os.Stdout, []models.Opportunity{*opp})
		return nil
	},
}

var addCmd = &cobra.Command{
	Use:   "add",
	Short: "Enter an opportunity by hand",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		c := models.Candidate{Provenance: models.ProvenanceManual}
		c.Organization, _ = cmd.Flags().GetString("org")
		c.OpportunityNumber, _ = cmd.Flags().GetString("number")
		c.Title, _ = cmd.Flags().GetString("title")
		c.DueDate, _ = cmd.Flags().GetString("due")
		c.Link, _ = cmd.Flags().GetString("link")
		c.Info, _ = cmd.Flags().GetString("info")

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		res, err := ingest.NewReconciler(st).Reconcile(ctx, c)
		if err != nil {
			return eris.Wrap(err, "add")
		}
		describeMerge(os.Stdout, res)
		return nil
	},
}

var parseCmd = &cobra.Command{
	Use:   "parse [file]",
	Short: "Extract opportunities from text copied out of a portal",
	Long:  "Reads the file, or stdin when none is given, and prints the listings found. With --save they are reconciled like any other source.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		org, _ := cmd.Flags().GetString("org")
		save, _ := cmd.Flags().GetBool("save")

		var in io.Reader = os.Stdin
		if len(args) == 1 {
			f, err := os.Open(args[0])
			if err != nil {
				return eris.Wrap(err, "parse: open input")
			}
			defer f.Close() //nolint:errcheck
			in = f
		}
		text, err := io.ReadAll(in)
		if err != nil {
			return eris.Wrap(err, "parse: read input")
		}

		candidates := ingest.ParsePastedText(org, string(text))
		if len(candidates) == 0 {
			fmt.Fprintln(os.Stderr, "No listings found.")
			return nil
		}
		formatCandidates(os.Stdout, candidates)
		if !save {
			return nil
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		out, err := ingest.NewReconciler(st).ReconcileSource(ctx, "pasted", candidates)
		if err != nil {
			return eris.Wrap(err, "parse: save")
		}
		fmt.Fprintf(os.Stdout, "Saved %d: %d created, %d updated, %d conflicts, %d rejected, %d duplicates\n",
			out.Count, out.Created, out.Updated, out.Conflicts, out.Rejected, out.Duplicates)
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Count opportunities by decision and presence",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		stats, err := st.Stats(ctx)
		if err != nil {
			return eris.Wrap(err, "stats")
		}
		formatStats(os.Stdout, stats)
		return nil
	},
}

func describeMerge(w io.Writer, res models.MergeResult) {
	switch {
	case res.Created:
		fmt.Fprintf(w, "Created %s\n", res.ID)
	case res.Updated:
		fmt.Fprintf(w, "Updated %s\n", res.ID)
	default:
		fmt.Fprintf(w, "No change to %s\n", res.ID)
	}
	var conflicts []string
	if res.TitleConflict {
		conflicts = append(conflicts, "title")
	}
	if res.DueDateConflict {
		conflicts = append(conflicts, "due date")
	}
	if len(conflicts) > 0 {
		fmt.Fprintf(w, "Kept manual %s; the new value was not applied\n", strings.Join(conflicts, " and "))
	}
}

func init() {
	listCmd.Flags().String("presence", "", "active or disappeared")
	listCmd.Flags().String("decision", "", "new, ignored, pursuing, completed or declined")
	listCmd.Flags().String("org", "", "exact organization name")
	listCmd.Flags().Int("limit", 100, "maximum rows")

	decideCmd.Flags().String("notes", "", "free-form notes stored with the decision")

	editCmd.Flags().String("title", "", "corrected title")
	editCmd.Flags().String("due", "", "corrected due date")

	addCmd.Flags().String("org", "", "organization (required)")
	addCmd.Flags().String("number", "", "solicitation number (required)")
	addCmd.Flags().String("title", "", "title")
	addCmd.Flags().String("due", "", "due date as shown by the portal")
	addCmd.Flags().String("link", "", "listing URL")
	addCmd.Flags().String("info", "", "extra information")
	_ = addCmd.MarkFlagRequired("org")
	_ = addCmd.MarkFlagRequired("number")

	parseCmd.Flags().String("org", ingest.UnknownOrganization, "organization the text was copied from")
	parseCmd.Flags().Bool("save", false, "reconcile the parsed listings into the store")

	rootCmd.AddCommand(listCmd, showCmd, decideCmd, editCmd, addCmd, parseCmd, statsCmd)
}
