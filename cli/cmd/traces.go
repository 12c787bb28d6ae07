package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/instantcocoa/naxos/cli/internal/api"
	"github.com/instantcocoa/naxos/cli/internal/output"
	"github.com/instantcocoa/naxos/services/observability"
)

var tracesCmd = &cobra.Command{
	Use:   "traces",
	Short: "Trace operations",
	Long:  "Commands for querying traces, spans, and scores.",
}

var tracesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List traces",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := api.NewClient(cfg.ServerURL)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		arg, err := listArgs(cmd)
		if err != nil {
			return err
		}

		resp, err := client.ListTraces(ctx, arg)
		if err != nil {
			return fmt.Errorf("failed to list traces: %w", err)
		}

		if cfg.Format == "json" || cfg.Format == "yaml" {
			w := output.NewWriter(cfg.Format)
			return w.Print(resp)
		}

		table := output.NewTable("TRACE ID", "NAME", "TYPE", "STATUS", "STARTED", "DURATION")
		for _, s := range resp.Spans {
			traceID := s.TraceID
			if len(traceID) > 16 {
				traceID = traceID[:16]
			}
			duration := ""
			if s.EndedAt != nil {
				duration = fmt.Sprintf("%dms", s.EndedAt.Sub(s.StartedAt).Milliseconds())
			}
			table.AddRow(
				traceID,
				s.Name,
				string(s.SpanType),
				string(s.Status),
				s.StartedAt.Format("15:04:05"),
				duration,
			)
		}

		w := output.NewWriter("table")
		if err := w.Print(table); err != nil {
			return err
		}
		output.Info("page %d, %d of %d traces", resp.Pagination.Page, len(resp.Spans), resp.Pagination.Total)
		return nil
	},
}

// listArgs translates the list command's flags into a query argument.
func listArgs(cmd *cobra.Command) (observability.TracesPaginatedArg, error) {
	var arg observability.TracesPaginatedArg
	filters := &observability.TraceFilters{}
	hasFilters := false

	strFilter := func(flag string, dest **string) {
		if v, _ := cmd.Flags().GetString(flag); v != "" {
			*dest = &v
			hasFilters = true
		}
	}

	strFilter("name", &filters.Name)
	strFilter("entity-id", &filters.EntityID)
	strFilter("entity-name", &filters.EntityName)
	strFilter("user-id", &filters.UserID)
	strFilter("run-id", &filters.RunID)
	strFilter("session-id", &filters.SessionID)
	strFilter("environment", &filters.Environment)

	if v, _ := cmd.Flags().GetString("span-type"); v != "" {
		st := observability.SpanType(v)
		if !st.Valid() {
			return arg, fmt.Errorf("invalid span type: %s", v)
		}
		filters.SpanType = &st
		hasFilters = true
	}
	if v, _ := cmd.Flags().GetString("entity-type"); v != "" {
		et := observability.EntityType(v)
		filters.EntityType = &et
		hasFilters = true
	}
	if v, _ := cmd.Flags().GetString("status"); v != "" {
		st := observability.SpanStatus(v)
		filters.Status = &st
		hasFilters = true
	}
	if tags, _ := cmd.Flags().GetStringSlice("tag"); len(tags) > 0 {
		filters.Tags = tags
		hasFilters = true
	}
	if hasFilters {
		arg.Filters = filters
	}

	page, _ := cmd.Flags().GetInt("page")
	perPage, _ := cmd.Flags().GetInt("per-page")
	pagination := &observability.PaginationArgs{Page: page, PerPage: perPage}

	dateRange := &observability.DateRange{}
	hasRange := false
	if v, _ := cmd.Flags().GetString("started-after"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return arg, fmt.Errorf("invalid --started-after: %w", err)
		}
		dateRange.Start = &t
		hasRange = true
	}
	if v, _ := cmd.Flags().GetString("started-before"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return arg, fmt.Errorf("invalid --started-before: %w", err)
		}
		dateRange.End = &t
		hasRange = true
	}
	if hasRange {
		pagination.DateRange = dateRange
	}
	arg.Pagination = pagination

	return arg, nil
}

var tracesGetCmd = &cobra.Command{
	Use:   "get <trace-id>",
	Short: "Get a specific trace",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := api.NewClient(cfg.ServerURL)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		resp, err := client.GetTrace(ctx, args[0])
		if err != nil {
			return fmt.Errorf("failed to get trace: %w", err)
		}

		if cfg.Format == "json" || cfg.Format == "yaml" {
			w := output.NewWriter(cfg.Format)
			return w.Print(resp)
		}

		output.Info("Trace ID: %s", resp.TraceID)
		output.Info("Spans (%d):", len(resp.Spans))
		for _, s := range resp.Spans {
			duration := ""
			if s.EndedAt != nil {
				duration = fmt.Sprintf("%dms", s.EndedAt.Sub(s.StartedAt).Milliseconds())
			}
			spanID := s.SpanID
			if len(spanID) > 8 {
				spanID = spanID[:8]
			}
			output.Info("  [%s] %s (%s) %s - %s", spanID, s.Name, s.SpanType, duration, s.Status)
		}
		return nil
	},
}

var tracesScoresCmd = &cobra.Command{
	Use:   "scores <trace-id> <span-id>",
	Short: "List scores for a span",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := api.NewClient(cfg.ServerURL)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		page, _ := cmd.Flags().GetInt("page")
		perPage, _ := cmd.Flags().GetInt("per-page")

		resp, err := client.ListScores(ctx, args[0], args[1], page, perPage)
		if err != nil {
			return fmt.Errorf("failed to list scores: %w", err)
		}

		if cfg.Format == "json" || cfg.Format == "yaml" {
			w := output.NewWriter(cfg.Format)
			return w.Print(resp)
		}

		table := output.NewTable("SCORER", "SCORE", "REASON", "TIME")
		for _, s := range resp.Scores {
			table.AddRow(
				s.ScorerName,
				fmt.Sprintf("%.4f", s.Value),
				s.Reason,
				s.CreatedAt.Format("15:04:05"),
			)
		}

		w := output.NewWriter("table")
		return w.Print(table)
	},
}

var tracesScoreCmd = &cobra.Command{
	Use:   "score <scorer> <trace-id>...",
	Short: "Trigger a scoring run",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := api.NewClient(cfg.ServerURL)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		targets := make([]observability.ScoreTarget, 0, len(args)-1)
		for _, traceID := range args[1:] {
			targets = append(targets, observability.ScoreTarget{TraceID: traceID})
		}

		resp, err := client.ScoreTraces(ctx, args[0], targets)
		if err != nil {
			return fmt.Errorf("failed to trigger scoring: %w", err)
		}

		output.Success("%s: %d traces queued for scoring", resp.Status, resp.TraceCount)
		return nil
	},
}

var tracesDeleteCmd = &cobra.Command{
	Use:   "delete <trace-id>...",
	Short: "Delete traces",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := api.NewClient(cfg.ServerURL)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := client.DeleteTraces(ctx, args); err != nil {
			return fmt.Errorf("failed to delete traces: %w", err)
		}

		output.Success("deleted %d traces", len(args))
		return nil
	},
}

func init() {
	tracesListCmd.Flags().String("name", "", "Filter by span name")
	tracesListCmd.Flags().String("span-type", "", "Filter by span type (AGENT_RUN, WORKFLOW_RUN, ...)")
	tracesListCmd.Flags().String("entity-type", "", "Filter by entity type (agent, workflow, tool)")
	tracesListCmd.Flags().String("entity-id", "", "Filter by entity ID")
	tracesListCmd.Flags().String("entity-name", "", "Filter by entity name")
	tracesListCmd.Flags().String("user-id", "", "Filter by user ID")
	tracesListCmd.Flags().String("run-id", "", "Filter by run ID")
	tracesListCmd.Flags().String("session-id", "", "Filter by session ID")
	tracesListCmd.Flags().String("environment", "", "Filter by environment")
	tracesListCmd.Flags().String("status", "", "Filter by status (running, success, error)")
	tracesListCmd.Flags().StringSlice("tag", nil, "Filter by tag (repeatable, matches any)")
	tracesListCmd.Flags().String("started-after", "", "Only traces started at or after this RFC 3339 time")
	tracesListCmd.Flags().String("started-before", "", "Only traces started at or before this RFC 3339 time")
	tracesListCmd.Flags().Int("page", 0, "Page number (0-based)")
	tracesListCmd.Flags().Int("per-page", 0, "Traces per page")

	tracesScoresCmd.Flags().Int("page", 0, "Page number (0-based)")
	tracesScoresCmd.Flags().Int("per-page", 0, "Scores per page")

	tracesCmd.AddCommand(tracesListCmd)
	tracesCmd.AddCommand(tracesGetCmd)
	tracesCmd.AddCommand(tracesScoresCmd)
	tracesCmd.AddCommand(tracesScoreCmd)
	tracesCmd.AddCommand(tracesDeleteCmd)
}
