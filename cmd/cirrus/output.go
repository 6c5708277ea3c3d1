package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/yairfalse/cirrus/cost"
	"github.com/yairfalse/cirrus/executor"
	"github.com/yairfalse/cirrus/internal/plugin"
	"github.com/yairfalse/cirrus/pkg/resource"
)

const (
	outputTable = "table"
	outputJSON  = "json"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

// printSnapshot lists resources grouped by family, then failed families.
func printSnapshot(w io.Writer, snap plugin.Snapshot) {
	tw := newTable(w)
	_, _ = fmt.Fprintln(tw, "KEY\tNAME\tSTATUS\tNATIVE")
	for _, r := range snap.All() {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			r.Key(), truncate(r.DisplayName(), 40), r.Status, r.NativeStatus)
	}
	_ = tw.Flush()

	_, _ = fmt.Fprintf(w, "\n%d resources discovered in %s\n", snap.Count(), snap.Duration.Round(time.Millisecond))
	if len(snap.Failed) == 0 {
		return
	}

	families := make([]string, 0, len(snap.Failed))
	for f := range snap.Failed {
		families = append(families, string(f))
	}
	sort.Strings(families)
	_, _ = fmt.Fprintln(w, "Unavailable families:")
	for _, f := range families {
		_, _ = fmt.Fprintf(w, "   • %s: %s\n", f, snap.Failed[resource.Family(f)])
	}
}

func printCommand(w io.Writer, cmd *resource.Command) {
	tw := newTable(w)
	_, _ = fmt.Fprintf(tw, "  ID:\t%s\n", cmd.ID)
	if cmd.ParentID != "" {
		_, _ = fmt.Fprintf(tw, "  Parent:\t%s\n", cmd.ParentID)
	}
	_, _ = fmt.Fprintf(tw, "  Target:\t%s\n", cmd.Target)
	_, _ = fmt.Fprintf(tw, "  Action:\t%s\n", cmd.Action.Kind)
	_, _ = fmt.Fprintf(tw, "  State:\t%s\n", cmd.State)
	_, _ = fmt.Fprintf(tw, "  Issued:\t%s\n", cmd.IssuedAt.UTC().Format(time.RFC3339))
	if cmd.CompletedAt != nil {
		_, _ = fmt.Fprintf(tw, "  Completed:\t%s\n", cmd.CompletedAt.UTC().Format(time.RFC3339))
	}
	if msg, ok := cmd.Result["message"]; ok {
		_, _ = fmt.Fprintf(tw, "  Result:\t%v\n", msg)
	}
	if cmd.Error != "" {
		_, _ = fmt.Fprintf(tw, "  Error:\t%s\n", cmd.Error)
	}
	_ = tw.Flush()
}

func printHistory(w io.Writer, cmds []resource.Command) {
	if len(cmds) == 0 {
		_, _ = fmt.Fprintln(w, "No commands recorded.")
		return
	}
	tw := newTable(w)
	_, _ = fmt.Fprintln(tw, "ID\tISSUED\tACTION\tTARGET\tSTATE\tERROR")
	for _, c := range cmds {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			shortID(c.ID), c.IssuedAt.UTC().Format(time.RFC3339), c.Action.Kind, c.Target, c.State, truncate(c.Error, 40))
	}
	_ = tw.Flush()
}

func printBatch(w io.Writer, result executor.BatchResult) {
	_, _ = fmt.Fprintf(w, "Batch Summary:\n   Successful: %d\n   Failed: %d\n", len(result.Successful), len(result.Failed))
	if len(result.Failed) == 0 {
		return
	}
	_, _ = fmt.Fprintln(w, "\nFailures:")
	tw := newTable(w)
	for _, f := range result.Failed {
		_, _ = fmt.Fprintf(tw, "   %s\t%s\n", f.Target, f.Error)
	}
	_ = tw.Flush()
}

func printHealth(w io.Writer, report resource.HealthReport) {
	_, _ = fmt.Fprintf(w, "System Health: %s\n", strings.ToUpper(string(report.Overall)))
	_, _ = fmt.Fprintf(w, "   Good: %d/%d\n", report.Good, report.Total)

	if len(report.Alerts) > 0 {
		_, _ = fmt.Fprintln(w, "\nAlerts:")
		for _, a := range report.Alerts {
			_, _ = fmt.Fprintf(w, "   • %s\n", a)
		}
	}
	if len(report.Recommendations) > 0 {
		_, _ = fmt.Fprintln(w, "\nRecommendations:")
		for _, r := range report.Recommendations {
			_, _ = fmt.Fprintf(w, "   • %s\n", r)
		}
	}
}

func printCost(w io.Writer, a cost.Analysis) {
	_, _ = fmt.Fprintf(w, "Cost Summary:\n   Daily: $%.2f\n   Monthly: $%.2f\n\n", a.DailyTotal, a.MonthlyTotal)

	tw := newTable(w)
	_, _ = fmt.Fprintln(tw, "RESOURCE\tFAMILY\tDAILY\tMONTHLY")
	for _, rc := range a.PerResource {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t$%.2f\t$%.2f\n", truncate(rc.Name, 40), rc.Family, rc.DailyUSD, rc.MonthlyUSD)
	}
	_ = tw.Flush()
}

func printMetrics(w io.Writer, r resource.Resource, m resource.MetricsSnapshot) {
	tw := newTable(w)
	_, _ = fmt.Fprintf(tw, "  Resource:\t%s\n", r.Key())
	_, _ = fmt.Fprintf(tw, "  Status:\t%s\n", r.Status)
	_, _ = fmt.Fprintf(tw, "  Source:\t%s\n", m.Source)
	_, _ = fmt.Fprintf(tw, "  CPU:\t%.1f%%\n", m.CPUPercent)
	_, _ = fmt.Fprintf(tw, "  Memory:\t%.1f%%\n", m.MemoryPercent)
	_, _ = fmt.Fprintf(tw, "  Connections:\t%.0f\n", m.ConnectionCount)
	_, _ = fmt.Fprintf(tw, "  Requests/s:\t%.1f\n", m.RequestRate)
	_, _ = fmt.Fprintf(tw, "  Storage:\t%.0f GB\n", m.StorageGB)
	_, _ = fmt.Fprintf(tw, "  Daily cost:\t$%.2f\n", m.EstimatedDailyCostUSD)
	_ = tw.Flush()
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
