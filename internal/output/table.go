package output

import (
	"bytes"
	"fmt"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/jbweber/vmkeep/internal/backup"
)

// TableFormatter formats results as human-readable tables.
type TableFormatter struct {
	// NoHeaders omits the header row.
	NoHeaders bool
}

// FormatReport formats a run report as a job table followed by the
// warnings and a one-line verdict.
func (f *TableFormatter) FormatReport(report *backup.RunReport) (string, error) {
	view := NewReportView(report)

	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)

	if len(view.Jobs) > 0 {
		// Write header unless NoHeaders is set
		if !f.NoHeaders {
			_, _ = fmt.Fprintln(w, "JOB\tSTATUS\tTARGETS\tCREATED\tDELETED\tWARNINGS\tDURATION")
		}
		for _, j := range view.Jobs {
			deleted := strconv.Itoa(len(j.Deleted))
			if view.DryRun {
				deleted = fmt.Sprintf("(%d)", len(j.Planned))
			}
			_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\t%d\t%s\n",
				j.Job, j.Status, len(j.Targets), len(j.Artifacts), deleted, len(j.Warnings), formatDuration(j.Duration))
		}
		_ = w.Flush()
	}

	for _, j := range view.Jobs {
		if j.Error != "" {
			fmt.Fprintf(&buf, "\n%s failed: %s\n", j.Job, j.Error)
		}
		for _, warn := range j.Warnings {
			fmt.Fprintf(&buf, "warning: %s %s %s: %s\n", j.Job, warn.Stage, warn.Target, warn.Error)
		}
	}

	if view.FailureReason != "" {
		fmt.Fprintf(&buf, "error: %s\n", view.FailureReason)
	}

	verdict := "Run " + view.Summary
	if view.RunID != "" {
		verdict = fmt.Sprintf("Run %s %s", view.RunID, view.Summary)
	}
	if view.DryRun {
		verdict += " (dry run)"
	}
	fmt.Fprintf(&buf, "%s in %s\n", verdict, formatDuration(view.Finished.Sub(view.Started)))
	if view.LogFile != "" {
		fmt.Fprintf(&buf, "Log: %s\n", view.LogFile)
	}
	return buf.String(), nil
}

// FormatDisks formats a VM's disks as a table in boot order.
func (f *TableFormatter) FormatDisks(disks DiskList) (string, error) {
	if len(disks.Disks) == 0 {
		return fmt.Sprintf("No managed disks found for %s\n", disks.VM), nil
	}

	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	if !f.NoHeaders {
		_, _ = fmt.Fprintln(w, "BOOT\tTARGET\tPATH")
	}
	for _, d := range disks.Disks {
		target := d.Target
		if target == "" {
			target = "-"
		}
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\n", d.BootOrder, target, d.Path)
	}
	_ = w.Flush()
	return buf.String(), nil
}

// FormatRotation formats a rotation result as one line per file.
func (f *TableFormatter) FormatRotation(rotation RotationView) (string, error) {
	if len(rotation.Deleted) == 0 && len(rotation.Warnings) == 0 {
		return fmt.Sprintf("Nothing to remove in %s\n", rotation.Dir), nil
	}

	action := "deleted"
	if rotation.DryRun {
		action = "would delete"
	}

	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	if !f.NoHeaders {
		_, _ = fmt.Fprintln(w, "ACTION\tPATH")
	}
	for _, path := range rotation.Deleted {
		_, _ = fmt.Fprintf(w, "%s\t%s\n", action, path)
	}
	_ = w.Flush()
	for _, warn := range rotation.Warnings {
		fmt.Fprintf(&buf, "warning: %s\n", warn)
	}
	return buf.String(), nil
}

// formatDuration formats a duration as a short human-readable string.
// Examples: "850ms", "5s", "2m10s", "3h4m"
func formatDuration(d time.Duration) string {
	if d < 0 {
		return "unknown"
	}
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}

	seconds := int(d.Seconds())
	// Less than 1 minute
	if seconds < 60 {
		return fmt.Sprintf("%ds", seconds)
	}

	minutes := seconds / 60
	// Less than 1 hour
	if minutes < 60 {
		return fmt.Sprintf("%dm%ds", minutes, seconds%60)
	}

	return fmt.Sprintf("%dh%dm", minutes/60, minutes%60)
}
