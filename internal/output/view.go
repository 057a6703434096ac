package output

import (
	"time"

	"github.com/jbweber/vmkeep/internal/backup"
	"github.com/jbweber/vmkeep/internal/disk"
	"github.com/jbweber/vmkeep/internal/status"
)

// ReportView is the serializable form of a run report.
type ReportView struct {
	RunID         string             `json:"run_id,omitempty" yaml:"run_id,omitempty"`
	Status        string             `json:"status" yaml:"status"`
	Summary       string             `json:"summary" yaml:"summary"`
	DryRun        bool               `json:"dry_run" yaml:"dry_run"`
	Phase         string             `json:"phase" yaml:"phase"`
	Started       time.Time          `json:"started" yaml:"started"`
	Finished      time.Time          `json:"finished" yaml:"finished"`
	LogFile       string             `json:"log_file,omitempty" yaml:"log_file,omitempty"`
	FailureReason string             `json:"failure_reason,omitempty" yaml:"failure_reason,omitempty"`
	Jobs          []JobView          `json:"jobs" yaml:"jobs"`
	Conditions    []status.Condition `json:"conditions,omitempty" yaml:"conditions,omitempty"`
}

// JobView is the serializable form of a job result.
type JobView struct {
	Job       string        `json:"job" yaml:"job"`
	Status    string        `json:"status" yaml:"status"`
	Targets   []string      `json:"targets,omitempty" yaml:"targets,omitempty"`
	Artifacts []string      `json:"artifacts,omitempty" yaml:"artifacts,omitempty"`
	Deleted   []string      `json:"deleted,omitempty" yaml:"deleted,omitempty"`
	Planned   []string      `json:"planned_deletions,omitempty" yaml:"planned_deletions,omitempty"`
	Skipped   []string      `json:"skipped,omitempty" yaml:"skipped,omitempty"`
	Warnings  []WarningView `json:"warnings,omitempty" yaml:"warnings,omitempty"`
	Error     string        `json:"error,omitempty" yaml:"error,omitempty"`
	Duration  time.Duration `json:"duration_ns" yaml:"duration_ns"`
}

// WarningView is a recorded per-target problem.
type WarningView struct {
	Target string `json:"target" yaml:"target"`
	Stage  string `json:"stage" yaml:"stage"`
	Error  string `json:"error" yaml:"error"`
}

// DiskList is the set of managed disks discovered for a VM.
type DiskList struct {
	VM    string            `json:"vm" yaml:"vm"`
	Disks []disk.Descriptor `json:"disks" yaml:"disks"`
}

// RotationView is the result of a standalone rotation.
type RotationView struct {
	Dir      string   `json:"dir" yaml:"dir"`
	Pattern  string   `json:"pattern" yaml:"pattern"`
	DryRun   bool     `json:"dry_run" yaml:"dry_run"`
	Deleted  []string `json:"deleted" yaml:"deleted"`
	Warnings []string `json:"warnings,omitempty" yaml:"warnings,omitempty"`
}

// NewReportView converts a run report to its serializable form.
func NewReportView(r *backup.RunReport) ReportView {
	v := ReportView{
		RunID:    r.RunID,
		Status:   string(r.Status),
		Summary:  r.Summary(),
		DryRun:   r.DryRun,
		Started:  r.Started,
		Finished: r.Finished,
		LogFile:  r.LogFile,
		Jobs:     make([]JobView, 0, len(r.Jobs)),
	}
	if r.Run != nil {
		v.Phase = string(r.Run.Phase)
		v.FailureReason = r.Run.FailureReason
		v.Conditions = r.Run.Conditions
	}
	for i := range r.Jobs {
		v.Jobs = append(v.Jobs, newJobView(&r.Jobs[i]))
	}
	return v
}

func newJobView(j *backup.JobResult) JobView {
	v := JobView{
		Job:       string(j.Job),
		Status:    string(j.Status),
		Targets:   j.Targets,
		Artifacts: j.Artifacts,
		Deleted:   j.Deleted,
		Planned:   j.Planned,
		Duration:  j.Finished.Sub(j.Started),
	}
	if j.Err != nil {
		v.Error = j.Err.Error()
	}
	for _, o := range j.Outcomes {
		switch {
		case o.Skipped:
			v.Skipped = append(v.Skipped, o.Target)
		case o.Warning():
			v.Warnings = append(v.Warnings, WarningView{Target: o.Target, Stage: o.Stage, Error: o.Err.Error()})
		}
	}
	return v
}
