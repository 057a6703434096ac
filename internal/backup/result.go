package backup

import (
	"time"

	errs "github.com/jbweber/vmkeep/internal/errors"
	"github.com/jbweber/vmkeep/internal/status"
)

// Job names a unit of work within a run.
type Job string

const (
	// JobConfigArchive archives the libvirt configuration directory.
	JobConfigArchive Job = "config_archive"
	// JobSnapshot reflink-clones disk images next to the originals.
	JobSnapshot Job = "snapshot"
	// JobBackup copies disk images to the backup destination.
	JobBackup Job = "backup"
	// JobLogs applies retention to the run log directory.
	JobLogs Job = "logs"
)

// Status is how a job or a run ended.
type Status string

const (
	// StatusOK means every step succeeded or was skipped.
	StatusOK Status = "ok"
	// StatusWarnings means the work finished with per-target warnings.
	StatusWarnings Status = "completed_with_warnings"
	// StatusFailed means a fatal error stopped the work.
	StatusFailed Status = "failed"
)

// Outcome is the result of one step against one target.
type Outcome struct {
	Target   string // VM name, disk path, or directory
	Stage    string // e.g. "clone", "compress", "rotate"
	Artifact string // file produced, if any
	Skipped  bool   // target deliberately not processed
	Err      error
}

// Warning reports whether the outcome is a recorded, non-fatal problem.
func (o Outcome) Warning() bool {
	return errs.IsWarning(o.Err)
}

// JobResult collects everything a job did.
type JobResult struct {
	Job       Job
	Status    Status
	Started   time.Time
	Finished  time.Time
	Targets   []string // VMs the job ran against
	Outcomes  []Outcome
	Artifacts []string // files created
	Deleted   []string // files removed by retention
	Planned   []string // files retention would remove, in dry-run mode
	Err       error    // fatal error that stopped the job
}

// Warnings returns the warning outcomes.
func (r *JobResult) Warnings() []Outcome {
	var out []Outcome
	for _, o := range r.Outcomes {
		if o.Warning() {
			out = append(out, o)
		}
	}
	return out
}

func (r *JobResult) finish(now time.Time) {
	r.Finished = now
	switch {
	case r.Err != nil:
		r.Status = StatusFailed
	case len(r.Warnings()) > 0:
		r.Status = StatusWarnings
	default:
		r.Status = StatusOK
	}
}

// RunReport is the result of a whole run.
type RunReport struct {
	RunID    string
	Started  time.Time
	Finished time.Time
	DryRun   bool
	LogFile  string
	Status   Status
	Run      *status.Run
	Jobs     []JobResult
	Err      error // fatal error that stopped the run during setup
}

// Job returns the result for job, or nil if it did not run.
func (r *RunReport) Job(job Job) *JobResult {
	for i := range r.Jobs {
		if r.Jobs[i].Job == job {
			return &r.Jobs[i]
		}
	}
	return nil
}

// Summary is the one-line verdict for the run.
func (r *RunReport) Summary() string {
	switch r.Status {
	case StatusOK:
		return "completed"
	case StatusWarnings:
		return "completed with warnings"
	default:
		return "failed"
	}
}

func (r *RunReport) finish(now time.Time) {
	r.Finished = now
	r.Status = StatusOK
	if r.Err != nil {
		r.Status = StatusFailed
		return
	}
	for _, j := range r.Jobs {
		switch j.Status {
		case StatusFailed:
			r.Status = StatusFailed
			return
		case StatusWarnings:
			r.Status = StatusWarnings
		}
	}
}
