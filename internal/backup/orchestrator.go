package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/rs/zerolog"

	"github.com/jbweber/vmkeep/internal/config"
	errs "github.com/jbweber/vmkeep/internal/errors"
	"github.com/jbweber/vmkeep/internal/libvirt"
	"github.com/jbweber/vmkeep/internal/rotation"
	"github.com/jbweber/vmkeep/internal/status"
	"github.com/jbweber/vmkeep/internal/target"
)

// Deps are the collaborators an Orchestrator runs against.
type Deps struct {
	Inventory    Inventory
	Gate         Gate
	Files        FileOps
	Rotator      Rotator
	Destinations DestinationResolver

	// RequiredTools lists the external programs the host checks need.
	// Nil means none.
	RequiredTools func(ctx context.Context) ([]string, error)

	// LookPath finds a program on PATH. Defaults to exec.LookPath.
	LookPath func(file string) (string, error)

	// Now defaults to time.Now.
	Now func() time.Time
}

// Options describe a single run.
type Options struct {
	RunID   string
	Started time.Time // defaults to Deps.Now()
	LogFile string    // path of the run log, if any
}

// Orchestrator runs the enabled jobs of a configuration.
type Orchestrator struct {
	cfg  *config.Config
	log  zerolog.Logger
	deps Deps
}

// New creates an Orchestrator. Missing Rotator, LookPath and Now are
// filled with the production implementations.
func New(cfg *config.Config, logger zerolog.Logger, deps Deps) *Orchestrator {
	if deps.Rotator == nil {
		deps.Rotator = rotation.New()
	}
	if deps.LookPath == nil {
		deps.LookPath = exec.LookPath
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Orchestrator{cfg: cfg, log: logger, deps: deps}
}

// vmTargets are the resolved VM lists per job.
type vmTargets struct {
	snapshot []string
	backup   []string
}

// Run executes the run. The returned report is always non-nil. The error
// is non-nil when setup failed or any job failed; warnings alone do not
// produce an error.
func (o *Orchestrator) Run(ctx context.Context, opts Options) (*RunReport, error) {
	started := opts.Started
	if started.IsZero() {
		started = o.deps.Now()
	}
	report := &RunReport{
		RunID:   opts.RunID,
		Started: started,
		DryRun:  o.cfg.DryRun,
		LogFile: opts.LogFile,
		Run:     status.NewRun(),
	}

	o.log.Info().
		Bool("dry_run", o.cfg.DryRun).
		Bool("snapshot", o.cfg.Snapshot.Enabled).
		Bool("backup", o.cfg.Backup.Enabled).
		Bool("config_archive", o.cfg.ConfigArchive.Enabled).
		Msg("run started")

	o.advance(report, status.PhaseConfigLoaded)
	o.advance(report, status.PhaseLoggingReady)

	if err := o.validate(); err != nil {
		return o.abort(report, err)
	}
	o.advance(report, status.PhaseValidated)

	if err := o.checkTools(ctx); err != nil {
		return o.abort(report, err)
	}
	o.advance(report, status.PhaseToolsPresent)

	targets, err := o.resolveTargets(ctx)
	if err != nil {
		return o.abort(report, err)
	}
	o.advance(report, status.PhaseTargetsResolved)

	if o.cfg.Snapshot.Enabled || o.cfg.Backup.Enabled {
		if err := o.deps.Gate.CheckMount(ctx, o.cfg.SourceMount); err != nil {
			return o.abort(report, errs.Environment("check_source_mount", o.cfg.SourceMount, err))
		}
	}
	o.advance(report, status.PhaseSourceMountChecked)

	// One timestamp names every artifact of the run.
	ts := started

	if o.cfg.ConfigArchive.Enabled {
		o.record(report, o.runConfigArchive(ctx, ts), status.ConditionConfigArchived)
		o.advance(report, status.PhaseConfigArchived)
	}
	if o.cfg.Snapshot.Enabled {
		o.record(report, o.runSnapshots(ctx, targets.snapshot, ts), status.ConditionSnapshotted)
		o.advance(report, status.PhaseSnapshotted)
	}
	if o.cfg.Backup.Enabled {
		o.record(report, o.runBackups(ctx, targets.backup, ts), status.ConditionBackedUp)
		o.advance(report, status.PhaseBackedUp)
	}
	if o.cfg.Logging.Dir != "" {
		o.record(report, o.rotateLogs(), status.ConditionLogsRotated)
	}

	o.advance(report, status.PhaseDone)
	report.finish(o.deps.Now())

	failed := 0
	for _, j := range report.Jobs {
		if j.Status == StatusFailed {
			failed++
		}
	}

	event := o.log.Info()
	if report.Status != StatusOK {
		event = o.log.Warn()
	}
	event.Str("status", string(report.Status)).
		Dur("duration", report.Finished.Sub(report.Started)).
		Msg("run " + report.Summary())

	if failed > 0 {
		return report, fmt.Errorf("%d of %d jobs failed", failed, len(report.Jobs))
	}
	return report, nil
}

// advance moves the run forward. A refused transition is a bug in the
// call sequence, not a runtime condition, so it is only logged.
func (o *Orchestrator) advance(report *RunReport, phase status.Phase) {
	if err := report.Run.TransitionTo(phase); err != nil {
		o.log.Error().Err(err).Msg("invalid phase transition")
		return
	}
	o.log.Debug().Str("phase", string(phase)).Msg("phase reached")
}

// abort ends the run during setup.
func (o *Orchestrator) abort(report *RunReport, err error) (*RunReport, error) {
	report.Err = err
	report.Run.Fail(err.Error())
	report.finish(o.deps.Now())
	o.log.Error().
		Err(err).
		Str("kind", string(errs.TypeOf(err))).
		Str("phase", string(status.PhaseFailed)).
		Msg("run failed")
	return report, err
}

// record finishes a job result, stores it, and sets the job's condition.
func (o *Orchestrator) record(report *RunReport, res JobResult, condType string) {
	res.finish(o.deps.Now())
	report.Jobs = append(report.Jobs, res)

	warnings := len(res.Warnings())
	condStatus := status.ConditionTrue
	reason := "Completed"
	message := fmt.Sprintf("%d artifacts, %d deleted", len(res.Artifacts), len(res.Deleted))
	switch res.Status {
	case StatusFailed:
		condStatus = status.ConditionFalse
		reason = "Failed"
		message = res.Err.Error()
	case StatusWarnings:
		reason = "CompletedWithWarnings"
		message = fmt.Sprintf("%s, %d warnings", message, warnings)
	}
	status.SetCondition(report.Run, condType, condStatus, reason, message)

	event := o.log.Info()
	switch res.Status {
	case StatusFailed:
		event = o.log.Error().Err(res.Err)
	case StatusWarnings:
		event = o.log.Warn()
	}
	event.Str("job", string(res.Job)).
		Str("status", string(res.Status)).
		Int("artifacts", len(res.Artifacts)).
		Int("deleted", len(res.Deleted)).
		Int("warnings", warnings).
		Msg("job finished")
}

func (o *Orchestrator) validate() error {
	if !o.cfg.AnyJobEnabled() {
		return errs.Configuration("validate_config", "", config.ErrNoJobs)
	}
	if err := o.cfg.Validate(); err != nil {
		return errs.Configuration("validate_config", "", err)
	}

	if o.cfg.Snapshot.Enabled || o.cfg.Backup.Enabled {
		if err := requireDir(o.cfg.DomainsDir); err != nil {
			return errs.Environment("check_domains_dir", o.cfg.DomainsDir, err)
		}
	}
	if o.cfg.ConfigArchive.Enabled {
		if err := requireDir(o.cfg.Libvirt.ConfigDir); err != nil {
			return errs.Environment("check_config_dir", o.cfg.Libvirt.ConfigDir, err)
		}
	}
	return nil
}

var errNotADirectory = errors.New("not a directory")

func requireDir(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return errNotADirectory
	}
	return nil
}

func (o *Orchestrator) checkTools(ctx context.Context) error {
	if o.deps.RequiredTools == nil {
		return nil
	}
	tools, err := o.deps.RequiredTools(ctx)
	if err != nil {
		return errs.Environment("list_required_tools", "", err)
	}
	for _, tool := range tools {
		path, err := o.deps.LookPath(tool)
		if err != nil {
			return errs.Environment("check_tools", tool, err)
		}
		o.log.Debug().Str("tool", tool).Str("path", path).Msg("required tool found")
	}
	return nil
}

func (o *Orchestrator) resolveTargets(ctx context.Context) (vmTargets, error) {
	var targets vmTargets
	if !o.cfg.Snapshot.Enabled && !o.cfg.Backup.Enabled {
		return targets, nil
	}

	inventory, err := o.deps.Inventory.ListNames(ctx)
	if err != nil {
		if !errors.Is(err, libvirt.ErrNotConnected) {
			return targets, errs.Environment("list_vms", "", err)
		}
		o.log.Warn().Err(err).Msg("VM inventory unavailable; treating it as empty")
		inventory = nil
	}
	o.log.Debug().Strs("vms", inventory).Msg("VM inventory")

	if o.cfg.Snapshot.Enabled {
		if targets.snapshot, err = o.resolveJob(JobSnapshot, o.cfg.SnapshotSelection(), inventory); err != nil {
			return targets, err
		}
	}
	if o.cfg.Backup.Enabled {
		if targets.backup, err = o.resolveJob(JobBackup, o.cfg.BackupSelection(), inventory); err != nil {
			return targets, err
		}
	}
	return targets, nil
}

func (o *Orchestrator) resolveJob(job Job, sel target.Selection, inventory []string) ([]string, error) {
	res, err := sel.Resolve(inventory)
	if err != nil {
		return nil, err
	}
	if len(res.Excluded) > 0 {
		o.log.Info().Str("job", string(job)).Strs("excluded", res.Excluded).Msg("VMs excluded")
	}
	if sel.Policy.Mode == target.All && len(inventory) == 0 {
		o.log.Warn().Str("job", string(job)).Msg("no VMs defined")
	}
	o.log.Info().
		Str("job", string(job)).
		Str("policy", sel.Policy.String()).
		Strs("vms", res.Names).
		Msg("targets resolved")
	return res.Names, nil
}

// rotate applies policy to pop, or plans it in dry-run mode, and records
// the results on res. Rotation problems are warnings. pending names the
// artifact a dry run would have written, so the plan counts it.
func (o *Orchestrator) rotate(res *JobResult, owner string, pop rotation.Population, policy rotation.Policy, pending ...string) {
	logger := o.log.With().Str("job", string(res.Job)).Str("population", pop.String()).Logger()

	if o.cfg.DryRun {
		planned, err := o.deps.Rotator.Plan(pop, policy, pending...)
		if err != nil {
			o.warn(res, Outcome{Target: owner, Stage: "rotate", Err: errs.Rotation("plan_rotation", pop.String(), err)})
			return
		}
		for _, path := range planned {
			logger.Info().Str("path", path).Msg("would remove expired generation")
		}
		res.Planned = append(res.Planned, planned...)
		return
	}

	result, err := o.deps.Rotator.Rotate(pop, policy)
	for _, path := range result.Deleted {
		logger.Info().Str("path", path).Msg("removed expired generation")
	}
	res.Deleted = append(res.Deleted, result.Deleted...)
	for _, w := range result.Warnings {
		o.warn(res, Outcome{Target: owner, Stage: "rotate", Err: errs.Rotation("rotate", pop.String(), w)})
	}
	if err != nil {
		o.warn(res, Outcome{Target: owner, Stage: "rotate", Err: errs.Rotation("rotate", pop.String(), err)})
	}
}

// warn records a per-target warning and logs it.
func (o *Orchestrator) warn(res *JobResult, out Outcome) {
	res.Outcomes = append(res.Outcomes, out)
	o.log.Warn().
		Err(out.Err).
		Str("job", string(res.Job)).
		Str("target", out.Target).
		Str("stage", out.Stage).
		Msg("step failed; continuing")
}

// succeed records a completed step.
func (o *Orchestrator) succeed(res *JobResult, out Outcome) {
	res.Outcomes = append(res.Outcomes, out)
	if out.Artifact != "" && !o.cfg.DryRun {
		res.Artifacts = append(res.Artifacts, out.Artifact)
	}
}

// skip records a target that was deliberately not processed.
func (o *Orchestrator) skip(res *JobResult, target, stage, reason string) {
	res.Outcomes = append(res.Outcomes, Outcome{Target: target, Stage: stage, Skipped: true})
	o.log.Info().
		Str("job", string(res.Job)).
		Str("target", target).
		Str("reason", reason).
		Msg("skipped")
}

// fail stops a job.
func (o *Orchestrator) fail(res *JobResult, err error) JobResult {
	res.Err = err
	return *res
}

func (o *Orchestrator) newJob(job Job, targets []string) *JobResult {
	o.log.Info().Str("job", string(job)).Int("targets", len(targets)).Msg("job started")
	return &JobResult{Job: job, Started: o.deps.Now(), Targets: targets}
}

// interrupted reports a cancelled context as an environment error.
func interrupted(ctx context.Context, job Job) error {
	if err := ctx.Err(); err != nil {
		return errs.Environment(string(job), "", fmt.Errorf("interrupted: %w", err))
	}
	return nil
}
