package backup

import (
	"context"
	"os"
	"path/filepath"
	"time"

	errs "github.com/jbweber/vmkeep/internal/errors"
	"github.com/jbweber/vmkeep/internal/naming"
	"github.com/jbweber/vmkeep/internal/rotation"
)

// runConfigArchive writes a gzip tar of the libvirt configuration
// directory and rotates older archives.
func (o *Orchestrator) runConfigArchive(ctx context.Context, ts time.Time) JobResult {
	cfg := o.cfg.ConfigArchive
	src := o.cfg.Libvirt.ConfigDir
	res := o.newJob(JobConfigArchive, []string{src})

	if err := interrupted(ctx, JobConfigArchive); err != nil {
		return o.fail(res, err)
	}

	dst := filepath.Join(cfg.Destination, naming.ArchiveName(ts))
	if o.cfg.DryRun {
		o.log.Info().Str("source", src).Str("archive", dst).Msg("would archive libvirt configuration")
	} else {
		if err := os.MkdirAll(cfg.Destination, 0o755); err != nil {
			return o.fail(res, errs.Environment("create_archive_dir", cfg.Destination, err))
		}
		if err := o.deps.Files.ArchiveDirectory(src, dst); err != nil {
			return o.fail(res, errs.Environment("archive_config", src, err))
		}
		o.log.Info().Str("source", src).Str("archive", dst).Msg("libvirt configuration archived")
	}
	o.succeed(res, Outcome{Target: src, Stage: "archive", Artifact: dst})

	o.rotate(res, src, rotation.Population{Dir: cfg.Destination, Pattern: naming.ArchivePattern()}, cfg.Policy(), dst)
	return *res
}

// rotateLogs applies log retention to the run log directory. The current
// run's log is the newest file, so it always survives.
func (o *Orchestrator) rotateLogs() JobResult {
	dir := o.cfg.Logging.Dir
	res := o.newJob(JobLogs, []string{dir})
	o.rotate(res, dir, rotation.Population{Dir: dir, Pattern: naming.LogPattern()}, o.cfg.Logging.Policy())
	return *res
}
