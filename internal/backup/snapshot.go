package backup

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	errs "github.com/jbweber/vmkeep/internal/errors"
	"github.com/jbweber/vmkeep/internal/naming"
	"github.com/jbweber/vmkeep/internal/rotation"
)

var errNoImages = errors.New("no managed disk images in VM directory")

// runSnapshots clones every managed image in each target VM's directory
// and rotates that image's snapshots.
func (o *Orchestrator) runSnapshots(ctx context.Context, vms []string, ts time.Time) JobResult {
	res := o.newJob(JobSnapshot, vms)
	policy := o.cfg.Snapshot.Policy()

	for _, vm := range vms {
		if err := interrupted(ctx, JobSnapshot); err != nil {
			return o.fail(res, err)
		}

		dir := filepath.Join(o.cfg.DomainsDir, vm)
		if err := requireDir(dir); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				o.skip(res, vm, "locate", "no VM directory under "+o.cfg.DomainsDir)
				continue
			}
			o.warn(res, Outcome{Target: vm, Stage: "locate", Err: errs.Target("locate_vm_dir", dir, err)})
			continue
		}

		if err := o.deps.Gate.CheckUsage(ctx, o.cfg.SourceMount, o.cfg.Snapshot.MaxUsagePercent); err != nil {
			return o.fail(res, errs.Environment("check_usage", o.cfg.SourceMount, err))
		}

		images, err := listImages(dir, o.cfg.DiskExtension)
		if err != nil {
			o.warn(res, Outcome{Target: vm, Stage: "list", Err: errs.Target("list_images", dir, err)})
			continue
		}
		if len(images) == 0 {
			o.warn(res, Outcome{Target: vm, Stage: "list", Err: errs.Target("list_images", dir, errNoImages)})
			continue
		}

		for _, image := range images {
			o.snapshotImage(res, vm, dir, image, ts, policy)
		}
	}
	return *res
}

func (o *Orchestrator) snapshotImage(res *JobResult, vm, dir, image string, ts time.Time, policy rotation.Policy) {
	snap := naming.SnapshotName(image, ts)
	logger := o.log.With().Str("job", string(JobSnapshot)).Str("vm", vm).Str("image", image).Logger()

	if o.cfg.DryRun {
		logger.Info().Str("snapshot", snap).Msg("would create snapshot")
	} else {
		if err := o.deps.Files.Clone(image, snap); err != nil {
			// Keep existing generations when the new one could not be made.
			o.warn(res, Outcome{Target: image, Stage: "clone", Err: errs.Target("snapshot", image, err)})
			return
		}
		logger.Info().Str("snapshot", snap).Msg("snapshot created")
	}
	o.succeed(res, Outcome{Target: image, Stage: "clone", Artifact: snap})

	pop := rotation.Population{Dir: dir, Pattern: naming.SnapshotPattern(filepath.Base(image))}
	o.rotate(res, image, pop, policy, snap)
}

// listImages returns the regular files in dir carrying the managed
// extension, sorted by name.
func listImages(dir, ext string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var images []string
	for _, e := range entries {
		if !e.Type().IsRegular() || !naming.HasExtension(e.Name(), ext) {
			continue
		}
		images = append(images, filepath.Join(dir, e.Name()))
	}
	return images, nil
}
