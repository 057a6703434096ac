package backup

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/jbweber/vmkeep/internal/disk"
	errs "github.com/jbweber/vmkeep/internal/errors"
	"github.com/jbweber/vmkeep/internal/naming"
	"github.com/jbweber/vmkeep/internal/rotation"
)

var errNoDisks = errors.New("no managed disk images in domain definition")

// runBackups copies the disks of each target VM to the backup destination.
func (o *Orchestrator) runBackups(ctx context.Context, vms []string, ts time.Time) JobResult {
	res := o.newJob(JobBackup, vms)
	cfg := o.cfg.Backup

	dest, err := o.deps.Destinations.Resolve(cfg.Destination, cfg.MountPoint)
	if err != nil {
		return o.fail(res, err)
	}
	o.log.Info().
		Str("destination", dest.Path).
		Str("mount_point", dest.MountPoint).
		Str("share", dest.Share).
		Msg("backup destination resolved")

	if err := o.deps.Gate.CheckMount(ctx, dest.MountPoint); err != nil {
		return o.fail(res, errs.Environment("check_destination_mount", dest.MountPoint, err))
	}
	if err := o.deps.Gate.CheckUsage(ctx, dest.MountPoint, cfg.MaxUsagePercent); err != nil {
		return o.fail(res, errs.Environment("check_usage", dest.MountPoint, err))
	}
	if !o.cfg.DryRun {
		if err := os.MkdirAll(dest.Path, 0o755); err != nil {
			return o.fail(res, errs.Environment("create_destination", dest.Path, err))
		}
	}

	for _, vm := range vms {
		if err := interrupted(ctx, JobBackup); err != nil {
			return o.fail(res, err)
		}

		descs, err := o.disksFor(ctx, vm)
		if err != nil {
			o.warn(res, Outcome{Target: vm, Stage: "discover", Err: err})
			continue
		}
		if cfg.PrimaryOnly {
			for _, d := range descs[1:] {
				o.skip(res, d.Path, "discover", "not the primary disk")
			}
			descs = descs[:1]
		}

		if err := o.deps.Gate.CheckUsage(ctx, o.cfg.SourceMount, o.cfg.Snapshot.MaxUsagePercent); err != nil {
			return o.fail(res, errs.Environment("check_usage", o.cfg.SourceMount, err))
		}

		vmDir := filepath.Join(dest.Path, vm)
		if !o.cfg.DryRun {
			if err := os.MkdirAll(vmDir, 0o755); err != nil {
				o.warn(res, Outcome{Target: vm, Stage: "prepare", Err: errs.Target("create_vm_dir", vmDir, err)})
				continue
			}
		}

		for _, d := range descs {
			o.backupDisk(res, vm, vmDir, d, ts)
		}
	}
	return *res
}

// disksFor returns the VM's managed disks in boot order. The slice is
// never empty on success.
func (o *Orchestrator) disksFor(ctx context.Context, vm string) ([]disk.Descriptor, error) {
	xml, err := o.deps.Inventory.DumpXML(ctx, vm)
	if err != nil {
		return nil, errs.Target("dump_xml", vm, err)
	}
	descs, err := disk.Discover(xml, o.cfg.DiskExtension)
	if err != nil {
		return nil, errs.Target("discover_disks", vm, err)
	}
	if len(descs) == 0 {
		return nil, errs.Target("discover_disks", vm, errNoDisks)
	}
	for _, d := range descs {
		o.log.Debug().
			Str("vm", vm).
			Str("path", d.Path).
			Int("boot_order", d.BootOrder).
			Msg("disk discovered")
	}
	return descs, nil
}

// backupDisk copies one disk: clone it in place for a stable source, write
// the clone to the destination, rotate, then drop the clone.
func (o *Orchestrator) backupDisk(res *JobResult, vm, vmDir string, d disk.Descriptor, ts time.Time) {
	cfg := o.cfg.Backup
	base := filepath.Base(d.Path)
	out := filepath.Join(vmDir, naming.BackupName(base, ts, cfg.Compress))
	tmp := naming.TempCloneName(d.Path)
	logger := o.log.With().Str("job", string(JobBackup)).Str("vm", vm).Str("disk", d.Path).Logger()

	stage := "copy"
	write := o.deps.Files.Copy
	if cfg.Compress {
		stage = "compress"
		write = o.deps.Files.Compress
	}

	pop := rotation.Population{Dir: vmDir, Pattern: naming.BackupPattern(base, cfg.Compress)}

	if o.cfg.DryRun {
		logger.Info().Str("backup", out).Bool("compress", cfg.Compress).Msg("would back up disk")
		o.succeed(res, Outcome{Target: d.Path, Stage: stage, Artifact: out})
		o.rotate(res, d.Path, pop, cfg.Policy(), out)
		return
	}

	// A clone left by an interrupted run would make the next Clone fail.
	if err := o.deps.Files.Remove(tmp); err != nil {
		o.warn(res, Outcome{Target: d.Path, Stage: "clone", Err: errs.Target("remove_stale_clone", tmp, err)})
		return
	}
	if err := o.deps.Files.Clone(d.Path, tmp); err != nil {
		o.warn(res, Outcome{Target: d.Path, Stage: "clone", Err: errs.Target("clone_disk", d.Path, err)})
		return
	}
	defer func() {
		if err := o.deps.Files.Remove(tmp); err != nil {
			o.warn(res, Outcome{Target: d.Path, Stage: "cleanup", Err: errs.Target("remove_clone", tmp, err)})
		}
	}()

	if err := write(tmp, out); err != nil {
		o.warn(res, Outcome{Target: d.Path, Stage: stage, Err: errs.Target(stage+"_disk", out, err)})
		return
	}
	logger.Info().Str("backup", out).Bool("compress", cfg.Compress).Msg("disk backed up")
	o.succeed(res, Outcome{Target: d.Path, Stage: stage, Artifact: out})

	o.rotate(res, d.Path, pop, cfg.Policy())
}
