package backup

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	errs "github.com/jbweber/vmkeep/internal/errors"
	"github.com/jbweber/vmkeep/internal/mount"
	"github.com/jbweber/vmkeep/internal/naming"
	"github.com/jbweber/vmkeep/internal/status"
)

const day = 24 * time.Hour

func TestRun_SnapshotCreatesAndRotates(t *testing.T) {
	f := newFixture(t, "vm1")
	f.enableSnapshot("vm1")
	f.cfg.Snapshot.Keep = 2
	disk1 := f.addDisk(t, "vm1", "vdisk1.img")
	disk2 := f.addDisk(t, "vm1", "vdisk2.img")
	dir := filepath.Dir(disk1)

	oldest := naming.SnapshotName(disk1, runTime.Add(-2*day))
	older := naming.SnapshotName(disk1, runTime.Add(-1*day))
	writeAged(t, oldest, 2*day)
	writeAged(t, older, 1*day)
	mustWrite(t, disk1+".bak", "not an image")

	report, err := f.run(t)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.Status != StatusOK {
		t.Errorf("status = %s, want ok", report.Status)
	}

	job := report.Job(JobSnapshot)
	want := []string{naming.SnapshotName(disk1, runTime), naming.SnapshotName(disk2, runTime)}
	if len(job.Artifacts) != len(want) {
		t.Fatalf("artifacts = %v, want %v", job.Artifacts, want)
	}
	for i := range want {
		if job.Artifacts[i] != want[i] {
			t.Errorf("artifact %d = %s, want %s", i, job.Artifacts[i], want[i])
		}
		if _, err := os.Stat(want[i]); err != nil {
			t.Errorf("snapshot %s should exist: %v", want[i], err)
		}
	}

	if len(job.Deleted) != 1 || job.Deleted[0] != oldest {
		t.Errorf("deleted = %v, want [%s]", job.Deleted, oldest)
	}
	if got := glob(t, dir, naming.SnapshotPattern("vdisk1.img")); len(got) != 2 {
		t.Errorf("vdisk1 snapshots = %v, want 2", got)
	}
	if got := glob(t, dir, naming.SnapshotPattern("vdisk2.img")); len(got) != 1 {
		t.Errorf("vdisk2 snapshots = %v, want 1", got)
	}
	if _, err := os.Stat(disk1 + ".bak"); err != nil {
		t.Errorf("unrelated file should survive: %v", err)
	}
}

func TestRun_SnapshotUsesSourceCeiling(t *testing.T) {
	f := newFixture(t, "vm1")
	f.enableSnapshot("vm1")
	f.cfg.Snapshot.MaxUsagePercent = 80
	f.addDisk(t, "vm1", "vdisk1.img")

	if _, err := f.run(t); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	want := f.root + "@80"
	if len(f.gate.usageCalls) != 1 || f.gate.usageCalls[0] != want {
		t.Errorf("usage checks = %v, want [%s]", f.gate.usageCalls, want)
	}
}

func TestRun_SnapshotSkipsVMWithoutDirectory(t *testing.T) {
	f := newFixture(t, "vm1", "vm2")
	f.enableSnapshot()
	f.addDisk(t, "vm1", "vdisk1.img")

	report, err := f.run(t)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.Status != StatusOK {
		t.Errorf("status = %s, want ok", report.Status)
	}

	job := report.Job(JobSnapshot)
	var skipped []string
	for _, o := range job.Outcomes {
		if o.Skipped {
			skipped = append(skipped, o.Target)
		}
	}
	if len(skipped) != 1 || skipped[0] != "vm2" {
		t.Errorf("skipped = %v, want [vm2]", skipped)
	}
	if len(f.files.cloneCalls) != 1 {
		t.Errorf("clone calls = %v, want 1", f.files.cloneCalls)
	}
}

func TestRun_SnapshotWarnsOnEmptyDirectory(t *testing.T) {
	f := newFixture(t, "vm1", "vm2")
	f.enableSnapshot()
	f.addDisk(t, "vm1", "vdisk1.img")
	mustMkdir(t, filepath.Join(f.cfg.DomainsDir, "vm2"))
	mustWrite(t, filepath.Join(f.cfg.DomainsDir, "vm2", "notes.txt"), "not a disk")

	report, err := f.run(t)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.Status != StatusWarnings {
		t.Errorf("status = %s, want completed_with_warnings", report.Status)
	}

	warnings := report.Job(JobSnapshot).Warnings()
	if len(warnings) != 1 {
		t.Fatalf("warnings = %+v, want 1", warnings)
	}
	if warnings[0].Target != "vm2" || !errors.Is(warnings[0].Err, errNoImages) {
		t.Errorf("warning = %+v, want vm2 with no images", warnings[0])
	}
	if !errors.Is(warnings[0].Err, errs.ErrTargetSkipped) {
		t.Errorf("warning error %v should be a target error", warnings[0].Err)
	}
	if len(f.files.cloneCalls) != 1 {
		t.Errorf("clone calls = %v, want 1", f.files.cloneCalls)
	}
}

func TestRun_SnapshotExcludes(t *testing.T) {
	f := newFixture(t, "vm1", "win10", "win11")
	f.enableSnapshot()
	f.cfg.Snapshot.Exclude = []string{"win*"}
	f.addDisk(t, "vm1", "vdisk1.img")
	f.addDisk(t, "win10", "vdisk1.img")
	f.addDisk(t, "win11", "vdisk1.img")

	report, err := f.run(t)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	job := report.Job(JobSnapshot)
	if len(job.Targets) != 1 || job.Targets[0] != "vm1" {
		t.Errorf("targets = %v, want [vm1]", job.Targets)
	}
	if len(f.files.cloneCalls) != 1 {
		t.Errorf("clone calls = %v, want 1", f.files.cloneCalls)
	}
}

func TestRun_ExplicitVMIgnoresExclude(t *testing.T) {
	f := newFixture(t, "win10")
	f.enableSnapshot("win10")
	f.cfg.Snapshot.Exclude = []string{"win*"}
	f.addDisk(t, "win10", "vdisk1.img")

	if _, err := f.run(t); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(f.files.cloneCalls) != 1 {
		t.Errorf("clone calls = %v, want 1", f.files.cloneCalls)
	}
}

func TestRun_SnapshotCloneFailureIsWarning(t *testing.T) {
	f := newFixture(t, "vm1", "vm2")
	f.enableSnapshot()
	f.cfg.Snapshot.Keep = 1
	disk1 := f.addDisk(t, "vm1", "vdisk1.img")
	disk2 := f.addDisk(t, "vm2", "vdisk1.img")
	for i := 1; i <= 3; i++ {
		writeAged(t, naming.SnapshotName(disk1, runTime.Add(-time.Duration(i)*day)), time.Duration(i)*day)
	}
	f.files.cloneFunc = func(src, dst string) error {
		if src == disk1 {
			return errors.New("operation not supported")
		}
		return copyFile(src, dst)
	}

	report, err := f.run(t)
	if err != nil {
		t.Fatalf("warnings alone should not fail the run: %v", err)
	}
	if report.Status != StatusWarnings {
		t.Errorf("status = %s, want %s", report.Status, StatusWarnings)
	}

	job := report.Job(JobSnapshot)
	warnings := job.Warnings()
	if len(warnings) != 1 || warnings[0].Target != disk1 || warnings[0].Stage != "clone" {
		t.Errorf("warnings = %+v, want one clone warning for %s", warnings, disk1)
	}
	if got := glob(t, filepath.Dir(disk1), naming.SnapshotPattern("vdisk1.img")); len(got) != 3 {
		t.Errorf("existing snapshots must be kept when the new one fails, got %v", got)
	}
	if _, err := os.Stat(naming.SnapshotName(disk2, runTime)); err != nil {
		t.Errorf("vm2 should still be snapshotted: %v", err)
	}

	cond := status.GetCondition(report.Run, status.ConditionSnapshotted)
	if cond == nil || cond.Status != status.ConditionTrue || cond.Reason != "CompletedWithWarnings" {
		t.Errorf("condition = %+v, want True/CompletedWithWarnings", cond)
	}
}

func TestRun_SnapshotSourceFullFailsJob(t *testing.T) {
	f := newFixture(t, "vm1")
	f.enableSnapshot("vm1")
	f.cfg.ConfigArchive.Enabled = true
	f.addDisk(t, "vm1", "vdisk1.img")
	f.gate.usageErr[f.root] = &mount.UsageError{Path: f.root, Actual: 97, Max: 90}

	report, err := f.run(t)
	if err == nil {
		t.Fatal("Run() should report the failed snapshot job")
	}

	job := report.Job(JobSnapshot)
	var usageErr *mount.UsageError
	if !errors.As(job.Err, &usageErr) {
		t.Errorf("job error should be a UsageError, got %v", job.Err)
	}
	if len(f.files.cloneCalls) != 0 {
		t.Errorf("no clone should run on a full source, got %v", f.files.cloneCalls)
	}
	if got := report.Job(JobConfigArchive).Status; got != StatusOK {
		t.Errorf("config archive status = %s, want ok", got)
	}
	if !status.IsConditionFalse(report.Run, status.ConditionSnapshotted) {
		t.Error("Snapshotted condition should be False")
	}
}

func TestListImages(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"vdisk2.img", "vdisk1.img", "vdisk1.img_snapshot_20260101000000.fullsnap", "vdisk1.img.vmkeep-tmp", "notes.txt"} {
		mustWrite(t, filepath.Join(dir, name), name)
	}
	mustMkdir(t, filepath.Join(dir, "sub.img"))

	got, err := listImages(dir, "img")
	if err != nil {
		t.Fatalf("listImages() error = %v", err)
	}
	want := []string{filepath.Join(dir, "vdisk1.img"), filepath.Join(dir, "vdisk2.img")}
	if len(got) != len(want) {
		t.Fatalf("listImages() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("image %d = %s, want %s", i, got[i], want[i])
		}
	}
}
