package metrics

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/jbweber/vmkeep/internal/backup"
	errs "github.com/jbweber/vmkeep/internal/errors"
)

var finished = time.Date(2026, 3, 1, 2, 5, 0, 0, time.UTC)

func testReport() *backup.RunReport {
	started := finished.Add(-5 * time.Minute)
	return &backup.RunReport{
		Started:  started,
		Finished: finished,
		Status:   backup.StatusFailed,
		Jobs: []backup.JobResult{
			{
				Job:       backup.JobSnapshot,
				Status:    backup.StatusWarnings,
				Started:   started,
				Finished:  started.Add(90 * time.Second),
				Artifacts: []string{"/a", "/b"},
				Deleted:   []string{"/c"},
				Outcomes: []backup.Outcome{
					{Target: "vm2", Stage: "clone", Err: errs.Target("snapshot", "vm2", errors.New("busy"))},
				},
			},
			{
				Job:    backup.JobBackup,
				Status: backup.StatusFailed,
				Err:    errs.Environment("check_destination_mount", "/mnt/disk1", errors.New("not mounted")),
			},
		},
	}
}

func TestObserve(t *testing.T) {
	r := NewRecorder()
	r.Observe(testReport())

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"snapshot success", testutil.ToFloat64(r.jobSuccess.WithLabelValues("snapshot")), 1},
		{"backup success", testutil.ToFloat64(r.jobSuccess.WithLabelValues("backup")), 0},
		{"snapshot warnings", testutil.ToFloat64(r.jobWarnings.WithLabelValues("snapshot")), 1},
		{"snapshot created", testutil.ToFloat64(r.filesCreated.WithLabelValues("snapshot")), 2},
		{"snapshot deleted", testutil.ToFloat64(r.filesDeleted.WithLabelValues("snapshot")), 1},
		{"snapshot duration", testutil.ToFloat64(r.jobDuration.WithLabelValues("snapshot")), 90},
		{"last run", testutil.ToFloat64(r.lastRun), float64(finished.Unix())},
		{"last success", testutil.ToFloat64(r.lastSuccess), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %v, want %v", tt.got, tt.want)
			}
		})
	}
}

func TestObserve_SuccessfulRun(t *testing.T) {
	r := NewRecorder()
	r.Observe(&backup.RunReport{Finished: finished, Status: backup.StatusWarnings})

	if got := testutil.ToFloat64(r.lastSuccess); got != 1 {
		t.Errorf("last_run_success = %v, want 1 for a run with warnings", got)
	}
}

func TestWriteTextfile(t *testing.T) {
	r := NewRecorder()
	r.Observe(testReport())

	path := filepath.Join(t.TempDir(), "collector", "vmkeep.prom")
	if err := r.WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read textfile: %v", err)
	}
	content := string(data)
	for _, want := range []string{
		`vmkeep_job_success{job="backup"} 0`,
		`vmkeep_job_success{job="snapshot"} 1`,
		`vmkeep_job_files_deleted{job="snapshot"} 1`,
		"# TYPE vmkeep_last_run_timestamp_seconds gauge",
	} {
		if !strings.Contains(content, want) {
			t.Errorf("textfile missing %q:\n%s", want, content)
		}
	}
}
