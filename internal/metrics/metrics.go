// Package metrics exports the result of a vmkeep run as Prometheus gauges,
// written to a node_exporter textfile collector file.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jbweber/vmkeep/internal/backup"
)

const namespace = "vmkeep"

// Recorder holds the gauges for one run on a private registry.
type Recorder struct {
	registry *prometheus.Registry

	jobSuccess   *prometheus.GaugeVec
	jobWarnings  *prometheus.GaugeVec
	filesCreated *prometheus.GaugeVec
	filesDeleted *prometheus.GaugeVec
	jobDuration  *prometheus.GaugeVec
	lastRun      prometheus.Gauge
	lastSuccess  prometheus.Gauge
}

// NewRecorder creates a Recorder with every gauge registered.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		jobSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "job_success",
			Help:      "Whether the job finished without a fatal error (1) or failed (0).",
		}, []string{"job"}),
		jobWarnings: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "job_warnings",
			Help:      "Number of per-target warnings recorded by the job.",
		}, []string{"job"}),
		filesCreated: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "job_files_created",
			Help:      "Number of snapshots, backups, or archives created by the job.",
		}, []string{"job"}),
		filesDeleted: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "job_files_deleted",
			Help:      "Number of files removed by retention during the job.",
		}, []string{"job"}),
		jobDuration: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Wall time spent in the job.",
		}, []string{"job"}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last run finished.",
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_success",
			Help:      "Whether the last run finished without a failed job (1) or not (0).",
		}),
	}
	r.registry.MustRegister(
		r.jobSuccess,
		r.jobWarnings,
		r.filesCreated,
		r.filesDeleted,
		r.jobDuration,
		r.lastRun,
		r.lastSuccess,
	)
	return r
}

// Registry returns the registry the gauges live on.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Observe sets the gauges from a finished run.
func (r *Recorder) Observe(report *backup.RunReport) {
	for i := range report.Jobs {
		j := &report.Jobs[i]
		job := string(j.Job)

		success := 1.0
		if j.Status == backup.StatusFailed {
			success = 0
		}
		r.jobSuccess.WithLabelValues(job).Set(success)
		r.jobWarnings.WithLabelValues(job).Set(float64(len(j.Warnings())))
		r.filesCreated.WithLabelValues(job).Set(float64(len(j.Artifacts)))
		r.filesDeleted.WithLabelValues(job).Set(float64(len(j.Deleted)))
		r.jobDuration.WithLabelValues(job).Set(j.Finished.Sub(j.Started).Seconds())
	}

	r.lastRun.Set(float64(report.Finished.Unix()))
	if report.Status == backup.StatusFailed {
		r.lastSuccess.Set(0)
	} else {
		r.lastSuccess.Set(1)
	}
}

// WriteTextfile writes the gauges in the text exposition format to path,
// creating the parent directory if needed.
func (r *Recorder) WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}
