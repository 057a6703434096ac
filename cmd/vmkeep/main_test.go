package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/jbweber/vmkeep/internal/backup"
	"github.com/jbweber/vmkeep/internal/config"
)

func TestSelectJobs(t *testing.T) {
	tests := []struct {
		name         string
		jobs         []backup.Job
		wantArchive  bool
		wantSnapshot bool
		wantBackup   bool
	}{
		{name: "snapshot only", jobs: []backup.Job{backup.JobSnapshot}, wantSnapshot: true},
		{name: "backup only", jobs: []backup.Job{backup.JobBackup}, wantBackup: true},
		{name: "archive only", jobs: []backup.Job{backup.JobConfigArchive}, wantArchive: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.DefaultConfig()
			cfg.ConfigArchive.Enabled = true
			cfg.Snapshot.Enabled = true
			cfg.Backup.Enabled = true

			selectJobs(cfg, tt.jobs)

			if cfg.ConfigArchive.Enabled != tt.wantArchive {
				t.Errorf("config_archive enabled = %v, want %v", cfg.ConfigArchive.Enabled, tt.wantArchive)
			}
			if cfg.Snapshot.Enabled != tt.wantSnapshot {
				t.Errorf("snapshot enabled = %v, want %v", cfg.Snapshot.Enabled, tt.wantSnapshot)
			}
			if cfg.Backup.Enabled != tt.wantBackup {
				t.Errorf("backup enabled = %v, want %v", cfg.Backup.Enabled, tt.wantBackup)
			}
		})
	}
}

func TestLoadConfig_FlagOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
snapshot:
  enabled: true
  vms: vm1, vm2
logging:
  level: info
  dir: ""
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	oldPath, oldDryRun, oldLevel := configPath, dryRun, logLevel
	t.Cleanup(func() { configPath, dryRun, logLevel = oldPath, oldDryRun, oldLevel })
	configPath, dryRun, logLevel = path, true, "DEBUG"

	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}
	if !cfg.DryRun {
		t.Error("--dry-run should set DryRun")
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("logging level = %q, want debug", cfg.Logging.Level)
	}
	if got := cfg.Snapshot.VMs.Names; len(got) != 2 || got[0] != "vm1" || got[1] != "vm2" {
		t.Errorf("snapshot vms = %v, want [vm1 vm2]", got)
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	oldPath := configPath
	t.Cleanup(func() { configPath = oldPath })
	configPath = filepath.Join(t.TempDir(), "missing.yaml")

	if _, err := loadConfig(); err == nil {
		t.Error("loadConfig() should fail for a missing --config file")
	}
}
