package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/jbweber/vmkeep/internal/backup"
	"github.com/jbweber/vmkeep/internal/config"
	"github.com/jbweber/vmkeep/internal/fileops"
	"github.com/jbweber/vmkeep/internal/libvirt"
	"github.com/jbweber/vmkeep/internal/logging"
	"github.com/jbweber/vmkeep/internal/metrics"
	"github.com/jbweber/vmkeep/internal/mount"
	"github.com/jbweber/vmkeep/internal/rotation"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run every enabled job",
	Long: `Run every job enabled in the configuration, in order:

1. config_archive - tar+gzip the libvirt configuration directory
2. snapshot       - reflink-clone each VM disk next to the original
3. backup         - copy each VM disk to the backup destination
4. logs           - rotate old run logs

Jobs are independent: a failed job does not stop the ones after it. The
command exits non-zero when any job failed.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runJobs()
	},
}

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Create reflink snapshots of VM disks",
	Long: `Create a reflink snapshot of every managed disk image of the VMs selected
by snapshot.vms, then apply snapshot retention. Other jobs are not run.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runJobs(backup.JobSnapshot)
	},
}

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Copy VM disks to the backup destination",
	Long: `Copy the disks of the VMs selected by backup.vms to the backup
destination, then apply backup retention. Other jobs are not run.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runJobs(backup.JobBackup)
	},
}

var archiveConfigCmd = &cobra.Command{
	Use:   "archive-config",
	Short: "Archive the libvirt configuration directory",
	Long: `Write a gzip tar archive of libvirt.config_dir to
config_archive.destination, then apply archive retention. Other jobs are
not run.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runJobs(backup.JobConfigArchive)
	},
}

// runJobs runs the orchestrator. With no jobs given the configuration's
// enabled flags decide; otherwise exactly the given jobs run.
func runJobs(only ...backup.Job) error {
	formatter, err := newFormatter()
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if len(only) > 0 {
		selectJobs(cfg, only)
	}

	started := time.Now()
	runID := uuid.NewString()
	logger, runLog, err := logging.Init(logging.Config{
		Format:  cfg.Logging.Format,
		Level:   cfg.Logging.Level,
		Dir:     cfg.Logging.Dir,
		RunID:   runID,
		Started: started,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer func() {
		if closeErr := runLog.Close(); closeErr != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close run log: %v\n", closeErr)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, closeDeps := buildDeps(ctx, cfg, logger)
	defer closeDeps()

	opts := backup.Options{RunID: runID, Started: started}
	if runLog != nil {
		opts.LogFile = runLog.Path
	}
	report, runErr := backup.New(cfg, logger, deps).Run(ctx, opts)

	if cfg.Metrics.Textfile != "" {
		recorder := metrics.NewRecorder()
		recorder.Observe(report)
		if err := recorder.WriteTextfile(cfg.Metrics.Textfile); err != nil {
			logger.Warn().Err(err).Str("path", cfg.Metrics.Textfile).Msg("failed to write metrics")
		}
	}

	result, err := formatter.FormatReport(report)
	if err != nil {
		return fmt.Errorf("failed to format output: %w", err)
	}
	fmt.Print(result)
	return runErr
}

// selectJobs enables exactly the given jobs.
func selectJobs(cfg *config.Config, jobs []backup.Job) {
	cfg.ConfigArchive.Enabled = false
	cfg.Snapshot.Enabled = false
	cfg.Backup.Enabled = false
	for _, job := range jobs {
		switch job {
		case backup.JobConfigArchive:
			cfg.ConfigArchive.Enabled = true
		case backup.JobSnapshot:
			cfg.Snapshot.Enabled = true
		case backup.JobBackup:
			cfg.Backup.Enabled = true
		}
	}
}

// buildDeps wires the production collaborators. An unreachable libvirt
// daemon is not fatal here: the inventory reports ErrNotConnected and the
// orchestrator decides what that means for the run.
func buildDeps(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (backup.Deps, func()) {
	inventory := libvirt.NewInventory(nil)
	closeFn := func() {}

	client, err := libvirt.Connect(ctx, libvirt.Options{
		Socket:  cfg.Libvirt.Socket,
		Timeout: cfg.LibvirtTimeout(),
	})
	if err != nil {
		logger.Warn().Err(err).Str("socket", cfg.Libvirt.Socket).Msg("libvirt unavailable")
	} else {
		inventory = libvirt.NewInventory(client.Libvirt())
		closeFn = func() {
			if closeErr := client.Close(); closeErr != nil {
				logger.Warn().Err(closeErr).Msg("failed to close libvirt connection")
			}
		}
	}

	probe := mount.NewSystemProbe()
	return backup.Deps{
		Inventory:     inventory,
		Gate:          mount.NewGate(probe),
		Files:         fileops.New(cfg.Backup.CompressionLevel),
		Rotator:       rotation.New(),
		Destinations:  mount.NewShareMapper(cfg.Unraid.SharesIni, cfg.Unraid.MountRoot),
		RequiredTools: probe.RequiredTools,
	}, closeFn
}
