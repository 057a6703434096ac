package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"github.com/jbweber/vmkeep/internal/config"
	"github.com/jbweber/vmkeep/internal/output"
)

var (
	version = "dev"
	commit  = "unknown"
)

// Global flags
var (
	configPath   string
	outputFormat string
	noHeaders    bool
	dryRun       bool
	logLevel     string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "vmkeep",
	Short: "vmkeep - VM snapshot, backup, and retention for libvirt hosts",
	Long: `vmkeep protects libvirt VM disk images on an Unraid-style host.

It creates copy-on-write reflink snapshots next to each VM's disks, copies
(optionally zstd-compressed) backups to a reflink-capable destination,
archives the libvirt configuration directory, and enforces age and count
retention on everything it writes.`,
	Version:      fmt.Sprintf("%s (commit: %s)", version, commit),
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default "+config.DefaultPath+" when present)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "output format: table, yaml, json")
	rootCmd.PersistentFlags().BoolVar(&noHeaders, "no-headers", false, "omit table headers")
	rootCmd.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "log planned actions without writing or deleting anything")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override logging.level (debug, info, warn, error)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(snapshotCmd)
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(archiveConfigCmd)
	rootCmd.AddCommand(disksCmd)
	rootCmd.AddCommand(checkMountCmd)
	rootCmd.AddCommand(rotateCmd)
	rootCmd.AddCommand(testConnCmd)
	rootCmd.AddCommand(showConfigCmd)
}

// loadConfig reads the configuration named by --config. Without the flag
// the default path is used when it exists, and built-in defaults
// otherwise. Global flag overrides are applied last.
func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		if _, err := os.Stat(config.DefaultPath); err == nil {
			path = config.DefaultPath
		} else if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to stat %s: %w", config.DefaultPath, err)
		}
	}

	var cfg *config.Config
	if path != "" {
		var err error
		cfg, err = config.LoadFromFile(path)
		if err != nil {
			return nil, err
		}
	} else {
		cfg = config.DefaultConfig()
		if err := config.ApplyEnvOverrides(cfg); err != nil {
			return nil, err
		}
		cfg.Normalize()
	}

	if dryRun {
		cfg.DryRun = true
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
		cfg.Normalize()
	}
	return cfg, nil
}

// newFormatter validates --output and builds the formatter for it.
func newFormatter() (output.Formatter, error) {
	if err := output.ValidateFormat(outputFormat); err != nil {
		return nil, err
	}
	return output.NewFormatter(output.Options{
		Format:    output.Format(outputFormat),
		NoHeaders: noHeaders,
	})
}
