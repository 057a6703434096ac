package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	errs "github.com/jbweber/vmkeep/internal/errors"
	"github.com/jbweber/vmkeep/internal/rotation"
	"github.com/jbweber/vmkeep/internal/target"
)

// DefaultPath is where the CLI looks for its configuration.
const DefaultPath = "/etc/vmkeep/config.yaml"

// Config represents the complete vmkeep configuration.
type Config struct {
	Libvirt LibvirtConfig `yaml:"libvirt"`

	// DomainsDir holds one directory per VM with its disk images.
	DomainsDir string `yaml:"domains_dir"`
	// SourceMount is the reflink-capable mount DomainsDir lives on.
	SourceMount string `yaml:"source_mount"`
	// DiskExtension is the managed image extension, without the dot.
	DiskExtension string `yaml:"disk_extension"`
	DryRun        bool   `yaml:"dry_run"`

	Snapshot      SnapshotConfig `yaml:"snapshot"`
	Backup        BackupConfig   `yaml:"backup"`
	ConfigArchive ArchiveConfig  `yaml:"config_archive"`
	Logging       LoggingConfig  `yaml:"logging"`
	Metrics       MetricsConfig  `yaml:"metrics"`
	Unraid        UnraidConfig   `yaml:"unraid"`
}

// LibvirtConfig locates the libvirt daemon and its configuration tree.
type LibvirtConfig struct {
	Socket         string `yaml:"socket"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	ConfigDir      string `yaml:"config_dir"` // Archived by the config archive job
}

// Retention is the keep/age pair shared by every artifact family.
type Retention struct {
	Keep       int `yaml:"keep"`
	MaxAgeDays int `yaml:"max_age_days"` // 0 disables age-based removal
}

// SnapshotConfig configures in-place reflink snapshots.
type SnapshotConfig struct {
	Enabled         bool          `yaml:"enabled"`
	VMs             target.Policy `yaml:"vms"`
	Exclude         []string      `yaml:"exclude,omitempty"`
	Retention       `yaml:",inline"`
	MaxUsagePercent int `yaml:"max_usage_percent"` // Ceiling for the source mount
}

// BackupConfig configures backup copies to a second location.
type BackupConfig struct {
	Enabled     bool          `yaml:"enabled"`
	VMs         target.Policy `yaml:"vms"`
	Exclude     []string      `yaml:"exclude,omitempty"`
	Destination string        `yaml:"destination"` // Path, /mnt/user/<share>/..., or share:<name>
	// MountPoint is the mount checked for a direct destination path.
	// Defaults to the destination itself.
	MountPoint       string `yaml:"mount_point,omitempty"`
	PrimaryOnly      bool   `yaml:"primary_only"`
	Compress         bool   `yaml:"compress"`
	CompressionLevel int    `yaml:"compression_level"`
	Retention        `yaml:",inline"`
	MaxUsagePercent  int `yaml:"max_usage_percent"` // Ceiling for the destination mount
}

// ArchiveConfig configures the libvirt configuration archive.
type ArchiveConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Destination string `yaml:"destination"`
	Retention   `yaml:",inline"`
}

// LoggingConfig configures console and per-run file logging.
type LoggingConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"` // auto, console, or json
	Dir       string `yaml:"dir"`    // Empty disables the run log file
	Retention `yaml:",inline"`
}

// MetricsConfig configures the node_exporter textfile output.
type MetricsConfig struct {
	Textfile string `yaml:"textfile,omitempty"`
}

// UnraidConfig locates the Unraid share settings.
type UnraidConfig struct {
	SharesIni string `yaml:"shares_ini"`
	MountRoot string `yaml:"mount_root"`
}

// DefaultConfig returns a new Config populated with default values.
// Each call returns a distinct instance.
func DefaultConfig() *Config {
	return &Config{
		Libvirt: LibvirtConfig{
			Socket:         "/var/run/libvirt/libvirt-sock",
			TimeoutSeconds: 5,
			ConfigDir:      "/etc/libvirt",
		},
		DomainsDir:    "/mnt/cache/domains",
		SourceMount:   "/mnt/cache",
		DiskExtension: "img",
		Snapshot: SnapshotConfig{
			Retention:       Retention{Keep: 3},
			MaxUsagePercent: 90,
		},
		Backup: BackupConfig{
			Compress:         true,
			CompressionLevel: 3,
			Retention:        Retention{Keep: 3},
			MaxUsagePercent:  90,
		},
		ConfigArchive: ArchiveConfig{
			Retention: Retention{Keep: 7},
		},
		Logging: LoggingConfig{
			Level:     "info",
			Format:    "auto",
			Dir:       "/var/log/vmkeep",
			Retention: Retention{Keep: 10},
		},
		Unraid: UnraidConfig{
			SharesIni: "/var/local/emhttp/shares.ini",
			MountRoot: "/mnt",
		},
	}
}

// LoadFromFile loads a configuration from a YAML file. Keys missing from
// the file keep their DefaultConfig values; VMKEEP_* environment variables
// are applied on top.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Configuration("load_config", path, fmt.Errorf("failed to read config file: %w", err))
	}
	return Parse(data)
}

// Parse decodes, normalizes, and validates a YAML configuration document.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errs.Configuration("load_config", "", fmt.Errorf("failed to parse YAML: %w", err))
	}

	if err := ApplyEnvOverrides(cfg); err != nil {
		return nil, errs.Configuration("load_config", "", err)
	}

	// Normalize user input before validation
	cfg.Normalize()

	if err := cfg.Validate(); err != nil {
		return nil, errs.Configuration("load_config", "", fmt.Errorf("invalid configuration: %w", err))
	}
	return cfg, nil
}

// ApplyEnvOverrides updates cfg in place with values from environment variables.
// Recognized variables:
//   - VMKEEP_LIBVIRT_SOCKET overrides cfg.Libvirt.Socket
//   - VMKEEP_LOG_LEVEL overrides cfg.Logging.Level
//   - VMKEEP_LOG_DIR overrides cfg.Logging.Dir
//   - VMKEEP_BACKUP_DESTINATION overrides cfg.Backup.Destination
//   - VMKEEP_DRY_RUN overrides cfg.DryRun
func ApplyEnvOverrides(cfg *Config) error {
	if socket := os.Getenv("VMKEEP_LIBVIRT_SOCKET"); socket != "" {
		cfg.Libvirt.Socket = socket
	}
	if level := os.Getenv("VMKEEP_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	if dir := os.Getenv("VMKEEP_LOG_DIR"); dir != "" {
		cfg.Logging.Dir = dir
	}
	if dest := os.Getenv("VMKEEP_BACKUP_DESTINATION"); dest != "" {
		cfg.Backup.Destination = dest
	}
	if raw := os.Getenv("VMKEEP_DRY_RUN"); raw != "" {
		dryRun, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("VMKEEP_DRY_RUN: %w", err)
		}
		cfg.DryRun = dryRun
	}
	return nil
}

// Normalize sanitizes user input to consistent formats.
// This is called automatically by LoadFromFile before validation.
func (c *Config) Normalize() {
	c.DiskExtension = strings.TrimPrefix(strings.TrimSpace(c.DiskExtension), ".")
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = "auto"
	}

	for _, p := range []*string{
		&c.DomainsDir, &c.SourceMount, &c.Libvirt.ConfigDir,
		&c.Backup.MountPoint, &c.ConfigArchive.Destination, &c.Logging.Dir,
	} {
		if *p != "" {
			*p = filepath.Clean(strings.TrimSpace(*p))
		}
	}
	c.Backup.Destination = strings.TrimSpace(c.Backup.Destination)
}

// Validate checks the configuration for errors.
// Does not check the host (mounts, tools, VMs) - only config structure.
func (c *Config) Validate() error {
	if c.Libvirt.TimeoutSeconds <= 0 {
		return fmt.Errorf("libvirt.timeout_seconds must be > 0, got %d", c.Libvirt.TimeoutSeconds)
	}
	if c.DiskExtension == "" {
		return fmt.Errorf("disk_extension is required")
	}
	if strings.ContainsAny(c.DiskExtension, `/*?[\`) {
		return fmt.Errorf("disk_extension must be a plain extension, got %q", c.DiskExtension)
	}

	if c.Snapshot.Enabled || c.Backup.Enabled {
		if err := requireAbs("domains_dir", c.DomainsDir); err != nil {
			return err
		}
		if err := requireAbs("source_mount", c.SourceMount); err != nil {
			return err
		}
		// Backup clones land on the source mount too, under the same ceiling.
		if err := validatePercent(c.Snapshot.MaxUsagePercent); err != nil {
			return fmt.Errorf("snapshot: %w", err)
		}
	}

	if c.Snapshot.Enabled {
		if err := c.Snapshot.Validate(); err != nil {
			return fmt.Errorf("snapshot: %w", err)
		}
	}
	if c.Backup.Enabled {
		if err := c.Backup.Validate(); err != nil {
			return fmt.Errorf("backup: %w", err)
		}
	}
	if c.ConfigArchive.Enabled {
		if err := c.ConfigArchive.Validate(); err != nil {
			return fmt.Errorf("config_archive: %w", err)
		}
		if err := requireAbs("libvirt.config_dir", c.Libvirt.ConfigDir); err != nil {
			return err
		}
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	return nil
}

// Validate checks retention bounds.
func (r *Retention) Validate() error {
	if r.Keep < 1 {
		return fmt.Errorf("keep must be >= 1, got %d", r.Keep)
	}
	if r.MaxAgeDays < 0 {
		return fmt.Errorf("max_age_days must be >= 0, got %d", r.MaxAgeDays)
	}
	return nil
}

// Validate checks snapshot configuration.
func (s *SnapshotConfig) Validate() error {
	if err := s.Retention.Validate(); err != nil {
		return err
	}
	return validatePercent(s.MaxUsagePercent)
}

// Validate checks backup configuration.
func (b *BackupConfig) Validate() error {
	if b.Destination == "" {
		return fmt.Errorf("destination is required")
	}
	if err := b.Retention.Validate(); err != nil {
		return err
	}
	if b.Compress && (b.CompressionLevel < 1 || b.CompressionLevel > 22) {
		return fmt.Errorf("compression_level must be between 1 and 22, got %d", b.CompressionLevel)
	}
	if b.MountPoint != "" && !filepath.IsAbs(b.MountPoint) {
		return fmt.Errorf("mount_point must be an absolute path, got %q", b.MountPoint)
	}
	return validatePercent(b.MaxUsagePercent)
}

// Validate checks config archive configuration.
func (a *ArchiveConfig) Validate() error {
	if err := requireAbs("destination", a.Destination); err != nil {
		return err
	}
	return a.Retention.Validate()
}

// Validate checks logging configuration.
func (l *LoggingConfig) Validate() error {
	switch l.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("level must be one of debug, info, warn, error, got %q", l.Level)
	}
	switch l.Format {
	case "auto", "console", "json":
	default:
		return fmt.Errorf("format must be one of auto, console, json, got %q", l.Format)
	}
	if l.Dir == "" {
		return nil
	}
	if !filepath.IsAbs(l.Dir) {
		return fmt.Errorf("dir must be an absolute path, got %q", l.Dir)
	}
	return l.Retention.Validate()
}

func validatePercent(pct int) error {
	if pct < 1 || pct > 100 {
		return fmt.Errorf("max_usage_percent must be between 1 and 100, got %d", pct)
	}
	return nil
}

func requireAbs(field, path string) error {
	if path == "" {
		return fmt.Errorf("%s is required", field)
	}
	if !filepath.IsAbs(path) {
		return fmt.Errorf("%s must be an absolute path, got %q", field, path)
	}
	return nil
}

// Policy converts the retention settings to a rotation policy.
func (r Retention) Policy() rotation.Policy {
	return rotation.Policy{MaxAgeDays: r.MaxAgeDays, MaxCount: r.Keep}
}

// SnapshotSelection returns the VM selection for the snapshot job.
func (c *Config) SnapshotSelection() target.Selection {
	return target.Selection{Policy: c.Snapshot.VMs, Exclude: c.Snapshot.Exclude}
}

// BackupSelection returns the VM selection for the backup job.
func (c *Config) BackupSelection() target.Selection {
	return target.Selection{Policy: c.Backup.VMs, Exclude: c.Backup.Exclude}
}

// LibvirtTimeout returns the daemon dial timeout.
func (c *Config) LibvirtTimeout() time.Duration {
	return time.Duration(c.Libvirt.TimeoutSeconds) * time.Second
}

// ErrNoJobs is returned when every job is disabled.
var ErrNoJobs = errors.New("no jobs enabled")

// AnyJobEnabled reports whether at least one job would run.
func (c *Config) AnyJobEnabled() bool {
	return c.Snapshot.Enabled || c.Backup.Enabled || c.ConfigArchive.Enabled
}
