package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jbweber/vmkeep/internal/config"
	"github.com/jbweber/vmkeep/internal/disk"
	"github.com/jbweber/vmkeep/internal/libvirt"
	"github.com/jbweber/vmkeep/internal/mount"
	"github.com/jbweber/vmkeep/internal/output"
	"github.com/jbweber/vmkeep/internal/rotation"
)

var (
	disksPrimaryOnly bool
	checkMaxUsage    int
	rotateKeep       int
	rotateMaxAgeDays int
)

func init() {
	disksCmd.Flags().BoolVar(&disksPrimaryOnly, "primary", false, "show only the disk a primary-only backup would copy")
	checkMountCmd.Flags().IntVar(&checkMaxUsage, "max-usage", 0, "also fail when the filesystem is more than this percent full")
	rotateCmd.Flags().IntVar(&rotateKeep, "keep", 1, "number of newest matching files to keep")
	rotateCmd.Flags().IntVar(&rotateMaxAgeDays, "max-age-days", 0, "delete matching files at least this many days old (0 disables)")
}

// connect dials libvirt with the configured socket and timeout.
func connect(ctx context.Context, cfg *config.Config) (*libvirt.Client, error) {
	client, err := libvirt.Connect(ctx, libvirt.Options{
		Socket:  cfg.Libvirt.Socket,
		Timeout: cfg.LibvirtTimeout(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to libvirt: %w", err)
	}
	return client, nil
}

func closeClient(client *libvirt.Client) {
	if closeErr := client.Close(); closeErr != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to close libvirt connection: %v\n", closeErr)
	}
}

var disksCmd = &cobra.Command{
	Use:   "disks <vm-name>",
	Short: "List a VM's managed disks in boot order",
	Long: `Read a VM's persistent libvirt definition and list the file-backed disks
carrying the managed extension (disk_extension), sorted by boot order.
Disks without a boot order sort last.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		vmName := args[0]

		formatter, err := newFormatter()
		if err != nil {
			return err
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		ctx := context.Background()
		client, err := connect(ctx, cfg)
		if err != nil {
			return err
		}
		defer closeClient(client)

		xml, err := libvirt.NewInventory(client.Libvirt()).DumpXML(ctx, vmName)
		if err != nil {
			return err
		}
		descs, err := disk.Discover(xml, cfg.DiskExtension)
		if err != nil {
			return fmt.Errorf("failed to read disks of %s: %w", vmName, err)
		}
		if disksPrimaryOnly {
			if primary, ok := disk.Primary(descs); ok {
				descs = []disk.Descriptor{primary}
			}
		}

		result, err := formatter.FormatDisks(output.DiskList{VM: vmName, Disks: descs})
		if err != nil {
			return fmt.Errorf("failed to format output: %w", err)
		}
		fmt.Print(result)
		return nil
	},
}

var checkMountCmd = &cobra.Command{
	Use:   "check-mount <path>",
	Short: "Check that a path can hold snapshots or backups",
	Long: `Verify that path is a mount point on btrfs, or on xfs with reflink
enabled, and report its filesystem type and usage.

Example:
  vmkeep check-mount /mnt/disk1 --max-usage 90`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := filepath.Clean(args[0])
		ctx := context.Background()

		probe := mount.NewSystemProbe()
		gate := mount.NewGate(probe)

		if err := gate.CheckMount(ctx, path); err != nil {
			return err
		}
		fsType, err := probe.FilesystemType(ctx, path)
		if err != nil {
			return err
		}
		fmt.Printf("✓ %s is a %s mount with reflink support\n", path, fsType)

		usage, err := probe.UsagePercent(ctx, path)
		if err != nil {
			return err
		}
		fmt.Printf("✓ Usage: %d%%\n", usage)

		if checkMaxUsage > 0 {
			if err := gate.CheckUsage(ctx, path, checkMaxUsage); err != nil {
				return err
			}
			fmt.Printf("✓ Below the %d%% limit\n", checkMaxUsage)
		}
		return nil
	},
}

var rotateCmd = &cobra.Command{
	Use:   "rotate <dir> <pattern>",
	Short: "Apply a retention policy to files in a directory",
	Long: `Delete files in dir whose names match pattern (filepath.Match syntax,
not recursive) that are at least --max-age-days old, then delete the oldest
remaining files beyond --keep.

Example:
  vmkeep rotate /mnt/disk1/backups/vm1 '*-vdisk1.img.zst' --keep 3 --dry-run`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		formatter, err := newFormatter()
		if err != nil {
			return err
		}

		pop := rotation.Population{Dir: filepath.Clean(args[0]), Pattern: args[1]}
		policy := rotation.Policy{MaxAgeDays: rotateMaxAgeDays, MaxCount: rotateKeep}
		if err := policy.Validate(); err != nil {
			return err
		}

		view := output.RotationView{Dir: pop.Dir, Pattern: pop.Pattern, DryRun: dryRun}
		rotator := rotation.New()
		if dryRun {
			view.Deleted, err = rotator.Plan(pop, policy)
			if err != nil {
				return err
			}
		} else {
			result, err := rotator.Rotate(pop, policy)
			if err != nil {
				return err
			}
			view.Deleted = result.Deleted
			for _, w := range result.Warnings {
				view.Warnings = append(view.Warnings, w.Error())
			}
		}

		result, err := formatter.FormatRotation(view)
		if err != nil {
			return fmt.Errorf("failed to format output: %w", err)
		}
		fmt.Print(result)
		if len(view.Warnings) > 0 {
			return fmt.Errorf("%d files could not be deleted", len(view.Warnings))
		}
		return nil
	},
}

var testConnCmd = &cobra.Command{
	Use:   "test-conn",
	Short: "Test libvirt connection",
	Long:  `Test connectivity to the libvirt daemon and display version information.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		fmt.Println("Testing libvirt connection...")

		ctx := context.Background()
		client, err := connect(ctx, cfg)
		if err != nil {
			return err
		}
		defer closeClient(client)

		fmt.Printf("✓ Connected to libvirt daemon at %s\n", client.Socket())

		version, err := client.Ping()
		if err != nil {
			return fmt.Errorf("connection test failed: %w", err)
		}
		fmt.Printf("✓ Libvirt version: %s\n", version)

		hostname, err := client.Libvirt().ConnectGetHostname()
		if err != nil {
			return fmt.Errorf("failed to get hostname: %w", err)
		}
		fmt.Printf("✓ Hypervisor hostname: %s\n", hostname)

		names, err := libvirt.NewInventory(client.Libvirt()).ListNames(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("✓ Defined VMs: %d\n", len(names))

		fmt.Println("\nConnection test successful!")
		return nil
	},
}

var showConfigCmd = &cobra.Command{
	Use:   "show-config",
	Short: "Print the effective configuration",
	Long: `Print the configuration after defaults, the config file, VMKEEP_*
environment variables, and global flags have been applied.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("failed to marshal config: %w", err)
		}
		fmt.Print(string(data))
		return nil
	},
}
