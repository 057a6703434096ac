package mount

import (
	"context"
	"fmt"
	"math"
	"os/exec"
	"path/filepath"
	"strings"

	godisk "github.com/shirou/gopsutil/v4/disk"
)

// System call wrappers for testing
var (
	diskPartitions = godisk.PartitionsWithContext
	diskUsage      = godisk.UsageWithContext
	runXFSInfo     = func(ctx context.Context, path string) ([]byte, error) {
		return exec.CommandContext(ctx, "xfs_info", path).CombinedOutput()
	}
)

// XFSInfoTool is the external command used to read XFS feature flags.
const XFSInfoTool = "xfs_info"

// Probe answers the filesystem questions the Gate asks.
type Probe interface {
	IsMountPoint(ctx context.Context, path string) (bool, error)
	FilesystemType(ctx context.Context, path string) (string, error)
	ReflinkEnabled(ctx context.Context, path string) (bool, error)
	UsagePercent(ctx context.Context, path string) (int, error)
}

// SystemProbe is the production Probe, backed by the host mount table.
type SystemProbe struct{}

// NewSystemProbe returns a probe for the local host.
func NewSystemProbe() *SystemProbe {
	return &SystemProbe{}
}

func (p *SystemProbe) partition(ctx context.Context, path string) (*godisk.PartitionStat, error) {
	partitions, err := diskPartitions(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("failed to read mount table: %w", err)
	}

	clean := filepath.Clean(path)
	var found *godisk.PartitionStat
	for i := range partitions {
		// Later entries shadow earlier ones mounted at the same point.
		if filepath.Clean(partitions[i].Mountpoint) == clean {
			found = &partitions[i]
		}
	}
	return found, nil
}

// IsMountPoint reports whether path is itself a mount point.
func (p *SystemProbe) IsMountPoint(ctx context.Context, path string) (bool, error) {
	part, err := p.partition(ctx, path)
	if err != nil {
		return false, err
	}
	return part != nil, nil
}

// FilesystemType returns the filesystem mounted at path, or "" when path is
// not a mount point.
func (p *SystemProbe) FilesystemType(ctx context.Context, path string) (string, error) {
	part, err := p.partition(ctx, path)
	if err != nil {
		return "", err
	}
	if part == nil {
		return "", nil
	}
	return part.Fstype, nil
}

// ReflinkEnabled reports whether the XFS filesystem at path was created
// with reflink support.
func (p *SystemProbe) ReflinkEnabled(ctx context.Context, path string) (bool, error) {
	out, err := runXFSInfo(ctx, path)
	if err != nil {
		return false, fmt.Errorf("%s %s failed: %w (output: %s)", XFSInfoTool, path, err, strings.TrimSpace(string(out)))
	}
	return parseReflink(string(out)), nil
}

// UsagePercent returns the used share of the filesystem at path, rounded up
// to a whole percent the way df reports it.
func (p *SystemProbe) UsagePercent(ctx context.Context, path string) (int, error) {
	usage, err := diskUsage(ctx, path)
	if err != nil {
		return 0, fmt.Errorf("failed to read usage of %s: %w", path, err)
	}
	return int(math.Ceil(usage.UsedPercent)), nil
}

// RequiredTools lists the external commands the probe will run on this host.
// xfs_info is only needed when an XFS filesystem is mounted.
func (p *SystemProbe) RequiredTools(ctx context.Context) ([]string, error) {
	partitions, err := diskPartitions(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("failed to read mount table: %w", err)
	}
	for _, part := range partitions {
		if strings.EqualFold(part.Fstype, "xfs") {
			return []string{XFSInfoTool}, nil
		}
	}
	return nil, nil
}

// parseReflink looks for the reflink flag in xfs_info output, e.g.
// "         =                       reflink=1    bigtime=1".
func parseReflink(out string) bool {
	for _, field := range strings.Fields(out) {
		if strings.HasPrefix(field, "reflink=") {
			return strings.TrimPrefix(field, "reflink=") == "1"
		}
	}
	return false
}
