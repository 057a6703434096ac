// Package mount guards every write vmkeep makes: the source and destination
// must be real mount points on a filesystem that supports reflink clones,
// and must have room below a configured usage ceiling.
package mount

import (
	"context"
	"fmt"
	"strings"
)

// FailureKind classifies a failed mount check.
type FailureKind string

const (
	// NotAMount means the path is not itself a mount point.
	NotAMount FailureKind = "not_a_mount"
	// UnknownFsType means the filesystem type could not be read.
	UnknownFsType FailureKind = "unknown_fs_type"
	// UnsupportedFsType means the filesystem is neither btrfs nor xfs.
	UnsupportedFsType FailureKind = "unsupported_fs_type"
	// NoReflinkSupport means xfs was created without reflink=1.
	NoReflinkSupport FailureKind = "no_reflink_support"
)

// MountError reports why a path failed CheckMount.
type MountError struct {
	Kind   FailureKind
	Path   string
	FsType string
	Err    error
}

func (e *MountError) Error() string {
	var msg string
	switch e.Kind {
	case NotAMount:
		msg = fmt.Sprintf("%s is not a mount point", e.Path)
	case UnknownFsType:
		msg = fmt.Sprintf("cannot determine filesystem type of %s", e.Path)
	case UnsupportedFsType:
		msg = fmt.Sprintf("%s is on %s; only btrfs and xfs with reflink are supported", e.Path, e.FsType)
	case NoReflinkSupport:
		msg = fmt.Sprintf("%s is xfs without reflink support", e.Path)
	default:
		msg = fmt.Sprintf("mount check failed for %s", e.Path)
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *MountError) Unwrap() error {
	return e.Err
}

// UsageError reports a filesystem above its usage ceiling.
type UsageError struct {
	Path   string
	Actual int
	Max    int
}

func (e *UsageError) Error() string {
	return fmt.Sprintf("%s is %d%% full, above the %d%% limit", e.Path, e.Actual, e.Max)
}

// Gate runs mount and usage checks through a Probe.
type Gate struct {
	probe Probe
}

// NewGate creates a gate backed by probe.
func NewGate(probe Probe) *Gate {
	return &Gate{probe: probe}
}

// CheckMount verifies path is a mount point on btrfs, or on xfs with
// reflink enabled.
func (g *Gate) CheckMount(ctx context.Context, path string) error {
	mounted, err := g.probe.IsMountPoint(ctx, path)
	if err != nil {
		return &MountError{Kind: NotAMount, Path: path, Err: err}
	}
	if !mounted {
		return &MountError{Kind: NotAMount, Path: path}
	}

	fsType, err := g.probe.FilesystemType(ctx, path)
	if err != nil {
		return &MountError{Kind: UnknownFsType, Path: path, Err: err}
	}
	fsType = strings.ToLower(strings.TrimSpace(fsType))

	switch fsType {
	case "":
		return &MountError{Kind: UnknownFsType, Path: path}
	case "btrfs":
		return nil
	case "xfs":
		reflink, err := g.probe.ReflinkEnabled(ctx, path)
		if err != nil {
			return &MountError{Kind: NoReflinkSupport, Path: path, FsType: fsType, Err: err}
		}
		if !reflink {
			return &MountError{Kind: NoReflinkSupport, Path: path, FsType: fsType}
		}
		return nil
	default:
		return &MountError{Kind: UnsupportedFsType, Path: path, FsType: fsType}
	}
}

// CheckUsage fails when the filesystem holding path is more than maxPct
// percent full. Usage exactly at the ceiling passes.
func (g *Gate) CheckUsage(ctx context.Context, path string, maxPct int) error {
	actual, err := g.probe.UsagePercent(ctx, path)
	if err != nil {
		return fmt.Errorf("failed to check usage of %s: %w", path, err)
	}
	if actual > maxPct {
		return &UsageError{Path: path, Actual: actual, Max: maxPct}
	}
	return nil
}
