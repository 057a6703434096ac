package backup

import (
	"context"

	"github.com/jbweber/vmkeep/internal/mount"
	"github.com/jbweber/vmkeep/internal/rotation"
)

// Inventory lists VMs and returns their definitions.
//
// In production, this is satisfied by *libvirt.Inventory.
// In tests, this is satisfied by mock implementations.
type Inventory interface {
	// ListNames returns every defined VM
	ListNames(ctx context.Context) ([]string, error)

	// DumpXML returns a VM's domain definition
	DumpXML(ctx context.Context, name string) (string, error)
}

// Gate checks mounts and usage before writes.
//
// In production, this is satisfied by *mount.Gate.
type Gate interface {
	// CheckMount verifies path is a reflink-capable mount point
	CheckMount(ctx context.Context, path string) error

	// CheckUsage verifies the filesystem at path is at most maxPct full
	CheckUsage(ctx context.Context, path string, maxPct int) error
}

// FileOps are the file primitives the jobs are built from.
//
// In production, this is satisfied by *fileops.Ops.
type FileOps interface {
	// Clone creates dst as a reflink clone of src
	Clone(src, dst string) error

	// Compress writes a zstd-compressed copy of src to dst
	Compress(src, dst string) error

	// Copy writes a plain copy of src to dst
	Copy(src, dst string) error

	// ArchiveDirectory writes a gzip tar of srcDir to dst
	ArchiveDirectory(srcDir, dst string) error

	// Remove deletes a file; a missing file is not an error
	Remove(path string) error
}

// Rotator applies retention policies.
//
// In production, this is satisfied by *rotation.Rotator.
type Rotator interface {
	// Rotate deletes files outside the policy
	Rotate(pop rotation.Population, policy rotation.Policy) (rotation.Result, error)

	// Plan reports what Rotate would delete once the pending files exist
	Plan(pop rotation.Population, policy rotation.Policy, pending ...string) ([]string, error)
}

// DestinationResolver translates the configured backup destination to a
// physical path and the mount it lives on.
//
// In production, this is satisfied by *mount.ShareMapper.
type DestinationResolver interface {
	Resolve(dest, mountPoint string) (mount.Destination, error)
}
