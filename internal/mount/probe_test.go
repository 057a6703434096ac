package mount

import (
	"context"
	"errors"
	"testing"

	godisk "github.com/shirou/gopsutil/v4/disk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stubSystemCalls(t *testing.T, partitions []godisk.PartitionStat, usedPercent float64, xfsOut string, xfsErr error) {
	t.Helper()
	origPartitions, origUsage, origXFS := diskPartitions, diskUsage, runXFSInfo
	t.Cleanup(func() {
		diskPartitions, diskUsage, runXFSInfo = origPartitions, origUsage, origXFS
	})

	diskPartitions = func(ctx context.Context, all bool) ([]godisk.PartitionStat, error) {
		return partitions, nil
	}
	diskUsage = func(ctx context.Context, path string) (*godisk.UsageStat, error) {
		return &godisk.UsageStat{Path: path, UsedPercent: usedPercent}, nil
	}
	runXFSInfo = func(ctx context.Context, path string) ([]byte, error) {
		return []byte(xfsOut), xfsErr
	}
}

const xfsInfoReflink = `meta-data=/dev/nvme0n1p1         isize=512    agcount=4, agsize=61047597 blks
         =                       sectsz=512   attr=2, projid32bit=1
         =                       crc=1        finobt=1, sparse=1, rmapbt=0
         =                       reflink=1    bigtime=1 inobtcount=1 nrext64=0
data     =                       bsize=4096   blocks=244190385, imaxpct=25
`

func TestSystemProbeMountTable(t *testing.T) {
	stubSystemCalls(t, []godisk.PartitionStat{
		{Device: "/dev/sdb1", Mountpoint: "/mnt/cache", Fstype: "btrfs"},
		{Device: "shfs", Mountpoint: "/mnt/user", Fstype: "fuse.shfs"},
	}, 0, "", nil)

	p := NewSystemProbe()
	ctx := context.Background()

	mounted, err := p.IsMountPoint(ctx, "/mnt/cache/")
	require.NoError(t, err)
	assert.True(t, mounted)

	mounted, err = p.IsMountPoint(ctx, "/mnt/cache/domains")
	require.NoError(t, err)
	assert.False(t, mounted)

	fsType, err := p.FilesystemType(ctx, "/mnt/user")
	require.NoError(t, err)
	assert.Equal(t, "fuse.shfs", fsType)

	fsType, err = p.FilesystemType(ctx, "/nowhere")
	require.NoError(t, err)
	assert.Empty(t, fsType)

	tools, err := p.RequiredTools(ctx)
	require.NoError(t, err)
	assert.Empty(t, tools, "xfs_info is not needed without xfs mounts")
}

func TestSystemProbeReflink(t *testing.T) {
	tests := []struct {
		name    string
		out     string
		err     error
		want    bool
		wantErr bool
	}{
		{name: "reflink enabled", out: xfsInfoReflink, want: true},
		{name: "reflink disabled", out: "         =   reflink=0    bigtime=0\n", want: false},
		{name: "old xfs_info without flag", out: "meta-data=/dev/sdc1 isize=256\n", want: false},
		{name: "command fails", out: "xfs_info: /mnt/x is not a mounted XFS filesystem", err: errors.New("exit status 1"), wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stubSystemCalls(t, nil, 0, tt.out, tt.err)
			got, err := NewSystemProbe().ReflinkEnabled(context.Background(), "/mnt/x")
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "not a mounted XFS filesystem")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSystemProbeUsageRoundsUp(t *testing.T) {
	stubSystemCalls(t, nil, 90.01, "", nil)
	pct, err := NewSystemProbe().UsagePercent(context.Background(), "/mnt/cache")
	require.NoError(t, err)
	assert.Equal(t, 91, pct)
}

func TestSystemProbeRequiresXFSInfoOnXFSHosts(t *testing.T) {
	stubSystemCalls(t, []godisk.PartitionStat{
		{Device: "/dev/md1", Mountpoint: "/mnt/disk1", Fstype: "xfs"},
	}, 0, "", nil)
	tools, err := NewSystemProbe().RequiredTools(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{XFSInfoTool}, tools)
}
