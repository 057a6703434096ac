package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/jbweber/vmkeep/internal/config"
	"github.com/jbweber/vmkeep/internal/disk"
	"github.com/jbweber/vmkeep/internal/mount"
	"github.com/jbweber/vmkeep/internal/rotation"
	"github.com/jbweber/vmkeep/internal/target"
)

// runTime is the fixed start time of every test run.
var runTime = time.Date(2026, 3, 1, 2, 0, 0, 0, time.UTC)

// mockInventory is a mock implementation of the Inventory interface for testing.
type mockInventory struct {
	mu sync.Mutex

	names   []string
	xml     map[string]string
	listErr error
	dumpErr map[string]error

	listCalls int
	dumpCalls []string
}

func newMockInventory(names ...string) *mockInventory {
	return &mockInventory{
		names:   names,
		xml:     make(map[string]string),
		dumpErr: make(map[string]error),
	}
}

func (m *mockInventory) ListNames(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listCalls++
	if m.listErr != nil {
		return nil, m.listErr
	}
	return append([]string{}, m.names...), nil
}

func (m *mockInventory) DumpXML(_ context.Context, name string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dumpCalls = append(m.dumpCalls, name)
	if err := m.dumpErr[name]; err != nil {
		return "", err
	}
	xml, ok := m.xml[name]
	if !ok {
		return "", fmt.Errorf("domain not found: %s", name)
	}
	return xml, nil
}

// mockGate is a mock implementation of the Gate interface for testing.
type mockGate struct {
	mu sync.Mutex

	mountErr map[string]error
	usageErr map[string]error

	mountCalls []string
	usageCalls []string
}

func newMockGate() *mockGate {
	return &mockGate{
		mountErr: make(map[string]error),
		usageErr: make(map[string]error),
	}
}

func (m *mockGate) CheckMount(_ context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mountCalls = append(m.mountCalls, path)
	return m.mountErr[path]
}

func (m *mockGate) CheckUsage(_ context.Context, path string, maxPct int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.usageCalls = append(m.usageCalls, fmt.Sprintf("%s@%d", path, maxPct))
	return m.usageErr[path]
}

// mockFiles is a FileOps that performs plain file copies so the real
// rotator sees real files.
type mockFiles struct {
	mu sync.Mutex

	cloneFunc func(src, dst string) error

	cloneErr    error
	compressErr error
	copyErr     error
	archiveErr  error
	removeErr   error

	cloneCalls    []string
	compressCalls []string
	copyCalls     []string
	archiveCalls  []string
	removeCalls   []string
}

func newMockFiles() *mockFiles {
	return &mockFiles{}
}

func (m *mockFiles) Clone(src, dst string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cloneCalls = append(m.cloneCalls, dst)
	if m.cloneFunc != nil {
		return m.cloneFunc(src, dst)
	}
	if m.cloneErr != nil {
		return m.cloneErr
	}
	return copyFile(src, dst)
}

func (m *mockFiles) Compress(src, dst string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.compressCalls = append(m.compressCalls, dst)
	if m.compressErr != nil {
		return m.compressErr
	}
	return copyFile(src, dst)
}

func (m *mockFiles) Copy(src, dst string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.copyCalls = append(m.copyCalls, dst)
	if m.copyErr != nil {
		return m.copyErr
	}
	return copyFile(src, dst)
}

func (m *mockFiles) ArchiveDirectory(srcDir, dst string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.archiveCalls = append(m.archiveCalls, dst)
	if m.archiveErr != nil {
		return m.archiveErr
	}
	return os.WriteFile(dst, []byte("archive of "+srcDir), 0o644)
}

func (m *mockFiles) Remove(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeCalls = append(m.removeCalls, path)
	if m.removeErr != nil {
		return m.removeErr
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o644)
}

// mockDestinations resolves every destination to a fixed directory.
type mockDestinations struct {
	dest mount.Destination
	err  error

	calls []string
}

func (m *mockDestinations) Resolve(dest, _ string) (mount.Destination, error) {
	m.calls = append(m.calls, dest)
	if m.err != nil {
		return mount.Destination{}, m.err
	}
	return m.dest, nil
}

// fixture is a temporary Unraid-like host.
type fixture struct {
	root string
	cfg  *config.Config

	inventory    *mockInventory
	gate         *mockGate
	files        *mockFiles
	destinations *mockDestinations
	tools        []string
	lookPath     func(string) (string, error)
}

// newFixture lays out domains, libvirt config, archive and backup
// directories under a temp root with every job disabled.
func newFixture(t *testing.T, vms ...string) *fixture {
	t.Helper()
	root := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.SourceMount = root
	cfg.DomainsDir = filepath.Join(root, "domains")
	cfg.Libvirt.ConfigDir = filepath.Join(root, "etc", "libvirt")
	cfg.ConfigArchive.Destination = filepath.Join(root, "archives")
	cfg.Backup.Destination = filepath.Join(root, "backups")
	cfg.Logging.Dir = ""

	mustMkdir(t, cfg.DomainsDir)
	mustMkdir(t, cfg.Libvirt.ConfigDir)
	mustWrite(t, filepath.Join(cfg.Libvirt.ConfigDir, "qemu.conf"), "user = \"root\"\n")

	backupDir := filepath.Join(root, "backups")
	return &fixture{
		root:      root,
		cfg:       cfg,
		inventory: newMockInventory(vms...),
		gate:      newMockGate(),
		files:     newMockFiles(),
		destinations: &mockDestinations{
			dest: mount.Destination{Path: backupDir, MountPoint: backupDir},
		},
		lookPath: func(file string) (string, error) { return "/usr/bin/" + file, nil },
	}
}

func (f *fixture) enableSnapshot(vms ...string) {
	f.cfg.Snapshot.Enabled = true
	f.cfg.Snapshot.VMs = policyFor(vms)
}

func (f *fixture) enableBackup(vms ...string) {
	f.cfg.Backup.Enabled = true
	f.cfg.Backup.VMs = policyFor(vms)
}

func policyFor(vms []string) target.Policy {
	if len(vms) == 0 {
		return target.Policy{Mode: target.All}
	}
	return target.Policy{Mode: target.Explicit, Names: vms}
}

// addDisk creates an image under the VM's domain directory and returns
// its path.
func (f *fixture) addDisk(t *testing.T, vm, name string) string {
	t.Helper()
	dir := filepath.Join(f.cfg.DomainsDir, vm)
	mustMkdir(t, dir)
	path := filepath.Join(dir, name)
	mustWrite(t, path, "disk "+name)
	return path
}

// define registers a domain definition listing descs.
func (f *fixture) define(vm string, descs ...disk.Descriptor) {
	f.inventory.xml[vm] = domainXML(vm, descs...)
}

func (f *fixture) orchestrator() *Orchestrator {
	tools := f.tools
	deps := Deps{
		Inventory:    f.inventory,
		Gate:         f.gate,
		Files:        f.files,
		Rotator:      rotation.New(),
		Destinations: f.destinations,
		RequiredTools: func(context.Context) ([]string, error) {
			return tools, nil
		},
		LookPath: f.lookPath,
		Now:      func() time.Time { return runTime },
	}
	return New(f.cfg, zerolog.Nop(), deps)
}

func (f *fixture) run(t *testing.T) (*RunReport, error) {
	t.Helper()
	report, err := f.orchestrator().Run(context.Background(), Options{RunID: "test-run"})
	if report == nil {
		t.Fatal("Run() returned a nil report")
	}
	return report, err
}

// domainXML renders a minimal libvirt definition with file disks.
func domainXML(name string, descs ...disk.Descriptor) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<domain type='kvm'>\n  <name>%s</name>\n  <devices>\n", name)
	for _, d := range descs {
		b.WriteString("    <disk type='file' device='disk'>\n")
		b.WriteString("      <driver name='qemu' type='raw'/>\n")
		fmt.Fprintf(&b, "      <source file='%s'/>\n", d.Path)
		fmt.Fprintf(&b, "      <target dev='%s' bus='virtio'/>\n", d.Target)
		if d.BootOrder != disk.DefaultBootOrder {
			fmt.Fprintf(&b, "      <boot order='%d'/>\n", d.BootOrder)
		}
		b.WriteString("    </disk>\n")
	}
	b.WriteString("  </devices>\n</domain>\n")
	return b.String()
}

func mustMkdir(t *testing.T, dir string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("failed to create %s: %v", dir, err)
	}
}

func mustWrite(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
}

// writeAged creates path with a modification time age in the past.
func writeAged(t *testing.T, path string, age time.Duration) {
	t.Helper()
	mustWrite(t, path, "old generation")
	mtime := time.Now().Add(-age)
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatalf("failed to set mtime on %s: %v", path, err)
	}
}

// glob lists dir entries matching pattern, sorted.
func glob(t *testing.T, dir, pattern string) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		t.Fatalf("bad pattern %q: %v", pattern, err)
	}
	return matches
}
