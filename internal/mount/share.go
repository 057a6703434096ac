package mount

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	errs "github.com/jbweber/vmkeep/internal/errors"
)

const (
	// SharePrefix marks a destination given as an Unraid user share name.
	SharePrefix = "share:"

	// DefaultSharesIni is where Unraid publishes the user share settings.
	DefaultSharesIni = "/var/local/emhttp/shares.ini"

	// DefaultMountRoot is the parent of every Unraid pool and share mount.
	DefaultMountRoot = "/mnt"
)

// Destination is a backup destination translated to a physical location.
type Destination struct {
	// Path is the directory artifacts are written to.
	Path string
	// MountPoint is the mount that Path lives on and that gets checked.
	MountPoint string
	// Share is the user share name when the destination was given as one.
	Share string
}

// ShareMapper translates Unraid user share references into the physical
// pool mount that backs them. User share paths (/mnt/user/...) sit on the
// shfs FUSE layer, which cannot reflink, so writes must target the pool.
type ShareMapper struct {
	sharesIni string
	mountRoot string
}

// NewShareMapper creates a mapper reading share settings from sharesIni.
func NewShareMapper(sharesIni, mountRoot string) *ShareMapper {
	if sharesIni == "" {
		sharesIni = DefaultSharesIni
	}
	if mountRoot == "" {
		mountRoot = DefaultMountRoot
	}
	return &ShareMapper{sharesIni: sharesIni, mountRoot: mountRoot}
}

// Resolve translates dest. Accepted forms:
//
//	share:<name>[/<subdir>]       a user share by name
//	<root>/user/<name>[/<subdir>] a user share by its FUSE path
//	any other absolute path       used as is, checked at mountPoint
//
// mountPoint overrides the checked mount for direct paths and defaults to
// dest itself.
func (m *ShareMapper) Resolve(dest, mountPoint string) (Destination, error) {
	share, sub, ok := m.splitShare(dest)
	if !ok {
		if !filepath.IsAbs(dest) {
			return Destination{}, errs.Configuration("resolve_destination", dest, errors.New("destination must be an absolute path or share:<name>"))
		}
		if mountPoint == "" {
			mountPoint = dest
		}
		return Destination{Path: filepath.Clean(dest), MountPoint: filepath.Clean(mountPoint)}, nil
	}

	pool, err := m.cachePool(share)
	if err != nil {
		return Destination{}, err
	}
	poolMount := filepath.Join(m.mountRoot, pool)
	return Destination{
		Path:       filepath.Join(poolMount, share, sub),
		MountPoint: poolMount,
		Share:      share,
	}, nil
}

func (m *ShareMapper) splitShare(dest string) (share, sub string, ok bool) {
	var rest string
	switch {
	case strings.HasPrefix(dest, SharePrefix):
		rest = strings.TrimPrefix(dest, SharePrefix)
	case strings.HasPrefix(filepath.Clean(dest), filepath.Join(m.mountRoot, "user")+"/"):
		rest = strings.TrimPrefix(filepath.Clean(dest), filepath.Join(m.mountRoot, "user")+"/")
	default:
		return "", "", false
	}
	rest = strings.Trim(rest, "/")
	share, sub, _ = strings.Cut(rest, "/")
	return share, sub, true
}

func (m *ShareMapper) cachePool(share string) (string, error) {
	if share == "" {
		return "", errs.Configuration("resolve_share", "", errors.New("share name is empty"))
	}

	sections, err := parseSectionedIni(m.sharesIni)
	if err != nil {
		return "", errs.Configuration("resolve_share", share, err)
	}

	var matches []iniSection
	for _, s := range sections {
		if s.name == share || stripQuotes(s.kv["name"]) == share {
			matches = append(matches, s)
		}
	}
	switch len(matches) {
	case 0:
		return "", errs.Configuration("resolve_share", share, fmt.Errorf("no share named %q in %s", share, m.sharesIni))
	case 1:
	default:
		return "", errs.Configuration("resolve_share", share, fmt.Errorf("%d sections match share %q in %s", len(matches), share, m.sharesIni))
	}

	if strings.EqualFold(stripQuotes(matches[0].kv["useCache"]), "no") {
		return "", errs.Configuration("resolve_share", share, errors.New("share is not assigned to a pool"))
	}
	pool := stripQuotes(matches[0].kv["cachePool"])
	if pool == "" {
		return "", errs.Configuration("resolve_share", share, errors.New("share has no cachePool"))
	}
	return pool, nil
}

type iniSection struct {
	name string
	kv   map[string]string
}

// parseSectionedIni reads an emhttp-style ini file of [section] blocks with
// key="value" lines.
func parseSectionedIni(path string) ([]iniSection, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	var sections []iniSection
	currentIdx := -1

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ";") || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			name := stripQuotes(line[1 : len(line)-1])
			sections = append(sections, iniSection{name: name, kv: make(map[string]string)})
			currentIdx = len(sections) - 1
			continue
		}
		if currentIdx < 0 {
			continue
		}
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		sections[currentIdx].kv[strings.TrimSpace(key)] = strings.TrimSpace(val)
	}
	return sections, scanner.Err()
}

// stripQuotes removes surrounding double-quotes from a raw ini value.
func stripQuotes(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}
