// Package naming provides the file naming conventions for every on-disk
// artifact vmkeep produces: reflink snapshots, backup copies, libvirt
// configuration archives, and per-run log files.
//
// Each artifact family has a Name function that generates a new name and a
// Pattern function that matches exactly that family, so retention can list a
// directory without touching unrelated files.
package naming

import (
	"path/filepath"
	"strings"
	"time"
)

const (
	// SnapshotTimeLayout is the compact timestamp embedded in snapshot names.
	SnapshotTimeLayout = "20060102150405"

	// RunTimeLayout is the timestamp embedded in backup, archive, and log names.
	RunTimeLayout = "2006-01-02_150405"

	snapshotMarker = "_snapshot_"
	snapshotSuffix = ".fullsnap"
	compressedExt  = ".zst"
	tempCloneExt   = ".vmkeep-tmp"
	archivePrefix  = "libvirt-backup-"
	archiveSuffix  = ".tar.gz"
	logPrefix      = "backup-"
	logSuffix      = ".log"
)

// runStampGlob matches any RunTimeLayout timestamp.
const runStampGlob = "????-??-??_??????"

// snapshotStampGlob matches any SnapshotTimeLayout timestamp.
const snapshotStampGlob = "??????????????"

// SnapshotName returns the path of a snapshot of diskPath taken at t.
// The snapshot lives next to the image it was cloned from.
// Format: {diskPath}_snapshot_{YYYYMMDDHHMMSS}.fullsnap
func SnapshotName(diskPath string, t time.Time) string {
	return diskPath + snapshotMarker + t.Format(SnapshotTimeLayout) + snapshotSuffix
}

// SnapshotPattern returns a filepath.Match pattern that matches every
// snapshot generation of the image with base name diskBase.
func SnapshotPattern(diskBase string) string {
	return EscapeGlob(diskBase) + snapshotMarker + snapshotStampGlob + snapshotSuffix
}

// BackupName returns the base name of a backup copy of the image diskBase.
// Format: {YYYY-MM-DD_HHMMSS}-{diskBase}[.zst]
func BackupName(diskBase string, t time.Time, compressed bool) string {
	name := t.Format(RunTimeLayout) + "-" + diskBase
	if compressed {
		name += compressedExt
	}
	return name
}

// BackupPattern matches every backup generation of diskBase written with the
// given compression setting.
func BackupPattern(diskBase string, compressed bool) string {
	pattern := runStampGlob + "-" + EscapeGlob(diskBase)
	if compressed {
		pattern += compressedExt
	}
	return pattern
}

// TempCloneName returns the path of the transient clone used as the
// consistent source of a backup copy.
func TempCloneName(diskPath string) string {
	return diskPath + tempCloneExt
}

// ArchiveName returns the base name of a libvirt configuration archive.
func ArchiveName(t time.Time) string {
	return archivePrefix + t.Format(RunTimeLayout) + archiveSuffix
}

// ArchivePattern matches every configuration archive generation.
func ArchivePattern() string {
	return archivePrefix + runStampGlob + archiveSuffix
}

// LogName returns the base name of the log file for a run started at t.
func LogName(t time.Time) string {
	return logPrefix + t.Format(RunTimeLayout) + logSuffix
}

// LogPattern matches every run log file.
func LogPattern() string {
	return logPrefix + runStampGlob + logSuffix
}

// HasExtension reports whether path carries the managed image extension ext
// (given without a leading dot).
func HasExtension(path, ext string) bool {
	if ext == "" {
		return false
	}
	return strings.HasSuffix(filepath.Base(path), "."+ext)
}

// EscapeGlob escapes the filepath.Match metacharacters in s so s matches
// only itself.
func EscapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
