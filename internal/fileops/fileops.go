// Package fileops holds the file primitives the backup jobs are built from:
// reflink clones, zstd-compressed or plain copies, gzip tar archives of a
// directory, and removal.
//
// Every primitive that produces a file writes it under a temporary name in
// the destination directory and renames it into place, so a failed or
// interrupted write never leaves a partial file under the final name.
package fileops

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
)

const (
	// DefaultCompressionLevel is the zstd level used when none is configured.
	DefaultCompressionLevel = 3

	partialSuffix = ".partial"
)

// ErrCloneUnsupported is returned when the filesystem cannot reflink.
var ErrCloneUnsupported = errors.New("reflink clone not supported")

// Ops bundles the primitives with their settings.
type Ops struct {
	compressionLevel int
}

// New creates Ops compressing at the given zstd level (1-22).
func New(compressionLevel int) *Ops {
	if compressionLevel <= 0 {
		compressionLevel = DefaultCompressionLevel
	}
	return &Ops{compressionLevel: compressionLevel}
}

// Clone creates dst as a reflink clone of src.
func (o *Ops) Clone(src, dst string) error {
	return Clone(src, dst)
}

// Compress writes a zstd-compressed copy of src to dst.
func (o *Ops) Compress(src, dst string) error {
	return Compress(src, dst, o.compressionLevel)
}

// Copy writes a byte-for-byte copy of src to dst.
func (o *Ops) Copy(src, dst string) error {
	return Copy(src, dst)
}

// ArchiveDirectory writes a gzip tar archive of srcDir to dst.
func (o *Ops) ArchiveDirectory(srcDir, dst string) error {
	return ArchiveDirectory(srcDir, dst)
}

// Remove deletes path. A missing file is not an error.
func (o *Ops) Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// Compress writes src to dst through a zstd encoder at level.
func Compress(src, dst string, level int) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer func() { _ = in.Close() }()

	return writeAtomic(dst, 0o644, func(w io.Writer) error {
		enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
		if err != nil {
			return fmt.Errorf("failed to create zstd encoder: %w", err)
		}
		if _, err := io.Copy(enc, in); err != nil {
			_ = enc.Close()
			return fmt.Errorf("failed to compress %s: %w", src, err)
		}
		if err := enc.Close(); err != nil {
			return fmt.Errorf("failed to finish zstd stream: %w", err)
		}
		return nil
	})
}

// Copy copies src to dst, keeping the source permission bits.
func Copy(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer func() { _ = in.Close() }()

	info, err := in.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", src, err)
	}

	return writeAtomic(dst, info.Mode().Perm(), func(w io.Writer) error {
		if _, err := io.Copy(w, in); err != nil {
			return fmt.Errorf("failed to copy %s: %w", src, err)
		}
		return nil
	})
}

// writeAtomic streams fill into a temporary sibling of dst and renames it
// over dst once the data is synced.
func writeAtomic(dst string, perm fs.FileMode, fill func(w io.Writer) error) (err error) {
	tmp := dst + partialSuffix
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, perm)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", tmp, err)
	}
	defer func() {
		if err != nil {
			_ = f.Close()
			_ = os.Remove(tmp)
		}
	}()

	if err = fill(f); err != nil {
		return err
	}
	if err = f.Sync(); err != nil {
		return fmt.Errorf("failed to sync %s: %w", tmp, err)
	}
	if err = f.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", tmp, err)
	}
	if err = os.Rename(tmp, dst); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to rename %s to %s: %w", tmp, filepath.Base(dst), err)
	}
	return nil
}
