package fileops

import (
	"archive/tar"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/gzip"
)

// ArchiveDirectory writes srcDir, recursively, to dst as a gzip-compressed
// tar. Entries are stored under the base name of srcDir, the same layout
// `tar -czf dst -C parent base` produces. Regular files, directories and
// symlinks are archived; sockets, devices and pipes are skipped.
func ArchiveDirectory(srcDir, dst string) error {
	root := filepath.Clean(srcDir)
	info, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", root, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", root)
	}
	base := filepath.Base(root)

	return writeAtomic(dst, 0o600, func(w io.Writer) error {
		gz, err := gzip.NewWriterLevel(w, gzip.DefaultCompression)
		if err != nil {
			return fmt.Errorf("failed to create gzip writer: %w", err)
		}
		tw := tar.NewWriter(gz)

		walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			return addEntry(tw, root, base, path, d)
		})
		if walkErr != nil {
			_ = tw.Close()
			_ = gz.Close()
			return fmt.Errorf("failed to archive %s: %w", root, walkErr)
		}

		if err := tw.Close(); err != nil {
			_ = gz.Close()
			return fmt.Errorf("failed to finish tar stream: %w", err)
		}
		if err := gz.Close(); err != nil {
			return fmt.Errorf("failed to finish gzip stream: %w", err)
		}
		return nil
	})
}

func addEntry(tw *tar.Writer, root, base, path string, d fs.DirEntry) error {
	info, err := d.Info()
	if err != nil {
		return err
	}

	mode := info.Mode()
	var link string
	switch {
	case mode.IsRegular(), mode.IsDir():
	case mode&fs.ModeSymlink != 0:
		if link, err = os.Readlink(path); err != nil {
			return err
		}
	default:
		return nil
	}

	rel, err := filepath.Rel(root, path)
	if err != nil {
		return err
	}

	hdr, err := tar.FileInfoHeader(info, link)
	if err != nil {
		return err
	}
	hdr.Name = filepath.ToSlash(filepath.Join(base, rel))
	if mode.IsDir() {
		hdr.Name += "/"
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}

	if !mode.IsRegular() {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	_, err = io.Copy(tw, f)
	return err
}
