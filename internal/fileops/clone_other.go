//go:build !linux

package fileops

import "fmt"

// Clone is only implemented on Linux.
func Clone(src, dst string) error {
	return fmt.Errorf("failed to clone %s: %w", src, ErrCloneUnsupported)
}
