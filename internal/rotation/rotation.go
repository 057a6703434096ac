// Package rotation implements the retention engine shared by snapshots,
// backup copies, configuration archives, and run logs.
//
// A Population is the set of regular files directly inside one directory
// whose names match one pattern. A Policy removes files older than a number
// of days and then trims the population to a maximum count, oldest first.
// Both passes always run, so applying the same policy twice is a no-op.
package rotation

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	errs "github.com/jbweber/vmkeep/internal/errors"
)

const day = 24 * time.Hour

// Population identifies the files a policy applies to. Only entries
// directly in Dir are considered; Pattern uses filepath.Match syntax.
type Population struct {
	Dir     string
	Pattern string
}

func (p Population) String() string {
	return filepath.Join(p.Dir, p.Pattern)
}

// Policy is a retention rule.
type Policy struct {
	// MaxAgeDays removes files whose whole-day age reaches MaxAgeDays, so
	// survivors are always younger than MaxAgeDays days. Zero disables the
	// age pass.
	MaxAgeDays int

	// MaxCount is the number of newest files kept after the age pass.
	MaxCount int
}

// Validate checks the policy bounds.
func (p Policy) Validate() error {
	if p.MaxCount < 1 {
		return errs.Configuration("validate_policy", "", fmt.Errorf("max count must be >= 1, got %d", p.MaxCount))
	}
	if p.MaxAgeDays < 0 {
		return errs.Configuration("validate_policy", "", fmt.Errorf("max age days must be >= 0, got %d", p.MaxAgeDays))
	}
	return nil
}

// Result lists what a rotation removed. Warnings holds one rotation error
// per file that could not be deleted.
type Result struct {
	Deleted  []string
	Warnings []error
}

// Rotator applies policies. The zero value is not usable; use New.
type Rotator struct {
	// Now returns the reference time for age calculations.
	Now func() time.Time

	// Remove deletes a single file.
	Remove func(path string) error
}

// New returns a Rotator using the wall clock and os.Remove.
func New() *Rotator {
	return &Rotator{
		Now:    time.Now,
		Remove: os.Remove,
	}
}

// Rotate applies policy to pop using the default Rotator.
func Rotate(pop Population, policy Policy) (Result, error) {
	return New().Rotate(pop, policy)
}

type entry struct {
	path    string
	name    string
	modTime time.Time
	pending bool // not yet written
}

// Rotate deletes expired files and then enforces the count limit.
// A missing directory is treated as an empty population. An error is
// returned only for an invalid policy or pattern, or when the directory
// cannot be listed; failed deletions are reported in Result.Warnings.
func (r *Rotator) Rotate(pop Population, policy Policy) (Result, error) {
	var result Result
	if err := policy.Validate(); err != nil {
		return result, err
	}

	files, err := list(pop)
	if err != nil {
		return result, err
	}

	now := r.Now()
	for _, f := range files {
		if !expired(f, policy, now) {
			continue
		}
		r.remove(f, &result)
	}

	// Re-list so files removed by the age pass (or by someone else) are
	// not counted.
	files, err = list(pop)
	if err != nil {
		return result, err
	}
	for _, f := range excess(files, policy.MaxCount) {
		r.remove(f, &result)
	}

	return result, nil
}

// Plan returns the paths Rotate would delete, without deleting anything.
// Pending paths are generations about to be written: those that belong to
// pop count as the newest files and are never planned for deletion.
func (r *Rotator) Plan(pop Population, policy Policy, pending ...string) ([]string, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}

	files, err := list(pop)
	if err != nil {
		return nil, err
	}

	now := r.Now()
	files = withPending(files, pop, pending, now)

	var planned []string
	remaining := files[:0:0]
	for _, f := range files {
		if !f.pending && expired(f, policy, now) {
			planned = append(planned, f.path)
			continue
		}
		remaining = append(remaining, f)
	}
	for _, f := range excess(remaining, policy.MaxCount) {
		if !f.pending {
			planned = append(planned, f.path)
		}
	}
	return planned, nil
}

// withPending adds the pending paths that are members of pop and not yet
// on disk, stamped with now.
func withPending(files []entry, pop Population, pending []string, now time.Time) []entry {
	for _, p := range pending {
		if filepath.Clean(filepath.Dir(p)) != filepath.Clean(pop.Dir) {
			continue
		}
		name := filepath.Base(p)
		if ok, _ := filepath.Match(pop.Pattern, name); !ok {
			continue
		}
		exists := false
		for _, f := range files {
			if f.name == name {
				exists = true
				break
			}
		}
		if !exists {
			files = append(files, entry{path: p, name: name, modTime: now, pending: true})
		}
	}
	return files
}

func (r *Rotator) remove(f entry, result *Result) {
	if err := r.Remove(f.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		result.Warnings = append(result.Warnings, errs.Rotation("delete", f.path, err))
		return
	}
	result.Deleted = append(result.Deleted, f.path)
}

func expired(f entry, policy Policy, now time.Time) bool {
	if policy.MaxAgeDays == 0 {
		return false
	}
	ageDays := int(now.Sub(f.modTime) / day)
	return ageDays > policy.MaxAgeDays-1
}

// excess returns the oldest files beyond maxCount, ordered oldest first.
func excess(files []entry, maxCount int) []entry {
	if len(files) <= maxCount {
		return nil
	}
	sorted := make([]entry, len(files))
	copy(sorted, files)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].modTime.Equal(sorted[j].modTime) {
			return sorted[i].modTime.Before(sorted[j].modTime)
		}
		return sorted[i].name < sorted[j].name
	})
	return sorted[:len(sorted)-maxCount]
}

func list(pop Population) ([]entry, error) {
	if _, err := filepath.Match(pop.Pattern, ""); err != nil {
		return nil, errs.Configuration("list_population", pop.String(), err)
	}

	dirEntries, err := os.ReadDir(pop.Dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, errs.Environment("list_population", pop.Dir, err)
	}

	var files []entry
	for _, de := range dirEntries {
		if !de.Type().IsRegular() {
			continue
		}
		if ok, _ := filepath.Match(pop.Pattern, de.Name()); !ok {
			continue
		}
		info, err := de.Info()
		if err != nil {
			// Removed between ReadDir and Info.
			continue
		}
		files = append(files, entry{
			path:    filepath.Join(pop.Dir, de.Name()),
			name:    de.Name(),
			modTime: info.ModTime(),
		})
	}
	return files, nil
}
