package unit

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
)

// Scanner enumerates the deployment units stored under Root.
type Scanner struct {
	// Root is the directory holding one subdirectory per unit. An empty Root
	// disables the unit store.
	Root string
}

// NewScanner returns a Scanner for root.
func NewScanner(root string) *Scanner {
	return &Scanner{Root: root}
}

// List returns the names of the immediate subdirectories of Root, sorted.
// With no Root configured it returns an empty list.
func (s *Scanner) List() ([]string, error) {
	if s.Root == "" {
		return []string{}, nil
	}
	entries, err := os.ReadDir(s.Root)
	if err != nil {
		return nil, fmt.Errorf("list units in %s: %w", s.Root, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Versions returns the numeric version subdirectories of the named unit in
// ascending order. An unversioned unit yields an empty list.
func (s *Scanner) Versions(name string) ([]int, error) {
	if s.Root == "" {
		return []int{}, nil
	}
	entries, err := os.ReadDir(filepath.Join(s.Root, name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("list versions of %s: %w", name, err)
	}

	versions := make([]int, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		v, err := strconv.Atoi(e.Name())
		if err != nil || v < 0 {
			continue
		}
		versions = append(versions, v)
	}
	sort.Ints(versions)
	return versions, nil
}

// Path returns the directory holding the given version of a unit: the
// version subdirectory when it exists, otherwise the unit directory itself.
func (s *Scanner) Path(name string, version int) string {
	dir := filepath.Join(s.Root, name)
	versioned := filepath.Join(dir, strconv.Itoa(version))
	if info, err := os.Stat(versioned); err == nil && info.IsDir() {
		return versioned
	}
	return dir
}

// Latest returns the version to preload for a unit: its highest version
// directory, or 1 when the unit is unversioned.
func (s *Scanner) Latest(name string) (int, error) {
	versions, err := s.Versions(name)
	if err != nil {
		return 0, err
	}
	if len(versions) == 0 {
		return 1, nil
	}
	return versions[len(versions)-1], nil
}
