package profile

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"

	"baseline/pkg/logging"
)

// Store persists profiles as YAML files in a directory, one file per
// profile named <profile>.yaml. The filesystem is abstracted so tests run
// against an in-memory fs.
type Store struct {
	fs  afero.Fs
	dir string
}

// NewStore creates a store rooted at dir on the OS filesystem.
func NewStore(dir string) *Store {
	return NewStoreFs(afero.NewOsFs(), dir)
}

// NewStoreFs creates a store rooted at dir on the given filesystem.
func NewStoreFs(fs afero.Fs, dir string) *Store {
	return &Store{fs: fs, dir: dir}
}

// Dir returns the directory the store reads and writes.
func (s *Store) Dir() string {
	return s.dir
}

// Load reads and validates the named profile.
func (s *Store) Load(name string) (*Profile, error) {
	data, err := afero.ReadFile(s.fs, s.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("profile %s not found in %s", name, s.dir)
		}
		return nil, fmt.Errorf("reading profile %s: %w", name, err)
	}
	return Unmarshal(data)
}

// Save validates and writes the profile, creating the directory if needed.
func (s *Store) Save(p *Profile) error {
	if err := Validate(p); err != nil {
		return err
	}

	data, err := Marshal(p)
	if err != nil {
		return err
	}

	if err := s.fs.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("creating profile directory %s: %w", s.dir, err)
	}

	if err := afero.WriteFile(s.fs, s.path(p.Name), data, 0o644); err != nil {
		return fmt.Errorf("writing profile %s: %w", p.Name, err)
	}

	logging.Debug("ProfileStore", "Saved profile %s to %s", p.Name, s.dir)
	return nil
}

// Delete removes the named profile. Deleting a missing profile is not an
// error.
func (s *Store) Delete(name string) error {
	err := s.fs.Remove(s.path(name))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting profile %s: %w", name, err)
	}
	return nil
}

// List returns the names of all stored profiles, sorted.
func (s *Store) List() ([]string, error) {
	entries, err := afero.ReadDir(s.fs, s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing profiles in %s: %w", s.dir, err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if name, ok := profileName(entry.Name()); ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name+".yaml")
}

// profileName extracts a profile name from a file name, accepting .yaml and
// .yml extensions.
func profileName(file string) (string, bool) {
	for _, ext := range []string{".yaml", ".yml"} {
		if strings.HasSuffix(file, ext) {
			return strings.TrimSuffix(file, ext), true
		}
	}
	return "", false
}
