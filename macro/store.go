// Package macro persists named macro sources on disk. The store holds raw,
// unvalidated source: validation happens on every execution, never at save
// time, so a macro saved under an older policy cannot bypass the current one.
package macro

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/victoralfred/gowritter/safepath"
)

const fileExt = ".star"

// Common errors.
var (
	ErrNotFound    = errors.New("macro not found")
	ErrExists      = errors.New("macro already exists")
	ErrInvalidName = errors.New("invalid macro name")
)

var validMacroName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_-]*$`)

// Info describes one stored macro.
type Info struct {
	Name     string    `json:"name"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
}

// Store is a directory of macro files. All file access goes through a
// safepath root so a macro name can never escape the macro directory.
type Store struct {
	dir      string
	safePath *safepath.SafePath
	mu       sync.Mutex // serializes check-then-write sequences
}

// NewStore creates a macro store rooted at dir, creating the directory if
// needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating macro directory: %w", err)
	}
	sp, err := safepath.New(dir)
	if err != nil {
		return nil, fmt.Errorf("creating safe path: %w", err)
	}
	return &Store{dir: dir, safePath: sp}, nil
}

// checkName rejects names that are empty, contain path separators, or are
// otherwise not plain identifiers. The safepath root would catch traversal
// anyway; rejecting here gives the client a usable error instead of a file
// system one.
func checkName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: name is empty", ErrInvalidName)
	}
	if strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return fmt.Errorf("%w: %q contains path separators", ErrInvalidName, name)
	}
	if !validMacroName.MatchString(name) {
		return fmt.Errorf("%w: %q must start with a letter or underscore and contain only letters, digits, _ and -", ErrInvalidName, name)
	}
	return nil
}

// Create stores a new macro. It fails if a macro of the same name exists.
func (s *Store) Create(name, source string) error {
	if err := checkName(name); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	file := name + fileExt
	exists, err := s.safePath.Exists(file)
	if err != nil {
		return fmt.Errorf("checking macro %q: %w", name, err)
	}
	if exists {
		return fmt.Errorf("macro %q: %w", name, ErrExists)
	}
	if err := s.safePath.WriteFile(file, []byte(source), 0o644); err != nil {
		return fmt.Errorf("writing macro %q: %w", name, err)
	}
	return nil
}

// Update replaces an existing macro's source.
func (s *Store) Update(name, source string) error {
	if err := checkName(name); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	file := name + fileExt
	exists, err := s.safePath.Exists(file)
	if err != nil {
		return fmt.Errorf("checking macro %q: %w", name, err)
	}
	if !exists {
		return fmt.Errorf("macro %q: %w", name, ErrNotFound)
	}
	if err := s.safePath.WriteFile(file, []byte(source), 0o644); err != nil {
		return fmt.Errorf("writing macro %q: %w", name, err)
	}
	return nil
}

// Read returns a macro's source.
func (s *Store) Read(name string) (string, error) {
	if err := checkName(name); err != nil {
		return "", err
	}

	data, err := s.safePath.ReadFile(name + fileExt)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("macro %q: %w", name, ErrNotFound)
		}
		return "", fmt.Errorf("reading macro %q: %w", name, err)
	}
	return string(data), nil
}

// Delete removes a macro.
func (s *Store) Delete(name string) error {
	if err := checkName(name); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	file := name + fileExt
	exists, err := s.safePath.Exists(file)
	if err != nil {
		return fmt.Errorf("checking macro %q: %w", name, err)
	}
	if !exists {
		return fmt.Errorf("macro %q: %w", name, ErrNotFound)
	}
	if err := s.safePath.Remove(file); err != nil {
		return fmt.Errorf("removing macro %q: %w", name, err)
	}
	return nil
}

// List returns all stored macros, sorted by name. Listing enumerates the
// fixed store directory directly; only per-file access takes client input and
// that goes through the safepath root.
func (s *Store) List() ([]Info, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("listing macros: %w", err)
	}

	infos := make([]Info, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != fileExt {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		infos = append(infos, Info{
			Name:     strings.TrimSuffix(e.Name(), fileExt),
			Size:     fi.Size(),
			Modified: fi.ModTime(),
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, nil
}
