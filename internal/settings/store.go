package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

const (
	dirPermissions  = 0750
	filePermissions = 0600
)

// Selection is the persisted device choice. A nil Address means no device
// has been selected yet.
type Selection struct {
	Address     *string `json:"selected_address"`
	DisplayName *string `json:"selected_display_name"`
	ManualEntry bool    `json:"manual_entry"`
}

// Configured reports whether a device address has been saved.
func (s Selection) Configured() bool {
	return s.Address != nil && *s.Address != ""
}

// NewSelection builds a Selection for a configured device.
func NewSelection(address, displayName string, manual bool) Selection {
	return Selection{Address: &address, DisplayName: &displayName, ManualEntry: manual}
}

// AddressOrEmpty returns the saved address, or "" when unset.
func (s Selection) AddressOrEmpty() string {
	if s.Address == nil {
		return ""
	}
	return *s.Address
}

// DisplayNameOrEmpty returns the saved display name, or "" when unset.
func (s Selection) DisplayNameOrEmpty() string {
	if s.DisplayName == nil {
		return ""
	}
	return *s.DisplayName
}

// fileFormat is the on-disk shape, accepting the legacy key names on read.
type fileFormat struct {
	Selection
	LegacyAddress *string `json:"selected_tv_ip,omitempty"`
	LegacyName    *string `json:"selected_tv_name,omitempty"`
}

// Store reads and writes the selection file.
//
// Thread Safety:
//   - Load and Save are safe for concurrent use within one process.
type Store struct {
	path string
	mu   sync.RWMutex
}

// NewStore returns a Store for the file at path. Nothing is read until Load.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the settings file location.
func (s *Store) Path() string {
	return s.path
}

// Load reads the selection. A missing file yields an empty Selection and no
// error; an unreadable or malformed file is an error.
func (s *Store) Load() (Selection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Selection{}, nil
		}
		return Selection{}, fmt.Errorf("reading settings: %w", err)
	}

	var f fileFormat
	if err := json.Unmarshal(data, &f); err != nil {
		return Selection{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	sel := f.Selection
	if sel.Address == nil && f.LegacyAddress != nil {
		sel.Address = f.LegacyAddress
	}
	if sel.DisplayName == nil && f.LegacyName != nil {
		sel.DisplayName = f.LegacyName
	}
	return sel, nil
}

// Save replaces the settings file with sel. The write goes to a temporary
// file in the same directory which is then renamed over the target, so a
// crash never leaves a truncated file behind.
func (s *Store) Save(sel Selection) error {
	data, err := json.MarshalIndent(sel, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding settings: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, dirPermissions); err != nil {
		return fmt.Errorf("creating settings directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tv_settings-*.json")
	if err != nil {
		return fmt.Errorf("creating temp settings file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) //nolint:errcheck // No-op after a successful rename

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close() //nolint:errcheck // Write already failed
		return fmt.Errorf("writing settings: %w", err)
	}
	if err := tmp.Chmod(filePermissions); err != nil {
		tmp.Close() //nolint:errcheck // Chmod already failed
		return fmt.Errorf("setting settings permissions: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing settings: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replacing settings: %w", err)
	}
	return nil
}
