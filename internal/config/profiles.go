package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
)

const profileExt = ".toml"

// ErrProfileNotFound is returned for an unknown profile name.
var ErrProfileNotFound = errors.New("profile not found")

// Profile holds what is needed to reach one host.
type Profile struct {
	Name     string `toml:"name"`
	Username string `toml:"username"`
	Password string `toml:"password,omitempty"`
	KeyFile  string `toml:"key_file,omitempty"`
	Host     string `toml:"host"`
	Port     int    `toml:"port,omitempty"`

	// Remote is the rclone remote used for transfers. Defaults to Name.
	Remote string `toml:"remote,omitempty"`
}

// Addr returns host:port, with port 22 when unset.
func (p Profile) Addr() string {
	port := p.Port
	if port == 0 {
		port = 22
	}
	return net.JoinHostPort(p.Host, strconv.Itoa(port))
}

// RemoteName returns the rclone remote for the profile.
func (p Profile) RemoteName() string {
	if p.Remote != "" {
		return p.Remote
	}
	return p.Name
}

// Validate checks the fields needed to connect.
func (p Profile) Validate() error {
	switch {
	case strings.TrimSpace(p.Name) == "":
		return errors.New("profile name is required")
	case strings.ContainsAny(p.Name, `/\`):
		return fmt.Errorf("profile name %q must not contain path separators", p.Name)
	case p.Host == "":
		return fmt.Errorf("profile %s: host is required", p.Name)
	case p.Username == "":
		return fmt.Errorf("profile %s: username is required", p.Name)
	case p.Port < 0 || p.Port > 65535:
		return fmt.Errorf("profile %s: invalid port %d", p.Name, p.Port)
	}
	return nil
}

// ProfileStore keeps profiles in memory and persists them as TOML files.
type ProfileStore struct {
	dir string

	mu       sync.RWMutex
	profiles map[string]Profile
}

// NewProfileStore creates a store over dir. Nothing is read until Load.
func NewProfileStore(dir string) *ProfileStore {
	return &ProfileStore{dir: dir, profiles: make(map[string]Profile)}
}

// Dir returns the directory holding the profile files.
func (s *ProfileStore) Dir() string {
	return s.dir
}

// Load creates the directory if needed and reads every profile file in
// it. A file that fails to parse aborts the load.
func (s *ProfileStore) Load() error {
	if err := os.MkdirAll(s.dir, 0700); err != nil {
		return fmt.Errorf("failed to create profile directory: %w", err)
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("failed to read profile directory: %w", err)
	}

	loaded := make(map[string]Profile)
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != profileExt {
			continue
		}

		path := filepath.Join(s.dir, entry.Name())
		var p Profile
		if _, err := toml.DecodeFile(path, &p); err != nil {
			return fmt.Errorf("parsing profile %s: %w", path, err)
		}
		if p.Name == "" {
			p.Name = strings.TrimSuffix(entry.Name(), profileExt)
		}
		loaded[p.Name] = p
	}

	s.mu.Lock()
	s.profiles = loaded
	s.mu.Unlock()
	return nil
}

// Get returns the named profile.
func (s *ProfileStore) Get(name string) (Profile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.profiles[name]
	return p, ok
}

// Insert adds p, replacing any profile with the same name. It does not
// write to disk; see Save.
func (s *ProfileStore) Insert(p Profile) error {
	if err := p.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.profiles[p.Name] = p
	return nil
}

// Save writes the named profile to <dir>/<name>.toml.
func (s *ProfileStore) Save(name string) error {
	s.mu.RLock()
	p, ok := s.profiles[name]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrProfileNotFound, name)
	}

	if err := os.MkdirAll(s.dir, 0700); err != nil {
		return fmt.Errorf("failed to create profile directory: %w", err)
	}

	path := s.path(name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("creating profile %s: %w", path, err)
	}

	if err := toml.NewEncoder(f).Encode(p); err != nil {
		_ = f.Close()
		return fmt.Errorf("encoding profile %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("writing profile %s: %w", path, err)
	}
	return nil
}

// List returns all profiles sorted by name.
func (s *ProfileStore) List() []Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Profile, 0, len(s.profiles))
	for _, p := range s.profiles {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Delete removes the named profile and its file.
func (s *ProfileStore) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.profiles[name]; !ok {
		return fmt.Errorf("%w: %s", ErrProfileNotFound, name)
	}
	if err := os.Remove(s.path(name)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing profile %s: %w", name, err)
	}
	delete(s.profiles, name)
	return nil
}

func (s *ProfileStore) path(name string) string {
	return filepath.Join(s.dir, name+profileExt)
}
