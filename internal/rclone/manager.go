// Package rclone drives the rclone executable: it manages remote
// configurations and copies single files between a local directory and a
// remote.
package rclone

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"runtime"
	"sync"
	"time"
)

// Config holds configuration for a Manager.
type Config struct {
	// Exe is the rclone executable name or path.
	Exe string

	// Dir, if set, is the directory holding Exe. Local paths passed to
	// transfers are also resolved against it.
	Dir string

	// ConfigFile, if set, is passed to every command as --config.
	ConfigFile string

	// Timeout bounds each rclone invocation.
	Timeout time.Duration

	// Runner executes commands. Defaults to ExecRunner.
	Runner Runner

	// Logger for rclone activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	exe := "rclone"
	if runtime.GOOS == "windows" {
		exe = "rclone.exe"
	}
	return &Config{
		Exe:     exe,
		Timeout: 10 * time.Minute,
		Logger:  log.New(os.Stderr, "[rclone] ", log.LstdFlags),
	}
}

// Manager issues rclone commands against one chosen remote.
type Manager struct {
	config *Config
	runner Runner

	mu      sync.Mutex
	remotes map[string]Remote
	chosen  string
}

// New creates a Manager. A nil config uses DefaultConfig.
func New(config *Config) *Manager {
	def := DefaultConfig()
	if config == nil {
		config = def
	}
	if config.Exe == "" {
		config.Exe = def.Exe
	}
	if config.Logger == nil {
		config.Logger = def.Logger
	}

	runner := config.Runner
	if runner == nil {
		runner = ExecRunner{Timeout: config.Timeout}
	}

	return &Manager{
		config:  config,
		runner:  runner,
		remotes: make(map[string]Remote),
	}
}

// ExePath returns the executable path commands are run with.
func (m *Manager) ExePath() string {
	if m.config.Dir != "" {
		return filepath.Join(m.config.Dir, m.config.Exe)
	}
	return m.config.Exe
}

// ExeExists reports whether the rclone executable can be found, either at
// ExePath or on PATH.
func (m *Manager) ExeExists() bool {
	if info, err := os.Stat(m.ExePath()); err == nil {
		return !info.IsDir()
	}
	_, err := exec.LookPath(m.ExePath())
	return err == nil
}

func (m *Manager) run(ctx context.Context, args ...string) ([]byte, error) {
	if m.config.ConfigFile != "" {
		args = append([]string{"--config", m.config.ConfigFile}, args...)
	}
	out, err := m.runner.Run(ctx, m.ExePath(), args...)
	if err != nil && errors.Is(err, exec.ErrNotFound) {
		return out, fmt.Errorf("%w: %s", ErrExeNotFound, m.ExePath())
	}
	return out, err
}

// LoadConfigs replaces the known remotes with the output of
// `rclone config show`.
func (m *Manager) LoadConfigs(ctx context.Context) error {
	out, err := m.run(ctx, "config", "show")
	if err != nil {
		return fmt.Errorf("failed to list rclone remotes: %w", err)
	}

	remotes, err := ParseConfigShow(out)
	if err != nil {
		return fmt.Errorf("failed to parse rclone config: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.remotes = make(map[string]Remote, len(remotes))
	for _, r := range remotes {
		m.remotes[r.Name] = r
	}
	return nil
}

// ConfigNames returns the known remote names, sorted.
func (m *Manager) ConfigNames() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return sortedNames(m.remotes)
}

// ConfigExists reports whether a remote named name is known.
func (m *Manager) ConfigExists(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.remotes[name]
	return ok
}

// Remote returns the parsed section of the named remote.
func (m *Manager) Remote(name string) (Remote, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.remotes[name]
	return r, ok
}

// SetConfig chooses the remote used by transfers.
func (m *Manager) SetConfig(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.remotes[name]; !ok {
		return fmt.Errorf("%w: %s", ErrConfigNotFound, name)
	}
	m.chosen = name
	return nil
}

// Chosen returns the remote used by transfers, or "".
func (m *Manager) Chosen() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.chosen
}

// DeleteConfig removes the named remote from the rclone configuration.
func (m *Manager) DeleteConfig(ctx context.Context, name string) error {
	if !m.ConfigExists(name) {
		return fmt.Errorf("%w: %s", ErrConfigNotFound, name)
	}

	if _, err := m.run(ctx, "config", "delete", name); err != nil {
		return fmt.Errorf("failed to delete rclone remote %s: %w", name, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.remotes, name)
	if m.chosen == name {
		m.chosen = ""
	}
	m.config.Logger.Printf("Deleted remote %s", name)
	return nil
}

// SFTPOptions describes an sftp remote.
type SFTPOptions struct {
	Name     string
	Host     string
	Port     int
	User     string
	Password string // rclone obscures it when storing
	KeyFile  string
}

// CreateSFTPConfig creates an sftp remote and reloads the known remotes.
func (m *Manager) CreateSFTPConfig(ctx context.Context, opts SFTPOptions) error {
	if opts.Name == "" {
		return fmt.Errorf("remote name cannot be empty")
	}
	if m.ConfigExists(opts.Name) {
		return fmt.Errorf("%w: %s", ErrConfigExists, opts.Name)
	}

	args := []string{"config", "create", opts.Name, "sftp", "host", opts.Host, "user", opts.User}
	if opts.Port > 0 && opts.Port != 22 {
		args = append(args, "port", fmt.Sprint(opts.Port))
	}
	if opts.Password != "" {
		args = append(args, "pass", opts.Password)
	}
	if opts.KeyFile != "" {
		args = append(args, "key_file", opts.KeyFile)
	}
	args = append(args, "--non-interactive")

	if _, err := m.run(ctx, args...); err != nil {
		return fmt.Errorf("failed to create rclone remote %s: %w", opts.Name, err)
	}

	m.config.Logger.Printf("Created sftp remote %s (%s@%s)", opts.Name, opts.User, opts.Host)
	return m.LoadConfigs(ctx)
}

// Upload copies localDir/filename into remoteDir on the chosen remote.
func (m *Manager) Upload(ctx context.Context, localDir, remoteDir, filename string) error {
	chosen := m.Chosen()
	if chosen == "" {
		return ErrNoConfig
	}

	src := m.localPath(filepath.Join(localDir, filename))
	dst := chosen + ":" + remoteDir
	return m.transfer(ctx, "upload", src, dst)
}

// Download copies remoteDir/filename on the chosen remote into localDir.
func (m *Manager) Download(ctx context.Context, localDir, remoteDir, filename string) error {
	chosen := m.Chosen()
	if chosen == "" {
		return ErrNoConfig
	}

	src := chosen + ":" + path.Join(remoteDir, filename)
	dst := m.localPath(localDir)
	return m.transfer(ctx, "download", src, dst)
}

func (m *Manager) localPath(p string) string {
	if m.config.Dir != "" && !filepath.IsAbs(p) {
		return filepath.Join(m.config.Dir, p)
	}
	return p
}

func (m *Manager) transfer(ctx context.Context, op, src, dst string) error {
	m.config.Logger.Printf("rclone copy %s %s", src, dst)

	start := time.Now()
	_, err := m.run(ctx, "copy", src, dst)
	if err != nil {
		var cmdErr *CommandError
		if errors.As(err, &cmdErr) && cmdErr.ExitCode > 0 {
			return &TransferError{
				Op:       op,
				Source:   src,
				Dest:     dst,
				ExitCode: cmdErr.ExitCode,
				Stderr:   cmdErr.Stderr,
			}
		}
		return fmt.Errorf("failed to run rclone %s: %w", op, err)
	}

	m.config.Logger.Printf("%s of %s took %v", op, src, time.Since(start).Round(time.Millisecond))
	return nil
}
