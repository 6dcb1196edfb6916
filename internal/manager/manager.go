// Package manager ties the remote session, rclone, the profile store and
// the directory tracker into one user session.
//
// A Manager browses one remote host at a time. The remote tree is mirrored
// under <mirror root>/<profile>, so the remote directory /srv/data of
// profile "lab" lives locally at <mirror root>/lab/srv/data. Tracking the
// current directory uploads every file written under its mirror.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/steveyegge/remit/internal/config"
	"github.com/steveyegge/remit/internal/logging"
	"github.com/steveyegge/remit/internal/rclone"
	"github.com/steveyegge/remit/internal/remote"
	"github.com/steveyegge/remit/internal/syspath"
	"github.com/steveyegge/remit/internal/tracker"
	"github.com/steveyegge/remit/internal/tracker/notify"
)

var (
	// ErrNoProfile is returned by operations that need UseProfile first.
	ErrNoProfile = errors.New("manager: no profile selected")

	// ErrNotConnected is returned by operations that need Connect first.
	ErrNotConnected = errors.New("manager: not connected")

	// ErrIsDirectory is returned when a transfer names a directory.
	ErrIsDirectory = errors.New("manager: is a directory")
)

// Shell is the remote session used for browsing.
type Shell interface {
	Connect(ctx context.Context) error
	Disconnect() error
	Connected() bool
	Pwd(ctx context.Context) (syspath.SystemPath, error)
	List(ctx context.Context, d *remote.Directory) error
}

// TrackingListener is told when tracking sessions begin and end.
type TrackingListener interface {
	OnTrackingStarted(localRoot, remoteRoot string)
	OnTrackingStopped(localRoot string, err error)
}

// Options injects collaborators. Every field is optional.
type Options struct {
	// Runner executes rclone. Defaults to rclone.ExecRunner.
	Runner rclone.Runner

	// Backend is the watch backend. Defaults to settings.Watch.Backend.
	Backend notify.Backend

	// NewShell creates the remote session. Defaults to remote.NewSession.
	NewShell func(*remote.Config) Shell

	// Hooks receive every consumer result, e.g. history and feed.
	Hooks []tracker.ResultHook

	// Listener is told about tracking sessions.
	Listener TrackingListener
}

// Manager is the session-scoped composition root.
type Manager struct {
	settings *config.Settings
	logs     *logging.Output
	logger   *log.Logger
	opts     Options

	profiles *config.ProfileStore
	rclone   *rclone.Manager
	backend  notify.Backend

	mu      sync.Mutex
	profile *config.Profile
	shell   Shell
	dir     *remote.Directory
	tracker *tracker.DirectoryTracker
	mapping syspath.Mapping
}

// New builds a Manager from settings and loads the profile store. A nil
// logs discards log output; a nil opts uses defaults.
func New(settings *config.Settings, logs *logging.Output, opts *Options) (*Manager, error) {
	if settings == nil {
		return nil, fmt.Errorf("settings cannot be nil")
	}
	if logs == nil {
		logs = logging.Discard()
	}
	if opts == nil {
		opts = &Options{}
	}

	backend := opts.Backend
	if backend == nil {
		b, err := notify.ByName(settings.Watch.Backend)
		if err != nil {
			return nil, fmt.Errorf("failed to select watch backend: %w", err)
		}
		backend = b
	}

	profiles := config.NewProfileStore(settings.Profiles.Dir)
	if err := profiles.Load(); err != nil {
		return nil, err
	}

	m := &Manager{
		settings: settings,
		logs:     logs,
		logger:   logs.Logger("manager"),
		opts:     *opts,
		profiles: profiles,
		backend:  backend,
		rclone: rclone.New(&rclone.Config{
			Exe:        settings.Rclone.Exe,
			Dir:        settings.Rclone.Dir,
			ConfigFile: settings.Rclone.ConfigFile,
			Timeout:    settings.Rclone.Timeout,
			Runner:     opts.Runner,
			Logger:     logs.Logger("rclone"),
		}),
	}
	return m, nil
}

// Rclone returns the rclone manager.
func (m *Manager) Rclone() *rclone.Manager {
	return m.rclone
}

// Profiles returns the known profiles, sorted by name.
func (m *Manager) Profiles() []config.Profile {
	return m.profiles.List()
}

// Profile returns the named profile.
func (m *Manager) Profile(name string) (config.Profile, bool) {
	return m.profiles.Get(name)
}

// AddProfile stores p. With createRemote, an sftp rclone remote for the
// profile is created when it does not exist yet.
func (m *Manager) AddProfile(ctx context.Context, p config.Profile, createRemote bool) error {
	if err := m.profiles.Insert(p); err != nil {
		return err
	}
	if err := m.profiles.Save(p.Name); err != nil {
		return err
	}
	m.logger.Printf("Saved profile %s", p.Name)

	if !createRemote {
		return nil
	}
	return m.ensureRemote(ctx, p)
}

// UpdateProfile replaces a profile in memory only, e.g. to supply a
// password that is not stored on disk.
func (m *Manager) UpdateProfile(p config.Profile) error {
	return m.profiles.Insert(p)
}

// DeleteProfile removes the named profile and, with deleteRemote, its
// rclone remote.
func (m *Manager) DeleteProfile(ctx context.Context, name string, deleteRemote bool) error {
	p, ok := m.profiles.Get(name)
	if !ok {
		return fmt.Errorf("%w: %s", config.ErrProfileNotFound, name)
	}
	if err := m.profiles.Delete(name); err != nil {
		return err
	}
	if !deleteRemote {
		return nil
	}

	if err := m.rclone.LoadConfigs(ctx); err != nil {
		return err
	}
	if !m.rclone.ConfigExists(p.RemoteName()) {
		return nil
	}
	return m.rclone.DeleteConfig(ctx, p.RemoteName())
}

func (m *Manager) ensureRemote(ctx context.Context, p config.Profile) error {
	if err := m.rclone.LoadConfigs(ctx); err != nil {
		return err
	}
	if m.rclone.ConfigExists(p.RemoteName()) {
		return nil
	}
	return m.rclone.CreateSFTPConfig(ctx, rclone.SFTPOptions{
		Name:     p.RemoteName(),
		Host:     p.Host,
		Port:     p.Port,
		User:     p.Username,
		Password: p.Password,
		KeyFile:  p.KeyFile,
	})
}

// UseProfile selects the named profile: its rclone remote is created if
// missing and chosen for transfers, and a new unconnected session is
// prepared. Any previous session and tracking are ended.
func (m *Manager) UseProfile(ctx context.Context, name string) error {
	p, ok := m.profiles.Get(name)
	if !ok {
		return fmt.Errorf("%w: %s", config.ErrProfileNotFound, name)
	}

	if err := m.ensureRemote(ctx, p); err != nil {
		return err
	}
	if err := m.rclone.SetConfig(p.RemoteName()); err != nil {
		return err
	}

	mirror, err := filepath.Abs(filepath.Join(m.settings.Mirror.Root, p.Name))
	if err != nil {
		return fmt.Errorf("failed to resolve mirror root: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.closeTrackerLocked()
	if m.shell != nil {
		_ = m.shell.Disconnect()
	}

	m.profile = &p
	m.shell = m.newShell(p)
	m.dir = nil
	m.mapping = syspath.Mapping{
		LocalRoot:  mirror,
		RemoteRoot: "/",
	}

	m.logger.Printf("Using profile %s (%s, remote %s)", p.Name, p.Addr(), p.RemoteName())
	return nil
}

func (m *Manager) newShell(p config.Profile) Shell {
	cfg := &remote.Config{
		Host:                  p.Host,
		Port:                  p.Port,
		User:                  p.Username,
		Password:              p.Password,
		KeyFile:               p.KeyFile,
		KnownHostsFile:        m.settings.SSH.KnownHosts,
		InsecureIgnoreHostKey: m.settings.SSH.Insecure,
		Timeout:               m.settings.SSH.Timeout,
		Logger:                m.logs.Logger("remote"),
	}
	if m.opts.NewShell != nil {
		return m.opts.NewShell(cfg)
	}
	return remote.NewSession(cfg)
}

// Connect opens the session and starts browsing at the login directory.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.shell == nil {
		return ErrNoProfile
	}
	if err := m.shell.Connect(ctx); err != nil {
		return err
	}

	pwd, err := m.shell.Pwd(ctx)
	if err != nil {
		_ = m.shell.Disconnect()
		return fmt.Errorf("failed to read working directory: %w", err)
	}
	m.dir = remote.NewDirectory(pwd)
	return nil
}

// Disconnect closes the session. Tracking, if active, continues: uploads
// go through rclone, not the session.
func (m *Manager) Disconnect() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.shell == nil {
		return nil
	}
	return m.shell.Disconnect()
}

// Dir returns a copy of the current directory listing.
func (m *Manager) Dir() (*remote.Directory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.dir == nil {
		return nil, ErrNotConnected
	}
	d := remote.NewDirectory(m.dir.Path.Clone())
	for name, f := range m.dir.Files {
		d.Files[name] = f
	}
	return d, nil
}

// Cd sets the current directory to p without checking it.
func (m *Manager) Cd(p syspath.SystemPath) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.dir == nil {
		return ErrNotConnected
	}
	m.dir = remote.NewDirectory(p)
	return nil
}

// Refresh lists the current directory.
func (m *Manager) Refresh(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.dir == nil || m.shell == nil || !m.shell.Connected() {
		return ErrNotConnected
	}
	return m.shell.List(ctx, m.dir)
}

// Navigate moves into the named subdirectory, or to the parent for "..".
// The listing must be refreshed afterwards.
func (m *Manager) Navigate(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.dir == nil {
		return ErrNotConnected
	}

	d := &remote.Directory{Path: m.dir.Path.Clone(), Files: m.dir.Files}
	if err := d.Navigate(name); err != nil {
		return err
	}
	m.dir = remote.NewDirectory(d.Path)
	return nil
}

// LocalDir returns the mirror directory of the current remote directory.
func (m *Manager) LocalDir() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.localDirLocked()
}

func (m *Manager) localDirLocked() (string, error) {
	if m.profile == nil {
		return "", ErrNoProfile
	}
	if m.dir == nil {
		return "", ErrNotConnected
	}
	return m.mapping.ToLocal(m.dir.Path.String())
}

// Download copies the named file of the current directory into its mirror
// and returns the local path.
func (m *Manager) Download(ctx context.Context, name string) (string, error) {
	m.mu.Lock()
	localDir, err := m.localDirLocked()
	var remoteDir string
	var info remote.FileInfo
	var listed bool
	if err == nil {
		remoteDir = m.dir.Path.String()
		info, listed = m.dir.Files[name]
	}
	m.mu.Unlock()
	if err != nil {
		return "", err
	}

	if listed && info.Type == remote.TypeDirectory {
		return "", fmt.Errorf("%w: %s", ErrIsDirectory, name)
	}
	if err := os.MkdirAll(localDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", localDir, err)
	}
	if err := m.rclone.Download(ctx, localDir, remoteDir, name); err != nil {
		return "", err
	}
	return filepath.Join(localDir, name), nil
}

// Push uploads the named file from the mirror of the current directory.
func (m *Manager) Push(ctx context.Context, name string) error {
	m.mu.Lock()
	localDir, err := m.localDirLocked()
	var remoteDir string
	if err == nil {
		remoteDir = m.dir.Path.String()
	}
	m.mu.Unlock()
	if err != nil {
		return err
	}

	info, err := os.Stat(filepath.Join(localDir, name))
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", name, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%w: %s", ErrIsDirectory, name)
	}
	return m.rclone.Upload(ctx, localDir, remoteDir, name)
}

// StartTracking tracks the mirror of the current directory and returns the
// local and remote roots.
func (m *Manager) StartTracking() (local, remoteRoot string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	local, err = m.localDirLocked()
	if err != nil {
		return "", "", err
	}

	if m.tracker == nil {
		t, err := m.newTracker()
		if err != nil {
			return "", "", err
		}
		m.tracker = t
	}

	if err := m.tracker.StartTracking(local); err != nil {
		return "", "", err
	}
	_, remoteRoot = m.tracker.Watcher().Root()

	if l := m.opts.Listener; l != nil {
		l.OnTrackingStarted(local, remoteRoot)
		done := m.tracker.Watcher().Done()
		t := m.tracker
		go func() {
			<-done
			l.OnTrackingStopped(local, t.Err())
		}()
	}
	return local, remoteRoot, nil
}

func (m *Manager) newTracker() (*tracker.DirectoryTracker, error) {
	s := m.settings
	cfg := &tracker.Config{
		Mapping: m.mapping,
		Watcher: &tracker.WatcherConfig{
			PollInterval: s.Watch.PollInterval,
			BufferSize:   s.Watch.BufferSize,
			Ignore:       s.Watch.Ignore,
			Logger:       m.logs.Logger("watcher"),
		},
		Consumer: &tracker.ConsumerConfig{
			BatchSize:    s.Consume.BatchSize,
			PollInterval: s.Consume.PollInterval,
			Order:        s.Order(),
			OnResult:     m.onResult,
			Logger:       m.logs.Logger("consumer"),
		},
		Logger: m.logs.Logger("tracker"),
	}
	return tracker.New(m.uploader(), m.backend, cfg)
}

// uploader dispatches each change event as a single-file rclone copy.
func (m *Manager) uploader() tracker.Dispatcher {
	return tracker.DispatchFunc(func(ctx context.Context, ev tracker.ChangeEvent) error {
		localDir, remoteDir, name := ev.Split()
		return m.rclone.Upload(ctx, localDir, remoteDir, name)
	})
}

func (m *Manager) onResult(res tracker.DispatchResult) {
	for _, hook := range m.opts.Hooks {
		hook(res)
	}
}

// WaitTracking blocks until ctx ends or the watcher loop exits. When ctx
// ends, tracking is stopped and nil is returned. When the watch stream
// fails, events already queued are still uploaded before the streaming
// error is returned; ctx cuts that wait short.
func (m *Manager) WaitTracking(ctx context.Context) error {
	t := m.Tracker()
	if t == nil {
		return nil
	}

	select {
	case <-ctx.Done():
		m.StopTracking()
		<-t.Watcher().Done()
		return nil
	case <-t.Watcher().Done():
	}

	err := t.Err()
	if err == nil {
		return nil
	}
	if n := t.Consumer().Queue().Len(); n > 0 {
		m.logger.Printf("Watch stream failed, uploading %d queued events", n)
	}
	if drainErr := t.Drain(ctx); drainErr != nil {
		m.logger.Printf("Stopped before queued uploads finished: %v", drainErr)
	}
	return err
}

// StopTracking stops the watcher and discards pending uploads.
func (m *Manager) StopTracking() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.tracker != nil {
		m.tracker.StopTracking()
	}
}

// Tracker returns the current tracker, or nil before StartTracking.
func (m *Manager) Tracker() *tracker.DirectoryTracker {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.tracker
}

func (m *Manager) closeTrackerLocked() {
	if m.tracker == nil {
		return
	}
	if err := m.tracker.Close(); err != nil {
		m.logger.Printf("Error closing tracker: %v", err)
	}
	m.tracker = nil
}

// Close ends tracking and the session.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closeTrackerLocked()
	if m.shell != nil {
		return m.shell.Disconnect()
	}
	return nil
}
