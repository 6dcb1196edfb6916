// Package remote runs commands on the remote host over SSH and parses
// directory listings.
package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/steveyegge/remit/internal/syspath"
)

// ErrNotConnected is returned by operations that need an open session.
var ErrNotConnected = errors.New("remote: not connected")

// Config holds connection parameters for a Session.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string

	// KeyFile is an optional private key used before password auth.
	KeyFile string

	// KnownHostsFile verifies the server key. Defaults to
	// ~/.ssh/known_hosts.
	KnownHostsFile string

	// InsecureIgnoreHostKey disables host key verification.
	InsecureIgnoreHostKey bool

	// Timeout bounds the TCP connect and handshake.
	Timeout time.Duration

	// Logger for session activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Port:    22,
		Timeout: 15 * time.Second,
		Logger:  log.New(os.Stderr, "[remote] ", log.LstdFlags),
	}
}

// Addr returns host:port.
func (c *Config) Addr() string {
	port := c.Port
	if port == 0 {
		port = 22
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(port))
}

// Session is one SSH connection.
type Session struct {
	config *Config

	mu     sync.Mutex
	client *ssh.Client
}

// NewSession creates an unconnected session.
func NewSession(config *Config) *Session {
	def := DefaultConfig()
	if config == nil {
		config = def
	}
	if config.Logger == nil {
		config.Logger = def.Logger
	}
	if config.Timeout <= 0 {
		config.Timeout = def.Timeout
	}
	return &Session{config: config}
}

// clientConfig builds the ssh client configuration.
func (s *Session) clientConfig() (*ssh.ClientConfig, error) {
	var auth []ssh.AuthMethod

	if s.config.KeyFile != "" {
		pem, err := os.ReadFile(s.config.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read key file: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(pem)
		if err != nil {
			return nil, fmt.Errorf("failed to parse key file: %w", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}

	if s.config.Password != "" {
		password := s.config.Password
		auth = append(auth,
			ssh.Password(password),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = password
				}
				return answers, nil
			}),
		)
	}

	hostKey, err := s.hostKeyCallback()
	if err != nil {
		return nil, err
	}

	return &ssh.ClientConfig{
		User:            s.config.User,
		Auth:            auth,
		HostKeyCallback: hostKey,
		Timeout:         s.config.Timeout,
	}, nil
}

func (s *Session) hostKeyCallback() (ssh.HostKeyCallback, error) {
	if s.config.InsecureIgnoreHostKey {
		//nolint:gosec // explicitly requested by configuration
		return ssh.InsecureIgnoreHostKey(), nil
	}

	file := s.config.KnownHostsFile
	if file == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to locate known_hosts: %w", err)
		}
		file = filepath.Join(home, ".ssh", "known_hosts")
	}

	cb, err := knownhosts.New(file)
	if err != nil {
		return nil, fmt.Errorf("failed to load known hosts %s: %w", file, err)
	}
	return cb, nil
}

// Connect dials the host and authenticates. An existing connection is
// closed first.
func (s *Session) Connect(ctx context.Context) error {
	cfg, err := s.clientConfig()
	if err != nil {
		return err
	}

	addr := s.config.Addr()
	dialer := net.Dialer{Timeout: s.config.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", addr, err)
	}

	c, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("ssh handshake with %s failed: %w", addr, err)
	}
	client := ssh.NewClient(c, chans, reqs)

	s.mu.Lock()
	old := s.client
	s.client = client
	s.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}

	s.config.Logger.Printf("Connected to %s as %s", addr, s.config.User)
	return nil
}

// Connected reports whether Connect has succeeded and Disconnect has not
// been called since.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.client != nil
}

// Disconnect closes the connection. It is a no-op when not connected.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	client := s.client
	s.client = nil
	s.mu.Unlock()

	if client == nil {
		return nil
	}
	if err := client.Close(); err != nil {
		return fmt.Errorf("failed to close ssh connection: %w", err)
	}
	s.config.Logger.Printf("Disconnected from %s", s.config.Addr())
	return nil
}

// Run executes cmd in a new channel and returns its standard output with
// trailing whitespace removed.
func (s *Session) Run(ctx context.Context, cmd string) (string, error) {
	s.mu.Lock()
	client := s.client
	s.mu.Unlock()

	if client == nil {
		return "", ErrNotConnected
	}

	sess, err := client.NewSession()
	if err != nil {
		return "", fmt.Errorf("failed to open ssh channel: %w", err)
	}
	defer sess.Close()

	var stdout, stderr bytes.Buffer
	sess.Stdout = &stdout
	sess.Stderr = &stderr

	done := make(chan error, 1)
	go func() { done <- sess.Run(cmd) }()

	select {
	case <-ctx.Done():
		_ = sess.Close()
		return "", ctx.Err()
	case err := <-done:
		if err != nil {
			if msg := strings.TrimSpace(stderr.String()); msg != "" {
				return "", fmt.Errorf("%s: %w: %s", cmd, err, msg)
			}
			return "", fmt.Errorf("%s: %w", cmd, err)
		}
	}

	return strings.TrimRightFunc(stdout.String(), unicode.IsSpace), nil
}

// Pwd returns the login directory.
func (s *Session) Pwd(ctx context.Context) (syspath.SystemPath, error) {
	out, err := s.Run(ctx, "pwd")
	if err != nil {
		return syspath.SystemPath{}, err
	}
	p, _ := syspath.Parse(strings.TrimSpace(out))
	return p, nil
}

// List runs `ls -al` on d.Path and replaces d.Files with the result.
func (s *Session) List(ctx context.Context, d *Directory) error {
	out, err := s.Run(ctx, "ls -al "+ShellQuote(d.Path.String()))
	if err != nil {
		return fmt.Errorf("failed to list %s: %w", d.Path.String(), err)
	}

	files, err := ParseListing(out)
	if err != nil {
		return fmt.Errorf("failed to parse listing of %s: %w", d.Path.String(), err)
	}
	d.Files = files
	return nil
}

// ShellQuote quotes s for a POSIX shell.
func ShellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
