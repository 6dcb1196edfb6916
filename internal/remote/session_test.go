package remote

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"io"
	"log"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/steveyegge/remit/internal/syspath"
)

// testServer is a minimal in-process SSH server that answers exec
// requests from a handler.
type testServer struct {
	addr    string
	hostKey ssh.PublicKey
}

func startTestServer(t *testing.T, handler func(cmd string) (string, uint32)) *testServer {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer, err := ssh.NewSignerFromKey(priv)
	require.NoError(t, err)

	cfg := &ssh.ServerConfig{
		PasswordCallback: func(c ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if c.User() == "alice" && string(pass) == "secret" {
				return nil, nil
			}
			return nil, errors.New("access denied")
		},
	}
	cfg.AddHostKey(signer)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go serveConn(conn, cfg, handler)
		}
	}()

	return &testServer{addr: ln.Addr().String(), hostKey: signer.PublicKey()}
}

func serveConn(conn net.Conn, cfg *ssh.ServerConfig, handler func(string) (string, uint32)) {
	_, chans, reqs, err := ssh.NewServerConn(conn, cfg)
	if err != nil {
		return
	}
	go ssh.DiscardRequests(reqs)

	for newCh := range chans {
		if newCh.ChannelType() != "session" {
			_ = newCh.Reject(ssh.UnknownChannelType, "unsupported")
			continue
		}
		ch, chReqs, err := newCh.Accept()
		if err != nil {
			continue
		}
		go func() {
			defer ch.Close()
			for req := range chReqs {
				if req.Type != "exec" {
					_ = req.Reply(false, nil)
					continue
				}
				var payload struct{ Command string }
				_ = ssh.Unmarshal(req.Payload, &payload)
				_ = req.Reply(true, nil)

				out, status := handler(payload.Command)
				_, _ = io.WriteString(ch, out)
				_, _ = ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{status}))
				return
			}
		}()
	}
}

func (s *testServer) config(t *testing.T, password string) *Config {
	t.Helper()

	host, portStr, err := net.SplitHostPort(s.addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	knownHosts := filepath.Join(t.TempDir(), "known_hosts")
	line := knownhosts.Line([]string{knownhosts.Normalize(s.addr)}, s.hostKey)
	require.NoError(t, os.WriteFile(knownHosts, []byte(line+"\n"), 0600))

	return &Config{
		Host:           host,
		Port:           port,
		User:           "alice",
		Password:       password,
		KnownHostsFile: knownHosts,
		Timeout:        5 * time.Second,
		Logger:         log.New(io.Discard, "[remote] ", log.LstdFlags),
	}
}

// TestSession_RunAndList verifies command execution, pwd and listing
// against an in-process server.
func TestSession_RunAndList(t *testing.T) {
	srv := startTestServer(t, func(cmd string) (string, uint32) {
		switch cmd {
		case "pwd":
			return "/home/alice\n", 0
		case "ls -al '/home/alice'":
			return sampleListing, 0
		default:
			return "", 127
		}
	})

	s := NewSession(srv.config(t, "secret"))
	ctx := context.Background()
	require.NoError(t, s.Connect(ctx))
	defer s.Disconnect()
	assert.True(t, s.Connected())

	pwd, err := s.Pwd(ctx)
	require.NoError(t, err)
	assert.Equal(t, "/home/alice", pwd.String())

	d := NewDirectory(pwd)
	require.NoError(t, s.List(ctx, d))
	assert.Contains(t, d.Files, "projects")

	_, err = s.Run(ctx, "false")
	var exitErr *ssh.ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 127, exitErr.ExitStatus())
}

// TestSession_WrongPassword verifies that authentication failures are
// returned from Connect.
func TestSession_WrongPassword(t *testing.T) {
	srv := startTestServer(t, func(string) (string, uint32) { return "", 0 })

	s := NewSession(srv.config(t, "wrong"))
	err := s.Connect(context.Background())
	assert.Error(t, err)
	assert.False(t, s.Connected())
}

// TestSession_UnknownHostKey verifies that a server missing from
// known_hosts is rejected unless host key checking is disabled.
func TestSession_UnknownHostKey(t *testing.T) {
	srv := startTestServer(t, func(string) (string, uint32) { return "/\n", 0 })

	cfg := srv.config(t, "secret")
	cfg.KnownHostsFile = filepath.Join(t.TempDir(), "empty_known_hosts")
	require.NoError(t, os.WriteFile(cfg.KnownHostsFile, nil, 0600))

	s := NewSession(cfg)
	require.Error(t, s.Connect(context.Background()))

	cfg.InsecureIgnoreHostKey = true
	s = NewSession(cfg)
	require.NoError(t, s.Connect(context.Background()))
	require.NoError(t, s.Disconnect())
}

// TestSession_NotConnected verifies the error before Connect.
func TestSession_NotConnected(t *testing.T) {
	s := NewSession(&Config{Logger: log.New(io.Discard, "", 0)})

	_, err := s.Run(context.Background(), "pwd")
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.NoError(t, s.Disconnect())

	_, err = s.Pwd(context.Background())
	assert.ErrorIs(t, err, ErrNotConnected)

	d := NewDirectory(syspath.SystemPath{})
	assert.ErrorIs(t, s.List(context.Background(), d), ErrNotConnected)
}
