package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/steveyegge/remit/internal/manager"
	"github.com/steveyegge/remit/internal/syspath"
)

// addProfileFlag registers --profile on cmd.
func addProfileFlag(cmd *cobra.Command) {
	cmd.Flags().StringP("profile", "p", "", "connection profile to use (required)")
	_ = cmd.MarkFlagRequired("profile")
}

// connect builds a manager, selects the profile and connects. remoteDir,
// if not empty, becomes the current directory and is listed.
func connect(ctx context.Context, cmd *cobra.Command, remoteDir string, opts *manager.Options) (*manager.Manager, error) {
	name, _ := cmd.Flags().GetString("profile")

	m, err := manager.New(settings, logs, opts)
	if err != nil {
		return nil, err
	}

	p, ok := m.Profile(name)
	if !ok {
		_ = m.Close()
		return nil, fmt.Errorf("unknown profile %q (see 'remit config list')", name)
	}
	if p.Password == "" && p.KeyFile == "" {
		pw, err := promptPassword(fmt.Sprintf("Password for %s@%s: ", p.Username, p.Host))
		if err != nil {
			_ = m.Close()
			return nil, err
		}
		p.Password = pw
		if err := m.UpdateProfile(p); err != nil {
			_ = m.Close()
			return nil, err
		}
	}

	if err := m.UseProfile(ctx, name); err != nil {
		_ = m.Close()
		return nil, err
	}
	if err := m.Connect(ctx); err != nil {
		_ = m.Close()
		return nil, fmt.Errorf("failed to connect to %s: %w", p.Addr(), err)
	}

	if remoteDir != "" {
		dir, err := m.Dir()
		if err != nil {
			_ = m.Close()
			return nil, err
		}
		if err := m.Cd(resolveRemote(dir.Path, remoteDir)); err != nil {
			_ = m.Close()
			return nil, err
		}
	}
	if err := m.Refresh(ctx); err != nil {
		_ = m.Close()
		return nil, err
	}
	return m, nil
}

// resolveRemote interprets p relative to cwd unless it is absolute.
func resolveRemote(cwd syspath.SystemPath, p string) syspath.SystemPath {
	if len(p) > 0 && p[0] == '/' {
		abs, _ := syspath.Parse(p)
		return abs
	}

	out := cwd.Clone()
	rel, _ := syspath.Parse("/" + p)
	for _, part := range rel.Parts() {
		if part == ".." {
			out.Pop()
			continue
		}
		out.Push(part)
	}
	return out
}

// promptPassword reads a password without echo. It fails when stdin is
// not a terminal.
func promptPassword(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("no password in profile and stdin is not a terminal")
	}

	fmt.Fprint(os.Stderr, prompt)
	pw, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return string(pw), nil
}
