// Package syspath tracks remote POSIX paths one directory at a time and maps
// paths between a local mirror and the remote tree.
//
// A SystemPath is most reliable when it is changed one level at a time: when
// moving from /home to /home/alice, push "alice" rather than re-parsing the
// whole string.
package syspath

import (
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

// ErrOutsideRoot is returned when a path does not live under a mapping root.
var ErrOutsideRoot = errors.New("syspath: path is outside the mapped root")

// SystemPath is a stack of path components. The zero value is the root "/".
type SystemPath struct {
	relative bool
	parts    []string
}

// Parse builds a SystemPath from a POSIX path string. The boolean reports
// whether rendering the result reproduces the input exactly; it is false
// for inputs with doubled or trailing slashes, "." components and the like.
func Parse(p string) (SystemPath, bool) {
	sp := parse(p, "/")
	return sp, p != "" && sp.String() == p
}

// ParseWindows is Parse for backslash-separated paths, e.g. \home\alice.
func ParseWindows(p string) (SystemPath, bool) {
	sp := parse(p, `\`)
	return sp, p != "" && sp.Windows() == p
}

func parse(p, sep string) SystemPath {
	sp := SystemPath{relative: p != "" && !strings.HasPrefix(p, sep)}
	for _, part := range strings.Split(p, sep) {
		sp.Push(part)
	}
	return sp
}

// valid reports whether name can be a path component. Empty names, "/", "."
// and names made only of spaces are rejected.
func valid(name string) bool {
	return name != "" && name != "/" && name != "." && strings.TrimSpace(name) != ""
}

// Push descends into the directory name. Invalid names are ignored.
func (p *SystemPath) Push(name string) {
	if !valid(name) {
		return
	}
	p.parts = append(p.parts, name)
}

// Pop moves to the parent directory and returns the component that was
// removed, or "" at the root. Popping the last component of a relative
// path leaves the root.
func (p *SystemPath) Pop() string {
	if len(p.parts) == 0 {
		p.relative = false
		return ""
	}
	last := p.parts[len(p.parts)-1]
	p.parts = p.parts[:len(p.parts)-1]
	if len(p.parts) == 0 {
		p.relative = false
	}
	return last
}

// Prepend inserts name as the first component, e.g. turning alice/.ssh
// into home/alice/.ssh. Absolute paths stay absolute.
func (p *SystemPath) Prepend(name string) {
	if !valid(name) {
		return
	}
	p.parts = append([]string{name}, p.parts...)
}

// Clear resets the path to the root.
func (p *SystemPath) Clear() {
	p.relative = false
	p.parts = nil
}

// Len returns the number of components.
func (p SystemPath) Len() int {
	return len(p.parts)
}

// Base returns the last component, or "/" at the root.
func (p SystemPath) Base() string {
	if len(p.parts) == 0 {
		return "/"
	}
	return p.parts[len(p.parts)-1]
}

// Join returns the path with name appended, without modifying p.
func (p SystemPath) Join(name string) string {
	c := p.Clone()
	c.Push(name)
	return c.String()
}

// Parts returns a copy of the components.
func (p SystemPath) Parts() []string {
	return append([]string(nil), p.parts...)
}

// Clone returns an independent copy.
func (p SystemPath) Clone() SystemPath {
	return SystemPath{relative: p.relative, parts: append([]string(nil), p.parts...)}
}

// String renders the path in POSIX form, e.g. /home/alice.
func (p SystemPath) String() string {
	if len(p.parts) == 0 {
		return "/"
	}
	joined := strings.Join(p.parts, "/")
	if p.relative {
		return joined
	}
	return "/" + joined
}

// Windows renders the path with backslashes, e.g. \home\alice.
func (p SystemPath) Windows() string {
	return strings.ReplaceAll(p.String(), "/", `\`)
}

// WindowsLocal is Windows without the leading backslash, so an absolute
// remote path becomes relative to a local mirror directory.
func (p SystemPath) WindowsLocal() string {
	return strings.TrimPrefix(p.Windows(), `\`)
}

// Mapping translates between paths under a local root and the
// corresponding paths under a remote POSIX root.
type Mapping struct {
	LocalRoot  string
	RemoteRoot string
}

// ToRemote maps a local path under LocalRoot to its remote equivalent.
func (m Mapping) ToRemote(local string) (string, error) {
	rel, err := filepath.Rel(filepath.Clean(m.LocalRoot), filepath.Clean(local))
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrOutsideRoot, local)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrOutsideRoot, local)
	}
	return path.Join(m.remoteRoot(), filepath.ToSlash(rel)), nil
}

// ToLocal maps a remote path under RemoteRoot to its local equivalent.
func (m Mapping) ToLocal(remote string) (string, error) {
	root := m.remoteRoot()
	clean := path.Clean("/" + strings.TrimPrefix(remote, "/"))
	if !strings.HasPrefix(remote, "/") {
		clean = path.Join(root, remote)
	}

	var rel string
	switch {
	case clean == root:
		rel = ""
	case root == "/":
		rel = strings.TrimPrefix(clean, "/")
	case strings.HasPrefix(clean, root+"/"):
		rel = strings.TrimPrefix(clean, root+"/")
	default:
		return "", fmt.Errorf("%w: %s", ErrOutsideRoot, remote)
	}
	return filepath.Join(m.LocalRoot, filepath.FromSlash(rel)), nil
}

func (m Mapping) remoteRoot() string {
	if m.RemoteRoot == "" {
		return "/"
	}
	return path.Clean("/" + strings.TrimPrefix(m.RemoteRoot, "/"))
}
