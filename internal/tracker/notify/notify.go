// Package notify abstracts the operating system's directory change
// notification primitive behind a small polling capability.
//
// A Backend opens a Handle on a single directory tree. The owner of the
// handle drives it with a request/poll cycle:
//
//	h, err := backend.Open(root)
//	if err != nil {
//	    return err
//	}
//	defer h.Close()
//
//	buf := make([]byte, 2048)
//	if err := h.Request(buf); err != nil {
//	    // retry on the next iteration
//	}
//	n, err := h.Poll()
//	switch {
//	case errors.Is(err, notify.ErrPending):
//	    // nothing yet, poll again later
//	case err != nil:
//	    // the watch is broken
//	default:
//	    records, err := h.Decode(buf[:n])
//	}
//
// Platform bindings live in inotify_linux.go (Linux inotify),
// readdir_windows.go (ReadDirectoryChangesW with overlapped I/O) and
// fsnotify.go (portable, github.com/fsnotify/fsnotify).
package notify

import (
	"errors"
	"fmt"
	"strings"
)

// Action is the kind of change reported for a single record. The numeric
// values match the FILE_ACTION_* codes of the canonical buffer format.
type Action uint32

const (
	// ActionNone marks an empty record. Decoders never return it.
	ActionNone Action = 0
	// ActionAdded indicates an entry was created.
	ActionAdded Action = 1
	// ActionRemoved indicates an entry was deleted.
	ActionRemoved Action = 2
	// ActionModified indicates an entry's contents or attributes changed.
	ActionModified Action = 3
	// ActionRenamedFrom carries the old name of a renamed entry.
	ActionRenamedFrom Action = 4
	// ActionRenamedTo carries the new name of a renamed entry.
	ActionRenamedTo Action = 5
)

// String returns a human-readable representation of the action.
func (a Action) String() string {
	switch a {
	case ActionNone:
		return "none"
	case ActionAdded:
		return "added"
	case ActionRemoved:
		return "removed"
	case ActionModified:
		return "modified"
	case ActionRenamedFrom:
		return "renamed_from"
	case ActionRenamedTo:
		return "renamed_to"
	default:
		return fmt.Sprintf("other(%d)", uint32(a))
	}
}

// Known reports whether the action is one of the named actions.
func (a Action) Known() bool {
	return a >= ActionAdded && a <= ActionRenamedTo
}

// Record is one decoded change notification.
type Record struct {
	// Action is the kind of change.
	Action Action
	// Name is the path of the affected entry relative to the watched root,
	// using the local OS separator.
	Name string
}

// Backend opens watch handles.
type Backend interface {
	// Name identifies the backend ("native" or "fsnotify").
	Name() string

	// Open acquires an exclusive watch handle on the directory at path.
	// The directory must exist.
	Open(path string) (Handle, error)
}

// Handle is an open watch session on one directory tree. A handle is not
// safe for concurrent use; it belongs to the goroutine that polls it.
type Handle interface {
	// Request issues an asynchronous change request that fills buf.
	// buf must not be touched by the caller until Poll reports completion.
	Request(buf []byte) error

	// Poll checks the outstanding request without blocking. It returns
	// ErrPending while no data is available and the number of valid bytes
	// in the request buffer once the request has completed.
	Poll() (int, error)

	// Decode converts the completed bytes of a request buffer into records.
	Decode(buf []byte) ([]Record, error)

	// Close releases the OS resources held by the handle.
	Close() error
}

var (
	// ErrPending is returned by Poll while a request has not completed.
	ErrPending = errors.New("notify: no data yet")

	// ErrNoRequest is returned by Poll when no request is outstanding.
	ErrNoRequest = errors.New("notify: no outstanding request")

	// ErrMalformedBuffer is returned when a notification buffer cannot be decoded.
	ErrMalformedBuffer = errors.New("notify: malformed notification buffer")

	// ErrWatchRemoved is returned when the watched root itself disappears.
	ErrWatchRemoved = errors.New("notify: watched directory was removed")

	// ErrClosed is returned by operations on a closed handle.
	ErrClosed = errors.New("notify: handle closed")

	// ErrUnknownBackend is returned by ByName for unrecognised names.
	ErrUnknownBackend = errors.New("notify: unknown backend")
)

// ByName returns the backend registered under name. An empty name selects
// Default().
func ByName(name string) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "auto":
		return Default(), nil
	case "native":
		return Native()
	case "fsnotify":
		return FSNotify(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, name)
	}
}
