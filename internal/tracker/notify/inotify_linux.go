//go:build linux

package notify

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"unsafe"

	"golang.org/x/sys/unix"
)

// inotifyMask covers last-write, creation, name and directory-name changes.
// Last-write is IN_CLOSE_WRITE rather than IN_MODIFY so a single save
// produces a single record.
const inotifyMask = unix.IN_CLOSE_WRITE | unix.IN_CREATE |
	unix.IN_DELETE | unix.IN_MOVED_FROM | unix.IN_MOVED_TO | unix.IN_DELETE_SELF

type inotifyBackend struct{}

// Native returns the Linux inotify backend.
func Native() (Backend, error) {
	return inotifyBackend{}, nil
}

// Default returns the native backend on Linux.
func Default() Backend {
	return inotifyBackend{}
}

func (inotifyBackend) Name() string { return "native" }

// Open initialises a non-blocking inotify instance and adds a watch for the
// root and each directory below it.
func (inotifyBackend) Open(path string) (Handle, error) {
	root, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve watch path: %w", err)
	}

	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("failed to stat watch path: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("watch path %s is not a directory", root)
	}

	fd, err := unix.InotifyInit1(unix.IN_CLOEXEC | unix.IN_NONBLOCK)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize inotify: %w", err)
	}

	h := &inotifyHandle{
		fd:      fd,
		root:    root,
		wdPaths: make(map[int32]string),
	}
	if err := h.addWatch(root); err != nil {
		_ = unix.Close(fd)
		return nil, err
	}
	h.rootWd = h.lastWd
	h.addSubdirs(root)

	return h, nil
}

type inotifyHandle struct {
	fd      int
	root    string
	rootWd  int32
	lastWd  int32
	wdPaths map[int32]string // watch descriptor -> path relative to root
	buf     []byte
	armed   bool
	closed  bool
}

func (h *inotifyHandle) addWatch(dir string) error {
	wd, err := unix.InotifyAddWatch(h.fd, dir, inotifyMask)
	if err != nil {
		return fmt.Errorf("inotify_add_watch %s failed: %w", dir, err)
	}

	rel, err := filepath.Rel(h.root, dir)
	if err != nil {
		return err
	}
	if rel == "." {
		rel = ""
	}

	//nolint:gosec // watch descriptors are small non-negative ints
	h.lastWd = int32(wd)
	h.wdPaths[h.lastWd] = rel
	return nil
}

// addSubdirs watches every directory below dir. Failures on individual
// directories are not fatal; those subtrees just go unwatched.
func (h *inotifyHandle) addSubdirs(dir string) {
	_ = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() || p == dir {
			return nil
		}
		_ = h.addWatch(p)
		return nil
	})
}

// Request arms the handle. inotify queues events continuously, so there is
// no kernel request to issue; the buffer is read on the next Poll.
func (h *inotifyHandle) Request(buf []byte) error {
	if h.closed {
		return ErrClosed
	}
	if len(buf) < unix.SizeofInotifyEvent {
		return fmt.Errorf("request buffer of %d bytes is too small", len(buf))
	}
	h.buf = buf
	h.armed = true
	return nil
}

func (h *inotifyHandle) Poll() (int, error) {
	if h.closed {
		return 0, ErrClosed
	}
	if !h.armed {
		return 0, ErrNoRequest
	}

	n, err := unix.Read(h.fd, h.buf)
	if err != nil {
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
			return 0, ErrPending
		}
		return 0, fmt.Errorf("failed to read inotify events: %w", err)
	}
	if n < unix.SizeofInotifyEvent {
		return 0, ErrPending
	}

	h.armed = false
	return n, nil
}

// Decode walks the variable-length inotify_event records in buf.
func (h *inotifyHandle) Decode(buf []byte) ([]Record, error) {
	var records []Record

	offset := 0
	for offset+unix.SizeofInotifyEvent <= len(buf) {
		//nolint:gosec // G103: inotify records are laid out by the kernel
		event := (*unix.InotifyEvent)(unsafe.Pointer(&buf[offset]))
		end := offset + unix.SizeofInotifyEvent + int(event.Len)
		if end > len(buf) {
			return records, fmt.Errorf("%w: inotify record at offset %d exceeds buffer", ErrMalformedBuffer, offset)
		}

		name := ""
		if event.Len > 0 {
			raw := buf[offset+unix.SizeofInotifyEvent : end]
			name = string(raw[:clen(raw)])
		}
		offset = end

		if event.Mask&unix.IN_IGNORED != 0 || event.Mask&unix.IN_DELETE_SELF != 0 {
			if event.Wd == h.rootWd {
				return records, ErrWatchRemoved
			}
			delete(h.wdPaths, event.Wd)
			continue
		}
		if event.Mask&unix.IN_Q_OVERFLOW != 0 {
			continue
		}

		dir, ok := h.wdPaths[event.Wd]
		if !ok || name == "" {
			continue
		}
		rel := filepath.Join(dir, name)

		// A directory created or moved into the tree needs its own watches.
		if event.Mask&(unix.IN_CREATE|unix.IN_MOVED_TO) != 0 && event.Mask&unix.IN_ISDIR != 0 {
			abs := filepath.Join(h.root, rel)
			if err := h.addWatch(abs); err == nil {
				h.addSubdirs(abs)
			}
		}

		action := inotifyAction(event.Mask)
		if action == ActionNone {
			continue
		}
		records = append(records, Record{Action: action, Name: normalizeName(rel)})
	}

	return records, nil
}

func (h *inotifyHandle) Close() error {
	if h.closed {
		return nil
	}
	h.closed = true
	if err := unix.Close(h.fd); err != nil {
		return fmt.Errorf("failed to close inotify: %w", err)
	}
	return nil
}

// inotifyAction maps an inotify mask onto the canonical action codes.
func inotifyAction(mask uint32) Action {
	switch {
	case mask&unix.IN_CREATE != 0:
		return ActionAdded
	case mask&unix.IN_DELETE != 0:
		return ActionRemoved
	case mask&unix.IN_MOVED_FROM != 0:
		return ActionRenamedFrom
	case mask&unix.IN_MOVED_TO != 0:
		return ActionRenamedTo
	case mask&(unix.IN_MODIFY|unix.IN_CLOSE_WRITE) != 0:
		return ActionModified
	default:
		return ActionNone
	}
}

// clen returns the length of a null-terminated byte slice.
func clen(n []byte) int {
	for i := 0; i < len(n); i++ {
		if n[i] == 0 {
			return i
		}
	}
	return len(n)
}
