//go:build windows

package notify

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/windows"
)

const readDirMask = windows.FILE_NOTIFY_CHANGE_LAST_WRITE |
	windows.FILE_NOTIFY_CHANGE_CREATION |
	windows.FILE_NOTIFY_CHANGE_FILE_NAME |
	windows.FILE_NOTIFY_CHANGE_DIR_NAME

const (
	errIOIncomplete  = windows.Errno(996)  // ERROR_IO_INCOMPLETE
	errNotifyEnumDir = windows.Errno(1022) // ERROR_NOTIFY_ENUM_DIR
)

type readDirBackend struct{}

// Native returns the ReadDirectoryChangesW backend.
func Native() (Backend, error) {
	return readDirBackend{}, nil
}

// Default returns the native backend on Windows.
func Default() Backend {
	return readDirBackend{}
}

func (readDirBackend) Name() string { return "native" }

// Open acquires a directory handle opened for overlapped change requests.
func (readDirBackend) Open(path string) (Handle, error) {
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

	name, err := windows.UTF16PtrFromString(root)
	if err != nil {
		return nil, fmt.Errorf("invalid watch path %s: %w", root, err)
	}

	dir, err := windows.CreateFile(
		name,
		windows.FILE_LIST_DIRECTORY,
		windows.FILE_SHARE_READ|windows.FILE_SHARE_WRITE|windows.FILE_SHARE_DELETE,
		nil,
		windows.OPEN_EXISTING,
		windows.FILE_FLAG_BACKUP_SEMANTICS|windows.FILE_FLAG_OVERLAPPED,
		0,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to open directory %s: %w", root, err)
	}

	event, err := windows.CreateEvent(nil, 1, 0, nil)
	if err != nil {
		_ = windows.CloseHandle(dir)
		return nil, fmt.Errorf("failed to create completion event: %w", err)
	}

	h := &readDirHandle{dir: dir, event: event}
	h.ov.HEvent = event
	return h, nil
}

type readDirHandle struct {
	dir    windows.Handle
	event  windows.Handle
	ov     windows.Overlapped
	buf    []byte
	armed  bool
	closed bool
}

// Request issues an overlapped ReadDirectoryChangesW for the whole subtree.
// The kernel writes into buf until Poll reports completion.
func (h *readDirHandle) Request(buf []byte) error {
	if h.closed {
		return ErrClosed
	}
	if h.armed {
		return nil
	}
	if len(buf) < notifyHeaderSize {
		return fmt.Errorf("request buffer of %d bytes is too small", len(buf))
	}

	if err := windows.ResetEvent(h.event); err != nil {
		return fmt.Errorf("failed to reset completion event: %w", err)
	}
	h.ov = windows.Overlapped{HEvent: h.event}

	//nolint:gosec // buffer length is bounded by the caller's allocation
	err := windows.ReadDirectoryChanges(h.dir, &buf[0], uint32(len(buf)), true, readDirMask, nil, &h.ov, 0)
	if err != nil && !errors.Is(err, windows.ERROR_IO_PENDING) {
		return fmt.Errorf("ReadDirectoryChangesW failed: %w", err)
	}

	h.buf = buf
	h.armed = true
	return nil
}

// Poll checks the overlapped result without waiting.
func (h *readDirHandle) Poll() (int, error) {
	if h.closed {
		return 0, ErrClosed
	}
	if !h.armed {
		return 0, ErrNoRequest
	}

	var n uint32
	err := windows.GetOverlappedResult(h.dir, &h.ov, &n, false)
	if err != nil {
		if errors.Is(err, errIOIncomplete) {
			return 0, ErrPending
		}
		h.armed = false
		switch {
		case errors.Is(err, errNotifyEnumDir):
			// Kernel buffer overflowed; changes were lost but the watch holds.
			return 0, nil
		case errors.Is(err, windows.ERROR_ACCESS_DENIED):
			// Returned once the watched directory has been deleted.
			return 0, ErrWatchRemoved
		default:
			return 0, fmt.Errorf("GetOverlappedResult failed: %w", err)
		}
	}

	h.armed = false
	return int(n), nil
}

// Decode parses the FILE_NOTIFY_INFORMATION chain the kernel wrote. A zero
// length completion means the kernel dropped events and yields no records.
func (h *readDirHandle) Decode(buf []byte) ([]Record, error) {
	if len(buf) == 0 {
		return nil, nil
	}
	return DecodeNotifyInformation(buf)
}

func (h *readDirHandle) Close() error {
	if h.closed {
		return nil
	}
	h.closed = true

	if h.armed {
		_ = windows.CancelIo(h.dir)
		// Wait for the cancelled request so the kernel stops writing to buf.
		var n uint32
		_ = windows.GetOverlappedResult(h.dir, &h.ov, &n, true)
		h.armed = false
	}

	var errs []error
	if err := windows.CloseHandle(h.event); err != nil {
		errs = append(errs, fmt.Errorf("failed to close event: %w", err))
	}
	if err := windows.CloseHandle(h.dir); err != nil {
		errs = append(errs, fmt.Errorf("failed to close directory: %w", err))
	}
	return errors.Join(errs...)
}
