package notify

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// fsnotifyBackend implements Backend on top of fsnotify. It works on every
// platform fsnotify supports and is the default where no native binding
// exists.
type fsnotifyBackend struct{}

// FSNotify returns the portable fsnotify backend.
func FSNotify() Backend {
	return fsnotifyBackend{}
}

func (fsnotifyBackend) Name() string { return "fsnotify" }

// Open creates an fsnotify watcher and adds the root and every directory
// below it, since fsnotify does not watch recursively.
func (fsnotifyBackend) Open(path string) (Handle, error) {
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

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	h := &fsnotifyHandle{
		watcher: watcher,
		root:    root,
	}
	if err := h.addTree(root); err != nil {
		_ = watcher.Close()
		return nil, err
	}

	return h, nil
}

// fsnotifyHandle serialises fsnotify events into the canonical
// FILE_NOTIFY_INFORMATION format so the same decoder serves every backend.
type fsnotifyHandle struct {
	watcher *fsnotify.Watcher
	root    string

	mu      sync.Mutex
	buf     []byte
	pending []Record // converted but not yet delivered (buffer was full)
	armed   bool
	closed  bool
}

// addTree watches dir and all of its subdirectories.
func (h *fsnotifyHandle) addTree(dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == dir {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if err := h.watcher.Add(p); err != nil {
			return fmt.Errorf("failed to watch directory %s: %w", p, err)
		}
		return nil
	})
}

func (h *fsnotifyHandle) Request(buf []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrClosed
	}
	if len(buf) < notifyHeaderSize {
		return fmt.Errorf("request buffer of %d bytes is too small", len(buf))
	}
	h.buf = buf
	h.armed = true
	return nil
}

// Poll drains whatever fsnotify has queued without blocking.
func (h *fsnotifyHandle) Poll() (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return 0, ErrClosed
	}
	if !h.armed {
		return 0, ErrNoRequest
	}

drain:
	for {
		select {
		case event, ok := <-h.watcher.Events:
			if !ok {
				return 0, ErrClosed
			}
			if rec, ok := h.convertEvent(event); ok {
				h.pending = append(h.pending, rec)
			}
		case err, ok := <-h.watcher.Errors:
			if !ok {
				return 0, ErrClosed
			}
			return 0, fmt.Errorf("fsnotify error: %w", err)
		default:
			break drain
		}
	}

	if len(h.pending) == 0 {
		return 0, ErrPending
	}

	n, written := EncodeNotifyInformation(h.buf, h.pending)
	if written == 0 {
		// A single name larger than the buffer; drop it like an overflow.
		h.pending = h.pending[1:]
		return 0, ErrPending
	}
	h.pending = h.pending[written:]
	h.armed = false
	return n, nil
}

func (h *fsnotifyHandle) Decode(buf []byte) ([]Record, error) {
	return DecodeNotifyInformation(buf)
}

func (h *fsnotifyHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}
	h.closed = true
	if err := h.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	return nil
}

// convertEvent converts an fsnotify event to a Record relative to the root.
// New directories are added to the watch so the tree stays covered.
func (h *fsnotifyHandle) convertEvent(event fsnotify.Event) (Record, bool) {
	rel, err := filepath.Rel(h.root, event.Name)
	if err != nil || rel == "." {
		return Record{}, false
	}

	var action Action
	switch {
	case event.Has(fsnotify.Create):
		action = ActionAdded
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			_ = h.addTree(event.Name)
		}
	case event.Has(fsnotify.Write):
		action = ActionModified
	case event.Has(fsnotify.Remove):
		action = ActionRemoved
	case event.Has(fsnotify.Rename):
		// fsnotify reports the old name; the new name arrives as Create
		action = ActionRenamedFrom
	default:
		// Ignore chmod
		return Record{}, false
	}

	return Record{Action: action, Name: rel}, true
}
