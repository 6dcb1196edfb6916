package tracker

import (
	"fmt"
	"path"
	"path/filepath"

	"github.com/steveyegge/remit/internal/tracker/notify"
)

// Action is the kind of change carried by a ChangeEvent.
type Action = notify.Action

// Re-exported so callers of this package need not import notify.
const (
	ActionAdded       = notify.ActionAdded
	ActionRemoved     = notify.ActionRemoved
	ActionModified    = notify.ActionModified
	ActionRenamedFrom = notify.ActionRenamedFrom
	ActionRenamedTo   = notify.ActionRenamedTo
)

// ChangeEvent describes one filesystem mutation under a tracked directory.
// Events are values; nothing mutates them after the watcher builds them.
type ChangeEvent struct {
	// Action is the kind of change.
	Action Action

	// LocalPath is the affected entry on the local filesystem.
	LocalPath string

	// RemotePath is the same entry on the remote side, in POSIX form.
	RemotePath string
}

// Split returns the local directory, the remote directory and the file name
// of the event, the form an upload takes.
func (e ChangeEvent) Split() (localDir, remoteDir, name string) {
	return filepath.Dir(e.LocalPath), path.Dir(e.RemotePath), filepath.Base(e.LocalPath)
}

func (e ChangeEvent) String() string {
	return fmt.Sprintf("%s %s -> %s", e.Action, e.LocalPath, e.RemotePath)
}
