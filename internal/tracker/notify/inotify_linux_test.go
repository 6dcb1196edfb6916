//go:build linux

package notify

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestInotify_ReportsCloseWrite verifies that writing a file produces an
// added and a modified record.
func TestInotify_ReportsCloseWrite(t *testing.T) {
	root := t.TempDir()
	b, err := Native()
	require.NoError(t, err)

	h, err := b.Open(root)
	require.NoError(t, err)
	defer h.Close()

	require.NoError(t, os.WriteFile(filepath.Join(root, "data.csv"), []byte("1,2,3"), 0644))

	pollRecords(t, h, func(recs []Record) bool {
		return hasRecord(ActionAdded, "data.csv")(recs) && hasRecord(ActionModified, "data.csv")(recs)
	})
}

// TestInotify_Recursive verifies that files in pre-existing and newly
// created subdirectories are reported relative to the root.
func TestInotify_Recursive(t *testing.T) {
	root := t.TempDir()
	existing := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(existing, 0755))

	h, err := inotifyBackend{}.Open(root)
	require.NoError(t, err)
	defer h.Close()

	require.NoError(t, os.WriteFile(filepath.Join(existing, "deep.txt"), nil, 0644))
	pollRecords(t, h, hasRecord(ActionModified, filepath.Join("a", "b", "deep.txt")))

	fresh := filepath.Join(root, "fresh")
	require.NoError(t, os.Mkdir(fresh, 0755))
	pollRecords(t, h, hasRecord(ActionAdded, "fresh"))

	require.NoError(t, os.WriteFile(filepath.Join(fresh, "f.txt"), nil, 0644))
	pollRecords(t, h, hasRecord(ActionModified, filepath.Join("fresh", "f.txt")))
}

// TestInotify_MovedInDirectory verifies that a directory moved into the
// tree from outside is watched like a freshly created one.
func TestInotify_MovedInDirectory(t *testing.T) {
	root := t.TempDir()
	outside := filepath.Join(t.TempDir(), "incoming")
	require.NoError(t, os.MkdirAll(filepath.Join(outside, "nested"), 0755))

	h, err := inotifyBackend{}.Open(root)
	require.NoError(t, err)
	defer h.Close()

	moved := filepath.Join(root, "moved")
	require.NoError(t, os.Rename(outside, moved))
	pollRecords(t, h, hasRecord(ActionRenamedTo, "moved"))

	require.NoError(t, os.WriteFile(filepath.Join(moved, "a.txt"), nil, 0644))
	pollRecords(t, h, hasRecord(ActionModified, filepath.Join("moved", "a.txt")))

	require.NoError(t, os.WriteFile(filepath.Join(moved, "nested", "b.txt"), nil, 0644))
	pollRecords(t, h, hasRecord(ActionModified, filepath.Join("moved", "nested", "b.txt")))
}

// TestInotify_RootRemoved verifies that deleting the watched directory is
// reported as ErrWatchRemoved.
func TestInotify_RootRemoved(t *testing.T) {
	parent := t.TempDir()
	root := filepath.Join(parent, "watched")
	require.NoError(t, os.Mkdir(root, 0755))

	h, err := inotifyBackend{}.Open(root)
	require.NoError(t, err)
	defer h.Close()

	require.NoError(t, os.Remove(root))

	buf := make([]byte, 2048)
	var decodeErr error
	for i := 0; i < 100 && decodeErr == nil; i++ {
		require.NoError(t, h.Request(buf))
		n, err := h.Poll()
		if err != nil {
			time.Sleep(10 * time.Millisecond)
			continue
		}
		_, decodeErr = h.Decode(buf[:n])
	}
	assert.ErrorIs(t, decodeErr, ErrWatchRemoved)
}

// TestInotifyAction verifies the mapping from inotify masks to actions.
func TestInotifyAction(t *testing.T) {
	tests := []struct {
		mask uint32
		want Action
	}{
		{0x100, ActionAdded},      // IN_CREATE
		{0x200, ActionRemoved},    // IN_DELETE
		{0x40, ActionRenamedFrom}, // IN_MOVED_FROM
		{0x80, ActionRenamedTo},   // IN_MOVED_TO
		{0x8, ActionModified},     // IN_CLOSE_WRITE
		{0x4, ActionNone},         // IN_ATTRIB
	}

	for _, tt := range tests {
		if got := inotifyAction(tt.mask); got != tt.want {
			t.Errorf("inotifyAction(%#x) = %v, want %v", tt.mask, got, tt.want)
		}
	}
}
