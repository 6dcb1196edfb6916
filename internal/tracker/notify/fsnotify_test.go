package notify

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pollRecords drives a handle until it yields records or the deadline passes.
func pollRecords(t *testing.T, h Handle, want func([]Record) bool) []Record {
	t.Helper()

	var all []Record
	buf := make([]byte, 2048)
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		require.NoError(t, h.Request(buf))
		n, err := h.Poll()
		if errors.Is(err, ErrPending) {
			time.Sleep(20 * time.Millisecond)
			continue
		}
		require.NoError(t, err)

		recs, err := h.Decode(buf[:n])
		require.NoError(t, err)
		all = append(all, recs...)
		if want(all) {
			return all
		}
	}
	t.Fatalf("timed out waiting for records, got %v", all)
	return nil
}

func hasRecord(action Action, name string) func([]Record) bool {
	return func(recs []Record) bool {
		for _, r := range recs {
			if r.Action == action && r.Name == name {
				return true
			}
		}
		return false
	}
}

// TestFSNotify_OpenRejectsMissingDir verifies that Open fails for a path
// that does not exist or is a file.
func TestFSNotify_OpenRejectsMissingDir(t *testing.T) {
	tmpDir := t.TempDir()

	_, err := FSNotify().Open(filepath.Join(tmpDir, "missing"))
	assert.Error(t, err)

	file := filepath.Join(tmpDir, "file.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0644))
	_, err = FSNotify().Open(file)
	assert.Error(t, err)
}

// TestFSNotify_PollBeforeRequest verifies the request/poll ordering.
func TestFSNotify_PollBeforeRequest(t *testing.T) {
	h, err := FSNotify().Open(t.TempDir())
	require.NoError(t, err)
	defer h.Close()

	_, err = h.Poll()
	assert.ErrorIs(t, err, ErrNoRequest)

	require.NoError(t, h.Request(make([]byte, 256)))
	_, err = h.Poll()
	assert.ErrorIs(t, err, ErrPending)
}

// TestFSNotify_ReportsCreate verifies that creating a file yields an added
// record relative to the root.
func TestFSNotify_ReportsCreate(t *testing.T) {
	root := t.TempDir()
	h, err := FSNotify().Open(root)
	require.NoError(t, err)
	defer h.Close()

	require.NoError(t, os.WriteFile(filepath.Join(root, "new.txt"), []byte("hello"), 0644))

	pollRecords(t, h, hasRecord(ActionAdded, "new.txt"))
}

// TestFSNotify_WatchesNewSubdirectories verifies that directories created
// after Open are watched too.
func TestFSNotify_WatchesNewSubdirectories(t *testing.T) {
	root := t.TempDir()
	h, err := FSNotify().Open(root)
	require.NoError(t, err)
	defer h.Close()

	sub := filepath.Join(root, "sub")
	require.NoError(t, os.Mkdir(sub, 0755))
	pollRecords(t, h, hasRecord(ActionAdded, "sub"))

	require.NoError(t, os.WriteFile(filepath.Join(sub, "inner.txt"), []byte("x"), 0644))
	pollRecords(t, h, hasRecord(ActionAdded, filepath.Join("sub", "inner.txt")))
}

// TestFSNotify_SmallBufferKeepsOverflow verifies that records that do not
// fit in one request are delivered by the next one.
func TestFSNotify_SmallBufferKeepsOverflow(t *testing.T) {
	root := t.TempDir()
	h, err := FSNotify().Open(root)
	require.NoError(t, err)
	defer h.Close()

	fh := h.(*fsnotifyHandle)
	fh.pending = []Record{
		{Action: ActionAdded, Name: "aaaa"},
		{Action: ActionAdded, Name: "bbbb"},
	}

	buf := make([]byte, 20)
	require.NoError(t, h.Request(buf))
	n, err := h.Poll()
	require.NoError(t, err)
	recs, err := h.Decode(buf[:n])
	require.NoError(t, err)
	assert.Equal(t, []Record{{Action: ActionAdded, Name: "aaaa"}}, recs)

	require.NoError(t, h.Request(buf))
	n, err = h.Poll()
	require.NoError(t, err)
	recs, err = h.Decode(buf[:n])
	require.NoError(t, err)
	assert.Equal(t, []Record{{Action: ActionAdded, Name: "bbbb"}}, recs)
}

// TestFSNotify_Close verifies that a closed handle rejects further use and
// that Close is idempotent.
func TestFSNotify_Close(t *testing.T) {
	h, err := FSNotify().Open(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, h.Close())
	require.NoError(t, h.Close())

	assert.ErrorIs(t, h.Request(make([]byte, 64)), ErrClosed)
	_, err = h.Poll()
	assert.ErrorIs(t, err, ErrClosed)
}
