package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestProfileStore_SaveLoad tests that saved profiles survive a reload
func TestProfileStore_SaveLoad(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "profiles")
	store := NewProfileStore(dir)
	require.NoError(t, store.Load())

	require.NoError(t, store.Insert(Profile{Name: "lab", Username: "alice", Password: "pw", Host: "lab.example.com", Port: 2222}))
	require.NoError(t, store.Insert(Profile{Name: "build", Username: "ci", Host: "10.0.0.5", Remote: "build-sftp"}))
	require.NoError(t, store.Save("lab"))
	require.NoError(t, store.Save("build"))

	info, err := os.Stat(filepath.Join(dir, "lab.toml"))
	require.NoError(t, err)
	if info.Mode().Perm()&0077 != 0 && os.PathSeparator == '/' {
		t.Errorf("profile file mode = %v, want owner-only", info.Mode().Perm())
	}

	reloaded := NewProfileStore(dir)
	require.NoError(t, reloaded.Load())

	lab, ok := reloaded.Get("lab")
	require.True(t, ok)
	assert.Equal(t, "alice", lab.Username)
	assert.Equal(t, "pw", lab.Password)
	assert.Equal(t, "lab.example.com:2222", lab.Addr())
	assert.Equal(t, "lab", lab.RemoteName())

	build, ok := reloaded.Get("build")
	require.True(t, ok)
	assert.Equal(t, "10.0.0.5:22", build.Addr())
	assert.Equal(t, "build-sftp", build.RemoteName())

	names := []string{}
	for _, p := range reloaded.List() {
		names = append(names, p.Name)
	}
	assert.Equal(t, []string{"build", "lab"}, names)
}

// TestProfileStore_InsertOverwrites tests that inserting a known name replaces it
func TestProfileStore_InsertOverwrites(t *testing.T) {
	store := NewProfileStore(t.TempDir())

	require.NoError(t, store.Insert(Profile{Name: "lab", Username: "alice", Host: "a"}))
	require.NoError(t, store.Insert(Profile{Name: "lab", Username: "bob", Host: "b"}))

	p, ok := store.Get("lab")
	require.True(t, ok)
	assert.Equal(t, "bob", p.Username)
	assert.Len(t, store.List(), 1)
}

// TestProfileStore_Errors tests unknown names and invalid profiles
func TestProfileStore_Errors(t *testing.T) {
	store := NewProfileStore(t.TempDir())

	assert.ErrorIs(t, store.Save("nope"), ErrProfileNotFound)
	assert.ErrorIs(t, store.Delete("nope"), ErrProfileNotFound)

	assert.Error(t, store.Insert(Profile{Name: "", Username: "a", Host: "h"}))
	assert.Error(t, store.Insert(Profile{Name: "x/y", Username: "a", Host: "h"}))
	assert.Error(t, store.Insert(Profile{Name: "x", Username: "a"}))
	assert.Error(t, store.Insert(Profile{Name: "x", Host: "h"}))
	assert.Error(t, store.Insert(Profile{Name: "x", Username: "a", Host: "h", Port: 99999}))
}

// TestProfileStore_Delete tests that deletion removes the file
func TestProfileStore_Delete(t *testing.T) {
	dir := t.TempDir()
	store := NewProfileStore(dir)
	require.NoError(t, store.Insert(Profile{Name: "lab", Username: "alice", Host: "h"}))
	require.NoError(t, store.Save("lab"))

	require.NoError(t, store.Delete("lab"))
	_, ok := store.Get("lab")
	assert.False(t, ok)
	assert.NoFileExists(t, filepath.Join(dir, "lab.toml"))
}

// TestProfileStore_LoadSkipsOtherFiles tests that non-profile files are ignored
// and that a profile without a name takes it from the file name
func TestProfileStore_LoadSkipsOtherFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hello"), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "edge.toml"), []byte("username = \"e\"\nhost = \"edge\"\n"), 0600))

	store := NewProfileStore(dir)
	require.NoError(t, store.Load())

	list := store.List()
	require.Len(t, list, 1)
	assert.Equal(t, "edge", list[0].Name)
}

// TestProfileStore_LoadRejectsBadFile tests that a malformed file fails the load
func TestProfileStore_LoadRejectsBadFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.toml"), []byte("host = \n"), 0600))

	assert.Error(t, NewProfileStore(dir).Load())
}
