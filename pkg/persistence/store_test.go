package persistence

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

type record struct {
	Hash  string `json:"hash"`
	State string `json:"state"`
}

func TestPutGet(t *testing.T) {
	require := require.New(t)
	path := filepath.Join(t.TempDir(), "jobs.json")
	s, err := Open[record](path)
	require.NoError(err)
	require.NoError(s.Put("abc", record{Hash: "abc", State: "queued"}))

	got, ok := s.Get("abc")
	require.True(ok, "expected record to be present")
	require.Equal("queued", got.State)
}

func TestReopen(t *testing.T) {
	require := require.New(t)
	path := filepath.Join(t.TempDir(), "jobs.json")
	s1, _ := Open[record](path)
	require.NoError(s1.Put("abc", record{Hash: "abc", State: "completed"}))

	s2, err := Open[record](path)
	require.NoError(err)
	got, ok := s2.Get("abc")
	require.True(ok)
	require.Equal("completed", got.State)
}

func TestDelete(t *testing.T) {
	require := require.New(t)
	path := filepath.Join(t.TempDir(), "jobs.json")
	s, _ := Open[record](path)
	require.NoError(s.Put("abc", record{Hash: "abc"}))
	require.NoError(s.Delete("abc"))

	_, ok := s.Get("abc")
	require.False(ok, "expected record to be gone after delete")
}

func TestIter(t *testing.T) {
	require := require.New(t)
	path := filepath.Join(t.TempDir(), "jobs.json")
	s, _ := Open[record](path)
	require.NoError(s.Put("a", record{Hash: "a"}))
	require.NoError(s.Put("b", record{Hash: "b"}))
	require.Len(s.Iter(), 2)
}

func TestOpen_MissingFile(t *testing.T) {
	require := require.New(t)
	path := filepath.Join(t.TempDir(), "does-not-exist.json")
	s, err := Open[record](path)
	require.NoError(err, "Open on missing file should not error")
	require.Empty(s.Iter())
}
