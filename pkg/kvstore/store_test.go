package kvstore

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type doc struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestSaveAndLoad(t *testing.T) {
	s := New(t.TempDir())

	require.NoError(t, s.Save("alice/infos/manifest.json", doc{Name: "alice", Count: 3}))
	assert.True(t, s.Exists("alice/infos/manifest.json"))

	var got doc
	require.NoError(t, s.Load("alice/infos/manifest.json", &got))
	assert.Equal(t, doc{Name: "alice", Count: 3}, got)

	// Overwrite replaces the document
	require.NoError(t, s.Save("alice/infos/manifest.json", doc{Name: "alice", Count: 4}))
	require.NoError(t, s.Load("alice/infos/manifest.json", &got))
	assert.Equal(t, 4, got.Count)

	// No temporary files are left behind
	entries, err := os.ReadDir(filepath.Join(s.Root(), "alice", "infos"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestLoadMissingAndCorrupt(t *testing.T) {
	s := New(t.TempDir())

	var got doc
	assert.ErrorIs(t, s.Load("missing.json", &got), ErrNotFound)

	path, err := s.Path("broken.json")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))
	assert.ErrorIs(t, s.Load("broken.json", &got), ErrCorrupt)
}

func TestCreateNeverOverwrites(t *testing.T) {
	s := New(t.TempDir())

	require.NoError(t, s.Create("articles/posts-0001.json", []int{1, 2}))
	err := s.Create("articles/posts-0001.json", []int{3})
	assert.ErrorIs(t, err, ErrExists)

	var got []int
	require.NoError(t, s.Load("articles/posts-0001.json", &got))
	assert.Equal(t, []int{1, 2}, got)
}

func TestCreateWithoutHardLinks(t *testing.T) {
	orig := link
	t.Cleanup(func() { link = orig })

	for name, linkErr := range map[string]error{
		"unsupported": errors.ErrUnsupported,
		"permission":  os.ErrPermission,
	} {
		t.Run(name, func(t *testing.T) {
			link = func(oldname, newname string) error {
				return &os.LinkError{Op: "link", Old: oldname, New: newname, Err: linkErr}
			}
			s := New(t.TempDir())

			require.NoError(t, s.Create("articles/posts-0001.json", []int{1, 2}))
			assert.ErrorIs(t, s.Create("articles/posts-0001.json", []int{3}), ErrExists)

			var got []int
			require.NoError(t, s.Load("articles/posts-0001.json", &got))
			assert.Equal(t, []int{1, 2}, got)

			entries, err := os.ReadDir(filepath.Join(s.Root(), "articles"))
			require.NoError(t, err)
			assert.Len(t, entries, 1)
		})
	}

	// Other link errors are not retried
	link = func(oldname, newname string) error {
		return &os.LinkError{Op: "link", Old: oldname, New: newname, Err: errors.New("io error")}
	}
	s := New(t.TempDir())
	err := s.Create("articles/posts-0001.json", []int{1})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrExists)
	assert.False(t, s.Exists("articles/posts-0001.json"))
}

func TestInvalidKeys(t *testing.T) {
	s := New(t.TempDir())
	for _, key := range []string{"", "../escape.json", "/etc/passwd", "a/../../b"} {
		_, err := s.Path(key)
		assert.ErrorIs(t, err, ErrInvalidKey, key)
	}
}

func TestListAndDelete(t *testing.T) {
	s := New(t.TempDir())
	require.NoError(t, s.Save("interactions/likes-0002.json", []int{}))
	require.NoError(t, s.Save("interactions/likes-0001.json", []int{}))
	require.NoError(t, s.Save("interactions/followers.json", []int{}))

	keys, err := s.List("interactions", "likes-*.json")
	require.NoError(t, err)
	assert.Equal(t, []string{"interactions/likes-0001.json", "interactions/likes-0002.json"}, keys)

	keys, err = s.List("nowhere", "*.json")
	require.NoError(t, err)
	assert.Empty(t, keys)

	require.NoError(t, s.Delete("interactions/likes-0001.json"))
	require.NoError(t, s.Delete("interactions/likes-0001.json"))
	assert.False(t, s.Exists("interactions/likes-0001.json"))
}

func TestDeleteAll(t *testing.T) {
	s := New(t.TempDir())
	require.NoError(t, s.Save("alice/infos/manifest.json", doc{Name: "alice"}))
	require.NoError(t, s.Save("alice/articles/posts-0001.json", []int{1}))
	require.NoError(t, s.Save("bob/infos/manifest.json", doc{Name: "bob"}))

	require.NoError(t, s.DeleteAll("alice"))
	assert.False(t, s.Exists("alice/infos/manifest.json"))
	assert.False(t, s.Exists("alice/articles/posts-0001.json"))
	assert.True(t, s.Exists("bob/infos/manifest.json"))

	// Deleting again is fine
	require.NoError(t, s.DeleteAll("alice"))

	assert.ErrorIs(t, s.DeleteAll("."), ErrInvalidKey)
}
