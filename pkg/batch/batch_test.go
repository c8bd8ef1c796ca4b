package batch

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"bskyarchive/pkg/kvstore"
	"bskyarchive/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seq(from, n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = from + i
	}
	return out
}

func loadInts(t *testing.T, s *kvstore.Store, key string) []int {
	t.Helper()
	var got []int
	require.NoError(t, s.Load(key, &got))
	return got
}

func TestWriterSplitsIntoFixedBatches(t *testing.T) {
	s := kvstore.New(t.TempDir())
	w, err := NewWriter[int](s, "alice/articles", "posts", 100)
	require.NoError(t, err)

	written, err := w.Append(seq(0, 250)...)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice/articles/posts-0001.json", "alice/articles/posts-0002.json"}, written)
	assert.Equal(t, 50, w.Pending())

	last, err := w.Flush()
	require.NoError(t, err)
	assert.Equal(t, "alice/articles/posts-0003.json", last)
	assert.Zero(t, w.Pending())

	assert.Len(t, loadInts(t, s, "alice/articles/posts-0001.json"), 100)
	assert.Len(t, loadInts(t, s, "alice/articles/posts-0002.json"), 100)
	assert.Equal(t, seq(200, 50), loadInts(t, s, "alice/articles/posts-0003.json"))
	assert.Len(t, w.Files(), 3)
}

func TestWriterAcrossSeveralAppends(t *testing.T) {
	s := kvstore.New(t.TempDir())
	w, err := NewWriter[int](s, "articles", "posts", 4)
	require.NoError(t, err)

	written, err := w.Append(seq(0, 3)...)
	require.NoError(t, err)
	assert.Empty(t, written)

	written, err = w.Append(seq(3, 3)...)
	require.NoError(t, err)
	assert.Equal(t, []string{"articles/posts-0001.json"}, written)
	assert.Equal(t, []int{0, 1, 2, 3}, loadInts(t, s, written[0]))
	assert.Equal(t, 2, w.Pending())
}

func TestFlushWithNothingPending(t *testing.T) {
	dir := t.TempDir()
	s := kvstore.New(dir)
	w, err := NewWriter[int](s, "articles", "posts", 10)
	require.NoError(t, err)

	key, err := w.Flush()
	require.NoError(t, err)
	assert.Empty(t, key)

	_, err = os.Stat(filepath.Join(dir, "articles"))
	assert.True(t, os.IsNotExist(err))
}

func TestExactMultipleLeavesNoTrailingFile(t *testing.T) {
	s := kvstore.New(t.TempDir())
	w, err := NewWriter[int](s, "articles", "posts", 5)
	require.NoError(t, err)

	_, err = w.Append(seq(0, 10)...)
	require.NoError(t, err)
	key, err := w.Flush()
	require.NoError(t, err)
	assert.Empty(t, key)

	keys, err := s.List("articles", "posts-*.json")
	require.NoError(t, err)
	assert.Len(t, keys, 2)
}

func TestWriterContinuesExistingNumbering(t *testing.T) {
	s := kvstore.New(t.TempDir())
	require.NoError(t, s.Create("interactions/likes-0001.json", seq(0, 2)))
	require.NoError(t, s.Create("interactions/likes-0007.json", seq(0, 2)))
	// Other kinds in the same directory do not affect numbering
	require.NoError(t, s.Create("interactions/followers.json", []int{}))

	w, err := NewWriter[int](s, "interactions", "likes", 2)
	require.NoError(t, err)
	assert.Equal(t, 7, w.Sequence())

	written, err := w.Append(1, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"interactions/likes-0008.json"}, written)

	// Earlier batches are untouched
	assert.Equal(t, seq(0, 2), loadInts(t, s, "interactions/likes-0001.json"))
}

func TestWriterSkipsTakenNumber(t *testing.T) {
	s := kvstore.New(t.TempDir())
	w, err := NewWriter[int](s, "articles", "posts", 1)
	require.NoError(t, err)

	// Another writer grabs the next number after the scan
	require.NoError(t, s.Create("articles/posts-0001.json", []int{42}))

	written, err := w.Append(7)
	require.NoError(t, err)
	assert.Equal(t, []string{"articles/posts-0002.json"}, written)
	assert.Equal(t, []int{42}, loadInts(t, s, "articles/posts-0001.json"))
}

func TestNewWriterRejectsBadSize(t *testing.T) {
	_, err := NewWriter[int](kvstore.New(t.TempDir()), "articles", "posts", 0)
	assert.Error(t, err)
}

type actor struct {
	DID    string `json:"did"`
	Handle string `json:"handle"`
}

func byDID(a actor) string { return a.DID }

func TestListFileMergeDeduplicates(t *testing.T) {
	s := kvstore.New(t.TempDir())
	l := NewListFile(s, "interactions/followers.json", byDID, nil)
	require.NoError(t, l.Load())
	assert.Zero(t, l.Len())

	added := l.Merge(actor{"did:plc:a", "a"}, actor{"did:plc:b", "b"}, actor{"did:plc:a", "a2"})
	assert.Equal(t, 2, added)
	require.NoError(t, l.Save())

	// A second run merges into what is on disk
	again := NewListFile(s, "interactions/followers.json", byDID, nil)
	require.NoError(t, again.Load())
	assert.Equal(t, 2, again.Len())

	added = again.Merge(actor{"did:plc:b", "b"}, actor{"did:plc:c", "c"})
	assert.Equal(t, 1, added)
	require.NoError(t, again.Save())

	var onDisk []actor
	require.NoError(t, s.Load("interactions/followers.json", &onDisk))
	assert.Equal(t, []actor{{"did:plc:a", "a"}, {"did:plc:b", "b"}, {"did:plc:c", "c"}}, onDisk)
}

func TestListFileKeepsUnkeyedRecords(t *testing.T) {
	l := NewListFile(kvstore.New(t.TempDir()), "list.json", byDID, nil)
	assert.Equal(t, 2, l.Merge(actor{Handle: "x"}, actor{Handle: "x"}))
	assert.Equal(t, 2, l.Len())
}

func TestListFileCorruptStartsEmpty(t *testing.T) {
	dir := t.TempDir()
	s := kvstore.New(dir)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "interactions"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "interactions", "following.json"), []byte("[{"), 0644))

	tl := logger.NewTestLogger()
	l := NewListFile(s, "interactions/following.json", byDID, tl)
	require.NoError(t, l.Load())
	assert.Zero(t, l.Len())
	assert.True(t, tl.HasMessage("WARN", "unreadable list file"))
}

func TestSaveEmptyListWritesArray(t *testing.T) {
	s := kvstore.New(t.TempDir())
	l := NewListFile(s, "interactions/following.json", byDID, nil)
	require.NoError(t, l.Save())

	var raw []json.RawMessage
	require.NoError(t, s.Load("interactions/following.json", &raw))
	assert.NotNil(t, raw)
	assert.Empty(t, raw)
}

func TestJSONField(t *testing.T) {
	key := JSONField("did")
	assert.Equal(t, "did:plc:abc", key(json.RawMessage(`{"did":"did:plc:abc","handle":"a.bsky.social"}`)))
	assert.Empty(t, key(json.RawMessage(`{"handle":"a.bsky.social"}`)))
	assert.Empty(t, key(json.RawMessage(`{"did":42}`)))
	assert.Empty(t, key(json.RawMessage(`not json`)))
}
