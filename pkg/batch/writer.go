// Package batch persists streams of records to JSON files.
//
// Writer splits a stream into numbered files of a fixed size
// (posts-0001.json, posts-0002.json, ...). Files are created once and never
// rewritten, so a directory listing shows exactly which batches are done.
// ListFile keeps a single de-duplicated list that is merged and rewritten
// on every save.
package batch

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"bskyarchive/pkg/kvstore"
)

// maxSkips bounds how far Flush moves past numbers that appear concurrently.
const maxSkips = 16

// Writer groups records into fixed-size numbered batch files
type Writer[T any] struct {
	store   *kvstore.Store
	dir     string
	kind    string
	size    int
	seq     int
	pending []T
	files   []string
}

// NewWriter creates a writer for <dir>/<kind>-NNNN.json inside store.
// Numbering continues after the highest batch already present.
func NewWriter[T any](store *kvstore.Store, dir, kind string, size int) (*Writer[T], error) {
	if size <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", size)
	}

	w := &Writer[T]{
		store: store,
		dir:   dir,
		kind:  kind,
		size:  size,
	}

	existing, err := store.List(dir, kind+"-*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to scan existing batches: %w", err)
	}
	for _, key := range existing {
		if n, ok := w.sequenceOf(key); ok && n > w.seq {
			w.seq = n
		}
	}

	return w, nil
}

// sequenceOf extracts NNNN from "<dir>/<kind>-NNNN.json".
func (w *Writer[T]) sequenceOf(key string) (int, bool) {
	name := key[strings.LastIndex(key, "/")+1:]
	digits := strings.TrimSuffix(strings.TrimPrefix(name, w.kind+"-"), ".json")
	n, err := strconv.Atoi(digits)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

func (w *Writer[T]) key(seq int) string {
	return fmt.Sprintf("%s/%s-%04d.json", w.dir, w.kind, seq)
}

// Append buffers records, writing a batch file each time the buffer fills.
// It returns the keys of the files written during this call.
func (w *Writer[T]) Append(records ...T) ([]string, error) {
	var written []string
	for len(records) > 0 {
		take := w.size - len(w.pending)
		if take > len(records) {
			take = len(records)
		}
		w.pending = append(w.pending, records[:take]...)
		records = records[take:]

		if len(w.pending) == w.size {
			key, err := w.Flush()
			if err != nil {
				return written, err
			}
			written = append(written, key)
		}
	}
	return written, nil
}

// Flush writes the buffered records as the next batch file and returns its
// key. With nothing buffered it writes nothing and returns "".
func (w *Writer[T]) Flush() (string, error) {
	if len(w.pending) == 0 {
		return "", nil
	}

	for skips := 0; skips < maxSkips; skips++ {
		key := w.key(w.seq + 1)
		err := w.store.Create(key, w.pending)
		if errors.Is(err, kvstore.ErrExists) {
			w.seq++
			continue
		}
		if err != nil {
			return "", fmt.Errorf("failed to write batch %s: %w", key, err)
		}

		w.seq++
		w.pending = nil
		w.files = append(w.files, key)
		return key, nil
	}
	return "", fmt.Errorf("no free batch number after %s", w.key(w.seq))
}

// Pending returns the number of buffered records not yet on disk
func (w *Writer[T]) Pending() int {
	return len(w.pending)
}

// Files returns the keys written by this writer, in order
func (w *Writer[T]) Files() []string {
	out := make([]string, len(w.files))
	copy(out, w.files)
	return out
}

// Sequence returns the number of the last batch on disk
func (w *Writer[T]) Sequence() int {
	return w.seq
}
