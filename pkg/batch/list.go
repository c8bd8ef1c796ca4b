package batch

import (
	"encoding/json"
	"errors"
	"fmt"

	mapset "github.com/deckarep/golang-set/v2"

	"bskyarchive/pkg/kvstore"
	"bskyarchive/pkg/logger"
)

// ListFile is a single JSON array merged across runs and de-duplicated by key.
type ListFile[T any] struct {
	store  *kvstore.Store
	key    string
	keyFn  func(T) string
	items  []T
	seen   mapset.Set[string]
	logger logger.Logger
}

// NewListFile creates a list stored at key. keyFn identifies duplicates;
// records for which it returns "" are always kept.
func NewListFile[T any](store *kvstore.Store, key string, keyFn func(T) string, log logger.Logger) *ListFile[T] {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &ListFile[T]{
		store:  store,
		key:    key,
		keyFn:  keyFn,
		seen:   mapset.NewThreadUnsafeSet[string](),
		logger: log,
	}
}

// Load reads the list already on disk. A missing or corrupt file leaves the
// list empty.
func (l *ListFile[T]) Load() error {
	var items []T
	err := l.store.Load(l.key, &items)
	switch {
	case err == nil:
	case errors.Is(err, kvstore.ErrNotFound):
		return nil
	case errors.Is(err, kvstore.ErrCorrupt):
		l.logger.WithError(err).WarnWithFields("discarding unreadable list file", map[string]interface{}{
			"key": l.key,
		})
		return nil
	default:
		return err
	}

	l.items = nil
	l.seen.Clear()
	l.Merge(items...)
	return nil
}

// Merge appends records not seen before and returns how many were added.
func (l *ListFile[T]) Merge(records ...T) int {
	added := 0
	for _, r := range records {
		if k := l.keyFn(r); k != "" {
			if !l.seen.Add(k) {
				continue
			}
		}
		l.items = append(l.items, r)
		added++
	}
	return added
}

// Save rewrites the whole list atomically
func (l *ListFile[T]) Save() error {
	items := l.items
	if items == nil {
		items = []T{}
	}
	if err := l.store.Save(l.key, items); err != nil {
		return fmt.Errorf("failed to save %s: %w", l.key, err)
	}
	return nil
}

// Len returns the number of records in the merged list
func (l *ListFile[T]) Len() int {
	return len(l.items)
}

// Items returns the merged records in first-seen order
func (l *ListFile[T]) Items() []T {
	out := make([]T, len(l.items))
	copy(out, l.items)
	return out
}

// Key returns the store key of the list
func (l *ListFile[T]) Key() string {
	return l.key
}

// JSONField returns a key function reading a top-level string field from
// raw JSON records, e.g. JSONField("did") for actor profiles.
func JSONField(field string) func(json.RawMessage) string {
	return func(raw json.RawMessage) string {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(raw, &obj); err != nil {
			return ""
		}
		var s string
		if err := json.Unmarshal(obj[field], &s); err != nil {
			return ""
		}
		return s
	}
}
