package manifest

import (
	"errors"
	"fmt"
	"path"
	"time"

	"bskyarchive/pkg/kvstore"
	"bskyarchive/pkg/logger"
)

// Layout of a profile directory, relative to the profiles root.
const (
	InfosDir        = "infos"
	ArticlesDir     = "articles"
	InteractionsDir = "interactions"

	manifestFile  = "manifest.json"
	profileFile   = "profile.json"
	followersFile = "followers.json"
	followingFile = "following.json"
)

// ManifestKey returns the store key of a profile's manifest
func ManifestKey(handle string) string {
	return path.Join(handle, InfosDir, manifestFile)
}

// ProfileKey returns the store key of a profile's saved profile record
func ProfileKey(handle string) string {
	return path.Join(handle, InfosDir, profileFile)
}

// BatchDir returns the directory holding the numbered batches of k.
func BatchDir(handle string, k Kind) string {
	if k == Posts {
		return path.Join(handle, ArticlesDir)
	}
	return path.Join(handle, InteractionsDir)
}

// ListKey returns the single list file for followers or follows
func ListKey(handle string, k Kind) string {
	if k == Follows {
		return path.Join(handle, InteractionsDir, followingFile)
	}
	return path.Join(handle, InteractionsDir, followersFile)
}

// Store loads and saves manifests in a kvstore rooted at the profiles directory
type Store struct {
	kv     *kvstore.Store
	logger logger.Logger
}

// NewStore creates a manifest store on top of kv
func NewStore(kv *kvstore.Store, log logger.Logger) *Store {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Store{kv: kv, logger: log}
}

// KV returns the underlying document store
func (s *Store) KV() *kvstore.Store {
	return s.kv
}

// Load returns the manifest of handle. It never fails: a missing or
// unreadable manifest yields a fresh one.
func (s *Store) Load(handle string) *Manifest {
	m := New(handle)
	err := s.kv.Load(ManifestKey(handle), m)
	switch {
	case err == nil:
	case errors.Is(err, kvstore.ErrNotFound):
		return New(handle)
	default:
		s.logger.WithError(err).WarnWithFields("ignoring unreadable manifest", map[string]interface{}{
			"handle": handle,
		})
		return New(handle)
	}

	if m.Handle == "" {
		m.Handle = handle
	}
	if m.DownloadedAt == nil {
		m.DownloadedAt = []time.Time{}
	}
	return m
}

// Save writes m as the manifest of handle, replacing any previous one.
func (s *Store) Save(handle string, m *Manifest) error {
	if err := s.kv.Save(ManifestKey(handle), m); err != nil {
		return fmt.Errorf("failed to save manifest for %s: %w", handle, err)
	}

	s.logger.DebugWithFields("manifest saved", map[string]interface{}{
		"handle":          handle,
		"posts_cursor":    m.Cursor(Posts),
		"followers_count": m.FollowersCount,
		"follows_count":   m.FollowsCount,
		"likes_cursor":    m.Cursor(Likes),
	})
	return nil
}

// Reset removes everything archived for handle, manifest included.
func (s *Store) Reset(handle string) error {
	if handle == "" {
		return fmt.Errorf("reset requires a handle")
	}
	if err := s.kv.DeleteAll(handle); err != nil {
		return fmt.Errorf("failed to reset %s: %w", handle, err)
	}

	s.logger.InfoWithFields("profile archive reset", map[string]interface{}{
		"handle": handle,
	})
	return nil
}
