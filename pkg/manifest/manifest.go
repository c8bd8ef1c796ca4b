// Package manifest keeps the per-profile bookkeeping that makes archive runs
// resumable: where each resource stream stopped, whether it finished, how
// many records were saved and when downloads happened.
package manifest

import (
	"time"
)

// Kind names one of the archived resource streams
type Kind string

const (
	Posts     Kind = "posts"
	Followers Kind = "followers"
	Follows   Kind = "follows"
	Likes     Kind = "likes"
)

// Kinds lists every resource stream in archive order
var Kinds = []Kind{Posts, Followers, Follows, Likes}

// Cursors holds the resume token of each stream. Nil means the stream has
// not started or is exhausted; Completed tells the two apart.
type Cursors struct {
	Posts     *string `json:"posts"`
	Followers *string `json:"followers"`
	Follows   *string `json:"follows"`
	Likes     *string `json:"likes"`
}

// Skips counts the records of the page at the saved cursor that are already
// on disk. A resumed walk drops that many records from its first page.
type Skips struct {
	Posts     int `json:"posts,omitempty"`
	Followers int `json:"followers,omitempty"`
	Follows   int `json:"follows,omitempty"`
	Likes     int `json:"likes,omitempty"`
}

// Completed records which streams were walked to the end
type Completed struct {
	Posts     bool `json:"posts"`
	Followers bool `json:"followers"`
	Follows   bool `json:"follows"`
	Likes     bool `json:"likes"`
}

// Manifest is the persisted state of one archived profile
type Manifest struct {
	Handle         string      `json:"handle"`
	DID            string      `json:"did"`
	DownloadedAt   []time.Time `json:"downloadedAt"`
	PostsCount     int         `json:"postsCount"`
	FollowersCount int         `json:"followersCount"`
	FollowsCount   int         `json:"followsCount"`
	LikesCount     int         `json:"likesCount"`
	Cursors        Cursors     `json:"cursors"`
	Skips          Skips       `json:"skip"`
	Completed      Completed   `json:"completed"`
}

// New returns an empty manifest for handle
func New(handle string) *Manifest {
	return &Manifest{
		Handle:       handle,
		DownloadedAt: []time.Time{},
	}
}

func (m *Manifest) cursorField(k Kind) **string {
	switch k {
	case Posts:
		return &m.Cursors.Posts
	case Followers:
		return &m.Cursors.Followers
	case Follows:
		return &m.Cursors.Follows
	case Likes:
		return &m.Cursors.Likes
	}
	return nil
}

func (m *Manifest) completedField(k Kind) *bool {
	switch k {
	case Posts:
		return &m.Completed.Posts
	case Followers:
		return &m.Completed.Followers
	case Follows:
		return &m.Completed.Follows
	case Likes:
		return &m.Completed.Likes
	}
	return nil
}

func (m *Manifest) skipField(k Kind) *int {
	switch k {
	case Posts:
		return &m.Skips.Posts
	case Followers:
		return &m.Skips.Followers
	case Follows:
		return &m.Skips.Follows
	case Likes:
		return &m.Skips.Likes
	}
	return nil
}

func (m *Manifest) countField(k Kind) *int {
	switch k {
	case Posts:
		return &m.PostsCount
	case Followers:
		return &m.FollowersCount
	case Follows:
		return &m.FollowsCount
	case Likes:
		return &m.LikesCount
	}
	return nil
}

// Cursor returns the saved cursor for k, or "" when none is saved.
func (m *Manifest) Cursor(k Kind) string {
	if f := m.cursorField(k); f != nil && *f != nil {
		return **f
	}
	return ""
}

// SetCursor stores c for k. An empty c clears the cursor.
func (m *Manifest) SetCursor(k Kind, c string) {
	f := m.cursorField(k)
	if f == nil {
		return
	}
	if c == "" {
		*f = nil
		return
	}
	*f = &c
}

// Skip returns how many records of the page at Cursor(k) are already saved
func (m *Manifest) Skip(k Kind) int {
	if f := m.skipField(k); f != nil {
		return *f
	}
	return 0
}

// SetResume stores the point a later walk of k continues from: the cursor of
// the page to fetch and the number of its leading records to drop.
func (m *Manifest) SetResume(k Kind, cursor string, skip int) {
	m.SetCursor(k, cursor)
	if f := m.skipField(k); f != nil {
		if skip < 0 {
			skip = 0
		}
		*f = skip
	}
}

// IsCompleted reports whether k was exhausted by an earlier run
func (m *Manifest) IsCompleted(k Kind) bool {
	if f := m.completedField(k); f != nil {
		return *f
	}
	return false
}

// MarkCompleted sets the completion flag for k
func (m *Manifest) MarkCompleted(k Kind, done bool) {
	if f := m.completedField(k); f != nil {
		*f = done
	}
}

// Count returns the number of records saved for k
func (m *Manifest) Count(k Kind) int {
	if f := m.countField(k); f != nil {
		return *f
	}
	return 0
}

// SetCount replaces the record count for k
func (m *Manifest) SetCount(k Kind, n int) {
	if f := m.countField(k); f != nil {
		*f = n
	}
}

// AddCount adds n to the record count for k
func (m *Manifest) AddCount(k Kind, n int) {
	if f := m.countField(k); f != nil {
		*f += n
	}
}

// RecordDownload appends t to the download history
func (m *Manifest) RecordDownload(t time.Time) {
	m.DownloadedAt = append(m.DownloadedAt, t.UTC())
}

// LastDownload returns the most recent download time, if any
func (m *Manifest) LastDownload() (time.Time, bool) {
	if len(m.DownloadedAt) == 0 {
		return time.Time{}, false
	}
	return m.DownloadedAt[len(m.DownloadedAt)-1], true
}
