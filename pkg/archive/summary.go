package archive

import (
	"time"

	"bskyarchive/pkg/manifest"
)

// Status is the outcome of one resource kind within a run
type Status string

const (
	StatusCompleted   Status = "completed"
	StatusPartial     Status = "partial"
	StatusSkipped     Status = "skipped"
	StatusUnsupported Status = "unsupported"
	StatusFailed      Status = "failed"
)

// KindResult reports what a run did for one resource kind
type KindResult struct {
	Kind   manifest.Kind
	Status Status
	// Records is the number of records fetched in this run.
	Records int
	// Total is the manifest count after the run.
	Total int
	Files []string
	Err   error
}

// Summary describes a finished archive run
type Summary struct {
	RunID      string
	Handle     string
	DID        string
	StartedAt  time.Time
	FinishedAt time.Time
	Forced     bool
	ProfileErr error
	Kinds      []KindResult
	ZipPath    string
	ZipErr     error
}

// Kind returns the result for k, if the run reached it
func (s *Summary) Kind(k manifest.Kind) (KindResult, bool) {
	for _, r := range s.Kinds {
		if r.Kind == k {
			return r, true
		}
	}
	return KindResult{}, false
}

// Failed reports whether any part of the run degraded
func (s *Summary) Failed() bool {
	if s.ProfileErr != nil || s.ZipErr != nil {
		return true
	}
	for _, r := range s.Kinds {
		if r.Err != nil {
			return true
		}
	}
	return false
}

// Duration returns how long the run took
func (s *Summary) Duration() time.Duration {
	if s.FinishedAt.IsZero() {
		return 0
	}
	return s.FinishedAt.Sub(s.StartedAt)
}

// failureStatus is partial when something was fetched before err.
func failureStatus(records int) Status {
	if records > 0 {
		return StatusPartial
	}
	return StatusFailed
}
