package ui

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"bskyarchive/pkg/archive"
)

var stateLabels = map[archive.State]string{
	archive.StateCheckingRateLimit:    "checking download cooldown",
	archive.StateResolvingIdentity:    "resolving handle",
	archive.StateFetchingProfileInfo:  "fetching profile",
	archive.StateDownloadingPosts:     "downloading posts",
	archive.StateDownloadingFollowers: "downloading followers",
	archive.StateDownloadingFollows:   "downloading follows",
	archive.StateDownloadingLikes:     "downloading likes",
	archive.StateSavingManifest:       "saving manifest",
	archive.StateCompressing:          "compressing archive",
	archive.StateDone:                 "done",
	archive.StateFailed:               "failed",
}

// ProgressDisplay prints one line per archive state
type ProgressDisplay struct {
	mu        sync.Mutex
	startTime time.Time
	last      time.Time
	verbose   bool
	now       func() time.Time
}

// NewProgressDisplay creates a new progress display. In verbose mode each
// line also shows how long the previous step took.
func NewProgressDisplay(verbose bool) *ProgressDisplay {
	now := time.Now()
	return &ProgressDisplay{
		startTime: now,
		last:      now,
		verbose:   verbose,
		now:       time.Now,
	}
}

// OnState matches archive.Options.OnState
func (p *ProgressDisplay) OnState(handle string, s archive.State) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	step := now.Sub(p.last)
	p.last = now

	label, ok := stateLabels[s]
	if !ok {
		label = strings.ToLower(s.String())
	}

	marker := Magenta("→")
	switch s {
	case archive.StateDone:
		marker = Green("✓")
	case archive.StateFailed:
		marker = Red("✗")
	case archive.StateCheckingRateLimit:
		p.startTime = now
	}

	line := fmt.Sprintf("%s %s %s", marker, Cyan("@"+handle), label)
	if p.verbose && s != archive.StateCheckingRateLimit {
		line += " " + Dim(fmt.Sprintf("(+%s)", formatDuration(step)))
	}
	Printf("%s\n", line)
}

// Elapsed returns the time since the run started
func (p *ProgressDisplay) Elapsed() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.now().Sub(p.startTime)
}

// formatDuration formats a duration in a human-readable way
func formatDuration(d time.Duration) string {
	switch {
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	default:
		return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
	}
}
