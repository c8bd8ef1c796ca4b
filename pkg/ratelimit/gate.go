package ratelimit

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"path/filepath"
	"sync"
	"time"

	"bskyarchive/pkg/kvstore"
	"bskyarchive/pkg/logger"
)

// State is the persisted cooldown record. Times are epoch milliseconds.
type State struct {
	LastDownloadAt   *int64 `json:"lastDownloadAt"`
	DownloadInterval int64  `json:"downloadInterval"`
}

// Status is a snapshot of the gate for display
type Status struct {
	LastDownloadAt *time.Time
	NextAllowedAt  *time.Time
	CanDownloadNow bool
	TimeRemaining  time.Duration
	Interval       time.Duration
}

// Gate is a single-slot download cooldown persisted to a JSON file.
//
// Each started download records its start time and draws a random interval
// from [min, max]. The interval is stored with the timestamp and reused by
// every check until the next download starts.
type Gate struct {
	store *kvstore.Store
	key   string
	min   time.Duration
	max   time.Duration

	now    func() time.Time
	randN  func(n int64) int64
	logger logger.Logger

	mu sync.Mutex
}

// GateOption customizes a Gate
type GateOption func(*Gate)

// WithClock replaces time.Now
func WithClock(now func() time.Time) GateOption {
	return func(g *Gate) { g.now = now }
}

// WithRandom replaces the source used to draw intervals. randN must return
// a value in [0, n).
func WithRandom(randN func(n int64) int64) GateOption {
	return func(g *Gate) { g.randN = randN }
}

// WithLogger sets the logger used for state file problems
func WithLogger(l logger.Logger) GateOption {
	return func(g *Gate) { g.logger = l }
}

// NewGate creates a gate persisting its state at path.
func NewGate(path string, min, max time.Duration, opts ...GateOption) (*Gate, error) {
	if min <= 0 {
		return nil, fmt.Errorf("minimum interval must be positive, got %s", min)
	}
	if max < min {
		return nil, fmt.Errorf("maximum interval %s is below minimum %s", max, min)
	}

	g := &Gate{
		store:  kvstore.New(filepath.Dir(path)),
		key:    filepath.Base(path),
		min:    min,
		max:    max,
		now:    time.Now,
		randN:  rand.Int64N,
		logger: logger.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// load reads the persisted state. Any failure yields the zero state.
func (g *Gate) load() State {
	var st State
	err := g.store.Load(g.key, &st)
	switch {
	case err == nil:
		return st
	case errors.Is(err, kvstore.ErrNotFound):
	default:
		g.logger.WithError(err).Warn("ignoring unreadable rate limit state")
	}
	return State{}
}

// interval returns the persisted interval, falling back to the minimum.
func (g *Gate) interval(st State) time.Duration {
	if st.DownloadInterval <= 0 {
		return g.min
	}
	return time.Duration(st.DownloadInterval) * time.Millisecond
}

func (g *Gate) remaining(st State) time.Duration {
	if st.LastDownloadAt == nil {
		return 0
	}
	last := time.UnixMilli(*st.LastDownloadAt)
	left := g.interval(st) - g.now().Sub(last)
	if left < 0 {
		return 0
	}
	return left
}

// CanDownload reports whether the cooldown has elapsed
func (g *Gate) CanDownload() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	st := g.load()
	return st.LastDownloadAt == nil || g.remaining(st) == 0
}

// TimeRemaining returns how long until the next download is allowed
func (g *Gate) TimeRemaining() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.remaining(g.load())
}

// MarkDownloadStarted records a download starting now and draws the
// interval that the next check will use.
func (g *Gate) MarkDownloadStarted() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now().UnixMilli()
	st := State{
		LastDownloadAt:   &now,
		DownloadInterval: g.drawInterval().Milliseconds(),
	}
	if err := g.store.Save(g.key, st); err != nil {
		return fmt.Errorf("failed to persist rate limit state: %w", err)
	}

	g.logger.DebugWithFields("download cooldown armed", map[string]interface{}{
		"interval": time.Duration(st.DownloadInterval) * time.Millisecond,
	})
	return nil
}

func (g *Gate) drawInterval() time.Duration {
	span := (g.max - g.min).Milliseconds()
	if span <= 0 {
		return g.min
	}
	return g.min + time.Duration(g.randN(span+1))*time.Millisecond
}

// Status returns a snapshot of the gate
func (g *Gate) Status() Status {
	g.mu.Lock()
	defer g.mu.Unlock()

	st := g.load()
	s := Status{
		Interval:      g.interval(st),
		TimeRemaining: g.remaining(st),
	}
	s.CanDownloadNow = st.LastDownloadAt == nil || s.TimeRemaining == 0

	if st.LastDownloadAt != nil {
		last := time.UnixMilli(*st.LastDownloadAt)
		next := last.Add(s.Interval)
		s.LastDownloadAt = &last
		s.NextAllowedAt = &next
	}
	return s
}
