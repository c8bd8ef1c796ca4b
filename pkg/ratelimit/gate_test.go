package ratelimit

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"bskyarchive/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestGate(t *testing.T, clock *fakeClock, randN func(int64) int64) (*Gate, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state", "ratelimit.json")
	opts := []GateOption{WithClock(clock.Now)}
	if randN != nil {
		opts = append(opts, WithRandom(randN))
	}
	g, err := NewGate(path, 4*time.Minute, 6*time.Minute, opts...)
	require.NoError(t, err)
	return g, path
}

func writeState(t *testing.T, path string, st State) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	data, err := json.Marshal(st)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0644))
}

func TestGateNoState(t *testing.T) {
	clock := &fakeClock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	g, _ := newTestGate(t, clock, nil)

	assert.True(t, g.CanDownload())
	assert.Zero(t, g.TimeRemaining())

	s := g.Status()
	assert.True(t, s.CanDownloadNow)
	assert.Nil(t, s.LastDownloadAt)
	assert.Nil(t, s.NextAllowedAt)
}

func TestGateWithinPersistedInterval(t *testing.T) {
	clock := &fakeClock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	g, path := newTestGate(t, clock, nil)

	last := clock.Now().Add(-5 * time.Minute).UnixMilli()
	writeState(t, path, State{LastDownloadAt: &last, DownloadInterval: (6 * time.Minute).Milliseconds()})

	assert.False(t, g.CanDownload())
	assert.InDelta(t, float64(time.Minute), float64(g.TimeRemaining()), float64(time.Second))

	// Repeated queries see the same interval
	assert.Equal(t, g.TimeRemaining(), g.TimeRemaining())

	clock.Advance(61 * time.Second)
	assert.True(t, g.CanDownload())
	assert.Zero(t, g.TimeRemaining())
}

func TestGateMarkThenCheck(t *testing.T) {
	clock := &fakeClock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	g, path := newTestGate(t, clock, func(n int64) int64 { return 0 })

	require.NoError(t, g.MarkDownloadStarted())
	assert.False(t, g.CanDownload())
	assert.Equal(t, 4*time.Minute, g.TimeRemaining())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var st State
	require.NoError(t, json.Unmarshal(data, &st))
	require.NotNil(t, st.LastDownloadAt)
	assert.Equal(t, clock.Now().UnixMilli(), *st.LastDownloadAt)
	assert.Equal(t, (4 * time.Minute).Milliseconds(), st.DownloadInterval)
}

func TestGateDrawsWithinRange(t *testing.T) {
	clock := &fakeClock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	var spans []int64
	g, _ := newTestGate(t, clock, func(n int64) int64 {
		spans = append(spans, n)
		return n - 1
	})

	require.NoError(t, g.MarkDownloadStarted())
	require.Len(t, spans, 1)
	assert.Equal(t, (2*time.Minute).Milliseconds()+1, spans[0])
	assert.Equal(t, 6*time.Minute, g.Status().Interval)

	// With the real source every draw lands in [min, max]
	live, _ := newTestGate(t, clock, nil)
	for i := 0; i < 50; i++ {
		require.NoError(t, live.MarkDownloadStarted())
		iv := live.Status().Interval
		assert.GreaterOrEqual(t, iv, 4*time.Minute)
		assert.LessOrEqual(t, iv, 6*time.Minute)
	}
}

func TestGateStatus(t *testing.T) {
	clock := &fakeClock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	g, _ := newTestGate(t, clock, func(n int64) int64 { return (time.Minute).Milliseconds() })

	require.NoError(t, g.MarkDownloadStarted())
	clock.Advance(2 * time.Minute)

	s := g.Status()
	require.NotNil(t, s.LastDownloadAt)
	require.NotNil(t, s.NextAllowedAt)
	assert.False(t, s.CanDownloadNow)
	assert.Equal(t, 5*time.Minute, s.Interval)
	assert.Equal(t, 3*time.Minute, s.TimeRemaining)
	assert.Equal(t, s.LastDownloadAt.Add(5*time.Minute), *s.NextAllowedAt)
}

func TestGateCorruptStateFailsOpen(t *testing.T) {
	clock := &fakeClock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	path := filepath.Join(t.TempDir(), "ratelimit.json")
	require.NoError(t, os.WriteFile(path, []byte("not json at all"), 0644))

	tl := logger.NewTestLogger()
	g, err := NewGate(path, 4*time.Minute, 6*time.Minute, WithClock(clock.Now), WithLogger(tl))
	require.NoError(t, err)

	assert.True(t, g.CanDownload())
	assert.True(t, tl.HasMessage("WARN", "rate limit state"))

	// A fresh mark repairs the file
	require.NoError(t, g.MarkDownloadStarted())
	assert.False(t, g.CanDownload())
}

func TestGateZeroIntervalUsesMinimum(t *testing.T) {
	clock := &fakeClock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	g, path := newTestGate(t, clock, nil)

	last := clock.Now().Add(-time.Minute).UnixMilli()
	writeState(t, path, State{LastDownloadAt: &last})

	assert.False(t, g.CanDownload())
	assert.Equal(t, 3*time.Minute, g.TimeRemaining())
}

func TestNewGateValidatesRange(t *testing.T) {
	_, err := NewGate("x.json", 0, time.Minute)
	assert.Error(t, err)
	_, err = NewGate("x.json", 2*time.Minute, time.Minute)
	assert.Error(t, err)
}
