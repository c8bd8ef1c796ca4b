package ui

import (
	"bytes"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"bskyarchive/pkg/archive"
	"bskyarchive/pkg/manifest"
	"bskyarchive/pkg/ratelimit"

	"github.com/stretchr/testify/assert"
)

func capture(t *testing.T) (*bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	var stdoutBuf, stderrBuf bytes.Buffer
	SetOutput(&stdoutBuf, &stderrBuf)
	SetColor(false)
	SetQuietMode(false)
	t.Cleanup(func() {
		SetOutput(os.Stdout, os.Stderr)
		SetQuietMode(false)
	})
	return &stdoutBuf, &stderrBuf
}

func TestColorToggle(t *testing.T) {
	capture(t)
	assert.Equal(t, "plain", Green("plain"))

	SetColor(true)
	defer SetColor(false)
	assert.Equal(t, "\033[32mplain\033[0m", Green("plain"))
}

func TestQuietMode(t *testing.T) {
	stdoutBuf, stderrBuf := capture(t)

	SetQuietMode(true)
	PrintSuccess("saved")
	PrintInfo("handle", "alice.test")
	PrintWarning("cooldown active")
	PrintError("failed", errors.New("boom"))

	assert.Empty(t, stdoutBuf.String())
	assert.Contains(t, stderrBuf.String(), "cooldown active")
	assert.Contains(t, stderrBuf.String(), "failed: boom")

	SetQuietMode(false)
	PrintInfo("handle", "alice.test")
	assert.Equal(t, "handle: alice.test\n", stdoutBuf.String())
}

func TestProgressDisplay(t *testing.T) {
	stdoutBuf, _ := capture(t)

	clock := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	p := NewProgressDisplay(true)
	p.now = func() time.Time { return clock }

	p.OnState("alice.test", archive.StateCheckingRateLimit)
	clock = clock.Add(1500 * time.Millisecond)
	p.OnState("alice.test", archive.StateDownloadingPosts)
	clock = clock.Add(2 * time.Minute)
	p.OnState("alice.test", archive.StateDone)

	lines := strings.Split(strings.TrimSpace(stdoutBuf.String()), "\n")
	assert.Equal(t, []string{
		"→ @alice.test checking download cooldown",
		"→ @alice.test downloading posts (+1s)",
		"✓ @alice.test done (+2m0s)",
	}, lines)
	assert.Equal(t, 2*time.Minute+1500*time.Millisecond, p.Elapsed())
}

func TestWriteSummary(t *testing.T) {
	capture(t)
	s := &archive.Summary{
		RunID:  "run-1",
		Handle: "alice.test",
		DID:    "did:plc:alice",
		Kinds: []archive.KindResult{
			{Kind: manifest.Posts, Status: archive.StatusPartial, Records: 1200, Total: 3400, Files: []string{"a", "b"}, Err: errors.New("upstream error")},
			{Kind: manifest.Likes, Status: archive.StatusUnsupported},
		},
		StartedAt:  time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		FinishedAt: time.Date(2025, 3, 1, 12, 0, 42, 0, time.UTC),
	}

	var buf bytes.Buffer
	WriteSummary(&buf, s)
	out := buf.String()

	assert.Contains(t, out, "@alice.test (did:plc:alice)")
	assert.Contains(t, out, "1,200")
	assert.Contains(t, out, "3,400")
	assert.Contains(t, out, "partial")
	assert.Contains(t, out, "unsupported")
	assert.Contains(t, out, "✗ posts: upstream error")
	assert.Contains(t, out, "took 42s")
}

func TestWriteRateLimitStatus(t *testing.T) {
	capture(t)
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	var buf bytes.Buffer
	WriteRateLimitStatus(&buf, ratelimit.Status{CanDownloadNow: true}, now)
	assert.Contains(t, buf.String(), "never")
	assert.Contains(t, buf.String(), "can download now:  yes")

	last := now.Add(-2 * time.Minute)
	next := now.Add(3 * time.Minute)
	buf.Reset()
	WriteRateLimitStatus(&buf, ratelimit.Status{
		LastDownloadAt: &last,
		NextAllowedAt:  &next,
		TimeRemaining:  3 * time.Minute,
		Interval:       5 * time.Minute,
	}, now)
	out := buf.String()
	assert.Contains(t, out, "2 minutes ago")
	assert.Contains(t, out, "3 minutes from now")
	assert.Contains(t, out, "time remaining:    3m0s")
	assert.Contains(t, out, "can download now:  no")
}

func TestWriteManifestStatus(t *testing.T) {
	capture(t)
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	m := manifest.New("alice.test")
	m.DID = "did:plc:alice"
	m.RecordDownload(now.Add(-3 * time.Hour))
	m.SetCount(manifest.Posts, 2500)
	m.SetCursor(manifest.Posts, "c-25")
	m.SetCount(manifest.Followers, 12)
	m.MarkCompleted(manifest.Followers, true)

	var buf bytes.Buffer
	WriteManifestStatus(&buf, m, now)
	out := buf.String()

	assert.Contains(t, out, "@alice.test (did:plc:alice)")
	assert.Contains(t, out, "3 hours ago (1 runs)")

	rows := map[string]string{}
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) >= 3 {
			rows[fields[0]] = strings.Join(fields[1:], " ")
		}
	}
	assert.Equal(t, "2,500 resumable", rows["posts"])
	assert.Equal(t, "12 complete", rows["followers"])
	assert.Equal(t, "0 not started", rows["likes"])
}
