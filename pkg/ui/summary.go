package ui

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"bskyarchive/pkg/archive"
	"bskyarchive/pkg/manifest"
	"bskyarchive/pkg/ratelimit"

	"github.com/dustin/go-humanize"
)

// WriteSummary renders the per-resource table of an archive run
func WriteSummary(w io.Writer, s *archive.Summary) {
	fmt.Fprintf(w, "\n%s @%s (%s)\n", Green("Archive"), s.Handle, s.DID)
	fmt.Fprintf(w, "  %s %s\n", Dim("run"), s.RunID)
	if s.Forced {
		fmt.Fprintf(w, "  %s\n", Yellow("download cooldown ignored (--force)"))
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "  RESOURCE\tFETCHED\tTOTAL\tFILES\tSTATUS")
	for _, r := range s.Kinds {
		fmt.Fprintf(tw, "  %s\t%s\t%s\t%d\t%s\n",
			r.Kind,
			humanize.Comma(int64(r.Records)),
			humanize.Comma(int64(r.Total)),
			len(r.Files),
			statusColor(r.Status),
		)
	}
	tw.Flush()

	for _, r := range s.Kinds {
		if r.Err != nil {
			fmt.Fprintf(w, "  %s %s: %v\n", Red("✗"), r.Kind, r.Err)
		}
	}
	if s.ProfileErr != nil {
		fmt.Fprintf(w, "  %s profile: %v\n", Red("✗"), s.ProfileErr)
	}

	switch {
	case s.ZipErr != nil:
		fmt.Fprintf(w, "  %s zip: %v\n", Red("✗"), s.ZipErr)
	case s.ZipPath != "":
		size := ""
		if info, err := os.Stat(s.ZipPath); err == nil {
			size = " (" + humanize.Bytes(uint64(info.Size())) + ")"
		}
		fmt.Fprintf(w, "  %s %s%s\n", Dim("zip"), s.ZipPath, size)
	}

	if d := s.Duration(); d > 0 {
		fmt.Fprintf(w, "  %s %s\n", Dim("took"), formatDuration(d))
	}
}

// PrintSummary writes the run summary to the console unless quiet
func PrintSummary(s *archive.Summary) {
	if IsQuietMode() || s == nil {
		return
	}
	WriteSummary(stdout(), s)
}

func statusColor(s archive.Status) string {
	text := string(s)
	switch s {
	case archive.StatusCompleted:
		return Green(text)
	case archive.StatusPartial, archive.StatusSkipped:
		return Yellow(text)
	case archive.StatusUnsupported:
		return Dim(text)
	default:
		return Red(text)
	}
}

// WriteRateLimitStatus renders the download cooldown state
func WriteRateLimitStatus(w io.Writer, st ratelimit.Status, now time.Time) {
	fmt.Fprintln(w, Cyan("Download cooldown"))

	last := "never"
	if st.LastDownloadAt != nil {
		last = fmt.Sprintf("%s (%s)", st.LastDownloadAt.Local().Format(time.RFC3339), humanize.RelTime(*st.LastDownloadAt, now, "ago", "from now"))
	}
	fmt.Fprintf(w, "  %-18s %s\n", "last download:", last)

	next := "now"
	if st.NextAllowedAt != nil && st.NextAllowedAt.After(now) {
		next = fmt.Sprintf("%s (%s)", st.NextAllowedAt.Local().Format(time.RFC3339), humanize.RelTime(*st.NextAllowedAt, now, "ago", "from now"))
	}
	fmt.Fprintf(w, "  %-18s %s\n", "next allowed:", next)

	if st.Interval > 0 {
		fmt.Fprintf(w, "  %-18s %s\n", "interval:", formatDuration(st.Interval))
	}
	fmt.Fprintf(w, "  %-18s %s\n", "time remaining:", formatDuration(st.TimeRemaining))

	can := Green("yes")
	if !st.CanDownloadNow {
		can = Red("no")
	}
	fmt.Fprintf(w, "  %-18s %s\n", "can download now:", can)
}

// PrintRateLimitStatus writes the cooldown state to the console
func PrintRateLimitStatus(st ratelimit.Status) {
	WriteRateLimitStatus(stdout(), st, time.Now())
}

// WriteManifestStatus renders what the manifest of a profile records
func WriteManifestStatus(w io.Writer, m *manifest.Manifest, now time.Time) {
	fmt.Fprintf(w, "\n%s @%s", Cyan("Archive"), m.Handle)
	if m.DID != "" {
		fmt.Fprintf(w, " (%s)", m.DID)
	}
	fmt.Fprintln(w)

	last := "never"
	if t, ok := m.LastDownload(); ok {
		last = humanize.RelTime(t, now, "ago", "from now")
	}
	fmt.Fprintf(w, "  %-18s %s (%d runs)\n", "last download:", last, len(m.DownloadedAt))

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "  RESOURCE\tRECORDS\tSTATE")
	for _, k := range manifest.Kinds {
		state := "not started"
		switch {
		case m.IsCompleted(k):
			state = Green("complete")
		case m.Cursor(k) != "":
			state = Yellow("resumable")
		}
		fmt.Fprintf(tw, "  %s\t%s\t%s\n", k, humanize.Comma(int64(m.Count(k))), state)
	}
	tw.Flush()
}

// PrintManifestStatus writes the manifest state to the console
func PrintManifestStatus(m *manifest.Manifest) {
	WriteManifestStatus(stdout(), m, time.Now())
}
