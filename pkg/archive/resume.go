package archive

// span is one fetched page in stream positions: records [start, end) were
// returned by the request made with cursor from.
type span struct {
	from       string
	start, end int
}

// resumeTracker follows which records of a batched stream are on disk and
// derives the point a later walk continues from. Pages and batch files do
// not line up, so the point is a page cursor plus the number of that page's
// records already written.
type resumeTracker struct {
	startCursor string
	startSkip   int

	spans   []span
	durable int
	end     int
	next    string
	seen    bool
}

func newResumeTracker(cursor string, skip int) *resumeTracker {
	return &resumeTracker{startCursor: cursor, startSkip: skip, next: cursor}
}

// page records a fetched page of n records whose next cursor is next.
func (r *resumeTracker) page(n int, next string) {
	r.spans = append(r.spans, span{from: r.next, start: r.end, end: r.end + n})
	r.end += n
	r.next = next
	r.seen = true
}

// advance marks the next n records of the stream as on disk.
func (r *resumeTracker) advance(n int) {
	r.durable += n
	if r.durable > r.end {
		r.durable = r.end
	}
	i := 0
	for i < len(r.spans) && r.spans[i].end <= r.durable {
		i++
	}
	r.spans = r.spans[i:]
}

// allDurable reports whether every record seen so far is on disk
func (r *resumeTracker) allDurable() bool {
	return r.durable >= r.end
}

// ended reports whether the last page seen had no next cursor
func (r *resumeTracker) ended() bool {
	return r.seen && r.next == ""
}

// point returns the cursor to fetch and the records of that page to drop.
func (r *resumeTracker) point() (string, int) {
	if !r.seen {
		return r.startCursor, r.startSkip
	}
	if len(r.spans) > 0 {
		s := r.spans[0]
		return s.from, r.durable - s.start
	}
	return r.next, 0
}
