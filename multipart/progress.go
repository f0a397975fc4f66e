package multipart

import (
	"io"
	"sync"
	"sync/atomic"
)

// ProgressAggregator merges per-part read events into one session-wide count.
// It is safe for concurrent use by many parts.
type ProgressAggregator struct {
	total    int64
	interval int64
	sink     ProgressFunc

	// transferred is the exact net count, compensated for restarted reads.
	transferred atomic.Int64

	// mu serializes sink calls; reported is the high-water mark handed to the sink.
	mu       sync.Mutex
	reported int64
}

// NewProgressAggregator creates an aggregator for a payload of totalLength bytes
// (or UnknownLength). A nil sink turns reporting off but counting still happens.
func NewProgressAggregator(totalLength, interval int64, sink ProgressFunc) *ProgressAggregator {
	if interval <= 0 {
		interval = DefaultProgressInterval
	}
	return &ProgressAggregator{
		total:    totalLength,
		interval: interval,
		sink:     sink,
	}
}

// Transferred returns the current session-wide byte count.
func (a *ProgressAggregator) Transferred() int64 {
	return a.transferred.Load()
}

// Track starts tracking one part. size is the number of bytes the part will read,
// or UnknownLength.
func (a *ProgressAggregator) Track(partNumber int32, size int64) *PartTracker {
	return &PartTracker{
		agg:    a,
		number: partNumber,
		size:   size,
	}
}

func (a *ProgressAggregator) record(increment, compensation int64) {
	net := a.transferred.Add(increment - compensation)

	a.mu.Lock()
	defer a.mu.Unlock()

	if net > a.reported {
		a.reported = net
	}
	if a.sink == nil {
		return
	}
	a.sink(ProgressEvent{
		Increment:         increment,
		Transferred:       a.reported,
		Total:             a.total,
		RetryCompensation: compensation,
	})
}

// PartTracker counts the bytes read by one part. It belongs to that part's
// upload and is not safe for concurrent use.
type PartTracker struct {
	agg    *ProgressAggregator
	number int32
	size   int64

	read        int64
	sinceReport int64
	// reported is the part's cumulative count already added to the session total.
	reported  int64
	restarted bool
}

// OnBytesRead records n freshly read bytes.
func (t *PartTracker) OnBytesRead(n int64) {
	if n <= 0 {
		return
	}
	t.read += n
	t.sinceReport += n

	if t.sinceReport < t.agg.interval && (t.size < 0 || t.read != t.size) {
		return
	}
	t.report()
}

// Restart records that the part's read started over from its first byte,
// which happens when a transport retries the request.
func (t *PartTracker) Restart() {
	if t.read == 0 && !t.restarted && t.reported == 0 {
		return
	}
	t.read = 0
	t.sinceReport = 0
	t.restarted = true
}

func (t *PartTracker) report() {
	var compensation int64
	if t.restarted || t.read <= t.reported {
		compensation = t.reported
		t.restarted = false
	}
	increment := t.sinceReport

	t.reported = t.read
	t.sinceReport = 0

	t.agg.record(increment, compensation)
}

// progressReader feeds a PartTracker from the part body. Seeking back to the
// start is how retrying transports rewind a body, so it counts as a restart.
type progressReader struct {
	r       io.ReadSeeker
	tracker *PartTracker
}

func newProgressReader(r io.ReadSeeker, tracker *PartTracker) *progressReader {
	return &progressReader{r: r, tracker: tracker}
}

func (p *progressReader) Read(buf []byte) (int, error) {
	n, err := p.r.Read(buf)
	if n > 0 {
		p.tracker.OnBytesRead(int64(n))
	}
	return n, err
}

func (p *progressReader) Seek(offset int64, whence int) (int64, error) {
	pos, err := p.r.Seek(offset, whence)
	if err == nil && pos == 0 {
		p.tracker.Restart()
	}
	return pos, err
}
