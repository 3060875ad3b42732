package preload

import (
	"time"
)

var timeNow = time.Now

// ProgressSample is one entry of an item's progress history.
type ProgressSample struct {
	// Timestamp is when the sample was taken.
	Timestamp time.Time
	// Duration is the time since the previous sample.
	Duration time.Duration
	// Chunked is the number of bytes received since the previous sample.
	Chunked int64
	// ChunkRate is Chunked per second, or 0 if Duration is zero.
	ChunkRate float64
	// Elapsed is the time since loadstart.
	Elapsed time.Duration
	// Loaded is the cumulative number of bytes received.
	Loaded int64
	// Rate is Loaded per second of Elapsed, or 0 if Elapsed is zero.
	Rate float64
	// Complete is the completion percentage, 0 if the total is unknown.
	Complete float64
}

// ItemProgress is a snapshot of an item's progress accumulator.
type ItemProgress struct {
	Start    time.Time
	End      time.Time
	Elapsed  time.Duration
	Loaded   int64
	Total    int64
	Rate     float64
	Complete float64
	Details  []ProgressSample
}

// ItemCounts tallies the items of a queue by lifecycle state.
type ItemCounts struct {
	Total     int
	Waiting   int
	Pending   int
	Processed int
	Resolved  int
	Loaded    int
	Error     int
	Abort     int
	Timeout   int
	Ready     int
}

// QueueProgress is a snapshot of a queue's aggregate progress.
type QueueProgress struct {
	Items    ItemCounts
	Start    time.Time
	End      time.Time
	Elapsed  time.Duration
	Loaded   int64
	Total    int64
	Rate     float64
	Complete float64
}

// Clone returns a deep copy.
func (p ItemProgress) Clone() ItemProgress {
	if p.Details != nil {
		p.Details = append([]ProgressSample(nil), p.Details...)
	}
	return p
}

func (p *ItemProgress) start(now time.Time) {
	p.Start = now
	p.Loaded = 0
	p.Details = append(p.Details[:0], ProgressSample{Timestamp: now})
}

// sample appends a progress sample, computed against the previous one.
func (p *ItemProgress) sample(now time.Time, data ProgressData) {
	if data.LengthComputable {
		p.Total = data.Total
	}

	var prev ProgressSample
	if n := len(p.Details); n != 0 {
		prev = p.Details[n-1]
	} else {
		prev = ProgressSample{Timestamp: p.Start}
	}

	s := ProgressSample{
		Timestamp: now,
		Duration:  now.Sub(prev.Timestamp),
		Chunked:   data.Loaded - prev.Loaded,
		Elapsed:   now.Sub(p.Start),
		Loaded:    data.Loaded,
	}
	s.ChunkRate = bytesPerSecond(s.Chunked, s.Duration)
	s.Rate = bytesPerSecond(s.Loaded, s.Elapsed)
	if p.Total > 0 {
		s.Complete = float64(s.Loaded) / float64(p.Total) * 100
	}

	p.Details = append(p.Details, s)
	p.Elapsed = s.Elapsed
	p.Loaded = s.Loaded
	p.Rate = s.Rate
	p.Complete = s.Complete
}

func (p *ItemProgress) complete() {
	p.Complete = 100
}

func (p *ItemProgress) end(now time.Time) {
	p.End = now
	if !p.Start.IsZero() {
		p.Elapsed = now.Sub(p.Start)
	}
}

// update recomputes the byte totals of the queue from its items.
func (p *QueueProgress) update(now time.Time, items []*Item) {
	var loaded, total int64
	for _, item := range items {
		item.mu.RLock()
		loaded += item.progress.Loaded
		total += item.progress.Total
		item.mu.RUnlock()
	}

	p.Loaded = loaded
	if !p.Start.IsZero() {
		p.Elapsed = now.Sub(p.Start)
	}
	p.Rate = bytesPerSecond(loaded, p.Elapsed)
	if total > 0 {
		p.Total = total
		p.Complete = float64(loaded) / float64(total) * 100
	}
}

func bytesPerSecond(n int64, d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(n) / d.Seconds()
}
