package quarry

import (
	"sync/atomic"
	"time"
)

// Progress exposes live indexing counters. The pipeline bumps processed as
// each file's result arrives; consumers read lock-free and compute throughput and ETA
// themselves. The handle is shared by value-copyable pointer and never
// locked.
type Progress struct {
	total     atomic.Int64
	processed atomic.Int64
	startedNS atomic.Int64
}

// NewProgress creates an idle Progress handle.
func NewProgress() *Progress {
	return &Progress{}
}

// Begin resets the counters for a new run.
func (p *Progress) Begin(total int) {
	p.total.Store(int64(total))
	p.processed.Store(0)
	p.startedNS.Store(time.Now().UnixNano())
}

// Add grows the total mid-run (watch-triggered work).
func (p *Progress) Add(n int) {
	p.total.Add(int64(n))
}

// Done marks n files processed.
func (p *Progress) Done(n int) {
	p.processed.Add(int64(n))
}

// Snapshot is a point-in-time view of the counters.
type Snapshot struct {
	Total     int64
	Processed int64
	Elapsed   time.Duration
}

// Snapshot reads the counters.
func (p *Progress) Snapshot() Snapshot {
	started := p.startedNS.Load()
	var elapsed time.Duration
	if started > 0 {
		elapsed = time.Duration(time.Now().UnixNano() - started)
	}
	return Snapshot{
		Total:     p.total.Load(),
		Processed: p.processed.Load(),
		Elapsed:   elapsed,
	}
}

// Throughput returns files per second, zero before any work.
func (s Snapshot) Throughput() float64 {
	if s.Elapsed <= 0 {
		return 0
	}
	return float64(s.Processed) / s.Elapsed.Seconds()
}

// ETA estimates the remaining time, zero when unknown.
func (s Snapshot) ETA() time.Duration {
	tp := s.Throughput()
	if tp <= 0 || s.Processed >= s.Total {
		return 0
	}
	remaining := float64(s.Total-s.Processed) / tp
	return time.Duration(remaining * float64(time.Second))
}
