package ingest

import (
	"sync"
	"time"
)

// Progress tracks completed points in a pass and estimates the time left
// as remaining * average elapsed per point.
type Progress struct {
	mu        sync.Mutex
	total     int
	completed int
	elapsed   time.Duration
}

// NewProgress starts tracking total points.
func NewProgress(total int) *Progress {
	return &Progress{total: total}
}

// Observe records one finished point that took d and returns the running
// count and the estimate for the rest.
func (p *Progress) Observe(d time.Duration) (completed int, eta time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.completed++
	p.elapsed += d
	remaining := p.total - p.completed
	if remaining <= 0 {
		return p.completed, 0
	}
	avg := p.elapsed / time.Duration(p.completed)
	return p.completed, time.Duration(remaining) * avg
}

// Total returns the number of points tracked.
func (p *Progress) Total() int {
	return p.total
}
