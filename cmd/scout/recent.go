package main

import (
	"context"
	"sync"

	"github.com/ecostyle/scout/detect/candidate"
)

// recentDetections is a fixed-size ring of the latest detection
// announcements, fed by a callback sink and served at GET /api/detections.
type recentDetections struct {
	mu   sync.Mutex
	ring []candidate.Detection
	next int
	full bool
}

func newRecentDetections(capacity int) *recentDetections {
	if capacity <= 0 {
		capacity = 100
	}
	return &recentDetections{ring: make([]candidate.Detection, capacity)}
}

// add records one detection; usable directly as a callback sink handler.
func (r *recentDetections) add(_ context.Context, det candidate.Detection) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.ring[r.next] = det
	r.next++
	if r.next == len(r.ring) {
		r.next = 0
		r.full = true
	}
	return nil
}

// list returns the buffered detections, newest first.
func (r *recentDetections) list() []candidate.Detection {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := r.next
	if r.full {
		n = len(r.ring)
	}
	out := make([]candidate.Detection, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, r.ring[(r.next-i+len(r.ring))%len(r.ring)])
	}
	return out
}
