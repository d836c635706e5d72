// Package attemptlog keeps the transport attempts of every query in memory
// for diagnostics. The sink is append-only from the pipeline's point of view:
// entries leave only through capacity eviction or retention expiry.
package attemptlog

import (
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/lc/txtchat/internal/chain"
)

const (
	// DefaultCapacity is the number of attempts kept when none is configured.
	DefaultCapacity = 1000
	// DefaultRetention is how long attempts are kept when none is configured.
	DefaultRetention = time.Hour
	// subscriberBuffer is the channel depth of each subscriber.
	subscriberBuffer = 64
)

var _ chain.Recorder = (*Sink)(nil)

// Sink is a bounded, insertion-ordered attempt log safe for concurrent use.
// Subscribers are notified of every appended attempt without ever blocking
// the writer; a subscriber that falls behind misses entries.
type Sink struct {
	mu        sync.RWMutex // protects fields below
	entries   []chain.Attempt
	capacity  int
	retention time.Duration
	subs      map[int]chan chain.Attempt
	nextSub   int

	total   atomic.Int64 // attempts ever recorded
	dropped atomic.Int64 // notifications lost to slow subscribers
}

// Stats is a point-in-time summary of the sink.
type Stats struct {
	Stored  int
	Total   int64
	Dropped int64
}

// New returns a sink keeping at most capacity attempts for retention.
// Non-positive values select the defaults.
func New(capacity int, retention time.Duration) *Sink {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Sink{
		entries:   make([]chain.Attempt, 0, min(capacity, 64)),
		capacity:  capacity,
		retention: retention,
		subs:      make(map[int]chan chain.Attempt),
	}
}

// Record appends a, evicting the oldest entry once full, and notifies
// subscribers.
func (s *Sink) Record(a chain.Attempt) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.entries) == s.capacity {
		copy(s.entries, s.entries[1:])
		s.entries = s.entries[:len(s.entries)-1]
	}
	s.entries = append(s.entries, a)
	s.total.Inc()

	for _, ch := range s.subs {
		select {
		case ch <- a:
		default:
			s.dropped.Inc()
		}
	}
}

// Snapshot returns a copy of the stored attempts, oldest first.
func (s *Sink) Snapshot() []chain.Attempt {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]chain.Attempt, len(s.entries))
	copy(out, s.entries)
	return out
}

// Query returns the stored attempts of one query, oldest first.
func (s *Sink) Query(queryID string) []chain.Attempt {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []chain.Attempt
	for _, a := range s.entries {
		if a.QueryID == queryID {
			out = append(out, a)
		}
	}
	return out
}

// ExpireNow drops attempts that started more than the retention before now
// and returns how many were dropped.
func (s *Sink) ExpireNow(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := now.Add(-s.retention)
	kept := s.entries[:0]
	for _, a := range s.entries {
		if !a.StartedAt.Before(cutoff) {
			kept = append(kept, a)
		}
	}
	n := len(s.entries) - len(kept)
	clear(s.entries[len(kept):])
	s.entries = kept
	return n
}

// Subscribe returns a channel receiving every attempt recorded from now on,
// and a function that unsubscribes and closes the channel.
func (s *Sink) Subscribe() (<-chan chain.Attempt, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextSub
	s.nextSub++
	ch := make(chan chain.Attempt, subscriberBuffer)
	s.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.subs, id)
			close(ch)
		})
	}
}

// Stats returns counters describing the sink.
func (s *Sink) Stats() Stats {
	s.mu.RLock()
	stored := len(s.entries)
	s.mu.RUnlock()
	return Stats{Stored: stored, Total: s.total.Load(), Dropped: s.dropped.Load()}
}
