package telemetry

import (
	"strings"
	"sync"
	"time"
)

const (
	// DefaultLogCapacity is the ring buffer capacity.
	DefaultLogCapacity = 2000

	// MaxSearchWindowSeconds clamps sinceSeconds to one year; a bigger
	// window cannot match anything in an in-memory buffer and risks
	// time-arithmetic overflow on hostile input.
	MaxSearchWindowSeconds = 365 * 24 * 3600

	// MaxSearchLimit is the upper bound on returned events.
	MaxSearchLimit = 200
)

// Event is one structured log entry. Events are never mutated after append.
type Event struct {
	Time    time.Time      `json:"ts"`
	Level   string         `json:"level"`
	Message string         `json:"message"`
	Module  string         `json:"module"`
	Tags    []string       `json:"tags"`
	Extra   map[string]any `json:"extra"`
}

// LogRing is a fixed-capacity append-only event store. Once capacity is
// exceeded the oldest event is silently evicted. Append and eviction happen
// under one lock so concurrent writers cannot duplicate or lose entries.
type LogRing struct {
	mu   sync.Mutex
	buf  []Event
	next int // write cursor
	size int // number of live events, <= len(buf)
}

// NewLogRing creates a ring with the given capacity.
// A capacity <= 0 falls back to DefaultLogCapacity.
func NewLogRing(capacity int) *LogRing {
	if capacity <= 0 {
		capacity = DefaultLogCapacity
	}
	return &LogRing{
		buf: make([]Event, capacity),
	}
}

// Append adds an event. The severity level is normalized to upper case; nil
// tags and extra become empty values so readers never see nils.
func (r *LogRing) Append(level, message, module string, tags []string, extra map[string]any) {
	if tags == nil {
		tags = []string{}
	}
	if extra == nil {
		extra = map[string]any{}
	}
	ev := Event{
		Time:    time.Now().UTC(),
		Level:   strings.ToUpper(level),
		Message: message,
		Module:  module,
		Tags:    tags,
		Extra:   extra,
	}

	r.mu.Lock()
	r.buf[r.next] = ev
	r.next = (r.next + 1) % len(r.buf)
	if r.size < len(r.buf) {
		r.size++
	}
	r.mu.Unlock()
}

// Len returns the current number of buffered events.
func (r *LogRing) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

// Recent returns up to max events within the last sinceSeconds, newest
// first, with no severity or text filter. Unlike Search it allows a larger
// fetch ceiling; the harvester uses it to read a bulk window of the ring.
func (r *LogRing) Recent(sinceSeconds, max int) []Event {
	if max < 1 {
		max = 1
	}
	s := sinceSeconds
	if s < 1 {
		s = 1
	}
	if s > MaxSearchWindowSeconds {
		s = MaxSearchWindowSeconds
	}
	since := time.Now().UTC().Add(-time.Duration(s) * time.Second)

	r.mu.Lock()
	defer r.mu.Unlock()

	results := make([]Event, 0, max)
	for i := 0; i < r.size; i++ {
		idx := (r.next - 1 - i + len(r.buf)) % len(r.buf)
		item := r.buf[idx]
		if item.Time.Before(since) {
			continue
		}
		results = append(results, item)
		if len(results) >= max {
			break
		}
	}
	return results
}

// Search returns events newest first.
//
// q matches when it is a substring of the message or of the comma-joined
// tags. Matching is case-sensitive substring on purpose: this is a lexical
// buffer scan, not semantic search. level filters on the normalized severity.
// sinceSeconds is clamped to [1, MaxSearchWindowSeconds]; limit to
// [1, MaxSearchLimit].
func (r *LogRing) Search(q, level string, sinceSeconds, limit int) []Event {
	if limit < 1 {
		limit = 1
	}
	if limit > MaxSearchLimit {
		limit = MaxSearchLimit
	}
	levelU := strings.ToUpper(level)

	s := sinceSeconds
	if s < 1 {
		s = 1
	}
	if s > MaxSearchWindowSeconds {
		s = MaxSearchWindowSeconds
	}
	since := time.Now().UTC().Add(-time.Duration(s) * time.Second)

	r.mu.Lock()
	defer r.mu.Unlock()

	results := make([]Event, 0, limit)
	for i := 0; i < r.size; i++ {
		// Walk backwards from the most recent write.
		idx := (r.next - 1 - i + len(r.buf)) % len(r.buf)
		item := r.buf[idx]
		if levelU != "" && item.Level != levelU {
			continue
		}
		if q != "" && !strings.Contains(item.Message, q) &&
			!strings.Contains(strings.Join(item.Tags, ","), q) {
			continue
		}
		if item.Time.Before(since) {
			continue
		}
		results = append(results, item)
		if len(results) >= limit {
			break
		}
	}
	return results
}
