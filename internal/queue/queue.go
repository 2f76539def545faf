// Package queue implements a count- and byte-bounded FIFO with head eviction
// and a priority bypass lane, used to pace sends on rate-bounded channels.
package queue

import (
	"log/slog"
	"sync"
	"time"

	"github.com/chorusbot/chorus/internal/clock"
)

// Item is one queued unit of outbound work. The queue owns it exclusively
// from Enqueue until it is dequeued or evicted.
type Item struct {
	// Payload is the opaque unit handed back on dequeue.
	Payload any
	// Text is the content the size estimator charges for.
	Text string
	// EmbeddingDims is the embedding vector length riding along, if any.
	EmbeddingDims int
	// Priority items skip the queue entirely and are signaled for immediate
	// processing.
	Priority bool
	// EnqueuedAt is stamped by the queue.
	EnqueuedAt time.Time

	sizeBytes int
}

// SizeBytes returns the estimated serialized cost charged for this item.
func (it *Item) SizeBytes() int { return it.sizeBytes }

// SizeEstimator approximates an item's serialized cost. The true cost depends
// on the collaborator's encoding, so this stays pluggable.
type SizeEstimator func(it *Item) int

// DefaultEstimator charges base overhead plus two bytes per text character
// and four bytes per embedding dimension.
func DefaultEstimator(baseSize int) SizeEstimator {
	return func(it *Item) int {
		return baseSize + len(it.Text)*2 + it.EmbeddingDims*4
	}
}

// EnqueueResult reports what happened to an enqueued item.
type EnqueueResult struct {
	// Accepted is true when the item was queued or bypassed.
	Accepted bool
	// Bypassed is true when the item skipped the queue on the priority lane.
	Bypassed bool
	// Evicted is how many older items were dropped to make room.
	Evicted int
}

// Config holds the queue bounds.
type Config struct {
	MaxCount    int
	MaxBytes    int
	MinInterval time.Duration
	BaseSize    int
}

// DefaultConfig returns the queue defaults.
func DefaultConfig() Config {
	return Config{
		MaxCount:    10,
		MaxBytes:    1 << 20,
		MinInterval: 2 * time.Second,
		BaseSize:    200,
	}
}

// Queue is the bounded FIFO. Safe for concurrent use.
type Queue struct {
	cfg      Config
	clk      clock.Clock
	estimate SizeEstimator
	priority chan *Item

	mu           sync.Mutex
	items        []*Item
	currentBytes int
	lastDequeue  time.Time
	dropped      int
}

// New creates a bounded queue. estimate may be nil, in which case the default
// estimator with cfg.BaseSize is used.
func New(cfg Config, clk clock.Clock, estimate SizeEstimator) *Queue {
	if cfg.MaxCount <= 0 {
		cfg.MaxCount = DefaultConfig().MaxCount
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultConfig().MaxBytes
	}
	if estimate == nil {
		estimate = DefaultEstimator(cfg.BaseSize)
	}
	return &Queue{
		cfg:      cfg,
		clk:      clk,
		estimate: estimate,
		priority: make(chan *Item, 8),
	}
}

// Enqueue inserts an item, evicting from the head until both the count and
// byte bounds hold. Priority items are signaled on the bypass lane instead.
// Eviction is a normal cancellation path, not an error.
func (q *Queue) Enqueue(it *Item) EnqueueResult {
	it.EnqueuedAt = q.clk.Now()
	it.sizeBytes = q.estimate(it)

	if it.Priority {
		select {
		case q.priority <- it:
			return EnqueueResult{Accepted: true, Bypassed: true}
		default:
			// Bypass lane full: fall through to the ordinary queue rather
			// than drop a high-priority item.
		}
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	evicted := 0
	for len(q.items) >= q.cfg.MaxCount {
		evicted += q.evictHeadLocked()
	}
	for len(q.items) > 0 && q.currentBytes+it.sizeBytes > q.cfg.MaxBytes {
		evicted += q.evictHeadLocked()
	}
	if it.sizeBytes > q.cfg.MaxBytes {
		// Oversized even for an empty queue.
		q.dropped++
		slog.Warn("queue item exceeds byte bound, dropped",
			"size", it.sizeBytes, "max_bytes", q.cfg.MaxBytes)
		return EnqueueResult{Accepted: false, Evicted: evicted}
	}

	q.items = append(q.items, it)
	q.currentBytes += it.sizeBytes
	return EnqueueResult{Accepted: true, Evicted: evicted}
}

// DequeueIfDue returns the oldest item if at least MinInterval has elapsed
// since the last successful dequeue. At most one item per call.
func (q *Queue) DequeueIfDue() (*Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil, false
	}
	now := q.clk.Now()
	if !q.lastDequeue.IsZero() && now.Sub(q.lastDequeue) < q.cfg.MinInterval {
		return nil, false
	}

	it := q.items[0]
	q.items = q.items[1:]
	q.currentBytes -= it.sizeBytes
	q.lastDequeue = now
	return it, true
}

// PriorityLane returns the bypass channel for immediate processing.
func (q *Queue) PriorityLane() <-chan *Item { return q.priority }

// Len returns the number of queued items (excluding the bypass lane).
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// CurrentBytes returns the summed estimated size of queued items.
func (q *Queue) CurrentBytes() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.currentBytes
}

// Dropped returns how many items have been evicted or rejected so far.
func (q *Queue) Dropped() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

func (q *Queue) evictHeadLocked() int {
	if len(q.items) == 0 {
		return 0
	}
	head := q.items[0]
	q.items = q.items[1:]
	q.currentBytes -= head.sizeBytes
	q.dropped++
	slog.Info("queue evicted oldest item",
		"size", head.sizeBytes, "age", q.clk.Now().Sub(head.EnqueuedAt))
	return 1
}
