package realtime

import "sync"

// Feed is an in-process fan-out primitive: many independent subscribers,
// each with its own bounded queue.
//
// Concurrency guarantees:
//   - Subscribe/cancel are safe under concurrent Publish.
//   - Publish never blocks (drops per-subscriber under backpressure).
//   - Late subscribers receive the retained replay window first.
type Feed[T any] struct {
	mu     sync.Mutex
	subs   map[uint64]chan T
	nextID uint64
	queue  int
	keep   int
	replay []T
}

// NewFeed constructs a feed. queue bounds each subscriber's channel; keep is
// the number of most recent values replayed to late subscribers (0 disables
// replay).
func NewFeed[T any](queue, keep int) *Feed[T] {
	if queue <= 0 {
		queue = defaultFeedQueueSize
	}
	if keep < 0 {
		keep = 0
	}
	return &Feed[T]{
		subs:  make(map[uint64]chan T),
		queue: queue,
		keep:  keep,
	}
}

// Subscribe registers a new subscriber and returns its receive channel plus
// a cancel func. Cancel is idempotent. The channel is never closed; callers
// select on it together with their own done signal.
func (f *Feed[T]) Subscribe() (<-chan T, func()) {
	f.mu.Lock()
	id := f.nextID
	f.nextID++

	// The extra capacity guarantees replayed values never block here.
	ch := make(chan T, f.queue+f.keep)
	for _, v := range f.replay {
		ch <- v
	}
	f.subs[id] = ch
	f.mu.Unlock()

	cancel := func() {
		f.mu.Lock()
		delete(f.subs, id)
		f.mu.Unlock()
	}
	return ch, cancel
}

// Publish fans out v to all subscribers. A subscriber whose queue is full is
// skipped rather than blocking the publisher.
func (f *Feed[T]) Publish(v T) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.keep > 0 {
		f.replay = append(f.replay, v)
		if len(f.replay) > f.keep {
			f.replay = f.replay[len(f.replay)-f.keep:]
		}
	}

	for _, ch := range f.subs {
		select {
		case ch <- v:
		default:
			// Drop rather than block the whole pipeline.
		}
	}
}
