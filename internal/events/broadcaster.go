package events

import (
	"sort"
	"sync"
)

// Broadcaster fans published values out to every current subscriber.
// The zero value is not usable; construct with NewBroadcaster.
type Broadcaster[T any] struct {
	mu     sync.Mutex
	subs   map[uint64]*Subscription[T]
	nextID uint64
	closed bool
}

// NewBroadcaster creates an open broadcaster with no subscribers.
func NewBroadcaster[T any]() *Broadcaster[T] {
	return &Broadcaster[T]{subs: make(map[uint64]*Subscription[T])}
}

// Publish enqueues v for every current subscriber and returns without waiting
// for delivery. Values published after Close are dropped.
//
// Enqueueing happens under the broadcaster lock so concurrent publishers are
// observed in one global order by all subscribers.
func (b *Broadcaster[T]) Publish(v T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for _, s := range b.ordered() {
		s.enqueue(v)
	}
}

// Subscribe attaches a new observer. It receives values published from now on.
// Subscribing to a closed broadcaster yields an already closed subscription.
func (b *Broadcaster[T]) Subscribe() *Subscription[T] {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	s := newSubscription(b, b.nextID)
	if b.closed {
		s.finish()
		return s
	}
	b.subs[s.id] = s
	return s
}

// Unsubscribe detaches s and closes its channel, discarding undelivered
// values. Safe to call repeatedly, with nil, or after Close.
func (b *Broadcaster[T]) Unsubscribe(s *Subscription[T]) {
	if s == nil {
		return
	}
	b.mu.Lock()
	delete(b.subs, s.id)
	b.mu.Unlock()
	s.cancel()
}

// Close stops the broadcaster. Pending values are still delivered to current
// subscribers, after which their channels close.
func (b *Broadcaster[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, s := range b.subs {
		s.finish()
		delete(b.subs, id)
	}
}

// Len returns the number of attached subscribers.
func (b *Broadcaster[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// ordered returns subscribers by creation order. Caller holds b.mu.
func (b *Broadcaster[T]) ordered() []*Subscription[T] {
	out := make([]*Subscription[T], 0, len(b.subs))
	for _, s := range b.subs {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// Subscription is one observer's handle on a Broadcaster.
type Subscription[T any] struct {
	id    uint64
	owner *Broadcaster[T]

	mu       sync.Mutex
	queue    []T
	finished bool

	wake       chan struct{}
	done       chan struct{}
	out        chan T
	cancelOnce sync.Once
}

func newSubscription[T any](owner *Broadcaster[T], id uint64) *Subscription[T] {
	s := &Subscription[T]{
		id:    id,
		owner: owner,
		wake:  make(chan struct{}, 1),
		done:  make(chan struct{}),
		out:   make(chan T),
	}
	go s.pump()
	return s
}

// C returns the delivery channel. It is closed after Unsubscribe or, once
// drained, after the broadcaster is closed.
func (s *Subscription[T]) C() <-chan T {
	return s.out
}

// Unsubscribe detaches the subscription from its broadcaster. Idempotent.
func (s *Subscription[T]) Unsubscribe() {
	s.owner.Unsubscribe(s)
}

// Done is closed once the subscription was cancelled through Unsubscribe.
func (s *Subscription[T]) Done() <-chan struct{} {
	return s.done
}

func (s *Subscription[T]) enqueue(v T) {
	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, v)
	s.mu.Unlock()
	s.signal()
}

// finish marks the queue complete; the pump drains it and closes out.
func (s *Subscription[T]) finish() {
	s.mu.Lock()
	s.finished = true
	s.mu.Unlock()
	s.signal()
}

// cancel stops delivery immediately.
func (s *Subscription[T]) cancel() {
	s.cancelOnce.Do(func() {
		s.mu.Lock()
		s.finished = true
		s.queue = nil
		s.mu.Unlock()
		close(s.done)
	})
}

func (s *Subscription[T]) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Subscription[T]) pump() {
	defer close(s.out)
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			finished := s.finished
			s.mu.Unlock()
			if finished {
				return
			}
			select {
			case <-s.wake:
				continue
			case <-s.done:
				return
			}
		}
		v := s.queue[0]
		var zero T
		s.queue[0] = zero
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.out <- v:
		case <-s.done:
			return
		}
	}
}
