package core

import "sync"

// EventStream is an unbounded FIFO between a producer that must never block
// (pion callbacks) and a single consumer ranging over C.
//
// Close stops accepting events and closes C after the backlog is delivered.
// Discard drops the backlog and closes C right away.
type EventStream[T any] struct {
	mu        sync.Mutex
	queue     []T
	closed    bool
	discarded bool

	wake    chan struct{}
	dropped chan struct{}
	out     chan T
	once    sync.Once
}

func NewEventStream[T any]() *EventStream[T] {
	s := &EventStream[T]{
		wake:    make(chan struct{}, 1),
		dropped: make(chan struct{}),
		out:     make(chan T),
	}
	go s.pump()
	return s
}

func (s *EventStream[T]) C() <-chan T { return s.out }

// Push enqueues v. Returns false once the stream is closed.
func (s *EventStream[T]) Push(v T) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.queue = append(s.queue, v)
	s.mu.Unlock()
	s.poke()
	return true
}

func (s *EventStream[T]) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.poke()
}

func (s *EventStream[T]) Discard() {
	s.mu.Lock()
	s.closed = true
	s.discarded = true
	s.queue = nil
	s.mu.Unlock()
	s.once.Do(func() { close(s.dropped) })
	s.poke()
}

func (s *EventStream[T]) poke() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *EventStream[T]) pump() {
	defer close(s.out)
	for {
		s.mu.Lock()
		if s.discarded || (s.closed && len(s.queue) == 0) {
			s.mu.Unlock()
			return
		}
		if len(s.queue) == 0 {
			s.mu.Unlock()
			<-s.wake
			continue
		}
		v := s.queue[0]
		var zero T
		s.queue[0] = zero
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.out <- v:
		case <-s.dropped:
			return
		}
	}
}
