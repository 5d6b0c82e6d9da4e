package engine

import (
	"context"
	"errors"
	"sync"
)

var ErrFeedClosed = errors.New("change feed closed")

// Hub fans committed changes out to subscribers. Each subscriber owns an
// unbounded queue drained by its own goroutine, so a slow reader never
// blocks a writer and order is kept per subscriber.
type Hub struct {
	mu     sync.Mutex
	subs   map[*subscription]struct{}
	closed bool
}

func NewHub() *Hub {
	return &Hub{subs: make(map[*subscription]struct{})}
}

// Subscribe registers a feed that receives every change published after
// the call. It is cancelled when ctx is done.
func (h *Hub) Subscribe(ctx context.Context) (Feed, error) {
	s := &subscription{
		hub:  h,
		wake:  make(chan struct{}, 1),
		ended: make(chan struct{}),
		done:  make(chan struct{}),
		out:   make(chan Change),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrFeedClosed
	}
	h.subs[s] = struct{}{}
	h.mu.Unlock()

	go s.run()
	if ctx != nil {
		stop := context.AfterFunc(ctx, s.Cancel)
		s.mu.Lock()
		s.stopCtx = stop
		s.mu.Unlock()
	}
	return s, nil
}

// Publish queues c on every live subscriber.
func (h *Hub) Publish(c Change) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for s := range h.subs {
		s.push(c)
	}
}

// Len is the number of live subscribers.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close ends every feed without an error.
func (h *Hub) Close() {
	h.CloseWithError(nil)
}

// CloseWithError ends every feed after its queued changes; Err of each
// reports err.
func (h *Hub) CloseWithError(err error) {
	h.mu.Lock()
	h.closed = true
	subs := make([]*subscription, 0, len(h.subs))
	for s := range h.subs {
		subs = append(subs, s)
	}
	h.subs = make(map[*subscription]struct{})
	h.mu.Unlock()

	for _, s := range subs {
		s.end(err)
	}
}

func (h *Hub) remove(s *subscription) {
	h.mu.Lock()
	delete(h.subs, s)
	h.mu.Unlock()
}

type subscription struct {
	hub     *Hub
	stopCtx func() bool

	mu    sync.Mutex
	queue []Change
	err   error

	wake chan struct{}
	// ended is closed by the hub; queued changes are still delivered.
	ended chan struct{}
	// done is closed by Cancel and drops whatever is queued.
	done chan struct{}
	out  chan Change

	once       sync.Once
	endOnce    sync.Once
	cancelOnce sync.Once
}

func (s *subscription) Events() <-chan Change {
	return s.out
}

func (s *subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *subscription) Cancel() {
	s.finish(nil)
	s.cancelOnce.Do(func() {
		close(s.done)
	})
}

// end closes the feed once every queued change was delivered.
func (s *subscription) end(err error) {
	s.finish(err)
	s.endOnce.Do(func() {
		close(s.ended)
	})
}

func (s *subscription) finish(err error) {
	s.once.Do(func() {
		s.mu.Lock()
		s.err = err
		stopCtx := s.stopCtx
		s.mu.Unlock()

		s.hub.remove(s)
		if stopCtx != nil {
			stopCtx()
		}
	})
}

func (s *subscription) push(c Change) {
	s.mu.Lock()
	s.queue = append(s.queue, c)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscription) run() {
	defer close(s.out)

	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			select {
			case <-s.wake:
				continue
			case <-s.ended:
				return
			case <-s.done:
				return
			}
		}
		c := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.out <- c:
		case <-s.done:
			return
		}
	}
}
