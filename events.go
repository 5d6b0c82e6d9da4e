package shelfdb

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/shelfdb/shelfdb.go/pkg/engine"
	"github.com/shelfdb/shelfdb.go/pkg/models"
)

// Events a listener can subscribe to.
const (
	EventCreate   = "create"
	EventUpdate   = "update"
	EventDelete   = "delete"
	EventChange   = "change"
	EventComplete = "complete"
	EventError    = "error"
)

// Events lists every supported event.
var Events = []string{EventCreate, EventUpdate, EventDelete, EventChange, EventComplete, EventError}

// Event is delivered to a listener. Change events carry the written
// document; error events carry Err.
type Event struct {
	Name   string
	Action engine.Action
	Seq    int64
	ID     string
	Rev    string
	Doc    models.Document
	Err    error
}

// Listener is a live subscription to a store's changes. Each listener
// reads its own engine feed, in feed order, on its own goroutine.
type Listener struct {
	store   *Store
	event   string
	handler func(Event)
	feed    engine.Feed
	once    sync.Once
	done    chan struct{}
}

// Event returns the event the listener subscribed to.
func (l *Listener) Event() string {
	return l.event
}

// Done is closed after the last call of the handler.
func (l *Listener) Done() <-chan struct{} {
	return l.done
}

// Off cancels the subscription. It does not wait for a running handler,
// so it can be called from the handler itself.
func (l *Listener) Off() {
	l.once.Do(func() {
		l.store.dropListener(l)
		l.feed.Cancel()
	})
}

// On subscribes handler to event.
func (s *Store) On(event string, handler func(Event)) (*Listener, error) {
	if !slices.Contains(Events, event) {
		return nil, illegalEvent("on", event)
	}
	if handler == nil {
		return nil, &Error{Kind: ErrIllegalEvent, Op: "on", Message: "nil handler for " + event}
	}

	feed, err := s.engine.Changes(context.Background())
	if err != nil {
		return nil, translateErr("on", err)
	}

	l := &Listener{
		store:   s,
		event:   event,
		handler: handler,
		feed:    feed,
		done:    make(chan struct{}),
	}

	s.listenersMu.Lock()
	s.listeners[l] = struct{}{}
	s.listenersMu.Unlock()

	go l.run()
	return l, nil
}

// Off cancels listeners. An empty event cancels every listener of the
// store, a nil listener every listener of event.
func (s *Store) Off(event string, l *Listener) error {
	if event != "" && !slices.Contains(Events, event) {
		return illegalEvent("off", event)
	}

	if l != nil {
		if event == "" || l.event == event {
			l.Off()
		}
		return nil
	}

	for _, l := range s.snapshotListeners() {
		if event == "" || l.event == event {
			l.Off()
		}
	}
	return nil
}

func (s *Store) offAll() {
	for _, l := range s.snapshotListeners() {
		l.Off()
	}
}

func (s *Store) snapshotListeners() []*Listener {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()

	out := make([]*Listener, 0, len(s.listeners))
	for l := range s.listeners {
		out = append(out, l)
	}
	return out
}

func (s *Store) dropListener(l *Listener) {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	delete(s.listeners, l)
}

func (l *Listener) run() {
	defer close(l.done)

	for c := range l.feed.Events() {
		name := actionEvent(c.Action)
		if l.event != EventChange && l.event != name {
			continue
		}
		l.handler(Event{
			Name:   l.event,
			Action: c.Action,
			Seq:    c.Seq,
			ID:     c.ID,
			Rev:    c.Rev,
			Doc:    fromEngine(c.Doc),
		})
	}

	l.store.dropListener(l)

	if err := l.feed.Err(); err != nil {
		l.store.logger.Error("change feed failed", "event", l.event, "error", err)
		if l.event == EventError {
			l.handler(Event{Name: EventError, Err: translateErr("on", err)})
		}
		return
	}
	if l.event == EventComplete {
		l.handler(Event{Name: EventComplete})
	}
}

func actionEvent(a engine.Action) string {
	switch a {
	case engine.CreateAction:
		return EventCreate
	case engine.UpdateAction:
		return EventUpdate
	case engine.DeleteAction:
		return EventDelete
	default:
		return ""
	}
}

func illegalEvent(op, event string) error {
	return &Error{
		Kind:    ErrIllegalEvent,
		Op:      op,
		Message: fmt.Sprintf("%q is not supported, supported events are: %s", event, strings.Join(Events, ", ")),
	}
}
