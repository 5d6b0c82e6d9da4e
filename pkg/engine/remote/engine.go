package remote

import (
	"context"
	"sync"

	"github.com/shelfdb/shelfdb.go/internal/rand"
	"github.com/shelfdb/shelfdb.go/pkg/engine"
)

// Engine is one store on the server.
type Engine struct {
	client *Client
	store  string

	mu     sync.Mutex
	feeds  map[*feed]struct{}
	closed bool
}

func (e *Engine) BulkDocs(ctx context.Context, docs []engine.Doc) ([]engine.Result, error) {
	var out []engine.Result
	if err := e.client.send(ctx, MethodBulkDocs, BulkDocsParams{Store: e.store, Docs: docs}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (e *Engine) Get(ctx context.Context, id string) (engine.Doc, error) {
	var out engine.Doc
	if err := e.client.send(ctx, MethodGet, GetParams{Store: e.store, ID: id}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (e *Engine) AllDocs(ctx context.Context, includeDocs bool) ([]engine.Row, error) {
	out := []engine.Row{}
	if err := e.client.send(ctx, MethodAllDocs, AllDocsParams{Store: e.store, IncludeDocs: includeDocs}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (e *Engine) Remove(ctx context.Context, id, rev string) (engine.Result, error) {
	var out engine.Result
	if err := e.client.send(ctx, MethodRemove, RemoveParams{Store: e.store, ID: id, Rev: rev}, &out); err != nil {
		return engine.Result{}, err
	}
	return out, nil
}

// Changes registers the feed locally before asking the server for it, so
// no notification can arrive for an unknown subscription.
func (e *Engine) Changes(ctx context.Context) (engine.Feed, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, engine.ErrClosed
	}
	e.mu.Unlock()

	hub := engine.NewHub()
	inner, err := hub.Subscribe(context.Background())
	if err != nil {
		return nil, err
	}
	f := &feed{Feed: inner, hub: hub, id: rand.NewRequestID(RequestIDLength), engine: e}

	if err := e.client.addFeed(f); err != nil {
		inner.Cancel()
		return nil, err
	}
	if err := e.client.send(ctx, MethodChanges, ChangesParams{Store: e.store, Subscription: f.id}, nil); err != nil {
		e.client.dropFeed(f.id)
		inner.Cancel()
		return nil, err
	}

	e.mu.Lock()
	e.feeds[f] = struct{}{}
	e.mu.Unlock()

	context.AfterFunc(ctx, f.Cancel)
	return f, nil
}

// Close cancels the feeds opened through this engine. The shared
// connection stays open; close it with Client.Close.
func (e *Engine) Close() error {
	e.mu.Lock()
	e.closed = true
	feeds := make([]*feed, 0, len(e.feeds))
	for f := range e.feeds {
		feeds = append(feeds, f)
	}
	e.mu.Unlock()

	for _, f := range feeds {
		f.Cancel()
	}
	return nil
}

type feed struct {
	engine.Feed
	hub    *engine.Hub
	id     string
	engine *Engine
	once   sync.Once
}

func (f *feed) Cancel() {
	f.once.Do(func() {
		f.Feed.Cancel()
		f.engine.client.dropFeed(f.id)

		f.engine.mu.Lock()
		delete(f.engine.feeds, f)
		f.engine.mu.Unlock()

		if f.engine.client.IsClosed() {
			return
		}
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), DefaultTimeout)
			defer cancel()
			if err := f.engine.client.send(ctx, MethodCancel, CancelParams{Subscription: f.id}, nil); err != nil {
				f.engine.client.logger.Debug("cancel subscription failed", "subscription", f.id, "error", err)
			}
		}()
	})
}
