// Package memory is an in-process engine. Documents are kept encoded so
// callers never share maps with the engine, the same as with a real
// database behind a wire.
package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/shelfdb/shelfdb.go/internal/codec"
	"github.com/shelfdb/shelfdb.go/pkg/engine"
	"github.com/shelfdb/shelfdb.go/pkg/logger"
)

type record struct {
	rev     string
	seq     int64
	deleted bool
	body    []byte
}

type Engine struct {
	name   string
	codec  codec.Codec
	logger logger.Logger

	mu     sync.RWMutex
	docs   map[string]*record
	seq    int64
	closed bool

	hub *engine.Hub
}

type Option func(*Engine)

func WithLogger(l logger.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithCodec replaces the CBOR encoding used for documents at rest.
func WithCodec(c codec.Codec) Option {
	return func(e *Engine) {
		e.codec = c
	}
}

func New(name string, opts ...Option) *Engine {
	e := &Engine{
		name:   name,
		codec:  codec.CBOR(),
		logger: logger.Nop(),
		docs:   make(map[string]*record),
		hub:    engine.NewHub(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = logger.With(e.logger, "component", "memory", "store", name)
	return e
}

// Opener returns a constructor for one engine per store name.
func Opener(opts ...Option) func(ctx context.Context, name string) (engine.Engine, error) {
	return func(_ context.Context, name string) (engine.Engine, error) {
		return New(name, opts...), nil
	}
}

func (e *Engine) BulkDocs(ctx context.Context, docs []engine.Doc) ([]engine.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, engine.ErrClosed
	}

	results := make([]engine.Result, len(docs))
	for i, doc := range docs {
		results[i] = e.write(doc)
	}
	return results, nil
}

// write commits one document. Callers hold e.mu.
func (e *Engine) write(doc engine.Doc) engine.Result {
	var current *engine.State
	if rec, ok := e.docs[doc.ID()]; ok {
		current = &engine.State{Rev: rec.rev, Deleted: rec.deleted}
	}

	w, planErr := engine.Plan(current, doc)
	if planErr != nil {
		return planErr.Result()
	}

	var body []byte
	if !w.Deleted {
		var err error
		body, err = e.codec.Marshal(doc.Body())
		if err != nil {
			return engine.BadRequest(err.Error()).Result()
		}
	}

	e.seq++
	e.docs[w.ID] = &record{rev: w.Rev, seq: e.seq, deleted: w.Deleted, body: body}

	change := engine.Change{Seq: e.seq, ID: w.ID, Rev: w.Rev, Action: w.Action}
	if w.Deleted {
		change.Doc = engine.Tombstone(w.ID, w.Rev)
	} else if d, err := e.decode(w.ID, e.docs[w.ID]); err == nil {
		change.Doc = d
	}
	e.hub.Publish(change)

	e.logger.Debug("document written", "id", w.ID, "rev", w.Rev, "action", string(w.Action))
	return engine.Written(w.ID, w.Rev)
}

func (e *Engine) decode(id string, rec *record) (engine.Doc, error) {
	doc := engine.Doc{}
	if err := e.codec.Unmarshal(rec.body, (*map[string]any)(&doc)); err != nil {
		return nil, err
	}
	if doc == nil {
		doc = engine.Doc{}
	}
	doc[engine.FieldID] = id
	doc[engine.FieldRev] = rec.rev
	return doc, nil
}

func (e *Engine) Get(ctx context.Context, id string) (engine.Doc, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		return nil, engine.ErrClosed
	}

	rec, ok := e.docs[id]
	switch {
	case !ok:
		return nil, engine.NotFound(engine.ReasonMissing)
	case rec.deleted:
		return nil, engine.NotFound(engine.ReasonDeleted)
	}
	return e.decode(id, rec)
}

func (e *Engine) AllDocs(ctx context.Context, includeDocs bool) ([]engine.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		return nil, engine.ErrClosed
	}

	ids := make([]string, 0, len(e.docs))
	for id, rec := range e.docs {
		if !rec.deleted {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)

	rows := make([]engine.Row, 0, len(ids))
	for _, id := range ids {
		rec := e.docs[id]
		row := engine.Row{ID: id, Rev: rec.rev}
		if includeDocs {
			doc, err := e.decode(id, rec)
			if err != nil {
				return nil, err
			}
			row.Doc = doc
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (e *Engine) Remove(ctx context.Context, id, rev string) (engine.Result, error) {
	res, err := e.BulkDocs(ctx, []engine.Doc{engine.Tombstone(id, rev)})
	if err != nil {
		return engine.Result{}, err
	}
	if err := res[0].Err(); err != nil {
		return engine.Result{}, err
	}
	return res[0], nil
}

func (e *Engine) Changes(ctx context.Context) (engine.Feed, error) {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return nil, engine.ErrClosed
	}
	return e.hub.Subscribe(ctx)
}

func (e *Engine) Close() error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()

	e.hub.Close()
	return nil
}
