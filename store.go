package shelfdb

import (
	"context"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/shelfdb/shelfdb.go/pkg/engine"
	"github.com/shelfdb/shelfdb.go/pkg/logger"
	"github.com/shelfdb/shelfdb.go/pkg/models"
)

// Store is a named collection of documents backed by one engine. Stores
// are obtained from a Registry and are safe for concurrent use.
type Store struct {
	name     string
	engine   engine.Engine
	registry *Registry
	logger   logger.Logger

	mu     sync.RWMutex
	schema schema

	listenersMu sync.Mutex
	listeners   map[*Listener]struct{}
}

func newStore(r *Registry, name string, e engine.Engine) *Store {
	return &Store{
		name:      name,
		engine:    e,
		registry:  r,
		logger:    logger.With(r.logger, "store", name),
		schema:    newSchema(),
		listeners: make(map[*Listener]struct{}),
	}
}

// Name returns the name the store was registered under.
func (s *Store) Name() string {
	return s.name
}

// New wraps doc in an unsaved item. A document without a revision must
// not set any reserved field.
func (s *Store) New(doc models.Document) (*Item, error) {
	if doc == nil {
		doc = models.Document{}
	}
	if err := checkProtected(doc); err != nil {
		return nil, err
	}
	return &Item{Document: doc, store: s}, nil
}

// Store writes doc and returns it with its id and revision. Populated
// relation fields are written to their own stores first.
func (s *Store) Store(ctx context.Context, doc models.Document) (*Item, error) {
	items, err := s.StoreMany(ctx, []models.Document{doc})
	if err != nil {
		return nil, err
	}
	return items[0], nil
}

// StoreMany writes docs, skipping the ones equal to their persisted
// version, and returns one item per document in the same order.
//
// Validation happens before anything is written. A failure reported by
// the engine aborts the call, but documents the engine already committed
// are not rolled back, including related items of other documents.
func (s *Store) StoreMany(ctx context.Context, docs []models.Document) ([]*Item, error) {
	ctx = context.WithoutCancel(ctx)

	docs = slices.Clone(docs)
	for i, doc := range docs {
		if doc == nil {
			docs[i] = models.Document{}
			continue
		}
		if err := checkProtected(doc); err != nil {
			return nil, err
		}
	}
	if err := s.validateGraph(docs, trail{}); err != nil {
		return nil, err
	}

	stored, err := s.store(ctx, docs, trail{})
	if err != nil {
		return nil, err
	}
	return s.items(stored), nil
}

// store is the write pipeline. It runs for the caller's documents and,
// through decompose, for every related item.
func (s *Store) store(ctx context.Context, docs []models.Document, path trail) ([]models.Document, error) {
	if len(docs) == 0 {
		return []models.Document{}, nil
	}

	parents := make([]decomposed, len(docs))
	var g errgroup.Group
	for i, doc := range docs {
		g.Go(func() error {
			d, err := s.decompose(ctx, doc, path.with(doc))
			if err != nil {
				return err
			}
			parents[i] = d
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	flat := make([]models.Document, len(parents))
	for i, p := range parents {
		flat[i] = p.doc
	}
	detections, err := s.detect(ctx, flat)
	if err != nil {
		return nil, err
	}

	var (
		writes  []models.Document
		indexes []int
	)
	meta := s.tracksMeta()
	now := time.Now().UnixMilli()
	for i, d := range detections {
		if !d.changed {
			s.logger.Debug("skipping unchanged item", "id", d.doc.ID())
			continue
		}
		if meta {
			d.doc[models.FieldMeta] = s.meta(d.persisted, now).Map()
		}
		writes = append(writes, d.doc)
		indexes = append(indexes, i)
	}

	if len(writes) > 0 {
		results, err := s.engine.BulkDocs(ctx, toEngineAll(writes))
		if err != nil {
			return nil, translateErr("store", err)
		}
		if len(results) != len(writes) {
			return nil, &Error{Kind: ErrGeneric, Op: "store", Message: "engine answered a different number of results"}
		}
		if err := translate("store", results...); err != nil {
			return nil, err
		}
		for n, res := range results {
			applyResult(detections[indexes[n]].doc, res)
		}
	}

	out := make([]models.Document, len(detections))
	for i, d := range detections {
		out[i] = recombine(d.doc, parents[i].relations)
	}
	return out, nil
}

func (s *Store) meta(persisted models.Document, now int64) models.Meta {
	m := models.Meta{CreatedAt: now, UpdatedAt: now, Store: s.name}
	if prev, ok := models.MetaOf(persisted); ok && prev.CreatedAt != 0 {
		m.CreatedAt = prev.CreatedAt
	}
	return m
}

func (s *Store) items(docs []models.Document) []*Item {
	out := make([]*Item, len(docs))
	for i, d := range docs {
		out[i] = &Item{Document: d, store: s}
	}
	return out
}

// reserved are the fields a new document may not set.
var reserved = []string{engine.FieldID, engine.FieldRev, engine.FieldDeleted, fieldOK}

func checkProtected(doc models.Document) error {
	if doc.Rev() != "" {
		return nil
	}
	if _, ok := doc[models.FieldRev]; ok {
		return &Error{Kind: ErrProtectedProperty, Op: "new", Field: models.FieldRev, Message: "a new item cannot carry a revision"}
	}
	for _, k := range reserved {
		if _, ok := doc[k]; ok {
			return &Error{Kind: ErrProtectedProperty, Op: "new", Field: k, Message: "reserved fields cannot be assigned"}
		}
	}
	return nil
}

// close cancels the store's listeners and closes its engine.
func (s *Store) close() error {
	s.offAll()
	return s.engine.Close()
}
