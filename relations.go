package shelfdb

import (
	"context"
	"errors"
	"reflect"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/shelfdb/shelfdb.go/pkg/models"
)

// trail is the set of documents on the current decomposition path, keyed
// by map identity. Each level works on its own copy.
type trail map[uintptr]struct{}

func identity(doc models.Document) uintptr {
	if doc == nil {
		return 0
	}
	return reflect.ValueOf(doc).Pointer()
}

func (t trail) has(doc models.Document) bool {
	_, ok := t[identity(doc)]
	return ok
}

func (t trail) with(doc models.Document) trail {
	out := make(trail, len(t)+1)
	for k := range t {
		out[k] = struct{}{}
	}
	if p := identity(doc); p != 0 {
		out[p] = struct{}{}
	}
	return out
}

// decomposed is a parent ready for writing plus the persisted sub-items
// that were taken out of it.
type decomposed struct {
	doc       models.Document
	relations map[string]any
}

// link is one written relation: the id reference kept on the parent and
// the persisted sub-items put back after the write.
type link struct {
	field string
	key   string
	ref   any
	value any
}

// decompose stores every populated relation of doc in its target store and
// replaces it with id references. doc itself is not modified.
func (s *Store) decompose(ctx context.Context, doc models.Document, path trail) (decomposed, error) {
	out := decomposed{doc: doc.Without(), relations: make(map[string]any)}
	hasMany, hasOne := s.relationTargets()
	if len(hasMany) == 0 && len(hasOne) == 0 {
		return out, nil
	}

	var (
		g     errgroup.Group
		mu    sync.Mutex
		links []link
	)
	linked := func(l link) {
		mu.Lock()
		defer mu.Unlock()
		links = append(links, l)
	}

	for field, target := range hasMany {
		subs, ok := models.AsDocuments(doc[field])
		if !ok {
			continue
		}

		kept := make([]models.Document, 0, len(subs))
		for _, sub := range subs {
			if path.has(sub) {
				s.logger.Warn("dropping cyclic relation item", "field", field)
				continue
			}
			kept = append(kept, sub)
		}

		delete(out.doc, field)
		g.Go(func() error {
			stored, err := target.store(ctx, kept, path)
			if err != nil {
				return err
			}
			ids := make([]any, len(stored))
			for i, d := range stored {
				ids[i] = d.ID()
			}
			s.logger.Debug("stored relation", "field", field, "target", target.name, "count", len(stored))

			linked(link{field: field, key: models.RelationIDsField(field), ref: ids, value: stored})
			return nil
		})
	}

	for field, target := range hasOne {
		sub, ok := models.AsDocument(doc[field])
		if !ok {
			continue
		}

		delete(out.doc, field)
		if path.has(sub) {
			s.logger.Warn("dropping cyclic relation item", "field", field)
			continue
		}

		g.Go(func() error {
			stored, err := target.store(ctx, []models.Document{sub}, path)
			if err != nil {
				return err
			}
			s.logger.Debug("stored relation", "field", field, "target", target.name, "id", stored[0].ID())

			linked(link{field: field, key: models.RelationIDField(field), ref: stored[0].ID(), value: stored[0]})
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return decomposed{}, err
	}
	for _, l := range links {
		out.doc[l.key] = l.ref
		out.relations[l.field] = l.value
	}
	return out, nil
}

// recombine puts the persisted sub-items back onto a written parent.
func recombine(doc models.Document, relations map[string]any) models.Document {
	if len(relations) == 0 {
		return doc
	}
	out := doc.Without()
	for field, v := range relations {
		out[field] = v
	}
	return out
}

// seen is the set of (store, id) pairs on the current read path.
type seen map[[2]string]struct{}

func (s seen) has(store, id string) bool {
	_, ok := s[[2]string{store, id}]
	return ok
}

func (s seen) with(store, id string) seen {
	out := make(seen, len(s)+1)
	for k := range s {
		out[k] = struct{}{}
	}
	out[[2]string{store, id}] = struct{}{}
	return out
}

// materialized is one relation field filled in by recompose.
type materialized struct {
	doc   models.Document
	field string
	value any
}

// recompose fills relation fields of docs from their id references. docs
// are modified in place once every lookup finished.
func (s *Store) recompose(ctx context.Context, docs []models.Document, path seen) error {
	hasMany, hasOne := s.relationTargets()
	if len(hasMany) == 0 && len(hasOne) == 0 {
		return nil
	}

	var (
		g       errgroup.Group
		mu      sync.Mutex
		results []materialized
	)
	found := func(m materialized) {
		mu.Lock()
		defer mu.Unlock()
		results = append(results, m)
	}

	for _, doc := range docs {
		here := path.with(s.name, doc.ID())

		for field, target := range hasMany {
			ids := relationIDs(doc[models.RelationIDsField(field)])
			if len(ids) == 0 {
				continue
			}
			g.Go(func() error {
				subs, err := target.findRelated(ctx, ids, here)
				if err != nil {
					return err
				}
				found(materialized{doc: doc, field: field, value: subs})
				return nil
			})
		}

		for field, target := range hasOne {
			id, _ := doc[models.RelationIDField(field)].(string)
			if id == "" || here.has(target.name, id) {
				continue
			}
			g.Go(func() error {
				sub, err := target.findOne(ctx, id, here)
				if errors.Is(err, ErrNotFound) {
					s.logger.Debug("related item is gone", "field", field, "id", id)
					return nil
				}
				if err != nil {
					return err
				}
				found(materialized{doc: doc, field: field, value: sub})
				return nil
			})
		}
	}

	if err := g.Wait(); err != nil {
		return err
	}
	for _, m := range results {
		m.doc[m.field] = m.value
	}
	return nil
}

// findRelated loads the items of ids from a full scan, in the order of
// ids. Ids already on the read path and ids that no longer exist are
// skipped.
func (s *Store) findRelated(ctx context.Context, ids []string, path seen) ([]models.Document, error) {
	all, err := s.scan(ctx)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]models.Document, len(all))
	for _, d := range all {
		byID[d.ID()] = d
	}

	out := make([]models.Document, 0, len(ids))
	for _, id := range ids {
		d, ok := byID[id]
		if !ok || path.has(s.name, id) {
			continue
		}
		out = append(out, d)
	}
	if err := s.recompose(ctx, out, path); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) findOne(ctx context.Context, id string, path seen) (models.Document, error) {
	native, err := s.engine.Get(ctx, id)
	if err != nil {
		return nil, translateErr("find", err)
	}
	doc := fromEngine(native)
	if err := s.recompose(ctx, []models.Document{doc}, path); err != nil {
		return nil, err
	}
	return doc, nil
}

func relationIDs(v any) []string {
	switch t := v.(type) {
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if id, ok := e.(string); ok && id != "" {
				out = append(out, id)
			}
		}
		return out
	default:
		return nil
	}
}
