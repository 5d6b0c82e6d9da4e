package shelfdb

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/shelfdb/shelfdb.go/pkg/models"
)

// Find returns the items matching q. A nil or empty query matches every
// item. Objects in q match partially: only the fields they name are
// compared. Every other value has to be equal.
func (s *Store) Find(ctx context.Context, q models.Query) ([]*Item, error) {
	ctx = context.WithoutCancel(ctx)

	docs, err := s.scan(ctx)
	if err != nil {
		return nil, err
	}
	if !q.Empty() {
		matches := make([]models.Document, 0, len(docs))
		for _, d := range docs {
			if matchQuery(d, q) {
				matches = append(matches, d)
			}
		}
		docs = matches
	}

	if err := s.recompose(ctx, docs, seen{}); err != nil {
		return nil, err
	}
	return s.items(docs), nil
}

// All is Find with an empty query.
func (s *Store) All(ctx context.Context) ([]*Item, error) {
	return s.Find(ctx, nil)
}

// FindID returns the item with id or an error matching ErrNotFound.
func (s *Store) FindID(ctx context.Context, id string) (*Item, error) {
	ctx = context.WithoutCancel(ctx)

	doc, err := s.findOne(ctx, id, seen{})
	if err != nil {
		return nil, err
	}
	return &Item{Document: doc, store: s}, nil
}

// FindIDs looks up every id concurrently and returns the items in the
// order of ids. Any failed lookup fails the call.
func (s *Store) FindIDs(ctx context.Context, ids []string) ([]*Item, error) {
	ctx = context.WithoutCancel(ctx)

	docs := make([]models.Document, len(ids))
	var g errgroup.Group
	for i, id := range ids {
		g.Go(func() error {
			doc, err := s.findOne(ctx, id, seen{})
			if err != nil {
				return err
			}
			docs[i] = doc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return s.items(docs), nil
}

// scan reads every live document of the store.
func (s *Store) scan(ctx context.Context) ([]models.Document, error) {
	rows, err := s.engine.AllDocs(ctx, true)
	if err != nil {
		return nil, translateErr("find", err)
	}
	return fromRows(rows), nil
}

func matchQuery(doc models.Document, q models.Query) bool {
	return matchFields(doc, q)
}

func matchFields(doc, q map[string]any) bool {
	for k, want := range q {
		got, ok := doc[k]
		if !ok {
			return false
		}
		if sub, ok := toMap(want); ok {
			gotMap, ok := toMap(got)
			if !ok || !matchFields(gotMap, sub) {
				return false
			}
			continue
		}
		if !equalValues(got, want) {
			return false
		}
	}
	return true
}
