package shelfdb

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/shelfdb/shelfdb.go/pkg/models"
)

// Remove deletes doc by its id and revision and returns the id and the
// revision of the deletion.
func (s *Store) Remove(ctx context.Context, doc models.Document) (models.Document, error) {
	ctx = context.WithoutCancel(ctx)
	return s.remove(ctx, doc)
}

// RemoveMany deletes docs concurrently. The first failure is returned;
// deletions that already happened stay.
func (s *Store) RemoveMany(ctx context.Context, docs []models.Document) ([]models.Document, error) {
	ctx = context.WithoutCancel(ctx)

	out := make([]models.Document, len(docs))
	var g errgroup.Group
	for i, doc := range docs {
		g.Go(func() error {
			removed, err := s.remove(ctx, doc)
			if err != nil {
				return err
			}
			out[i] = removed
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// RemoveWhere deletes every item matching q. No match removes nothing.
func (s *Store) RemoveWhere(ctx context.Context, q models.Query) ([]models.Document, error) {
	items, err := s.Find(ctx, q)
	if err != nil {
		return nil, err
	}
	docs := make([]models.Document, len(items))
	for i, item := range items {
		docs[i] = item.Document
	}
	return s.RemoveMany(ctx, docs)
}

// Empty deletes every document of the store.
func (s *Store) Empty(ctx context.Context) error {
	ctx = context.WithoutCancel(ctx)

	rows, err := s.engine.AllDocs(ctx, false)
	if err != nil {
		return translateErr("empty", err)
	}
	docs := make([]models.Document, len(rows))
	for i, row := range rows {
		docs[i] = models.Document{models.FieldID: row.ID, models.FieldRev: row.Rev}
	}

	_, err = s.RemoveMany(ctx, docs)
	return err
}

func (s *Store) remove(ctx context.Context, doc models.Document) (models.Document, error) {
	id := doc.ID()
	if id == "" {
		return nil, &Error{Kind: ErrNotFound, Op: "remove", Field: models.FieldID, Message: "item has no id"}
	}

	res, err := s.engine.Remove(ctx, id, doc.Rev())
	if err != nil {
		return nil, translateErr("remove", err)
	}
	if err := translate("remove", res); err != nil {
		return nil, err
	}
	return models.Document{models.FieldID: res.ID, models.FieldRev: res.Rev}, nil
}
