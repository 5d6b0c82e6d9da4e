package shelfdb

import (
	"context"
	"maps"

	"github.com/goccy/go-json"

	"github.com/shelfdb/shelfdb.go/pkg/models"
)

// Item is a document bound to the store it belongs to.
type Item struct {
	models.Document
	store *Store
}

// Store returns the store the item is saved to.
func (i *Item) Store() *Store {
	return i.store
}

// Doc returns the underlying document. Items are accepted wherever a
// nested document is, relation fields included.
func (i *Item) Doc() models.Document {
	return i.Document
}

// Save stores the item and updates it with the stored version.
func (i *Item) Save(ctx context.Context) error {
	stored, err := i.store.Store(ctx, i.Document)
	if err != nil {
		return err
	}
	if i.Document == nil {
		i.Document = stored.Document
		return nil
	}
	clear(i.Document)
	maps.Copy(i.Document, stored.Document)
	return nil
}

// Delete removes the item from its store.
func (i *Item) Delete(ctx context.Context) error {
	_, err := i.store.Remove(ctx, i.Document)
	return err
}

// Validate reports whether the item passes the rules of its store.
func (i *Item) Validate() bool {
	return validate(i.store.rules(), i.Document) == nil
}

func (i *Item) MarshalJSON() ([]byte, error) {
	return json.Marshal(i.Document)
}
