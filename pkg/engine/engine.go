// Package engine is the boundary between shelfdb stores and the document
// engines that persist them. An Engine owns storage, revisions and the
// change feed of exactly one store; shelfdb only coordinates engines.
//
// Every implementation follows the same write rules, checked by the
// enginetest suite:
//
//   - a document without "_id" is created under a fresh UUID;
//   - a document with "_id" but no "_rev" is created when the id is unknown
//     or deleted, and conflicts with a live document;
//   - a document with "_rev" updates the live (or deleted) document with
//     that revision and conflicts otherwise;
//   - "_deleted": true deletes the document with that revision.
package engine

import (
	"context"
)

const (
	FieldID      = "_id"
	FieldRev     = "_rev"
	FieldDeleted = "_deleted"
)

// Doc is a document in the engine's native shape.
type Doc map[string]any

func (d Doc) ID() string {
	id, _ := d[FieldID].(string)
	return id
}

func (d Doc) Rev() string {
	rev, _ := d[FieldRev].(string)
	return rev
}

func (d Doc) Deleted() bool {
	deleted, _ := d[FieldDeleted].(bool)
	return deleted
}

// Body returns the document without its native bookkeeping fields.
func (d Doc) Body() map[string]any {
	out := make(map[string]any, len(d))
	for k, v := range d {
		switch k {
		case FieldID, FieldRev, FieldDeleted:
			continue
		}
		out[k] = v
	}
	return out
}

// Row is one entry of a full scan. Doc is nil unless documents were requested.
type Row struct {
	ID  string `json:"id"`
	Rev string `json:"rev"`
	Doc Doc    `json:"doc,omitempty"`
}

type Engine interface {
	// BulkDocs writes docs and reports one Result per document, in order.
	// A failing document does not stop the others; the returned error is
	// reserved for failures of the call itself.
	BulkDocs(ctx context.Context, docs []Doc) ([]Result, error)
	// Get returns the live document or an *Error with status 404.
	Get(ctx context.Context, id string) (Doc, error)
	// AllDocs scans every live document ordered by id.
	AllDocs(ctx context.Context, includeDocs bool) ([]Row, error)
	// Remove deletes id at rev, failing with an *Error carrying 404 or 409.
	Remove(ctx context.Context, id, rev string) (Result, error)
	// Changes subscribes to writes committed after the call. The feed is
	// cancelled when ctx is done.
	Changes(ctx context.Context) (Feed, error)
	Close() error
}
