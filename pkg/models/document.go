package models

import (
	"maps"
	"reflect"
)

const (
	FieldID   = "id"
	FieldRev  = "rev"
	FieldMeta = "$info"
)

// Document is an item as callers see it: arbitrary fields plus the
// reserved identity fields "id" and "rev".
type Document map[string]any

// ID returns the document id, or "" when the document was never stored.
func (d Document) ID() string {
	id, _ := d[FieldID].(string)
	return id
}

// Rev returns the revision token, or "" for a new document.
func (d Document) Rev() string {
	rev, _ := d[FieldRev].(string)
	return rev
}

// IsNew reports whether the document carries no revision.
func (d Document) IsNew() bool {
	return d.Rev() == ""
}

// Clone deep-copies nested maps and slices. Other values are shared.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = CloneValue(v)
	}
	return out
}

// Without returns a shallow copy minus the given keys.
func (d Document) Without(keys ...string) Document {
	out := maps.Clone(d)
	if out == nil {
		out = Document{}
	}
	for _, k := range keys {
		delete(out, k)
	}
	return out
}

// CloneValue deep-copies the generic container shapes a document can hold.
func CloneValue(v any) any {
	switch t := v.(type) {
	case Document:
		return t.Clone()
	case map[string]any:
		return map[string]any(Document(t).Clone())
	case Query:
		return Query(Document(t).Clone())
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = CloneValue(e)
		}
		return out
	case []Document:
		out := make([]Document, len(t))
		for i, e := range t {
			out[i] = e.Clone()
		}
		return out
	case []map[string]any:
		out := make([]map[string]any, len(t))
		for i, e := range t {
			out[i] = Document(e).Clone()
		}
		return out
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}

// AsDocument accepts the map shapes a caller may use for a nested item.
func AsDocument(v any) (Document, bool) {
	switch t := v.(type) {
	case Document:
		return t, t != nil
	case map[string]any:
		return Document(t), t != nil
	case interface{ Doc() Document }:
		d := t.Doc()
		return d, d != nil
	default:
		return nil, false
	}
}

// AsDocuments accepts the slice shapes a caller may use for a list of
// nested items. Every element has to be a document.
func AsDocuments(v any) ([]Document, bool) {
	switch t := v.(type) {
	case []Document:
		return t, true
	case []map[string]any:
		out := make([]Document, len(t))
		for i, e := range t {
			out[i] = Document(e)
		}
		return out, true
	case []any:
		out := make([]Document, 0, len(t))
		for _, e := range t {
			d, ok := AsDocument(e)
			if !ok {
				return nil, false
			}
			out = append(out, d)
		}
		return out, true
	case interface{ Docs() []Document }:
		return t.Docs(), true
	default:
		return sliceOfDocuments(reflect.ValueOf(v))
	}
}

// sliceOfDocuments covers typed slices such as []*shelfdb.Item.
func sliceOfDocuments(rv reflect.Value) ([]Document, bool) {
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]Document, 0, rv.Len())
	for i := range rv.Len() {
		e := rv.Index(i)
		if (e.Kind() == reflect.Pointer || e.Kind() == reflect.Interface) && e.IsNil() {
			return nil, false
		}
		d, ok := AsDocument(e.Interface())
		if !ok {
			return nil, false
		}
		out = append(out, d)
	}
	return out, true
}

func RelationIDsField(field string) string { return field + "_ids" }

func RelationIDField(field string) string { return field + "_id" }
