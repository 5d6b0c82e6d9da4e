package shelfdb

import (
	"context"
	"errors"
	"math"
	"reflect"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/shelfdb/shelfdb.go/pkg/models"
)

// detection is the change detector's verdict on one candidate.
type detection struct {
	changed bool
	// doc is the document to write when changed, the persisted one
	// otherwise.
	doc models.Document
	// persisted is the stored version, nil for a new document.
	persisted models.Document
}

// detect classifies every candidate, in order. Candidates with an id are
// compared against their persisted version; a miss means new.
func (s *Store) detect(ctx context.Context, docs []models.Document) ([]detection, error) {
	out := make([]detection, len(docs))

	var g errgroup.Group
	for i, doc := range docs {
		id := doc.ID()
		if id == "" {
			out[i] = detection{changed: true, doc: doc}
			continue
		}

		g.Go(func() error {
			native, err := s.engine.Get(ctx, id)
			if err != nil {
				err = translateErr("store", err)
				if errors.Is(err, ErrNotFound) {
					out[i] = detection{changed: true, doc: doc}
					return nil
				}
				return err
			}

			persisted := fromEngine(native)
			if doc.Rev() == "" {
				doc[models.FieldRev] = persisted.Rev()
			}
			if equalDocuments(doc, persisted) {
				out[i] = detection{doc: persisted, persisted: persisted}
				return nil
			}
			out[i] = detection{changed: true, doc: doc, persisted: persisted}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// ignoredFields never take part in change detection: both change on
// every write.
var ignoredFields = []string{models.FieldRev, models.FieldMeta}

func equalDocuments(a, b models.Document) bool {
	return equalMaps(a, b, ignoredFields...)
}

func equalMaps(a, b map[string]any, ignore ...string) bool {
	skip := func(k string) bool {
		for _, i := range ignore {
			if k == i {
				return true
			}
		}
		return false
	}

	n := 0
	for k, av := range a {
		if skip(k) {
			continue
		}
		n++
		bv, ok := b[k]
		if !ok || !equalValues(av, bv) {
			return false
		}
	}
	for k := range b {
		if !skip(k) {
			n--
		}
	}
	return n == 0
}

// equalValues is a deep equality that tolerates what a round trip
// through an engine codec changes: numeric kinds, map and slice types,
// and times encoded as RFC 3339 text.
func equalValues(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	if x, ok := toFloat(a); ok {
		y, ok := toFloat(b)
		return ok && (x == y || (math.IsNaN(x) && math.IsNaN(y)))
	}

	if ta, ok := a.(time.Time); ok {
		tb, ok := toTime(b)
		return ok && ta.Equal(tb)
	}
	if tb, ok := b.(time.Time); ok {
		ta, ok := toTime(a)
		return ok && ta.Equal(tb)
	}

	if ma, ok := toMap(a); ok {
		mb, ok := toMap(b)
		return ok && equalMaps(ma, mb)
	}

	if sa, ok := toSlice(a); ok {
		sb, ok := toSlice(b)
		if !ok || len(sa) != len(sb) {
			return false
		}
		for i := range sa {
			if !equalValues(sa[i], sb[i]) {
				return false
			}
		}
		return true
	}

	return reflect.DeepEqual(a, b)
}

func toFloat(v any) (float64, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return float64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	default:
		return 0, false
	}
}

func toTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		return parsed, err == nil
	default:
		return time.Time{}, false
	}
}

func toMap(v any) (map[string]any, bool) {
	if d, ok := models.AsDocument(v); ok {
		return d, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
		return nil, false
	}
	out := make(map[string]any, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		out[iter.Key().String()] = iter.Value().Interface()
	}
	return out, true
}

func toSlice(v any) ([]any, bool) {
	if s, ok := v.([]any); ok {
		return s, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}
