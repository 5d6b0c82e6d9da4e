package shelfdb

import (
	"github.com/shelfdb/shelfdb.go/pkg/engine"
	"github.com/shelfdb/shelfdb.go/pkg/models"
)

// fieldOK is the bookkeeping flag some engine responses carry.
const fieldOK = "ok"

// toEngine renames the identity fields to the engine's native names.
// Native names present in the document are dropped, they are never
// user data.
func toEngine(doc models.Document) engine.Doc {
	out := make(engine.Doc, len(doc))
	for k, v := range doc {
		switch k {
		case models.FieldID:
			if id, _ := v.(string); id != "" {
				out[engine.FieldID] = id
			}
		case models.FieldRev:
			if rev, _ := v.(string); rev != "" {
				out[engine.FieldRev] = rev
			}
		case engine.FieldID, engine.FieldRev, engine.FieldDeleted, fieldOK:
		default:
			out[k] = v
		}
	}
	return out
}

func fromEngine(doc engine.Doc) models.Document {
	if doc == nil {
		return nil
	}
	out := make(models.Document, len(doc))
	for k, v := range doc {
		switch k {
		case engine.FieldID:
			out[models.FieldID] = v
		case engine.FieldRev:
			out[models.FieldRev] = v
		case engine.FieldDeleted, fieldOK:
		default:
			out[k] = v
		}
	}
	return out
}

func toEngineAll(docs []models.Document) []engine.Doc {
	out := make([]engine.Doc, len(docs))
	for i, d := range docs {
		out[i] = toEngine(d)
	}
	return out
}

func fromEngineAll(docs []engine.Doc) []models.Document {
	out := make([]models.Document, len(docs))
	for i, d := range docs {
		out[i] = fromEngine(d)
	}
	return out
}

// fromRows converts a full scan that included documents.
func fromRows(rows []engine.Row) []models.Document {
	out := make([]models.Document, 0, len(rows))
	for _, row := range rows {
		if row.Doc == nil {
			out = append(out, models.Document{models.FieldID: row.ID, models.FieldRev: row.Rev})
			continue
		}
		out = append(out, fromEngine(row.Doc))
	}
	return out
}

// applyResult overlays the identity a successful write assigned.
func applyResult(doc models.Document, res engine.Result) {
	doc[models.FieldID] = res.ID
	doc[models.FieldRev] = res.Rev
}
