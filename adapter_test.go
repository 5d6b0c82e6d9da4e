package shelfdb

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/shelfdb/shelfdb.go/pkg/engine"
	"github.com/shelfdb/shelfdb.go/pkg/models"
)

func TestAdapterRoundTrip(t *testing.T) {
	doc := models.Document{"id": "a", "rev": "1-x", "value": 1, "nested": map[string]any{"id": "inner"}}

	native := toEngine(doc)
	assert.Equal(t, engine.Doc{"_id": "a", "_rev": "1-x", "value": 1, "nested": map[string]any{"id": "inner"}}, native)
	assert.Equal(t, doc, fromEngine(native))
}

func TestToEngineNewDocument(t *testing.T) {
	native := toEngine(models.Document{"id": "", "rev": "", "value": "v", "_deleted": true, "ok": true})
	assert.Equal(t, engine.Doc{"value": "v"}, native)
}

func TestFromEngineStripsBookkeeping(t *testing.T) {
	doc := fromEngine(engine.Doc{"_id": "a", "_rev": "2-y", "_deleted": true, "ok": true, "v": "x"})
	assert.Equal(t, models.Document{"id": "a", "rev": "2-y", "v": "x"}, doc)
	assert.Nil(t, fromEngine(nil))
}

func TestAdapterSequences(t *testing.T) {
	docs := []models.Document{{"id": "a"}, {"value": 1}}
	assert.Equal(t, docs, fromEngineAll(toEngineAll(docs)))

	rows := []engine.Row{
		{ID: "a", Rev: "1-x", Doc: engine.Doc{"_id": "a", "_rev": "1-x", "v": 1}},
		{ID: "b", Rev: "1-y"},
	}
	assert.Equal(t, []models.Document{
		{"id": "a", "rev": "1-x", "v": 1},
		{"id": "b", "rev": "1-y"},
	}, fromRows(rows))
}

func TestApplyResult(t *testing.T) {
	doc := models.Document{"v": 1}
	applyResult(doc, engine.Written("a", "1-x"))
	assert.Equal(t, models.Document{"id": "a", "rev": "1-x", "v": 1}, doc)
}
