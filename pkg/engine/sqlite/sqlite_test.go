package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shelfdb/shelfdb.go/pkg/engine"
	"github.com/shelfdb/shelfdb.go/pkg/engine/enginetest"
	"github.com/shelfdb/shelfdb.go/pkg/engine/sqlite"
)

func openDB(t *testing.T) *sqlite.DB {
	t.Helper()
	db, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "shelf.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = db.Close()
	})
	return db
}

func TestConformance(t *testing.T) {
	enginetest.Run(t, func(t *testing.T) engine.Engine {
		return openDB(t).Engine("tests")
	})
}

func TestStoresAreSeparate(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	a, b := db.Engine("a"), db.Engine("b")

	res, err := a.BulkDocs(ctx, []engine.Doc{{engine.FieldID: "shared", "value": "a"}})
	require.NoError(t, err)
	require.True(t, res[0].OK)

	_, err = b.Get(ctx, "shared")
	var engErr *engine.Error
	require.ErrorAs(t, err, &engErr)
	assert.Equal(t, 404, engErr.Status)

	res, err = b.BulkDocs(ctx, []engine.Doc{{engine.FieldID: "shared", "value": "b"}})
	require.NoError(t, err)
	assert.True(t, res[0].OK)

	rows, err := a.AllDocs(ctx, true)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "a", rows[0].Doc["value"])
}

func TestReopenKeepsDocuments(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "shelf.db")

	db, err := sqlite.Open(ctx, path)
	require.NoError(t, err)
	res, err := db.Engine("tests").BulkDocs(ctx, []engine.Doc{{"value": "kept"}})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = sqlite.Open(ctx, path)
	require.NoError(t, err)
	defer db.Close()

	doc, err := db.Engine("tests").Get(ctx, res[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "kept", doc["value"])
	assert.Equal(t, res[0].Rev, doc.Rev())
}
