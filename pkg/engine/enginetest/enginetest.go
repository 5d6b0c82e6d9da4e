// Package enginetest is a conformance suite every engine.Engine
// implementation runs from its own tests.
package enginetest

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shelfdb/shelfdb.go/pkg/engine"
)

// Factory returns a fresh, empty engine. The suite closes it.
type Factory func(t *testing.T) engine.Engine

// Run executes the whole suite against engines built by open.
func Run(t *testing.T, open Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, e engine.Engine)
	}{
		{"create assigns id and rev", testCreate},
		{"create with id", testCreateWithID},
		{"update", testUpdate},
		{"get missing and deleted", testGetMissing},
		{"bulk reports per document", testBulkPartial},
		{"remove", testRemove},
		{"recreate after delete", testRecreate},
		{"all docs", testAllDocs},
		{"round trip", testRoundTrip},
		{"returned documents are copies", testIsolation},
		{"changes", testChanges},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := open(t)
			t.Cleanup(func() {
				_ = e.Close()
			})
			tt.fn(t, e)
		})
	}
}

func write(t *testing.T, e engine.Engine, doc engine.Doc) engine.Result {
	t.Helper()
	res, err := e.BulkDocs(context.Background(), []engine.Doc{doc})
	require.NoError(t, err)
	require.Len(t, res, 1)
	return res[0]
}

func mustWrite(t *testing.T, e engine.Engine, doc engine.Doc) engine.Result {
	t.Helper()
	res := write(t, e, doc)
	require.False(t, res.Error, "unexpected write error: %+v", res)
	return res
}

func requireStatus(t *testing.T, err error, status int) {
	t.Helper()
	var engErr *engine.Error
	require.ErrorAs(t, err, &engErr)
	assert.Equal(t, status, engErr.Status)
}

func testCreate(t *testing.T, e engine.Engine) {
	res := mustWrite(t, e, engine.Doc{"value": "a"})
	assert.True(t, res.OK)
	assert.NotEmpty(t, res.ID)
	assert.Equal(t, 1, engine.Generation(res.Rev))

	doc, err := e.Get(context.Background(), res.ID)
	require.NoError(t, err)
	assert.Equal(t, res.ID, doc.ID())
	assert.Equal(t, res.Rev, doc.Rev())
	assert.Equal(t, "a", doc["value"])
}

func testCreateWithID(t *testing.T, e engine.Engine) {
	res := mustWrite(t, e, engine.Doc{engine.FieldID: "fixed", "value": "a"})
	assert.Equal(t, "fixed", res.ID)

	dup := write(t, e, engine.Doc{engine.FieldID: "fixed", "value": "b"})
	assert.True(t, dup.Error)
	assert.Equal(t, http.StatusConflict, dup.Status)
}

func testUpdate(t *testing.T, e engine.Engine) {
	first := mustWrite(t, e, engine.Doc{"value": "a"})

	second := mustWrite(t, e, engine.Doc{engine.FieldID: first.ID, engine.FieldRev: first.Rev, "value": "b"})
	assert.Equal(t, first.ID, second.ID)
	assert.NotEqual(t, first.Rev, second.Rev)
	assert.Equal(t, 2, engine.Generation(second.Rev))

	stale := write(t, e, engine.Doc{engine.FieldID: first.ID, engine.FieldRev: first.Rev, "value": "c"})
	assert.True(t, stale.Error)
	assert.Equal(t, http.StatusConflict, stale.Status)

	unknown := write(t, e, engine.Doc{engine.FieldID: "nope", engine.FieldRev: first.Rev})
	assert.Equal(t, http.StatusConflict, unknown.Status)

	doc, err := e.Get(context.Background(), first.ID)
	require.NoError(t, err)
	assert.Equal(t, "b", doc["value"])
	assert.Equal(t, second.Rev, doc.Rev())
}

func testGetMissing(t *testing.T, e engine.Engine) {
	ctx := context.Background()

	_, err := e.Get(ctx, "missing")
	requireStatus(t, err, http.StatusNotFound)

	res := mustWrite(t, e, engine.Doc{"value": "a"})
	_, err = e.Remove(ctx, res.ID, res.Rev)
	require.NoError(t, err)

	_, err = e.Get(ctx, res.ID)
	requireStatus(t, err, http.StatusNotFound)
	var engErr *engine.Error
	require.ErrorAs(t, err, &engErr)
	assert.Equal(t, engine.ReasonDeleted, engErr.Reason)
}

func testBulkPartial(t *testing.T, e engine.Engine) {
	existing := mustWrite(t, e, engine.Doc{engine.FieldID: "taken"})

	res, err := e.BulkDocs(context.Background(), []engine.Doc{
		{"value": "first"},
		{engine.FieldID: "taken", "value": "conflicting"},
		{"value": "third"},
	})
	require.NoError(t, err)
	require.Len(t, res, 3)

	assert.True(t, res[0].OK)
	assert.True(t, res[1].Error)
	assert.Equal(t, http.StatusConflict, res[1].Status)
	assert.True(t, res[2].OK)

	for _, r := range []engine.Result{res[0], res[2]} {
		_, err := e.Get(context.Background(), r.ID)
		assert.NoError(t, err)
	}

	doc, err := e.Get(context.Background(), "taken")
	require.NoError(t, err)
	assert.Equal(t, existing.Rev, doc.Rev())
}

func testRemove(t *testing.T, e engine.Engine) {
	ctx := context.Background()
	res := mustWrite(t, e, engine.Doc{"value": "a"})

	_, err := e.Remove(ctx, res.ID, "1-stale")
	requireStatus(t, err, http.StatusConflict)

	_, err = e.Remove(ctx, "missing", "1-x")
	requireStatus(t, err, http.StatusNotFound)

	removed, err := e.Remove(ctx, res.ID, res.Rev)
	require.NoError(t, err)
	assert.True(t, removed.OK)
	assert.Equal(t, res.ID, removed.ID)
	assert.Equal(t, 2, engine.Generation(removed.Rev))

	del := mustWrite(t, e, engine.Doc{"value": "b"})
	out := write(t, e, engine.Tombstone(del.ID, del.Rev))
	assert.True(t, out.OK)
	_, err = e.Get(ctx, del.ID)
	requireStatus(t, err, http.StatusNotFound)
}

func testRecreate(t *testing.T, e engine.Engine) {
	ctx := context.Background()
	res := mustWrite(t, e, engine.Doc{engine.FieldID: "again", "value": "a"})
	removed, err := e.Remove(ctx, res.ID, res.Rev)
	require.NoError(t, err)

	again := mustWrite(t, e, engine.Doc{engine.FieldID: "again", "value": "b"})
	assert.Equal(t, engine.Generation(removed.Rev)+1, engine.Generation(again.Rev))

	doc, err := e.Get(ctx, "again")
	require.NoError(t, err)
	assert.Equal(t, "b", doc["value"])
}

func testAllDocs(t *testing.T, e engine.Engine) {
	ctx := context.Background()

	rows, err := e.AllDocs(ctx, true)
	require.NoError(t, err)
	assert.Empty(t, rows)

	for _, id := range []string{"c", "a", "b"} {
		mustWrite(t, e, engine.Doc{engine.FieldID: id, "value": id})
	}
	gone := mustWrite(t, e, engine.Doc{engine.FieldID: "d"})
	_, err = e.Remove(ctx, gone.ID, gone.Rev)
	require.NoError(t, err)

	rows, err = e.AllDocs(ctx, true)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	for i, id := range []string{"a", "b", "c"} {
		assert.Equal(t, id, rows[i].ID)
		assert.NotEmpty(t, rows[i].Rev)
		require.NotNil(t, rows[i].Doc)
		assert.Equal(t, id, rows[i].Doc["value"])
		assert.Equal(t, rows[i].Rev, rows[i].Doc.Rev())
	}

	rows, err = e.AllDocs(ctx, false)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Nil(t, rows[0].Doc)
}

func testRoundTrip(t *testing.T, e engine.Engine) {
	res := mustWrite(t, e, engine.Doc{
		"string": "s",
		"bool":   true,
		"number": 42,
		"list":   []any{"a", "b"},
		"nested": map[string]any{"inner": map[string]any{"k": "v"}},
	})

	doc, err := e.Get(context.Background(), res.ID)
	require.NoError(t, err)
	assert.Equal(t, "s", doc["string"])
	assert.Equal(t, true, doc["bool"])
	assert.EqualValues(t, 42, asFloat(doc["number"]))
	assert.Equal(t, []any{"a", "b"}, doc["list"])
	assert.Equal(t, map[string]any{"inner": map[string]any{"k": "v"}}, doc["nested"])
	assert.NotContains(t, doc, engine.FieldDeleted)
}

func testIsolation(t *testing.T, e engine.Engine) {
	input := engine.Doc{"nested": map[string]any{"k": "v"}}
	res := mustWrite(t, e, input)
	input["nested"].(map[string]any)["k"] = "changed"

	doc, err := e.Get(context.Background(), res.ID)
	require.NoError(t, err)
	doc["nested"].(map[string]any)["k"] = "mutated"

	again, err := e.Get(context.Background(), res.ID)
	require.NoError(t, err)
	assert.Equal(t, "v", again["nested"].(map[string]any)["k"])
}

func testChanges(t *testing.T, e engine.Engine) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mustWrite(t, e, engine.Doc{"value": "before"})

	feed, err := e.Changes(ctx)
	require.NoError(t, err)

	created := mustWrite(t, e, engine.Doc{"value": "a"})
	updated := mustWrite(t, e, engine.Doc{engine.FieldID: created.ID, engine.FieldRev: created.Rev, "value": "b"})
	removed, err := e.Remove(context.Background(), updated.ID, updated.Rev)
	require.NoError(t, err)

	want := []struct {
		action engine.Action
		rev    string
	}{
		{engine.CreateAction, created.Rev},
		{engine.UpdateAction, updated.Rev},
		{engine.DeleteAction, removed.Rev},
	}
	var lastSeq int64
	for _, w := range want {
		c := Receive(t, feed)
		assert.Equal(t, w.action, c.Action)
		assert.Equal(t, created.ID, c.ID)
		assert.Equal(t, w.rev, c.Rev)
		assert.Greater(t, c.Seq, lastSeq)
		lastSeq = c.Seq
	}

	feed.Cancel()
	WaitClosed(t, feed)
	assert.NoError(t, feed.Err())
}

// Receive waits for the next change on f.
func Receive(t *testing.T, f engine.Feed) engine.Change {
	t.Helper()
	select {
	case c, ok := <-f.Events():
		require.True(t, ok, "feed closed: %v", f.Err())
		return c
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a change")
	}
	return engine.Change{}
}

// WaitClosed drains f until its channel is closed.
func WaitClosed(t *testing.T, f engine.Feed) {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case _, ok := <-f.Events():
			if !ok {
				return
			}
		case <-timeout:
			t.Fatal("feed was not closed")
		}
	}
}

func asFloat(v any) float64 {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case uint64:
		return float64(n)
	case float64:
		return n
	}
	return -1
}
