package shelfdb_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/shelfdb/shelfdb.go"
	"github.com/shelfdb/shelfdb.go/pkg/engine"
	"github.com/shelfdb/shelfdb.go/pkg/engine/memory"
	"github.com/shelfdb/shelfdb.go/pkg/models"
)

// countingEngine counts the documents handed to BulkDocs.
type countingEngine struct {
	engine.Engine

	mu     sync.Mutex
	writes int
}

func (c *countingEngine) BulkDocs(ctx context.Context, docs []engine.Doc) ([]engine.Result, error) {
	c.mu.Lock()
	c.writes += len(docs)
	c.mu.Unlock()
	return c.Engine.BulkDocs(ctx, docs)
}

func (c *countingEngine) Writes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writes
}

// testEnv is a registry over memory engines that remembers every engine
// it opened.
type testEnv struct {
	*shelfdb.Registry

	mu      sync.Mutex
	engines map[string]*countingEngine
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{engines: make(map[string]*countingEngine)}
	open := memory.Opener()
	env.Registry = shelfdb.NewRegistry(func(ctx context.Context, name string) (engine.Engine, error) {
		e, err := open(ctx, name)
		if err != nil {
			return nil, err
		}
		c := &countingEngine{Engine: e}
		env.mu.Lock()
		env.engines[name] = c
		env.mu.Unlock()
		return c, nil
	})
	t.Cleanup(func() {
		_ = env.Close()
	})
	return env
}

func (env *testEnv) store(t *testing.T, name string, cfg shelfdb.Config) *shelfdb.Store {
	t.Helper()
	s, err := env.GetOrCreate(name, cfg)
	require.NoError(t, err)
	return s
}

func (env *testEnv) writes(name string) int {
	env.mu.Lock()
	defer env.mu.Unlock()
	if c, ok := env.engines[name]; ok {
		return c.Writes()
	}
	return 0
}

// rawDocs reads a store's engine directly, bypassing relation handling.
func (env *testEnv) rawDocs(t *testing.T, name string) []engine.Doc {
	t.Helper()
	env.mu.Lock()
	c, ok := env.engines[name]
	env.mu.Unlock()
	require.True(t, ok, "store %s was never opened", name)

	rows, err := c.AllDocs(context.Background(), true)
	require.NoError(t, err)
	out := make([]engine.Doc, len(rows))
	for i, row := range rows {
		out[i] = row.Doc
	}
	return out
}

func documentsOf(items []*shelfdb.Item) []models.Document {
	out := make([]models.Document, len(items))
	for i, item := range items {
		out[i] = item.Document
	}
	return out
}

func values(items []*shelfdb.Item, field string) []any {
	out := make([]any, len(items))
	for i, item := range items {
		out[i] = item.Document[field]
	}
	return out
}

func receive(t *testing.T, ch <-chan shelfdb.Event) shelfdb.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for an event")
	}
	return shelfdb.Event{}
}
