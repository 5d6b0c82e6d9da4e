package shelfdb_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shelfdb/shelfdb.go"
	"github.com/shelfdb/shelfdb.go/pkg/engine"
	"github.com/shelfdb/shelfdb.go/pkg/engine/memory"
	"github.com/shelfdb/shelfdb.go/pkg/logger"
	"github.com/shelfdb/shelfdb.go/pkg/models"
)

func TestGetOrCreateConcurrently(t *testing.T) {
	var opens atomic.Int32
	open := memory.Opener()
	reg := shelfdb.NewRegistry(func(ctx context.Context, name string) (engine.Engine, error) {
		opens.Add(1)
		return open(ctx, name)
	}, shelfdb.WithLogger(logger.Nop()))
	defer reg.Close()

	const n = 32
	stores := make([]*shelfdb.Store, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := reg.GetOrCreate("notes", shelfdb.Config{})
			assert.NoError(t, err)
			stores[i] = s
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, opens.Load())
	for _, s := range stores {
		assert.Same(t, stores[0], s)
	}

	found, ok := reg.Lookup("notes")
	require.True(t, ok)
	assert.Same(t, stores[0], found)
	assert.Equal(t, "notes", found.Name())
}

func TestConfigurationIsAppliedOnce(t *testing.T) {
	ctx := context.Background()
	env := newEnv(t)

	s := env.store(t, "notes", shelfdb.Config{
		Properties: map[string]shelfdb.Rule{"title": shelfdb.Required()},
	})
	again := env.store(t, "notes", shelfdb.Config{
		Properties: map[string]shelfdb.Rule{"body": shelfdb.Required()},
	})
	assert.Same(t, s, again)

	_, err := s.Store(ctx, models.Document{"title": "t"})
	assert.NoError(t, err)
	_, err = s.Store(ctx, models.Document{"body": "b"})
	assert.ErrorIs(t, err, shelfdb.ErrValidationFailed)
}

func TestSchemaMutators(t *testing.T) {
	ctx := context.Background()
	env := newEnv(t)
	s := env.store(t, "posts", shelfdb.Config{})

	s.Validates("title", shelfdb.IsType(shelfdb.TypeString))
	require.NoError(t, s.HasMany("tags", shelfdb.ByName("tags")))

	_, err := s.Store(ctx, models.Document{"title": 1})
	assert.ErrorIs(t, err, shelfdb.ErrValidationFailed)

	item, err := s.Store(ctx, models.Document{"title": "t", "tags": []any{models.Document{"name": "go"}}})
	require.NoError(t, err)
	assert.Len(t, item.Document["tags_ids"], 1)
}

func TestOpenFailureIsRetried(t *testing.T) {
	fail := true
	reg := shelfdb.NewRegistry(func(ctx context.Context, name string) (engine.Engine, error) {
		if fail {
			return nil, errors.New("disk unavailable")
		}
		return memory.New(name), nil
	})
	defer reg.Close()

	_, err := reg.GetOrCreate("notes", shelfdb.Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk unavailable")
	_, ok := reg.Lookup("notes")
	assert.False(t, ok)
	assert.Empty(t, reg.Names())

	fail = false
	s, err := reg.GetOrCreate("notes", shelfdb.Config{})
	require.NoError(t, err)
	assert.Equal(t, "notes", s.Name())
}

func TestBadRelationTarget(t *testing.T) {
	reg := shelfdb.NewRegistry(memory.Opener())
	defer reg.Close()

	_, err := reg.GetOrCreate("posts", shelfdb.Config{
		HasOne: map[string]shelfdb.Target{"author": shelfdb.ByName("")},
	})
	require.Error(t, err)

	// The failed configuration can be retried.
	s, err := reg.GetOrCreate("posts", shelfdb.Config{
		HasOne: map[string]shelfdb.Target{"author": shelfdb.ByName("users")},
	})
	require.NoError(t, err)
	_, hasOne := s.Relations()
	assert.Equal(t, map[string]string{"author": "users"}, hasOne)
}

func TestRegistryClose(t *testing.T) {
	reg := shelfdb.NewRegistry(memory.Opener())

	s, err := reg.GetOrCreate("notes", shelfdb.Config{})
	require.NoError(t, err)
	require.NoError(t, reg.Close())
	require.NoError(t, reg.Close())

	_, err = reg.GetOrCreate("other", shelfdb.Config{})
	assert.ErrorIs(t, err, shelfdb.ErrRegistryClosed)

	_, err = s.Store(context.Background(), models.Document{"value": "a"})
	assert.ErrorIs(t, err, shelfdb.ErrGeneric)
	assert.ErrorIs(t, err, engine.ErrClosed)
}

func TestCloseWhileOpening(t *testing.T) {
	reg := shelfdb.NewRegistry(func(ctx context.Context, name string) (engine.Engine, error) {
		if len(name)%2 == 1 {
			return nil, errors.New("disk unavailable")
		}
		return memory.New(name), nil
	})

	names := []string{"a", "bb", "ccc", "dddd", "eeeee", "ffffff"}
	var wg sync.WaitGroup
	for range 5 {
		for _, name := range names {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, _ = reg.GetOrCreate(name, shelfdb.Config{})
			}()
		}
	}

	assert.NoError(t, reg.Close())
	wg.Wait()

	_, err := reg.GetOrCreate("bb", shelfdb.Config{})
	assert.ErrorIs(t, err, shelfdb.ErrRegistryClosed)
}
