package remote_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shelfdb/shelfdb.go/internal/fakeengine"
	"github.com/shelfdb/shelfdb.go/internal/rand"
	"github.com/shelfdb/shelfdb.go/pkg/engine"
	"github.com/shelfdb/shelfdb.go/pkg/engine/enginetest"
	"github.com/shelfdb/shelfdb.go/pkg/engine/remote"
)

func setup(t *testing.T, opts ...remote.Option) (*fakeengine.Server, *remote.Client) {
	t.Helper()
	server := fakeengine.NewServer("127.0.0.1:0")
	require.NoError(t, server.Start())
	t.Cleanup(func() {
		_ = server.Stop()
	})

	client, err := remote.Dial(context.Background(), server.URL(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = client.Close(context.Background())
	})
	return server, client
}

func TestConformance(t *testing.T) {
	_, client := setup(t)

	enginetest.Run(t, func(t *testing.T) engine.Engine {
		// Stores are never dropped on the server, so each test gets its own.
		return client.Engine("store-" + rand.Token(8))
	})
}

func TestStoresAreSeparate(t *testing.T) {
	ctx := context.Background()
	_, client := setup(t)

	a, b := client.Engine("a"), client.Engine("b")
	res, err := a.BulkDocs(ctx, []engine.Doc{{engine.FieldID: "x", "in": "a"}})
	require.NoError(t, err)
	require.False(t, res[0].Error)

	_, err = b.Get(ctx, "x")
	var engErr *engine.Error
	require.ErrorAs(t, err, &engErr)
	assert.Equal(t, 404, engErr.Status)
}

func TestInjectedFailure(t *testing.T) {
	ctx := context.Background()
	server, client := setup(t)
	e := client.Engine("notes")

	server.FailNext(remote.MethodAllDocs, &remote.RPCError{Code: remote.CodeEngineError, Message: "disk full"})
	_, err := e.AllDocs(ctx, true)
	require.Error(t, err)
	assert.ErrorIs(t, err, &remote.RPCError{})
	assert.Equal(t, "disk full", err.Error())

	rows, err := e.AllDocs(ctx, true)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestInjectedEngineError(t *testing.T) {
	server, client := setup(t)

	server.FailNext(remote.MethodRemove, &remote.RPCError{
		Code:    remote.CodeEngineError,
		Status:  409,
		Name:    "conflict",
		Message: "Document update conflict",
	})
	_, err := client.Engine("notes").Remove(context.Background(), "a", "1-x")

	var engErr *engine.Error
	require.ErrorAs(t, err, &engErr)
	assert.Equal(t, 409, engErr.Status)
	assert.Equal(t, "conflict", engErr.Name)
}

func TestServerGoneClosesFeeds(t *testing.T) {
	ctx := context.Background()
	server, client := setup(t)
	e := client.Engine("notes")

	feed, err := e.Changes(ctx)
	require.NoError(t, err)

	require.NoError(t, server.Stop())
	enginetest.WaitClosed(t, feed)
	assert.ErrorIs(t, feed.Err(), remote.ErrConnectionClosed)

	require.Eventually(t, client.IsClosed, 5*time.Second, 10*time.Millisecond)
	_, err = e.Get(ctx, "a")
	assert.ErrorIs(t, err, remote.ErrConnectionClosed)
}

func TestFeedCancelledByContext(t *testing.T) {
	_, client := setup(t)

	ctx, cancel := context.WithCancel(context.Background())
	feed, err := client.Engine("notes").Changes(ctx)
	require.NoError(t, err)

	cancel()
	enginetest.WaitClosed(t, feed)
	assert.NoError(t, feed.Err())
}

func TestEngineCloseCancelsFeeds(t *testing.T) {
	ctx := context.Background()
	_, client := setup(t)
	e := client.Engine("notes")

	feed, err := e.Changes(ctx)
	require.NoError(t, err)
	require.NoError(t, e.Close())
	enginetest.WaitClosed(t, feed)

	_, err = e.Changes(ctx)
	assert.ErrorIs(t, err, engine.ErrClosed)
	assert.False(t, client.IsClosed())
}

func TestTimeout(t *testing.T) {
	_, client := setup(t, remote.WithTimeout(time.Nanosecond))

	_, err := client.Engine("notes").Get(context.Background(), "a")
	require.Error(t, err)
	// The reply may still win the race against a nanosecond.
	if !errors.Is(err, remote.ErrTimeout) {
		var engErr *engine.Error
		assert.ErrorAs(t, err, &engErr)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	_, client := setup(t)

	require.NoError(t, client.Close(context.Background()))
	assert.True(t, client.IsClosed())
	assert.NoError(t, client.Close(context.Background()))
}
