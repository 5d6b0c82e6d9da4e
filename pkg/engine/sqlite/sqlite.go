// Package sqlite stores every shelfdb store in one SQLite database using
// modernc.org/sqlite. Bodies are JSON; the change feed is in-process.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/shelfdb/shelfdb.go/internal/codec"
	"github.com/shelfdb/shelfdb.go/pkg/engine"
	"github.com/shelfdb/shelfdb.go/pkg/logger"
)

const schema = `
	CREATE TABLE IF NOT EXISTS documents (
		store   TEXT NOT NULL,
		id      TEXT NOT NULL,
		rev     TEXT NOT NULL,
		seq     INTEGER NOT NULL,
		deleted INTEGER NOT NULL DEFAULT 0,
		body    TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (store, id)
	);

	CREATE INDEX IF NOT EXISTS idx_documents_store_seq
		ON documents(store, seq);
`

// DB owns the database handle shared by the engines of every store.
type DB struct {
	db     *sql.DB
	codec  codec.Codec
	logger logger.Logger
}

type Option func(*DB)

func WithLogger(l logger.Logger) Option {
	return func(d *DB) {
		d.logger = l
	}
}

// Open opens (or creates) the database at path. Parent directories are
// created if needed; ":memory:" is accepted for tests.
func Open(ctx context.Context, path string, opts ...Option) (*DB, error) {
	d := &DB{codec: codec.JSON(), logger: logger.Nop()}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = logger.With(d.logger, "component", "sqlite")

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One connection: writes are serialized anyway and ":memory:" is per connection.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	d.db = db
	d.logger.Info("sqlite engine initialized", "path", path)
	return d, nil
}

// Engine returns the engine of one store.
func (d *DB) Engine(name string) *Engine {
	return &Engine{
		db:     d,
		name:   name,
		hub:    engine.NewHub(),
		logger: logger.With(d.logger, "store", name),
	}
}

// Opener adapts Engine to the registry's constructor signature.
func (d *DB) Opener() func(ctx context.Context, name string) (engine.Engine, error) {
	return func(_ context.Context, name string) (engine.Engine, error) {
		return d.Engine(name), nil
	}
}

func (d *DB) Close() error {
	return d.db.Close()
}

type Engine struct {
	db     *DB
	name   string
	hub    *engine.Hub
	logger logger.Logger

	// mu orders commits with their publication on the feed.
	mu     sync.Mutex
	closed bool
}

func (e *Engine) BulkDocs(ctx context.Context, docs []engine.Doc) ([]engine.Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, engine.ErrClosed
	}

	tx, err := e.db.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var seq int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM documents WHERE store = ?`, e.name,
	).Scan(&seq); err != nil {
		return nil, fmt.Errorf("reading sequence: %w", err)
	}

	results := make([]engine.Result, len(docs))
	changes := make([]engine.Change, 0, len(docs))
	for i, doc := range docs {
		res, change, err := e.write(ctx, tx, doc, seq+1)
		if err != nil {
			return nil, err
		}
		results[i] = res
		if change != nil {
			seq = change.Seq
			changes = append(changes, *change)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	for _, c := range changes {
		e.hub.Publish(c)
	}
	return results, nil
}

// write stages one document in tx. Only database failures are returned
// as errors; revision failures are reported in the result.
func (e *Engine) write(ctx context.Context, tx *sql.Tx, doc engine.Doc, seq int64) (engine.Result, *engine.Change, error) {
	var (
		current engine.State
		exists  = true
	)
	err := tx.QueryRowContext(ctx,
		`SELECT rev, deleted FROM documents WHERE store = ? AND id = ?`, e.name, doc.ID(),
	).Scan(&current.Rev, &current.Deleted)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		exists = false
	case err != nil:
		return engine.Result{}, nil, fmt.Errorf("reading %s: %w", doc.ID(), err)
	}

	var state *engine.State
	if exists && doc.ID() != "" {
		state = &current
	}
	w, planErr := engine.Plan(state, doc)
	if planErr != nil {
		return planErr.Result(), nil, nil
	}

	var body []byte
	if !w.Deleted {
		body, err = e.db.codec.Marshal(doc.Body())
		if err != nil {
			return engine.BadRequest(err.Error()).Result(), nil, nil
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO documents (store, id, rev, seq, deleted, body)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (store, id) DO UPDATE SET
			rev = excluded.rev,
			seq = excluded.seq,
			deleted = excluded.deleted,
			body = excluded.body`,
		e.name, w.ID, w.Rev, seq, w.Deleted, string(body),
	)
	if err != nil {
		return engine.Result{}, nil, fmt.Errorf("writing %s: %w", w.ID, err)
	}

	change := &engine.Change{Seq: seq, ID: w.ID, Rev: w.Rev, Action: w.Action}
	if w.Deleted {
		change.Doc = engine.Tombstone(w.ID, w.Rev)
	} else if d, err := e.decode(w.ID, w.Rev, string(body)); err == nil {
		change.Doc = d
	}

	e.logger.Debug("document written", "id", w.ID, "rev", w.Rev, "action", string(w.Action))
	return engine.Written(w.ID, w.Rev), change, nil
}

func (e *Engine) decode(id, rev, body string) (engine.Doc, error) {
	doc := engine.Doc{}
	if body != "" {
		if err := e.db.codec.Unmarshal([]byte(body), (*map[string]any)(&doc)); err != nil {
			return nil, fmt.Errorf("decoding %s: %w", id, err)
		}
	}
	if doc == nil {
		doc = engine.Doc{}
	}
	doc[engine.FieldID] = id
	doc[engine.FieldRev] = rev
	return doc, nil
}

func (e *Engine) Get(ctx context.Context, id string) (engine.Doc, error) {
	if e.isClosed() {
		return nil, engine.ErrClosed
	}

	var (
		rev     string
		deleted bool
		body    string
	)
	err := e.db.db.QueryRowContext(ctx,
		`SELECT rev, deleted, body FROM documents WHERE store = ? AND id = ?`, e.name, id,
	).Scan(&rev, &deleted, &body)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, engine.NotFound(engine.ReasonMissing)
	case err != nil:
		return nil, fmt.Errorf("reading %s: %w", id, err)
	case deleted:
		return nil, engine.NotFound(engine.ReasonDeleted)
	}
	return e.decode(id, rev, body)
}

func (e *Engine) AllDocs(ctx context.Context, includeDocs bool) ([]engine.Row, error) {
	if e.isClosed() {
		return nil, engine.ErrClosed
	}

	rows, err := e.db.db.QueryContext(ctx,
		`SELECT id, rev, body FROM documents WHERE store = ? AND deleted = 0 ORDER BY id`, e.name,
	)
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", e.name, err)
	}
	defer rows.Close()

	out := []engine.Row{}
	for rows.Next() {
		var row engine.Row
		var body string
		if err := rows.Scan(&row.ID, &row.Rev, &body); err != nil {
			return nil, fmt.Errorf("scanning %s: %w", e.name, err)
		}
		if includeDocs {
			if row.Doc, err = e.decode(row.ID, row.Rev, body); err != nil {
				return nil, err
			}
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (e *Engine) Remove(ctx context.Context, id, rev string) (engine.Result, error) {
	res, err := e.BulkDocs(ctx, []engine.Doc{engine.Tombstone(id, rev)})
	if err != nil {
		return engine.Result{}, err
	}
	if err := res[0].Err(); err != nil {
		return engine.Result{}, err
	}
	return res[0], nil
}

func (e *Engine) Changes(ctx context.Context) (engine.Feed, error) {
	if e.isClosed() {
		return nil, engine.ErrClosed
	}
	return e.hub.Subscribe(ctx)
}

// Close ends the feeds of this store. The shared DB stays open.
func (e *Engine) Close() error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()

	e.hub.Close()
	return nil
}

func (e *Engine) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}
