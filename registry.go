package shelfdb

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/shelfdb/shelfdb.go/pkg/engine"
	"github.com/shelfdb/shelfdb.go/pkg/logger"
)

// Opener opens the engine of the store called name.
type Opener func(ctx context.Context, name string) (engine.Engine, error)

type RegistryOption func(*Registry)

func WithLogger(l logger.Logger) RegistryOption {
	return func(r *Registry) {
		r.logger = l
	}
}

// Registry owns the stores of an application: one Store per name, no
// matter how many goroutines ask for it first.
type Registry struct {
	open   Opener
	logger logger.Logger

	mu      sync.Mutex
	entries map[string]*entry
	closed  bool
}

type entry struct {
	// ready is closed once the engine was opened or failed to open.
	ready chan struct{}
	store *Store
	err   error

	// configMu guards configured, which is set by the first GetOrCreate.
	// Stores created as relation targets stay unconfigured until then.
	configMu   sync.Mutex
	configured bool
}

func NewRegistry(open Opener, opts ...RegistryOption) *Registry {
	r := &Registry{
		open:    open,
		logger:  logger.Nop(),
		entries: make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// GetOrCreate returns the store called name, opening it on first use.
// cfg is applied once; later configurations are ignored.
func (r *Registry) GetOrCreate(name string, cfg Config) (*Store, error) {
	e, err := r.entry(name)
	if err != nil {
		return nil, err
	}

	e.configMu.Lock()
	defer e.configMu.Unlock()

	if e.configured {
		if !cfg.empty() {
			e.store.logger.Warn("store is already configured, ignoring configuration")
		}
		return e.store, nil
	}
	if err := e.store.configure(cfg); err != nil {
		return nil, fmt.Errorf("configuring store %s: %w", name, err)
	}
	e.configured = true
	return e.store, nil
}

// Lookup returns an open store without creating it.
func (r *Registry) Lookup(name string) (*Store, bool) {
	r.mu.Lock()
	e, ok := r.entries[name]
	r.mu.Unlock()
	if !ok {
		return nil, false
	}

	<-e.ready
	if e.err != nil {
		return nil, false
	}
	return e.store, true
}

// Names lists the open stores, sorted.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Close cancels every listener and closes every engine.
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	names := make([]string, 0, len(r.entries))
	entries := make([]*entry, 0, len(r.entries))
	for name, e := range r.entries {
		names = append(names, name)
		entries = append(entries, e)
	}
	r.mu.Unlock()

	var errs []error
	for i, e := range entries {
		name := names[i]
		<-e.ready
		if e.store == nil {
			continue
		}
		if err := e.store.close(); err != nil {
			errs = append(errs, fmt.Errorf("closing store %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// entry returns the opened entry of name. The first caller opens the
// engine, the others wait for it. Failed opens are forgotten so a later
// call can retry.
func (r *Registry) entry(name string) (*entry, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrRegistryClosed
	}
	e, ok := r.entries[name]
	if !ok {
		e = &entry{ready: make(chan struct{})}
		r.entries[name] = e
	}
	r.mu.Unlock()

	if ok {
		<-e.ready
	} else {
		r.openEntry(name, e)
	}
	if e.err != nil {
		return nil, e.err
	}
	return e, nil
}

func (r *Registry) openEntry(name string, e *entry) {
	defer close(e.ready)

	eng, err := r.open(context.Background(), name)
	if err != nil {
		e.err = fmt.Errorf("opening store %s: %w", name, err)
		r.mu.Lock()
		if r.entries[name] == e {
			delete(r.entries, name)
		}
		r.mu.Unlock()
		return
	}
	e.store = newStore(r, name, eng)
	r.logger.Debug("opened store", "store", name)
}

// resolve turns a relation target into a store. Stores named for the
// first time are opened without a schema.
func (r *Registry) resolve(t Target) (*Store, error) {
	if t.store != nil {
		return t.store, nil
	}
	if t.name == "" {
		return nil, errors.New("relation target has no store name")
	}
	e, err := r.entry(t.name)
	if err != nil {
		return nil, err
	}
	return e.store, nil
}

func (r *Registry) resolveAll(targets map[string]Target) (map[string]*Store, error) {
	out := make(map[string]*Store, len(targets))
	for field, t := range targets {
		s, err := r.resolve(t)
		if err != nil {
			return nil, fmt.Errorf("relation %s: %w", field, err)
		}
		out[field] = s
	}
	return out, nil
}
