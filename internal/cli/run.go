// Package cli implements the shelfdb command.
package cli

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/goccy/go-json"

	shelfdb "github.com/shelfdb/shelfdb.go"
	"github.com/shelfdb/shelfdb.go/internal/fakeengine"
	"github.com/shelfdb/shelfdb.go/pkg/config"
	"github.com/shelfdb/shelfdb.go/pkg/logger"
	"github.com/shelfdb/shelfdb.go/pkg/models"
)

const closeTimeout = 5 * time.Second

// App holds what every command needs: the loaded config, the engine
// backend and the registry with the declared stores.
type App struct {
	cfg      *config.Config
	opts     *Options
	log      logger.Logger
	logData  *logger.LogData
	backend  *config.Backend
	registry *shelfdb.Registry
	out      io.Writer
}

// Main parses args and runs the command until it finishes or ctx is done.
func Main(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	cmd, opts, err := Parse(args, stderr)
	if err != nil {
		return err
	}

	app, err := New(ctx, opts, stdout, stderr)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}
	defer app.Close()

	return app.Run(ctx, cmd)
}

// New loads the config file and opens the engine it names.
func New(ctx context.Context, opts *Options, stdout, stderr io.Writer) (*App, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}

	logData, err := logger.NewBuild().
		FromBuffer(stderr).
		FromPath(cfg.Log.Path).
		Level(cfg.Log.Level).
		Console(cfg.Log.Format == "console").
		Make()
	if err != nil {
		return nil, fmt.Errorf("opening log: %w", err)
	}
	log := logger.Zerolog(logData.Logger)

	backend, err := config.OpenEngine(ctx, cfg.Engine, log)
	if err != nil {
		_ = logData.Close()
		return nil, err
	}

	reg, err := config.NewRegistry(cfg, backend, log)
	if err != nil {
		_ = backend.Close(ctx)
		_ = logData.Close()
		return nil, err
	}

	return &App{
		cfg:      cfg,
		opts:     opts,
		log:      log,
		logData:  logData,
		backend:  backend,
		registry: reg,
		out:      stdout,
	}, nil
}

// Close closes the stores, then the backend and the log file.
func (a *App) Close() {
	if err := a.registry.Close(); err != nil {
		a.log.Warn("closing stores", "error", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if err := a.backend.Close(ctx); err != nil {
		a.log.Warn("closing engine", "error", err)
	}
	_ = a.logData.Close()
}

// Run executes one command.
func (a *App) Run(ctx context.Context, cmd *Command) error {
	if cmd.Name == "serve" {
		return a.serve(ctx)
	}

	store, err := a.registry.GetOrCreate(cmd.Store, shelfdb.Config{})
	if err != nil {
		return err
	}

	switch cmd.Name {
	case "store":
		return a.store(ctx, store, cmd.Arg)
	case "find":
		return a.find(ctx, store, cmd.Arg)
	case "get":
		item, err := store.FindID(ctx, cmd.Arg)
		if err != nil {
			return err
		}
		return a.print(item)
	case "remove":
		return a.remove(ctx, store, cmd.Arg)
	case "empty":
		if err := store.Empty(ctx); err != nil {
			return err
		}
		color.New(color.FgYellow).Fprintf(a.out, "emptied %s\n", store.Name())
		return nil
	case "watch":
		return a.watch(ctx, store)
	}
	return fmt.Errorf("%w: unknown command %s", ErrUsage, cmd.Name)
}

func (a *App) store(ctx context.Context, store *shelfdb.Store, arg string) error {
	if bytes.HasPrefix(bytes.TrimSpace([]byte(arg)), []byte("[")) {
		var docs []models.Document
		if err := json.Unmarshal([]byte(arg), &docs); err != nil {
			return fmt.Errorf("decoding documents: %w", err)
		}
		items, err := store.StoreMany(ctx, docs)
		if err != nil {
			return err
		}
		for _, item := range items {
			a.stored(item)
		}
		return nil
	}

	var doc models.Document
	if err := json.Unmarshal([]byte(arg), &doc); err != nil {
		return fmt.Errorf("decoding document: %w", err)
	}
	item, err := store.Store(ctx, doc)
	if err != nil {
		return err
	}
	a.stored(item)
	return nil
}

func (a *App) stored(item *shelfdb.Item) {
	color.New(color.FgGreen).Fprint(a.out, "stored ")
	fmt.Fprintf(a.out, "%s %s\n", item.ID(), color.HiBlackString(item.Rev()))
}

func (a *App) find(ctx context.Context, store *shelfdb.Store, arg string) error {
	var q models.Query
	if arg != "" {
		if err := json.Unmarshal([]byte(arg), &q); err != nil {
			return fmt.Errorf("decoding query: %w", err)
		}
	}
	items, err := store.Find(ctx, q)
	if err != nil {
		return err
	}
	return a.print(items)
}

func (a *App) remove(ctx context.Context, store *shelfdb.Store, arg string) error {
	var q models.Query
	if err := json.Unmarshal([]byte(arg), &q); err != nil {
		return fmt.Errorf("decoding query: %w", err)
	}
	removed, err := store.RemoveWhere(ctx, q)
	if err != nil {
		return err
	}
	for _, doc := range removed {
		color.New(color.FgYellow).Fprint(a.out, "removed ")
		fmt.Fprintf(a.out, "%s %s\n", doc.ID(), color.HiBlackString(doc.Rev()))
	}
	return nil
}

func (a *App) watch(ctx context.Context, store *shelfdb.Store) error {
	events := make(chan shelfdb.Event, 16)
	forward := func(e shelfdb.Event) {
		select {
		case events <- e:
		case <-ctx.Done():
		}
	}

	l, err := store.On(shelfdb.EventChange, forward)
	if err != nil {
		return err
	}
	defer l.Off()

	failed, err := store.On(shelfdb.EventError, forward)
	if err != nil {
		return err
	}
	defer failed.Off()

	cyan := color.New(color.FgCyan)
	for {
		select {
		case <-ctx.Done():
			return nil
		case e := <-events:
			if e.Name == shelfdb.EventError {
				return e.Err
			}
			cyan.Fprintf(a.out, "%-6s ", e.Action)
			fmt.Fprintf(a.out, "%s %s\n", e.ID, color.HiBlackString(e.Rev))
		}
	}
}

func (a *App) serve(ctx context.Context) error {
	srv := fakeengine.NewServer(a.opts.Addr,
		fakeengine.WithOpener(fakeengine.Opener(a.backend.Open)),
		fakeengine.WithLogger(a.log),
	)
	if err := srv.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	color.New(color.FgGreen).Fprintf(a.out, "serving %s\n", srv.URL())
	a.log.Info("engine server started", "addr", srv.Address(), "driver", a.cfg.Engine.Driver)

	<-ctx.Done()
	return srv.Stop()
}

func (a *App) print(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(a.out, "%s\n", data)
	return err
}
